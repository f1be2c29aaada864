package services

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	apperrors "order-service/common/errors"
	"order-service/models"
	"order-service/repository"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

var shipmentStatuses = map[string]models.OrderStatus{
	"created":          models.StatusReadyToShip,
	"label_created":    models.StatusReadyToShip,
	"pre_transit":      models.StatusShipped,
	"shipped":          models.StatusShipped,
	"transit":          models.StatusInTransit,
	"in_transit":       models.StatusInTransit,
	"out_for_delivery": models.StatusOutForDelivery,
	"delivered":        models.StatusDelivered,
}

// fulfilmentStatuses are the states shipment events may walk through.
var fulfilmentStatuses = map[models.OrderStatus]bool{
	models.StatusProcessing:     true,
	models.StatusReadyToShip:    true,
	models.StatusShipped:        true,
	models.StatusInTransit:      true,
	models.StatusOutForDelivery: true,
	models.StatusDelivered:      true,
}

// MapShipmentStatus maps a shipment or courier tracking status to an order
// status. Unknown and failure statuses are not mapped.
func MapShipmentStatus(status string) (models.OrderStatus, bool) {
	s, ok := shipmentStatuses[strings.ToLower(strings.TrimSpace(status))]
	return s, ok
}

// fulfilmentPath returns the shortest chain of statuses leading from one
// fulfilment status to another, excluding from. It is empty when to cannot
// be reached without leaving the fulfilment states.
func fulfilmentPath(from, to models.OrderStatus) []models.OrderStatus {
	if !fulfilmentStatuses[from] || !fulfilmentStatuses[to] {
		return nil
	}

	prev := map[models.OrderStatus]models.OrderStatus{from: from}
	queue := []models.OrderStatus{from}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		if cur == to {
			break
		}
		for _, next := range allowedTransitions[cur] {
			if _, seen := prev[next]; seen || !fulfilmentStatuses[next] {
				continue
			}
			prev[next] = cur
			queue = append(queue, next)
		}
	}

	if _, ok := prev[to]; !ok || from == to {
		return nil
	}
	var path []models.OrderStatus
	for s := to; s != from; s = prev[s] {
		path = append([]models.OrderStatus{s}, path...)
	}
	return path
}

// ShipmentStatusSync moves orders along the fulfilment states as the
// shipping service reports tracking updates.
type ShipmentStatusSync struct {
	repo    repository.OrderRepository
	machine *StatusMachine
	logger  *zap.Logger
}

func NewShipmentStatusSync(repo repository.OrderRepository, machine *StatusMachine, logger *zap.Logger) *ShipmentStatusSync {
	return &ShipmentStatusSync{repo: repo, machine: machine, logger: logger}
}

// HandleMessage returns an error only for failures worth redelivering.
func (s *ShipmentStatusSync) HandleMessage(ctx context.Context, body string) error {
	body = unwrapSNSEnvelope(body)

	var evt models.ShipmentUpdatedEvent
	if err := json.Unmarshal([]byte(body), &evt); err != nil {
		s.logger.Error("dropping malformed shipment event", zap.Error(err))
		return nil
	}
	if evt.EventType == "shipment_created" && evt.Status == "" {
		evt.Status = "created"
	}

	orderID, err := uuid.Parse(evt.OrderID)
	if err != nil {
		s.logger.Warn("shipment event without a valid order id", zap.String("order_id", evt.OrderID))
		return nil
	}
	target, ok := MapShipmentStatus(evt.Status)
	if !ok {
		s.logger.Debug("shipment status has no order status", zap.String("status", evt.Status))
		return nil
	}

	return s.advance(ctx, orderID, target, evt)
}

func (s *ShipmentStatusSync) advance(ctx context.Context, orderID uuid.UUID, target models.OrderStatus, evt models.ShipmentUpdatedEvent) error {
	log := s.logger.With(zap.String("order_id", orderID.String()), zap.String("target_status", string(target)))

	order, err := s.repo.FindByID(ctx, orderID)
	if err != nil {
		if errors.Is(err, repository.ErrOrderNotFound) {
			log.Warn("shipment event for unknown order")
			return nil
		}
		return err
	}
	if order.Status == target {
		return nil
	}

	steps := []models.OrderStatus{target}
	if !CanTransition(order.Status, target) {
		steps = fulfilmentPath(order.Status, target)
		if len(steps) == 0 {
			log.Warn("shipment event cannot move order", zap.String("status", string(order.Status)))
			return nil
		}
	}

	for _, step := range steps {
		_, err := s.machine.Transition(ctx, TransitionRequest{
			OrderID:   orderID,
			ToStatus:  step,
			Reason:    "shipment_" + strings.ToLower(evt.Status),
			ActorID:   "shipping-service",
			ActorType: models.ActorSystem,
			Metadata: map[string]any{
				"shipment_id":   evt.ShipmentID,
				"tracking_code": evt.TrackingCode,
			},
		})
		if err == nil {
			continue
		}
		// Another event already moved the order; the next delivery will
		// pick up from wherever it is now.
		if apperrors.HasReason(err, apperrors.ReasonInvalidTransition) {
			log.Warn("shipment transition rejected", zap.Error(err))
			return nil
		}
		if apperrors.HasReason(err, apperrors.ReasonNotFound) {
			return nil
		}
		return err
	}
	return nil
}
