package services

import (
	"context"
	"errors"

	apperrors "order-service/common/errors"
	"order-service/models"
	"order-service/repository"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	defaultPageLimit = 10
	maxPageLimit     = 100
	// maxPage keeps (page-1)*limit far from overflowing the offset.
	maxPage = 10000
)

type OrderResponse struct {
	Orders []models.Order `json:"orders"`
	Meta   MetaData       `json:"meta"`
}

type MetaData struct {
	Page        int   `json:"page"`
	Limit       int   `json:"limit"`
	TotalOrders int64 `json:"total_orders"`
	TotalPages  int64 `json:"total_pages"`
	HasMore     bool  `json:"has_more"`
}

// OrderService serves order reads and admin status changes.
type OrderService interface {
	GetUserOrders(ctx context.Context, userID uuid.UUID, page, limit int) (*OrderResponse, error)
	GetAllOrders(ctx context.Context, page, limit int) (*OrderResponse, error)
	GetOrderByID(ctx context.Context, orderID, userID uuid.UUID) (*models.Order, error)
	GetOrderHistory(ctx context.Context, orderID, userID uuid.UUID) ([]models.OrderStatusHistory, error)
	UpdateOrderStatus(ctx context.Context, req TransitionRequest) (*models.Order, error)
}

type orderServiceImpl struct {
	repo    repository.OrderRepository
	machine *StatusMachine
	logger  *zap.Logger
}

func NewOrderService(repo repository.OrderRepository, machine *StatusMachine, logger *zap.Logger) OrderService {
	return &orderServiceImpl{repo: repo, machine: machine, logger: logger}
}

func (s *orderServiceImpl) GetUserOrders(ctx context.Context, userID uuid.UUID, page, limit int) (*OrderResponse, error) {
	page, limit = normalizePage(page, limit)

	orders, total, err := s.repo.FindByUserID(ctx, userID, page, limit)
	if err != nil {
		s.logger.Error("failed to fetch user orders", zap.String("user_id", userID.String()), zap.Error(err))
		return nil, apperrors.Internal("failed to fetch orders", err)
	}
	return newOrderResponse(orders, total, page, limit), nil
}

// GetAllOrders retrieves paginated orders for all users (admin only)
func (s *orderServiceImpl) GetAllOrders(ctx context.Context, page, limit int) (*OrderResponse, error) {
	page, limit = normalizePage(page, limit)

	orders, total, err := s.repo.FindAll(ctx, page, limit)
	if err != nil {
		s.logger.Error("failed to fetch all orders", zap.Error(err))
		return nil, apperrors.Internal("failed to fetch orders", err)
	}
	return newOrderResponse(orders, total, page, limit), nil
}

// GetOrderByID hides orders of other users behind a not-found error.
func (s *orderServiceImpl) GetOrderByID(ctx context.Context, orderID, userID uuid.UUID) (*models.Order, error) {
	order, err := s.repo.FindByIDAndUserID(ctx, orderID, userID)
	if err != nil {
		if errors.Is(err, repository.ErrOrderNotFound) {
			return nil, apperrors.NotFound("order not found")
		}
		s.logger.Error("failed to fetch order", zap.String("order_id", orderID.String()), zap.Error(err))
		return nil, apperrors.Internal("failed to fetch order", err)
	}
	return order, nil
}

func (s *orderServiceImpl) GetOrderHistory(ctx context.Context, orderID, userID uuid.UUID) ([]models.OrderStatusHistory, error) {
	if _, err := s.GetOrderByID(ctx, orderID, userID); err != nil {
		return nil, err
	}

	history, err := s.repo.FindStatusHistory(ctx, orderID)
	if err != nil {
		s.logger.Error("failed to fetch order history", zap.String("order_id", orderID.String()), zap.Error(err))
		return nil, apperrors.Internal("failed to fetch order history", err)
	}
	return history, nil
}

func (s *orderServiceImpl) UpdateOrderStatus(ctx context.Context, req TransitionRequest) (*models.Order, error) {
	if req.ActorType == "" {
		req.ActorType = models.ActorAdmin
	}
	return s.machine.Transition(ctx, req)
}

func normalizePage(page, limit int) (int, int) {
	if page < 1 {
		page = 1
	}
	if page > maxPage {
		page = maxPage
	}
	if limit < 1 {
		limit = defaultPageLimit
	}
	if limit > maxPageLimit {
		limit = maxPageLimit
	}
	return page, limit
}

func newOrderResponse(orders []models.Order, total int64, page, limit int) *OrderResponse {
	if orders == nil {
		orders = []models.Order{}
	}
	return &OrderResponse{
		Orders: orders,
		Meta: MetaData{
			Page:        page,
			Limit:       limit,
			TotalOrders: total,
			TotalPages:  calculateTotalPages(total, limit),
			HasMore:     total > int64(page*limit),
		},
	}
}

func calculateTotalPages(total int64, limit int) int64 {
	if limit <= 0 {
		return 0
	}
	return (total + int64(limit) - 1) / int64(limit)
}
