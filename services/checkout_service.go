package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"

	apperrors "order-service/common/errors"
	"order-service/common/logger"
	"order-service/models"
	"order-service/repository"
	aws_pkg "order-service/pkg/aws"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const checkoutCompletedEvent = "checkout.completed"

// CheckoutService turns a cart into one order per seller, then starts
// payment for each of them.
type CheckoutService interface {
	Checkout(ctx context.Context, req *models.CheckoutRequest) (*models.CheckoutResult, error)
}

type CheckoutConfig struct {
	// StrictIdentity makes a failed identity lookup fatal instead of
	// falling back to the shipping address.
	StrictIdentity     bool
	DefaultOrderSource string
	PaymentExpiry      time.Duration
	NotificationTopic  string
	// SagaTimeout bounds everything that runs after the orders commit.
	SagaTimeout        time.Duration
}

type CheckoutDependencies struct {
	Repo     repository.OrderRepository
	Resolver *IdempotencyResolver
	Creator  *OrderCreator
	Payments *PaymentSaga
	Users    UserLookup
	Products ProductLookup
	Cart     CartClearer
	Notifier aws_pkg.SNSPublisher
	Metrics  MetricsRecorder
}

type checkoutServiceImpl struct {
	CheckoutDependencies
	cfg      CheckoutConfig
	validate *validator.Validate
	logger   *zap.Logger
	now      func() time.Time
}

func NewCheckoutService(deps CheckoutDependencies, cfg CheckoutConfig, logger *zap.Logger) CheckoutService {
	if cfg.DefaultOrderSource == "" {
		cfg.DefaultOrderSource = "web"
	}
	if cfg.SagaTimeout <= 0 {
		cfg.SagaTimeout = 2 * time.Minute
	}
	return &checkoutServiceImpl{
		CheckoutDependencies: deps,
		cfg:                  cfg,
		validate:             newValidator(),
		logger:               logger,
		now:                  time.Now,
	}
}

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

func (s *checkoutServiceImpl) Checkout(ctx context.Context, req *models.CheckoutRequest) (*models.CheckoutResult, error) {
	if err := s.validateRequest(req); err != nil {
		return nil, err
	}
	log := logger.With(ctx, s.logger).With(
		zap.String("user_id", req.UserID.String()),
		zap.String("checkout_key", req.IdempotencyKey),
	)
	recordCount(s.Metrics, log, aws_pkg.MetricCheckoutsStarted, nil)

	existing, found, err := s.Resolver.Resolve(ctx, req.UserID, req.IdempotencyKey)
	if err != nil {
		return nil, err
	}
	if found {
		return s.replay(ctx, log, req, existing)
	}

	customer, err := s.resolveCustomer(ctx, log, req)
	if err != nil {
		return nil, err
	}

	items, err := s.priceItems(ctx, req.Items)
	if err != nil {
		return nil, err
	}

	groups := groupBySeller(items)
	if err := allocateCharges(groups, req); err != nil {
		return nil, err
	}

	orders, err := s.Creator.CreateOrders(ctx, CreateOrdersInput{
		UserID:          req.UserID,
		CheckoutKey:     req.IdempotencyKey,
		OrderSource:     s.orderSource(req),
		Groups:          groups,
		ShippingAddress: req.ShippingAddress.Snapshot(),
		Customer:        customer,
	})
	if errors.Is(err, repository.ErrDuplicateOrder) {
		// Lost the race against an identical submission: serve its orders.
		existing, found, rerr := s.Resolver.Resolve(ctx, req.UserID, req.IdempotencyKey)
		if rerr != nil {
			return nil, rerr
		}
		if found {
			log.Info("concurrent checkout already created the orders")
			return s.replay(ctx, log, req, existing)
		}
		return nil, apperrors.Internal("failed to create orders", err)
	}
	if err != nil {
		log.Error("order creation failed", zap.Error(err))
		return nil, apperrors.Internal("failed to create orders", err)
	}
	for range orders {
		recordCount(s.Metrics, log, aws_pkg.MetricOrdersCreated, nil)
	}

	sagaCtx, cancel := s.afterCommit(ctx)
	defer cancel()

	outcome := s.Payments.InitiatePayments(sagaCtx, orders, s.paymentInitiation(req))
	s.clearCart(sagaCtx, log, req.UserID)

	return s.finish(sagaCtx, log, req, orders, outcome, false), nil
}

// afterCommit returns the context for the payment phase. It keeps the
// caller's values (request id) but not its cancellation: once orders are
// committed the caller going away must not abandon their payments.
func (s *checkoutServiceImpl) afterCommit(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), s.cfg.SagaTimeout)
}

// replay re-attempts payment for an already processed checkout. Payment
// keys are derived from the stored order keys, so the gateway returns the
// payments it already created.
func (s *checkoutServiceImpl) replay(ctx context.Context, log *zap.Logger, req *models.CheckoutRequest, existing []models.Order) (*models.CheckoutResult, error) {
	log.Info("checkout already processed, replaying payment initiation", zap.Int("orders", len(existing)))
	recordCount(s.Metrics, log, aws_pkg.MetricCheckoutReplays, nil)

	sagaCtx, cancel := s.afterCommit(ctx)
	defer cancel()

	outcome := s.Payments.InitiatePayments(sagaCtx, existing, s.paymentInitiation(req))
	s.clearCart(sagaCtx, log, req.UserID)

	return s.finish(sagaCtx, log, req, existing, outcome, true), nil
}

func (s *checkoutServiceImpl) validateRequest(req *models.CheckoutRequest) error {
	if req == nil {
		return apperrors.Validation(apperrors.ReasonInvalidRequest, "checkout request is required")
	}
	req.IdempotencyKey = strings.TrimSpace(req.IdempotencyKey)

	if err := s.validate.Struct(req); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			return apperrors.Validation(apperrors.ReasonInvalidRequest, err.Error())
		}
		problems := make([]string, 0, len(verrs))
		for _, fe := range verrs {
			field := strings.TrimPrefix(fe.Namespace(), "CheckoutRequest.")
			problems = append(problems, fmt.Sprintf("%s failed on %s", field, fe.Tag()))
		}
		return apperrors.Validation(apperrors.ReasonInvalidRequest, "invalid checkout request: "+strings.Join(problems, "; "))
	}
	return nil
}

func (s *checkoutServiceImpl) resolveCustomer(ctx context.Context, log *zap.Logger, req *models.CheckoutRequest) (models.CustomerSnapshot, error) {
	fallback := models.CustomerSnapshot{
		Name:  req.ShippingAddress.RecipientName,
		Phone: req.ShippingAddress.Phone,
	}

	profile, err := s.Users.GetUser(ctx, req.UserID)
	if err != nil {
		if apperrors.HasReason(err, apperrors.ReasonNotFound) {
			return models.CustomerSnapshot{}, apperrors.NotFound("user not found")
		}
		if s.cfg.StrictIdentity {
			return models.CustomerSnapshot{}, err
		}
		log.Warn("identity lookup failed, using shipping address for customer snapshot", zap.Error(err))
		return fallback, nil
	}

	customer := models.CustomerSnapshot{
		Name:  profile.DisplayName(),
		Phone: profile.PhoneNumber,
		Email: profile.Email,
	}
	if customer.Name == "" {
		customer.Name = fallback.Name
	}
	if customer.Phone == "" {
		customer.Phone = fallback.Phone
	}
	return customer, nil
}

// priceItems looks up every product once and snapshots it onto the line.
// Any lookup failure aborts the checkout: there is no safe fallback price.
func (s *checkoutServiceImpl) priceItems(ctx context.Context, lines []models.CheckoutItem) ([]models.OrderItem, error) {
	products := make(map[uuid.UUID]*models.Product, len(lines))
	items := make([]models.OrderItem, 0, len(lines))

	for _, line := range lines {
		product, ok := products[line.ProductID]
		if !ok {
			p, err := s.Products.GetProduct(ctx, line.ProductID)
			if err != nil {
				if apperrors.HasReason(err, apperrors.ReasonNotFound) {
					return nil, apperrors.NotFound(fmt.Sprintf("product %s not found", line.ProductID))
				}
				return nil, err
			}
			products[line.ProductID] = p
			product = p
		}

		unitPrice := product.BaseSellPrice
		sku := product.SKU
		var variantName string
		if line.VariantID != nil {
			variant, ok := product.Variant(*line.VariantID)
			if !ok {
				return nil, apperrors.Validation(apperrors.ReasonInvalidRequest,
					fmt.Sprintf("variant %s does not belong to product %s", *line.VariantID, line.ProductID))
			}
			if variant.Price != nil {
				unitPrice = *variant.Price
			}
			if variant.SKU != "" {
				sku = variant.SKU
			}
			variantName = variant.Name
		}
		if unitPrice < 0 {
			return nil, apperrors.Internal(fmt.Sprintf("product %s has a negative price", line.ProductID), nil)
		}

		subtotal := unitPrice * int64(line.Quantity)
		items = append(items, models.OrderItem{
			ProductID:       line.ProductID,
			VariantID:       line.VariantID,
			SellerID:        product.SellerID,
			Quantity:        line.Quantity,
			UnitPrice:       unitPrice,
			Subtotal:        subtotal,
			Total:           subtotal,
			ProductName:     product.Name,
			VariantName:     variantName,
			ProductSKU:      sku,
			ProductImageURL: product.PrimaryImageURL,
		})
	}

	return items, nil
}

// groupBySeller keeps sellers in order of first appearance in the cart.
// Items without a seller form the house-brand group.
func groupBySeller(items []models.OrderItem) []SellerGroup {
	var groups []SellerGroup
	index := make(map[uuid.UUID]int)

	for _, item := range items {
		key := uuid.Nil
		if item.SellerID != nil {
			key = *item.SellerID
		}
		i, ok := index[key]
		if !ok {
			i = len(groups)
			index[key] = i
			groups = append(groups, SellerGroup{SellerID: item.SellerID})
		}
		groups[i].Items = append(groups[i].Items, item)
		groups[i].Subtotal += item.Subtotal
	}

	return groups
}

func allocateCharges(groups []SellerGroup, req *models.CheckoutRequest) error {
	subtotals := make([]int64, len(groups))
	var cartSubtotal int64
	for i, g := range groups {
		subtotals[i] = g.Subtotal
		cartSubtotal += g.Subtotal
	}
	if req.DiscountAmount > cartSubtotal {
		return apperrors.Validation("discount_exceeds_subtotal",
			fmt.Sprintf("discount %d exceeds cart subtotal %d", req.DiscountAmount, cartSubtotal))
	}

	discounts := AllocateDiscount(subtotals, req.DiscountAmount)
	shipping := AllocateCharge(subtotals, req.ShippingCost)
	taxes := AllocateCharge(subtotals, req.TaxAmount)

	for i := range groups {
		groups[i].DiscountAmount = discounts[i]
		groups[i].ShippingCost = shipping[i]
		groups[i].TaxAmount = taxes[i]
		if groups[i].Total() < 0 {
			return apperrors.Validation("discount_exceeds_subtotal",
				fmt.Sprintf("allocated discount exceeds the total of seller group %d", i+1))
		}
	}
	return nil
}

func (s *checkoutServiceImpl) orderSource(req *models.CheckoutRequest) string {
	if req.OrderSource != "" {
		return req.OrderSource
	}
	return s.cfg.DefaultOrderSource
}

func (s *checkoutServiceImpl) paymentInitiation(req *models.CheckoutRequest) PaymentInitiation {
	expiresAt := req.PaymentExpiresAt
	if expiresAt == nil && s.cfg.PaymentExpiry > 0 {
		t := s.now().Add(s.cfg.PaymentExpiry).UTC()
		expiresAt = &t
	}
	return PaymentInitiation{
		CheckoutKey:   req.IdempotencyKey,
		PaymentMethod: req.PaymentMethod,
		ExpiresAt:     expiresAt,
	}
}

func (s *checkoutServiceImpl) clearCart(ctx context.Context, log *zap.Logger, userID uuid.UUID) {
	if s.Cart == nil {
		return
	}
	if err := s.Cart.ClearCart(ctx, userID); err != nil {
		log.Warn("cart clear failed", zap.Error(err))
	}
}

// finish re-reads the committed orders so the caller sees statuses written
// by the payment step, then builds the response.
func (s *checkoutServiceImpl) finish(ctx context.Context, log *zap.Logger, req *models.CheckoutRequest, orders []models.Order, outcome PaymentOutcome, existing bool) *models.CheckoutResult {
	fresh, err := s.Repo.FindByCheckoutKey(ctx, req.UserID, req.IdempotencyKey)
	if err != nil || len(fresh) == 0 {
		log.Warn("re-reading checkout orders failed, returning pre-payment state", zap.Error(err))
		fresh = orders
	}

	payments := outcome.Succeeded
	if payments == nil {
		payments = []models.PaymentInvoice{}
	}

	result := &models.CheckoutResult{
		Message:        checkoutMessage(len(fresh), outcome, existing),
		IsExisting:     existing,
		OrdersCreated:  len(fresh),
		Orders:         fresh,
		Payments:       payments,
		FailedPayments: outcome.Failed,
	}

	log.Info("checkout finished",
		zap.Bool("is_existing", existing),
		zap.Int("orders", len(fresh)),
		zap.Int("payments", len(outcome.Succeeded)),
		zap.Int("failed_payments", len(outcome.Failed)),
	)
	s.notify(ctx, log, req, result)
	return result
}

func checkoutMessage(orders int, outcome PaymentOutcome, existing bool) string {
	prefix := fmt.Sprintf("Checkout complete: %d order(s) created", orders)
	if existing {
		prefix = fmt.Sprintf("Checkout already processed: %d order(s) found", orders)
	}

	succeeded, failed := len(outcome.Succeeded), len(outcome.Failed)
	switch {
	case failed == 0 && succeeded == 0:
		return prefix + "; no payment required"
	case failed == 0:
		return prefix + " and awaiting payment"
	case succeeded == 0:
		return prefix + " but payment could not be initiated; retry checkout with the same idempotency key"
	default:
		numbers := make([]string, len(outcome.Failed))
		for i, f := range outcome.Failed {
			numbers[i] = f.OrderNumber
		}
		return fmt.Sprintf("%s; payment initiated for %d, failed for %d (%s); retry checkout with the same idempotency key to pay the remaining orders",
			prefix, succeeded, failed, strings.Join(numbers, ", "))
	}
}

// notify publishes a best-effort completion notice.
func (s *checkoutServiceImpl) notify(ctx context.Context, log *zap.Logger, req *models.CheckoutRequest, result *models.CheckoutResult) {
	if s.Notifier == nil || s.cfg.NotificationTopic == "" {
		return
	}

	ids := make([]uuid.UUID, len(result.Orders))
	for i, o := range result.Orders {
		ids[i] = o.ID
	}
	body, err := json.Marshal(models.CheckoutCompletedNotification{
		Event:          checkoutCompletedEvent,
		UserID:         req.UserID,
		CheckoutKey:    req.IdempotencyKey,
		IsExisting:     result.IsExisting,
		OrderIDs:       ids,
		FailedPayments: len(result.FailedPayments),
		Timestamp:      s.now().UTC(),
	})
	if err != nil {
		log.Error("failed to marshal checkout notification", zap.Error(err))
		return
	}
	if err := s.Notifier.Publish(ctx, s.cfg.NotificationTopic, checkoutCompletedEvent, body); err != nil {
		log.Warn("checkout notification publish failed", zap.Error(err))
	}
}
