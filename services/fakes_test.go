package services_test

import (
	"context"
	"sync"
	"testing"

	apperrors "order-service/common/errors"
	"order-service/common/logger"
	"order-service/models"
	"order-service/repository"
	"order-service/services"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

type fakeUsers struct {
	profile *models.UserProfile
	err     error
	calls   int
}

func (f *fakeUsers) GetUser(ctx context.Context, userID uuid.UUID) (*models.UserProfile, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	if f.profile == nil {
		return nil, apperrors.NotFound("user not found")
	}
	p := *f.profile
	p.ID = userID
	return &p, nil
}

type fakeProducts struct {
	products map[uuid.UUID]*models.Product
	err      error
	calls    int
}

func (f *fakeProducts) GetProduct(ctx context.Context, productID uuid.UUID) (*models.Product, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	p, ok := f.products[productID]
	if !ok {
		return nil, apperrors.NotFound("product not found")
	}
	return p, nil
}

// fakePayments behaves like an idempotent payment service: a repeated key
// returns the payment created for it the first time.
type fakePayments struct {
	mu         sync.Mutex
	failKeys   map[string]error
	requests   []models.PaymentRequest
	requestIDs []string
	byKey      map[string]models.PaymentInvoice
}

func newFakePayments() *fakePayments {
	return &fakePayments{
		failKeys: make(map[string]error),
		byKey:    make(map[string]models.PaymentInvoice),
	}
}

func (f *fakePayments) CreatePayment(ctx context.Context, req models.PaymentRequest) (*models.PaymentInvoice, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	// Like an HTTP call, a cancelled context never reaches the gateway.
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f.requests = append(f.requests, req)
	f.requestIDs = append(f.requestIDs, logger.RequestID(ctx))

	if err := f.failKeys[req.IdempotencyKey]; err != nil {
		return nil, err
	}
	if inv, ok := f.byKey[req.IdempotencyKey]; ok {
		inv.IsExisting = true
		return &inv, nil
	}
	inv := models.PaymentInvoice{
		ID:       "pay-" + uuid.NewString()[:8],
		OrderID:  req.OrderID,
		Amount:   req.Amount,
		Currency: req.Currency,
		Status:   "pending",
	}
	f.byKey[req.IdempotencyKey] = inv
	return &inv, nil
}

func (f *fakePayments) keys() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.requests))
	for i, r := range f.requests {
		out[i] = r.IdempotencyKey
	}
	return out
}

type fakeCart struct {
	err   error
	calls int
}

func (f *fakeCart) ClearCart(ctx context.Context, userID uuid.UUID) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	f.calls++
	return f.err
}

type publishedMessage struct {
	topic     string
	eventType string
	body      []byte
}

type fakePublisher struct {
	messages []publishedMessage
}

func (f *fakePublisher) Publish(ctx context.Context, topicArn, eventType string, message []byte) error {
	f.messages = append(f.messages, publishedMessage{topic: topicArn, eventType: eventType, body: message})
	return nil
}

// checkoutFixture wires a checkout service over the in-memory store. The
// catalog holds one product from sellerA and one house-brand product, both
// priced at 50000.
type checkoutFixture struct {
	db       *memoryDB
	users    *fakeUsers
	products *fakeProducts
	payments *fakePayments
	cart     *fakeCart
	notifier *fakePublisher
	machine  *services.StatusMachine
	svc      services.CheckoutService

	// afterCreate runs once the order-creation transaction has committed.
	afterCreate func()

	userID       uuid.UUID
	sellerA      uuid.UUID
	productA     uuid.UUID
	productHouse uuid.UUID
}

func newCheckoutFixture(t *testing.T, cfg services.CheckoutConfig) *checkoutFixture {
	t.Helper()

	f := &checkoutFixture{
		db:           newMemoryDB(),
		users:        &fakeUsers{profile: &models.UserProfile{FirstName: "Budi", LastName: "Santoso", PhoneNumber: "+628111", Email: "budi@example.com"}},
		payments:     newFakePayments(),
		cart:         &fakeCart{},
		notifier:     &fakePublisher{},
		userID:       uuid.New(),
		sellerA:      uuid.New(),
		productA:     uuid.New(),
		productHouse: uuid.New(),
	}
	f.products = &fakeProducts{products: map[uuid.UUID]*models.Product{
		f.productA:     {ID: f.productA, SellerID: &f.sellerA, Name: "Batik Shirt", SKU: "BTK-1", BaseSellPrice: 50000},
		f.productHouse: {ID: f.productHouse, Name: "House Tote", SKU: "HSE-1", BaseSellPrice: 50000},
	}}

	log := zap.NewNop()
	repo := f.db.repo()
	f.machine = services.NewStatusMachine(repo, nil, log)

	if cfg.NotificationTopic == "" {
		cfg.NotificationTopic = "arn:aws:sns:ap-southeast-1:000000000000:order-events"
	}
	f.svc = services.NewCheckoutService(services.CheckoutDependencies{
		Repo:     repo,
		Resolver: services.NewIdempotencyResolver(repo),
		Creator:  services.NewOrderCreator(&commitHookRepo{OrderRepository: repo, f: f}, services.NewOutboxWriter(true, log), "IDR", log),
		Payments: services.NewPaymentSaga(f.payments, f.machine, nil, log),
		Users:    f.users,
		Products: f.products,
		Cart:     f.cart,
		Notifier: f.notifier,
	}, cfg, log)
	return f
}

// commitHookRepo calls the fixture's afterCreate hook after each committed
// top-level transaction.
type commitHookRepo struct {
	repository.OrderRepository
	f *checkoutFixture
}

func (r *commitHookRepo) Transaction(ctx context.Context, fn func(repo repository.OrderRepository) error) error {
	if err := r.OrderRepository.Transaction(ctx, fn); err != nil {
		return err
	}
	if r.f.afterCreate != nil {
		r.f.afterCreate()
	}
	return nil
}

func testAddress() models.ShippingAddressInput {
	return models.ShippingAddressInput{
		RecipientName: "Siti Rahma",
		Phone:         "+628222",
		Street:        "Jl. Merdeka 1",
		City:          "Bandung",
		Province:      "Jawa Barat",
		PostalCode:    "40111",
	}
}

// request buys two of sellerA's product and one house product: subtotals
// 100000 and 50000.
func (f *checkoutFixture) request(key string) *models.CheckoutRequest {
	return &models.CheckoutRequest{
		UserID:         f.userID,
		IdempotencyKey: key,
		Items: []models.CheckoutItem{
			{ProductID: f.productA, Quantity: 2},
			{ProductID: f.productHouse, Quantity: 1},
		},
		ShippingAddress: testAddress(),
		DiscountAmount:  15000,
		ShippingCost:    20000,
		PaymentMethod:   "bank_transfer",
	}
}

// seedOrder stores a single pending-or-later order directly.
func seedOrder(t *testing.T, db *memoryDB, status models.OrderStatus) models.Order {
	t.Helper()
	order := &models.Order{
		ID:             uuid.New(),
		OrderNumber:    "ORD-20260101-000000-" + uuid.NewString()[:8],
		UserID:         uuid.New(),
		OrderSource:    "web",
		IdempotencyKey: "seed-" + uuid.NewString() + ":0",
		Subtotal:       10000,
		TotalAmount:    10000,
		Currency:       "IDR",
		Status:         status,
	}
	if err := db.repo().CreateOrder(context.Background(), order); err != nil {
		t.Fatalf("seed order: %v", err)
	}
	return *order
}
