package services_test

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"order-service/models"
	"order-service/repository"

	"github.com/google/uuid"
)

// memoryStore is one consistent snapshot of the tables.
type memoryStore struct {
	orders  []models.Order
	history []models.OrderStatusHistory
	outbox  []models.OutboxEvent
}

func copyOrder(o models.Order) models.Order {
	o.OrderItems = append([]models.OrderItem(nil), o.OrderItems...)
	return o
}

func (s *memoryStore) clone() *memoryStore {
	c := &memoryStore{
		orders:  make([]models.Order, len(s.orders)),
		history: append([]models.OrderStatusHistory(nil), s.history...),
		outbox:  append([]models.OutboxEvent(nil), s.outbox...),
	}
	for i, o := range s.orders {
		c.orders[i] = copyOrder(o)
	}
	return c
}

// memoryDB is an OrderRepository backing store with transaction semantics:
// a transaction works on a copy that replaces the committed state only when
// the callback succeeds. Top-level transactions are serialised.
type memoryDB struct {
	mu    sync.Mutex
	store *memoryStore

	fmu sync.Mutex
	// failOn makes the named operation fail on its nth call (1-based);
	// n == 0 fails every call.
	failOn map[string]failure
	calls  map[string]int
	// staleCheckoutReads makes the next N FindByCheckoutKey calls see no
	// orders, as a reader racing an uncommitted writer would.
	staleCheckoutReads int
}

type failure struct {
	nth int
	err error
}

func newMemoryDB() *memoryDB {
	return &memoryDB{
		store:  &memoryStore{},
		failOn: make(map[string]failure),
		calls:  make(map[string]int),
	}
}

func (db *memoryDB) repo() *memoryRepo {
	return &memoryRepo{db: db}
}

func (db *memoryDB) fail(op string, nth int, err error) {
	db.fmu.Lock()
	defer db.fmu.Unlock()
	db.failOn[op] = failure{nth: nth, err: err}
}

func (db *memoryDB) check(op string) error {
	db.fmu.Lock()
	defer db.fmu.Unlock()
	db.calls[op]++
	f, ok := db.failOn[op]
	if !ok {
		return nil
	}
	if f.nth == 0 || f.nth == db.calls[op] {
		return f.err
	}
	return nil
}

func (db *memoryDB) snapshot() *memoryStore {
	db.mu.Lock()
	defer db.mu.Unlock()
	return db.store.clone()
}

func (db *memoryDB) order(id uuid.UUID) models.Order {
	for _, o := range db.snapshot().orders {
		if o.ID == id {
			return o
		}
	}
	return models.Order{}
}

func (db *memoryDB) events(eventType string) []models.OutboxEvent {
	var out []models.OutboxEvent
	for _, e := range db.snapshot().outbox {
		if e.EventType == eventType {
			out = append(out, e)
		}
	}
	return out
}

type memoryRepo struct {
	db *memoryDB
	tx *memoryStore
}

var _ repository.OrderRepository = (*memoryRepo)(nil)

func (r *memoryRepo) with(fn func(s *memoryStore) error) error {
	if r.tx != nil {
		return fn(r.tx)
	}
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	return fn(r.db.store)
}

func (r *memoryRepo) Transaction(ctx context.Context, fn func(repo repository.OrderRepository) error) error {
	if r.tx != nil {
		nested := &memoryRepo{db: r.db, tx: r.tx.clone()}
		if err := fn(nested); err != nil {
			return err
		}
		r.tx = nested.tx
		return nil
	}

	if err := ctx.Err(); err != nil {
		return err
	}
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	child := &memoryRepo{db: r.db, tx: r.db.store.clone()}
	if err := fn(child); err != nil {
		return err
	}
	r.db.store = child.tx
	return nil
}

func (r *memoryRepo) CreateOrder(ctx context.Context, order *models.Order) error {
	if err := r.db.check("CreateOrder"); err != nil {
		return err
	}
	if err := order.ValidateTotals(); err != nil {
		return err
	}
	return r.with(func(s *memoryStore) error {
		for _, o := range s.orders {
			if o.UserID == order.UserID && o.IdempotencyKey == order.IdempotencyKey {
				return fmt.Errorf("%w: idempotency key %s", repository.ErrDuplicateOrder, order.IdempotencyKey)
			}
			if o.OrderNumber == order.OrderNumber {
				return fmt.Errorf("%w: order number %s", repository.ErrDuplicateOrder, order.OrderNumber)
			}
		}
		if order.ID == uuid.Nil {
			order.ID = uuid.New()
		}
		for i := range order.OrderItems {
			order.OrderItems[i].ID = uuid.New()
			order.OrderItems[i].OrderID = order.ID
		}
		s.orders = append(s.orders, copyOrder(*order))
		return nil
	})
}

func (r *memoryRepo) find(pred func(models.Order) bool) (*models.Order, error) {
	var found *models.Order
	err := r.with(func(s *memoryStore) error {
		for _, o := range s.orders {
			if pred(o) {
				c := copyOrder(o)
				found = &c
				return nil
			}
		}
		return repository.ErrOrderNotFound
	})
	return found, err
}

func (r *memoryRepo) FindByID(ctx context.Context, orderID uuid.UUID) (*models.Order, error) {
	return r.find(func(o models.Order) bool { return o.ID == orderID })
}

func (r *memoryRepo) FindByIDForUpdate(ctx context.Context, orderID uuid.UUID) (*models.Order, error) {
	order, err := r.FindByID(ctx, orderID)
	if order != nil {
		order.OrderItems = nil
	}
	return order, err
}

func (r *memoryRepo) FindByIDAndUserID(ctx context.Context, orderID, userID uuid.UUID) (*models.Order, error) {
	return r.find(func(o models.Order) bool { return o.ID == orderID && o.UserID == userID })
}

func (r *memoryRepo) FindByCheckoutKey(ctx context.Context, userID uuid.UUID, checkoutKey string) ([]models.Order, error) {
	if err := r.db.check("FindByCheckoutKey"); err != nil {
		return nil, err
	}
	r.db.fmu.Lock()
	stale := r.db.staleCheckoutReads > 0
	if stale {
		r.db.staleCheckoutReads--
	}
	r.db.fmu.Unlock()
	if stale {
		return nil, nil
	}

	var matched []models.Order
	_ = r.with(func(s *memoryStore) error {
		for _, o := range s.orders {
			if o.UserID == userID && strings.HasPrefix(o.IdempotencyKey, checkoutKey+":") {
				matched = append(matched, copyOrder(o))
			}
		}
		return nil
	})
	return repository.SortByGroupIndex(matched, checkoutKey), nil
}

func (r *memoryRepo) page(pred func(models.Order) bool, page, limit int) ([]models.Order, int64, error) {
	var all []models.Order
	_ = r.with(func(s *memoryStore) error {
		for _, o := range s.orders {
			if pred(o) {
				all = append(all, copyOrder(o))
			}
		}
		return nil
	})
	start := (page - 1) * limit
	if start > len(all) {
		start = len(all)
	}
	end := min(start+limit, len(all))
	return all[start:end], int64(len(all)), nil
}

func (r *memoryRepo) FindByUserID(ctx context.Context, userID uuid.UUID, page, limit int) ([]models.Order, int64, error) {
	return r.page(func(o models.Order) bool { return o.UserID == userID }, page, limit)
}

func (r *memoryRepo) FindAll(ctx context.Context, page, limit int) ([]models.Order, int64, error) {
	return r.page(func(models.Order) bool { return true }, page, limit)
}

func (r *memoryRepo) UpdateStatus(ctx context.Context, order *models.Order) error {
	if err := r.db.check("UpdateStatus"); err != nil {
		return err
	}
	return r.with(func(s *memoryStore) error {
		for i := range s.orders {
			if s.orders[i].ID == order.ID {
				s.orders[i].Status = order.Status
				s.orders[i].PaidAt = order.PaidAt
				s.orders[i].CancelledAt = order.CancelledAt
				s.orders[i].DeliveredAt = order.DeliveredAt
				s.orders[i].CompletedAt = order.CompletedAt
				s.orders[i].UpdatedAt = order.UpdatedAt
				return nil
			}
		}
		return repository.ErrOrderNotFound
	})
}

func (r *memoryRepo) CreateStatusHistory(ctx context.Context, entry *models.OrderStatusHistory) error {
	if err := r.db.check("CreateStatusHistory"); err != nil {
		return err
	}
	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}
	return r.with(func(s *memoryStore) error {
		s.history = append(s.history, *entry)
		return nil
	})
}

func (r *memoryRepo) FindStatusHistory(ctx context.Context, orderID uuid.UUID) ([]models.OrderStatusHistory, error) {
	var out []models.OrderStatusHistory
	_ = r.with(func(s *memoryStore) error {
		for _, h := range s.history {
			if h.OrderID == orderID {
				out = append(out, h)
			}
		}
		return nil
	})
	return out, nil
}

func (r *memoryRepo) CreateOutboxEvent(ctx context.Context, event *models.OutboxEvent) error {
	if err := r.db.check("CreateOutboxEvent"); err != nil {
		return err
	}
	if event.ID == uuid.Nil {
		event.ID = uuid.New()
	}
	return r.with(func(s *memoryStore) error {
		s.outbox = append(s.outbox, *event)
		return nil
	})
}

func (r *memoryRepo) FindOutboxEvents(ctx context.Context, aggregateID uuid.UUID) ([]models.OutboxEvent, error) {
	var out []models.OutboxEvent
	_ = r.with(func(s *memoryStore) error {
		for _, e := range s.outbox {
			if e.AggregateID == aggregateID {
				out = append(out, e)
			}
		}
		return nil
	})
	return out, nil
}
