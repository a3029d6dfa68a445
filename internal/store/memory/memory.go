// Package memory is an in-process store backend with the same guarantees as
// the postgres backend. It is used by tests and local runs.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"orderledger/internal/model"
	"orderledger/internal/store"
)

type Store struct {
	mu        sync.RWMutex
	now       func() time.Time
	orders    map[string]model.Order
	mirrors   map[string]map[string]model.MirrorOrder // customer id -> mirror id -> record
	customers map[string]model.Customer
	applied   map[string]struct{} // order ids already added to a balance
}

type Option func(*Store)

// WithClock replaces time.Now as the store clock.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

func New(opts ...Option) *Store {
	s := &Store{
		now:       time.Now,
		orders:    make(map[string]model.Order),
		mirrors:   make(map[string]map[string]model.MirrorOrder),
		customers: make(map[string]model.Customer),
		applied:   make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

var _ store.Store = (*Store)(nil)

func (s *Store) CreateOrder(ctx context.Context, o *model.Order) (string, error) {
	return s.insert(ctx, o, false)
}

func (s *Store) ImportOrder(ctx context.Context, o *model.Order) (string, error) {
	return s.insert(ctx, o, true)
}

func (s *Store) insert(ctx context.Context, o *model.Order, keepOrderedAt bool) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", &store.WriteError{Op: "create order", Err: err}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.customers[o.CustomerID]; !ok {
		return "", store.ErrCustomerNotFound
	}

	now := s.now().UTC()
	o.ID = uuid.NewString()
	if !keepOrderedAt || o.OrderedAt.IsZero() {
		o.OrderedAt = now
	}
	o.CreatedAt = now
	o.UpdatedAt = now

	s.orders[o.ID] = *o

	mirror := model.MirrorOrder{Order: *o, ID: uuid.NewString(), MainOrderID: o.ID}
	if s.mirrors[o.CustomerID] == nil {
		s.mirrors[o.CustomerID] = make(map[string]model.MirrorOrder)
	}
	s.mirrors[o.CustomerID][mirror.ID] = mirror

	return o.ID, nil
}

func (s *Store) GetOrder(ctx context.Context, id string) (model.Order, error) {
	if err := ctx.Err(); err != nil {
		return model.Order{}, &store.QueryError{Op: "get order", Err: err}
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	o, ok := s.orders[id]
	if !ok {
		return model.Order{}, store.ErrNotFound
	}
	return o, nil
}

func (s *Store) ListOrders(ctx context.Context, f store.Filter) ([]model.Order, error) {
	if err := ctx.Err(); err != nil {
		return nil, &store.QueryError{Op: "list orders", Err: err}
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]model.Order, 0)
	for _, o := range s.orders {
		if f.Match(o) {
			out = append(out, o)
		}
	}
	sortNewestFirst(out)
	return out, nil
}

func (s *Store) ListMirror(ctx context.Context, customerID string) ([]model.MirrorOrder, error) {
	if err := ctx.Err(); err != nil {
		return nil, &store.QueryError{Op: "list mirror", Err: err}
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]model.MirrorOrder, 0, len(s.mirrors[customerID]))
	for _, m := range s.mirrors[customerID] {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].OrderedAt.Equal(out[j].OrderedAt) {
			return out[i].OrderedAt.After(out[j].OrderedAt)
		}
		return out[i].MainOrderID < out[j].MainOrderID
	})
	return out, nil
}

func (s *Store) UpdateOrder(ctx context.Context, id string, mutate store.Mutator) (model.Order, error) {
	if err := ctx.Err(); err != nil {
		return model.Order{}, &store.WriteError{Op: "update order", Err: err}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.orders[id]
	if !ok {
		return model.Order{}, store.ErrNotFound
	}

	changed := current
	if err := mutate(&changed); err != nil {
		return model.Order{}, err
	}

	current.Status = changed.Status
	current.PaymentStatus = changed.PaymentStatus
	current.Received = changed.Received
	current.AdvancePaid = changed.AdvancePaid
	current.BalanceAmount = changed.BalanceAmount
	current.UpdatedAt = s.now().UTC()
	s.orders[id] = current

	for mid, m := range s.mirrors[current.CustomerID] {
		if m.MainOrderID == id {
			m.Order = current
			s.mirrors[current.CustomerID][mid] = m
		}
	}

	return current, nil
}

func (s *Store) DeleteOrder(ctx context.Context, id, customerID string) error {
	if err := ctx.Err(); err != nil {
		return &store.WriteError{Op: "delete order", Err: err}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	found := false
	if o, ok := s.orders[id]; ok && o.CustomerID == customerID {
		delete(s.orders, id)
		found = true
	}
	for mid, m := range s.mirrors[customerID] {
		if m.MainOrderID == id {
			delete(s.mirrors[customerID], mid)
			found = true
		}
	}

	if !found {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) GetCustomer(ctx context.Context, id string) (model.Customer, error) {
	if err := ctx.Err(); err != nil {
		return model.Customer{}, &store.QueryError{Op: "get customer", Err: err}
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.customers[id]
	if !ok {
		return model.Customer{}, store.ErrCustomerNotFound
	}
	return c, nil
}

func (s *Store) UpsertCustomer(ctx context.Context, c model.Customer) error {
	if err := ctx.Err(); err != nil {
		return &store.WriteError{Op: "upsert customer", Err: err}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now().UTC()
	if existing, ok := s.customers[c.ID]; ok {
		c.CreatedAt = existing.CreatedAt
	} else {
		c.CreatedAt = now
	}
	c.UpdatedAt = now
	s.customers[c.ID] = c
	return nil
}

func (s *Store) AddAdvancePaid(ctx context.Context, customerID string, amount decimal.Decimal) (model.Customer, error) {
	if err := ctx.Err(); err != nil {
		return model.Customer{}, &store.WriteError{Op: "add advance paid", Err: err}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.customers[customerID]
	if !ok {
		return model.Customer{}, store.ErrCustomerNotFound
	}
	c.AdvancePaid = c.AdvancePaid.Add(amount)
	c.UpdatedAt = s.now().UTC()
	s.customers[customerID] = c
	return c, nil
}

func (s *Store) ApplyBalance(ctx context.Context, customerID, orderID string, amount decimal.Decimal) (decimal.Decimal, bool, error) {
	if err := ctx.Err(); err != nil {
		return decimal.Zero, false, &store.WriteError{Op: "apply balance", Err: err}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.customers[customerID]
	if !ok {
		return decimal.Zero, false, store.ErrCustomerNotFound
	}
	if _, done := s.applied[orderID]; done {
		return c.Balance, false, nil
	}

	c.Balance = c.Balance.Add(amount)
	c.UpdatedAt = s.now().UTC()
	s.customers[customerID] = c
	s.applied[orderID] = struct{}{}
	return c.Balance, true, nil
}

func (s *Store) UnappliedOrders(ctx context.Context, limit int) ([]model.Order, error) {
	if err := ctx.Err(); err != nil {
		return nil, &store.QueryError{Op: "unapplied orders", Err: err}
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]model.Order, 0)
	for id, o := range s.orders {
		if _, done := s.applied[id]; !done {
			out = append(out, o)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func sortNewestFirst(orders []model.Order) {
	sort.Slice(orders, func(i, j int) bool {
		if !orders[i].OrderedAt.Equal(orders[j].OrderedAt) {
			return orders[i].OrderedAt.After(orders[j].OrderedAt)
		}
		return orders[i].ID < orders[j].ID
	})
}
