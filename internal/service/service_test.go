package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
	"go.uber.org/zap"

	"orderledger/internal/events"
	"orderledger/internal/model"
	"orderledger/internal/store"
	"orderledger/internal/store/memory"
)

type recordingPublisher struct {
	mu     sync.Mutex
	events []events.Event
}

func (p *recordingPublisher) Publish(_ context.Context, e events.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
	return nil
}

func (p *recordingPublisher) Close() error { return nil }

func (p *recordingPublisher) types() []events.Type {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]events.Type, 0, len(p.events))
	for _, e := range p.events {
		out = append(out, e.Type)
	}
	return out
}

// failingBalanceStore refuses every balance application.
type failingBalanceStore struct {
	*memory.Store
}

func (failingBalanceStore) ApplyBalance(context.Context, string, string, decimal.Decimal) (decimal.Decimal, bool, error) {
	return decimal.Zero, false, errors.New("connection reset")
}

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

type ServiceSuite struct {
	suite.Suite

	ctx     context.Context
	now     time.Time
	store   *memory.Store
	pub     *recordingPublisher
	balance *BalanceService
	orders  *OrderService
	history *HistoryService
	changed []string
}

func (s *ServiceSuite) SetupTest() {
	s.ctx = context.Background()
	s.now = time.Date(2024, time.March, 10, 12, 0, 0, 0, time.UTC)
	s.store = memory.New(memory.WithClock(func() time.Time { return s.now }))
	s.pub = &recordingPublisher{}
	s.changed = nil

	logger := zap.NewNop()
	s.balance = NewBalanceService(s.store, s.pub, nil, logger)
	s.orders = NewOrderService(s.store, s.balance, logger,
		WithPublisher(s.pub),
		WithChangeListener(func(_ context.Context, customerID string) {
			s.changed = append(s.changed, customerID)
		}),
	)
	s.history = NewHistoryService(s.store, time.UTC, logger)

	s.Require().NoError(s.store.UpsertCustomer(s.ctx, model.Customer{ID: "c1", Username: "asha"}))
}

func (s *ServiceSuite) importOrder(at time.Time, qty int, advance string) model.Order {
	o, err := model.NewOrder("c1", model.OrderInput{Quantity: qty, AdvancePaid: d(advance)})
	s.Require().NoError(err)
	o.OrderedAt = at
	_, err = s.store.ImportOrder(s.ctx, &o)
	s.Require().NoError(err)
	return o
}

func (s *ServiceSuite) TestPlaceOrder() {
	res, err := s.orders.PlaceOrder(s.ctx, "c1", model.OrderInput{Quantity: 5})
	s.Require().NoError(err)

	s.False(res.ReconcileRequired)
	s.True(res.Order.TotalAmount.Equal(d("175")))
	s.True(res.Order.BalanceAmount.Equal(d("175")))
	s.True(res.NewBalance.Equal(d("175")))
	s.Equal(s.now, res.Order.OrderedAt)

	c, err := s.balance.Summary(s.ctx, "c1")
	s.Require().NoError(err)
	s.True(c.Balance.Equal(d("175")))

	s.Equal([]events.Type{events.OrderCreated, events.BalanceApplied}, s.pub.types())
	s.Equal([]string{"c1"}, s.changed)

	mirror, err := s.orders.ListMirror(s.ctx, "c1")
	s.Require().NoError(err)
	s.Require().Len(mirror, 1)
	s.Equal(res.Order.ID, mirror[0].MainOrderID)
}

func (s *ServiceSuite) TestPlaceOrder_BalanceFailureKeepsOrder() {
	st := failingBalanceStore{Store: s.store}
	balance := NewBalanceService(st, s.pub, nil, zap.NewNop())
	orders := NewOrderService(st, balance, zap.NewNop(), WithPublisher(s.pub))

	res, err := orders.PlaceOrder(s.ctx, "c1", model.OrderInput{Quantity: 2})
	s.Require().NoError(err)
	s.True(res.ReconcileRequired)
	s.Error(res.BalanceErr)

	_, found, err := orders.GetOrder(s.ctx, res.Order.ID)
	s.Require().NoError(err)
	s.True(found)
	s.Contains(s.pub.types(), events.ReconcileRequired)

	pending, err := s.balance.Unapplied(s.ctx, 10)
	s.Require().NoError(err)
	s.Require().Len(pending, 1)
	s.Equal(res.Order.ID, pending[0].ID)
}

func (s *ServiceSuite) TestCreateOrder_Validation() {
	_, err := s.orders.CreateOrder(s.ctx, "c1", model.OrderInput{Quantity: -2})
	s.ErrorIs(err, model.ErrInvalidQuantity)

	_, err = s.orders.CreateOrder(s.ctx, "", model.OrderInput{})
	s.ErrorIs(err, model.ErrMissingCustomer)

	s.Empty(s.pub.types())
}

func (s *ServiceSuite) TestApplyOrderToBalance_Idempotent() {
	o, err := s.orders.CreateOrder(s.ctx, "c1", model.OrderInput{Quantity: 3})
	s.Require().NoError(err)

	for i := 0; i < 3; i++ {
		bal, err := s.balance.ApplyOrderToBalance(s.ctx, "c1", o.ID, o.TotalAmount)
		s.Require().NoError(err)
		s.True(bal.Equal(d("105")), "attempt %d balance=%s", i, bal)
	}

	applied := 0
	for _, typ := range s.pub.types() {
		if typ == events.BalanceApplied {
			applied++
		}
	}
	s.Equal(1, applied)
}

func (s *ServiceSuite) TestUpdateOrderStatus() {
	o, err := s.orders.CreateOrder(s.ctx, "c1", model.OrderInput{})
	s.Require().NoError(err)

	_, err = s.orders.UpdateOrderStatus(s.ctx, o.ID, model.StatusReady)
	s.ErrorIs(err, model.ErrInvalidTransition)

	updated, err := s.orders.UpdateOrderStatus(s.ctx, o.ID, model.StatusConfirmed)
	s.Require().NoError(err)
	s.Equal(model.StatusConfirmed, updated.Status)

	_, err = s.orders.UpdateOrderStatus(s.ctx, o.ID, "shipped")
	s.ErrorIs(err, model.ErrInvalidStatus)

	_, err = s.orders.UpdateOrderStatus(s.ctx, "missing", model.StatusConfirmed)
	s.ErrorIs(err, store.ErrNotFound)
}

func (s *ServiceSuite) TestUpdatePaymentStatus_RecomputesBalance() {
	o, err := s.orders.CreateOrder(s.ctx, "c1", model.OrderInput{Quantity: 8})
	s.Require().NoError(err)

	advance := d("200")
	updated, err := s.orders.UpdatePaymentStatus(s.ctx, o.ID, model.PaymentPartial, &advance)
	s.Require().NoError(err)
	s.Equal(model.PaymentPartial, updated.PaymentStatus)
	s.True(updated.AdvancePaid.Equal(d("200")))
	s.True(updated.BalanceAmount.Equal(d("80")))

	updated, err = s.orders.UpdatePaymentStatus(s.ctx, o.ID, model.PaymentCompleted, nil)
	s.Require().NoError(err)
	s.True(updated.BalanceAmount.Equal(d("80")))

	_, err = s.orders.UpdatePaymentStatus(s.ctx, o.ID, model.PaymentPending, nil)
	s.ErrorIs(err, model.ErrInvalidTransition)

	_, err = s.orders.UpdatePaymentStatus(s.ctx, o.ID, "refunded", nil)
	s.ErrorIs(err, model.ErrInvalidPaymentStatus)
}

func (s *ServiceSuite) TestMarkOrderReceived() {
	o, err := s.orders.CreateOrder(s.ctx, "c1", model.OrderInput{})
	s.Require().NoError(err)

	updated, err := s.orders.MarkOrderReceived(s.ctx, o.ID)
	s.Require().NoError(err)
	s.True(updated.Received)
	s.Equal(model.StatusDelivered, updated.Status)

	mirror, err := s.orders.ListMirror(s.ctx, "c1")
	s.Require().NoError(err)
	s.Require().Len(mirror, 1)
	s.True(mirror[0].Received)
	s.Equal(model.StatusDelivered, mirror[0].Status)
}

func (s *ServiceSuite) TestDeleteOrder() {
	o, err := s.orders.CreateOrder(s.ctx, "c1", model.OrderInput{})
	s.Require().NoError(err)
	s.changed = nil

	s.Require().NoError(s.orders.DeleteOrder(s.ctx, o.ID, "c1"))
	s.Equal([]string{"c1"}, s.changed)

	_, found, err := s.orders.GetOrder(s.ctx, o.ID)
	s.Require().NoError(err)
	s.False(found)

	s.ErrorIs(s.orders.DeleteOrder(s.ctx, o.ID, "c1"), store.ErrNotFound)
}

func (s *ServiceSuite) TestListOrders() {
	s.importOrder(time.Date(2024, time.January, 15, 0, 0, 0, 0, time.UTC), 5, "175")
	s.importOrder(time.Date(2024, time.February, 1, 0, 0, 0, 0, time.UTC), 8, "200")

	orders, err := s.orders.ListOrders(s.ctx, "c1", "")
	s.Require().NoError(err)
	s.Require().Len(orders, 2)
	s.Equal(8, orders[0].Quantity)

	pending, err := s.orders.ListOrders(s.ctx, "c1", model.StatusPending)
	s.Require().NoError(err)
	s.Len(pending, 2)

	_, err = s.orders.ListOrders(s.ctx, "c1", "lost")
	s.ErrorIs(err, model.ErrInvalidStatus)

	s.Require().NoError(s.store.UpsertCustomer(s.ctx, model.Customer{ID: "c2"}))
	_, err = s.orders.CreateOrder(s.ctx, "c2", model.OrderInput{})
	s.Require().NoError(err)

	all, err := s.orders.ListAllOrders(s.ctx)
	s.Require().NoError(err)
	s.Len(all, 3)
}

func (s *ServiceSuite) TestHistory() {
	s.importOrder(time.Date(2024, time.January, 15, 0, 0, 0, 0, time.UTC), 5, "175")
	s.importOrder(time.Date(2024, time.January, 22, 0, 0, 0, 0, time.UTC), 3, "100")
	s.importOrder(time.Date(2024, time.January, 31, 23, 59, 0, 0, time.UTC), 1, "0")
	s.importOrder(time.Date(2024, time.February, 1, 0, 0, 0, 0, time.UTC), 8, "200")
	s.importOrder(time.Date(2023, time.January, 9, 0, 0, 0, 0, time.UTC), 2, "0")

	months, err := s.history.AvailableMonths(s.ctx, "c1")
	s.Require().NoError(err)
	s.Equal([]string{"February", "January"}, months)

	periods, err := s.history.AvailablePeriods(s.ctx, "c1")
	s.Require().NoError(err)
	s.Equal([]model.Period{
		{Year: 2024, Month: time.February},
		{Year: 2024, Month: time.January},
		{Year: 2023, Month: time.January},
	}, periods)

	items, err := s.history.OrdersForMonth(s.ctx, "c1", "January", 2024)
	s.Require().NoError(err)
	s.Require().Len(items, 3)
	s.Equal("1/31/2024", items[0].DateOrdered)
	s.Equal("1/22/2024", items[1].DateOrdered)
	s.Equal("1/15/2024", items[2].DateOrdered)
	s.True(items[2].Price.Equal(d("175")))
	s.True(MonthTotal(items).Equal(d("315")))

	empty, err := s.history.OrdersForMonth(s.ctx, "c1", "June", 2024)
	s.Require().NoError(err)
	s.NotNil(empty)
	s.Empty(empty)

	_, err = s.history.OrdersForMonth(s.ctx, "c1", "Janvier", 2024)
	s.ErrorIs(err, model.ErrInvalidMonth)
}

func (s *ServiceSuite) TestHistory_TimeZone() {
	s.importOrder(time.Date(2024, time.January, 31, 20, 0, 0, 0, time.UTC), 1, "0")

	kolkata := time.FixedZone("IST", 5*3600+1800)
	history := NewHistoryService(s.store, kolkata, zap.NewNop())

	months, err := history.AvailableMonths(s.ctx, "c1")
	s.Require().NoError(err)
	s.Equal([]string{"February"}, months)

	items, err := history.OrdersForMonth(s.ctx, "c1", "February", 2024)
	s.Require().NoError(err)
	s.Require().Len(items, 1)
	s.Equal("2/1/2024", items[0].DateOrdered)
}

func TestServiceSuite(t *testing.T) {
	suite.Run(t, new(ServiceSuite))
}

func TestMonthTotal_Empty(t *testing.T) {
	require.True(t, MonthTotal(nil).IsZero())
}
