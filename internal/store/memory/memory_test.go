package memory

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"orderledger/internal/model"
	"orderledger/internal/store"
)

type fakeClock struct {
	t time.Time
}

func (c *fakeClock) Now() time.Time { return c.t }

func (c *fakeClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

func newStore(t *testing.T) (*Store, *fakeClock) {
	t.Helper()
	clock := &fakeClock{t: time.Date(2024, time.January, 15, 9, 0, 0, 0, time.UTC)}
	s := New(WithClock(clock.Now))
	require.NoError(t, s.UpsertCustomer(context.Background(), model.Customer{ID: "c1", Username: "asha"}))
	require.NoError(t, s.UpsertCustomer(context.Background(), model.Customer{ID: "c2", Username: "ravi"}))
	return s, clock
}

func mustOrder(t *testing.T, customerID string, qty int) *model.Order {
	t.Helper()
	o, err := model.NewOrder(customerID, model.OrderInput{Quantity: qty})
	require.NoError(t, err)
	return &o
}

func TestStore_CreateAndGet(t *testing.T) {
	ctx := context.Background()
	s, clock := newStore(t)

	o := mustOrder(t, "c1", 5)
	id, err := s.CreateOrder(ctx, o)
	require.NoError(t, err)
	require.NotEmpty(t, id)

	got, err := s.GetOrder(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, clock.t, got.OrderedAt)
	assert.Equal(t, clock.t, got.CreatedAt)
	assert.True(t, got.TotalAmount.Equal(decimal.NewFromInt(175)))

	mirror, err := s.ListMirror(ctx, "c1")
	require.NoError(t, err)
	require.Len(t, mirror, 1)
	assert.Equal(t, id, mirror[0].MainOrderID)
	assert.NotEqual(t, id, mirror[0].ID)
	assert.Equal(t, 5, mirror[0].Quantity)

	_, err = s.GetOrder(ctx, "missing")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestStore_CreateUnknownCustomer(t *testing.T) {
	s, _ := newStore(t)

	_, err := s.CreateOrder(context.Background(), mustOrder(t, "ghost", 1))
	assert.ErrorIs(t, err, store.ErrCustomerNotFound)
}

func TestStore_ImportKeepsOrderedAt(t *testing.T) {
	ctx := context.Background()
	s, clock := newStore(t)

	o := mustOrder(t, "c1", 2)
	o.OrderedAt = time.Date(2023, time.November, 3, 0, 0, 0, 0, time.UTC)
	id, err := s.ImportOrder(ctx, o)
	require.NoError(t, err)

	got, err := s.GetOrder(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2023, time.November, 3, 0, 0, 0, 0, time.UTC), got.OrderedAt)
	assert.Equal(t, clock.t, got.CreatedAt)
}

func TestStore_ListOrders(t *testing.T) {
	ctx := context.Background()
	s, clock := newStore(t)

	var ids []string
	for i := 0; i < 3; i++ {
		id, err := s.CreateOrder(ctx, mustOrder(t, "c1", i+1))
		require.NoError(t, err)
		ids = append(ids, id)
		clock.Advance(24 * time.Hour)
	}
	_, err := s.CreateOrder(ctx, mustOrder(t, "c2", 1))
	require.NoError(t, err)

	got, err := s.ListOrders(ctx, store.Filter{CustomerID: "c1"})
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, []string{ids[2], ids[1], ids[0]}, []string{got[0].ID, got[1].ID, got[2].ID})

	all, err := s.ListOrders(ctx, store.Filter{})
	require.NoError(t, err)
	assert.Len(t, all, 4)

	none, err := s.ListOrders(ctx, store.Filter{CustomerID: "nobody"})
	require.NoError(t, err)
	assert.NotNil(t, none)
	assert.Empty(t, none)
}

func TestStore_ListOrdersRange(t *testing.T) {
	ctx := context.Background()
	s, _ := newStore(t)

	dates := []time.Time{
		time.Date(2024, time.January, 31, 23, 59, 59, 0, time.UTC),
		time.Date(2024, time.February, 1, 0, 0, 0, 0, time.UTC),
		time.Date(2024, time.February, 29, 23, 59, 59, 0, time.UTC),
		time.Date(2024, time.March, 1, 0, 0, 0, 0, time.UTC),
	}
	for _, d := range dates {
		o := mustOrder(t, "c1", 1)
		o.OrderedAt = d
		_, err := s.ImportOrder(ctx, o)
		require.NoError(t, err)
	}

	got, err := s.ListOrders(ctx, store.Filter{
		CustomerID: "c1",
		From:       time.Date(2024, time.February, 1, 0, 0, 0, 0, time.UTC),
		To:         time.Date(2024, time.March, 1, 0, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, dates[2], got[0].OrderedAt)
	assert.Equal(t, dates[1], got[1].OrderedAt)
}

func TestStore_ListOrdersByStatus(t *testing.T) {
	ctx := context.Background()
	s, _ := newStore(t)

	id, err := s.CreateOrder(ctx, mustOrder(t, "c1", 1))
	require.NoError(t, err)
	_, err = s.CreateOrder(ctx, mustOrder(t, "c1", 2))
	require.NoError(t, err)

	_, err = s.UpdateOrder(ctx, id, func(o *model.Order) error {
		o.Status = model.StatusConfirmed
		return nil
	})
	require.NoError(t, err)

	got, err := s.ListOrders(ctx, store.Filter{CustomerID: "c1", Status: model.StatusConfirmed})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, id, got[0].ID)
}

func TestStore_UpdateSyncsMirror(t *testing.T) {
	ctx := context.Background()
	s, clock := newStore(t)

	id, err := s.CreateOrder(ctx, mustOrder(t, "c1", 3))
	require.NoError(t, err)
	clock.Advance(time.Hour)

	updated, err := s.UpdateOrder(ctx, id, func(o *model.Order) error {
		o.Quantity = 99
		o.Received = true
		o.Status = model.StatusDelivered
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, updated.Quantity, "immutable fields are not written")
	assert.True(t, updated.Received)
	assert.Equal(t, clock.t, updated.UpdatedAt)

	mirror, err := s.ListMirror(ctx, "c1")
	require.NoError(t, err)
	require.Len(t, mirror, 1)
	assert.True(t, mirror[0].Received)
	assert.Equal(t, model.StatusDelivered, mirror[0].Status)
}

func TestStore_UpdateMutatorErrorAborts(t *testing.T) {
	ctx := context.Background()
	s, _ := newStore(t)

	id, err := s.CreateOrder(ctx, mustOrder(t, "c1", 1))
	require.NoError(t, err)

	_, err = s.UpdateOrder(ctx, id, func(o *model.Order) error {
		o.Status = model.StatusCancelled
		return model.ErrInvalidTransition
	})
	assert.ErrorIs(t, err, model.ErrInvalidTransition)

	got, err := s.GetOrder(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, model.StatusPending, got.Status)

	_, err = s.UpdateOrder(ctx, "missing", func(*model.Order) error { return nil })
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestStore_Delete(t *testing.T) {
	ctx := context.Background()
	s, _ := newStore(t)

	id, err := s.CreateOrder(ctx, mustOrder(t, "c1", 1))
	require.NoError(t, err)

	assert.ErrorIs(t, s.DeleteOrder(ctx, id, "c2"), store.ErrNotFound)

	require.NoError(t, s.DeleteOrder(ctx, id, "c1"))

	_, err = s.GetOrder(ctx, id)
	assert.ErrorIs(t, err, store.ErrNotFound)
	mirror, err := s.ListMirror(ctx, "c1")
	require.NoError(t, err)
	assert.Empty(t, mirror)

	assert.ErrorIs(t, s.DeleteOrder(ctx, id, "c1"), store.ErrNotFound)
}

func TestStore_ApplyBalanceIsIdempotent(t *testing.T) {
	ctx := context.Background()
	s, _ := newStore(t)

	id, err := s.CreateOrder(ctx, mustOrder(t, "c1", 5))
	require.NoError(t, err)

	pending, err := s.UnappliedOrders(ctx, 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)

	bal, applied, err := s.ApplyBalance(ctx, "c1", id, decimal.NewFromInt(175))
	require.NoError(t, err)
	assert.True(t, applied)
	assert.True(t, bal.Equal(decimal.NewFromInt(175)))

	bal, applied, err = s.ApplyBalance(ctx, "c1", id, decimal.NewFromInt(175))
	require.NoError(t, err)
	assert.False(t, applied)
	assert.True(t, bal.Equal(decimal.NewFromInt(175)))

	pending, err = s.UnappliedOrders(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, pending)

	_, _, err = s.ApplyBalance(ctx, "ghost", "x", decimal.NewFromInt(1))
	assert.ErrorIs(t, err, store.ErrCustomerNotFound)
}

func TestStore_AddAdvancePaid(t *testing.T) {
	ctx := context.Background()
	s, _ := newStore(t)

	_, _, err := s.ApplyBalance(ctx, "c1", "o-1", decimal.NewFromInt(175))
	require.NoError(t, err)

	c, err := s.AddAdvancePaid(ctx, "c1", decimal.NewFromInt(100))
	require.NoError(t, err)
	assert.True(t, c.AdvancePaid.Equal(decimal.NewFromInt(100)))
	assert.True(t, c.Balance.Equal(decimal.NewFromInt(175)))

	_, err = s.AddAdvancePaid(ctx, "ghost", decimal.NewFromInt(1))
	assert.ErrorIs(t, err, store.ErrCustomerNotFound)
}

func TestStore_ApplyBalanceConcurrent(t *testing.T) {
	ctx := context.Background()
	s, _ := newStore(t)

	const workers = 50
	var g errgroup.Group
	for i := 0; i < workers; i++ {
		orderID := fmt.Sprintf("o-%d", i)
		g.Go(func() error {
			_, _, err := s.ApplyBalance(ctx, "c1", orderID, decimal.NewFromInt(35))
			return err
		})
	}
	require.NoError(t, g.Wait())

	c, err := s.GetCustomer(ctx, "c1")
	require.NoError(t, err)
	assert.True(t, c.Balance.Equal(decimal.NewFromInt(35*workers)), "balance=%s", c.Balance)
}

func TestStore_ApplyBalanceSameOrderConcurrent(t *testing.T) {
	ctx := context.Background()
	s, _ := newStore(t)

	const workers = 50
	applied := make(chan bool, workers)
	var g errgroup.Group
	for i := 0; i < workers; i++ {
		g.Go(func() error {
			_, ok, err := s.ApplyBalance(ctx, "c1", "o-1", decimal.NewFromInt(175))
			applied <- ok
			return err
		})
	}
	require.NoError(t, g.Wait())
	close(applied)

	count := 0
	for ok := range applied {
		if ok {
			count++
		}
	}
	assert.Equal(t, 1, count)

	c, err := s.GetCustomer(ctx, "c1")
	require.NoError(t, err)
	assert.True(t, c.Balance.Equal(decimal.NewFromInt(175)), "balance=%s", c.Balance)
}

func TestStore_CancelledContext(t *testing.T) {
	s, _ := newStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := s.CreateOrder(ctx, mustOrder(t, "c1", 1))
	var werr *store.WriteError
	require.ErrorAs(t, err, &werr)
	assert.Equal(t, "create order", werr.Op)

	_, err = s.ListOrders(ctx, store.Filter{CustomerID: "c1"})
	var qerr *store.QueryError
	assert.ErrorAs(t, err, &qerr)
}
