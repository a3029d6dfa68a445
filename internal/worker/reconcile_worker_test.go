package worker

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"orderledger/internal/events"
	"orderledger/internal/model"
	"orderledger/internal/service"
	"orderledger/internal/store/memory"
)

func seed(t *testing.T, st *memory.Store, quantities ...int) []model.Order {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, st.UpsertCustomer(ctx, model.Customer{ID: "c1"}))

	var out []model.Order
	for _, q := range quantities {
		o, err := model.NewOrder("c1", model.OrderInput{Quantity: q})
		require.NoError(t, err)
		_, err = st.CreateOrder(ctx, &o)
		require.NoError(t, err)
		out = append(out, o)
	}
	return out
}

func TestReconcileWorker_ProcessBatch(t *testing.T) {
	ctx := context.Background()
	st := memory.New()
	orders := seed(t, st, 1, 2, 3)

	balanceSvc := service.NewBalanceService(st, events.Nop{}, nil, zap.NewNop())
	_, err := balanceSvc.ApplyOrderToBalance(ctx, "c1", orders[0].ID, orders[0].TotalAmount)
	require.NoError(t, err)

	w := NewReconcileWorker(balanceSvc, time.Minute, 1, zap.NewNop())

	n, err := w.ProcessBatch(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	n, err = w.ProcessBatch(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	n, err = w.ProcessBatch(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	c, err := st.GetCustomer(ctx, "c1")
	require.NoError(t, err)
	assert.True(t, c.Balance.Equal(decimal.NewFromInt(210)), "balance=%s", c.Balance)
}

func TestReconcileWorker_StartStops(t *testing.T) {
	st := memory.New()
	seed(t, st, 4)
	balanceSvc := service.NewBalanceService(st, events.Nop{}, nil, zap.NewNop())
	w := NewReconcileWorker(balanceSvc, 10*time.Millisecond, 10, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		w.Start(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool {
		c, err := st.GetCustomer(context.Background(), "c1")
		return err == nil && c.Balance.Equal(decimal.NewFromInt(140))
	}, time.Second, 10*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("worker did not stop")
	}
}

func TestReconcileWorker_Disabled(t *testing.T) {
	w := NewReconcileWorker(nil, 0, 0, zap.NewNop())
	done := make(chan struct{})
	go func() {
		w.Start(context.Background())
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("disabled worker should return immediately")
	}
}
