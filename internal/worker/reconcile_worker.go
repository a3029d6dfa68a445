package worker

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"orderledger/internal/model"
	"orderledger/internal/service"
)

// ReconcileWorker applies orders whose totals never reached a balance, such as
// after PlaceOrder reported ReconcileRequired.
type ReconcileWorker struct {
	balanceSvc *service.BalanceService
	interval   time.Duration
	batchSize  int
	logger     *zap.Logger
}

func NewReconcileWorker(balanceSvc *service.BalanceService, interval time.Duration, batchSize int, l *zap.Logger) *ReconcileWorker {
	if batchSize <= 0 {
		batchSize = 50
	}
	return &ReconcileWorker{
		balanceSvc: balanceSvc,
		interval:   interval,
		batchSize:  batchSize,
		logger:     l,
	}
}

// Start blocks until ctx is done. A non-positive interval disables the worker.
func (w *ReconcileWorker) Start(ctx context.Context) {
	if w.interval <= 0 {
		w.logger.Info("reconcile worker disabled")
		return
	}

	w.logger.Info("starting reconcile worker", zap.Duration("interval", w.interval), zap.Int("batch", w.batchSize))
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("reconcile worker stopped")
			return
		case <-ticker.C:
			if _, err := w.ProcessBatch(ctx); err != nil {
				w.logger.Error("batch processing failed", zap.Error(err))
			}
		}
	}
}

// ProcessBatch applies one batch and returns how many orders were applied.
// Failures on single orders are logged and left for the next tick.
func (w *ReconcileWorker) ProcessBatch(ctx context.Context) (int, error) {
	orders, err := w.balanceSvc.Unapplied(ctx, w.batchSize)
	if err != nil {
		return 0, fmt.Errorf("get unapplied orders: %w", err)
	}

	applied := 0
	for _, o := range orders {
		if err := w.apply(ctx, o); err != nil {
			w.logger.Error("failed to reconcile order",
				zap.String("order_id", o.ID),
				zap.String("customer_id", o.CustomerID),
				zap.Error(err),
			)
			continue
		}
		applied++
	}

	if applied > 0 {
		w.logger.Info("orders reconciled", zap.Int("applied", applied), zap.Int("batch", len(orders)))
	}
	return applied, nil
}

func (w *ReconcileWorker) apply(ctx context.Context, o model.Order) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	_, err := w.balanceSvc.ApplyOrderToBalance(ctx, o.CustomerID, o.ID, o.TotalAmount)
	return err
}
