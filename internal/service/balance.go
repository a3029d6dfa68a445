package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"orderledger/internal/events"
	"orderledger/internal/logger"
	"orderledger/internal/metrics"
	"orderledger/internal/model"
	"orderledger/internal/store"
)

// BalanceService keeps customer balances in step with their orders. Each order
// is added at most once; the order id is the idempotency key.
type BalanceService struct {
	store     store.Store
	publisher events.Publisher
	metrics   *metrics.Metrics
	logger    *zap.Logger
	tracer    trace.Tracer
}

func NewBalanceService(st store.Store, pub events.Publisher, m *metrics.Metrics, l *zap.Logger) *BalanceService {
	if pub == nil {
		pub = events.Nop{}
	}
	return &BalanceService{
		store:     st,
		publisher: pub,
		metrics:   m,
		logger:    l,
		tracer:    otel.Tracer("service/balance"),
	}
}

// ApplyOrderToBalance adds orderTotal to the customer's balance and returns the
// new balance. Retrying with the same orderID returns the current balance
// without adding again.
func (s *BalanceService) ApplyOrderToBalance(ctx context.Context, customerID, orderID string, orderTotal decimal.Decimal) (decimal.Decimal, error) {
	ctx, span := s.tracer.Start(ctx, "BalanceService.ApplyOrderToBalance")
	defer span.End()
	span.SetAttributes(
		attribute.String("customer_id", customerID),
		attribute.String("order_id", orderID),
	)

	balance, applied, err := s.store.ApplyBalance(ctx, customerID, orderID, orderTotal)
	if err != nil {
		span.RecordError(err)
		return decimal.Zero, fmt.Errorf("apply order %s to balance: %w", orderID, err)
	}
	if !applied {
		logger.Debug(ctx, s.logger, "order already applied to balance", zap.String("order_id", orderID))
		return balance, nil
	}

	s.metrics.BalanceAppliedInc()
	logger.Info(ctx, s.logger, "balance updated",
		zap.String("customer_id", customerID),
		zap.String("order_id", orderID),
		zap.String("amount", orderTotal.String()),
		zap.String("balance", balance.String()),
	)
	publish(ctx, s.publisher, s.logger, events.Event{
		Type:       events.BalanceApplied,
		OrderID:    orderID,
		CustomerID: customerID,
		Amount:     orderTotal,
	})
	return balance, nil
}

// Summary returns the customer's payment figures.
func (s *BalanceService) Summary(ctx context.Context, customerID string) (model.Customer, error) {
	c, err := s.store.GetCustomer(ctx, customerID)
	if err != nil {
		if !errors.Is(err, store.ErrCustomerNotFound) {
			logger.Error(ctx, s.logger, "failed to load customer", zap.String("customer_id", customerID), zap.Error(err))
		}
		return model.Customer{}, err
	}
	return c, nil
}

// Unapplied lists orders whose totals have not reached a balance yet.
func (s *BalanceService) Unapplied(ctx context.Context, limit int) ([]model.Order, error) {
	orders, err := s.store.UnappliedOrders(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("get unapplied orders: %w", err)
	}
	return orders, nil
}

func publish(ctx context.Context, pub events.Publisher, l *zap.Logger, e events.Event) {
	if err := pub.Publish(ctx, e); err != nil {
		logger.Warn(ctx, l, "event dropped", zap.String("type", string(e.Type)), zap.Error(err))
	}
}
