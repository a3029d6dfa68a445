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

// ChangeListener is called after an order is created or deleted for a customer.
type ChangeListener func(ctx context.Context, customerID string)

type OrderService struct {
	store     store.Store
	balance   *BalanceService
	publisher events.Publisher
	metrics   *metrics.Metrics
	listeners []ChangeListener
	logger    *zap.Logger
	tracer    trace.Tracer
}

type OrderOption func(*OrderService)

func WithPublisher(p events.Publisher) OrderOption {
	return func(s *OrderService) { s.publisher = p }
}

func WithMetrics(m *metrics.Metrics) OrderOption {
	return func(s *OrderService) { s.metrics = m }
}

func WithChangeListener(fn ChangeListener) OrderOption {
	return func(s *OrderService) { s.listeners = append(s.listeners, fn) }
}

func NewOrderService(st store.Store, balance *BalanceService, l *zap.Logger, opts ...OrderOption) *OrderService {
	s := &OrderService{
		store:     st,
		balance:   balance,
		publisher: events.Nop{},
		logger:    l,
		tracer:    otel.Tracer("service/order"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// PlaceResult is the outcome of PlaceOrder. ReconcileRequired is set when the
// order was stored but its total did not reach the balance.
type PlaceResult struct {
	Order             model.Order
	NewBalance        decimal.Decimal
	ReconcileRequired bool
	BalanceErr        error
}

// PlaceOrder creates the order and then adds its total to the customer's
// balance. A balance failure does not undo the order.
func (s *OrderService) PlaceOrder(ctx context.Context, customerID string, in model.OrderInput) (PlaceResult, error) {
	ctx, span := s.tracer.Start(ctx, "OrderService.PlaceOrder")
	defer span.End()

	o, err := s.CreateOrder(ctx, customerID, in)
	if err != nil {
		return PlaceResult{}, err
	}

	res := PlaceResult{Order: o}
	res.NewBalance, err = s.balance.ApplyOrderToBalance(ctx, customerID, o.ID, o.TotalAmount)
	if err != nil {
		span.RecordError(err)
		res.ReconcileRequired = true
		res.BalanceErr = err
		s.metrics.ReconcileNeeded()
		logger.Error(ctx, s.logger, "order stored but balance not updated",
			zap.String("order_id", o.ID),
			zap.String("customer_id", customerID),
			zap.String("amount", o.TotalAmount.String()),
			zap.Error(err),
		)
		publish(ctx, s.publisher, s.logger, events.Event{
			Type:       events.ReconcileRequired,
			OrderID:    o.ID,
			CustomerID: customerID,
			Amount:     o.TotalAmount,
		})
	}
	return res, nil
}

func (s *OrderService) CreateOrder(ctx context.Context, customerID string, in model.OrderInput) (model.Order, error) {
	ctx, span := s.tracer.Start(ctx, "OrderService.CreateOrder")
	defer span.End()
	span.SetAttributes(attribute.String("customer_id", customerID))

	o, err := model.NewOrder(customerID, in)
	if err != nil {
		return model.Order{}, err
	}

	if _, err := s.store.CreateOrder(ctx, &o); err != nil {
		span.RecordError(err)
		if !errors.Is(err, store.ErrCustomerNotFound) {
			logger.Error(ctx, s.logger, "failed to create order", zap.String("customer_id", customerID), zap.Error(err))
		}
		return model.Order{}, err
	}

	s.metrics.OrderCreated()
	logger.Info(ctx, s.logger, "order created",
		zap.String("order_id", o.ID),
		zap.String("customer_id", customerID),
		zap.Int("quantity", o.Quantity),
		zap.String("total_amount", o.TotalAmount.String()),
	)
	publish(ctx, s.publisher, s.logger, events.Event{
		Type:       events.OrderCreated,
		OrderID:    o.ID,
		CustomerID: customerID,
		Amount:     o.TotalAmount,
		Status:     string(o.Status),
	})
	s.notify(ctx, customerID)
	return o, nil
}

// ListOrders returns the customer's orders newest first, optionally narrowed to
// one status.
func (s *OrderService) ListOrders(ctx context.Context, customerID string, status model.OrderStatus) ([]model.Order, error) {
	if status != "" && !status.Valid() {
		return nil, model.ErrInvalidStatus
	}
	if customerID == "" {
		return nil, model.ErrMissingCustomer
	}

	orders, err := s.store.ListOrders(ctx, store.Filter{CustomerID: customerID, Status: status})
	if err != nil {
		logger.Error(ctx, s.logger, "failed to list orders", zap.String("customer_id", customerID), zap.Error(err))
		return nil, err
	}
	return orders, nil
}

// ListAllOrders lists every customer's orders newest first.
func (s *OrderService) ListAllOrders(ctx context.Context) ([]model.Order, error) {
	orders, err := s.store.ListOrders(ctx, store.Filter{})
	if err != nil {
		logger.Error(ctx, s.logger, "failed to list all orders", zap.Error(err))
		return nil, err
	}
	return orders, nil
}

func (s *OrderService) ListMirror(ctx context.Context, customerID string) ([]model.MirrorOrder, error) {
	orders, err := s.store.ListMirror(ctx, customerID)
	if err != nil {
		logger.Error(ctx, s.logger, "failed to list customer records", zap.String("customer_id", customerID), zap.Error(err))
		return nil, err
	}
	return orders, nil
}

// GetOrder reports found=false with a nil error when the order does not exist.
func (s *OrderService) GetOrder(ctx context.Context, id string) (model.Order, bool, error) {
	o, err := s.store.GetOrder(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return model.Order{}, false, nil
	}
	if err != nil {
		logger.Error(ctx, s.logger, "failed to get order", zap.String("order_id", id), zap.Error(err))
		return model.Order{}, false, err
	}
	return o, true, nil
}

func (s *OrderService) UpdateOrderStatus(ctx context.Context, id string, status model.OrderStatus) (model.Order, error) {
	ctx, span := s.tracer.Start(ctx, "OrderService.UpdateOrderStatus")
	defer span.End()
	span.SetAttributes(attribute.String("order_id", id), attribute.String("status", string(status)))

	if !status.Valid() {
		return model.Order{}, model.ErrInvalidStatus
	}

	var from model.OrderStatus
	o, err := s.store.UpdateOrder(ctx, id, func(o *model.Order) error {
		from = o.Status
		if err := o.Status.Transition(status); err != nil {
			return err
		}
		o.Status = status
		return nil
	})
	if err != nil {
		return model.Order{}, s.updateFailed(ctx, "failed to update order status", id, err)
	}

	logger.Info(ctx, s.logger, "order status updated",
		zap.String("order_id", id),
		zap.String("from", string(from)),
		zap.String("to", string(status)),
	)
	publish(ctx, s.publisher, s.logger, events.Event{
		Type:       events.OrderStatusChanged,
		OrderID:    id,
		CustomerID: o.CustomerID,
		Status:     string(status),
	})
	return o, nil
}

// UpdatePaymentStatus sets the payment status and, when advance is given,
// recomputes the balance due against the stored total.
func (s *OrderService) UpdatePaymentStatus(ctx context.Context, id string, status model.PaymentStatus, advance *decimal.Decimal) (model.Order, error) {
	ctx, span := s.tracer.Start(ctx, "OrderService.UpdatePaymentStatus")
	defer span.End()
	span.SetAttributes(attribute.String("order_id", id), attribute.String("payment_status", string(status)))

	if !status.Valid() {
		return model.Order{}, model.ErrInvalidPaymentStatus
	}

	o, err := s.store.UpdateOrder(ctx, id, func(o *model.Order) error {
		if !o.PaymentStatus.CanTransition(status) {
			return fmt.Errorf("%w: payment %s to %s", model.ErrInvalidTransition, o.PaymentStatus, status)
		}
		if advance != nil {
			if err := o.ApplyAdvance(*advance); err != nil {
				return err
			}
		}
		o.PaymentStatus = status
		return nil
	})
	if err != nil {
		return model.Order{}, s.updateFailed(ctx, "failed to update payment status", id, err)
	}

	logger.Info(ctx, s.logger, "payment status updated",
		zap.String("order_id", id),
		zap.String("payment_status", string(status)),
		zap.String("balance_amount", o.BalanceAmount.String()),
	)
	publish(ctx, s.publisher, s.logger, events.Event{
		Type:       events.OrderPaymentUpdate,
		OrderID:    id,
		CustomerID: o.CustomerID,
		Amount:     o.BalanceAmount,
		Status:     string(status),
	})
	return o, nil
}

// MarkOrderReceived sets received and delivered in one write.
func (s *OrderService) MarkOrderReceived(ctx context.Context, id string) (model.Order, error) {
	ctx, span := s.tracer.Start(ctx, "OrderService.MarkOrderReceived")
	defer span.End()
	span.SetAttributes(attribute.String("order_id", id))

	o, err := s.store.UpdateOrder(ctx, id, func(o *model.Order) error {
		return o.MarkReceived()
	})
	if err != nil {
		return model.Order{}, s.updateFailed(ctx, "failed to mark order received", id, err)
	}

	logger.Info(ctx, s.logger, "order received", zap.String("order_id", id))
	publish(ctx, s.publisher, s.logger, events.Event{
		Type:       events.OrderReceived,
		OrderID:    id,
		CustomerID: o.CustomerID,
		Status:     string(o.Status),
	})
	return o, nil
}

func (s *OrderService) DeleteOrder(ctx context.Context, id, customerID string) error {
	ctx, span := s.tracer.Start(ctx, "OrderService.DeleteOrder")
	defer span.End()
	span.SetAttributes(attribute.String("order_id", id), attribute.String("customer_id", customerID))

	if err := s.store.DeleteOrder(ctx, id, customerID); err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			logger.Error(ctx, s.logger, "failed to delete order", zap.String("order_id", id), zap.Error(err))
		}
		return err
	}

	logger.Info(ctx, s.logger, "order deleted", zap.String("order_id", id), zap.String("customer_id", customerID))
	publish(ctx, s.publisher, s.logger, events.Event{
		Type:       events.OrderDeleted,
		OrderID:    id,
		CustomerID: customerID,
	})
	s.notify(ctx, customerID)
	return nil
}

func (s *OrderService) notify(ctx context.Context, customerID string) {
	for _, fn := range s.listeners {
		fn(ctx, customerID)
	}
}

// updateFailed logs store failures. Not-found and rule violations are expected
// outcomes and pass through quietly.
func (s *OrderService) updateFailed(ctx context.Context, msg, id string, err error) error {
	var werr *store.WriteError
	var qerr *store.QueryError
	if errors.As(err, &werr) || errors.As(err, &qerr) {
		logger.Error(ctx, s.logger, msg, zap.String("order_id", id), zap.Error(err))
	} else {
		logger.Debug(ctx, s.logger, msg, zap.String("order_id", id), zap.Error(err))
	}
	return err
}
