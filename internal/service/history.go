package service

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"orderledger/internal/logger"
	"orderledger/internal/model"
	"orderledger/internal/store"
)

// HistoryReader answers the monthly history view.
type HistoryReader interface {
	// AvailableMonths lists distinct month names newest first. The same month
	// in different years appears once.
	AvailableMonths(ctx context.Context, customerID string) ([]string, error)
	// AvailablePeriods lists distinct (year, month) pairs newest first.
	AvailablePeriods(ctx context.Context, customerID string) ([]model.Period, error)
	OrdersForMonth(ctx context.Context, customerID, monthName string, year int) ([]model.HistoryItem, error)
}

type HistoryService struct {
	store  store.Store
	loc    *time.Location
	logger *zap.Logger
	tracer trace.Tracer
}

// NewHistoryService buckets orders into months in loc. A nil loc means UTC.
func NewHistoryService(st store.Store, loc *time.Location, l *zap.Logger) *HistoryService {
	if loc == nil {
		loc = time.UTC
	}
	return &HistoryService{
		store:  st,
		loc:    loc,
		logger: l,
		tracer: otel.Tracer("service/history"),
	}
}

var _ HistoryReader = (*HistoryService)(nil)

func (s *HistoryService) AvailableMonths(ctx context.Context, customerID string) ([]string, error) {
	periods, err := s.AvailablePeriods(ctx, customerID)
	if err != nil {
		return nil, err
	}

	months := make([]string, 0, len(periods))
	seen := make(map[time.Month]struct{}, 12)
	for _, p := range periods {
		if _, ok := seen[p.Month]; ok {
			continue
		}
		seen[p.Month] = struct{}{}
		months = append(months, p.MonthName())
	}
	return months, nil
}

func (s *HistoryService) AvailablePeriods(ctx context.Context, customerID string) ([]model.Period, error) {
	ctx, span := s.tracer.Start(ctx, "HistoryService.AvailablePeriods")
	defer span.End()
	span.SetAttributes(attribute.String("customer_id", customerID))

	if customerID == "" {
		return nil, model.ErrMissingCustomer
	}

	orders, err := s.store.ListOrders(ctx, store.Filter{CustomerID: customerID})
	if err != nil {
		logger.Error(ctx, s.logger, "failed to load orders for months", zap.String("customer_id", customerID), zap.Error(err))
		return nil, err
	}

	periods := make([]model.Period, 0)
	seen := make(map[model.Period]struct{})
	for _, o := range orders {
		p := model.PeriodOf(o.OrderedAt, s.loc)
		if _, ok := seen[p]; ok {
			continue
		}
		seen[p] = struct{}{}
		periods = append(periods, p)
	}
	return periods, nil
}

func (s *HistoryService) OrdersForMonth(ctx context.Context, customerID, monthName string, year int) ([]model.HistoryItem, error) {
	ctx, span := s.tracer.Start(ctx, "HistoryService.OrdersForMonth")
	defer span.End()
	span.SetAttributes(
		attribute.String("customer_id", customerID),
		attribute.String("month", monthName),
		attribute.Int("year", year),
	)

	if customerID == "" {
		return nil, model.ErrMissingCustomer
	}
	p, err := model.NewPeriod(monthName, year)
	if err != nil {
		return nil, err
	}

	orders, err := s.store.ListOrders(ctx, store.Filter{
		CustomerID: customerID,
		From:       p.Start(s.loc),
		To:         p.End(s.loc),
	})
	if err != nil {
		logger.Error(ctx, s.logger, "failed to load month history",
			zap.String("customer_id", customerID),
			zap.String("month", p.MonthName()),
			zap.Int("year", year),
			zap.Error(err),
		)
		return nil, err
	}

	items := make([]model.HistoryItem, 0, len(orders))
	for _, o := range orders {
		items = append(items, o.HistoryItem(s.loc))
	}
	return items, nil
}

// MonthTotal sums the displayed prices.
func MonthTotal(items []model.HistoryItem) decimal.Decimal {
	total := decimal.Zero
	for _, it := range items {
		total = total.Add(it.Price)
	}
	return total
}
