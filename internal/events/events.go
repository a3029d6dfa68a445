// Package events publishes ledger change notifications. Publishing is
// best effort and never changes the outcome of a ledger operation.
package events

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

type Type string

const (
	OrderCreated       Type = "order.created"
	OrderStatusChanged Type = "order.status_changed"
	OrderPaymentUpdate Type = "order.payment_updated"
	OrderReceived      Type = "order.received"
	OrderDeleted       Type = "order.deleted"
	BalanceApplied     Type = "balance.applied"
	ReconcileRequired  Type = "balance.reconcile_required"
)

type Event struct {
	ID         string          `json:"id"`
	Type       Type            `json:"type"`
	OrderID    string          `json:"order_id"`
	CustomerID string          `json:"customer_id"`
	Amount     decimal.Decimal `json:"amount"`
	Status     string          `json:"status,omitempty"`
	OccurredAt time.Time       `json:"occurred_at"`
}

type Publisher interface {
	Publish(ctx context.Context, e Event) error
	Close() error
}

// Nop drops every event.
type Nop struct{}

func (Nop) Publish(context.Context, Event) error { return nil }

func (Nop) Close() error { return nil }
