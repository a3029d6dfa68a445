// Package store defines persistence for orders, their per-customer mirror
// records and customer balances.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"orderledger/internal/model"
)

var (
	ErrNotFound         = errors.New("order not found")
	ErrCustomerNotFound = errors.New("customer not found")
)

// WriteError wraps a failed create, update or delete.
type WriteError struct {
	Op  string
	Err error
}

func (e *WriteError) Error() string {
	return fmt.Sprintf("store write %s: %v", e.Op, e.Err)
}

func (e *WriteError) Unwrap() error { return e.Err }

// QueryError wraps a failed read.
type QueryError struct {
	Op  string
	Err error
}

func (e *QueryError) Error() string {
	return fmt.Sprintf("store query %s: %v", e.Op, e.Err)
}

func (e *QueryError) Unwrap() error { return e.Err }

// Filter selects orders for ListOrders. An empty CustomerID matches every
// customer. From is inclusive and To exclusive; zero values leave that side open.
type Filter struct {
	CustomerID string
	Status     model.OrderStatus
	From       time.Time
	To         time.Time
}

// Match reports whether o satisfies f.
func (f Filter) Match(o model.Order) bool {
	if f.CustomerID != "" && o.CustomerID != f.CustomerID {
		return false
	}
	if f.Status != "" && o.Status != f.Status {
		return false
	}
	if !f.From.IsZero() && o.OrderedAt.Before(f.From) {
		return false
	}
	if !f.To.IsZero() && !o.OrderedAt.Before(f.To) {
		return false
	}
	return true
}

// Mutator changes a loaded order in place. Returning an error aborts the update.
type Mutator func(o *model.Order) error

type Store interface {
	// CreateOrder writes the canonical record and its mirror and returns the new id.
	// OrderedAt, CreatedAt and UpdatedAt are stamped by the store.
	CreateOrder(ctx context.Context, o *model.Order) (string, error)
	// ImportOrder is CreateOrder that keeps the caller's OrderedAt.
	ImportOrder(ctx context.Context, o *model.Order) (string, error)
	GetOrder(ctx context.Context, id string) (model.Order, error)
	// ListOrders returns matches newest first; ties are broken by id.
	ListOrders(ctx context.Context, f Filter) ([]model.Order, error)
	ListMirror(ctx context.Context, customerID string) ([]model.MirrorOrder, error)
	UpdateOrder(ctx context.Context, id string, mutate Mutator) (model.Order, error)
	DeleteOrder(ctx context.Context, id, customerID string) error

	GetCustomer(ctx context.Context, id string) (model.Customer, error)
	UpsertCustomer(ctx context.Context, c model.Customer) error
	// AddAdvancePaid increments the customer's advance paid in place, leaving
	// the balance untouched, and returns the updated customer.
	AddAdvancePaid(ctx context.Context, customerID string, amount decimal.Decimal) (model.Customer, error)
	// ApplyBalance adds amount to the customer's balance once per orderID and
	// returns the resulting balance. A repeated orderID leaves the balance as is
	// and reports applied=false.
	ApplyBalance(ctx context.Context, customerID, orderID string, amount decimal.Decimal) (balance decimal.Decimal, applied bool, err error)
	// UnappliedOrders returns orders without a balance application, oldest first.
	UnappliedOrders(ctx context.Context, limit int) ([]model.Order, error)
}
