package model

import (
	"errors"
	"fmt"
)

var (
	ErrMissingCustomer      = errors.New("customer id is required")
	ErrInvalidQuantity      = errors.New("quantity must be positive")
	ErrInvalidPrice         = errors.New("unit price must be a non-negative amount with at most two decimal places")
	ErrInvalidAdvance       = errors.New("advance paid must be a non-negative amount with at most two decimal places")
	ErrInvalidStatus        = errors.New("unknown order status")
	ErrInvalidPaymentStatus = errors.New("unknown payment status")
	ErrInvalidTransition    = errors.New("illegal status transition")
	ErrInvalidMonth         = errors.New("unknown month name")
	ErrInvalidYear          = errors.New("year out of range")
)

type TransitionError struct {
	From OrderStatus
	To   OrderStatus
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("cannot move order from %s to %s", e.From, e.To)
}

func (e *TransitionError) Unwrap() error { return ErrInvalidTransition }
