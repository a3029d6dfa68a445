package model

type OrderStatus string

const (
	StatusPending      OrderStatus = "pending"
	StatusConfirmed    OrderStatus = "confirmed"
	StatusInProduction OrderStatus = "in_production"
	StatusReady        OrderStatus = "ready"
	StatusDelivered    OrderStatus = "delivered"
	StatusCancelled    OrderStatus = "cancelled"
)

// orderTransitions lists the legal forward edges. Terminal states have no entry.
var orderTransitions = map[OrderStatus][]OrderStatus{
	StatusPending:      {StatusConfirmed, StatusCancelled, StatusDelivered},
	StatusConfirmed:    {StatusInProduction, StatusCancelled, StatusDelivered},
	StatusInProduction: {StatusReady, StatusCancelled, StatusDelivered},
	StatusReady:        {StatusDelivered, StatusCancelled},
}

func (s OrderStatus) Valid() bool {
	switch s {
	case StatusPending, StatusConfirmed, StatusInProduction, StatusReady, StatusDelivered, StatusCancelled:
		return true
	}
	return false
}

func (s OrderStatus) Terminal() bool {
	return s == StatusDelivered || s == StatusCancelled
}

func (s OrderStatus) CanTransition(to OrderStatus) bool {
	if !to.Valid() {
		return false
	}
	if s == to {
		return true
	}
	for _, next := range orderTransitions[s] {
		if next == to {
			return true
		}
	}
	return false
}

// Transition reports why s cannot move to "to", or nil when it can.
func (s OrderStatus) Transition(to OrderStatus) error {
	if !to.Valid() {
		return ErrInvalidStatus
	}
	if !s.CanTransition(to) {
		return &TransitionError{From: s, To: to}
	}
	return nil
}

type PaymentStatus string

const (
	PaymentPending   PaymentStatus = "pending"
	PaymentPartial   PaymentStatus = "partial"
	PaymentCompleted PaymentStatus = "completed"
	PaymentFailed    PaymentStatus = "failed"
)

func (p PaymentStatus) Valid() bool {
	switch p {
	case PaymentPending, PaymentPartial, PaymentCompleted, PaymentFailed:
		return true
	}
	return false
}

// CanTransition only forbids reopening a completed payment.
func (p PaymentStatus) CanTransition(to PaymentStatus) bool {
	if !to.Valid() {
		return false
	}
	return !(p == PaymentCompleted && to == PaymentPending)
}
