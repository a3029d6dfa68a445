package model

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

const DefaultPaymentMethod = "Online"

// MoneyScale is the number of decimal places stored for every amount.
const MoneyScale = 2

// DefaultUnitPrice is the catalog price of one unit when the caller does not supply one.
var DefaultUnitPrice = decimal.NewFromInt(35)

type Order struct {
	ID            string          `json:"id"`
	CustomerID    string          `json:"customer_id"`
	OrderedAt     time.Time       `json:"ordered_at"`
	Quantity      int             `json:"quantity"`
	UnitPrice     decimal.Decimal `json:"unit_price"`
	TotalAmount   decimal.Decimal `json:"total_amount"`
	Status        OrderStatus     `json:"status"`
	PaymentStatus PaymentStatus   `json:"payment_status"`
	Received      bool            `json:"received"`
	AdvancePaid   decimal.Decimal `json:"advance_paid"`
	BalanceAmount decimal.Decimal `json:"balance_amount"`
	Notes         string          `json:"notes,omitempty"`
	PaymentMethod string          `json:"payment_method,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

// MirrorOrder is the copy of an order kept under the owning customer's namespace.
// MainOrderID points back at the canonical record.
type MirrorOrder struct {
	Order
	ID          string `json:"id"`
	MainOrderID string `json:"main_order_id"`
}

// OrderInput is the partial field set accepted when creating an order.
// Zero values are replaced by defaults.
type OrderInput struct {
	Quantity      int
	UnitPrice     decimal.Decimal
	PaymentMethod string
	AdvancePaid   decimal.Decimal
	Notes         string
}

// HistoryItem is the display shape of an order in the monthly history view.
// Price carries the line total, not the unit price.
type HistoryItem struct {
	ID            string          `json:"id"`
	DateOrdered   string          `json:"date_ordered"`
	Received      bool            `json:"received"`
	Quantity      int             `json:"quantity"`
	Price         decimal.Decimal `json:"price"`
	Status        OrderStatus     `json:"status"`
	PaymentStatus PaymentStatus   `json:"payment_status"`
}

const historyDateLayout = "1/2/2006"

func NewOrder(customerID string, in OrderInput) (Order, error) {
	if strings.TrimSpace(customerID) == "" {
		return Order{}, ErrMissingCustomer
	}

	qty := in.Quantity
	if qty == 0 {
		qty = 1
	}
	if qty < 0 {
		return Order{}, ErrInvalidQuantity
	}

	price := in.UnitPrice
	if price.IsZero() {
		price = DefaultUnitPrice
	}
	if price.IsNegative() || !isMoney(price) {
		return Order{}, ErrInvalidPrice
	}

	if in.AdvancePaid.IsNegative() || !isMoney(in.AdvancePaid) {
		return Order{}, ErrInvalidAdvance
	}

	method := strings.TrimSpace(in.PaymentMethod)
	if method == "" {
		method = DefaultPaymentMethod
	}

	total := price.Mul(decimal.NewFromInt(int64(qty)))

	return Order{
		CustomerID:    customerID,
		Quantity:      qty,
		UnitPrice:     price,
		TotalAmount:   total,
		Status:        StatusPending,
		PaymentStatus: PaymentPending,
		AdvancePaid:   in.AdvancePaid,
		BalanceAmount: BalanceDue(total, in.AdvancePaid),
		Notes:         in.Notes,
		PaymentMethod: method,
	}, nil
}

// isMoney reports whether d fits MoneyScale without rounding. Trailing zeros
// such as 1.500 are accepted.
func isMoney(d decimal.Decimal) bool {
	return d.Equal(d.Truncate(MoneyScale))
}

// BalanceDue returns max(0, total - advance).
func BalanceDue(total, advance decimal.Decimal) decimal.Decimal {
	due := total.Sub(advance)
	if due.IsNegative() {
		return decimal.Zero
	}
	return due
}

// ApplyAdvance records a new advance amount and recomputes the balance against the
// stored total.
func (o *Order) ApplyAdvance(advance decimal.Decimal) error {
	if advance.IsNegative() || !isMoney(advance) {
		return ErrInvalidAdvance
	}
	o.AdvancePaid = advance
	o.BalanceAmount = BalanceDue(o.TotalAmount, advance)
	return nil
}

// MarkReceived flips the received flag and moves the order to delivered together.
func (o *Order) MarkReceived() error {
	if err := o.Status.Transition(StatusDelivered); err != nil {
		return err
	}
	o.Received = true
	o.Status = StatusDelivered
	return nil
}

func (o Order) HistoryItem(loc *time.Location) HistoryItem {
	if loc == nil {
		loc = time.UTC
	}
	return HistoryItem{
		ID:            o.ID,
		DateOrdered:   o.OrderedAt.In(loc).Format(historyDateLayout),
		Received:      o.Received,
		Quantity:      o.Quantity,
		Price:         o.TotalAmount,
		Status:        o.Status,
		PaymentStatus: o.PaymentStatus,
	}
}
