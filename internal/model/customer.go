package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Customer holds the account aggregate figures shown on the payment summary.
// Only Balance is changed by the ledger.
type Customer struct {
	ID             string          `json:"id"`
	Username       string          `json:"username"`
	Balance        decimal.Decimal `json:"balance"`
	AdvancePaid    decimal.Decimal `json:"advance_paid"`
	OldOutstanding decimal.Decimal `json:"old_outstanding"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}
