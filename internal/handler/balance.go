package handler

import (
	"net/http"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"orderledger/internal/mw"
	"orderledger/internal/service"
)

type balanceResponse struct {
	Balance        decimal.Decimal `json:"balance"`
	AdvancePaid    decimal.Decimal `json:"advance_paid"`
	OldOutstanding decimal.Decimal `json:"old_outstanding"`
}

func GetBalanceHandler(balanceSvc *service.BalanceService, l *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		customerID, ok := mw.CustomerID(r.Context())
		if !ok {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}

		c, err := balanceSvc.Summary(r.Context(), customerID)
		if err != nil {
			writeError(w, r, l, "get balance failed", err)
			return
		}

		writeJSON(w, http.StatusOK, balanceResponse{
			Balance:        c.Balance,
			AdvancePaid:    c.AdvancePaid,
			OldOutstanding: c.OldOutstanding,
		})
	}
}
