package handler

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"orderledger/internal/model"
	"orderledger/internal/mw"
	"orderledger/internal/service"
)

// YearFallback decides which year the history view shows when the caller
// names only a month: the current year first, then up to PreviousYears
// earlier years until one has orders.
type YearFallback struct {
	PreviousYears int
}

// Load returns the first non-empty month starting at year, and the year used.
// With nothing found it returns the empty result for year itself.
func (f YearFallback) Load(ctx context.Context, history service.HistoryReader, customerID, month string, year int) ([]model.HistoryItem, int, error) {
	for i := 0; i <= f.PreviousYears; i++ {
		items, err := history.OrdersForMonth(ctx, customerID, month, year-i)
		if err != nil {
			return nil, 0, err
		}
		if len(items) > 0 {
			return items, year - i, nil
		}
	}
	return []model.HistoryItem{}, year, nil
}

type periodView struct {
	Year  int    `json:"year"`
	Month string `json:"month"`
}

type monthsResponse struct {
	Months  []string     `json:"months"`
	Periods []periodView `json:"periods"`
}

type historyResponse struct {
	Month string              `json:"month"`
	Year  int                 `json:"year"`
	Items []model.HistoryItem `json:"items"`
	Total decimal.Decimal     `json:"total"`
}

func AvailableMonthsHandler(history service.HistoryReader, l *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		customerID, ok := mw.CustomerID(r.Context())
		if !ok {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}

		months, err := history.AvailableMonths(r.Context(), customerID)
		if err != nil {
			writeError(w, r, l, "available months failed", err)
			return
		}
		periods, err := history.AvailablePeriods(r.Context(), customerID)
		if err != nil {
			writeError(w, r, l, "available periods failed", err)
			return
		}

		resp := monthsResponse{Months: months, Periods: make([]periodView, 0, len(periods))}
		for _, p := range periods {
			resp.Periods = append(resp.Periods, periodView{Year: p.Year, Month: p.MonthName()})
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

// MonthHistoryHandler serves ?month=&year=. When year is omitted the fallback
// policy picks it, starting from the current year in loc.
func MonthHistoryHandler(history service.HistoryReader, fallback YearFallback, loc *time.Location, now func() time.Time, l *zap.Logger) http.HandlerFunc {
	if loc == nil {
		loc = time.UTC
	}
	if now == nil {
		now = time.Now
	}
	return func(w http.ResponseWriter, r *http.Request) {
		customerID, ok := mw.CustomerID(r.Context())
		if !ok {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}

		q := r.URL.Query()
		month := q.Get("month")
		if month == "" {
			http.Error(w, "month is required", http.StatusBadRequest)
			return
		}

		var (
			items []model.HistoryItem
			year  int
			err   error
		)
		if raw := q.Get("year"); raw != "" {
			year, err = strconv.Atoi(raw)
			if err != nil {
				http.Error(w, "year must be a number", http.StatusBadRequest)
				return
			}
			items, err = history.OrdersForMonth(r.Context(), customerID, month, year)
		} else {
			items, year, err = fallback.Load(r.Context(), history, customerID, month, now().In(loc).Year())
		}
		if err != nil {
			writeError(w, r, l, "month history failed", err)
			return
		}

		m, _ := model.ParseMonth(month)
		writeJSON(w, http.StatusOK, historyResponse{
			Month: m.String(),
			Year:  year,
			Items: items,
			Total: service.MonthTotal(items),
		})
	}
}
