package handler

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"orderledger/internal/metrics"
	"orderledger/internal/mw"
	"orderledger/internal/service"
)

type Deps struct {
	Orders         *service.OrderService
	Balance        *service.BalanceService
	History        service.HistoryReader
	Fallback       YearFallback
	Location       *time.Location
	Now            func() time.Time
	JWTSecret      string
	Metrics        *metrics.Metrics
	MetricsHandler http.Handler
	Logger         *zap.Logger
}

func NewRouter(d Deps) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(mw.RequestLogger(d.Logger, d.Metrics))
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Authorization"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	if d.MetricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", d.MetricsHandler)
	}

	r.Group(func(r chi.Router) {
		r.Use(mw.AuthMiddleware(d.JWTSecret))

		r.Post("/api/orders", PlaceOrderHandler(d.Orders, d.Logger))
		r.Get("/api/orders", ListOrdersHandler(d.Orders, d.Logger))
		r.Get("/api/orders/mirror", ListMirrorHandler(d.Orders, d.Logger))
		r.Get("/api/orders/{id}", GetOrderHandler(d.Orders, d.Logger))
		r.Put("/api/orders/{id}/status", UpdateStatusHandler(d.Orders, d.Logger))
		r.Put("/api/orders/{id}/payment", UpdatePaymentHandler(d.Orders, d.Logger))
		r.Post("/api/orders/{id}/received", MarkReceivedHandler(d.Orders, d.Logger))
		r.Delete("/api/orders/{id}", DeleteOrderHandler(d.Orders, d.Logger))

		r.Get("/api/history/months", AvailableMonthsHandler(d.History, d.Logger))
		r.Get("/api/history", MonthHistoryHandler(d.History, d.Fallback, d.Location, d.Now, d.Logger))

		r.Get("/api/balance", GetBalanceHandler(d.Balance, d.Logger))
	})

	return r
}
