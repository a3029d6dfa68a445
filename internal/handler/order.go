package handler

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"orderledger/internal/model"
	"orderledger/internal/mw"
	"orderledger/internal/service"
	"orderledger/internal/store"
)

type placeOrderRequest struct {
	Quantity      int              `json:"quantity" validate:"gte=0,lte=10000"`
	UnitPrice     *decimal.Decimal `json:"unit_price"`
	PaymentMethod string           `json:"payment_method" validate:"max=64"`
	AdvancePaid   *decimal.Decimal `json:"advance_paid"`
	Notes         string           `json:"notes" validate:"max=1000"`
}

func (req placeOrderRequest) input() model.OrderInput {
	in := model.OrderInput{
		Quantity:      req.Quantity,
		PaymentMethod: req.PaymentMethod,
		Notes:         req.Notes,
	}
	if req.UnitPrice != nil {
		in.UnitPrice = *req.UnitPrice
	}
	if req.AdvancePaid != nil {
		in.AdvancePaid = *req.AdvancePaid
	}
	return in
}

type placeOrderResponse struct {
	ID                string           `json:"id"`
	TotalAmount       decimal.Decimal  `json:"total_amount"`
	BalanceAmount     decimal.Decimal  `json:"balance_amount"`
	NewBalance        *decimal.Decimal `json:"new_balance,omitempty"`
	ReconcileRequired bool             `json:"reconcile_required"`
}

type updateStatusRequest struct {
	Status string `json:"status" validate:"required"`
}

type updatePaymentRequest struct {
	PaymentStatus string           `json:"payment_status" validate:"required"`
	AdvancePaid   *decimal.Decimal `json:"advance_paid"`
}

func PlaceOrderHandler(orderSvc *service.OrderService, l *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		customerID, ok := mw.CustomerID(r.Context())
		if !ok {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}

		var req placeOrderRequest
		if !decodeBody(w, r, &req) {
			return
		}

		res, err := orderSvc.PlaceOrder(r.Context(), customerID, req.input())
		if err != nil {
			writeError(w, r, l, "place order failed", err)
			return
		}

		resp := placeOrderResponse{
			ID:                res.Order.ID,
			TotalAmount:       res.Order.TotalAmount,
			BalanceAmount:     res.Order.BalanceAmount,
			ReconcileRequired: res.ReconcileRequired,
		}
		if !res.ReconcileRequired {
			resp.NewBalance = &res.NewBalance
		}
		writeJSON(w, http.StatusCreated, resp)
	}
}

func ListOrdersHandler(orderSvc *service.OrderService, l *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		customerID, ok := mw.CustomerID(r.Context())
		if !ok {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}

		status := model.OrderStatus(r.URL.Query().Get("status"))
		orders, err := orderSvc.ListOrders(r.Context(), customerID, status)
		if err != nil {
			writeError(w, r, l, "list orders failed", err)
			return
		}
		writeJSON(w, http.StatusOK, orders)
	}
}

func ListMirrorHandler(orderSvc *service.OrderService, l *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		customerID, ok := mw.CustomerID(r.Context())
		if !ok {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}

		orders, err := orderSvc.ListMirror(r.Context(), customerID)
		if err != nil {
			writeError(w, r, l, "list customer records failed", err)
			return
		}
		writeJSON(w, http.StatusOK, orders)
	}
}

func GetOrderHandler(orderSvc *service.OrderService, l *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		o, ok := ownedOrder(w, r, orderSvc, l)
		if !ok {
			return
		}
		writeJSON(w, http.StatusOK, o)
	}
}

func UpdateStatusHandler(orderSvc *service.OrderService, l *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req updateStatusRequest
		if !decodeBody(w, r, &req) {
			return
		}
		o, ok := ownedOrder(w, r, orderSvc, l)
		if !ok {
			return
		}

		updated, err := orderSvc.UpdateOrderStatus(r.Context(), o.ID, model.OrderStatus(req.Status))
		if err != nil {
			writeError(w, r, l, "update status failed", err)
			return
		}
		writeJSON(w, http.StatusOK, updated)
	}
}

func UpdatePaymentHandler(orderSvc *service.OrderService, l *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req updatePaymentRequest
		if !decodeBody(w, r, &req) {
			return
		}
		o, ok := ownedOrder(w, r, orderSvc, l)
		if !ok {
			return
		}

		updated, err := orderSvc.UpdatePaymentStatus(r.Context(), o.ID, model.PaymentStatus(req.PaymentStatus), req.AdvancePaid)
		if err != nil {
			writeError(w, r, l, "update payment failed", err)
			return
		}
		writeJSON(w, http.StatusOK, updated)
	}
}

func MarkReceivedHandler(orderSvc *service.OrderService, l *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		o, ok := ownedOrder(w, r, orderSvc, l)
		if !ok {
			return
		}

		updated, err := orderSvc.MarkOrderReceived(r.Context(), o.ID)
		if err != nil {
			writeError(w, r, l, "mark received failed", err)
			return
		}
		writeJSON(w, http.StatusOK, updated)
	}
}

func DeleteOrderHandler(orderSvc *service.OrderService, l *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		customerID, ok := mw.CustomerID(r.Context())
		if !ok {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}

		if err := orderSvc.DeleteOrder(r.Context(), chi.URLParam(r, "id"), customerID); err != nil {
			writeError(w, r, l, "delete order failed", err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

// ownedOrder loads the {id} order and hides orders of other customers behind 404.
func ownedOrder(w http.ResponseWriter, r *http.Request, orderSvc *service.OrderService, l *zap.Logger) (model.Order, bool) {
	customerID, ok := mw.CustomerID(r.Context())
	if !ok {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return model.Order{}, false
	}

	o, found, err := lookup(r.Context(), orderSvc, chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, l, "get order failed", err)
		return model.Order{}, false
	}
	if !found || o.CustomerID != customerID {
		writeError(w, r, l, "get order failed", store.ErrNotFound)
		return model.Order{}, false
	}
	return o, true
}

func lookup(ctx context.Context, orderSvc *service.OrderService, id string) (model.Order, bool, error) {
	if id == "" {
		return model.Order{}, false, nil
	}
	return orderSvc.GetOrder(ctx, id)
}
