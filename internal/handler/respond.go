package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"orderledger/internal/logger"
	"orderledger/internal/model"
	"orderledger/internal/store"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// decodeBody reads a JSON body into dst and validates it. It writes the error
// response itself and reports whether the handler may continue.
func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<16))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return false
	}
	if err := validate.Struct(dst); err != nil {
		http.Error(w, err.Error(), http.StatusUnprocessableEntity)
		return false
	}
	return true
}

func isValidationErr(err error) bool {
	for _, target := range []error{
		model.ErrMissingCustomer,
		model.ErrInvalidQuantity,
		model.ErrInvalidPrice,
		model.ErrInvalidAdvance,
		model.ErrInvalidStatus,
		model.ErrInvalidPaymentStatus,
		model.ErrInvalidMonth,
		model.ErrInvalidYear,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// writeError maps ledger errors onto status codes. Anything unrecognised is
// logged and reported as 500.
func writeError(w http.ResponseWriter, r *http.Request, l *zap.Logger, msg string, err error) {
	switch {
	case isValidationErr(err):
		http.Error(w, err.Error(), http.StatusUnprocessableEntity)
	case errors.Is(err, model.ErrInvalidTransition):
		http.Error(w, err.Error(), http.StatusConflict)
	case errors.Is(err, store.ErrNotFound):
		http.Error(w, "order not found", http.StatusNotFound)
	case errors.Is(err, store.ErrCustomerNotFound):
		http.Error(w, "customer not found", http.StatusNotFound)
	default:
		logger.Error(r.Context(), l, msg, zap.Error(err))
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}
