package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"openlend/lending"
)

type errorPayload struct {
	Error string `json:"error"`
}

// statusFor maps engine sentinels onto HTTP statuses. Anything unrecognized
// is treated as an internal failure so partial writes never masquerade as
// client errors.
func statusFor(err error) int {
	switch {
	case errors.Is(err, lending.ErrZeroAmount),
		errors.Is(err, lending.ErrInvalidParameter):
		return http.StatusBadRequest
	case errors.Is(err, lending.ErrMarketNotListed):
		return http.StatusNotFound
	case errors.Is(err, lending.ErrAlreadyListed):
		return http.StatusConflict
	case errors.Is(err, lending.ErrInsufficientCash),
		errors.Is(err, lending.ErrInsufficientLiquidity),
		errors.Is(err, lending.ErrInsufficientBalance),
		errors.Is(err, lending.ErrBorrowerHealthy),
		errors.Is(err, lending.ErrTooMuchRepay),
		errors.Is(err, lending.ErrSeizeTooMuch),
		errors.Is(err, lending.ErrNoDebtToRepay),
		errors.Is(err, lending.ErrInsufficientRewardPool),
		errors.Is(err, lending.ErrTransferFailed):
		return http.StatusUnprocessableEntity
	case errors.Is(err, lending.ErrModulePaused):
		return http.StatusServiceUnavailable
	case errors.Is(err, lending.ErrPriceUnavailable):
		return http.StatusFailedDependency
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, status int, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(errorPayload{Error: err.Error()})
}

func writeEngineError(w http.ResponseWriter, err error) {
	writeError(w, statusFor(err), err)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
