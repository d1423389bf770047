package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/nerrad567/scanlink/internal/capture"
	"github.com/nerrad567/scanlink/internal/pairing"
)

// Error represents a structured error response.
type Error struct {
	Status  int    `json:"status"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Common error codes.
const (
	ErrCodeBadRequest     = "bad_request"
	ErrCodeNotFound       = "not_found"
	ErrCodeConflict       = "conflict"
	ErrCodeInternal       = "internal_error"
	ErrCodeValidation     = "validation_error"
	ErrCodeUnavailable    = "unavailable"
	ErrCodeNotSupported   = "not_supported"
	ErrCodePairingFailed  = "pairing_failed"
	ErrCodeMethodNotAllow = "method_not_allowed"
)

// writeJSON writes a JSON response with the given status code and payload.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		//nolint:errcheck // Best-effort write to response; connection may be closed
		json.NewEncoder(w).Encode(v)
	}
}

// writeError writes a structured error response.
func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, Error{
		Status:  status,
		Code:    code,
		Message: message,
	})
}

// writeBadRequest writes a 400 error response.
func writeBadRequest(w http.ResponseWriter, message string) {
	writeError(w, http.StatusBadRequest, ErrCodeBadRequest, message)
}

// writeInternalError writes a 500 error response.
func writeInternalError(w http.ResponseWriter, message string) {
	writeError(w, http.StatusInternalServerError, ErrCodeInternal, message)
}

// writeOperationError maps a component error onto a response. Unknown
// errors are logged by the caller and reported as 500.
func writeOperationError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, pairing.ErrUnknownPeripheral):
		writeError(w, http.StatusNotFound, ErrCodeNotFound, err.Error())
	case errors.Is(err, pairing.ErrPairingInProgress), errors.Is(err, pairing.ErrPairingStopped):
		writeError(w, http.StatusConflict, ErrCodeConflict, err.Error())
	case errors.Is(err, pairing.ErrUnbondFailed), errors.Is(err, pairing.ErrPairingFailed):
		writeError(w, http.StatusBadGateway, ErrCodePairingFailed, err.Error())
	case errors.Is(err, capture.ErrInvalidName):
		writeError(w, http.StatusBadRequest, ErrCodeValidation, err.Error())
	case errors.Is(err, capture.ErrUnsupported):
		writeError(w, http.StatusNotImplemented, ErrCodeNotSupported, err.Error())
	case errors.Is(err, capture.ErrNotConnected):
		writeError(w, http.StatusServiceUnavailable, ErrCodeUnavailable, err.Error())
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		writeError(w, http.StatusServiceUnavailable, ErrCodeUnavailable, "operation timed out")
	default:
		writeInternalError(w, "internal server error")
	}
}
