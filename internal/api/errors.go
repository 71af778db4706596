package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/DeKaN/ha-boneco/internal/boneco"
	"github.com/DeKaN/ha-boneco/internal/bridges/ble"
	"github.com/DeKaN/ha-boneco/internal/coordinator"
	"github.com/DeKaN/ha-boneco/internal/device"
	"github.com/DeKaN/ha-boneco/internal/entity"
	"github.com/DeKaN/ha-boneco/internal/pairing"
)

// Error represents a structured error response.
type Error struct {
	Status  int    `json:"status"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Common error codes.
const (
	ErrCodeBadRequest   = "bad_request"
	ErrCodeNotFound     = "not_found"
	ErrCodeUnauthorized = "unauthorised"
	ErrCodeForbidden    = "forbidden"
	ErrCodeConflict     = "conflict"
	ErrCodeInternal     = "internal_error"
	ErrCodeValidation   = "validation_error"
	ErrCodeUnavailable  = "device_unavailable"
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

// writeNotFound writes a 404 error response.
func writeNotFound(w http.ResponseWriter, message string) {
	writeError(w, http.StatusNotFound, ErrCodeNotFound, message)
}

// writeUnauthorized writes a 401 error response.
func writeUnauthorized(w http.ResponseWriter, message string) {
	writeError(w, http.StatusUnauthorized, ErrCodeUnauthorized, message)
}

// writeForbidden writes a 403 error response.
func writeForbidden(w http.ResponseWriter, message string) {
	writeError(w, http.StatusForbidden, ErrCodeForbidden, message)
}

// writeInternalError writes a 500 error response.
func writeInternalError(w http.ResponseWriter, message string) {
	writeError(w, http.StatusInternalServerError, ErrCodeInternal, message)
}

// classifyError maps a domain error to an HTTP status and error code.
func classifyError(err error) (int, string) {
	switch {
	case errors.Is(err, ble.ErrDeviceNotFound),
		errors.Is(err, device.ErrEntryNotFound),
		errors.Is(err, entity.ErrUnknownEntity),
		errors.Is(err, pairing.ErrFlowNotFound),
		errors.Is(err, pairing.ErrNotDiscovered):
		return http.StatusNotFound, ErrCodeNotFound
	case errors.Is(err, boneco.ErrInvalidAddress),
		errors.Is(err, ble.ErrInvalidCommand),
		errors.Is(err, entity.ErrNotWritable),
		errors.Is(err, entity.ErrNotPressable),
		errors.Is(err, entity.ErrInvalidValue),
		errors.Is(err, entity.ErrOutOfRange),
		errors.Is(err, entity.ErrInvalidOption):
		return http.StatusBadRequest, ErrCodeValidation
	case errors.Is(err, ble.ErrDeviceExists),
		errors.Is(err, pairing.ErrAlreadyConfigured),
		errors.Is(err, pairing.ErrFlowInProgress),
		errors.Is(err, pairing.ErrNotRetryable),
		errors.Is(err, pairing.ErrFlowFinished):
		return http.StatusConflict, ErrCodeConflict
	case errors.Is(err, coordinator.ErrNoData),
		errors.Is(err, coordinator.ErrFetchFailed),
		errors.Is(err, coordinator.ErrClosed),
		errors.Is(err, ble.ErrStopped):
		return http.StatusServiceUnavailable, ErrCodeUnavailable
	default:
		return http.StatusInternalServerError, ErrCodeInternal
	}
}

// writeServiceError writes err with the status classifyError picks.
// Unclassified errors are logged and hidden behind a generic message.
func (s *Server) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	status, code := classifyError(err)
	if status == http.StatusInternalServerError {
		s.logger.Error("request failed",
			"method", r.Method,
			"path", r.URL.Path,
			"error", err,
			"request_id", r.Context().Value(ctxKeyRequestID),
		)
		writeInternalError(w, "internal server error")
		return
	}
	writeError(w, status, code, err.Error())
}
