package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/mosys-billing/tvfleet/internal/device"
	"github.com/mosys-billing/tvfleet/internal/dispatch"
	"github.com/mosys-billing/tvfleet/internal/scan"
	"github.com/mosys-billing/tvfleet/internal/transport"
)

// Error represents a structured error response.
type Error struct {
	Status  int    `json:"status"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Error codes.
const (
	ErrCodeValidation       = "validation_error"
	ErrCodeConflict         = "conflict"
	ErrCodeNotFound         = "not_found"
	ErrCodeInvalidCommand   = "invalid_command"
	ErrCodeTransportFailure = "transport_failure"
	ErrCodeTooLarge         = "payload_too_large"
	ErrCodeInternal         = "internal_error"
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

func writeBadRequest(w http.ResponseWriter, message string) {
	writeError(w, http.StatusBadRequest, ErrCodeValidation, message)
}

func writeInternalError(w http.ResponseWriter, message string) {
	writeError(w, http.StatusInternalServerError, ErrCodeInternal, message)
}

// classify maps a domain error to its HTTP status and error code.
// Conflicts and invalid commands are client errors and share 400.
func classify(err error) (int, string) {
	var tooLarge *http.MaxBytesError
	switch {
	case errors.As(err, &tooLarge):
		return http.StatusRequestEntityTooLarge, ErrCodeTooLarge


	case errors.Is(err, device.ErrDeviceNotFound),
		errors.Is(err, dispatch.ErrTimerNotFound),
		errors.Is(err, scan.ErrNoResults):
		return http.StatusNotFound, ErrCodeNotFound

	case errors.Is(err, device.ErrDeviceExists),
		errors.Is(err, scan.ErrScanInProgress):
		return http.StatusBadRequest, ErrCodeConflict

	case errors.Is(err, transport.ErrInvalidCommand):
		return http.StatusBadRequest, ErrCodeInvalidCommand

	case errors.Is(err, device.ErrInvalidDevice),
		errors.Is(err, dispatch.ErrNoAddresses),
		errors.Is(err, dispatch.ErrInvalidDelay),
		errors.Is(err, dispatch.ErrInvalidSeconds),
		errors.Is(err, dispatch.ErrInvalidFilename),
		errors.Is(err, scan.ErrInvalidRange),
		errors.Is(err, scan.ErrRangeTooLarge),
		errors.Is(err, transport.ErrUnsupported):
		return http.StatusBadRequest, ErrCodeValidation

	case errors.Is(err, dispatch.ErrTransferFailed),
		errors.Is(err, dispatch.ErrPlaybackFailed):
		return http.StatusInternalServerError, ErrCodeTransportFailure
	}
	return http.StatusInternalServerError, ErrCodeInternal
}

// writeServiceError writes err using classify. Internal errors are logged
// and their text is not sent to the client.
func (s *Server) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	status, code := classify(err)
	if code == ErrCodeInternal {
		s.logger.Error("request failed",
			"method", r.Method,
			"path", r.URL.Path,
			"error", err,
			"request_id", requestID(r.Context()),
		)
		writeInternalError(w, "internal server error")
		return
	}
	writeError(w, status, code, err.Error())
}

// writeOutcome answers 200 with the outcome on success and 500
// transport_failure otherwise.
func writeOutcome(w http.ResponseWriter, out transport.Outcome) {
	if out.OK() {
		writeJSON(w, http.StatusOK, map[string]any{"outcome": out})
		return
	}

	msg := string(out.Status)
	if out.Detail != "" {
		msg += ": " + out.Detail
	}
	writeError(w, http.StatusInternalServerError, ErrCodeTransportFailure, msg)
}

// decodeJSON decodes the request body into v.
func decodeJSON(r *http.Request, v any) error {
	return json.NewDecoder(r.Body).Decode(v)
}
