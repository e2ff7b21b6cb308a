package web

// errors.go renders every response in the {success, message, code, data}
// envelope and maps service errors to status codes.
//
// The error flow:
//  1. Handler receives an error from core
//  2. Calls respondError(w, r, err)
//  3. statusFor picks the status from the error kind
//  4. The original message is kept; core.MapError adds an operator code
//  5. Import failures carry their outcome in data

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/JonMunkholm/tablesync/internal/core"
	"github.com/JonMunkholm/tablesync/internal/logging"
)

var (
	errRateLimited = errors.New("rate limit exceeded")
	errNoFile      = errors.New("no file provided")
	errMissingKey  = errors.New("snapshot key is required")
)

// envelope is the JSON shape of every API response.
type envelope struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
	Code    string `json:"code,omitempty"`
	Data    any    `json:"data,omitempty"`
}

// writeJSON encodes v with the given status.
// Encoding errors are logged since headers are already sent.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("json encode error", "error", err)
	}
}

func respondOK(w http.ResponseWriter, message string, data any) {
	writeJSON(w, http.StatusOK, envelope{Success: true, Message: message, Data: data})
}

// respondError logs err and writes the failure envelope.
func respondError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	userMsg := core.MapError(err)

	logger := logging.FromContext(r.Context())
	attrs := []any{
		"path", r.URL.Path,
		"method", r.Method,
		"status", status,
		"kind", core.KindOf(err).String(),
		"code", userMsg.Code,
		"error", err.Error(),
	}
	if status >= http.StatusInternalServerError {
		logger.Error("request failed", attrs...)
	} else {
		logger.Warn("request rejected", attrs...)
	}

	env := envelope{Success: false, Message: err.Error(), Code: userMsg.Code}
	if outcome := core.OutcomeOf(err); outcome != nil {
		env.Data = outcome
	}
	writeJSON(w, status, env)
}

func statusFor(err error) int {
	var tooLarge *http.MaxBytesError
	switch {
	case errors.As(err, &tooLarge):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, core.ErrTooManyImports):
		return http.StatusServiceUnavailable
	case errors.Is(err, core.ErrSnapshotsDisabled), errors.Is(err, errNoFile), errors.Is(err, errMissingKey):
		return http.StatusBadRequest
	}

	switch core.KindOf(err) {
	case core.KindNotFound:
		return http.StatusNotFound
	case core.KindValidation, core.KindWrite, core.KindArchive:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}
