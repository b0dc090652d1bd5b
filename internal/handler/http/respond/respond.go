// Package respond writes JSON responses and error bodies. Server-side error
// detail is logged with secrets scrubbed and never returned to the client.
package respond

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"techpulse/internal/pkg/redact"
)

// JSON writes a JSON response with the given status code and data.
func JSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if v != nil {
		if err := json.NewEncoder(w).Encode(v); err != nil {
			// headers are already sent
			slog.Default().Error("failed to encode JSON response",
				slog.Int("status_code", code),
				slog.Any("error", err))
		}
	}
}

// NoStore writes v like JSON and forbids caching. Health and status
// endpoints use it.
func NoStore(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")
	JSON(w, code, v)
}

// Error writes {"error": msg} with the message scrubbed of secrets.
func Error(w http.ResponseWriter, code int, err error) {
	JSON(w, code, map[string]string{"error": redact.Error(err)})
}

// AppError is an error carrying the message and status shown to clients.
type AppError struct {
	UserMsg string
	Err     error
	Code    int
}

// Error implements error.
func (e *AppError) Error() string {
	if e.Err != nil {
		return e.Err.Error()
	}
	return e.UserMsg
}

// Unwrap returns the underlying error.
func (e *AppError) Unwrap() error {
	return e.Err
}

// NewAppError creates an AppError.
func NewAppError(code int, userMsg string, err error) *AppError {
	return &AppError{Code: code, UserMsg: userMsg, Err: err}
}

// SafeError writes err for the client. An AppError contributes its own
// status and message. Any other error with a 5xx code is logged and
// replaced by "internal server error"; 4xx errors are returned as-is.
func SafeError(w http.ResponseWriter, code int, err error) {
	if err == nil {
		return
	}

	var appErr *AppError
	if errors.As(err, &appErr) {
		if appErr.Err != nil {
			slog.Default().Error("application error",
				slog.String("status", http.StatusText(appErr.Code)),
				slog.Int("code", appErr.Code),
				slog.String("user_message", appErr.UserMsg),
				slog.String("error", redact.Error(appErr.Err)))
		}
		JSON(w, appErr.Code, map[string]string{"error": appErr.UserMsg})
		return
	}

	if code < http.StatusInternalServerError {
		Error(w, code, err)
		return
	}

	slog.Default().Error("internal server error",
		slog.String("status", http.StatusText(code)),
		slog.Int("code", code),
		slog.String("error", redact.Error(err)))
	JSON(w, code, map[string]string{"error": "internal server error"})
}
