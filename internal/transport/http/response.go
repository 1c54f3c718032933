package http

import (
	"encoding/json"
	"log/slog"
	"net/http"

	apperrors "github.com/stagegate/stagegate/internal/platform/errors"
	"github.com/stagegate/stagegate/internal/platform/requestctx"
)

type apiError struct {
	Status   string            `json:"status"`
	Code     string            `json:"code"`
	Message  string            `json:"message"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

func httpLogger() *slog.Logger {
	return slog.Default().With("component", "http")
}

func writeJSON(w http.ResponseWriter, statusCode int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeSuccess(w http.ResponseWriter, statusCode int, data any) {
	writeJSON(w, statusCode, map[string]any{
		"status": "success",
		"data":   data,
	})
}

func writeError(w http.ResponseWriter, statusCode int, code, message string) {
	writeJSON(w, statusCode, apiError{
		Status:  "error",
		Code:    code,
		Message: message,
	})
}

// writeAppError renders a domain error with its mapped status code and
// structured metadata.
func writeAppError(w http.ResponseWriter, r *http.Request, err error) {
	code := apperrors.GetCode(err)
	statusCode := code.HTTPStatus()
	message := err.Error()
	if code == apperrors.CodeUnknown {
		message = "internal server error"
	}

	if statusCode >= 500 {
		httpLogger().ErrorContext(r.Context(), "request failed",
			"request_id", requestctx.RequestIDFromContext(r.Context()),
			"error_code", string(code),
			"error", err.Error(),
		)
	}

	writeJSON(w, statusCode, apiError{
		Status:   "error",
		Code:     string(code),
		Message:  message,
		Metadata: apperrors.GetMetadata(err),
	})
}
