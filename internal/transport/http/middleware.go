package http

import (
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/stagegate/stagegate/internal/identity"
	apperrors "github.com/stagegate/stagegate/internal/platform/errors"
	"github.com/stagegate/stagegate/internal/platform/requestctx"
)

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := r.Header.Get("X-Request-Id")
		if reqID == "" {
			reqID = uuid.NewString()
		}
		w.Header().Set("X-Request-Id", reqID)
		ctx := requestctx.WithRequestID(r.Context(), reqID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func recoverMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				httpLogger().ErrorContext(r.Context(), "panic recovered",
					"request_id", requestctx.RequestIDFromContext(r.Context()),
					"method", r.Method,
					"path", r.URL.Path,
					"panic", rec,
				)
				writeError(w, http.StatusInternalServerError, string(apperrors.CodeUnknown), "internal server error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	statusCode int
	bytes      int
}

func (r *statusRecorder) WriteHeader(statusCode int) {
	r.statusCode = statusCode
	r.ResponseWriter.WriteHeader(statusCode)
}

func (r *statusRecorder) Write(payload []byte) (int, error) {
	if r.statusCode == 0 {
		r.statusCode = http.StatusOK
	}
	n, err := r.ResponseWriter.Write(payload)
	r.bytes += n
	return n, err
}

func loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		recorder := &statusRecorder{ResponseWriter: w}
		next.ServeHTTP(recorder, r)

		statusCode := recorder.statusCode
		if statusCode == 0 {
			statusCode = http.StatusOK
		}

		fields := []any{
			"method", r.Method,
			"path", r.URL.Path,
			"status_code", statusCode,
			"bytes", recorder.bytes,
			"duration_ms", time.Since(start).Milliseconds(),
			"request_id", requestctx.RequestIDFromContext(r.Context()),
		}
		switch {
		case statusCode >= 500:
			httpLogger().ErrorContext(r.Context(), "http request completed", fields...)
		case statusCode >= 400:
			httpLogger().WarnContext(r.Context(), "http request completed", fields...)
		default:
			httpLogger().InfoContext(r.Context(), "http request completed", fields...)
		}
	})
}

// callerMiddleware resolves the caller identity for the request. With grant
// verification enabled the bearer grant is mandatory; otherwise the caller
// is taken from the X-Caller header. Requests without an identity pass
// through and fail at dispatch with the caller-missing code.
func (h *Handler) callerMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var caller string
		if h.identity.Enabled() {
			grant, ok := bearerToken(r.Header.Get("Authorization"))
			if ok {
				claims, err := identity.Verify(grant, h.identity)
				if err != nil {
					writeAppError(w, r, err)
					return
				}
				caller = claims.Account
			}
		} else {
			caller = strings.TrimSpace(r.Header.Get("X-Caller"))
		}

		ctx := requestctx.WithCaller(r.Context(), caller)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func bearerToken(header string) (string, bool) {
	const prefix = "Bearer "
	if !strings.HasPrefix(header, prefix) {
		return "", false
	}
	token := strings.TrimSpace(strings.TrimPrefix(header, prefix))
	return token, token != ""
}
