package middleware

import (
	"crypto/subtle"
	"log/slog"
	"net/http"

	"licshop/internal/infrastructure"
)

// AdminKeyHeader carries the shared secret for the admin surface.
const AdminKeyHeader = "X-Admin-Key"

// WebhookKeyHeader authenticates the payment processor callback.
const WebhookKeyHeader = "X-Webhook-Key"

// AdminAuth guards the admin surface with a shared key. A server with no
// key configured answers 500 so a deployment mistake never opens the
// surface; a wrong key answers 401.
func AdminAuth(configuredKey string, logger *slog.Logger) func(next http.Handler) http.Handler {
	return keyAuth(AdminKeyHeader, configuredKey, logger)
}

// WebhookAuth guards the payment webhook the same way.
func WebhookAuth(configuredKey string, logger *slog.Logger) func(next http.Handler) http.Handler {
	return keyAuth(WebhookKeyHeader, configuredKey, logger)
}

func keyAuth(header, configuredKey string, logger *slog.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			traceID := infrastructure.GetTraceID(ctx)

			if configuredKey == "" {
				logger.ErrorContext(ctx, "shared key not configured",
					"header", header,
					"path", r.URL.Path,
				)
				w.Header().Set("Content-Type", "application/problem+json")
				w.WriteHeader(http.StatusInternalServerError)
				w.Write([]byte(`{"type":"/errors/internal","title":"Internal Server Error","status":500,"detail":"Authentication is not configured","trace_id":"` + traceID + `"}`))
				return
			}

			provided := r.Header.Get(header)
			if subtle.ConstantTimeCompare([]byte(provided), []byte(configuredKey)) != 1 {
				logger.WarnContext(ctx, "rejected request with bad key",
					"header", header,
					"path", r.URL.Path,
					"remote_addr", r.RemoteAddr,
				)
				w.Header().Set("Content-Type", "application/problem+json")
				w.WriteHeader(http.StatusUnauthorized)
				w.Write([]byte(`{"type":"/errors/unauthorized","title":"Unauthorized","status":401,"detail":"Invalid or missing key","trace_id":"` + traceID + `"}`))
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
