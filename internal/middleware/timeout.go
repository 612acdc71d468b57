package middleware

import (
	"context"
	"net/http"
	"time"

	"go.uber.org/zap"

	"gallerygate/pkg/logging"
)

// Timeout cancels the request context after d and answers 504 if the
// handler is still running. The budget has to cover an upstream fetch with
// retries plus an image transform, so it is set well above the upstream
// client's own per-request timeout.
func Timeout(d time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx, cancel := context.WithTimeout(r.Context(), d)
			defer cancel()

			r = r.WithContext(ctx)

			done := make(chan struct{})
			go func() {
				next.ServeHTTP(w, r)
				close(done)
			}()

			select {
			case <-done:
			case <-ctx.Done():
				logging.L(ctx).Warn("request timeout", zap.Duration("timeout", d))
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusGatewayTimeout)
				_, _ = w.Write([]byte(`{"success":false,"error":{"code":"GATEWAY_TIMEOUT","message":"request timed out"}}`))
			}
		})
	}
}
