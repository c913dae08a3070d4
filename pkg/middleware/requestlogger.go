package middleware

import (
	"log/slog"
	"net/http"

	"github.com/utafrali/hdpay/pkg/logger"
)

// RequestLogger stores a request-scoped logger carrying correlation_id,
// subject and trace ids in the context. Mount it after RequestLogging and
// Tracing so those fields exist.
func RequestLogger(base *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()

			enriched := logger.WithContext(ctx, base)
			if sub := SubjectFromContext(ctx); sub != "" {
				enriched = enriched.With(slog.String("subject", sub))
			}

			next.ServeHTTP(w, r.WithContext(logger.NewContext(ctx, enriched)))
		})
	}
}
