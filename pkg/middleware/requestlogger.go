package middleware

import (
	"log/slog"
	"net/http"

	"github.com/machinery-site/comments/pkg/logger"
)

// RequestLogger returns middleware that builds a request-scoped logger from
// the logging fields already present in context and stores it via
// logger.NewContext. Downstream handlers retrieve it with logger.FromContext.
//
// Mount it after RequestLogging, Tracing and ClientIP. Auth appends the
// moderator id to the stored logger once a bearer token is accepted.
func RequestLogger(base *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()

			enriched := logger.WithContext(ctx, base)
			ctx = logger.NewContext(ctx, enriched)

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
