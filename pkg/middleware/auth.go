package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	apperrors "github.com/machinery-site/comments/pkg/errors"
	"github.com/machinery-site/comments/pkg/httputil"
	"github.com/machinery-site/comments/pkg/logger"
)

type contextKeyType string

const claimsKey contextKeyType = "moderator_claims"

// Claims identifies the moderator behind an authenticated request.
type Claims struct {
	ModeratorID string
	DisplayName string
	TokenID     string
	TokenSource string
}

// TokenValidator validates a bearer token for the given request and returns
// the moderator identity. Returned AppErrors are written as-is, so a
// validator can distinguish a misconfigured server from a bad credential.
type TokenValidator func(r *http.Request, token string) (*Claims, error)

// Auth validates bearer tokens and injects moderator claims into context.
func Auth(validate TokenValidator, fallback *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, ok := BearerToken(r)
			if !ok {
				httputil.WriteError(w, r, apperrors.Unauthorized("Unauthorized"), fallback)
				return
			}

			claims, err := validate(r, token)
			if err != nil {
				httputil.WriteError(w, r, err, fallback)
				return
			}

			ctx := context.WithValue(r.Context(), claimsKey, claims)
			ctx = logger.WithModeratorID(ctx, claims.ModeratorID)
			if l := logger.FromContext(ctx); l != slog.Default() {
				ctx = logger.NewContext(ctx, l.With(slog.String("moderator_id", claims.ModeratorID)))
			}
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// BearerToken extracts the token from an "Authorization: Bearer <token>" header.
func BearerToken(r *http.Request) (string, bool) {
	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		return "", false
	}

	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
		return "", false
	}

	token := strings.TrimSpace(parts[1])
	return token, token != ""
}

// ClaimsFromContext returns the moderator claims stored by Auth, or nil.
func ClaimsFromContext(ctx context.Context) *Claims {
	if c, ok := ctx.Value(claimsKey).(*Claims); ok {
		return c
	}
	return nil
}
