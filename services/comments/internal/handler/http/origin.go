package http

import (
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	apperrors "github.com/machinery-site/comments/pkg/errors"
)

// OriginCheck rejects submissions whose Origin (or, without one, Referer)
// is not in the allowlist. Requests carrying neither header are rejected
// only when requireOrigin is set. An allowlist entry of "*" accepts any origin.
func OriginCheck(allowed []string, requireOrigin bool, logger *slog.Logger) func(http.Handler) http.Handler {
	set := make(map[string]struct{}, len(allowed))
	wildcard := false
	for _, o := range allowed {
		o = normalizeOrigin(o)
		if o == "" {
			continue
		}
		if o == "*" {
			wildcard = true
		}
		set[o] = struct{}{}
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := requestOrigin(r)
			if origin == "" {
				if requireOrigin {
					logger.WarnContext(r.Context(), "submission rejected: missing origin")
					writeError(w, r, apperrors.Forbidden("FORBIDDEN_ORIGIN", "Forbidden"), logger)
					return
				}
				next.ServeHTTP(w, r)
				return
			}

			if _, ok := set[origin]; !ok && !wildcard {
				logger.WarnContext(r.Context(), "submission rejected: origin not allowed",
					slog.String("origin", origin),
				)
				writeError(w, r, apperrors.Forbidden("FORBIDDEN_ORIGIN", "Forbidden"), logger)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// requestOrigin returns the normalized Origin header, falling back to the
// scheme and host of the Referer.
func requestOrigin(r *http.Request) string {
	if origin := r.Header.Get("Origin"); origin != "" {
		return normalizeOrigin(origin)
	}
	if ref := r.Header.Get("Referer"); ref != "" {
		u, err := url.Parse(ref)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return "invalid"
		}
		return normalizeOrigin(u.Scheme + "://" + u.Host)
	}
	return ""
}

func normalizeOrigin(o string) string {
	return strings.TrimRight(strings.ToLower(strings.TrimSpace(o)), "/")
}
