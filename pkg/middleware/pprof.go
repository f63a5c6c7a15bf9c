package middleware

import (
	"log/slog"
	"net"
	"net/http"
	"net/http/pprof"

	"github.com/go-chi/chi/v5"

	apperrors "github.com/machinery-site/comments/pkg/errors"
	"github.com/machinery-site/comments/pkg/httputil"
)

var pprofRoutes = map[string]http.HandlerFunc{
	"/debug/pprof/*":       pprof.Index,
	"/debug/pprof/cmdline": pprof.Cmdline,
	"/debug/pprof/profile": pprof.Profile,
	"/debug/pprof/symbol":  pprof.Symbol,
	"/debug/pprof/trace":   pprof.Trace,
}

// RegisterPprof mounts the runtime profiling endpoints under /debug/pprof,
// reachable only from allowedCIDRs.
func RegisterPprof(r chi.Router, allowedCIDRs []string, logger *slog.Logger) {
	r.Group(func(r chi.Router) {
		r.Use(IPAllowlist(allowedCIDRs, logger))
		for pattern, h := range pprofRoutes {
			r.HandleFunc(pattern, h)
		}
	})
}

// IPAllowlist admits only socket peers inside cidrs. Forwarding headers are
// not consulted, so a proxy in front of the service must itself be listed.
func IPAllowlist(cidrs []string, logger *slog.Logger) func(http.Handler) http.Handler {
	nets := ParseNetSet(cidrs, logger)
	denied := apperrors.Forbidden("FORBIDDEN", "access restricted by IP allowlist")

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			host := remoteHost(r.RemoteAddr)
			if nets.Contains(net.ParseIP(host)) {
				next.ServeHTTP(w, r)
				return
			}
			logger.WarnContext(r.Context(), "request outside IP allowlist",
				slog.String("ip", host),
				slog.String("path", r.URL.Path),
			)
			httputil.WriteError(w, r, denied, logger)
		})
	}
}
