package middleware

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"strings"

	"github.com/machinery-site/comments/pkg/logger"
)

// NetSet is a parsed list of CIDR ranges. Bare IPs are accepted as /32 or /128.
type NetSet []*net.IPNet

// ParseNetSet parses cidrs, logging and skipping invalid entries.
func ParseNetSet(cidrs []string, l *slog.Logger) NetSet {
	var nets NetSet
	for _, raw := range cidrs {
		cidr := strings.TrimSpace(raw)
		if cidr == "" {
			continue
		}
		if !strings.Contains(cidr, "/") {
			if ip := net.ParseIP(cidr); ip != nil {
				if ip.To4() != nil {
					cidr += "/32"
				} else {
					cidr += "/128"
				}
			}
		}
		_, ipNet, err := net.ParseCIDR(cidr)
		if err != nil {
			if l != nil {
				l.Warn("invalid CIDR, skipping",
					slog.String("cidr", raw),
					slog.String("error", err.Error()),
				)
			}
			continue
		}
		nets = append(nets, ipNet)
	}
	return nets
}

// Contains reports whether ip falls inside any range of the set.
func (s NetSet) Contains(ip net.IP) bool {
	if ip == nil {
		return false
	}
	for _, n := range s {
		if n.Contains(ip) {
			return true
		}
	}
	return false
}

// ClientIPResolver derives the client address of a request. Forwarding
// headers are only honoured when the socket peer is a trusted proxy.
type ClientIPResolver struct {
	trusted NetSet
}

// NewClientIPResolver creates a resolver trusting the given proxy ranges.
func NewClientIPResolver(trustedProxies []string, l *slog.Logger) *ClientIPResolver {
	return &ClientIPResolver{trusted: ParseNetSet(trustedProxies, l)}
}

// Resolve returns the client address for r.
//
// X-Forwarded-For is walked right to left and the first hop that is not a
// trusted proxy wins. X-Real-IP is used when X-Forwarded-For is absent.
func (c *ClientIPResolver) Resolve(r *http.Request) string {
	peer := remoteHost(r.RemoteAddr)
	if !c.trusted.Contains(net.ParseIP(peer)) {
		return peer
	}

	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		hops := strings.Split(xff, ",")
		for i := len(hops) - 1; i >= 0; i-- {
			hop := strings.TrimSpace(hops[i])
			ip := net.ParseIP(hop)
			if ip == nil {
				continue
			}
			if !c.trusted.Contains(ip) {
				return ip.String()
			}
		}
	}

	if real := strings.TrimSpace(r.Header.Get("X-Real-IP")); real != "" {
		if ip := net.ParseIP(real); ip != nil {
			return ip.String()
		}
	}

	return peer
}

type clientIPKeyType struct{}

// ClientIP stores the resolved client address in the request context and in
// the logging context.
func ClientIP(resolver *ClientIPResolver) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip := resolver.Resolve(r)
			ctx := context.WithValue(r.Context(), clientIPKeyType{}, ip)
			ctx = logger.WithClientIP(ctx, ip)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// ClientIPFromContext returns the address stored by the ClientIP middleware.
func ClientIPFromContext(ctx context.Context) string {
	if ip, ok := ctx.Value(clientIPKeyType{}).(string); ok {
		return ip
	}
	return ""
}

func remoteHost(addr string) string {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return addr
	}
	return host
}
