package http

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/machinery-site/comments/pkg/httputil"
	"github.com/machinery-site/comments/services/comments/internal/auth"
	"github.com/machinery-site/comments/services/comments/internal/repository"
)

// RateLimitStatus reports which counter store the limiter uses.
// *ratelimit.Limiter implements it.
type RateLimitStatus interface {
	Backend() string
	Degraded() bool
}

// AdminHandler serves session issuance and the comments health endpoint.
type AdminHandler struct {
	auth          *auth.Authenticator
	storage       Storage
	limiter       RateLimitStatus
	eventsEnabled bool
	logger        *slog.Logger
}

// NewAdminHandler creates a new admin HTTP handler.
func NewAdminHandler(authn *auth.Authenticator, storage Storage, limiter RateLimitStatus, eventsEnabled bool, logger *slog.Logger) *AdminHandler {
	return &AdminHandler{
		auth:          authn,
		storage:       storage,
		limiter:       limiter,
		eventsEnabled: eventsEnabled,
		logger:        logger,
	}
}

// HealthResponse is the body of GET /api/comments/health.
type HealthResponse struct {
	Status    string            `json:"status"`
	Storage   repository.Health `json:"storage"`
	RateLimit RateLimitHealth   `json:"rateLimit"`
	Events    EventsHealth      `json:"events"`
	Auth      AuthHealth        `json:"auth"`
}

// RateLimitHealth describes the rate-limit counter store.
type RateLimitHealth struct {
	Backend  string `json:"backend"`
	Degraded bool   `json:"degraded"`
}

// EventsHealth reports whether domain events reach a broker.
type EventsHealth struct {
	Enabled bool `json:"enabled"`
}

// AuthHealth reports whether moderation is usable.
type AuthHealth struct {
	Configured bool `json:"configured"`
}

// Health handles GET /api/comments/health. A pending storage initialization
// is attempted first; a cached failure is reported without a new attempt.
func (h *AdminHandler) Health(w http.ResponseWriter, r *http.Request) {
	_ = h.storage.Initialize(r.Context())

	resp := HealthResponse{
		Status:  statusReady,
		Storage: h.storage.Health(),
		RateLimit: RateLimitHealth{
			Backend:  h.limiter.Backend(),
			Degraded: h.limiter.Degraded(),
		},
		Events: EventsHealth{Enabled: h.eventsEnabled},
		Auth:   AuthHealth{Configured: h.auth.Configured()},
	}

	status := http.StatusOK
	if !resp.Storage.Ready {
		resp.Status = statusOffline
		status = http.StatusServiceUnavailable
		if resp.Storage.LastErrorCode != "" {
			w.Header().Set(HeaderErrorCode, resp.Storage.LastErrorCode)
		}
		if resp.Storage.RetryAfterSeconds > 0 {
			w.Header().Set("Retry-After", strconv.Itoa(resp.Storage.RetryAfterSeconds))
		}
	}
	httputil.WriteJSON(w, status, resp)
}

// IssueSession handles POST /api/comments/admin/session. The body is optional.
func (h *AdminHandler) IssueSession(w http.ResponseWriter, r *http.Request) {
	var req auth.SessionRequest
	if r.ContentLength != 0 {
		if err := httputil.DecodeJSON(w, r, &req); err != nil {
			writeError(w, r, err, h.logger)
			return
		}
	}

	session, err := h.auth.IssueSession(r, req)
	if err != nil {
		writeError(w, r, err, h.logger)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, session)
}
