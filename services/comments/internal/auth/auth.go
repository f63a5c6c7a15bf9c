// Package auth authenticates moderators with a static bearer token or a
// signed session token.
package auth

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"log/slog"
	"net/http"
	"strings"
	"time"

	apperrors "github.com/machinery-site/comments/pkg/errors"
	"github.com/machinery-site/comments/pkg/middleware"
	"github.com/machinery-site/comments/services/comments/internal/domain"
)

// Identity defaults for the shared static token.
const (
	DefaultStaticAdminID   = "static-admin"
	DefaultStaticAdminName = "Administrator"

	defaultSessionAdminID   = "session-admin"
	defaultSessionAdminName = "Moderator"
)

// Headers read by the authenticator.
const (
	HeaderModeratorID   = "X-Moderator-Id"
	HeaderModeratorName = "X-Moderator-Name"
	HeaderSessionKey    = "X-Admin-Session-Key"
)

const maxIdentityLength = 120

// Config holds the moderator secrets.
type Config struct {
	StaticToken   string
	SessionKey    string
	SessionSecret string
	SessionTTL    time.Duration
}

// Authenticator verifies moderator bearer tokens and issues sessions.
type Authenticator struct {
	staticToken string
	sessionKey  string
	sessions    *SessionManager
	logger      *slog.Logger
}

// New creates an Authenticator. Sessions are disabled without a signing secret.
func New(cfg Config, logger *slog.Logger) *Authenticator {
	a := &Authenticator{
		staticToken: cfg.StaticToken,
		sessionKey:  cfg.SessionKey,
		logger:      logger,
	}
	if cfg.SessionSecret != "" {
		a.sessions = NewSessionManager(cfg.SessionSecret, cfg.SessionTTL)
	}
	return a
}

// Configured reports whether any moderator credential is set.
func (a *Authenticator) Configured() bool {
	return a.staticToken != "" || a.sessions != nil
}

// Validate implements middleware.TokenValidator. The static token is tried
// first, then the session token.
func (a *Authenticator) Validate(r *http.Request, token string) (*middleware.Claims, error) {
	if !a.Configured() {
		a.logger.ErrorContext(r.Context(), "moderation request rejected: no admin token or session secret configured")
		return nil, apperrors.Misconfigured("ADMIN_AUTH_MISCONFIGURED", "Moderation is not configured on this server")
	}

	if a.staticToken != "" && secureEqual(token, a.staticToken) {
		return &middleware.Claims{
			ModeratorID: headerOr(r, HeaderModeratorID, DefaultStaticAdminID),
			DisplayName: headerOr(r, HeaderModeratorName, DefaultStaticAdminName),
			TokenID:     TokenID(token),
			TokenSource: domain.TokenSourceStatic,
		}, nil
	}

	if a.sessions != nil {
		claims, err := a.sessions.Validate(token)
		if err == nil {
			return &middleware.Claims{
				ModeratorID: claims.AdminID,
				DisplayName: claims.DisplayName,
				TokenID:     claims.ID,
				TokenSource: domain.TokenSourceSession,
			}, nil
		}
		a.logger.DebugContext(r.Context(), "session token rejected", slog.String("error", err.Error()))
	}

	return nil, apperrors.Unauthorized("Unauthorized")
}

// SessionRequest names the moderator a session is issued for.
type SessionRequest struct {
	AdminID     string `json:"adminId"`
	DisplayName string `json:"displayName"`
}

// IssueSession checks the shared session key and signs a session token.
func (a *Authenticator) IssueSession(r *http.Request, req SessionRequest) (*Session, error) {
	if a.sessions == nil || a.sessionKey == "" {
		a.logger.ErrorContext(r.Context(), "session issuance rejected: session key or secret not configured")
		return nil, apperrors.Misconfigured("ADMIN_SESSION_MISCONFIGURED", "Moderator sessions are not configured on this server")
	}

	key := strings.TrimSpace(r.Header.Get(HeaderSessionKey))
	if key == "" || !secureEqual(key, a.sessionKey) {
		a.logger.WarnContext(r.Context(), "session issuance rejected: invalid session key")
		return nil, apperrors.Unauthorized("Unauthorized")
	}

	adminID := firstNonEmpty(req.AdminID, r.Header.Get(HeaderModeratorID), defaultSessionAdminID)
	displayName := firstNonEmpty(req.DisplayName, r.Header.Get(HeaderModeratorName), defaultSessionAdminName)
	if len([]rune(adminID)) > maxIdentityLength || len([]rune(displayName)) > maxIdentityLength {
		return nil, apperrors.InvalidInput("adminId and displayName must be at most 120 characters")
	}

	session, err := a.sessions.Issue(adminID, displayName)
	if err != nil {
		return nil, err
	}
	a.logger.InfoContext(r.Context(), "moderator session issued",
		slog.String("admin_id", adminID),
		slog.String("token_id", session.TokenID),
	)
	return session, nil
}

// TokenID returns the first 12 hex characters of the token's SHA-256 digest.
func TokenID(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])[:12]
}

// ModeratorFromClaims converts middleware claims into the domain identity.
func ModeratorFromClaims(c *middleware.Claims) domain.Moderator {
	return domain.Moderator{
		ID:          c.ModeratorID,
		DisplayName: c.DisplayName,
		TokenID:     c.TokenID,
		TokenSource: c.TokenSource,
	}
}

// secureEqual compares SHA-256 digests in constant time.
func secureEqual(a, b string) bool {
	ha := sha256.Sum256([]byte(a))
	hb := sha256.Sum256([]byte(b))
	return subtle.ConstantTimeCompare(ha[:], hb[:]) == 1
}

func headerOr(r *http.Request, name, fallback string) string {
	v := strings.TrimSpace(r.Header.Get(name))
	if v == "" || len([]rune(v)) > maxIdentityLength {
		return fallback
	}
	return v
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}
