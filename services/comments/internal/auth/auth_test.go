package auth

import (
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/machinery-site/comments/pkg/errors"
	"github.com/machinery-site/comments/services/comments/internal/domain"
)

func appError(t *testing.T, err error) *apperrors.AppError {
	t.Helper()
	var appErr *apperrors.AppError
	require.ErrorAs(t, err, &appErr)
	return appErr
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newAuthenticator() *Authenticator {
	return New(Config{
		StaticToken:   "static-secret-token",
		SessionKey:    "session-key",
		SessionSecret: "signing-secret",
		SessionTTL:    time.Hour,
	}, testLogger())
}

func appCode(t *testing.T, err error) string {
	t.Helper()
	var appErr *apperrors.AppError
	require.True(t, errors.As(err, &appErr), "expected AppError, got %v", err)
	return appErr.Code
}

// ---------------------------------------------------------------------------
// Static token
// ---------------------------------------------------------------------------

func TestValidate_StaticToken_Defaults(t *testing.T) {
	a := newAuthenticator()
	req := httptest.NewRequest(http.MethodPatch, "/api/comments/c-1", nil)

	claims, err := a.Validate(req, "static-secret-token")
	require.NoError(t, err)
	assert.Equal(t, DefaultStaticAdminID, claims.ModeratorID)
	assert.Equal(t, DefaultStaticAdminName, claims.DisplayName)
	assert.Equal(t, domain.TokenSourceStatic, claims.TokenSource)
	assert.Equal(t, TokenID("static-secret-token"), claims.TokenID)
	assert.Len(t, claims.TokenID, 12)
}

func TestValidate_StaticToken_ModeratorHeaders(t *testing.T) {
	a := newAuthenticator()
	req := httptest.NewRequest(http.MethodPatch, "/api/comments/c-1", nil)
	req.Header.Set(HeaderModeratorID, "mod-7")
	req.Header.Set(HeaderModeratorName, "  Support Team ")

	claims, err := a.Validate(req, "static-secret-token")
	require.NoError(t, err)
	assert.Equal(t, "mod-7", claims.ModeratorID)
	assert.Equal(t, "Support Team", claims.DisplayName)
}

func TestValidate_WrongToken(t *testing.T) {
	a := newAuthenticator()
	req := httptest.NewRequest(http.MethodPatch, "/api/comments/c-1", nil)

	_, err := a.Validate(req, "static-secret-tokenX")
	require.Error(t, err)
	assert.Equal(t, http.StatusUnauthorized, appError(t, err).Status)
}

func TestValidate_NotConfigured(t *testing.T) {
	a := New(Config{}, testLogger())
	req := httptest.NewRequest(http.MethodDelete, "/api/comments/c-1", nil)

	assert.False(t, a.Configured())
	_, err := a.Validate(req, "anything")
	require.Error(t, err)
	assert.Equal(t, http.StatusInternalServerError, appError(t, err).Status)
	assert.Equal(t, "ADMIN_AUTH_MISCONFIGURED", appCode(t, err))
}

func TestValidate_EmptyStaticTokenNeverMatches(t *testing.T) {
	a := New(Config{SessionSecret: "signing-secret"}, testLogger())
	req := httptest.NewRequest(http.MethodDelete, "/api/comments/c-1", nil)

	_, err := a.Validate(req, "")
	require.Error(t, err)
	assert.Equal(t, http.StatusUnauthorized, appError(t, err).Status)
}

func TestTokenID_StableAndShort(t *testing.T) {
	assert.Equal(t, TokenID("abc"), TokenID("abc"))
	assert.NotEqual(t, TokenID("abc"), TokenID("abd"))
	// sha256("abc") = ba7816bf8f01cfea...
	assert.Equal(t, "ba7816bf8f01", TokenID("abc"))
}

// ---------------------------------------------------------------------------
// Sessions
// ---------------------------------------------------------------------------

func TestIssueSession_AndValidate(t *testing.T) {
	a := newAuthenticator()
	req := httptest.NewRequest(http.MethodPost, "/api/comments/admin/session", nil)
	req.Header.Set(HeaderSessionKey, "session-key")

	session, err := a.IssueSession(req, SessionRequest{AdminID: "mod-1", DisplayName: "Sara"})
	require.NoError(t, err)
	assert.NotEmpty(t, session.Token)
	assert.NotEmpty(t, session.TokenID)
	assert.Equal(t, "mod-1", session.AdminID)
	assert.Equal(t, "Sara", session.DisplayName)
	assert.WithinDuration(t, time.Now().Add(time.Hour), session.ExpiresAt, 5*time.Second)

	claims, err := a.Validate(httptest.NewRequest(http.MethodPatch, "/api/comments/c-1", nil), session.Token)
	require.NoError(t, err)
	assert.Equal(t, "mod-1", claims.ModeratorID)
	assert.Equal(t, "Sara", claims.DisplayName)
	assert.Equal(t, session.TokenID, claims.TokenID)
	assert.Equal(t, domain.TokenSourceSession, claims.TokenSource)
}

func TestIssueSession_Defaults(t *testing.T) {
	a := newAuthenticator()
	req := httptest.NewRequest(http.MethodPost, "/api/comments/admin/session", nil)
	req.Header.Set(HeaderSessionKey, "session-key")
	req.Header.Set(HeaderModeratorName, "Night Shift")

	session, err := a.IssueSession(req, SessionRequest{})
	require.NoError(t, err)
	assert.Equal(t, defaultSessionAdminID, session.AdminID)
	assert.Equal(t, "Night Shift", session.DisplayName)
}

func TestIssueSession_WrongKey(t *testing.T) {
	a := newAuthenticator()

	for _, key := range []string{"", "wrong", "session-key-extra"} {
		req := httptest.NewRequest(http.MethodPost, "/api/comments/admin/session", nil)
		if key != "" {
			req.Header.Set(HeaderSessionKey, key)
		}
		_, err := a.IssueSession(req, SessionRequest{})
		require.Error(t, err, key)
		assert.Equal(t, http.StatusUnauthorized, appError(t, err).Status, key)
	}
}

func TestIssueSession_NotConfigured(t *testing.T) {
	a := New(Config{StaticToken: "static-secret-token"}, testLogger())
	req := httptest.NewRequest(http.MethodPost, "/api/comments/admin/session", nil)
	req.Header.Set(HeaderSessionKey, "session-key")

	_, err := a.IssueSession(req, SessionRequest{})
	require.Error(t, err)
	assert.Equal(t, http.StatusInternalServerError, appError(t, err).Status)
	assert.Equal(t, "ADMIN_SESSION_MISCONFIGURED", appCode(t, err))
}

func TestIssueSession_IdentityTooLong(t *testing.T) {
	a := newAuthenticator()
	req := httptest.NewRequest(http.MethodPost, "/api/comments/admin/session", nil)
	req.Header.Set(HeaderSessionKey, "session-key")

	_, err := a.IssueSession(req, SessionRequest{DisplayName: strings.Repeat("a", 121)})
	require.Error(t, err)
	assert.Equal(t, http.StatusBadRequest, appError(t, err).Status)
}

func TestSessionManager_Expired(t *testing.T) {
	m := NewSessionManager("signing-secret", time.Minute)
	issuedAt := time.Now().Add(-time.Hour)
	m.now = func() time.Time { return issuedAt }

	session, err := m.Issue("mod-1", "Sara")
	require.NoError(t, err)

	m.now = time.Now
	_, err = m.Validate(session.Token)
	require.Error(t, err)
	assert.True(t, errors.Is(err, jwt.ErrTokenExpired), "got %v", err)
}

func TestSessionManager_WrongSecret(t *testing.T) {
	session, err := NewSessionManager("secret-a", time.Hour).Issue("mod-1", "Sara")
	require.NoError(t, err)

	_, err = NewSessionManager("secret-b", time.Hour).Validate(session.Token)
	require.Error(t, err)
	assert.True(t, errors.Is(err, jwt.ErrTokenSignatureInvalid), "got %v", err)
}

func TestSessionManager_RejectsNoneAlgorithm(t *testing.T) {
	claims := &SessionClaims{
		AdminID: "mod-1",
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        "jti",
			Issuer:    sessionIssuer,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}
	unsigned, err := jwt.NewWithClaims(jwt.SigningMethodNone, claims).SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	_, err = NewSessionManager("signing-secret", time.Hour).Validate(unsigned)
	assert.Error(t, err)
}

func TestSessionManager_DefaultTTL(t *testing.T) {
	m := NewSessionManager("signing-secret", 0)
	assert.Equal(t, DefaultSessionTTL, m.ttl)
}

func TestModeratorFromClaims(t *testing.T) {
	a := newAuthenticator()
	claims, err := a.Validate(httptest.NewRequest(http.MethodPatch, "/", nil), "static-secret-token")
	require.NoError(t, err)

	m := ModeratorFromClaims(claims)
	assert.Equal(t, domain.Moderator{
		ID:          DefaultStaticAdminID,
		DisplayName: DefaultStaticAdminName,
		TokenID:     TokenID("static-secret-token"),
		TokenSource: domain.TokenSourceStatic,
	}, m)
}
