package middleware

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/machinery-site/comments/pkg/errors"
)

func acceptToken(want string) TokenValidator {
	return func(r *http.Request, token string) (*Claims, error) {
		if token != want {
			return nil, apperrors.Unauthorized("Unauthorized")
		}
		return &Claims{ModeratorID: "admin-1", DisplayName: "Admin", TokenID: "abc", TokenSource: "static"}, nil
	}
}

func TestAuth_ValidToken_SetsClaims(t *testing.T) {
	var got *Claims
	handler := Auth(acceptToken("s3cret"), discardLogger())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = ClaimsFromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPatch, "/", nil)
	req.Header.Set("Authorization", "Bearer s3cret")
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	require.NotNil(t, got)
	assert.Equal(t, "admin-1", got.ModeratorID)
}

func TestAuth_Rejections(t *testing.T) {
	tests := []struct {
		name   string
		header string
	}{
		{"missing header", ""},
		{"wrong scheme", "Basic s3cret"},
		{"empty token", "Bearer   "},
		{"wrong token", "Bearer nope"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			called := false
			handler := Auth(acceptToken("s3cret"), discardLogger())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				called = true
			}))

			rec := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodDelete, "/", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			handler.ServeHTTP(rec, req)

			assert.False(t, called)
			assert.Equal(t, http.StatusUnauthorized, rec.Code)

			var body map[string]any
			require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
			assert.Equal(t, "Unauthorized", body["error"])
		})
	}
}

func TestAuth_ValidatorAppErrorStatusPreserved(t *testing.T) {
	validate := func(r *http.Request, token string) (*Claims, error) {
		return nil, apperrors.Misconfigured("ADMIN_AUTH_MISCONFIGURED", "admin authentication is not configured")
	}
	handler := Auth(validate, discardLogger())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer anything")
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, rec.Body.String(), "ADMIN_AUTH_MISCONFIGURED")
}

func TestAuth_PlainValidatorError_IsInternal(t *testing.T) {
	validate := func(r *http.Request, token string) (*Claims, error) {
		return nil, errors.New("boom")
	}
	handler := Auth(validate, discardLogger())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer anything")
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestBearerToken(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "bearer tok")
	tok, ok := BearerToken(req)
	assert.True(t, ok)
	assert.Equal(t, "tok", tok)
}

func TestClaimsFromContext_Missing(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	assert.Nil(t, ClaimsFromContext(req.Context()))
}
