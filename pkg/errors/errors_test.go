package errors

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --- Sentinel error identity ---

func TestSentinelErrors_AreDistinct(t *testing.T) {
	sentinels := []error{
		ErrNotFound, ErrAlreadyExists, ErrInvalidInput, ErrUnauthorized,
		ErrForbidden, ErrInternal, ErrRateLimited, ErrServiceUnavail,
	}

	for i := 0; i < len(sentinels); i++ {
		for j := i + 1; j < len(sentinels); j++ {
			assert.NotEqual(t, sentinels[i], sentinels[j],
				"sentinels %d and %d should be distinct", i, j)
		}
	}
}

// --- AppError behavior ---

func TestAppError_ErrorString_WithWrappedError(t *testing.T) {
	inner := fmt.Errorf("db connection lost")
	appErr := &AppError{Code: "INTERNAL_ERROR", Message: "something broke", Err: inner}
	assert.Contains(t, appErr.Error(), "INTERNAL_ERROR")
	assert.Contains(t, appErr.Error(), "something broke")
	assert.Contains(t, appErr.Error(), "db connection lost")
}

func TestAppError_ErrorString_WithoutWrappedError(t *testing.T) {
	appErr := &AppError{Code: "NOT_FOUND", Message: "comment not found"}
	assert.Equal(t, "NOT_FOUND: comment not found", appErr.Error())
}

// --- Constructor functions ---

func TestNotFound(t *testing.T) {
	err := NotFound("comment", "abc-123")
	require.NotNil(t, err)
	assert.Equal(t, "NOT_FOUND", err.Code)
	assert.Equal(t, "comment abc-123 not found", err.Message)
	assert.Equal(t, http.StatusNotFound, err.Status)
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestAlreadyExists(t *testing.T) {
	err := AlreadyExists("DUPLICATE_COMMENT", "already submitted")
	assert.Equal(t, "DUPLICATE_COMMENT", err.Code)
	assert.Equal(t, http.StatusConflict, err.Status)
	assert.True(t, errors.Is(err, ErrAlreadyExists))
}

func TestBadRequest(t *testing.T) {
	err := BadRequest("SPAM_DETECTED", "Comment appears to be spam")
	assert.Equal(t, http.StatusBadRequest, err.Status)
	assert.True(t, errors.Is(err, ErrInvalidInput))
}

func TestRateLimited(t *testing.T) {
	err := RateLimited("slow down", 120)
	assert.Equal(t, http.StatusTooManyRequests, err.Status)
	assert.Equal(t, 120, err.RetryAfter)
	assert.True(t, errors.Is(err, ErrRateLimited))
}

func TestUnavailable_WrapsCause(t *testing.T) {
	cause := errors.New("disk is read-only")
	err := Unavailable("STORAGE_READ_ONLY", "storage offline", 3600, cause)

	assert.Equal(t, http.StatusServiceUnavailable, err.Status)
	assert.Equal(t, 3600, err.RetryAfter)
	assert.True(t, errors.Is(err, ErrServiceUnavail))
	assert.True(t, errors.Is(err, cause))
}

func TestUnavailable_NilCause(t *testing.T) {
	err := Unavailable("CAPTCHA_UNAVAILABLE", "try later", 60, nil)
	assert.True(t, errors.Is(err, ErrServiceUnavail))
}

func TestMisconfigured(t *testing.T) {
	err := Misconfigured("ADMIN_AUTH_MISCONFIGURED", "admin token not configured")
	assert.Equal(t, http.StatusInternalServerError, err.Status)
	assert.Equal(t, "ADMIN_AUTH_MISCONFIGURED", err.Code)
}

// --- Wrapped AppErrors ---

func TestAppError_SurvivesWrapping(t *testing.T) {
	err := fmt.Errorf("submit comment: %w", RateLimited("slow down", 840))

	var appErr *AppError
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, http.StatusTooManyRequests, appErr.Status)
	assert.Equal(t, 840, appErr.RetryAfter)
	assert.True(t, errors.Is(err, ErrRateLimited))
}
