package httpclient

import (
	"io"
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func response(status int, body string) *http.Response {
	return &http.Response{StatusCode: status, Body: io.NopCloser(strings.NewReader(body))}
}

func TestDecodeJSON_Success(t *testing.T) {
	var dst struct {
		Success bool `json:"success"`
	}
	require.NoError(t, DecodeJSON(response(http.StatusOK, `{"success":true}`), "captcha", &dst))
	assert.True(t, dst.Success)
}

func TestDecodeJSON_NonSuccessStatus(t *testing.T) {
	var dst map[string]any
	err := DecodeJSON(response(http.StatusBadGateway, "upstream down"), "captcha", &dst)

	var statusErr *StatusError
	require.ErrorAs(t, err, &statusErr)
	assert.Equal(t, http.StatusBadGateway, statusErr.StatusCode)
	assert.Equal(t, "captcha returned status 502: upstream down", err.Error())
}

func TestDecodeJSON_TruncatesLongBody(t *testing.T) {
	var dst map[string]any
	err := DecodeJSON(response(http.StatusInternalServerError, strings.Repeat("x", 1000)), "captcha", &dst)

	var statusErr *StatusError
	require.ErrorAs(t, err, &statusErr)
	assert.Len(t, statusErr.Body, 256)
}

func TestDecodeJSON_InvalidJSON(t *testing.T) {
	var dst map[string]any
	err := DecodeJSON(response(http.StatusOK, "<html>"), "captcha", &dst)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "decode response")
}

func TestStatusClassification(t *testing.T) {
	assert.True(t, IsSuccess(http.StatusNoContent))
	assert.False(t, IsSuccess(http.StatusMultipleChoices))
	assert.True(t, IsClientError(http.StatusTooManyRequests))
	assert.False(t, IsClientError(http.StatusInternalServerError))
}
