// Package captcha verifies CAPTCHA tokens against a Turnstile-compatible
// siteverify endpoint and decides when verification is required.
package captcha

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/machinery-site/comments/pkg/httpclient"
)

// DefaultVerifyURL is the Cloudflare Turnstile siteverify endpoint.
const DefaultVerifyURL = "https://challenges.cloudflare.com/turnstile/v0/siteverify"

// ErrUnavailable marks verification attempts that never got an answer.
var ErrUnavailable = errors.New("captcha provider unavailable")

// Verifier checks a CAPTCHA token.
type Verifier interface {
	Verify(ctx context.Context, token, remoteIP string) (bool, error)
}

type siteverifyResponse struct {
	Success    bool     `json:"success"`
	ErrorCodes []string `json:"error-codes"`
	Hostname   string   `json:"hostname"`
}

// HTTPVerifier posts tokens to a siteverify endpoint through a circuit breaker.
type HTTPVerifier struct {
	client    *httpclient.CircuitBreakerClient
	secret    string
	verifyURL string
}

// NewHTTPVerifier creates a verifier. An empty verifyURL uses DefaultVerifyURL.
func NewHTTPVerifier(client *httpclient.CircuitBreakerClient, secret, verifyURL string) *HTTPVerifier {
	if verifyURL == "" {
		verifyURL = DefaultVerifyURL
	}
	return &HTTPVerifier{client: client, secret: secret, verifyURL: verifyURL}
}

// Verify reports whether the provider accepted the token. Transport
// failures, 5xx answers and an open breaker are returned wrapped in
// ErrUnavailable.
func (v *HTTPVerifier) Verify(ctx context.Context, token, remoteIP string) (bool, error) {
	form := url.Values{}
	form.Set("secret", v.secret)
	form.Set("response", token)
	if remoteIP != "" {
		form.Set("remoteip", remoteIP)
	}

	resp, err := v.client.Post(ctx, v.verifyURL, "application/x-www-form-urlencoded", strings.NewReader(form.Encode()))
	if err != nil {
		return false, fmt.Errorf("%w: %w", ErrUnavailable, err)
	}

	var out siteverifyResponse
	if err := httpclient.DecodeJSON(resp, "captcha", &out); err != nil {
		return false, fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	return out.Success, nil
}
