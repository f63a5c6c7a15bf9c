package httpclient

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand/v2"
	"net"
	"net/http"
	"time"
)

// Config tunes the outbound client.
type Config struct {
	Timeout         time.Duration
	MaxRetries      int
	RetryWaitMin    time.Duration
	RetryWaitMax    time.Duration
	MaxConnsPerHost int

	// UserAgent is set on requests that do not carry one.
	UserAgent string
}

// DefaultConfig suits third-party verification endpoints: a short overall
// timeout and a single retry.
func DefaultConfig() Config {
	return Config{
		Timeout:         10 * time.Second,
		MaxRetries:      1,
		RetryWaitMin:    200 * time.Millisecond,
		RetryWaitMax:    time.Second,
		MaxConnsPerHost: 20,
		UserAgent:       "machinery-comments/1",
	}
}

// Client is an http.Client that retries transient failures.
type Client struct {
	httpClient *http.Client
	config     Config
}

func New(cfg Config) *Client {
	dialer := &net.Dialer{Timeout: 5 * time.Second, KeepAlive: 30 * time.Second}
	return &Client{
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
			Transport: &http.Transport{
				Proxy:                 http.ProxyFromEnvironment,
				DialContext:           dialer.DialContext,
				ForceAttemptHTTP2:     true,
				MaxIdleConns:          50,
				MaxIdleConnsPerHost:   cfg.MaxConnsPerHost,
				MaxConnsPerHost:       cfg.MaxConnsPerHost,
				IdleConnTimeout:       90 * time.Second,
				TLSHandshakeTimeout:   5 * time.Second,
				ExpectContinueTimeout: time.Second,
			},
		},
		config: cfg,
	}
}

// Do sends req, retrying network errors and 5xx replies other than 501 up to
// MaxRetries times with jittered exponential backoff. The body is rewound
// through req.GetBody before each retry. Once retries are spent the last
// response is returned as is.
func (c *Client) Do(ctx context.Context, req *http.Request) (*http.Response, error) {
	req = req.WithContext(ctx)
	if c.config.UserAgent != "" && req.Header.Get("User-Agent") == "" {
		req.Header.Set("User-Agent", c.config.UserAgent)
	}

	for attempt := 0; ; attempt++ {
		resp, err := c.httpClient.Do(req)
		if attempt >= c.config.MaxRetries || !shouldRetry(resp, err) {
			if err != nil {
				return nil, fmt.Errorf("%s %s after %d attempts: %w", req.Method, req.URL.Host, attempt+1, err)
			}
			return resp, nil
		}
		if resp != nil {
			_, _ = io.Copy(io.Discard, resp.Body)
			_ = resp.Body.Close()
		}

		select {
		case <-time.After(c.backoff(attempt)):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		if req.GetBody != nil {
			if req.Body, err = req.GetBody(); err != nil {
				return nil, fmt.Errorf("rewind request body: %w", err)
			}
		}
	}
}

func shouldRetry(resp *http.Response, err error) bool {
	if err != nil {
		return isRetryableError(err)
	}
	return resp.StatusCode >= http.StatusInternalServerError && resp.StatusCode != http.StatusNotImplemented
}

// backoff is the wait after the given zero-based attempt.
func (c *Client) backoff(attempt int) time.Duration {
	wait := c.config.RetryWaitMax
	if attempt < 16 {
		wait = min(c.config.RetryWaitMin<<attempt, wait)
	}
	return addJitter(wait)
}

// isRetryableError reports whether err is a network error. Cancellation and
// deadlines are not retried.
func isRetryableError(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}

// addJitter spreads d by up to 20% either way.
func addJitter(d time.Duration) time.Duration {
	if d <= 0 {
		return d
	}
	spread := float64(d) * 0.2 * (2*rand.Float64() - 1) // #nosec G404 -- jitter only
	return d + time.Duration(spread)
}
