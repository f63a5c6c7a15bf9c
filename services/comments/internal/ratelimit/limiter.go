// Package ratelimit throttles comment submissions per client.
package ratelimit

import (
	"context"
	"log/slog"
	"math"
	"sync/atomic"
	"time"
)

const keyPrefix = "comments:ratelimit:"

// Config controls the submission window.
type Config struct {
	Window time.Duration
	Max    int
}

// DefaultConfig allows five submissions per fifteen minutes.
func DefaultConfig() Config {
	return Config{Window: 15 * time.Minute, Max: 5}
}

// Result is the outcome of one Allow call.
type Result struct {
	Limited           bool `json:"limited"`
	Remaining         int  `json:"remaining"`
	RetryAfterSeconds int  `json:"retryAfterSeconds,omitempty"`
}

// Limiter counts submissions in a primary Store. After the first primary
// failure it switches to an in-process store for the rest of the process
// lifetime and never retries the primary.
type Limiter struct {
	primary  Store
	fallback Store
	degraded atomic.Bool
	cfg      Config
	logger   *slog.Logger
}

// NewLimiter creates a limiter. A nil primary runs on the in-process store.
func NewLimiter(primary Store, cfg Config, logger *slog.Logger) *Limiter {
	if cfg.Window <= 0 {
		cfg.Window = DefaultConfig().Window
	}
	if cfg.Max <= 0 {
		cfg.Max = DefaultConfig().Max
	}
	return &Limiter{
		primary:  primary,
		fallback: NewMemoryStore(),
		cfg:      cfg,
		logger:   logger,
	}
}

// Allow records a submission by clientID and reports whether it is over the limit.
func (l *Limiter) Allow(ctx context.Context, clientID string) (Result, error) {
	key := keyPrefix + clientID

	count, ttl, err := l.increment(ctx, key)
	if err != nil {
		return Result{}, err
	}

	res := Result{Remaining: max(l.cfg.Max-int(count), 0)}
	if count > int64(l.cfg.Max) {
		res.Limited = true
		res.RetryAfterSeconds = max(int(math.Ceil(ttl.Seconds())), 1)
		decisions.WithLabelValues("limited").Inc()
		return res, nil
	}
	decisions.WithLabelValues("allowed").Inc()
	return res, nil
}

func (l *Limiter) increment(ctx context.Context, key string) (int64, time.Duration, error) {
	if l.primary == nil || l.degraded.Load() {
		return l.fallback.Increment(ctx, key, l.cfg.Window)
	}

	count, ttl, err := l.primary.Increment(ctx, key, l.cfg.Window)
	if err == nil {
		return count, ttl, nil
	}

	if l.degraded.CompareAndSwap(false, true) {
		fallbackActivations.Inc()
		l.logger.WarnContext(ctx, "rate limit store failed, using in-process counters until restart",
			slog.String("error", err.Error()),
		)
	}
	return l.fallback.Increment(ctx, key, l.cfg.Window)
}

// Degraded reports whether the limiter has abandoned its primary store.
func (l *Limiter) Degraded() bool {
	return l.primary != nil && l.degraded.Load()
}

// Backend names the store currently counting submissions.
func (l *Limiter) Backend() string {
	if l.primary == nil || l.degraded.Load() {
		return "memory"
	}
	return "redis"
}
