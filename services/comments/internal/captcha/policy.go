package captcha

import (
	"context"
	"log/slog"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	apperrors "github.com/machinery-site/comments/pkg/errors"
	"github.com/machinery-site/comments/pkg/httpclient"
)

// unavailableRetryAfter is the Retry-After hint when the provider cannot be reached.
const unavailableRetryAfter = 30

var verifications = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "comments",
	Name:      "captcha_verifications_total",
	Help:      "CAPTCHA checks by result.",
}, []string{"result"})

// Policy decides whether a submission must carry a CAPTCHA token:
//
//   - environment "test": never verified
//   - no secret configured: skipped with a warning
//   - no token outside production: soft-skipped
//   - no token in production: CAPTCHA_REQUIRED
type Policy struct {
	environment string
	verifier    Verifier
	logger      *slog.Logger
	warnOnce    sync.Once
}

// NewPolicy creates a policy. A nil verifier means no secret is configured.
func NewPolicy(environment string, verifier Verifier, logger *slog.Logger) *Policy {
	return &Policy{environment: environment, verifier: verifier, logger: logger}
}

// Check applies the policy to one submission.
func (p *Policy) Check(ctx context.Context, token, remoteIP string) error {
	if p.environment == "test" {
		verifications.WithLabelValues("skipped").Inc()
		return nil
	}

	if p.verifier == nil {
		p.warnOnce.Do(func() {
			p.logger.WarnContext(ctx, "CAPTCHA secret not configured, submissions are not verified",
				slog.String("environment", p.environment),
			)
		})
		verifications.WithLabelValues("skipped").Inc()
		return nil
	}

	if token == "" {
		if p.environment == "production" {
			verifications.WithLabelValues("missing").Inc()
			return apperrors.Forbidden("CAPTCHA_REQUIRED", "CAPTCHA verification is required")
		}
		verifications.WithLabelValues("skipped").Inc()
		return nil
	}

	ok, err := p.verifier.Verify(ctx, token, remoteIP)
	if err != nil {
		result := "unavailable"
		if httpclient.IsOpen(err) {
			result = "breaker_open"
		}
		verifications.WithLabelValues(result).Inc()
		p.logger.ErrorContext(ctx, "CAPTCHA verification unavailable",
			slog.String("result", result),
			slog.String("error", err.Error()),
		)
		return apperrors.Unavailable("CAPTCHA_UNAVAILABLE",
			"CAPTCHA verification is temporarily unavailable. Please try again later.", unavailableRetryAfter, err)
	}
	if !ok {
		verifications.WithLabelValues("failed").Inc()
		return apperrors.Forbidden("CAPTCHA_FAILED", "CAPTCHA verification failed")
	}

	verifications.WithLabelValues("passed").Inc()
	return nil
}
