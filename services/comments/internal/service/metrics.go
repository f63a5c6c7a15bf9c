package service

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Submission outcomes.
const (
	outcomeAccepted    = "accepted"
	outcomeInvalid     = "invalid"
	outcomeCaptcha     = "captcha_rejected"
	outcomeSpam        = "spam"
	outcomeRateLimited = "rate_limited"
	outcomeDuplicate   = "duplicate"
	outcomeUnavailable = "unavailable"
	outcomeError       = "error"
)

var (
	submissionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "comments",
			Name:      "submissions_total",
			Help:      "Total number of public comment submissions by outcome.",
		},
		[]string{"outcome"},
	)

	moderationActionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "comments",
			Name:      "moderation_actions_total",
			Help:      "Total number of completed moderation actions by action and token source.",
		},
		[]string{"action", "token_source"},
	)
)
