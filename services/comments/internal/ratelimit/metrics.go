package ratelimit

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	fallbackActivations = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "comments",
		Name:      "rate_limit_fallback_total",
		Help:      "Times the rate limiter switched from its primary store to the in-process store.",
	})

	decisions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "comments",
		Name:      "rate_limit_decisions_total",
		Help:      "Rate limit decisions by result.",
	}, []string{"result"})
)
