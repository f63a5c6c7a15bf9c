package repository

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	storageInitAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "comments",
			Name:      "storage_init_attempts_total",
			Help:      "Total number of storage initialization attempts.",
		},
		[]string{"backend"},
	)

	storageInitFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "comments",
			Name:      "storage_init_failures_total",
			Help:      "Total number of failed storage initialization attempts by failure code.",
		},
		[]string{"backend", "code"},
	)
)
