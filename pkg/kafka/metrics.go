package kafka

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	metricsNamespace = "comments"
	metricsSubsystem = "events"
)

var (
	eventsPublished = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Subsystem: metricsSubsystem,
		Name:      "published_total",
		Help:      "Events written to Kafka, by topic.",
	}, []string{"topic"})

	publishFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Subsystem: metricsSubsystem,
		Name:      "publish_failures_total",
		Help:      "Kafka writes that returned an error, by topic.",
	}, []string{"topic"})

	publishLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: metricsNamespace,
		Subsystem: metricsSubsystem,
		Name:      "publish_duration_seconds",
		Help:      "Time spent in Kafka writes, by topic.",
		Buckets:   []float64{.002, .01, .05, .1, .25, .5, 1, 2.5, 5},
	}, []string{"topic"})
)
