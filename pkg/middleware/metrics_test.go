package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// collectMetric returns the first series of c whose labels include labels.
func collectMetric(c prometheus.Collector, labels map[string]string) *dto.Metric {
	ch := make(chan prometheus.Metric, 64)
	c.Collect(ch)
	close(ch)

	for m := range ch {
		d := &dto.Metric{}
		if m.Write(d) != nil {
			continue
		}
		have := make(map[string]string, len(d.GetLabel()))
		for _, lp := range d.GetLabel() {
			have[lp.GetName()] = lp.GetValue()
		}
		match := true
		for k, v := range labels {
			if have[k] != v {
				match = false
				break
			}
		}
		if match {
			return d
		}
	}
	return nil
}

func metricsRouter(service string, h http.HandlerFunc) *chi.Mux {
	r := chi.NewRouter()
	r.Use(PrometheusMetrics(service))
	r.Get("/api/comments", h)
	r.Patch("/api/comments/{id}", h)
	return r
}

func TestPrometheusMetrics_CountsByRoutePattern(t *testing.T) {
	r := metricsRouter("pattern-svc", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	for _, id := range []string{"3f0d", "a1b2", "c3d4"} {
		r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPatch, "/api/comments/"+id, nil))
	}

	m := collectMetric(httpRequestsTotal, map[string]string{
		"service": "pattern-svc", "method": "PATCH", "path": "/api/comments/{id}", "status": "200",
	})
	require.NotNil(t, m)
	assert.Equal(t, float64(3), m.GetCounter().GetValue())
}

func TestPrometheusMetrics_DurationAndStatus(t *testing.T) {
	tests := []struct {
		name    string
		service string
		handler http.HandlerFunc
		status  string
	}{
		{"explicit status", "hist-created", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusTooManyRequests) }, "429"},
		{"implicit 200", "hist-implicit", func(w http.ResponseWriter, r *http.Request) { _, _ = w.Write([]byte("{}")) }, "200"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			metricsRouter(tt.service, tt.handler).ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/comments", nil))

			m := collectMetric(httpRequestDuration, map[string]string{"service": tt.service, "status": tt.status})
			require.NotNil(t, m)
			assert.Equal(t, uint64(1), m.GetHistogram().GetSampleCount())
		})
	}
}

func TestPrometheusMetrics_UnmatchedPath(t *testing.T) {
	r := metricsRouter("unmatched-svc", func(w http.ResponseWriter, r *http.Request) {})

	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/wp-login.php", nil))

	assert.NotNil(t, collectMetric(httpRequestsTotal, map[string]string{"service": "unmatched-svc", "path": "unknown", "status": "404"}))
}

func TestPrometheusMetrics_InFlight(t *testing.T) {
	var during float64
	r := metricsRouter("inflight-svc", func(w http.ResponseWriter, r *http.Request) {
		during = collectMetric(httpRequestsInFlight, map[string]string{"service": "inflight-svc"}).GetGauge().GetValue()
	})

	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/comments", nil))

	assert.Equal(t, float64(1), during)
	assert.Equal(t, float64(0), collectMetric(httpRequestsInFlight, map[string]string{"service": "inflight-svc"}).GetGauge().GetValue())
}
