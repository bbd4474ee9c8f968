// Package metrics holds the Prometheus collectors for cway-mcp.
//
// A nil *Recorder is valid and records nothing, so components can be
// constructed without metrics in tests.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "cway_mcp"

// Outcome labels shared by the counters below.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
	OutcomeReauth  = "reauth_required"
)

// Recorder owns a private registry and the collectors registered on it.
type Recorder struct {
	registry *prometheus.Registry
	handler  http.Handler

	refreshes       *prometheus.CounterVec
	refreshDuration prometheus.Histogram
	confirmations   *prometheus.CounterVec
	prepared        *prometheus.CounterVec
	logins          *prometheus.CounterVec
	activeSessions  prometheus.Gauge
	upstreamCalls   *prometheus.CounterVec
}

// New registers the cway-mcp collectors on a fresh registry.
func New() *Recorder {
	registry := prometheus.NewRegistry()

	refreshes := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "token_refreshes_total",
		Help:      "Access token refresh attempts by outcome",
	}, []string{"outcome"})

	refreshDuration := prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "token_refresh_duration_seconds",
		Help:      "Latency of refresh calls to the token endpoint",
		Buckets:   prometheus.DefBuckets,
	})

	confirmations := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "confirmations_total",
		Help:      "Confirmation attempts by action and result",
	}, []string{"action", "result"})

	prepared := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "confirmation_tokens_issued_total",
		Help:      "Confirmation tokens issued by action",
	}, []string{"action"})

	logins := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "logins_total",
		Help:      "Completed interactive logins by outcome",
	}, []string{"outcome"})

	activeSessions := prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "cached_sessions",
		Help:      "Sessions currently held in the in-memory cache",
	})

	upstreamCalls := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "upstream_requests_total",
		Help:      "Cway API requests by operation and outcome",
	}, []string{"operation", "outcome"})

	registry.MustRegister(refreshes, refreshDuration, confirmations, prepared, logins, activeSessions, upstreamCalls)

	return &Recorder{
		registry:        registry,
		handler:         promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		refreshes:       refreshes,
		refreshDuration: refreshDuration,
		confirmations:   confirmations,
		prepared:        prepared,
		logins:          logins,
		activeSessions:  activeSessions,
		upstreamCalls:   upstreamCalls,
	}
}

// Handler exposes the Prometheus HTTP handler.
func (r *Recorder) Handler() http.Handler {
	if r == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		})
	}
	return r.handler
}

// Registry returns the underlying registry.
func (r *Recorder) Registry() *prometheus.Registry {
	if r == nil {
		return nil
	}
	return r.registry
}

// ObserveRefresh records one refresh attempt.
func (r *Recorder) ObserveRefresh(outcome string, d time.Duration) {
	if r == nil {
		return
	}
	r.refreshes.WithLabelValues(outcome).Inc()
	r.refreshDuration.Observe(d.Seconds())
}

// TokenIssued records a confirmation token issued for action.
func (r *Recorder) TokenIssued(action string) {
	if r == nil {
		return
	}
	r.prepared.WithLabelValues(action).Inc()
}

// ConfirmResult records the result of a confirm call ("confirmed",
// "expired", "used", "mismatch", "invalid").
func (r *Recorder) ConfirmResult(action, result string) {
	if r == nil {
		return
	}
	r.confirmations.WithLabelValues(action, result).Inc()
}

// Login records a completed or failed interactive login.
func (r *Recorder) Login(outcome string) {
	if r == nil {
		return
	}
	r.logins.WithLabelValues(outcome).Inc()
}

// SetCachedSessions sets the cached session gauge.
func (r *Recorder) SetCachedSessions(n int) {
	if r == nil {
		return
	}
	r.activeSessions.Set(float64(n))
}

// UpstreamCall records a Cway API request.
func (r *Recorder) UpstreamCall(operation, outcome string) {
	if r == nil {
		return
	}
	r.upstreamCalls.WithLabelValues(operation, outcome).Inc()
}
