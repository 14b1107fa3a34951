package observability

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "lainbot"

type moduleMetrics struct {
	providerConnectTotal *prometheus.CounterVec
	providersReady       prometheus.Gauge

	toolDispatchTotal    *prometheus.CounterVec
	toolDispatchDuration *prometheus.HistogramVec

	modelStreamTotal    *prometheus.CounterVec
	modelStreamDuration *prometheus.HistogramVec

	turnTotal          *prometheus.CounterVec
	turnToolIterations prometheus.Histogram

	sessionLoadDuration prometheus.Histogram
	sessionSaveDuration prometheus.Histogram
}

var (
	metricsOnce sync.Once
	metricsInst *moduleMetrics
)

func getMetrics() *moduleMetrics {
	metricsOnce.Do(func() {
		m := &moduleMetrics{
			providerConnectTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Namespace: namespace,
					Name:      "provider_connect_total",
					Help:      "Provider connection attempts by provider and status.",
				},
				[]string{"provider", "status"},
			),
			providersReady: prometheus.NewGauge(
				prometheus.GaugeOpts{
					Namespace: namespace,
					Name:      "providers_ready",
					Help:      "Providers currently present in the tool catalog.",
				},
			),
			toolDispatchTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Namespace: namespace,
					Name:      "tool_dispatch_total",
					Help:      "Tool dispatches by namespaced tool and status.",
				},
				[]string{"tool", "status"},
			),
			toolDispatchDuration: prometheus.NewHistogramVec(
				prometheus.HistogramOpts{
					Namespace: namespace,
					Name:      "tool_dispatch_duration_seconds",
					Help:      "Tool dispatch duration in seconds by provider.",
					Buckets:   prometheus.DefBuckets,
				},
				[]string{"provider"},
			),
			modelStreamTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Namespace: namespace,
					Name:      "model_stream_total",
					Help:      "Streaming model calls by endpoint and status.",
				},
				[]string{"endpoint", "status"},
			),
			modelStreamDuration: prometheus.NewHistogramVec(
				prometheus.HistogramOpts{
					Namespace: namespace,
					Name:      "model_stream_duration_seconds",
					Help:      "Streaming model call duration in seconds by endpoint.",
					Buckets:   []float64{0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
				},
				[]string{"endpoint"},
			),
			turnTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Namespace: namespace,
					Name:      "agent_turn_total",
					Help:      "Conversation turns by outcome.",
				},
				[]string{"outcome"},
			),
			turnToolIterations: prometheus.NewHistogram(
				prometheus.HistogramOpts{
					Namespace: namespace,
					Name:      "agent_turn_tool_iterations",
					Help:      "Tool rounds per conversation turn.",
					Buckets:   []float64{0, 1, 2, 3, 5, 8, 13},
				},
			),
			sessionLoadDuration: prometheus.NewHistogram(
				prometheus.HistogramOpts{
					Namespace: namespace,
					Name:      "session_load_duration_seconds",
					Help:      "Session load duration in seconds.",
					Buckets:   prometheus.DefBuckets,
				},
			),
			sessionSaveDuration: prometheus.NewHistogram(
				prometheus.HistogramOpts{
					Namespace: namespace,
					Name:      "session_save_duration_seconds",
					Help:      "Session save duration in seconds.",
					Buckets:   prometheus.DefBuckets,
				},
			),
		}

		prometheus.MustRegister(
			m.providerConnectTotal,
			m.providersReady,
			m.toolDispatchTotal,
			m.toolDispatchDuration,
			m.modelStreamTotal,
			m.modelStreamDuration,
			m.turnTotal,
			m.turnToolIterations,
			m.sessionLoadDuration,
			m.sessionSaveDuration,
		)

		metricsInst = m
	})

	return metricsInst
}

// EnsureRegistered initializes and registers metrics the first time it is called.
func EnsureRegistered() {
	_ = getMetrics()
}

func MetricsHandler() http.Handler {
	EnsureRegistered()
	return promhttp.Handler()
}

func status(success bool) string {
	if success {
		return "success"
	}
	return "error"
}

func RecordProviderConnect(provider string, success bool) {
	getMetrics().providerConnectTotal.WithLabelValues(provider, status(success)).Inc()
}

func SetProvidersReady(count int) {
	getMetrics().providersReady.Set(float64(count))
}

func RecordToolDispatch(tool, provider string, duration time.Duration, success bool) {
	m := getMetrics()
	m.toolDispatchTotal.WithLabelValues(tool, status(success)).Inc()
	m.toolDispatchDuration.WithLabelValues(provider).Observe(duration.Seconds())
}

func RecordModelStream(endpoint string, duration time.Duration, success bool) {
	m := getMetrics()
	m.modelStreamTotal.WithLabelValues(endpoint, status(success)).Inc()
	m.modelStreamDuration.WithLabelValues(endpoint).Observe(duration.Seconds())
}

// RecordTurn counts a finished turn. Outcome is "settled", "capped" or
// "error".
func RecordTurn(outcome string, toolIterations int) {
	m := getMetrics()
	m.turnTotal.WithLabelValues(outcome).Inc()
	m.turnToolIterations.Observe(float64(toolIterations))
}

func RecordSessionLoad(duration time.Duration) {
	getMetrics().sessionLoadDuration.Observe(duration.Seconds())
}

func RecordSessionSave(duration time.Duration) {
	getMetrics().sessionSaveDuration.Observe(duration.Seconds())
}
