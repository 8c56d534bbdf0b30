package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics groups all Prometheus instruments used by the service.
type Metrics struct {
	ActiveSessions      prometheus.Gauge
	SessionEvents       *prometheus.CounterVec
	WSMessages          *prometheus.CounterVec
	DroppedFrames       *prometheus.CounterVec
	ProviderErrors      *prometheus.CounterVec
	Interruptions       prometheus.Counter
	FunctionCalls       *prometheus.CounterVec
	FunctionLatency     *prometheus.HistogramVec
	SlowFunctionCalls   *prometheus.CounterVec
	MonitorConnections  prometheus.Counter
	MonitorBroadcasts   prometheus.Counter
	ModelConnectLatency prometheus.Histogram
}

func NewMetrics(namespace string) *Metrics {
	return NewMetricsWith(prometheus.DefaultRegisterer, namespace)
}

// NewMetricsWith registers the instruments on reg. Tests pass a fresh
// prometheus.NewRegistry() to avoid duplicate registration.
func NewMetricsWith(reg prometheus.Registerer, namespace string) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		ActiveSessions: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_sessions",
			Help:      "Number of registered call sessions.",
		}),
		SessionEvents: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "session_events_total",
			Help:      "Session lifecycle events by type.",
		}, []string{"event"}),
		WSMessages: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ws_messages_total",
			Help:      "WebSocket messages by peer, direction and type.",
		}, []string{"peer", "direction", "type"}),
		DroppedFrames: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dropped_frames_total",
			Help:      "Inbound frames dropped because they failed to decode.",
		}, []string{"peer"}),
		ProviderErrors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "provider_errors_total",
			Help:      "Provider errors by provider and code.",
		}, []string{"provider", "code"}),
		Interruptions: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "interruptions_total",
			Help:      "Caller barge-ins that truncated assistant audio.",
		}),
		FunctionCalls: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "function_calls_total",
			Help:      "Model function calls by function and outcome.",
		}, []string{"function", "outcome"}),
		FunctionLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "function_call_latency_ms",
			Help:      "Function handler latency in milliseconds.",
			Buckets:   []float64{50, 100, 250, 500, 1000, 2000, 4000, 8000},
		}, []string{"function"}),
		SlowFunctionCalls: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "slow_function_calls_total",
			Help:      "Function calls slower than the configured threshold.",
		}, []string{"function"}),
		MonitorConnections: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "monitor_connections_total",
			Help:      "Accepted monitor connections.",
		}),
		MonitorBroadcasts: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "monitor_broadcasts_total",
			Help:      "Monitor frames broadcast to model connections.",
		}),
		ModelConnectLatency: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "model_connect_latency_ms",
			Help:      "Time to open the model connection in milliseconds.",
			Buckets:   []float64{100, 200, 300, 500, 700, 900, 1200, 2000},
		}),
	}
}

func (m *Metrics) ObserveFunctionCall(function, outcome string, d time.Duration) {
	m.FunctionCalls.WithLabelValues(function, outcome).Inc()
	m.FunctionLatency.WithLabelValues(function).Observe(float64(d.Milliseconds()))
}

func (m *Metrics) ObserveModelConnect(d time.Duration) {
	m.ModelConnectLatency.Observe(float64(d.Milliseconds()))
}

func (m *Metrics) ObserveMessage(peer, direction, msgType string) {
	m.WSMessages.WithLabelValues(peer, direction, msgType).Inc()
}

func MetricsHandler() http.Handler {
	return promhttp.Handler()
}
