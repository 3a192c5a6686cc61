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
	ActiveSessions   prometheus.Gauge
	SessionEvents    *prometheus.CounterVec
	TurnEvents       *prometheus.CounterVec
	StageTransitions *prometheus.CounterVec
	SignalAnomalies  *prometheus.CounterVec
	EngineRetries    prometheus.Counter
	EngineFailures   prometheus.Counter
	WSMessages       *prometheus.CounterVec
	TurnLatency      prometheus.Histogram

	window *turnWindow
}

func NewMetrics(namespace string) *Metrics {
	return &Metrics{
		ActiveSessions: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_sessions",
			Help:      "Number of interview sessions with non-terminal status.",
		}),
		SessionEvents: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "session_events_total",
			Help:      "Session lifecycle events by type.",
		}, []string{"event"}),
		TurnEvents: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "turn_events_total",
			Help:      "Turn events by event type and outcome.",
		}, []string{"event_type", "outcome"}),
		StageTransitions: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stage_transitions_total",
			Help:      "Stage transitions by from/to stage and trigger.",
		}, []string{"from", "to", "trigger"}),
		SignalAnomalies: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "signal_anomalies_total",
			Help:      "Interviewer replies with a missing or mismatched stage signal.",
		}, []string{"kind"}),
		EngineRetries: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "engine_retries_total",
			Help:      "Generation engine calls retried after a transient failure.",
		}),
		EngineFailures: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "engine_failures_total",
			Help:      "Turns answered with a fallback utterance after retry exhaustion.",
		}),
		WSMessages: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ws_messages_total",
			Help:      "WebSocket messages by direction and type.",
		}, []string{"direction", "type"}),
		TurnLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "turn_latency_ms",
			Help:      "End-to-end turn latency in milliseconds.",
			Buckets:   []float64{50, 100, 250, 500, 1000, 2000, 4000, 8000, 15000},
		}),
		window: newTurnWindow(0),
	}
}

// ObserveTurn records one completed turn in both the histogram and the
// rolling per-stage window served on the perf endpoint.
func (m *Metrics) ObserveTurn(stage string, d time.Duration) {
	if m == nil {
		return
	}
	ms := float64(d.Milliseconds())
	m.TurnLatency.Observe(ms)
	m.window.Observe(stage, ms)
}

// ObserveIndicator bumps a named perf-window indicator counter.
func (m *Metrics) ObserveIndicator(name string) {
	if m == nil {
		return
	}
	m.window.ObserveIndicator(name)
}

// SnapshotTurns returns the rolling latency window snapshot.
func (m *Metrics) SnapshotTurns() TurnSnapshot {
	if m == nil {
		return TurnSnapshot{}
	}
	return m.window.Snapshot()
}

func MetricsHandler() http.Handler {
	return promhttp.Handler()
}
