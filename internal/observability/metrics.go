package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics groups all Prometheus instruments used by the service. A nil
// *Metrics is valid and records nothing.
type Metrics struct {
	ActiveCalls        prometheus.Gauge
	CallEvents         *prometheus.CounterVec
	WSMessages         *prometheus.CounterVec
	Interruptions      prometheus.Counter
	TruncateOffset     prometheus.Histogram
	ToolCalls          *prometheus.CounterVec
	ToolLatency        *prometheus.HistogramVec
	NotificationErrors *prometheus.CounterVec
	ModelDialLatency   prometheus.Histogram

	window *latencyWindow
}

func NewMetrics(namespace string) *Metrics {
	return &Metrics{
		ActiveCalls: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_calls",
			Help:      "Number of calls currently bridged to the realtime model.",
		}),
		CallEvents: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "call_events_total",
			Help:      "Call lifecycle events by type.",
		}, []string{"event"}),
		WSMessages: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ws_messages_total",
			Help:      "WebSocket messages by peer, direction and type.",
		}, []string{"peer", "direction", "type"}),
		Interruptions: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "interruptions_total",
			Help:      "Caller barge-ins that truncated an assistant response.",
		}),
		TruncateOffset: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "truncate_offset_ms",
			Help:      "Played-back assistant audio at the moment of interruption, in milliseconds.",
			Buckets:   []float64{100, 250, 500, 1000, 2000, 4000, 8000, 16000},
		}),
		ToolCalls: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tool_calls_total",
			Help:      "Function calls dispatched by tool and outcome.",
		}, []string{"tool", "outcome"}),
		ToolLatency: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "tool_latency_ms",
			Help:      "Function call execution latency in milliseconds.",
			Buckets:   []float64{5, 20, 50, 100, 250, 500, 1000, 2500, 5000},
		}, []string{"tool"}),
		NotificationErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notification_errors_total",
			Help:      "Failed SMS/email notifications by channel.",
		}, []string{"channel"}),
		ModelDialLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "model_dial_latency_ms",
			Help:      "Time to open a realtime model socket, in milliseconds.",
			Buckets:   []float64{50, 100, 250, 500, 1000, 2000, 5000},
		}),
		window: newLatencyWindow(256),
	}
}

func (m *Metrics) CallEvent(event string) {
	if m == nil {
		return
	}
	m.CallEvents.WithLabelValues(event).Inc()
}

func (m *Metrics) SetActiveCalls(n int) {
	if m == nil {
		return
	}
	m.ActiveCalls.Set(float64(n))
}

func (m *Metrics) ObserveMessage(peer, direction, msgType string) {
	if m == nil {
		return
	}
	m.WSMessages.WithLabelValues(peer, direction, msgType).Inc()
}

func (m *Metrics) ObserveInterruption(audioEndMS int64) {
	if m == nil {
		return
	}
	m.Interruptions.Inc()
	m.TruncateOffset.Observe(float64(audioEndMS))
	m.window.observe(StageTruncateOffset, float64(audioEndMS))
	m.window.count("interruption")
}

func (m *Metrics) ObserveToolCall(tool, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.ToolCalls.WithLabelValues(tool, outcome).Inc()
	m.ToolLatency.WithLabelValues(tool).Observe(float64(d.Milliseconds()))
	m.window.observe(ToolStage(tool), float64(d.Milliseconds()))
	if outcome != "ok" {
		m.window.count("tool_" + outcome)
	}
}

func (m *Metrics) ObserveModelDial(d time.Duration) {
	if m == nil {
		return
	}
	m.ModelDialLatency.Observe(float64(d.Milliseconds()))
	m.window.observe(StageModelDial, float64(d.Milliseconds()))
}

// LatencySnapshot reports recent per-stage latencies for the perf endpoint.
func (m *Metrics) LatencySnapshot() LatencySnapshot {
	if m == nil {
		return LatencySnapshot{GeneratedAt: time.Now().UTC()}
	}
	return m.window.snapshot()
}

func (m *Metrics) NotificationFailed(channel string) {
	if m == nil {
		return
	}
	m.NotificationErrors.WithLabelValues(channel).Inc()
}

func MetricsHandler() http.Handler {
	return promhttp.Handler()
}
