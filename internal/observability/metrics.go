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
	ActiveCalls       prometheus.Gauge
	CallEvents        *prometheus.CounterVec
	WSMessages        *prometheus.CounterVec
	ProviderErrors    *prometheus.CounterVec
	ChatReplies       *prometheus.CounterVec
	TokenIssues       *prometheus.CounterVec
	FirstAudioLatency prometheus.Histogram

	latency *latencyWindow
}

func NewMetrics(namespace string) *Metrics {
	return &Metrics{
		ActiveCalls: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_calls",
			Help:      "Number of active realtime voice calls.",
		}),
		CallEvents: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "call_events_total",
			Help:      "Voice call lifecycle events by type.",
		}, []string{"event"}),
		WSMessages: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ws_messages_total",
			Help:      "WebSocket messages by direction and type.",
		}, []string{"direction", "type"}),
		ProviderErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "provider_errors_total",
			Help:      "Provider errors by operation and code.",
		}, []string{"operation", "code"}),
		ChatReplies: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "chat_replies_total",
			Help:      "Text replies by outcome.",
		}, []string{"outcome"}),
		TokenIssues: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "token_issues_total",
			Help:      "Realtime credential issuance by outcome.",
		}, []string{"outcome"}),
		FirstAudioLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "first_audio_latency_ms",
			Help:      "Latency from session open to first assistant audio chunk in milliseconds.",
			Buckets:   []float64{250, 500, 750, 1000, 1500, 2000, 3000, 5000},
		}),
		latency: newLatencyWindow(256),
	}
}

func (m *Metrics) ObserveFirstAudioLatency(d time.Duration) {
	if m == nil {
		return
	}
	m.FirstAudioLatency.Observe(float64(d.Milliseconds()))
	m.latency.Observe(StageVoiceFirstAudio, d)
}

// ObserveStage records d in the rolling latency window served by /v1/perf/latency.
func (m *Metrics) ObserveStage(stage string, d time.Duration) {
	if m == nil {
		return
	}
	m.latency.Observe(stage, d)
}

func (m *Metrics) ObserveChatReply(outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.ChatReplies.WithLabelValues(outcome).Inc()
	m.latency.Observe(StageChatReply, d)
	m.latency.Count("chat_" + outcome)
}

func (m *Metrics) ObserveTokenIssue(outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.TokenIssues.WithLabelValues(outcome).Inc()
	if outcome == "ok" {
		m.latency.Observe(StageTokenIssue, d)
	}
	m.latency.Count("token_" + outcome)
}

func (m *Metrics) ObserveProviderError(operation, code string) {
	if m == nil {
		return
	}
	m.ProviderErrors.WithLabelValues(operation, code).Inc()
}

func (m *Metrics) ObserveCallEvent(event string) {
	if m == nil {
		return
	}
	m.CallEvents.WithLabelValues(event).Inc()
	m.latency.Count("call_" + event)
}

// ObserveWSMessage counts relay websocket traffic. direction is inbound,
// outbound or dropped.
func (m *Metrics) ObserveWSMessage(direction, messageType string) {
	if m == nil {
		return
	}
	m.WSMessages.WithLabelValues(direction, messageType).Inc()
}

func (m *Metrics) SetActiveCalls(n int) {
	if m == nil {
		return
	}
	m.ActiveCalls.Set(float64(n))
}

func (m *Metrics) SnapshotLatency() LatencySnapshot {
	if m == nil {
		return LatencySnapshot{GeneratedAt: time.Now().UTC()}
	}
	return m.latency.Snapshot()
}

func MetricsHandler() http.Handler {
	return promhttp.Handler()
}
