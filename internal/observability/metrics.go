package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics groups all Prometheus instruments used by the service.
// All methods are safe on a nil receiver.
type Metrics struct {
	ActiveSessions   prometheus.Gauge
	SessionEvents    *prometheus.CounterVec
	WSMessages       *prometheus.CounterVec
	OutboundMessages *prometheus.CounterVec
	ModelErrors      *prometheus.CounterVec
	MalformedChunks  *prometheus.CounterVec
	TurnsAppended    *prometheus.CounterVec
	ReplyLatency     prometheus.Histogram

	latency *latencyWindow
}

// NewMetrics registers the instruments with reg. A nil reg uses the default
// registerer, which is what MetricsHandler serves.
func NewMetrics(namespace string, reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)
	return &Metrics{
		ActiveSessions: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_sessions",
			Help:      "Number of active chat sessions.",
		}),
		SessionEvents: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "session_events_total",
			Help:      "Session events by type.",
		}, []string{"event"}),
		WSMessages: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ws_messages_total",
			Help:      "WebSocket messages by direction and type.",
		}, []string{"direction", "type"}),
		OutboundMessages: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "outbound_messages_total",
			Help:      "Server frames handed to a connection by type and delivery result.",
		}, []string{"type", "result"}),
		ModelErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "model_errors_total",
			Help:      "Model call failures by provider and code.",
		}, []string{"provider", "code"}),
		MalformedChunks: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "malformed_chunks_total",
			Help:      "Streamed chunks skipped because they carried no text.",
		}, []string{"provider"}),
		TurnsAppended: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "turns_appended_total",
			Help:      "Transcript turns appended by role.",
		}, []string{"role"}),
		ReplyLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "reply_latency_ms",
			Help:      "Latency from submit to the complete reply in milliseconds.",
			Buckets:   []float64{250, 500, 1000, 2000, 4000, 8000, 15000, 30000},
		}),
		latency: newLatencyWindow(512),
	}
}

func (m *Metrics) ObserveSessionEvent(event string) {
	if m == nil {
		return
	}
	m.SessionEvents.WithLabelValues(event).Inc()
}

func (m *Metrics) ObserveWSMessage(direction, msgType string) {
	if m == nil {
		return
	}
	m.WSMessages.WithLabelValues(direction, msgType).Inc()
}

func (m *Metrics) ObserveOutboundMessage(msgType, result string) {
	if m == nil {
		return
	}
	m.OutboundMessages.WithLabelValues(msgType, result).Inc()
}

func (m *Metrics) ObserveModelError(provider, code string) {
	if m == nil {
		return
	}
	m.ModelErrors.WithLabelValues(provider, code).Inc()
	m.latency.countFailed()
}

func (m *Metrics) ObserveMalformedChunk(provider string) {
	if m == nil {
		return
	}
	m.MalformedChunks.WithLabelValues(provider).Inc()
	m.latency.countMalformed()
}

func (m *Metrics) ObserveTurnAppended(role string) {
	if m == nil {
		return
	}
	m.TurnsAppended.WithLabelValues(role).Inc()
}

func (m *Metrics) SetActiveSessions(n int) {
	if m == nil {
		return
	}
	m.ActiveSessions.Set(float64(n))
}

// ObserveFirstChunkLatency records the time from submit to the first text
// chunk of a reply.
func (m *Metrics) ObserveFirstChunkLatency(d time.Duration) {
	if m == nil {
		return
	}
	m.latency.observeFirstChunk(d)
}

// ObserveReplyLatency records the time from submit to the complete reply.
func (m *Metrics) ObserveReplyLatency(d time.Duration) {
	if m == nil {
		return
	}
	m.ReplyLatency.Observe(float64(d.Milliseconds()))
	m.latency.observeReply(d)
}

func (m *Metrics) SnapshotLatency() LatencySnapshot {
	if m == nil {
		return LatencySnapshot{GeneratedAt: time.Now().UTC()}
	}
	return m.latency.snapshot()
}

func (m *Metrics) ResetLatency() {
	if m == nil {
		return
	}
	m.latency.reset()
}

func MetricsHandler() http.Handler {
	return promhttp.Handler()
}
