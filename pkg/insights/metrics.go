package insights

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "insights_client"

// Metrics holds the Prometheus instruments for one session.
type Metrics struct {
	// Audio
	FramesSent    prometheus.Counter
	FramesDropped *prometheus.CounterVec
	AudioBytes    prometheus.Counter

	// Connection
	ConnectionState *prometheus.GaugeVec
	Reconnects      prometheus.Counter

	// Inbound
	MessagesReceived *prometheus.CounterVec
	ParseFailures    prometheus.Counter
	InsightsAccepted prometheus.Counter
	InsightsRejected *prometheus.CounterVec

	// Fan-out
	PublishedInsights *prometheus.CounterVec
}

// NewMetrics creates the instruments and registers them with reg. A nil reg
// leaves the instruments unregistered, which is what tests usually want.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		FramesSent: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "audio_frames_sent_total",
			Help:      "Audio frames written to the transport",
		}),
		FramesDropped: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "audio_frames_dropped_total",
			Help:      "Audio buffers dropped before reaching the transport",
		}, []string{"reason"}),
		AudioBytes: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "audio_bytes_sent_total",
			Help:      "PCM bytes written to the transport",
		}),
		ConnectionState: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "connection_state",
			Help:      "1 for the current connection state, 0 otherwise",
		}, []string{"state"}),
		Reconnects: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reconnects_scheduled_total",
			Help:      "Reconnect attempts scheduled after a close or error",
		}),
		MessagesReceived: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_received_total",
			Help:      "Inbound envelopes by kind",
		}, []string{"kind"}),
		ParseFailures: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "parse_failures_total",
			Help:      "Inbound frames that could not be decoded",
		}),
		InsightsAccepted: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "insights_accepted_total",
			Help:      "Insights that passed the quality filter",
		}),
		InsightsRejected: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "insights_rejected_total",
			Help:      "Insights dropped by the quality filter, by rule",
		}, []string{"rule"}),
		PublishedInsights: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "insights_published_total",
			Help:      "Insights forwarded to Kafka, by result",
		}, []string{"result"}),
	}
}

func (m *Metrics) recordState(state ConnectionState) {
	for _, s := range []ConnectionState{Idle, Connecting, Open, Closed, Errored} {
		v := 0.0
		if s == state {
			v = 1
		}
		m.ConnectionState.WithLabelValues(string(s)).Set(v)
	}
}
