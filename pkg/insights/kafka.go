package insights

import (
	"context"
	"encoding/json"
	"time"

	"github.com/segmentio/kafka-go"
)

const publishQueueSize = 128

// Publish results, used as metric labels.
const (
	publishOK      = "ok"
	publishFailed  = "failed"
	publishDropped = "dropped"
	publishLogOnly = "log_only"
)

// InsightPublisher receives accepted insights. Enqueue must not block.
type InsightPublisher interface {
	Enqueue(insight ClassifiedInsight) bool
}

// messageWriter is the part of *kafka.Writer the publisher uses.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// InsightEvent is the JSON payload written to Kafka.
type InsightEvent struct {
	ClassifiedInsight
	UserID     string    `json:"user_id,omitempty"`
	AcceptedAt time.Time `json:"accepted_at"`
}

// KafkaPublisher forwards accepted insights to a topic, keyed by agent.
// Insights are queued in a bounded buffer and dropped when it is full.
type KafkaPublisher struct {
	writer  messageWriter
	topic   string
	userID  string
	enabled bool
	queue   chan InsightEvent
	logger  *Logger
	metrics *Metrics
	now     func() time.Time
}

// NewKafkaPublisher builds a publisher from cfg. With Kafka disabled it runs
// in log-only mode.
func NewKafkaPublisher(cfg KafkaConfig, userID string, logger *Logger, metrics *Metrics) *KafkaPublisher {
	if logger == nil {
		logger = GetGlobalLogger()
	}
	if metrics == nil {
		metrics = NewMetrics(nil)
	}
	p := &KafkaPublisher{
		topic:   cfg.Topic,
		userID:  userID,
		queue:   make(chan InsightEvent, publishQueueSize),
		logger:  logger.WithComponent("kafka"),
		metrics: metrics,
		now:     time.Now,
	}

	if !cfg.Enabled || len(cfg.Brokers) == 0 {
		p.logger.Info("Kafka disabled, using log-only mode")
		return p
	}

	dialer := &kafka.Dialer{
		Timeout:   10 * time.Second,
		DualStack: true,
	}
	p.writer = &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{},
		BatchTimeout: 10 * time.Millisecond,
		WriteTimeout: 10 * time.Second,
		RequiredAcks: kafka.RequireOne,
		Transport:    &kafka.Transport{Dial: dialer.DialFunc},
	}
	p.enabled = true
	p.logger.WithField("brokers", cfg.Brokers).WithField("topic", cfg.Topic).Info("Kafka publisher initialized")
	return p
}

// Enqueue hands an insight to the publisher without blocking.
func (p *KafkaPublisher) Enqueue(insight ClassifiedInsight) bool {
	ev := InsightEvent{ClassifiedInsight: insight, UserID: p.userID, AcceptedAt: p.now()}
	select {
	case p.queue <- ev:
		return true
	default:
		p.metrics.PublishedInsights.WithLabelValues(publishDropped).Inc()
		p.logger.WithField("agent", insight.Agent).Warn("Publish queue full, dropping insight")
		return false
	}
}

// Run publishes queued insights until ctx is cancelled, then closes the writer.
func (p *KafkaPublisher) Run(ctx context.Context) error {
	defer p.close()
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev := <-p.queue:
			p.publish(ctx, ev)
		}
	}
}

func (p *KafkaPublisher) publish(ctx context.Context, ev InsightEvent) {
	payload, err := json.Marshal(ev)
	if err != nil {
		p.logger.WithError(err).Error("Failed to marshal insight")
		p.metrics.PublishedInsights.WithLabelValues(publishFailed).Inc()
		return
	}

	if !p.enabled || p.writer == nil {
		p.logger.WithField("agent", ev.Agent).WithField("headline", ev.Headline).Debug("Publishing insight")
		p.metrics.PublishedInsights.WithLabelValues(publishLogOnly).Inc()
		return
	}

	msg := kafka.Message{
		Key:   []byte(ev.Agent),
		Value: payload,
		Headers: []kafka.Header{
			{Key: "eventType", Value: []byte(KindInsight)},
			{Key: "userId", Value: []byte(p.userID)},
		},
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		p.logger.WithError(err).WithField("topic", p.topic).WithField("agent", ev.Agent).Error("Failed to write to Kafka")
		p.metrics.PublishedInsights.WithLabelValues(publishFailed).Inc()
		return
	}
	p.metrics.PublishedInsights.WithLabelValues(publishOK).Inc()
}

func (p *KafkaPublisher) close() {
	if p.writer == nil {
		return
	}
	if err := p.writer.Close(); err != nil {
		p.logger.WithError(err).Error("Error closing Kafka writer")
	}
}
