package insights

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/segmentio/kafka-go"
)

type fakeWriter struct {
	mu     sync.Mutex
	err    error
	msgs   []kafka.Message
	closed bool
}

func (w *fakeWriter) WriteMessages(ctx context.Context, msgs ...kafka.Message) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *fakeWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.closed = true
	return nil
}

func (w *fakeWriter) count() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.msgs)
}

func newTestPublisher(w *fakeWriter) (*KafkaPublisher, *Metrics) {
	m := NewMetrics(nil)
	p := NewKafkaPublisher(KafkaConfig{}, "user-7", NewNopLogger(), m)
	if w != nil {
		p.writer = w
		p.enabled = true
		p.topic = DefaultKafkaTopic
	}
	p.now = func() time.Time { return time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC) }
	return p, m
}

func runPublisher(t *testing.T, p *KafkaPublisher) (stop func()) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- p.Run(ctx) }()
	return func() {
		cancel()
		if err := <-done; err != nil {
			t.Errorf("Run: %v", err)
		}
	}
}

func TestKafkaPublisherWritesInsight(t *testing.T) {
	w := &fakeWriter{}
	p, m := newTestPublisher(w)
	stop := runPublisher(t, p)

	insight := ClassifiedInsight{Agent: "Sales Agent", Headline: "Upsell path", Summary: "Offer analytics."}
	if !p.Enqueue(insight) {
		t.Fatal("Enqueue rejected")
	}
	waitFor(t, "kafka write", func() bool { return w.count() == 1 })
	stop()

	msg := w.msgs[0]
	if string(msg.Key) != "Sales Agent" {
		t.Errorf("Key = %q", msg.Key)
	}
	var ev InsightEvent
	if err := json.Unmarshal(msg.Value, &ev); err != nil {
		t.Fatalf("decode value: %v", err)
	}
	if ev.Headline != "Upsell path" || ev.UserID != "user-7" || ev.AcceptedAt.Year() != 2024 {
		t.Errorf("event = %+v", ev)
	}
	headers := map[string]string{}
	for _, h := range msg.Headers {
		headers[h.Key] = string(h.Value)
	}
	if headers["eventType"] != KindInsight || headers["userId"] != "user-7" {
		t.Errorf("headers = %v", headers)
	}
	if got := testutil.ToFloat64(m.PublishedInsights.WithLabelValues(publishOK)); got != 1 {
		t.Errorf("published{ok} = %v", got)
	}
	if !w.closed {
		t.Error("writer not closed on shutdown")
	}
}

func TestKafkaPublisherWriteFailure(t *testing.T) {
	w := &fakeWriter{err: errors.New("leader not available")}
	p, m := newTestPublisher(w)
	stop := runPublisher(t, p)
	p.Enqueue(ClassifiedInsight{Agent: "a"})

	waitFor(t, "failure counted", func() bool {
		return testutil.ToFloat64(m.PublishedInsights.WithLabelValues(publishFailed)) == 1
	})
	stop()
}

func TestKafkaPublisherQueueFull(t *testing.T) {
	p, m := newTestPublisher(&fakeWriter{})
	for i := 0; i < publishQueueSize; i++ {
		if !p.Enqueue(ClassifiedInsight{Agent: "a"}) {
			t.Fatalf("Enqueue %d rejected before the queue filled", i)
		}
	}
	if p.Enqueue(ClassifiedInsight{Agent: "a"}) {
		t.Error("Enqueue accepted past capacity")
	}
	if got := testutil.ToFloat64(m.PublishedInsights.WithLabelValues(publishDropped)); got != 1 {
		t.Errorf("published{dropped} = %v", got)
	}
}

func TestKafkaPublisherLogOnly(t *testing.T) {
	p, m := newTestPublisher(nil)
	if p.enabled {
		t.Fatal("publisher without brokers should be log-only")
	}
	stop := runPublisher(t, p)
	p.Enqueue(ClassifiedInsight{Agent: "a", Headline: "h"})
	waitFor(t, "log-only publish", func() bool {
		return testutil.ToFloat64(m.PublishedInsights.WithLabelValues(publishLogOnly)) == 1
	})
	stop()
}

func TestNewKafkaPublisherEnabled(t *testing.T) {
	p := NewKafkaPublisher(KafkaConfig{Enabled: true, Brokers: []string{"localhost:9092"}, Topic: "t"}, "", NewNopLogger(), nil)
	if !p.enabled {
		t.Fatal("publisher should be enabled")
	}
	kw, ok := p.writer.(*kafka.Writer)
	if !ok {
		t.Fatalf("writer = %T", p.writer)
	}
	if kw.Topic != "t" || kw.RequiredAcks != kafka.RequireOne {
		t.Errorf("writer = %+v", kw)
	}
}
