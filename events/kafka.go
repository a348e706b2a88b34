package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/twmb/franz-go/pkg/kgo"

	"github.com/ruteri/certificate-registry/interfaces"
	"github.com/ruteri/certificate-registry/metrics"
)

// producer is the subset of *kgo.Client used by KafkaSink.
type producer interface {
	Produce(ctx context.Context, r *kgo.Record, promise func(*kgo.Record, error))
	Flush(ctx context.Context) error
	Close()
}

// KafkaSink produces events as JSON records. Records are keyed by
// Event.Key, so all events about one certificate or institution land on the
// same partition and keep their order.
//
// Produce is asynchronous: Publish returns once the record is buffered and
// delivery failures are logged. Buffered records are detached from the
// caller's cancellation, so they outlive the request that published them;
// Close flushes them.
type KafkaSink struct {
	client producer
	topic  string
	log    *slog.Logger
}

// NewKafkaSink connects to the seed brokers and produces to topic.
func NewKafkaSink(brokers []string, topic string, log *slog.Logger) (*KafkaSink, error) {
	if len(brokers) == 0 {
		return nil, fmt.Errorf("kafka sink: no brokers configured")
	}
	if topic == "" {
		return nil, fmt.Errorf("kafka sink: topic is required")
	}

	client, err := kgo.NewClient(
		kgo.SeedBrokers(brokers...),
		kgo.DefaultProduceTopic(topic),
		kgo.ClientID("certificate-registry"),
	)
	if err != nil {
		return nil, fmt.Errorf("create kafka client: %w", err)
	}

	return newKafkaSink(client, topic, log), nil
}

func newKafkaSink(client producer, topic string, log *slog.Logger) *KafkaSink {
	return &KafkaSink{client: client, topic: topic, log: log}
}

func (s *KafkaSink) Publish(ctx context.Context, event interfaces.Event) error {
	value, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encode %s event: %w", event.Kind, err)
	}

	record := &kgo.Record{
		Topic: s.topic,
		Key:   []byte(event.Key()),
		Value: value,
		Headers: []kgo.RecordHeader{
			{Key: "event-kind", Value: []byte(event.Kind)},
		},
	}

	s.client.Produce(context.WithoutCancel(ctx), record, func(r *kgo.Record, err error) {
		if err != nil {
			metrics.EventsPublished.WithLabelValues("kafka", "error").Inc()
			s.log.Error("Failed to produce registry event",
				slog.String("kind", string(event.Kind)),
				slog.String("key", string(r.Key)),
				slog.Uint64("block", event.Block),
				"err", err)
			return
		}
		metrics.EventsPublished.WithLabelValues("kafka", "ok").Inc()
	})
	return nil
}

// Close flushes buffered records and closes the client.
func (s *KafkaSink) Close(ctx context.Context) error {
	err := s.client.Flush(ctx)
	s.client.Close()
	if err != nil {
		return fmt.Errorf("flush kafka records: %w", err)
	}
	return nil
}
