package notification

import (
	"context"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"

	"signal-engine/internal/model"
)

// KafkaWriter is the subset of *kafka.Writer the notifier needs.
type KafkaWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaNotifier publishes alerts to a Kafka topic, keyed by symbol so every
// symbol's alerts stay ordered within one partition.
type KafkaNotifier struct {
	writer KafkaWriter
	topic  string
}

// NewKafkaNotifier creates a notifier writing to topic on brokers.
func NewKafkaNotifier(brokers []string, topic string) *KafkaNotifier {
	return NewKafkaNotifierWithWriter(&kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		BatchTimeout: 10 * time.Millisecond,
		RequiredAcks: kafka.RequireOne,
	}, topic)
}

// NewKafkaNotifierWithWriter wraps an existing writer.
func NewKafkaNotifierWithWriter(w KafkaWriter, topic string) *KafkaNotifier {
	return &KafkaNotifier{writer: w, topic: topic}
}

func (k *KafkaNotifier) Name() string { return "kafka" }

func (k *KafkaNotifier) Notify(ctx context.Context, ev model.AlertEvent) error {
	err := k.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(ev.Key()),
		Value: ev.JSON(),
		Time:  ev.EmittedAt,
		Headers: []kafka.Header{
			{Key: "alert_id", Value: []byte(ev.ID)},
			{Key: "signal", Value: []byte(ev.Signal)},
		},
	})
	if err != nil {
		return fmt.Errorf("kafka %s: %w", k.topic, err)
	}
	return nil
}

// Close flushes and closes the underlying writer.
func (k *KafkaNotifier) Close() error {
	return k.writer.Close()
}
