package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/couchcryptid/rainfall-grid-etl/internal/domain"
	kafkago "github.com/segmentio/kafka-go"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafkago.Message) error
	Close() error
}

// Notifier announces finished feature outputs on a Kafka topic.
// It implements pipeline.Publisher.
type Notifier struct {
	writer messageWriter
	logger *slog.Logger
}

// NewNotifier creates a Kafka producer for topic.
func NewNotifier(brokers []string, topic string, logger *slog.Logger) *Notifier {
	w := &kafkago.Writer{
		Addr:                   kafkago.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafkago.Hash{},
		RequiredAcks:           kafkago.RequireAll,
		AllowAutoTopicCreation: true,
	}
	return &Notifier{writer: w, logger: logger}
}

// Publish sends one message per target date. The key is the target date so
// reruns of a date land on the same partition.
func (n *Notifier) Publish(ctx context.Context, _ string, manifest domain.Manifest) error {
	msg, err := serializeToMessage(manifest)
	if err != nil {
		return err
	}
	if err := n.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("publish features-ready for %s: %w", manifest.TargetDate, err)
	}
	n.logger.Debug("features-ready published", "date", manifest.TargetDate)
	return nil
}

func (n *Notifier) Close() error {
	return n.writer.Close()
}

// serializeToMessage marshals a manifest into a Kafka message.
func serializeToMessage(manifest domain.Manifest) (kafkago.Message, error) {
	data, err := json.Marshal(manifest)
	if err != nil {
		return kafkago.Message{}, fmt.Errorf("serialize manifest: %w", err)
	}
	return kafkago.Message{
		Key:   []byte(manifest.TargetDate),
		Value: data,
		Headers: []kafkago.Header{
			{Key: "target_date", Value: []byte(manifest.TargetDate)},
			{Key: "rainfall_through", Value: []byte(manifest.RainfallThrough)},
		},
	}, nil
}
