package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	kafkago "github.com/segmentio/kafka-go"

	"github.com/couchcryptid/sonde-alert/internal/domain"
)

// Writer publishes notification requests to a Kafka topic.
// It implements notify.Notifier.
type Writer struct {
	writer *kafkago.Writer
}

// NewWriter creates a Kafka producer for the given topic. No connection is
// made until the first Send.
func NewWriter(brokers []string, topic string) *Writer {
	w := &kafkago.Writer{
		Addr:         kafkago.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafkago.Hash{},
		RequiredAcks: kafkago.RequireAll,
	}
	return &Writer{writer: w}
}

func (w *Writer) Name() string { return "kafka" }

// Send publishes one notification, keyed by sonde serial so a sonde's alerts
// stay on one partition.
func (w *Writer) Send(ctx context.Context, req domain.NotificationRequest) error {
	msg, err := serializeToMessage(req)
	if err != nil {
		return err
	}
	if err := w.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("kafka: %w", err)
	}
	return nil
}

func (w *Writer) Close() error {
	return w.writer.Close()
}

// serializeToMessage marshals a NotificationRequest into a Kafka message.
func serializeToMessage(req domain.NotificationRequest) (kafkago.Message, error) {
	data, err := json.Marshal(req)
	if err != nil {
		return kafkago.Message{}, fmt.Errorf("serialize notification: %w", err)
	}
	return kafkago.Message{
		Key:   []byte(req.ObjectID),
		Value: data,
		Headers: []kafkago.Header{
			{Key: "criterion", Value: []byte(req.Criterion)},
			{Key: "created_at", Value: []byte(req.CreatedAt.Format(time.RFC3339))},
		},
	}, nil
}
