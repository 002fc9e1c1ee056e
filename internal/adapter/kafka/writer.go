package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/couchcryptid/map-marker-service/internal/domain"
	kafkago "github.com/segmentio/kafka-go"
)

// Writer publishes location change events to a Kafka topic.
// It implements service.EventPublisher.
type Writer struct {
	writer *kafkago.Writer
	logger *slog.Logger
}

// NewWriter creates a Kafka producer for topic. Messages are keyed by content
// id so updates to one location stay ordered within a partition.
func NewWriter(brokers []string, topic string, logger *slog.Logger) *Writer {
	w := &kafkago.Writer{
		Addr:         kafkago.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafkago.Hash{},
		RequiredAcks: kafkago.RequireAll,
	}
	return &Writer{writer: w, logger: logger}
}

// Publish serializes and writes a single event.
func (w *Writer) Publish(ctx context.Context, event domain.LocationEvent) error {
	msg, err := serializeToMessage(event)
	if err != nil {
		return err
	}
	if err := w.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("publish location event %q: %w", event.ContentID, err)
	}
	w.logger.Debug("location event published", "content_id", event.ContentID, "status", event.StatusLabel)
	return nil
}

func (w *Writer) Close() error {
	return w.writer.Close()
}

// serializeToMessage marshals a LocationEvent into a Kafka message.
func serializeToMessage(event domain.LocationEvent) (kafkago.Message, error) {
	data, err := json.Marshal(event)
	if err != nil {
		return kafkago.Message{}, fmt.Errorf("serialize location event: %w", err)
	}
	headers := []kafkago.Header{
		{Key: "status", Value: []byte(event.Status.Name())},
	}
	if !event.GeocodedAt.IsZero() {
		headers = append(headers, kafkago.Header{
			Key:   "geocoded_at",
			Value: []byte(event.GeocodedAt.Format(time.RFC3339)),
		})
	}
	return kafkago.Message{
		Key:     []byte(event.ContentID),
		Value:   data,
		Headers: headers,
	}, nil
}
