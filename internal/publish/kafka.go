package publish

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/segmentio/kafka-go"

	"genwatch/internal/logging"
	"genwatch/internal/monitor"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaPublisher writes one JSON message per state change keyed by camera name.
type KafkaPublisher struct {
	writer messageWriter
	logger *slog.Logger
}

// NewKafka creates a publisher writing to topic on brokers.
func NewKafka(brokers []string, topic string, logger *slog.Logger) *KafkaPublisher {
	return newKafka(&kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
		Async:        false,
	}, logger)
}

func newKafka(w messageWriter, logger *slog.Logger) *KafkaPublisher {
	return &KafkaPublisher{writer: w, logger: logging.Component(logger, "kafka")}
}

// Publish implements monitor.Publisher.
func (p *KafkaPublisher) Publish(ctx context.Context, change monitor.StateChange) error {
	value, err := encode(change)
	if err != nil {
		return fmt.Errorf("failed to encode event: %w", err)
	}
	msg := kafka.Message{
		Key:   []byte(change.Camera),
		Value: value,
		Time:  change.At,
		Headers: []kafka.Header{
			{Key: "state", Value: []byte(change.To)},
			{Key: "run_id", Value: []byte(change.RunID)},
		},
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("failed to write kafka message: %w", err)
	}
	p.logger.Debug("published", "state", change.To, "bytes", len(value))
	return nil
}

// Close flushes and closes the writer.
func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}
