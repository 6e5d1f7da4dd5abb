package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/couchcryptid/los-telemetry-service/internal/config"
	"github.com/couchcryptid/los-telemetry-service/internal/domain"
	kafkago "github.com/segmentio/kafka-go"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafkago.Message) error
	Close() error
}

// Relay publishes normalized readings to a downstream Kafka topic.
// It implements pipeline.BatchBroadcaster; events other than readings are ignored.
type Relay struct {
	writer messageWriter
	logger *slog.Logger
}

// NewRelay creates a Kafka producer for the configured sink topic. The writer
// batch matches the ingest batch so a full batch is produced without waiting
// for BatchTimeout.
func NewRelay(cfg *config.Config, logger *slog.Logger) *Relay {
	w := &kafkago.Writer{
		Addr:         kafkago.TCP(cfg.KafkaBrokers...),
		Topic:        cfg.KafkaSinkTopic,
		Balancer:     &kafkago.Hash{},
		RequiredAcks: kafkago.RequireAll,
		BatchSize:    cfg.BatchSize,
		BatchTimeout: 10 * time.Millisecond,
	}
	return &Relay{writer: w, logger: logger}
}

// Broadcast publishes a single reading event.
func (r *Relay) Broadcast(ctx context.Context, event string, payload any) error {
	reading, ok := payload.(domain.Reading)
	if !ok {
		return nil
	}
	return r.BroadcastBatch(ctx, event, []domain.Reading{reading})
}

// BroadcastBatch publishes readings in one produce call, keyed by device so one
// device's readings stay on one partition. Readings that fail to serialize are
// logged and skipped.
func (r *Relay) BroadcastBatch(ctx context.Context, event string, readings []domain.Reading) error {
	msgs := make([]kafkago.Message, 0, len(readings))
	for _, reading := range readings {
		msg, err := serializeToMessage(event, reading)
		if err != nil {
			r.logger.Warn("skipping unserializable reading", "error", err, "topic", reading.OriginTopic)
			continue
		}
		msgs = append(msgs, msg)
	}
	if len(msgs) == 0 {
		return nil
	}
	if err := r.writer.WriteMessages(ctx, msgs...); err != nil {
		return fmt.Errorf("relay %d readings to kafka: %w", len(msgs), err)
	}
	r.logger.Debug("readings relayed", "count", len(msgs))
	return nil
}

func (r *Relay) Close() error {
	return r.writer.Close()
}

// serializeToMessage marshals a Reading into a Kafka message.
func serializeToMessage(event string, reading domain.Reading) (kafkago.Message, error) {
	data, err := json.Marshal(reading)
	if err != nil {
		return kafkago.Message{}, fmt.Errorf("serialize reading: %w", err)
	}
	return kafkago.Message{
		Key:   []byte(messageKey(reading)),
		Value: data,
		Headers: []kafkago.Header{
			{Key: "event", Value: []byte(event)},
			{Key: "origin_topic", Value: []byte(reading.OriginTopic)},
			{Key: "recorded_at", Value: []byte(reading.RecordedAt.UTC().Format(time.RFC3339))},
		},
	}, nil
}

func messageKey(r domain.Reading) string {
	if r.DeviceSerial.Valid {
		return r.DeviceSerial.String
	}
	return r.OriginTopic
}
