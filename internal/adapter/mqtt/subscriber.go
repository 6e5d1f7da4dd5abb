package mqtt

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/couchcryptid/los-telemetry-service/internal/config"
	"github.com/couchcryptid/los-telemetry-service/internal/domain"
	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/jonboulle/clockwork"
)

const (
	connectTimeout    = 10 * time.Second
	disconnectQuiesce = 250 // milliseconds
)

// Subscriber receives telemetry from the MQTT broker and buffers it for the
// ingest pipeline. It implements pipeline.BatchExtractor.
type Subscriber struct {
	client        paho.Client
	topics        []string
	qos           byte
	flushInterval time.Duration
	clock         clockwork.Clock
	logger        *slog.Logger

	msgs chan domain.RawMessage
	done chan struct{}
}

// NewSubscriber configures a client for the broker in cfg. Topics are
// (re)subscribed on every connect so subscriptions survive reconnects.
func NewSubscriber(cfg *config.Config, topics []string, clock clockwork.Clock, logger *slog.Logger) (*Subscriber, error) {
	s, err := newSubscriber(topics, cfg.MQTTQoS, cfg.MQTTBufferSize, cfg.BatchFlushInterval, clock, logger)
	if err != nil {
		return nil, err
	}

	opts := paho.NewClientOptions().
		AddBroker(cfg.MQTTBroker).
		SetClientID(cfg.MQTTClientID).
		SetAutoReconnect(true).
		SetCleanSession(true).
		SetOrderMatters(true).
		SetConnectTimeout(connectTimeout).
		SetOnConnectHandler(s.onConnect).
		SetConnectionLostHandler(func(_ paho.Client, err error) {
			logger.Warn("mqtt connection lost", "error", err)
		})
	if cfg.MQTTUsername != "" {
		opts.SetUsername(cfg.MQTTUsername)
	}
	if cfg.MQTTPassword != "" {
		opts.SetPassword(cfg.MQTTPassword)
	}

	s.client = paho.NewClient(opts)
	return s, nil
}

func newSubscriber(topics []string, qos byte, bufferSize int, flushInterval time.Duration, clock clockwork.Clock, logger *slog.Logger) (*Subscriber, error) {
	topics = uniqueSorted(topics)
	if len(topics) == 0 {
		return nil, errors.New("no mqtt topics configured: set MQTT_TOPICS or map topics in the device registry")
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Subscriber{
		topics:        topics,
		qos:           qos,
		flushInterval: flushInterval,
		clock:         clock,
		logger:        logger,
		msgs:          make(chan domain.RawMessage, bufferSize),
		done:          make(chan struct{}),
	}, nil
}

// Connect dials the broker and waits for the first connection.
func (s *Subscriber) Connect(ctx context.Context) error {
	token := s.client.Connect()
	select {
	case <-token.Done():
	case <-ctx.Done():
		return ctx.Err()
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("connect to mqtt broker: %w", err)
	}
	return nil
}

func (s *Subscriber) onConnect(c paho.Client) {
	filters := make(map[string]byte, len(s.topics))
	for _, t := range s.topics {
		filters[t] = s.qos
	}
	token := c.SubscribeMultiple(filters, s.handle)
	if !token.WaitTimeout(connectTimeout) {
		s.logger.Error("mqtt subscribe timed out", "topics", s.topics)
		return
	}
	if err := token.Error(); err != nil {
		s.logger.Error("mqtt subscribe failed", "error", err, "topics", s.topics)
		return
	}
	s.logger.Info("mqtt subscribed", "topics", s.topics, "qos", s.qos)
}

// handle runs on the paho delivery goroutine. It blocks while the buffer is
// full so the broker applies backpressure instead of messages being dropped.
func (s *Subscriber) handle(_ paho.Client, m paho.Message) {
	payload := make([]byte, len(m.Payload()))
	copy(payload, m.Payload())

	msg := domain.RawMessage{
		Topic:      m.Topic(),
		Payload:    payload,
		Retained:   m.Retained(),
		MessageID:  m.MessageID(),
		ReceivedAt: s.clock.Now().UTC(),
	}
	select {
	case s.msgs <- msg:
	case <-s.done:
	}
}

// ExtractBatch waits for at least one message, then collects up to batchSize
// messages or until the flush interval elapses.
func (s *Subscriber) ExtractBatch(ctx context.Context, batchSize int) ([]domain.RawMessage, error) {
	var batch []domain.RawMessage

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-s.done:
		return nil, errors.New("mqtt subscriber closed")
	case msg := <-s.msgs:
		batch = append(batch, msg)
	}

	timer := s.clock.NewTimer(s.flushInterval)
	defer timer.Stop()

	for len(batch) < batchSize {
		select {
		case <-ctx.Done():
			return batch, nil
		case <-timer.Chan():
			return batch, nil
		case msg := <-s.msgs:
			batch = append(batch, msg)
		}
	}
	return batch, nil
}

// CheckReadiness reports whether the broker connection is up.
func (s *Subscriber) CheckReadiness(_ context.Context) error {
	if s.client == nil || !s.client.IsConnectionOpen() {
		return errors.New("mqtt broker not connected")
	}
	return nil
}

// Topics returns the subscription filters.
func (s *Subscriber) Topics() []string {
	return append([]string(nil), s.topics...)
}

// Close disconnects from the broker and releases any blocked deliveries.
func (s *Subscriber) Close() error {
	select {
	case <-s.done:
		return nil
	default:
		close(s.done)
	}
	if s.client != nil {
		s.client.Disconnect(disconnectQuiesce)
	}
	return nil
}

func uniqueSorted(topics []string) []string {
	seen := make(map[string]struct{}, len(topics))
	out := make([]string, 0, len(topics))
	for _, t := range topics {
		if t == "" {
			continue
		}
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}
