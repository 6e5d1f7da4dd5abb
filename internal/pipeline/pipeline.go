package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/couchcryptid/los-telemetry-service/internal/domain"
	"github.com/couchcryptid/los-telemetry-service/internal/observability"
	"github.com/couchcryptid/storm-data-shared/retry"
)

// Broadcast event names.
const (
	EventReading    = "reading"
	EventRawMessage = "raw_message"
)

// BatchExtractor reads up to batchSize raw messages from the message bus.
type BatchExtractor interface {
	ExtractBatch(ctx context.Context, batchSize int) ([]domain.RawMessage, error)
}

// Transformer converts a raw message into a normalized reading.
type Transformer interface {
	Transform(ctx context.Context, msg domain.RawMessage) (domain.Reading, error)
}

// Broadcaster forwards events to live consumers. Delivery is best-effort.
type Broadcaster interface {
	Broadcast(ctx context.Context, event string, payload any) error
}

// BatchBroadcaster delivers every reading of one extracted batch in a single
// call. Broadcasters implementing it get readings once per batch instead of
// once per message; other events still arrive through Broadcast.
type BatchBroadcaster interface {
	Broadcaster
	BroadcastBatch(ctx context.Context, event string, readings []domain.Reading) error
}

// ReadingStore persists readings and returns the assigned id.
type ReadingStore interface {
	Insert(ctx context.Context, r domain.Reading) (int64, error)
}

// AlertEvaluator checks a reading against its device threshold.
type AlertEvaluator interface {
	Evaluate(ctx context.Context, r domain.Reading)
}

// RawEnvelope is the broadcast payload for messages that could not be parsed.
type RawEnvelope struct {
	Topic      string    `json:"topic"`
	Payload    string    `json:"payload"`
	ReceivedAt time.Time `json:"receivedAt"`
}

// Pipeline orchestrates the ingest loop: extract, normalize, broadcast,
// persist, and evaluate alerts.
type Pipeline struct {
	extractor    BatchExtractor
	transformer  Transformer
	store        ReadingStore
	alerts       AlertEvaluator
	broadcasters []Broadcaster
	batchers     []BatchBroadcaster
	logger       *slog.Logger
	metrics      *observability.Metrics
	ready        atomic.Bool
	batchSize    int
}

// New creates a Pipeline. alerts may be nil to disable threshold evaluation.
func New(e BatchExtractor, t Transformer, s ReadingStore, a AlertEvaluator, logger *slog.Logger, metrics *observability.Metrics, batchSize int, broadcasters ...Broadcaster) *Pipeline {
	p := &Pipeline{
		extractor:    e,
		transformer:  t,
		store:        s,
		alerts:       a,
		broadcasters: broadcasters,
		logger:       logger,
		metrics:      metrics,
		batchSize:    batchSize,
	}
	for _, b := range broadcasters {
		if bb, ok := b.(BatchBroadcaster); ok {
			p.batchers = append(p.batchers, bb)
		}
	}
	return p
}

// CheckReadiness returns nil once the pipeline has completed a successful
// extract from the message bus.
func (p *Pipeline) CheckReadiness(_ context.Context) error {
	if !p.ready.Load() {
		return errors.New("pipeline has not polled the message bus yet")
	}
	return nil
}

// Run executes the batch ingest loop until the context is cancelled.
func (p *Pipeline) Run(ctx context.Context) error {
	p.logger.Info("pipeline started", "batch_size", p.batchSize, "broadcasters", len(p.broadcasters))
	p.metrics.PipelineRunning.Set(1)
	defer p.metrics.PipelineRunning.Set(0)

	// Exponential backoff: start at 200ms, double each retry, cap at 5s.
	backoff := 200 * time.Millisecond
	maxBackoff := 5 * time.Second

	for {
		select {
		case <-ctx.Done():
			p.logger.Info("pipeline stopping", "reason", ctx.Err())
			return nil
		default:
		}

		if !p.processBatch(ctx, &backoff, maxBackoff) {
			return nil
		}
	}
}

// processBatch runs one extract-process cycle. Returns false if the pipeline should stop.
func (p *Pipeline) processBatch(ctx context.Context, backoff *time.Duration, maxBackoff time.Duration) bool {
	start := time.Now()

	batch, err := p.extractor.ExtractBatch(ctx, p.batchSize)
	if err != nil {
		if ctx.Err() != nil {
			return false
		}
		p.logger.Error("extract batch failed", "error", err)
		return p.backoffOrStop(ctx, backoff, maxBackoff)
	}

	p.ready.Store(true)
	*backoff = 200 * time.Millisecond

	if len(batch) == 0 {
		return ctx.Err() == nil
	}

	p.metrics.MessagesConsumed.Add(float64(len(batch)))
	p.metrics.BatchSize.Observe(float64(len(batch)))

	// An extracted batch is finished even when shutdown starts mid-batch.
	bctx := context.WithoutCancel(ctx)

	// Sequential so readings from one device are persisted in arrival order.
	readings := make([]domain.Reading, 0, len(batch))
	for _, msg := range batch {
		if r, ok := p.process(bctx, msg); ok {
			readings = append(readings, r)
		}
	}
	p.broadcastBatch(bctx, readings)

	p.metrics.BatchProcessingDuration.Observe(time.Since(start).Seconds())
	return true
}

// process handles one message and returns the reading when one was produced.
func (p *Pipeline) process(ctx context.Context, msg domain.RawMessage) (domain.Reading, bool) {
	if msg.Retained {
		p.metrics.RetainedSkipped.Inc()
		p.logger.Debug("skipping retained message", "topic", msg.Topic, "message_id", msg.MessageID)
		return domain.Reading{}, false
	}

	reading, err := p.transformer.Transform(ctx, msg)
	if err != nil {
		p.logger.Warn("payload not parseable, forwarding raw", "error", err, "topic", msg.Topic, "message_id", msg.MessageID)
		p.metrics.MalformedPayloads.Inc()
		p.broadcast(ctx, EventRawMessage, RawEnvelope{
			Topic:      msg.Topic,
			Payload:    string(msg.Payload),
			ReceivedAt: msg.ReceivedAt,
		})
		return domain.Reading{}, false
	}
	p.metrics.ReadingsNormalized.Inc()

	p.broadcastReading(ctx, reading)

	if reading.HasAnyField() {
		p.persist(ctx, reading)
	} else {
		p.logger.Debug("reading has no fields, not persisted", "topic", msg.Topic)
	}

	if p.alerts != nil {
		p.alerts.Evaluate(ctx, reading)
	}
	return reading, true
}

func (p *Pipeline) broadcast(ctx context.Context, event string, payload any) {
	for _, b := range p.broadcasters {
		if err := b.Broadcast(ctx, event, payload); err != nil {
			p.metrics.BroadcastErrors.WithLabelValues(event).Inc()
			p.logger.Warn("broadcast failed", "event", event, "error", err)
		}
	}
}

// broadcastReading sends one reading to every broadcaster that is not fed per batch.
func (p *Pipeline) broadcastReading(ctx context.Context, r domain.Reading) {
	for _, b := range p.broadcasters {
		if _, ok := b.(BatchBroadcaster); ok {
			continue
		}
		if err := b.Broadcast(ctx, EventReading, r); err != nil {
			p.metrics.BroadcastErrors.WithLabelValues(EventReading).Inc()
			p.logger.Warn("broadcast failed", "event", EventReading, "error", err)
		}
	}
}

func (p *Pipeline) broadcastBatch(ctx context.Context, readings []domain.Reading) {
	if len(readings) == 0 {
		return
	}
	for _, b := range p.batchers {
		if err := b.BroadcastBatch(ctx, EventReading, readings); err != nil {
			p.metrics.BroadcastErrors.WithLabelValues(EventReading).Inc()
			p.logger.Warn("batch broadcast failed", "event", EventReading, "readings", len(readings), "error", err)
		}
	}
}

// persist stores the reading. Failures are logged and swallowed; ingest continues.
func (p *Pipeline) persist(ctx context.Context, r domain.Reading) {
	id, err := p.store.Insert(ctx, r)
	if err != nil {
		p.metrics.PersistErrors.Inc()
		p.logger.Error("persist reading failed",
			"error", err,
			"topic", r.OriginTopic,
			"device_serial", r.DeviceSerial.String,
		)
		return
	}
	p.metrics.ReadingsPersisted.Inc()
	p.logger.Debug("reading persisted", "id", id, "topic", r.OriginTopic)
}

// backoffOrStop checks for context cancellation, sleeps with the current backoff,
// and advances the backoff. Returns false if the pipeline should stop.
func (p *Pipeline) backoffOrStop(ctx context.Context, backoff *time.Duration, maxBackoff time.Duration) bool {
	if ctx.Err() != nil {
		return false
	}
	if !retry.SleepWithContext(ctx, *backoff) {
		return false
	}
	*backoff = retry.NextBackoff(*backoff, maxBackoff)
	return true
}
