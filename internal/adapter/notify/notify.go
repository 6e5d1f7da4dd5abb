// Package notify delivers threshold alerts to external sinks.
package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/couchcryptid/los-telemetry-service/internal/alert"
	"github.com/couchcryptid/los-telemetry-service/internal/observability"
	"github.com/google/uuid"
)

// Notification is the delivered form of an alert.
type Notification struct {
	ID          string            `json:"id"`
	Title       string            `json:"title"`
	Message     string            `json:"message"`
	Metadata    map[string]string `json:"metadata"`
	TriggeredAt time.Time         `json:"triggeredAt"`
}

// Sink delivers notifications to one destination.
type Sink interface {
	Name() string
	Send(ctx context.Context, n Notification) error
}

// Dispatcher fans an alert out to every configured sink.
// It implements alert.Notifier.
type Dispatcher struct {
	sinks   []Sink
	logger  *slog.Logger
	metrics *observability.Metrics
	newID   func() string
}

// NewDispatcher creates a Dispatcher. With no sinks, alerts are only logged.
func NewDispatcher(logger *slog.Logger, metrics *observability.Metrics, sinks ...Sink) *Dispatcher {
	return &Dispatcher{
		sinks:   sinks,
		logger:  logger,
		metrics: metrics,
		newID:   func() string { return uuid.NewString() },
	}
}

// Notify sends to all sinks. A failing sink does not prevent delivery to the
// others; the returned error joins every sink failure.
func (d *Dispatcher) Notify(ctx context.Context, a alert.Alert) error {
	n := Notification{
		ID:          d.newID(),
		Title:       a.Title(),
		Message:     a.Message(),
		Metadata:    a.Metadata(),
		TriggeredAt: a.TriggeredAt,
	}

	var errs []error
	for _, s := range d.sinks {
		if err := s.Send(ctx, n); err != nil {
			d.metrics.NotifyErrors.WithLabelValues(s.Name()).Inc()
			d.logger.Warn("notification delivery failed", "sink", s.Name(), "id", n.ID, "error", err)
			errs = append(errs, fmt.Errorf("%s: %w", s.Name(), err))
			continue
		}
		d.logger.Debug("notification delivered", "sink", s.Name(), "id", n.ID)
	}
	return errors.Join(errs...)
}
