// Package alert decides when a concentration reading warrants a notification.
//
// A reading alerts when its concentration is strictly above the device's
// threshold (or the global threshold when the device has none) and the
// device's cooldown window has elapsed since its previous alert.
package alert

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/couchcryptid/los-telemetry-service/internal/domain"
	"github.com/couchcryptid/los-telemetry-service/internal/observability"
	"github.com/guregu/null"
	"github.com/jonboulle/clockwork"
)

// ThresholdLookup returns the effective threshold for a device. An empty
// serial asks for the global threshold. A null result means no threshold is
// configured.
type ThresholdLookup interface {
	Threshold(ctx context.Context, serial string) (null.Float, error)
}

// Notifier delivers an alert. Implementations are best-effort.
type Notifier interface {
	Notify(ctx context.Context, a Alert) error
}

// Alert describes one threshold breach.
type Alert struct {
	DeviceSerial  string    `json:"deviceSerial,omitempty"`
	OriginTopic   string    `json:"originTopic"`
	Concentration float64   `json:"concentration"`
	Threshold     float64   `json:"threshold"`
	TriggeredAt   time.Time `json:"triggeredAt"`
}

// Title is the short notification heading.
func (a Alert) Title() string {
	return "PPM threshold exceeded"
}

// Message is the human-readable notification body.
func (a Alert) Message() string {
	device := a.DeviceSerial
	if device == "" {
		device = a.OriginTopic
	}
	return fmt.Sprintf("%s reported %.2f ppm (threshold %.2f)", device, a.Concentration, a.Threshold)
}

// Metadata is the flat key/value form attached to notifications.
func (a Alert) Metadata() map[string]string {
	return map[string]string{
		"device_serial": a.DeviceSerial,
		"origin_topic":  a.OriginTopic,
		"concentration": strconv.FormatFloat(a.Concentration, 'f', -1, 64),
		"threshold":     strconv.FormatFloat(a.Threshold, 'f', -1, 64),
		"triggered_at":  a.TriggeredAt.UTC().Format(time.RFC3339),
	}
}

const (
	// maxInFlightNotifications bounds concurrent deliveries; alerts beyond it are dropped.
	maxInFlightNotifications = 8
	notifyTimeout            = 10 * time.Second
)

// Evaluator checks readings against thresholds and dispatches rate-limited alerts.
// Notifications are delivered in the background so a slow sink never stalls
// ingest; call Wait before releasing the sinks.
// It is safe for concurrent use when its collaborators are.
type Evaluator struct {
	thresholds ThresholdLookup
	cooldowns  CooldownStore
	notifier   Notifier
	clock      clockwork.Clock
	window     time.Duration
	logger     *slog.Logger
	metrics    *observability.Metrics

	inflight chan struct{}
	wg       sync.WaitGroup
}

// NewEvaluator creates an Evaluator. A nil clock uses the real clock.
func NewEvaluator(thresholds ThresholdLookup, cooldowns CooldownStore, notifier Notifier, clock clockwork.Clock, window time.Duration, logger *slog.Logger, metrics *observability.Metrics) *Evaluator {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Evaluator{
		thresholds: thresholds,
		cooldowns:  cooldowns,
		notifier:   notifier,
		clock:      clock,
		window:     window,
		logger:     logger,
		metrics:    metrics,
		inflight:   make(chan struct{}, maxInFlightNotifications),
	}
}

// Evaluate never returns an error: lookup failures skip the reading and
// notification failures are logged.
func (e *Evaluator) Evaluate(ctx context.Context, r domain.Reading) {
	if !r.Concentration.Valid {
		return
	}
	serial := r.DeviceSerial.String

	threshold, err := e.thresholds.Threshold(ctx, serial)
	if err != nil {
		e.metrics.ThresholdLookupErrors.Inc()
		e.logger.Warn("threshold lookup failed, skipping alert evaluation",
			"error", err, "device_serial", serial, "topic", r.OriginTopic)
		return
	}
	if !threshold.Valid || r.Concentration.Float64 <= threshold.Float64 {
		return
	}

	now := e.clock.Now()
	if !e.cooldowns.TryAcquire(cooldownKey(r), now, e.window) {
		e.metrics.AlertsSuppressed.Inc()
		e.logger.Debug("alert suppressed by cooldown", "device_serial", serial, "topic", r.OriginTopic)
		return
	}

	a := Alert{
		DeviceSerial:  serial,
		OriginTopic:   r.OriginTopic,
		Concentration: r.Concentration.Float64,
		Threshold:     threshold.Float64,
		TriggeredAt:   now,
	}
	e.metrics.AlertsTriggered.Inc()
	e.logger.Info("concentration threshold exceeded",
		"device_serial", serial, "concentration", a.Concentration, "threshold", a.Threshold)

	if e.notifier == nil {
		return
	}
	e.dispatch(ctx, a)
}

// dispatch hands a to the notifier on its own goroutine. Delivery outlives
// the caller's context but is bounded by notifyTimeout.
func (e *Evaluator) dispatch(ctx context.Context, a Alert) {
	select {
	case e.inflight <- struct{}{}:
	default:
		e.metrics.AlertsDropped.Inc()
		e.logger.Warn("alert notification dropped, deliveries backed up",
			"device_serial", a.DeviceSerial, "in_flight", maxInFlightNotifications)
		return
	}

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		defer func() { <-e.inflight }()

		nctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), notifyTimeout)
		defer cancel()
		if err := e.notifier.Notify(nctx, a); err != nil {
			e.logger.Warn("alert notification failed", "error", err, "device_serial", a.DeviceSerial)
		}
	}()
}

// Wait blocks until every dispatched notification has finished.
func (e *Evaluator) Wait() {
	e.wg.Wait()
}

// cooldownKey identifies the device for rate limiting. Readings without a
// serial are keyed by topic so unrelated unmapped devices do not share a window.
func cooldownKey(r domain.Reading) string {
	if r.DeviceSerial.Valid && r.DeviceSerial.String != "" {
		return r.DeviceSerial.String
	}
	return "topic:" + r.OriginTopic
}
