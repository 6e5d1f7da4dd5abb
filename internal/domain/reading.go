package domain

import (
	"time"

	"github.com/guregu/null"
)

// RawMessage is an unprocessed message from the bus.
type RawMessage struct {
	Topic      string
	Payload    []byte
	Retained   bool
	MessageID  uint16
	ReceivedAt time.Time
}

// Reading is the normalized record for one ingested payload. Numeric fields
// are finite or null. A Reading is never modified after normalization.
type Reading struct {
	ID            int64       `json:"id,omitempty"`
	OriginTopic   string      `json:"originTopic"`
	DeviceSerial  null.String `json:"deviceSerial"`
	Temperature   null.Float  `json:"temperature"`
	RxLight       null.Float  `json:"rxLight"`
	R2            null.Float  `json:"r2"`
	Heartbeat     null.Float  `json:"heartbeat"`
	Concentration null.Float  `json:"concentration"`
	RecordedAt    time.Time   `json:"recordedAt"`
}

// HasAnyField reports whether at least one logical field is non-null.
func (r Reading) HasAnyField() bool {
	return r.Temperature.Valid ||
		r.RxLight.Valid ||
		r.R2.Valid ||
		r.Heartbeat.Valid ||
		r.Concentration.Valid
}

// Value returns the logical field f.
func (r Reading) Value(f LogicalField) null.Float {
	switch f {
	case FieldTemperature:
		return r.Temperature
	case FieldRxLight:
		return r.RxLight
	case FieldR2:
		return r.R2
	case FieldHeartbeat:
		return r.Heartbeat
	case FieldConcentration:
		return r.Concentration
	default:
		return null.Float{}
	}
}

// Reading query limits.
const (
	DefaultQueryLimit = 100
	MaxQueryLimit     = 1000
)

// ReadingQuery selects a page of stored readings, newest first. Zero times
// leave the range open and an empty DeviceSerial matches every device.
type ReadingQuery struct {
	From         time.Time
	To           time.Time
	Limit        int
	Offset       int
	DeviceSerial string
}

// EffectiveLimit clamps Limit to [1, MaxQueryLimit], defaulting to DefaultQueryLimit.
func (q ReadingQuery) EffectiveLimit() int {
	switch {
	case q.Limit <= 0:
		return DefaultQueryLimit
	case q.Limit > MaxQueryLimit:
		return MaxQueryLimit
	default:
		return q.Limit
	}
}
