package domain

import (
	"math"
	"strings"
	"time"

	"github.com/guregu/null"
)

// epochMillisCutoff separates epoch seconds from epoch milliseconds.
// 1e12 seconds is year 33658; 1e12 milliseconds is September 2001.
const epochMillisCutoff = 1e12

// maxEpochMillis keeps millisecond values inside int64.
const maxEpochMillis = 9e18

// Normalizer turns raw payloads into Readings. It holds only read-only
// configuration and is safe for concurrent use.
type Normalizer struct {
	registry *DeviceRegistry
}

// NewNormalizer creates a Normalizer. A nil registry maps no topics and
// applies PolicyIntegerPlusFraction to every device.
func NewNormalizer(registry *DeviceRegistry) *Normalizer {
	return &Normalizer{registry: registry}
}

// Normalize maps one payload to a Reading.
//
// The device serial comes from the topic mapping when one exists; a serial
// embedded in the payload is used only for unmapped topics. The four simple
// fields resolve by exact spelling first and then by loose match; the
// concentration is rebuilt from its split halves using the device's
// MergePolicy. receivedAt is used when the payload has no usable timestamp.
//
// Normalize is deterministic and has no side effects.
func (n *Normalizer) Normalize(payload RawPayload, originTopic string, receivedAt time.Time) Reading {
	ix := newKeyIndex(payload)

	// Keys that belong to something other than a simple field are excluded
	// from loose matching.
	claimed := make(map[int]bool)
	for i, c := range ix.canonical {
		if strings.Contains(c, "ppm") {
			claimed[i] = true
		}
	}
	if i, ok := ix.exact(timestampVariants); ok {
		claimed[i] = true
	}
	if i, ok := ix.exact(serialVariants); ok {
		claimed[i] = true
	}
	exact := make(map[LogicalField]int)
	for _, f := range []LogicalField{FieldTemperature, FieldRxLight, FieldR2, FieldHeartbeat} {
		if i, ok := ix.exact(fieldVariants[f]); ok {
			exact[f] = i
			claimed[i] = true
		}
	}

	resolve := func(f LogicalField) null.Float {
		if i, ok := exact[f]; ok {
			return numberOrNull(payload[i].Value)
		}
		if i, ok := ix.loose(f.Primary(), claimed); ok {
			return numberOrNull(payload[i].Value)
		}
		return null.Float{}
	}

	serial := n.resolveSerial(ix, originTopic)
	parts := resolvePPMParts(payload)
	policy := n.registry.PolicyFor(serial.String)

	return Reading{
		OriginTopic:   originTopic,
		DeviceSerial:  serial,
		Temperature:   resolve(FieldTemperature),
		RxLight:       resolve(FieldRxLight),
		R2:            resolve(FieldR2),
		Heartbeat:     resolve(FieldHeartbeat),
		Concentration: policy.Apply(parts.intPart, parts.decPart),
		RecordedAt:    resolveRecordedAt(ix, receivedAt),
	}
}

func (n *Normalizer) resolveSerial(ix *keyIndex, topic string) null.String {
	if s, ok := n.registry.SerialForTopic(topic); ok {
		return null.StringFrom(s)
	}
	if i, ok := ix.exact(serialVariants); ok {
		if s, ok := toSerial(ix.payload[i].Value); ok {
			return null.StringFrom(s)
		}
	}
	return null.String{}
}

// resolveRecordedAt reads an epoch timestamp from the payload. Values at or
// above epochMillisCutoff are milliseconds; smaller positive values are
// seconds.
func resolveRecordedAt(ix *keyIndex, receivedAt time.Time) time.Time {
	i, ok := ix.exact(timestampVariants)
	if !ok {
		return receivedAt
	}
	v, ok := toNumber(ix.payload[i].Value)
	if !ok || v <= 0 {
		return receivedAt
	}
	if v >= epochMillisCutoff {
		if v >= maxEpochMillis {
			return receivedAt
		}
		return time.UnixMilli(int64(v)).UTC()
	}
	sec, frac := math.Modf(v)
	return time.Unix(int64(sec), int64(frac*float64(time.Second))).UTC()
}
