package domain

import "strings"

// LogicalField names one of the canonical reading fields.
type LogicalField string

const (
	FieldTemperature   LogicalField = "temperature"
	FieldRxLight       LogicalField = "rxLight"
	FieldR2            LogicalField = "r2"
	FieldHeartbeat     LogicalField = "heartbeat"
	FieldConcentration LogicalField = "concentration"
)

// LogicalFields lists every field in Reading order.
var LogicalFields = []LogicalField{
	FieldTemperature,
	FieldRxLight,
	FieldR2,
	FieldHeartbeat,
	FieldConcentration,
}

// fieldVariants holds the accepted spellings per field. The first entry is the
// primary spelling used for loose matching. Order is the tie-break when a
// payload carries more than one spelling.
var fieldVariants = map[LogicalField][]string{
	FieldTemperature: {
		"LoS-Temp",
		"LoS - Temp(c)",
		"LoS-Temperature",
		"Temperature",
		"Temp",
	},
	FieldRxLight: {
		"LoS-RxLight",
		"LoS - Rx Light",
		"LoS-RxLight(dB)",
		"RxLight",
	},
	FieldR2: {
		"LoS-R2",
		"LoS - R2",
		"R2",
	},
	FieldHeartbeat: {
		"LoS-Heartbeat",
		"LoS - Heart Beat",
		"LoS-HB",
		"Heartbeat",
	},
	FieldConcentration: {
		"LoS-PPM",
		"LoS - PPM",
		"PPM-M-LO-Int",
		"PPM_INT",
		"PPM",
	},
}

var (
	timestampVariants = []string{"timestamp", "ts", "time", "epoch"}
	serialVariants    = []string{"serial", "deviceSerial", "serialNumber", "SN", "device_id", "deviceId"}
)

// Variants returns a copy of the accepted spellings for f.
func (f LogicalField) Variants() []string {
	v := fieldVariants[f]
	out := make([]string, len(v))
	copy(out, v)
	return out
}

// Primary returns the field's primary spelling, or "" for unknown fields.
func (f LogicalField) Primary() string {
	v := fieldVariants[f]
	if len(v) == 0 {
		return ""
	}
	return v[0]
}

// keyIndex maps canonical keys to the position of the first raw key that
// folds to them.
type keyIndex struct {
	payload     RawPayload
	canonical   []string // canonical form of payload[i].Key
	byCanonical map[string]int
}

func newKeyIndex(payload RawPayload) *keyIndex {
	ix := &keyIndex{
		payload:     payload,
		canonical:   make([]string, len(payload)),
		byCanonical: make(map[string]int, len(payload)),
	}
	for i, f := range payload {
		c := Canonicalize(f.Key)
		ix.canonical[i] = c
		if _, seen := ix.byCanonical[c]; !seen {
			ix.byCanonical[c] = i
		}
	}
	return ix
}

// exact returns the payload position of the first variant present, scanning
// the variant list in order.
func (ix *keyIndex) exact(variants []string) (int, bool) {
	for _, v := range variants {
		if i, ok := ix.byCanonical[Canonicalize(v)]; ok {
			return i, true
		}
	}
	return 0, false
}

// loose scans payload keys in wire order for one that contains, or is a
// truncation of, the canonical primary spelling. Keys in skip are ignored.
func (ix *keyIndex) loose(primary string, skip map[int]bool) (int, bool) {
	p := Canonicalize(primary)
	if p == "" {
		return 0, false
	}
	for i, c := range ix.canonical {
		if skip[i] || c == "" || c == familyPrefix {
			continue
		}
		if strings.Contains(c, p) {
			return i, true
		}
		if truncationOf(c, p) {
			return i, true
		}
	}
	return 0, false
}

// truncationOf reports whether key c is a shortened spelling of primary p.
// It must keep the family prefix or be the whole primary without it, so
// fragments such as "eat" or "light" never match.
func truncationOf(c, p string) bool {
	if len(c) < minLooseKeyLen || !strings.Contains(p, c) {
		return false
	}
	return strings.HasPrefix(c, familyPrefix) || familyPrefix+c == p
}

const (
	familyPrefix   = "los"
	minLooseKeyLen = 3
)

// ResolveField returns the payload value stored under the first accepted
// spelling of field, comparing canonical keys. It does not apply the loose
// fallback.
func ResolveField(payload RawPayload, field LogicalField) (any, bool) {
	ix := newKeyIndex(payload)
	i, ok := ix.exact(fieldVariants[field])
	if !ok {
		return nil, false
	}
	return payload[i].Value, true
}
