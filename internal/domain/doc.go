// Package domain normalizes line-of-sight (LoS) sensor telemetry.
//
// # Data Source
//
// LoS gas/optical sensors publish flat JSON objects over MQTT. Each device
// firmware revision names its fields slightly differently, so the same
// logical reading shows up under many spellings:
//
//	"LoS-Temp", "LoS - Temp(c)", "los_temperature"   → temperature
//	"LoS-RxLight", "LoS - Rx Light"                   → rxLight
//	"LoS-R2", "LoS - R2"                              → r2
//	"LoS-Heartbeat", "LoS - Heart Beat", "LoS-HB"     → heartbeat
//	"LoS - PPM", "PPM_INT" + "PPM_DEC"                → concentration
//
// # Canonical Keys
//
// Raw keys are folded by [Canonicalize]: lowercased, with whitespace, '-',
// '(', ')' and '_' removed. Matching is always done on canonical keys and the
// canonical form is never stored or displayed.
//
// # Field Resolution
//
// Each [LogicalField] owns an ordered list of accepted spellings. The first
// spelling (in list order, not payload order) present in the payload wins.
// When no spelling matches exactly, the normalizer falls back to a loose
// substring match against the field's primary spelling; see [Normalizer].
//
// # PPM Split Encoding
//
// Some firmware cannot carry a decimal on the wire and splits the gas
// concentration into an integer key and a "decimal" key holding the
// fractional digits:
//
//	{"PPM_INT": 12, "PPM_DEC": 5}   → 12.05
//	{"PPM_INT": 12, "PPM_DEC": 50}  → 12.5
//	{"PPM_INT": -7, "PPM_DEC": 3}   → -7.03
//
// The decimal key supplies the digits after the point; it is never added as
// an independent quantity. A lone digit means hundredths. Longer values are
// truncated to their two leading digits. See [MergeIntAndDec].
//
// Whether the decimal key is used at all depends on the device: the
// [MergePolicy] for a serial comes from the static [DeviceRegistry].
//
// # Numeric Guarantees
//
// Every numeric field on a [Reading] is either a finite float64 or null.
// Strings are parsed, NaN and ±Inf are rejected, and nothing in this package
// panics or returns an error for a decoded payload.
package domain
