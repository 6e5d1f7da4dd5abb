package domain

import (
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/guregu/null"
)

// ppmParts carries the two halves of a split concentration reading.
type ppmParts struct {
	intPart null.Float
	decPart null.Float
}

// resolvePPMParts scans payload keys for the integer and decimal halves of the
// concentration reading.
//
// Keys are scanned in lexicographic raw-key order (wire order for equal keys)
// and the last qualifying int or dec key wins, so the result does not
// depend on how the sender ordered its JSON. A key qualifies as:
//
//   - decimal: canonical form contains "ppm" and "dec"
//   - integer: canonical form contains "ppm" and "int" or "mlo"
//   - fallback integer: any other "ppm" key; the first one scanned is kept,
//     and it is used only when no explicit integer key is present (the
//     single-key "LoS - PPM" case)
//
// The decimal rule is checked first because the "mlo" device prefix appears
// in both halves ("PPM-M-LO-Int", "PPM-M-LO-Dec"). Non-numeric values never
// qualify.
func resolvePPMParts(payload RawPayload) ppmParts {
	order := make([]int, len(payload))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		return payload[order[a]].Key < payload[order[b]].Key
	})

	var parts ppmParts
	var fallback null.Float
	for _, i := range order {
		c := Canonicalize(payload[i].Key)
		if !strings.Contains(c, "ppm") {
			continue
		}
		v, ok := toNumber(payload[i].Value)
		if !ok {
			continue
		}
		switch {
		case strings.Contains(c, "dec"):
			parts.decPart = null.FloatFrom(v)
		case strings.Contains(c, "int"), strings.Contains(c, "mlo"):
			parts.intPart = null.FloatFrom(v)
		default:
			if !fallback.Valid {
				fallback = null.FloatFrom(v)
			}
		}
	}
	if !parts.intPart.Valid {
		parts.intPart = fallback
	}
	return parts
}

// MergeIntAndDec rebuilds a decimal concentration from its split halves.
//
// The decimal half supplies the digits after the point: a single digit is
// hundredths (5 → .05) and longer values keep their two leading digits
// (50 → .50, 123 → .12). The integer half's sign applies to the fraction.
// The result is rounded to two decimal places. A missing integer half yields
// null; a missing decimal half yields the integer half alone.
func MergeIntAndDec(intVal, decVal null.Float) null.Float {
	if !intVal.Valid || !finite(intVal.Float64) {
		return null.Float{}
	}
	if !decVal.Valid || !finite(decVal.Float64) {
		return null.FloatFrom(intVal.Float64)
	}

	digits := digitsOnly(strconv.FormatFloat(math.Abs(decVal.Float64), 'f', -1, 64))
	if digits == "" {
		return null.FloatFrom(intVal.Float64)
	}
	if len(digits) > 2 {
		digits = digits[:2]
	}
	n, err := strconv.Atoi(digits)
	if err != nil {
		return null.FloatFrom(intVal.Float64)
	}
	fraction := float64(n) / 100

	merged := intVal.Float64 + fraction
	if math.Signbit(intVal.Float64) {
		merged = intVal.Float64 - fraction
	}
	return null.FloatFrom(round2(merged))
}

func digitsOnly(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// round2 rounds to two decimal places. Magnitudes past 1e15 already lack
// hundredths precision and are returned unchanged so v*100 cannot overflow.
func round2(v float64) float64 {
	if math.Abs(v) >= 1e15 {
		return v
	}
	return math.Round(v*100) / 100
}

func finite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}
