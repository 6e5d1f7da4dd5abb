package domain

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"

	"github.com/guregu/null"
)

// toNumber coerces a decoded payload value to a finite float64.
// Booleans, nested values, empty strings, NaN and ±Inf do not coerce.
func toNumber(v any) (float64, bool) {
	var f float64
	switch x := v.(type) {
	case json.Number:
		parsed, err := strconv.ParseFloat(x.String(), 64)
		if err != nil {
			return 0, false
		}
		f = parsed
	case float64:
		f = x
	case float32:
		f = float64(x)
	case int:
		f = float64(x)
	case int64:
		f = float64(x)
	case string:
		s := strings.TrimSpace(x)
		if s == "" {
			return 0, false
		}
		parsed, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return 0, false
		}
		f = parsed
	default:
		return 0, false
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

// numberOrNull wraps toNumber for Reading fields.
func numberOrNull(v any) null.Float {
	f, ok := toNumber(v)
	if !ok {
		return null.Float{}
	}
	return null.FloatFrom(f)
}

// toSerial renders a payload serial value as a string. Numbers keep their
// wire form so "0042" style serials sent as strings survive intact.
func toSerial(v any) (string, bool) {
	switch x := v.(type) {
	case string:
		s := strings.TrimSpace(x)
		return s, s != ""
	case json.Number:
		return x.String(), true
	default:
		return "", false
	}
}
