package domain

import (
	"encoding/json"
	"math"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/guregu/null"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testReceivedAt = time.Date(2025, time.March, 14, 9, 26, 53, 0, time.UTC)

func normalizeJSON(t *testing.T, n *Normalizer, topic, body string) Reading {
	t.Helper()
	p, err := DecodePayload([]byte(body))
	require.NoError(t, err)
	return n.Normalize(p, topic, testReceivedAt)
}

func TestNormalize_FullPayload(t *testing.T) {
	n := NewNormalizer(testRegistry(t))

	got := normalizeJSON(t, n, testTopicMerged, `{
		"LoS - Temp(c)": "21.4",
		"LoS - Rx Light": -12,
		"LoS-R2": 0.97,
		"LoS - Heart Beat": 1,
		"PPM_INT": 8,
		"PPM_DEC": 7,
		"serial": "SPOOFED"
	}`)

	want := Reading{
		OriginTopic:   testTopicMerged,
		DeviceSerial:  null.StringFrom(testSerialMerged),
		Temperature:   null.FloatFrom(21.4),
		RxLight:       null.FloatFrom(-12),
		R2:            null.FloatFrom(0.97),
		Heartbeat:     null.FloatFrom(1),
		Concentration: null.FloatFrom(8.07),
		RecordedAt:    testReceivedAt,
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("reading mismatch (-want +got):\n%s", diff)
	}
}

func TestNormalize_SingleKeyPPMString(t *testing.T) {
	n := NewNormalizer(nil)
	got := normalizeJSON(t, n, "sensors/any", `{"LoS - PPM": "42"}`)
	assert.Equal(t, null.FloatFrom(42), got.Concentration)
}

func TestNormalize_MergePolicyPerDevice(t *testing.T) {
	n := NewNormalizer(testRegistry(t))
	body := `{"PPM_INT": 8, "PPM_DEC": 7}`

	intOnly := normalizeJSON(t, n, testTopicIntOnly, body)
	assert.Equal(t, null.StringFrom(testSerialIntOnly), intOnly.DeviceSerial)
	assert.Equal(t, null.FloatFrom(8), intOnly.Concentration)

	merged := normalizeJSON(t, n, testTopicMerged, body)
	assert.Equal(t, null.FloatFrom(8.07), merged.Concentration)

	unmapped := normalizeJSON(t, n, "sensors/unmapped", body)
	assert.Equal(t, null.FloatFrom(8.07), unmapped.Concentration)
}

func TestNormalize_PayloadSerialOnlyForUnmappedTopics(t *testing.T) {
	n := NewNormalizer(testRegistry(t))

	mapped := normalizeJSON(t, n, testTopicIntOnly, `{"serial": "LOS-0311", "PPM_INT": 8, "PPM_DEC": 7}`)
	assert.Equal(t, null.StringFrom(testSerialIntOnly), mapped.DeviceSerial)
	assert.Equal(t, null.FloatFrom(8), mapped.Concentration, "topic owner's policy applies")

	unmapped := normalizeJSON(t, n, "sensors/unmapped", `{"SN": "LOS-2207", "PPM_INT": 8, "PPM_DEC": 7}`)
	assert.Equal(t, null.StringFrom(testSerialIntOnly), unmapped.DeviceSerial)
	assert.Equal(t, null.FloatFrom(8), unmapped.Concentration)

	numeric := normalizeJSON(t, n, "sensors/unmapped", `{"deviceId": 1042}`)
	assert.Equal(t, null.StringFrom("1042"), numeric.DeviceSerial)

	none := normalizeJSON(t, n, "sensors/unmapped", `{"serial": ""}`)
	assert.False(t, none.DeviceSerial.Valid)
}

func TestNormalize_NonNumericFieldsAreNull(t *testing.T) {
	n := NewNormalizer(nil)
	got := normalizeJSON(t, n, "t", `{
		"LoS-Temp": "warm",
		"LoS-RxLight": "NaN",
		"LoS-R2": "Infinity",
		"LoS-Heartbeat": true,
		"LoS - PPM": {"v": 1}
	}`)
	assert.False(t, got.HasAnyField())
	for _, f := range LogicalFields {
		assert.False(t, got.Value(f).Valid, f)
	}
}

func TestNormalize_ExactNonNumericDoesNotFallBackToLoose(t *testing.T) {
	n := NewNormalizer(nil)
	got := normalizeJSON(t, n, "t", `{"LoS-Temp": "n/a", "LoS-Temp-Probe2": 19}`)
	assert.False(t, got.Temperature.Valid)
}

func TestNormalize_LooseFallback(t *testing.T) {
	n := NewNormalizer(nil)
	got := normalizeJSON(t, n, "t", `{"LoS-Temp-Probe": 19.5, "LoS-HeartbeatCount": 3, "Rx-Light": 4}`)
	assert.Equal(t, null.FloatFrom(19.5), got.Temperature)
	assert.Equal(t, null.FloatFrom(3), got.Heartbeat)
	assert.Equal(t, null.FloatFrom(4), got.RxLight)
	assert.False(t, got.R2.Valid)
}

func TestNormalize_LooseIgnoresFragments(t *testing.T) {
	n := NewNormalizer(nil)
	got := normalizeJSON(t, n, "t", `{"eat": 9, "light": 2}`)
	assert.False(t, got.Heartbeat.Valid)
	assert.False(t, got.RxLight.Valid)
	assert.False(t, got.HasAnyField())
}

func TestNormalize_FirstFallbackPPMKept(t *testing.T) {
	n := NewNormalizer(nil)
	got := normalizeJSON(t, n, "t", `{"LoS - PPM": 42, "PPM": 7}`)
	assert.Equal(t, null.FloatFrom(42), got.Concentration)
}

func TestNormalize_LooseNeverStealsClaimedKeys(t *testing.T) {
	n := NewNormalizer(nil)
	// PPM and timestamp keys never leak into simple fields.
	got := normalizeJSON(t, n, "t", `{"LoS-Temp-PPM": 400, "timestamp": 1700000000}`)
	assert.False(t, got.Temperature.Valid)
	assert.Equal(t, null.FloatFrom(400), got.Concentration)
}

func TestNormalize_EmptyPayload(t *testing.T) {
	n := NewNormalizer(nil)
	got := n.Normalize(RawPayload{}, "sensors/x", testReceivedAt)
	assert.False(t, got.HasAnyField())
	assert.Equal(t, "sensors/x", got.OriginTopic)
	assert.Equal(t, testReceivedAt, got.RecordedAt)
}

func TestNormalize_RecordedAt(t *testing.T) {
	n := NewNormalizer(nil)
	cases := []struct {
		name string
		body string
		want time.Time
	}{
		{"epoch seconds", `{"timestamp": 1700000000}`, time.Unix(1700000000, 0).UTC()},
		{"epoch seconds string", `{"ts": "1700000000"}`, time.Unix(1700000000, 0).UTC()},
		{"epoch millis", `{"Time": 1700000000123}`, time.UnixMilli(1700000000123).UTC()},
		{"fractional seconds", `{"epoch": 1700000000.5}`, time.Unix(1700000000, 500_000_000).UTC()},
		{"non-numeric", `{"timestamp": "2024-01-01T00:00:00Z"}`, testReceivedAt},
		{"negative", `{"timestamp": -5}`, testReceivedAt},
		{"absurd", `{"timestamp": 1e300}`, testReceivedAt},
		{"missing", `{"LoS-Temp": 1}`, testReceivedAt},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := normalizeJSON(t, n, "t", tc.body)
			assert.True(t, tc.want.Equal(got.RecordedAt), "want %s got %s", tc.want, got.RecordedAt)
		})
	}
}

func TestNormalize_Idempotent(t *testing.T) {
	n := NewNormalizer(testRegistry(t))
	p, err := DecodePayload([]byte(`{"LoS-Temp": 20, "PPM_INT": 3, "PPM_DEC": 14}`))
	require.NoError(t, err)

	first := n.Normalize(p, testTopicMerged, testReceivedAt)
	second := n.Normalize(p, testTopicMerged, testReceivedAt.Add(time.Minute))

	assert.Equal(t, testReceivedAt.Add(time.Minute), second.RecordedAt)
	second.RecordedAt = first.RecordedAt
	assert.Equal(t, first, second)
}

func TestReading_JSON(t *testing.T) {
	r := Reading{
		OriginTopic:   "sensors/los/0311",
		DeviceSerial:  null.StringFrom("LOS-0311"),
		Concentration: null.FloatFrom(12.05),
		RecordedAt:    testReceivedAt,
	}
	data, err := json.Marshal(r)
	require.NoError(t, err)
	assert.JSONEq(t, `{
		"originTopic": "sensors/los/0311",
		"deviceSerial": "LOS-0311",
		"temperature": null,
		"rxLight": null,
		"r2": null,
		"heartbeat": null,
		"concentration": 12.05,
		"recordedAt": "2025-03-14T09:26:53Z"
	}`, string(data))
}

func FuzzNormalize(f *testing.F) {
	f.Add([]byte(`{"LoS - PPM": "42"}`))
	f.Add([]byte(`{"PPM_INT": -7, "PPM_DEC": 3, "LoS-Temp": "1e309"}`))
	f.Add([]byte(`{"LoS-RxLight": "NaN", "PPM-M-LO": 1e308, "PPM-M-LO-Dec": 99}`))
	f.Add([]byte(`{"timestamp": 9.9e18, "LoS-HB": "0x1p-2"}`))

	n := NewNormalizer(nil)
	f.Fuzz(func(t *testing.T, body []byte) {
		p, err := DecodePayload(body)
		if err != nil {
			return
		}
		r := n.Normalize(p, "fuzz", testReceivedAt)
		for _, field := range LogicalFields {
			v := r.Value(field)
			if v.Valid && (math.IsNaN(v.Float64) || math.IsInf(v.Float64, 0)) {
				t.Fatalf("%s is not finite: %v", field, v.Float64)
			}
		}
		if _, err := json.Marshal(r); err != nil {
			t.Fatalf("reading does not marshal: %v", err)
		}
	})
}
