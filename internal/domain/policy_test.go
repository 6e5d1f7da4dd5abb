package domain

import (
	"testing"

	"github.com/guregu/null"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testSerialIntOnly = "LOS-2207"
	testSerialMerged  = "LOS-0311"
	testTopicIntOnly  = "sensors/los/2207"
	testTopicMerged   = "sensors/los/0311"
)

func testRegistry(t *testing.T) *DeviceRegistry {
	t.Helper()
	r, err := NewDeviceRegistry(PolicyIntegerPlusFraction,
		Device{Serial: testSerialIntOnly, Topics: []string{testTopicIntOnly}, Policy: PolicyIntegerOnly},
		Device{Serial: testSerialMerged, Topics: []string{testTopicMerged, "legacy/0311"}},
	)
	require.NoError(t, err)
	return r
}

func TestParseMergePolicy(t *testing.T) {
	for in, want := range map[string]MergePolicy{
		"":                      PolicyIntegerPlusFraction,
		"integer_plus_fraction": PolicyIntegerPlusFraction,
		" Integer_Only ":        PolicyIntegerOnly,
	} {
		got, err := ParseMergePolicy(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	_, err := ParseMergePolicy("round_up")
	assert.ErrorContains(t, err, "round_up")
}

func TestMergePolicy_String(t *testing.T) {
	assert.Equal(t, "integer_only", PolicyIntegerOnly.String())
	assert.Equal(t, "integer_plus_fraction", PolicyIntegerPlusFraction.String())
	assert.Equal(t, "MergePolicy(9)", MergePolicy(9).String())
}

func TestMergePolicy_Apply(t *testing.T) {
	i, d := null.FloatFrom(8), null.FloatFrom(7)
	assert.Equal(t, null.FloatFrom(8), PolicyIntegerOnly.Apply(i, d))
	assert.Equal(t, null.FloatFrom(8.07), PolicyIntegerPlusFraction.Apply(i, d))
	assert.False(t, PolicyIntegerOnly.Apply(null.Float{}, d).Valid)
}

func TestDeviceRegistry_Lookups(t *testing.T) {
	r := testRegistry(t)

	serial, ok := r.SerialForTopic("legacy/0311")
	assert.True(t, ok)
	assert.Equal(t, testSerialMerged, serial)

	_, ok = r.SerialForTopic("sensors/unknown")
	assert.False(t, ok)

	assert.Equal(t, PolicyIntegerOnly, r.PolicyFor(testSerialIntOnly))
	assert.Equal(t, PolicyIntegerPlusFraction, r.PolicyFor(testSerialMerged))
	assert.Equal(t, PolicyIntegerPlusFraction, r.PolicyFor("unregistered"))
	assert.Equal(t, []string{"legacy/0311", testTopicMerged, testTopicIntOnly}, r.Topics())
}

func TestDeviceRegistry_DefaultPolicy(t *testing.T) {
	r, err := NewDeviceRegistry(PolicyIntegerOnly)
	require.NoError(t, err)
	assert.Equal(t, PolicyIntegerOnly, r.PolicyFor("anything"))
}

func TestDeviceRegistry_NilIsEmpty(t *testing.T) {
	var r *DeviceRegistry
	_, ok := r.SerialForTopic("x")
	assert.False(t, ok)
	assert.Equal(t, PolicyIntegerPlusFraction, r.PolicyFor("x"))
	assert.Empty(t, r.Topics())
}

func TestNewDeviceRegistry_Invalid(t *testing.T) {
	_, err := NewDeviceRegistry(PolicyIntegerPlusFraction, Device{Serial: " ", Topics: []string{"a"}})
	assert.ErrorContains(t, err, "no serial")

	_, err = NewDeviceRegistry(PolicyIntegerPlusFraction, Device{Serial: "A"}, Device{Serial: "A"})
	assert.ErrorContains(t, err, "duplicate device serial")

	_, err = NewDeviceRegistry(PolicyIntegerPlusFraction,
		Device{Serial: "A", Topics: []string{"t"}},
		Device{Serial: "B", Topics: []string{"t"}},
	)
	assert.ErrorContains(t, err, `topic "t"`)
}
