package domain

import (
	"fmt"
	"sort"
	"strings"

	"github.com/guregu/null"
)

// MergePolicy decides how a device's split concentration halves combine.
type MergePolicy int

const (
	// PolicyIntegerPlusFraction merges the decimal half into the integer half.
	// It is the zero value and the default for unregistered devices.
	PolicyIntegerPlusFraction MergePolicy = iota
	// PolicyIntegerOnly discards the decimal half. Used for devices whose
	// decimal stream is known to carry no meaningful digits.
	PolicyIntegerOnly
)

func (p MergePolicy) String() string {
	switch p {
	case PolicyIntegerPlusFraction:
		return "integer_plus_fraction"
	case PolicyIntegerOnly:
		return "integer_only"
	default:
		return fmt.Sprintf("MergePolicy(%d)", int(p))
	}
}

// ParseMergePolicy accepts the registry spelling of a policy. The empty string
// selects PolicyIntegerPlusFraction.
func ParseMergePolicy(s string) (MergePolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "integer_plus_fraction":
		return PolicyIntegerPlusFraction, nil
	case "integer_only":
		return PolicyIntegerOnly, nil
	default:
		return 0, fmt.Errorf("unknown merge policy %q", s)
	}
}

// Apply produces the concentration value for the given halves.
func (p MergePolicy) Apply(intVal, decVal null.Float) null.Float {
	if p == PolicyIntegerOnly {
		if !intVal.Valid || !finite(intVal.Float64) {
			return null.Float{}
		}
		return null.FloatFrom(intVal.Float64)
	}
	return MergeIntAndDec(intVal, decVal)
}

// Device is one registry entry.
type Device struct {
	Serial string
	Topics []string
	Policy MergePolicy
}

// DeviceRegistry is the static topic → serial and serial → policy
// configuration. It is read-only after construction and safe for concurrent use.
type DeviceRegistry struct {
	serialByTopic  map[string]string
	policyBySerial map[string]MergePolicy
	defaultPolicy  MergePolicy
}

// NewDeviceRegistry validates and indexes devices. Serials must be non-empty
// and unique, and a topic may belong to only one device.
func NewDeviceRegistry(defaultPolicy MergePolicy, devices ...Device) (*DeviceRegistry, error) {
	r := &DeviceRegistry{
		serialByTopic:  make(map[string]string),
		policyBySerial: make(map[string]MergePolicy, len(devices)),
		defaultPolicy:  defaultPolicy,
	}
	for _, d := range devices {
		serial := strings.TrimSpace(d.Serial)
		if serial == "" {
			return nil, fmt.Errorf("device with topics %v has no serial", d.Topics)
		}
		if _, dup := r.policyBySerial[serial]; dup {
			return nil, fmt.Errorf("duplicate device serial %q", serial)
		}
		r.policyBySerial[serial] = d.Policy
		for _, topic := range d.Topics {
			if owner, taken := r.serialByTopic[topic]; taken {
				return nil, fmt.Errorf("topic %q mapped to both %q and %q", topic, owner, serial)
			}
			r.serialByTopic[topic] = serial
		}
	}
	return r, nil
}

// SerialForTopic returns the serial mapped to topic.
func (r *DeviceRegistry) SerialForTopic(topic string) (string, bool) {
	if r == nil {
		return "", false
	}
	s, ok := r.serialByTopic[topic]
	return s, ok
}

// PolicyFor returns the merge policy for serial, or the default policy.
func (r *DeviceRegistry) PolicyFor(serial string) MergePolicy {
	if r == nil {
		return PolicyIntegerPlusFraction
	}
	if p, ok := r.policyBySerial[serial]; ok {
		return p
	}
	return r.defaultPolicy
}

// Topics returns every mapped topic in sorted order.
func (r *DeviceRegistry) Topics() []string {
	if r == nil {
		return nil
	}
	topics := make([]string, 0, len(r.serialByTopic))
	for t := range r.serialByTopic {
		topics = append(topics, t)
	}
	sort.Strings(topics)
	return topics
}
