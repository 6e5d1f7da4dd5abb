// Command normalize runs recorded MQTT payloads through the same normalizer
// the relay uses and prints one Reading per sample as JSON lines. With -check
// it compares each Reading against the sample's "expect" block and exits
// non-zero on any mismatch, which keeps UI and API fixtures honest.
//
// Usage:
//
//	go run ./cmd/normalize \
//	  -registry devices.yaml \
//	  -in testdata/samples.json \
//	  -received-at 2025-03-14T09:26:53Z \
//	  -check
package main

import (
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"math"
	"os"
	"sort"
	"time"

	"github.com/couchcryptid/los-telemetry-service/internal/config"
	"github.com/couchcryptid/los-telemetry-service/internal/domain"
)

// sample is one recorded message. Payload is kept raw so key order survives.
type sample struct {
	Name    string              `json:"name"`
	Topic   string              `json:"topic"`
	Payload json.RawMessage     `json:"payload"`
	Expect  map[string]*float64 `json:"expect,omitempty"`
	Serial  *string             `json:"expectSerial,omitempty"`
}

func main() {
	if err := run(os.Args[1:], os.Stdout, os.Stderr); err != nil {
		log.Fatal(err)
	}
}

func run(args []string, stdout, stderr io.Writer) error {
	fs := flag.NewFlagSet("normalize", flag.ContinueOnError)
	fs.SetOutput(stderr)
	registryPath := fs.String("registry", "", "device registry file (optional)")
	inPath := fs.String("in", "", "JSON array of {name, topic, payload, expect} samples")
	receivedAt := fs.String("received-at", "", "RFC3339 receive time for payloads without a timestamp (default: now)")
	check := fs.Bool("check", false, "compare each reading with the sample's expect block")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *inPath == "" {
		fs.Usage()
		return errors.New("missing required flag: -in")
	}

	registry, err := loadRegistry(*registryPath)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	if *receivedAt != "" {
		if now, err = time.Parse(time.RFC3339, *receivedAt); err != nil {
			return fmt.Errorf("invalid -received-at: %w", err)
		}
	}

	samples, err := readSamples(*inPath)
	if err != nil {
		return err
	}

	normalizer := domain.NewNormalizer(registry)
	enc := json.NewEncoder(stdout)
	logger := log.New(stderr, "", 0)

	var st stats
	var failures []string
	for i, s := range samples {
		label := s.Name
		if label == "" {
			label = fmt.Sprintf("sample %d", i)
		}

		payload, err := domain.DecodePayload(s.Payload)
		if err != nil {
			logger.Printf("%s: skipped: %v", label, err)
			st.malformed++
			continue
		}

		reading := normalizer.Normalize(payload, s.Topic, now)
		st.add(reading)
		if err := enc.Encode(reading); err != nil {
			return fmt.Errorf("write reading: %w", err)
		}

		if *check {
			for _, msg := range compare(s, reading) {
				failures = append(failures, fmt.Sprintf("%s: %s", label, msg))
			}
		}
	}

	st.print(logger)

	if len(failures) > 0 {
		for _, f := range failures {
			logger.Printf("FAIL %s", f)
		}
		return fmt.Errorf("%d expectation(s) failed", len(failures))
	}
	return nil
}

func loadRegistry(path string) (*domain.DeviceRegistry, error) {
	if path == "" {
		return domain.NewDeviceRegistry(domain.PolicyIntegerPlusFraction)
	}
	return config.LoadRegistry(path)
}

func readSamples(path string) ([]sample, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read samples: %w", err)
	}
	var samples []sample
	if err := json.Unmarshal(data, &samples); err != nil {
		return nil, fmt.Errorf("decode samples %s: %w", path, err)
	}
	return samples, nil
}

// compare checks the fields named in the sample's expect block. A JSON null
// expects the field to be null.
func compare(s sample, r domain.Reading) []string {
	var out []string

	fields := make([]string, 0, len(s.Expect))
	for f := range s.Expect {
		fields = append(fields, f)
	}
	sort.Strings(fields)

	for _, name := range fields {
		want := s.Expect[name]
		got := r.Value(domain.LogicalField(name))
		switch {
		case !knownField(name):
			out = append(out, fmt.Sprintf("unknown field %q in expect", name))
		case want == nil && got.Valid:
			out = append(out, fmt.Sprintf("%s: want null, got %v", name, got.Float64))
		case want != nil && !got.Valid:
			out = append(out, fmt.Sprintf("%s: want %v, got null", name, *want))
		case want != nil && math.Abs(*want-got.Float64) > 1e-9:
			out = append(out, fmt.Sprintf("%s: want %v, got %v", name, *want, got.Float64))
		}
	}

	if s.Serial != nil && r.DeviceSerial.String != *s.Serial {
		out = append(out, fmt.Sprintf("deviceSerial: want %q, got %q", *s.Serial, r.DeviceSerial.String))
	}
	return out
}

func knownField(name string) bool {
	for _, f := range domain.LogicalFields {
		if string(f) == name {
			return true
		}
	}
	return false
}

// stats holds aggregated counts for the summary printed to stderr.
type stats struct {
	total     int
	malformed int
	persisted int
	fields    map[domain.LogicalField]int
	devices   map[string]int
}

func (s *stats) add(r domain.Reading) {
	if s.fields == nil {
		s.fields = make(map[domain.LogicalField]int)
		s.devices = make(map[string]int)
	}
	s.total++
	if r.HasAnyField() {
		s.persisted++
	}
	for _, f := range domain.LogicalFields {
		if r.Value(f).Valid {
			s.fields[f]++
		}
	}
	device := r.DeviceSerial.String
	if device == "" {
		device = "(unmapped)"
	}
	s.devices[device]++
}

func (s *stats) print(logger *log.Logger) {
	logger.Printf("readings: %d (%d would be persisted), malformed: %d", s.total, s.persisted, s.malformed)
	for _, f := range domain.LogicalFields {
		logger.Printf("  %-13s %d", f, s.fields[f])
	}
	devices := make([]string, 0, len(s.devices))
	for d := range s.devices {
		devices = append(devices, d)
	}
	sort.Strings(devices)
	for _, d := range devices {
		logger.Printf("  device %-10s %d", d, s.devices[d])
	}
}
