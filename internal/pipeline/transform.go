package pipeline

import (
	"context"

	"github.com/couchcryptid/los-telemetry-service/internal/domain"
)

// ReadingTransformer implements Transformer by decoding the JSON payload and
// running it through the domain normalizer.
type ReadingTransformer struct {
	normalizer *domain.Normalizer
}

// NewTransformer creates a ReadingTransformer bound to the device registry.
func NewTransformer(registry *domain.DeviceRegistry) *ReadingTransformer {
	return &ReadingTransformer{normalizer: domain.NewNormalizer(registry)}
}

// Transform returns an error wrapping domain.ErrMalformedPayload when the body
// is not a JSON object. Any decodable object yields a Reading.
func (t *ReadingTransformer) Transform(_ context.Context, msg domain.RawMessage) (domain.Reading, error) {
	payload, err := domain.DecodePayload(msg.Payload)
	if err != nil {
		return domain.Reading{}, err
	}
	return t.normalizer.Normalize(payload, msg.Topic, msg.ReceivedAt), nil
}
