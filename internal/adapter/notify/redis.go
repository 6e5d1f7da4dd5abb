package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

type streamAdder interface {
	XAdd(ctx context.Context, a *redis.XAddArgs) *redis.StringCmd
}

// RedisStream appends notifications to a Redis stream for downstream consumers.
type RedisStream struct {
	client streamAdder
	stream string
	maxLen int64
}

// NewRedisStream creates a sink writing to stream. The stream is trimmed to
// roughly maxLen entries; zero disables trimming.
func NewRedisStream(client *redis.Client, stream string, maxLen int64) *RedisStream {
	return &RedisStream{client: client, stream: stream, maxLen: maxLen}
}

func (s *RedisStream) Name() string { return "redis" }

func (s *RedisStream) Send(ctx context.Context, n Notification) error {
	metadata, err := json.Marshal(n.Metadata)
	if err != nil {
		return fmt.Errorf("encode metadata: %w", err)
	}

	args := &redis.XAddArgs{
		Stream: s.stream,
		Values: map[string]interface{}{
			"id":           n.ID,
			"title":        n.Title,
			"message":      n.Message,
			"metadata":     string(metadata),
			"triggered_at": n.TriggeredAt.UTC().Format(time.RFC3339),
		},
	}
	if s.maxLen > 0 {
		args.MaxLen = s.maxLen
		args.Approx = true
	}

	if err := s.client.XAdd(ctx, args).Err(); err != nil {
		return fmt.Errorf("xadd %s: %w", s.stream, err)
	}
	return nil
}
