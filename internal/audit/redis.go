package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisClient is the subset of redis operations the sink needs (for testing).
type RedisClient interface {
	XAdd(ctx context.Context, args *redis.XAddArgs) *redis.StringCmd
	Close() error
}

// StreamSink publishes audit events to a Redis stream for external monitoring.
type StreamSink struct {
	client  RedisClient
	stream  string
	timeout time.Duration
	logger  *slog.Logger
}

func NewStreamSink(client RedisClient, stream string, logger *slog.Logger) *StreamSink {
	return &StreamSink{
		client:  client,
		stream:  stream,
		timeout: 5 * time.Second,
		logger:  logger.With("component", "audit_stream"),
	}
}

func (s *StreamSink) Append(event Event) error {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal audit event: %w", err)
	}

	args := &redis.XAddArgs{
		Stream: s.stream,
		Values: map[string]interface{}{
			"data":      string(data),
			"kind":      string(event.Kind),
			"timestamp": fmt.Sprintf("%d", event.Timestamp.UnixNano()),
			"event_id":  event.ID,
		},
	}

	if _, err := s.client.XAdd(ctx, args).Result(); err != nil {
		s.logger.Error("failed to publish audit event", "event_id", event.ID, "error", err)
		return fmt.Errorf("failed to publish to redis: %w", err)
	}

	return nil
}

func (s *StreamSink) Close() error {
	return s.client.Close()
}
