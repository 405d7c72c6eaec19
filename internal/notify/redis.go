package notify

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
)

const defaultStream = "agora:federation:events"

// RedisPublisher appends events to a Redis stream so notification and email
// services can consume them independently of the federation process.
type RedisPublisher struct {
	client *redis.Client
	stream string
}

// NewRedisPublisher constructs a publisher over the given client.
func NewRedisPublisher(client *redis.Client, stream string) *RedisPublisher {
	if stream == "" {
		stream = defaultStream
	}
	return &RedisPublisher{client: client, stream: stream}
}

// Publish appends the event to the stream.
func (p *RedisPublisher) Publish(ctx context.Context, event Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	err = p.client.XAdd(ctx, &redis.XAddArgs{
		Stream: p.stream,
		Values: map[string]any{"event": payload},
	}).Err()
	if err != nil {
		return fmt.Errorf("xadd event: %w", err)
	}
	return nil
}
