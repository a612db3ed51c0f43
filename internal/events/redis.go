package events

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// UserChannel is the pub/sub channel carrying call events for one user
func UserChannel(userID uuid.UUID) string {
	return fmt.Sprintf("calls:user:%s", userID)
}

// RedisPublisher publishes each event on the channel of every recipient
type RedisPublisher struct {
	client *redis.Client
}

// NewRedisPublisher creates a new RedisPublisher
func NewRedisPublisher(client *redis.Client) *RedisPublisher {
	return &RedisPublisher{client: client}
}

// Publish sends event to every recipient channel in one round trip
func (p *RedisPublisher) Publish(ctx context.Context, event *CallEvent) error {
	if len(event.Recipients) == 0 {
		return nil
	}

	data, err := Encode(event)
	if err != nil {
		return err
	}

	pipe := p.client.Pipeline()
	for _, userID := range event.Recipients {
		pipe.Publish(ctx, UserChannel(userID), data)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to publish call event: %w", err)
	}
	return nil
}
