package redis

import (
	"context"
	"fmt"
)

// EventBus publishes events on Redis pub/sub. The channel is the topic under
// the client prefix; the key is not used by pub/sub.
type EventBus struct {
	c *Client
}

// NewEventBus creates an EventBus.
func NewEventBus(c *Client) *EventBus {
	return &EventBus{c: c}
}

// Publish sends payload to the topic channel.
func (b *EventBus) Publish(ctx context.Context, topic, _ string, payload []byte) error {
	channel := b.c.key(topic)
	if err := b.c.rdb.Publish(ctx, channel, payload).Err(); err != nil {
		return fmt.Errorf("redis: publish %s: %w", channel, err)
	}
	return nil
}
