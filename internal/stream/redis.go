package stream

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"gatehouse.org/internal/obs"
)

// RedisNotifier publishes events on a Redis channel so every API instance can
// deliver them to its local Hub.
type RedisNotifier struct {
	client  *redis.Client
	channel string
	hub     *Hub
}

var _ Notifier = (*RedisNotifier)(nil)

// NewRedisNotifier connects to redisURL and verifies the connection.
func NewRedisNotifier(ctx context.Context, redisURL, channel string, hub *Hub) (*RedisNotifier, error) {
	if hub == nil {
		return nil, errors.New("stream: hub is required")
	}
	if channel == "" {
		return nil, errors.New("stream: redis channel is required")
	}
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}
	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, err
	}
	return &RedisNotifier{client: client, channel: channel, hub: hub}, nil
}

// Notify publishes evt. Delivery happens in Run on every subscribed instance.
func (n *RedisNotifier) Notify(ctx context.Context, userID string, evt Event) error {
	data, err := json.Marshal(Stamp(userID, evt))
	if err != nil {
		return err
	}
	return n.client.Publish(ctx, n.channel, data).Err()
}

// Run forwards channel messages to the local hub until ctx ends.
func (n *RedisNotifier) Run(ctx context.Context) error {
	sub := n.client.Subscribe(ctx, n.channel)
	defer sub.Close()

	if _, err := sub.Receive(ctx); err != nil {
		return err
	}
	msgs := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-msgs:
			if !ok {
				return nil
			}
			var evt Event
			if err := json.Unmarshal([]byte(msg.Payload), &evt); err != nil {
				obs.Logger().Warn("notification_decode_failed", "channel", msg.Channel, "error", err)
				continue
			}
			n.hub.Publish(evt)
		}
	}
}

// Ping reports whether Redis is reachable.
func (n *RedisNotifier) Ping(ctx context.Context) error {
	return n.client.Ping(ctx).Err()
}

func (n *RedisNotifier) Close() error { return n.client.Close() }
