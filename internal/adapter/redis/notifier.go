// Package redis carries weight-change notifications over Redis pub/sub.
package redis

import (
	"context"
	"fmt"
	"log/slog"

	goredis "github.com/redis/go-redis/v9"
)

// Notifier publishes and subscribes to weight-change notifications on one
// channel. The payload is the new weight version, which may be empty.
type Notifier struct {
	client  *goredis.Client
	channel string
	logger  *slog.Logger
}

// NewClient parses a redis:// URL and verifies the server with a ping.
func NewClient(ctx context.Context, url string) (*goredis.Client, error) {
	opts, err := goredis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("redis: parse url: %w", err)
	}
	client := goredis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis: ping: %w", err)
	}
	return client, nil
}

// NewNotifier creates a Notifier on channel.
func NewNotifier(client *goredis.Client, channel string, logger *slog.Logger) *Notifier {
	return &Notifier{client: client, channel: channel, logger: logger}
}

// HealthCheck pings Redis.
func (n *Notifier) HealthCheck(ctx context.Context) error {
	return n.client.Ping(ctx).Err()
}

// Publish announces that the active weights changed.
func (n *Notifier) Publish(ctx context.Context, version string) error {
	if err := n.client.Publish(ctx, n.channel, version).Err(); err != nil {
		return fmt.Errorf("redis: publish %s: %w", n.channel, err)
	}
	return nil
}

// Subscribe returns a channel of notification payloads. The subscription is
// confirmed before Subscribe returns. The returned channel is closed once
// ctx is done.
func (n *Notifier) Subscribe(ctx context.Context) (<-chan string, error) {
	sub := n.client.Subscribe(ctx, n.channel)
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return nil, fmt.Errorf("redis: subscribe %s: %w", n.channel, err)
	}

	out := make(chan string, 1)
	go func() {
		defer close(out)
		defer sub.Close()
		msgs := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-msgs:
				if !ok {
					return
				}
				n.logger.Debug("weights notification received", "channel", msg.Channel, "payload", msg.Payload)
				select {
				case out <- msg.Payload:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}
