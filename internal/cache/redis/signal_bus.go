package redis

import (
	"context"
	"fmt"
	"strings"

	"github.com/kayyshop/donorboard/internal/domain"
	"github.com/redis/go-redis/v9"
)

// SignalBus implements domain.SignalBus with Redis Pub/Sub. Channel names are
// placed in the client's key namespace so several deployments can share one
// server.
type SignalBus struct {
	client *Client
}

// NewSignalBus creates a SignalBus backed by the given Client.
func NewSignalBus(c *Client) *SignalBus {
	return &SignalBus{client: c}
}

// Publish sends a raw byte payload to a Redis Pub/Sub channel.
func (sb *SignalBus) Publish(ctx context.Context, channel string, payload []byte) error {
	if err := sb.client.rdb.Publish(ctx, sb.client.Key(channel), payload).Err(); err != nil {
		return fmt.Errorf("redis: publish %s: %w", channel, err)
	}
	return nil
}

// Subscribe subscribes to channel and returns a stream of payloads that is
// closed when ctx is cancelled. Only the newest undelivered payload is kept:
// a slow reader skips stale snapshots rather than blocking the subscription.
func (sb *SignalBus) Subscribe(ctx context.Context, channel string) (<-chan []byte, error) {
	name := sb.client.Key(channel)
	var pubsub *redis.PubSub
	if hasPattern(channel) {
		pubsub = sb.client.rdb.PSubscribe(ctx, name)
	} else {
		pubsub = sb.client.rdb.Subscribe(ctx, name)
	}

	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("redis: subscribe %s: %w", channel, err)
	}

	out := make(chan []byte, 1)
	go func() {
		defer close(out)
		defer pubsub.Close()

		ch := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				offerLatest(out, []byte(msg.Payload))
			}
		}
	}()

	return out, nil
}

// offerLatest puts payload on a one-slot channel, replacing any payload the
// reader has not taken yet.
func offerLatest(out chan []byte, payload []byte) {
	for {
		select {
		case out <- payload:
			return
		default:
		}
		select {
		case <-out:
		default:
		}
	}
}

// hasPattern returns true when the Redis channel includes glob-style
// wildcards, in which case PSubscribe must be used instead of Subscribe.
func hasPattern(channel string) bool {
	return strings.ContainsAny(channel, "*?[")
}

// Compile-time interface check.
var _ domain.SignalBus = (*SignalBus)(nil)
