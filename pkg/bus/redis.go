package bus

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"
)

const DefaultChannel = "codecollab:rooms"

// Redis shares messages between relays through a redis pub/sub channel. Messages are CBOR framed.
type Redis struct {
	client  *redis.Client
	channel string
}

func NewRedis(ctx context.Context, addr, channel string) (*Redis, error) {
	if channel == "" {
		channel = DefaultChannel
	}
	client := redis.NewClient(&redis.Options{Addr: addr})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("could not connect to redis at %s: %w", addr, err)
	}
	slog.Info("connected to redis", "addr", addr, "channel", channel)
	return &Redis{client: client, channel: channel}, nil
}

func (r *Redis) Publish(ctx context.Context, m Message) error {
	raw, err := Marshal(m)
	if err != nil {
		return fmt.Errorf("failed to encode bus message: %w", err)
	}
	if err := r.client.Publish(ctx, r.channel, raw).Err(); err != nil {
		return fmt.Errorf("failed to publish: %w", err)
	}
	return nil
}

func (r *Redis) Subscribe(ctx context.Context, h Handler) (func(), error) {
	pubsub := r.client.Subscribe(ctx, r.channel)
	// Wait for the subscription to be confirmed so that nothing published after we return is missed.
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("failed to subscribe to %s: %w", r.channel, err)
	}
	done := make(chan struct{})
	go func() {
		defer close(done)
		for msg := range pubsub.Channel() {
			m, err := Unmarshal([]byte(msg.Payload))
			if err != nil {
				slog.Warn("dropping bus message", "err", err)
				continue
			}
			h(m)
		}
	}()
	return func() {
		_ = pubsub.Close()
		<-done
	}, nil
}

func (r *Redis) Close() error {
	return r.client.Close()
}
