package notify

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"
)

// RedisBroker fans announcements out over Redis pub/sub so that multiple
// server instances observe the same capability notifications.
type RedisBroker struct {
	client *redis.Client
	logger *slog.Logger
}

var _ Broker = (*RedisBroker)(nil)

// RedisConfig holds connection settings for the Redis broker.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// NewRedisBroker connects to Redis and verifies the connection.
func NewRedisBroker(ctx context.Context, cfg RedisConfig, logger *slog.Logger) (*RedisBroker, error) {
	if logger == nil {
		logger = slog.Default()
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connecting to redis: %w", err)
	}
	return &RedisBroker{client: client, logger: logger}, nil
}

// Publish sends payload on the given topic channel.
func (b *RedisBroker) Publish(ctx context.Context, topic, payload string) error {
	if err := b.client.Publish(ctx, topic, payload).Err(); err != nil {
		return fmt.Errorf("publishing to %s: %w", topic, err)
	}
	return nil
}

// Subscribe opens a Redis subscription on topic. The returned cancel
// function closes the subscription; the channel is closed once the
// subscription ends.
func (b *RedisBroker) Subscribe(ctx context.Context, topic string) (<-chan Message, func(), error) {
	pubsub := b.client.Subscribe(ctx, topic)

	// Receive forces the SUBSCRIBE handshake so a broken connection
	// surfaces here instead of as a silent dead channel.
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, nil, fmt.Errorf("subscribing to %s: %w", topic, err)
	}

	out := make(chan Message, subscriberBuffer)
	go func() {
		defer close(out)
		for msg := range pubsub.Channel() {
			select {
			case out <- Message{Topic: msg.Channel, Payload: msg.Payload}:
			case <-ctx.Done():
				return
			}
		}
	}()

	cancel := func() {
		if err := pubsub.Close(); err != nil {
			b.logger.Warn("closing redis subscription", "topic", topic, "error", err)
		}
	}
	return out, cancel, nil
}

// Close shuts down the underlying Redis client.
func (b *RedisBroker) Close() error {
	return b.client.Close()
}
