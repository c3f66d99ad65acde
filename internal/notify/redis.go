package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	DefaultRedisChannel = "missionbot:events"
	DefaultReconcileKey = "missionbot:reconcile"
	DefaultRedisTimeout = 5 * time.Second
)

// RedisConfig configures the Redis notifier
type RedisConfig struct {
	// URL format: redis://[:password@]host:port[/db]
	URL          string
	Channel      string
	ReconcileKey string
	Timeout      time.Duration
	Retries      int
}

// RedisNotifier publishes events as JSON on a pub/sub channel. Inconsistent
// state events are also pushed to a list so an operator can reconcile them
// after the fact.
type RedisNotifier struct {
	config RedisConfig
	client *redis.Client
}

// NewRedisNotifier creates a Redis notifier from the given config
func NewRedisNotifier(cfg RedisConfig) (*RedisNotifier, error) {
	if cfg.URL == "" {
		return nil, errors.New("redis notifier requires a URL")
	}

	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}

	if cfg.Channel == "" {
		cfg.Channel = DefaultRedisChannel
	}
	if cfg.ReconcileKey == "" {
		cfg.ReconcileKey = DefaultReconcileKey
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultRedisTimeout
	}
	if cfg.Retries < 0 {
		return nil, fmt.Errorf("retries must be >= 0, got %d", cfg.Retries)
	}

	return &RedisNotifier{
		config: cfg,
		client: redis.NewClient(opts),
	}, nil
}

// Notify publishes the event, retrying with backoff on failure
func (n *RedisNotifier) Notify(ctx context.Context, event Event) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("redis: marshal event: %w", err)
	}

	if event.Type == EventInconsistentState {
		err := withRetry(ctx, n.config.Retries, func(ctx context.Context) (bool, error) {
			pushCtx, cancel := context.WithTimeout(ctx, n.config.Timeout)
			defer cancel()
			return false, n.client.RPush(pushCtx, n.config.ReconcileKey, body).Err()
		})
		if err != nil {
			return fmt.Errorf("redis: reconcile push: %w", err)
		}
	}

	err = withRetry(ctx, n.config.Retries, func(ctx context.Context) (bool, error) {
		publishCtx, cancel := context.WithTimeout(ctx, n.config.Timeout)
		defer cancel()
		return false, n.client.Publish(publishCtx, n.config.Channel, body).Err()
	})
	if err != nil {
		return fmt.Errorf("redis: publish: %w", err)
	}

	return nil
}

// HealthCheck pings the server
func (n *RedisNotifier) HealthCheck(ctx context.Context) error {
	return n.client.Ping(ctx).Err()
}

// Close releases the client
func (n *RedisNotifier) Close() error {
	return n.client.Close()
}

var _ Notifier = (*RedisNotifier)(nil)
