package redis

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/richxcame/store-loyalty/pkg/config"
	"github.com/richxcame/store-loyalty/pkg/logger"
	"go.uber.org/zap"
)

const (
	connectAttempts = 3
	connectBackoff  = 500 * time.Millisecond
)

// Client wraps the Redis client
type Client struct {
	*redis.Client
}

// NewRedisClient creates a new Redis client and waits for the server to answer a PING.
// Only the initial connection is retried; commands issued later are never retried here.
func NewRedisClient(cfg *config.RedisConfig) (*Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr(),
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	var err error
	for attempt := 1; attempt <= connectAttempts; attempt++ {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		err = client.Ping(ctx).Err()
		cancel()
		if err == nil {
			return &Client{Client: client}, nil
		}
		if !isRedisRetryable(err) || attempt == connectAttempts {
			break
		}
		logger.Warn("Redis not ready, retrying",
			zap.Int("attempt", attempt),
			zap.Error(err),
		)
		time.Sleep(connectBackoff * time.Duration(attempt))
	}

	_ = client.Close()
	return nil, fmt.Errorf("unable to connect to redis: %w", err)
}

// Wrap adapts an existing go-redis client, used by tests with redismock
func Wrap(client *redis.Client) *Client {
	return &Client{Client: client}
}

// GetInt returns the integer stored at key; found is false when the key is missing
func (c *Client) GetInt(ctx context.Context, key string) (value int, found bool, err error) {
	value, err = c.Get(ctx, key).Int()
	if errors.Is(err, redis.Nil) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return value, true, nil
}

// SetIfAbsent stores value at key only when the key does not exist yet
func (c *Client) SetIfAbsent(ctx context.Context, key string, value interface{}) (bool, error) {
	return c.SetNX(ctx, key, value, 0).Result()
}

// Close closes the Redis client
func (c *Client) Close() error {
	return c.Client.Close()
}

func isRedisRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	var opErr *net.OpError
	return errors.As(err, &opErr)
}
