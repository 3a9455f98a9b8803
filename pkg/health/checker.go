package health

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"
)

// Checker is a single readiness probe
type Checker func() error

// CheckerConfig holds probe settings
type CheckerConfig struct {
	Timeout time.Duration
}

// DefaultCheckerConfig returns the default probe settings
func DefaultCheckerConfig() CheckerConfig {
	return CheckerConfig{Timeout: 2 * time.Second}
}

// DatabaseChecker returns a health check function for PostgreSQL database
func DatabaseChecker(db *sql.DB) Checker {
	return DatabaseCheckerWithConfig(db, DefaultCheckerConfig())
}

// DatabaseCheckerWithConfig returns a database probe with a custom timeout
func DatabaseCheckerWithConfig(db *sql.DB, cfg CheckerConfig) Checker {
	return func() error {
		if db == nil {
			return errors.New("database connection is nil")
		}
		ctx, cancel := context.WithTimeout(context.Background(), cfg.Timeout)
		defer cancel()
		return db.PingContext(ctx)
	}
}

// RedisChecker returns a health check function for Redis
func RedisChecker(client *redis.Client) Checker {
	return func() error {
		if client == nil {
			return errors.New("redis client is nil")
		}
		ctx, cancel := context.WithTimeout(context.Background(), DefaultCheckerConfig().Timeout)
		defer cancel()
		return client.Ping(ctx).Err()
	}
}

// NATSChecker reports whether the event bus connection is usable
func NATSChecker(conn *nats.Conn) Checker {
	return func() error {
		if conn == nil {
			return errors.New("nats connection is nil")
		}
		if !conn.IsConnected() {
			return fmt.Errorf("nats connection status: %s", conn.Status())
		}
		return nil
	}
}

// CompositeChecker runs every checker and joins failures as "<name>.<check>: <err>"
func CompositeChecker(name string, checkers map[string]Checker) Checker {
	return func() error {
		keys := make([]string, 0, len(checkers))
		for k := range checkers {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		var failures []string
		for _, k := range keys {
			if err := checkers[k](); err != nil {
				failures = append(failures, fmt.Sprintf("%s.%s: %v", name, k, err))
			}
		}
		if len(failures) > 0 {
			return errors.New(strings.Join(failures, "; "))
		}
		return nil
	}
}

// AsyncChecker bounds a checker that does not honour its own deadline
func AsyncChecker(check Checker, timeout time.Duration) Checker {
	return func() error {
		done := make(chan error, 1)
		go func() {
			done <- check()
		}()

		select {
		case err := <-done:
			return err
		case <-time.After(timeout):
			return fmt.Errorf("health check timed out after %s", timeout)
		}
	}
}

// Funcs converts named checkers to the map shape used by the HTTP health handler
func Funcs(checkers map[string]Checker) map[string]func() error {
	out := make(map[string]func() error, len(checkers))
	for k, v := range checkers {
		out[k] = v
	}
	return out
}
