package secrets

import (
	"context"
	"fmt"

	"github.com/richxcame/store-loyalty/pkg/config"
	"github.com/richxcame/store-loyalty/pkg/logger"
	"go.uber.org/zap"
)

// Lookuper resolves a secret reference to its value
type Lookuper interface {
	Lookup(ctx context.Context, raw string) (string, error)
}

// Apply replaces each configured credential whose reference is set with the resolved value
func Apply(ctx context.Context, l Lookuper, cfg *config.Config) error {
	targets := []struct {
		setting string
		ref     string
		dst     *string
	}{
		{"database.password", cfg.Secrets.DatabasePasswordRef, &cfg.Database.Password},
		{"redis.password", cfg.Secrets.RedisPasswordRef, &cfg.Redis.Password},
		{"jwt.secret", cfg.Secrets.JWTSecretRef, &cfg.JWT.Secret},
		{"sentry.dsn", cfg.Secrets.SentryDSNRef, &cfg.Sentry.DSN},
	}

	for _, t := range targets {
		if t.ref == "" {
			continue
		}
		value, err := l.Lookup(ctx, t.ref)
		if err != nil {
			return fmt.Errorf("failed to resolve %s: %w", t.setting, err)
		}
		*t.dst = value
		logger.Info("Resolved secret", zap.String("setting", t.setting))
	}
	return nil
}
