package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("loyalty")
	require.NoError(t, err)

	assert.Equal(t, "loyalty", cfg.Server.ServiceName)
	assert.Equal(t, 10, cfg.Loyalty.IncomeMultiplier)
	assert.Equal(t, 50, cfg.Loyalty.CodeBonus)
	assert.Equal(t, 100, cfg.Loyalty.DateBonus)
	assert.Equal(t, 7, cfg.Loyalty.CampaignDays)
	assert.Equal(t, "weekday", cfg.Loyalty.CampaignMode)
	assert.Equal(t, "postgres", cfg.Loyalty.CodeBackend)
	assert.Equal(t, DefaultDatabaseQueryTimeout, cfg.Loyalty.OperationTimeout)
	assert.False(t, cfg.Loyalty.CampaignAnchor.IsZero())
	assert.True(t, cfg.RateLimit.Enabled)
	assert.Equal(t, time.Minute, cfg.RateLimit.Window())
	assert.Empty(t, cfg.RateLimit.EndpointOverrides)
	assert.Equal(t, 5, cfg.NATS.Breaker.FailureThreshold)
	assert.Equal(t, 30*time.Second, cfg.NATS.Breaker.OpenTimeout)
	assert.Equal(t, time.Hour, cfg.Database.MaxConnLifetime)
	assert.Empty(t, cfg.Secrets.Provider)
	assert.Equal(t, 5*time.Minute, cfg.Secrets.CacheTTL)
}

func TestLoad_LoyaltyOverrides(t *testing.T) {
	t.Setenv("LOYALTY_CAMPAIGN_ANCHOR", "2024-03-04")
	t.Setenv("LOYALTY_CAMPAIGN_MODE", "elapsed")
	t.Setenv("LOYALTY_CODE_BACKEND", "redis")
	t.Setenv("LOYALTY_OPERATION_TIMEOUT", "2s")
	t.Setenv("LOYALTY_CODE_BONUS", "75")

	cfg, err := Load("loyalty")
	require.NoError(t, err)

	assert.Equal(t, time.Date(2024, 3, 4, 0, 0, 0, 0, time.UTC), cfg.Loyalty.CampaignAnchor)
	assert.Equal(t, "elapsed", cfg.Loyalty.CampaignMode)
	assert.Equal(t, "redis", cfg.Loyalty.CodeBackend)
	assert.Equal(t, 2*time.Second, cfg.Loyalty.OperationTimeout)
	assert.Equal(t, 75, cfg.Loyalty.CodeBonus)
}

func TestLoad_InvalidAnchor(t *testing.T) {
	t.Setenv("LOYALTY_CAMPAIGN_ANCHOR", "next tuesday")

	_, err := Load("loyalty")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "LOYALTY_CAMPAIGN_ANCHOR")
}

func TestLoad_InvalidBackend(t *testing.T) {
	t.Setenv("LOYALTY_CODE_BACKEND", "etcd")

	_, err := Load("loyalty")
	require.Error(t, err)
}

func TestLoad_InvalidCampaignMode(t *testing.T) {
	t.Setenv("LOYALTY_CAMPAIGN_MODE", "monthly")

	_, err := Load("loyalty")
	require.Error(t, err)
}

func TestLoad_RateLimitEndpointOverrides(t *testing.T) {
	t.Setenv("RATE_LIMIT_ENDPOINTS", `{"/api/v1/stores/:idstore/customers/:idcustomer/prizes/:idprize":{"authenticated_limit":10,"authenticated_burst":2}}`)

	cfg, err := Load("loyalty")
	require.NoError(t, err)

	override, ok := cfg.RateLimit.EndpointOverrides["/api/v1/stores/:idstore/customers/:idcustomer/prizes/:idprize"]
	require.True(t, ok)
	assert.Equal(t, 10, override.AuthenticatedLimit)
	assert.Equal(t, 2, override.AuthenticatedBurst)
}

func TestLoad_InvalidRateLimitEndpoints(t *testing.T) {
	t.Setenv("RATE_LIMIT_ENDPOINTS", "not-json")

	_, err := Load("loyalty")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "RATE_LIMIT_ENDPOINTS")
}

func TestDatabaseConfig_DSN(t *testing.T) {
	cfg := DatabaseConfig{
		Host: "db", Port: "5432", User: "u", Password: "p", DBName: "loyalty", SSLMode: "disable",
	}
	assert.Equal(t, "host=db port=5432 user=u password=p dbname=loyalty sslmode=disable", cfg.DSN())
}

func TestRedisConfig_RedisAddr(t *testing.T) {
	cfg := RedisConfig{Host: "cache", Port: "6380"}
	assert.Equal(t, "cache:6380", cfg.RedisAddr())
}

func TestLoad_SecretReferences(t *testing.T) {
	t.Setenv("SECRETS_PROVIDER", "vault")
	t.Setenv("VAULT_ADDR", "http://vault:8200")
	t.Setenv("DB_PASSWORD_SECRET_REF", "loyalty/postgres#password")
	t.Setenv("JWT_SECRET_REF", "vault://loyalty/jwt")

	cfg, err := Load("loyalty")
	require.NoError(t, err)

	assert.Equal(t, "vault", cfg.Secrets.Provider)
	assert.Equal(t, "http://vault:8200", cfg.Secrets.VaultAddress)
	assert.Equal(t, "secret", cfg.Secrets.VaultMount)
	assert.Equal(t, "loyalty/postgres#password", cfg.Secrets.DatabasePasswordRef)
	assert.Equal(t, "vault://loyalty/jwt", cfg.Secrets.JWTSecretRef)
}

func TestLoad_InvalidSecretsProvider(t *testing.T) {
	t.Setenv("SECRETS_PROVIDER", "etcd")

	_, err := Load("loyalty")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "SECRETS_PROVIDER")
}

func TestLoad_SecretReferenceWithoutProvider(t *testing.T) {
	t.Setenv("REDIS_PASSWORD_SECRET_REF", "loyalty/redis")

	_, err := Load("loyalty")
	require.Error(t, err)
}
