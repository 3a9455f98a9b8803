package database

import (
	"testing"
	"time"

	"github.com/richxcame/store-loyalty/pkg/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testDatabaseConfig() *config.DatabaseConfig {
	return &config.DatabaseConfig{
		Host:     "db.internal",
		Port:     "5433",
		User:     "loyalty",
		Password: "secret",
		DBName:   "loyalty",
		SSLMode:  "disable",
	}
}

func TestPoolConfig(t *testing.T) {
	cfg := testDatabaseConfig()
	cfg.MaxConns = 12
	cfg.MinConns = 3
	cfg.MaxConnLifetime = 30 * time.Minute
	cfg.ConnectTimeout = 2 * time.Second

	pc, err := PoolConfig(cfg)
	require.NoError(t, err)

	assert.Equal(t, "db.internal", pc.ConnConfig.Host)
	assert.Equal(t, uint16(5433), pc.ConnConfig.Port)
	assert.Equal(t, "loyalty", pc.ConnConfig.Database)
	assert.Equal(t, int32(12), pc.MaxConns)
	assert.Equal(t, int32(3), pc.MinConns)
	assert.Equal(t, 30*time.Minute, pc.MaxConnLifetime)
	assert.Equal(t, 2*time.Second, pc.ConnConfig.ConnectTimeout)
}

func TestPoolConfig_MinAboveMaxIgnored(t *testing.T) {
	cfg := testDatabaseConfig()
	cfg.MaxConns = 2
	cfg.MinConns = 5

	pc, err := PoolConfig(cfg)
	require.NoError(t, err)

	assert.Equal(t, int32(2), pc.MaxConns)
	assert.Equal(t, int32(0), pc.MinConns)
}
