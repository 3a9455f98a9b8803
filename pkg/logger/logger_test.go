package logger

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestInit_Development(t *testing.T) {
	require.NoError(t, Init("development"))
	assert.NotNil(t, Get())
}

func TestInit_Production(t *testing.T) {
	require.NoError(t, Init("production"))
	assert.NotNil(t, Get())
}

func TestInitWithFile_WritesToRotatedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "loyalty.log")

	require.NoError(t, InitWithFile("production", FileOptions{Path: path, MaxSizeMB: 1}))
	Info("points awarded", zap.Int64("store_id", 1))
	_ = Sync()

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "points awarded")
	assert.Contains(t, string(data), "\"store_id\":1")
}

func TestWithContext_NoCorrelationID(t *testing.T) {
	require.NoError(t, Init("development"))
	assert.Equal(t, Get(), WithContext(context.Background()))
}

func TestWithContext_CorrelationID(t *testing.T) {
	require.NoError(t, Init("development"))
	ctx := ContextWithCorrelationID(context.Background(), "req-123")
	assert.NotEqual(t, Get(), WithContext(ctx))
}
