package logger

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestRequestIDRoundTrip(t *testing.T) {
	ctx := WithRequestID(context.Background(), "req-42")
	assert.Equal(t, "req-42", RequestIDFromContext(ctx))
	assert.Empty(t, RequestIDFromContext(context.Background()))
}

func TestInit_WritesJSONWithServiceFields(t *testing.T) {
	previous := Log
	t.Cleanup(func() { Log = previous })

	path := filepath.Join(t.TempDir(), "app.log")
	require.NoError(t, Init(&Config{
		Level:       "debug",
		Format:      "json",
		Output:      "file",
		FilePath:    path,
		ServiceName: "call-service",
		Environment: "staging",
	}))

	FromContext(WithRequestID(context.Background(), "req-7")).Info("call started", zap.String("call_id", "c1"))
	require.NoError(t, Log.Sync())

	raw, err := os.ReadFile(path)
	require.NoError(t, err)

	var entry map[string]any
	require.NoError(t, json.Unmarshal(raw, &entry))
	assert.Equal(t, "call started", entry["msg"])
	assert.Equal(t, "call-service", entry["service"])
	assert.Equal(t, "staging", entry["env"])
	assert.Equal(t, "req-7", entry["request_id"])
	assert.Equal(t, "c1", entry["call_id"])
}

func TestInit_UnknownLevelFallsBackToInfo(t *testing.T) {
	previous := Log
	t.Cleanup(func() { Log = previous })

	require.NoError(t, Init(&Config{Level: "chatty", Format: "json", Output: "stdout"}))
	assert.False(t, Log.Core().Enabled(zap.DebugLevel))
	assert.True(t, Log.Core().Enabled(zap.InfoLevel))
}
