package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setRequired(t *testing.T) {
	t.Setenv("JWT_SECRET", "test-secret")
	t.Setenv("MEDIA_API_KEY", "devkey")
	t.Setenv("MEDIA_API_SECRET", "devsecret")
}

func TestLoad_Defaults(t *testing.T) {
	setRequired(t)

	cfg, err := load(t.TempDir())
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "cockroach", cfg.Calls.Store)
	assert.Equal(t, 60*time.Second, cfg.Calls.RingTimeout)
	assert.Equal(t, 4*time.Hour, cfg.Calls.MaxAge)
	assert.Equal(t, 2*time.Hour, cfg.Media.TokenTTL)
	assert.Equal(t, "mock", cfg.Push.Provider)
	assert.False(t, cfg.Kafka.Enabled)
	assert.Equal(t, "call-events", cfg.Kafka.Topic)
	assert.Equal(t, 15*time.Minute, cfg.JWT.AccessTokenExpiry)
	assert.Equal(t, 30*time.Second, cfg.Calls.ReaperInterval)
	assert.Equal(t, "devsecret", cfg.Media.APISecret)
}

func TestLoad_EnvironmentOverrides(t *testing.T) {
	setRequired(t)
	t.Setenv("PORT", "9090")
	t.Setenv("CALL_RING_TIMEOUT", "45s")
	t.Setenv("CALL_STORE", "memory")
	t.Setenv("KAFKA_BROKERS", "k1:9092,k2:9092")

	cfg, err := load(t.TempDir())
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, 45*time.Second, cfg.Calls.RingTimeout)
	assert.Equal(t, "memory", cfg.Calls.Store)
	assert.True(t, cfg.Kafka.Enabled)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.Kafka.Brokers)
}

func TestLoad_DotEnvFile(t *testing.T) {
	setRequired(t)
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("DB_HOST=db.internal\nCALL_MAX_AGE=2h\n"), 0o600))
	t.Setenv("CALL_MAX_AGE", "3h")

	cfg, err := load(dir)
	require.NoError(t, err)

	assert.Equal(t, "db.internal", cfg.Database.Host)
	assert.Equal(t, 3*time.Hour, cfg.Calls.MaxAge, "environment wins over .env")
}

func TestLoad_SecretFromFile(t *testing.T) {
	setRequired(t)
	secretPath := filepath.Join(t.TempDir(), "media_secret")
	require.NoError(t, os.WriteFile(secretPath, []byte("from-file\n"), 0o600))
	t.Setenv("MEDIA_API_SECRET_FILE", secretPath)

	cfg, err := load(t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, "from-file", cfg.Media.APISecret)
}

func TestLoad_Validation(t *testing.T) {
	t.Run("missing media key", func(t *testing.T) {
		setRequired(t)
		t.Setenv("MEDIA_API_KEY", "")
		_, err := load(t.TempDir())
		assert.Error(t, err)
	})

	t.Run("unknown push provider", func(t *testing.T) {
		setRequired(t)
		t.Setenv("PUSH_PROVIDER", "pigeon")
		_, err := load(t.TempDir())
		assert.Error(t, err)
	})

	t.Run("short secret in production", func(t *testing.T) {
		setRequired(t)
		t.Setenv("ENV", "production")
		_, err := load(t.TempDir())
		assert.Error(t, err)
	})

	t.Run("kafka enabled without brokers", func(t *testing.T) {
		setRequired(t)
		t.Setenv("KAFKA_ENABLED", "true")
		_, err := load(t.TempDir())
		assert.Error(t, err)
	})
}
