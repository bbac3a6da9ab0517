package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func isolate(t *testing.T) {
	t.Helper()
	t.Setenv("ENV_FILE", filepath.Join(t.TempDir(), "missing.env"))
	for _, k := range []string{
		"APP_ENV", "HTTP_PORT", "STORE_BACKEND", "QUEUE_BACKEND", "ACCESS_TTL",
		"RATE_LIMIT_PER_MIN", "ALLOWED_ORIGINS", "SYNC_MAX_BATCH", "LOG_COMPRESS", "LOG_PATH",
	} {
		t.Setenv(k, "")
	}
}

func TestLoadDefaults(t *testing.T) {
	isolate(t)
	cfg := Load()
	assert.Equal(t, "dev", cfg.Env)
	assert.Equal(t, "8000", cfg.HTTPPort)
	assert.Equal(t, "postgres", cfg.StoreBackend)
	assert.Equal(t, "redis", cfg.QueueBackend)
	assert.Equal(t, 30*time.Minute, cfg.AccessTTL)
	assert.Equal(t, 7*24*time.Hour, cfg.RefreshTTL)
	assert.Equal(t, 120, cfg.RateLimitPerMin)
	assert.Equal(t, 500, cfg.SyncMaxBatch)
	assert.Equal(t, []string{"http://localhost:5173", "http://localhost:3000"}, cfg.AllowedOrigins)
	assert.Empty(t, cfg.Log.Path)
	assert.False(t, cfg.Log.Compress)
}

func TestLoadOverrides(t *testing.T) {
	isolate(t)
	t.Setenv("STORE_BACKEND", "Memory")
	t.Setenv("ACCESS_TTL", "5m")
	t.Setenv("RATE_LIMIT_PER_MIN", "30")
	t.Setenv("ALLOWED_ORIGINS", " https://admin.example.fr, ,https://app.example.fr ")
	t.Setenv("SYNC_MAX_BATCH", "200")
	t.Setenv("LOG_COMPRESS", "yes")

	cfg := Load()
	assert.Equal(t, "memory", cfg.StoreBackend)
	assert.Equal(t, 5*time.Minute, cfg.AccessTTL)
	assert.Equal(t, 30, cfg.RateLimitPerMin)
	assert.Equal(t, []string{"https://admin.example.fr", "https://app.example.fr"}, cfg.AllowedOrigins)
	assert.Equal(t, 200, cfg.SyncMaxBatch)
	assert.True(t, cfg.Log.Compress)
}

func TestLoadFallsBackOnBadValues(t *testing.T) {
	isolate(t)
	t.Setenv("ACCESS_TTL", "soon")
	t.Setenv("RATE_LIMIT_PER_MIN", "many")
	t.Setenv("LOG_COMPRESS", "maybe")

	cfg := Load()
	assert.Equal(t, 30*time.Minute, cfg.AccessTTL)
	assert.Equal(t, 120, cfg.RateLimitPerMin)
	assert.False(t, cfg.Log.Compress)
}

func TestSyncMaxBatchIsBounded(t *testing.T) {
	for _, v := range []string{"0", "501", "-3"} {
		t.Run(v, func(t *testing.T) {
			isolate(t)
			t.Setenv("SYNC_MAX_BATCH", v)
			assert.Equal(t, 500, Load().SyncMaxBatch)
		})
	}
}

func TestLoadReadsDotEnv(t *testing.T) {
	isolate(t)
	path := filepath.Join(t.TempDir(), "test.env")
	require.NoError(t, os.WriteFile(path, []byte("HTTP_PORT=9100\nQUEUE_BACKEND=memory\n"), 0o600))
	t.Setenv("ENV_FILE", path)
	// Variables already set win over the file.
	t.Setenv("QUEUE_BACKEND", "redis")
	// Only absent variables are filled from the file.
	require.NoError(t, os.Unsetenv("HTTP_PORT"))
	t.Cleanup(func() { os.Unsetenv("HTTP_PORT") })

	cfg := Load()
	assert.Equal(t, "9100", cfg.HTTPPort)
	assert.Equal(t, "redis", cfg.QueueBackend)
}
