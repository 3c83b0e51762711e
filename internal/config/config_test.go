package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var envKeys = []string{
	"CONFIG_FILE", "SERVICE_NAME", "ENV", "LOG_LEVEL", "LOG_FILE", "HTTP_ADDR", "SHUTDOWN_TIMEOUT",
	"STORE_DRIVER", "DATABASE_URL", "REDIS_URL", "STRIPE_WEBHOOK_SECRET", "STRIPE_TOLERANCE",
	"TRACE_EXPORTER", "NOTIFY_MAX_ATTEMPTS", "NOTIFY_RETRY_BACKOFF", "DOWNLOAD_TTL", "CART_TTL",
}

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range envKeys {
		t.Setenv(k, "")
	}
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)

	c, err := Load()
	require.NoError(t, err)
	assert.Equal(t, ":8080", c.HTTPAddr)
	assert.Equal(t, DriverMemory, c.StoreDriver)
	assert.Equal(t, 24*time.Hour, c.DownloadTTL)
	assert.Equal(t, 5, c.NotifyMaxAttempts)
	assert.Equal(t, 2*time.Second, c.NotifyRetryBackoff)
	assert.Empty(t, c.RedisURL)
}

func TestLoadFileThenEnvOverrides(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "coffeeshop.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
http_addr: ":9000"
store_driver: postgres
database_url: postgres://file
notify_max_attempts: 3
download_ttl: 12h
`), 0o600))
	t.Setenv("CONFIG_FILE", path)
	t.Setenv("HTTP_ADDR", ":9090")
	t.Setenv("DOWNLOAD_TTL", "48h")

	c, err := Load()
	require.NoError(t, err)
	assert.Equal(t, ":9090", c.HTTPAddr)
	assert.Equal(t, DriverPostgres, c.StoreDriver)
	assert.Equal(t, "postgres://file", c.DatabaseURL)
	assert.Equal(t, 3, c.NotifyMaxAttempts)
	assert.Equal(t, 48*time.Hour, c.DownloadTTL)
}

func TestLoadRejectsInvalid(t *testing.T) {
	clearEnv(t)
	t.Setenv("STORE_DRIVER", "sqlite")
	t.Setenv("NOTIFY_MAX_ATTEMPTS", "0")
	t.Setenv("NOTIFY_RETRY_BACKOFF", "-1s")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown store driver")
	assert.Contains(t, err.Error(), "notify max attempts")
	assert.Contains(t, err.Error(), "notify retry backoff")
}

func TestLoadMissingFile(t *testing.T) {
	clearEnv(t)
	t.Setenv("CONFIG_FILE", filepath.Join(t.TempDir(), "missing.yaml"))

	_, err := Load()
	assert.Error(t, err)
}
