package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 50, cfg.Search.DefaultLimit)
	assert.Equal(t, 0.1, cfg.Search.MinScore)
	assert.Equal(t, 0.8, cfg.Search.PruneRatio)
	assert.Equal(t, 10*time.Second, cfg.Content.Timeout)
	assert.Equal(t, 3, cfg.Content.MaxRetries)
	assert.Equal(t, time.Second, cfg.Content.BaseDelay)
	assert.Equal(t, 30*time.Second, cfg.Content.MaxDelay)
	assert.Equal(t, 100, cfg.Sync.QueueSize)
	assert.Equal(t, 3, cfg.Sync.MaxRetries)
	assert.Equal(t, 30*time.Second, cfg.Sync.Interval)
	assert.NotContains(t, cfg.Review.DataDir, "~")
}

func TestLoadFileAndEnvOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bgde.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
server:
  port: 9000
search:
  defaultLimit: 20
  maxResults: 40
review:
  driver: postgres
logging:
  level: debug
  format: text
`), 0o644))

	t.Setenv("BGDE_SERVER_PORT", "9100")
	t.Setenv("BGDE_REDIS_ADDR", "cache:6379")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 9100, cfg.Server.Port)
	assert.Equal(t, 20, cfg.Search.DefaultLimit)
	assert.Equal(t, "postgres", cfg.Review.Driver)
	assert.Equal(t, "text", cfg.Logging.Format)
	assert.True(t, cfg.Redis.Enabled)
	assert.Equal(t, "cache:6379", cfg.Redis.Addr)
}

func TestLoadRejectsInvalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("review:\n  defaultDirection: en-fr\n"), 0o644))
	_, err := Load(path)
	assert.Error(t, err)

	t.Setenv("BGDE_SYNC_ENABLED", "true")
	_, err = Load("")
	assert.ErrorContains(t, err, "sync.endpoint")
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestPostgresDSN(t *testing.T) {
	p := PostgresConfig{Host: "db", Port: 5432, User: "u", Password: "p", Database: "bgde", SSLMode: "disable"}
	assert.Equal(t, "host=db port=5432 user=u password=p dbname=bgde sslmode=disable", p.DSN())
}
