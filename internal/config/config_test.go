package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleConfig = `
log_level = "debug"

[engine]
default_min_stock_level = 5

[local]
driver = "memory"
check_interval = "10m"
min_interval = "9m"

[remote]
database_url = "postgres://stock:secret@db:5432/stock"
check_interval = "30m"
min_interval = "30m"
mirror_to_local = false

[scheduler]
interval_buffer = "2s"

[http]
port = 9090
jwt_secret = "file-secret"
`

func writeConfig(t *testing.T, body string) string {
	path := filepath.Join(t.TempDir(), "stockwatch.toml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.toml"))
	require.NoError(t, err)

	assert.Equal(t, 10, cfg.Engine.DefaultMinStockLevel)
	assert.Equal(t, "redis", cfg.Local.Driver)
	assert.Equal(t, 5*time.Second, cfg.Scheduler.IntervalBuffer)
	assert.False(t, cfg.RemoteEnabled())
}

func TestLoad_File(t *testing.T) {
	cfg, err := Load(writeConfig(t, sampleConfig))
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, 5, cfg.Engine.DefaultMinStockLevel)
	assert.Equal(t, "memory", cfg.Local.Driver)
	assert.Equal(t, 10*time.Minute, cfg.Local.CheckInterval)
	assert.Equal(t, 9*time.Minute, cfg.Local.MinInterval)
	assert.True(t, cfg.RemoteEnabled())
	assert.False(t, cfg.Remote.MirrorToLocal)
	assert.Equal(t, 2*time.Second, cfg.Scheduler.IntervalBuffer)
	assert.Equal(t, 9090, cfg.HTTP.Port)
	assert.Equal(t, "stockwatch:local", cfg.Local.Namespace, "unset keys keep their defaults")
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	t.Setenv("STOCKWATCH_HTTP_JWT_SECRET", "env-secret")
	t.Setenv("STOCKWATCH_LOCAL_MIN_INTERVAL", "20m")
	t.Setenv("STOCKWATCH_ENGINE_DEFAULT_MIN_STOCK_LEVEL", "7")

	cfg, err := Load(writeConfig(t, sampleConfig))
	require.NoError(t, err)

	assert.Equal(t, "env-secret", cfg.HTTP.JWTSecret)
	assert.Equal(t, 20*time.Minute, cfg.Local.MinInterval)
	assert.Equal(t, 7, cfg.Engine.DefaultMinStockLevel)
}

func TestLoad_Invalid(t *testing.T) {
	_, err := Load(writeConfig(t, "[local]\ncheck_interval = \"0s\"\n"))
	assert.Error(t, err)

	_, err = Load(writeConfig(t, "[local]\ndriver = \"sqlite\"\n"))
	assert.Error(t, err)

	_, err = Load(writeConfig(t, "this is = not toml ["))
	assert.Error(t, err)
}
