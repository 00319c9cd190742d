package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigDefaults(t *testing.T) {
	t.Chdir(t.TempDir())

	conf, err := LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, "5002", conf.Server.Port)
	assert.Equal(t, DriverProcess, conf.Sandbox.Driver)
	assert.Equal(t, 5*time.Second, conf.Sandbox.WallTimeout())
	assert.Equal(t, 5*time.Second, conf.Sandbox.CPUTime())
	assert.False(t, conf.Db.Enabled)
}

func TestLoadConfigFileThenEnv(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)

	path := filepath.Join(dir, "grader.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
[server]
port = "9000"

[sandbox]
driver = "docker"
slots = 8

[problems]
dir = "/srv/problems"
`), 0o600))
	t.Setenv("GRADER_CONFIG", path)
	t.Setenv("SANDBOX_SLOTS", "2")
	t.Setenv("DB_ENABLED", "true")
	t.Setenv("RATE_TRUSTED_PROXIES", "10.0.0.0/8, ,127.0.0.1/32")

	conf, err := LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, "9000", conf.Server.Port)
	assert.Equal(t, DriverDocker, conf.Sandbox.Driver)
	assert.Equal(t, 2, conf.Sandbox.Slots)
	assert.True(t, conf.Db.Enabled)
	assert.Equal(t, "/srv/problems", conf.Problems.Dir)
	assert.Equal(t, 15, conf.Server.ReadTimeout)
	assert.Equal(t, []string{"10.0.0.0/8", "127.0.0.1/32"}, conf.Limits.TrustedProxies)
}

func TestLoadConfigDotEnv(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("NATS_URL=nats://localhost:4222\n"), 0o600))
	t.Setenv("NATS_URL", "")
	require.NoError(t, os.Unsetenv("NATS_URL"))

	conf, err := LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, "nats://localhost:4222", conf.Nats.URL)
}

func TestLoadConfigInvalidEnv(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("WORKERS", "many")
	t.Setenv("DB_ENABLED", "maybe")

	_, err := LoadConfig()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "WORKERS")
	assert.Contains(t, err.Error(), "DB_ENABLED")
}

func TestLoadConfigUnknownFileKey(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	path := filepath.Join(dir, "grader.toml")
	require.NoError(t, os.WriteFile(path, []byte("[sandbox]\ntimeout = 3\n"), 0o600))
	t.Setenv("GRADER_CONFIG", path)

	_, err := LoadConfig()
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	conf := Default()
	require.NoError(t, conf.Validate())

	conf.Sandbox.Driver = "vm"
	assert.Error(t, conf.Validate())

	conf = Default()
	conf.Workers.Count = 0
	assert.Error(t, conf.Validate())

	conf = Default()
	conf.Sandbox.Slots = 0
	assert.Error(t, conf.Validate())
}
