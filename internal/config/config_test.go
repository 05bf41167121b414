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

	assert.Equal(t, "127.0.0.1", cfg.Server.BindHost)
	assert.Equal(t, 4040, cfg.Server.ProxyPort)
	assert.Equal(t, 4041, cfg.Server.APIPort)
	assert.Equal(t, "https://api.anthropic.com", cfg.Upstreams.Anthropic)
	assert.Equal(t, 200, cfg.Store.MaxSessions)
	assert.Equal(t, "standard", cfg.Privacy.DefaultLevel)
}

func TestLoadFileOverridesDefaults(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	yamlContent := `
server:
  proxy_port: 9090
  api_port: 9091
  read_timeout: 10s

store:
  max_sessions: 5
`
	require.NoError(t, os.WriteFile(configPath, []byte(yamlContent), 0644))

	cfg, err := Load(configPath)
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.ProxyPort)
	assert.Equal(t, 9091, cfg.Server.APIPort)
	assert.Equal(t, 10*time.Second, cfg.Server.ReadTimeout)
	assert.Equal(t, 5, cfg.Store.MaxSessions)

	// Untouched fields keep their defaults.
	assert.Equal(t, "127.0.0.1", cfg.Server.BindHost)
	assert.Equal(t, "https://api.openai.com", cfg.Upstreams.OpenAI)
}

func TestLoadEnvOverride(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")
	require.NoError(t, os.WriteFile(configPath, []byte("server:\n  proxy_port: 8080\n"), 0644))

	t.Setenv("CONTEXT_LENS_SERVER_PROXY_PORT", "3000")
	t.Setenv("CONTEXT_LENS_SERVER_ALLOW_TARGET_OVERRIDE", "true")

	cfg, err := Load(configPath)
	require.NoError(t, err)

	assert.Equal(t, 3000, cfg.Server.ProxyPort)
	assert.True(t, cfg.Server.AllowTargetOverride)
}

func TestLoadDistributedConfigDefaultsToDisabled(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Empty(t, cfg.Distributed.RedisAddr)
}

func TestLoadDistributedConfigFromEnv(t *testing.T) {
	t.Setenv("CONTEXT_LENS_DISTRIBUTED_REDIS_ADDR", "localhost:6379")
	t.Setenv("CONTEXT_LENS_DISTRIBUTED_REDIS_DB", "2")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "localhost:6379", cfg.Distributed.RedisAddr)
	assert.Equal(t, 2, cfg.Distributed.RedisDB)
}

func TestLoadRejectsInvalidPort(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")
	require.NoError(t, os.WriteFile(configPath, []byte("server:\n  proxy_port: 70000\n"), 0644))

	_, err := Load(configPath)
	assert.Error(t, err)
}
