package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, TransportStdio, cfg.MCP.Transport)
	assert.Equal(t, "127.0.0.1", cfg.MCP.Host)
	assert.Equal(t, 8000, cfg.MCP.Port)
	assert.True(t, cfg.MCP.AuthEnabled)
	assert.Equal(t, EnvLocal, cfg.Environment)
	assert.Equal(t, 5, cfg.Privacy.MinKAnonymity)
	assert.Equal(t, 20, cfg.RateLimit.Capacity)
	assert.Equal(t, 1.0, cfg.RateLimit.PerSecond)
	assert.Equal(t, ":memory:", cfg.Audit.DBPath)
	require.NoError(t, cfg.Valid())
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("REPORTALIN_MCP_TRANSPORT", "sse")
	t.Setenv("REPORTALIN_MCP_PORT", "9100")
	t.Setenv("REPORTALIN_MCP_AUTH_TOKEN", strings.Repeat("t", 40))
	t.Setenv("REPORTALIN_LOG_LEVEL", "debug")
	t.Setenv("REPORTALIN_ENVIRONMENT", "staging")
	t.Setenv("REPORTALIN_MIN_K_ANONYMITY", "10")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, TransportSSE, cfg.MCP.Transport)
	assert.Equal(t, 9100, cfg.MCP.Port)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "staging", cfg.Environment)
	assert.Equal(t, 10, cfg.Privacy.MinKAnonymity)
	require.NoError(t, cfg.Valid())
}

func TestLoadConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
mcp:
  transport: sse
  port: 8443
environment: local
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, TransportSSE, cfg.MCP.Transport)
	assert.Equal(t, 8443, cfg.MCP.Port)
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, 8000, cfg.MCP.Port)
}

func TestValidatePort(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	cfg.MCP.Port = 80
	errs := cfg.Validate()
	require.NotEmpty(t, errs)
	assert.Contains(t, errs[0].Error(), "mcp.port")

	cfg.MCP.Port = 70000
	assert.NotEmpty(t, cfg.Validate())
}

func TestValidateTransportAndEnvironment(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	cfg.MCP.Transport = "websocket"
	assert.NotEmpty(t, cfg.Validate())

	cfg.MCP.Transport = TransportStdio
	cfg.Environment = "prod"
	assert.NotEmpty(t, cfg.Validate())
}

func TestValidateTokenStrengthOutsideLocal(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	cfg.MCP.Transport = TransportSSE
	cfg.Environment = EnvProduction
	cfg.MCP.AuthToken = "short"

	err = cfg.Valid()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "mcp.auth.token")

	// Local environment accepts weak tokens.
	cfg.Environment = EnvLocal
	assert.NoError(t, cfg.Valid())

	// A strong token passes everywhere.
	cfg.Environment = EnvProduction
	cfg.MCP.AuthToken = strings.Repeat("s", 48)
	assert.NoError(t, cfg.Valid())
}

func TestValidateTLSPaths(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	cfg.TLS.Enabled = true
	require.NotEmpty(t, cfg.Validate())

	cfg.TLS.CertPath = "/tls/cert.pem"
	cfg.TLS.KeyPath = "/tls/key.pem"
	assert.Empty(t, cfg.Validate())
}
