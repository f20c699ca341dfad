package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, 61001, cfg.InternalPort)
	assert.Equal(t, 61000, cfg.Engine.APIPort)
	assert.Equal(t, "xray", cfg.Supervisor.ProcessName)
	assert.Equal(t, 10, cfg.Engine.HealthCheckAttempts)
	assert.Equal(t, time.Second, cfg.Engine.HealthCheckDelay)
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "xnode.yaml")
	content := `
apiPort: 4000
engine:
  binary: /opt/xray/xray
  healthCheckAttempts: 5
  healthCheckDelay: 500ms
supervisor:
  socket: /tmp/supervisor.sock
log:
  level: debug
  json: true
extractionConcurrency: 8
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 4000, cfg.APIPort)
	assert.Equal(t, "/opt/xray/xray", cfg.Engine.Binary)
	assert.Equal(t, 5, cfg.Engine.HealthCheckAttempts)
	assert.Equal(t, 500*time.Millisecond, cfg.Engine.HealthCheckDelay)
	assert.Equal(t, "/tmp/supervisor.sock", cfg.Supervisor.Socket)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.True(t, cfg.Log.JSON)
	assert.Equal(t, 8, cfg.ExtractionConcurrency)

	// Untouched fields keep their defaults
	assert.Equal(t, "xray", cfg.Supervisor.ProcessName)
	assert.Equal(t, 61000, cfg.Engine.APIPort)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestLoadInvalidYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("apiPort: [1, 2"), 0o644))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestApplyEnv(t *testing.T) {
	env := map[string]string{
		"APP_PORT":           "3100",
		"XTLS_IP":            "127.0.0.2",
		"XTLS_API_PORT":      "62000",
		"INTERNAL_REST_PORT": "62001",
		"SUPERVISOR_SOCKET":  "/run/sv.sock",
		"XRAY_BINARY":        "/bin/xray",
		"LOG_LEVEL":          "warn",
	}
	lookup := func(k string) (string, bool) {
		v, ok := env[k]
		return v, ok
	}

	cfg := Default()
	require.NoError(t, cfg.applyEnv(lookup))

	assert.Equal(t, 3100, cfg.APIPort)
	assert.Equal(t, "127.0.0.2", cfg.Engine.APIHost)
	assert.Equal(t, 62000, cfg.Engine.APIPort)
	assert.Equal(t, 62001, cfg.InternalPort)
	assert.Equal(t, "/run/sv.sock", cfg.Supervisor.Socket)
	assert.Equal(t, "/bin/xray", cfg.Engine.Binary)
	assert.Equal(t, "warn", cfg.Log.Level)
}

func TestApplyEnvInvalidPort(t *testing.T) {
	cfg := Default()
	err := cfg.applyEnv(func(k string) (string, bool) {
		if k == "APP_PORT" {
			return "not-a-port", true
		}
		return "", false
	})
	assert.Error(t, err)
}

func TestLoadReadsEnvironment(t *testing.T) {
	t.Setenv("APP_PORT", "3200")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 3200, cfg.APIPort)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{name: "zero attempts", mutate: func(c *Config) { c.Engine.HealthCheckAttempts = 0 }, wantErr: "healthCheckAttempts"},
		{name: "negative delay", mutate: func(c *Config) { c.Engine.HealthCheckDelay = -time.Second }, wantErr: "healthCheckDelay"},
		{name: "zero concurrency", mutate: func(c *Config) { c.ExtractionConcurrency = 0 }, wantErr: "extractionConcurrency"},
		{name: "no process name", mutate: func(c *Config) { c.Supervisor.ProcessName = "" }, wantErr: "processName"},
		{name: "port out of range", mutate: func(c *Config) { c.APIPort = 70000 }, wantErr: "apiPort"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)

			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
