// ABOUTME: Tests for configuration loading and parsing
// ABOUTME: Covers YAML and TOML loading, env var expansion, env overrides, and validation

package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// clearEnv unsets the variables config reads, restoring them after the test.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{"PORT", "WA_BROKER_CONFIG", "WA_AUTH_DIR", "WA_BROKER_JWT_SECRET", "WA_BROKER_LOG_LEVEL"} {
		t.Setenv(key, "")
		require.NoError(t, os.Unsetenv(key))
	}
}

func writeConfig(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoad_ValidYAML(t *testing.T) {
	path := writeConfig(t, "config.yaml", `
server:
  http_addr: "0.0.0.0:8080"

sessions:
  idle_timeout: "90s"
  ready_timeout: "10s"
  poll_interval: "500ms"
  start_grace: "1s"
  recreate_interval: "1m"
  recreate_burst: 2
  recreate_max_delay: "10m"

whatsapp:
  auth_dir: "/var/lib/wa-broker"
  sql_driver: "sqlite"
  os_name: "Broker"

media:
  fetch_timeout: "5s"
  max_bytes: 1048576

logging:
  level: "debug"
  format: "json"
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0:8080", cfg.Server.HTTPAddr)
	assert.Equal(t, 90*time.Second, cfg.Sessions.IdleTimeout)
	assert.Equal(t, 10*time.Second, cfg.Sessions.ReadyTimeout)
	assert.Equal(t, 500*time.Millisecond, cfg.Sessions.PollInterval)
	assert.Equal(t, time.Second, cfg.Sessions.StartGrace)
	assert.Equal(t, time.Minute, cfg.Sessions.RecreateInterval)
	assert.Equal(t, 2, cfg.Sessions.RecreateBurst)
	assert.Equal(t, 10*time.Minute, cfg.Sessions.RecreateMaxDelay)
	assert.Equal(t, "/var/lib/wa-broker", cfg.WhatsApp.AuthDir)
	assert.Equal(t, DriverSQLite, cfg.WhatsApp.SQLDriver)
	assert.Equal(t, "Broker", cfg.WhatsApp.OSName)
	assert.Equal(t, 5*time.Second, cfg.Media.FetchTimeout)
	assert.Equal(t, int64(1048576), cfg.Media.MaxBytes)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "json", cfg.Logging.Format)
}

func TestLoad_PartialFileKeepsDefaults(t *testing.T) {
	path := writeConfig(t, "config.yaml", `
sessions:
  idle_timeout: "3m"
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	def := Default()
	assert.Equal(t, 3*time.Minute, cfg.Sessions.IdleTimeout)
	assert.Equal(t, def.Sessions.ReadyTimeout, cfg.Sessions.ReadyTimeout)
	assert.Equal(t, def.Sessions.PollInterval, cfg.Sessions.PollInterval)
	assert.Equal(t, def.Sessions.StartGrace, cfg.Sessions.StartGrace)
	assert.Equal(t, def.WhatsApp.SQLDriver, cfg.WhatsApp.SQLDriver)
	assert.Equal(t, ":3000", cfg.Server.HTTPAddr)
}

func TestLoad_TOML(t *testing.T) {
	path := writeConfig(t, "config.toml", `
[server]
http_addr = "127.0.0.1:9000"

[sessions]
idle_timeout = "45s"
recreate_burst = 5

[whatsapp]
auth_dir = "/tmp/auth"

[auth]
jwt_secret = "toml-secret"
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1:9000", cfg.Server.HTTPAddr)
	assert.Equal(t, 45*time.Second, cfg.Sessions.IdleTimeout)
	assert.Equal(t, 5, cfg.Sessions.RecreateBurst)
	assert.Equal(t, "/tmp/auth", cfg.WhatsApp.AuthDir)
	assert.Equal(t, "toml-secret", cfg.Auth.JWTSecret)
}

func TestLoad_EnvVarExpansion(t *testing.T) {
	t.Setenv("TEST_JWT_SECRET", "expanded-secret")
	t.Setenv("TEST_AUTH_DIR", "/data/auth")

	path := writeConfig(t, "config.yaml", `
auth:
  jwt_secret: "${TEST_JWT_SECRET}"
whatsapp:
  auth_dir: "${TEST_AUTH_DIR}"
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "expanded-secret", cfg.Auth.JWTSecret)
	assert.Equal(t, "/data/auth", cfg.WhatsApp.AuthDir)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load("/nonexistent/path/config.yaml")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "reading config file")
}

func TestLoad_InvalidYAML(t *testing.T) {
	path := writeConfig(t, "config.yaml", "server: [unclosed")
	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parsing config file")
}

func TestLoad_InvalidDuration(t *testing.T) {
	path := writeConfig(t, "config.yaml", `
sessions:
  ready_timeout: "soon"
`)
	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ready_timeout")
}

func TestFromEnvironment_Defaults(t *testing.T) {
	clearEnv(t)

	cfg, err := FromEnvironment("")
	require.NoError(t, err)

	assert.Equal(t, ":3000", cfg.Server.HTTPAddr)
	assert.Equal(t, 2*time.Minute, cfg.Sessions.IdleTimeout)
	assert.Equal(t, 15*time.Second, cfg.Sessions.ReadyTimeout)
	assert.Equal(t, time.Second, cfg.Sessions.PollInterval)
	assert.Equal(t, 2*time.Second, cfg.Sessions.StartGrace)
	assert.Empty(t, cfg.Auth.JWTSecret)
}

func TestFromEnvironment_Overrides(t *testing.T) {
	clearEnv(t)
	path := writeConfig(t, "config.yaml", `
server:
  http_addr: "0.0.0.0:8080"
whatsapp:
  auth_dir: "/from/file"
`)

	t.Setenv("PORT", "4000")
	t.Setenv("WA_BROKER_CONFIG", path)
	t.Setenv("WA_AUTH_DIR", "/from/env")
	t.Setenv("WA_BROKER_JWT_SECRET", "env-secret")
	t.Setenv("WA_BROKER_LOG_LEVEL", "warn")

	cfg, err := FromEnvironment("")
	require.NoError(t, err)

	assert.Equal(t, ":4000", cfg.Server.HTTPAddr)
	assert.Equal(t, "/from/env", cfg.WhatsApp.AuthDir)
	assert.Equal(t, "env-secret", cfg.Auth.JWTSecret)
	assert.Equal(t, "warn", cfg.Logging.Level)
}

func TestFromEnvironment_FileAddrWithoutPort(t *testing.T) {
	clearEnv(t)
	path := writeConfig(t, "config.yaml", `
server:
  http_addr: "0.0.0.0:8080"
`)

	cfg, err := FromEnvironment(path)
	require.NoError(t, err)
	assert.Equal(t, "0.0.0.0:8080", cfg.Server.HTTPAddr)
}

func TestFromEnvironment_InvalidPort(t *testing.T) {
	clearEnv(t)

	t.Setenv("PORT", "not-a-port")
	_, err := FromEnvironment("")
	assert.Error(t, err)

	t.Setenv("PORT", "70000")
	_, err = FromEnvironment("")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "PORT")
}

func TestExpandEnvVars(t *testing.T) {
	t.Setenv("FOO", "bar")
	t.Setenv("BAZ", "qux")

	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{"single env var", "${FOO}", "bar"},
		{"env var with surrounding text", "prefix-${FOO}-suffix", "prefix-bar-suffix"},
		{"multiple env vars", "${FOO}/${BAZ}", "bar/qux"},
		{"no env vars", "no-vars-here", "no-vars-here"},
		{"unset env var", "${UNSET_VAR_FOR_TEST}", ""},
		{"empty string", "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := expandEnvVars(tt.input)
			if result != tt.expected {
				t.Errorf("expandEnvVars(%q) = %q, want %q", tt.input, result, tt.expected)
			}
		})
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"defaults with address", func(c *Config) {}, ""},
		{"missing http addr", func(c *Config) { c.Server.HTTPAddr = "" }, "server.http_addr"},
		{"tailscale without addr", func(c *Config) {
			c.Server.HTTPAddr = ""
			c.Tailscale.Enabled = true
			c.Tailscale.Hostname = "wa-broker"
		}, ""},
		{"tailscale without hostname", func(c *Config) { c.Tailscale.Enabled = true }, "tailscale.hostname"},
		{"missing auth dir", func(c *Config) { c.WhatsApp.AuthDir = "" }, "whatsapp.auth_dir"},
		{"unknown driver", func(c *Config) { c.WhatsApp.SQLDriver = "postgres" }, "whatsapp.sql_driver"},
		{"zero idle timeout", func(c *Config) { c.Sessions.IdleTimeout = 0 }, "sessions.idle_timeout"},
		{"negative grace", func(c *Config) { c.Sessions.StartGrace = -time.Second }, "sessions.start_grace"},
		{"zero burst", func(c *Config) { c.Sessions.RecreateBurst = 0 }, "sessions.recreate_burst"},
		{"poll longer than ready timeout", func(c *Config) { c.Sessions.PollInterval = time.Minute }, "sessions.poll_interval"},
		{"zero max bytes", func(c *Config) { c.Media.MaxBytes = 0 }, "media.max_bytes"},
		{"bad log format", func(c *Config) { c.Logging.Format = "xml" }, "logging.format"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			cfg.Server.HTTPAddr = ":3000"
			tt.mutate(cfg)

			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.True(t, strings.Contains(err.Error(), tt.wantErr), "error %q should mention %q", err, tt.wantErr)
		})
	}
}
