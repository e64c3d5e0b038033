// ABOUTME: Configuration loading and parsing for wa-broker
// ABOUTME: Supports YAML or TOML files with env var expansion, duration parsing, and env overrides

package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joeshaw/envdecode"
	"gopkg.in/yaml.v3"
)

// Config represents the complete wa-broker configuration
type Config struct {
	Server    ServerConfig    `yaml:"server" toml:"server"`
	Tailscale TailscaleConfig `yaml:"tailscale" toml:"tailscale"`
	Auth      AuthConfig      `yaml:"auth" toml:"auth"`
	Sessions  SessionsConfig  `yaml:"sessions" toml:"sessions"`
	WhatsApp  WhatsAppConfig  `yaml:"whatsapp" toml:"whatsapp"`
	Media     MediaConfig     `yaml:"media" toml:"media"`
	Logging   LoggingConfig   `yaml:"logging" toml:"logging"`
}

// ServerConfig holds server address configuration
type ServerConfig struct {
	HTTPAddr string `yaml:"http_addr" toml:"http_addr"`
}

// TailscaleConfig holds Tailscale tsnet configuration
type TailscaleConfig struct {
	Enabled   bool   `yaml:"enabled" toml:"enabled"`
	Hostname  string `yaml:"hostname" toml:"hostname"`
	AuthKey   string `yaml:"auth_key" toml:"auth_key"`
	StateDir  string `yaml:"state_dir" toml:"state_dir"`
	Ephemeral bool   `yaml:"ephemeral" toml:"ephemeral"`
	HTTPS     bool   `yaml:"https" toml:"https"`   // Serve HTTPS on :443 with Tailscale certs
	Funnel    bool   `yaml:"funnel" toml:"funnel"` // Enable public Funnel (implies HTTPS)
}

// AuthConfig holds authentication configuration.
// An empty JWTSecret leaves the API unauthenticated.
type AuthConfig struct {
	JWTSecret string `yaml:"jwt_secret" toml:"jwt_secret"`
}

// SessionsConfig holds session lifecycle timing configuration
type SessionsConfig struct {
	IdleTimeout      time.Duration `yaml:"-" toml:"-"`
	ReadyTimeout     time.Duration `yaml:"-" toml:"-"`
	PollInterval     time.Duration `yaml:"-" toml:"-"`
	StartGrace       time.Duration `yaml:"-" toml:"-"`
	RecreateInterval time.Duration `yaml:"-" toml:"-"`
	RecreateMaxDelay time.Duration `yaml:"-" toml:"-"`
	RecreateBurst    int           `yaml:"recreate_burst" toml:"recreate_burst"`

	// Raw string values for unmarshaling
	IdleTimeoutRaw      string `yaml:"idle_timeout" toml:"idle_timeout"`
	ReadyTimeoutRaw     string `yaml:"ready_timeout" toml:"ready_timeout"`
	PollIntervalRaw     string `yaml:"poll_interval" toml:"poll_interval"`
	StartGraceRaw       string `yaml:"start_grace" toml:"start_grace"`
	RecreateIntervalRaw string `yaml:"recreate_interval" toml:"recreate_interval"`
	RecreateMaxDelayRaw string `yaml:"recreate_max_delay" toml:"recreate_max_delay"`
}

// WhatsAppConfig holds backend client configuration
type WhatsAppConfig struct {
	AuthDir   string `yaml:"auth_dir" toml:"auth_dir"`
	SQLDriver string `yaml:"sql_driver" toml:"sql_driver"` // "sqlite3" (cgo) or "sqlite" (pure Go)
	OSName    string `yaml:"os_name" toml:"os_name"`       // Shown in the phone's linked devices list
}

// MediaConfig bounds remote document fetches
type MediaConfig struct {
	FetchTimeout    time.Duration `yaml:"-" toml:"-"`
	FetchTimeoutRaw string        `yaml:"fetch_timeout" toml:"fetch_timeout"`
	MaxBytes        int64         `yaml:"max_bytes" toml:"max_bytes"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level" toml:"level"`
	Format string `yaml:"format" toml:"format"`
}

// Env holds the settings read straight from the process environment.
type Env struct {
	Port       int    `env:"PORT,default=3000,strict"`
	ConfigPath string `env:"WA_BROKER_CONFIG"`
	AuthDir    string `env:"WA_AUTH_DIR"`
	JWTSecret  string `env:"WA_BROKER_JWT_SECRET"`
	LogLevel   string `env:"WA_BROKER_LOG_LEVEL"`
}

// Supported backend SQL drivers
const (
	DriverSQLite3 = "sqlite3"
	DriverSQLite  = "sqlite"
)

// Default returns a configuration with every field set to its default.
func Default() *Config {
	return &Config{
		Sessions: SessionsConfig{
			IdleTimeout:      2 * time.Minute,
			ReadyTimeout:     15 * time.Second,
			PollInterval:     time.Second,
			StartGrace:       2 * time.Second,
			RecreateInterval: 30 * time.Second,
			RecreateBurst:    3,
			RecreateMaxDelay: 5 * time.Minute,
		},
		WhatsApp: WhatsAppConfig{
			AuthDir:   "./auth",
			SQLDriver: DriverSQLite3,
			OSName:    "wa-broker",
		},
		Media: MediaConfig{
			FetchTimeout: 30 * time.Second,
			MaxBytes:     32 << 20,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// LoadEnv decodes the process environment into an Env.
func LoadEnv() (*Env, error) {
	var env Env
	if err := envdecode.Decode(&env); err != nil && !errors.Is(err, envdecode.ErrNoTargetFieldsAreSet) {
		return nil, fmt.Errorf("decoding environment: %w", err)
	}
	if env.Port <= 0 || env.Port > 65535 {
		return nil, fmt.Errorf("PORT must be between 1 and 65535, got %d", env.Port)
	}
	return &env, nil
}

// FromEnvironment builds the effective configuration: defaults, then the
// config file (path argument, else WA_BROKER_CONFIG, else none), then
// environment overrides. A file named explicitly must exist.
func FromEnvironment(path string) (*Config, error) {
	env, err := LoadEnv()
	if err != nil {
		return nil, err
	}
	if path == "" {
		path = env.ConfigPath
	}

	cfg := Default()
	if path != "" {
		if err := readFile(path, cfg); err != nil {
			return nil, err
		}
	}

	applyEnv(cfg, env)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return cfg, nil
}

// Load reads a configuration file from the given path on top of the defaults.
// Environment variables in the format ${VAR_NAME} are expanded.
// Duration strings are parsed into time.Duration values.
func Load(path string) (*Config, error) {
	cfg := Default()
	if err := readFile(path, cfg); err != nil {
		return nil, err
	}
	if cfg.Server.HTTPAddr == "" {
		cfg.Server.HTTPAddr = ":3000"
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return cfg, nil
}

func readFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading config file: %w", err)
	}

	// Expand environment variables in the raw content
	expanded := expandEnvVars(string(data))

	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		if _, err := toml.Decode(expanded, cfg); err != nil {
			return fmt.Errorf("parsing config file: %w", err)
		}
	default:
		if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
			return fmt.Errorf("parsing config file: %w", err)
		}
	}

	if err := parseDurations(cfg); err != nil {
		return fmt.Errorf("parsing durations: %w", err)
	}
	return nil
}

// applyEnv layers environment settings over the file. PORT wins over
// server.http_addr only when it is actually set or no address was configured.
func applyEnv(cfg *Config, env *Env) {
	if os.Getenv("PORT") != "" || cfg.Server.HTTPAddr == "" {
		cfg.Server.HTTPAddr = ":" + strconv.Itoa(env.Port)
	}
	if env.AuthDir != "" {
		cfg.WhatsApp.AuthDir = env.AuthDir
	}
	if env.JWTSecret != "" {
		cfg.Auth.JWTSecret = env.JWTSecret
	}
	if env.LogLevel != "" {
		cfg.Logging.Level = env.LogLevel
	}
}

var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		varName := envVarPattern.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	if !c.Tailscale.Enabled && c.Server.HTTPAddr == "" {
		return fmt.Errorf("server.http_addr is required (or enable tailscale)")
	}

	if c.Tailscale.Enabled && c.Tailscale.Hostname == "" {
		return fmt.Errorf("tailscale.hostname is required when tailscale is enabled")
	}

	if c.WhatsApp.AuthDir == "" {
		return fmt.Errorf("whatsapp.auth_dir is required")
	}
	switch c.WhatsApp.SQLDriver {
	case DriverSQLite3, DriverSQLite:
	default:
		return fmt.Errorf("whatsapp.sql_driver must be %q or %q, got %q", DriverSQLite3, DriverSQLite, c.WhatsApp.SQLDriver)
	}

	s := c.Sessions
	for _, d := range []struct {
		name  string
		value time.Duration
	}{
		{"sessions.idle_timeout", s.IdleTimeout},
		{"sessions.ready_timeout", s.ReadyTimeout},
		{"sessions.poll_interval", s.PollInterval},
		{"sessions.recreate_max_delay", s.RecreateMaxDelay},
		{"media.fetch_timeout", c.Media.FetchTimeout},
	} {
		if d.value <= 0 {
			return fmt.Errorf("%s must be positive", d.name)
		}
	}
	if s.StartGrace < 0 {
		return fmt.Errorf("sessions.start_grace must not be negative")
	}
	if s.RecreateInterval < 0 {
		return fmt.Errorf("sessions.recreate_interval must not be negative")
	}
	if s.RecreateBurst < 1 {
		return fmt.Errorf("sessions.recreate_burst must be at least 1")
	}
	if s.PollInterval > s.ReadyTimeout {
		return fmt.Errorf("sessions.poll_interval must not exceed sessions.ready_timeout")
	}

	if c.Media.MaxBytes <= 0 {
		return fmt.Errorf("media.max_bytes must be positive")
	}

	switch c.Logging.Format {
	case "", "text", "json":
	default:
		return fmt.Errorf("logging.format must be \"text\" or \"json\", got %q", c.Logging.Format)
	}

	return nil
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	fields := []struct {
		name string
		raw  string
		dst  *time.Duration
	}{
		{"idle_timeout", cfg.Sessions.IdleTimeoutRaw, &cfg.Sessions.IdleTimeout},
		{"ready_timeout", cfg.Sessions.ReadyTimeoutRaw, &cfg.Sessions.ReadyTimeout},
		{"poll_interval", cfg.Sessions.PollIntervalRaw, &cfg.Sessions.PollInterval},
		{"start_grace", cfg.Sessions.StartGraceRaw, &cfg.Sessions.StartGrace},
		{"recreate_interval", cfg.Sessions.RecreateIntervalRaw, &cfg.Sessions.RecreateInterval},
		{"recreate_max_delay", cfg.Sessions.RecreateMaxDelayRaw, &cfg.Sessions.RecreateMaxDelay},
		{"fetch_timeout", cfg.Media.FetchTimeoutRaw, &cfg.Media.FetchTimeout},
	}

	for _, f := range fields {
		if f.raw == "" {
			continue
		}
		d, err := time.ParseDuration(f.raw)
		if err != nil {
			return fmt.Errorf("parsing %s %q: %w", f.name, f.raw, err)
		}
		*f.dst = d
	}
	return nil
}
