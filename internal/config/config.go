package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/viper"

	"github.com/reportalin/reportalin-mcp/internal/auth"
)

// Package config loads and validates server configuration.
//
// Responsibilities:
//   - Merge YAML config files, REPORTALIN_* environment variables, and
//     CLI flag overrides
//   - Validate configuration on startup, before anything binds or loads
//   - Establish reasonable defaults for every setting
//
// Sources (priority order, high to low):
//  1. CLI flags (applied by the caller after Load)
//  2. Environment variables (REPORTALIN_* prefix)
//  3. YAML config file (optional)
//  4. Built-in defaults

// Transport selections.
const (
	TransportStdio = "stdio"
	TransportSSE   = "sse"
)

// Deployment environments.
const (
	EnvLocal       = "local"
	EnvDevelopment = "development"
	EnvStaging     = "staging"
	EnvProduction  = "production"
)

// Config contains all server configuration.
type Config struct {
	MCP struct {
		Transport   string // stdio | sse
		Host        string
		Port        int
		AuthToken   string // sensitive; never logged
		AuthEnabled bool
	}

	Data struct {
		Root        string // directory holding results/
		DatasetName string // preferred dataset dir under deidentified/
		Reload      bool   // watch the data root and hot-swap snapshots
	}

	Privacy struct {
		MinKAnonymity int
	}

	RateLimit struct {
		Capacity  int
		PerSecond float64
	}

	TLS struct {
		Enabled  bool
		CertPath string
		KeyPath  string
	}

	Audit struct {
		DBPath string // SQLite file; ":memory:" keeps history in-process
	}

	Logging struct {
		Level    string
		FilePath string // empty disables file logging
	}

	Environment string // local | development | staging | production
}

// Load reads configuration from the optional YAML file at path plus the
// environment, and returns the merged result. A missing file is fine;
// a malformed one is not.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("REPORTALIN")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			if _, notFound := err.(viper.ConfigFileNotFoundError); !notFound && !os.IsNotExist(err) {
				return nil, fmt.Errorf("read config file: %w", err)
			}
		}
	}

	cfg := &Config{}
	cfg.MCP.Transport = v.GetString("mcp.transport")
	cfg.MCP.Host = v.GetString("mcp.host")
	cfg.MCP.Port = v.GetInt("mcp.port")
	cfg.MCP.AuthToken = v.GetString("mcp.auth.token")
	cfg.MCP.AuthEnabled = v.GetBool("mcp.auth.enabled")

	cfg.Data.Root = v.GetString("data.root")
	cfg.Data.DatasetName = v.GetString("data.dataset.name")
	cfg.Data.Reload = v.GetBool("data.reload")

	cfg.Privacy.MinKAnonymity = v.GetInt("min.k.anonymity")

	cfg.RateLimit.Capacity = v.GetInt("ratelimit.capacity")
	cfg.RateLimit.PerSecond = v.GetFloat64("ratelimit.per.second")

	cfg.TLS.Enabled = v.GetBool("tls.enabled")
	cfg.TLS.CertPath = v.GetString("tls.cert.path")
	cfg.TLS.KeyPath = v.GetString("tls.key.path")

	cfg.Audit.DBPath = v.GetString("audit.db.path")

	cfg.Logging.Level = v.GetString("log.level")
	cfg.Logging.FilePath = v.GetString("log.file.path")

	cfg.Environment = v.GetString("environment")

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("mcp.transport", TransportStdio)
	v.SetDefault("mcp.host", "127.0.0.1")
	v.SetDefault("mcp.port", 8000)
	v.SetDefault("mcp.auth.token", "")
	v.SetDefault("mcp.auth.enabled", true)

	v.SetDefault("data.root", ".")
	v.SetDefault("data.dataset.name", "")
	v.SetDefault("data.reload", false)

	v.SetDefault("min.k.anonymity", 5)

	v.SetDefault("ratelimit.capacity", 20)
	v.SetDefault("ratelimit.per.second", 1.0)

	v.SetDefault("tls.enabled", false)
	v.SetDefault("tls.cert.path", "")
	v.SetDefault("tls.key.path", "")

	v.SetDefault("audit.db.path", ":memory:")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.file.path", "")

	v.SetDefault("environment", EnvLocal)
}

// Validate returns every configuration problem found, empty when the
// configuration is usable.
func (c *Config) Validate() []error {
	var errs []error

	switch c.MCP.Transport {
	case TransportStdio, TransportSSE:
	default:
		errs = append(errs, fmt.Errorf("mcp.transport must be %q or %q, got %q",
			TransportStdio, TransportSSE, c.MCP.Transport))
	}

	if c.MCP.Port < 1024 || c.MCP.Port > 65535 {
		errs = append(errs, fmt.Errorf("mcp.port must be in [1024, 65535], got %d", c.MCP.Port))
	}

	switch c.Environment {
	case EnvLocal, EnvDevelopment, EnvStaging, EnvProduction:
	default:
		errs = append(errs, fmt.Errorf("environment must be one of local, development, staging, production, got %q", c.Environment))
	}

	if c.MCP.Transport == TransportSSE && c.MCP.AuthEnabled {
		if err := auth.ValidateTokenStrength(c.MCP.AuthToken, c.Environment); err != nil {
			errs = append(errs, fmt.Errorf("mcp.auth.token: %w", err))
		}
	}

	if c.Privacy.MinKAnonymity < 1 {
		errs = append(errs, fmt.Errorf("min.k.anonymity must be >= 1, got %d", c.Privacy.MinKAnonymity))
	}

	if c.RateLimit.Capacity < 1 {
		errs = append(errs, fmt.Errorf("ratelimit.capacity must be >= 1, got %d", c.RateLimit.Capacity))
	}
	if c.RateLimit.PerSecond <= 0 {
		errs = append(errs, fmt.Errorf("ratelimit.per.second must be > 0, got %v", c.RateLimit.PerSecond))
	}

	if c.TLS.Enabled && (c.TLS.CertPath == "" || c.TLS.KeyPath == "") {
		errs = append(errs, fmt.Errorf("tls.enabled requires tls.cert.path and tls.key.path"))
	}

	return errs
}

// Valid combines Validate into a single error for startup paths.
func (c *Config) Valid() error {
	errs := c.Validate()
	if len(errs) == 0 {
		return nil
	}
	msgs := make([]string, 0, len(errs))
	for _, err := range errs {
		msgs = append(msgs, err.Error())
	}
	return fmt.Errorf("configuration validation failed:\n  - %s", strings.Join(msgs, "\n  - "))
}
