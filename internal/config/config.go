// Package config provides application configuration.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/toml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// EnvPrefix prefixes environment overrides. A double underscore separates
// nesting levels: BATCHBOT_STORE__DRIVER sets store.driver.
const EnvPrefix = "BATCHBOT_"

// DefaultPath is read when no config file is given and it exists.
const DefaultPath = "./batchbot.toml"

// Store drivers.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
	DriverMemory   = "memory"
)

// Extraction providers.
const (
	ProviderOpenAI = "openai"
	ProviderGrpc   = "grpc"
)

// Directory modes.
const (
	DirectorySimulate = "simulate"
	DirectoryHTTP     = "http"
)

// Config holds all application configuration.
type Config struct {
	Server     ServerConfig     `koanf:"server"`
	Auth       AuthConfig       `koanf:"auth"`
	Store      StoreConfig      `koanf:"store"`
	Extraction ExtractionConfig `koanf:"extraction"`
	Directory  DirectoryConfig  `koanf:"directory"`
	Log        LogConfig        `koanf:"log"`
}

// ServerConfig controls the HTTP listener.
type ServerConfig struct {
	Port           string          `koanf:"port"`
	Env            string          `koanf:"env"`
	AllowedOrigins []string        `koanf:"allowed_origins"`
	RateLimit      RateLimitConfig `koanf:"rate_limit"`
	SSE            SSEConfig       `koanf:"sse"`
}

// RateLimitConfig bounds requests per caller.
type RateLimitConfig struct {
	PerMinute int `koanf:"per_minute"`
	Burst     int `koanf:"burst"`
}

// SSEConfig controls progress streams.
type SSEConfig struct {
	KeepaliveInterval time.Duration `koanf:"keepalive_interval"`
	RetryDelay        time.Duration `koanf:"retry_delay"`
}

// AuthConfig controls token issuance.
type AuthConfig struct {
	JWTSecret     string        `koanf:"jwt_secret"`
	TokenTTL      time.Duration `koanf:"token_ttl"`
	AllowedEmails []string      `koanf:"allowed_emails"`
}

// StoreConfig selects and tunes the session store.
type StoreConfig struct {
	Driver        string        `koanf:"driver"`
	SQLitePath    string        `koanf:"sqlite_path"`
	PostgresDSN   string        `koanf:"postgres_dsn"`
	SessionTTL    time.Duration `koanf:"session_ttl"`
	SummaryTTL    time.Duration `koanf:"summary_ttl"`
	SweepInterval time.Duration `koanf:"sweep_interval"`
}

// ExtractionConfig selects the intent-extraction collaborator.
type ExtractionConfig struct {
	Provider    string        `koanf:"provider"`
	Model       string        `koanf:"model"`
	APIKey      string        `koanf:"api_key"`
	BaseURL     string        `koanf:"base_url"`
	Temperature float64       `koanf:"temperature"`
	GrpcAddr    string        `koanf:"grpc_addr"`
	Timeout     time.Duration `koanf:"timeout"`
}

// DirectoryConfig selects the validation and action collaborator.
type DirectoryConfig struct {
	Mode                      string        `koanf:"mode"`
	BaseURL                   string        `koanf:"base_url"`
	APIToken                  string        `koanf:"api_token"`
	RequestsPerSecond         float64       `koanf:"requests_per_second"`
	Timeout                   time.Duration `koanf:"timeout"`
	SimulateValidationLatency time.Duration `koanf:"simulate_validation_latency"`
	SimulateActionLatency     time.Duration `koanf:"simulate_action_latency"`
}

// LogConfig controls logging.
type LogConfig struct {
	Level string `koanf:"level"`
}

func defaults() map[string]interface{} {
	return map[string]interface{}{
		"server.port":                           "8080",
		"server.env":                            "production",
		"server.allowed_origins":                []string{"*"},
		"server.rate_limit.per_minute":          60,
		"server.rate_limit.burst":               10,
		"server.sse.keepalive_interval":         10 * time.Second,
		"server.sse.retry_delay":                5 * time.Second,
		"auth.token_ttl":                        24 * time.Hour,
		"store.driver":                          DriverSQLite,
		"store.sqlite_path":                     "./data/batchbot.db",
		"store.session_ttl":                     2 * time.Hour,
		"store.summary_ttl":                     5 * time.Minute,
		"store.sweep_interval":                  time.Minute,
		"extraction.provider":                   ProviderOpenAI,
		"extraction.model":                      "gpt-4o",
		"extraction.temperature":                0.1,
		"extraction.grpc_addr":                  "localhost:50051",
		"extraction.timeout":                    60 * time.Second,
		"directory.mode":                        DirectorySimulate,
		"directory.requests_per_second":         5.0,
		"directory.timeout":                     30 * time.Second,
		"directory.simulate_validation_latency": 4 * time.Second,
		"directory.simulate_action_latency":     5 * time.Second,
		"log.level":                             "info",
	}
}

// Load reads configuration from defaults, then the TOML file at path (or
// DefaultPath when path is empty and the file exists), then the environment.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(confmap.Provider(defaults(), "."), nil); err != nil {
		return nil, fmt.Errorf("load defaults: %w", err)
	}

	switch {
	case path != "":
		if err := k.Load(file.Provider(path), toml.Parser()); err != nil {
			return nil, fmt.Errorf("load config file %s: %w", path, err)
		}
	default:
		if _, err := os.Stat(DefaultPath); err == nil {
			if err := k.Load(file.Provider(DefaultPath), toml.Parser()); err != nil {
				return nil, fmt.Errorf("load config file %s: %w", DefaultPath, err)
			}
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("load environment: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	cfg.Auth.AllowedEmails = splitList(cfg.Auth.AllowedEmails)
	cfg.Server.AllowedOrigins = splitList(cfg.Server.AllowedOrigins)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// envKey maps BATCHBOT_STORE__SQLITE_PATH to store.sqlite_path.
func envKey(s string) string {
	s = strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
	return strings.ReplaceAll(s, "__", ".")
}

// splitList flattens comma-separated entries and drops blanks.
func splitList(in []string) []string {
	var out []string
	for _, item := range in {
		for _, part := range strings.Split(item, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}

// Validate checks that all required configuration fields are set.
func (c *Config) Validate() error {
	var errs []error
	if c.Server.Port == "" {
		errs = append(errs, errors.New("server.port cannot be empty"))
	}
	if c.Auth.JWTSecret == "" {
		errs = append(errs, errors.New("auth.jwt_secret is required"))
	}
	if len(c.Auth.AllowedEmails) == 0 {
		errs = append(errs, errors.New("auth.allowed_emails must list at least one email"))
	}
	if c.Auth.TokenTTL <= 0 {
		errs = append(errs, errors.New("auth.token_ttl must be > 0"))
	}

	switch c.Store.Driver {
	case DriverSQLite:
		if c.Store.SQLitePath == "" {
			errs = append(errs, errors.New("store.sqlite_path is required for the sqlite driver"))
		}
	case DriverPostgres:
		if c.Store.PostgresDSN == "" {
			errs = append(errs, errors.New("store.postgres_dsn is required for the postgres driver"))
		}
	case DriverMemory:
	default:
		errs = append(errs, fmt.Errorf("unknown store.driver %q", c.Store.Driver))
	}
	if c.Store.SessionTTL <= 0 || c.Store.SummaryTTL <= 0 {
		errs = append(errs, errors.New("store.session_ttl and store.summary_ttl must be > 0"))
	}

	switch c.Extraction.Provider {
	case ProviderOpenAI:
		if c.Extraction.APIKey == "" {
			errs = append(errs, errors.New("extraction.api_key is required for the openai provider"))
		}
	case ProviderGrpc:
		if c.Extraction.GrpcAddr == "" {
			errs = append(errs, errors.New("extraction.grpc_addr is required for the grpc provider"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown extraction.provider %q", c.Extraction.Provider))
	}

	switch c.Directory.Mode {
	case DirectorySimulate:
	case DirectoryHTTP:
		if c.Directory.BaseURL == "" {
			errs = append(errs, errors.New("directory.base_url is required in http mode"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown directory.mode %q", c.Directory.Mode))
	}

	if _, err := c.LogLevel(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.Server.Env == "development"
}

// LogLevel parses log.level.
func (c *Config) LogLevel() (slog.Level, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(c.Log.Level)); err != nil {
		return slog.LevelInfo, fmt.Errorf("log.level: %w", err)
	}
	return lvl, nil
}
