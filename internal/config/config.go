// Package config loads the referral CLI configuration.
//
// Sources are applied in order, later ones winning: defaults, an optional
// YAML file, a .env file, REFERRAL_* environment variables. Command-line
// flags are applied on top by the CLI.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/roach88/referral/internal/apiclient"
	"github.com/roach88/referral/internal/attribution"
)

// DefaultEnvFile is read when Load is given no env file.
const DefaultEnvFile = ".env"

// DefaultKeyPrefix namespaces keys in a shared Redis.
const DefaultKeyPrefix = "referral:"

// Config holds the CLI configuration.
type Config struct {
	APIKey  string `yaml:"api_key"`
	BaseURL string `yaml:"base_url"`

	// PlatformFixture is a YAML file describing the simulated store account.
	// Empty means an empty iOS account.
	PlatformFixture string `yaml:"platform_fixture"`

	// At most one of DBPath and RedisURL may be set. Neither means an
	// in-memory store that lives for one command.
	DBPath    string `yaml:"db"`
	RedisURL  string `yaml:"redis_url"`
	KeyPrefix string `yaml:"key_prefix"`

	RequestTimeout time.Duration `yaml:"request_timeout"`
	RetryDelay     time.Duration `yaml:"retry_delay"`
	MaxRetries     int           `yaml:"max_retries"`

	RecordPolicy string `yaml:"record_policy"`
	LogLevel     string `yaml:"log_level"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		BaseURL:        apiclient.DefaultBaseURL,
		KeyPrefix:      DefaultKeyPrefix,
		RequestTimeout: apiclient.DefaultTimeout,
		RetryDelay:     apiclient.DefaultRetryDelay,
		MaxRetries:     apiclient.DefaultMaxRetries,
		RecordPolicy:   attribution.RecordAfterAttempt.String(),
		LogLevel:       "info",
	}
}

// Load builds a Config from path (optional) and the environment, then
// validates it. envFile defaults to DefaultEnvFile; a missing env file is
// not an error. Variables already set in the process environment are not
// overridden by the env file.
func Load(path, envFile string) (*Config, error) {
	cfg := Default()

	if path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}

	if envFile == "" {
		envFile = DefaultEnvFile
	}
	if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("loading env file %s: %w", envFile, err)
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading config file: %w", err)
	}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(c); err != nil {
		return fmt.Errorf("parsing config file %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv() {
	envString("REFERRAL_API_KEY", &c.APIKey)
	envString("REFERRAL_BASE_URL", &c.BaseURL)
	envString("REFERRAL_PLATFORM", &c.PlatformFixture)
	envString("REFERRAL_DB", &c.DBPath)
	envString("REFERRAL_REDIS_URL", &c.RedisURL)
	envString("REFERRAL_KEY_PREFIX", &c.KeyPrefix)
	envString("REFERRAL_RECORD_POLICY", &c.RecordPolicy)
	envString("REFERRAL_LOG_LEVEL", &c.LogLevel)

	c.RequestTimeout = envDuration("REFERRAL_REQUEST_TIMEOUT", c.RequestTimeout)
	c.RetryDelay = envDuration("REFERRAL_RETRY_DELAY", c.RetryDelay)
	c.MaxRetries = envInt("REFERRAL_MAX_RETRIES", c.MaxRetries)
}

// Validate rejects settings no command can run with.
func (c *Config) Validate() error {
	if c.DBPath != "" && c.RedisURL != "" {
		return fmt.Errorf("db and redis_url are mutually exclusive")
	}
	if _, err := attribution.ParseRecordPolicy(c.RecordPolicy); err != nil {
		return err
	}
	if _, err := parseLevel(c.LogLevel); err != nil {
		return err
	}
	if c.MaxRetries < 0 {
		return fmt.Errorf("max_retries must be non-negative, got %d", c.MaxRetries)
	}
	return nil
}

// Policy returns the parsed record policy. Call after Validate.
func (c *Config) Policy() attribution.RecordPolicy {
	p, _ := attribution.ParseRecordPolicy(c.RecordPolicy)
	return p
}

// Level returns the parsed log level, info if unset.
func (c *Config) Level() slog.Level {
	l, _ := parseLevel(c.LogLevel)
	return l
}

// APIConfig returns the HTTP client settings.
func (c *Config) APIConfig() apiclient.Config {
	return apiclient.Config{
		BaseURL:    c.BaseURL,
		Timeout:    c.RequestTimeout,
		RetryDelay: c.RetryDelay,
		MaxRetries: c.MaxRetries,
	}
}

func parseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(s) {
	case "", "info":
		return slog.LevelInfo, nil
	case "debug":
		return slog.LevelDebug, nil
	case "warn":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return slog.LevelInfo, fmt.Errorf("unknown log level %q", s)
}

func envString(key string, dst *string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

// envInt reads an env var as int, returning def if missing or unparseable.
func envInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		slog.Warn("invalid env var, using default", "key", key, "value", v, "default", def)
		return def
	}
	return n
}

// envDuration reads an env var as time.Duration, returning def if missing or unparseable.
func envDuration(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		slog.Warn("invalid env var, using default", "key", key, "value", v, "default", def)
		return def
	}
	return d
}
