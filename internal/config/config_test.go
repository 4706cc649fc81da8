package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/referral/internal/apiclient"
	"github.com/roach88/referral/internal/attribution"
)

// noEnvFile points Load at a file that does not exist.
func noEnvFile(t *testing.T) string {
	t.Helper()
	return filepath.Join(t.TempDir(), "missing.env")
}

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("", noEnvFile(t))
	require.NoError(t, err)

	assert.Equal(t, apiclient.DefaultBaseURL, cfg.BaseURL)
	assert.Equal(t, DefaultKeyPrefix, cfg.KeyPrefix)
	assert.Equal(t, apiclient.DefaultTimeout, cfg.RequestTimeout)
	assert.Equal(t, apiclient.DefaultRetryDelay, cfg.RetryDelay)
	assert.Equal(t, apiclient.DefaultMaxRetries, cfg.MaxRetries)
	assert.Equal(t, attribution.RecordAfterAttempt, cfg.Policy())
	assert.Equal(t, slog.LevelInfo, cfg.Level())
	assert.Empty(t, cfg.APIKey)
}

func TestLoad_File(t *testing.T) {
	path := writeFile(t, "referral.yaml", `
api_key: file-key
base_url: http://localhost:9000
db: /tmp/referral.db
retry_delay: 250ms
max_retries: 4
record_policy: after-success
log_level: debug
`)
	cfg, err := Load(path, noEnvFile(t))
	require.NoError(t, err)

	assert.Equal(t, "file-key", cfg.APIKey)
	assert.Equal(t, "http://localhost:9000", cfg.BaseURL)
	assert.Equal(t, "/tmp/referral.db", cfg.DBPath)
	assert.Equal(t, 250*time.Millisecond, cfg.RetryDelay)
	assert.Equal(t, 4, cfg.MaxRetries)
	assert.Equal(t, attribution.RecordAfterSuccess, cfg.Policy())
	assert.Equal(t, slog.LevelDebug, cfg.Level())

	api := cfg.APIConfig()
	assert.Equal(t, "http://localhost:9000", api.BaseURL)
	assert.Equal(t, 250*time.Millisecond, api.RetryDelay)
	assert.Equal(t, 4, api.MaxRetries)
}

func TestLoad_FileErrors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"), noEnvFile(t))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "reading config file")

	path := writeFile(t, "typo.yaml", "apikey: x\n")
	_, err = Load(path, noEnvFile(t))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parsing config file")
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	path := writeFile(t, "referral.yaml", "api_key: file-key\nmax_retries: 4\n")
	t.Setenv("REFERRAL_API_KEY", "env-key")
	t.Setenv("REFERRAL_MAX_RETRIES", "1")
	t.Setenv("REFERRAL_REQUEST_TIMEOUT", "3s")
	t.Setenv("REFERRAL_REDIS_URL", "redis://localhost:6379/0")
	t.Setenv("REFERRAL_KEY_PREFIX", "app1:")

	cfg, err := Load(path, noEnvFile(t))
	require.NoError(t, err)

	assert.Equal(t, "env-key", cfg.APIKey)
	assert.Equal(t, 1, cfg.MaxRetries)
	assert.Equal(t, 3*time.Second, cfg.RequestTimeout)
	assert.Equal(t, "redis://localhost:6379/0", cfg.RedisURL)
	assert.Equal(t, "app1:", cfg.KeyPrefix)
}

func TestLoad_InvalidEnvKeepsValue(t *testing.T) {
	t.Setenv("REFERRAL_MAX_RETRIES", "many")
	t.Setenv("REFERRAL_RETRY_DELAY", "-1s")

	cfg, err := Load("", noEnvFile(t))
	require.NoError(t, err)
	assert.Equal(t, apiclient.DefaultMaxRetries, cfg.MaxRetries)
	assert.Equal(t, apiclient.DefaultRetryDelay, cfg.RetryDelay)
}

func TestLoad_EnvFile(t *testing.T) {
	// Registered so the variables godotenv sets are removed after the test.
	t.Setenv("REFERRAL_API_KEY", "")
	t.Setenv("REFERRAL_PLATFORM", "")
	require.NoError(t, os.Unsetenv("REFERRAL_API_KEY"))
	require.NoError(t, os.Unsetenv("REFERRAL_PLATFORM"))

	envFile := writeFile(t, "test.env", "REFERRAL_API_KEY=dotenv-key\nREFERRAL_PLATFORM=fixtures/ios.yaml\n")

	cfg, err := Load("", envFile)
	require.NoError(t, err)
	assert.Equal(t, "dotenv-key", cfg.APIKey)
	assert.Equal(t, "fixtures/ios.yaml", cfg.PlatformFixture)
}

func TestLoad_EnvFileDoesNotOverrideEnvironment(t *testing.T) {
	t.Setenv("REFERRAL_API_KEY", "process-key")
	envFile := writeFile(t, "test.env", "REFERRAL_API_KEY=dotenv-key\n")

	cfg, err := Load("", envFile)
	require.NoError(t, err)
	assert.Equal(t, "process-key", cfg.APIKey)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{"defaults", func(*Config) {}, ""},
		{"db and redis", func(c *Config) { c.DBPath = "a.db"; c.RedisURL = "redis://x" }, "mutually exclusive"},
		{"bad policy", func(c *Config) { c.RecordPolicy = "never" }, "never"},
		{"bad level", func(c *Config) { c.LogLevel = "loud" }, `unknown log level "loud"`},
		{"negative retries", func(c *Config) { c.MaxRetries = -1 }, "max_retries"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
