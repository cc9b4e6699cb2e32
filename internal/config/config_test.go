package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, yaml string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o644))
	return path
}

func TestDefaults(t *testing.T) {
	cfg := Defaults()

	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, 0, cfg.Validate.Workers)
	assert.Equal(t, 60*time.Second, cfg.Validate.Timeout)
	assert.Equal(t, 5*time.Second, cfg.Validate.Grace)
	assert.False(t, cfg.Validate.InProcess)
	assert.False(t, cfg.API.Enabled)
	assert.Equal(t, "127.0.0.1:8080", cfg.API.Listen)

	require.NoError(t, validate(cfg))
}

func TestLoad(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		env     map[string]string
		wantErr string
		checkFn func(t *testing.T, cfg *Config)
	}{
		{
			name: "file overrides layered over defaults",
			yaml: `
log_level: debug
validate:
  workers: 4
  timeout: 2m
  test_filter: state
`,
			checkFn: func(t *testing.T, cfg *Config) {
				assert.Equal(t, "debug", cfg.LogLevel)
				assert.Equal(t, 4, cfg.Validate.Workers)
				assert.Equal(t, 2*time.Minute, cfg.Validate.Timeout)
				assert.Equal(t, "state", cfg.Validate.TestFilter)
				// Untouched fields keep their defaults.
				assert.Equal(t, 5*time.Second, cfg.Validate.Grace)
				assert.Equal(t, "127.0.0.1:8080", cfg.API.Listen)
			},
		},
		{
			name: "env var interpolation",
			yaml: `
api:
  enabled: true
  listen: 127.0.0.1:9090
  auth:
    api_key: ${CLAPCHECK_API_KEY}
`,
			env: map[string]string{"CLAPCHECK_API_KEY": "secret123"},
			checkFn: func(t *testing.T, cfg *Config) {
				assert.Equal(t, "secret123", cfg.API.Auth.APIKey)
				assert.Equal(t, []string{"secret123"}, cfg.API.Auth.BearerTokens())
			},
		},
		{
			name: "unset env var in api key rejected",
			yaml: `
api:
  enabled: true
  auth:
    api_key: ${CLAPCHECK_MISSING_KEY}
`,
			wantErr: "environment variable ${CLAPCHECK_MISSING_KEY} is not set",
		},
		{
			name: "unset env var ignored while api disabled",
			yaml: `
api:
  enabled: false
  auth:
    api_key: ${CLAPCHECK_MISSING_KEY}
`,
			checkFn: func(t *testing.T, cfg *Config) {
				assert.False(t, cfg.API.Enabled)
			},
		},
		{
			name:    "malformed yaml",
			yaml:    "log_level: [unclosed",
			wantErr: "failed to parse YAML",
		},
		{
			name:    "bad log level",
			yaml:    "log_level: loud",
			wantErr: "log_level must be one of",
		},
		{
			name: "negative workers",
			yaml: `
validate:
  workers: -1
`,
			wantErr: "validate.workers must not be negative",
		},
		{
			name: "zero timeout",
			yaml: `
validate:
  timeout: 0s
`,
			wantErr: "validate.timeout must be positive",
		},
		{
			name: "empty token",
			yaml: `
api:
  enabled: true
  auth:
    tokens: ["good", ""]
`,
			wantErr: "api.auth.tokens[1] must not be empty",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}

			cfg, err := Load(writeConfig(t, tt.yaml))
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			tt.checkFn(t, cfg)
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "config file not found")
}

func TestBearerTokens(t *testing.T) {
	auth := APIAuthConfig{APIKey: "key", Tokens: []string{"a", "b"}}
	assert.Equal(t, []string{"key", "a", "b"}, auth.BearerTokens())

	assert.Empty(t, APIAuthConfig{}.BearerTokens())
}
