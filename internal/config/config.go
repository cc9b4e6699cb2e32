// Package config loads clapcheck configuration from YAML files.
//
// Every setting has a working default; a file overrides only the fields it
// names. Values of the form ${VAR} are replaced with the matching
// environment variable before parsing, so API tokens can stay out of the
// file itself.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// Config is the root clapcheck configuration.
type Config struct {
	LogLevel string         `yaml:"log_level"`
	Validate ValidateConfig `yaml:"validate"`
	API      APIConfig      `yaml:"api"`
}

// ValidateConfig controls how validation runs are planned and executed.
type ValidateConfig struct {
	// Workers is the number of concurrent test invocations. Zero means
	// one worker per CPU.
	Workers int `yaml:"workers"`

	// Timeout is the per-invocation deadline.
	Timeout time.Duration `yaml:"timeout"`

	// Grace is how long a child process gets between SIGTERM and SIGKILL
	// once its deadline passes.
	Grace time.Duration `yaml:"grace"`

	// InProcess runs test cases inside the parent process instead of
	// isolated children. A crashing plugin then takes the whole run down.
	InProcess bool `yaml:"in_process"`

	// TestFilter keeps only test cases whose ID contains the substring.
	TestFilter string `yaml:"test_filter"`

	// ScratchDir is the base directory for per-invocation scratch space.
	// Empty means a clapcheck directory under the system temp dir.
	ScratchDir string `yaml:"scratch_dir"`
}

// APIConfig controls the serve-mode HTTP API.
type APIConfig struct {
	Enabled bool          `yaml:"enabled"`
	Listen  string        `yaml:"listen"`
	Auth    APIAuthConfig `yaml:"auth"`
}

// APIAuthConfig holds the bearer tokens the API accepts. With neither
// api_key nor tokens configured the API requires no authentication.
type APIAuthConfig struct {
	APIKey string   `yaml:"api_key,omitempty"`
	Tokens []string `yaml:"tokens,omitempty"`
}

// BearerTokens returns every configured token, api_key first.
func (a APIAuthConfig) BearerTokens() []string {
	var tokens []string
	if a.APIKey != "" {
		tokens = append(tokens, a.APIKey)
	}
	tokens = append(tokens, a.Tokens...)
	return tokens
}

// Defaults returns the configuration used when no file is given.
func Defaults() *Config {
	return &Config{
		LogLevel: "info",
		Validate: ValidateConfig{
			Workers: 0,
			Timeout: 60 * time.Second,
			Grace:   5 * time.Second,
		},
		API: APIConfig{
			Enabled: false,
			Listen:  "127.0.0.1:8080",
		},
	}
}

// Load reads and parses configuration from a file, layered over Defaults.
func Load(configPath string) (*Config, error) {
	absPath, err := filepath.Abs(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve config path %q: %w", configPath, err)
	}

	data, err := os.ReadFile(absPath)
	if err != nil {
		return nil, fmt.Errorf("config file not found: %s\n"+
			"Hint: Check the path or run with --config flag", absPath)
	}

	interpolated := interpolateEnv(string(data))

	cfg := Defaults()
	if err := yaml.Unmarshal([]byte(interpolated), cfg); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// interpolateEnv replaces ${VAR} placeholders with environment variable
// values. Unset variables keep the placeholder so validation can point at
// them instead of silently passing an empty string along.
func interpolateEnv(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		varName := envVarPattern.FindStringSubmatch(match)[1]
		if value, exists := os.LookupEnv(varName); exists {
			return value
		}
		return match
	})
}

func validate(cfg *Config) error {
	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[cfg.LogLevel] {
		return fmt.Errorf("log_level must be one of: debug, info, warn, error (got %q)", cfg.LogLevel)
	}

	if cfg.Validate.Workers < 0 {
		return fmt.Errorf("validate.workers must not be negative (got %d)", cfg.Validate.Workers)
	}
	if cfg.Validate.Timeout <= 0 {
		return fmt.Errorf("validate.timeout must be positive")
	}
	if cfg.Validate.Grace <= 0 {
		return fmt.Errorf("validate.grace must be positive")
	}

	if cfg.API.Enabled {
		if cfg.API.Listen == "" {
			return fmt.Errorf("api.listen is required when the API is enabled")
		}
		if matches := envVarPattern.FindStringSubmatch(cfg.API.Auth.APIKey); len(matches) > 1 {
			return fmt.Errorf("api.auth.api_key: environment variable ${%s} is not set", matches[1])
		}
		for i, tok := range cfg.API.Auth.Tokens {
			if tok == "" {
				return fmt.Errorf("api.auth.tokens[%d] must not be empty", i)
			}
			if matches := envVarPattern.FindStringSubmatch(tok); len(matches) > 1 {
				return fmt.Errorf("api.auth.tokens[%d]: environment variable ${%s} is not set", i, matches[1])
			}
		}
	}

	return nil
}
