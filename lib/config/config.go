// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/tidwall/jsonc"
	"gopkg.in/yaml.v3"

	"github.com/bureau-foundation/gatekeeper/lib/logging"
	"github.com/bureau-foundation/gatekeeper/lib/security"
	"github.com/bureau-foundation/gatekeeper/lib/worker"
)

// EnvironmentVariable names the variable [Load] reads the config path from.
const EnvironmentVariable = "GATEKEEPER_CONFIG"

// Environment represents the deployment environment.
type Environment string

const (
	// Development is for local development machines.
	Development Environment = "development"
	// Staging is for pre-production testing.
	Staging Environment = "staging"
	// Production is for production deployments.
	Production Environment = "production"
)

// Config is the master configuration for the daemon.
type Config struct {
	// Environment identifies the deployment type (development, staging, production).
	Environment Environment `yaml:"environment"`

	// Root is the base directory for runtime files. Other paths may
	// reference it as ${GATEKEEPER_ROOT}.
	Root string `yaml:"root"`

	Server   ServerConfig    `yaml:"server"`
	Auth     AuthConfig      `yaml:"auth"`
	Pool     PoolConfig      `yaml:"pool"`
	Worker   worker.Config   `yaml:"worker"`
	Security security.Policy `yaml:"security"`
	Logging  logging.Config  `yaml:"logging"`

	// Per-environment overrides, applied after the base config is loaded.
	Development *ConfigOverrides `yaml:"development,omitempty"`
	Staging     *ConfigOverrides `yaml:"staging,omitempty"`
	Production  *ConfigOverrides `yaml:"production,omitempty"`
}

// ConfigOverrides contains fields that can be overridden per environment.
type ConfigOverrides struct {
	Server  *ServerConfig   `yaml:"server,omitempty"`
	Auth    *AuthConfig     `yaml:"auth,omitempty"`
	Pool    *PoolConfig     `yaml:"pool,omitempty"`
	Logging *logging.Config `yaml:"logging,omitempty"`
}

// ServerConfig configures the two listeners. Either may be empty to
// disable it, but not both.
type ServerConfig struct {
	// Listen is the TCP address for the WebSocket endpoint.
	// Default: 127.0.0.1:8787
	Listen string `yaml:"listen"`

	// Socket is the Unix socket path for the CBOR endpoint.
	// Default: ${GATEKEEPER_ROOT}/gatekeeper.sock
	Socket string `yaml:"socket"`
}

// AuthConfig configures challenge-response authentication.
type AuthConfig struct {
	// Enabled requires every connection to answer a nonce challenge.
	// Default: false (development), true (production)
	Enabled bool `yaml:"enabled"`

	// SecretFile holds the shared HMAC secret. "-" reads stdin.
	SecretFile string `yaml:"secret_file"`

	// MaxAge bounds how old a signed response may be. Default: 5m
	MaxAge time.Duration `yaml:"max_age"`

	// MaxStored caps remembered nonces. Default: 10000
	MaxStored int `yaml:"max_stored"`
}

// PoolConfig configures admission and per-session queueing.
type PoolConfig struct {
	// MaxConcurrent is the number of workers running at once. Default: 3
	MaxConcurrent int `yaml:"max_concurrent"`

	// MaxQueueSize is the number of tasks waiting for a slot. Default: 10
	MaxQueueSize int `yaml:"max_queue_size"`

	// RecentResults is how many finished results stay inspectable.
	// Default: 100
	RecentResults int `yaml:"recent_results"`

	// CommandQueueCapacity bounds commands waiting behind a busy
	// session. Default: 50
	CommandQueueCapacity int `yaml:"command_queue_capacity"`

	// DefaultType is the backend used when a request names none.
	// Default: subprocess
	DefaultType string `yaml:"default_type"`

	// DefaultWorkingDirectory is used when a request has no project path.
	DefaultWorkingDirectory string `yaml:"default_working_directory"`
}

// Default returns the default configuration.
// These defaults are used as a base before loading the config file.
func Default() *Config {
	homeDir, _ := os.UserHomeDir()
	defaultRoot := filepath.Join(homeDir, ".cache", "gatekeeper")

	return &Config{
		Environment: Development,
		Root:        defaultRoot,
		Server: ServerConfig{
			Listen: "127.0.0.1:8787",
			Socket: "${GATEKEEPER_ROOT}/gatekeeper.sock",
		},
		Auth: AuthConfig{
			Enabled:    false,
			SecretFile: "${GATEKEEPER_ROOT}/secret",
			MaxAge:     5 * time.Minute,
			MaxStored:  10000,
		},
		Pool: PoolConfig{
			MaxConcurrent:        3,
			MaxQueueSize:         10,
			RecentResults:        100,
			CommandQueueCapacity: 50,
			DefaultType:          string(worker.KindSubprocess),
		},
		Worker: worker.Config{
			LogDirectory: "${GATEKEEPER_ROOT}/logs",
			Terminal: worker.TerminalConfig{
				Socket: "${GATEKEEPER_ROOT}/tmux.sock",
			},
		},
		Security: security.Policy{
			BlockedCommands: []string{
				`rm\s+-rf\s+/`,
				`mkfs\.`,
				`dd\s+if=.*of=/dev/`,
				`:\(\)\s*\{\s*:\|:&\s*\};:`,
			},
			ApprovalRequired: []string{
				`git\s+push\s+.*--force`,
				`\bdeploy\b`,
			},
			MaxWorkerDuration: 30 * time.Minute,
		},
		Logging: logging.Config{
			Level:  "info",
			Format: logging.FormatText,
		},
	}
}

// Load loads configuration from the GATEKEEPER_CONFIG environment variable.
func Load() (*Config, error) {
	configPath := os.Getenv(EnvironmentVariable)
	if configPath == "" {
		return nil, fmt.Errorf("%s environment variable not set; "+
			"set it to the path of your gatekeeper.yaml config file, or use --config flag", EnvironmentVariable)
	}

	return LoadFile(configPath)
}

// LoadFile loads configuration from a specific file path.
func LoadFile(path string) (*Config, error) {
	cfg := Default()

	if err := cfg.loadFile(path); err != nil {
		return nil, err
	}

	cfg.applyEnvironmentOverrides()
	cfg.expandVariables()

	return cfg, nil
}

// loadFile decodes one file into the current config. JSON is a subset of
// YAML, so both forms go through the YAML decoder once comments are
// stripped from the JSON variant.
func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".json", ".jsonc":
		data = jsonc.ToJSON(data)
	}

	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parsing %s: %w", path, err)
	}
	return nil
}

// applyEnvironmentOverrides applies the environment-specific overrides.
func (c *Config) applyEnvironmentOverrides() {
	var overrides *ConfigOverrides

	switch c.Environment {
	case Development:
		overrides = c.Development
	case Staging:
		overrides = c.Staging
	case Production:
		overrides = c.Production
		// Production defaults: authentication on, machine-readable logs.
		if overrides == nil {
			overrides = &ConfigOverrides{
				Auth:    &AuthConfig{Enabled: true},
				Logging: &logging.Config{Format: logging.FormatJSON},
			}
		}
	}

	if overrides == nil {
		return
	}

	if overrides.Server != nil {
		if overrides.Server.Listen != "" {
			c.Server.Listen = overrides.Server.Listen
		}
		if overrides.Server.Socket != "" {
			c.Server.Socket = overrides.Server.Socket
		}
	}

	if overrides.Auth != nil {
		// Enabled is a bool, so we always apply it from overrides.
		c.Auth.Enabled = overrides.Auth.Enabled
		if overrides.Auth.SecretFile != "" {
			c.Auth.SecretFile = overrides.Auth.SecretFile
		}
		if overrides.Auth.MaxAge != 0 {
			c.Auth.MaxAge = overrides.Auth.MaxAge
		}
		if overrides.Auth.MaxStored != 0 {
			c.Auth.MaxStored = overrides.Auth.MaxStored
		}
	}

	if overrides.Pool != nil {
		if overrides.Pool.MaxConcurrent != 0 {
			c.Pool.MaxConcurrent = overrides.Pool.MaxConcurrent
		}
		if overrides.Pool.MaxQueueSize != 0 {
			c.Pool.MaxQueueSize = overrides.Pool.MaxQueueSize
		}
		if overrides.Pool.RecentResults != 0 {
			c.Pool.RecentResults = overrides.Pool.RecentResults
		}
		if overrides.Pool.CommandQueueCapacity != 0 {
			c.Pool.CommandQueueCapacity = overrides.Pool.CommandQueueCapacity
		}
		if overrides.Pool.DefaultType != "" {
			c.Pool.DefaultType = overrides.Pool.DefaultType
		}
		if overrides.Pool.DefaultWorkingDirectory != "" {
			c.Pool.DefaultWorkingDirectory = overrides.Pool.DefaultWorkingDirectory
		}
	}

	if overrides.Logging != nil {
		if overrides.Logging.Level != "" {
			c.Logging.Level = overrides.Logging.Level
		}
		if overrides.Logging.Format != "" {
			c.Logging.Format = overrides.Logging.Format
		}
		if overrides.Logging.File != "" {
			c.Logging.File = overrides.Logging.File
		}
	}
}

// expandVariables expands ${VAR} and ${VAR:-default} patterns in paths.
func (c *Config) expandVariables() {
	vars := map[string]string{
		"GATEKEEPER_ROOT": c.Root,
		"HOME":            os.Getenv("HOME"),
	}

	c.Root = expandVars(c.Root, vars)
	vars["GATEKEEPER_ROOT"] = c.Root // Update for dependent paths.

	c.Server.Socket = expandVars(c.Server.Socket, vars)
	c.Auth.SecretFile = expandVars(c.Auth.SecretFile, vars)
	c.Pool.DefaultWorkingDirectory = expandVars(c.Pool.DefaultWorkingDirectory, vars)
	c.Worker.LogDirectory = expandVars(c.Worker.LogDirectory, vars)
	c.Worker.Subprocess.Path = expandVars(c.Worker.Subprocess.Path, vars)
	c.Worker.Terminal.Socket = expandVars(c.Worker.Terminal.Socket, vars)
	c.Worker.Terminal.Path = expandVars(c.Worker.Terminal.Path, vars)
	c.Logging.File = expandVars(c.Logging.File, vars)
}

var varPattern = regexp.MustCompile(`\$\{([^}:]+)(?::-([^}]*))?\}`)

// expandVars expands ${VAR} and ${VAR:-default} patterns.
func expandVars(s string, vars map[string]string) string {
	return varPattern.ReplaceAllStringFunc(s, func(match string) string {
		parts := varPattern.FindStringSubmatch(match)
		if len(parts) < 2 {
			return match
		}

		name := parts[1]
		defaultValue := ""
		if len(parts) >= 3 {
			defaultValue = parts[2]
		}

		// Check provided vars first, then environment.
		if value, ok := vars[name]; ok && value != "" {
			return value
		}
		if value := os.Getenv(name); value != "" {
			return value
		}
		return defaultValue
	})
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	var errs []error

	if c.Environment != Development && c.Environment != Staging && c.Environment != Production {
		errs = append(errs, fmt.Errorf("invalid environment: %s", c.Environment))
	}

	if c.Server.Listen == "" && c.Server.Socket == "" {
		errs = append(errs, fmt.Errorf("server.listen or server.socket is required"))
	}

	if c.Auth.Enabled && c.Auth.SecretFile == "" {
		errs = append(errs, fmt.Errorf("auth.secret_file is required when auth.enabled is true"))
	}
	if c.Auth.MaxAge <= 0 {
		errs = append(errs, fmt.Errorf("auth.max_age must be positive"))
	}
	if c.Auth.MaxStored <= 0 {
		errs = append(errs, fmt.Errorf("auth.max_stored must be positive"))
	}

	if c.Pool.MaxConcurrent < 1 {
		errs = append(errs, fmt.Errorf("pool.max_concurrent must be at least 1"))
	}
	if c.Pool.MaxQueueSize < 0 {
		errs = append(errs, fmt.Errorf("pool.max_queue_size must not be negative"))
	}
	if c.Pool.CommandQueueCapacity < 1 {
		errs = append(errs, fmt.Errorf("pool.command_queue_capacity must be at least 1"))
	}
	if _, err := worker.ParseKind(c.Pool.DefaultType); err != nil {
		errs = append(errs, fmt.Errorf("pool.default_type: %w", err))
	}

	switch c.Worker.API.Provider {
	case "", worker.ProviderAnthropic, worker.ProviderOpenAI:
	default:
		errs = append(errs, fmt.Errorf("worker.api.provider must be one of: %v",
			[]string{worker.ProviderAnthropic, worker.ProviderOpenAI}))
	}

	if c.Security.MaxWorkerDuration < 0 {
		errs = append(errs, fmt.Errorf("security.max_worker_duration must not be negative"))
	}

	if err := c.Logging.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("logging: %w", err))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// APIKeyEnvironment returns the variable the API key is read from:
// the configured name, or the provider's conventional one.
func (c *Config) APIKeyEnvironment() string {
	if c.Worker.API.APIKeyEnvironment != "" {
		return c.Worker.API.APIKeyEnvironment
	}
	if c.Worker.API.Provider == worker.ProviderOpenAI {
		return "OPENAI_API_KEY"
	}
	return "ANTHROPIC_API_KEY"
}

// ResolveAPIKey copies the API key from the environment into
// Worker.API.APIKey. A missing key is not an error here; the
// streaming backend reports it when a task asks for it.
func (c *Config) ResolveAPIKey() {
	c.Worker.API.APIKey = os.Getenv(c.APIKeyEnvironment())
}

// EnsurePaths creates all configured directories if they don't exist.
func (c *Config) EnsurePaths() error {
	paths := []string{
		c.Root,
		c.Worker.LogDirectory,
	}
	if c.Server.Socket != "" {
		paths = append(paths, filepath.Dir(c.Server.Socket))
	}

	for _, path := range paths {
		if path == "" {
			continue
		}
		if err := os.MkdirAll(path, 0o700); err != nil {
			return fmt.Errorf("creating %s: %w", path, err)
		}
	}

	return nil
}
