// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package worker

import (
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/bureau-foundation/gatekeeper/lib/clock"
	"github.com/bureau-foundation/gatekeeper/lib/ringbuffer"
)

// Config is shared by every backend New creates. Zero fields take the
// defaults documented on each field.
type Config struct {
	// MaxOutputBuffer caps retained output per task in bytes.
	// Default ringbuffer.DefaultCapacity.
	MaxOutputBuffer int `yaml:"max_output_buffer" json:"maxOutputBuffer"`

	// LogDirectory holds terminal-session pane logs. Default
	// $TMPDIR/gatekeeper-logs.
	LogDirectory string `yaml:"log_directory" json:"logDirectory"`

	Subprocess SubprocessConfig `yaml:"subprocess" json:"subprocess"`
	API        APIConfig        `yaml:"api" json:"api"`
	Terminal   TerminalConfig   `yaml:"terminal" json:"terminal"`
	Container  ContainerConfig  `yaml:"container" json:"container"`

	Clock   clock.Clock  `yaml:"-" json:"-"`
	Logger  *slog.Logger `yaml:"-" json:"-"`
	OnEvent EventHandler `yaml:"-" json:"-"`
}

// SubprocessConfig configures the local agent CLI.
type SubprocessConfig struct {
	// Path is the agent binary. Default "claude".
	Path string `yaml:"path" json:"path"`

	// Args precede the prompt, which is always the final argument.
	// Nil selects ["--print"]; an empty non-nil slice passes none.
	Args []string `yaml:"args" json:"args"`

	// DeniedEnvironment adds variable names to strip on top of
	// DeniedEnvironment's package default.
	DeniedEnvironment []string `yaml:"denied_environment" json:"deniedEnvironment"`

	// ExtraEnvironment is added to the child's environment after
	// sanitization. Denied names are still dropped.
	ExtraEnvironment map[string]string `yaml:"extra_environment" json:"extraEnvironment"`

	// GracePeriod separates SIGTERM from SIGKILL. Default 10s.
	GracePeriod time.Duration `yaml:"grace_period" json:"gracePeriod"`
}

// Provider names accepted by APIConfig.Provider.
const (
	ProviderAnthropic = "anthropic"
	ProviderOpenAI    = "openai"
)

// APIConfig configures the streaming-API backend.
type APIConfig struct {
	// Provider is ProviderAnthropic (default) or ProviderOpenAI.
	Provider string `yaml:"provider" json:"provider"`

	// BaseURL overrides the provider's endpoint.
	BaseURL string `yaml:"base_url" json:"baseUrl"`

	Model     string `yaml:"model" json:"model"`
	MaxTokens int    `yaml:"max_tokens" json:"maxTokens"`
	System    string `yaml:"system" json:"system"`

	// APIKeyEnvironment names the variable the daemon reads APIKey
	// from. The key itself never appears in the config file.
	APIKeyEnvironment string `yaml:"api_key_env" json:"apiKeyEnv"`

	APIKey     string       `yaml:"-" json:"-"`
	HTTPClient *http.Client `yaml:"-" json:"-"`
}

// TerminalConfig configures the terminal-session backend.
type TerminalConfig struct {
	// Socket is the dedicated tmux server socket. Default
	// $TMPDIR/gatekeeper-tmux.sock.
	Socket string `yaml:"socket" json:"socket"`

	// Path and Args form the command typed into the session, followed
	// by the quoted prompt. Defaults match SubprocessConfig.
	Path string   `yaml:"path" json:"path"`
	Args []string `yaml:"args" json:"args"`

	// PollInterval paces log reads. Default 1s.
	PollInterval time.Duration `yaml:"poll_interval" json:"pollInterval"`

	// LivenessInterval paces session-exists checks. Default 2s.
	LivenessInterval time.Duration `yaml:"liveness_interval" json:"livenessInterval"`

	// Multiplexer overrides the tmux server built from Socket.
	Multiplexer Multiplexer `yaml:"-" json:"-"`
}

// ContainerConfig configures the container backend.
type ContainerConfig struct {
	// Runtime is the container CLI. Default "docker".
	Runtime string `yaml:"runtime" json:"runtime"`

	Image string `yaml:"image" json:"image"`

	// Command precedes the prompt inside the container. Default
	// ["claude", "--print"].
	Command []string `yaml:"command" json:"command"`

	// Memory and CPUs are passed to --memory and --cpus. Defaults
	// "2g" and "2".
	Memory string `yaml:"memory" json:"memory"`
	CPUs   string `yaml:"cpus" json:"cpus"`

	// MountPath is where the working directory appears inside the
	// container. Default "/workspace".
	MountPath string `yaml:"mount_path" json:"mountPath"`

	// ProbeTimeout bounds "<runtime> info". Default 5s.
	ProbeTimeout time.Duration `yaml:"probe_timeout" json:"probeTimeout"`

	// GracePeriod is passed to "<runtime> stop -t". Default 10s.
	GracePeriod time.Duration `yaml:"grace_period" json:"gracePeriod"`
}

const (
	defaultAgentPath    = "claude"
	defaultGracePeriod  = 10 * time.Second
	defaultPollInterval = time.Second
	defaultLiveness     = 2 * time.Second
	defaultProbeTimeout = 5 * time.Second
)

var defaultAgentArgs = []string{"--print"}

func (config Config) withDefaults() Config {
	if config.MaxOutputBuffer <= 0 {
		config.MaxOutputBuffer = ringbuffer.DefaultCapacity
	}
	if config.LogDirectory == "" {
		config.LogDirectory = filepath.Join(os.TempDir(), "gatekeeper-logs")
	}
	if config.Clock == nil {
		config.Clock = clock.Real()
	}
	if config.Logger == nil {
		config.Logger = slog.New(slog.DiscardHandler)
	}

	subprocess := &config.Subprocess
	if subprocess.Path == "" {
		subprocess.Path = defaultAgentPath
	}
	if subprocess.Args == nil {
		subprocess.Args = defaultAgentArgs
	}
	if subprocess.GracePeriod <= 0 {
		subprocess.GracePeriod = defaultGracePeriod
	}

	if config.API.Provider == "" {
		config.API.Provider = ProviderAnthropic
	}

	terminal := &config.Terminal
	if terminal.Socket == "" {
		terminal.Socket = filepath.Join(os.TempDir(), "gatekeeper-tmux.sock")
	}
	if terminal.Path == "" {
		terminal.Path = defaultAgentPath
	}
	if terminal.Args == nil {
		terminal.Args = defaultAgentArgs
	}
	if terminal.PollInterval <= 0 {
		terminal.PollInterval = defaultPollInterval
	}
	if terminal.LivenessInterval <= 0 {
		terminal.LivenessInterval = defaultLiveness
	}

	container := &config.Container
	if container.Runtime == "" {
		container.Runtime = "docker"
	}
	if container.Command == nil {
		container.Command = []string{defaultAgentPath, "--print"}
	}
	if container.Memory == "" {
		container.Memory = "2g"
	}
	if container.CPUs == "" {
		container.CPUs = "2"
	}
	if container.MountPath == "" {
		container.MountPath = "/workspace"
	}
	if container.ProbeTimeout <= 0 {
		container.ProbeTimeout = defaultProbeTimeout
	}
	if container.GracePeriod <= 0 {
		container.GracePeriod = defaultGracePeriod
	}
	return config
}
