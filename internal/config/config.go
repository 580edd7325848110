// File: internal/config/config.go
package config

import (
	"fmt"
	"strings"
	"time"

	homedir "github.com/mitchellh/go-homedir"
	"github.com/spf13/viper"
)

// Config holds the entire application configuration. It is constructed once
// at startup and passed by reference into every component; nothing reads
// viper after this point.
type Config struct {
	Logger    LoggerConfig    `mapstructure:"logger" yaml:"logger"`
	Driver    DriverConfig    `mapstructure:"driver" yaml:"driver"`
	Screen    ScreenConfig    `mapstructure:"screen" yaml:"screen"`
	Input     InputConfig     `mapstructure:"input" yaml:"input"`
	Executor  ExecutorConfig  `mapstructure:"executor" yaml:"executor"`
	Inference InferenceConfig `mapstructure:"inference" yaml:"inference"`
	Agent     AgentConfig     `mapstructure:"agent" yaml:"agent"`
	History   HistoryConfig   `mapstructure:"history" yaml:"history"`
}

// LoggerConfig holds all the configuration for the logger.
type LoggerConfig struct {
	Level       string `mapstructure:"level" yaml:"level"`
	Format      string `mapstructure:"format" yaml:"format"`
	AddSource   bool   `mapstructure:"add_source" yaml:"add_source"`
	ServiceName string `mapstructure:"service_name" yaml:"service_name"`
	LogFile     string `mapstructure:"log_file" yaml:"log_file"`
	MaxSize     int    `mapstructure:"max_size" yaml:"max_size"`
	MaxBackups  int    `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAge      int    `mapstructure:"max_age" yaml:"max_age"`
	Compress    bool   `mapstructure:"compress" yaml:"compress"`
}

// DriverConfig configures the automation server connection and lifecycle.
type DriverConfig struct {
	Host string `mapstructure:"host" yaml:"host"`
	Port int    `mapstructure:"port" yaml:"port"`
	// AutoStart spawns the server binary at Path when nothing is listening.
	AutoStart bool   `mapstructure:"auto_start" yaml:"auto_start"`
	Path      string `mapstructure:"path" yaml:"path"`
	// ConnectTimeout bounds the whole reach-and-create-session sequence.
	ConnectTimeout time.Duration `mapstructure:"connect_timeout" yaml:"connect_timeout"`
	// ResolverTimeout bounds a single element lookup or element click call.
	ResolverTimeout time.Duration `mapstructure:"resolver_timeout" yaml:"resolver_timeout"`
}

// Addr returns the host:port the automation server listens on.
func (d DriverConfig) Addr() string { return fmt.Sprintf("%s:%d", d.Host, d.Port) }

// BaseURL returns the server's HTTP root.
func (d DriverConfig) BaseURL() string { return "http://" + d.Addr() }

// ScreenConfig selects the capture target.
type ScreenConfig struct {
	Display int `mapstructure:"display" yaml:"display"`
}

// InputConfig tunes raw input injection.
type InputConfig struct {
	// TypingInterval is the inter-character delay while typing text. Slower
	// cadence survives legacy applications that drop synthetic keystrokes.
	TypingInterval time.Duration `mapstructure:"typing_interval" yaml:"typing_interval"`
	// ClickPause is the settle delay after each injected pointer event.
	ClickPause time.Duration `mapstructure:"click_pause" yaml:"click_pause"`
}

// ExecutorConfig governs the hybrid resolution policy.
type ExecutorConfig struct {
	// FallbackEnabled permits degrading to coordinate injection when the
	// element tier is unavailable or fails.
	FallbackEnabled bool `mapstructure:"fallback_enabled" yaml:"fallback_enabled"`
}

// InferenceConfig points at the local model endpoint.
type InferenceConfig struct {
	Endpoint    string        `mapstructure:"endpoint" yaml:"endpoint"`
	Model       string        `mapstructure:"model" yaml:"model"`
	APIKey      string        `mapstructure:"api_key" yaml:"-"`
	Timeout     time.Duration `mapstructure:"timeout" yaml:"timeout"`
	Temperature float32       `mapstructure:"temperature" yaml:"temperature"`
	MaxTokens   int           `mapstructure:"max_tokens" yaml:"max_tokens"`
}

// VerifyMode selects what the loop does with a failed verification.
type VerifyMode string

const (
	// VerifyOff skips the post-action comparison entirely.
	VerifyOff VerifyMode = "off"
	// VerifyRecord records the verification outcome on the step and moves on.
	VerifyRecord VerifyMode = "record"
	// VerifyRetry re-runs a step whose verification failed, at most once.
	VerifyRetry VerifyMode = "retry"
)

// AgentConfig bounds the task loop.
type AgentConfig struct {
	MaxSteps    int           `mapstructure:"max_steps" yaml:"max_steps"`
	TimeBudget  time.Duration `mapstructure:"time_budget" yaml:"time_budget"`
	MaxFailures int           `mapstructure:"max_failures" yaml:"max_failures"`
	StepTimeout time.Duration `mapstructure:"step_timeout" yaml:"step_timeout"`
	// StepDelay is a settle pause between steps so the UI can catch up.
	StepDelay time.Duration `mapstructure:"step_delay" yaml:"step_delay"`
	// HistoryWindow is how many recent steps accompany each inference call.
	HistoryWindow int           `mapstructure:"history_window" yaml:"history_window"`
	Verify        VerifyConfig  `mapstructure:"verify" yaml:"verify"`
}

// VerifyConfig tunes post-action verification.
type VerifyConfig struct {
	Mode VerifyMode `mapstructure:"mode" yaml:"mode"`
	// UseModel forwards the before/after pair to the inference endpoint
	// instead of the local pixel heuristic. Doubles inference traffic.
	UseModel bool `mapstructure:"use_model" yaml:"use_model"`
	// ChangeThreshold is the sampled pixel-change ratio above which the
	// heuristic considers the screen to have changed.
	ChangeThreshold float64 `mapstructure:"change_threshold" yaml:"change_threshold"`
}

// HistoryConfig configures the local transcript store.
type HistoryConfig struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
	Path    string `mapstructure:"path" yaml:"path"`
}

// SetDefaults initializes default values for all configuration parameters.
func SetDefaults(v *viper.Viper) {
	// -- Logger --
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.add_source", false)
	v.SetDefault("logger.service_name", "deskrover")
	v.SetDefault("logger.log_file", "")
	v.SetDefault("logger.max_size", 100)
	v.SetDefault("logger.max_backups", 5)
	v.SetDefault("logger.max_age", 30)
	v.SetDefault("logger.compress", true)

	// -- Driver --
	v.SetDefault("driver.host", "127.0.0.1")
	v.SetDefault("driver.port", 4723)
	v.SetDefault("driver.auto_start", false)
	v.SetDefault("driver.path", `C:\Program Files (x86)\Windows Application Driver\WinAppDriver.exe`)
	v.SetDefault("driver.connect_timeout", "30s")
	v.SetDefault("driver.resolver_timeout", "10s")

	// -- Screen / Input --
	v.SetDefault("screen.display", 0)
	v.SetDefault("input.typing_interval", "12ms")
	v.SetDefault("input.click_pause", "100ms")

	// -- Executor --
	v.SetDefault("executor.fallback_enabled", true)

	// -- Inference --
	v.SetDefault("inference.endpoint", "http://127.0.0.1:11434/v1/chat/completions")
	v.SetDefault("inference.model", "llama3.2-vision")
	v.SetDefault("inference.timeout", "120s")
	v.SetDefault("inference.temperature", 0.2)
	v.SetDefault("inference.max_tokens", 1024)

	// -- Agent --
	v.SetDefault("agent.max_steps", 25)
	v.SetDefault("agent.time_budget", "10m")
	v.SetDefault("agent.max_failures", 3)
	v.SetDefault("agent.step_timeout", "3m")
	v.SetDefault("agent.step_delay", "500ms")
	v.SetDefault("agent.history_window", 10)
	v.SetDefault("agent.verify.mode", "record")
	v.SetDefault("agent.verify.use_model", false)
	v.SetDefault("agent.verify.change_threshold", 0.02)

	// -- History --
	v.SetDefault("history.enabled", true)
	v.SetDefault("history.path", "~/.deskrover/history.db")
}

// NewConfigFromViper creates a validated configuration from a viper object.
func NewConfigFromViper(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	// Expand ~ in user-supplied paths before anything opens them.
	for _, p := range []*string{&cfg.History.Path, &cfg.Logger.LogFile, &cfg.Driver.Path} {
		if *p == "" {
			continue
		}
		expanded, err := homedir.Expand(*p)
		if err != nil {
			return nil, fmt.Errorf("cannot expand path %q: %w", *p, err)
		}
		*p = expanded
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// NewDefaultConfig returns a configuration populated with defaults only.
// Used by tests and by library consumers that skip the CLI bootstrap.
func NewDefaultConfig() *Config {
	v := viper.New()
	SetDefaults(v)
	cfg, err := NewConfigFromViper(v)
	if err != nil {
		// Defaults are static; failing to unmarshal them is a programming error.
		panic(fmt.Sprintf("failed to build default config: %v", err))
	}
	return cfg
}

// Validate checks the configuration for required fields and sane values.
func (c *Config) Validate() error {
	if c.Driver.Port <= 0 || c.Driver.Port > 65535 {
		return fmt.Errorf("driver.port must be in (0, 65535], got %d", c.Driver.Port)
	}
	if c.Driver.ConnectTimeout <= 0 {
		return fmt.Errorf("driver.connect_timeout must be positive")
	}
	if c.Driver.ResolverTimeout <= 0 {
		return fmt.Errorf("driver.resolver_timeout must be positive")
	}
	if c.Agent.MaxSteps <= 0 {
		return fmt.Errorf("agent.max_steps must be a positive integer")
	}
	if c.Agent.MaxFailures <= 0 {
		return fmt.Errorf("agent.max_failures must be a positive integer")
	}
	if c.Agent.TimeBudget <= 0 {
		return fmt.Errorf("agent.time_budget must be a positive duration")
	}
	switch c.Agent.Verify.Mode {
	case VerifyOff, VerifyRecord, VerifyRetry:
	default:
		return fmt.Errorf("agent.verify.mode must be one of off|record|retry, got %q", c.Agent.Verify.Mode)
	}
	if c.Agent.Verify.ChangeThreshold < 0 || c.Agent.Verify.ChangeThreshold > 1 {
		return fmt.Errorf("agent.verify.change_threshold must be within [0, 1]")
	}
	if c.Inference.Endpoint == "" {
		return fmt.Errorf("inference.endpoint is required")
	}
	if !strings.HasPrefix(c.Inference.Endpoint, "http://") && !strings.HasPrefix(c.Inference.Endpoint, "https://") {
		return fmt.Errorf("inference.endpoint must be an http(s) URL, got %q", c.Inference.Endpoint)
	}
	if c.Input.TypingInterval < 0 {
		return fmt.Errorf("input.typing_interval cannot be negative")
	}
	if c.History.Enabled && c.History.Path == "" {
		return fmt.Errorf("history.path is required when history is enabled")
	}
	return nil
}
