// Package config provides configuration for the LinkBox client and the
// development mock agent.
// Values come from defaults, an optional linkbox.yaml file and LINKBOX_*
// environment variables, in increasing priority.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds the client configuration.
type Config struct {
	API     APIConfig     `mapstructure:"api"`
	Auth    AuthConfig    `mapstructure:"auth"`
	Stream  StreamConfig  `mapstructure:"stream"`
	Tasks   TasksConfig   `mapstructure:"tasks"`
	History HistoryConfig `mapstructure:"history"`
	Mock    MockConfig    `mapstructure:"mock"`
	Logging LoggingConfig `mapstructure:"logging"`
}

// APIConfig locates the LinkBox server endpoints.
type APIConfig struct {
	BaseURL     string `mapstructure:"base_url"`
	AgentPath   string `mapstructure:"agent_path"`
	ChatPath    string `mapstructure:"chat_path"`
	PreviewPath string `mapstructure:"preview_path"`
	// RequestTimeoutMs bounds non-streaming calls such as preview generation.
	RequestTimeoutMs int `mapstructure:"request_timeout_ms"`
}

// AuthConfig holds the bearer token used for every request.
type AuthConfig struct {
	Token string `mapstructure:"token"`
}

// StreamConfig controls the chat stream.
type StreamConfig struct {
	// Protocol selects the default endpoint: "agent" or "chat".
	Protocol string `mapstructure:"protocol"`
	// TimeoutMs is a client-side limit after which the stream is cancelled.
	// Zero disables it.
	TimeoutMs int `mapstructure:"timeout_ms"`
}

// TasksConfig controls background preview tasks.
type TasksConfig struct {
	StepDelayMs int `mapstructure:"step_delay_ms"`
}

// HistoryConfig locates the conversation store.
type HistoryConfig struct {
	// DatabaseURL is a go-sqlite3 DSN. Empty keeps history in memory.
	DatabaseURL string `mapstructure:"database_url"`
}

// MockConfig configures the development mock agent server.
type MockConfig struct {
	Port         int    `mapstructure:"port"`
	JWTSecret    string `mapstructure:"jwt_secret"`
	ScenarioFile string `mapstructure:"scenario_file"`
	FrameDelayMs int    `mapstructure:"frame_delay_ms"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	OutputPath string `mapstructure:"output_path"`
}

// RequestTimeout returns the non-streaming request timeout.
func (a APIConfig) RequestTimeout() time.Duration {
	return time.Duration(a.RequestTimeoutMs) * time.Millisecond
}

// Timeout returns the client-side stream timeout, zero when disabled.
func (s StreamConfig) Timeout() time.Duration {
	return time.Duration(s.TimeoutMs) * time.Millisecond
}

// StepDelay returns the pause between simulated preview steps.
func (t TasksConfig) StepDelay() time.Duration {
	return time.Duration(t.StepDelayMs) * time.Millisecond
}

// FrameDelay returns the pause between scripted mock frames.
func (m MockConfig) FrameDelay() time.Duration {
	return time.Duration(m.FrameDelayMs) * time.Millisecond
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("api.base_url", "http://localhost:8000")
	v.SetDefault("api.agent_path", "/ai/chat/agent")
	v.SetDefault("api.chat_path", "/ai/chat/stream")
	v.SetDefault("api.preview_path", "/resources/preview")
	v.SetDefault("api.request_timeout_ms", 120000)

	v.SetDefault("auth.token", "")

	v.SetDefault("stream.protocol", "agent")
	v.SetDefault("stream.timeout_ms", 0)

	v.SetDefault("tasks.step_delay_ms", 800)

	v.SetDefault("history.database_url", "file:linkbox.db?cache=shared&mode=rwc")

	v.SetDefault("mock.port", 8000)
	v.SetDefault("mock.jwt_secret", "linkbox-dev-secret")
	v.SetDefault("mock.scenario_file", "")
	v.SetDefault("mock.frame_delay_ms", 60)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")
	v.SetDefault("logging.output_path", "stderr")
}

// Load reads configuration from the working directory and the environment.
func Load() (*Config, error) {
	return LoadWithPath("")
}

// LoadWithPath reads configuration, looking for linkbox.yaml in configPath
// before the working directory.
func LoadWithPath(configPath string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("LINKBOX")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetConfigName("linkbox")
	v.SetConfigType("yaml")
	if configPath != "" {
		v.AddConfigPath(configPath)
	}
	v.AddConfigPath(".")

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

func validate(cfg *Config) error {
	var errs []string

	if cfg.API.BaseURL == "" {
		errs = append(errs, "api.base_url is required")
	}
	switch cfg.Stream.Protocol {
	case "agent", "chat":
	default:
		errs = append(errs, "stream.protocol must be one of: agent, chat")
	}
	if cfg.Stream.TimeoutMs < 0 {
		errs = append(errs, "stream.timeout_ms must not be negative")
	}
	if cfg.Tasks.StepDelayMs < 0 {
		errs = append(errs, "tasks.step_delay_ms must not be negative")
	}
	if cfg.Mock.Port <= 0 || cfg.Mock.Port > 65535 {
		errs = append(errs, "mock.port must be between 1 and 65535")
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(cfg.Logging.Level)] {
		errs = append(errs, "logging.level must be one of: debug, info, warn, error")
	}
	validFormats := map[string]bool{"json": true, "text": true, "console": true}
	if !validFormats[strings.ToLower(cfg.Logging.Format)] {
		errs = append(errs, "logging.format must be one of: json, text")
	}

	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}
	return nil
}
