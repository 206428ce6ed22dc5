package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const appName = "chatstream"

type Config struct {
	Provider   string           `mapstructure:"provider"`
	Gemini     GeminiConfig     `mapstructure:"gemini"`
	OpenAI     OpenAIConfig     `mapstructure:"openai"`
	Anthropic  AnthropicConfig  `mapstructure:"anthropic"`
	Assistant  AssistantConfig  `mapstructure:"assistant"`
	Chat       ChatConfig       `mapstructure:"chat"`
	Completion CompletionConfig `mapstructure:"completion"`
	Retry      RetryConfig      `mapstructure:"retry"`
	Breaker    BreakerConfig    `mapstructure:"breaker"`
	RateLimit  RateLimitConfig  `mapstructure:"rate_limit"`
	Log        LogConfig        `mapstructure:"log"`
	Trace      TraceConfig      `mapstructure:"trace"`
	Store      StoreConfig      `mapstructure:"store"`
}

type GeminiConfig struct {
	APIKey  string `mapstructure:"api_key"`
	Model   string `mapstructure:"model"`
	BaseURL string `mapstructure:"base_url"` // optional proxy / gateway
}

type OpenAIConfig struct {
	APIKey  string `mapstructure:"api_key"`
	Model   string `mapstructure:"model"`
	BaseURL string `mapstructure:"base_url"` // any OpenAI-compatible server
}

type AnthropicConfig struct {
	APIKey string `mapstructure:"api_key"`
	Model  string `mapstructure:"model"`
}

// AssistantConfig holds the per-assistant generation settings.
type AssistantConfig struct {
	Prompt          string   `mapstructure:"prompt"`
	ContextCount    int      `mapstructure:"context_count"`
	MaxTokens       int      `mapstructure:"max_tokens"`
	Temperature     *float32 `mapstructure:"temperature"`
	TopP            *float32 `mapstructure:"top_p"`
	StreamOutput    bool     `mapstructure:"stream_output"`
	EnableWebSearch bool     `mapstructure:"enable_web_search"`
	SafetyThreshold string   `mapstructure:"safety_threshold"`
}

type ChatConfig struct {
	PDFInlineLimit int64 `mapstructure:"pdf_inline_limit"` // bytes
}

type CompletionConfig struct {
	MaxDepth int `mapstructure:"max_depth"` // 0 = unbounded
}

type RetryConfig struct {
	MaxAttempts int           `mapstructure:"max_attempts"`
	BaseBackoff time.Duration `mapstructure:"base_backoff"`
	MaxBackoff  time.Duration `mapstructure:"max_backoff"`
}

type BreakerConfig struct {
	MaxFailures uint32        `mapstructure:"max_failures"`
	Timeout     time.Duration `mapstructure:"timeout"`
	Interval    time.Duration `mapstructure:"interval"`
}

type RateLimitConfig struct {
	RequestsPerMin float64 `mapstructure:"requests_per_min"` // 0 = off
	Burst          int     `mapstructure:"burst"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`  // debug, info, warn, error
	Format string `mapstructure:"format"` // text or json
	Output string `mapstructure:"output"` // stderr, stdout or a file path
}

type TraceConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Exporter string `mapstructure:"exporter"` // stdout or noop
}

type StoreConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

// Load reads config.yaml from the config directory or the working
// directory. A missing file is not an error.
func Load() (*Config, error) {
	configPath, err := GetConfigDir()
	if err != nil {
		return nil, fmt.Errorf("failed to get config dir: %w", err)
	}
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(configPath)
	v.AddConfigPath(".")
	return load(v)
}

// LoadFile reads the config from an explicit path.
func LoadFile(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	return load(v)
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("provider", "gemini")
	v.SetDefault("gemini.model", "gemini-2.5-flash")
	v.SetDefault("openai.model", "gpt-4.1-mini")
	v.SetDefault("anthropic.model", "claude-sonnet-4-5")
	v.SetDefault("assistant.context_count", 5)
	v.SetDefault("assistant.stream_output", true)
	v.SetDefault("chat.pdf_inline_limit", 20*1024*1024)
	v.SetDefault("completion.max_depth", 0)
	v.SetDefault("retry.max_attempts", 3)
	v.SetDefault("retry.base_backoff", time.Second)
	v.SetDefault("retry.max_backoff", 30*time.Second)
	v.SetDefault("breaker.max_failures", 5)
	v.SetDefault("breaker.timeout", 30*time.Second)
	v.SetDefault("breaker.interval", 60*time.Second)
	v.SetDefault("rate_limit.requests_per_min", 0)
	v.SetDefault("rate_limit.burst", 1)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
	v.SetDefault("log.output", "stderr")
	v.SetDefault("trace.exporter", "stdout")
	v.SetDefault("store.enabled", true)
}

func load(v *viper.Viper) (*Config, error) {
	setDefaults(v)

	// Read config file (optional - won't error if missing)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok && !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	cfg.Gemini.APIKey = resolveAPIKey(cfg.Gemini.APIKey, "GEMINI_API_KEY")
	cfg.OpenAI.APIKey = resolveAPIKey(cfg.OpenAI.APIKey, "OPENAI_API_KEY")
	cfg.Anthropic.APIKey = resolveAPIKey(cfg.Anthropic.APIKey, "ANTHROPIC_API_KEY")
	cfg.Gemini.BaseURL = expandEnv(cfg.Gemini.BaseURL)
	cfg.OpenAI.BaseURL = expandEnv(cfg.OpenAI.BaseURL)

	if cfg.Store.Path == "" {
		dir, err := GetDataDir()
		if err != nil {
			return nil, err
		}
		cfg.Store.Path = filepath.Join(dir, "conversations.db")
	}
	return &cfg, nil
}

// ApplyOverrides applies provider and model overrides to the config.
// If provider is non-empty, it overrides the global provider.
// If model is non-empty, it overrides the model for the active provider.
func (c *Config) ApplyOverrides(provider, model string) {
	if provider != "" {
		c.Provider = provider
	}
	if model != "" {
		switch c.Provider {
		case "anthropic":
			c.Anthropic.Model = model
		case "openai":
			c.OpenAI.Model = model
		case "gemini":
			c.Gemini.Model = model
		}
	}
}

// ActiveModel returns the model configured for the active provider.
func (c *Config) ActiveModel() string {
	switch c.Provider {
	case "anthropic":
		return c.Anthropic.Model
	case "openai":
		return c.OpenAI.Model
	case "gemini":
		return c.Gemini.Model
	}
	return ""
}

// resolveAPIKey uses the configured value (after ${VAR} expansion) or
// falls back to the provider's conventional environment variable.
func resolveAPIKey(configured, envVar string) string {
	if key := expandEnv(configured); key != "" {
		return key
	}
	return os.Getenv(envVar)
}

// expandEnv expands ${VAR} or $VAR in a string
func expandEnv(s string) string {
	if strings.HasPrefix(s, "${") && strings.HasSuffix(s, "}") {
		return os.Getenv(s[2 : len(s)-1])
	}
	if strings.HasPrefix(s, "$") {
		return os.Getenv(s[1:])
	}
	return s
}

// GetConfigDir returns the XDG config directory for chatstream.
// Uses $XDG_CONFIG_HOME if set, otherwise ~/.config
func GetConfigDir() (string, error) {
	if xdgHome := os.Getenv("XDG_CONFIG_HOME"); xdgHome != "" {
		return filepath.Join(xdgHome, appName), nil
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(homeDir, ".config", appName), nil
}

// GetDataDir returns the XDG data directory for chatstream.
func GetDataDir() (string, error) {
	if xdgData := os.Getenv("XDG_DATA_HOME"); xdgData != "" {
		return filepath.Join(xdgData, appName), nil
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(homeDir, ".local", "share", appName), nil
}
