// File: internal/config/config.go
package config

import (
	"fmt"
	"path/filepath"
	"time"

	homedir "github.com/mitchellh/go-homedir"
	"github.com/spf13/viper"
)

// Config holds the entire application configuration.
type Config struct {
	Logger       LoggerConfig       `mapstructure:"logger"`
	LLM          LLMConfig          `mapstructure:"llm"`
	Browser      BrowserConfig      `mapstructure:"browser"`
	Resolver     ResolverConfig     `mapstructure:"resolver"`
	Orchestrator OrchestratorConfig `mapstructure:"orchestrator"`
	History      HistoryConfig      `mapstructure:"history"`
	Metrics      MetricsConfig      `mapstructure:"metrics"`
}

// LoggerConfig controls the zap logger and file rotation.
type LoggerConfig struct {
	Level       string `mapstructure:"level"`
	Format      string `mapstructure:"format"` // console or json
	ServiceName string `mapstructure:"service_name"`
	AddSource   bool   `mapstructure:"add_source"`
	LogFile     string `mapstructure:"log_file"`
	MaxSize     int    `mapstructure:"max_size"` // megabytes
	MaxBackups  int    `mapstructure:"max_backups"`
	MaxAge      int    `mapstructure:"max_age"` // days
	Compress    bool   `mapstructure:"compress"`
}

// LLMProvider names a supported model backend.
const ProviderGemini = "gemini"

// LLMModelConfig configures a single model endpoint.
type LLMModelConfig struct {
	Model       string        `mapstructure:"model"`
	APIKey      string        `mapstructure:"api_key"`
	APITimeout  time.Duration `mapstructure:"api_timeout"`
	MaxTokens   int           `mapstructure:"max_tokens"`
	Temperature float64       `mapstructure:"temperature"`
	TopP        float64       `mapstructure:"top_p"`
	TopK        int           `mapstructure:"top_k"`
}

// LLMConfig configures the tiered LLM router.
type LLMConfig struct {
	Provider string         `mapstructure:"provider"`
	Fast     LLMModelConfig `mapstructure:"fast"`
	Powerful LLMModelConfig `mapstructure:"powerful"`
}

// BrowserConfig controls the chromedp-backed page driver.
type BrowserConfig struct {
	Headless          bool          `mapstructure:"headless"`
	ChromePath        string        `mapstructure:"chrome_path"`
	UserAgent         string        `mapstructure:"user_agent"`
	WindowWidth       int           `mapstructure:"window_width"`
	WindowHeight      int           `mapstructure:"window_height"`
	NavigationTimeout time.Duration `mapstructure:"navigation_timeout"`
	IgnoreTLSErrors   bool          `mapstructure:"ignore_tls_errors"`
}

// ResolverConfig controls the element resolver and its strategy chain.
type ResolverConfig struct {
	CacheTTL        time.Duration `mapstructure:"cache_ttl"`
	CacheMaxEntries int           `mapstructure:"cache_max_entries"`
	LLMEnabled      bool          `mapstructure:"llm_enabled"`
	VisionEnabled   bool          `mapstructure:"vision_enabled"`
	MaxElements     int           `mapstructure:"max_elements"` // element inventory cap for LLM prompts
	TokenBudget     int           `mapstructure:"token_budget"` // prompt token cap for LLM strategies
	LLMRateLimit    float64       `mapstructure:"llm_rate_limit"`
	LLMRateBurst    int           `mapstructure:"llm_rate_burst"`
}

// OrchestratorConfig controls action execution defaults.
type OrchestratorConfig struct {
	ActionTimeout     time.Duration `mapstructure:"action_timeout"`
	RetryCount        int           `mapstructure:"retry_count"`
	RetryBackoff      time.Duration `mapstructure:"retry_backoff"` // base backoff, scaled linearly per attempt
	RefreshPerception bool          `mapstructure:"refresh_perception"`
}

// HistoryConfig controls the execution-result store.
type HistoryConfig struct {
	Enabled     bool   `mapstructure:"enabled"`
	DatabaseURL string `mapstructure:"database_url"`
}

// MetricsConfig controls the optional Prometheus endpoint.
type MetricsConfig struct {
	Enabled    bool   `mapstructure:"enabled"`
	ListenAddr string `mapstructure:"listen_addr"`
}

// SetDefaults registers default values for every configuration key.
func SetDefaults(v *viper.Viper) {
	// -- Logger --
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.service_name", "intentflow")
	v.SetDefault("logger.add_source", false)
	v.SetDefault("logger.log_file", "")
	v.SetDefault("logger.max_size", 100)
	v.SetDefault("logger.max_backups", 5)
	v.SetDefault("logger.max_age", 30)
	v.SetDefault("logger.compress", true)

	// -- LLM --
	v.SetDefault("llm.provider", ProviderGemini)
	v.SetDefault("llm.fast.model", "gemini-2.0-flash")
	v.SetDefault("llm.fast.api_timeout", "60s")
	v.SetDefault("llm.fast.max_tokens", 8192)
	v.SetDefault("llm.fast.temperature", 0.2)
	v.SetDefault("llm.powerful.model", "gemini-2.5-pro")
	v.SetDefault("llm.powerful.api_timeout", "120s")
	v.SetDefault("llm.powerful.max_tokens", 16384)
	v.SetDefault("llm.powerful.temperature", 0.2)

	// -- Browser --
	v.SetDefault("browser.headless", true)
	v.SetDefault("browser.window_width", 1440)
	v.SetDefault("browser.window_height", 900)
	v.SetDefault("browser.navigation_timeout", "45s")
	v.SetDefault("browser.ignore_tls_errors", false)

	// -- Resolver --
	v.SetDefault("resolver.cache_ttl", "10s")
	v.SetDefault("resolver.cache_max_entries", 1000)
	v.SetDefault("resolver.llm_enabled", true)
	v.SetDefault("resolver.vision_enabled", false)
	v.SetDefault("resolver.max_elements", 50)
	v.SetDefault("resolver.token_budget", 4000)
	v.SetDefault("resolver.llm_rate_limit", 1.0)
	v.SetDefault("resolver.llm_rate_burst", 2)

	// -- Orchestrator --
	v.SetDefault("orchestrator.action_timeout", "30s")
	v.SetDefault("orchestrator.retry_count", 3)
	v.SetDefault("orchestrator.retry_backoff", "500ms")
	v.SetDefault("orchestrator.refresh_perception", true)

	// -- History --
	v.SetDefault("history.enabled", false)
	v.SetDefault("history.database_url", "")

	// -- Metrics --
	v.SetDefault("metrics.enabled", false)
	v.SetDefault("metrics.listen_addr", ":9464")
}

// NewConfigFromViper unmarshals the viper state into a validated Config.
func NewConfigFromViper(v *viper.Viper) (*Config, error) {
	var cfg Config

	// Sensitive values come from the environment, never the config file.
	_ = v.BindEnv("llm.fast.api_key", "INTENTFLOW_LLM_API_KEY")
	_ = v.BindEnv("llm.powerful.api_key", "INTENTFLOW_LLM_API_KEY")
	_ = v.BindEnv("history.database_url", "INTENTFLOW_DATABASE_URL")

	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects configurations the engine cannot run with.
func (c *Config) Validate() error {
	if c.Resolver.CacheTTL <= 0 {
		return fmt.Errorf("resolver.cache_ttl must be a positive duration")
	}
	if c.Resolver.CacheMaxEntries <= 0 {
		return fmt.Errorf("resolver.cache_max_entries must be a positive integer")
	}
	if c.Orchestrator.RetryCount < 0 {
		return fmt.Errorf("orchestrator.retry_count must not be negative")
	}
	if c.Orchestrator.ActionTimeout <= 0 {
		return fmt.Errorf("orchestrator.action_timeout must be a positive duration")
	}
	if c.History.Enabled && c.History.DatabaseURL == "" {
		return fmt.Errorf("history.database_url is required when history is enabled. Set INTENTFLOW_DATABASE_URL")
	}
	if c.Browser.WindowWidth <= 0 || c.Browser.WindowHeight <= 0 {
		return fmt.Errorf("browser window dimensions must be positive")
	}
	return nil
}

// DefaultConfigDir returns the per-user configuration directory.
func DefaultConfigDir() (string, error) {
	home, err := homedir.Dir()
	if err != nil {
		return "", fmt.Errorf("could not determine home directory: %w", err)
	}
	return filepath.Join(home, ".intentflow"), nil
}
