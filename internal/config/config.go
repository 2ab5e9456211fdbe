package config

import (
	"fmt"
	"strings"

	"github.com/joho/godotenv"
	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store      StoreConfig      `yaml:"store" mapstructure:"store"`
	Models     ModelsConfig     `yaml:"models" mapstructure:"models"`
	Completion CompletionConfig `yaml:"completion" mapstructure:"completion"`
	Search     SearchConfig     `yaml:"search" mapstructure:"search"`
	Pipeline   PipelineConfig   `yaml:"pipeline" mapstructure:"pipeline"`
	Prompts    PromptsConfig    `yaml:"prompts" mapstructure:"prompts"`
	Server     ServerConfig     `yaml:"server" mapstructure:"server"`
	Export     ExportConfig     `yaml:"export" mapstructure:"export"`
	Metrics    MetricsConfig    `yaml:"metrics" mapstructure:"metrics"`
	Notify     NotifyConfig     `yaml:"notify" mapstructure:"notify"`
	Log        LogConfig        `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
}

// ModelsConfig configures the model pool and per-key rate limiting.
type ModelsConfig struct {
	Dir            string `yaml:"dir" mapstructure:"dir"`
	RateWindowSecs int    `yaml:"rate_window_secs" mapstructure:"rate_window_secs"`
	Limiter        string `yaml:"limiter" mapstructure:"limiter"`
	RedisURL       string `yaml:"redis_url" mapstructure:"redis_url"`
	OffPeakEnabled bool   `yaml:"offpeak_enabled" mapstructure:"offpeak_enabled"`
	OffPeakStart   string `yaml:"offpeak_start" mapstructure:"offpeak_start"`
	OffPeakEnd     string `yaml:"offpeak_end" mapstructure:"offpeak_end"`
}

// CompletionConfig configures chat-completion calls.
type CompletionConfig struct {
	TimeoutSecs      int `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	MaxTokens        int `yaml:"max_tokens" mapstructure:"max_tokens"`
	BreakerThreshold int `yaml:"breaker_threshold" mapstructure:"breaker_threshold"`
	BreakerResetSecs int `yaml:"breaker_reset_secs" mapstructure:"breaker_reset_secs"`
}

// SearchConfig holds Bocha web-search settings.
type SearchConfig struct {
	Key         string  `yaml:"key" mapstructure:"key"`
	Endpoint    string  `yaml:"endpoint" mapstructure:"endpoint"`
	TimeoutSecs int     `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	Count       int     `yaml:"count" mapstructure:"count"`
	Freshness   string  `yaml:"freshness" mapstructure:"freshness"`
	MaxQueries  int     `yaml:"max_queries" mapstructure:"max_queries"`
	RatePerSec  float64 `yaml:"rate_per_sec" mapstructure:"rate_per_sec"`
}

// PipelineConfig configures persona generation and simulation behavior.
type PipelineConfig struct {
	MaxPersonas          int     `yaml:"max_personas" mapstructure:"max_personas"`
	MaxSimulations       int     `yaml:"max_simulations" mapstructure:"max_simulations"`
	SimulationWorkers    int     `yaml:"simulation_workers" mapstructure:"simulation_workers"`
	StageRetries         int     `yaml:"stage_retries" mapstructure:"stage_retries"`
	StageBackoffMs       int     `yaml:"stage_backoff_ms" mapstructure:"stage_backoff_ms"`
	BatchRetries         int     `yaml:"batch_retries" mapstructure:"batch_retries"`
	BatchBackoffMs       int     `yaml:"batch_backoff_ms" mapstructure:"batch_backoff_ms"`
	FormatErrorThreshold float64 `yaml:"format_error_threshold" mapstructure:"format_error_threshold"`
	PersonaDelayMs       int     `yaml:"persona_delay_ms" mapstructure:"persona_delay_ms"`
	BatchDelayMs         int     `yaml:"batch_delay_ms" mapstructure:"batch_delay_ms"`
	WebSearch            bool    `yaml:"web_search" mapstructure:"web_search"`
}

// PromptsConfig points at an optional YAML file overriding built-in prompts.
type PromptsConfig struct {
	Path string `yaml:"path" mapstructure:"path"`
}

// ServerConfig configures the task API server.
type ServerConfig struct {
	Port     int    `yaml:"port" mapstructure:"port"`
	AdminKey string `yaml:"admin_key" mapstructure:"admin_key"`
}

// ExportConfig configures spreadsheet export.
type ExportConfig struct {
	Dir string `yaml:"dir" mapstructure:"dir"`
}

// MetricsConfig toggles Prometheus metrics.
type MetricsConfig struct {
	Enabled bool `yaml:"enabled" mapstructure:"enabled"`
}

// NotifyConfig configures report-ready notifications. An empty webhook URL
// only logs them.
type NotifyConfig struct {
	WebhookURL  string `yaml:"webhook_url" mapstructure:"webhook_url"`
	TimeoutSecs int    `yaml:"timeout_secs" mapstructure:"timeout_secs"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from .env, file and environment.
func Load() (*Config, error) {
	// .env is optional; values already in the environment win.
	_ = godotenv.Load()

	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("PERSONA")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "persona-sim.db")
	v.SetDefault("models.dir", "models")
	v.SetDefault("models.rate_window_secs", 60)
	v.SetDefault("models.limiter", "memory")
	v.SetDefault("models.offpeak_enabled", true)
	v.SetDefault("models.offpeak_start", "00:30")
	v.SetDefault("models.offpeak_end", "08:30")
	v.SetDefault("completion.timeout_secs", 600)
	v.SetDefault("completion.max_tokens", 4096)
	v.SetDefault("completion.breaker_threshold", 5)
	v.SetDefault("completion.breaker_reset_secs", 30)
	v.SetDefault("search.endpoint", "https://api.bocha.cn/v1/web-search")
	v.SetDefault("search.timeout_secs", 30)
	v.SetDefault("search.count", 5)
	v.SetDefault("search.freshness", "noLimit")
	v.SetDefault("search.max_queries", 3)
	v.SetDefault("search.rate_per_sec", 2.0)
	v.SetDefault("pipeline.max_personas", 40)
	v.SetDefault("pipeline.max_simulations", 2)
	v.SetDefault("pipeline.simulation_workers", 5)
	v.SetDefault("pipeline.stage_retries", 3)
	v.SetDefault("pipeline.stage_backoff_ms", 1000)
	v.SetDefault("pipeline.batch_retries", 3)
	v.SetDefault("pipeline.batch_backoff_ms", 2000)
	v.SetDefault("pipeline.format_error_threshold", 0.10)
	v.SetDefault("pipeline.persona_delay_ms", 2000)
	v.SetDefault("pipeline.batch_delay_ms", 1000)
	v.SetDefault("pipeline.web_search", true)
	v.SetDefault("server.port", 8080)
	v.SetDefault("export.dir", "exports")
	v.SetDefault("metrics.enabled", true)
	v.SetDefault("notify.timeout_secs", 10)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	// Bocha credentials are commonly provided without the app prefix.
	_ = v.BindEnv("search.key", "PERSONA_SEARCH_KEY", "BOCHA_API_KEY")
	_ = v.BindEnv("search.endpoint", "PERSONA_SEARCH_ENDPOINT", "BOCHA_WEB_SEARCH_ENDPOINT")

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// Validate checks that the settings required by the given command are present.
func (c *Config) Validate(mode string) error {
	var problems []string

	switch c.Store.Driver {
	case "sqlite", "postgres":
	default:
		problems = append(problems, fmt.Sprintf("store.driver %q is not supported", c.Store.Driver))
	}
	if c.Store.DatabaseURL == "" {
		problems = append(problems, "store.database_url is required")
	}

	switch mode {
	case "run", "serve":
		if c.Models.Dir == "" {
			problems = append(problems, "models.dir is required")
		}
		if c.Models.Limiter == "redis" && c.Models.RedisURL == "" {
			problems = append(problems, "models.redis_url is required when models.limiter is redis")
		}
		if c.Pipeline.FormatErrorThreshold < 0 || c.Pipeline.FormatErrorThreshold > 1 {
			problems = append(problems, "pipeline.format_error_threshold must be between 0 and 1")
		}
		if mode == "serve" && (c.Server.Port <= 0 || c.Server.Port > 65535) {
			problems = append(problems, fmt.Sprintf("server.port %d is out of range", c.Server.Port))
		}
	}

	if len(problems) > 0 {
		return eris.Errorf("config: %s", strings.Join(problems, "; "))
	}
	return nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
