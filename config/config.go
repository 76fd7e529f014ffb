package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/prometheus/common/model"
	"github.com/spf13/viper"
)

const EnvPrefix = "RELICWATCH"

type Config struct {
	NewRelic  NewRelicConfig  `mapstructure:"newrelic"`
	Cache     CacheConfig     `mapstructure:"cache"`
	Refresh   RefreshConfig   `mapstructure:"refresh"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Incidents IncidentsConfig `mapstructure:"incidents"`
	Gemini    GeminiConfig    `mapstructure:"gemini"`
	Server    ServerConfig    `mapstructure:"server"`
	Log       LogConfig       `mapstructure:"log"`
}

type NewRelicConfig struct {
	APIKey         string        `mapstructure:"api_key"`
	AccountID      int           `mapstructure:"account_id"`
	Endpoint       string        `mapstructure:"endpoint"`
	Timeout        time.Duration `mapstructure:"timeout"`
	MaxConcurrency int           `mapstructure:"max_concurrency"`
	MaxRetries     uint          `mapstructure:"max_retries"`
}

type CacheConfig struct {
	Path   string        `mapstructure:"path"`
	MaxAge time.Duration `mapstructure:"max_age"`
}

type RefreshConfig struct {
	CheckInterval time.Duration `mapstructure:"check_interval"`
	Timeout       time.Duration `mapstructure:"timeout"`
}

type StorageConfig struct {
	Path string `mapstructure:"path"`
	// HistoryRetention uses Prometheus duration syntax, e.g. "30d".
	HistoryRetention string `mapstructure:"history_retention"`
}

type IncidentsConfig struct {
	Path string `mapstructure:"path"`
}

type GeminiConfig struct {
	APIKey          string        `mapstructure:"api_key"`
	Model           string        `mapstructure:"model"`
	Temperature     float32       `mapstructure:"temperature"`
	MaxOutputTokens int32         `mapstructure:"max_output_tokens"`
	HistoryTTL      time.Duration `mapstructure:"history_ttl"`
}

type ServerConfig struct {
	Port int    `mapstructure:"port"`
	Host string `mapstructure:"host"`
}

type LogConfig struct {
	Level string `mapstructure:"level"`
}

func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
		slog.Debug("config file not found, using defaults and environment", "path", path)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	d := Default()
	v.SetDefault("newrelic.api_key", d.NewRelic.APIKey)
	v.SetDefault("newrelic.account_id", d.NewRelic.AccountID)
	v.SetDefault("newrelic.endpoint", d.NewRelic.Endpoint)
	v.SetDefault("newrelic.timeout", d.NewRelic.Timeout)
	v.SetDefault("newrelic.max_concurrency", d.NewRelic.MaxConcurrency)
	v.SetDefault("newrelic.max_retries", d.NewRelic.MaxRetries)
	v.SetDefault("cache.path", d.Cache.Path)
	v.SetDefault("cache.max_age", d.Cache.MaxAge)
	v.SetDefault("refresh.check_interval", d.Refresh.CheckInterval)
	v.SetDefault("refresh.timeout", d.Refresh.Timeout)
	v.SetDefault("storage.path", d.Storage.Path)
	v.SetDefault("storage.history_retention", d.Storage.HistoryRetention)
	v.SetDefault("incidents.path", d.Incidents.Path)
	v.SetDefault("gemini.api_key", d.Gemini.APIKey)
	v.SetDefault("gemini.model", d.Gemini.Model)
	v.SetDefault("gemini.temperature", d.Gemini.Temperature)
	v.SetDefault("gemini.max_output_tokens", d.Gemini.MaxOutputTokens)
	v.SetDefault("gemini.history_ttl", d.Gemini.HistoryTTL)
	v.SetDefault("server.port", d.Server.Port)
	v.SetDefault("server.host", d.Server.Host)
	v.SetDefault("log.level", d.Log.Level)
}

// Default returns the configuration used when no file or environment overrides exist.
func Default() *Config {
	return &Config{
		NewRelic: NewRelicConfig{
			Endpoint:       "https://api.newrelic.com/graphql",
			Timeout:        30 * time.Second,
			MaxConcurrency: 5,
			MaxRetries:     2,
		},
		Cache: CacheConfig{
			Path:   "historico/cache_completo.json",
			MaxAge: 24 * time.Hour,
		},
		Refresh: RefreshConfig{
			CheckInterval: time.Hour,
			Timeout:       5 * time.Minute,
		},
		Storage: StorageConfig{
			Path:             "relicwatch.db",
			HistoryRetention: "30d",
		},
		Incidents: IncidentsConfig{
			Path: "historico/incidentes.json",
		},
		Gemini: GeminiConfig{
			Model:           "gemini-2.5-flash",
			Temperature:     0.2,
			MaxOutputTokens: 1024,
			HistoryTTL:      24 * time.Hour,
		},
		Server: ServerConfig{
			Port: 8000,
			Host: "0.0.0.0",
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

func (c *Config) Validate() error {
	if c.NewRelic.Endpoint == "" {
		return fmt.Errorf("newrelic.endpoint is required")
	}
	if c.NewRelic.MaxConcurrency < 1 {
		return fmt.Errorf("newrelic.max_concurrency must be at least 1")
	}
	if c.Cache.Path == "" {
		return fmt.Errorf("cache.path is required")
	}
	if c.Cache.MaxAge <= 0 {
		return fmt.Errorf("cache.max_age must be positive")
	}
	if c.Refresh.CheckInterval <= 0 {
		return fmt.Errorf("refresh.check_interval must be positive")
	}
	if c.Refresh.Timeout <= 0 {
		return fmt.Errorf("refresh.timeout must be positive")
	}
	if _, err := c.HistoryRetention(); err != nil {
		return err
	}
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be between 1 and 65535")
	}
	return nil
}

// HistoryRetention parses storage.history_retention. An empty value disables cleanup.
func (c *Config) HistoryRetention() (time.Duration, error) {
	if c.Storage.HistoryRetention == "" {
		return 0, nil
	}
	d, err := model.ParseDuration(c.Storage.HistoryRetention)
	if err != nil {
		return 0, fmt.Errorf("storage.history_retention: %w", err)
	}
	return time.Duration(d), nil
}

func (c *Config) LogLevel() slog.Level {
	switch strings.ToLower(c.Log.Level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// NewRelicEnabled reports whether credentials for the New Relic API are configured.
func (c *Config) NewRelicEnabled() bool {
	return c.NewRelic.APIKey != ""
}

func ConfigFileExists(path string) bool {
	if path == "" {
		path = "config.yaml"
	}
	_, err := os.Stat(path)
	return err == nil
}
