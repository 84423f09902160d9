package config

import (
	"log"
	"strings"

	"github.com/spf13/viper"
)

type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Auth      AuthConfig      `mapstructure:"auth"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Guardrail GuardrailConfig `mapstructure:"guardrail"`
	Dispatch  DispatchConfig  `mapstructure:"dispatch"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
	Venues    []VenueConfig   `mapstructure:"venues"`
	Bots      []BotConfig     `mapstructure:"bots"`
}

type ServerConfig struct {
	Port string `mapstructure:"port"`
}

type AuthConfig struct {
	RequireAPIKey bool   `mapstructure:"require_api_key"`
	AdminKey      string `mapstructure:"admin_key"`
}

type DatabaseConfig struct {
	DSN                    string `mapstructure:"dsn"`
	AuditRetentionDays     int    `mapstructure:"audit_retention_days"`
	DeliveryRetentionDays  int    `mapstructure:"delivery_retention_days"`
	CleanupIntervalMinutes int    `mapstructure:"cleanup_interval_minutes"`
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// GuardrailConfig holds the workspace-wide defaults; individual bots may
// override any of them in their BotConfig.
type GuardrailConfig struct {
	RateQPS      float64 `mapstructure:"rate_qps"`
	RateBurst    int     `mapstructure:"rate_burst"`
	DailyLossCap float64 `mapstructure:"daily_loss_cap"`
}

type DispatchConfig struct {
	TimeoutMs     int `mapstructure:"timeout_ms"`
	MaxAttempts   int `mapstructure:"max_attempts"`
	BackoffBaseMs int `mapstructure:"backoff_base_ms"`
	BackoffMaxMs  int `mapstructure:"backoff_max_ms"`
	Workers       int `mapstructure:"workers"`
	QueueSize     int `mapstructure:"queue_size"`
}

type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

// VenueConfig uses pointers so an absent constraint and a zero-valued
// constraint stay distinguishable.
type VenueConfig struct {
	ID          string   `mapstructure:"id"`
	PriceTick   *float64 `mapstructure:"price_tick"`
	QtyStep     *float64 `mapstructure:"qty_step"`
	MinNotional *float64 `mapstructure:"min_notional"`
	MaxOrderQty *float64 `mapstructure:"max_order_qty"`
}

type BotConfig struct {
	ID          string          `mapstructure:"id"`
	WorkspaceID string          `mapstructure:"workspace_id"`
	Secret      string          `mapstructure:"secret"`
	Guardrail   GuardrailConfig `mapstructure:"guardrail"`
}

func Load() (*Config, error) {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./configs")

	// Environment variables support
	// e.g. HOOKGATE_DATABASE_DSN
	viper.SetEnvPrefix("hookgate")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	// Defaults
	viper.SetDefault("server.port", "8080")
	viper.SetDefault("auth.require_api_key", false)
	viper.SetDefault("auth.admin_key", "")
	viper.SetDefault("guardrail.rate_qps", 5)
	viper.SetDefault("guardrail.rate_burst", 10)
	viper.SetDefault("guardrail.daily_loss_cap", 0)
	viper.SetDefault("dispatch.timeout_ms", 10000)
	viper.SetDefault("dispatch.max_attempts", 4)
	viper.SetDefault("dispatch.backoff_base_ms", 500)
	viper.SetDefault("dispatch.backoff_max_ms", 60000)
	viper.SetDefault("dispatch.workers", 16)
	viper.SetDefault("dispatch.queue_size", 1024)
	viper.SetDefault("metrics.enabled", true)
	viper.SetDefault("metrics.path", "/metrics")
	viper.SetDefault("database.audit_retention_days", 90)
	viper.SetDefault("database.delivery_retention_days", 30)
	viper.SetDefault("database.cleanup_interval_minutes", 60)

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			log.Println("No config file found, using defaults and env vars")
		} else {
			return nil, err
		}
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}
