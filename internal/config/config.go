package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"

	"market-watchdog/internal/logging"
)

// Config materialises application configuration.
type Config struct {
	App         AppConfig         `mapstructure:"app"`
	Logging     logging.Config    `mapstructure:"logging"`
	Database    DatabaseConfig    `mapstructure:"database"`
	Scheduler   SchedulerConfig   `mapstructure:"scheduler"`
	Assets      AssetsConfig      `mapstructure:"assets"`
	Monitor     MonitorConfig     `mapstructure:"monitor"`
	DataSources DataSourcesConfig `mapstructure:"datasources"`
	AI          AIConfig          `mapstructure:"ai"`
	Alerting    AlertingConfig    `mapstructure:"alerting"`
	Digest      DigestConfig      `mapstructure:"digest"`
	Export      ExportConfig      `mapstructure:"export"`
}

// AppConfig general metadata.
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Environment string `mapstructure:"environment"`
}

// DatabaseConfig encapsulates PostgreSQL connectivity.
type DatabaseConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	MigrationsPath  string        `mapstructure:"migrations_path"`
}

// SchedulerConfig governs polling cadence.
type SchedulerConfig struct {
	Interval        time.Duration `mapstructure:"interval"`
	AlignToBucket   bool          `mapstructure:"align_to_bucket"`
	AdvisoryLockKey int64         `mapstructure:"advisory_lock_key"`
	StartupDelay    time.Duration `mapstructure:"startup_delay"`
}

// AssetsConfig points at the monitored asset list.
type AssetsConfig struct {
	Path string `mapstructure:"path"`
}

// MonitorConfig tunes volatility handling.
type MonitorConfig struct {
	Cooldown        time.Duration `mapstructure:"cooldown"`
	CooldownPersist bool          `mapstructure:"cooldown_persist"`
	HistoryWindow   time.Duration `mapstructure:"history_window"`
}

// DataSourcesConfig holds per-adapter settings.
type DataSourcesConfig struct {
	RequestTimeout time.Duration   `mapstructure:"request_timeout"`
	Binance        BinanceConfig   `mapstructure:"binance"`
	Yahoo          YahooConfig     `mapstructure:"yahoo"`
	Chainlink      ChainlinkConfig `mapstructure:"chainlink"`
}

// BinanceConfig covers the Binance spot REST API.
type BinanceConfig struct {
	BaseURL string `mapstructure:"base_url"`
}

// YahooConfig covers the Yahoo Finance chart API.
type YahooConfig struct {
	BaseURL   string `mapstructure:"base_url"`
	UserAgent string `mapstructure:"user_agent"`
}

// ChainlinkConfig covers on-chain aggregator access.
type ChainlinkConfig struct {
	RPCURL string            `mapstructure:"rpc_url"`
	Feeds  map[string]string `mapstructure:"feeds"`
}

// AIConfig covers the analysis tiers.
type AIConfig struct {
	BaseURL        string        `mapstructure:"base_url"`
	APIKey         string        `mapstructure:"api_key"`
	SentinelModel  string        `mapstructure:"sentinel_model"`
	DeepModel      string        `mapstructure:"deep_model"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	MaxTokens      int           `mapstructure:"max_tokens"`
}

// AlertingConfig defines alert routing.
type AlertingConfig struct {
	Enabled  bool           `mapstructure:"enabled"`
	Channels []string       `mapstructure:"channels"`
	Telegram TelegramConfig `mapstructure:"telegram"`
}

// TelegramConfig 描述 Telegram 告警参数。
type TelegramConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	BotToken string `mapstructure:"bot_token"`
	ChatID   string `mapstructure:"chat_id"`
	APIBase  string `mapstructure:"api_base"`
}

// DigestConfig schedules the daily digest.
type DigestConfig struct {
	Enabled bool          `mapstructure:"enabled"`
	At      string        `mapstructure:"at"`
	Window  time.Duration `mapstructure:"window"`
}

// ExportConfig sets CLI export behaviour.
type ExportConfig struct {
	MaxDataPoints int `mapstructure:"max_data_points"`
}

// Load builds configuration from file, environment, and defaults.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("WATCHDOG")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	if err := readConfig(v); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, decodeHook()); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func readConfig(v *viper.Viper) error {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return nil
		}
		return fmt.Errorf("read config: %w", err)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "watchdog")
	v.SetDefault("app.environment", "development")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	v.SetDefault("scheduler.interval", "60s")
	v.SetDefault("scheduler.align_to_bucket", true)
	v.SetDefault("scheduler.advisory_lock_key", int64(0x77646f67))
	v.SetDefault("scheduler.startup_delay", "0s")

	v.SetDefault("assets.path", "assets.json")

	v.SetDefault("monitor.cooldown", "30m")
	v.SetDefault("monitor.cooldown_persist", false)
	v.SetDefault("monitor.history_window", "24h")

	v.SetDefault("datasources.request_timeout", "10s")
	v.SetDefault("datasources.binance.base_url", "https://api.binance.com")
	v.SetDefault("datasources.yahoo.base_url", "https://query1.finance.yahoo.com")
	v.SetDefault("datasources.yahoo.user_agent", "watchdog/1.0")

	v.SetDefault("ai.base_url", "https://api.deepseek.com/v1")
	v.SetDefault("ai.sentinel_model", "deepseek-chat")
	v.SetDefault("ai.deep_model", "deepseek-reasoner")
	v.SetDefault("ai.request_timeout", "30s")
	v.SetDefault("ai.max_tokens", 1024)

	v.SetDefault("alerting.enabled", false)
	v.SetDefault("alerting.channels", []string{"telegram"})
	v.SetDefault("alerting.telegram.enabled", false)
	v.SetDefault("alerting.telegram.api_base", "https://api.telegram.org")

	v.SetDefault("digest.enabled", false)
	v.SetDefault("digest.at", "22:30")
	v.SetDefault("digest.window", "24h")

	v.SetDefault("export.max_data_points", 100000)

	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", "30m")
	v.SetDefault("database.migrations_path", "migrations")
}

func decodeHook() viper.DecoderConfigOption {
	return func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "mapstructure"
		dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		)
	}
}

// Validate performs basic sanity checks on the configuration values.
func (c *Config) Validate() error {
	if c.Export.MaxDataPoints <= 0 {
		return fmt.Errorf("export.max_data_points must be greater than zero")
	}
	if c.Scheduler.Interval <= 0 {
		return fmt.Errorf("scheduler.interval must be greater than zero")
	}
	if c.Assets.Path == "" {
		return fmt.Errorf("assets.path is required")
	}
	if c.Monitor.Cooldown < 0 {
		return fmt.Errorf("monitor.cooldown cannot be negative")
	}
	if c.Monitor.HistoryWindow <= 0 {
		return fmt.Errorf("monitor.history_window must be greater than zero")
	}
	if c.Digest.Enabled {
		if _, err := ParseClock(c.Digest.At); err != nil {
			return fmt.Errorf("digest.at: %w", err)
		}
		if c.Digest.Window <= 0 {
			return fmt.Errorf("digest.window must be greater than zero")
		}
	}
	if c.Alerting.Telegram.Enabled {
		if c.Alerting.Telegram.BotToken == "" {
			return fmt.Errorf("alerting.telegram.bot_token 必须配置")
		}
		if c.Alerting.Telegram.ChatID == "" {
			return fmt.Errorf("alerting.telegram.chat_id 必须配置")
		}
	}
	return nil
}

// ParseClock parses a local HH:MM wall-clock string into an offset from midnight.
func ParseClock(s string) (time.Duration, error) {
	t, err := time.Parse("15:04", strings.TrimSpace(s))
	if err != nil {
		return 0, fmt.Errorf("invalid HH:MM time %q", s)
	}
	return time.Duration(t.Hour())*time.Hour + time.Duration(t.Minute())*time.Minute, nil
}

// ResolveMaxPoints returns either the CLI override or config default.
func (c *Config) ResolveMaxPoints(override int) int {
	if override > 0 {
		return override
	}
	return c.Export.MaxDataPoints
}
