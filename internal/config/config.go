package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"

	"swap-triggers/internal/logging"
	"swap-triggers/internal/metrics"
)

// Config materialises application configuration.
type Config struct {
	App       AppConfig       `mapstructure:"app"`
	Logging   logging.Config  `mapstructure:"logging"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
	Swap      SwapConfig      `mapstructure:"swap"`
	Alerting  AlertingConfig  `mapstructure:"alerting"`
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
}

// SchedulerConfig governs the evaluation cadence.
type SchedulerConfig struct {
	Interval        time.Duration `mapstructure:"interval"`
	AlignToTick     bool          `mapstructure:"align_to_tick"`
	StartupDelay    time.Duration `mapstructure:"startup_delay"`
	TriggerDelay    time.Duration `mapstructure:"trigger_delay"`
	Parallelism     int           `mapstructure:"parallelism"`
	AdvisoryLockKey int64         `mapstructure:"advisory_lock_key"`
}

// MetricsConfig covers metric sources and cache freshness.
type MetricsConfig struct {
	PriceTTL     time.Duration   `mapstructure:"price_ttl"`
	GasTTL       time.Duration   `mapstructure:"gas_ttl"`
	IndicatorTTL time.Duration   `mapstructure:"indicator_ttl"`
	VolumeTTL    time.Duration   `mapstructure:"volume_ttl"`
	SentimentTTL time.Duration   `mapstructure:"sentiment_ttl"`
	Market       MarketConfig    `mapstructure:"market"`
	Indicator    IndicatorConfig `mapstructure:"indicator"`
	Sentiment    SentimentConfig `mapstructure:"sentiment"`
	Gas          GasConfig       `mapstructure:"gas"`
}

// MarketConfig points at a Binance-compatible market data API.
type MarketConfig struct {
	BaseURL        string        `mapstructure:"base_url"`
	QuoteSymbol    string        `mapstructure:"quote_symbol"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	UserAgent      string        `mapstructure:"user_agent"`
}

// IndicatorConfig tunes RSI/MA derivation from candles.
type IndicatorConfig struct {
	Period         int    `mapstructure:"period"`
	CandleInterval string `mapstructure:"candle_interval"`
	CandleLimit    int    `mapstructure:"candle_limit"`
}

// SentimentConfig points at the fear & greed index API.
type SentimentConfig struct {
	BaseURL        string        `mapstructure:"base_url"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
}

// GasConfig covers on-chain gas price access.
type GasConfig struct {
	RPCURL         string        `mapstructure:"rpc_url"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
}

// SwapConfig captures CoW Protocol settlement connectivity.
type SwapConfig struct {
	BaseURL        string            `mapstructure:"base_url"`
	QuoteToken     string            `mapstructure:"quote_token"`
	Tokens         map[string]string `mapstructure:"tokens"`
	SettleTimeout  time.Duration     `mapstructure:"settle_timeout"`
	PollInterval   time.Duration     `mapstructure:"poll_interval"`
	ValidFor       time.Duration     `mapstructure:"valid_for"`
	RequestTimeout time.Duration     `mapstructure:"request_timeout"`
	UserAgent      string            `mapstructure:"user_agent"`
}

// AlertingConfig defines execution notification routing.
type AlertingConfig struct {
	Enabled  bool           `mapstructure:"enabled"`
	Telegram TelegramConfig `mapstructure:"telegram"`
}

// TelegramConfig 描述 Telegram 通知参数。
type TelegramConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	BotToken string `mapstructure:"bot_token"`
	ChatID   string `mapstructure:"chat_id"`
	APIBase  string `mapstructure:"api_base"`
}

// Load builds configuration from file, environment, and defaults.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("SWAPTRIGGERS")
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
	v.SetDefault("app.name", "swaptriggers")
	v.SetDefault("app.environment", "development")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	v.SetDefault("scheduler.interval", "30s")
	v.SetDefault("scheduler.align_to_tick", false)
	v.SetDefault("scheduler.startup_delay", "0s")
	v.SetDefault("scheduler.trigger_delay", "2s")
	v.SetDefault("scheduler.parallelism", 1)
	v.SetDefault("scheduler.advisory_lock_key", int64(0x73777472))

	v.SetDefault("metrics.price_ttl", "15s")
	v.SetDefault("metrics.gas_ttl", "15s")
	v.SetDefault("metrics.indicator_ttl", "1m")
	v.SetDefault("metrics.volume_ttl", "1m")
	v.SetDefault("metrics.sentiment_ttl", "30m")
	v.SetDefault("metrics.market.base_url", "https://api.binance.com")
	v.SetDefault("metrics.market.quote_symbol", "USDT")
	v.SetDefault("metrics.market.request_timeout", "10s")
	v.SetDefault("metrics.market.user_agent", "swaptriggers/1.0")
	v.SetDefault("metrics.indicator.period", 14)
	v.SetDefault("metrics.indicator.candle_interval", "1h")
	v.SetDefault("metrics.indicator.candle_limit", 100)
	v.SetDefault("metrics.sentiment.base_url", "https://api.alternative.me")
	v.SetDefault("metrics.sentiment.request_timeout", "10s")
	v.SetDefault("metrics.gas.request_timeout", "10s")

	v.SetDefault("swap.base_url", "https://api.cow.fi/mainnet/api/v1")
	v.SetDefault("swap.settle_timeout", "45s")
	v.SetDefault("swap.poll_interval", "3s")
	v.SetDefault("swap.valid_for", "5m")
	v.SetDefault("swap.request_timeout", "10s")
	v.SetDefault("swap.user_agent", "swaptriggers/1.0")

	v.SetDefault("alerting.enabled", false)
	v.SetDefault("alerting.telegram.enabled", false)
	v.SetDefault("alerting.telegram.api_base", "https://api.telegram.org")

	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", "30m")
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
	if c.Scheduler.Interval <= 0 {
		return fmt.Errorf("scheduler.interval must be greater than zero")
	}
	if c.Scheduler.TriggerDelay < 0 {
		return fmt.Errorf("scheduler.trigger_delay cannot be negative")
	}
	if c.Scheduler.Parallelism < 1 {
		return fmt.Errorf("scheduler.parallelism must be at least 1")
	}
	if c.Swap.SettleTimeout <= 0 {
		return fmt.Errorf("swap.settle_timeout must be greater than zero")
	}
	for _, ttl := range []time.Duration{c.Metrics.PriceTTL, c.Metrics.GasTTL, c.Metrics.IndicatorTTL, c.Metrics.VolumeTTL, c.Metrics.SentimentTTL} {
		if ttl <= 0 {
			return fmt.Errorf("metric ttls must be greater than zero")
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

// MetricTTLs assembles the cache freshness windows.
func (c *Config) MetricTTLs() metrics.TTLs {
	return metrics.TTLs{
		metrics.MetricPrice:     c.Metrics.PriceTTL,
		metrics.MetricGas:       c.Metrics.GasTTL,
		metrics.MetricRSI:       c.Metrics.IndicatorTTL,
		metrics.MetricMA:        c.Metrics.IndicatorTTL,
		metrics.MetricVolume:    c.Metrics.VolumeTTL,
		metrics.MetricSentiment: c.Metrics.SentimentTTL,
	}
}
