package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/newthinker/arena/internal/broker"
	"github.com/newthinker/arena/internal/core"
	"github.com/newthinker/arena/internal/storage/archive"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes environment overrides, e.g. ARENA_SERVER_PORT.
const EnvPrefix = "ARENA"

type Config struct {
	Server     ServerConfig              `mapstructure:"server"`
	MarketData MarketDataConfig          `mapstructure:"marketdata"`
	Batch      BatchConfig               `mapstructure:"batch"`
	Live       LiveConfig                `mapstructure:"live"`
	Storage    StorageConfig             `mapstructure:"storage"`
	Broker     BrokerConfig              `mapstructure:"broker"`
	Archive    archive.Config            `mapstructure:"archive"`
	Notifiers  map[string]NotifierConfig `mapstructure:"notifiers"`
	Router     RouterConfig              `mapstructure:"router"`
	Metrics    MetricsConfig             `mapstructure:"metrics"`
}

type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	APIKey          string        `mapstructure:"api_key"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	JobTTL          time.Duration `mapstructure:"job_ttl"`
	MaxJobs         int           `mapstructure:"max_jobs"`
}

// Addr is the listen address.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

type MarketDataConfig struct {
	// Providers are tried in order; crypto pairs always go to binance.
	Providers    []string                 `mapstructure:"providers"`
	CacheTTL     time.Duration            `mapstructure:"cache_ttl"`
	FetchTimeout time.Duration            `mapstructure:"fetch_timeout"`
	Lookback     map[string]time.Duration `mapstructure:"lookback"`
	YahooURL     string                   `mapstructure:"yahoo_url"`
	BinanceURL   string                   `mapstructure:"binance_url"`
	FeedURL      string                   `mapstructure:"feed_url"`
}

type BatchConfig struct {
	Concurrency int      `mapstructure:"concurrency"`
	TradeAmount float64  `mapstructure:"trade_amount"`
	Interval    string   `mapstructure:"interval"`
	Watchlist   []string `mapstructure:"watchlist"`
	Archive     bool     `mapstructure:"archive"`
}

type LiveConfig struct {
	PollIntervals map[string]time.Duration `mapstructure:"poll_intervals"`
	DefaultMode   string                   `mapstructure:"default_mode"`
	TradeAmount   float64                  `mapstructure:"trade_amount"`
	TolerancePct  float64                  `mapstructure:"tolerance_pct"`
	LogPageSize   int                      `mapstructure:"log_page_size"`
	// OpenAsProvisionalWins counts profitable open positions as wins in
	// session metrics.
	OpenAsProvisionalWins bool `mapstructure:"open_as_provisional_wins"`
}

type StorageConfig struct {
	Driver string `mapstructure:"driver"` // "memory" or "sqlite"
	DSN    string `mapstructure:"dsn"`
}

// BrokerConfig holds broker integration settings.
type BrokerConfig struct {
	Enabled           bool              `mapstructure:"enabled"`
	Provider          string            `mapstructure:"provider"`
	InitialCash       float64           `mapstructure:"initial_cash"`
	QuantityPrecision int32             `mapstructure:"quantity_precision"`
	Risk              broker.RiskConfig `mapstructure:"risk"`
}

type NotifierConfig struct {
	Enabled bool `mapstructure:"enabled"`
	// Telegram notifier fields
	BotToken string `mapstructure:"bot_token"`
	ChatID   string `mapstructure:"chat_id"`
	APIURL   string `mapstructure:"api_url"`
	// Webhook notifier fields
	URL     string            `mapstructure:"url"`
	Headers map[string]string `mapstructure:"headers"`
	// Email notifier fields
	Host     string   `mapstructure:"host"`
	Port     int      `mapstructure:"port"`
	Username string   `mapstructure:"username"`
	Password string   `mapstructure:"password"`
	From     string   `mapstructure:"from"`
	To       []string `mapstructure:"to"`
}

// Params flattens the notifier fields for notifier.Config.
func (n NotifierConfig) Params() map[string]any {
	p := map[string]any{}
	set := func(k, v string) {
		if v != "" {
			p[k] = v
		}
	}
	set("bot_token", n.BotToken)
	set("chat_id", n.ChatID)
	set("api_url", n.APIURL)
	set("url", n.URL)
	set("host", n.Host)
	set("username", n.Username)
	set("password", n.Password)
	set("from", n.From)
	if n.Port > 0 {
		p["port"] = n.Port
	}
	if len(n.Headers) > 0 {
		p["headers"] = n.Headers
	}
	if len(n.To) > 0 {
		p["to"] = n.To
	}
	return p
}

type RouterConfig struct {
	Enabled      bool          `mapstructure:"enabled"`
	Levels       []string      `mapstructure:"levels"`
	PollInterval time.Duration `mapstructure:"poll_interval"`
}

// MetricsConfig holds metrics configuration.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

// Load reads configuration from path on top of Defaults. An empty path
// loads defaults plus environment overrides only.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v, Defaults())

	v.SetEnvPrefix(EnvPrefix)
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}

	// Expand ${VAR} references in string values
	for _, key := range v.AllKeys() {
		val, ok := v.Get(key).(string)
		if !ok {
			continue
		}
		if strings.HasPrefix(val, "${") && strings.HasSuffix(val, "}") {
			envKey := strings.TrimSuffix(strings.TrimPrefix(val, "${"), "}")
			v.Set(key, os.Getenv(envKey))
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	return &cfg, nil
}

// setDefaults registers every scalar default so AutomaticEnv can override
// keys that the file does not mention.
func setDefaults(v *viper.Viper, d *Config) {
	v.SetDefault("server.host", d.Server.Host)
	v.SetDefault("server.port", d.Server.Port)
	v.SetDefault("server.api_key", d.Server.APIKey)
	v.SetDefault("server.shutdown_timeout", d.Server.ShutdownTimeout)
	v.SetDefault("server.job_ttl", d.Server.JobTTL)
	v.SetDefault("server.max_jobs", d.Server.MaxJobs)

	v.SetDefault("marketdata.providers", d.MarketData.Providers)
	v.SetDefault("marketdata.cache_ttl", d.MarketData.CacheTTL)
	v.SetDefault("marketdata.fetch_timeout", d.MarketData.FetchTimeout)
	v.SetDefault("marketdata.yahoo_url", d.MarketData.YahooURL)
	v.SetDefault("marketdata.binance_url", d.MarketData.BinanceURL)
	v.SetDefault("marketdata.feed_url", d.MarketData.FeedURL)

	v.SetDefault("batch.concurrency", d.Batch.Concurrency)
	v.SetDefault("batch.trade_amount", d.Batch.TradeAmount)
	v.SetDefault("batch.interval", d.Batch.Interval)
	v.SetDefault("batch.archive", d.Batch.Archive)

	v.SetDefault("live.default_mode", d.Live.DefaultMode)
	v.SetDefault("live.trade_amount", d.Live.TradeAmount)
	v.SetDefault("live.tolerance_pct", d.Live.TolerancePct)
	v.SetDefault("live.log_page_size", d.Live.LogPageSize)
	v.SetDefault("live.open_as_provisional_wins", d.Live.OpenAsProvisionalWins)

	v.SetDefault("storage.driver", d.Storage.Driver)
	v.SetDefault("storage.dsn", d.Storage.DSN)

	v.SetDefault("broker.enabled", d.Broker.Enabled)
	v.SetDefault("broker.provider", d.Broker.Provider)
	v.SetDefault("broker.initial_cash", d.Broker.InitialCash)
	v.SetDefault("broker.quantity_precision", d.Broker.QuantityPrecision)
	v.SetDefault("broker.risk.max_position_pct", d.Broker.Risk.MaxPositionPct)
	v.SetDefault("broker.risk.max_daily_loss_pct", d.Broker.Risk.MaxDailyLossPct)
	v.SetDefault("broker.risk.max_open_positions", d.Broker.Risk.MaxOpenPositions)

	v.SetDefault("archive.type", d.Archive.Type)
	v.SetDefault("archive.path", d.Archive.Path)

	v.SetDefault("router.enabled", d.Router.Enabled)
	v.SetDefault("router.levels", d.Router.Levels)
	v.SetDefault("router.poll_interval", d.Router.PollInterval)

	v.SetDefault("metrics.enabled", d.Metrics.Enabled)
	v.SetDefault("metrics.path", d.Metrics.Path)
}

// Defaults returns a config with sensible defaults
func Defaults() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            8080,
			ShutdownTimeout: 15 * time.Second,
			JobTTL:          time.Hour,
			MaxJobs:         100,
		},
		MarketData: MarketDataConfig{
			Providers:    []string{"yahoo", "binance"},
			CacheTTL:     5 * time.Minute,
			FetchTimeout: 30 * time.Second,
		},
		Batch: BatchConfig{
			Concurrency: 4,
			TradeAmount: 1000,
			Interval:    "1d",
		},
		Live: LiveConfig{
			DefaultMode:  string(core.ModePoll),
			TradeAmount:  1000,
			TolerancePct: 1,
			LogPageSize:  500,
		},
		Storage: StorageConfig{
			Driver: "memory",
		},
		Broker: BrokerConfig{
			Provider:          "paper",
			InitialCash:       100000,
			QuantityPrecision: 4,
			Risk: broker.RiskConfig{
				MaxPositionPct:   10,
				MaxDailyLossPct:  5,
				MaxOpenPositions: 20,
			},
		},
		Router: RouterConfig{
			Levels:       []string{"OPEN", "CLOSE", "SL", "TP", "SIGNAL"},
			PollInterval: 5 * time.Second,
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Path:    "/metrics",
		},
	}
}

var knownIntervals = map[string]bool{"1m": true, "5m": true, "15m": true, "30m": true, "1h": true, "4h": true, "1d": true, "1w": true}

func invalid(format string, args ...any) error {
	return core.WrapError(core.ErrConfigInvalid, fmt.Errorf(format, args...))
}

func missing(format string, args ...any) error {
	return core.WrapError(core.ErrConfigMissing, fmt.Errorf(format, args...))
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return invalid("port must be between 1 and 65535, got %d", c.Server.Port)
	}

	for _, p := range c.MarketData.Providers {
		if p != "yahoo" && p != "binance" {
			return invalid("unknown market data provider %q", p)
		}
	}

	if c.Batch.Concurrency < 1 {
		return invalid("batch.concurrency must be at least 1, got %d", c.Batch.Concurrency)
	}
	if c.Batch.Interval != "" && !knownIntervals[c.Batch.Interval] {
		return invalid("batch.interval %q is not supported", c.Batch.Interval)
	}
	if c.Batch.Archive && c.Archive.Type == "" {
		return missing("batch.archive requires archive.type")
	}

	switch core.SessionMode(c.Live.DefaultMode) {
	case "", core.ModePoll, core.ModeStream:
	default:
		return invalid("live.default_mode must be poll or websocket, got %q", c.Live.DefaultMode)
	}
	if c.Live.DefaultMode == string(core.ModeStream) && c.MarketData.FeedURL == "" {
		return missing("marketdata.feed_url required for websocket mode")
	}
	if c.Live.TolerancePct < 0 {
		return invalid("live.tolerance_pct cannot be negative, got %f", c.Live.TolerancePct)
	}
	for iv, d := range c.Live.PollIntervals {
		if !knownIntervals[iv] || d <= 0 {
			return invalid("live.poll_intervals[%s] = %s is invalid", iv, d)
		}
	}

	switch c.Storage.Driver {
	case "memory":
	case "sqlite":
		if c.Storage.DSN == "" {
			return missing("storage.dsn required for sqlite driver")
		}
	default:
		return invalid("storage.driver must be memory or sqlite, got %q", c.Storage.Driver)
	}

	if c.Broker.Enabled {
		if c.Broker.Provider != "paper" {
			return invalid("broker.provider %q is not supported", c.Broker.Provider)
		}
		if c.Broker.InitialCash <= 0 {
			return invalid("broker.initial_cash must be positive")
		}
		if c.Broker.QuantityPrecision < 0 || c.Broker.QuantityPrecision > 8 {
			return invalid("broker.quantity_precision must be between 0 and 8")
		}
	}

	switch c.Archive.Type {
	case "":
	case "localfs":
		if c.Archive.Path == "" {
			return missing("archive.path required for localfs")
		}
	case "s3":
		if c.Archive.S3.Bucket == "" {
			return missing("archive.s3.bucket required for s3")
		}
	default:
		return invalid("archive.type must be localfs or s3, got %q", c.Archive.Type)
	}

	for name, n := range c.Notifiers {
		if !n.Enabled {
			continue
		}
		switch name {
		case "webhook":
			if n.URL == "" {
				return missing("notifiers.webhook.url required")
			}
		case "telegram":
			if n.BotToken == "" || n.ChatID == "" {
				return missing("notifiers.telegram requires bot_token and chat_id")
			}
		case "email":
			if n.Host == "" || n.From == "" || len(n.To) == 0 {
				return missing("notifiers.email requires host, from and to")
			}
		default:
			return invalid("unknown notifier %q", name)
		}
	}

	if c.Router.PollInterval < 0 {
		return invalid("router.poll_interval cannot be negative")
	}

	return nil
}
