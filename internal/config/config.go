package config

import (
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"

	"github.com/jkristofgh/TradeAssist-sub001/internal/alertlog"
	"github.com/jkristofgh/TradeAssist-sub001/internal/dispatch"
	"github.com/jkristofgh/TradeAssist-sub001/internal/engine"
	"github.com/jkristofgh/TradeAssist-sub001/internal/logging"
	"github.com/jkristofgh/TradeAssist-sub001/internal/rules"
	"github.com/jkristofgh/TradeAssist-sub001/internal/storage"
	"github.com/jkristofgh/TradeAssist-sub001/internal/wsfeed"
)

// Config materialises application configuration.
type Config struct {
	App          AppConfig       `mapstructure:"app"`
	Logging      logging.Config  `mapstructure:"logging"`
	Database     storage.Config  `mapstructure:"database"`
	Feed         FeedConfig      `mapstructure:"feed"`
	Engine       engine.Config   `mapstructure:"engine"`
	Dispatcher   dispatch.Config `mapstructure:"dispatcher"`
	AlertLog     alertlog.Config `mapstructure:"alert_log"`
	Channels     ChannelsConfig  `mapstructure:"channels"`
	Subscription wsfeed.Config   `mapstructure:"subscription"`
	Rules        []rules.Rule    `mapstructure:"rules"`
	Export       ExportConfig    `mapstructure:"export"`
}

// AppConfig general metadata.
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Environment string `mapstructure:"environment"`
}

// FeedConfig selects and tunes the tick source.
type FeedConfig struct {
	Kind             string        `mapstructure:"kind"`
	URL              string        `mapstructure:"url"`
	HandshakeTimeout time.Duration `mapstructure:"handshake_timeout"`
	Subscribe        string        `mapstructure:"subscribe"`

	// Synthetic source tuning.
	Symbols    []string      `mapstructure:"symbols"`
	Interval   time.Duration `mapstructure:"interval"`
	StartPrice float64       `mapstructure:"start_price"`
	StepPct    float64       `mapstructure:"step_pct"`
	BaseVolume float64       `mapstructure:"base_volume"`
}

// ChannelsConfig selects the notification channels.
type ChannelsConfig struct {
	Broadcast BroadcastConfig `mapstructure:"broadcast"`
	Sound     SoundConfig     `mapstructure:"sound"`
	Telegram  TelegramConfig  `mapstructure:"telegram"`
	Webhooks  []WebhookConfig `mapstructure:"webhooks"`
}

// BroadcastConfig toggles the in-process broadcast channel.
type BroadcastConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

// SoundConfig tunes the audible cue.
type SoundConfig struct {
	Enabled bool `mapstructure:"enabled"`
	Repeat  int  `mapstructure:"repeat"`
}

// TelegramConfig describes the Telegram chat channel.
type TelegramConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	BotToken string        `mapstructure:"bot_token"`
	ChatID   string        `mapstructure:"chat_id"`
	APIBase  string        `mapstructure:"api_base"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

// WebhookConfig describes one generic webhook channel.
type WebhookConfig struct {
	Name          string        `mapstructure:"name"`
	URL           string        `mapstructure:"url"`
	Timeout       time.Duration `mapstructure:"timeout"`
	RatePerSecond float64       `mapstructure:"rate_per_second"`
	Burst         int           `mapstructure:"burst"`
}

// ExportConfig sets CLI export behaviour.
type ExportConfig struct {
	MaxDataPoints int `mapstructure:"max_data_points"`
}

// Load builds configuration from file, environment, and defaults.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("TRADEASSIST")
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
	v.SetDefault("app.name", "tradeassist")
	v.SetDefault("app.environment", "development")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	v.SetDefault("feed.kind", "synthetic")
	v.SetDefault("feed.handshake_timeout", "10s")
	v.SetDefault("feed.symbols", []string{"ES", "NQ"})
	v.SetDefault("feed.interval", "250ms")
	v.SetDefault("feed.start_price", 4500.0)
	v.SetDefault("feed.step_pct", 0.2)
	v.SetDefault("feed.base_volume", 1000.0)

	v.SetDefault("engine.partitions", 4)
	v.SetDefault("engine.queue_size", 256)

	v.SetDefault("dispatcher.queue_size", 128)
	v.SetDefault("dispatcher.workers", 2)
	v.SetDefault("dispatcher.max_attempts", 3)
	v.SetDefault("dispatcher.retry_backoff", "500ms")
	v.SetDefault("dispatcher.send_timeout", "5s")
	v.SetDefault("dispatcher.drain_timeout", "5s")
	v.SetDefault("dispatcher.breaker.failure_threshold", 3)
	v.SetDefault("dispatcher.breaker.recovery_timeout", "30s")

	v.SetDefault("alert_log.buffer_size", 1024)

	v.SetDefault("channels.broadcast.enabled", true)
	v.SetDefault("channels.sound.enabled", false)
	v.SetDefault("channels.sound.repeat", 1)
	v.SetDefault("channels.telegram.enabled", false)
	v.SetDefault("channels.telegram.api_base", "https://api.telegram.org")
	v.SetDefault("channels.telegram.timeout", "10s")

	v.SetDefault("subscription.enabled", false)
	v.SetDefault("subscription.addr", ":8787")

	v.SetDefault("export.max_data_points", 100000)

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
			decimalHookFunc(),
		)
	}
}

// decimalHookFunc decodes decimal.Decimal fields from string or numeric
// config values.
func decimalHookFunc() mapstructure.DecodeHookFuncType {
	decimalType := reflect.TypeOf(decimal.Decimal{})
	return func(_ reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if to != decimalType {
			return data, nil
		}
		switch value := data.(type) {
		case string:
			return decimal.NewFromString(value)
		case float64:
			return decimal.NewFromFloat(value), nil
		case int:
			return decimal.NewFromInt(int64(value)), nil
		case int64:
			return decimal.NewFromInt(value), nil
		default:
			return data, nil
		}
	}
}

// Validate performs basic sanity checks on the configuration values.
func (c *Config) Validate() error {
	switch c.Feed.Kind {
	case "synthetic":
	case "websocket":
		if c.Feed.URL == "" {
			return fmt.Errorf("feed.url is required for the websocket feed")
		}
	default:
		return fmt.Errorf("feed.kind must be synthetic or websocket, got %q", c.Feed.Kind)
	}

	if c.Export.MaxDataPoints <= 0 {
		return fmt.Errorf("export.max_data_points must be greater than zero")
	}
	if c.Dispatcher.MaxAttempts < 1 {
		return fmt.Errorf("dispatcher.max_attempts must be at least one")
	}
	if c.Channels.Telegram.Enabled {
		if c.Channels.Telegram.BotToken == "" {
			return fmt.Errorf("channels.telegram.bot_token is required when telegram is enabled")
		}
		if c.Channels.Telegram.ChatID == "" {
			return fmt.Errorf("channels.telegram.chat_id is required when telegram is enabled")
		}
	}
	for i, hook := range c.Channels.Webhooks {
		if hook.URL == "" {
			return fmt.Errorf("channels.webhooks[%d].url is required", i)
		}
	}
	// Rule parameter validation happens on load into the rule store, where
	// invalid rules are flagged rather than rejected wholesale.
	return nil
}

// ResolveMaxPoints returns either the CLI override or config default.
func (c *Config) ResolveMaxPoints(override int) int {
	if override > 0 {
		return override
	}
	return c.Export.MaxDataPoints
}
