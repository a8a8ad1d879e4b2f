package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"github.com/subosito/gotenv"
)

// EnvPrefix prefixes every environment variable read by Load.
const EnvPrefix = "STOCKWATCH"

// PollConfig holds poller task timing.
type PollConfig struct {
	Interval     time.Duration `mapstructure:"interval"`
	FetchTimeout time.Duration `mapstructure:"fetch_timeout"`
	StopTimeout  time.Duration `mapstructure:"stop_timeout"`
}

// WatchConfig holds watchlist watcher settings.
type WatchConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Debounce time.Duration `mapstructure:"debounce"`
}

// FetchConfig holds page scraping settings.
type FetchConfig struct {
	Selector    string        `mapstructure:"selector"`
	UserAgent   string        `mapstructure:"user_agent"`
	Timeout     time.Duration `mapstructure:"timeout"`
	RetryCount  int           `mapstructure:"retry_count"`
	RatePerHost float64       `mapstructure:"rate_per_host"`
	RateBurst   int           `mapstructure:"rate_burst"`

	// Used by "alphavantage:" locators
	AlphavantageAPIKey  string `mapstructure:"alphavantage_api_key"`
	AlphavantageBaseURL string `mapstructure:"alphavantage_base_url"`
}

// OutputConfig selects and configures the output store.
type OutputConfig struct {
	Format        string `mapstructure:"format"`
	Path          string `mapstructure:"path"`
	RedisAddr     string `mapstructure:"redis_addr"`
	RedisPassword string `mapstructure:"redis_password"`
	RedisDB       int    `mapstructure:"redis_db"`
	RedisKey      string `mapstructure:"redis_key"`
}

// LogConfig configures logging and the rotating log file.
type LogConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	File       string `mapstructure:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
	Compress   bool   `mapstructure:"compress"`
}

// MetricsConfig configures the Prometheus listener. An empty Addr disables it.
type MetricsConfig struct {
	Addr string `mapstructure:"addr"`
}

// Config holds all settings for the stockwatch process.
type Config struct {
	// Watchlist is the file listing symbols, their pages and active flags
	Watchlist       string        `mapstructure:"watchlist"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`

	Poll    PollConfig    `mapstructure:"poll"`
	Watch   WatchConfig   `mapstructure:"watch"`
	Fetch   FetchConfig   `mapstructure:"fetch"`
	Output  OutputConfig  `mapstructure:"output"`
	Log     LogConfig     `mapstructure:"log"`
	Metrics MetricsConfig `mapstructure:"metrics"`
}

// keys lists every setting so nested keys can be bound to env vars.
var keys = []string{
	"watchlist", "shutdown_timeout",
	"poll.interval", "poll.fetch_timeout", "poll.stop_timeout",
	"watch.enabled", "watch.debounce",
	"fetch.selector", "fetch.user_agent", "fetch.timeout", "fetch.retry_count", "fetch.rate_per_host", "fetch.rate_burst",
	"fetch.alphavantage_api_key", "fetch.alphavantage_base_url",
	"output.format", "output.path", "output.redis_addr", "output.redis_password", "output.redis_db", "output.redis_key",
	"log.level", "log.format", "log.file", "log.max_size_mb", "log.max_backups", "log.max_age_days", "log.compress",
	"metrics.addr",
}

// setDefaults registers the default value of every setting.
func setDefaults(v *viper.Viper) {
	v.SetDefault("watchlist", "assets/stocks.json")
	v.SetDefault("shutdown_timeout", 30*time.Second)

	v.SetDefault("poll.interval", 5*time.Minute)
	v.SetDefault("poll.fetch_timeout", 60*time.Second)
	v.SetDefault("poll.stop_timeout", 10*time.Second)

	v.SetDefault("watch.enabled", true)
	v.SetDefault("watch.debounce", 10*time.Second)

	v.SetDefault("fetch.selector", ".market-summary__last-price")
	v.SetDefault("fetch.user_agent", "")
	v.SetDefault("fetch.timeout", 30*time.Second)
	v.SetDefault("fetch.retry_count", 0)
	v.SetDefault("fetch.rate_per_host", 0)
	v.SetDefault("fetch.rate_burst", 1)
	v.SetDefault("fetch.alphavantage_api_key", "")
	v.SetDefault("fetch.alphavantage_base_url", "https://www.alphavantage.co/query")

	v.SetDefault("output.format", "json")
	v.SetDefault("output.path", "output/stock_prices_output.json")
	v.SetDefault("output.redis_addr", "localhost:6379")
	v.SetDefault("output.redis_password", "")
	v.SetDefault("output.redis_db", 0)
	v.SetDefault("output.redis_key", "stockwatch:prices")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
	v.SetDefault("log.file", "logs/stock_price_updater.log")
	v.SetDefault("log.max_size_mb", 5)
	v.SetDefault("log.max_backups", 5)
	v.SetDefault("log.max_age_days", 0)
	v.SetDefault("log.compress", false)

	v.SetDefault("metrics.addr", "")
}

// NewFlagSet returns the command-line flags understood by Load.
func NewFlagSet(name string) *pflag.FlagSet {
	flags := pflag.NewFlagSet(name, pflag.ContinueOnError)
	flags.StringP("config", "c", "", "settings file (default ./stockwatch.yaml or $HOME/.stockwatch/stockwatch.yaml)")
	flags.StringP("watchlist", "w", "", "watchlist file listing symbols and their pages")
	flags.StringP("output", "o", "", "output store path for the json and xlsx formats")
	flags.StringP("format", "f", "", "output store format: json, xlsx or redis")
	flags.Duration("interval", 0, "time between fetches of one symbol")
	flags.String("log-level", "", "log level: debug, info, warn, error")
	flags.String("metrics-addr", "", "serve Prometheus metrics on this address")
	return flags
}

// flagKeys maps flag names to setting keys.
var flagKeys = map[string]string{
	"watchlist":    "watchlist",
	"output":       "output.path",
	"format":       "output.format",
	"interval":     "poll.interval",
	"log-level":    "log.level",
	"metrics-addr": "metrics.addr",
}

// Load reads settings from, in increasing precedence: defaults, the settings
// file, a .env file, STOCKWATCH_* environment variables, and flags. flags
// may be nil.
//
// Environment variables use the setting key with dots replaced by
// underscores, for example:
//   - STOCKWATCH_WATCHLIST
//   - STOCKWATCH_POLL_INTERVAL
//   - STOCKWATCH_OUTPUT_FORMAT
//   - STOCKWATCH_OUTPUT_REDIS_ADDR
//   - STOCKWATCH_FETCH_ALPHAVANTAGE_API_KEY
func Load(flags *pflag.FlagSet) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	// .env values become real environment variables; a missing file is fine
	if err := gotenv.Load(); err == nil {
		slog.Debug("loaded environment from .env")
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for _, key := range keys {
		if err := v.BindEnv(key); err != nil {
			return nil, fmt.Errorf("failed to bind env for %s: %w", key, err)
		}
	}

	settingsFile := ""
	if flags != nil {
		for name, key := range flagKeys {
			if f := flags.Lookup(name); f != nil && f.Changed {
				if err := v.BindPFlag(key, f); err != nil {
					return nil, fmt.Errorf("failed to bind flag --%s: %w", name, err)
				}
			}
		}
		settingsFile, _ = flags.GetString("config")
	}

	if settingsFile != "" {
		v.SetConfigFile(settingsFile)
	} else {
		v.SetConfigName("stockwatch")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.stockwatch")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if settingsFile != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read settings file: %w", err)
		}
	}

	cfg := &Config{}
	err := v.Unmarshal(cfg, viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	)))
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks settings that would otherwise fail at runtime.
func (c *Config) Validate() error {
	var problems []string

	if strings.TrimSpace(c.Watchlist) == "" {
		problems = append(problems, "watchlist path is required")
	}
	if c.Poll.Interval <= 0 {
		problems = append(problems, "poll.interval must be positive")
	}
	if c.Poll.StopTimeout <= 0 {
		problems = append(problems, "poll.stop_timeout must be positive")
	}
	if c.Watch.Debounce < 0 {
		problems = append(problems, "watch.debounce must not be negative")
	}
	if c.Fetch.RetryCount < 0 {
		problems = append(problems, "fetch.retry_count must not be negative")
	}

	switch c.Output.Format {
	case "json", "xlsx":
		if c.Output.Path == "" {
			problems = append(problems, "output.path is required for format "+c.Output.Format)
		}
	case "redis":
		if c.Output.RedisAddr == "" {
			problems = append(problems, "output.redis_addr is required for format redis")
		}
	default:
		problems = append(problems, fmt.Sprintf("unknown output.format %q (want json, xlsx or redis)", c.Output.Format))
	}

	if len(problems) > 0 {
		return fmt.Errorf("invalid configuration: %s", strings.Join(problems, "; "))
	}
	return nil
}
