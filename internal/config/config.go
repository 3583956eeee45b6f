// Package config loads the service configuration from an optional YAML
// file, a .env file and SIGNAL_* environment variables.
package config

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/atlas-desktop/signal-engine/internal/api"
	"github.com/atlas-desktop/signal-engine/internal/backtester"
	"github.com/atlas-desktop/signal-engine/internal/events"
	"github.com/atlas-desktop/signal-engine/internal/history"
	"github.com/atlas-desktop/signal-engine/internal/sentiment"
	"github.com/atlas-desktop/signal-engine/internal/signals"
	"github.com/atlas-desktop/signal-engine/internal/strategy"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "SIGNAL"

// Config is the complete service configuration.
type Config struct {
	Server     api.Config            `mapstructure:"server"`
	Engine     EngineConfig          `mapstructure:"engine"`
	Strategies strategy.Params       `mapstructure:"strategies"`
	Scoring    signals.ScoringConfig `mapstructure:"scoring"`
	Sentiment  SentimentConfig       `mapstructure:"sentiment"`
	Storage    StorageConfig         `mapstructure:"storage"`
	Kafka      events.KafkaConfig    `mapstructure:"kafka"`
	Events     events.BusConfig      `mapstructure:"events"`
	MarketData MarketDataConfig      `mapstructure:"market_data"`
	Log        LogConfig             `mapstructure:"log"`
}

// EngineConfig configures backtests and the worker pool that fans out
// comparisons and scans.
type EngineConfig struct {
	Backtest backtester.ServiceConfig `mapstructure:",squash"`
	Workers  int                      `mapstructure:"workers" validate:"min=1"`
}

// SentimentConfig selects and configures the news sentiment provider.
type SentimentConfig struct {
	Provider       string                  `mapstructure:"provider" validate:"oneof=none newsapi"`
	ResolveTimeout time.Duration           `mapstructure:"resolve_timeout"`
	NewsAPI        sentiment.NewsAPIConfig `mapstructure:",squash"`
}

// StorageConfig locates bar files and the signal history database.
type StorageConfig struct {
	DataDir string         `mapstructure:"data_dir" validate:"required"`
	History history.Config `mapstructure:"history"`
}

// MarketDataConfig configures bar downloads.
type MarketDataConfig struct {
	PolygonAPIKey  string   `mapstructure:"polygon_api_key"`
	DefaultTickers []string `mapstructure:"default_tickers"`
}

// LogConfig controls the logger.
type LogConfig struct {
	Level string `mapstructure:"level" validate:"oneof=debug info warn error"`
}

// Default returns the configuration used when nothing is overridden.
func Default() Config {
	return Config{
		Server: api.DefaultConfig(),
		Engine: EngineConfig{
			Backtest: backtester.DefaultServiceConfig(),
			Workers:  4,
		},
		Strategies: strategy.DefaultParams(),
		Scoring:    signals.DefaultScoringConfig(),
		Sentiment: SentimentConfig{
			Provider:       "newsapi",
			ResolveTimeout: sentiment.DefaultTimeout,
			NewsAPI:        sentiment.DefaultNewsAPIConfig(),
		},
		Storage: StorageConfig{
			DataDir: "./data",
			History: history.DefaultConfig(),
		},
		Kafka:  events.DefaultKafkaConfig(),
		Events: events.DefaultBusConfig(),
		MarketData: MarketDataConfig{
			DefaultTickers: []string{"AAPL", "GOOGL", "MSFT", "TSLA", "NVDA"},
		},
		Log: LogConfig{Level: "info"},
	}
}

// Load reads .env (if present), then the YAML file at path (if path is
// set, otherwise ./signal-engine.yaml when it exists), then SIGNAL_*
// environment variables, and validates the result.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	setDefaults(v, "", reflect.ValueOf(Default()))

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	// Unprefixed names kept for existing deployments.
	_ = v.BindEnv("sentiment.api_key", EnvPrefix+"_SENTIMENT_API_KEY", "NEWS_API_KEY")
	_ = v.BindEnv("market_data.polygon_api_key", EnvPrefix+"_MARKET_DATA_POLYGON_API_KEY", "POLYGON_API_KEY")
	_ = v.BindEnv("market_data.default_tickers", EnvPrefix+"_MARKET_DATA_DEFAULT_TICKERS", "DEFAULT_TICKERS")

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config %q: %w", path, err)
		}
	} else {
		v.SetConfigName("signal-engine")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("failed to read config: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

var validate = validator.New()

// Validate checks every section against its constraints.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if err := c.Strategies.Validate(); err != nil {
		return fmt.Errorf("invalid strategy parameters: %w", err)
	}
	return nil
}

// Addr is the listen address of the API server.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

var durationType = reflect.TypeOf(time.Duration(0))

// setDefaults registers every leaf of a struct under its mapstructure key
// so that AutomaticEnv can override nested keys.
func setDefaults(v *viper.Viper, prefix string, value reflect.Value) {
	t := value.Type()
	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		if !field.IsExported() {
			continue
		}
		name, opts, _ := strings.Cut(field.Tag.Get("mapstructure"), ",")
		key := prefix
		if opts != "squash" {
			if name == "" {
				name = strings.ToLower(field.Name)
			}
			key = joinKey(prefix, name)
		}

		fv := value.Field(i)
		if fv.Kind() == reflect.Struct && fv.Type() != durationType {
			setDefaults(v, key, fv)
			continue
		}
		v.SetDefault(key, fv.Interface())
	}
}

func joinKey(prefix, name string) string {
	if prefix == "" {
		return name
	}
	return prefix + "." + name
}
