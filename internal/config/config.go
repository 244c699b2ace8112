// Package config loads process configuration from an optional config file,
// a .env file and environment variables, and builds the resources the
// exchange runs on.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/zappabad/tickreplay/internal/date"
	"github.com/zappabad/tickreplay/internal/exchange"
)

// Store drivers.
const (
	DriverJSON  = "json"
	DriverRedis = "redis"
)

// Config holds all configuration for the application.
type Config struct {
	App      AppConfig      `mapstructure:"app"`
	Log      LogConfig      `mapstructure:"log"`
	Store    StoreConfig    `mapstructure:"store"`
	Postgres PostgresConfig `mapstructure:"postgres"`
	Kafka    KafkaConfig    `mapstructure:"kafka"`
	Exchange ExchangeConfig `mapstructure:"exchange"`
}

type AppConfig struct {
	Addr       string `mapstructure:"addr"`
	Env        string `mapstructure:"env"` // "local" or "prod"
	AuthToken  string `mapstructure:"auth_token"`
	CORSOrigin string `mapstructure:"cors_origin"`
	Currency   string `mapstructure:"currency"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"` // "json" or "console"
}

type StoreConfig struct {
	Driver        string `mapstructure:"driver"`
	Dir           string `mapstructure:"dir"`
	RedisAddr     string `mapstructure:"redis_addr"`
	RedisPassword string `mapstructure:"redis_password"`
	RedisDB       int    `mapstructure:"redis_db"`
	RedisPrefix   string `mapstructure:"redis_prefix"`
}

// PostgresConfig enables the order archive when URL is set.
type PostgresConfig struct {
	URL string `mapstructure:"url"`
}

type KafkaConfig struct {
	Enabled bool     `mapstructure:"enabled"`
	Brokers []string `mapstructure:"brokers"`
	Topic   string   `mapstructure:"topic"`
}

type ExchangeConfig struct {
	TickInterval     time.Duration `mapstructure:"tick_interval"`
	StartDate        string        `mapstructure:"start_date"`
	SubscriberBuffer int           `mapstructure:"subscriber_buffer"`
	PersistTimeout   time.Duration `mapstructure:"persist_timeout"`
	RetryBase        time.Duration `mapstructure:"retry_base"`
	RetryMax         time.Duration `mapstructure:"retry_max"`
	ResumeOnBoot     bool          `mapstructure:"resume_on_boot"`
}

// Load reads configuration from path (optional), a .env file, environment
// variables and defaults, in increasing order of precedence below env.
func Load(path string) (*Config, error) {
	v := viper.New()

	// A missing .env is normal outside local development.
	_ = godotenv.Load()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	// "app.addr" -> APP_ADDR
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	bindEnv(v, "app.addr", "app.env", "app.auth_token", "app.cors_origin", "app.currency")
	bindEnv(v, "log.level", "log.format")
	bindEnv(v, "store.driver", "store.dir", "store.redis_addr", "store.redis_password", "store.redis_db", "store.redis_prefix")
	bindEnv(v, "postgres.url")
	bindEnv(v, "kafka.enabled", "kafka.brokers", "kafka.topic")
	bindEnv(v, "exchange.tick_interval", "exchange.start_date", "exchange.subscriber_buffer",
		"exchange.persist_timeout", "exchange.retry_base", "exchange.retry_max", "exchange.resume_on_boot")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unable to decode config into struct: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.addr", ":8080")
	v.SetDefault("app.env", "local")
	v.SetDefault("app.auth_token", "")
	v.SetDefault("app.cors_origin", "*")
	v.SetDefault("app.currency", "USD")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")

	v.SetDefault("store.driver", DriverJSON)
	v.SetDefault("store.dir", "data")
	v.SetDefault("store.redis_addr", "localhost:6379")
	v.SetDefault("store.redis_password", "")
	v.SetDefault("store.redis_db", 0)
	v.SetDefault("store.redis_prefix", "tickreplay")

	v.SetDefault("postgres.url", "")

	v.SetDefault("kafka.enabled", false)
	v.SetDefault("kafka.brokers", []string{"localhost:9092"})
	v.SetDefault("kafka.topic", "tickreplay_audit")

	v.SetDefault("exchange.tick_interval", time.Second)
	v.SetDefault("exchange.start_date", "")
	v.SetDefault("exchange.subscriber_buffer", 16)
	v.SetDefault("exchange.persist_timeout", 2*time.Second)
	v.SetDefault("exchange.retry_base", 100*time.Millisecond)
	v.SetDefault("exchange.retry_max", 30*time.Second)
	v.SetDefault("exchange.resume_on_boot", true)
}

// bindEnv is a helper to bind multiple keys at once
func bindEnv(v *viper.Viper, keys ...string) {
	for _, key := range keys {
		_ = v.BindEnv(key)
	}
}

// Validate checks values that have no usable fallback.
func (c *Config) Validate() error {
	var errs []error
	switch c.Store.Driver {
	case DriverJSON:
		if c.Store.Dir == "" {
			errs = append(errs, errors.New("store.dir is required for the json driver"))
		}
	case DriverRedis:
		if c.Store.RedisAddr == "" {
			errs = append(errs, errors.New("store.redis_addr is required for the redis driver"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown store.driver %q", c.Store.Driver))
	}
	if c.Kafka.Enabled && (len(c.Kafka.Brokers) == 0 || c.Kafka.Topic == "") {
		errs = append(errs, errors.New("kafka brokers and topic cannot be empty"))
	}
	if c.Exchange.TickInterval <= 0 {
		errs = append(errs, fmt.Errorf("exchange.tick_interval must be positive, got %s", c.Exchange.TickInterval))
	}
	if _, err := date.Parse(c.Exchange.StartDate); c.Exchange.StartDate != "" && err != nil {
		errs = append(errs, fmt.Errorf("exchange.start_date: %w", err))
	}
	if c.App.Currency == "" {
		errs = append(errs, errors.New("app.currency cannot be empty"))
	}
	return errors.Join(errs...)
}

// ExchangeConfig maps the exchange section onto exchange.Config.
func (c *Config) ExchangeConfig() exchange.Config {
	ec := exchange.DefaultConfig()
	ec.ClockConfig.TickInterval = c.Exchange.TickInterval
	if c.Exchange.StartDate != "" {
		ec.ClockConfig.StartDate, _ = date.Parse(c.Exchange.StartDate)
	}
	ec.MarketConfig.SubscriberBuffer = c.Exchange.SubscriberBuffer
	ec.PersistConfig.WriteTimeout = c.Exchange.PersistTimeout
	ec.PersistConfig.RetryBase = c.Exchange.RetryBase
	ec.PersistConfig.RetryMax = c.Exchange.RetryMax
	ec.ResumeOnBoot = c.Exchange.ResumeOnBoot
	ec.Currency = c.App.Currency
	return ec
}
