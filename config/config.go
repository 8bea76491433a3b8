/*
config.go - Server configuration

PURPOSE:

	Loads settings from an optional YAML file and INVOICE_* environment
	variables, fills defaults for every key and validates the result.

PRIORITY (highest first):
 1. Environment, e.g. INVOICE_DATABASE_DSN, INVOICE_BILLING_TIMEZONE
 2. The config file passed to Load (or ./config.yaml when found)
 3. Defaults below

SEE ALSO:
  - invoice/generator.go: invoice.Config, built by Billing.Engine
  - cmd/server/main.go: flag overrides
*/
package config

import (
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"

	"github.com/warp/invoice-engine/invoice"
	"github.com/warp/invoice-engine/logger"
)

type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Log       LogConfig       `mapstructure:"log"`
	Billing   BillingConfig   `mapstructure:"billing"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Cache     CacheConfig     `mapstructure:"cache"`
	Events    EventsConfig    `mapstructure:"events"`
}

type ServerConfig struct {
	Port         int           `mapstructure:"port" validate:"min=1,max=65535"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout" validate:"gt=0"`
	WriteTimeout time.Duration `mapstructure:"write_timeout" validate:"gt=0"`
	CORSOrigins  []string      `mapstructure:"cors_origins"`
}

type DatabaseConfig struct {
	// Driver is "memory", "sqlite3" or "postgres".
	Driver string `mapstructure:"driver" validate:"oneof=memory sqlite3 postgres"`
	DSN    string `mapstructure:"dsn" validate:"required_unless=Driver memory"`
}

type LogConfig struct {
	Level  string `mapstructure:"level" validate:"omitempty,oneof=debug info warn warning error"`
	Format string `mapstructure:"format" validate:"omitempty,oneof=json console"`
	Output string `mapstructure:"output"`
}

type BillingConfig struct {
	DefaultTaxRate          string `mapstructure:"default_tax_rate" validate:"required,numeric"`
	DefaultPaymentTermsDays int    `mapstructure:"default_payment_terms_days" validate:"min=0,max=365"`
	StrictRates             bool   `mapstructure:"strict_rates"`
	GenerationConcurrency   int    `mapstructure:"generation_concurrency" validate:"min=1,max=64"`
	Timezone                string `mapstructure:"timezone" validate:"required"`
}

type SchedulerConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Interval time.Duration `mapstructure:"interval" validate:"required_if=Enabled true"`
	// RunDay is the day of month on which the previous month is generated.
	RunDay int `mapstructure:"run_day" validate:"min=1,max=28"`
}

type CacheConfig struct {
	CustomerTTL time.Duration `mapstructure:"customer_ttl"`
}

type EventsConfig struct {
	Topic string `mapstructure:"topic" validate:"required"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", 15*time.Second)
	v.SetDefault("server.write_timeout", 30*time.Second)
	v.SetDefault("server.cors_origins", []string{"*"})

	v.SetDefault("database.driver", "sqlite3")
	v.SetDefault("database.dsn", "invoices.db")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")
	v.SetDefault("log.output", "stdout")

	v.SetDefault("billing.default_tax_rate", "19")
	v.SetDefault("billing.default_payment_terms_days", 14)
	v.SetDefault("billing.strict_rates", false)
	v.SetDefault("billing.generation_concurrency", 4)
	v.SetDefault("billing.timezone", "UTC")

	v.SetDefault("scheduler.enabled", false)
	v.SetDefault("scheduler.interval", time.Hour)
	v.SetDefault("scheduler.run_day", 1)

	v.SetDefault("cache.customer_ttl", 5*time.Minute)

	v.SetDefault("events.topic", "invoice.events")
}

// Load reads configuration. An empty path searches ./config.yaml and
// ./config/config.yaml and tolerates their absence; an explicit path must exist.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("INVOICE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, errors.Wrapf(err, "read config %s", path)
		}
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, errors.Wrap(err, "read config")
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, errors.Wrap(err, "decode config")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks struct tags and that the timezone and tax rate parse.
func (c Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return errors.Wrap(err, "invalid config")
	}
	if _, err := time.LoadLocation(c.Billing.Timezone); err != nil {
		return errors.Wrapf(err, "invalid config: billing.timezone %q", c.Billing.Timezone)
	}
	rate, err := decimal.NewFromString(c.Billing.DefaultTaxRate)
	if err != nil {
		return errors.Wrapf(err, "invalid config: billing.default_tax_rate %q", c.Billing.DefaultTaxRate)
	}
	if rate.IsNegative() || rate.GreaterThan(decimal.NewFromInt(100)) {
		return errors.Newf("invalid config: billing.default_tax_rate %s out of range 0..100", rate)
	}
	return nil
}

// Engine converts the billing section into generator settings. Call after
// Validate.
func (b BillingConfig) Engine() (invoice.Config, error) {
	loc, err := time.LoadLocation(b.Timezone)
	if err != nil {
		return invoice.Config{}, errors.Wrapf(err, "load timezone %q", b.Timezone)
	}
	rate, err := decimal.NewFromString(b.DefaultTaxRate)
	if err != nil {
		return invoice.Config{}, errors.Wrapf(err, "parse tax rate %q", b.DefaultTaxRate)
	}
	cfg := invoice.DefaultConfig()
	cfg.DefaultTaxRate = rate
	cfg.DefaultPaymentTermsDays = b.DefaultPaymentTermsDays
	cfg.StrictRates = b.StrictRates
	cfg.Concurrency = b.GenerationConcurrency
	cfg.Location = loc
	return cfg, nil
}

// Logger maps the log section onto the logger package.
func (l LogConfig) Logger() logger.Config {
	return logger.Config{Level: l.Level, Format: l.Format, Output: l.Output}
}
