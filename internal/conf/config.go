// Package conf loads alert engine settings from YAML files and
// ALERTENGINE_* environment variables.
package conf

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/sensorhub/alert-engine/internal/errors"
)

// EnvPrefix is the prefix for environment variable overrides,
// e.g. ALERTENGINE_ENGINE_INTERVAL=15s.
const EnvPrefix = "ALERTENGINE"

// Settings is the root configuration.
type Settings struct {
	Log          LogSettings          `mapstructure:"log" yaml:"log"`
	Database     DatabaseSettings     `mapstructure:"database" yaml:"database"`
	Engine       EngineSettings       `mapstructure:"engine" yaml:"engine"`
	Telemetry    TelemetrySettings    `mapstructure:"telemetry" yaml:"telemetry"`
	Notification NotificationSettings `mapstructure:"notification" yaml:"notification"`
	API          APISettings          `mapstructure:"api" yaml:"api"`
	Sentry       SentrySettings       `mapstructure:"sentry" yaml:"sentry"`
}

type LogSettings struct {
	Level  string `mapstructure:"level" yaml:"level"`
	Format string `mapstructure:"format" yaml:"format"` // json or console
}

type DatabaseSettings struct {
	Driver      string `mapstructure:"driver" yaml:"driver"` // sqlite or mysql
	DSN         string `mapstructure:"dsn" yaml:"dsn"`
	AutoMigrate bool   `mapstructure:"auto_migrate" yaml:"auto_migrate"`
}

// EngineSettings controls the evaluation loop.
type EngineSettings struct {
	Interval          Duration `mapstructure:"interval" yaml:"interval"`
	ErrorBackoff      Duration `mapstructure:"error_backoff" yaml:"error_backoff"`
	FetchTimeout      Duration `mapstructure:"fetch_timeout" yaml:"fetch_timeout"`
	StoreTimeout      Duration `mapstructure:"store_timeout" yaml:"store_timeout"`
	TenantConcurrency int      `mapstructure:"tenant_concurrency" yaml:"tenant_concurrency"`
	DirectoryCacheTTL Duration `mapstructure:"directory_cache_ttl" yaml:"directory_cache_ttl"`
}

type TelemetrySettings struct {
	BaseURL string   `mapstructure:"base_url" yaml:"base_url"`
	APIKey  string   `mapstructure:"api_key" yaml:"api_key"`
	Timeout Duration `mapstructure:"timeout" yaml:"timeout"`
}

type NotificationSettings struct {
	SendTimeout        Duration        `mapstructure:"send_timeout" yaml:"send_timeout"`
	RateLimitPerSecond float64         `mapstructure:"rate_limit_per_second" yaml:"rate_limit_per_second"` // 0 disables
	RateBurst          int             `mapstructure:"rate_burst" yaml:"rate_burst"`
	Email              EmailSettings   `mapstructure:"email" yaml:"email"`
	SMS                SMSSettings     `mapstructure:"sms" yaml:"sms"`
	Webhook            WebhookSettings `mapstructure:"webhook" yaml:"webhook"`
	InApp              InAppSettings   `mapstructure:"inapp" yaml:"inapp"`
}

type EmailSettings struct {
	Enabled  bool   `mapstructure:"enabled" yaml:"enabled"`
	Host     string `mapstructure:"host" yaml:"host"`
	Port     int    `mapstructure:"port" yaml:"port"`
	Username string `mapstructure:"username" yaml:"username"`
	Password string `mapstructure:"password" yaml:"password"`
	From     string `mapstructure:"from" yaml:"from"`
}

type SMSSettings struct {
	Enabled    bool   `mapstructure:"enabled" yaml:"enabled"`
	GatewayURL string `mapstructure:"gateway_url" yaml:"gateway_url"`
	APIKey     string `mapstructure:"api_key" yaml:"api_key"`
	Sender     string `mapstructure:"sender" yaml:"sender"`
}

type WebhookSettings struct {
	Enabled bool              `mapstructure:"enabled" yaml:"enabled"`
	Headers map[string]string `mapstructure:"headers" yaml:"headers"`
}

type InAppSettings struct {
	Enabled     bool   `mapstructure:"enabled" yaml:"enabled"`
	Broker      string `mapstructure:"broker" yaml:"broker"`
	ClientID    string `mapstructure:"client_id" yaml:"client_id"`
	Username    string `mapstructure:"username" yaml:"username"`
	Password    string `mapstructure:"password" yaml:"password"`
	TopicPrefix string `mapstructure:"topic_prefix" yaml:"topic_prefix"`
	QoS         byte   `mapstructure:"qos" yaml:"qos"`
}

type APISettings struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
	Listen  string `mapstructure:"listen" yaml:"listen"`
}

type SentrySettings struct {
	DSN         string `mapstructure:"dsn" yaml:"dsn"`
	Environment string `mapstructure:"environment" yaml:"environment"`
}

// setDefaults registers the built-in defaults. The loop interval and error
// backoff follow the platform's historical 30s/10s cadence.
func setDefaults(v *viper.Viper) {
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.dsn", "alert-engine.db")
	v.SetDefault("database.auto_migrate", true)

	v.SetDefault("engine.interval", "30s")
	v.SetDefault("engine.error_backoff", "10s")
	v.SetDefault("engine.fetch_timeout", "5s")
	v.SetDefault("engine.store_timeout", "5s")
	v.SetDefault("engine.tenant_concurrency", 1)
	v.SetDefault("engine.directory_cache_ttl", "1m")

	v.SetDefault("telemetry.base_url", "http://localhost:8086")
	v.SetDefault("telemetry.timeout", "5s")

	v.SetDefault("notification.send_timeout", "15s")
	v.SetDefault("notification.rate_limit_per_second", 0)
	v.SetDefault("notification.rate_burst", 10)
	v.SetDefault("notification.email.port", 587)
	v.SetDefault("notification.webhook.enabled", true)
	v.SetDefault("notification.inapp.client_id", "alert-engine")
	v.SetDefault("notification.inapp.topic_prefix", "sensorhub")
	v.SetDefault("notification.inapp.qos", 1)

	v.SetDefault("api.enabled", true)
	v.SetDefault("api.listen", ":8080")
}

// Load reads settings from the optional YAML file at path, then applies
// environment overrides.
func Load(path string) (*Settings, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, errors.Wrap(fmt.Errorf("failed to read config %s: %w", path, err)).
				Component("conf").
				Category(errors.CategoryConfiguration).
				Build()
		}
	}

	settings := &Settings{}
	if err := v.Unmarshal(settings, viper.DecodeHook(DurationDecodeHook())); err != nil {
		return nil, errors.Wrap(fmt.Errorf("failed to decode config: %w", err)).
			Component("conf").
			Category(errors.CategoryConfiguration).
			Build()
	}

	if err := settings.Validate(); err != nil {
		return nil, err
	}
	return settings, nil
}

// Validate checks the settings for values the engine cannot run with.
func (s *Settings) Validate() error {
	var errs []error

	switch s.Database.Driver {
	case "sqlite", "mysql":
	default:
		errs = append(errs, fmt.Errorf("database.driver must be sqlite or mysql, got %q", s.Database.Driver))
	}
	if s.Database.DSN == "" {
		errs = append(errs, errors.New("database.dsn is required"))
	}
	if s.Engine.Interval.Std() < time.Second {
		errs = append(errs, fmt.Errorf("engine.interval must be at least 1s, got %s", s.Engine.Interval))
	}
	if s.Engine.ErrorBackoff.Std() <= 0 {
		errs = append(errs, errors.New("engine.error_backoff must be positive"))
	}
	if s.Engine.TenantConcurrency < 1 {
		errs = append(errs, errors.New("engine.tenant_concurrency must be at least 1"))
	}
	if s.Telemetry.BaseURL == "" {
		errs = append(errs, errors.New("telemetry.base_url is required"))
	}
	if s.Notification.Email.Enabled && (s.Notification.Email.Host == "" || s.Notification.Email.From == "") {
		errs = append(errs, errors.New("notification.email requires host and from"))
	}
	if s.Notification.SMS.Enabled && s.Notification.SMS.GatewayURL == "" {
		errs = append(errs, errors.New("notification.sms requires gateway_url"))
	}
	if s.Notification.InApp.Enabled && s.Notification.InApp.Broker == "" {
		errs = append(errs, errors.New("notification.inapp requires broker"))
	}
	if s.Notification.InApp.QoS > 2 {
		errs = append(errs, fmt.Errorf("notification.inapp.qos must be 0, 1 or 2, got %d", s.Notification.InApp.QoS))
	}

	if len(errs) == 0 {
		return nil
	}
	return errors.Wrap(errors.Join(errs...)).
		Component("conf").
		Category(errors.CategoryValidation).
		Build()
}
