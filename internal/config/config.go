package config

import (
	"errors"
	"io/fs"
	"strings"

	"github.com/joho/godotenv"
	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store      StoreConfig      `yaml:"store" mapstructure:"store"`
	Source     SourceConfig     `yaml:"source" mapstructure:"source"`
	Resilience ResilienceConfig `yaml:"resilience" mapstructure:"resilience"`
	Sync       SyncConfig       `yaml:"sync" mapstructure:"sync"`
	Rules      RulesConfig      `yaml:"rules" mapstructure:"rules"`
	Routing    RoutingConfig    `yaml:"routing" mapstructure:"routing"`
	Weather    WeatherConfig    `yaml:"weather" mapstructure:"weather"`
	Notify     NotifyConfig     `yaml:"notify" mapstructure:"notify"`
	Monitoring MonitoringConfig `yaml:"monitoring" mapstructure:"monitoring"`
	Server     ServerConfig     `yaml:"server" mapstructure:"server"`
	Log        LogConfig        `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	MaxConns    int32  `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns    int32  `yaml:"min_conns" mapstructure:"min_conns"`
}

// SourceConfig holds the message provider API settings.
type SourceConfig struct {
	BaseURL     string      `yaml:"base_url" mapstructure:"base_url"`
	Token       string      `yaml:"token" mapstructure:"token"`
	TimeoutSecs int         `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	Retry       RetryConfig `yaml:"retry" mapstructure:"retry"`
}

// RetryConfig configures retries of transient source failures.
type RetryConfig struct {
	MaxAttempts      int     `yaml:"max_attempts" mapstructure:"max_attempts"`
	InitialBackoffMS int     `yaml:"initial_backoff_ms" mapstructure:"initial_backoff_ms"`
	MaxBackoffMS     int     `yaml:"max_backoff_ms" mapstructure:"max_backoff_ms"`
	Multiplier       float64 `yaml:"multiplier" mapstructure:"multiplier"`
}

// ResilienceConfig configures the per-account circuit breakers around the
// message source.
type ResilienceConfig struct {
	WindowSize            int     `yaml:"window_size" mapstructure:"window_size"`
	MinimumCalls          int     `yaml:"minimum_calls" mapstructure:"minimum_calls"`
	FailureRateThreshold  float64 `yaml:"failure_rate_threshold" mapstructure:"failure_rate_threshold"`
	SlowCallMS            int     `yaml:"slow_call_ms" mapstructure:"slow_call_ms"`
	SlowCallRateThreshold float64 `yaml:"slow_call_rate_threshold" mapstructure:"slow_call_rate_threshold"`
	OpenSecs              int     `yaml:"open_secs" mapstructure:"open_secs"`
	HalfOpenProbes        int     `yaml:"half_open_probes" mapstructure:"half_open_probes"`
}

// SyncConfig configures the sync orchestrator and the scheduler.
type SyncConfig struct {
	PageSize         int    `yaml:"page_size" mapstructure:"page_size"`
	MaxPages         int    `yaml:"max_pages" mapstructure:"max_pages"`
	BatchSize        int    `yaml:"batch_size" mapstructure:"batch_size"`
	BatchConcurrency int    `yaml:"batch_concurrency" mapstructure:"batch_concurrency"`
	BatchPauseMS     int    `yaml:"batch_pause_ms" mapstructure:"batch_pause_ms"`
	DeadLetterMax    int    `yaml:"dead_letter_max" mapstructure:"dead_letter_max"`
	CustomerCacheTTL int    `yaml:"customer_cache_ttl_secs" mapstructure:"customer_cache_ttl_secs"`
	Schedule         string `yaml:"schedule" mapstructure:"schedule"`
	AccountToken     string `yaml:"account_token" mapstructure:"account_token"`
}

// RulesConfig points at an optional yaml overlay for the rule tables.
type RulesConfig struct {
	Path string `yaml:"path" mapstructure:"path"`
}

// RoutingConfig tunes responder ranking.
type RoutingConfig struct {
	RequireCertifiedForCritical bool    `yaml:"require_certified_for_critical" mapstructure:"require_certified_for_critical"`
	SpeedKMH                    float64 `yaml:"speed_kmh" mapstructure:"speed_kmh"`
	Backups                     int     `yaml:"backups" mapstructure:"backups"`
	ManagerContact              string  `yaml:"manager_contact" mapstructure:"manager_contact"`
}

// NotifyConfig configures the downstream notification sinks. A sink is
// enabled when its address is set.
type NotifyConfig struct {
	Buffer   int            `yaml:"buffer" mapstructure:"buffer"`
	RabbitMQ RabbitMQConfig `yaml:"rabbitmq" mapstructure:"rabbitmq"`
	Kafka    KafkaConfig    `yaml:"kafka" mapstructure:"kafka"`
	Slack    SlackConfig    `yaml:"slack" mapstructure:"slack"`
	Webhook  WebhookConfig  `yaml:"webhook" mapstructure:"webhook"`
}

// RabbitMQConfig holds the AMQP sink settings.
type RabbitMQConfig struct {
	URL         string `yaml:"url" mapstructure:"url"`
	Queue       string `yaml:"queue" mapstructure:"queue"`
	SplitByType bool   `yaml:"split_by_type" mapstructure:"split_by_type"`
}

// KafkaConfig holds the Kafka sink settings.
type KafkaConfig struct {
	Brokers string `yaml:"brokers" mapstructure:"brokers"`
	Topic   string `yaml:"topic" mapstructure:"topic"`
}

// SlackConfig holds the Slack alert settings.
type SlackConfig struct {
	Token   string `yaml:"token" mapstructure:"token"`
	Channel string `yaml:"channel" mapstructure:"channel"`
}

// WebhookConfig holds the generic webhook sink settings.
type WebhookConfig struct {
	URL    string `yaml:"url" mapstructure:"url"`
	Secret string `yaml:"secret" mapstructure:"secret"`
}

// WeatherConfig configures the conditions lookup used by the classifier.
// An empty BaseURL leaves the weather analyzer neutral.
type WeatherConfig struct {
	BaseURL      string `yaml:"base_url" mapstructure:"base_url"`
	TimeoutSecs  int    `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	CacheTTLSecs int    `yaml:"cache_ttl_secs" mapstructure:"cache_ttl_secs"`
	// MaxAgeMins skips the lookup for messages older than this, since only
	// current conditions are available.
	MaxAgeMins int `yaml:"max_age_mins" mapstructure:"max_age_mins"`
}

// MonitoringConfig configures the background sync health checker.
type MonitoringConfig struct {
	Enabled              bool    `yaml:"enabled" mapstructure:"enabled"`
	CheckIntervalSecs    int     `yaml:"check_interval_secs" mapstructure:"check_interval_secs"`
	LookbackWindowHours  int     `yaml:"lookback_window_hours" mapstructure:"lookback_window_hours"`
	FailureRateThreshold float64 `yaml:"failure_rate_threshold" mapstructure:"failure_rate_threshold"`
	ErrorRateThreshold   float64 `yaml:"error_rate_threshold" mapstructure:"error_rate_threshold"`
	DeadLetterThreshold  int     `yaml:"dead_letter_threshold" mapstructure:"dead_letter_threshold"`
	WebhookURL           string  `yaml:"webhook_url" mapstructure:"webhook_url"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Port           int      `yaml:"port" mapstructure:"port"`
	AllowedOrigins []string `yaml:"allowed_origins" mapstructure:"allowed_origins"`
	TimeoutSecs    int      `yaml:"timeout_secs" mapstructure:"timeout_secs"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from file and environment. A .env file in the
// working directory is loaded first; variables already set win over it.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, eris.Wrap(err, "config: read .env")
	}

	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("COMMS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "comms.db")
	v.SetDefault("store.max_conns", 10)
	v.SetDefault("store.min_conns", 2)
	v.SetDefault("source.timeout_secs", 30)
	v.SetDefault("source.retry.max_attempts", 3)
	v.SetDefault("source.retry.initial_backoff_ms", 500)
	v.SetDefault("source.retry.max_backoff_ms", 30000)
	v.SetDefault("source.retry.multiplier", 2.0)
	v.SetDefault("resilience.window_size", 20)
	v.SetDefault("resilience.minimum_calls", 10)
	v.SetDefault("resilience.failure_rate_threshold", 0.5)
	v.SetDefault("resilience.slow_call_ms", 5000)
	v.SetDefault("resilience.slow_call_rate_threshold", 0.8)
	v.SetDefault("resilience.open_secs", 30)
	v.SetDefault("resilience.half_open_probes", 3)
	v.SetDefault("sync.page_size", 100)
	v.SetDefault("sync.max_pages", 50)
	v.SetDefault("sync.batch_size", 50)
	v.SetDefault("sync.batch_concurrency", 1)
	v.SetDefault("sync.batch_pause_ms", 100)
	v.SetDefault("sync.dead_letter_max", 3)
	v.SetDefault("sync.customer_cache_ttl_secs", 600)
	v.SetDefault("routing.require_certified_for_critical", true)
	v.SetDefault("routing.speed_kmh", 40.0)
	v.SetDefault("routing.backups", 2)
	v.SetDefault("routing.manager_contact", "on-call-manager")
	v.SetDefault("notify.buffer", 256)
	v.SetDefault("notify.rabbitmq.queue", "comms_events")
	v.SetDefault("notify.kafka.topic", "comms-events")
	v.SetDefault("weather.timeout_secs", 5)
	v.SetDefault("weather.cache_ttl_secs", 900)
	v.SetDefault("weather.max_age_mins", 360)
	v.SetDefault("monitoring.check_interval_secs", 300)
	v.SetDefault("monitoring.lookback_window_hours", 24)
	v.SetDefault("monitoring.failure_rate_threshold", 0.25)
	v.SetDefault("monitoring.error_rate_threshold", 0.10)
	v.SetDefault("monitoring.dead_letter_threshold", 100)
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.allowed_origins", []string{"*"})
	v.SetDefault("server.timeout_secs", 30)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	// Keys without a default still need binding so env vars reach Unmarshal.
	for _, key := range []string{
		"source.base_url", "source.token", "sync.schedule", "sync.account_token", "rules.path",
		"notify.rabbitmq.url", "notify.rabbitmq.split_by_type", "notify.kafka.brokers",
		"notify.slack.token", "notify.slack.channel", "notify.webhook.url", "notify.webhook.secret",
		"monitoring.enabled", "monitoring.webhook_url", "weather.base_url",
	} {
		if err := v.BindEnv(key); err != nil {
			return nil, eris.Wrapf(err, "config: bind %s", key)
		}
	}

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// Validate checks settings that have no usable default.
func (c *Config) Validate() error {
	switch c.Store.Driver {
	case "sqlite", "postgres":
	default:
		return eris.Errorf("config: unknown store driver %q", c.Store.Driver)
	}
	if c.Store.DatabaseURL == "" {
		return eris.New("config: store.database_url is required")
	}
	if c.Sync.BatchConcurrency < 1 {
		return eris.New("config: sync.batch_concurrency must be at least 1")
	}
	return nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
