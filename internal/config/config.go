package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds application configuration loaded from .env, environment and an optional config file.
type Config struct {
	Server       ServerConfig       `mapstructure:"server"`
	Store        StoreConfig        `mapstructure:"store"`
	Redis        RedisConfig        `mapstructure:"redis"`
	Kafka        KafkaConfig        `mapstructure:"kafka"`
	Automation   AutomationConfig   `mapstructure:"automation"`
	Notification NotificationConfig `mapstructure:"notification"`
	Email        EmailConfig        `mapstructure:"email"`
	Telegram     TelegramConfig     `mapstructure:"telegram"`
	SMS          SMSConfig          `mapstructure:"sms"`
	Retention    RetentionConfig    `mapstructure:"retention"`
	Logging      LoggingConfig      `mapstructure:"logging"`
}

type ServerConfig struct {
	Port            int           `mapstructure:"port"`
	BasePath        string        `mapstructure:"base_path"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

type StoreConfig struct {
	Driver        string `mapstructure:"driver"`
	MongoURI      string `mapstructure:"mongo_uri"`
	MongoDatabase string `mapstructure:"mongo_database"`
	PostgresDSN   string `mapstructure:"postgres_dsn"`
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type KafkaConfig struct {
	Brokers       []string `mapstructure:"brokers"`
	ReadingsTopic string   `mapstructure:"readings_topic"`
	GroupID       string   `mapstructure:"group_id"`
	CommandsTopic string   `mapstructure:"commands_topic"`
	EventsTopic   string   `mapstructure:"events_topic"`
}

type AutomationConfig struct {
	WorkerEnabled  bool          `mapstructure:"worker_enabled"`
	WorkerInterval time.Duration `mapstructure:"worker_interval"`
	MaxAttempts    int           `mapstructure:"max_attempts"`
	RetryDelay     time.Duration `mapstructure:"retry_delay"`
	BatchSize      int           `mapstructure:"batch_size"`
	TaskTimeout    time.Duration `mapstructure:"task_timeout"`
}

type NotificationConfig struct {
	DefaultRecipients []string      `mapstructure:"default_recipients"`
	SendTimeout       time.Duration `mapstructure:"send_timeout"`
	RatePerSecond     int           `mapstructure:"rate_per_second"`
}

type EmailConfig struct {
	SMTPServer string `mapstructure:"smtp_server"`
	SMTPPort   int    `mapstructure:"smtp_port"`
	Username   string `mapstructure:"username"`
	Password   string `mapstructure:"password"`
	From       string `mapstructure:"from"`
}

type TelegramConfig struct {
	BotToken string   `mapstructure:"bot_token"`
	ChatIDs  []string `mapstructure:"chat_ids"`
}

type SMSConfig struct {
	AccountSID string   `mapstructure:"account_sid"`
	AuthToken  string   `mapstructure:"auth_token"`
	FromNumber string   `mapstructure:"from_number"`
	ToNumbers  []string `mapstructure:"to_numbers"`
}

type RetentionConfig struct {
	ResolvedAlertTTL time.Duration `mapstructure:"resolved_alert_ttl"`
	Interval         time.Duration `mapstructure:"interval"`
}

type LoggingConfig struct {
	Dir   string `mapstructure:"dir"`
	Level string `mapstructure:"level"`
}

const (
	DriverMongo    = "mongo"
	DriverPostgres = "postgres"
	DriverMemory   = "memory"
)

// Load reads .env (if present), environment variables prefixed with FARM_ and an
// optional config.yaml, applies defaults and validates the result.
func Load() (Config, error) {
	if err := godotenv.Load(".env"); err != nil && !os.IsNotExist(err) {
		return Config{}, fmt.Errorf("failed to load .env file: %w", err)
	}

	v := viper.New()
	v.SetEnvPrefix("FARM")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath("./config")
	v.AddConfigPath(".")
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return Config{}, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// setDefaults registers every key so AutomaticEnv can bind it during Unmarshal.
func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.base_path", "/api/v1")
	v.SetDefault("server.shutdown_timeout", 15*time.Second)

	v.SetDefault("store.driver", DriverMongo)
	v.SetDefault("store.mongo_uri", "mongodb://localhost:27017")
	v.SetDefault("store.mongo_database", "smart_agriculture")
	v.SetDefault("store.postgres_dsn", "")

	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	v.SetDefault("kafka.brokers", []string{})
	v.SetDefault("kafka.readings_topic", "sensor.readings")
	v.SetDefault("kafka.group_id", "farm-automation")
	v.SetDefault("kafka.commands_topic", "actuator.commands")
	v.SetDefault("kafka.events_topic", "farm.alert.events")

	v.SetDefault("automation.worker_enabled", true)
	v.SetDefault("automation.worker_interval", 30*time.Second)
	v.SetDefault("automation.max_attempts", 3)
	v.SetDefault("automation.retry_delay", 60*time.Second)
	v.SetDefault("automation.batch_size", 10)
	v.SetDefault("automation.task_timeout", 10*time.Second)

	v.SetDefault("notification.default_recipients", []string{"admin@example.com"})
	v.SetDefault("notification.send_timeout", 15*time.Second)
	v.SetDefault("notification.rate_per_second", 5)

	v.SetDefault("email.smtp_server", "")
	v.SetDefault("email.smtp_port", 587)
	v.SetDefault("email.username", "")
	v.SetDefault("email.password", "")
	v.SetDefault("email.from", "Smart Agriculture <noreply@smartagri.com>")

	v.SetDefault("telegram.bot_token", "")
	v.SetDefault("telegram.chat_ids", []string{})

	v.SetDefault("sms.account_sid", "")
	v.SetDefault("sms.auth_token", "")
	v.SetDefault("sms.from_number", "")
	v.SetDefault("sms.to_numbers", []string{})

	v.SetDefault("retention.resolved_alert_ttl", 30*24*time.Hour)
	v.SetDefault("retention.interval", time.Hour)

	v.SetDefault("logging.dir", "logs")
	v.SetDefault("logging.level", "info")
}

// Validate reports every missing or invalid setting in one error.
func (c Config) Validate() error {
	invalid := []string{}

	switch c.Store.Driver {
	case DriverMongo:
		if c.Store.MongoURI == "" {
			invalid = append(invalid, "FARM_STORE_MONGO_URI")
		}
		if c.Store.MongoDatabase == "" {
			invalid = append(invalid, "FARM_STORE_MONGO_DATABASE")
		}
	case DriverPostgres:
		if c.Store.PostgresDSN == "" {
			invalid = append(invalid, "FARM_STORE_POSTGRES_DSN")
		}
	case DriverMemory:
	default:
		invalid = append(invalid, "FARM_STORE_DRIVER")
	}

	if c.Automation.WorkerInterval <= 0 {
		invalid = append(invalid, "FARM_AUTOMATION_WORKER_INTERVAL")
	}
	if c.Automation.MaxAttempts < 1 {
		invalid = append(invalid, "FARM_AUTOMATION_MAX_ATTEMPTS")
	}
	if c.Automation.RetryDelay < 0 {
		invalid = append(invalid, "FARM_AUTOMATION_RETRY_DELAY")
	}
	if c.Automation.BatchSize < 1 {
		invalid = append(invalid, "FARM_AUTOMATION_BATCH_SIZE")
	}
	if c.Automation.TaskTimeout <= 0 {
		invalid = append(invalid, "FARM_AUTOMATION_TASK_TIMEOUT")
	}
	if c.Notification.RatePerSecond < 1 {
		invalid = append(invalid, "FARM_NOTIFICATION_RATE_PER_SECOND")
	}
	if c.Retention.Interval <= 0 {
		invalid = append(invalid, "FARM_RETENTION_INTERVAL")
	}

	if len(invalid) > 0 {
		return fmt.Errorf("missing or invalid configurations: %v", invalid)
	}
	return nil
}

// KafkaEnabled reports whether any broker is configured.
func (c Config) KafkaEnabled() bool {
	return len(c.Kafka.Brokers) > 0 && c.Kafka.Brokers[0] != ""
}
