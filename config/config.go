package config

import (
	"errors"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds all application configuration
type Config struct {
	DatabaseDriver     string
	DatabaseURL        string
	Port               string
	GoEnv              string
	Auth0Domain        string
	Auth0Audience      string
	AWSRegion          string
	AWSS3Bucket        string
	AWSAccessKeyID     string
	AWSSecretAccessKey string
	LogLevel           string
	LogPretty          bool
	ServiceName        string
	CORSAllowedOrigins []string

	Broker       BrokerConfig
	Redis        RedisConfig
	Kafka        KafkaConfig
	Notification NotificationConfig
	SMTP         SMTPConfig
	Push         PushConfig
}

// BrokerConfig selects and tunes the notification queue
type BrokerConfig struct {
	Driver       string // redis, kafka, memory
	EmailQueue   string
	PushQueue    string
	Group        string // redis: consumer group name
	ConsumerName string
	ClaimMinIdle time.Duration // redis: pending entries idle this long are redelivered
	BlockTimeout time.Duration // redis: how long one XREADGROUP blocks while idle
}

// RedisConfig holds the Redis connection used by the broker and the push hub
type RedisConfig struct {
	Address  string
	Password string
	DB       int
}

// KafkaConfig holds Kafka settings for the kafka broker driver
type KafkaConfig struct {
	Brokers    string
	GroupID    string
	Partitions int
}

// NotificationConfig tunes the notification consumer worker
type NotificationConfig struct {
	PushBatchSize   int
	PushBatchWindow time.Duration
	DispatchTimeout time.Duration
	RetryDelay      time.Duration
	HubPrefix       string
}

// SMTPConfig configures the email transport
type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
}

// PushConfig configures the HTTP push transport
type PushConfig struct {
	Endpoint string
	APIKey   string
	Timeout  time.Duration
}

// Load loads the configuration from .env files, an optional config.yaml and the environment.
// It automatically determines which .env file to load based on GO_ENV
func Load() (*Config, error) {
	// Determine which environment file to load
	env := os.Getenv("GO_ENV")
	if env == "" {
		env = "development"
	}

	// Try to load environment-specific file first
	envFile := fmt.Sprintf(".env.%s", env)
	if err := godotenv.Load(envFile); err != nil {
		if err := godotenv.Load(); err != nil {
			// In production, environment variables are set directly
			log.Printf("No .env file found, using system environment variables")
		}
	} else {
		log.Printf("Loaded configuration from %s", envFile)
	}

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	config := fromViper(v)

	// Validate required configuration
	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("database_driver", "postgres")
	v.SetDefault("database_url", "")
	v.SetDefault("port", "8080")
	v.SetDefault("go_env", "development")
	v.SetDefault("aws_region", "us-east-1")
	v.SetDefault("log_level", "info")
	v.SetDefault("log_pretty", false)
	v.SetDefault("service_name", "support-chat-api")
	v.SetDefault("cors_allowed_origins", "*")

	v.SetDefault("broker_driver", "redis")
	v.SetDefault("broker_email_queue", "notifications.email")
	v.SetDefault("broker_push_queue", "notifications.push")
	v.SetDefault("broker_group", "notification-worker")
	v.SetDefault("broker_consumer_name", defaultConsumerName())
	v.SetDefault("broker_claim_min_idle", "1m")
	v.SetDefault("broker_block_timeout", "5s")

	v.SetDefault("redis_address", "localhost:6379")
	v.SetDefault("redis_password", "")
	v.SetDefault("redis_db", 0)

	v.SetDefault("kafka_brokers", "localhost:9092")
	v.SetDefault("kafka_group_id", "notification-worker")
	v.SetDefault("kafka_partitions", 4)

	v.SetDefault("push_batch_size", 50)
	v.SetDefault("push_batch_window", "2s")
	v.SetDefault("dispatch_timeout", "15s")
	v.SetDefault("retry_delay", "1s")
	v.SetDefault("hub_channel_prefix", "hub")

	v.SetDefault("smtp_port", 587)
	v.SetDefault("smtp_from", "support@localhost")
	v.SetDefault("push_timeout", "10s")
}

func fromViper(v *viper.Viper) *Config {
	return &Config{
		DatabaseDriver:     v.GetString("database_driver"),
		DatabaseURL:        v.GetString("database_url"),
		Port:               v.GetString("port"),
		GoEnv:              v.GetString("go_env"),
		Auth0Domain:        v.GetString("auth0_domain"),
		Auth0Audience:      v.GetString("auth0_audience"),
		AWSRegion:          v.GetString("aws_region"),
		AWSS3Bucket:        v.GetString("aws_s3_bucket"),
		AWSAccessKeyID:     v.GetString("aws_access_key_id"),
		AWSSecretAccessKey: v.GetString("aws_secret_access_key"),
		LogLevel:           v.GetString("log_level"),
		LogPretty:          v.GetBool("log_pretty"),
		ServiceName:        v.GetString("service_name"),
		CORSAllowedOrigins: splitList(v.GetString("cors_allowed_origins")),
		Broker: BrokerConfig{
			Driver:       v.GetString("broker_driver"),
			EmailQueue:   v.GetString("broker_email_queue"),
			PushQueue:    v.GetString("broker_push_queue"),
			Group:        v.GetString("broker_group"),
			ConsumerName: v.GetString("broker_consumer_name"),
			ClaimMinIdle: v.GetDuration("broker_claim_min_idle"),
			BlockTimeout: v.GetDuration("broker_block_timeout"),
		},
		Redis: RedisConfig{
			Address:  v.GetString("redis_address"),
			Password: v.GetString("redis_password"),
			DB:       v.GetInt("redis_db"),
		},
		Kafka: KafkaConfig{
			Brokers:    v.GetString("kafka_brokers"),
			GroupID:    v.GetString("kafka_group_id"),
			Partitions: v.GetInt("kafka_partitions"),
		},
		Notification: NotificationConfig{
			PushBatchSize:   v.GetInt("push_batch_size"),
			PushBatchWindow: v.GetDuration("push_batch_window"),
			DispatchTimeout: v.GetDuration("dispatch_timeout"),
			RetryDelay:      v.GetDuration("retry_delay"),
			HubPrefix:       v.GetString("hub_channel_prefix"),
		},
		SMTP: SMTPConfig{
			Host:     v.GetString("smtp_host"),
			Port:     v.GetInt("smtp_port"),
			Username: v.GetString("smtp_username"),
			Password: v.GetString("smtp_password"),
			From:     v.GetString("smtp_from"),
		},
		Push: PushConfig{
			Endpoint: v.GetString("push_endpoint"),
			APIKey:   v.GetString("push_api_key"),
			Timeout:  v.GetDuration("push_timeout"),
		},
	}
}

// Validate checks that all required configuration values are set
func (c *Config) Validate() error {
	if c.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}
	switch c.DatabaseDriver {
	case "postgres", "sqlite":
	default:
		return fmt.Errorf("unsupported DATABASE_DRIVER %q", c.DatabaseDriver)
	}
	switch c.Broker.Driver {
	case "redis", "kafka", "memory":
	default:
		return fmt.Errorf("unsupported BROKER_DRIVER %q", c.Broker.Driver)
	}
	if c.Broker.EmailQueue == "" || c.Broker.PushQueue == "" {
		return fmt.Errorf("BROKER_EMAIL_QUEUE and BROKER_PUSH_QUEUE are required")
	}
	if c.Notification.PushBatchSize <= 0 {
		return fmt.Errorf("PUSH_BATCH_SIZE must be positive")
	}
	if c.Notification.PushBatchWindow <= 0 || c.Notification.DispatchTimeout <= 0 {
		return fmt.Errorf("PUSH_BATCH_WINDOW and DISPATCH_TIMEOUT must be positive")
	}
	if c.Notification.RetryDelay < 0 {
		return fmt.Errorf("RETRY_DELAY must not be negative")
	}
	return nil
}

// IsProduction returns true if the application is running in production mode
func (c *Config) IsProduction() bool {
	return c.GoEnv == "production"
}

// IsTest returns true if the application is running in test mode
func (c *Config) IsTest() bool {
	return c.GoEnv == "test"
}

// IsDevelopment returns true if the application is running in development mode
func (c *Config) IsDevelopment() bool {
	return c.GoEnv == "development"
}

func defaultConsumerName() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		return "notification-worker"
	}
	return "notification-worker-" + host
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
