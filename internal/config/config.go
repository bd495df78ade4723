package config

import (
	"time"
)

type Config struct {
	Server         ServerConfig         `mapstructure:"server"`
	Database       DatabaseConfig       `mapstructure:"database"`
	Broker         BrokerConfig         `mapstructure:"broker"`
	MQ             MQConfig             `mapstructure:"mq"`
	Deduplication  DeduplicationConfig  `mapstructure:"deduplication"`
	Archive        ArchiveConfig        `mapstructure:"archive"`
	Vocabulary     VocabularyConfig     `mapstructure:"vocabulary"`
	Conso          ConsoConfig          `mapstructure:"conso"`
	Supervision    SupervisionConfig    `mapstructure:"supervision"`
	API            APIConfig            `mapstructure:"api"`
	Logging        LoggingConfig        `mapstructure:"logging"`
	CircuitBreaker CircuitBreakerConfig `mapstructure:"circuit_breaker"`
	Tracing        TracingConfig        `mapstructure:"tracing"`
}

type ServerConfig struct {
	Port                int `mapstructure:"port"`
	ReadTimeoutSeconds  int `mapstructure:"read_timeout_seconds"`
	WriteTimeoutSeconds int `mapstructure:"write_timeout_seconds"`
}

type DatabaseConfig struct {
	Postgres      PostgresConfig `mapstructure:"postgres"`
	Redis         RedisConfig    `mapstructure:"redis"`
	MongoDB       MongoDBConfig  `mapstructure:"mongodb"`
	RunMigrations bool           `mapstructure:"run_migrations"`
}

type PostgresConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	DBName   string `mapstructure:"dbname"`
	SSLMode  string `mapstructure:"sslmode"`
}

type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type MongoDBConfig struct {
	URI      string `mapstructure:"uri"`
	Database string `mapstructure:"database"`
}

type BrokerConfig struct {
	Type     string         `mapstructure:"type"`
	RabbitMQ RabbitMQConfig `mapstructure:"rabbitmq"`
	Kafka    KafkaConfig    `mapstructure:"kafka"`
	Spool    SpoolConfig    `mapstructure:"spool"`
}

type RabbitMQConfig struct {
	URL               string        `mapstructure:"url"`
	Host              string        `mapstructure:"host"`
	Port              int           `mapstructure:"port"`
	User              string        `mapstructure:"user"`
	Password          string        `mapstructure:"password"`
	VHost             string        `mapstructure:"vhost"`
	Heartbeat         time.Duration `mapstructure:"heartbeat"`
	PrefetchCount     int           `mapstructure:"prefetch_count"`
	ReconnectDelay    time.Duration `mapstructure:"reconnect_delay"`
	ReconnectMaxDelay time.Duration `mapstructure:"reconnect_max_delay"`
	ConfirmTimeout    time.Duration `mapstructure:"confirm_timeout"`
	DeclareTopology   bool          `mapstructure:"declare_topology"`
	// DeadLetter republishes deliveries whose pipeline failed to the
	// dead-letter exchange before acknowledging them.
	DeadLetter bool `mapstructure:"dead_letter"`
}

type KafkaConfig struct {
	Brokers     []string      `mapstructure:"brokers"`
	GroupPrefix string        `mapstructure:"group_prefix"`
	TopicPrefix string        `mapstructure:"topic_prefix"`
	DLQTopic    string        `mapstructure:"dlq_topic"`
	MaxDelay    time.Duration `mapstructure:"max_delay"`
	Retry       RetryConfig   `mapstructure:"retry"`
}

type RetryConfig struct {
	MaxAttempts     int           `mapstructure:"max_attempts"`
	InitialInterval time.Duration `mapstructure:"initial_interval"`
	MaxInterval     time.Duration `mapstructure:"max_interval"`
	Multiplier      float64       `mapstructure:"multiplier"`
	MaxElapsedTime  time.Duration `mapstructure:"max_elapsed_time"`
}

type SpoolConfig struct {
	Enabled        bool          `mapstructure:"enabled"`
	Path           string        `mapstructure:"path"`
	ReplayInterval time.Duration `mapstructure:"replay_interval"`
}

type MQConfig struct {
	AppID           string   `mapstructure:"app_id"`
	UserID          string   `mapstructure:"user_id"`
	ProducerID      string   `mapstructure:"producer_id"`
	ProducerVersion string   `mapstructure:"producer_version"`
	AutoDeleteTypes []string `mapstructure:"auto_delete_types"`
}

type DeduplicationConfig struct {
	Enabled      bool   `mapstructure:"enabled"`
	TTLSeconds   int    `mapstructure:"ttl_seconds"`
	OnRedisError string `mapstructure:"on_redis_error"`
}

type ArchiveConfig struct {
	Enabled bool          `mapstructure:"enabled"`
	TTL     time.Duration `mapstructure:"ttl"`
}

type VocabularyConfig struct {
	Source          string        `mapstructure:"source"`
	File            string        `mapstructure:"file"`
	RefreshInterval time.Duration `mapstructure:"refresh_interval"`
}

type ConsoConfig struct {
	Parser     string            `mapstructure:"parser"`
	AlertRules []AlertRuleConfig `mapstructure:"alert_rules"`
}

type AlertRuleConfig struct {
	Name       string `mapstructure:"name"`
	Expression string `mapstructure:"expression"`
}

type SupervisionConfig struct {
	DefaultWarningDelay time.Duration `mapstructure:"default_warning_delay"`
}

type APIConfig struct {
	RateLimit  RateLimitConfig `mapstructure:"rate_limit"`
	FeedBuffer int             `mapstructure:"feed_buffer"`
}

type RateLimitConfig struct {
	Enabled         bool    `mapstructure:"enabled"`
	RPS             float64 `mapstructure:"rps"`
	Burst           int     `mapstructure:"burst"`
	CleanupInterval int     `mapstructure:"cleanup_interval"`
	MaxAge          int     `mapstructure:"max_age"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

type CircuitBreakerConfig struct {
	Enabled      bool          `mapstructure:"enabled"`
	MaxRequests  uint32        `mapstructure:"max_requests"`
	Interval     time.Duration `mapstructure:"interval"`
	Timeout      time.Duration `mapstructure:"timeout"`
	FailureRatio float64       `mapstructure:"failure_ratio"`
	MinRequests  uint32        `mapstructure:"min_requests"`
}

type TracingConfig struct {
	Enabled     bool          `mapstructure:"enabled"`
	ServiceName string        `mapstructure:"service_name"`
	OTLP        OTLPConfig    `mapstructure:"otlp"`
	Sampler     SamplerConfig `mapstructure:"sampler"`
}

type OTLPConfig struct {
	Endpoint string `mapstructure:"endpoint"`
	Insecure bool   `mapstructure:"insecure"`
}

type SamplerConfig struct {
	Type  string  `mapstructure:"type"`
	Param float64 `mapstructure:"param"`
}

func Load(configFile string) (*Config, error) {
	return LoadConfig(configFile)
}
