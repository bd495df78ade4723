package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// LoadConfig reads configFile (optional) and environment overrides, applies
// defaults and validates the result.
func LoadConfig(configFile string) (*Config, error) {
	v := viper.New()

	v.SetConfigType("yaml")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)
	bindEnvVariables(v)

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", configFile, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	applyEnvOverrides(v, &cfg)

	if err := ValidateStatic(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout_seconds", 10)
	v.SetDefault("server.write_timeout_seconds", 10)

	v.SetDefault("database.postgres.port", 5432)
	v.SetDefault("database.postgres.sslmode", "disable")
	v.SetDefault("database.redis.port", 6379)
	v.SetDefault("database.run_migrations", true)

	v.SetDefault("broker.type", "rabbitmq")
	v.SetDefault("broker.rabbitmq.port", 5672)
	v.SetDefault("broker.rabbitmq.vhost", "/")
	v.SetDefault("broker.rabbitmq.heartbeat", "10s")
	v.SetDefault("broker.rabbitmq.prefetch_count", 1)
	v.SetDefault("broker.rabbitmq.reconnect_delay", "5s")
	v.SetDefault("broker.rabbitmq.reconnect_max_delay", "1m")
	v.SetDefault("broker.rabbitmq.confirm_timeout", "10s")
	v.SetDefault("broker.rabbitmq.declare_topology", true)
	v.SetDefault("broker.kafka.group_prefix", "simwatch")
	v.SetDefault("broker.kafka.max_delay", "24h")
	v.SetDefault("broker.kafka.retry.max_attempts", 3)
	v.SetDefault("broker.kafka.retry.initial_interval", "1s")
	v.SetDefault("broker.kafka.retry.max_interval", "30s")
	v.SetDefault("broker.kafka.retry.multiplier", 2.0)
	v.SetDefault("broker.spool.path", "simwatch-spool.db")
	v.SetDefault("broker.spool.replay_interval", "30s")

	v.SetDefault("mq.app_id", "simwatch")
	v.SetDefault("mq.user_id", "simwatch")
	v.SetDefault("mq.producer_id", "simwatch")
	v.SetDefault("mq.producer_version", "1.0.0")

	v.SetDefault("deduplication.ttl_seconds", 86400)
	v.SetDefault("deduplication.on_redis_error", "allow")

	v.SetDefault("vocabulary.source", "none")
	v.SetDefault("vocabulary.refresh_interval", "10m")

	v.SetDefault("conso.parser", "json")
	v.SetDefault("supervision.default_warning_delay", "24h")
	v.SetDefault("api.feed_buffer", 64)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	v.SetDefault("circuit_breaker.max_requests", 3)
	v.SetDefault("circuit_breaker.interval", "60s")
	v.SetDefault("circuit_breaker.timeout", "30s")
	v.SetDefault("circuit_breaker.failure_ratio", 0.5)
	v.SetDefault("circuit_breaker.min_requests", 5)
}

func bindEnvVariables(v *viper.Viper) {
	for _, key := range []string{
		"broker.type",
		"broker.rabbitmq.url",
		"broker.rabbitmq.host",
		"broker.rabbitmq.port",
		"broker.rabbitmq.user",
		"broker.rabbitmq.password",
		"broker.rabbitmq.vhost",
		"broker.kafka.brokers",
		"broker.kafka.group_prefix",

		"database.postgres.host",
		"database.postgres.port",
		"database.postgres.user",
		"database.postgres.password",
		"database.postgres.dbname",
		"database.postgres.sslmode",

		"database.redis.host",
		"database.redis.port",
		"database.redis.password",
		"database.redis.db",

		"database.mongodb.uri",
		"database.mongodb.database",

		"server.port",
		"logging.level",
		"logging.format",
		"vocabulary.file",

		"tracing.otlp.endpoint",
		"tracing.otlp.insecure",
		"tracing.enabled",
		"tracing.service_name",
	} {
		_ = v.BindEnv(key, strings.ToUpper(strings.ReplaceAll(key, ".", "_")))
	}
}

func applyEnvOverrides(v *viper.Viper, cfg *Config) {
	if brokersEnv := v.GetString("BROKER_KAFKA_BROKERS"); brokersEnv != "" {
		brokers := strings.Split(brokersEnv, ",")
		for i := range brokers {
			brokers[i] = strings.TrimSpace(brokers[i])
		}
		if len(brokers) > 0 && brokers[0] != "" {
			cfg.Broker.Kafka.Brokers = brokers
		}
	}
}
