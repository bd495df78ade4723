package config

import (
	"errors"
	"fmt"
	"strings"

	"simwatch/internal/mq"
	pkgerrors "simwatch/pkg/errors"
)

type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error for field '%s': %s", e.Field, e.Message)
}

// ValidateStatic checks every section and reports all problems at once.
// The returned error is coded ErrConfig.
func ValidateStatic(cfg *Config) error {
	var errs []error

	for _, check := range []func(*Config) error{
		func(c *Config) error { return validateServer(c.Server) },
		func(c *Config) error { return validateBroker(c.Broker) },
		func(c *Config) error { return validateDatabase(c.Database) },
		func(c *Config) error { return validateMQ(c.MQ) },
		func(c *Config) error { return validateDeduplication(c.Deduplication, c.Database.Redis) },
		func(c *Config) error { return validateArchive(c.Archive, c.Database.MongoDB) },
		func(c *Config) error { return validateVocabulary(c.Vocabulary, c.Database.MongoDB) },
		func(c *Config) error { return validateConso(c.Conso) },
		func(c *Config) error { return validateSupervision(c.Supervision) },
	} {
		if err := check(cfg); err != nil {
			errs = append(errs, err)
		}
	}

	if len(errs) > 0 {
		return pkgerrors.ErrConfig.WithCause(errors.Join(errs...))
	}
	return nil
}

func validateServer(cfg ServerConfig) error {
	if cfg.Port < 1 || cfg.Port > 65535 {
		return &ValidationError{
			Field:   "server.port",
			Message: fmt.Sprintf("port must be between 1 and 65535, got %d", cfg.Port),
		}
	}

	if cfg.ReadTimeoutSeconds <= 0 {
		return &ValidationError{Field: "server.read_timeout_seconds", Message: "read timeout must be positive"}
	}

	if cfg.WriteTimeoutSeconds <= 0 {
		return &ValidationError{Field: "server.write_timeout_seconds", Message: "write timeout must be positive"}
	}

	return nil
}

func validateBroker(cfg BrokerConfig) error {
	var err error
	switch cfg.Type {
	case "":
		return &ValidationError{Field: "broker.type", Message: "broker type is required"}
	case "rabbitmq":
		err = validateRabbitMQ(cfg.RabbitMQ)
	case "kafka":
		err = validateKafka(cfg.Kafka)
	default:
		return &ValidationError{
			Field:   "broker.type",
			Message: fmt.Sprintf("unknown broker type: %s (supported: rabbitmq, kafka)", cfg.Type),
		}
	}
	if err != nil {
		return err
	}

	if cfg.Spool.Enabled && cfg.Spool.Path == "" {
		return &ValidationError{Field: "broker.spool.path", Message: "spool path is required when the spool is enabled"}
	}
	return nil
}

func validateRabbitMQ(cfg RabbitMQConfig) error {
	if cfg.URL != "" {
		if !strings.HasPrefix(cfg.URL, "amqp://") && !strings.HasPrefix(cfg.URL, "amqps://") {
			return &ValidationError{Field: "broker.rabbitmq.url", Message: "URL must start with amqp:// or amqps://"}
		}
	} else {
		if cfg.Host == "" {
			return &ValidationError{Field: "broker.rabbitmq.host", Message: "RabbitMQ host is required"}
		}
		if cfg.Port < 1 || cfg.Port > 65535 {
			return &ValidationError{
				Field:   "broker.rabbitmq.port",
				Message: fmt.Sprintf("port must be between 1 and 65535, got %d", cfg.Port),
			}
		}
	}

	if cfg.PrefetchCount < 1 {
		return &ValidationError{Field: "broker.rabbitmq.prefetch_count", Message: "prefetch count must be at least 1"}
	}

	if cfg.ReconnectDelay < 0 {
		return &ValidationError{Field: "broker.rabbitmq.reconnect_delay", Message: "reconnect delay must be non-negative"}
	}

	if cfg.ReconnectMaxDelay > 0 && cfg.ReconnectMaxDelay < cfg.ReconnectDelay {
		return &ValidationError{
			Field:   "broker.rabbitmq.reconnect_max_delay",
			Message: "reconnect_max_delay must be greater than or equal to reconnect_delay",
		}
	}

	return nil
}

func validateKafka(cfg KafkaConfig) error {
	if len(cfg.Brokers) == 0 {
		return &ValidationError{Field: "broker.kafka.brokers", Message: "at least one Kafka broker is required"}
	}

	for i, broker := range cfg.Brokers {
		if broker == "" {
			return &ValidationError{
				Field:   fmt.Sprintf("broker.kafka.brokers[%d]", i),
				Message: "broker address cannot be empty",
			}
		}
	}

	if cfg.GroupPrefix == "" {
		return &ValidationError{Field: "broker.kafka.group_prefix", Message: "consumer group prefix is required"}
	}

	if cfg.Retry.MaxAttempts < 0 {
		return &ValidationError{Field: "broker.kafka.retry.max_attempts", Message: "max_attempts must be non-negative"}
	}

	if cfg.Retry.MaxInterval > 0 && cfg.Retry.InitialInterval > 0 && cfg.Retry.MaxInterval < cfg.Retry.InitialInterval {
		return &ValidationError{
			Field:   "broker.kafka.retry.max_interval",
			Message: "max_interval must be greater than or equal to initial_interval",
		}
	}

	if cfg.Retry.Multiplier <= 0 {
		return &ValidationError{Field: "broker.kafka.retry.multiplier", Message: "multiplier must be positive"}
	}

	return nil
}

func validateDatabase(cfg DatabaseConfig) error {
	if cfg.Postgres.Host != "" {
		if err := validatePostgres(cfg.Postgres); err != nil {
			return err
		}
	}

	if cfg.Redis.Host != "" {
		if err := validateRedis(cfg.Redis); err != nil {
			return err
		}
	}

	if cfg.MongoDB.URI != "" {
		if err := validateMongoDB(cfg.MongoDB); err != nil {
			return err
		}
	}

	return nil
}

func validatePostgres(cfg PostgresConfig) error {
	if cfg.Port < 1 || cfg.Port > 65535 {
		return &ValidationError{
			Field:   "database.postgres.port",
			Message: fmt.Sprintf("port must be between 1 and 65535, got %d", cfg.Port),
		}
	}

	if cfg.User == "" {
		return &ValidationError{Field: "database.postgres.user", Message: "PostgreSQL user is required"}
	}

	if cfg.DBName == "" {
		return &ValidationError{Field: "database.postgres.dbname", Message: "PostgreSQL database name is required"}
	}

	validSSLModes := map[string]bool{
		"disable": true, "allow": true, "prefer": true,
		"require": true, "verify-ca": true, "verify-full": true,
	}
	if cfg.SSLMode != "" && !validSSLModes[strings.ToLower(cfg.SSLMode)] {
		return &ValidationError{
			Field:   "database.postgres.sslmode",
			Message: fmt.Sprintf("invalid SSL mode: %s (valid: disable, allow, prefer, require, verify-ca, verify-full)", cfg.SSLMode),
		}
	}

	return nil
}

func validateRedis(cfg RedisConfig) error {
	if cfg.Port < 1 || cfg.Port > 65535 {
		return &ValidationError{
			Field:   "database.redis.port",
			Message: fmt.Sprintf("port must be between 1 and 65535, got %d", cfg.Port),
		}
	}
	return nil
}

func validateMongoDB(cfg MongoDBConfig) error {
	if !strings.HasPrefix(cfg.URI, "mongodb://") && !strings.HasPrefix(cfg.URI, "mongodb+srv://") {
		return &ValidationError{
			Field:   "database.mongodb.uri",
			Message: "MongoDB URI must start with mongodb:// or mongodb+srv://",
		}
	}

	if cfg.Database == "" {
		return &ValidationError{Field: "database.mongodb.database", Message: "MongoDB database name is required"}
	}

	return nil
}

func validateMQ(cfg MQConfig) error {
	// Build a throwaway property set so the allow-lists live in one place.
	_, err := mq.NewProperties(mq.PropertiesConfig{
		Type:       mq.TypeAlert,
		ProducerID: cfg.ProducerID,
		UserID:     cfg.UserID,
	})
	if err != nil {
		var vErr *mq.ValidationError
		if errors.As(err, &vErr) {
			return &ValidationError{Field: "mq." + vErr.Field, Message: vErr.Error()}
		}
		return err
	}

	for i, raw := range cfg.AutoDeleteTypes {
		if _, err := mq.ParseType(raw); err != nil {
			return &ValidationError{Field: fmt.Sprintf("mq.auto_delete_types[%d]", i), Message: err.Error()}
		}
	}
	return nil
}

func validateDeduplication(cfg DeduplicationConfig, redis RedisConfig) error {
	if !cfg.Enabled {
		return nil
	}

	if redis.Host == "" {
		return &ValidationError{Field: "deduplication.enabled", Message: "deduplication requires database.redis.host"}
	}

	if cfg.TTLSeconds <= 0 {
		return &ValidationError{Field: "deduplication.ttl_seconds", Message: "TTL must be positive"}
	}

	validOnError := map[string]bool{"allow": true, "reject": true}
	if !validOnError[strings.ToLower(cfg.OnRedisError)] {
		return &ValidationError{
			Field:   "deduplication.on_redis_error",
			Message: fmt.Sprintf("invalid on_redis_error value: %s (valid: allow, reject)", cfg.OnRedisError),
		}
	}

	return nil
}

func validateArchive(cfg ArchiveConfig, mongo MongoDBConfig) error {
	if cfg.Enabled && mongo.URI == "" {
		return &ValidationError{Field: "archive.enabled", Message: "the message archive requires database.mongodb.uri"}
	}
	if cfg.TTL < 0 {
		return &ValidationError{Field: "archive.ttl", Message: "TTL must be non-negative"}
	}
	return nil
}

func validateVocabulary(cfg VocabularyConfig, mongo MongoDBConfig) error {
	switch cfg.Source {
	case "", "none":
	case "file":
		if cfg.File == "" {
			return &ValidationError{Field: "vocabulary.file", Message: "a vocabulary file is required for source 'file'"}
		}
	case "mongodb":
		if mongo.URI == "" {
			return &ValidationError{Field: "vocabulary.source", Message: "source 'mongodb' requires database.mongodb.uri"}
		}
	default:
		return &ValidationError{
			Field:   "vocabulary.source",
			Message: fmt.Sprintf("unknown vocabulary source: %s (valid: none, file, mongodb)", cfg.Source),
		}
	}

	if cfg.RefreshInterval < 0 {
		return &ValidationError{Field: "vocabulary.refresh_interval", Message: "refresh interval must be non-negative"}
	}
	return nil
}

func validateConso(cfg ConsoConfig) error {
	if cfg.Parser != "" && cfg.Parser != "json" {
		return &ValidationError{Field: "conso.parser", Message: fmt.Sprintf("unknown parser: %s (valid: json)", cfg.Parser)}
	}

	seen := make(map[string]bool, len(cfg.AlertRules))
	for i, rule := range cfg.AlertRules {
		field := fmt.Sprintf("conso.alert_rules[%d]", i)
		if rule.Name == "" {
			return &ValidationError{Field: field + ".name", Message: "rule name is required"}
		}
		if seen[rule.Name] {
			return &ValidationError{Field: field + ".name", Message: fmt.Sprintf("duplicate rule name %q", rule.Name)}
		}
		seen[rule.Name] = true
		if strings.TrimSpace(rule.Expression) == "" {
			return &ValidationError{Field: field + ".expression", Message: "rule expression is required"}
		}
	}
	return nil
}

func validateSupervision(cfg SupervisionConfig) error {
	if cfg.DefaultWarningDelay < 0 {
		return &ValidationError{Field: "supervision.default_warning_delay", Message: "warning delay must be non-negative"}
	}
	return nil
}
