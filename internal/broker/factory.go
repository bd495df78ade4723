package broker

import (
	"fmt"

	"simwatch/internal/config"
	"simwatch/internal/constants"
	"simwatch/internal/logger"
)

// NewProducer builds the producer chain for cfg: the transport, then the
// circuit breaker, then the spool, each when enabled.
func NewProducer(cfg *config.Config, log logger.Logger) (Producer, error) {
	var p Producer
	switch cfg.Broker.Type {
	case constants.BrokerRabbitMQ:
		p = NewRabbitMQProducer(cfg.Broker.RabbitMQ, nil, log)
	case constants.BrokerKafka:
		p = NewKafkaProducer(cfg.Broker.Kafka, log)
	default:
		return nil, fmt.Errorf("unknown broker type: %s", cfg.Broker.Type)
	}

	if cfg.CircuitBreaker.Enabled {
		p = NewCircuitBreakerProducer(p, cfg.CircuitBreaker)
	}

	if cfg.Broker.Spool.Enabled {
		spool, err := NewSpoolingProducer(p, cfg.Broker.Spool.Path, log)
		if err != nil {
			_ = p.Close()
			return nil, err
		}
		p = spool
	}
	return p, nil
}

func NewConsumer(cfg config.BrokerConfig, opts ConsumerOptions, log logger.Logger) (Consumer, error) {
	switch cfg.Type {
	case constants.BrokerRabbitMQ:
		return NewRabbitMQConsumer(cfg.RabbitMQ, opts, nil, log)
	case constants.BrokerKafka:
		return NewKafkaConsumer(cfg.Kafka, opts, log)
	default:
		return nil, fmt.Errorf("unknown broker type: %s", cfg.Type)
	}
}
