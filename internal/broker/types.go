// Package broker moves mq messages over RabbitMQ or Kafka. Consumers
// acknowledge every delivery exactly once, whatever the handler returns.
package broker

import (
	"context"

	"simwatch/internal/mq"
)

type Producer interface {
	Publish(ctx context.Context, msg mq.Message) error
	Close() error
}

// HandlerFunc processes one delivery. Returning an error coded ErrConfig
// stops the consumer after the delivery is acknowledged; any other error
// is logged and the consumer moves on.
type HandlerFunc func(ctx context.Context, env *mq.Envelope) error

type Consumer interface {
	// Run blocks until ctx is cancelled, Stop is called, the delivery limit
	// is reached or the handler reports a configuration error.
	Run(ctx context.Context) error
	Stop()
	State() State
	Close() error
}

type ConsumerOptions struct {
	Agent   string
	Queue   mq.Queue
	Handler HandlerFunc
	// Limit stops the consumer after that many deliveries. Zero means no limit.
	Limit int
}
