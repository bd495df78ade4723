package bootstrap

import (
	"context"
	"fmt"

	"simwatch/internal/broker"
	"simwatch/internal/config"
	"simwatch/internal/logger"
)

type Base struct {
	Config    *config.Config
	Logger    logger.Logger
	Producer  broker.Producer
	Consumers []broker.Consumer
}

func NewBase(cfg *config.Config, log logger.Logger) *Base {
	return &Base{
		Config: cfg,
		Logger: log,
	}
}

// InitProducer builds the shared publishing chain.
func (b *Base) InitProducer() error {
	producer, err := broker.NewProducer(b.Config, b.Logger)
	if err != nil {
		return fmt.Errorf("failed to create producer: %w", err)
	}
	b.Producer = producer
	return nil
}

// AddConsumer creates a consumer for opts and keeps it for shutdown.
func (b *Base) AddConsumer(opts broker.ConsumerOptions) (broker.Consumer, error) {
	consumer, err := broker.NewConsumer(b.Config.Broker, opts, b.Logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create consumer for %s: %w", opts.Queue, err)
	}
	b.Consumers = append(b.Consumers, consumer)
	return consumer, nil
}

func (b *Base) ShutdownBroker() []error {
	var errs []error

	for _, c := range b.Consumers {
		if err := c.Close(); err != nil {
			errs = append(errs, fmt.Errorf("consumer close error: %w", err))
		}
	}

	if b.Producer != nil {
		if err := b.Producer.Close(); err != nil {
			errs = append(errs, fmt.Errorf("producer close error: %w", err))
		}
	}

	return errs
}

func (b *Base) Shutdown(ctx context.Context, additionalShutdown func(ctx context.Context) []error) error {
	b.Logger.Info("Shutting down application...")

	var errs []error

	errs = append(errs, b.ShutdownBroker()...)

	if additionalShutdown != nil {
		errs = append(errs, additionalShutdown(ctx)...)
	}

	if len(errs) > 0 {
		return fmt.Errorf("shutdown errors: %v", errs)
	}

	b.Logger.Info("Application exited successfully")
	return nil
}
