package broker

import (
	"context"
	"errors"

	"simwatch/internal/config"
	"simwatch/internal/mq"
	"simwatch/pkg/circuitbreaker"
	pkgerrors "simwatch/pkg/errors"
)

// CircuitBreakerProducer fails fast while the broker keeps refusing
// publishes. An open breaker surfaces as a broker error so a spool in
// front of it catches the message.
type CircuitBreakerProducer struct {
	next Producer
	cb   *circuitbreaker.Wrapper
}

func NewCircuitBreakerProducer(next Producer, cfg config.CircuitBreakerConfig) *CircuitBreakerProducer {
	cbCfg := circuitbreaker.Tuned("broker-publish", cfg.MaxRequests, cfg.Interval, cfg.Timeout, cfg.FailureRatio, cfg.MinRequests)
	return &CircuitBreakerProducer{
		next: next,
		cb:   circuitbreaker.NewWrapper(cbCfg),
	}
}

func (p *CircuitBreakerProducer) Publish(ctx context.Context, msg mq.Message) error {
	err := p.cb.Do(ctx, func() error {
		return p.next.Publish(ctx, msg)
	})
	if errors.Is(err, circuitbreaker.ErrOpen) {
		return pkgerrors.ErrBroker.WithCause(err).WithMessage("publish circuit open")
	}
	return err
}

func (p *CircuitBreakerProducer) Close() error {
	return p.next.Close()
}

var _ Producer = (*CircuitBreakerProducer)(nil)
