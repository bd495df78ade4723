package broker

import (
	"context"
	"sync"
	"time"

	"simwatch/internal/config"
	"simwatch/internal/logger"
	"simwatch/internal/mq"
	pkgerrors "simwatch/pkg/errors"
	"simwatch/pkg/metrics"
)

// RabbitMQProducer publishes with publisher confirms. The connection is
// opened on first use and dropped after any failure so the next publish
// starts clean.
type RabbitMQProducer struct {
	cfg    config.RabbitMQConfig
	dial   Dialer
	logger logger.Logger

	mu   sync.Mutex
	conn amqpConnection
	ch   amqpChannel
}

func NewRabbitMQProducer(cfg config.RabbitMQConfig, dial Dialer, log logger.Logger) *RabbitMQProducer {
	if dial == nil {
		dial = AMQPDialer(cfg)
	}
	if cfg.ConfirmTimeout <= 0 {
		cfg.ConfirmTimeout = 10 * time.Second
	}
	return &RabbitMQProducer{cfg: cfg, dial: dial, logger: log}
}

func (p *RabbitMQProducer) Publish(ctx context.Context, msg mq.Message) error {
	start := time.Now()
	typ := string(msg.Properties.Type())

	err := p.publish(ctx, msg)
	metrics.ObservePublishDuration(string(msg.Exchange), time.Since(start))
	if err != nil {
		metrics.IncPublished(string(msg.Exchange), typ, "error")
		return err
	}
	metrics.IncPublished(string(msg.Exchange), typ, "ok")
	return nil
}

func (p *RabbitMQProducer) publish(ctx context.Context, msg mq.Message) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	ch, err := p.channel(ctx)
	if err != nil {
		return err
	}

	confirm, err := ch.Publish(ctx, string(msg.Exchange), msg.RoutingKey, toPublishing(ctx, msg))
	if err != nil {
		p.reset()
		return pkgerrors.ErrBroker.WithCause(err).WithMessage("publish to %s", msg.Exchange).AsRetryable()
	}
	if confirm == nil {
		return nil
	}

	waitCtx, cancel := context.WithTimeout(ctx, p.cfg.ConfirmTimeout)
	defer cancel()
	acked, err := confirm.WaitContext(waitCtx)
	if err != nil {
		p.reset()
		return pkgerrors.ErrBroker.WithCause(err).WithMessage("confirm timed out for %s", msg.Properties.MessageID()).AsRetryable()
	}
	if !acked {
		return pkgerrors.ErrBroker.WithMessage("broker refused message %s", msg.Properties.MessageID())
	}
	return nil
}

// channel returns the open confirm-mode channel, dialing if needed.
func (p *RabbitMQProducer) channel(ctx context.Context) (amqpChannel, error) {
	if p.ch != nil && p.conn != nil && !p.conn.IsClosed() {
		return p.ch, nil
	}
	p.reset()

	conn, err := p.dial(ctx)
	if err != nil {
		return nil, pkgerrors.ErrBroker.WithCause(err).WithMessage("dial broker").AsRetryable()
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, pkgerrors.ErrBroker.WithCause(err).WithMessage("open channel").AsRetryable()
	}
	if err := ch.Confirm(false); err != nil {
		_ = conn.Close()
		return nil, pkgerrors.ErrBroker.WithCause(err).WithMessage("enable publisher confirms")
	}
	if p.cfg.DeclareTopology {
		if err := declareExchanges(ch, p.cfg.DeadLetter); err != nil {
			_ = conn.Close()
			return nil, pkgerrors.ErrBroker.WithCause(err)
		}
	}

	p.conn, p.ch = conn, ch
	p.logger.Debugw("Producer connected", "confirm_timeout", p.cfg.ConfirmTimeout)
	return ch, nil
}

func (p *RabbitMQProducer) reset() {
	if p.ch != nil {
		_ = p.ch.Close()
	}
	if p.conn != nil && !p.conn.IsClosed() {
		_ = p.conn.Close()
	}
	p.ch, p.conn = nil, nil
}

func (p *RabbitMQProducer) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.reset()
	return nil
}

var _ Producer = (*RabbitMQProducer)(nil)
