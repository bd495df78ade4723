package broker

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"

	"simwatch/internal/config"
	"simwatch/internal/logger"
	"simwatch/internal/mq"
	pkgerrors "simwatch/pkg/errors"
	"simwatch/pkg/logging"
	"simwatch/pkg/metrics"
	"simwatch/pkg/retry"
	"simwatch/pkg/tracing"
)

var errConnectionLost = pkgerrors.ErrBroker.WithMessage("connection lost").AsRetryable()

type RabbitMQConsumer struct {
	cfg     config.RabbitMQConfig
	opts    ConsumerOptions
	dial    Dialer
	logger  logger.Logger
	state   *stateMachine
	tag     string
	backoff backoff.BackOff

	stopOnce sync.Once
	stopCh   chan struct{}
	handled  int
}

func NewRabbitMQConsumer(cfg config.RabbitMQConfig, opts ConsumerOptions, dial Dialer, log logger.Logger) (*RabbitMQConsumer, error) {
	if !opts.Queue.Valid() {
		return nil, pkgerrors.ErrValidation.WithMessage("unknown queue %q", opts.Queue)
	}
	if err := checkBindings(opts.Queue, opts.Queue.Bindings()); err != nil {
		return nil, err
	}
	if opts.Handler == nil {
		return nil, pkgerrors.ErrValidation.WithMessage("consumer for %s has no handler", opts.Queue)
	}
	if opts.Agent == "" {
		opts.Agent = string(opts.Queue)
	}
	if dial == nil {
		dial = AMQPDialer(cfg)
	}
	if cfg.PrefetchCount < 1 {
		cfg.PrefetchCount = 1
	}

	initial := cfg.ReconnectDelay
	if initial <= 0 {
		initial = time.Second
	}
	maxDelay := cfg.ReconnectMaxDelay
	if maxDelay < initial {
		maxDelay = initial
	}

	return &RabbitMQConsumer{
		cfg:     cfg,
		opts:    opts,
		dial:    dial,
		logger:  log,
		state:   newStateMachine(opts.Agent, log),
		tag:     fmt.Sprintf("simwatch-%s-%s", opts.Agent, uuid.NewString()[:8]),
		backoff: retry.ReconnectBackoff(initial, maxDelay),
		stopCh:  make(chan struct{}),
	}, nil
}

func (c *RabbitMQConsumer) State() State { return c.state.get() }

// Stop asks Run to cancel the subscription and return.
func (c *RabbitMQConsumer) Stop() {
	c.stopOnce.Do(func() { close(c.stopCh) })
}

func (c *RabbitMQConsumer) Close() error {
	c.Stop()
	return nil
}

func (c *RabbitMQConsumer) Run(ctx context.Context) error {
	ctx = logging.WithAgent(ctx, c.opts.Agent)
	defer c.finish()

	for {
		reached, err := c.session(ctx)
		if err == nil {
			return nil
		}
		if pkgerrors.IsConfig(err) {
			c.logger.ErrorwCtx(ctx, "Consumer stopped on configuration error", "queue", c.opts.Queue, "error", err)
			return err
		}
		if c.stopping(ctx) {
			return nil
		}

		if reached {
			c.backoff.Reset()
		}
		wait := c.backoff.NextBackOff()
		c.state.set(StateConnectionLost)
		metrics.IncReconnect(c.opts.Agent)
		c.logger.WarnwCtx(ctx, "Broker connection lost, reconnecting",
			"queue", c.opts.Queue,
			"error", err,
			"retry_in", wait,
		)
		c.state.set(StateReconnecting)

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case <-c.stopCh:
			timer.Stop()
			return nil
		case <-timer.C:
		}
	}
}

func (c *RabbitMQConsumer) stopping(ctx context.Context) bool {
	select {
	case <-ctx.Done():
		return true
	case <-c.stopCh:
		return true
	default:
		return false
	}
}

func (c *RabbitMQConsumer) finish() {
	c.state.set(StateCancelling)
	c.state.set(StateClosed)
	c.logger.Infow("Consumer closed", "queue", c.opts.Queue, "handled", c.handled)
}

// session runs one connection from dial to teardown. It reports whether
// the consumer reached Consuming, so the reconnect backoff can reset.
func (c *RabbitMQConsumer) session(ctx context.Context) (bool, error) {
	c.state.set(StateConnecting)
	conn, err := c.dial(ctx)
	if err != nil {
		return false, pkgerrors.ErrBroker.WithCause(err).WithMessage("dial broker")
	}
	defer func() {
		if !conn.IsClosed() {
			_ = conn.Close()
		}
	}()
	connClosed := conn.NotifyClose(make(chan *amqp.Error, 1))
	c.state.set(StateConnected)

	ch, err := conn.Channel()
	if err != nil {
		return false, pkgerrors.ErrBroker.WithCause(err).WithMessage("open channel")
	}
	defer ch.Close()
	chClosed := ch.NotifyClose(make(chan *amqp.Error, 1))
	c.state.set(StateChannelOpen)

	if err := ch.Qos(c.cfg.PrefetchCount, 0, false); err != nil {
		return false, pkgerrors.ErrBroker.WithCause(err).WithMessage("set prefetch")
	}
	if c.cfg.DeclareTopology {
		if err := declareExchanges(ch, c.cfg.DeadLetter); err != nil {
			return false, pkgerrors.ErrBroker.WithCause(err)
		}
		if err := declareQueue(ch, c.opts.Queue); err != nil {
			return false, pkgerrors.ErrBroker.WithCause(err)
		}
	}
	c.state.set(StateQueueBound)

	deliveries, err := ch.Consume(string(c.opts.Queue), c.tag, false, false, false, false, nil)
	if err != nil {
		return false, pkgerrors.ErrBroker.WithCause(err).WithMessage("consume %s", c.opts.Queue)
	}
	c.state.set(StateConsuming)
	c.logger.InfowCtx(ctx, "Consuming", "queue", c.opts.Queue, "consumer_tag", c.tag, "prefetch", c.cfg.PrefetchCount)

	for {
		select {
		case <-ctx.Done():
			return true, c.cancel(ch)
		case <-c.stopCh:
			return true, c.cancel(ch)
		case e := <-connClosed:
			return true, errConnectionLost.WithMessage("connection closed: %s", amqpErrorString(e))
		case e := <-chClosed:
			return true, errConnectionLost.WithMessage("channel closed: %s", amqpErrorString(e))
		case d, ok := <-deliveries:
			if !ok {
				return true, errConnectionLost.WithMessage("delivery stream closed")
			}
			if err := c.handle(ctx, ch, d); err != nil {
				_ = c.cancel(ch)
				return true, err
			}
			if c.opts.Limit > 0 && c.handled >= c.opts.Limit {
				c.logger.InfowCtx(ctx, "Delivery limit reached", "queue", c.opts.Queue, "limit", c.opts.Limit)
				return true, c.cancel(ch)
			}
		}
	}
}

// cancel stops the subscription. Deliveries prefetched but not yet handled
// are requeued by the broker when the channel closes.
func (c *RabbitMQConsumer) cancel(ch amqpChannel) error {
	c.state.set(StateCancelling)
	if err := ch.Cancel(c.tag, false); err != nil {
		c.logger.Warnw("Failed to cancel consumer", "consumer_tag", c.tag, "error", err)
	}
	return nil
}

// handle runs the handler and acknowledges the delivery exactly once,
// whatever the outcome. Only a configuration error is returned.
func (c *RabbitMQConsumer) handle(ctx context.Context, ch amqpChannel, d amqp.Delivery) error {
	start := time.Now()
	env := envelopeFromDelivery(d)

	msgCtx, span := tracing.StartSpanFromHeaders(ctx, "amqp.consume", d.Headers, tracing.Delivery{
		MessageID:   env.UID(),
		Type:        string(env.Type()),
		Destination: string(c.opts.Queue),
	})
	defer span.End()
	msgCtx = logging.WithMessageID(msgCtx, env.UID())
	msgCtx = logging.WithMessageType(msgCtx, string(env.Type()))

	// Shutdown must not interrupt a delivery half way.
	handleErr := c.invoke(context.WithoutCancel(msgCtx), env)

	status := "ok"
	if handleErr != nil {
		status = "error"
		c.logger.ErrorwCtx(msgCtx, "Message processing failed", "queue", c.opts.Queue, "error", handleErr)
		if c.cfg.DeadLetter && !pkgerrors.IsConfig(handleErr) {
			c.deadLetter(msgCtx, ch, d, handleErr)
		}
	}

	if err := d.Ack(false); err != nil {
		c.logger.WarnwCtx(msgCtx, "Failed to acknowledge delivery", "delivery_tag", d.DeliveryTag, "error", err)
	}
	c.handled++
	metrics.ObserveProcessing(c.opts.Agent, string(env.Type()), status, time.Since(start))

	if pkgerrors.IsConfig(handleErr) {
		return handleErr
	}
	return nil
}

func (c *RabbitMQConsumer) invoke(ctx context.Context, env *mq.Envelope) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = pkgerrors.RecoverPanic(r)
		}
	}()
	return c.opts.Handler(ctx, env)
}

func (c *RabbitMQConsumer) deadLetter(ctx context.Context, ch amqpChannel, d amqp.Delivery, cause error) {
	headers := amqp.Table{}
	for k, v := range d.Headers {
		headers[k] = v
	}
	headers[mq.HeaderError] = cause.Error()

	pub := amqp.Publishing{
		Headers:         headers,
		ContentType:     d.ContentType,
		ContentEncoding: d.ContentEncoding,
		DeliveryMode:    amqp.Persistent,
		CorrelationId:   d.CorrelationId,
		MessageId:       d.MessageId,
		Timestamp:       d.Timestamp,
		Type:            d.Type,
		AppId:           d.AppId,
		Body:            d.Body,
	}
	if _, err := ch.Publish(ctx, string(mq.ExchangeDeadLetter), d.RoutingKey, pub); err != nil {
		c.logger.ErrorwCtx(ctx, "Failed to dead-letter message", "error", err)
		return
	}
	metrics.IncDLQ(c.opts.Agent, strings.ToLower(pkgerrors.CodeOf(cause)))
}

var _ Consumer = (*RabbitMQConsumer)(nil)
