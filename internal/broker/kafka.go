package broker

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"

	"simwatch/internal/config"
	"simwatch/internal/constants"
	"simwatch/internal/logger"
	"simwatch/internal/mq"
	"simwatch/pkg/errors"
	"simwatch/pkg/logging"
	"simwatch/pkg/metrics"
	"simwatch/pkg/retry"
	"simwatch/pkg/tracing"
)

// Kafka header keys carrying the AMQP message properties. Application
// headers travel under their own names.
const (
	kafkaHeaderPrefix          = "amqp."
	kafkaHeaderType            = kafkaHeaderPrefix + "type"
	kafkaHeaderMessageID       = kafkaHeaderPrefix + "message_id"
	kafkaHeaderAppID           = kafkaHeaderPrefix + "app_id"
	kafkaHeaderUserID          = kafkaHeaderPrefix + "user_id"
	kafkaHeaderContentType     = kafkaHeaderPrefix + "content_type"
	kafkaHeaderContentEncoding = kafkaHeaderPrefix + "content_encoding"
	kafkaHeaderDeliveryMode    = kafkaHeaderPrefix + "delivery_mode"
	kafkaHeaderPriority        = kafkaHeaderPrefix + "priority"
	kafkaHeaderCorrelationID   = kafkaHeaderPrefix + "correlation_id"
	kafkaHeaderTimestamp       = kafkaHeaderPrefix + "timestamp"
)

// KafkaTopic maps an exchange onto its topic.
func KafkaTopic(cfg config.KafkaConfig, ex mq.Exchange) string {
	return cfg.TopicPrefix + string(ex)
}

type kafkaWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type KafkaProducer struct {
	cfg    config.KafkaConfig
	writer kafkaWriter
	logger logger.Logger
}

func NewKafkaProducer(cfg config.KafkaConfig, log logger.Logger) *KafkaProducer {
	w := &kafka.Writer{
		Addr:                   kafka.TCP(cfg.Brokers...),
		Balancer:               &kafka.Hash{},
		BatchTimeout:           constants.KafkaBatchTimeout,
		WriteTimeout:           constants.KafkaWriteTimeout,
		RequiredAcks:           kafka.RequireAll,
		AllowAutoTopicCreation: true,
		Async:                  false,
	}
	return &KafkaProducer{cfg: cfg, writer: w, logger: log}
}

func (p *KafkaProducer) Publish(ctx context.Context, msg mq.Message) error {
	return p.publishTo(ctx, KafkaTopic(p.cfg, msg.Exchange), msg)
}

func (p *KafkaProducer) publishTo(ctx context.Context, topic string, msg mq.Message) error {
	start := time.Now()
	typ := string(msg.Properties.Type())

	headers := kafkaHeaders(msg.Properties)
	headers = tracing.InjectTraceContext(ctx, headers)

	// Keyed by the first correlation id so one simulation's messages stay
	// on one partition, in order.
	key := msg.Properties.CorrelationID(1)
	if key == "" {
		key = msg.Properties.MessageID()
	}

	err := p.writer.WriteMessages(ctx,
		kafka.Message{
			Topic:   topic,
			Key:     []byte(key),
			Value:   msg.Body,
			Headers: headers,
			Time:    msg.Properties.Timestamp(),
		},
	)
	metrics.ObservePublishDuration(string(msg.Exchange), time.Since(start))

	if err != nil {
		metrics.IncPublished(string(msg.Exchange), typ, "error")
		return errors.ErrBroker.WithCause(err).WithMessage("write kafka message to %s", topic).AsRetryable()
	}
	metrics.IncPublished(string(msg.Exchange), typ, "ok")
	return nil
}

func (p *KafkaProducer) Close() error {
	return p.writer.Close()
}

func kafkaHeaders(p mq.Properties) []kafka.Header {
	headers := []kafka.Header{
		{Key: kafkaHeaderType, Value: []byte(p.Type())},
		{Key: kafkaHeaderMessageID, Value: []byte(p.MessageID())},
		{Key: kafkaHeaderContentType, Value: []byte(p.ContentType())},
		{Key: kafkaHeaderContentEncoding, Value: []byte(p.ContentEncoding())},
		{Key: kafkaHeaderDeliveryMode, Value: []byte(strconv.Itoa(int(p.DeliveryMode())))},
		{Key: kafkaHeaderPriority, Value: []byte(strconv.Itoa(int(p.Priority())))},
		{Key: kafkaHeaderTimestamp, Value: []byte(mq.FormatTimestamp(p.Timestamp()))},
	}
	if p.AppID() != "" {
		headers = append(headers, kafka.Header{Key: kafkaHeaderAppID, Value: []byte(p.AppID())})
	}
	if p.UserID() != "" {
		headers = append(headers, kafka.Header{Key: kafkaHeaderUserID, Value: []byte(p.UserID())})
	}
	if id := p.CorrelationID(1); id != "" {
		headers = append(headers, kafka.Header{Key: kafkaHeaderCorrelationID, Value: []byte(id)})
	}
	for k, v := range p.Headers() {
		headers = append(headers, kafka.Header{Key: k, Value: []byte(fmt.Sprint(v))})
	}
	return headers
}

// envelopeFromKafka rebuilds the envelope written by KafkaProducer.
// Unrecognised headers, trace context included, become message headers.
func envelopeFromKafka(m kafka.Message) *mq.Envelope {
	cfg := mq.PropertiesConfig{Headers: make(map[string]interface{})}
	for _, h := range m.Headers {
		v := string(h.Value)
		switch h.Key {
		case kafkaHeaderType:
			cfg.Type = mq.Type(v)
		case kafkaHeaderMessageID:
			cfg.MessageID = v
		case kafkaHeaderAppID:
			cfg.AppID = v
		case kafkaHeaderUserID:
			cfg.UserID = v
		case kafkaHeaderContentType:
			cfg.ContentType = v
		case kafkaHeaderContentEncoding:
			cfg.ContentEncoding = v
		case kafkaHeaderDeliveryMode:
			n, _ := strconv.Atoi(v)
			cfg.DeliveryMode = uint8(n)
		case kafkaHeaderPriority:
			n, _ := strconv.Atoi(v)
			cfg.Priority = uint8(n)
		case kafkaHeaderCorrelationID:
			cfg.CorrelationIDs = []string{v}
		case kafkaHeaderTimestamp:
			if t, err := mq.ParseTimestamp(v); err == nil {
				cfg.Timestamp = t
			}
		default:
			if !strings.HasPrefix(h.Key, kafkaHeaderPrefix) {
				cfg.Headers[h.Key] = v
			}
		}
	}
	if cfg.Timestamp.IsZero() {
		cfg.Timestamp = m.Time
	}
	return mq.NewEnvelope(mq.RawProperties(cfg), m.Value, uint64(m.Offset))
}

type kafkaReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaConsumer reads every topic feeding a queue with one consumer group
// per queue. Messages of types the queue is not bound to are committed
// without being handled. Delayed messages are held until due.
type KafkaConsumer struct {
	cfg         config.KafkaConfig
	opts        ConsumerOptions
	logger      logger.Logger
	state       *stateMachine
	newReader   func() kafkaReader
	dlqProducer *KafkaProducer
	sleep       func(ctx context.Context, d time.Duration) error
	now         func() time.Time

	mu       sync.Mutex
	reader   kafkaReader
	stopOnce sync.Once
	stopCh   chan struct{}
	handled  int
}

func NewKafkaConsumer(cfg config.KafkaConfig, opts ConsumerOptions, log logger.Logger) (*KafkaConsumer, error) {
	if !opts.Queue.Valid() {
		return nil, errors.ErrValidation.WithMessage("unknown queue %q", opts.Queue)
	}
	if err := checkBindings(opts.Queue, opts.Queue.Bindings()); err != nil {
		return nil, err
	}
	if opts.Handler == nil {
		return nil, errors.ErrValidation.WithMessage("consumer for %s has no handler", opts.Queue)
	}
	if opts.Agent == "" {
		opts.Agent = string(opts.Queue)
	}

	consumer := &KafkaConsumer{
		cfg:    cfg,
		opts:   opts,
		logger: log,
		state:  newStateMachine(opts.Agent, log),
		sleep:  sleepContext,
		now:    time.Now,
		stopCh: make(chan struct{}),
	}
	consumer.newReader = func() kafkaReader {
		return kafka.NewReader(kafka.ReaderConfig{
			Brokers:     cfg.Brokers,
			GroupID:     consumer.groupID(),
			GroupTopics: consumer.topics(),
			MinBytes:    1,
			MaxBytes:    10e6,
			MaxWait:     time.Second,
		})
	}

	if cfg.DLQTopic != "" {
		consumer.dlqProducer = NewKafkaProducer(cfg, log)
	}

	return consumer, nil
}

func (c *KafkaConsumer) groupID() string {
	return c.cfg.GroupPrefix + "-" + string(c.opts.Queue)
}

func (c *KafkaConsumer) topics() []string {
	seen := make(map[string]bool)
	var topics []string
	for _, b := range c.opts.Queue.Bindings() {
		t := KafkaTopic(c.cfg, b.Exchange)
		if !seen[t] {
			seen[t] = true
			topics = append(topics, t)
		}
	}
	return topics
}

func (c *KafkaConsumer) State() State { return c.state.get() }

func (c *KafkaConsumer) Stop() {
	c.stopOnce.Do(func() { close(c.stopCh) })
}

func (c *KafkaConsumer) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(logging.WithAgent(ctx, c.opts.Agent))
	defer cancel()
	go func() {
		select {
		case <-c.stopCh:
			cancel()
		case <-ctx.Done():
		}
	}()

	c.logger.Infow("Creating Kafka reader",
		"topics", c.topics(),
		"brokers", c.cfg.Brokers,
		"group_id", c.groupID(),
	)

	c.state.set(StateConnecting)
	reader := c.newReader()
	c.mu.Lock()
	c.reader = reader
	c.mu.Unlock()
	// The reader joins the group and subscribes in one step.
	c.state.set(StateConnected)
	c.state.set(StateChannelOpen)
	c.state.set(StateQueueBound)
	c.state.set(StateConsuming)
	defer func() {
		c.state.set(StateCancelling)
		c.state.set(StateClosed)
	}()

	c.logger.InfowCtx(ctx, "Started consuming", "queue", c.opts.Queue)

	for {
		m, err := reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				c.logger.InfowCtx(ctx, "Stopped consuming", "queue", c.opts.Queue, "handled", c.handled)
				return nil
			}
			c.logger.ErrorwCtx(ctx, "Error fetching kafka message", "error", err, "queue", c.opts.Queue)
			if err := c.sleep(ctx, time.Second); err != nil {
				return nil
			}
			continue
		}

		if err := c.handle(ctx, reader, m); err != nil {
			return err
		}
		if c.opts.Limit > 0 && c.handled >= c.opts.Limit {
			c.logger.InfowCtx(ctx, "Delivery limit reached", "queue", c.opts.Queue, "limit", c.opts.Limit)
			return nil
		}
	}
}

func (c *KafkaConsumer) handle(ctx context.Context, reader kafkaReader, m kafka.Message) error {
	env := envelopeFromKafka(m)
	commitCtx := context.WithoutCancel(ctx)

	if !c.opts.Queue.Accepts(env.Type()) {
		if err := reader.CommitMessages(commitCtx, m); err != nil {
			c.logger.WarnwCtx(ctx, "Failed to commit skipped message",
				"error", err,
				"topic", m.Topic,
				"type", env.Type(),
			)
		}
		return nil
	}

	if err := c.waitForDelay(ctx, env); err != nil {
		// Shutting down: leave the message uncommitted for the next member.
		return nil
	}

	start := time.Now()
	msgCtx, span := tracing.StartSpanFromKafkaMessage(ctx, "kafka.consume", m, tracing.Delivery{
		MessageID: env.UID(),
		Type:      string(env.Type()),
	})
	defer span.End()
	msgCtx = logging.WithMessageID(msgCtx, env.UID())
	msgCtx = logging.WithMessageType(msgCtx, string(env.Type()))
	msgCtx = context.WithoutCancel(msgCtx)

	handleErr := c.processMessageWithRetry(msgCtx, env, m.Topic)
	status := "ok"
	if handleErr != nil {
		status = "error"
		c.logger.ErrorwCtx(msgCtx, "Failed to process message", "error", handleErr, "topic", m.Topic)
		if c.dlqProducer != nil && !errors.IsConfig(handleErr) {
			if dlqErr := c.sendToDLQ(msgCtx, env, handleErr); dlqErr != nil {
				c.logger.ErrorwCtx(msgCtx, "Failed to send message to DLQ", "error", dlqErr, "topic", m.Topic)
			}
		}
	}

	if err := reader.CommitMessages(commitCtx, m); err != nil {
		c.logger.ErrorwCtx(msgCtx, "Failed to commit message", "error", err, "topic", m.Topic)
	}
	c.handled++
	metrics.ObserveProcessing(c.opts.Agent, string(env.Type()), status, time.Since(start))

	if errors.IsConfig(handleErr) {
		c.logger.ErrorwCtx(msgCtx, "Consumer stopped on configuration error", "error", handleErr)
		return handleErr
	}
	return nil
}

// waitForDelay emulates the delayed exchange: it blocks until the message's
// send time plus its x-delay, capped at MaxDelay.
func (c *KafkaConsumer) waitForDelay(ctx context.Context, env *mq.Envelope) error {
	delay := time.Duration(env.Properties().Delay()) * time.Millisecond
	if delay <= 0 {
		return nil
	}
	if c.cfg.MaxDelay > 0 && delay > c.cfg.MaxDelay {
		delay = c.cfg.MaxDelay
	}
	due := env.Properties().SentAt().Add(delay)
	wait := due.Sub(c.now())
	if wait <= 0 {
		return nil
	}
	c.logger.DebugwCtx(ctx, "Holding delayed message", "message_id", env.UID(), "wait", wait)
	return c.sleep(ctx, wait)
}

func (c *KafkaConsumer) processMessageWithRetry(ctx context.Context, env *mq.Envelope, topic string) error {
	policy := retry.Policy{
		MaxAttempts:     3,
		InitialInterval: 1 * time.Second,
		MaxInterval:     30 * time.Second,
		Multiplier:      2.0,
	}

	if c.cfg.Retry.MaxAttempts > 0 {
		policy.MaxAttempts = c.cfg.Retry.MaxAttempts
	}
	if c.cfg.Retry.InitialInterval > 0 {
		policy.InitialInterval = c.cfg.Retry.InitialInterval
	}
	if c.cfg.Retry.MaxInterval > 0 {
		policy.MaxInterval = c.cfg.Retry.MaxInterval
	}
	if c.cfg.Retry.Multiplier > 0 {
		policy.Multiplier = c.cfg.Retry.Multiplier
	}
	if c.cfg.Retry.MaxElapsedTime > 0 {
		policy.MaxElapsedTime = c.cfg.Retry.MaxElapsedTime
	}

	var last error
	err := retry.Do(ctx, policy, func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = errors.RecoverPanic(r)
				c.logger.ErrorwCtx(ctx, "Panic recovered during message processing",
					"error", err,
					"topic", topic,
				)
			}
			last = err
			// Only errors flagged retryable are worth another attempt; a
			// handler that already committed side effects must not rerun.
			if err != nil && !isRetryable(err) {
				err = retry.NewFatalError(err)
			}
		}()
		return c.opts.Handler(ctx, env)
	}, func(attempt int, err error, nextDelay time.Duration) {
		metrics.RetryAttemptsTotal.WithLabelValues(c.opts.Agent, topic).Inc()
		c.logger.WarnwCtx(ctx, "Retrying message processing",
			"attempt", attempt,
			"max_attempts", policy.MaxAttempts,
			"next_delay", nextDelay,
			"error", err,
			"topic", topic,
		)
	})
	if err != nil {
		return last
	}
	return nil
}

func isRetryable(err error) bool {
	if errors.IsConfig(err) || errors.IsDecode(err) {
		return false
	}
	var r interface{ IsRetryable() bool }
	return errors.As(err, &r) && r.IsRetryable()
}

func (c *KafkaConsumer) sendToDLQ(ctx context.Context, env *mq.Envelope, originalErr error) error {
	headers := env.Properties().Headers()
	headers[mq.HeaderError] = originalErr.Error()
	props := env.Properties()

	msg := mq.Message{
		Exchange:   mq.ExchangeDeadLetter,
		RoutingKey: string(props.Type()),
		Properties: mq.RawProperties(mq.PropertiesConfig{
			Type:            props.Type(),
			MessageID:       props.MessageID(),
			AppID:           props.AppID(),
			UserID:          props.UserID(),
			ProducerID:      props.ProducerID(),
			ProducerVersion: props.ProducerVersion(),
			CorrelationIDs:  props.CorrelationIDs(),
			ContentType:     props.ContentType(),
			ContentEncoding: props.ContentEncoding(),
			DeliveryMode:    props.DeliveryMode(),
			Priority:        props.Priority(),
			Timestamp:       props.Timestamp(),
			Headers:         headers,
		}),
		Body: env.Content(),
	}
	topic := c.cfg.DLQTopic
	if topic == "" {
		topic = KafkaTopic(c.cfg, mq.ExchangeDeadLetter)
	}
	if err := c.dlqProducer.publishTo(ctx, topic, msg); err != nil {
		return fmt.Errorf("failed to publish to DLQ: %w", err)
	}

	metrics.IncDLQ(c.opts.Agent, strings.ToLower(errors.CodeOf(originalErr)))
	c.logger.InfowCtx(ctx, "Message sent to DLQ",
		"dlq_topic", topic,
		"reason", originalErr.Error(),
	)
	return nil
}

func (c *KafkaConsumer) Close() error {
	c.Stop()
	var err error
	c.mu.Lock()
	if c.reader != nil {
		err = c.reader.Close()
	}
	c.mu.Unlock()
	if c.dlqProducer != nil {
		if closeErr := c.dlqProducer.Close(); closeErr != nil && err == nil {
			err = closeErr
		}
	}
	return err
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

var (
	_ Producer = (*KafkaProducer)(nil)
	_ Consumer = (*KafkaConsumer)(nil)
)
