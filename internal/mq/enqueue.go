package mq

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"time"

	pkgerrors "simwatch/pkg/errors"
)

// Message is a fully built outgoing message.
type Message struct {
	Exchange   Exchange
	RoutingKey string
	Properties Properties
	Body       []byte
}

// Publisher sends built messages to the broker.
type Publisher interface {
	Publish(ctx context.Context, msg Message) error
}

// Sender is what pipeline tasks use to emit follow-up messages.
type Sender interface {
	Enqueue(ctx context.Context, typ Type, payload interface{}, opts ...EnqueueOption) error
}

// Defaults are applied to every message built by an Enqueuer.
type Defaults struct {
	AppID           string
	UserID          string
	ProducerID      string
	ProducerVersion string
}

type enqueueOptions struct {
	exchange        Exchange
	userID          string
	producerID      string
	producerVersion string
	messageID       string
	contentEncoding string
	priority        uint8
	delayMs         int64
	correlationIDs  []string
	headers         map[string]interface{}
	timestamp       time.Time
}

type EnqueueOption func(*enqueueOptions)

func WithExchange(e Exchange) EnqueueOption {
	return func(o *enqueueOptions) { o.exchange = e }
}

func WithUserID(id string) EnqueueOption {
	return func(o *enqueueOptions) { o.userID = id }
}

func WithProducer(id, version string) EnqueueOption {
	return func(o *enqueueOptions) {
		o.producerID = id
		o.producerVersion = version
	}
}

func WithMessageID(id string) EnqueueOption {
	return func(o *enqueueOptions) { o.messageID = id }
}

func WithContentEncoding(enc string) EnqueueOption {
	return func(o *enqueueOptions) { o.contentEncoding = enc }
}

func WithPriority(p uint8) EnqueueOption {
	return func(o *enqueueOptions) { o.priority = p }
}

// WithDelay asks the broker to hold the message for ms milliseconds.
func WithDelay(ms int64) EnqueueOption {
	return func(o *enqueueOptions) { o.delayMs = ms }
}

func WithCorrelationIDs(ids ...string) EnqueueOption {
	return func(o *enqueueOptions) { o.correlationIDs = ids }
}

// WithHeaders adds caller headers. They take precedence over generated ones.
func WithHeaders(h map[string]interface{}) EnqueueOption {
	return func(o *enqueueOptions) {
		if o.headers == nil {
			o.headers = make(map[string]interface{}, len(h))
		}
		for k, v := range h {
			o.headers[k] = v
		}
	}
}

// WithTimestamp pins the message timestamp, mostly for replay and tests.
func WithTimestamp(t time.Time) EnqueueOption {
	return func(o *enqueueOptions) { o.timestamp = t }
}

// Enqueuer builds validated messages and hands them to a Publisher.
type Enqueuer struct {
	pub      Publisher
	defaults Defaults
	now      func() time.Time
}

func NewEnqueuer(pub Publisher, defaults Defaults) *Enqueuer {
	if defaults.ProducerID == "" {
		defaults.ProducerID = ProducerSimwatch
	}
	return &Enqueuer{pub: pub, defaults: defaults, now: time.Now}
}

// SetClock replaces the time source used for message timestamps.
func (q *Enqueuer) SetClock(now func() time.Time) {
	q.now = now
}

// Build validates and encodes a message without sending it.
func (q *Enqueuer) Build(typ Type, payload interface{}, opts ...EnqueueOption) (Message, error) {
	o := enqueueOptions{
		userID:          q.defaults.UserID,
		producerID:      q.defaults.ProducerID,
		producerVersion: q.defaults.ProducerVersion,
	}
	for _, opt := range opts {
		opt(&o)
	}

	if !typ.Valid() {
		return Message{}, &ValidationError{Field: "type", Value: string(typ), Allowed: typeStrings()}
	}
	exchange := typ.Exchange()
	if o.exchange != "" {
		if !o.exchange.Valid() {
			return Message{}, &ValidationError{Field: "exchange", Value: string(o.exchange)}
		}
		if o.exchange != exchange {
			return Message{}, &ValidationError{Field: "exchange", Value: string(o.exchange), Allowed: []string{string(exchange)}}
		}
	}
	if o.delayMs < 0 {
		return Message{}, &ValidationError{Field: "delay", Value: fmt.Sprint(o.delayMs)}
	}

	body, err := encodePayload(payload, o.contentEncoding)
	if err != nil {
		return Message{}, err
	}

	headers := make(map[string]interface{}, len(o.headers)+1)
	for k, v := range o.headers {
		headers[k] = v
	}
	if o.delayMs > 0 {
		if _, ok := headers[HeaderDelay]; !ok {
			headers[HeaderDelay] = o.delayMs
		}
	}

	ts := o.timestamp
	if ts.IsZero() {
		ts = q.now()
	}

	props, err := NewProperties(PropertiesConfig{
		Type:            typ,
		MessageID:       o.messageID,
		AppID:           q.defaults.AppID,
		UserID:          o.userID,
		ProducerID:      o.producerID,
		ProducerVersion: o.producerVersion,
		CorrelationIDs:  o.correlationIDs,
		ContentEncoding: o.contentEncoding,
		Priority:        o.priority,
		Timestamp:       ts,
		Headers:         headers,
	})
	if err != nil {
		return Message{}, err
	}

	return Message{
		Exchange:   exchange,
		RoutingKey: typ.RoutingKey(),
		Properties: props,
		Body:       body,
	}, nil
}

// Enqueue builds and publishes a message.
func (q *Enqueuer) Enqueue(ctx context.Context, typ Type, payload interface{}, opts ...EnqueueOption) error {
	msg, err := q.Build(typ, payload, opts...)
	if err != nil {
		return err
	}
	if err := q.pub.Publish(ctx, msg); err != nil {
		return fmt.Errorf("publish %s to %s: %w", typ, msg.Exchange, err)
	}
	return nil
}

func encodePayload(payload interface{}, encoding string) ([]byte, error) {
	var raw []byte
	switch v := payload.(type) {
	case nil:
		raw = []byte("{}")
	case []byte:
		raw = v
	case json.RawMessage:
		raw = v
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return nil, pkgerrors.ErrValidation.WithCause(err).WithMessage("payload is not JSON serialisable")
		}
		raw = b
	}
	if encoding == EncodingBase64 {
		out := make([]byte, base64.StdEncoding.EncodedLen(len(raw)))
		base64.StdEncoding.Encode(out, raw)
		return out, nil
	}
	return raw, nil
}

// Outbox buffers messages emitted while a transaction is open. They are
// published by Flush once the transaction has committed, or dropped by
// Discard on rollback.
type Outbox struct {
	enq     *Enqueuer
	pending []Message
}

func (q *Enqueuer) NewOutbox() *Outbox {
	return &Outbox{enq: q}
}

// Enqueue validates and buffers a message. Validation errors surface
// immediately so the calling task fails inside the transaction.
func (o *Outbox) Enqueue(_ context.Context, typ Type, payload interface{}, opts ...EnqueueOption) error {
	msg, err := o.enq.Build(typ, payload, opts...)
	if err != nil {
		return err
	}
	o.pending = append(o.pending, msg)
	return nil
}

func (o *Outbox) Pending() []Message {
	return append([]Message(nil), o.pending...)
}

func (o *Outbox) Len() int { return len(o.pending) }

// Flush publishes buffered messages in order. It keeps going after a
// failed publish and returns every failure joined.
func (o *Outbox) Flush(ctx context.Context) error {
	pending := o.pending
	o.pending = nil

	var errs []error
	for _, msg := range pending {
		if err := o.enq.pub.Publish(ctx, msg); err != nil {
			errs = append(errs, fmt.Errorf("publish %s (%s): %w", msg.Properties.Type(), msg.Properties.MessageID(), err))
		}
	}
	return pkgerrors.Join(errs...)
}

func (o *Outbox) Discard() {
	o.pending = nil
}
