package broker

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/segmentio/kafka-go"

	"simwatch/internal/mq"
)

type fakeAcker struct {
	mu    sync.Mutex
	acked []uint64
	other int
}

func (a *fakeAcker) Ack(tag uint64, multiple bool) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.acked = append(a.acked, tag)
	return nil
}

func (a *fakeAcker) Nack(tag uint64, multiple, requeue bool) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.other++
	return nil
}

func (a *fakeAcker) Reject(tag uint64, requeue bool) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.other++
	return nil
}

func (a *fakeAcker) tags() []uint64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]uint64(nil), a.acked...)
}

type published struct {
	exchange string
	key      string
	msg      amqp.Publishing
}

type fakeConfirm struct {
	acked bool
	err   error
}

func (c fakeConfirm) WaitContext(context.Context) (bool, error) { return c.acked, c.err }

type fakeChannel struct {
	mu         sync.Mutex
	deliveries chan amqp.Delivery
	closeRecv  chan *amqp.Error
	exchanges  []string
	queues     []string
	bindings   []string
	published  []published
	cancelled  []string
	confirm    bool
	publishErr error
	nack       bool
	closed     bool
}

func newFakeChannel(ds ...amqp.Delivery) *fakeChannel {
	ch := &fakeChannel{deliveries: make(chan amqp.Delivery, len(ds)+1)}
	for _, d := range ds {
		ch.deliveries <- d
	}
	return ch
}

func (c *fakeChannel) Qos(int, int, bool) error { return nil }

func (c *fakeChannel) ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.exchanges = append(c.exchanges, name)
	return nil
}

func (c *fakeChannel) QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.queues = append(c.queues, name)
	return amqp.Queue{Name: name}, nil
}

func (c *fakeChannel) QueueBind(name, key, exchange string, noWait bool, args amqp.Table) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.bindings = append(c.bindings, exchange+"/"+key)
	return nil
}

func (c *fakeChannel) Consume(queue, consumer string, autoAck, exclusive, noLocal, noWait bool, args amqp.Table) (<-chan amqp.Delivery, error) {
	return c.deliveries, nil
}

func (c *fakeChannel) Cancel(consumer string, noWait bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cancelled = append(c.cancelled, consumer)
	return nil
}

func (c *fakeChannel) Confirm(bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.confirm = true
	return nil
}

func (c *fakeChannel) Publish(ctx context.Context, exchange, key string, msg amqp.Publishing) (confirmation, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.publishErr != nil {
		return nil, c.publishErr
	}
	c.published = append(c.published, published{exchange: exchange, key: key, msg: msg})
	if !c.confirm {
		return nil, nil
	}
	return fakeConfirm{acked: !c.nack}, nil
}

func (c *fakeChannel) NotifyClose(receiver chan *amqp.Error) chan *amqp.Error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closeRecv = receiver
	return receiver
}

func (c *fakeChannel) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *fakeChannel) publishedCopy() []published {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]published(nil), c.published...)
}

type fakeConn struct {
	mu        sync.Mutex
	ch        *fakeChannel
	closeRecv chan *amqp.Error
	closed    bool
}

func (c *fakeConn) Channel() (amqpChannel, error) { return c.ch, nil }

func (c *fakeConn) NotifyClose(receiver chan *amqp.Error) chan *amqp.Error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closeRecv = receiver
	return receiver
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *fakeConn) IsClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// drop simulates the broker closing the connection.
func (c *fakeConn) drop() {
	c.mu.Lock()
	recv := c.closeRecv
	c.mu.Unlock()
	recv <- &amqp.Error{Code: amqp.ConnectionForced, Reason: "broker restarting"}
}

// dialerOf hands out conns in order, failing the first failFirst dials,
// and records when each dial happened.
type dialerOf struct {
	mu        sync.Mutex
	conns     []*fakeConn
	failFirst int
	dials     int
	at        []time.Time
}

func (d *dialerOf) dial(context.Context) (amqpConnection, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.at = append(d.at, time.Now())
	d.dials++
	if d.dials <= d.failFirst {
		return nil, errors.New("connection refused")
	}
	return d.conns[(d.dials-d.failFirst-1)%len(d.conns)], nil
}

// gaps returns the time between consecutive dials.
func (d *dialerOf) gaps() []time.Duration {
	d.mu.Lock()
	defer d.mu.Unlock()
	var out []time.Duration
	for i := 1; i < len(d.at); i++ {
		out = append(out, d.at[i].Sub(d.at[i-1]))
	}
	return out
}

func (d *dialerOf) count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dials
}

func delivery(acker amqp.Acknowledger, tag uint64, typ mq.Type) amqp.Delivery {
	return amqp.Delivery{
		Acknowledger:    acker,
		DeliveryTag:     tag,
		Type:            string(typ),
		MessageId:       uuid.NewString(),
		ContentType:     mq.ContentTypeJSON,
		ContentEncoding: mq.EncodingUTF8,
		RoutingKey:      string(typ),
		Headers:         amqp.Table{mq.HeaderProducerID: mq.ProducerLibIGCM},
		Body:            []byte(`{"simulation_uid":"abc"}`),
	}
}

// recordingProducer captures published messages and fails on demand.
type recordingProducer struct {
	mu     sync.Mutex
	msgs   []mq.Message
	err    error
	calls  int
	closed bool
}

func (p *recordingProducer) Publish(_ context.Context, msg mq.Message) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	if p.err != nil {
		return p.err
	}
	p.msgs = append(p.msgs, msg)
	return nil
}

func (p *recordingProducer) Close() error {
	p.closed = true
	return nil
}

func (p *recordingProducer) setErr(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.err = err
}

type fakeWriter struct {
	mu   sync.Mutex
	msgs []kafka.Message
	err  error
}

func (w *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *fakeWriter) Close() error { return nil }

type fakeReader struct {
	mu        sync.Mutex
	msgs      []kafka.Message
	committed []int64
	// commitErr fails the commit of the message at that offset.
	commitErr map[int64]error
}

func (r *fakeReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	r.mu.Lock()
	if len(r.msgs) > 0 {
		m := r.msgs[0]
		r.msgs = r.msgs[1:]
		r.mu.Unlock()
		return m, nil
	}
	r.mu.Unlock()
	<-ctx.Done()
	return kafka.Message{}, ctx.Err()
}

func (r *fakeReader) CommitMessages(_ context.Context, msgs ...kafka.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range msgs {
		if err := r.commitErr[m.Offset]; err != nil {
			return err
		}
		r.committed = append(r.committed, m.Offset)
	}
	return nil
}

func (r *fakeReader) Close() error { return nil }
