package broker

import (
	"context"
	"errors"
	"testing"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"simwatch/internal/config"
	"simwatch/internal/logger"
	"simwatch/internal/mq"
	pkgerrors "simwatch/pkg/errors"
)

func testRabbitConfig() config.RabbitMQConfig {
	return config.RabbitMQConfig{
		Host:              "localhost",
		Port:              5672,
		PrefetchCount:     1,
		ReconnectDelay:    time.Millisecond,
		ReconnectMaxDelay: time.Millisecond,
		ConfirmTimeout:    time.Second,
		DeclareTopology:   true,
	}
}

func TestRabbitMQConsumer_AcksEveryDeliveryAndStopsAtLimit(t *testing.T) {
	acker := &fakeAcker{}
	ch := newFakeChannel(
		delivery(acker, 1, mq.TypeJobStart),
		delivery(acker, 2, mq.TypeJobEnd),
		delivery(acker, 3, mq.TypeJobError),
	)
	d := &dialerOf{conns: []*fakeConn{{ch: ch}}}

	var seen []mq.Type
	handler := func(ctx context.Context, env *mq.Envelope) error {
		seen = append(seen, env.Type())
		if env.Type() == mq.TypeJobEnd {
			return errors.New("boom")
		}
		return nil
	}

	c, err := NewRabbitMQConsumer(testRabbitConfig(), ConsumerOptions{
		Agent: "monitoring", Queue: mq.QueueMonitoring, Handler: handler, Limit: 3,
	}, d.dial, logger.NopLogger())
	require.NoError(t, err)

	require.NoError(t, c.Run(context.Background()))

	assert.Equal(t, []mq.Type{mq.TypeJobStart, mq.TypeJobEnd, mq.TypeJobError}, seen)
	assert.Equal(t, []uint64{1, 2, 3}, acker.tags())
	assert.Zero(t, acker.other, "deliveries are never nacked or rejected")
	assert.Equal(t, StateClosed, c.State())
	assert.Len(t, ch.cancelled, 1)
	assert.Empty(t, ch.publishedCopy(), "dead-lettering is off")
}

func TestRabbitMQConsumer_DeclaresTopology(t *testing.T) {
	acker := &fakeAcker{}
	ch := newFakeChannel(delivery(acker, 1, mq.TypeConsoReport))
	d := &dialerOf{conns: []*fakeConn{{ch: ch}}}

	c, err := NewRabbitMQConsumer(testRabbitConfig(), ConsumerOptions{
		Queue: mq.QueueConso, Handler: func(context.Context, *mq.Envelope) error { return nil }, Limit: 1,
	}, d.dial, logger.NopLogger())
	require.NoError(t, err)
	require.NoError(t, c.Run(context.Background()))

	assert.ElementsMatch(t, []string{
		string(mq.ExchangeDelayed),
		string(mq.ExchangeInternal),
		string(mq.ExchangeMonitoring),
	}, ch.exchanges)
	assert.Equal(t, []string{string(mq.QueueConso)}, ch.queues)
	assert.Equal(t, []string{string(mq.ExchangeMonitoring) + "/" + string(mq.TypeConsoReport)}, ch.bindings)
}

func TestRabbitMQConsumer_ConfigErrorStopsAfterAck(t *testing.T) {
	acker := &fakeAcker{}
	ch := newFakeChannel(delivery(acker, 1, mq.TypeJobStart), delivery(acker, 2, mq.TypeJobStart))
	d := &dialerOf{conns: []*fakeConn{{ch: ch}}}

	c, err := NewRabbitMQConsumer(testRabbitConfig(), ConsumerOptions{
		Queue: mq.QueueMonitoring,
		Handler: func(context.Context, *mq.Envelope) error {
			return pkgerrors.ErrConfig.WithMessage("no handler registered")
		},
	}, d.dial, logger.NopLogger())
	require.NoError(t, err)

	err = c.Run(context.Background())
	require.Error(t, err)
	assert.True(t, pkgerrors.IsConfig(err))
	assert.Equal(t, []uint64{1}, acker.tags())
	assert.Equal(t, 1, d.count(), "configuration errors are not retried")
	assert.Equal(t, StateClosed, c.State())
}

func TestRabbitMQConsumer_RecoversPanic(t *testing.T) {
	acker := &fakeAcker{}
	ch := newFakeChannel(delivery(acker, 7, mq.TypeJobStart))
	d := &dialerOf{conns: []*fakeConn{{ch: ch}}}

	c, err := NewRabbitMQConsumer(testRabbitConfig(), ConsumerOptions{
		Queue:   mq.QueueMonitoring,
		Handler: func(context.Context, *mq.Envelope) error { panic("nil map") },
		Limit:   1,
	}, d.dial, logger.NopLogger())
	require.NoError(t, err)

	require.NoError(t, c.Run(context.Background()))
	assert.Equal(t, []uint64{7}, acker.tags())
}

func TestRabbitMQConsumer_ReconnectsAfterConnectionLoss(t *testing.T) {
	acker := &fakeAcker{}
	first := &fakeConn{ch: newFakeChannel(delivery(acker, 1, mq.TypeJobStart))}
	second := &fakeConn{ch: newFakeChannel(delivery(acker, 2, mq.TypeJobEnd))}
	d := &dialerOf{conns: []*fakeConn{first, second}}

	calls := 0
	handler := func(context.Context, *mq.Envelope) error {
		calls++
		if calls == 1 {
			first.drop()
		}
		return nil
	}

	c, err := NewRabbitMQConsumer(testRabbitConfig(), ConsumerOptions{
		Queue: mq.QueueMonitoring, Handler: handler, Limit: 2,
	}, d.dial, logger.NopLogger())
	require.NoError(t, err)

	require.NoError(t, c.Run(context.Background()))
	assert.Equal(t, 2, d.count())
	assert.Equal(t, []uint64{1, 2}, acker.tags())
	assert.True(t, first.IsClosed())
}

func TestRabbitMQConsumer_ReconnectWaitsConfiguredDelay(t *testing.T) {
	const delay = 60 * time.Millisecond
	cfg := testRabbitConfig()
	cfg.ReconnectDelay = delay
	cfg.ReconnectMaxDelay = delay

	acker := &fakeAcker{}
	const sessions = 4
	conns := make([]*fakeConn, sessions)
	for i := range conns {
		conns[i] = &fakeConn{ch: newFakeChannel(delivery(acker, uint64(i+1), mq.TypeJobStart))}
	}
	d := &dialerOf{conns: conns, failFirst: 2}

	calls := 0
	handler := func(context.Context, *mq.Envelope) error {
		calls++
		if calls < sessions {
			conns[calls-1].drop()
		}
		return nil
	}

	c, err := NewRabbitMQConsumer(cfg, ConsumerOptions{
		Queue: mq.QueueMonitoring, Handler: handler, Limit: sessions,
	}, d.dial, logger.NopLogger())
	require.NoError(t, err)
	require.NoError(t, c.Run(context.Background()))

	assert.Equal(t, 2+sessions, d.count())
	gaps := d.gaps()
	require.Len(t, gaps, 2+sessions-1)
	for i, gap := range gaps {
		assert.GreaterOrEqual(t, gap, delay, "dial %d came %s after the previous one", i+2, gap)
	}
	assert.Equal(t, []uint64{1, 2, 3, 4}, acker.tags())
}

func TestRabbitMQConsumer_DeadLettersFailures(t *testing.T) {
	cfg := testRabbitConfig()
	cfg.DeadLetter = true

	acker := &fakeAcker{}
	ch := newFakeChannel(delivery(acker, 1, mq.TypeJobEnd))
	d := &dialerOf{conns: []*fakeConn{{ch: ch}}}

	c, err := NewRabbitMQConsumer(cfg, ConsumerOptions{
		Queue:   mq.QueueMonitoring,
		Handler: func(context.Context, *mq.Envelope) error { return pkgerrors.ErrDecode.WithMessage("bad json") },
		Limit:   1,
	}, d.dial, logger.NopLogger())
	require.NoError(t, err)
	require.NoError(t, c.Run(context.Background()))

	pubs := ch.publishedCopy()
	require.Len(t, pubs, 1)
	assert.Equal(t, string(mq.ExchangeDeadLetter), pubs[0].exchange)
	assert.Equal(t, string(mq.TypeJobEnd), pubs[0].key)
	assert.Contains(t, pubs[0].msg.Headers[mq.HeaderError], "bad json")
	assert.Contains(t, ch.exchanges, string(mq.ExchangeDeadLetter))
	assert.Equal(t, []uint64{1}, acker.tags())
}

func TestRabbitMQConsumer_StopWhileIdle(t *testing.T) {
	d := &dialerOf{conns: []*fakeConn{{ch: newFakeChannel()}}}
	c, err := NewRabbitMQConsumer(testRabbitConfig(), ConsumerOptions{
		Queue: mq.QueueAlert, Handler: func(context.Context, *mq.Envelope) error { return nil },
	}, d.dial, logger.NopLogger())
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- c.Run(context.Background()) }()

	require.Eventually(t, func() bool { return c.State() == StateConsuming }, time.Second, time.Millisecond)
	c.Stop()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("consumer did not stop")
	}
	assert.Equal(t, StateClosed, c.State())
}

func TestNewRabbitMQConsumer_Validation(t *testing.T) {
	_, err := NewRabbitMQConsumer(testRabbitConfig(), ConsumerOptions{Queue: "q-nope", Handler: func(context.Context, *mq.Envelope) error { return nil }}, nil, logger.NopLogger())
	assert.True(t, pkgerrors.IsValidation(err))

	_, err = NewRabbitMQConsumer(testRabbitConfig(), ConsumerOptions{Queue: mq.QueueCV}, nil, logger.NopLogger())
	assert.True(t, pkgerrors.IsValidation(err))
}

func TestCheckBindings(t *testing.T) {
	tests := []struct {
		name     string
		queue    mq.Queue
		bindings []mq.Binding
		wantErr  string
	}{
		{name: "declared exchange", queue: mq.QueueMonitoring, bindings: mq.QueueMonitoring.Bindings()},
		{name: "dead letter", queue: mq.QueueDeadLetter, bindings: mq.QueueDeadLetter.Bindings()},
		{name: "unknown exchange", queue: mq.QueueAlert, bindings: []mq.Binding{
			{Exchange: mq.ExchangeInternal, RoutingKey: "8000"},
			{Exchange: "x-nope", RoutingKey: "8000"},
		}, wantErr: `unknown exchange "x-nope"`},
		{name: "no bindings", queue: mq.QueueAlert, wantErr: "no bindings"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := checkBindings(tt.queue, tt.bindings)
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			assert.True(t, pkgerrors.IsValidation(err))
			assert.ErrorContains(t, err, tt.wantErr)
		})
	}
}

func TestEveryQueueBindsDeclaredExchanges(t *testing.T) {
	for _, q := range []mq.Queue{mq.QueueMonitoring, mq.QueueConso, mq.QueueSupervision, mq.QueueAlert, mq.QueueCV, mq.QueueFrontEnd, mq.QueueDeadLetter} {
		assert.NoError(t, checkBindings(q, q.Bindings()), q)
	}
}

func buildMessage(t *testing.T, typ mq.Type, opts ...mq.EnqueueOption) mq.Message {
	t.Helper()
	msg, err := mq.NewEnqueuer(nil, mq.Defaults{AppID: "simwatch", ProducerVersion: "1.0.0"}).Build(typ, map[string]string{"job_uid": "j1"}, opts...)
	require.NoError(t, err)
	return msg
}

func TestRabbitMQProducer_PublishesWithConfirms(t *testing.T) {
	ch := newFakeChannel()
	d := &dialerOf{conns: []*fakeConn{{ch: ch}}}
	p := NewRabbitMQProducer(testRabbitConfig(), d.dial, logger.NopLogger())

	msg := buildMessage(t, mq.TypeLateJobCheck, mq.WithDelay(5000), mq.WithCorrelationIDs("sim-1", "job-1"))
	require.NoError(t, p.Publish(context.Background(), msg))
	require.NoError(t, p.Publish(context.Background(), buildMessage(t, mq.TypeAlert)))

	assert.Equal(t, 1, d.count(), "connection is reused")
	assert.True(t, ch.confirm)

	pubs := ch.publishedCopy()
	require.Len(t, pubs, 2)
	got := pubs[0]
	assert.Equal(t, string(mq.ExchangeDelayed), got.exchange)
	assert.Equal(t, string(mq.TypeLateJobCheck), got.key)
	assert.Equal(t, string(mq.TypeLateJobCheck), got.msg.Type)
	assert.Equal(t, msg.Properties.MessageID(), got.msg.MessageId)
	assert.Equal(t, "sim-1", got.msg.CorrelationId)
	assert.Equal(t, "job-1", got.msg.Headers[mq.HeaderCorrelationID2])
	assert.Equal(t, int64(5000), got.msg.Headers[mq.HeaderDelay])
	assert.Equal(t, mq.DeliveryPersistent, got.msg.DeliveryMode)
	assert.Contains(t, ch.exchanges, string(mq.ExchangeMonitoring))
}

func TestRabbitMQProducer_NackIsBrokerError(t *testing.T) {
	ch := newFakeChannel()
	ch.nack = true
	d := &dialerOf{conns: []*fakeConn{{ch: ch}}}
	p := NewRabbitMQProducer(testRabbitConfig(), d.dial, logger.NopLogger())

	err := p.Publish(context.Background(), buildMessage(t, mq.TypeAlert))
	require.Error(t, err)
	assert.True(t, pkgerrors.IsBroker(err))
}

func TestRabbitMQProducer_RedialsAfterFailure(t *testing.T) {
	bad := newFakeChannel()
	bad.publishErr = amqp.ErrClosed
	good := newFakeChannel()
	d := &dialerOf{conns: []*fakeConn{{ch: bad}, {ch: good}}}
	p := NewRabbitMQProducer(testRabbitConfig(), d.dial, logger.NopLogger())

	err := p.Publish(context.Background(), buildMessage(t, mq.TypeAlert))
	require.Error(t, err)
	assert.True(t, pkgerrors.IsBroker(err))

	require.NoError(t, p.Publish(context.Background(), buildMessage(t, mq.TypeAlert)))
	assert.Equal(t, 2, d.count())
	assert.Len(t, good.publishedCopy(), 1)
}

func TestEnvelopeFromDelivery(t *testing.T) {
	d := delivery(&fakeAcker{}, 3, mq.TypeJobStart)
	d.CorrelationId = "sim-1"
	d.Headers[mq.HeaderCorrelationID2] = "job-1"
	d.UserId = mq.UserLibIGCM

	env := envelopeFromDelivery(d)
	assert.Equal(t, mq.TypeJobStart, env.Type())
	assert.Equal(t, d.MessageId, env.UID())
	assert.Equal(t, uint64(3), env.DeliveryTag())
	assert.Equal(t, []string{"sim-1", "job-1", ""}, env.Properties().CorrelationIDs())
	assert.Equal(t, mq.ProducerLibIGCM, env.Properties().ProducerID())
	assert.Equal(t, mq.UserLibIGCM, env.Properties().UserID())
}

func TestAMQPURL(t *testing.T) {
	tests := []struct {
		name string
		cfg  config.RabbitMQConfig
		want string
	}{
		{"explicit url wins", config.RabbitMQConfig{URL: "amqps://u:p@mq:5671/prod", Host: "ignored"}, "amqps://u:p@mq:5671/prod"},
		{"default vhost", config.RabbitMQConfig{Host: "mq", Port: 5672, User: "guest", Password: "guest", VHost: "/"}, "amqp://guest:guest@mq:5672/%2F"},
		{"named vhost", config.RabbitMQConfig{Host: "mq", Port: 5672, VHost: "simwatch"}, "amqp://mq:5672/simwatch"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, AMQPURL(tt.cfg))
		})
	}
}
