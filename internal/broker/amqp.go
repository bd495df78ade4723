package broker

import (
	"context"
	"fmt"
	"net/url"
	"strconv"

	amqp "github.com/rabbitmq/amqp091-go"

	"simwatch/internal/config"
	"simwatch/internal/mq"
	"simwatch/pkg/tracing"
)

// amqpConnection and amqpChannel are the slices of the amqp091 API the
// broker uses, narrowed so tests can substitute fakes.
type amqpConnection interface {
	Channel() (amqpChannel, error)
	NotifyClose(receiver chan *amqp.Error) chan *amqp.Error
	Close() error
	IsClosed() bool
}

type amqpChannel interface {
	Qos(prefetchCount, prefetchSize int, global bool) error
	ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error
	QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error)
	QueueBind(name, key, exchange string, noWait bool, args amqp.Table) error
	Consume(queue, consumer string, autoAck, exclusive, noLocal, noWait bool, args amqp.Table) (<-chan amqp.Delivery, error)
	Cancel(consumer string, noWait bool) error
	Confirm(noWait bool) error
	Publish(ctx context.Context, exchange, key string, msg amqp.Publishing) (confirmation, error)
	NotifyClose(receiver chan *amqp.Error) chan *amqp.Error
	Close() error
}

// confirmation is a pending publisher confirm.
type confirmation interface {
	WaitContext(ctx context.Context) (bool, error)
}

// Dialer opens a broker connection.
type Dialer func(ctx context.Context) (amqpConnection, error)

// AMQPDialer dials the broker described by cfg.
func AMQPDialer(cfg config.RabbitMQConfig) Dialer {
	return func(ctx context.Context) (amqpConnection, error) {
		conn, err := amqp.DialConfig(AMQPURL(cfg), amqp.Config{
			Heartbeat: cfg.Heartbeat,
			Vhost:     cfg.VHost,
			Properties: amqp.Table{
				"connection_name": "simwatch",
			},
		})
		if err != nil {
			return nil, err
		}
		return &connAdapter{conn: conn}, nil
	}
}

// AMQPURL returns cfg.URL when set, otherwise builds one from the parts.
func AMQPURL(cfg config.RabbitMQConfig) string {
	if cfg.URL != "" {
		return cfg.URL
	}
	u := url.URL{
		Scheme: "amqp",
		Host:   cfg.Host + ":" + strconv.Itoa(cfg.Port),
	}
	if cfg.User != "" {
		u.User = url.UserPassword(cfg.User, cfg.Password)
	}
	vhost := cfg.VHost
	if vhost == "" {
		vhost = "/"
	}
	return u.String() + "/" + url.PathEscape(vhost)
}

type connAdapter struct {
	conn *amqp.Connection
}

func (c *connAdapter) Channel() (amqpChannel, error) {
	ch, err := c.conn.Channel()
	if err != nil {
		return nil, err
	}
	return &channelAdapter{Channel: ch}, nil
}

func (c *connAdapter) NotifyClose(receiver chan *amqp.Error) chan *amqp.Error {
	return c.conn.NotifyClose(receiver)
}

func (c *connAdapter) Close() error   { return c.conn.Close() }
func (c *connAdapter) IsClosed() bool { return c.conn.IsClosed() }

type channelAdapter struct {
	*amqp.Channel
}

func (c *channelAdapter) Publish(ctx context.Context, exchange, key string, msg amqp.Publishing) (confirmation, error) {
	dc, err := c.Channel.PublishWithDeferredConfirmWithContext(ctx, exchange, key, false, false, msg)
	if err != nil {
		return nil, err
	}
	if dc == nil {
		return nil, nil
	}
	return dc, nil
}

// toPublishing maps a built message onto AMQP properties. The first
// correlation id rides in the native correlation_id property; all three are
// also present as headers.
func toPublishing(ctx context.Context, msg mq.Message) amqp.Publishing {
	p := msg.Properties
	headers := amqp.Table{}
	for k, v := range p.Headers() {
		headers[k] = v
	}
	if d := p.Delay(); d > 0 {
		headers[mq.HeaderDelay] = d
	}
	tracing.InjectHeaders(ctx, headers)

	return amqp.Publishing{
		Headers:         headers,
		ContentType:     p.ContentType(),
		ContentEncoding: p.ContentEncoding(),
		DeliveryMode:    p.DeliveryMode(),
		Priority:        p.Priority(),
		CorrelationId:   p.CorrelationID(1),
		MessageId:       p.MessageID(),
		Timestamp:       p.Timestamp(),
		Type:            string(p.Type()),
		UserId:          p.UserID(),
		AppId:           p.AppID(),
		Body:            msg.Body,
	}
}

// envelopeFromDelivery keeps the delivery's properties as sent; they are
// not revalidated on receipt.
func envelopeFromDelivery(d amqp.Delivery) *mq.Envelope {
	var correlation []string
	if d.CorrelationId != "" {
		correlation = []string{d.CorrelationId}
	}
	props := mq.RawProperties(mq.PropertiesConfig{
		Type:            mq.Type(d.Type),
		MessageID:       d.MessageId,
		AppID:           d.AppId,
		UserID:          d.UserId,
		CorrelationIDs:  correlation,
		ContentType:     d.ContentType,
		ContentEncoding: d.ContentEncoding,
		DeliveryMode:    d.DeliveryMode,
		Priority:        d.Priority,
		Timestamp:       d.Timestamp,
		Headers:         d.Headers,
	})
	return mq.NewEnvelope(props, d.Body, d.DeliveryTag)
}

func amqpErrorString(e *amqp.Error) string {
	if e == nil {
		return "closed"
	}
	return fmt.Sprintf("%d %s", e.Code, e.Reason)
}
