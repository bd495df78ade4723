package broker

import (
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"

	"simwatch/internal/mq"
	pkgerrors "simwatch/pkg/errors"
)

// checkBindings refuses a queue bound to an exchange that is never declared.
func checkBindings(q mq.Queue, bindings []mq.Binding) error {
	if len(bindings) == 0 {
		return pkgerrors.ErrValidation.WithMessage("queue %s has no bindings", q)
	}
	for _, b := range bindings {
		if !b.Exchange.Valid() {
			return pkgerrors.ErrValidation.WithMessage("queue %s is bound to unknown exchange %q", q, b.Exchange)
		}
	}
	return nil
}

// declareExchanges declares every routing exchange. The dead-letter
// exchange is only declared when dead-lettering is on.
func declareExchanges(ch amqpChannel, deadLetter bool) error {
	for _, ex := range mq.Exchanges() {
		if ex == mq.ExchangeDeadLetter && !deadLetter {
			continue
		}
		kind := string(ex.Kind())
		var args amqp.Table
		if ex.Kind() == mq.KindDelayed {
			args = amqp.Table{"x-delayed-type": string(mq.KindTopic)}
		}
		if err := ch.ExchangeDeclare(string(ex), kind, true, false, false, false, args); err != nil {
			return fmt.Errorf("declare exchange %s: %w", ex, err)
		}
	}
	return nil
}

// declareQueue declares q as durable and binds it to every type it serves.
func declareQueue(ch amqpChannel, q mq.Queue) error {
	if _, err := ch.QueueDeclare(string(q), true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare queue %s: %w", q, err)
	}
	for _, b := range q.Bindings() {
		if err := ch.QueueBind(string(q), b.RoutingKey, string(b.Exchange), false, nil); err != nil {
			return fmt.Errorf("bind queue %s to %s/%s: %w", q, b.Exchange, b.RoutingKey, err)
		}
	}
	return nil
}
