package main

import (
	"context"

	"simwatch/internal/logger"
	"simwatch/internal/mq"
)

// logPublisher stands in for the broker under --dry-run.
type logPublisher struct {
	logger logger.Logger
}

func newLogPublisher(log logger.Logger) *logPublisher {
	return &logPublisher{logger: log}
}

func (p *logPublisher) Publish(ctx context.Context, msg mq.Message) error {
	p.logger.InfowCtx(ctx, "Would publish message",
		"exchange", msg.Exchange,
		"routing_key", msg.RoutingKey,
		"type", msg.Properties.Type(),
		"message_id", msg.Properties.MessageID(),
		"delay_ms", msg.Properties.Delay(),
		"body", string(msg.Body),
	)
	return nil
}
