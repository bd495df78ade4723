package agent

import (
	"context"

	"simwatch/internal/broker"
	"simwatch/internal/logger"
	"simwatch/internal/mq"
)

// Runner is the message handler an agent's consumer calls for each
// delivery.
type Runner struct {
	delegator *Delegator
	boundary  *Boundary
	logger    logger.Logger
}

func NewRunner(delegator *Delegator, boundary *Boundary, log logger.Logger) *Runner {
	return &Runner{delegator: delegator, boundary: boundary, logger: log}
}

// Handle resolves the handler for env and runs it inside the boundary.
// Routing mistakes are returned as ErrConfig so the consumer stops.
func (r *Runner) Handle(ctx context.Context, env *mq.Envelope) error {
	h, err := r.delegator.Resolve(env.Type())
	if err != nil {
		return err
	}

	outcome, err := r.boundary.Process(ctx, env, h.Handle)
	r.logger.DebugwCtx(ctx, "message processed",
		"agent", r.delegator.Definition().Name,
		"type", env.Type(),
		"uid", env.UID(),
		"outcome", outcome.String(),
	)
	return err
}

// HandlerFunc adapts the runner to the consumer callback.
func (r *Runner) HandlerFunc() broker.HandlerFunc {
	return r.Handle
}
