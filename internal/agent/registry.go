package agent

import (
	"context"
	"errors"
	"sort"

	"simwatch/internal/mq"
	"simwatch/internal/pipeline"
	pkgerrors "simwatch/pkg/errors"
)

// Handler runs the pipeline of one message type.
type Handler interface {
	Handle(ctx context.Context, c *Context) pipeline.Result
}

type HandlerFunc func(ctx context.Context, c *Context) pipeline.Result

func (f HandlerFunc) Handle(ctx context.Context, c *Context) pipeline.Result { return f(ctx, c) }

// Registry maps message types to handlers.
type Registry struct {
	handlers map[mq.Type]Handler
}

func NewRegistry() *Registry {
	return &Registry{handlers: make(map[mq.Type]Handler)}
}

// Register binds h to t, replacing any previous handler.
func (r *Registry) Register(t mq.Type, h Handler) {
	r.handlers[t] = h
}

// Lookup returns the handler for t. A missing handler is a wiring mistake
// and is coded ErrConfig.
func (r *Registry) Lookup(t mq.Type) (Handler, error) {
	h, ok := r.handlers[t]
	if !ok || h == nil {
		return nil, pkgerrors.ErrConfig.WithMessage("no handler registered for message type %q", t)
	}
	return h, nil
}

// Types returns the registered types in code order.
func (r *Registry) Types() []mq.Type {
	out := make([]mq.Type, 0, len(r.handlers))
	for t := range r.handlers {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Validate checks that every type consumed by the given agents has a
// handler, reporting all gaps at once.
func (r *Registry) Validate(defs ...Definition) error {
	var errs []error
	for _, d := range defs {
		for _, t := range d.Types() {
			if _, err := r.Lookup(t); err != nil {
				errs = append(errs, pkgerrors.ErrConfig.WithMessage("agent %s: no handler for type %s", d.Name, t))
			}
		}
	}
	if len(errs) > 0 {
		return pkgerrors.ErrConfig.WithCause(errors.Join(errs...))
	}
	return nil
}

// Delegator dispatches deliveries of one agent to their handlers.
type Delegator struct {
	def      Definition
	registry *Registry
}

// NewDelegator validates that reg covers def before any message is taken.
func NewDelegator(def Definition, reg *Registry) (*Delegator, error) {
	if err := reg.Validate(def); err != nil {
		return nil, err
	}
	return &Delegator{def: def, registry: reg}, nil
}

// Resolve returns the handler for t. A type not routed to this agent is a
// routing mistake and is coded ErrConfig.
func (d *Delegator) Resolve(t mq.Type) (Handler, error) {
	if !d.def.Queue.Accepts(t) {
		return nil, pkgerrors.ErrConfig.WithMessage("message type %q is not routed to agent %s", t, d.def.Name)
	}
	return d.registry.Lookup(t)
}

func (d *Delegator) Definition() Definition { return d.def }
