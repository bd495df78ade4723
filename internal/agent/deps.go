package agent

import (
	"context"
	"time"

	"simwatch/internal/conso"
	"simwatch/internal/feed"
	"simwatch/internal/logger"
	"simwatch/internal/mq"
	"simwatch/internal/vocabulary"
	"simwatch/pkg/cel"
)

// DraftWriter stores vocabulary drafts for later approval.
type DraftWriter interface {
	Upsert(ctx context.Context, drafts []vocabulary.Draft) error
}

// Broadcaster pushes front-end notifications to connected clients.
type Broadcaster interface {
	Broadcast(ctx context.Context, ev feed.Event) (int, error)
}

// Deps are the collaborators handlers share across deliveries. Nil
// optional collaborators disable the step that uses them.
type Deps struct {
	Vocabulary  *vocabulary.Cache
	Drafts      DraftWriter
	Feed        Broadcaster
	ConsoParser conso.Parser
	ConsoRules  *cel.RuleSet
	// WarningDelay is used when a job start does not carry its own.
	WarningDelay time.Duration
	Logger       logger.Logger
}

// NewHandlerRegistry registers the handler of every message type.
func NewHandlerRegistry(d *Deps) *Registry {
	if d.ConsoParser == nil {
		d.ConsoParser = conso.JSONParser{}
	}
	if d.Logger == nil {
		d.Logger = logger.NopLogger()
	}

	m := &monitoring{deps: d}
	s := &supervision{deps: d}
	c := &consumption{deps: d}
	n := &notifications{deps: d}

	r := NewRegistry()
	r.Register(mq.TypeJobStart, HandlerFunc(m.jobStart))
	r.Register(mq.TypePostProcessingStart, HandlerFunc(m.jobStart))
	r.Register(mq.TypeJobEnd, HandlerFunc(m.jobEnd))
	r.Register(mq.TypePostProcessingEnd, HandlerFunc(m.jobEnd))
	r.Register(mq.TypeJobError, HandlerFunc(m.jobError))
	r.Register(mq.TypePostProcessingError, HandlerFunc(m.jobError))
	r.Register(mq.TypeConsoReport, HandlerFunc(c.report))
	r.Register(mq.TypeLateJobCheck, HandlerFunc(s.lateCheck))
	r.Register(mq.TypeAlert, HandlerFunc(n.alert))
	r.Register(mq.TypeCVUpdate, HandlerFunc(n.vocabularyDrafts))
	r.Register(mq.TypeFrontEnd, HandlerFunc(n.frontEnd))
	return r
}
