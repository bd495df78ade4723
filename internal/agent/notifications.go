package agent

import (
	"context"
	"encoding/json"
	"fmt"

	"simwatch/internal/feed"
	"simwatch/internal/pipeline"
	"simwatch/internal/store"
	"simwatch/pkg/metrics"
)

// notifications handles the internal exchange: alerts, vocabulary drafts
// and front-end events.
type notifications struct {
	deps *Deps
}

type alertState struct {
	*Context
	payload AlertPayload
}

func (n *notifications) alert(ctx context.Context, c *Context) pipeline.Result {
	return pipeline.Invoke(ctx, c.Logger, c.Agent, []pipeline.Task[*alertState]{
		{Name: "decode", Run: func(_ context.Context, s *alertState) error { return decode(s.Context, &s.payload) }},
		{Name: "persist-alert", Run: persistAlert},
	}, nil, &alertState{Context: c})
}

func persistAlert(ctx context.Context, s *alertState) error {
	p := s.payload
	var body []byte
	if len(p.Details) > 0 || p.Message != "" {
		var err error
		body, err = json.Marshal(map[string]interface{}{"message": p.Message, "details": p.Details})
		if err != nil {
			return fmt.Errorf("encode alert payload: %w", err)
		}
	}

	if err := s.Stores.Alerts().Insert(ctx, &store.Alert{
		MessageUID:    s.Envelope.UID(),
		Trigger:       p.Trigger,
		SimulationUID: p.SimulationUID,
		JobUID:        p.JobUID,
		Payload:       body,
	}); err != nil {
		return fmt.Errorf("persist alert: %w", err)
	}
	metrics.IncAlert(p.Trigger)

	s.Logger.WarnwCtx(ctx, "operator alert",
		"trigger", p.Trigger,
		"simuid", p.SimulationUID,
		"jobuid", p.JobUID,
		"message", p.Message,
	)
	return nil
}

type draftsState struct {
	*Context
	payload CVPayload
}

func (n *notifications) vocabularyDrafts(ctx context.Context, c *Context) pipeline.Result {
	return pipeline.Invoke(ctx, c.Logger, c.Agent, []pipeline.Task[*draftsState]{
		{Name: "decode", Run: func(_ context.Context, s *draftsState) error { return s.Envelope.DecodeInto(&s.payload) }},
		{Name: "store-drafts", Run: n.storeDrafts},
	}, nil, &draftsState{Context: c})
}

func (n *notifications) storeDrafts(ctx context.Context, s *draftsState) error {
	if len(s.payload.Drafts) == 0 {
		s.Abort("no drafts")
		return nil
	}
	if n.deps.Drafts == nil {
		s.Logger.DebugwCtx(ctx, "no draft store configured, dropping drafts", "count", len(s.payload.Drafts))
		return nil
	}
	if err := n.deps.Drafts.Upsert(ctx, s.payload.Drafts); err != nil {
		return err
	}
	s.Logger.InfowCtx(ctx, "vocabulary drafts queued for approval", "count", len(s.payload.Drafts))
	return nil
}

type frontEndState struct {
	*Context
	event feed.Event
}

func (n *notifications) frontEnd(ctx context.Context, c *Context) pipeline.Result {
	return pipeline.Invoke(ctx, c.Logger, c.Agent, []pipeline.Task[*frontEndState]{
		{Name: "decode", Run: decodeEvent},
		{Name: "broadcast", Run: n.broadcast},
	}, nil, &frontEndState{Context: c})
}

func decodeEvent(_ context.Context, s *frontEndState) error {
	if err := s.Envelope.DecodeInto(&s.event); err != nil {
		return err
	}
	if err := required(map[string]string{"event_type": s.event.EventType}); err != nil {
		return err
	}
	if s.event.Timestamp.IsZero() {
		s.event.Timestamp = s.SentAt()
	}
	return nil
}

func (n *notifications) broadcast(ctx context.Context, s *frontEndState) error {
	if n.deps.Feed == nil {
		s.Logger.DebugwCtx(ctx, "no feed attached, event dropped", "event_type", s.event.EventType)
		return nil
	}
	delivered, err := n.deps.Feed.Broadcast(ctx, s.event)
	if err != nil {
		return fmt.Errorf("broadcast %s: %w", s.event.EventType, err)
	}
	s.Logger.DebugwCtx(ctx, "event broadcast", "event_type", s.event.EventType, "clients", delivered)
	return nil
}
