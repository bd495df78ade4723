package agent

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"simwatch/internal/feed"
	"simwatch/internal/logger"
	"simwatch/internal/mq"
	"simwatch/internal/store/memstore"
	"simwatch/internal/vocabulary"
)

var epoch = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

type capturePublisher struct {
	mu   sync.Mutex
	msgs []mq.Message
	err  error
}

func (p *capturePublisher) Publish(_ context.Context, msg mq.Message) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.msgs = append(p.msgs, msg)
	return nil
}

func (p *capturePublisher) ofType(t mq.Type) []mq.Message {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []mq.Message
	for _, m := range p.msgs {
		if m.Properties.Type() == t {
			out = append(out, m)
		}
	}
	return out
}

func (p *capturePublisher) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.msgs)
}

type recordingFeed struct {
	mu     sync.Mutex
	events []feed.Event
}

func (f *recordingFeed) Broadcast(_ context.Context, ev feed.Event) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, ev)
	return 1, nil
}

type recordingDrafts struct {
	drafts []vocabulary.Draft
}

func (d *recordingDrafts) Upsert(_ context.Context, drafts []vocabulary.Draft) error {
	d.drafts = append(d.drafts, drafts...)
	return nil
}

type harness struct {
	t    *testing.T
	db   *memstore.DB
	pub  *capturePublisher
	enq  *mq.Enqueuer
	deps *Deps
	now  time.Time
	opts []BoundaryOption
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		t:   t,
		db:  memstore.New(),
		pub: &capturePublisher{},
		now: epoch,
	}
	h.enq = mq.NewEnqueuer(h.pub, mq.Defaults{
		AppID:           "simwatch",
		UserID:          mq.UserSimwatch,
		ProducerID:      mq.ProducerSimwatch,
		ProducerVersion: "1.0.0",
	})
	h.enq.SetClock(func() time.Time { return h.now })
	h.db.SetClock(func() time.Time { return h.now })
	h.deps = &Deps{WarningDelay: time.Hour, Logger: logger.NopLogger()}
	return h
}

// envelope builds a delivery as a producer would have sent it.
func (h *harness) envelope(typ mq.Type, payload interface{}, opts ...mq.EnqueueOption) *mq.Envelope {
	h.t.Helper()
	msg, err := h.enq.Build(typ, payload, opts...)
	require.NoError(h.t, err)
	return mq.NewEnvelope(msg.Properties, msg.Body, 1)
}

// rawEnvelope carries body as is, bypassing payload encoding.
func (h *harness) rawEnvelope(typ mq.Type, body string) *mq.Envelope {
	h.t.Helper()
	msg, err := h.enq.Build(typ, nil)
	require.NoError(h.t, err)
	return mq.NewEnvelope(msg.Properties, []byte(body), 1)
}

func (h *harness) runner(agentName string) *Runner {
	h.t.Helper()
	def, err := Lookup(agentName)
	require.NoError(h.t, err)
	del, err := NewDelegator(def, NewHandlerRegistry(h.deps))
	require.NoError(h.t, err)
	opts := append([]BoundaryOption{WithClock(func() time.Time { return h.now })}, h.opts...)
	b := NewBoundary(def.Name, h.db, h.enq, logger.NopLogger(), opts...)
	return NewRunner(del, b, logger.NopLogger())
}

func (h *harness) deliver(agentName string, env *mq.Envelope) error {
	return h.runner(agentName).Handle(context.Background(), env)
}

// decodeBody unmarshals a published message body.
func decodeBody(t *testing.T, msg mq.Message, v interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(msg.Body, v))
}

func jobStartPayload() map[string]interface{} {
	return map[string]interface{}{
		"jobuid":     "J1",
		"simuid":     "S1",
		"centre":     "tgcc",
		"machine":    "m1",
		"login":      "u1",
		"experiment": "e1",
		"model":      "md1",
		"space":      "sp1",
	}
}
