package agent

import (
	"context"
	"errors"
	"fmt"
	"time"

	"simwatch/internal/logger"
	"simwatch/internal/mq"
	"simwatch/internal/pipeline"
	"simwatch/internal/store"
	pkgerrors "simwatch/pkg/errors"
	"simwatch/pkg/metrics"
)

// Outcome is how the boundary finished with a delivery.
type Outcome int

const (
	OutcomeCommitted Outcome = iota
	OutcomeAborted
	OutcomeDuplicate
	OutcomeFailed
)

func (o Outcome) String() string {
	switch o {
	case OutcomeCommitted:
		return "committed"
	case OutcomeAborted:
		return "aborted"
	case OutcomeDuplicate:
		return "duplicate"
	case OutcomeFailed:
		return "failed"
	default:
		return fmt.Sprintf("outcome(%d)", int(o))
	}
}

// Deduplicator is the fast duplicate check in front of the database.
type Deduplicator interface {
	Seen(ctx context.Context, uid string) (bool, error)
	Remember(ctx context.Context, uid string) error
}

// Archiver keeps a raw copy of committed messages.
type Archiver interface {
	Store(ctx context.Context, m *store.Message) error
}

// Callback runs the business pipeline of one delivery inside the
// transaction.
type Callback func(ctx context.Context, c *Context) pipeline.Result

type BoundaryOption func(*Boundary)

func WithDeduplicator(d Deduplicator) BoundaryOption {
	return func(b *Boundary) { b.dedup = d }
}

func WithArchiver(a Archiver) BoundaryOption {
	return func(b *Boundary) { b.archive = a }
}

// WithAutoDelete purges the stored content of the given types once their
// pipeline has run.
func WithAutoDelete(types ...mq.Type) BoundaryOption {
	return func(b *Boundary) {
		for _, t := range types {
			b.autoDelete[t] = true
		}
	}
}

func WithClock(c Clock) BoundaryOption {
	return func(b *Boundary) { b.clock = c }
}

// Boundary persists each delivery and runs its pipeline in one
// transaction. Follow-up messages are held in an outbox and published only
// after commit.
type Boundary struct {
	agent      string
	db         store.TxRunner
	enqueuer   *mq.Enqueuer
	dedup      Deduplicator
	archive    Archiver
	autoDelete map[mq.Type]bool
	clock      Clock
	logger     logger.Logger
}

func NewBoundary(agent string, db store.TxRunner, enq *mq.Enqueuer, log logger.Logger, opts ...BoundaryOption) *Boundary {
	b := &Boundary{
		agent:      agent,
		db:         db,
		enqueuer:   enq,
		autoDelete: make(map[mq.Type]bool),
		clock:      SystemClock,
		logger:     log,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Process stores env and runs cb on it. Duplicates are skipped without
// calling cb. The returned error is the pipeline failure, if any; the
// delivery is acknowledged either way.
func (b *Boundary) Process(ctx context.Context, env *mq.Envelope, cb Callback) (Outcome, error) {
	uid := env.UID()
	typ := env.Type()

	if b.dedup != nil {
		seen, err := b.dedup.Seen(ctx, uid)
		if err != nil {
			return OutcomeFailed, err
		}
		if seen {
			b.logger.WarnwCtx(ctx, "duplicate message skipped", "type", typ, "uid", uid, "source", "redis")
			return OutcomeDuplicate, nil
		}
	}

	record := recordFromEnvelope(env)
	outbox := b.enqueuer.NewOutbox()
	var (
		result    pipeline.Result
		duplicate bool
	)

	err := b.db.WithTx(ctx, func(s store.Stores) error {
		if err := s.Messages().Insert(ctx, record); err != nil {
			if errors.Is(err, store.ErrDuplicateKey) {
				duplicate = true
			}
			return err
		}

		c := &Context{
			Agent:    b.agent,
			Envelope: env,
			Record:   record,
			Stores:   s,
			Sender:   outbox,
			Now:      b.clock(),
			Logger:   b.logger,
		}
		result = cb(ctx, c)
		if result.Failed() {
			return result.Err
		}

		if b.autoDelete[typ] {
			b.logger.InfowCtx(ctx, "purging message content", "type", typ, "uid", uid)
			if err := s.Messages().PurgeContent(ctx, uid); err != nil {
				return fmt.Errorf("purge content of %s: %w", uid, err)
			}
		}
		return nil
	})

	switch {
	case duplicate:
		outbox.Discard()
		metrics.IncDuplicate(b.agent, "database")
		b.logger.WarnwCtx(ctx, "duplicate message skipped", "type", typ, "uid", uid, "source", "database")
		return OutcomeDuplicate, nil
	case err != nil:
		outbox.Discard()
		if !result.Failed() {
			b.logger.ErrorwCtx(ctx, "failed to store message",
				"type", typ,
				"uid", uid,
				"error_code", pkgerrors.CodeOf(err),
				"error", err,
			)
		}
		return OutcomeFailed, err
	}

	if flushErr := outbox.Flush(ctx); flushErr != nil {
		b.logger.ErrorwCtx(ctx, "failed to publish follow-up messages", "type", typ, "uid", uid, "error", flushErr)
	}
	b.afterCommit(ctx, record)

	if result.Status == pipeline.StatusAborted {
		return OutcomeAborted, nil
	}
	return OutcomeCommitted, nil
}

// afterCommit runs the best-effort side effects of a committed message.
func (b *Boundary) afterCommit(ctx context.Context, record *store.Message) {
	if b.dedup != nil {
		if err := b.dedup.Remember(ctx, record.UID); err != nil {
			b.logger.WarnwCtx(ctx, "failed to remember message uid", "uid", record.UID, "error", err)
		}
	}
	if b.archive != nil {
		if err := b.archive.Store(ctx, record); err != nil {
			b.logger.WarnwCtx(ctx, "failed to archive message", "uid", record.UID, "error", err)
		}
	}
}

func recordFromEnvelope(env *mq.Envelope) *store.Message {
	p := env.Properties()
	ids := p.CorrelationIDs()
	m := &store.Message{
		UID:             env.UID(),
		TypeID:          string(env.Type()),
		ProducerID:      p.ProducerID(),
		ProducerVersion: p.ProducerVersion(),
		UserID:          p.UserID(),
		AppID:           p.AppID(),
		ContentEncoding: p.ContentEncoding(),
		ContentType:     p.ContentType(),
		Content:         append([]byte(nil), env.Content()...),
		CorrelationID1:  ids[0],
		CorrelationID2:  ids[1],
		CorrelationID3:  ids[2],
	}
	if ts := p.SentAt(); !ts.IsZero() {
		m.Timestamp = ts.UTC().Truncate(time.Microsecond)
		m.TimestampRaw = ts.UnixNano()
	}
	return m
}
