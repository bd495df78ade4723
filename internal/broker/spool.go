package broker

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"go.etcd.io/bbolt"

	"simwatch/internal/logger"
	"simwatch/internal/mq"
	pkgerrors "simwatch/pkg/errors"
	"simwatch/pkg/metrics"
)

var bucketSpool = []byte("spool")

// spooledMessage is the on-disk form of an unpublished message.
type spooledMessage struct {
	Exchange        string                 `json:"exchange"`
	RoutingKey      string                 `json:"routing_key"`
	Type            string                 `json:"type"`
	MessageID       string                 `json:"message_id"`
	AppID           string                 `json:"app_id,omitempty"`
	UserID          string                 `json:"user_id,omitempty"`
	ProducerID      string                 `json:"producer_id"`
	ProducerVersion string                 `json:"producer_version,omitempty"`
	CorrelationIDs  []string               `json:"correlation_ids,omitempty"`
	ContentType     string                 `json:"content_type"`
	ContentEncoding string                 `json:"content_encoding"`
	DeliveryMode    uint8                  `json:"delivery_mode"`
	Priority        uint8                  `json:"priority"`
	Timestamp       time.Time              `json:"timestamp"`
	Headers         map[string]interface{} `json:"headers,omitempty"`
	Body            []byte                 `json:"body"`
	SpooledAt       time.Time              `json:"spooled_at"`
	LastError       string                 `json:"last_error,omitempty"`
}

func toSpooled(msg mq.Message, cause error) spooledMessage {
	p := msg.Properties
	s := spooledMessage{
		Exchange:        string(msg.Exchange),
		RoutingKey:      msg.RoutingKey,
		Type:            string(p.Type()),
		MessageID:       p.MessageID(),
		AppID:           p.AppID(),
		UserID:          p.UserID(),
		ProducerID:      p.ProducerID(),
		ProducerVersion: p.ProducerVersion(),
		CorrelationIDs:  p.CorrelationIDs(),
		ContentType:     p.ContentType(),
		ContentEncoding: p.ContentEncoding(),
		DeliveryMode:    p.DeliveryMode(),
		Priority:        p.Priority(),
		Timestamp:       p.Timestamp(),
		Headers:         p.Headers(),
		Body:            msg.Body,
		SpooledAt:       time.Now().UTC(),
	}
	if cause != nil {
		s.LastError = cause.Error()
	}
	return s
}

func (s spooledMessage) message() mq.Message {
	return mq.Message{
		Exchange:   mq.Exchange(s.Exchange),
		RoutingKey: s.RoutingKey,
		Properties: mq.RawProperties(mq.PropertiesConfig{
			Type:            mq.Type(s.Type),
			MessageID:       s.MessageID,
			AppID:           s.AppID,
			UserID:          s.UserID,
			ProducerID:      s.ProducerID,
			ProducerVersion: s.ProducerVersion,
			CorrelationIDs:  s.CorrelationIDs,
			ContentType:     s.ContentType,
			ContentEncoding: s.ContentEncoding,
			DeliveryMode:    s.DeliveryMode,
			Priority:        s.Priority,
			Timestamp:       s.Timestamp,
			Headers:         s.Headers,
		}),
		Body: s.Body,
	}
}

// SpoolingProducer writes messages the broker refused to a local bbolt
// file and replays them later. While anything is spooled, new messages
// queue behind it so publish order is kept.
type SpoolingProducer struct {
	next   Producer
	db     *bbolt.DB
	logger logger.Logger

	mu      sync.Mutex
	entropy io.Reader
}

func NewSpoolingProducer(next Producer, path string, log logger.Logger) (*SpoolingProducer, error) {
	db, err := bbolt.Open(path, 0o600, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("spool: open %s: %w", path, err)
	}
	if err := db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketSpool)
		return err
	}); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("spool: init bucket: %w", err)
	}

	p := &SpoolingProducer{
		next:    next,
		db:      db,
		logger:  log,
		entropy: ulid.Monotonic(rand.Reader, 0),
	}
	metrics.SetSpoolPending(p.Pending())
	return p, nil
}

// Publish sends msg, spooling it when the broker is unavailable. Only
// broker errors are spooled; anything else is returned.
func (p *SpoolingProducer) Publish(ctx context.Context, msg mq.Message) error {
	if p.Pending() > 0 {
		return p.spool(msg, nil)
	}

	err := p.next.Publish(ctx, msg)
	if err == nil {
		return nil
	}
	if !pkgerrors.IsBroker(err) {
		return err
	}

	p.logger.WarnwCtx(ctx, "Broker unavailable, spooling message",
		"message_id", msg.Properties.MessageID(),
		"exchange", msg.Exchange,
		"error", err,
	)
	return p.spool(msg, err)
}

func (p *SpoolingProducer) spool(msg mq.Message, cause error) error {
	val, err := json.Marshal(toSpooled(msg, cause))
	if err != nil {
		return fmt.Errorf("spool: marshal %s: %w", msg.Properties.MessageID(), err)
	}

	p.mu.Lock()
	id := ulid.MustNew(ulid.Timestamp(time.Now()), p.entropy)
	p.mu.Unlock()

	if err := p.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketSpool).Put(id[:], val)
	}); err != nil {
		return fmt.Errorf("spool: write %s: %w", msg.Properties.MessageID(), err)
	}
	metrics.SetSpoolPending(p.Pending())
	return nil
}

// Replay publishes spooled messages oldest first and stops at the first
// failure. It returns how many were sent.
func (p *SpoolingProducer) Replay(ctx context.Context) (int, error) {
	sent := 0
	defer func() { metrics.SetSpoolPending(p.Pending()) }()

	for {
		var (
			key []byte
			sm  spooledMessage
		)
		err := p.db.View(func(tx *bbolt.Tx) error {
			k, v := tx.Bucket(bucketSpool).Cursor().First()
			if k == nil {
				return nil
			}
			key = append([]byte(nil), k...)
			return json.Unmarshal(v, &sm)
		})
		if err != nil {
			return sent, fmt.Errorf("spool: read: %w", err)
		}
		if key == nil {
			return sent, nil
		}

		if err := p.next.Publish(ctx, sm.message()); err != nil {
			return sent, err
		}
		if err := p.db.Update(func(tx *bbolt.Tx) error {
			return tx.Bucket(bucketSpool).Delete(key)
		}); err != nil {
			return sent, fmt.Errorf("spool: delete: %w", err)
		}
		sent++
	}
}

// StartReplayer replays the spool every interval until ctx is done.
func (p *SpoolingProducer) StartReplayer(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if p.Pending() == 0 {
					continue
				}
				n, err := p.Replay(ctx)
				if err != nil {
					p.logger.Warnw("Spool replay interrupted", "sent", n, "pending", p.Pending(), "error", err)
					continue
				}
				p.logger.Infow("Spool replayed", "sent", n)
			}
		}
	}()
}

// Count is the number of spooled messages.
func (p *SpoolingProducer) Count() (int, error) {
	n := 0
	err := p.db.View(func(tx *bbolt.Tx) error {
		n = tx.Bucket(bucketSpool).Stats().KeyN
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("spool: count: %w", err)
	}
	return n, nil
}

// Pending is Count for callers that only log: an unreadable spool is
// logged and reported empty.
func (p *SpoolingProducer) Pending() int {
	n, err := p.Count()
	if err != nil {
		p.logger.Warnw("Failed to read spool", "error", err)
	}
	return n
}

func (p *SpoolingProducer) Close() error {
	err := p.next.Close()
	if dbErr := p.db.Close(); dbErr != nil && err == nil {
		err = dbErr
	}
	return err
}

var _ Producer = (*SpoolingProducer)(nil)
