package deduplication

import (
	"context"
	"fmt"
	"strings"
	"time"

	"simwatch/internal/config"
	"simwatch/internal/constants"
	"simwatch/internal/logger"
	pkgerrors "simwatch/pkg/errors"
	"simwatch/pkg/metrics"
	"simwatch/pkg/tracing"
)

// Service is the Redis fast path in front of the database uniqueness
// constraint. The database stays authoritative: a uid not found here may
// still be rejected at insert time.
type Service struct {
	repo   Repository
	ttl    time.Duration
	reject bool
	agent  string
	logger logger.Logger
	now    func() time.Time
}

func NewService(repo Repository, cfg config.DeduplicationConfig, agent string, log logger.Logger) *Service {
	ttl := time.Duration(cfg.TTLSeconds) * time.Second
	if ttl <= 0 {
		ttl = constants.DefaultTTLSeconds * time.Second
	}
	return &Service{
		repo:   repo,
		ttl:    ttl,
		reject: strings.EqualFold(cfg.OnRedisError, constants.FallbackReject),
		agent:  agent,
		logger: log,
		now:    time.Now,
	}
}

func key(uid string) string {
	return constants.CacheKeyPrefixDedup + uid
}

// Seen reports whether uid was remembered by a previous commit. Redis
// failures count as "not seen" unless on_redis_error is "reject", in which
// case a ErrServiceUnavailable-coded error is returned.
func (s *Service) Seen(ctx context.Context, uid string) (bool, error) {
	ctx, span := tracing.GetTracer("simwatch-dedup").Start(ctx, "deduplication.seen")
	defer span.End()

	if uid == "" {
		return false, nil
	}

	found, err := s.repo.Exists(ctx, key(uid))
	if err != nil {
		return s.handleRedisError(ctx, err, uid)
	}
	if found {
		metrics.IncDuplicate(s.agent, "redis")
	}
	return found, nil
}

// Remember records uid after its transaction committed.
func (s *Service) Remember(ctx context.Context, uid string) error {
	if uid == "" {
		return nil
	}
	if _, err := s.repo.SetNX(ctx, key(uid), s.now().Unix(), s.ttl); err != nil {
		return fmt.Errorf("remember %s: %w", uid, err)
	}
	return nil
}

func (s *Service) handleRedisError(ctx context.Context, err error, uid string) (bool, error) {
	if !s.reject {
		metrics.FallbackUsageTotal.WithLabelValues("deduplication", "allow_on_error", "redis_error").Inc()
		s.logger.WarnwCtx(ctx, "Redis error during dedup check, continuing with database check",
			"error", err,
			"uid", uid,
		)
		return false, nil
	}

	metrics.FallbackUsageTotal.WithLabelValues("deduplication", "reject_on_error", "redis_error").Inc()
	return false, pkgerrors.ErrServiceUnavailable.
		WithMessage("dedup check for %s failed", uid).
		WithCause(err)
}
