package deduplication

import (
	"context"
	"fmt"
	"time"

	"simwatch/internal/config"
	"simwatch/pkg/circuitbreaker"
)

type CircuitBreakerRepository struct {
	repo Repository
	cb   *circuitbreaker.Wrapper
}

func NewCircuitBreakerRepository(repo Repository, cfg config.CircuitBreakerConfig) *CircuitBreakerRepository {
	if !cfg.Enabled {
		return &CircuitBreakerRepository{repo: repo}
	}

	cbConfig := circuitbreaker.Tuned("redis-dedup", cfg.MaxRequests, cfg.Interval, cfg.Timeout, cfg.FailureRatio, cfg.MinRequests)
	return &CircuitBreakerRepository{
		repo: repo,
		cb:   circuitbreaker.NewWrapper(cbConfig),
	}
}

func (r *CircuitBreakerRepository) Exists(ctx context.Context, key string) (bool, error) {
	if r.cb == nil {
		return r.repo.Exists(ctx, key)
	}

	var found bool
	err := r.cb.Do(ctx, func() error {
		var err error
		found, err = r.repo.Exists(ctx, key)
		return err
	})
	if err != nil {
		return false, r.wrap(err)
	}
	return found, nil
}

func (r *CircuitBreakerRepository) SetNX(ctx context.Context, key string, value interface{}, ttl time.Duration) (bool, error) {
	if r.cb == nil {
		return r.repo.SetNX(ctx, key, value, ttl)
	}

	var stored bool
	err := r.cb.Do(ctx, func() error {
		var err error
		stored, err = r.repo.SetNX(ctx, key, value, ttl)
		return err
	})
	if err != nil {
		return false, r.wrap(err)
	}
	return stored, nil
}

func (r *CircuitBreakerRepository) wrap(err error) error {
	if r.cb.IsOpen() {
		return fmt.Errorf("circuit breaker is open for redis-dedup: %w", err)
	}
	return err
}

func (r *CircuitBreakerRepository) State() string {
	if r.cb == nil {
		return "disabled"
	}
	return r.cb.State().String()
}

func (r *CircuitBreakerRepository) IsOpen() bool {
	if r.cb == nil {
		return false
	}
	return r.cb.IsOpen()
}
