package health

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"

	"simwatch/internal/broker"
)

type staticConsumer broker.State

func (s staticConsumer) State() broker.State { return broker.State(s) }

type staticSpool int

func (s staticSpool) Count() (int, error) { return int(s), nil }

type brokenSpool struct{}

func (brokenSpool) Count() (int, error) { return 0, errors.New("spool: count: database not open") }

type failing struct{}

func (failing) Name() string                { return "postgresql" }
func (failing) Check(context.Context) error { return errors.New("connection refused") }

func TestCheckerRegistry_Status(t *testing.T) {
	tests := []struct {
		name     string
		checkers []Checker
		want     Status
	}{
		{"all healthy", []Checker{NewConsumerChecker("monitoring", staticConsumer(broker.StateConsuming)), NewSpoolChecker(staticSpool(0))}, StatusHealthy},
		{"reconnecting is degraded", []Checker{NewConsumerChecker("monitoring", staticConsumer(broker.StateReconnecting))}, StatusDegraded},
		{"spool backlog is degraded", []Checker{NewSpoolChecker(staticSpool(3))}, StatusDegraded},
		{"closed consumer is unhealthy", []Checker{NewConsumerChecker("alert", staticConsumer(broker.StateClosed))}, StatusUnhealthy},
		{"unhealthy wins over degraded", []Checker{NewSpoolChecker(staticSpool(3)), failing{}}, StatusUnhealthy},
		{"unreadable spool is unhealthy", []Checker{NewSpoolChecker(brokenSpool{})}, StatusUnhealthy},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewCheckerRegistry()
			for _, c := range tt.checkers {
				r.Register(c)
			}
			h := r.Check(context.Background())
			assert.Equal(t, tt.want, h.Status)
			assert.Len(t, h.Checks, len(tt.checkers))
		})
	}
}

func TestConsumerChecker_Message(t *testing.T) {
	c := NewConsumerChecker("cv", staticConsumer(broker.StateConnectionLost))
	assert.Equal(t, "consumer:cv", c.Name())
	assert.EqualError(t, c.Check(context.Background()), "consumer cv is connection_lost")
}
