// Package store is the relational persistence layer. Every message is
// processed inside one transaction obtained from a TxRunner.
package store

import (
	"context"
	"time"

	pkgerrors "simwatch/pkg/errors"
)

// ErrDuplicateKey is returned by MessageStore.Insert when the uid exists.
var ErrDuplicateKey = pkgerrors.ErrDuplicate

type MessageStore interface {
	Insert(ctx context.Context, m *Message) error
	Get(ctx context.Context, uid string) (*Message, error)
	// PurgeContent drops the payload but keeps the row for deduplication.
	PurgeContent(ctx context.Context, uid string) error
}

type SimulationStore interface {
	// Upsert inserts s or refreshes the existing row with the same uid.
	Upsert(ctx context.Context, s *Simulation) (created bool, err error)
	Get(ctx context.Context, uid string) (*Simulation, error)
	MarkEnded(ctx context.Context, uid string, at time.Time) error
	MarkError(ctx context.Context, uid string, at time.Time) error
	List(ctx context.Context, f SimulationFilter) ([]Simulation, error)
}

type JobStore interface {
	Upsert(ctx context.Context, j *Job) (created bool, err error)
	Get(ctx context.Context, uid string) (*Job, error)
	MarkEnded(ctx context.Context, uid string, at time.Time) error
	MarkError(ctx context.Context, uid string, at time.Time) error
	MarkLate(ctx context.Context, uid string, at time.Time) error
	ListBySimulation(ctx context.Context, simulationUID string) ([]Job, error)
	AddPeriod(ctx context.Context, p *JobPeriod) error
}

type SupervisionStore interface {
	Insert(ctx context.Context, s *Supervision) error
}

type AllocationStore interface {
	Find(ctx context.Context, key AllocationKey) (*Allocation, error)
	Insert(ctx context.Context, a *Allocation) error
}

type ConsumptionStore interface {
	Upsert(ctx context.Context, c *Consumption) error
	TotalHours(ctx context.Context, allocationID int64) (float64, error)
}

type AlertStore interface {
	Insert(ctx context.Context, a *Alert) error
	ListRecent(ctx context.Context, limit int) ([]Alert, error)
}

// Stores groups every repository bound to one connection or transaction.
type Stores interface {
	Messages() MessageStore
	Simulations() SimulationStore
	Jobs() JobStore
	Supervisions() SupervisionStore
	Allocations() AllocationStore
	Consumptions() ConsumptionStore
	Alerts() AlertStore
}

// TxRunner runs fn inside a transaction. The transaction commits when fn
// returns nil and rolls back otherwise.
type TxRunner interface {
	WithTx(ctx context.Context, fn func(Stores) error) error
}

// Database is a TxRunner that can also serve non-transactional reads.
type Database interface {
	TxRunner
	Stores() Stores
	Ping(ctx context.Context) error
}

func notFound(kind, key string) error {
	return pkgerrors.ErrNotFound.WithMessage("%s %s not found", kind, key).WithDetail(kind, key)
}
