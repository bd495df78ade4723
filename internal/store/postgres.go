package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/lib/pq"
)

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// PostgresDB implements Database on lib/pq.
type PostgresDB struct {
	db *sql.DB
}

func NewPostgresDB(db *sql.DB) *PostgresDB {
	return &PostgresDB{db: db}
}

func (p *PostgresDB) Ping(ctx context.Context) error {
	return p.db.PingContext(ctx)
}

func (p *PostgresDB) Stores() Stores {
	return pgStores{q: p.db}
}

// WithTx runs fn in a read-committed transaction. The deferred rollback is
// a no-op once Commit has succeeded.
func (p *PostgresDB) WithTx(ctx context.Context, fn func(Stores) error) error {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	if err := fn(pgStores{q: tx}); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

type pgStores struct {
	q querier
}

func (s pgStores) Messages() MessageStore         { return &pgMessages{q: s.q} }
func (s pgStores) Simulations() SimulationStore   { return &pgSimulations{q: s.q} }
func (s pgStores) Jobs() JobStore                 { return &pgJobs{q: s.q} }
func (s pgStores) Supervisions() SupervisionStore { return &pgSupervisions{q: s.q} }
func (s pgStores) Allocations() AllocationStore   { return &pgAllocations{q: s.q} }
func (s pgStores) Consumptions() ConsumptionStore { return &pgConsumptions{q: s.q} }
func (s pgStores) Alerts() AlertStore             { return &pgAlerts{q: s.q} }

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	return strings.Contains(err.Error(), "duplicate key") || strings.Contains(err.Error(), "unique constraint")
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func expectRow(res sql.Result, kind, key string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return notFound(kind, key)
	}
	return nil
}
