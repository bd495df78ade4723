package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

type pgSimulations struct {
	q querier
}

const simulationColumns = `
	id, uid, hashid, name, compute_centre, compute_machine, compute_login,
	experiment, model, space, COALESCE(accounting_project, ''), try_id,
	execution_start_date, execution_end_date, is_error, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanSimulation(row rowScanner) (*Simulation, error) {
	var s Simulation
	var start, end sql.NullTime
	if err := row.Scan(
		&s.ID, &s.UID, &s.HashID, &s.Name, &s.ComputeCentre, &s.ComputeMachine, &s.ComputeLogin,
		&s.Experiment, &s.Model, &s.Space, &s.AccountingProject, &s.TryID,
		&start, &end, &s.IsError, &s.CreatedAt, &s.UpdatedAt,
	); err != nil {
		return nil, err
	}
	s.ExecutionStart = timePtr(start)
	s.ExecutionEnd = timePtr(end)
	return &s, nil
}

func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time.UTC()
	return &v
}

// Upsert relies on the xmax system column being zero for freshly inserted
// rows to tell an insert from an update.
func (r *pgSimulations) Upsert(ctx context.Context, s *Simulation) (bool, error) {
	query := `
		INSERT INTO simulations (
			uid, hashid, name, compute_centre, compute_machine, compute_login,
			experiment, model, space, accounting_project, try_id, execution_start_date
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (uid) DO UPDATE SET
			try_id = GREATEST(simulations.try_id, EXCLUDED.try_id),
			updated_at = now()
		RETURNING id, created_at, updated_at, (xmax = 0)
	`

	var created bool
	err := r.q.QueryRowContext(ctx, query,
		s.UID, s.HashID, s.Name, s.ComputeCentre, s.ComputeMachine, s.ComputeLogin,
		s.Experiment, s.Model, s.Space, nullString(s.AccountingProject), s.TryID, s.ExecutionStart,
	).Scan(&s.ID, &s.CreatedAt, &s.UpdatedAt, &created)
	if err != nil {
		return false, fmt.Errorf("upsert simulation %s: %w", s.UID, err)
	}
	return created, nil
}

func (r *pgSimulations) Get(ctx context.Context, uid string) (*Simulation, error) {
	row := r.q.QueryRowContext(ctx, `SELECT `+simulationColumns+` FROM simulations WHERE uid = $1`, uid)
	s, err := scanSimulation(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound("simulation", uid)
	}
	if err != nil {
		return nil, fmt.Errorf("get simulation %s: %w", uid, err)
	}
	return s, nil
}

func (r *pgSimulations) MarkEnded(ctx context.Context, uid string, at time.Time) error {
	res, err := r.q.ExecContext(ctx,
		`UPDATE simulations SET execution_end_date = $2, updated_at = $2 WHERE uid = $1`, uid, at)
	if err != nil {
		return fmt.Errorf("end simulation %s: %w", uid, err)
	}
	return expectRow(res, "simulation", uid)
}

func (r *pgSimulations) MarkError(ctx context.Context, uid string, at time.Time) error {
	res, err := r.q.ExecContext(ctx,
		`UPDATE simulations SET is_error = TRUE, updated_at = $2 WHERE uid = $1`, uid, at)
	if err != nil {
		return fmt.Errorf("flag simulation %s: %w", uid, err)
	}
	return expectRow(res, "simulation", uid)
}

func (r *pgSimulations) List(ctx context.Context, f SimulationFilter) ([]Simulation, error) {
	f = f.normalize()
	var (
		where []string
		args  []interface{}
	)
	add := func(clause string, v interface{}) {
		args = append(args, v)
		where = append(where, fmt.Sprintf(clause, len(args)))
	}
	if f.Centre != "" {
		add("compute_centre = $%d", f.Centre)
	}
	if f.Experiment != "" {
		add("experiment = $%d", f.Experiment)
	}
	if f.Model != "" {
		add("model = $%d", f.Model)
	}
	if f.Running != nil {
		if *f.Running {
			where = append(where, "execution_end_date IS NULL AND NOT is_error")
		} else {
			where = append(where, "(execution_end_date IS NOT NULL OR is_error)")
		}
	}

	query := `SELECT ` + simulationColumns + ` FROM simulations`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	args = append(args, f.Limit, f.Offset)
	query += fmt.Sprintf(` ORDER BY created_at DESC, id DESC LIMIT $%d OFFSET $%d`, len(args)-1, len(args))

	rows, err := r.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list simulations: %w", err)
	}
	defer rows.Close()

	var out []Simulation
	for rows.Next() {
		s, err := scanSimulation(rows)
		if err != nil {
			return nil, fmt.Errorf("scan simulation: %w", err)
		}
		out = append(out, *s)
	}
	return out, rows.Err()
}
