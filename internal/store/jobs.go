package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

type pgJobs struct {
	q querier
}

const jobColumns = `
	id, job_uid, simulation_uid, typeof, COALESCE(name, ''),
	execution_start_date, execution_end_date, warning_delay, is_late, is_error,
	created_at, updated_at`

func scanJob(row rowScanner) (*Job, error) {
	var j Job
	var start, end sql.NullTime
	if err := row.Scan(
		&j.ID, &j.UID, &j.SimulationUID, &j.Type, &j.Name,
		&start, &end, &j.WarningDelay, &j.IsLate, &j.IsError,
		&j.CreatedAt, &j.UpdatedAt,
	); err != nil {
		return nil, err
	}
	j.ExecutionStart = timePtr(start)
	j.ExecutionEnd = timePtr(end)
	return &j, nil
}

func (r *pgJobs) Upsert(ctx context.Context, j *Job) (bool, error) {
	query := `
		INSERT INTO jobs (job_uid, simulation_uid, typeof, name, execution_start_date, warning_delay)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (job_uid) DO UPDATE SET updated_at = now()
		RETURNING id, created_at, updated_at, (xmax = 0)
	`

	var created bool
	err := r.q.QueryRowContext(ctx, query,
		j.UID, j.SimulationUID, j.Type, nullString(j.Name), j.ExecutionStart, j.WarningDelay,
	).Scan(&j.ID, &j.CreatedAt, &j.UpdatedAt, &created)
	if err != nil {
		return false, fmt.Errorf("upsert job %s: %w", j.UID, err)
	}
	return created, nil
}

func (r *pgJobs) Get(ctx context.Context, uid string) (*Job, error) {
	j, err := scanJob(r.q.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE job_uid = $1`, uid))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound("job", uid)
	}
	if err != nil {
		return nil, fmt.Errorf("get job %s: %w", uid, err)
	}
	return j, nil
}

func (r *pgJobs) update(ctx context.Context, uid, set string, at time.Time) error {
	res, err := r.q.ExecContext(ctx, `UPDATE jobs SET `+set+`, updated_at = $2 WHERE job_uid = $1`, uid, at)
	if err != nil {
		return fmt.Errorf("update job %s: %w", uid, err)
	}
	return expectRow(res, "job", uid)
}

func (r *pgJobs) MarkEnded(ctx context.Context, uid string, at time.Time) error {
	return r.update(ctx, uid, "execution_end_date = $2", at)
}

func (r *pgJobs) MarkError(ctx context.Context, uid string, at time.Time) error {
	return r.update(ctx, uid, "is_error = TRUE, execution_end_date = COALESCE(execution_end_date, $2)", at)
}

func (r *pgJobs) MarkLate(ctx context.Context, uid string, at time.Time) error {
	return r.update(ctx, uid, "is_late = TRUE", at)
}

func (r *pgJobs) ListBySimulation(ctx context.Context, simulationUID string) ([]Job, error) {
	rows, err := r.q.QueryContext(ctx,
		`SELECT `+jobColumns+` FROM jobs WHERE simulation_uid = $1 ORDER BY created_at, id`, simulationUID)
	if err != nil {
		return nil, fmt.Errorf("list jobs of %s: %w", simulationUID, err)
	}
	defer rows.Close()

	var out []Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		out = append(out, *j)
	}
	return out, rows.Err()
}

func (r *pgJobs) AddPeriod(ctx context.Context, p *JobPeriod) error {
	query := `
		INSERT INTO job_periods (job_uid, period_date_start, period_date_end)
		VALUES ($1, $2, $3)
		ON CONFLICT (job_uid) DO UPDATE SET
			period_date_start = EXCLUDED.period_date_start,
			period_date_end = EXCLUDED.period_date_end
		RETURNING id
	`
	if err := r.q.QueryRowContext(ctx, query, p.JobUID, p.PeriodStart, p.PeriodEnd).Scan(&p.ID); err != nil {
		return fmt.Errorf("add period to job %s: %w", p.JobUID, err)
	}
	return nil
}
