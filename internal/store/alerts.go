package store

import (
	"context"
	"fmt"
)

type pgSupervisions struct {
	q querier
}

func (r *pgSupervisions) Insert(ctx context.Context, s *Supervision) error {
	if s.DispatchState == "" {
		s.DispatchState = DispatchQueued
	}
	query := `
		INSERT INTO supervisions (simulation_uid, job_uid, trigger, dispatch_state)
		VALUES ($1, $2, $3, $4)
		RETURNING id, created_at
	`
	if err := r.q.QueryRowContext(ctx, query, s.SimulationUID, s.JobUID, s.Trigger, s.DispatchState).
		Scan(&s.ID, &s.CreatedAt); err != nil {
		return fmt.Errorf("insert supervision for job %s: %w", s.JobUID, err)
	}
	return nil
}

type pgAlerts struct {
	q querier
}

func (r *pgAlerts) Insert(ctx context.Context, a *Alert) error {
	query := `
		INSERT INTO alerts (message_uid, trigger, simulation_uid, job_uid, payload)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at
	`
	if err := r.q.QueryRowContext(ctx, query,
		a.MessageUID, a.Trigger, nullString(a.SimulationUID), nullString(a.JobUID), a.Payload,
	).Scan(&a.ID, &a.CreatedAt); err != nil {
		return fmt.Errorf("insert alert %s: %w", a.Trigger, err)
	}
	return nil
}

func (r *pgAlerts) ListRecent(ctx context.Context, limit int) ([]Alert, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.q.QueryContext(ctx, `
		SELECT id, message_uid, trigger, COALESCE(simulation_uid, ''), COALESCE(job_uid, ''), payload, created_at
		FROM alerts
		ORDER BY created_at DESC, id DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("list alerts: %w", err)
	}
	defer rows.Close()

	var out []Alert
	for rows.Next() {
		var a Alert
		if err := rows.Scan(&a.ID, &a.MessageUID, &a.Trigger, &a.SimulationUID, &a.JobUID, &a.Payload, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan alert: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}
