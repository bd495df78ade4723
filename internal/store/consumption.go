package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

type pgAllocations struct {
	q querier
}

func (r *pgAllocations) Find(ctx context.Context, key AllocationKey) (*Allocation, error) {
	query := `
		SELECT id, centre, project, machine, node_type, start_date, end_date, hours, provisional, created_at
		FROM allocations
		WHERE centre = $1 AND project = $2 AND machine = $3 AND node_type = $4
		ORDER BY start_date DESC
		LIMIT 1
	`
	var a Allocation
	err := r.q.QueryRowContext(ctx, query, key.Centre, key.Project, key.Machine, key.NodeType).Scan(
		&a.ID, &a.Centre, &a.Project, &a.Machine, &a.NodeType,
		&a.StartDate, &a.EndDate, &a.Hours, &a.Provisional, &a.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound("allocation", fmt.Sprintf("%s/%s/%s/%s", key.Centre, key.Project, key.Machine, key.NodeType))
	}
	if err != nil {
		return nil, fmt.Errorf("find allocation: %w", err)
	}
	return &a, nil
}

func (r *pgAllocations) Insert(ctx context.Context, a *Allocation) error {
	query := `
		INSERT INTO allocations (centre, project, machine, node_type, start_date, end_date, hours, provisional)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id, created_at
	`
	if err := r.q.QueryRowContext(ctx, query,
		a.Centre, a.Project, a.Machine, a.NodeType, a.StartDate, a.EndDate, a.Hours, a.Provisional,
	).Scan(&a.ID, &a.CreatedAt); err != nil {
		return fmt.Errorf("insert allocation %s/%s: %w", a.Centre, a.Project, err)
	}
	return nil
}

type pgConsumptions struct {
	q querier
}

// Upsert keeps one row per (allocation, date, login, sub-project); the
// latest report wins.
func (r *pgConsumptions) Upsert(ctx context.Context, c *Consumption) error {
	query := `
		INSERT INTO consumptions (allocation_id, date, login, sub_project, hours)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (allocation_id, date, login, sub_project) DO UPDATE SET hours = EXCLUDED.hours
		RETURNING id, created_at
	`
	if err := r.q.QueryRowContext(ctx, query, c.AllocationID, c.Date, c.Login, c.SubProject, c.Hours).
		Scan(&c.ID, &c.CreatedAt); err != nil {
		return fmt.Errorf("upsert consumption for %s: %w", c.Login, err)
	}
	return nil
}

func (r *pgConsumptions) TotalHours(ctx context.Context, allocationID int64) (float64, error) {
	var total float64
	err := r.q.QueryRowContext(ctx,
		`SELECT COALESCE(SUM(hours), 0) FROM consumptions WHERE allocation_id = $1`, allocationID).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("sum consumption of allocation %d: %w", allocationID, err)
	}
	return total, nil
}
