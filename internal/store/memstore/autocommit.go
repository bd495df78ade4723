package memstore

import (
	"context"
	"time"

	"simwatch/internal/store"
)

type autoMessages struct{ l *lockedStores }

func (a autoMessages) Insert(ctx context.Context, m *store.Message) error {
	return a.l.run(func(s *stores) error { return s.Messages().Insert(ctx, m) })
}

func (a autoMessages) Get(ctx context.Context, uid string) (out *store.Message, err error) {
	err = a.l.run(func(s *stores) error { out, err = s.Messages().Get(ctx, uid); return err })
	return out, err
}

func (a autoMessages) PurgeContent(ctx context.Context, uid string) error {
	return a.l.run(func(s *stores) error { return s.Messages().PurgeContent(ctx, uid) })
}

type autoSimulations struct{ l *lockedStores }

func (a autoSimulations) Upsert(ctx context.Context, sim *store.Simulation) (created bool, err error) {
	err = a.l.run(func(s *stores) error { created, err = s.Simulations().Upsert(ctx, sim); return err })
	return created, err
}

func (a autoSimulations) Get(ctx context.Context, uid string) (out *store.Simulation, err error) {
	err = a.l.run(func(s *stores) error { out, err = s.Simulations().Get(ctx, uid); return err })
	return out, err
}

func (a autoSimulations) MarkEnded(ctx context.Context, uid string, at time.Time) error {
	return a.l.run(func(s *stores) error { return s.Simulations().MarkEnded(ctx, uid, at) })
}

func (a autoSimulations) MarkError(ctx context.Context, uid string, at time.Time) error {
	return a.l.run(func(s *stores) error { return s.Simulations().MarkError(ctx, uid, at) })
}

func (a autoSimulations) List(ctx context.Context, f store.SimulationFilter) (out []store.Simulation, err error) {
	err = a.l.run(func(s *stores) error { out, err = s.Simulations().List(ctx, f); return err })
	return out, err
}

type autoJobs struct{ l *lockedStores }

func (a autoJobs) Upsert(ctx context.Context, j *store.Job) (created bool, err error) {
	err = a.l.run(func(s *stores) error { created, err = s.Jobs().Upsert(ctx, j); return err })
	return created, err
}

func (a autoJobs) Get(ctx context.Context, uid string) (out *store.Job, err error) {
	err = a.l.run(func(s *stores) error { out, err = s.Jobs().Get(ctx, uid); return err })
	return out, err
}

func (a autoJobs) MarkEnded(ctx context.Context, uid string, at time.Time) error {
	return a.l.run(func(s *stores) error { return s.Jobs().MarkEnded(ctx, uid, at) })
}

func (a autoJobs) MarkError(ctx context.Context, uid string, at time.Time) error {
	return a.l.run(func(s *stores) error { return s.Jobs().MarkError(ctx, uid, at) })
}

func (a autoJobs) MarkLate(ctx context.Context, uid string, at time.Time) error {
	return a.l.run(func(s *stores) error { return s.Jobs().MarkLate(ctx, uid, at) })
}

func (a autoJobs) ListBySimulation(ctx context.Context, simulationUID string) (out []store.Job, err error) {
	err = a.l.run(func(s *stores) error { out, err = s.Jobs().ListBySimulation(ctx, simulationUID); return err })
	return out, err
}

func (a autoJobs) AddPeriod(ctx context.Context, p *store.JobPeriod) error {
	return a.l.run(func(s *stores) error { return s.Jobs().AddPeriod(ctx, p) })
}

type autoSupervisions struct{ l *lockedStores }

func (a autoSupervisions) Insert(ctx context.Context, sv *store.Supervision) error {
	return a.l.run(func(s *stores) error { return s.Supervisions().Insert(ctx, sv) })
}

type autoAllocations struct{ l *lockedStores }

func (a autoAllocations) Find(ctx context.Context, key store.AllocationKey) (out *store.Allocation, err error) {
	err = a.l.run(func(s *stores) error { out, err = s.Allocations().Find(ctx, key); return err })
	return out, err
}

func (a autoAllocations) Insert(ctx context.Context, al *store.Allocation) error {
	return a.l.run(func(s *stores) error { return s.Allocations().Insert(ctx, al) })
}

type autoConsumptions struct{ l *lockedStores }

func (a autoConsumptions) Upsert(ctx context.Context, c *store.Consumption) error {
	return a.l.run(func(s *stores) error { return s.Consumptions().Upsert(ctx, c) })
}

func (a autoConsumptions) TotalHours(ctx context.Context, allocationID int64) (total float64, err error) {
	err = a.l.run(func(s *stores) error { total, err = s.Consumptions().TotalHours(ctx, allocationID); return err })
	return total, err
}

type autoAlerts struct{ l *lockedStores }

func (a autoAlerts) Insert(ctx context.Context, al *store.Alert) error {
	return a.l.run(func(s *stores) error { return s.Alerts().Insert(ctx, al) })
}

func (a autoAlerts) ListRecent(ctx context.Context, limit int) (out []store.Alert, err error) {
	err = a.l.run(func(s *stores) error { out, err = s.Alerts().ListRecent(ctx, limit); return err })
	return out, err
}
