// Package memstore is an in-process store.Database used by dry runs and
// tests. Transactions are serialized and work on a copy of the data that
// replaces the committed state only when the callback succeeds.
package memstore

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"simwatch/internal/store"
	pkgerrors "simwatch/pkg/errors"
)

type consumptionKey struct {
	allocationID int64
	date         time.Time
	login        string
	subProject   string
}

type data struct {
	messages     map[string]store.Message
	simulations  map[string]store.Simulation
	jobs         map[string]store.Job
	periods      map[string]store.JobPeriod
	supervisions []store.Supervision
	allocations  []store.Allocation
	consumptions map[consumptionKey]store.Consumption
	alerts       []store.Alert
	seq          int64
}

func newData() *data {
	return &data{
		messages:     map[string]store.Message{},
		simulations:  map[string]store.Simulation{},
		jobs:         map[string]store.Job{},
		periods:      map[string]store.JobPeriod{},
		consumptions: map[consumptionKey]store.Consumption{},
	}
}

func (d *data) clone() *data {
	c := &data{
		messages:     make(map[string]store.Message, len(d.messages)),
		simulations:  make(map[string]store.Simulation, len(d.simulations)),
		jobs:         make(map[string]store.Job, len(d.jobs)),
		periods:      make(map[string]store.JobPeriod, len(d.periods)),
		supervisions: append([]store.Supervision(nil), d.supervisions...),
		allocations:  append([]store.Allocation(nil), d.allocations...),
		consumptions: make(map[consumptionKey]store.Consumption, len(d.consumptions)),
		alerts:       append([]store.Alert(nil), d.alerts...),
		seq:          d.seq,
	}
	for k, v := range d.messages {
		c.messages[k] = v
	}
	for k, v := range d.simulations {
		c.simulations[k] = v
	}
	for k, v := range d.jobs {
		c.jobs[k] = v
	}
	for k, v := range d.periods {
		c.periods[k] = v
	}
	for k, v := range d.consumptions {
		c.consumptions[k] = v
	}
	return c
}

func (d *data) next() int64 {
	d.seq++
	return d.seq
}

// DB implements store.Database in memory.
type DB struct {
	mu        sync.Mutex
	committed *data
	now       func() time.Time

	commits   int
	rollbacks int
}

func New() *DB {
	return &DB{committed: newData(), now: time.Now}
}

// SetClock replaces the time source for created_at columns.
func (db *DB) SetClock(now func() time.Time) {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.now = now
}

func (db *DB) Ping(context.Context) error { return nil }

func (db *DB) WithTx(ctx context.Context, fn func(store.Stores) error) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}

	if err := db.apply(func(s *stores) error { return fn(s) }); err != nil {
		db.rollbacks++
		return err
	}
	db.commits++
	return nil
}

// apply runs fn on a copy of the committed data and keeps the copy when fn
// succeeds. Callers hold db.mu.
func (db *DB) apply(fn func(*stores) error) error {
	work := db.committed.clone()
	if err := fn(&stores{d: work, now: db.now}); err != nil {
		return err
	}
	db.committed = work
	return nil
}

// Stores reads and writes the committed state directly.
func (db *DB) Stores() store.Stores {
	return &lockedStores{db: db}
}

// Commits and Rollbacks count finished transactions.
func (db *DB) Commits() int {
	db.mu.Lock()
	defer db.mu.Unlock()
	return db.commits
}

func (db *DB) Rollbacks() int {
	db.mu.Lock()
	defer db.mu.Unlock()
	return db.rollbacks
}

// Snapshot returns counts of committed rows per table.
func (db *DB) Snapshot() map[string]int {
	db.mu.Lock()
	defer db.mu.Unlock()
	d := db.committed
	return map[string]int{
		"messages":     len(d.messages),
		"simulations":  len(d.simulations),
		"jobs":         len(d.jobs),
		"job_periods":  len(d.periods),
		"supervisions": len(d.supervisions),
		"allocations":  len(d.allocations),
		"consumptions": len(d.consumptions),
		"alerts":       len(d.alerts),
	}
}

// lockedStores runs each call in its own implicit transaction, outside the
// commit and rollback counters.
type lockedStores struct {
	db *DB
}

func (l *lockedStores) run(fn func(*stores) error) error {
	l.db.mu.Lock()
	defer l.db.mu.Unlock()
	return l.db.apply(fn)
}

func (l *lockedStores) Messages() store.MessageStore         { return autoMessages{l} }
func (l *lockedStores) Simulations() store.SimulationStore   { return autoSimulations{l} }
func (l *lockedStores) Jobs() store.JobStore                 { return autoJobs{l} }
func (l *lockedStores) Supervisions() store.SupervisionStore { return autoSupervisions{l} }
func (l *lockedStores) Allocations() store.AllocationStore   { return autoAllocations{l} }
func (l *lockedStores) Consumptions() store.ConsumptionStore { return autoConsumptions{l} }
func (l *lockedStores) Alerts() store.AlertStore             { return autoAlerts{l} }

type stores struct {
	d   *data
	now func() time.Time
}

func (s *stores) Messages() store.MessageStore         { return &messages{s} }
func (s *stores) Simulations() store.SimulationStore   { return &simulations{s} }
func (s *stores) Jobs() store.JobStore                 { return &jobs{s} }
func (s *stores) Supervisions() store.SupervisionStore { return &supervisions{s} }
func (s *stores) Allocations() store.AllocationStore   { return &allocations{s} }
func (s *stores) Consumptions() store.ConsumptionStore { return &consumptions{s} }
func (s *stores) Alerts() store.AlertStore             { return &alerts{s} }

func notFound(kind, key string) error {
	return pkgerrors.ErrNotFound.WithMessage("%s %s not found", kind, key).WithDetail(kind, key)
}

type messages struct{ s *stores }

func (r *messages) Insert(_ context.Context, m *store.Message) error {
	if _, ok := r.s.d.messages[m.UID]; ok {
		return store.ErrDuplicateKey.WithDetail("uid", m.UID)
	}
	m.CreatedAt = r.s.now()
	r.s.d.messages[m.UID] = *m
	return nil
}

func (r *messages) Get(_ context.Context, uid string) (*store.Message, error) {
	m, ok := r.s.d.messages[uid]
	if !ok {
		return nil, notFound("message", uid)
	}
	return &m, nil
}

func (r *messages) PurgeContent(_ context.Context, uid string) error {
	m, ok := r.s.d.messages[uid]
	if !ok {
		return notFound("message", uid)
	}
	m.Content = nil
	m.ContentPurged = true
	r.s.d.messages[uid] = m
	return nil
}

type simulations struct{ s *stores }

func (r *simulations) Upsert(_ context.Context, sim *store.Simulation) (bool, error) {
	now := r.s.now()
	if cur, ok := r.s.d.simulations[sim.UID]; ok {
		if sim.TryID > cur.TryID {
			cur.TryID = sim.TryID
		}
		cur.UpdatedAt = now
		r.s.d.simulations[sim.UID] = cur
		sim.ID, sim.CreatedAt, sim.UpdatedAt = cur.ID, cur.CreatedAt, cur.UpdatedAt
		return false, nil
	}
	sim.ID = r.s.d.next()
	sim.CreatedAt, sim.UpdatedAt = now, now
	r.s.d.simulations[sim.UID] = *sim
	return true, nil
}

func (r *simulations) Get(_ context.Context, uid string) (*store.Simulation, error) {
	sim, ok := r.s.d.simulations[uid]
	if !ok {
		return nil, notFound("simulation", uid)
	}
	return &sim, nil
}

func (r *simulations) update(uid string, fn func(*store.Simulation)) error {
	sim, ok := r.s.d.simulations[uid]
	if !ok {
		return notFound("simulation", uid)
	}
	fn(&sim)
	r.s.d.simulations[uid] = sim
	return nil
}

func (r *simulations) MarkEnded(_ context.Context, uid string, at time.Time) error {
	return r.update(uid, func(s *store.Simulation) { s.ExecutionEnd = &at; s.UpdatedAt = at })
}

func (r *simulations) MarkError(_ context.Context, uid string, at time.Time) error {
	return r.update(uid, func(s *store.Simulation) { s.IsError = true; s.UpdatedAt = at })
}

func (r *simulations) List(_ context.Context, f store.SimulationFilter) ([]store.Simulation, error) {
	var out []store.Simulation
	for _, sim := range r.s.d.simulations {
		if f.Centre != "" && sim.ComputeCentre != f.Centre {
			continue
		}
		if f.Experiment != "" && sim.Experiment != f.Experiment {
			continue
		}
		if f.Model != "" && sim.Model != f.Model {
			continue
		}
		if f.Running != nil {
			running := sim.ExecutionEnd == nil && !sim.IsError
			if running != *f.Running {
				continue
			}
		}
		out = append(out, sim)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID > out[j].ID
	})
	return page(out, f.Limit, f.Offset), nil
}

func page[T any](in []T, limit, offset int) []T {
	if limit <= 0 {
		limit = 100
	}
	if offset >= len(in) {
		return nil
	}
	in = in[offset:]
	if len(in) > limit {
		in = in[:limit]
	}
	return in
}

type jobs struct{ s *stores }

func (r *jobs) Upsert(_ context.Context, j *store.Job) (bool, error) {
	if _, ok := r.s.d.simulations[j.SimulationUID]; !ok {
		return false, fmt.Errorf("upsert job %s: simulation %s does not exist", j.UID, j.SimulationUID)
	}
	now := r.s.now()
	if cur, ok := r.s.d.jobs[j.UID]; ok {
		cur.UpdatedAt = now
		r.s.d.jobs[j.UID] = cur
		j.ID, j.CreatedAt, j.UpdatedAt = cur.ID, cur.CreatedAt, cur.UpdatedAt
		return false, nil
	}
	j.ID = r.s.d.next()
	j.CreatedAt, j.UpdatedAt = now, now
	r.s.d.jobs[j.UID] = *j
	return true, nil
}

func (r *jobs) Get(_ context.Context, uid string) (*store.Job, error) {
	j, ok := r.s.d.jobs[uid]
	if !ok {
		return nil, notFound("job", uid)
	}
	return &j, nil
}

func (r *jobs) update(uid string, fn func(*store.Job)) error {
	j, ok := r.s.d.jobs[uid]
	if !ok {
		return notFound("job", uid)
	}
	fn(&j)
	r.s.d.jobs[uid] = j
	return nil
}

func (r *jobs) MarkEnded(_ context.Context, uid string, at time.Time) error {
	return r.update(uid, func(j *store.Job) { j.ExecutionEnd = &at; j.UpdatedAt = at })
}

func (r *jobs) MarkError(_ context.Context, uid string, at time.Time) error {
	return r.update(uid, func(j *store.Job) {
		j.IsError = true
		if j.ExecutionEnd == nil {
			j.ExecutionEnd = &at
		}
		j.UpdatedAt = at
	})
}

func (r *jobs) MarkLate(_ context.Context, uid string, at time.Time) error {
	return r.update(uid, func(j *store.Job) { j.IsLate = true; j.UpdatedAt = at })
}

func (r *jobs) ListBySimulation(_ context.Context, simulationUID string) ([]store.Job, error) {
	var out []store.Job
	for _, j := range r.s.d.jobs {
		if j.SimulationUID == simulationUID {
			out = append(out, j)
		}
	}
	sort.Slice(out, func(i, k int) bool { return out[i].ID < out[k].ID })
	return out, nil
}

func (r *jobs) AddPeriod(_ context.Context, p *store.JobPeriod) error {
	if _, ok := r.s.d.jobs[p.JobUID]; !ok {
		return fmt.Errorf("add period: job %s does not exist", p.JobUID)
	}
	if cur, ok := r.s.d.periods[p.JobUID]; ok {
		p.ID = cur.ID
	} else {
		p.ID = r.s.d.next()
	}
	r.s.d.periods[p.JobUID] = *p
	return nil
}

type supervisions struct{ s *stores }

func (r *supervisions) Insert(_ context.Context, sv *store.Supervision) error {
	if sv.DispatchState == "" {
		sv.DispatchState = store.DispatchQueued
	}
	sv.ID = r.s.d.next()
	sv.CreatedAt = r.s.now()
	r.s.d.supervisions = append(r.s.d.supervisions, *sv)
	return nil
}

type allocations struct{ s *stores }

func (r *allocations) Find(_ context.Context, key store.AllocationKey) (*store.Allocation, error) {
	var found *store.Allocation
	for i := range r.s.d.allocations {
		a := r.s.d.allocations[i]
		if a.Key() != key {
			continue
		}
		if found == nil || a.StartDate.After(found.StartDate) {
			found = &a
		}
	}
	if found == nil {
		return nil, notFound("allocation", fmt.Sprintf("%s/%s/%s/%s", key.Centre, key.Project, key.Machine, key.NodeType))
	}
	return found, nil
}

func (r *allocations) Insert(_ context.Context, a *store.Allocation) error {
	a.ID = r.s.d.next()
	a.CreatedAt = r.s.now()
	r.s.d.allocations = append(r.s.d.allocations, *a)
	return nil
}

type consumptions struct{ s *stores }

func (r *consumptions) Upsert(_ context.Context, c *store.Consumption) error {
	key := consumptionKey{c.AllocationID, c.Date.UTC(), c.Login, c.SubProject}
	if cur, ok := r.s.d.consumptions[key]; ok {
		c.ID, c.CreatedAt = cur.ID, cur.CreatedAt
	} else {
		c.ID = r.s.d.next()
		c.CreatedAt = r.s.now()
	}
	r.s.d.consumptions[key] = *c
	return nil
}

func (r *consumptions) TotalHours(_ context.Context, allocationID int64) (float64, error) {
	var total float64
	for k, c := range r.s.d.consumptions {
		if k.allocationID == allocationID {
			total += c.Hours
		}
	}
	return total, nil
}

type alerts struct{ s *stores }

func (r *alerts) Insert(_ context.Context, a *store.Alert) error {
	a.ID = r.s.d.next()
	a.CreatedAt = r.s.now()
	r.s.d.alerts = append(r.s.d.alerts, *a)
	return nil
}

func (r *alerts) ListRecent(_ context.Context, limit int) ([]store.Alert, error) {
	out := make([]store.Alert, 0, len(r.s.d.alerts))
	for i := len(r.s.d.alerts) - 1; i >= 0; i-- {
		out = append(out, r.s.d.alerts[i])
	}
	return page(out, limit, 0), nil
}
