package memstore

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"simwatch/internal/store"
	pkgerrors "simwatch/pkg/errors"
)

func TestDB_DuplicateMessage(t *testing.T) {
	db := New()
	ctx := context.Background()

	insert := func() error {
		return db.WithTx(ctx, func(s store.Stores) error {
			return s.Messages().Insert(ctx, &store.Message{UID: "u1", TypeID: "1000"})
		})
	}

	require.NoError(t, insert())
	err := insert()
	require.Error(t, err)
	assert.ErrorIs(t, err, store.ErrDuplicateKey)
	assert.True(t, pkgerrors.IsDuplicate(err))
	assert.Equal(t, 1, db.Snapshot()["messages"])
	assert.Equal(t, 1, db.Commits())
	assert.Equal(t, 1, db.Rollbacks())
}

func TestDB_RollbackDiscardsWrites(t *testing.T) {
	db := New()
	ctx := context.Background()
	boom := errors.New("boom")

	err := db.WithTx(ctx, func(s store.Stores) error {
		require.NoError(t, s.Messages().Insert(ctx, &store.Message{UID: "u1"}))
		_, err := s.Simulations().Upsert(ctx, &store.Simulation{UID: "s1"})
		require.NoError(t, err)
		return boom
	})
	assert.ErrorIs(t, err, boom)

	snap := db.Snapshot()
	assert.Zero(t, snap["messages"])
	assert.Zero(t, snap["simulations"])
}

func TestDB_UpsertReportsCreation(t *testing.T) {
	db := New()
	ctx := context.Background()
	s := db.Stores()

	created, err := s.Simulations().Upsert(ctx, &store.Simulation{UID: "s1", TryID: 1})
	require.NoError(t, err)
	assert.True(t, created)

	created, err = s.Simulations().Upsert(ctx, &store.Simulation{UID: "s1", TryID: 3})
	require.NoError(t, err)
	assert.False(t, created)

	sim, err := s.Simulations().Get(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, 3, sim.TryID)

	_, err = s.Jobs().Upsert(ctx, &store.Job{UID: "j1", SimulationUID: "missing"})
	assert.Error(t, err)

	created, err = s.Jobs().Upsert(ctx, &store.Job{UID: "j1", SimulationUID: "s1"})
	require.NoError(t, err)
	assert.True(t, created)

	_, err = s.Jobs().Get(ctx, "j2")
	assert.True(t, pkgerrors.IsNotFound(err))
}

func TestDB_JobLifecycle(t *testing.T) {
	db := New()
	ctx := context.Background()
	at := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	s := db.Stores()

	_, err := s.Simulations().Upsert(ctx, &store.Simulation{UID: "s1"})
	require.NoError(t, err)
	_, err = s.Jobs().Upsert(ctx, &store.Job{UID: "j1", SimulationUID: "s1"})
	require.NoError(t, err)

	require.NoError(t, s.Jobs().MarkLate(ctx, "j1", at))
	require.NoError(t, s.Jobs().MarkError(ctx, "j1", at))
	require.NoError(t, s.Jobs().AddPeriod(ctx, &store.JobPeriod{JobUID: "j1", PeriodStart: at, PeriodEnd: at.AddDate(1, 0, 0)}))

	j, err := s.Jobs().Get(ctx, "j1")
	require.NoError(t, err)
	assert.True(t, j.IsLate)
	assert.True(t, j.Finished())
	assert.Equal(t, at, *j.ExecutionEnd)

	assert.True(t, pkgerrors.IsNotFound(s.Jobs().MarkEnded(ctx, "nope", at)))
	assert.Error(t, s.Jobs().AddPeriod(ctx, &store.JobPeriod{JobUID: "nope"}))
}

func TestDB_ListSimulations(t *testing.T) {
	db := New()
	ctx := context.Background()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	tick := 0
	db.SetClock(func() time.Time { tick++; return base.Add(time.Duration(tick) * time.Minute) })
	s := db.Stores()

	for _, sim := range []store.Simulation{
		{UID: "a", ComputeCentre: "idris"},
		{UID: "b", ComputeCentre: "tgcc"},
		{UID: "c", ComputeCentre: "tgcc"},
	} {
		sim := sim
		_, err := s.Simulations().Upsert(ctx, &sim)
		require.NoError(t, err)
	}
	require.NoError(t, s.Simulations().MarkEnded(ctx, "c", base))

	all, err := s.Simulations().List(ctx, store.SimulationFilter{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "c", all[0].UID, "newest first")

	running := true
	tgcc, err := s.Simulations().List(ctx, store.SimulationFilter{Centre: "tgcc", Running: &running})
	require.NoError(t, err)
	require.Len(t, tgcc, 1)
	assert.Equal(t, "b", tgcc[0].UID)

	paged, err := s.Simulations().List(ctx, store.SimulationFilter{Limit: 1, Offset: 1})
	require.NoError(t, err)
	require.Len(t, paged, 1)
	assert.Equal(t, "b", paged[0].UID)
}

func TestDB_Consumption(t *testing.T) {
	db := New()
	ctx := context.Background()
	s := db.Stores()
	day := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)

	alloc := &store.Allocation{Centre: "tgcc", Project: "gen0826", Machine: "irene", NodeType: "skl", Hours: 1000}
	require.NoError(t, s.Allocations().Insert(ctx, alloc))

	found, err := s.Allocations().Find(ctx, alloc.Key())
	require.NoError(t, err)
	assert.Equal(t, alloc.ID, found.ID)

	require.NoError(t, s.Consumptions().Upsert(ctx, &store.Consumption{AllocationID: alloc.ID, Date: day, Login: "u1", Hours: 10}))
	require.NoError(t, s.Consumptions().Upsert(ctx, &store.Consumption{AllocationID: alloc.ID, Date: day, Login: "u1", Hours: 12}))
	require.NoError(t, s.Consumptions().Upsert(ctx, &store.Consumption{AllocationID: alloc.ID, Date: day, Login: "u2", Hours: 5}))

	total, err := s.Consumptions().TotalHours(ctx, alloc.ID)
	require.NoError(t, err)
	assert.Equal(t, 17.0, total)

	_, err = s.Allocations().Find(ctx, store.AllocationKey{Centre: "idris"})
	assert.True(t, pkgerrors.IsNotFound(err))
}
