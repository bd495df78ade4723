package store_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"simwatch/internal/store"
	"simwatch/internal/testinfra"
	pkgerrors "simwatch/pkg/errors"
)

func TestPostgresDB_MessageDuplicate(t *testing.T) {
	db := store.NewPostgresDB(testinfra.Postgres(t))
	ctx := context.Background()

	msg := func() *store.Message {
		return &store.Message{
			UID:             "0b8f6f0e-1a7c-4ef1-9b0b-0d1f6d7c3c11",
			TypeID:          "1000",
			ProducerID:      "libigcm",
			ContentEncoding: "utf-8",
			ContentType:     "application/json",
			Content:         []byte(`{"simuid":"s1"}`),
			Timestamp:       time.Now().UTC(),
			TimestampRaw:    time.Now().UnixNano(),
		}
	}

	require.NoError(t, db.WithTx(ctx, func(s store.Stores) error {
		return s.Messages().Insert(ctx, msg())
	}))

	err := db.WithTx(ctx, func(s store.Stores) error {
		return s.Messages().Insert(ctx, msg())
	})
	require.Error(t, err)
	assert.True(t, pkgerrors.IsDuplicate(err))

	require.NoError(t, db.Stores().Messages().PurgeContent(ctx, msg().UID))
	got, err := db.Stores().Messages().Get(ctx, msg().UID)
	require.NoError(t, err)
	assert.True(t, got.ContentPurged)
	assert.Nil(t, got.Content)
}

func TestPostgresDB_RollbackOnError(t *testing.T) {
	db := store.NewPostgresDB(testinfra.Postgres(t))
	ctx := context.Background()
	boom := errors.New("boom")

	err := db.WithTx(ctx, func(s store.Stores) error {
		if _, err := s.Simulations().Upsert(ctx, &store.Simulation{UID: "s1", HashID: "h", Name: "n"}); err != nil {
			return err
		}
		return boom
	})
	assert.ErrorIs(t, err, boom)

	_, err = db.Stores().Simulations().Get(ctx, "s1")
	assert.True(t, pkgerrors.IsNotFound(err))
}

func TestPostgresDB_SimulationAndJobs(t *testing.T) {
	db := store.NewPostgresDB(testinfra.Postgres(t))
	ctx := context.Background()
	start := time.Date(2026, 4, 1, 8, 0, 0, 0, time.UTC)

	err := db.WithTx(ctx, func(s store.Stores) error {
		created, err := s.Simulations().Upsert(ctx, &store.Simulation{
			UID: "s1", HashID: "abc", Name: "v6.rc0", ComputeCentre: "tgcc", ComputeMachine: "irene",
			ComputeLogin: "u1", Experiment: "piControl", Model: "IPSL-CM6A-LR", Space: "PROD", TryID: 1,
			ExecutionStart: &start,
		})
		require.NoError(t, err)
		assert.True(t, created)

		created, err = s.Simulations().Upsert(ctx, &store.Simulation{UID: "s1", HashID: "abc", Name: "v6.rc0", TryID: 2})
		require.NoError(t, err)
		assert.False(t, created)

		created, err = s.Jobs().Upsert(ctx, &store.Job{UID: "j1", SimulationUID: "s1", Type: store.JobTypeCompute, ExecutionStart: &start, WarningDelay: 3600})
		require.NoError(t, err)
		assert.True(t, created)
		return nil
	})
	require.NoError(t, err)

	sim, err := db.Stores().Simulations().Get(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, 2, sim.TryID)
	assert.Equal(t, start, *sim.ExecutionStart)

	require.NoError(t, db.Stores().Jobs().MarkLate(ctx, "j1", start.Add(2*time.Hour)))
	require.NoError(t, db.Stores().Jobs().AddPeriod(ctx, &store.JobPeriod{JobUID: "j1", PeriodStart: start, PeriodEnd: start.AddDate(10, 0, 0)}))

	jobs, err := db.Stores().Jobs().ListBySimulation(ctx, "s1")
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.True(t, jobs[0].IsLate)
	assert.False(t, jobs[0].Finished())
	assert.Equal(t, start.Add(time.Hour), jobs[0].ExpectedEnd())

	running := true
	list, err := db.Stores().Simulations().List(ctx, store.SimulationFilter{Centre: "tgcc", Running: &running})
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestPostgresDB_AllocationsAndAlerts(t *testing.T) {
	db := store.NewPostgresDB(testinfra.Postgres(t))
	ctx := context.Background()
	s := db.Stores()
	day := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)

	key := store.AllocationKey{Centre: "tgcc", Project: "gen0826", Machine: "irene", NodeType: "skl"}
	_, err := s.Allocations().Find(ctx, key)
	assert.True(t, pkgerrors.IsNotFound(err))

	alloc := &store.Allocation{Centre: key.Centre, Project: key.Project, Machine: key.Machine, NodeType: key.NodeType,
		StartDate: day, EndDate: day.AddDate(1, 0, 0), Provisional: true}
	require.NoError(t, s.Allocations().Insert(ctx, alloc))

	require.NoError(t, s.Consumptions().Upsert(ctx, &store.Consumption{AllocationID: alloc.ID, Date: day, Login: "u1", Hours: 4}))
	require.NoError(t, s.Consumptions().Upsert(ctx, &store.Consumption{AllocationID: alloc.ID, Date: day, Login: "u1", Hours: 6}))
	total, err := s.Consumptions().TotalHours(ctx, alloc.ID)
	require.NoError(t, err)
	assert.Equal(t, 6.0, total)

	require.NoError(t, s.Alerts().Insert(ctx, &store.Alert{MessageUID: "m1", Trigger: "conso-new-allocation", Payload: []byte(`{"project":"gen0826"}`)}))
	alerts, err := s.Alerts().ListRecent(ctx, 10)
	require.NoError(t, err)
	require.Len(t, alerts, 1)
	assert.Equal(t, "conso-new-allocation", alerts[0].Trigger)

	require.NoError(t, s.Supervisions().Insert(ctx, &store.Supervision{SimulationUID: "s1", JobUID: "j1", Trigger: "job-late"}))
}
