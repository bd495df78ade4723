package archive_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"

	"simwatch/internal/archive"
	"simwatch/internal/logger"
	"simwatch/internal/store"
	"simwatch/internal/testinfra"
	"simwatch/internal/vocabulary"
	"simwatch/pkg/migrations"
)

func TestMongoArchive_StoreIsIdempotent(t *testing.T) {
	db := testinfra.Mongo(t)
	a := archive.NewMongoArchive(db)
	ctx := context.Background()

	msg := &store.Message{
		UID:            "0b8c0b4e-5c1f-4c2a-9d55-000000000001",
		TypeID:         "1000",
		ProducerID:     "libigcm",
		Content:        []byte(`{"job_uid":"j1"}`),
		CorrelationID1: "sim-1",
		Timestamp:      time.Now().UTC(),
	}
	require.NoError(t, a.Store(ctx, msg))
	require.NoError(t, a.Store(ctx, msg))

	n, err := a.Count(ctx, "1000")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	n, err = a.Count(ctx, "1100")
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestMongoArchive_PurgedContentNotStored(t *testing.T) {
	db := testinfra.Mongo(t)
	a := archive.NewMongoArchive(db)
	ctx := context.Background()

	require.NoError(t, a.Store(ctx, &store.Message{
		UID:           "0b8c0b4e-5c1f-4c2a-9d55-000000000002",
		TypeID:        "8200",
		Content:       []byte(`{"event":"job_start"}`),
		ContentPurged: true,
	}))

	var doc bson.M
	err := db.Collection(migrations.CollectionMessageArchive).
		FindOne(ctx, bson.M{"uid": "0b8c0b4e-5c1f-4c2a-9d55-000000000002"}).Decode(&doc)
	require.NoError(t, err)
	_, hasContent := doc["content"]
	assert.False(t, hasContent)
}

func TestDraftStore_Upsert(t *testing.T) {
	db := testinfra.Mongo(t)
	s := archive.NewDraftStore(db)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Millisecond)

	drafts := []vocabulary.Draft{
		{Type: vocabulary.TypeModel, Name: "CNRM-CM6", CreatedAt: now},
		{Type: vocabulary.TypeExperiment, Name: "ssp585", CreatedAt: now},
	}
	require.NoError(t, s.Upsert(ctx, drafts))
	require.NoError(t, s.Upsert(ctx, drafts[:1]))
	require.NoError(t, s.Upsert(ctx, nil))

	all, err := s.List(ctx, "")
	require.NoError(t, err)
	assert.Len(t, all, 2)

	models, err := s.List(ctx, vocabulary.TypeModel)
	require.NoError(t, err)
	require.Len(t, models, 1)
	assert.Equal(t, "CNRM-CM6", models[0].Name)

	var doc bson.M
	require.NoError(t, db.Collection(migrations.CollectionCVTermDrafts).
		FindOne(ctx, bson.M{"name": "CNRM-CM6"}).Decode(&doc))
	assert.EqualValues(t, 2, doc["occurrences"])
}

func TestMongoSource(t *testing.T) {
	db := testinfra.Mongo(t)
	ctx := context.Background()

	_, err := db.Collection(migrations.CollectionCVTerms).InsertMany(ctx, []interface{}{
		vocabulary.Term{Type: vocabulary.TypeModel, Name: "IPSL-CM6A-LR", Synonyms: []string{"ipslcm6"}},
		vocabulary.Term{Type: vocabulary.TypeComputeMachine, Name: "irene"},
	})
	require.NoError(t, err)

	c := vocabulary.NewCache(vocabulary.NewMongoSource(db.Collection(migrations.CollectionCVTerms)), logger.NopLogger())
	require.NoError(t, c.Load(ctx))

	term := c.Get(vocabulary.TypeModel, "IPSLCM6")
	require.NotNil(t, term)
	assert.Equal(t, "IPSL-CM6A-LR", term.Name)
	assert.Equal(t, 2, c.Len())
}
