// Package archive keeps document-store copies of processed messages and
// collects vocabulary drafts awaiting approval.
package archive

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"simwatch/internal/store"
	"simwatch/internal/vocabulary"
	"simwatch/pkg/migrations"
)

type archivedMessage struct {
	UID             string    `bson:"uid"`
	TypeID          string    `bson:"type_id"`
	ProducerID      string    `bson:"producer_id"`
	ProducerVersion string    `bson:"producer_version"`
	UserID          string    `bson:"user_id"`
	ContentEncoding string    `bson:"content_encoding"`
	ContentType     string    `bson:"content_type"`
	Content         []byte    `bson:"content,omitempty"`
	CorrelationIDs  []string  `bson:"correlation_ids,omitempty"`
	Timestamp       time.Time `bson:"timestamp"`
	TimestampRaw    int64     `bson:"timestamp_raw"`
	ArchivedAt      time.Time `bson:"archived_at"`
}

type MongoArchive struct {
	collection *mongo.Collection
	now        func() time.Time
}

func NewMongoArchive(db *mongo.Database) *MongoArchive {
	return &MongoArchive{
		collection: db.Collection(migrations.CollectionMessageArchive),
		now:        time.Now,
	}
}

// Store upserts the message by uid so replays overwrite rather than fail.
func (a *MongoArchive) Store(ctx context.Context, m *store.Message) error {
	doc := archivedMessage{
		UID:             m.UID,
		TypeID:          m.TypeID,
		ProducerID:      m.ProducerID,
		ProducerVersion: m.ProducerVersion,
		UserID:          m.UserID,
		ContentEncoding: m.ContentEncoding,
		ContentType:     m.ContentType,
		Timestamp:       m.Timestamp,
		TimestampRaw:    m.TimestampRaw,
		ArchivedAt:      a.now().UTC(),
	}
	if !m.ContentPurged {
		doc.Content = m.Content
	}
	for _, id := range []string{m.CorrelationID1, m.CorrelationID2, m.CorrelationID3} {
		if id != "" {
			doc.CorrelationIDs = append(doc.CorrelationIDs, id)
		}
	}

	_, err := a.collection.ReplaceOne(ctx,
		bson.M{"uid": m.UID},
		doc,
		options.Replace().SetUpsert(true),
	)
	if err != nil {
		return fmt.Errorf("failed to archive message %s: %w", m.UID, err)
	}
	return nil
}

// Count returns the number of archived messages of the given type; an
// empty type counts all of them.
func (a *MongoArchive) Count(ctx context.Context, typeID string) (int64, error) {
	filter := bson.M{}
	if typeID != "" {
		filter["type_id"] = typeID
	}
	n, err := a.collection.CountDocuments(ctx, filter)
	if err != nil {
		return 0, fmt.Errorf("failed to count archived messages: %w", err)
	}
	return n, nil
}

type DraftStore struct {
	collection *mongo.Collection
}

func NewDraftStore(db *mongo.Database) *DraftStore {
	return &DraftStore{collection: db.Collection(migrations.CollectionCVTermDrafts)}
}

// Upsert records each draft once per (term_type, name) and counts how often
// it was reported.
func (s *DraftStore) Upsert(ctx context.Context, drafts []vocabulary.Draft) error {
	if len(drafts) == 0 {
		return nil
	}

	models := make([]mongo.WriteModel, 0, len(drafts))
	for _, d := range drafts {
		models = append(models, mongo.NewUpdateOneModel().
			SetFilter(bson.M{"term_type": d.Type, "name": d.Name}).
			SetUpdate(bson.M{
				"$setOnInsert": bson.M{"extra": d.Extra, "created_at": d.CreatedAt},
				"$set":         bson.M{"last_seen_at": d.CreatedAt},
				"$inc":         bson.M{"occurrences": 1},
			}).
			SetUpsert(true))
	}

	if _, err := s.collection.BulkWrite(ctx, models, options.BulkWrite().SetOrdered(false)); err != nil {
		return fmt.Errorf("failed to upsert %d vocabulary drafts: %w", len(drafts), err)
	}
	return nil
}

func (s *DraftStore) List(ctx context.Context, termType string) ([]vocabulary.Draft, error) {
	filter := bson.M{}
	if termType != "" {
		filter["term_type"] = termType
	}
	cursor, err := s.collection.Find(ctx, filter, options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}}))
	if err != nil {
		return nil, fmt.Errorf("failed to list vocabulary drafts: %w", err)
	}
	defer cursor.Close(ctx)

	var drafts []vocabulary.Draft
	if err := cursor.All(ctx, &drafts); err != nil {
		return nil, fmt.Errorf("failed to decode vocabulary drafts: %w", err)
	}
	return drafts, nil
}
