package migrations

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// Mongo collection names.
const (
	CollectionMessageArchive = "message_archive"
	CollectionCVTerms        = "cv_terms"
	CollectionCVTermDrafts   = "cv_term_drafts"
)

// EnsureMongoCollections creates the indexes used by the archive and the
// vocabulary collections. archiveTTL of zero keeps archived messages forever.
func EnsureMongoCollections(ctx context.Context, db *mongo.Database, archiveTTL time.Duration) error {
	archive := []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "uid", Value: 1}},
			Options: options.Index().SetName("idx_message_archive_uid").SetUnique(true),
		},
		{
			Keys:    bson.D{{Key: "type_id", Value: 1}, {Key: "archived_at", Value: -1}},
			Options: options.Index().SetName("idx_message_archive_type_archived_at"),
		},
	}
	if archiveTTL > 0 {
		archive = append(archive, mongo.IndexModel{
			Keys: bson.D{{Key: "archived_at", Value: 1}},
			Options: options.Index().
				SetName("idx_message_archive_ttl").
				SetExpireAfterSeconds(int32(archiveTTL / time.Second)),
		})
	}

	sets := map[string][]mongo.IndexModel{
		CollectionMessageArchive: archive,
		CollectionCVTerms: {
			{
				Keys:    bson.D{{Key: "term_type", Value: 1}, {Key: "name", Value: 1}},
				Options: options.Index().SetName("idx_cv_terms_type_name").SetUnique(true),
			},
			{
				Keys:    bson.D{{Key: "term_type", Value: 1}, {Key: "synonyms", Value: 1}},
				Options: options.Index().SetName("idx_cv_terms_type_synonyms"),
			},
		},
		CollectionCVTermDrafts: {
			{
				Keys:    bson.D{{Key: "term_type", Value: 1}, {Key: "name", Value: 1}},
				Options: options.Index().SetName("idx_cv_term_drafts_type_name").SetUnique(true),
			},
		},
	}

	for collection, indexes := range sets {
		if _, err := db.Collection(collection).Indexes().CreateMany(ctx, indexes); err != nil {
			if !strings.Contains(err.Error(), "already exists") {
				return fmt.Errorf("failed to create indexes on %s: %w", collection, err)
			}
		}
	}
	return nil
}
