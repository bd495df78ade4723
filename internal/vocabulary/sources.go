package vocabulary

import (
	"context"
	"fmt"
	"os"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"gopkg.in/yaml.v3"
)

// FileSource reads terms from a YAML document keyed by term type:
//
//	model:
//	  - name: IPSL-CM6A-LR
//	    synonyms: [ipsl-cm6a]
type FileSource struct {
	path string
}

func NewFileSource(path string) *FileSource {
	return &FileSource{path: path}
}

func (s *FileSource) Name() string {
	return "file:" + s.path
}

func (s *FileSource) Terms(_ context.Context) ([]Term, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return nil, fmt.Errorf("read vocabulary file: %w", err)
	}
	return ParseYAML(data)
}

func ParseYAML(data []byte) ([]Term, error) {
	var doc map[string][]Term
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse vocabulary yaml: %w", err)
	}

	var terms []Term
	for termType, list := range doc {
		for _, t := range list {
			t.Type = termType
			terms = append(terms, t)
		}
	}
	return terms, nil
}

// MongoSource reads approved terms from the cv_terms collection.
type MongoSource struct {
	collection *mongo.Collection
}

func NewMongoSource(coll *mongo.Collection) *MongoSource {
	return &MongoSource{collection: coll}
}

func (s *MongoSource) Name() string {
	return "mongodb:" + s.collection.Name()
}

func (s *MongoSource) Terms(ctx context.Context) ([]Term, error) {
	cursor, err := s.collection.Find(ctx, bson.M{})
	if err != nil {
		return nil, fmt.Errorf("failed to list vocabulary terms: %w", err)
	}
	defer cursor.Close(ctx)

	var terms []Term
	if err := cursor.All(ctx, &terms); err != nil {
		return nil, fmt.Errorf("failed to decode vocabulary terms: %w", err)
	}
	return terms, nil
}

// StaticSource serves a fixed term list. An empty StaticSource backs the
// "none" vocabulary setting: every value becomes a draft.
type StaticSource []Term

func (s StaticSource) Name() string {
	return "static"
}

func (s StaticSource) Terms(_ context.Context) ([]Term, error) {
	out := make([]Term, len(s))
	copy(out, s)
	return out, nil
}
