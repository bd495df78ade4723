// Package vocabulary holds the controlled-vocabulary (CV) term cache used to
// normalize free-text fields of incoming messages.
package vocabulary

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"simwatch/internal/logger"
	"simwatch/pkg/metrics"
)

// Term types looked up by the monitoring pipelines.
const (
	TypeComputeCentre  = "compute_centre"
	TypeComputeMachine = "compute_machine"
	TypeExperiment     = "experiment"
	TypeModel          = "model"
)

type Term struct {
	Type     string                 `json:"term_type" yaml:"-" bson:"term_type"`
	Name     string                 `json:"name" yaml:"name" bson:"name"`
	Synonyms []string               `json:"synonyms,omitempty" yaml:"synonyms,omitempty" bson:"synonyms,omitempty"`
	Extra    map[string]interface{} `json:"extra,omitempty" yaml:"extra,omitempty" bson:"extra,omitempty"`
}

// Draft is a previously unseen value queued for governance approval.
type Draft struct {
	Type      string                 `json:"term_type" bson:"term_type"`
	Name      string                 `json:"name" bson:"name"`
	Extra     map[string]interface{} `json:"extra,omitempty" bson:"extra,omitempty"`
	CreatedAt time.Time              `json:"created_at" bson:"created_at"`
}

type Source interface {
	Terms(ctx context.Context) ([]Term, error)
	Name() string
}

type Cache struct {
	source Source
	logger logger.Logger
	now    func() time.Time

	mu     sync.RWMutex
	index  map[string]map[string]*Term
	loaded bool
}

func NewCache(source Source, log logger.Logger) *Cache {
	return &Cache{
		source: source,
		logger: log,
		now:    time.Now,
		index:  make(map[string]map[string]*Term),
	}
}

func key(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// Load populates the cache from its source on the first call only.
func (c *Cache) Load(ctx context.Context) error {
	c.mu.RLock()
	loaded := c.loaded
	c.mu.RUnlock()
	if loaded {
		return nil
	}
	return c.Refresh(ctx)
}

// Refresh rebuilds the index from the source. On error the previous index
// stays in place.
func (c *Cache) Refresh(ctx context.Context) error {
	terms, err := c.source.Terms(ctx)
	if err != nil {
		return fmt.Errorf("load vocabulary from %s: %w", c.source.Name(), err)
	}

	index := make(map[string]map[string]*Term)
	counts := make(map[string]int)
	for i := range terms {
		t := &terms[i]
		t.Type = key(t.Type)
		if t.Type == "" || key(t.Name) == "" {
			continue
		}
		byName, ok := index[t.Type]
		if !ok {
			byName = make(map[string]*Term)
			index[t.Type] = byName
		}
		byName[key(t.Name)] = t
		for _, syn := range t.Synonyms {
			if k := key(syn); k != "" {
				if _, taken := byName[k]; !taken {
					byName[k] = t
				}
			}
		}
		counts[t.Type]++
	}

	c.mu.Lock()
	c.index = index
	c.loaded = true
	c.mu.Unlock()

	for termType, n := range counts {
		metrics.SetVocabularyTerms(termType, n)
	}
	c.logger.Infow("Vocabulary loaded",
		"source", c.source.Name(),
		"terms", len(terms),
	)
	return nil
}

// Get resolves a name or synonym to its canonical term, case-insensitively.
func (c *Cache) Get(termType, nameOrSynonym string) *Term {
	c.mu.RLock()
	defer c.mu.RUnlock()

	byName, ok := c.index[key(termType)]
	if !ok {
		return nil
	}
	return byName[key(nameOrSynonym)]
}

// Create returns a draft for a value the cache does not know. The cache
// itself is not modified; drafts become terms only after approval.
func (c *Cache) Create(termType, name string, extra map[string]interface{}) Draft {
	return Draft{
		Type:      key(termType),
		Name:      strings.TrimSpace(name),
		Extra:     extra,
		CreatedAt: c.now().UTC(),
	}
}

// Normalize returns the canonical name for value, or value itself plus a
// draft when it is unknown. Empty values are returned unchanged.
func (c *Cache) Normalize(termType, value string) (string, *Draft) {
	if strings.TrimSpace(value) == "" {
		return value, nil
	}
	if t := c.Get(termType, value); t != nil {
		return t.Name, nil
	}
	d := c.Create(termType, value, nil)
	return value, &d
}

func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()

	n := 0
	for _, byName := range c.index {
		seen := make(map[*Term]struct{}, len(byName))
		for _, t := range byName {
			seen[t] = struct{}{}
		}
		n += len(seen)
	}
	return n
}

// StartRefresher refreshes the cache every interval until ctx is done.
func (c *Cache) StartRefresher(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := c.Refresh(ctx); err != nil {
					if ctx.Err() != nil {
						return
					}
					c.logger.Warnw("Vocabulary refresh failed, keeping previous terms",
						"error", err,
					)
				}
			}
		}
	}()
}
