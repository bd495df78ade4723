package bootstrap

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/mongo"

	"simwatch/internal/agent"
	"simwatch/internal/archive"
	"simwatch/internal/conso"
	"simwatch/internal/constants"
	"simwatch/internal/mq"
	"simwatch/internal/store"
	"simwatch/internal/vocabulary"
	"simwatch/pkg/cel"
	"simwatch/pkg/migrations"
)

// AgentOptions are the per-process collaborators of one agent runner.
// Leave Dedup and Archive nil to disable them.
type AgentOptions struct {
	Name      string
	DB        store.TxRunner
	Publisher mq.Publisher
	Deps      *agent.Deps
	Dedup     agent.Deduplicator
	Archive   agent.Archiver
}

// Enqueuer stamps the configured producer defaults on every message.
func (b *Base) Enqueuer(pub mq.Publisher) *mq.Enqueuer {
	return mq.NewEnqueuer(pub, mq.Defaults{
		AppID:           b.Config.MQ.AppID,
		UserID:          b.Config.MQ.UserID,
		ProducerID:      b.Config.MQ.ProducerID,
		ProducerVersion: b.Config.MQ.ProducerVersion,
	})
}

// NewAgentRunner wires the handler registry, the transactional boundary and
// the routing check for the named agent.
func (b *Base) NewAgentRunner(opts AgentOptions) (*agent.Runner, error) {
	def, err := agent.Lookup(opts.Name)
	if err != nil {
		return nil, err
	}

	deps := opts.Deps
	if deps == nil {
		deps = &agent.Deps{}
	}
	if deps.Logger == nil {
		deps.Logger = b.Logger
	}
	delegator, err := agent.NewDelegator(def, agent.NewHandlerRegistry(deps))
	if err != nil {
		return nil, err
	}

	autoDelete := make([]mq.Type, 0, len(b.Config.MQ.AutoDeleteTypes))
	for _, raw := range b.Config.MQ.AutoDeleteTypes {
		t, err := mq.ParseType(raw)
		if err != nil {
			return nil, fmt.Errorf("mq.auto_delete_types: %w", err)
		}
		autoDelete = append(autoDelete, t)
	}

	boundaryOpts := []agent.BoundaryOption{agent.WithAutoDelete(autoDelete...)}
	if opts.Dedup != nil {
		boundaryOpts = append(boundaryOpts, agent.WithDeduplicator(opts.Dedup))
	}
	if opts.Archive != nil {
		boundaryOpts = append(boundaryOpts, agent.WithArchiver(opts.Archive))
	}

	log := b.Logger.Named(def.Name)
	boundary := agent.NewBoundary(def.Name, opts.DB, b.Enqueuer(opts.Publisher), log, boundaryOpts...)
	return agent.NewRunner(delegator, boundary, log), nil
}

// VocabularySource picks the term source configured under vocabulary.source.
func (b *Base) VocabularySource(mongoDB *mongo.Database) (vocabulary.Source, error) {
	switch b.Config.Vocabulary.Source {
	case "", constants.VocabularySourceNone:
		return vocabulary.StaticSource(nil), nil
	case constants.VocabularySourceFile:
		return vocabulary.NewFileSource(b.Config.Vocabulary.File), nil
	case constants.VocabularySourceMongoDB:
		if mongoDB == nil {
			return nil, fmt.Errorf("vocabulary source %q needs a MongoDB connection", b.Config.Vocabulary.Source)
		}
		return vocabulary.NewMongoSource(mongoDB.Collection(migrations.CollectionCVTerms)), nil
	default:
		return nil, fmt.Errorf("unknown vocabulary source: %s", b.Config.Vocabulary.Source)
	}
}

// AgentDeps builds the collaborators shared by every handler: the
// vocabulary cache (loaded, then refreshed until ctx ends), the conso
// parser and alert rules, and the draft store when MongoDB is available.
func (b *Base) AgentDeps(ctx context.Context, mongoDB *mongo.Database) (*agent.Deps, error) {
	source, err := b.VocabularySource(mongoDB)
	if err != nil {
		return nil, err
	}
	cache := vocabulary.NewCache(source, b.Logger.Named("vocabulary"))
	if err := cache.Load(ctx); err != nil {
		return nil, fmt.Errorf("failed to load vocabulary from %s: %w", source.Name(), err)
	}
	cache.StartRefresher(ctx, b.Config.Vocabulary.RefreshInterval)

	parser, err := conso.NewParser(b.Config.Conso.Parser)
	if err != nil {
		return nil, err
	}

	rules, err := b.ConsoRules()
	if err != nil {
		return nil, err
	}

	deps := &agent.Deps{
		Vocabulary:   cache,
		ConsoParser:  parser,
		ConsoRules:   rules,
		WarningDelay: b.Config.Supervision.DefaultWarningDelay,
		Logger:       b.Logger,
	}
	if mongoDB != nil {
		deps.Drafts = archive.NewDraftStore(mongoDB)
	}
	return deps, nil
}

// ConsoRules compiles conso.alert_rules once at startup.
func (b *Base) ConsoRules() (*cel.RuleSet, error) {
	if len(b.Config.Conso.AlertRules) == 0 {
		return nil, nil
	}

	eval, err := cel.NewEvaluator()
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL evaluator: %w", err)
	}

	specs := make([]cel.RuleSpec, 0, len(b.Config.Conso.AlertRules))
	for _, r := range b.Config.Conso.AlertRules {
		specs = append(specs, cel.RuleSpec{Name: r.Name, Expression: r.Expression})
	}
	rules, err := cel.NewRuleSet(eval, specs)
	if err != nil {
		return nil, fmt.Errorf("conso.alert_rules: %w", err)
	}
	return rules, nil
}
