package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	_ "github.com/lib/pq" // PostgreSQL driver
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"
	"golang.org/x/sync/errgroup"

	"simwatch/internal/agent"
	"simwatch/internal/archive"
	"simwatch/internal/broker"
	"simwatch/internal/config"
	"simwatch/internal/constants"
	"simwatch/internal/deduplication"
	"simwatch/internal/logger"
	"simwatch/internal/mq"
	"simwatch/internal/store"
	"simwatch/internal/store/memstore"
	"simwatch/pkg/bootstrap"
	"simwatch/pkg/health"
	"simwatch/pkg/metrics"
	"simwatch/pkg/middleware"
	"simwatch/pkg/tracing"
)

type ServeOptions struct {
	Agent  string
	Limit  int
	DryRun bool
}

type App struct {
	*bootstrap.Base
	opts           ServeOptions
	dbConnector    *bootstrap.DatabaseConnector
	sqlDB          *sql.DB
	redis          *redis.Client
	mongoClient    *mongo.Client
	db             store.TxRunner
	publisher      mq.Publisher
	consumer       broker.Consumer
	health         *health.CheckerRegistry
	tracerProvider *tracing.TracerProvider
	server         *http.Server
}

func NewApp(cfg *config.Config, log logger.Logger, opts ServeOptions) *App {
	return &App{
		Base:        bootstrap.NewBase(cfg, log),
		opts:        opts,
		dbConnector: bootstrap.NewDatabaseConnector(cfg, log),
		health:      health.NewCheckerRegistry(),
	}
}

func (a *App) Initialize(ctx context.Context) error {
	def, err := agent.Lookup(a.opts.Agent)
	if err != nil {
		return err
	}

	tp, err := tracing.Init(a.Config.Tracing, serviceName, tracing.AgentKey.String(def.Name))
	if err != nil {
		return fmt.Errorf("failed to initialize tracing: %w", err)
	}
	a.tracerProvider = tp

	metrics.RegisterAgentMetrics()
	if a.Config.CircuitBreaker.Enabled {
		metrics.RegisterCircuitBreakerMetrics()
	}

	if a.opts.DryRun {
		a.db = memstore.New()
		a.publisher = newLogPublisher(a.Logger.Named("dry-run"))
	} else {
		if err := a.initDatabases(ctx); err != nil {
			return fmt.Errorf("failed to initialize databases: %w", err)
		}
		if err := a.initProducer(ctx); err != nil {
			return err
		}
	}

	runner, err := a.initRunner(ctx, def)
	if err != nil {
		return fmt.Errorf("failed to initialize agent %s: %w", def.Name, err)
	}

	consumer, err := a.AddConsumer(broker.ConsumerOptions{
		Agent:   def.Name,
		Queue:   def.Queue,
		Handler: runner.HandlerFunc(),
		Limit:   a.opts.Limit,
	})
	if err != nil {
		return err
	}
	a.consumer = consumer
	a.health.Register(health.NewConsumerChecker(def.Name, consumer))

	a.initHTTPServer()
	return nil
}

func (a *App) initDatabases(ctx context.Context) error {
	db, err := a.dbConnector.InitPostgreSQL(ctx)
	if err != nil {
		return err
	}
	a.sqlDB = db
	a.db = store.NewPostgresDB(db)
	a.health.Register(health.NewPostgreSQLChecker(db))

	rdb, err := a.dbConnector.InitRedis(ctx)
	if err != nil {
		return err
	}
	a.redis = rdb
	if rdb != nil {
		a.health.Register(health.NewRedisChecker(rdb))
	}

	mongoClient, err := a.dbConnector.InitMongoDB(ctx)
	if err != nil {
		return err
	}
	a.mongoClient = mongoClient
	if mongoClient != nil {
		a.health.Register(health.NewMongoDBChecker(mongoClient))
	}
	return nil
}

func (a *App) initProducer(ctx context.Context) error {
	if err := a.InitProducer(); err != nil {
		return err
	}
	a.publisher = a.Producer

	if spool, ok := a.Producer.(*broker.SpoolingProducer); ok {
		spool.StartReplayer(ctx, a.Config.Broker.Spool.ReplayInterval)
		a.health.Register(health.NewSpoolChecker(spool))
	}
	return nil
}

func (a *App) initRunner(ctx context.Context, def agent.Definition) (*agent.Runner, error) {
	mongoDB := a.dbConnector.MongoDatabase(a.mongoClient)

	deps, err := a.AgentDeps(ctx, mongoDB)
	if err != nil {
		return nil, err
	}

	opts := bootstrap.AgentOptions{
		Name:      def.Name,
		DB:        a.db,
		Publisher: a.publisher,
		Deps:      deps,
	}

	if a.Config.Deduplication.Enabled && a.redis != nil {
		var repo deduplication.Repository = deduplication.NewRepository(a.redis)
		if a.Config.CircuitBreaker.Enabled {
			repo = deduplication.NewCircuitBreakerRepository(repo, a.Config.CircuitBreaker)
		}
		opts.Dedup = deduplication.NewService(repo, a.Config.Deduplication, def.Name, a.Logger.Named("dedup"))
		a.Logger.Infow("Redis deduplication enabled", "on_redis_error", a.Config.Deduplication.OnRedisError)
	}

	if a.Config.Archive.Enabled && mongoDB != nil {
		opts.Archive = archive.NewMongoArchive(mongoDB)
		a.Logger.Infow("Message archive enabled", "ttl", a.Config.Archive.TTL)
	}

	return a.NewAgentRunner(opts)
}

func (a *App) initHTTPServer() {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(middleware.RecoveryMiddleware(a.Logger))
	router.Use(middleware.LoggerMiddleware(a.Logger))

	router.GET("/health", func(c *gin.Context) {
		h := a.health.Check(c.Request.Context())
		statusCode := http.StatusOK
		if h.Status == health.StatusUnhealthy {
			statusCode = http.StatusServiceUnavailable
		}
		c.JSON(statusCode, h)
	})
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	a.server = &http.Server{
		Addr:    fmt.Sprintf(":%d", a.Config.Server.Port),
		Handler: router,
	}
}

// Run consumes until the signal context ends, the delivery limit is
// reached or the handler reports a configuration error. The health server
// stops with the consumer.
func (a *App) Run(ctx context.Context) error {
	runCtx, stop := context.WithCancel(ctx)
	defer stop()

	g, gCtx := errgroup.WithContext(runCtx)

	g.Go(func() error {
		a.Logger.InfowCtx(ctx, "Health server listening", "port", a.Config.Server.Port)
		if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("HTTP server error: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		defer stop()
		return a.consumer.Run(gCtx)
	})

	g.Go(func() error {
		<-gCtx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), constants.ShutdownTimeout)
		defer cancel()
		return a.server.Shutdown(shutdownCtx)
	})

	runErr := g.Wait()
	if err := a.Shutdown(context.Background()); err != nil && runErr == nil {
		runErr = err
	}
	return runErr
}

func (a *App) Shutdown(ctx context.Context) error {
	return a.Base.Shutdown(ctx, func(ctx context.Context) []error {
		var errs []error
		if a.tracerProvider != nil {
			if err := a.tracerProvider.Shutdown(ctx); err != nil {
				errs = append(errs, fmt.Errorf("tracer provider shutdown error: %w", err))
			}
		}
		return append(errs, a.dbConnector.ShutdownDatabases(ctx, a.redis, a.sqlDB, a.mongoClient)...)
	})
}
