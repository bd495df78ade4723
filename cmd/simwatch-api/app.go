package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	_ "github.com/lib/pq" // PostgreSQL driver
	"github.com/prometheus/client_golang/prometheus/promhttp"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"golang.org/x/sync/errgroup"

	"simwatch/internal/agent"
	"simwatch/internal/api"
	"simwatch/internal/broker"
	"simwatch/internal/config"
	"simwatch/internal/constants"
	"simwatch/internal/feed"
	"simwatch/internal/logger"
	"simwatch/internal/store"
	"simwatch/pkg/bootstrap"
	"simwatch/pkg/health"
	"simwatch/pkg/metrics"
	"simwatch/pkg/middleware"
	"simwatch/pkg/ratelimit"
	"simwatch/pkg/tracing"
)

type App struct {
	*bootstrap.Base
	withFeed       bool
	dbConnector    *bootstrap.DatabaseConnector
	sqlDB          *sql.DB
	db             *store.PostgresDB
	hub            *feed.Hub
	feedConsumer   broker.Consumer
	health         *health.CheckerRegistry
	server         *http.Server
	router         *gin.Engine
	tracerProvider *tracing.TracerProvider
}

func NewApp(cfg *config.Config, log logger.Logger, withFeed bool) *App {
	if sugaredLogger, ok := log.(*logger.SugaredLogger); ok {
		sugaredLogger.SetServiceName(serviceName)
	}
	return &App{
		Base:        bootstrap.NewBase(cfg, log),
		withFeed:    withFeed,
		dbConnector: bootstrap.NewDatabaseConnector(cfg, log),
		health:      health.NewCheckerRegistry(),
	}
}

func (a *App) Initialize(ctx context.Context) error {
	tp, err := tracing.Init(a.Config.Tracing, serviceName)
	if err != nil {
		return fmt.Errorf("failed to initialize tracing: %w", err)
	}
	a.tracerProvider = tp

	metrics.RegisterAPIMetrics()
	metrics.RegisterAgentMetrics()
	if a.Config.CircuitBreaker.Enabled {
		metrics.RegisterCircuitBreakerMetrics()
	}

	if err := a.initDatabase(ctx); err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}

	a.hub = feed.NewHub(a.Config.API.FeedBuffer, a.Logger.Named("feed"))

	if a.withFeed {
		if err := a.initFeedConsumer(ctx); err != nil {
			return fmt.Errorf("failed to initialize feed consumer: %w", err)
		}
	}

	a.initRouter(ctx)
	a.initServer()
	return nil
}

func (a *App) initDatabase(ctx context.Context) error {
	db, err := a.dbConnector.InitPostgreSQL(ctx)
	if err != nil {
		return err
	}
	a.sqlDB = db
	a.db = store.NewPostgresDB(db)
	a.health.Register(health.NewPostgreSQLChecker(db))
	return nil
}

// initFeedConsumer runs the front end agent in-process so its
// notifications reach this server's websocket clients.
func (a *App) initFeedConsumer(ctx context.Context) error {
	if err := a.InitProducer(); err != nil {
		return err
	}

	runner, err := a.NewAgentRunner(bootstrap.AgentOptions{
		Name:      constants.AgentFrontEnd,
		DB:        a.db,
		Publisher: a.Producer,
		Deps:      &agent.Deps{Feed: a.hub, Logger: a.Logger},
	})
	if err != nil {
		return err
	}

	def, err := agent.Lookup(constants.AgentFrontEnd)
	if err != nil {
		return err
	}
	consumer, err := a.AddConsumer(broker.ConsumerOptions{
		Agent:   def.Name,
		Queue:   def.Queue,
		Handler: runner.HandlerFunc(),
	})
	if err != nil {
		return err
	}
	a.feedConsumer = consumer
	a.health.Register(health.NewConsumerChecker(def.Name, consumer))
	return nil
}

func (a *App) initRouter(ctx context.Context) {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()

	if a.Config.Tracing.Enabled {
		router.Use(tracing.GinMiddleware(serviceName))
	}

	router.Use(middleware.RecoveryMiddleware(a.Logger))
	router.Use(middleware.LoggerMiddleware(a.Logger))
	router.Use(middleware.RequestIDMiddleware())

	if a.Config.API.RateLimit.Enabled {
		rateLimitConfig := ratelimit.FromConfig(a.Config.API.RateLimit)
		router.Use(ratelimit.RateLimitMiddleware(ctx, rateLimitConfig))
		a.Logger.InfowCtx(ctx, "Rate limiting enabled", "rps", rateLimitConfig.RPS, "burst", rateLimitConfig.Burst)
	}

	handler := api.NewHandler(api.NewService(a.db), a.hub, a.Logger)
	handler.RegisterRoutes(router)

	router.GET("/health", func(c *gin.Context) {
		h := a.health.Check(c.Request.Context())
		statusCode := http.StatusOK
		if h.Status == health.StatusUnhealthy {
			statusCode = http.StatusServiceUnavailable
		}
		c.JSON(statusCode, h)
	})

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	router.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	a.router = router
}

func (a *App) initServer() {
	a.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", a.Config.Server.Port),
		Handler:           a.router,
		ReadHeaderTimeout: time.Duration(a.Config.Server.ReadTimeoutSeconds) * time.Second,
		ReadTimeout:       time.Duration(a.Config.Server.ReadTimeoutSeconds) * time.Second,
	}
}

func (a *App) Run(ctx context.Context) error {
	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		a.Logger.InfowCtx(ctx, "Server listening", "port", a.Config.Server.Port)
		if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})

	if a.feedConsumer != nil {
		g.Go(func() error {
			return a.feedConsumer.Run(gCtx)
		})
	}

	g.Go(func() error {
		<-gCtx.Done()
		a.hub.Close()
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
		return append(errs, a.dbConnector.ShutdownDatabases(ctx, nil, a.sqlDB, nil)...)
	})
}
