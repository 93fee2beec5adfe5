package main

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"
	"golang.org/x/sync/errgroup"

	"paypersist/internal/audit"
	"paypersist/internal/batch"
	"paypersist/internal/broker"
	"paypersist/internal/cdm"
	"paypersist/internal/config"
	"paypersist/internal/constants"
	"paypersist/internal/idempotency"
	"paypersist/internal/ingest"
	"paypersist/internal/logger"
	"paypersist/internal/message"
	"paypersist/pkg/bootstrap"
	"paypersist/pkg/health"
	"paypersist/pkg/logging"
	"paypersist/pkg/metrics"
	"paypersist/pkg/middleware"
	"paypersist/pkg/migrations"
	"paypersist/pkg/ratelimit"
	"paypersist/pkg/tracing"
)

const serviceName = constants.ServiceNamePersistence

type App struct {
	*bootstrap.Base
	dbConnector    *bootstrap.DatabaseConnector
	postgresDB     *sql.DB
	redis          *redis.Client
	mongoClient    *mongo.Client
	messages       *message.Store
	cdms           *cdm.Store
	batches        *batch.Coordinator
	auditor        audit.Reader
	tracerProvider *tracing.TracerProvider
	router         *gin.Engine
	server         *http.Server
	newConsumer    func() (broker.Consumer, error)
}

func NewApp(cfg *config.Config, log logger.Logger) *App {
	app := &App{
		Base:        bootstrap.NewBase(cfg, log),
		dbConnector: bootstrap.NewDatabaseConnector(cfg, log),
	}
	app.newConsumer = app.NewConsumer
	return app
}

func (a *App) Initialize(ctx context.Context) error {
	initCtx := logging.WithServiceName(ctx, serviceName)

	if err := a.initPostgreSQL(initCtx); err != nil {
		return fmt.Errorf("failed to initialize PostgreSQL: %w", err)
	}

	a.initRedis(initCtx)
	a.initMongoDB(initCtx)

	tp, err := tracing.Init(a.Config.Tracing, serviceName)
	if err != nil {
		return fmt.Errorf("failed to initialize tracing: %w", err)
	}
	a.tracerProvider = tp

	metrics.RegisterPersistenceMetrics()
	metrics.RegisterHTTPMetrics()
	if a.Config.CircuitBreaker.Enabled {
		metrics.RegisterCircuitBreakerMetrics()
	}

	a.initStores()

	if a.kafkaEnabled() {
		if err := a.InitBroker(serviceName); err != nil {
			return fmt.Errorf("failed to initialize broker: %w", err)
		}
		metrics.RegisterBrokerMetrics()
	}

	a.initRouter(ctx)
	a.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", a.Config.Server.Port),
		Handler:      a.router,
		ReadTimeout:  time.Duration(a.Config.Server.ReadTimeoutSeconds) * time.Second,
		WriteTimeout: time.Duration(a.Config.Server.WriteTimeoutSeconds) * time.Second,
	}

	return nil
}

func (a *App) initPostgreSQL(ctx context.Context) error {
	db, err := a.dbConnector.InitPostgreSQL(ctx)
	if err != nil {
		return err
	}
	a.postgresDB = db

	if a.Config.Database.RunMigrations {
		if err := migrations.UpPostgres(db, a.Config.Persistence.MigrationsPath); err != nil {
			return fmt.Errorf("failed to run migrations: %w", err)
		}
		a.Logger.InfowCtx(ctx, "PostgreSQL migrations applied")
	}
	return nil
}

func (a *App) initRedis(ctx context.Context) {
	client, err := a.dbConnector.InitRedis(ctx)
	if err != nil {
		a.Logger.WarnwCtx(ctx, "Redis unavailable, idempotent replay protection disabled", "error", err)
		return
	}
	a.redis = client
}

func (a *App) initMongoDB(ctx context.Context) {
	client, err := a.dbConnector.InitMongoDB(ctx)
	if err != nil {
		a.Logger.WarnwCtx(ctx, "MongoDB unavailable, batch audit disabled", "error", err)
		return
	}
	if client == nil {
		return
	}
	a.mongoClient = client

	if err := migrations.EnsureBatchAuditIndexes(ctx, a.dbConnector.MongoDatabase(client)); err != nil {
		a.Logger.WarnwCtx(ctx, "Failed to create batch audit indexes", "error", err)
	}
}

func (a *App) initStores() {
	var registry idempotency.Registry = idempotency.NopRegistry{}
	if a.redis != nil {
		ttl := time.Duration(a.Config.Persistence.IdempotencyTTLSeconds) * time.Second
		registry = idempotency.NewRedisRegistry(a.redis, ttl)
		if a.Config.CircuitBreaker.Enabled {
			registry = idempotency.NewCircuitBreakerRegistry(registry, a.Config.CircuitBreaker)
		}
	}

	var recorder interface {
		audit.Recorder
		audit.Reader
	} = audit.NopRecorder{}
	if a.mongoClient != nil {
		recorder = audit.NewMongoRecorder(a.dbConnector.MongoDatabase(a.mongoClient))
	}
	a.auditor = recorder

	a.messages = message.NewStore(message.NewRepository(a.postgresDB), registry, a.Logger)
	a.cdms = cdm.NewStore(cdm.NewRepository(a.postgresDB), a.Logger)
	a.batches = batch.NewCoordinator(a.messages, a.cdms, recorder, a.Logger,
		batch.WithMaxItems(a.Config.Persistence.MaxBatchItems),
		batch.WithDefaultMode(a.Config.Persistence.BatchMode),
	)
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

	if a.Config.RateLimit.Enabled {
		router.Use(ratelimit.RateLimitMiddleware(ctx, a.Config.RateLimit))
		a.Logger.InfowCtx(ctx, "Rate limiting enabled", "rps", a.Config.RateLimit.RPS, "burst", a.Config.RateLimit.Burst)
	}

	ingest.NewHandler(a.messages, a.cdms, a.batches, a.auditor, a.Logger).RegisterRoutes(router)

	healthRegistry := health.NewCheckerRegistry()
	healthRegistry.Register(health.NewPostgreSQLChecker(a.postgresDB, serviceName))
	if a.redis != nil {
		healthRegistry.RegisterOptional(health.NewRedisChecker(a.redis))
	}
	if a.mongoClient != nil {
		healthRegistry.RegisterOptional(health.NewMongoDBChecker(a.mongoClient))
	}
	router.GET("/health", health.Handler(healthRegistry))
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	a.router = router
}

func (a *App) kafkaEnabled() bool {
	return a.Config.Broker.Type == "kafka" && len(a.Config.Broker.Kafka.Brokers) > 0
}

// Run serves HTTP and, with Kafka configured, consumes the ingest topics until ctx
// is done or one of them fails. Consumers are created before anything starts.
func (a *App) Run(ctx context.Context) error {
	var subs []subscription
	if a.kafkaEnabled() {
		var err error
		if subs, err = a.subscribe(); err != nil {
			return err
		}
	}

	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		a.Logger.InfowCtx(ctx, "HTTP server starting", "port", a.Config.Server.Port)
		if err := a.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("HTTP server error: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gCtx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), constants.ShutdownTimeout)
		defer cancel()
		return a.server.Shutdown(shutdownCtx)
	})

	for _, sub := range subs {
		g.Go(func() error {
			a.Logger.InfowCtx(logging.WithServiceName(gCtx, serviceName), "Starting consumer", "topic", sub.topic)
			return sub.consumer.Consume(gCtx, sub.topic, sub.handler)
		})
	}

	return g.Wait()
}

type subscription struct {
	topic    string
	handler  broker.HandlerFunc
	consumer broker.Consumer
}

func (a *App) subscribe() ([]subscription, error) {
	kafkaCfg := a.Config.Broker.Kafka
	handler := ingest.NewKafkaHandler(a.messages, a.cdms, a.batches, a.Producer,
		orDefault(kafkaCfg.ResultTopic, constants.DefaultResultTopic), a.Logger)

	subs := []subscription{
		{topic: orDefault(kafkaCfg.RawTopic, constants.DefaultRawTopic), handler: handler.HandleRaw},
		{topic: orDefault(kafkaCfg.CdmTopic, constants.DefaultCdmTopic), handler: handler.HandleCdm},
		{topic: orDefault(kafkaCfg.BatchTopic, constants.DefaultBatchTopic), handler: handler.HandleBatch},
	}

	for i := range subs {
		consumer, err := a.newConsumer()
		if err != nil {
			return nil, fmt.Errorf("failed to create consumer for %s: %w", subs[i].topic, err)
		}
		subs[i].consumer = consumer
	}
	return subs, nil
}

func (a *App) Shutdown(ctx context.Context) error {
	shutdownCtx := logging.WithServiceName(ctx, serviceName)
	a.Logger.InfowCtx(shutdownCtx, "Shutting down persistence service")

	additionalShutdown := func(ctx context.Context) []error {
		var errs []error

		if a.server != nil {
			serverCtx, cancel := context.WithTimeout(context.Background(), constants.ShutdownTimeout)
			defer cancel()
			if err := a.server.Shutdown(serverCtx); err != nil {
				errs = append(errs, fmt.Errorf("HTTP server shutdown error: %w", err))
			}
		}

		if a.tracerProvider != nil {
			if err := a.tracerProvider.Shutdown(ctx); err != nil {
				errs = append(errs, fmt.Errorf("tracer provider shutdown error: %w", err))
			}
		}

		errs = append(errs, a.dbConnector.ShutdownDatabases(ctx, a.redis, a.postgresDB, a.mongoClient)...)
		return errs
	}

	return a.Base.Shutdown(shutdownCtx, additionalShutdown)
}

func orDefault(value, fallback string) string {
	if value == "" {
		return fallback
	}
	return value
}
