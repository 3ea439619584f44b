package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	appapproval "github.com/docuflow/backend/internal/application/approval"
	appevent "github.com/docuflow/backend/internal/application/event"
	apppipeline "github.com/docuflow/backend/internal/application/pipeline"
	"github.com/docuflow/backend/internal/application/posting"
	"github.com/docuflow/backend/internal/domain/dedup"
	"github.com/docuflow/backend/internal/infrastructure/auth"
	"github.com/docuflow/backend/internal/infrastructure/cache"
	"github.com/docuflow/backend/internal/infrastructure/config"
	"github.com/docuflow/backend/internal/infrastructure/docai"
	"github.com/docuflow/backend/internal/infrastructure/event"
	"github.com/docuflow/backend/internal/infrastructure/logger"
	"github.com/docuflow/backend/internal/infrastructure/persistence"
	"github.com/docuflow/backend/internal/infrastructure/storage"
	"github.com/docuflow/backend/internal/infrastructure/telemetry"
	"github.com/docuflow/backend/internal/interfaces/http/handler"
	"github.com/docuflow/backend/internal/interfaces/http/middleware"
	"github.com/docuflow/backend/internal/interfaces/http/router"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		panic("failed to load configuration: " + err.Error())
	}

	// Initialize logger
	log, err := logger.New(&logger.Config{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		Output: cfg.Log.Output,
	})
	if err != nil {
		panic("failed to initialize logger: " + err.Error())
	}
	defer func() {
		_ = logger.Sync(log)
	}()

	log.Info("Starting DocuFlow Backend",
		zap.String("app", cfg.App.Name),
		zap.String("env", cfg.App.Env),
		zap.String("port", cfg.App.Port),
	)

	// Distributed tracing; a no-op provider when disabled
	tracerProvider, err := telemetry.NewTracerProvider(context.Background(), telemetry.Config{
		Enabled:           cfg.Telemetry.Enabled,
		CollectorEndpoint: cfg.Telemetry.CollectorEndpoint,
		SamplingRatio:     cfg.Telemetry.SamplingRatio,
		ServiceName:       cfg.Telemetry.ServiceName,
		Insecure:          cfg.Telemetry.Insecure,
	}, log)
	if err != nil {
		log.Fatal("Failed to initialize tracer provider", zap.Error(err))
	}
	defer func() {
		if err := tracerProvider.Shutdown(context.Background()); err != nil {
			log.Error("Error shutting down tracer provider", zap.Error(err))
		}
	}()

	// Connect to database; SQL logging goes through zap
	database, err := persistence.NewDatabase(&cfg.Database)
	if err != nil {
		log.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer func() {
		if err := database.Close(); err != nil {
			log.Error("Error closing database", zap.Error(err))
		}
	}()
	database.DB.Logger = logger.NewGormLogger(log, logger.MapGormLogLevel(cfg.Log.Level))

	dbTracing := telemetry.DefaultDBTracingConfig()
	dbTracing.Enabled = cfg.Telemetry.Enabled && cfg.Telemetry.DBTracingEnabled
	if err := telemetry.NewDBTracingPlugin(dbTracing, log).Register(database.DB); err != nil {
		log.Fatal("Failed to register database tracing", zap.Error(err))
	}

	// Outside production the schema is kept in sync automatically;
	// production deployments run the migrate CLI instead.
	if cfg.App.Env != "production" {
		if err := persistence.AutoMigrate(database.DB); err != nil {
			log.Fatal("Failed to run auto migration", zap.Error(err))
		}
		log.Info("Database schema synchronized")
	}

	// Repositories
	jobRepo := persistence.NewGormJobRepository(database.DB)
	zoneRepo := persistence.NewGormDataZoneRepository(database.DB)
	proposalRepo := persistence.NewGormProposalRepository(database.DB)
	ledgerRepo := persistence.NewGormLedgerRepository(database.DB)
	approvalRepo := persistence.NewGormApprovalRepository(database.DB)
	auditRepo := persistence.NewGormAuditRepository(database.DB)
	idempotencyKeyRepo := persistence.NewGormIdempotencyKeyRepository(database.DB)
	outboxRepo := event.NewGormOutboxRepository(database.DB)
	subscriptionRepo := event.NewGormSubscriptionRepository(database.DB)
	deliveryAttemptRepo := event.NewGormDeliveryAttemptRepository(database.DB)

	// Event serialization and the transactional outbox publisher
	eventSerializer := event.NewEventSerializer()
	event.RegisterDomainEvents(eventSerializer)
	outboxPublisher := event.NewOutboxPublisher(eventSerializer)

	// In-process event bus
	eventBus := event.NewInMemoryEventBus(log)
	if err := eventBus.Start(context.Background()); err != nil {
		log.Fatal("Failed to start event bus", zap.Error(err))
	}
	defer func() {
		if err := eventBus.Stop(context.Background()); err != nil {
			log.Error("Error stopping event bus", zap.Error(err))
		}
	}()

	// Delivery deduplication store for bus consumers
	dedupStore, err := cache.NewIdempotencyStore(
		cache.StoreType(cfg.Event.DedupStore),
		cache.RedisConfig{
			Host:     cfg.Redis.Host,
			Port:     cfg.Redis.Port,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		},
	)
	if err != nil {
		log.Fatal("Failed to create idempotency store", zap.Error(err))
	}
	defer func() {
		if err := dedupStore.Close(); err != nil {
			log.Error("Error closing idempotency store", zap.Error(err))
		}
	}()

	// Internal subscription deliveries fan into the bus; the notification
	// consumer is wrapped so redelivered events notify once.
	eventBus.Subscribe(event.NewIdempotentHandler(
		appevent.NewNotificationHandler(log),
		dedupStore,
		log,
	))

	// Document storage: S3-compatible when credentials or an endpoint are
	// configured, in-memory otherwise. Memory storage loses documents on
	// restart, so it only makes sense for local development.
	var documentStore apppipeline.DocumentStore
	if cfg.Storage.AccessKeyID != "" || cfg.Storage.Endpoint != "" {
		s3Store, err := storage.NewS3DocumentStorage(&cfg.Storage, storage.WithLogger(log))
		if err != nil {
			log.Fatal("Failed to create S3 document storage", zap.Error(err))
		}
		documentStore = s3Store
		log.Info("Using S3 document storage",
			zap.String("bucket", cfg.Storage.Bucket),
			zap.String("endpoint", cfg.Storage.Endpoint),
		)
	} else {
		documentStore = storage.NewMemoryDocumentStorage(cfg.Storage.KeyPrefix)
		log.Warn("Using in-memory document storage, documents are lost on restart")
	}

	// Policy engine; a malformed ruleset fails startup
	policyEngine, err := apppipeline.BuildPolicyEngine(cfg.Policy)
	if err != nil {
		log.Fatal("Failed to build policy engine", zap.Error(err))
	}
	log.Info("Policy engine ready", zap.Int("rules", policyEngine.RuleCount()))

	// Extraction and proposal generation
	docaiClient := docai.NewClient(cfg.DocAI, log)

	// Application services
	dedupService := dedup.NewService(idempotencyKeyRepo)

	postingService := posting.NewService(
		database, jobRepo, zoneRepo, proposalRepo, ledgerRepo,
		outboxPublisher, auditRepo, log,
	)

	approvalService := appapproval.NewService(
		database, jobRepo, approvalRepo, proposalRepo,
		outboxPublisher, auditRepo, postingService, log,
	)

	pipelineService := apppipeline.NewService(
		database, jobRepo, zoneRepo, proposalRepo, approvalRepo,
		documentStore, docaiClient, docaiClient, policyEngine, postingService,
		outboxPublisher, auditRepo,
		apppipeline.Config{
			ExtractWorkers:  cfg.Pipeline.ExtractWorkers,
			ProposeWorkers:  cfg.Pipeline.ProposeWorkers,
			ResumeInterval:  cfg.Pipeline.ResumeInterval,
			ResumeBatchSize: cfg.Pipeline.ResumeBatchSize,
			ApprovalTimeout: cfg.Approval.WaitTimeout,
		},
		log,
	)

	uploadService := apppipeline.NewUploadService(
		database, jobRepo, zoneRepo, documentStore,
		outboxPublisher, auditRepo, dedupService, cfg.Pipeline.IdempotencyTTL, log,
	)

	queryService := apppipeline.NewQueryService(jobRepo, zoneRepo, proposalRepo, ledgerRepo, auditRepo)
	outboxService := appevent.NewOutboxService(outboxRepo, log)
	subscriptionService := appevent.NewSubscriptionService(subscriptionRepo, log)

	// Outbox delivery: webhook POSTs, internal bus publishes, and workflow
	// signals that resume suspended approvals.
	deliveryRouter := event.NewDeliveryRouter(
		event.NewWebhookDeliverer(cfg.Event.WebhookTimeout, log),
		event.NewInternalDeliverer(eventBus),
		event.NewWorkflowDeliverer(approvalService),
	)

	if cfg.Event.ProcessorEnabled {
		processorConfig := event.DefaultOutboxProcessorConfig()
		processorConfig.BatchSize = cfg.Event.BatchSize
		processorConfig.PollInterval = cfg.Event.PollInterval
		processorConfig.ClaimTimeout = cfg.Event.ClaimTimeout
		processorConfig.CleanupEnabled = cfg.Event.CleanupEnabled
		processorConfig.CleanupRetention = cfg.Event.CleanupRetention

		outboxProcessor := event.NewOutboxProcessor(
			outboxRepo, subscriptionRepo, deliveryAttemptRepo,
			eventBus, deliveryRouter, eventSerializer, processorConfig, log,
		)
		if err := outboxProcessor.Start(context.Background()); err != nil {
			log.Fatal("Failed to start outbox processor", zap.Error(err))
		}
		defer func() {
			if err := outboxProcessor.Stop(context.Background()); err != nil {
				log.Error("Error stopping outbox processor", zap.Error(err))
			}
		}()
		log.Info("Outbox processor started",
			zap.Int("batch_size", processorConfig.BatchSize),
			zap.Duration("poll_interval", processorConfig.PollInterval),
		)
	} else {
		log.Warn("Outbox processor disabled, events will accumulate in the outbox table")
	}

	// Pipeline workers; the resume loop picks up jobs stranded mid-flight
	// by a previous process.
	pipelineCtx, cancelPipeline := context.WithCancel(context.Background())
	pipelineService.Start(pipelineCtx)
	defer func() {
		cancelPipeline()
		pipelineService.Stop()
	}()
	log.Info("Pipeline started",
		zap.Int("extract_workers", cfg.Pipeline.ExtractWorkers),
		zap.Int("propose_workers", cfg.Pipeline.ProposeWorkers),
		zap.Duration("resume_interval", cfg.Pipeline.ResumeInterval),
	)

	jwtService := auth.NewJWTService(cfg.JWT)

	// HTTP handlers
	documentHandler := handler.NewDocumentHandler(uploadService, pipelineService)
	jobHandler := handler.NewJobHandler(queryService)
	approvalHandler := handler.NewApprovalHandler(approvalService)
	outboxHandler := handler.NewOutboxHandler(outboxService)
	subscriptionHandler := handler.NewSubscriptionHandler(subscriptionService)
	systemHandler := handler.NewSystemHandler(database.DB)

	// Gin engine
	if cfg.App.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	engine := gin.New()
	if len(cfg.HTTP.TrustedProxies) > 0 {
		if err := engine.SetTrustedProxies(cfg.HTTP.TrustedProxies); err != nil {
			log.Fatal("Failed to set trusted proxies", zap.Error(err))
		}
	}

	engine.Use(middleware.RequestID())
	engine.Use(middleware.TracingWithConfig(middleware.TracingConfig{
		Enabled:     cfg.Telemetry.Enabled,
		ServiceName: cfg.Telemetry.ServiceName,
	}))
	engine.Use(middleware.SpanErrorMarker())
	engine.Use(middleware.TracingAttributeInjector())
	engine.Use(logger.Recovery(log))
	engine.Use(logger.GinMiddleware(log))
	engine.Use(middleware.Secure())

	corsConfig := middleware.DefaultCORSConfig()
	if len(cfg.HTTP.CORSAllowOrigins) > 0 {
		corsConfig.AllowOrigins = cfg.HTTP.CORSAllowOrigins
	}
	if len(cfg.HTTP.CORSAllowMethods) > 0 {
		corsConfig.AllowMethods = cfg.HTTP.CORSAllowMethods
	}
	if len(cfg.HTTP.CORSAllowHeaders) > 0 {
		corsConfig.AllowHeaders = cfg.HTTP.CORSAllowHeaders
	}
	engine.Use(middleware.CORSWithConfig(corsConfig))
	engine.Use(middleware.BodyLimit(cfg.HTTP.MaxBodySize))

	// Health check endpoint (outside API versioning)
	engine.GET("/health", systemHandler.Health)

	// Versioned API routes
	r := router.NewRouter(engine, router.WithAPIVersion("v1"))

	r.Use(middleware.JWTAuthMiddlewareWithConfig(middleware.JWTMiddlewareConfig{
		JWTService: jwtService,
		SkipPaths: []string{
			"/api/v1/system/ping",
			"/api/v1/system/info",
		},
		Logger: log,
	}))
	r.Use(middleware.TenantMiddlewareWithConfig(middleware.TenantMiddlewareConfig{
		HeaderEnabled: true,
		JWTEnabled:    true,
		Required:      true,
		SkipPaths: []string{
			"/api/v1/system",
		},
	}))

	// Document intake
	documentRoutes := router.NewDomainGroup("documents", "/documents")
	documentRoutes.POST("", documentHandler.Upload)

	// Job queries and the approval operations scoped to one job
	jobRoutes := router.NewDomainGroup("jobs", "/jobs")
	jobRoutes.GET("", jobHandler.List)
	jobRoutes.GET("/:id", jobHandler.Get)
	jobRoutes.GET("/:id/timeline", jobHandler.Timeline)
	jobRoutes.GET("/:id/zones", jobHandler.Zones)
	jobRoutes.GET("/:id/proposal", jobHandler.Proposal)
	jobRoutes.GET("/:id/ledger-entry", jobHandler.LedgerEntry)
	jobRoutes.POST("/:id/approval", approvalHandler.Decide)
	jobRoutes.POST("/:id/approval/cancel", approvalHandler.Cancel)

	// Pending review queue
	approvalRoutes := router.NewDomainGroup("approvals", "/approvals")
	approvalRoutes.GET("/pending", approvalHandler.ListPending)

	// Event subscriptions
	subscriptionRoutes := router.NewDomainGroup("subscriptions", "/subscriptions")
	subscriptionRoutes.POST("", subscriptionHandler.Create)
	subscriptionRoutes.GET("", subscriptionHandler.List)
	subscriptionRoutes.DELETE("/:id", subscriptionHandler.Deactivate)

	// System and outbox administration
	systemRoutes := router.NewDomainGroup("system", "/system")
	systemRoutes.GET("/info", systemHandler.GetSystemInfo)
	systemRoutes.GET("/ping", systemHandler.Ping)
	systemRoutes.GET("/outbox/stats", outboxHandler.GetStats)
	systemRoutes.GET("/outbox/dead", outboxHandler.GetDeadLetterEntries)
	systemRoutes.POST("/outbox/dead/retry-all", outboxHandler.RetryAllDeadEntries)
	systemRoutes.GET("/outbox/:id", outboxHandler.GetEntry)
	systemRoutes.POST("/outbox/:id/retry", outboxHandler.RetryDeadEntry)

	r.Register(documentRoutes).
		Register(jobRoutes).
		Register(approvalRoutes).
		Register(subscriptionRoutes).
		Register(systemRoutes)
	r.Setup()

	srv := &http.Server{
		Addr:           ":" + cfg.App.Port,
		Handler:        engine,
		ReadTimeout:    cfg.HTTP.ReadTimeout,
		WriteTimeout:   cfg.HTTP.WriteTimeout,
		IdleTimeout:    cfg.HTTP.IdleTimeout,
		MaxHeaderBytes: cfg.HTTP.MaxHeaderBytes,
	}

	go func() {
		log.Info("HTTP server listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("HTTP server error", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down server")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Error("Server forced to shutdown", zap.Error(err))
	}

	log.Info("Server stopped")
}
