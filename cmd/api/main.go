package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"stockledger_backend/internal/adapters"
	"stockledger_backend/internal/adapters/storage"
	"stockledger_backend/internal/catalog"
	"stockledger_backend/internal/events"
	"stockledger_backend/internal/extraction"
	apphttp "stockledger_backend/internal/http"
	"stockledger_backend/internal/http/router"
	"stockledger_backend/internal/ingest"
	"stockledger_backend/internal/ledger"
	"stockledger_backend/internal/scheduler"
	"stockledger_backend/internal/tasks"
	"stockledger_backend/migrations"
	"stockledger_backend/platform/config"
	"stockledger_backend/platform/db"
	"stockledger_backend/platform/httpkit"
	"stockledger_backend/platform/logger"
	"stockledger_backend/platform/validator"

	"github.com/jackc/pgx/v5/pgxpool"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic("failed to load config: " + err.Error())
	}

	// Initialize structured logger
	log := logger.New(cfg.Env)
	log.Info("starting server", "env", cfg.Env, "addr", cfg.HTTPAddr)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// ========================================================================
	// Infrastructure Layer
	// ========================================================================

	if err := withRetry(ctx, log, "database migrations", 5, 2*time.Second, func() error {
		return db.RunMigrations(ctx, cfg, migrations.FS)
	}); err != nil {
		log.Error("failed to run database migrations", "error", err)
		panic("failed to run database migrations: " + err.Error())
	}
	log.Info("database migrations complete")

	var pool *pgxpool.Pool
	if err := withRetry(ctx, log, "database connection", 5, 2*time.Second, func() error {
		p, err := db.NewPool(ctx, cfg)
		if err != nil {
			return err
		}
		pool = p
		return nil
	}); err != nil {
		log.Error("failed to connect to database", "error", err)
		panic("failed to connect to database: " + err.Error())
	}
	defer pool.Close()
	log.Info("database connection established")

	// Event bus for decoupled communication between modules
	eventBus := events.NewInMemoryBus(log)

	// Shared validator instance for dependency injection
	val := validator.New()

	// Storage service for uploaded source documents (MinIO)
	storageSvc, err := storage.NewMinIOService(cfg)
	if err != nil {
		log.Error("failed to initialize storage service", "error", err)
		panic("failed to initialize storage service: " + err.Error())
	}
	if err := withRetry(ctx, log, "ensure documents bucket", 5, 2*time.Second, func() error {
		return storageSvc.EnsureBucketExists(ctx, cfg.GetDocumentsBucket())
	}); err != nil {
		log.Error("failed to ensure storage bucket exists", "error", err, "bucket", cfg.GetDocumentsBucket())
		panic("failed to ensure storage bucket exists: " + err.Error())
	}
	log.Info("storage service initialized", "documentsBucket", cfg.GetDocumentsBucket())

	// Line-item extraction client (disabled without an API key)
	extractor, err := extraction.NewGeminiExtractor(ctx, cfg.GetGeminiAPIKey(), cfg.GetGeminiModel(), log)
	if err != nil {
		log.Error("failed to initialize extraction client", "error", err)
		panic("failed to initialize extraction client: " + err.Error())
	}

	// Queue client for handing batches to the worker
	queueClient, err := scheduler.NewClient(cfg)
	if err != nil {
		log.Error("failed to initialize queue client", "error", err)
		panic("failed to initialize queue client: " + err.Error())
	}
	defer func() { _ = queueClient.Close() }()

	// ========================================================================
	// Domain Modules (Composition Root)
	// ========================================================================

	tasksModule := tasks.NewModule(pool, log)
	catalogModule := catalog.NewModule(pool, eventBus, val, log)

	// Ledger sees the catalog's parts through the directory adapter.
	partDirectory := adapters.NewPartDirectory(catalogModule.Service())
	ledgerModule := ledger.NewModule(pool, tasksModule.Service(), partDirectory, eventBus, val, log)
	ledgerModule.RegisterEventHandlers()

	// New mappings retro-map older unmapped items and trigger a rebuild.
	remapper := adapters.NewItemRemapper(ledgerModule.Repository(), eventBus, log)
	remapper.RegisterEventHandlers()

	ingestModule := ingest.NewModule(
		tasksModule.Service(),
		ledgerModule.Repository(),
		catalogModule.Service(),
		storageSvc,
		extractor,
		queueClient,
		eventBus,
		cfg.GetDocumentsBucket(),
		cfg.GetMaxBatchFiles(),
		val,
		log,
	)

	// ========================================================================
	// HTTP Layer
	// ========================================================================

	app := &apphttp.App{
		Config:        cfg,
		Logger:        log,
		Health:        pool,
		EventBus:      eventBus,
		UploadLimiter: httpkit.NewUploadRateLimiter(cfg.GetUploadRatePerMinute(), log),
		Modules: []apphttp.Module{
			tasksModule,
			ledgerModule,
			catalogModule,
			ingestModule,
		},
	}

	engine := router.New(app)

	srvErr := make(chan error, 1)
	go func() {
		log.Info("server listening", "addr", cfg.HTTPAddr)
		srvErr <- engine.Run(cfg.HTTPAddr)
	}()

	select {
	case <-ctx.Done():
		log.Info("shutdown signal received, gracefully shutting down")
		ledgerModule.Service().Wait()
		tasksModule.Close()
		log.Info("shutdown complete")
	case err := <-srvErr:
		if err != nil {
			log.Error("server error", "error", err)
			panic("server error: " + err.Error())
		}
	}
}

func withRetry(ctx context.Context, log *logger.Logger, name string, attempts int, baseDelay time.Duration, fn func() error) error {
	if attempts < 1 {
		return errors.New(name + ": invalid retry attempts")
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err := fn(); err == nil {
			return nil
		} else {
			lastErr = err
			log.Warn("retryable operation failed", "operation", name, "attempt", attempt, "error", err)
		}

		if attempt < attempts {
			delay := time.Duration(attempt*attempt) * baseDelay
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
		}
	}

	return errors.New(name + ": " + lastErr.Error())
}
