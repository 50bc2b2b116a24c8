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
	catalogrepo "stockledger_backend/internal/catalog/repository"
	catalogsvc "stockledger_backend/internal/catalog/service"
	"stockledger_backend/internal/events"
	"stockledger_backend/internal/extraction"
	ingestsvc "stockledger_backend/internal/ingest/service"
	ledgerrepo "stockledger_backend/internal/ledger/repository"
	ledgersvc "stockledger_backend/internal/ledger/service"
	"stockledger_backend/internal/scheduler"
	"stockledger_backend/internal/tasks"
	"stockledger_backend/platform/config"
	"stockledger_backend/platform/db"
	"stockledger_backend/platform/logger"

	"github.com/jackc/pgx/v5/pgxpool"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic("failed to load config: " + err.Error())
	}

	log := logger.New(cfg.Env)
	log.Info("starting worker", "env", cfg.Env)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

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

	eventBus := events.NewInMemoryBus(log)

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

	extractor, err := extraction.NewGeminiExtractor(ctx, cfg.GetGeminiAPIKey(), cfg.GetGeminiModel(), log)
	if err != nil {
		log.Error("failed to initialize extraction client", "error", err)
		panic("failed to initialize extraction client: " + err.Error())
	}

	queueClient, err := scheduler.NewClient(cfg)
	if err != nil {
		log.Error("failed to initialize queue client", "error", err)
		panic("failed to initialize queue client: " + err.Error())
	}
	defer func() { _ = queueClient.Close() }()

	// Worker-side wiring: no HTTP handlers, just the services the pipeline
	// touches. Completed batches trigger the automatic rebuild in this
	// process, guarded by the tenant advisory lock.
	tasksModule := tasks.NewModule(pool, log)

	catalogRepo := catalogrepo.New(pool)
	catalogSvc := catalogsvc.NewService(catalogRepo, eventBus, log)

	ledgerRepo := ledgerrepo.New(pool)
	partDirectory := adapters.NewPartDirectory(catalogSvc)
	ledgerSvc := ledgersvc.NewService(ledgerRepo, tasksModule.Service(), partDirectory, eventBus, log)
	ledgerSvc.RegisterEventHandlers()

	ingestSvc := ingestsvc.NewService(
		tasksModule.Service(),
		ledgerRepo,
		catalogSvc,
		storageSvc,
		extractor,
		queueClient,
		eventBus,
		cfg.GetDocumentsBucket(),
		cfg.GetMaxBatchFiles(),
		log,
	)

	reaper := scheduler.NewStaleTaskReaper(tasksModule.Service(), log, cfg.GetReaperInterval(), cfg.GetStaleTaskAge())
	go reaper.Run(ctx)

	worker, err := scheduler.NewWorker(cfg, ingestSvc, log)
	if err != nil {
		log.Error("failed to initialize task worker", "error", err)
		panic("failed to initialize task worker: " + err.Error())
	}

	_ = worker.Run(ctx)

	// Let in-flight rebuild goroutines settle before the pool closes.
	ledgerSvc.Wait()
	tasksModule.Close()
	log.Info("worker stopped")
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
