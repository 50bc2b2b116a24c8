// Package ingest provides the ingestion bounded context: batch upload,
// duplicate gating, conflict resolution and the worker-side pipeline
// that turns uploaded invoices into ledger rows.
package ingest

import (
	"stockledger_backend/internal/adapters/storage"
	"stockledger_backend/internal/events"
	"stockledger_backend/internal/extraction"
	apphttp "stockledger_backend/internal/http"
	"stockledger_backend/internal/ingest/handler"
	"stockledger_backend/internal/ingest/service"
	ledgerrepo "stockledger_backend/internal/ledger/repository"
	"stockledger_backend/platform/logger"
	"stockledger_backend/platform/validator"
)

// Module is the ingestion bounded context module implementing http.Module.
type Module struct {
	handler *handler.Handler
	service *service.Service
}

// NewModule creates and initializes the ingestion module. The task
// tracker, document store, resolver and queue come from sibling modules.
func NewModule(
	tasks service.TaskTracker,
	documents ledgerrepo.DocumentStore,
	catalog service.Resolver,
	store storage.StorageService,
	extractor extraction.Extractor,
	queue service.Queue,
	bus events.Bus,
	bucket string,
	maxFiles int,
	val *validator.Validator,
	log *logger.Logger,
) *Module {
	svc := service.NewService(tasks, documents, catalog, store, extractor, queue, bus, bucket, maxFiles, log)
	h := handler.New(svc, val)

	return &Module{
		handler: h,
		service: svc,
	}
}

// Name returns the module identifier.
func (m *Module) Name() string {
	return "ingest"
}

// Service returns the service layer for the worker binary.
func (m *Module) Service() *service.Service {
	return m.service
}

// RegisterRoutes mounts ingestion routes on the provided router context.
func (m *Module) RegisterRoutes(ctx *apphttp.RouterContext) {
	ctx.V1.POST("/tasks/ingest", ctx.UploadLimiter.RateLimit(), m.handler.StartBatch)
	ctx.V1.POST("/tasks/:id/resolve", m.handler.Resolve)
	ctx.V1.GET("/documents/:id/url", m.handler.DocumentURL)
}

// Compile-time check that Module implements http.Module
var _ apphttp.Module = (*Module)(nil)
