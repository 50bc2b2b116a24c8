// Package tasks provides the asynchronous task pipeline: durable task
// records, progress tracking, the duplicate-conflict queue and live
// status streaming.
package tasks

import (
	apphttp "stockledger_backend/internal/http"
	"stockledger_backend/internal/tasks/handler"
	"stockledger_backend/internal/tasks/repository"
	"stockledger_backend/internal/tasks/service"
	"stockledger_backend/internal/tasks/sse"
	"stockledger_backend/platform/logger"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Module is the tasks bounded context module implementing http.Module.
type Module struct {
	handler *handler.Handler
	service *service.Service
	repo    *repository.Repo
	hub     *sse.Hub
}

// NewModule creates and initializes the tasks module with all its dependencies.
func NewModule(pool *pgxpool.Pool, log *logger.Logger) *Module {
	repo := repository.New(pool)
	hub := sse.NewHub()
	svc := service.NewService(repo, hub, log)
	h := handler.New(svc)

	return &Module{
		handler: h,
		service: svc,
		repo:    repo,
		hub:     hub,
	}
}

// Name returns the module identifier.
func (m *Module) Name() string {
	return "tasks"
}

// Service returns the service layer for external use.
func (m *Module) Service() *service.Service {
	return m.service
}

// RegisterRoutes mounts task routes on the provided router context.
func (m *Module) RegisterRoutes(ctx *apphttp.RouterContext) {
	ctx.V1.GET("/tasks", m.handler.List)
	ctx.V1.GET("/tasks/:id", m.handler.Get)
	ctx.V1.GET("/tasks/:id/events", m.handler.Events)
}

// Close releases every live watcher. Called on shutdown.
func (m *Module) Close() {
	m.hub.Close()
}

// Compile-time check that Module implements http.Module
var _ apphttp.Module = (*Module)(nil)
