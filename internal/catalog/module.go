// Package catalog provides the part catalog bounded context: the part
// master, description mappings and the unmapped backlog.
package catalog

import (
	"stockledger_backend/internal/catalog/handler"
	"stockledger_backend/internal/catalog/repository"
	"stockledger_backend/internal/catalog/service"
	"stockledger_backend/internal/events"
	apphttp "stockledger_backend/internal/http"
	"stockledger_backend/platform/logger"
	"stockledger_backend/platform/validator"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Module is the catalog bounded context module implementing http.Module.
type Module struct {
	handler *handler.Handler
	service *service.Service
	repo    repository.Repository
}

// NewModule creates and initializes the catalog module.
func NewModule(pool *pgxpool.Pool, bus events.Bus, val *validator.Validator, log *logger.Logger) *Module {
	repo := repository.New(pool)
	svc := service.NewService(repo, bus, log)
	h := handler.New(svc, val)

	return &Module{
		handler: h,
		service: svc,
		repo:    repo,
	}
}

// Name returns the module identifier.
func (m *Module) Name() string {
	return "catalog"
}

// Service returns the service layer for external use.
func (m *Module) Service() *service.Service {
	return m.service
}

// Repository returns the repository for direct access if needed.
func (m *Module) Repository() repository.Repository {
	return m.repo
}

// RegisterRoutes mounts catalog routes on the provided router context.
func (m *Module) RegisterRoutes(ctx *apphttp.RouterContext) {
	ctx.V1.POST("/parts", m.handler.SavePart)
	ctx.V1.GET("/parts", m.handler.ListParts)
	ctx.V1.DELETE("/parts/:partNumber", m.handler.DeletePart)

	ctx.V1.POST("/mappings", m.handler.CreateMapping)
	ctx.V1.GET("/mappings", m.handler.ListMappings)
	ctx.V1.DELETE("/mappings/:id", m.handler.DeleteMapping)
	ctx.V1.GET("/mappings/unmapped", m.handler.ListUnmapped)
}

// Compile-time check that Module implements http.Module
var _ apphttp.Module = (*Module)(nil)
