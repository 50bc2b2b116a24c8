// Package ledger provides the stock ledger bounded context: source
// documents, extracted line items, manual adjustments and the derived
// part balances rebuilt from them.
package ledger

import (
	"stockledger_backend/internal/events"
	apphttp "stockledger_backend/internal/http"
	"stockledger_backend/internal/ledger/handler"
	"stockledger_backend/internal/ledger/repository"
	"stockledger_backend/internal/ledger/service"
	"stockledger_backend/platform/logger"
	"stockledger_backend/platform/validator"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Module is the ledger bounded context module implementing http.Module.
type Module struct {
	handler *handler.Handler
	service *service.Service
	repo    *repository.Repo
}

// NewModule creates and initializes the ledger module with all its dependencies.
func NewModule(pool *pgxpool.Pool, tasks service.TaskLog, parts service.PartDirectory, bus events.Bus, val *validator.Validator, log *logger.Logger) *Module {
	repo := repository.New(pool)
	svc := service.NewService(repo, tasks, parts, bus, log)
	h := handler.New(svc, val)

	return &Module{
		handler: h,
		service: svc,
		repo:    repo,
	}
}

// Name returns the module identifier.
func (m *Module) Name() string {
	return "ledger"
}

// Service returns the service layer for external use.
func (m *Module) Service() *service.Service {
	return m.service
}

// Repository returns the repository for direct access by sibling modules.
func (m *Module) Repository() repository.Repository {
	return m.repo
}

// RegisterRoutes mounts ledger routes on the provided router context.
func (m *Module) RegisterRoutes(ctx *apphttp.RouterContext) {
	ctx.V1.POST("/recalc", m.handler.Recalculate)
	ctx.V1.GET("/balances", m.handler.Balances)
	ctx.V1.POST("/balances/adjust", m.handler.Adjust)
}

// RegisterEventHandlers subscribes the automatic rebuild triggers.
func (m *Module) RegisterEventHandlers() {
	m.service.RegisterEventHandlers()
}

// Compile-time check that Module implements http.Module
var _ apphttp.Module = (*Module)(nil)
