// Package automation provides the follow-up automation bounded context:
// rule management, due-set evaluation, and the dispatch ledger.
package automation

import (
	"pipeline_backend/internal/automation/handler"
	"pipeline_backend/internal/automation/repository"
	"pipeline_backend/internal/automation/service"
	apphttp "pipeline_backend/internal/http"
	"pipeline_backend/platform/validator"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Module is the automation bounded context module implementing http.Module.
type Module struct {
	handler *handler.Handler
	service *service.Service
	repo    *repository.Repository
}

// NewModule creates and initializes the automation module.
func NewModule(pool *pgxpool.Pool, val *validator.Validator) *Module {
	repo := repository.New(pool)
	svc := service.New(repo)

	return &Module{
		handler: handler.New(svc, val),
		service: svc,
		repo:    repo,
	}
}

// Name returns the module identifier.
func (m *Module) Name() string { return "automation" }

// RegisterRoutes mounts rule management and poller routes on the
// authenticated group.
func (m *Module) RegisterRoutes(ctx *apphttp.RouterContext) {
	m.handler.RegisterRules(ctx.Protected.Group("/rules"))
	m.handler.RegisterAutomation(ctx.Protected.Group("/automation"))
}

// Service exposes the automation service for the scheduler binary.
func (m *Module) Service() *service.Service { return m.service }
