// Package clients provides the client bounded context: the conversion
// workflow that freezes a lead into a client, and client accessors.
package clients

import (
	"pipeline_backend/internal/clients/handler"
	"pipeline_backend/internal/clients/repository"
	"pipeline_backend/internal/clients/service"
	"pipeline_backend/internal/events"
	apphttp "pipeline_backend/internal/http"
	"pipeline_backend/platform/validator"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Module is the clients bounded context module implementing http.Module.
type Module struct {
	handler *handler.Handler
	service *service.Service
	repo    *repository.Repository
}

// NewModule creates and initializes the clients module.
func NewModule(pool *pgxpool.Pool, eventBus events.Bus, val *validator.Validator) *Module {
	repo := repository.New(pool)
	svc := service.New(repo, eventBus)

	return &Module{
		handler: handler.New(svc, val),
		service: svc,
		repo:    repo,
	}
}

// Name returns the module identifier.
func (m *Module) Name() string { return "clients" }

// RegisterRoutes mounts conversion under /leads and accessors under /clients.
func (m *Module) RegisterRoutes(ctx *apphttp.RouterContext) {
	m.handler.RegisterConvert(ctx.Protected.Group("/leads"))
	m.handler.RegisterClients(ctx.Protected.Group("/clients"))
}
