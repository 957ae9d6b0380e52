// Package leads provides the lead pipeline bounded context module.
// This file defines the module that encapsulates all leads setup and route registration.
package leads

import (
	"context"

	"pipeline_backend/internal/events"
	apphttp "pipeline_backend/internal/http"
	"pipeline_backend/internal/leads/handler"
	"pipeline_backend/internal/leads/repository"
	"pipeline_backend/internal/leads/service"
	"pipeline_backend/platform/logger"
	"pipeline_backend/platform/validator"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Module is the leads bounded context module implementing http.Module.
type Module struct {
	handler *handler.Handler
	service *service.Service
	repo    *repository.Repository
}

// NewModule creates and initializes the leads module with all its dependencies.
// It subscribes a timeline writer to pipeline events so every state change
// (including same-state re-arms) is recorded as history.
func NewModule(pool *pgxpool.Pool, eventBus events.Bus, val *validator.Validator, log *logger.Logger) *Module {
	repo := repository.New(pool)
	svc := service.New(repo, eventBus)

	eventBus.Subscribe(events.LeadCreated{}.EventName(), events.HandlerFunc(func(ctx context.Context, event events.Event) error {
		e, ok := event.(events.LeadCreated)
		if !ok {
			return nil
		}
		actorID := e.ActorID
		return repo.AddTimelineEntry(ctx, repository.AddTimelineEntryParams{
			LeadID:  e.LeadID,
			ToState: e.State,
			ActorID: &actorID,
		})
	}))

	eventBus.Subscribe(events.LeadTransitioned{}.EventName(), events.HandlerFunc(func(ctx context.Context, event events.Event) error {
		e, ok := event.(events.LeadTransitioned)
		if !ok {
			return nil
		}
		actorID := e.ActorID
		fromState := e.FromState
		return repo.AddTimelineEntry(ctx, repository.AddTimelineEntryParams{
			LeadID:    e.LeadID,
			FromState: &fromState,
			ToState:   e.ToState,
			ActorID:   &actorID,
		})
	}))

	return &Module{
		handler: handler.New(svc, val),
		service: svc,
		repo:    repo,
	}
}

// Name returns the module identifier.
func (m *Module) Name() string { return "leads" }

// RegisterRoutes mounts the leads routes on the authenticated group.
func (m *Module) RegisterRoutes(ctx *apphttp.RouterContext) {
	m.handler.RegisterRoutes(ctx.Protected.Group("/leads"))
}

// Service exposes the lead service for other modules and binaries.
func (m *Module) Service() *service.Service { return m.service }
