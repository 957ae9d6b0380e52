// Package service implements lead intake and the pipeline state machine.
package service

import (
	"context"
	"errors"

	"pipeline_backend/internal/authz"
	"pipeline_backend/internal/events"
	"pipeline_backend/internal/leads/domain"
	"pipeline_backend/internal/leads/repository"
	"pipeline_backend/internal/leads/transport"
	"pipeline_backend/platform/apperr"

	"github.com/google/uuid"
)

// Repository defines the data access interface needed by the leads service.
// This is a consumer-driven interface - only what the service needs.
type Repository interface {
	Create(ctx context.Context, params repository.CreateLeadParams) (repository.Lead, error)
	GetByID(ctx context.Context, id uuid.UUID) (repository.Lead, error)
	List(ctx context.Context, params repository.ListParams) ([]repository.Lead, int, error)
	UpdateState(ctx context.Context, id uuid.UUID, newState string) (repository.Lead, string, error)
	UpdateNotes(ctx context.Context, id uuid.UUID, notes string) (repository.Lead, error)
	Delete(ctx context.Context, id uuid.UUID) error
	ListTimeline(ctx context.Context, leadID uuid.UUID) ([]repository.TimelineEntry, error)
}

type Service struct {
	repo     Repository
	eventBus events.Bus
}

func New(repo Repository, eventBus events.Bus) *Service {
	return &Service{repo: repo, eventBus: eventBus}
}

// Create registers a new lead in the initial pipeline state.
func (s *Service) Create(ctx context.Context, actor authz.Actor, req transport.CreateLeadRequest) (transport.LeadResponse, error) {
	if err := authz.Require(actor, authz.CapPipelineModify); err != nil {
		return transport.LeadResponse{}, err
	}

	lead, err := s.repo.Create(ctx, repository.CreateLeadParams{
		Handle: req.Handle,
		Notes:  req.Notes,
		State:  domain.StateInitialContact,
	})
	if err != nil {
		return transport.LeadResponse{}, err
	}

	s.eventBus.Publish(ctx, events.LeadCreated{
		BaseEvent: events.NewBaseEvent(),
		LeadID:    lead.ID,
		Handle:    lead.Handle,
		State:     lead.State,
		ActorID:   actor.UserID,
	})

	return toLeadResponse(lead), nil
}

// Transition moves a lead to a new pipeline state and stamps the entry time.
//
// A transition to the lead's current state is intentionally NOT rejected:
// it refreshes stateEnteredAt, which re-arms every follow-up rule scoped to
// that state. Operators rely on this to snooze or restart a stuck lead's
// follow-up timer.
func (s *Service) Transition(ctx context.Context, actor authz.Actor, leadID uuid.UUID, req transport.TransitionRequest) (transport.LeadResponse, error) {
	if err := authz.Require(actor, authz.CapPipelineModify); err != nil {
		return transport.LeadResponse{}, err
	}

	if !domain.IsKnownState(req.State) {
		return transport.LeadResponse{}, apperr.Validation("unknown pipeline state: " + req.State)
	}

	lead, fromState, err := s.repo.UpdateState(ctx, leadID, req.State)
	if err != nil {
		switch {
		case errors.Is(err, repository.ErrNotFound):
			return transport.LeadResponse{}, apperr.NotFound("lead not found")
		case errors.Is(err, repository.ErrFrozen):
			return transport.LeadResponse{}, apperr.Conflict("lead is converted and can no longer transition")
		default:
			return transport.LeadResponse{}, err
		}
	}

	event := events.LeadTransitioned{
		BaseEvent: events.NewBaseEvent(),
		LeadID:    lead.ID,
		FromState: fromState,
		ToState:   lead.State,
		ActorID:   actor.UserID,
	}
	if lead.StateEnteredAt != nil {
		event.StateEnteredAt = *lead.StateEnteredAt
	}
	s.eventBus.Publish(ctx, event)

	return toLeadResponse(lead), nil
}

func (s *Service) GetByID(ctx context.Context, actor authz.Actor, id uuid.UUID) (transport.LeadResponse, error) {
	if err := authz.Require(actor, authz.CapPipelineView); err != nil {
		return transport.LeadResponse{}, err
	}

	lead, err := s.repo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return transport.LeadResponse{}, apperr.NotFound("lead not found")
		}
		return transport.LeadResponse{}, err
	}

	return toLeadResponse(lead), nil
}

func (s *Service) List(ctx context.Context, actor authz.Actor, params repository.ListParams) (transport.LeadListResponse, error) {
	if err := authz.Require(actor, authz.CapPipelineView); err != nil {
		return transport.LeadListResponse{}, err
	}

	if params.State != "" && !domain.IsKnownState(params.State) {
		return transport.LeadListResponse{}, apperr.Validation("unknown pipeline state: " + params.State)
	}

	leads, total, err := s.repo.List(ctx, params)
	if err != nil {
		return transport.LeadListResponse{}, err
	}

	items := make([]transport.LeadResponse, 0, len(leads))
	for _, lead := range leads {
		items = append(items, toLeadResponse(lead))
	}
	return transport.LeadListResponse{Items: items, Total: total}, nil
}

func (s *Service) UpdateNotes(ctx context.Context, actor authz.Actor, id uuid.UUID, req transport.UpdateNotesRequest) (transport.LeadResponse, error) {
	if err := authz.Require(actor, authz.CapPipelineModify); err != nil {
		return transport.LeadResponse{}, err
	}

	lead, err := s.repo.UpdateNotes(ctx, id, req.Notes)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return transport.LeadResponse{}, apperr.NotFound("lead not found")
		}
		return transport.LeadResponse{}, err
	}

	return toLeadResponse(lead), nil
}

// Delete removes a lead and cascades its dispatch history.
func (s *Service) Delete(ctx context.Context, actor authz.Actor, id uuid.UUID) error {
	if err := authz.Require(actor, authz.CapPipelineModify); err != nil {
		return err
	}

	if err := s.repo.Delete(ctx, id); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return apperr.NotFound("lead not found")
		}
		return err
	}
	return nil
}

// Timeline returns the recorded state history for a lead, newest first.
func (s *Service) Timeline(ctx context.Context, actor authz.Actor, leadID uuid.UUID) (transport.TimelineResponse, error) {
	if err := authz.Require(actor, authz.CapPipelineView); err != nil {
		return transport.TimelineResponse{}, err
	}

	if _, err := s.repo.GetByID(ctx, leadID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return transport.TimelineResponse{}, apperr.NotFound("lead not found")
		}
		return transport.TimelineResponse{}, err
	}

	entries, err := s.repo.ListTimeline(ctx, leadID)
	if err != nil {
		return transport.TimelineResponse{}, err
	}

	items := make([]transport.TimelineEntryResponse, 0, len(entries))
	for _, entry := range entries {
		items = append(items, transport.TimelineEntryResponse{
			ID:        entry.ID,
			FromState: entry.FromState,
			ToState:   entry.ToState,
			ActorID:   entry.ActorID,
			CreatedAt: entry.CreatedAt,
		})
	}
	return transport.TimelineResponse{Items: items}, nil
}

func toLeadResponse(lead repository.Lead) transport.LeadResponse {
	return transport.LeadResponse{
		ID:             lead.ID,
		Handle:         lead.Handle,
		Notes:          lead.Notes,
		State:          lead.State,
		StateEnteredAt: lead.StateEnteredAt,
		ClientID:       lead.ClientID,
		Converted:      lead.ClientID != nil,
		CreatedAt:      lead.CreatedAt,
		UpdatedAt:      lead.UpdatedAt,
	}
}
