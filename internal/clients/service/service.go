// Package service implements the conversion workflow and client accessors.
package service

import (
	"context"
	"errors"

	"pipeline_backend/internal/authz"
	"pipeline_backend/internal/clients/repository"
	"pipeline_backend/internal/clients/transport"
	"pipeline_backend/internal/events"
	"pipeline_backend/platform/apperr"
	"pipeline_backend/platform/phone"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

// Repository defines the data access interface needed by the clients
// service. This is a consumer-driven interface - only what the service needs.
type Repository interface {
	ConvertLead(ctx context.Context, leadID uuid.UUID, params repository.CreateClientParams) (repository.Client, string, error)
	GetByID(ctx context.Context, id uuid.UUID) (repository.Client, error)
	List(ctx context.Context, params repository.ListParams) ([]repository.Client, int, error)
	UpdateDeliveryProgress(ctx context.Context, id uuid.UUID, progress int) (repository.Client, error)
}

type Service struct {
	repo     Repository
	eventBus events.Bus
}

func New(repo Repository, eventBus events.Bus) *Service {
	return &Service{repo: repo, eventBus: eventBus}
}

// Convert turns a lead in a convertible terminal state into a client. The
// write is a single transaction: client creation and the lead's client_id
// stamp land together or not at all, so a duplicate email leaves the lead
// untouched. The lead's state is preserved; once client_id is set the lead
// is frozen and a second Convert fails the eligibility check.
func (s *Service) Convert(ctx context.Context, actor authz.Actor, leadID uuid.UUID, req transport.ConvertLeadRequest) (transport.ClientResponse, error) {
	if err := authz.Require(actor, authz.CapLeadsConvert); err != nil {
		return transport.ClientResponse{}, err
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		return transport.ClientResponse{}, apperr.Internal("failed to hash credentials")
	}

	normalizedPhone := req.Phone
	if req.Phone != nil {
		p := phone.NormalizeE164(*req.Phone)
		normalizedPhone = &p
	}

	client, frozenState, err := s.repo.ConvertLead(ctx, leadID, repository.CreateClientParams{
		Name:         req.Name,
		Email:        req.Email,
		Phone:        normalizedPhone,
		PasswordHash: string(hash),
	})
	if err != nil {
		switch {
		case errors.Is(err, repository.ErrLeadNotFound):
			return transport.ClientResponse{}, apperr.NotFound("lead not found")
		case errors.Is(err, repository.ErrAlreadyConverted):
			return transport.ClientResponse{}, apperr.Conflict("lead is already converted")
		case errors.Is(err, repository.ErrNotEligible):
			return transport.ClientResponse{}, apperr.Conflict("lead state is not conversion-eligible")
		case errors.Is(err, repository.ErrDuplicateEmail):
			return transport.ClientResponse{}, apperr.Duplicate("a client with this email already exists")
		default:
			return transport.ClientResponse{}, err
		}
	}

	s.eventBus.Publish(ctx, events.LeadConverted{
		BaseEvent: events.NewBaseEvent(),
		LeadID:    leadID,
		ClientID:  client.ID,
		State:     frozenState,
		ActorID:   actor.UserID,
	})

	return toClientResponse(client), nil
}

func (s *Service) GetByID(ctx context.Context, actor authz.Actor, id uuid.UUID) (transport.ClientResponse, error) {
	if err := authz.Require(actor, authz.CapClientsView); err != nil {
		return transport.ClientResponse{}, err
	}

	client, err := s.repo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrClientNotFound) {
			return transport.ClientResponse{}, apperr.NotFound("client not found")
		}
		return transport.ClientResponse{}, err
	}
	return toClientResponse(client), nil
}

func (s *Service) List(ctx context.Context, actor authz.Actor, params repository.ListParams) (transport.ClientListResponse, error) {
	if err := authz.Require(actor, authz.CapClientsView); err != nil {
		return transport.ClientListResponse{}, err
	}

	clients, total, err := s.repo.List(ctx, params)
	if err != nil {
		return transport.ClientListResponse{}, err
	}

	items := make([]transport.ClientResponse, 0, len(clients))
	for _, client := range clients {
		items = append(items, toClientResponse(client))
	}
	return transport.ClientListResponse{Items: items, Total: total}, nil
}

func (s *Service) UpdateDeliveryProgress(ctx context.Context, actor authz.Actor, id uuid.UUID, req transport.UpdateProgressRequest) (transport.ClientResponse, error) {
	if err := authz.Require(actor, authz.CapClientsView); err != nil {
		return transport.ClientResponse{}, err
	}

	if req.DeliveryProgress == nil || *req.DeliveryProgress < 0 || *req.DeliveryProgress > 100 {
		return transport.ClientResponse{}, apperr.Validation("deliveryProgress must be between 0 and 100")
	}

	client, err := s.repo.UpdateDeliveryProgress(ctx, id, *req.DeliveryProgress)
	if err != nil {
		if errors.Is(err, repository.ErrClientNotFound) {
			return transport.ClientResponse{}, apperr.NotFound("client not found")
		}
		return transport.ClientResponse{}, err
	}
	return toClientResponse(client), nil
}

func toClientResponse(client repository.Client) transport.ClientResponse {
	return transport.ClientResponse{
		ID:               client.ID,
		LeadID:           client.LeadID,
		Name:             client.Name,
		Email:            client.Email,
		Phone:            client.Phone,
		DeliveryProgress: client.DeliveryProgress,
		CreatedAt:        client.CreatedAt,
		UpdatedAt:        client.UpdatedAt,
	}
}
