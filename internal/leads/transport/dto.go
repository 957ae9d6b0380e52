package transport

import (
	"time"

	"github.com/google/uuid"
)

// Request DTOs

type CreateLeadRequest struct {
	Handle string `json:"handle" validate:"required,min=1,max=100"`
	Notes  string `json:"notes,omitempty" validate:"max=5000"`
}

type TransitionRequest struct {
	State string `json:"state" validate:"required,min=1,max=50"`
}

type UpdateNotesRequest struct {
	Notes string `json:"notes" validate:"max=5000"`
}

// Response DTOs

type LeadResponse struct {
	ID             uuid.UUID  `json:"id"`
	Handle         string     `json:"handle"`
	Notes          string     `json:"notes,omitempty"`
	State          string     `json:"state"`
	StateEnteredAt *time.Time `json:"stateEnteredAt,omitempty"`
	ClientID       *uuid.UUID `json:"clientId,omitempty"`
	Converted      bool       `json:"converted"`
	CreatedAt      time.Time  `json:"createdAt"`
	UpdatedAt      time.Time  `json:"updatedAt"`
}

type LeadListResponse struct {
	Items []LeadResponse `json:"items"`
	Total int            `json:"total"`
}

type TimelineEntryResponse struct {
	ID        uuid.UUID  `json:"id"`
	FromState *string    `json:"fromState,omitempty"`
	ToState   string     `json:"toState"`
	ActorID   *uuid.UUID `json:"actorId,omitempty"`
	CreatedAt time.Time  `json:"createdAt"`
}

type TimelineResponse struct {
	Items []TimelineEntryResponse `json:"items"`
}
