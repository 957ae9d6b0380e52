// Package events provides domain event definitions for decoupled,
// event-driven communication between modules.
// Infrastructure (Bus, Handler) is in platform/events.
package events

import (
	"time"

	"pipeline_backend/platform/events"

	"github.com/google/uuid"
)

// Re-export platform types for convenience
type (
	Event       = events.Event
	Bus         = events.Bus
	Handler     = events.Handler
	HandlerFunc = events.HandlerFunc
	BaseEvent   = events.BaseEvent
)

// Re-export platform functions
var NewBaseEvent = events.NewBaseEvent

// =============================================================================
// Lead Pipeline Events
// =============================================================================

// LeadCreated is published when a new lead enters the pipeline.
type LeadCreated struct {
	BaseEvent
	LeadID  uuid.UUID `json:"leadId"`
	Handle  string    `json:"handle"`
	State   string    `json:"state"`
	ActorID uuid.UUID `json:"actorId"`
}

func (e LeadCreated) EventName() string { return "pipeline.lead.created" }

// LeadTransitioned is published after every successful state write,
// including same-state re-arms.
type LeadTransitioned struct {
	BaseEvent
	LeadID         uuid.UUID `json:"leadId"`
	FromState      string    `json:"fromState"`
	ToState        string    `json:"toState"`
	StateEnteredAt time.Time `json:"stateEnteredAt"`
	ActorID        uuid.UUID `json:"actorId"`
}

func (e LeadTransitioned) EventName() string { return "pipeline.lead.transitioned" }

// LeadConverted is published when a lead is materialized into a client.
type LeadConverted struct {
	BaseEvent
	LeadID   uuid.UUID `json:"leadId"`
	ClientID uuid.UUID `json:"clientId"`
	State    string    `json:"state"`
	ActorID  uuid.UUID `json:"actorId"`
}

func (e LeadConverted) EventName() string { return "pipeline.lead.converted" }
