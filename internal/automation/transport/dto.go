package transport

import (
	"time"

	"github.com/google/uuid"
)

// Request DTOs

type CreateRuleRequest struct {
	Name            string   `json:"name" validate:"required,min=1,max=100"`
	MessageTemplate string   `json:"messageTemplate" validate:"required,min=1,max=2000"`
	DelayHours      int      `json:"delayHours" validate:"required"`
	Active          *bool    `json:"active,omitempty"`
	AppliesToStates []string `json:"appliesToStates" validate:"required,min=1,dive,min=1,max=50"`
}

type UpdateRuleRequest struct {
	Name            *string  `json:"name,omitempty" validate:"omitempty,min=1,max=100"`
	MessageTemplate *string  `json:"messageTemplate,omitempty" validate:"omitempty,min=1,max=2000"`
	DelayHours      *int     `json:"delayHours,omitempty"`
	Active          *bool    `json:"active,omitempty"`
	AppliesToStates []string `json:"appliesToStates,omitempty" validate:"omitempty,min=1,dive,min=1,max=50"`
}

type MarkDispatchedRequest struct {
	RuleID uuid.UUID `json:"ruleId" validate:"required"`
	LeadID uuid.UUID `json:"leadId" validate:"required"`
	// State is the pipeline state the dispatcher observed from the due
	// computation; it is recorded as-is, not re-validated against the
	// lead's current state.
	State                  string    `json:"state" validate:"required,min=1,max=50"`
	StateEnteredAtSnapshot time.Time `json:"stateEnteredAtSnapshot" validate:"required"`
}

// Response DTOs

type RuleResponse struct {
	ID              uuid.UUID `json:"id"`
	Name            string    `json:"name"`
	MessageTemplate string    `json:"messageTemplate"`
	DelayHours      int       `json:"delayHours"`
	Active          bool      `json:"active"`
	AppliesToStates []string  `json:"appliesToStates"`
	CreatedAt       time.Time `json:"createdAt"`
	UpdatedAt       time.Time `json:"updatedAt"`
}

type RuleListResponse struct {
	Items []RuleResponse `json:"items"`
}

// DueLead is one lead awaiting outreach under a rule.
type DueLead struct {
	LeadID         uuid.UUID `json:"leadId"`
	Handle         string    `json:"handle"`
	State          string    `json:"state"`
	StateEnteredAt time.Time `json:"stateEnteredAt"`
	HoursWaiting   int       `json:"hoursWaiting"`
}

// DueRuleGroup carries a rule together with the leads currently due under
// it, oldest-waiting first.
type DueRuleGroup struct {
	RuleID          uuid.UUID `json:"ruleId"`
	RuleName        string    `json:"ruleName"`
	MessageTemplate string    `json:"messageTemplate"`
	DelayHours      int       `json:"delayHours"`
	Leads           []DueLead `json:"leads"`
}

type DueResponse struct {
	ComputedAt time.Time      `json:"computedAt"`
	Groups     []DueRuleGroup `json:"groups"`
}

type MarkDispatchedResponse struct {
	AlreadyMarked bool `json:"alreadyMarked"`
}
