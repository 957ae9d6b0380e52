// Package authz maps authenticated roles onto named capabilities and carries
// them explicitly into every core operation. There is no ambient session
// state: services receive an Actor and check it themselves.
package authz

import (
	"pipeline_backend/platform/apperr"
	"pipeline_backend/platform/httpkit"

	"github.com/google/uuid"
)

// Capability names a single permitted action.
type Capability string

const (
	CapPipelineView     Capability = "pipeline:view"
	CapPipelineModify   Capability = "pipeline:modify"
	CapAutomationManage Capability = "automation:manage"
	CapAutomationPoll   Capability = "automation:poll"
	CapLeadsConvert     Capability = "leads:convert"
	CapClientsView      Capability = "clients:view"
)

// Role names as they appear in access-token claims.
const (
	RoleAdmin    = "admin"
	RoleCloser   = "closer"
	RoleSetter   = "setter"
	RoleAutomata = "automation"
)

var roleGrants = map[string][]Capability{
	RoleAdmin: {
		CapPipelineView, CapPipelineModify,
		CapAutomationManage, CapAutomationPoll,
		CapLeadsConvert, CapClientsView,
	},
	RoleCloser: {
		CapPipelineView, CapPipelineModify,
		CapLeadsConvert, CapClientsView,
	},
	RoleSetter: {
		CapPipelineView, CapPipelineModify,
	},
	RoleAutomata: {
		CapPipelineView, CapAutomationPoll,
	},
}

// Actor is the pre-authenticated caller identity plus its granted
// capability set.
type Actor struct {
	UserID       uuid.UUID
	capabilities map[Capability]struct{}
}

// NewActor builds an actor holding exactly the provided capabilities.
func NewActor(userID uuid.UUID, caps ...Capability) Actor {
	set := make(map[Capability]struct{}, len(caps))
	for _, c := range caps {
		set[c] = struct{}{}
	}
	return Actor{UserID: userID, capabilities: set}
}

// FromIdentity builds an actor from an authenticated HTTP identity,
// expanding its roles into capabilities.
func FromIdentity(id httpkit.Identity) Actor {
	set := make(map[Capability]struct{})
	for _, role := range id.Roles() {
		for _, c := range roleGrants[role] {
			set[c] = struct{}{}
		}
	}
	return Actor{UserID: id.UserID(), capabilities: set}
}

// System returns an actor for internal workers (the automation poller).
func System() Actor {
	return NewActor(uuid.Nil, CapPipelineView, CapAutomationPoll)
}

// Can reports whether the actor holds the capability.
func (a Actor) Can(cap Capability) bool {
	_, ok := a.capabilities[cap]
	return ok
}

// Require returns a forbidden error when the actor lacks the capability.
func Require(actor Actor, cap Capability) error {
	if !actor.Can(cap) {
		return apperr.Forbidden("missing capability " + string(cap))
	}
	return nil
}
