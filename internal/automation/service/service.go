// Package service implements follow-up rule management, due-set evaluation,
// and the dispatch ledger.
package service

import (
	"context"
	"errors"
	"time"

	"pipeline_backend/internal/authz"
	"pipeline_backend/internal/automation/domain"
	"pipeline_backend/internal/automation/repository"
	"pipeline_backend/internal/automation/transport"
	leadsdomain "pipeline_backend/internal/leads/domain"
	"pipeline_backend/platform/apperr"

	"github.com/google/uuid"
)

// Repository defines the data access interface needed by the automation
// service. This is a consumer-driven interface - only what the service needs.
type Repository interface {
	ListRules(ctx context.Context) ([]repository.Rule, error)
	GetRule(ctx context.Context, id uuid.UUID) (repository.Rule, error)
	CreateRule(ctx context.Context, params repository.CreateRuleParams) (repository.Rule, error)
	UpdateRule(ctx context.Context, id uuid.UUID, params repository.UpdateRuleParams) (repository.Rule, error)
	DeleteRule(ctx context.Context, id uuid.UUID) error
	DueCandidates(ctx context.Context) ([]repository.DueCandidate, error)
	InsertDispatch(ctx context.Context, ruleID, leadID uuid.UUID, stateAtDispatch string, snapshot time.Time) (bool, error)
}

type Service struct {
	repo Repository
}

func New(repo Repository) *Service {
	return &Service{repo: repo}
}

func (s *Service) ListRules(ctx context.Context, actor authz.Actor) (transport.RuleListResponse, error) {
	if err := authz.Require(actor, authz.CapAutomationManage); err != nil {
		return transport.RuleListResponse{}, err
	}

	rules, err := s.repo.ListRules(ctx)
	if err != nil {
		return transport.RuleListResponse{}, err
	}

	items := make([]transport.RuleResponse, 0, len(rules))
	for _, rule := range rules {
		items = append(items, toRuleResponse(rule))
	}
	return transport.RuleListResponse{Items: items}, nil
}

func (s *Service) CreateRule(ctx context.Context, actor authz.Actor, req transport.CreateRuleRequest) (transport.RuleResponse, error) {
	if err := authz.Require(actor, authz.CapAutomationManage); err != nil {
		return transport.RuleResponse{}, err
	}

	if req.DelayHours <= 0 {
		return transport.RuleResponse{}, apperr.Validation("delayHours must be strictly positive")
	}
	if len(req.AppliesToStates) == 0 {
		return transport.RuleResponse{}, apperr.Validation("appliesToStates must not be empty")
	}
	if err := validateRuleStates(req.AppliesToStates); err != nil {
		return transport.RuleResponse{}, err
	}

	active := true
	if req.Active != nil {
		active = *req.Active
	}

	rule, err := s.repo.CreateRule(ctx, repository.CreateRuleParams{
		Name:            req.Name,
		MessageTemplate: req.MessageTemplate,
		DelayHours:      req.DelayHours,
		Active:          active,
		AppliesToStates: req.AppliesToStates,
	})
	if err != nil {
		return transport.RuleResponse{}, err
	}

	return toRuleResponse(rule), nil
}

func (s *Service) UpdateRule(ctx context.Context, actor authz.Actor, id uuid.UUID, req transport.UpdateRuleRequest) (transport.RuleResponse, error) {
	if err := authz.Require(actor, authz.CapAutomationManage); err != nil {
		return transport.RuleResponse{}, err
	}

	if req.DelayHours != nil && *req.DelayHours <= 0 {
		return transport.RuleResponse{}, apperr.Validation("delayHours must be strictly positive")
	}
	if req.AppliesToStates != nil {
		if len(req.AppliesToStates) == 0 {
			return transport.RuleResponse{}, apperr.Validation("appliesToStates must not be empty")
		}
		if err := validateRuleStates(req.AppliesToStates); err != nil {
			return transport.RuleResponse{}, err
		}
	}

	rule, err := s.repo.UpdateRule(ctx, id, repository.UpdateRuleParams{
		Name:            req.Name,
		MessageTemplate: req.MessageTemplate,
		DelayHours:      req.DelayHours,
		Active:          req.Active,
		AppliesToStates: req.AppliesToStates,
	})
	if err != nil {
		if errors.Is(err, repository.ErrRuleNotFound) {
			return transport.RuleResponse{}, apperr.NotFound("follow-up rule not found")
		}
		return transport.RuleResponse{}, err
	}

	return toRuleResponse(rule), nil
}

func (s *Service) DeleteRule(ctx context.Context, actor authz.Actor, id uuid.UUID) error {
	if err := authz.Require(actor, authz.CapAutomationManage); err != nil {
		return err
	}

	if err := s.repo.DeleteRule(ctx, id); err != nil {
		if errors.Is(err, repository.ErrRuleNotFound) {
			return apperr.NotFound("follow-up rule not found")
		}
		return err
	}
	return nil
}

// ComputeDue returns, per active rule, the leads whose wait in their current
// state has met or exceeded the rule's delay and that have no ledger entry
// for the exact state-entry snapshot. It is read-only: any number of pollers
// may call it concurrently, and repeated calls are side-effect free. The
// delay comparison uses the caller-supplied clock, not the store's.
//
// Two different active rules may both report the same lead in the same
// window; rules are deliberately independent of each other.
func (s *Service) ComputeDue(ctx context.Context, actor authz.Actor, now time.Time) (transport.DueResponse, error) {
	if err := authz.Require(actor, authz.CapAutomationPoll); err != nil {
		return transport.DueResponse{}, err
	}

	candidates, err := s.repo.DueCandidates(ctx)
	if err != nil {
		return transport.DueResponse{}, err
	}

	groups := make([]transport.DueRuleGroup, 0)
	index := make(map[uuid.UUID]int)
	for _, c := range candidates {
		if !domain.IsDue(now, c.StateEnteredAt, c.DelayHours) {
			continue
		}

		i, ok := index[c.RuleID]
		if !ok {
			groups = append(groups, transport.DueRuleGroup{
				RuleID:          c.RuleID,
				RuleName:        c.RuleName,
				MessageTemplate: c.MessageTemplate,
				DelayHours:      c.DelayHours,
				Leads:           make([]transport.DueLead, 0, 1),
			})
			i = len(groups) - 1
			index[c.RuleID] = i
		}

		groups[i].Leads = append(groups[i].Leads, transport.DueLead{
			LeadID:         c.LeadID,
			Handle:         c.Handle,
			State:          c.State,
			StateEnteredAt: c.StateEnteredAt,
			HoursWaiting:   domain.HoursWaiting(now, c.StateEnteredAt),
		})
	}

	return transport.DueResponse{ComputedAt: now, Groups: groups}, nil
}

// MarkDispatched records that the external dispatcher acted on a (rule,
// lead, state-entry snapshot) triple. Calling it again with the same triple
// is a successful no-op: retries after an ambiguous response are expected,
// and the ledger's unique constraint is the sole arbiter under concurrency.
// The snapshot is recorded as supplied; the lead may legitimately have
// transitioned again since the caller observed it.
func (s *Service) MarkDispatched(ctx context.Context, actor authz.Actor, req transport.MarkDispatchedRequest) (transport.MarkDispatchedResponse, error) {
	if err := authz.Require(actor, authz.CapAutomationPoll); err != nil {
		return transport.MarkDispatchedResponse{}, err
	}

	inserted, err := s.repo.InsertDispatch(ctx, req.RuleID, req.LeadID, req.State, req.StateEnteredAtSnapshot)
	if err != nil {
		if errors.Is(err, repository.ErrDispatchTargetMissing) {
			return transport.MarkDispatchedResponse{}, apperr.NotFound("rule or lead not found")
		}
		return transport.MarkDispatchedResponse{}, err
	}

	return transport.MarkDispatchedResponse{AlreadyMarked: !inserted}, nil
}

func toRuleResponse(rule repository.Rule) transport.RuleResponse {
	return transport.RuleResponse{
		ID:              rule.ID,
		Name:            rule.Name,
		MessageTemplate: rule.MessageTemplate,
		DelayHours:      rule.DelayHours,
		Active:          rule.Active,
		AppliesToStates: rule.AppliesToStates,
		CreatedAt:       rule.CreatedAt,
		UpdatedAt:       rule.UpdatedAt,
	}
}

func validateRuleStates(states []string) error {
	for _, state := range states {
		if !leadsdomain.IsKnownState(state) {
			return apperr.Validation("unknown pipeline state: " + state)
		}
	}
	return nil
}
