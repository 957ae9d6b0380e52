package service

import (
	"context"
	"sort"
	"sync"
	"testing"
	"time"

	"pipeline_backend/internal/authz"
	"pipeline_backend/internal/automation/repository"
	"pipeline_backend/internal/automation/transport"
	leadsdomain "pipeline_backend/internal/leads/domain"
	"pipeline_backend/platform/apperr"

	"github.com/google/uuid"
)

// fakeLead is the slice of lead state the evaluator join cares about.
type fakeLead struct {
	id        uuid.UUID
	handle    string
	state     string
	enteredAt time.Time
	converted bool
}

type ledgerKey struct {
	ruleID   uuid.UUID
	leadID   uuid.UUID
	snapshot time.Time
}

// fakeRepo mirrors the relational behavior of the automation repository:
// the candidate join and the ledger's composite unique constraint.
type fakeRepo struct {
	mu     sync.Mutex
	rules  map[uuid.UUID]repository.Rule
	leads  map[uuid.UUID]fakeLead
	ledger map[ledgerKey]repository.DispatchRecord
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{
		rules:  make(map[uuid.UUID]repository.Rule),
		leads:  make(map[uuid.UUID]fakeLead),
		ledger: make(map[ledgerKey]repository.DispatchRecord),
	}
}

func (f *fakeRepo) addLead(lead fakeLead) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.leads[lead.id] = lead
}

func (f *fakeRepo) ListRules(context.Context) ([]repository.Rule, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]repository.Rule, 0, len(f.rules))
	for _, rule := range f.rules {
		out = append(out, rule)
	}
	return out, nil
}

func (f *fakeRepo) GetRule(_ context.Context, id uuid.UUID) (repository.Rule, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	rule, ok := f.rules[id]
	if !ok {
		return repository.Rule{}, repository.ErrRuleNotFound
	}
	return rule, nil
}

func (f *fakeRepo) CreateRule(_ context.Context, params repository.CreateRuleParams) (repository.Rule, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	rule := repository.Rule{
		ID:              uuid.New(),
		Name:            params.Name,
		MessageTemplate: params.MessageTemplate,
		DelayHours:      params.DelayHours,
		Active:          params.Active,
		AppliesToStates: append([]string(nil), params.AppliesToStates...),
	}
	f.rules[rule.ID] = rule
	return rule, nil
}

func (f *fakeRepo) UpdateRule(_ context.Context, id uuid.UUID, params repository.UpdateRuleParams) (repository.Rule, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	rule, ok := f.rules[id]
	if !ok {
		return repository.Rule{}, repository.ErrRuleNotFound
	}
	if params.Name != nil {
		rule.Name = *params.Name
	}
	if params.MessageTemplate != nil {
		rule.MessageTemplate = *params.MessageTemplate
	}
	if params.DelayHours != nil {
		rule.DelayHours = *params.DelayHours
	}
	if params.Active != nil {
		rule.Active = *params.Active
	}
	if params.AppliesToStates != nil {
		// Full replacement, matching the delete-then-insert semantics.
		rule.AppliesToStates = append([]string(nil), params.AppliesToStates...)
	}
	f.rules[id] = rule
	return rule, nil
}

func (f *fakeRepo) DeleteRule(_ context.Context, id uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.rules[id]; !ok {
		return repository.ErrRuleNotFound
	}
	delete(f.rules, id)
	return nil
}

func (f *fakeRepo) DueCandidates(context.Context) ([]repository.DueCandidate, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	ruleIDs := make([]uuid.UUID, 0, len(f.rules))
	for id := range f.rules {
		ruleIDs = append(ruleIDs, id)
	}
	sort.Slice(ruleIDs, func(i, j int) bool { return ruleIDs[i].String() < ruleIDs[j].String() })

	out := make([]repository.DueCandidate, 0)
	for _, ruleID := range ruleIDs {
		rule := f.rules[ruleID]
		if !rule.Active {
			continue
		}
		matches := make([]fakeLead, 0)
		for _, lead := range f.leads {
			if lead.converted {
				continue
			}
			if !contains(rule.AppliesToStates, lead.state) {
				continue
			}
			if _, dispatched := f.ledger[ledgerKey{rule.ID, lead.id, lead.enteredAt}]; dispatched {
				continue
			}
			matches = append(matches, lead)
		}
		sort.Slice(matches, func(i, j int) bool { return matches[i].enteredAt.Before(matches[j].enteredAt) })
		for _, lead := range matches {
			out = append(out, repository.DueCandidate{
				RuleID:          rule.ID,
				RuleName:        rule.Name,
				MessageTemplate: rule.MessageTemplate,
				DelayHours:      rule.DelayHours,
				LeadID:          lead.id,
				Handle:          lead.handle,
				State:           lead.state,
				StateEnteredAt:  lead.enteredAt,
			})
		}
	}
	return out, nil
}

func (f *fakeRepo) InsertDispatch(_ context.Context, ruleID, leadID uuid.UUID, state string, snapshot time.Time) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := ledgerKey{ruleID, leadID, snapshot}
	if _, exists := f.ledger[key]; exists {
		return false, nil
	}
	f.ledger[key] = repository.DispatchRecord{
		RuleID:                 ruleID,
		LeadID:                 leadID,
		StateAtDispatch:        state,
		StateEnteredAtSnapshot: snapshot,
	}
	return true, nil
}

func contains(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}

func admin() authz.Actor {
	return authz.NewActor(uuid.New(), authz.CapAutomationManage, authz.CapAutomationPoll)
}

func TestCreateRuleValidation(t *testing.T) {
	svc := New(newFakeRepo())
	ctx := context.Background()

	cases := []struct {
		name string
		req  transport.CreateRuleRequest
	}{
		{"zero delay", transport.CreateRuleRequest{Name: "r", MessageTemplate: "m", DelayHours: 0, AppliesToStates: []string{leadsdomain.StateResponded}}},
		{"negative delay", transport.CreateRuleRequest{Name: "r", MessageTemplate: "m", DelayHours: -3, AppliesToStates: []string{leadsdomain.StateResponded}}},
		{"empty scope", transport.CreateRuleRequest{Name: "r", MessageTemplate: "m", DelayHours: 5, AppliesToStates: nil}},
		{"unknown state", transport.CreateRuleRequest{Name: "r", MessageTemplate: "m", DelayHours: 5, AppliesToStates: []string{"galaxy_brain"}}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := svc.CreateRule(ctx, admin(), tc.req)
			if apperr.GetKind(err) != apperr.KindValidation {
				t.Fatalf("CreateRule kind = %v, want KindValidation (err=%v)", apperr.GetKind(err), err)
			}
		})
	}
}

func TestUpdateRuleReplacesScope(t *testing.T) {
	repo := newFakeRepo()
	svc := New(repo)
	ctx := context.Background()
	actor := admin()

	rule, err := svc.CreateRule(ctx, actor, transport.CreateRuleRequest{
		Name: "nudge", MessageTemplate: "hi {{handle}}", DelayHours: 5,
		AppliesToStates: []string{leadsdomain.StateResponded, leadsdomain.StateContentSent},
	})
	if err != nil {
		t.Fatalf("CreateRule: %v", err)
	}

	updated, err := svc.UpdateRule(ctx, actor, rule.ID, transport.UpdateRuleRequest{
		AppliesToStates: []string{leadsdomain.StateNoShow},
	})
	if err != nil {
		t.Fatalf("UpdateRule: %v", err)
	}
	if len(updated.AppliesToStates) != 1 || updated.AppliesToStates[0] != leadsdomain.StateNoShow {
		t.Fatalf("AppliesToStates = %v, want full replacement with [no_show]", updated.AppliesToStates)
	}
	if updated.DelayHours != 5 {
		t.Fatalf("DelayHours changed on scope-only update: %d", updated.DelayHours)
	}
}

func TestComputeDueBoundary(t *testing.T) {
	repo := newFakeRepo()
	svc := New(repo)
	ctx := context.Background()
	actor := admin()

	entered := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)
	lead := fakeLead{id: uuid.New(), handle: "@lena", state: leadsdomain.StateResponded, enteredAt: entered}
	repo.addLead(lead)

	rule, err := svc.CreateRule(ctx, actor, transport.CreateRuleRequest{
		Name: "nudge", MessageTemplate: "hi", DelayHours: 5,
		AppliesToStates: []string{leadsdomain.StateResponded},
	})
	if err != nil {
		t.Fatalf("CreateRule: %v", err)
	}

	// One hour short of the delay: excluded.
	due, err := svc.ComputeDue(ctx, actor, entered.Add(4*time.Hour))
	if err != nil {
		t.Fatalf("ComputeDue: %v", err)
	}
	if len(due.Groups) != 0 {
		t.Fatalf("at +4h got %d groups, want 0", len(due.Groups))
	}

	// Exactly at the delay: included (closed lower bound).
	due, err = svc.ComputeDue(ctx, actor, entered.Add(5*time.Hour))
	if err != nil {
		t.Fatalf("ComputeDue: %v", err)
	}
	if len(due.Groups) != 1 || len(due.Groups[0].Leads) != 1 {
		t.Fatalf("at +5h got %+v, want one group with one lead", due.Groups)
	}
	got := due.Groups[0].Leads[0]
	if got.LeadID != lead.id || got.HoursWaiting != 5 {
		t.Fatalf("due lead = %+v, want lead %s with 5 hours waiting", got, lead.id)
	}

	// After the dispatcher confirms, the same snapshot never comes back.
	if _, err := svc.MarkDispatched(ctx, actor, transport.MarkDispatchedRequest{
		RuleID: rule.ID, LeadID: lead.id, State: lead.state, StateEnteredAtSnapshot: entered,
	}); err != nil {
		t.Fatalf("MarkDispatched: %v", err)
	}
	due, err = svc.ComputeDue(ctx, actor, entered.Add(6*time.Hour))
	if err != nil {
		t.Fatalf("ComputeDue: %v", err)
	}
	if len(due.Groups) != 0 {
		t.Fatalf("after dispatch got %d groups, want 0", len(due.Groups))
	}

	// Re-entering the state is a fresh snapshot and a fresh schedulable event.
	reEntered := entered.Add(7 * time.Hour)
	lead.enteredAt = reEntered
	repo.addLead(lead)
	due, err = svc.ComputeDue(ctx, actor, reEntered.Add(5*time.Hour))
	if err != nil {
		t.Fatalf("ComputeDue: %v", err)
	}
	if len(due.Groups) != 1 || len(due.Groups[0].Leads) != 1 {
		t.Fatalf("after re-entry got %+v, want the lead due again", due.Groups)
	}
}

func TestComputeDueFilters(t *testing.T) {
	repo := newFakeRepo()
	svc := New(repo)
	ctx := context.Background()
	actor := admin()

	entered := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)
	now := entered.Add(10 * time.Hour)

	inScope := fakeLead{id: uuid.New(), handle: "@a", state: leadsdomain.StateResponded, enteredAt: entered}
	wrongState := fakeLead{id: uuid.New(), handle: "@b", state: leadsdomain.StateContentSent, enteredAt: entered}
	converted := fakeLead{id: uuid.New(), handle: "@c", state: leadsdomain.StateResponded, enteredAt: entered, converted: true}
	repo.addLead(inScope)
	repo.addLead(wrongState)
	repo.addLead(converted)

	if _, err := svc.CreateRule(ctx, actor, transport.CreateRuleRequest{
		Name: "nudge", MessageTemplate: "hi", DelayHours: 5,
		AppliesToStates: []string{leadsdomain.StateResponded},
	}); err != nil {
		t.Fatalf("CreateRule: %v", err)
	}

	inactive := false
	if _, err := svc.CreateRule(ctx, actor, transport.CreateRuleRequest{
		Name: "dormant", MessageTemplate: "hi", DelayHours: 1, Active: &inactive,
		AppliesToStates: []string{leadsdomain.StateResponded},
	}); err != nil {
		t.Fatalf("CreateRule: %v", err)
	}

	due, err := svc.ComputeDue(ctx, actor, now)
	if err != nil {
		t.Fatalf("ComputeDue: %v", err)
	}
	if len(due.Groups) != 1 {
		t.Fatalf("got %d groups, want 1 (inactive rule excluded)", len(due.Groups))
	}
	if len(due.Groups[0].Leads) != 1 || due.Groups[0].Leads[0].LeadID != inScope.id {
		t.Fatalf("due leads = %+v, want only %s", due.Groups[0].Leads, inScope.id)
	}
}

func TestComputeDueOrdersOldestFirst(t *testing.T) {
	repo := newFakeRepo()
	svc := New(repo)
	ctx := context.Background()
	actor := admin()

	base := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	newer := fakeLead{id: uuid.New(), handle: "@newer", state: leadsdomain.StateResponded, enteredAt: base.Add(3 * time.Hour)}
	older := fakeLead{id: uuid.New(), handle: "@older", state: leadsdomain.StateResponded, enteredAt: base}
	repo.addLead(newer)
	repo.addLead(older)

	if _, err := svc.CreateRule(ctx, actor, transport.CreateRuleRequest{
		Name: "nudge", MessageTemplate: "hi", DelayHours: 1,
		AppliesToStates: []string{leadsdomain.StateResponded},
	}); err != nil {
		t.Fatalf("CreateRule: %v", err)
	}

	due, err := svc.ComputeDue(ctx, actor, base.Add(12*time.Hour))
	if err != nil {
		t.Fatalf("ComputeDue: %v", err)
	}
	if len(due.Groups) != 1 || len(due.Groups[0].Leads) != 2 {
		t.Fatalf("due = %+v, want one group with two leads", due.Groups)
	}
	if due.Groups[0].Leads[0].LeadID != older.id {
		t.Fatal("longest-waiting lead must come first")
	}
	if due.Groups[0].Leads[0].HoursWaiting != 12 || due.Groups[0].Leads[1].HoursWaiting != 9 {
		t.Fatalf("hours waiting = %d, %d; want 12, 9",
			due.Groups[0].Leads[0].HoursWaiting, due.Groups[0].Leads[1].HoursWaiting)
	}
}

func TestMarkDispatchedIdempotent(t *testing.T) {
	repo := newFakeRepo()
	svc := New(repo)
	ctx := context.Background()
	actor := admin()

	req := transport.MarkDispatchedRequest{
		RuleID: uuid.New(), LeadID: uuid.New(), State: leadsdomain.StateResponded,
		StateEnteredAtSnapshot: time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC),
	}

	first, err := svc.MarkDispatched(ctx, actor, req)
	if err != nil {
		t.Fatalf("first MarkDispatched: %v", err)
	}
	if first.AlreadyMarked {
		t.Fatal("first MarkDispatched reported alreadyMarked")
	}

	second, err := svc.MarkDispatched(ctx, actor, req)
	if err != nil {
		t.Fatalf("second MarkDispatched: %v", err)
	}
	if !second.AlreadyMarked {
		t.Fatal("second MarkDispatched must report alreadyMarked")
	}

	if len(repo.ledger) != 1 {
		t.Fatalf("ledger has %d rows, want exactly 1", len(repo.ledger))
	}
}

func TestMarkDispatchedConcurrent(t *testing.T) {
	repo := newFakeRepo()
	svc := New(repo)
	ctx := context.Background()
	actor := admin()

	req := transport.MarkDispatchedRequest{
		RuleID: uuid.New(), LeadID: uuid.New(), State: leadsdomain.StateResponded,
		StateEnteredAtSnapshot: time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC),
	}

	const callers = 8
	var wg sync.WaitGroup
	errs := make(chan error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.MarkDispatched(ctx, actor, req)
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		if err != nil {
			t.Fatalf("concurrent MarkDispatched returned error: %v", err)
		}
	}
	if len(repo.ledger) != 1 {
		t.Fatalf("ledger has %d rows after concurrent marks, want exactly 1", len(repo.ledger))
	}
}

func TestAutomationRequiresCapabilities(t *testing.T) {
	svc := New(newFakeRepo())
	ctx := context.Background()
	bystander := authz.NewActor(uuid.New(), authz.CapPipelineView)

	if _, err := svc.ListRules(ctx, bystander); apperr.GetKind(err) != apperr.KindForbidden {
		t.Errorf("ListRules kind = %v, want KindForbidden", apperr.GetKind(err))
	}
	if _, err := svc.ComputeDue(ctx, bystander, time.Now()); apperr.GetKind(err) != apperr.KindForbidden {
		t.Errorf("ComputeDue kind = %v, want KindForbidden", apperr.GetKind(err))
	}
	if _, err := svc.MarkDispatched(ctx, bystander, transport.MarkDispatchedRequest{}); apperr.GetKind(err) != apperr.KindForbidden {
		t.Errorf("MarkDispatched kind = %v, want KindForbidden", apperr.GetKind(err))
	}
}
