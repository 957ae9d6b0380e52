package scheduler

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"pipeline_backend/internal/authz"
	"pipeline_backend/internal/automation/transport"
	"pipeline_backend/platform/logger"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
)

type fakeAutomation struct {
	due    transport.DueResponse
	dueErr error

	mu     sync.Mutex
	marked []transport.MarkDispatchedRequest
}

func (f *fakeAutomation) ComputeDue(_ context.Context, _ authz.Actor, now time.Time) (transport.DueResponse, error) {
	if f.dueErr != nil {
		return transport.DueResponse{}, f.dueErr
	}
	res := f.due
	res.ComputedAt = now
	return res, nil
}

func (f *fakeAutomation) MarkDispatched(_ context.Context, _ authz.Actor, req transport.MarkDispatchedRequest) (transport.MarkDispatchedResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.marked = append(f.marked, req)
	return transport.MarkDispatchedResponse{}, nil
}

type fakeDispatcher struct {
	failFor uuid.UUID

	mu   sync.Mutex
	sent []Outreach
}

func (f *fakeDispatcher) Dispatch(_ context.Context, outreach Outreach) error {
	if outreach.LeadID == f.failFor {
		return errors.New("delivery refused")
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, outreach)
	return nil
}

func pollTask(t *testing.T) *asynq.Task {
	t.Helper()
	task, err := NewAutomationPollTask(AutomationPollPayload{ScheduledAt: time.Now().UTC()})
	if err != nil {
		t.Fatalf("NewAutomationPollTask: %v", err)
	}
	return task
}

func TestHandleAutomationPollDispatchesAndMarks(t *testing.T) {
	entered := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)
	ruleID := uuid.New()
	leadID := uuid.New()

	automation := &fakeAutomation{
		due: transport.DueResponse{
			Groups: []transport.DueRuleGroup{{
				RuleID:          ruleID,
				RuleName:        "nudge",
				MessageTemplate: "hey {{handle}}, it has been {{hours}}h in {{state}}",
				DelayHours:      5,
				Leads: []transport.DueLead{{
					LeadID:         leadID,
					Handle:         "@lena",
					State:          "responded",
					StateEnteredAt: entered,
					HoursWaiting:   6,
				}},
			}},
		},
	}
	dispatcher := &fakeDispatcher{}
	w := &Worker{automation: automation, dispatcher: dispatcher, log: logger.New("test")}

	if err := w.handleAutomationPoll(context.Background(), pollTask(t)); err != nil {
		t.Fatalf("handleAutomationPoll: %v", err)
	}

	if len(dispatcher.sent) != 1 {
		t.Fatalf("sent %d outreaches, want 1", len(dispatcher.sent))
	}
	sent := dispatcher.sent[0]
	if !strings.Contains(sent.Message, "@lena") || !strings.Contains(sent.Message, "6h") || !strings.Contains(sent.Message, "responded") {
		t.Fatalf("rendered message %q missing substitutions", sent.Message)
	}

	if len(automation.marked) != 1 {
		t.Fatalf("marked %d dispatches, want 1", len(automation.marked))
	}
	mark := automation.marked[0]
	if mark.RuleID != ruleID || mark.LeadID != leadID || !mark.StateEnteredAtSnapshot.Equal(entered) {
		t.Fatalf("marked %+v, want the observed (rule, lead, snapshot) triple", mark)
	}
	if mark.State != "responded" {
		t.Fatalf("marked state %q, want the state the dispatcher acted on", mark.State)
	}
}

func TestHandleAutomationPollSkipsMarkOnDeliveryFailure(t *testing.T) {
	entered := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)
	failing := uuid.New()
	healthy := uuid.New()

	automation := &fakeAutomation{
		due: transport.DueResponse{
			Groups: []transport.DueRuleGroup{{
				RuleID:          uuid.New(),
				MessageTemplate: "hi {{handle}}",
				Leads: []transport.DueLead{
					{LeadID: failing, Handle: "@down", State: "responded", StateEnteredAt: entered, HoursWaiting: 5},
					{LeadID: healthy, Handle: "@up", State: "responded", StateEnteredAt: entered, HoursWaiting: 5},
				},
			}},
		},
	}
	dispatcher := &fakeDispatcher{failFor: failing}
	w := &Worker{automation: automation, dispatcher: dispatcher, log: logger.New("test")}

	if err := w.handleAutomationPoll(context.Background(), pollTask(t)); err != nil {
		t.Fatalf("handleAutomationPoll: %v", err)
	}

	// The failed delivery is never recorded; the next cycle retries it.
	if len(automation.marked) != 1 || automation.marked[0].LeadID != healthy {
		t.Fatalf("marked %+v, want only the delivered lead", automation.marked)
	}
}

func TestHandleAutomationPollPropagatesComputeError(t *testing.T) {
	automation := &fakeAutomation{dueErr: errors.New("store unavailable")}
	w := &Worker{automation: automation, dispatcher: &fakeDispatcher{}, log: logger.New("test")}

	if err := w.handleAutomationPoll(context.Background(), pollTask(t)); err == nil {
		t.Fatal("handleAutomationPoll must surface a due-computation failure for retry")
	}
}
