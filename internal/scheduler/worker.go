package scheduler

import (
	"context"
	"fmt"
	"time"

	"pipeline_backend/internal/authz"
	"pipeline_backend/internal/automation/domain"
	"pipeline_backend/internal/automation/transport"
	"pipeline_backend/platform/config"
	"pipeline_backend/platform/logger"

	"github.com/hibiken/asynq"
)

// AutomationService is the slice of the automation module the worker drives.
type AutomationService interface {
	ComputeDue(ctx context.Context, actor authz.Actor, now time.Time) (transport.DueResponse, error)
	MarkDispatched(ctx context.Context, actor authz.Actor, req transport.MarkDispatchedRequest) (transport.MarkDispatchedResponse, error)
}

type Worker struct {
	server     *asynq.Server
	mux        *asynq.ServeMux
	automation AutomationService
	dispatcher Dispatcher
	log        *logger.Logger
}

func NewWorker(cfg config.SchedulerConfig, automation AutomationService, dispatcher Dispatcher, log *logger.Logger) (*Worker, error) {
	redisURL := cfg.GetRedisURL()
	if redisURL == "" {
		return nil, fmt.Errorf("redis url not configured")
	}

	opt, err := redisClientOpt(redisURL, cfg.GetRedisTLSInsecure())
	if err != nil {
		return nil, err
	}

	queue := cfg.GetAsynqQueueName()
	if queue == "" {
		queue = "default"
	}

	concurrency := cfg.GetAsynqConcurrency()
	if concurrency < 1 {
		concurrency = 10
	}

	server := asynq.NewServer(opt, asynq.Config{
		Concurrency: concurrency,
		Queues: map[string]int{
			queue: 1,
		},
	})

	mux := asynq.NewServeMux()
	w := &Worker{
		server:     server,
		mux:        mux,
		automation: automation,
		dispatcher: dispatcher,
		log:        log,
	}

	mux.HandleFunc(TaskAutomationPoll, w.handleAutomationPoll)

	return w, nil
}

// handleAutomationPoll runs one due-evaluation cycle: compute the due set,
// deliver each outreach, and record the dispatch in the ledger. A lead is
// marked only after its delivery succeeded; failures are left for the next
// cycle, and a concurrent worker marking the same triple first surfaces as
// alreadyMarked, never as a duplicate send being recorded twice.
func (w *Worker) handleAutomationPoll(ctx context.Context, task *asynq.Task) error {
	payload, err := ParseAutomationPollPayload(task)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	system := authz.System()

	due, err := w.automation.ComputeDue(ctx, system, now)
	if err != nil {
		return err
	}

	w.log.Info("automation poll cycle",
		"scheduled_at", payload.ScheduledAt,
		"computed_at", due.ComputedAt,
		"rules_due", len(due.Groups),
	)

	for _, group := range due.Groups {
		for _, lead := range group.Leads {
			outreach := Outreach{
				RuleID:       group.RuleID,
				LeadID:       lead.LeadID,
				Handle:       lead.Handle,
				State:        lead.State,
				HoursWaiting: lead.HoursWaiting,
				Message:      domain.RenderMessage(group.MessageTemplate, lead.Handle, lead.State, lead.HoursWaiting),
			}

			if err := w.dispatcher.Dispatch(ctx, outreach); err != nil {
				w.log.Warn("outreach delivery failed",
					"rule_id", group.RuleID.String(),
					"lead_id", lead.LeadID.String(),
					"error", err,
				)
				continue
			}

			res, err := w.automation.MarkDispatched(ctx, system, transport.MarkDispatchedRequest{
				RuleID:                 group.RuleID,
				LeadID:                 lead.LeadID,
				State:                  lead.State,
				StateEnteredAtSnapshot: lead.StateEnteredAt,
			})
			if err != nil {
				w.log.Warn("failed to record dispatch",
					"rule_id", group.RuleID.String(),
					"lead_id", lead.LeadID.String(),
					"error", err,
				)
				continue
			}

			w.log.DispatchEvent(group.RuleID.String(), lead.LeadID.String(), res.AlreadyMarked)
		}
	}

	return nil
}

func (w *Worker) Run(ctx context.Context) {
	if w == nil || w.server == nil {
		return
	}

	go func() {
		<-ctx.Done()
		w.server.Shutdown()
	}()

	if err := w.server.Run(w.mux); err != nil {
		w.log.Error("scheduler worker stopped", "error", err)
	}
}
