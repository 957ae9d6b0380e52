package scheduler

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"pipeline_backend/platform/config"
	"pipeline_backend/platform/logger"

	"github.com/google/uuid"
)

// Outreach is one rendered follow-up message ready for delivery.
type Outreach struct {
	RuleID       uuid.UUID `json:"ruleId"`
	LeadID       uuid.UUID `json:"leadId"`
	Handle       string    `json:"handle"`
	State        string    `json:"state"`
	HoursWaiting int       `json:"hoursWaiting"`
	Message      string    `json:"message"`
}

// Dispatcher delivers an outreach message to the outside world. The caller
// records the dispatch in the ledger only after delivery succeeds, so a
// failed delivery is retried on the next poll cycle.
type Dispatcher interface {
	Dispatch(ctx context.Context, outreach Outreach) error
}

// NewDispatcher returns a webhook dispatcher when a webhook URL is
// configured, otherwise a logging dispatcher so the pipeline stays
// observable in environments without a delivery channel.
func NewDispatcher(cfg config.SchedulerConfig, log *logger.Logger) Dispatcher {
	if url := cfg.GetDispatchWebhookURL(); url != "" {
		return NewWebhookDispatcher(url)
	}
	return &LogDispatcher{log: log}
}

type WebhookDispatcher struct {
	url    string
	client *http.Client
}

func NewWebhookDispatcher(url string) *WebhookDispatcher {
	return &WebhookDispatcher{
		url: url,
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

func (d *WebhookDispatcher) Dispatch(ctx context.Context, outreach Outreach) error {
	body, err := json.Marshal(outreach)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("dispatch webhook returned status %d", resp.StatusCode)
	}
	return nil
}

type LogDispatcher struct {
	log *logger.Logger
}

func (d *LogDispatcher) Dispatch(_ context.Context, outreach Outreach) error {
	d.log.Info("outreach dispatched",
		"rule_id", outreach.RuleID.String(),
		"lead_id", outreach.LeadID.String(),
		"handle", outreach.Handle,
		"state", outreach.State,
	)
	return nil
}
