package scheduler

import (
	"context"
	"time"

	"pipeline_backend/platform/logger"
)

// Poller enqueues one automation poll task per interval. It holds no state
// about what is due; the worker recomputes the due set on every cycle, so a
// missed or doubled tick never changes outcomes.
type Poller struct {
	client   *Client
	interval time.Duration
	log      *logger.Logger
}

func NewPoller(client *Client, interval time.Duration, log *logger.Logger) *Poller {
	return &Poller{client: client, interval: interval, log: log}
}

func (p *Poller) Run(ctx context.Context) {
	if p == nil || p.client == nil {
		return
	}

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case tick := <-ticker.C:
			if err := p.client.EnqueueAutomationPoll(ctx, tick.UTC()); err != nil {
				p.log.Warn("failed to enqueue automation poll", "error", err)
			}
		}
	}
}
