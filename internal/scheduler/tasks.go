package scheduler

import (
	"encoding/json"
	"time"

	"github.com/hibiken/asynq"
)

const TaskAutomationPoll = "automation.poll"

// AutomationPollPayload carries the instant a poll cycle was scheduled for.
// The worker evaluates due follow-ups against its own clock; the scheduled
// time travels along for logging and staleness checks only.
type AutomationPollPayload struct {
	ScheduledAt time.Time `json:"scheduledAt"`
}

func NewAutomationPollTask(payload AutomationPollPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskAutomationPoll, data), nil
}

func ParseAutomationPollPayload(task *asynq.Task) (AutomationPollPayload, error) {
	var payload AutomationPollPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return AutomationPollPayload{}, err
	}
	return payload, nil
}
