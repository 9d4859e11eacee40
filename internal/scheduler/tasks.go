// Package scheduler owns the asynq task definitions, the enqueue client and
// the worker that drives campaign step dispatch and the inactivity sweep.
package scheduler

import (
	"encoding/json"

	"github.com/hibiken/asynq"
)

const TaskCampaignStepDue = "campaigns.step.due"

type CampaignStepDuePayload struct {
	ApplicationID string `json:"applicationId"`
	TenantID      string `json:"tenantId"`
}

func NewCampaignStepDueTask(payload CampaignStepDuePayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskCampaignStepDue, data), nil
}

func ParseCampaignStepDuePayload(task *asynq.Task) (CampaignStepDuePayload, error) {
	var payload CampaignStepDuePayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return CampaignStepDuePayload{}, err
	}
	return payload, nil
}
