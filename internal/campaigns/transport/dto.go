// Package transport holds the HTTP request and response shapes for the
// campaigns API.
package transport

import (
	"github.com/google/uuid"

	"inmocrm_backend/internal/campaigns/domain"
	"inmocrm_backend/internal/campaigns/repository"
	"inmocrm_backend/internal/campaigns/service"
	leaddomain "inmocrm_backend/internal/leads/domain"
)

type CampaignStepRequest struct {
	StepNumber        int                   `json:"step_number" validate:"required,min=1"`
	Action            string                `json:"action" validate:"required"`
	DelayHours        float64               `json:"delay_hours" validate:"min=0"`
	MessageTemplateID *uuid.UUID            `json:"message_template_id,omitempty"`
	MessageText       *string               `json:"message_text,omitempty"`
	Conditions        domain.StepConditions `json:"conditions"`
	TargetStage       *string               `json:"target_stage,omitempty"`
}

type SaveCampaignRequest struct {
	Name             string                  `json:"name" validate:"required,min=1,max=200"`
	Channel          string                  `json:"channel" validate:"required"`
	Status           string                  `json:"status,omitempty"`
	TriggeredBy      string                  `json:"triggered_by" validate:"required"`
	TriggerCondition domain.TriggerCondition `json:"trigger_condition"`
	MaxContacts      *int                    `json:"max_contacts,omitempty"`
	Steps            []CampaignStepRequest   `json:"steps" validate:"required,min=1,dive"`
}

// ToInput maps the request onto the service input. Semantic validation
// (trigger shape, step contiguity, action payloads) happens in the domain.
func (r SaveCampaignRequest) ToInput() service.CampaignInput {
	steps := make([]domain.CampaignStep, 0, len(r.Steps))
	for _, step := range r.Steps {
		var target *leaddomain.Stage
		if step.TargetStage != nil {
			stage := leaddomain.Stage(*step.TargetStage)
			target = &stage
		}
		steps = append(steps, domain.CampaignStep{
			StepNumber:        step.StepNumber,
			Action:            step.Action,
			DelayHours:        step.DelayHours,
			MessageTemplateID: step.MessageTemplateID,
			MessageText:       step.MessageText,
			Conditions:        step.Conditions,
			TargetStage:       target,
		})
	}
	return service.CampaignInput{
		Name:             r.Name,
		Channel:          r.Channel,
		Status:           r.Status,
		TriggeredBy:      r.TriggeredBy,
		TriggerCondition: r.TriggerCondition,
		MaxContacts:      r.MaxContacts,
		Steps:            steps,
	}
}

type SetStatusRequest struct {
	Status string `json:"status" validate:"required"`
}

type ApplyCampaignRequest struct {
	LeadID uuid.UUID `json:"lead_id" validate:"required"`
}

type CreateTemplateRequest struct {
	Name string `json:"name" validate:"required,min=1,max=200"`
	Body string `json:"body" validate:"required,min=1"`
}

type ListTemplatesResponse struct {
	Templates []domain.MessageTemplate `json:"templates"`
}

type ListCampaignsResponse struct {
	Campaigns []*domain.Campaign `json:"campaigns"`
	Total     int                `json:"total"`
}

type CampaignStatsResponse struct {
	CampaignID uuid.UUID        `json:"campaign_id"`
	Stats      repository.Stats `json:"stats"`
}

type ExecutionRatesResponse struct {
	Rates repository.Rates `json:"rates"`
}

type LeadHistoryResponse struct {
	History []domain.HistoryEntry `json:"history"`
}

type ExecutionLogResponse struct {
	Entries []domain.ExecutionLogEntry `json:"entries"`
}
