// Package events provides domain event definitions for decoupled,
// event-driven communication between modules.
// Infrastructure (Bus, Handler) is in platform/events.
package events

import (
	"inmocrm_backend/platform/events"

	"github.com/google/uuid"
)

// Re-export platform types for convenience
type (
	Event       = events.Event
	Bus         = events.Bus
	Handler     = events.Handler
	HandlerFunc = events.HandlerFunc
	BaseEvent   = events.BaseEvent
)

// Re-export platform functions
var NewBaseEvent = events.NewBaseEvent

// =============================================================================
// Leads Domain Events
// =============================================================================

// LeadCreated is published when a new lead is created.
type LeadCreated struct {
	BaseEvent
	LeadID   uuid.UUID `json:"leadId"`
	TenantID uuid.UUID `json:"tenantId"`
	Phone    string    `json:"phone"`
	Source   string    `json:"source,omitempty"`
}

func (e LeadCreated) EventName() string { return "leads.created" }

// LeadFieldsUpdated is published when captured fields change on a lead
// (conversation extraction, manual edit, or a campaign step effect).
type LeadFieldsUpdated struct {
	BaseEvent
	LeadID   uuid.UUID `json:"leadId"`
	TenantID uuid.UUID `json:"tenantId"`
	Fields   []string  `json:"fields"`
}

func (e LeadFieldsUpdated) EventName() string { return "leads.fields.updated" }

// LeadScoreChanged is published after a recompute changes the lead score.
type LeadScoreChanged struct {
	BaseEvent
	LeadID      uuid.UUID `json:"leadId"`
	TenantID    uuid.UUID `json:"tenantId"`
	OldScore    float64   `json:"oldScore"`
	NewScore    float64   `json:"newScore"`
	Temperature string    `json:"temperature"`
}

func (e LeadScoreChanged) EventName() string { return "leads.score.changed" }

// LeadQualificationChanged is published when the qualification verdict moves.
type LeadQualificationChanged struct {
	BaseEvent
	LeadID           uuid.UUID `json:"leadId"`
	TenantID         uuid.UUID `json:"tenantId"`
	OldQualification string    `json:"oldQualification"`
	NewQualification string    `json:"newQualification"`
}

func (e LeadQualificationChanged) EventName() string { return "leads.qualification.changed" }

// PipelineStageChanged is published on every pipeline stage transition,
// regardless of kind (manual, auto, campaign).
type PipelineStageChanged struct {
	BaseEvent
	LeadID   uuid.UUID `json:"leadId"`
	TenantID uuid.UUID `json:"tenantId"`
	OldStage string    `json:"oldStage"`
	NewStage string    `json:"newStage"`
	Reason   string    `json:"reason"`
}

func (e PipelineStageChanged) EventName() string { return "leads.stage.changed" }

// =============================================================================
// Campaign Domain Events
// =============================================================================

// CampaignApplied is published when a campaign application is created for a lead.
type CampaignApplied struct {
	BaseEvent
	ApplicationID uuid.UUID `json:"applicationId"`
	CampaignID    uuid.UUID `json:"campaignId"`
	LeadID        uuid.UUID `json:"leadId"`
	TenantID      uuid.UUID `json:"tenantId"`
	Trigger       string    `json:"trigger"`
}

func (e CampaignApplied) EventName() string { return "campaigns.applied" }

// CampaignStepExecuted is published after a dispatch attempt, whatever its outcome.
type CampaignStepExecuted struct {
	BaseEvent
	ApplicationID uuid.UUID `json:"applicationId"`
	CampaignID    uuid.UUID `json:"campaignId"`
	LeadID        uuid.UUID `json:"leadId"`
	TenantID      uuid.UUID `json:"tenantId"`
	StepNumber    int       `json:"stepNumber"`
	Status        string    `json:"status"`
}

func (e CampaignStepExecuted) EventName() string { return "campaigns.step.executed" }
