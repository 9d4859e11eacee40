package domain

import (
	"time"

	"github.com/google/uuid"

	leaddomain "inmocrm_backend/internal/leads/domain"
)

// Application statuses. active applications hold the single-flight slot for
// their (lead, campaign) pair; completed and failed are terminal.
const (
	ApplicationActive    = "active"
	ApplicationCompleted = "completed"
	ApplicationFailed    = "failed"
)

// Step execution log statuses.
const (
	StepPending = "pending"
	StepSent    = "sent"
	StepFailed  = "failed"
	StepSkipped = "skipped"
)

// CampaignApplication is one in-flight run of a campaign's step sequence
// against one lead. The cursor and next-due timestamp are persisted so the
// workflow survives restarts; the external job queue re-invokes dispatch at
// or after NextDueAt.
type CampaignApplication struct {
	ID                 uuid.UUID        `json:"id"`
	TenantID           uuid.UUID        `json:"tenant_id"`
	CampaignID         uuid.UUID        `json:"campaign_id"`
	LeadID             uuid.UUID        `json:"lead_id"`
	Status             string           `json:"status"`
	CurrentStep        int              `json:"current_step"`
	NextDueAt          *time.Time       `json:"next_due_at,omitempty"`
	Trigger            string           `json:"trigger"`
	StageAtApplication leaddomain.Stage `json:"stage_at_application"`
	AppliedAt          time.Time        `json:"applied_at"`
	FinishedAt         *time.Time       `json:"finished_at,omitempty"`
}

// Open reports whether the application still occupies its campaign's
// single-flight slot.
func (a *CampaignApplication) Open() bool {
	return a.Status == ApplicationActive
}

// HistoryEntry is one append-only record of a campaign having been applied
// to a lead.
type HistoryEntry struct {
	ID                 int64            `json:"id"`
	TenantID           uuid.UUID        `json:"tenant_id"`
	CampaignID         uuid.UUID        `json:"campaign_id"`
	LeadID             uuid.UUID        `json:"lead_id"`
	Trigger            string           `json:"trigger"`
	StageAtApplication leaddomain.Stage `json:"stage_at_application"`
	AppliedAt          time.Time        `json:"applied_at"`
}

// ExecutionLogEntry records one dispatch outcome. Append-only; success and
// failure rates aggregate over it.
type ExecutionLogEntry struct {
	ID            int64     `json:"id"`
	TenantID      uuid.UUID `json:"tenant_id"`
	CampaignID    uuid.UUID `json:"campaign_id"`
	LeadID        uuid.UUID `json:"lead_id"`
	ApplicationID uuid.UUID `json:"application_id"`
	StepNumber    int       `json:"step_number"`
	Status        string    `json:"status"`
	Error         *string   `json:"error,omitempty"`
	ExecutedAt    time.Time `json:"executed_at"`
}
