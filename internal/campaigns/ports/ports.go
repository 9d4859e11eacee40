// Package ports declares the outbound interfaces the campaign engine
// depends on. Concrete implementations live in internal/adapters and in the
// leads and scheduler contexts; the engine itself only sees these.
package ports

import (
	"context"
	"time"

	"github.com/google/uuid"

	leaddomain "inmocrm_backend/internal/leads/domain"
)

// MessageSender delivers one outbound message on a single channel. The
// channel router picks the sender matching the campaign's channel.
type MessageSender interface {
	SendMessage(ctx context.Context, to, body string) error
}

// CallPlacer starts an outbound call to the lead.
type CallPlacer interface {
	PlaceCall(ctx context.Context, to string) error
}

// MeetingScheduler books a follow-up slot for the lead.
type MeetingScheduler interface {
	ScheduleMeeting(ctx context.Context, tenantID, leadID uuid.UUID, phone string) error
}

// SenderRouter resolves the MessageSender for a campaign channel.
type SenderRouter interface {
	SenderFor(channel string) (MessageSender, error)
}

// LeadReader is the slice of the leads context the engine reads from.
type LeadReader interface {
	GetByID(ctx context.Context, tenantID, leadID uuid.UUID) (leaddomain.Lead, error)
}

// LeadContacter records an outbound touch, resetting inactivity tracking.
type LeadContacter interface {
	MarkContacted(ctx context.Context, tenantID, leadID uuid.UUID) error
}

// StageChanger moves a lead through the pipeline; update_stage steps go
// through it so campaign moves share validation and history with manual ones.
type StageChanger interface {
	ChangeStage(ctx context.Context, tenantID, leadID uuid.UUID, to leaddomain.Stage, reason string) (leaddomain.Lead, error)
}

// StepEnqueuer schedules the dispatch callback for an application's next
// step. Implemented by the scheduler client over the job queue.
type StepEnqueuer interface {
	EnqueueStepDue(ctx context.Context, applicationID, tenantID uuid.UUID, runAt time.Time) error
}
