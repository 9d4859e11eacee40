// Package domain holds the campaign model: triggers, steps and the rules
// for applying a campaign to a lead.
package domain

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	leaddomain "inmocrm_backend/internal/leads/domain"
	"inmocrm_backend/platform/apperr"
)

// Campaign statuses. Only active campaigns participate in trigger matching.
const (
	StatusDraft     = "draft"
	StatusActive    = "active"
	StatusPaused    = "paused"
	StatusCompleted = "completed"
)

// Trigger kinds.
const (
	TriggerManual      = "manual"
	TriggerLeadScore   = "lead_score"
	TriggerStageChange = "stage_change"
	TriggerInactivity  = "inactivity"
)

// Step actions.
const (
	ActionSendMessage     = "send_message"
	ActionMakeCall        = "make_call"
	ActionScheduleMeeting = "schedule_meeting"
	ActionUpdateStage     = "update_stage"
)

// Outbound channels.
const (
	ChannelWhatsApp = "whatsapp"
	ChannelTelegram = "telegram"
	ChannelEmail    = "email"
	ChannelVoice    = "voice"
)

// TriggerCondition carries the trigger parameters. Which members are
// meaningful depends on the campaign's TriggeredBy.
type TriggerCondition struct {
	ScoreMin       *float64          `json:"score_min,omitempty"`
	ScoreMax       *float64          `json:"score_max,omitempty"`
	Stage          *leaddomain.Stage `json:"stage,omitempty"`
	InactivityDays *int              `json:"inactivity_days,omitempty"`
}

// StepConditions is the predicate gate re-checked at dispatch time against
// the lead's current state.
type StepConditions struct {
	Stage          *leaddomain.Stage `json:"stage,omitempty"`
	ScoreMin       *float64          `json:"score_min,omitempty"`
	ScoreMax       *float64          `json:"score_max,omitempty"`
	Qualification  *string           `json:"qualification,omitempty"`
	RequiredFields []string          `json:"required_fields,omitempty"`
}

// Empty reports whether the step has no gate.
func (c StepConditions) Empty() bool {
	return c.Stage == nil && c.ScoreMin == nil && c.ScoreMax == nil &&
		c.Qualification == nil && len(c.RequiredFields) == 0
}

// Match evaluates the gate against the lead's current state.
func (c StepConditions) Match(lead *leaddomain.Lead) bool {
	if c.Stage != nil && lead.EffectiveStage() != *c.Stage {
		return false
	}
	if c.ScoreMin != nil && lead.LeadScore < *c.ScoreMin {
		return false
	}
	if c.ScoreMax != nil && lead.LeadScore > *c.ScoreMax {
		return false
	}
	if c.Qualification != nil && lead.Qualification != *c.Qualification {
		return false
	}
	for _, field := range c.RequiredFields {
		if !lead.CapturedFields.Present(field) {
			return false
		}
	}
	return true
}

// CampaignStep is one action in the sequence. DelayHours counts from the
// completion of the previous step, not from wall-clock application time.
type CampaignStep struct {
	ID                uuid.UUID         `json:"id"`
	CampaignID        uuid.UUID         `json:"campaign_id"`
	StepNumber        int               `json:"step_number"`
	Action            string            `json:"action"`
	DelayHours        float64           `json:"delay_hours"`
	MessageTemplateID *uuid.UUID        `json:"message_template_id,omitempty"`
	MessageText       *string           `json:"message_text,omitempty"`
	Conditions        StepConditions    `json:"conditions"`
	TargetStage       *leaddomain.Stage `json:"target_stage,omitempty"`
}

// Delay converts the configured delay to a duration.
func (s CampaignStep) Delay() time.Duration {
	return time.Duration(s.DelayHours * float64(time.Hour))
}

// Campaign is an automated follow-up sequence owned by a tenant.
type Campaign struct {
	ID               uuid.UUID        `json:"id"`
	TenantID         uuid.UUID        `json:"tenant_id"`
	Name             string           `json:"name"`
	Channel          string           `json:"channel"`
	Status           string           `json:"status"`
	TriggeredBy      string           `json:"triggered_by"`
	TriggerCondition TriggerCondition `json:"trigger_condition"`
	MaxContacts      *int             `json:"max_contacts,omitempty"`
	Steps            []CampaignStep   `json:"steps"`
	CreatedAt        time.Time        `json:"created_at"`
	UpdatedAt        time.Time        `json:"updated_at"`
}

// Step returns the step with the given 1-based number.
func (c *Campaign) Step(number int) (CampaignStep, bool) {
	for _, step := range c.Steps {
		if step.StepNumber == number {
			return step, true
		}
	}
	return CampaignStep{}, false
}

// LastStepNumber returns the highest step number, 0 for an empty sequence.
func (c *Campaign) LastStepNumber() int {
	last := 0
	for _, step := range c.Steps {
		if step.StepNumber > last {
			last = step.StepNumber
		}
	}
	return last
}

// MatchesScore reports whether a score falls inside the campaign's
// lead_score trigger window.
func (c *Campaign) MatchesScore(score float64) bool {
	if c.TriggeredBy != TriggerLeadScore {
		return false
	}
	min, max := c.TriggerCondition.ScoreMin, c.TriggerCondition.ScoreMax
	if min == nil || max == nil {
		return false
	}
	return score >= *min && score <= *max
}

// MatchesStage reports whether entering the given stage triggers the campaign.
func (c *Campaign) MatchesStage(stage leaddomain.Stage) bool {
	if c.TriggeredBy != TriggerStageChange || c.TriggerCondition.Stage == nil {
		return false
	}
	return stage == *c.TriggerCondition.Stage
}

// MatchesInactivity reports whether the lead has been idle long enough.
func (c *Campaign) MatchesInactivity(idleSince time.Time, now time.Time) bool {
	if c.TriggeredBy != TriggerInactivity || c.TriggerCondition.InactivityDays == nil {
		return false
	}
	threshold := time.Duration(*c.TriggerCondition.InactivityDays) * 24 * time.Hour
	return now.Sub(idleSince) >= threshold
}

// Validate checks the campaign's structural invariants.
func (c *Campaign) Validate() error {
	switch c.Status {
	case StatusDraft, StatusActive, StatusPaused, StatusCompleted:
	default:
		return apperr.Validation(fmt.Sprintf("unknown campaign status %q", c.Status))
	}

	switch c.Channel {
	case ChannelWhatsApp, ChannelTelegram, ChannelEmail, ChannelVoice:
	default:
		return apperr.Validation(fmt.Sprintf("unknown channel %q", c.Channel))
	}

	if err := c.validateTrigger(); err != nil {
		return err
	}

	if c.MaxContacts != nil && *c.MaxContacts < 1 {
		return apperr.Validation("max_contacts must be at least 1")
	}

	return c.validateSteps()
}

func (c *Campaign) validateTrigger() error {
	tc := c.TriggerCondition
	switch c.TriggeredBy {
	case TriggerManual:
		return nil
	case TriggerLeadScore:
		if tc.ScoreMin == nil || tc.ScoreMax == nil {
			return apperr.Validation("lead_score campaigns require score_min and score_max")
		}
		if *tc.ScoreMin > *tc.ScoreMax {
			return apperr.Validation("score_min must not exceed score_max")
		}
		if *tc.ScoreMin < 0 || *tc.ScoreMax > 100 {
			return apperr.Validation("score window must stay within [0,100]")
		}
	case TriggerStageChange:
		if tc.Stage == nil || !leaddomain.IsValidStage(*tc.Stage) {
			return apperr.Validation("stage_change campaigns require a valid trigger stage")
		}
	case TriggerInactivity:
		if tc.InactivityDays == nil || *tc.InactivityDays < 1 {
			return apperr.Validation("inactivity campaigns require inactivity_days >= 1")
		}
	default:
		return apperr.Validation(fmt.Sprintf("unknown trigger %q", c.TriggeredBy))
	}
	return nil
}

func (c *Campaign) validateSteps() error {
	if len(c.Steps) == 0 {
		return apperr.Validation("a campaign needs at least one step")
	}

	seen := make(map[int]bool, len(c.Steps))
	for _, step := range c.Steps {
		if step.StepNumber < 1 {
			return apperr.Validation("step numbers are 1-based")
		}
		if seen[step.StepNumber] {
			return apperr.Validation(fmt.Sprintf("duplicate step number %d", step.StepNumber))
		}
		seen[step.StepNumber] = true

		if step.DelayHours < 0 {
			return apperr.Validation(fmt.Sprintf("step %d delay_hours must be >= 0", step.StepNumber))
		}

		switch step.Action {
		case ActionSendMessage:
			if step.MessageTemplateID == nil && (step.MessageText == nil || *step.MessageText == "") {
				return apperr.Validation(fmt.Sprintf("step %d needs a template or literal message text", step.StepNumber))
			}
		case ActionMakeCall, ActionScheduleMeeting:
		case ActionUpdateStage:
			if step.TargetStage == nil || !leaddomain.IsValidStage(*step.TargetStage) {
				return apperr.Validation(fmt.Sprintf("step %d needs a valid target_stage", step.StepNumber))
			}
		default:
			return apperr.Validation(fmt.Sprintf("step %d has unknown action %q", step.StepNumber, step.Action))
		}

		if step.Action != ActionUpdateStage && step.TargetStage != nil {
			return apperr.Validation(fmt.Sprintf("step %d sets target_stage without an update_stage action", step.StepNumber))
		}
	}

	// Contiguity: steps 1..N with no gaps.
	for number := 1; number <= len(c.Steps); number++ {
		if !seen[number] {
			return apperr.Validation(fmt.Sprintf("step numbers must be contiguous, missing %d", number))
		}
	}
	return nil
}
