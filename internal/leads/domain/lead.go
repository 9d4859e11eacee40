// Package domain holds the lead model and the pure pipeline rules.
package domain

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// Captured field keys produced by the conversation fact extractor.
const (
	FieldLocation        = "location"
	FieldBudget          = "budget"
	FieldTimeline        = "timeline"
	FieldPropertyType    = "property_type"
	FieldRooms           = "rooms"
	FieldMonthlyIncome   = "monthly_income"
	FieldDicomStatus     = "dicom_status"
	FieldMorosidadAmount = "morosidad_amount"
	FieldPurpose         = "purpose"
	FieldResidencyStatus = "residency_status"

	// Identity fields live in lead columns but participate in scoring.
	FieldName  = "name"
	FieldPhone = "phone"
	FieldEmail = "email"
)

// DICOM status values (Chilean credit bureau standing).
const (
	DicomClean   = "clean"
	DicomHasDebt = "has_debt"
	DicomUnknown = "unknown"
)

// Lead status labels. cold/warm/hot track temperature; converted and lost
// are set manually and are never overwritten by recompute.
const (
	StatusCold      = "cold"
	StatusWarm      = "warm"
	StatusHot       = "hot"
	StatusConverted = "converted"
	StatusLost      = "lost"
)

// Qualification verdicts.
const (
	QualificationCalificado   = "CALIFICADO"
	QualificationPotencial    = "POTENCIAL"
	QualificationNoCalificado = "NO_CALIFICADO"
	QualificationPending      = "pending"
)

// CapturedFields is the map of conversation facts extracted for a lead.
type CapturedFields map[string]any

// Present reports whether a field has been captured with a non-empty value.
func (f CapturedFields) Present(key string) bool {
	value, ok := f[key]
	if !ok || value == nil {
		return false
	}
	if text, isString := value.(string); isString {
		return strings.TrimSpace(text) != ""
	}
	return true
}

// Number returns a field as float64. JSON decoding produces float64 for
// numbers, but values arriving through manual edits may be ints or numeric
// strings.
func (f CapturedFields) Number(key string) (float64, bool) {
	value, ok := f[key]
	if !ok || value == nil {
		return 0, false
	}
	switch typed := value.(type) {
	case float64:
		return typed, true
	case float32:
		return float64(typed), true
	case int:
		return float64(typed), true
	case int64:
		return float64(typed), true
	}
	return 0, false
}

// String returns a field as a trimmed string, or "" when absent.
func (f CapturedFields) String(key string) string {
	value, ok := f[key]
	if !ok || value == nil {
		return ""
	}
	if text, isString := value.(string); isString {
		return strings.TrimSpace(text)
	}
	return ""
}

// Lead is the aggregate mutated by the lifecycle engine.
type Lead struct {
	ID              uuid.UUID      `json:"id"`
	TenantID        uuid.UUID      `json:"tenant_id"`
	Phone           string         `json:"phone"`
	Name            *string        `json:"name,omitempty"`
	Email           *string        `json:"email,omitempty"`
	CapturedFields  CapturedFields `json:"captured_fields"`
	LeadScore       float64        `json:"lead_score"`
	Status          string         `json:"status"`
	Qualification   string         `json:"qualification"`
	PipelineStage   *Stage         `json:"pipeline_stage,omitempty"`
	StageEnteredAt  time.Time      `json:"stage_entered_at"`
	LastContactedAt *time.Time     `json:"last_contacted_at,omitempty"`
	AssignedTo      *uuid.UUID     `json:"assigned_to,omitempty"`
	Tags            []string       `json:"tags"`
	CreatedAt       time.Time      `json:"created_at"`
	UpdatedAt       time.Time      `json:"updated_at"`
}

// EffectiveStage normalizes the nullable stage column. A lead that has never
// been moved has a null stage and belongs in entrada for every stage-scoped
// read.
func (l *Lead) EffectiveStage() Stage {
	return EffectiveStage(l.PipelineStage)
}

// ScoringFields merges captured fields with the identity columns so the
// scoring engine sees name/phone/email as presence fields.
func (l *Lead) ScoringFields() CapturedFields {
	merged := make(CapturedFields, len(l.CapturedFields)+3)
	for key, value := range l.CapturedFields {
		merged[key] = value
	}
	if l.Phone != "" {
		merged[FieldPhone] = l.Phone
	}
	if l.Name != nil && strings.TrimSpace(*l.Name) != "" {
		merged[FieldName] = *l.Name
	}
	if l.Email != nil && strings.TrimSpace(*l.Email) != "" {
		merged[FieldEmail] = *l.Email
	}
	return merged
}

// TemperatureTracked reports whether the lead's status still follows the
// score temperature. converted/lost are manual outcomes and stick.
func (l *Lead) TemperatureTracked() bool {
	return l.Status != StatusConverted && l.Status != StatusLost
}

// InactiveSince returns the reference timestamp for inactivity triggers:
// the last outbound contact, falling back to the moment the lead entered
// its current stage.
func (l *Lead) InactiveSince() time.Time {
	if l.LastContactedAt != nil {
		return *l.LastContactedAt
	}
	return l.StageEnteredAt
}
