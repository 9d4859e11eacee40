// Package transport defines request and response DTOs for the settings HTTP API.
package transport

import (
	"inmocrm_backend/internal/settings/domain"
)

// SaveScoringConfigRequest is the payload for replacing a tenant's scoring
// profile. Semantic validation (weights, thresholds, income ranges) happens
// in the domain layer.
type SaveScoringConfigRequest struct {
	FieldWeights             map[string]float64          `json:"field_weights" validate:"required"`
	FieldPriority            []string                    `json:"field_priority,omitempty"`
	Thresholds               domain.ScoreThresholds      `json:"thresholds"`
	IncomeRanges             []domain.IncomeRange        `json:"income_ranges" validate:"required,min=1"`
	Criteria                 domain.QualificationCriteria `json:"qualification_criteria"`
	AutoAdvanceProfileFields []string                    `json:"auto_advance_profile_fields,omitempty"`
}

// ToDomain converts the request into a domain scoring config.
func (r SaveScoringConfigRequest) ToDomain() *domain.ScoringConfig {
	return &domain.ScoringConfig{
		FieldWeights:             r.FieldWeights,
		FieldPriority:            r.FieldPriority,
		Thresholds:               r.Thresholds,
		IncomeRanges:             r.IncomeRanges,
		Criteria:                 r.Criteria,
		AutoAdvanceProfileFields: r.AutoAdvanceProfileFields,
	}
}

// ScoringConfigResponse wraps a tenant's effective scoring config.
type ScoringConfigResponse struct {
	Config *domain.ScoringConfig `json:"config"`
}
