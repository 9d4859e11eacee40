package domain

import (
	settings "inmocrm_backend/internal/settings/domain"

	"github.com/google/uuid"
)

// Stage is a position in the sales funnel.
type Stage string

const (
	StageEntrada                Stage = "entrada"
	StagePerfilamiento          Stage = "perfilamiento"
	StageCalificacionFinanciera Stage = "calificacion_financiera"
	StageAgendado               Stage = "agendado"
	StageSeguimiento            Stage = "seguimiento"
	StageReferidos              Stage = "referidos"
	StageGanado                 Stage = "ganado"
	StagePerdido                Stage = "perdido"
)

// Stage transition reasons recorded in the stage history.
const (
	ReasonManual         = "manual"
	ReasonAuto           = "auto"
	ReasonCampaignPrefix = "campaign:"
)

// CampaignReason builds the history reason for a campaign-driven transition.
func CampaignReason(campaignID uuid.UUID) string {
	return ReasonCampaignPrefix + campaignID.String()
}

// funnelOrder is the main progression. referidos sits outside it as a
// lateral stage, and ganado/perdido are the two terminal outcomes.
var funnelOrder = []Stage{
	StageEntrada,
	StagePerfilamiento,
	StageCalificacionFinanciera,
	StageAgendado,
	StageSeguimiento,
}

var allStages = map[Stage]struct{}{
	StageEntrada:                {},
	StagePerfilamiento:          {},
	StageCalificacionFinanciera: {},
	StageAgendado:               {},
	StageSeguimiento:            {},
	StageReferidos:              {},
	StageGanado:                 {},
	StagePerdido:                {},
}

// AllStages returns every valid stage, funnel order first.
func AllStages() []Stage {
	stages := make([]Stage, 0, len(allStages))
	stages = append(stages, funnelOrder...)
	stages = append(stages, StageReferidos, StageGanado, StagePerdido)
	return stages
}

// IsValidStage reports whether the value names a known stage.
func IsValidStage(s Stage) bool {
	_, ok := allStages[s]
	return ok
}

// IsTerminalStage reports whether a stage is a funnel outcome. Terminal
// stages block automatic transitions in both directions but remain
// manually reassignable.
func IsTerminalStage(s Stage) bool {
	return s == StageGanado || s == StagePerdido
}

// EffectiveStage normalizes a nullable stage to entrada. Every stage-scoped
// read must go through this (or the SQL COALESCE equivalent) so leads that
// were created before the stage column existed stay visible on the board.
func EffectiveStage(s *Stage) Stage {
	if s == nil || *s == "" {
		return StageEntrada
	}
	return *s
}

// AutoAdvance evaluates the one-step auto-advance policy after a recompute.
// It returns the next stage and true when the lead should move. At most one
// stage per evaluation so every hop stays observable in the stage history.
// Automatic transitions never enter or leave ganado/perdido, and never touch
// the lateral referidos stage.
func AutoAdvance(current Stage, fields CapturedFields, qualification string, cfg *settings.ScoringConfig) (Stage, bool) {
	profileFields := cfg.AutoAdvanceProfileFields
	if len(profileFields) == 0 {
		profileFields = []string{FieldLocation, FieldBudget, FieldTimeline, FieldPropertyType}
	}

	switch current {
	case StageEntrada:
		for _, field := range profileFields {
			if fields.Present(field) {
				return StagePerfilamiento, true
			}
		}
	case StagePerfilamiento:
		for _, field := range profileFields {
			if !fields.Present(field) {
				return "", false
			}
		}
		if fields.Present(FieldMonthlyIncome) || fields.Present(FieldDicomStatus) {
			return StageCalificacionFinanciera, true
		}
	case StageCalificacionFinanciera:
		if qualification == QualificationCalificado {
			return StageAgendado, true
		}
	}
	return "", false
}
