// Package domain provides the tenant scoring configuration model and its
// validation rules. The engine treats a tenant's config as an immutable
// value passed into every scoring/qualification call; there is no ambient
// global configuration.
package domain

import (
	"fmt"
	"sort"

	"inmocrm_backend/platform/apperr"
)

// Income tier names. Tiers partition the non-negative income axis and carry
// a quality multiplier applied to the monthly_income field weight.
const (
	TierInsufficient = "insufficient"
	TierLow          = "low"
	TierMedium       = "medium"
	TierGood         = "good"
	TierExcellent    = "excellent"
)

// ScoreThresholds holds the score boundaries for temperature labeling and
// score-gated automation. ColdMax decides cold/warm, WarmMax decides
// warm/hot; HotMin and QualifiedMin gate score-triggered automation and
// must not contradict WarmMax ordering.
type ScoreThresholds struct {
	ColdMax      float64 `json:"coldMax" yaml:"cold_max"`
	WarmMax      float64 `json:"warmMax" yaml:"warm_max"`
	HotMin       float64 `json:"hotMin" yaml:"hot_min"`
	QualifiedMin float64 `json:"qualifiedMin" yaml:"qualified_min"`
}

// IncomeRange is one named tier of the monthly income partition.
// Max == nil means the tier is open-ended.
type IncomeRange struct {
	Name       string   `json:"name" yaml:"name"`
	Min        float64  `json:"min" yaml:"min"`
	Max        *float64 `json:"max,omitempty" yaml:"max,omitempty"`
	Multiplier float64  `json:"multiplier" yaml:"multiplier"`
}

// Contains reports whether income falls inside the range ([Min, Max)).
func (r IncomeRange) Contains(income float64) bool {
	if income < r.Min {
		return false
	}
	if r.Max == nil {
		return true
	}
	return income < *r.Max
}

// QualifyingRule is a conjunction of financial predicates. A lead satisfies
// the rule when income >= MinMonthlyIncome, its DICOM status is in
// AllowedDicom, and its reported debt is <= MaxDebtAmount.
type QualifyingRule struct {
	MinMonthlyIncome float64  `json:"minMonthlyIncome" yaml:"min_monthly_income"`
	AllowedDicom     []string `json:"allowedDicom" yaml:"allowed_dicom"`
	MaxDebtAmount    float64  `json:"maxDebtAmount" yaml:"max_debt_amount"`
}

// RejectionRule is a disjunction of disqualifying predicates: income below
// the floor OR debt above the ceiling rejects the lead outright.
type RejectionRule struct {
	IncomeBelow float64 `json:"incomeBelow" yaml:"income_below"`
	DebtAbove   float64 `json:"debtAbove" yaml:"debt_above"`
}

// QualificationCriteria holds the three rule sets evaluated in priority
// order: calificado, then potencial, then no_calificado.
type QualificationCriteria struct {
	Calificado   QualifyingRule `json:"calificado" yaml:"calificado"`
	Potencial    QualifyingRule `json:"potencial" yaml:"potencial"`
	NoCalificado RejectionRule  `json:"noCalificado" yaml:"no_calificado"`
}

// ScoringConfig is the per-tenant rule configuration consumed by the
// scoring engine, the qualification engine and the pipeline state machine.
type ScoringConfig struct {
	FieldWeights map[string]float64 `json:"fieldWeights" yaml:"field_weights"`
	// FieldPriority orders fields for upstream question asking. Consumed by
	// the conversation layer, stored and validated here, never interpreted
	// by the engine itself.
	FieldPriority []string              `json:"fieldPriority" yaml:"field_priority"`
	Thresholds    ScoreThresholds       `json:"thresholds" yaml:"thresholds"`
	IncomeRanges  []IncomeRange         `json:"incomeRanges" yaml:"income_ranges"`
	Criteria      QualificationCriteria `json:"criteria" yaml:"criteria"`
	// AutoAdvanceProfileFields is the profile field set whose capture drives
	// the entrada → perfilamiento → calificacion_financiera auto-advance.
	AutoAdvanceProfileFields []string `json:"autoAdvanceProfileFields" yaml:"auto_advance_profile_fields"`
}

// TierFor maps a monthly income to its tier. Ranges are matched in Min
// order; the first containing range wins.
func (c *ScoringConfig) TierFor(income float64) (IncomeRange, bool) {
	for _, r := range c.IncomeRanges {
		if r.Contains(income) {
			return r, true
		}
	}
	return IncomeRange{}, false
}

// Validate checks the config invariants. A failure is a configuration
// error: recompute must be aborted for the tenant until the config is
// fixed, never silently repaired.
func (c *ScoringConfig) Validate() error {
	if len(c.FieldWeights) == 0 {
		return apperr.Configuration("field_weights must not be empty")
	}

	total := 0.0
	for field, weight := range c.FieldWeights {
		if weight < 0 {
			return apperr.Configuration(fmt.Sprintf("field_weights[%s] must be non-negative", field))
		}
		total += weight
	}
	if total == 0 {
		return apperr.Configuration("field_weights must sum to a positive total")
	}

	t := c.Thresholds
	if t.ColdMax > t.WarmMax || t.WarmMax > t.HotMin || t.HotMin > t.QualifiedMin {
		return apperr.Configuration("thresholds must satisfy cold_max <= warm_max <= hot_min <= qualified_min")
	}

	if err := c.validateIncomeRanges(); err != nil {
		return err
	}

	return c.validateCriteria()
}

func (c *ScoringConfig) validateIncomeRanges() error {
	if len(c.IncomeRanges) == 0 {
		return apperr.Configuration("income_ranges must not be empty")
	}

	ranges := make([]IncomeRange, len(c.IncomeRanges))
	copy(ranges, c.IncomeRanges)
	sort.Slice(ranges, func(i, j int) bool { return ranges[i].Min < ranges[j].Min })

	if ranges[0].Min != 0 {
		return apperr.Configuration("income_ranges must start at 0")
	}

	for i, r := range ranges {
		if r.Name == "" {
			return apperr.Configuration("income_ranges entries must be named")
		}
		if r.Multiplier < 0 || r.Multiplier > 1 {
			return apperr.Configuration(fmt.Sprintf("income_ranges[%s] multiplier must be within [0,1]", r.Name))
		}
		if i == len(ranges)-1 {
			if r.Max != nil {
				return apperr.Configuration("the last income range must be open-ended")
			}
			continue
		}
		if r.Max == nil {
			return apperr.Configuration(fmt.Sprintf("income_ranges[%s] must have a max (only the last range is open-ended)", r.Name))
		}
		if *r.Max <= r.Min {
			return apperr.Configuration(fmt.Sprintf("income_ranges[%s] max must exceed min", r.Name))
		}
		if next := ranges[i+1]; next.Min != *r.Max {
			return apperr.Configuration(fmt.Sprintf("income_ranges must be contiguous: %s ends at %.0f but %s starts at %.0f", r.Name, *r.Max, next.Name, next.Min))
		}
	}

	c.IncomeRanges = ranges
	return nil
}

func (c *ScoringConfig) validateCriteria() error {
	cr := c.Criteria
	if cr.Calificado.MinMonthlyIncome < cr.Potencial.MinMonthlyIncome {
		return apperr.Configuration("calificado income floor must not be below the potencial floor")
	}
	if cr.Calificado.MaxDebtAmount > cr.Potencial.MaxDebtAmount {
		return apperr.Configuration("calificado debt ceiling must not exceed the potencial ceiling")
	}
	if len(cr.Calificado.AllowedDicom) == 0 || len(cr.Potencial.AllowedDicom) == 0 {
		return apperr.Configuration("qualification rules must allow at least one dicom status")
	}
	for _, rule := range [][]string{cr.Calificado.AllowedDicom, cr.Potencial.AllowedDicom} {
		for _, status := range rule {
			switch status {
			case "clean", "has_debt", "unknown":
			default:
				return apperr.Configuration(fmt.Sprintf("unknown dicom status %q in qualification criteria", status))
			}
		}
	}
	if cr.NoCalificado.IncomeBelow < 0 || cr.NoCalificado.DebtAbove < 0 {
		return apperr.Configuration("no_calificado bounds must be non-negative")
	}
	return nil
}
