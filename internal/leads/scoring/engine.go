// Package scoring computes the 0-100 lead score and its temperature label.
// Compute is a pure function over the captured fields and the tenant config;
// persistence and event emission belong to the caller.
package scoring

import (
	"inmocrm_backend/internal/leads/domain"
	settings "inmocrm_backend/internal/settings/domain"
	"inmocrm_backend/platform/apperr"
)

// Temperature labels derived from the score.
const (
	TemperatureCold = "cold"
	TemperatureWarm = "warm"
	TemperatureHot  = "hot"
)

// dicomMultipliers is the fixed categorical mapping for the dicom_status
// field. An absent status contributes nothing.
var dicomMultipliers = map[string]float64{
	domain.DicomClean:   1.0,
	domain.DicomHasDebt: 0.5,
	domain.DicomUnknown: 0.25,
}

// Result is the scoring output for one evaluation.
type Result struct {
	Score       float64
	Temperature string
	// Contributions holds the per-field point contribution before
	// normalization, kept for explainability in logs and the API.
	Contributions map[string]float64
}

// Compute scores the captured fields against the tenant config.
// Field kinds:
//   - monthly_income contributes weight * income-tier multiplier.
//   - dicom_status contributes weight * fixed categorical multiplier.
//   - every other configured field contributes its full weight when present.
//
// The sum is normalized by the total configured weight and scaled to 0-100.
func Compute(fields domain.CapturedFields, cfg *settings.ScoringConfig) (Result, error) {
	totalWeight := 0.0
	for _, weight := range cfg.FieldWeights {
		if weight < 0 {
			return Result{}, apperr.Configuration("field weights must be non-negative")
		}
		totalWeight += weight
	}
	if totalWeight == 0 {
		return Result{}, apperr.Configuration("field weights sum to zero, scoring is undefined")
	}

	earned := 0.0
	contributions := make(map[string]float64, len(cfg.FieldWeights))
	for field, weight := range cfg.FieldWeights {
		if weight == 0 {
			continue
		}

		var points float64
		switch field {
		case domain.FieldMonthlyIncome:
			points = weight * incomeMultiplier(fields, cfg)
		case domain.FieldDicomStatus:
			points = weight * dicomMultipliers[fields.String(domain.FieldDicomStatus)]
		default:
			if fields.Present(field) {
				points = weight
			}
		}

		if points != 0 {
			contributions[field] = points
		}
		earned += points
	}

	score := clamp(earned/totalWeight*100, 0, 100)
	return Result{
		Score:         score,
		Temperature:   Temperature(score, cfg.Thresholds),
		Contributions: contributions,
	}, nil
}

// Temperature maps a score to cold/warm/hot. ColdMax decides the cold/warm
// boundary and WarmMax the warm/hot boundary; HotMin exists separately to
// gate score-triggered automation and intentionally does not move the label
// boundary here.
func Temperature(score float64, t settings.ScoreThresholds) string {
	switch {
	case score <= t.ColdMax:
		return TemperatureCold
	case score <= t.WarmMax:
		return TemperatureWarm
	default:
		return TemperatureHot
	}
}

func incomeMultiplier(fields domain.CapturedFields, cfg *settings.ScoringConfig) float64 {
	income, ok := fields.Number(domain.FieldMonthlyIncome)
	if !ok || income < 0 {
		return 0
	}
	tier, ok := cfg.TierFor(income)
	if !ok {
		return 0
	}
	return tier.Multiplier
}

func clamp(value, min, max float64) float64 {
	if value < min {
		return min
	}
	if value > max {
		return max
	}
	return value
}
