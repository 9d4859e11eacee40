// Package qualification computes the financial-fitness verdict for a lead.
// Qualify is a pure function; it never mutates the lead and never performs
// I/O.
package qualification

import (
	"inmocrm_backend/internal/leads/domain"
	settings "inmocrm_backend/internal/settings/domain"
)

// Qualify evaluates the three rule sets in priority order: calificado first,
// then potencial, then the explicit no_calificado rejection. The ordering is
// load-bearing: a lead satisfying calificado must never fall through to a
// weaker verdict.
//
// A lead without a captured monthly_income cannot be evaluated by any rule
// set and stays pending. pending is not a rejection; conflating it with
// NO_CALIFICADO corrupts funnel metrics.
func Qualify(fields domain.CapturedFields, criteria settings.QualificationCriteria) string {
	income, hasIncome := fields.Number(domain.FieldMonthlyIncome)
	if !hasIncome {
		return domain.QualificationPending
	}

	dicom := fields.String(domain.FieldDicomStatus)
	if dicom == "" {
		// The extractor reports unknown when the question was asked but not
		// answered; an uncaptured status is treated the same way.
		dicom = domain.DicomUnknown
	}

	// Debt only disqualifies when reported. No captured morosidad means no
	// known debt.
	debt, _ := fields.Number(domain.FieldMorosidadAmount)

	if satisfies(criteria.Calificado, income, dicom, debt) {
		return domain.QualificationCalificado
	}
	if satisfies(criteria.Potencial, income, dicom, debt) {
		return domain.QualificationPotencial
	}
	if rejected(criteria.NoCalificado, income, debt) {
		return domain.QualificationNoCalificado
	}

	// Evaluable but matched by no rule set. The criteria leave a gap; keep
	// the lead pending rather than inventing a rejection.
	return domain.QualificationPending
}

func satisfies(rule settings.QualifyingRule, income float64, dicom string, debt float64) bool {
	if income < rule.MinMonthlyIncome {
		return false
	}
	if debt > rule.MaxDebtAmount {
		return false
	}
	for _, allowed := range rule.AllowedDicom {
		if dicom == allowed {
			return true
		}
	}
	return false
}

func rejected(rule settings.RejectionRule, income, debt float64) bool {
	if income < rule.IncomeBelow {
		return true
	}
	return rule.DebtAbove > 0 && debt > rule.DebtAbove
}
