package qualification

import (
	"math/rand"
	"testing"

	"inmocrm_backend/internal/leads/domain"
	settings "inmocrm_backend/internal/settings/domain"
)

func testCriteria() settings.QualificationCriteria {
	return settings.QualificationCriteria{
		Calificado: settings.QualifyingRule{
			MinMonthlyIncome: 1000000,
			AllowedDicom:     []string{domain.DicomClean},
			MaxDebtAmount:    500000,
		},
		Potencial: settings.QualifyingRule{
			MinMonthlyIncome: 500000,
			AllowedDicom:     []string{domain.DicomClean, domain.DicomHasDebt, domain.DicomUnknown},
			MaxDebtAmount:    2000000,
		},
		NoCalificado: settings.RejectionRule{
			IncomeBelow: 500000,
			DebtAbove:   2000000,
		},
	}
}

func TestQualifyVerdicts(t *testing.T) {
	criteria := testCriteria()

	cases := []struct {
		name   string
		fields domain.CapturedFields
		want   string
	}{
		{
			name: "clean high earner is calificado",
			fields: domain.CapturedFields{
				domain.FieldMonthlyIncome: 1500000.0,
				domain.FieldDicomStatus:   domain.DicomClean,
			},
			want: domain.QualificationCalificado,
		},
		{
			name: "income below calificado floor falls through to potencial",
			fields: domain.CapturedFields{
				domain.FieldMonthlyIncome: 900000.0,
				domain.FieldDicomStatus:   domain.DicomClean,
			},
			want: domain.QualificationPotencial,
		},
		{
			name: "debt pushes an otherwise calificado lead to potencial",
			fields: domain.CapturedFields{
				domain.FieldMonthlyIncome:   1500000.0,
				domain.FieldDicomStatus:     domain.DicomClean,
				domain.FieldMorosidadAmount: 800000.0,
			},
			want: domain.QualificationPotencial,
		},
		{
			name: "dicom debt blocks calificado",
			fields: domain.CapturedFields{
				domain.FieldMonthlyIncome: 2000000.0,
				domain.FieldDicomStatus:   domain.DicomHasDebt,
			},
			want: domain.QualificationPotencial,
		},
		{
			name: "income below the rejection floor is no_calificado",
			fields: domain.CapturedFields{
				domain.FieldMonthlyIncome: 300000.0,
			},
			want: domain.QualificationNoCalificado,
		},
		{
			name: "debt above the rejection ceiling is no_calificado",
			fields: domain.CapturedFields{
				domain.FieldMonthlyIncome:   800000.0,
				domain.FieldMorosidadAmount: 3000000.0,
			},
			want: domain.QualificationNoCalificado,
		},
		{
			name:   "missing income stays pending, not rejected",
			fields: domain.CapturedFields{domain.FieldDicomStatus: domain.DicomClean},
			want:   domain.QualificationPending,
		},
		{
			name:   "no fields at all stays pending",
			fields: domain.CapturedFields{},
			want:   domain.QualificationPending,
		},
		{
			name: "uncaptured dicom is treated as unknown",
			fields: domain.CapturedFields{
				domain.FieldMonthlyIncome: 1500000.0,
			},
			want: domain.QualificationPotencial,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := Qualify(tc.fields, criteria); got != tc.want {
				t.Fatalf("Qualify() = %q, want %q", got, tc.want)
			}
		})
	}
}

// Calificado always wins when its rule set is satisfied, regardless of what
// the looser rule sets would say, across randomized field combinations.
func TestQualifyPriorityOrderingHolds(t *testing.T) {
	criteria := testCriteria()
	rng := rand.New(rand.NewSource(42))
	statuses := []string{domain.DicomClean, domain.DicomHasDebt, domain.DicomUnknown}

	for i := 0; i < 500; i++ {
		fields := domain.CapturedFields{
			domain.FieldMonthlyIncome: rng.Float64() * 3000000,
			domain.FieldDicomStatus:   statuses[rng.Intn(len(statuses))],
		}
		if rng.Intn(2) == 0 {
			fields[domain.FieldMorosidadAmount] = rng.Float64() * 3000000
		}

		got := Qualify(fields, criteria)
		switch got {
		case domain.QualificationCalificado, domain.QualificationPotencial,
			domain.QualificationNoCalificado, domain.QualificationPending:
		default:
			t.Fatalf("unexpected verdict %q", got)
		}

		income, _ := fields.Number(domain.FieldMonthlyIncome)
		debt, _ := fields.Number(domain.FieldMorosidadAmount)
		calificado := income >= criteria.Calificado.MinMonthlyIncome &&
			fields.String(domain.FieldDicomStatus) == domain.DicomClean &&
			debt <= criteria.Calificado.MaxDebtAmount
		if calificado && got != domain.QualificationCalificado {
			t.Fatalf("calificado criteria satisfied but verdict was %q (income=%v debt=%v)", got, income, debt)
		}
	}
}
