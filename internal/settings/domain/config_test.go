package domain

import (
	"strings"
	"testing"
)

func validConfig() *ScoringConfig {
	return MustDefaultConfig()
}

func TestDefaultConfigIsValid(t *testing.T) {
	cfg, err := DefaultConfig()
	if err != nil {
		t.Fatalf("default config should be valid: %v", err)
	}
	if len(cfg.FieldWeights) == 0 {
		t.Fatal("default config has no field weights")
	}
	if cfg.Thresholds.ColdMax != 20 || cfg.Thresholds.WarmMax != 50 {
		t.Fatalf("unexpected default thresholds: %+v", cfg.Thresholds)
	}
}

func TestValidateRejectsZeroTotalWeight(t *testing.T) {
	cfg := validConfig()
	cfg.FieldWeights = map[string]float64{"name": 0, "phone": 0}

	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected error for zero total weight")
	}
	if !strings.Contains(err.Error(), "positive total") {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestValidateRejectsNegativeWeight(t *testing.T) {
	cfg := validConfig()
	cfg.FieldWeights["budget"] = -1

	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for negative weight")
	}
}

func TestValidateRejectsInvertedThresholds(t *testing.T) {
	cfg := validConfig()
	cfg.Thresholds = ScoreThresholds{ColdMax: 60, WarmMax: 50, HotMin: 70, QualifiedMin: 80}

	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for cold_max > warm_max")
	}
}

func TestValidateRejectsGappedIncomeRanges(t *testing.T) {
	cfg := validConfig()
	max := 100000.0
	cfg.IncomeRanges = []IncomeRange{
		{Name: "insufficient", Min: 0, Max: &max, Multiplier: 0},
		{Name: "excellent", Min: 200000, Multiplier: 1},
	}

	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected error for gapped income ranges")
	}
	if !strings.Contains(err.Error(), "contiguous") {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestValidateRejectsUnknownDicomStatus(t *testing.T) {
	cfg := validConfig()
	cfg.Criteria.Calificado.AllowedDicom = []string{"spotless"}

	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for unknown dicom status")
	}
}

func TestValidateSortsIncomeRanges(t *testing.T) {
	cfg := validConfig()
	// Reverse the ranges; Validate should normalize ordering.
	for i, j := 0, len(cfg.IncomeRanges)-1; i < j; i, j = i+1, j-1 {
		cfg.IncomeRanges[i], cfg.IncomeRanges[j] = cfg.IncomeRanges[j], cfg.IncomeRanges[i]
	}

	if err := cfg.Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.IncomeRanges[0].Min != 0 {
		t.Fatalf("ranges not sorted after Validate: first min = %f", cfg.IncomeRanges[0].Min)
	}
}

func TestTierFor(t *testing.T) {
	cfg := validConfig()

	tests := []struct {
		income float64
		want   string
	}{
		{0, TierInsufficient},
		{399999, TierInsufficient},
		{400000, TierLow},
		{850000, TierMedium},
		{1000000, TierGood},
		{1200000, TierExcellent},
		{99000000, TierExcellent},
	}

	for _, tc := range tests {
		tier, ok := cfg.TierFor(tc.income)
		if !ok {
			t.Fatalf("TierFor(%f) found no tier", tc.income)
		}
		if tier.Name != tc.want {
			t.Errorf("TierFor(%f) = %s, want %s", tc.income, tier.Name, tc.want)
		}
	}
}
