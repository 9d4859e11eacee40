package scoring

import (
	"testing"

	"inmocrm_backend/internal/leads/domain"
	settings "inmocrm_backend/internal/settings/domain"
	"inmocrm_backend/platform/apperr"
)

func scenarioConfig() *settings.ScoringConfig {
	max := func(v float64) *float64 { return &v }
	return &settings.ScoringConfig{
		FieldWeights: map[string]float64{
			domain.FieldName:          10,
			domain.FieldPhone:         15,
			domain.FieldMonthlyIncome: 25,
		},
		Thresholds: settings.ScoreThresholds{ColdMax: 20, WarmMax: 50, HotMin: 70, QualifiedMin: 80},
		IncomeRanges: []settings.IncomeRange{
			{Name: settings.TierInsufficient, Min: 0, Max: max(400000), Multiplier: 0},
			{Name: settings.TierLow, Min: 400000, Max: max(600000), Multiplier: 0.25},
			{Name: settings.TierMedium, Min: 600000, Max: max(900000), Multiplier: 0.5},
			{Name: settings.TierGood, Min: 900000, Max: max(1200000), Multiplier: 0.75},
			{Name: settings.TierExcellent, Min: 1200000, Multiplier: 1.0},
		},
	}
}

func TestComputePartialCaptureScenario(t *testing.T) {
	cfg := scenarioConfig()
	fields := domain.CapturedFields{
		domain.FieldName:  "Maria",
		domain.FieldPhone: "+56912345678",
	}

	res, err := Compute(fields, cfg)
	if err != nil {
		t.Fatalf("compute: %v", err)
	}
	if res.Score != 50 {
		t.Fatalf("score = %v, want 50", res.Score)
	}
	if res.Temperature != TemperatureWarm {
		t.Fatalf("temperature = %q, want warm", res.Temperature)
	}

	fields[domain.FieldMonthlyIncome] = 1200000.0
	res, err = Compute(fields, cfg)
	if err != nil {
		t.Fatalf("compute: %v", err)
	}
	if res.Score != 100 {
		t.Fatalf("score = %v, want 100", res.Score)
	}
	if res.Temperature != TemperatureHot {
		t.Fatalf("temperature = %q, want hot", res.Temperature)
	}
}

func TestComputeIsPure(t *testing.T) {
	cfg := scenarioConfig()
	fields := domain.CapturedFields{
		domain.FieldName:          "Pedro",
		domain.FieldMonthlyIncome: 700000.0,
	}

	first, err := Compute(fields, cfg)
	if err != nil {
		t.Fatalf("compute: %v", err)
	}
	second, err := Compute(fields, cfg)
	if err != nil {
		t.Fatalf("compute: %v", err)
	}
	if first.Score != second.Score || first.Temperature != second.Temperature {
		t.Fatalf("same inputs produced %v/%v and %v/%v", first.Score, first.Temperature, second.Score, second.Temperature)
	}
	if first.Score < 0 || first.Score > 100 {
		t.Fatalf("score %v outside [0,100]", first.Score)
	}
}

func TestComputeMonotonicOnFieldCapture(t *testing.T) {
	cfg := scenarioConfig()
	cfg.FieldWeights[domain.FieldLocation] = 10
	cfg.FieldWeights[domain.FieldDicomStatus] = 10

	fields := domain.CapturedFields{domain.FieldName: "Ana"}
	base, err := Compute(fields, cfg)
	if err != nil {
		t.Fatalf("compute: %v", err)
	}

	additions := []struct {
		key   string
		value any
	}{
		{domain.FieldPhone, "+56922222222"},
		{domain.FieldLocation, "Santiago Centro"},
		{domain.FieldMonthlyIncome, 950000.0},
		{domain.FieldDicomStatus, domain.DicomUnknown},
	}

	previous := base.Score
	for _, add := range additions {
		fields[add.key] = add.value
		res, err := Compute(fields, cfg)
		if err != nil {
			t.Fatalf("compute after adding %s: %v", add.key, err)
		}
		if res.Score < previous {
			t.Fatalf("adding %s decreased score from %v to %v", add.key, previous, res.Score)
		}
		previous = res.Score
	}
}

func TestComputeDicomCategorical(t *testing.T) {
	cfg := &settings.ScoringConfig{
		FieldWeights: map[string]float64{domain.FieldDicomStatus: 10},
		Thresholds:   settings.ScoreThresholds{ColdMax: 20, WarmMax: 50, HotMin: 70, QualifiedMin: 80},
		IncomeRanges: scenarioConfig().IncomeRanges,
	}

	cases := []struct {
		status string
		want   float64
	}{
		{domain.DicomClean, 100},
		{domain.DicomHasDebt, 50},
		{domain.DicomUnknown, 25},
		{"", 0},
	}
	for _, tc := range cases {
		fields := domain.CapturedFields{}
		if tc.status != "" {
			fields[domain.FieldDicomStatus] = tc.status
		}
		res, err := Compute(fields, cfg)
		if err != nil {
			t.Fatalf("compute dicom=%q: %v", tc.status, err)
		}
		if res.Score != tc.want {
			t.Fatalf("dicom=%q score = %v, want %v", tc.status, res.Score, tc.want)
		}
	}
}

func TestComputeRejectsZeroTotalWeight(t *testing.T) {
	cfg := &settings.ScoringConfig{
		FieldWeights: map[string]float64{domain.FieldName: 0},
		Thresholds:   settings.ScoreThresholds{ColdMax: 20, WarmMax: 50, HotMin: 70, QualifiedMin: 80},
	}

	_, err := Compute(domain.CapturedFields{domain.FieldName: "Jose"}, cfg)
	if err == nil {
		t.Fatal("expected configuration error for zero total weight")
	}
	if apperr.GetKind(err) != apperr.KindConfiguration {
		t.Fatalf("kind = %v, want configuration", apperr.GetKind(err))
	}
}

func TestTemperatureBoundaries(t *testing.T) {
	thresholds := settings.ScoreThresholds{ColdMax: 20, WarmMax: 50, HotMin: 70, QualifiedMin: 80}
	cases := []struct {
		score float64
		want  string
	}{
		{0, TemperatureCold},
		{20, TemperatureCold},
		{20.5, TemperatureWarm},
		{50, TemperatureWarm},
		{50.5, TemperatureHot},
		{100, TemperatureHot},
	}
	for _, tc := range cases {
		if got := Temperature(tc.score, thresholds); got != tc.want {
			t.Fatalf("temperature(%v) = %q, want %q", tc.score, got, tc.want)
		}
	}
}
