package leads

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"inmocrm_backend/internal/events"
	"inmocrm_backend/internal/leads/domain"
	"inmocrm_backend/internal/leads/repository"
	"inmocrm_backend/internal/leads/service"
	settings "inmocrm_backend/internal/settings/domain"
	"inmocrm_backend/platform/apperr"
	platformevents "inmocrm_backend/platform/events"
	"inmocrm_backend/platform/logger"
	"inmocrm_backend/platform/metrics"
)

// fakeRepo is an in-memory LeadsRepository for orchestrator tests.
type fakeRepo struct {
	mu    sync.Mutex
	leads map[uuid.UUID]*domain.Lead
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{leads: make(map[uuid.UUID]*domain.Lead)}
}

func (f *fakeRepo) put(lead *domain.Lead) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.leads[lead.ID] = lead
}

func (f *fakeRepo) Create(ctx context.Context, params repository.CreateLeadParams) (domain.Lead, error) {
	lead := domain.Lead{
		ID:             uuid.New(),
		TenantID:       params.TenantID,
		Phone:          params.Phone,
		Name:           params.Name,
		Email:          params.Email,
		CapturedFields: params.CapturedFields,
		Status:         domain.StatusCold,
		Qualification:  domain.QualificationPending,
		StageEnteredAt: time.Now().UTC(),
		CreatedAt:      time.Now().UTC(),
	}
	f.put(&lead)
	return lead, nil
}

func (f *fakeRepo) GetByID(ctx context.Context, id, tenantID uuid.UUID) (domain.Lead, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	lead, ok := f.leads[id]
	if !ok || lead.TenantID != tenantID {
		return domain.Lead{}, repository.ErrNotFound
	}
	return *lead, nil
}

func (f *fakeRepo) GetByPhone(ctx context.Context, tenantID uuid.UUID, phone string) (domain.Lead, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, lead := range f.leads {
		if lead.TenantID == tenantID && lead.Phone == phone {
			return *lead, nil
		}
	}
	return domain.Lead{}, repository.ErrNotFound
}

func (f *fakeRepo) List(ctx context.Context, params repository.ListLeadsParams) ([]domain.Lead, int, error) {
	return nil, 0, nil
}

func (f *fakeRepo) MergeCapturedFields(ctx context.Context, id, tenantID uuid.UUID, fields domain.CapturedFields) (domain.Lead, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	lead, ok := f.leads[id]
	if !ok {
		return domain.Lead{}, repository.ErrNotFound
	}
	if lead.CapturedFields == nil {
		lead.CapturedFields = domain.CapturedFields{}
	}
	for key, value := range fields {
		lead.CapturedFields[key] = value
	}
	return *lead, nil
}

func (f *fakeRepo) UpdateContact(ctx context.Context, params repository.UpdateContactParams) (domain.Lead, error) {
	return domain.Lead{}, nil
}

func (f *fakeRepo) UpdateScore(ctx context.Context, id, tenantID uuid.UUID, score float64, status string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	lead, ok := f.leads[id]
	if !ok {
		return repository.ErrNotFound
	}
	lead.LeadScore = score
	lead.Status = status
	return nil
}

func (f *fakeRepo) UpdateQualification(ctx context.Context, id, tenantID uuid.UUID, qualification string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	lead, ok := f.leads[id]
	if !ok {
		return repository.ErrNotFound
	}
	lead.Qualification = qualification
	return nil
}

func (f *fakeRepo) UpdateStage(ctx context.Context, params repository.UpdateStageParams) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	lead, ok := f.leads[params.LeadID]
	if !ok {
		return repository.ErrNotFound
	}
	stage := params.ToStage
	lead.PipelineStage = &stage
	lead.StageEnteredAt = params.At
	return nil
}

func (f *fakeRepo) TouchLastContacted(ctx context.Context, id, tenantID uuid.UUID, at time.Time) error {
	return nil
}

func (f *fakeRepo) ListInactiveCandidates(ctx context.Context, olderThan time.Time, limit int) ([]domain.Lead, error) {
	return nil, nil
}

func (f *fakeRepo) StageHistory(ctx context.Context, leadID, tenantID uuid.UUID) ([]repository.StageTransition, error) {
	return nil, nil
}

func (f *fakeRepo) Delete(ctx context.Context, id, tenantID uuid.UUID) error { return nil }

func (f *fakeRepo) StageCounts(ctx context.Context, tenantID uuid.UUID) (map[domain.Stage]int, error) {
	return nil, nil
}

func (f *fakeRepo) AvgDaysPerStage(ctx context.Context, tenantID uuid.UUID) (map[domain.Stage]float64, error) {
	return nil, nil
}

var _ repository.LeadsRepository = (*fakeRepo)(nil)

type fixedConfig struct {
	cfg *settings.ScoringConfig
	err error
}

func (p fixedConfig) ConfigFor(ctx context.Context, tenantID uuid.UUID) (*settings.ScoringConfig, error) {
	return p.cfg, p.err
}

func newTestOrchestrator(t *testing.T, repo *fakeRepo, provider ConfigProvider) (*Orchestrator, events.Bus) {
	t.Helper()
	log := logger.New("test")
	bus := platformevents.NewInMemoryBus(log)
	svc := service.New(repo, bus, log)
	return NewOrchestrator(repo, provider, svc, bus, metrics.New(), log), bus
}

func seedLead(repo *fakeRepo, tenantID uuid.UUID, fields domain.CapturedFields) *domain.Lead {
	name := "Carla"
	lead := &domain.Lead{
		ID:             uuid.New(),
		TenantID:       tenantID,
		Phone:          "+56911112222",
		Name:           &name,
		CapturedFields: fields,
		Status:         domain.StatusCold,
		Qualification:  domain.QualificationPending,
		StageEnteredAt: time.Now().UTC(),
		CreatedAt:      time.Now().UTC(),
	}
	repo.put(lead)
	return lead
}

func TestRecomputeChainUpdatesScoreQualificationAndStage(t *testing.T) {
	cfg, err := settings.DefaultConfig()
	if err != nil {
		t.Fatalf("default config: %v", err)
	}

	tenantID := uuid.New()
	repo := newFakeRepo()
	lead := seedLead(repo, tenantID, domain.CapturedFields{
		domain.FieldLocation: "Providencia",
	})

	orc, bus := newTestOrchestrator(t, repo, fixedConfig{cfg: cfg})

	var stageEvents []events.PipelineStageChanged
	bus.Subscribe(events.PipelineStageChanged{}.EventName(), events.HandlerFunc(func(ctx context.Context, e events.Event) error {
		stageEvents = append(stageEvents, e.(events.PipelineStageChanged))
		return nil
	}))

	if err := orc.Recompute(context.Background(), tenantID, lead.ID); err != nil {
		t.Fatalf("recompute: %v", err)
	}

	updated, _ := repo.GetByID(context.Background(), lead.ID, tenantID)
	if updated.LeadScore <= 0 {
		t.Fatalf("score = %v, want > 0", updated.LeadScore)
	}
	if updated.EffectiveStage() != domain.StagePerfilamiento {
		t.Fatalf("stage = %q, want perfilamiento", updated.EffectiveStage())
	}
	if len(stageEvents) != 1 {
		t.Fatalf("stage events = %d, want 1 (one hop per recompute)", len(stageEvents))
	}
	if stageEvents[0].Reason != domain.ReasonAuto {
		t.Fatalf("reason = %q, want auto", stageEvents[0].Reason)
	}
}

func TestRecomputeIsIdempotent(t *testing.T) {
	cfg, err := settings.DefaultConfig()
	if err != nil {
		t.Fatalf("default config: %v", err)
	}

	tenantID := uuid.New()
	repo := newFakeRepo()
	lead := seedLead(repo, tenantID, domain.CapturedFields{})

	orc, bus := newTestOrchestrator(t, repo, fixedConfig{cfg: cfg})

	scoreEvents := 0
	bus.Subscribe(events.LeadScoreChanged{}.EventName(), events.HandlerFunc(func(ctx context.Context, e events.Event) error {
		scoreEvents++
		return nil
	}))

	if err := orc.Recompute(context.Background(), tenantID, lead.ID); err != nil {
		t.Fatalf("first recompute: %v", err)
	}
	first, _ := repo.GetByID(context.Background(), lead.ID, tenantID)
	eventsAfterFirst := scoreEvents

	if err := orc.Recompute(context.Background(), tenantID, lead.ID); err != nil {
		t.Fatalf("second recompute: %v", err)
	}
	second, _ := repo.GetByID(context.Background(), lead.ID, tenantID)

	if first.LeadScore != second.LeadScore || first.Qualification != second.Qualification {
		t.Fatal("redundant recompute changed lead state")
	}
	if scoreEvents != eventsAfterFirst {
		t.Fatalf("redundant recompute emitted %d extra score events", scoreEvents-eventsAfterFirst)
	}
}

func TestRecomputeBlockedByInvalidConfig(t *testing.T) {
	tenantID := uuid.New()
	repo := newFakeRepo()
	lead := seedLead(repo, tenantID, domain.CapturedFields{domain.FieldLocation: "Macul"})
	lead.LeadScore = 42

	orc, _ := newTestOrchestrator(t, repo, fixedConfig{err: apperr.Configuration("broken weights")})

	err := orc.Recompute(context.Background(), tenantID, lead.ID)
	if err == nil {
		t.Fatal("expected configuration error")
	}
	if apperr.GetKind(err) != apperr.KindConfiguration {
		t.Fatalf("kind = %v, want configuration", apperr.GetKind(err))
	}

	// Last-known-good state stays intact.
	after, _ := repo.GetByID(context.Background(), lead.ID, tenantID)
	if after.LeadScore != 42 {
		t.Fatalf("score = %v, want untouched 42", after.LeadScore)
	}
	if after.PipelineStage != nil {
		t.Fatalf("stage = %v, want untouched nil", *after.PipelineStage)
	}
}

func TestLockLeadSerializesSameLead(t *testing.T) {
	repo := newFakeRepo()
	orc, _ := newTestOrchestrator(t, repo, fixedConfig{})
	leadID := uuid.New()

	counter := 0
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := orc.lockLead(leadID)
			defer unlock()
			// Unsynchronized increment: the race detector flags this if the
			// per-lead lock fails to serialize.
			counter++
		}()
	}
	wg.Wait()

	if counter != 50 {
		t.Fatalf("counter = %d, want 50", counter)
	}

	orc.locksMu.Lock()
	remaining := len(orc.locks)
	orc.locksMu.Unlock()
	if remaining != 0 {
		t.Fatalf("lock map has %d stale entries", remaining)
	}
}

func TestRecomputeNeverAutoAdvancesTerminalLead(t *testing.T) {
	cfg, err := settings.DefaultConfig()
	if err != nil {
		t.Fatalf("default config: %v", err)
	}

	tenantID := uuid.New()
	repo := newFakeRepo()
	lead := seedLead(repo, tenantID, domain.CapturedFields{
		domain.FieldLocation:      "La Reina",
		domain.FieldBudget:        5000.0,
		domain.FieldTimeline:      "now",
		domain.FieldPropertyType:  "casa",
		domain.FieldMonthlyIncome: 2500000.0,
		domain.FieldDicomStatus:   domain.DicomClean,
	})
	ganado := domain.StageGanado
	lead.PipelineStage = &ganado
	lead.Status = domain.StatusConverted

	orc, _ := newTestOrchestrator(t, repo, fixedConfig{cfg: cfg})
	if err := orc.Recompute(context.Background(), tenantID, lead.ID); err != nil {
		t.Fatalf("recompute: %v", err)
	}

	after, _ := repo.GetByID(context.Background(), lead.ID, tenantID)
	if after.EffectiveStage() != domain.StageGanado {
		t.Fatalf("stage = %q, terminal stage must not move automatically", after.EffectiveStage())
	}
	if after.Status != domain.StatusConverted {
		t.Fatalf("status = %q, converted must not be overwritten by temperature", after.Status)
	}
}
