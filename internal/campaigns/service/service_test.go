package service

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"inmocrm_backend/internal/campaigns/domain"
	"inmocrm_backend/internal/campaigns/ports"
	"inmocrm_backend/internal/campaigns/repository"
	"inmocrm_backend/internal/events"
	leaddomain "inmocrm_backend/internal/leads/domain"
	platformevents "inmocrm_backend/platform/events"
	"inmocrm_backend/platform/logger"
	"inmocrm_backend/platform/metrics"
)

// ---------------------------------------------------------------------------
// fakes

type fakeRepo struct {
	mu           sync.Mutex
	campaigns    map[uuid.UUID]*domain.Campaign
	applications map[uuid.UUID]*domain.CampaignApplication
	history      []domain.HistoryEntry
	executionLog []domain.ExecutionLogEntry
	templates    map[uuid.UUID]string
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{
		campaigns:    make(map[uuid.UUID]*domain.Campaign),
		applications: make(map[uuid.UUID]*domain.CampaignApplication),
		templates:    make(map[uuid.UUID]string),
	}
}

var _ repository.CampaignsRepository = (*fakeRepo)(nil)

func (f *fakeRepo) CreateCampaign(_ context.Context, c *domain.Campaign) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	c.ID = uuid.New()
	c.CreatedAt = time.Now()
	c.UpdatedAt = c.CreatedAt
	clone := *c
	f.campaigns[c.ID] = &clone
	return nil
}

func (f *fakeRepo) UpdateCampaign(_ context.Context, c *domain.Campaign) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.campaigns[c.ID]; !ok {
		return repository.ErrNotFound
	}
	clone := *c
	f.campaigns[c.ID] = &clone
	return nil
}

func (f *fakeRepo) GetCampaign(_ context.Context, id, tenantID uuid.UUID) (*domain.Campaign, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.campaigns[id]
	if !ok || c.TenantID != tenantID {
		return nil, repository.ErrNotFound
	}
	clone := *c
	return &clone, nil
}

func (f *fakeRepo) ListCampaigns(_ context.Context, tenantID uuid.UUID, status *string) ([]*domain.Campaign, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]*domain.Campaign, 0)
	for _, c := range f.campaigns {
		if c.TenantID != tenantID {
			continue
		}
		if status != nil && c.Status != *status {
			continue
		}
		clone := *c
		out = append(out, &clone)
	}
	return out, nil
}

func (f *fakeRepo) ListActiveCampaigns(ctx context.Context, tenantID uuid.UUID) ([]*domain.Campaign, error) {
	active := domain.StatusActive
	return f.ListCampaigns(ctx, tenantID, &active)
}

func (f *fakeRepo) DeleteCampaign(_ context.Context, id, tenantID uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.campaigns[id]
	if !ok || c.TenantID != tenantID {
		return repository.ErrNotFound
	}
	delete(f.campaigns, id)
	return nil
}

func (f *fakeRepo) CreateApplication(_ context.Context, app *domain.CampaignApplication) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, existing := range f.applications {
		if existing.LeadID == app.LeadID && existing.CampaignID == app.CampaignID && existing.Open() {
			return repository.ErrDuplicateApplication
		}
	}
	app.ID = uuid.New()
	clone := *app
	f.applications[app.ID] = &clone
	return nil
}

func (f *fakeRepo) GetApplication(_ context.Context, id, tenantID uuid.UUID) (*domain.CampaignApplication, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	app, ok := f.applications[id]
	if !ok || app.TenantID != tenantID {
		return nil, repository.ErrNotFound
	}
	clone := *app
	return &clone, nil
}

func (f *fakeRepo) HasOpenApplication(_ context.Context, leadID, campaignID uuid.UUID) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, app := range f.applications {
		if app.LeadID == leadID && app.CampaignID == campaignID && app.Open() {
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeRepo) AdvanceApplication(_ context.Context, id uuid.UUID, step int, nextDue *time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	app, ok := f.applications[id]
	if !ok || !app.Open() {
		return repository.ErrNotFound
	}
	app.CurrentStep = step
	app.NextDueAt = nextDue
	return nil
}

func (f *fakeRepo) FinishApplication(_ context.Context, id uuid.UUID, status string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	app, ok := f.applications[id]
	if !ok || !app.Open() {
		return repository.ErrNotFound
	}
	now := time.Now()
	app.Status = status
	app.NextDueAt = nil
	app.FinishedAt = &now
	return nil
}

func (f *fakeRepo) ListDueApplications(_ context.Context, before time.Time, _ int) ([]*domain.CampaignApplication, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]*domain.CampaignApplication, 0)
	for _, app := range f.applications {
		if app.Open() && app.NextDueAt != nil && !app.NextDueAt.After(before) {
			clone := *app
			out = append(out, &clone)
		}
	}
	return out, nil
}

func (f *fakeRepo) AppendHistory(_ context.Context, entry domain.HistoryEntry) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	entry.ID = int64(len(f.history) + 1)
	f.history = append(f.history, entry)
	return nil
}

func (f *fakeRepo) CountHistory(_ context.Context, campaignID, leadID uuid.UUID) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	count := 0
	for _, entry := range f.history {
		if entry.CampaignID == campaignID && entry.LeadID == leadID {
			count++
		}
	}
	return count, nil
}

func (f *fakeRepo) ListHistory(_ context.Context, tenantID, leadID uuid.UUID) ([]domain.HistoryEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]domain.HistoryEntry, 0)
	for _, entry := range f.history {
		if entry.TenantID == tenantID && entry.LeadID == leadID {
			out = append(out, entry)
		}
	}
	return out, nil
}

func (f *fakeRepo) AppendExecutionLog(_ context.Context, entry domain.ExecutionLogEntry) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	entry.ID = int64(len(f.executionLog) + 1)
	f.executionLog = append(f.executionLog, entry)
	return nil
}

func (f *fakeRepo) ListExecutionLog(_ context.Context, tenantID, applicationID uuid.UUID) ([]domain.ExecutionLogEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]domain.ExecutionLogEntry, 0)
	for _, entry := range f.executionLog {
		if entry.TenantID == tenantID && entry.ApplicationID == applicationID {
			out = append(out, entry)
		}
	}
	return out, nil
}

func (f *fakeRepo) ExecutionRates(_ context.Context, tenantID uuid.UUID) (repository.Rates, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var rates repository.Rates
	for _, entry := range f.executionLog {
		if entry.TenantID != tenantID {
			continue
		}
		switch entry.Status {
		case domain.StepSent:
			rates.Sent++
		case domain.StepFailed:
			rates.Failed++
		case domain.StepSkipped:
			rates.Skipped++
		}
	}
	if delivered := rates.Sent + rates.Failed; delivered > 0 {
		rates.SuccessRate = float64(rates.Sent) / float64(delivered)
		rates.FailureRate = float64(rates.Failed) / float64(delivered)
	}
	return rates, nil
}

func (f *fakeRepo) CampaignStats(_ context.Context, campaignID, tenantID uuid.UUID) (repository.Stats, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var stats repository.Stats
	for _, app := range f.applications {
		if app.CampaignID != campaignID || app.TenantID != tenantID {
			continue
		}
		switch app.Status {
		case domain.ApplicationActive:
			stats.ActiveApplications++
		case domain.ApplicationCompleted:
			stats.CompletedApplications++
		case domain.ApplicationFailed:
			stats.FailedApplications++
		}
	}
	return stats, nil
}

func (f *fakeRepo) CreateTemplate(_ context.Context, tpl *domain.MessageTemplate) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	tpl.ID = uuid.New()
	f.templates[tpl.ID] = tpl.Body
	return nil
}

func (f *fakeRepo) ListTemplates(_ context.Context, _ uuid.UUID) ([]domain.MessageTemplate, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]domain.MessageTemplate, 0, len(f.templates))
	for id, body := range f.templates {
		out = append(out, domain.MessageTemplate{ID: id, Body: body})
	}
	return out, nil
}

func (f *fakeRepo) GetTemplateBody(_ context.Context, id, _ uuid.UUID) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	body, ok := f.templates[id]
	if !ok {
		return "", repository.ErrNotFound
	}
	return body, nil
}

type fakeLeads struct {
	mu        sync.Mutex
	leads     map[uuid.UUID]leaddomain.Lead
	contacted []uuid.UUID
	staged    []string
}

func (f *fakeLeads) GetByID(_ context.Context, tenantID, leadID uuid.UUID) (leaddomain.Lead, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	lead, ok := f.leads[leadID]
	if !ok || lead.TenantID != tenantID {
		return leaddomain.Lead{}, errors.New("lead not found")
	}
	return lead, nil
}

func (f *fakeLeads) MarkContacted(_ context.Context, _, leadID uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.contacted = append(f.contacted, leadID)
	return nil
}

func (f *fakeLeads) ChangeStage(_ context.Context, _, leadID uuid.UUID, to leaddomain.Stage, reason string) (leaddomain.Lead, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	lead := f.leads[leadID]
	lead.PipelineStage = &to
	f.leads[leadID] = lead
	f.staged = append(f.staged, string(to)+"/"+reason)
	return lead, nil
}

type fakeSender struct {
	mu   sync.Mutex
	sent []string
	fail error
}

func (f *fakeSender) SendMessage(_ context.Context, to, body string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail != nil {
		return f.fail
	}
	f.sent = append(f.sent, to+": "+body)
	return nil
}

func (f *fakeSender) SenderFor(string) (ports.MessageSender, error) { return f, nil }

func (f *fakeSender) PlaceCall(_ context.Context, to string) error {
	return f.SendMessage(context.Background(), to, "call")
}

func (f *fakeSender) ScheduleMeeting(_ context.Context, _, _ uuid.UUID, phone string) error {
	return f.SendMessage(context.Background(), phone, "meeting")
}

type fakeEnqueuer struct {
	mu    sync.Mutex
	queue []uuid.UUID
}

func (f *fakeEnqueuer) EnqueueStepDue(_ context.Context, applicationID, _ uuid.UUID, _ time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queue = append(f.queue, applicationID)
	return nil
}

func (f *fakeEnqueuer) drain() []uuid.UUID {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := f.queue
	f.queue = nil
	return out
}

// ---------------------------------------------------------------------------
// fixture

type fixture struct {
	svc     *Service
	repo    *fakeRepo
	leads   *fakeLeads
	sender  *fakeSender
	queue   *fakeEnqueuer
	tenant  uuid.UUID
	leadID  uuid.UUID
	bus     events.Bus
	baseNow time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	log := logger.New("test")
	repo := newFakeRepo()
	sender := &fakeSender{}
	queue := &fakeEnqueuer{}
	bus := platformevents.NewInMemoryBus(log)

	tenant := uuid.New()
	leadID := uuid.New()
	name := "Maria"
	leads := &fakeLeads{leads: map[uuid.UUID]leaddomain.Lead{
		leadID: {
			ID:       leadID,
			TenantID: tenant,
			Phone:    "+56912345678",
			Name:     &name,
			CapturedFields: leaddomain.CapturedFields{
				leaddomain.FieldLocation: "Providencia",
			},
			LeadScore: 75,
		},
	}}

	svc := New(Deps{
		Repo:     repo,
		Leads:    leads,
		Contacts: leads,
		Stages:   leads,
		Senders:  sender,
		Calls:    sender,
		Meetings: sender,
		Enqueue:  queue,
		Bus:      bus,
		Metrics:  metrics.New(),
		Log:      log,
	})
	base := time.Now()
	svc.now = func() time.Time { return base }

	return &fixture{
		svc: svc, repo: repo, leads: leads, sender: sender, queue: queue,
		tenant: tenant, leadID: leadID, bus: bus, baseNow: base,
	}
}

func (f *fixture) scoreCampaign(t *testing.T, min, max float64, maxContacts *int) *domain.Campaign {
	t.Helper()
	campaign, err := f.svc.Create(context.Background(), f.tenant, CampaignInput{
		Name:        "hot follow-up",
		Channel:     domain.ChannelWhatsApp,
		Status:      domain.StatusActive,
		TriggeredBy: domain.TriggerLeadScore,
		TriggerCondition: domain.TriggerCondition{
			ScoreMin: &min,
			ScoreMax: &max,
		},
		MaxContacts: maxContacts,
		Steps: []domain.CampaignStep{
			{StepNumber: 1, Action: domain.ActionSendMessage, MessageText: msg("Hola {{.name}}")},
			{StepNumber: 2, Action: domain.ActionSendMessage, MessageText: msg("Sigues buscando en {{.location}}?"), DelayHours: 24},
		},
	})
	if err != nil {
		t.Fatalf("create campaign: %v", err)
	}
	return campaign
}

func msg(s string) *string { return &s }

func (f *fixture) openApplications() []*domain.CampaignApplication {
	f.repo.mu.Lock()
	defer f.repo.mu.Unlock()
	out := make([]*domain.CampaignApplication, 0)
	for _, app := range f.repo.applications {
		if app.Open() {
			clone := *app
			out = append(out, &clone)
		}
	}
	return out
}

func (f *fixture) scoreEvent(old, new float64) events.LeadScoreChanged {
	return events.LeadScoreChanged{
		BaseEvent: events.NewBaseEvent(),
		LeadID:    f.leadID,
		TenantID:  f.tenant,
		OldScore:  old,
		NewScore:  new,
	}
}

// ---------------------------------------------------------------------------
// trigger tests

func TestScoreTriggerFiresOnceWhileOpen(t *testing.T) {
	f := newFixture(t)
	f.scoreCampaign(t, 70, 100, nil)
	ctx := context.Background()

	if err := f.svc.OnScoreChanged(ctx, f.scoreEvent(65, 75)); err != nil {
		t.Fatalf("score event: %v", err)
	}
	if got := len(f.openApplications()); got != 1 {
		t.Fatalf("applications after crossing into window = %d, want 1", got)
	}

	// Movement within the window while the application is open must not
	// create a second one.
	if err := f.svc.OnScoreChanged(ctx, f.scoreEvent(75, 80)); err != nil {
		t.Fatalf("second score event: %v", err)
	}
	if got := len(f.openApplications()); got != 1 {
		t.Fatalf("applications after in-window move = %d, want 1", got)
	}
}

func TestScoreTriggerRequiresCrossing(t *testing.T) {
	f := newFixture(t)
	f.scoreCampaign(t, 70, 100, nil)

	// Old score already inside the window: no trigger even with no open
	// application.
	if err := f.svc.OnScoreChanged(context.Background(), f.scoreEvent(72, 90)); err != nil {
		t.Fatalf("score event: %v", err)
	}
	if got := len(f.openApplications()); got != 0 {
		t.Fatalf("applications = %d, want 0", got)
	}
}

func TestStageTriggerMatchesNewStage(t *testing.T) {
	f := newFixture(t)
	stage := leaddomain.StageAgendado
	_, err := f.svc.Create(context.Background(), f.tenant, CampaignInput{
		Name:             "meeting prep",
		Channel:          domain.ChannelWhatsApp,
		Status:           domain.StatusActive,
		TriggeredBy:      domain.TriggerStageChange,
		TriggerCondition: domain.TriggerCondition{Stage: &stage},
		Steps: []domain.CampaignStep{
			{StepNumber: 1, Action: domain.ActionSendMessage, MessageText: msg("Nos vemos pronto")},
		},
	})
	if err != nil {
		t.Fatalf("create campaign: %v", err)
	}

	event := events.PipelineStageChanged{
		BaseEvent: events.NewBaseEvent(),
		LeadID:    f.leadID,
		TenantID:  f.tenant,
		OldStage:  string(leaddomain.StageCalificacionFinanciera),
		NewStage:  string(leaddomain.StageAgendado),
		Reason:    leaddomain.ReasonAuto,
	}
	if err := f.svc.OnStageChanged(context.Background(), event); err != nil {
		t.Fatalf("stage event: %v", err)
	}
	if got := len(f.openApplications()); got != 1 {
		t.Fatalf("applications = %d, want 1", got)
	}

	event.NewStage = string(leaddomain.StageSeguimiento)
	if err := f.svc.OnStageChanged(context.Background(), event); err != nil {
		t.Fatalf("non-matching stage event: %v", err)
	}
	if got := len(f.openApplications()); got != 1 {
		t.Fatalf("applications after non-matching stage = %d, want 1", got)
	}
}

func TestTerminalLeadsAreNeverApplied(t *testing.T) {
	f := newFixture(t)
	f.scoreCampaign(t, 70, 100, nil)

	won := leaddomain.StageGanado
	lead := f.leads.leads[f.leadID]
	lead.PipelineStage = &won
	f.leads.leads[f.leadID] = lead

	if err := f.svc.OnScoreChanged(context.Background(), f.scoreEvent(65, 75)); err != nil {
		t.Fatalf("score event: %v", err)
	}
	if got := len(f.openApplications()); got != 0 {
		t.Fatalf("applications for terminal lead = %d, want 0", got)
	}
}

func TestMaxContactsCapsReapplication(t *testing.T) {
	f := newFixture(t)
	one := 1
	campaign := f.scoreCampaign(t, 70, 100, &one)
	ctx := context.Background()

	if err := f.svc.OnScoreChanged(ctx, f.scoreEvent(65, 75)); err != nil {
		t.Fatalf("first apply: %v", err)
	}
	apps := f.openApplications()
	if len(apps) != 1 {
		t.Fatalf("applications = %d, want 1", len(apps))
	}

	// Run the application to completion, freeing the single-flight slot.
	if err := f.svc.Dispatch(ctx, apps[0].ID, f.tenant); err != nil {
		t.Fatalf("dispatch step 1: %v", err)
	}
	if err := f.svc.Dispatch(ctx, apps[0].ID, f.tenant); err != nil {
		t.Fatalf("dispatch step 2: %v", err)
	}
	if got := len(f.openApplications()); got != 0 {
		t.Fatalf("open applications after completion = %d, want 0", got)
	}

	// The cap counts historical applications, so a fresh crossing is refused.
	if err := f.svc.OnScoreChanged(ctx, f.scoreEvent(65, 75)); err != nil {
		t.Fatalf("reapply: %v", err)
	}
	count, _ := f.repo.CountHistory(ctx, campaign.ID, f.leadID)
	if count != 1 {
		t.Fatalf("history entries = %d, want 1", count)
	}
	if got := len(f.openApplications()); got != 0 {
		t.Fatalf("applications beyond max_contacts = %d, want 0", got)
	}
}

func TestInactivityTrigger(t *testing.T) {
	f := newFixture(t)
	days := 7
	_, err := f.svc.Create(context.Background(), f.tenant, CampaignInput{
		Name:             "reactivation",
		Channel:          domain.ChannelWhatsApp,
		Status:           domain.StatusActive,
		TriggeredBy:      domain.TriggerInactivity,
		TriggerCondition: domain.TriggerCondition{InactivityDays: &days},
		Steps: []domain.CampaignStep{
			{StepNumber: 1, Action: domain.ActionSendMessage, MessageText: msg("Seguimos aqui")},
		},
	})
	if err != nil {
		t.Fatalf("create campaign: %v", err)
	}

	lead := f.leads.leads[f.leadID]
	idle := f.baseNow.Add(-8 * 24 * time.Hour)
	lead.LastContactedAt = &idle
	f.leads.leads[f.leadID] = lead

	if err := f.svc.ApplyInactivityCampaigns(context.Background(), lead); err != nil {
		t.Fatalf("inactivity sweep: %v", err)
	}
	if got := len(f.openApplications()); got != 1 {
		t.Fatalf("applications = %d, want 1", got)
	}
}

// ---------------------------------------------------------------------------
// dispatch tests

func TestDispatchSendsAndAdvances(t *testing.T) {
	f := newFixture(t)
	f.scoreCampaign(t, 70, 100, nil)
	ctx := context.Background()

	if err := f.svc.OnScoreChanged(ctx, f.scoreEvent(65, 75)); err != nil {
		t.Fatalf("apply: %v", err)
	}
	apps := f.openApplications()
	f.queue.drain()

	if err := f.svc.Dispatch(ctx, apps[0].ID, f.tenant); err != nil {
		t.Fatalf("dispatch: %v", err)
	}

	if len(f.sender.sent) != 1 || f.sender.sent[0] != "+56912345678: Hola Maria" {
		t.Fatalf("sent = %v", f.sender.sent)
	}
	app, _ := f.repo.GetApplication(ctx, apps[0].ID, f.tenant)
	if app.CurrentStep != 2 || !app.Open() {
		t.Fatalf("cursor = %d status = %s, want step 2 active", app.CurrentStep, app.Status)
	}
	if app.NextDueAt == nil || !app.NextDueAt.Equal(f.baseNow.Add(24*time.Hour)) {
		t.Fatalf("next_due_at = %v, want base+24h", app.NextDueAt)
	}
	if queued := f.queue.drain(); len(queued) != 1 || queued[0] != app.ID {
		t.Fatalf("queued = %v, want the application once", queued)
	}
	if len(f.leads.contacted) != 1 {
		t.Fatalf("contact touches = %d, want 1", len(f.leads.contacted))
	}

	entries, _ := f.repo.ListExecutionLog(ctx, f.tenant, app.ID)
	if len(entries) != 1 || entries[0].Status != domain.StepSent {
		t.Fatalf("execution log = %+v", entries)
	}
}

func TestFailedStepHaltsApplication(t *testing.T) {
	f := newFixture(t)
	f.scoreCampaign(t, 70, 100, nil)
	ctx := context.Background()

	if err := f.svc.OnScoreChanged(ctx, f.scoreEvent(65, 75)); err != nil {
		t.Fatalf("apply: %v", err)
	}
	apps := f.openApplications()
	f.queue.drain()

	f.sender.fail = errors.New("provider 503")
	if err := f.svc.Dispatch(ctx, apps[0].ID, f.tenant); err != nil {
		t.Fatalf("dispatch: %v", err)
	}

	app, _ := f.repo.GetApplication(ctx, apps[0].ID, f.tenant)
	if app.Status != domain.ApplicationFailed {
		t.Fatalf("status = %s, want failed", app.Status)
	}
	if app.FinishedAt == nil {
		t.Fatal("failed application must record finished_at")
	}
	if queued := f.queue.drain(); len(queued) != 0 {
		t.Fatalf("step 2 must not be enqueued after a failure, queued %v", queued)
	}

	entries, _ := f.repo.ListExecutionLog(ctx, f.tenant, app.ID)
	if len(entries) != 1 || entries[0].Status != domain.StepFailed {
		t.Fatalf("execution log = %+v", entries)
	}
	if entries[0].Error == nil || !strings.Contains(*entries[0].Error, "provider 503") {
		t.Fatalf("failure cause not recorded: %+v", entries[0])
	}

	// Redelivered job for the dead application is a no-op.
	f.sender.fail = nil
	if err := f.svc.Dispatch(ctx, apps[0].ID, f.tenant); err != nil {
		t.Fatalf("redelivered dispatch: %v", err)
	}
	if len(f.sender.sent) != 0 {
		t.Fatalf("halted application must not send, sent %v", f.sender.sent)
	}
}

func TestStaleConditionsSkipStep(t *testing.T) {
	f := newFixture(t)
	stage := leaddomain.StageAgendado
	campaign, err := f.svc.Create(context.Background(), f.tenant, CampaignInput{
		Name:        "meeting reminder",
		Channel:     domain.ChannelWhatsApp,
		Status:      domain.StatusActive,
		TriggeredBy: domain.TriggerManual,
		Steps: []domain.CampaignStep{
			{
				StepNumber:  1,
				Action:      domain.ActionSendMessage,
				MessageText: msg("Recordatorio de tu visita"),
				Conditions:  domain.StepConditions{Stage: &stage},
			},
			{StepNumber: 2, Action: domain.ActionSendMessage, MessageText: msg("Hasta pronto"), DelayHours: 1},
		},
	})
	if err != nil {
		t.Fatalf("create campaign: %v", err)
	}

	ctx := context.Background()
	app, err := f.svc.ApplyManual(ctx, f.tenant, campaign.ID, f.leadID)
	if err != nil {
		t.Fatalf("manual apply: %v", err)
	}

	// The lead is still in entrada, so the agendado gate fails at dispatch.
	if err := f.svc.Dispatch(ctx, app.ID, f.tenant); err != nil {
		t.Fatalf("dispatch: %v", err)
	}

	if len(f.sender.sent) != 0 {
		t.Fatalf("gated step must not send, sent %v", f.sender.sent)
	}
	entries, _ := f.repo.ListExecutionLog(ctx, f.tenant, app.ID)
	if len(entries) != 1 || entries[0].Status != domain.StepSkipped {
		t.Fatalf("execution log = %+v, want one skipped entry", entries)
	}
	stored, _ := f.repo.GetApplication(ctx, app.ID, f.tenant)
	if stored.CurrentStep != 2 || !stored.Open() {
		t.Fatalf("skip must advance the cursor, got step %d status %s", stored.CurrentStep, stored.Status)
	}
}

func TestUpdateStageStepUsesCampaignReason(t *testing.T) {
	f := newFixture(t)
	target := leaddomain.StageSeguimiento
	campaign, err := f.svc.Create(context.Background(), f.tenant, CampaignInput{
		Name:        "park cold leads",
		Channel:     domain.ChannelWhatsApp,
		Status:      domain.StatusActive,
		TriggeredBy: domain.TriggerManual,
		Steps: []domain.CampaignStep{
			{StepNumber: 1, Action: domain.ActionUpdateStage, TargetStage: &target},
		},
	})
	if err != nil {
		t.Fatalf("create campaign: %v", err)
	}

	ctx := context.Background()
	app, err := f.svc.ApplyManual(ctx, f.tenant, campaign.ID, f.leadID)
	if err != nil {
		t.Fatalf("manual apply: %v", err)
	}
	if err := f.svc.Dispatch(ctx, app.ID, f.tenant); err != nil {
		t.Fatalf("dispatch: %v", err)
	}

	want := string(target) + "/" + leaddomain.CampaignReason(campaign.ID)
	if len(f.leads.staged) != 1 || f.leads.staged[0] != want {
		t.Fatalf("stage changes = %v, want %q", f.leads.staged, want)
	}
	// A stage move is not an outbound contact.
	if len(f.leads.contacted) != 0 {
		t.Fatalf("update_stage must not touch last_contacted_at, touches %v", f.leads.contacted)
	}
	stored, _ := f.repo.GetApplication(ctx, app.ID, f.tenant)
	if stored.Status != domain.ApplicationCompleted {
		t.Fatalf("status = %s, want completed", stored.Status)
	}
}

func TestPausedCampaignHoldsDispatch(t *testing.T) {
	f := newFixture(t)
	campaign := f.scoreCampaign(t, 70, 100, nil)
	ctx := context.Background()

	if err := f.svc.OnScoreChanged(ctx, f.scoreEvent(65, 75)); err != nil {
		t.Fatalf("apply: %v", err)
	}
	apps := f.openApplications()

	if _, err := f.svc.SetStatus(ctx, f.tenant, campaign.ID, domain.StatusPaused); err != nil {
		t.Fatalf("pause: %v", err)
	}
	if err := f.svc.Dispatch(ctx, apps[0].ID, f.tenant); err != nil {
		t.Fatalf("dispatch: %v", err)
	}

	if len(f.sender.sent) != 0 {
		t.Fatalf("paused campaign must not send, sent %v", f.sender.sent)
	}
	stored, _ := f.repo.GetApplication(ctx, apps[0].ID, f.tenant)
	if stored.CurrentStep != 1 || !stored.Open() {
		t.Fatalf("held application changed: step %d status %s", stored.CurrentStep, stored.Status)
	}
}

func TestTemplateStepRendersStoredBody(t *testing.T) {
	f := newFixture(t)
	templateID := uuid.New()
	f.repo.templates[templateID] = "Hola {{.name}}, tenemos novedades en {{.location}}."

	campaign, err := f.svc.Create(context.Background(), f.tenant, CampaignInput{
		Name:        "newsletter",
		Channel:     domain.ChannelWhatsApp,
		Status:      domain.StatusActive,
		TriggeredBy: domain.TriggerManual,
		Steps: []domain.CampaignStep{
			{StepNumber: 1, Action: domain.ActionSendMessage, MessageTemplateID: &templateID},
		},
	})
	if err != nil {
		t.Fatalf("create campaign: %v", err)
	}

	ctx := context.Background()
	app, err := f.svc.ApplyManual(ctx, f.tenant, campaign.ID, f.leadID)
	if err != nil {
		t.Fatalf("manual apply: %v", err)
	}
	if err := f.svc.Dispatch(ctx, app.ID, f.tenant); err != nil {
		t.Fatalf("dispatch: %v", err)
	}

	want := "+56912345678: Hola Maria, tenemos novedades en Providencia."
	if len(f.sender.sent) != 1 || f.sender.sent[0] != want {
		t.Fatalf("sent = %v, want %q", f.sender.sent, want)
	}
}

func TestExecutionRates(t *testing.T) {
	f := newFixture(t)
	f.scoreCampaign(t, 70, 100, nil)
	ctx := context.Background()

	if err := f.svc.OnScoreChanged(ctx, f.scoreEvent(65, 75)); err != nil {
		t.Fatalf("apply: %v", err)
	}
	apps := f.openApplications()
	if err := f.svc.Dispatch(ctx, apps[0].ID, f.tenant); err != nil {
		t.Fatalf("dispatch step 1: %v", err)
	}
	f.sender.fail = errors.New("provider down")
	if err := f.svc.Dispatch(ctx, apps[0].ID, f.tenant); err != nil {
		t.Fatalf("dispatch step 2: %v", err)
	}

	rates, err := f.svc.ExecutionRates(ctx, f.tenant)
	if err != nil {
		t.Fatalf("rates: %v", err)
	}
	if rates.Sent != 1 || rates.Failed != 1 {
		t.Fatalf("rates = %+v", rates)
	}
	if rates.SuccessRate != 0.5 || rates.FailureRate != 0.5 {
		t.Fatalf("rates = %+v, want 0.5/0.5", rates)
	}
}
