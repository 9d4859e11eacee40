// Package service implements the campaign engine: trigger matching,
// application lifecycle and step dispatch.
package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"inmocrm_backend/internal/campaigns/domain"
	"inmocrm_backend/internal/campaigns/ports"
	"inmocrm_backend/internal/campaigns/repository"
	"inmocrm_backend/internal/events"
	leaddomain "inmocrm_backend/internal/leads/domain"
	"inmocrm_backend/platform/apperr"
	"inmocrm_backend/platform/logger"
	"inmocrm_backend/platform/metrics"
)

// DefaultDispatchTimeout bounds a single step's adapter call. A hung
// provider must not block the dispatch worker indefinitely.
const DefaultDispatchTimeout = 30 * time.Second

type Service struct {
	repo     repository.CampaignsRepository
	leads    ports.LeadReader
	contacts ports.LeadContacter
	stages   ports.StageChanger
	senders  ports.SenderRouter
	calls    ports.CallPlacer
	meetings ports.MeetingScheduler
	enqueue  ports.StepEnqueuer
	bus      events.Bus
	metrics  *metrics.Metrics
	log      *logger.Logger

	dispatchTimeout time.Duration
	now             func() time.Time
}

// Deps bundles the engine's collaborators. All fields are required except
// DispatchTimeout, which defaults to DefaultDispatchTimeout.
type Deps struct {
	Repo            repository.CampaignsRepository
	Leads           ports.LeadReader
	Contacts        ports.LeadContacter
	Stages          ports.StageChanger
	Senders         ports.SenderRouter
	Calls           ports.CallPlacer
	Meetings        ports.MeetingScheduler
	Enqueue         ports.StepEnqueuer
	Bus             events.Bus
	Metrics         *metrics.Metrics
	Log             *logger.Logger
	DispatchTimeout time.Duration
}

func New(deps Deps) *Service {
	timeout := deps.DispatchTimeout
	if timeout <= 0 {
		timeout = DefaultDispatchTimeout
	}
	return &Service{
		repo:            deps.Repo,
		leads:           deps.Leads,
		contacts:        deps.Contacts,
		stages:          deps.Stages,
		senders:         deps.Senders,
		calls:           deps.Calls,
		meetings:        deps.Meetings,
		enqueue:         deps.Enqueue,
		bus:             deps.Bus,
		metrics:         deps.Metrics,
		log:             deps.Log,
		dispatchTimeout: timeout,
		now:             time.Now,
	}
}

// ---------------------------------------------------------------------------
// Campaign CRUD

type CampaignInput struct {
	Name             string
	Channel          string
	Status           string
	TriggeredBy      string
	TriggerCondition domain.TriggerCondition
	MaxContacts      *int
	Steps            []domain.CampaignStep
}

func (s *Service) Create(ctx context.Context, tenantID uuid.UUID, input CampaignInput) (*domain.Campaign, error) {
	campaign := &domain.Campaign{
		TenantID:         tenantID,
		Name:             input.Name,
		Channel:          input.Channel,
		Status:           input.Status,
		TriggeredBy:      input.TriggeredBy,
		TriggerCondition: input.TriggerCondition,
		MaxContacts:      input.MaxContacts,
		Steps:            input.Steps,
	}
	if campaign.Status == "" {
		campaign.Status = domain.StatusDraft
	}
	if err := campaign.Validate(); err != nil {
		return nil, err
	}
	if err := s.repo.CreateCampaign(ctx, campaign); err != nil {
		return nil, err
	}
	return campaign, nil
}

func (s *Service) Update(ctx context.Context, tenantID, campaignID uuid.UUID, input CampaignInput) (*domain.Campaign, error) {
	campaign, err := s.Get(ctx, tenantID, campaignID)
	if err != nil {
		return nil, err
	}

	campaign.Name = input.Name
	campaign.Channel = input.Channel
	campaign.Status = input.Status
	campaign.TriggeredBy = input.TriggeredBy
	campaign.TriggerCondition = input.TriggerCondition
	campaign.MaxContacts = input.MaxContacts
	campaign.Steps = input.Steps

	if err := campaign.Validate(); err != nil {
		return nil, err
	}
	if err := s.repo.UpdateCampaign(ctx, campaign); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, apperr.NotFound("campaign not found")
		}
		return nil, err
	}
	return campaign, nil
}

func (s *Service) Get(ctx context.Context, tenantID, campaignID uuid.UUID) (*domain.Campaign, error) {
	campaign, err := s.repo.GetCampaign(ctx, campaignID, tenantID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, apperr.NotFound("campaign not found")
		}
		return nil, err
	}
	return campaign, nil
}

func (s *Service) List(ctx context.Context, tenantID uuid.UUID, status *string) ([]*domain.Campaign, error) {
	if status != nil {
		switch *status {
		case domain.StatusDraft, domain.StatusActive, domain.StatusPaused, domain.StatusCompleted:
		default:
			return nil, apperr.Validation(fmt.Sprintf("unknown campaign status %q", *status))
		}
	}
	return s.repo.ListCampaigns(ctx, tenantID, status)
}

func (s *Service) Delete(ctx context.Context, tenantID, campaignID uuid.UUID) error {
	if err := s.repo.DeleteCampaign(ctx, campaignID, tenantID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return apperr.NotFound("campaign not found")
		}
		return err
	}
	return nil
}

// SetStatus activates, pauses or completes a campaign. Open applications of
// a paused campaign are held, not cancelled: dispatch defers while the
// campaign is not active.
func (s *Service) SetStatus(ctx context.Context, tenantID, campaignID uuid.UUID, status string) (*domain.Campaign, error) {
	switch status {
	case domain.StatusActive, domain.StatusPaused, domain.StatusCompleted:
	default:
		return nil, apperr.Validation(fmt.Sprintf("cannot move a campaign to status %q", status))
	}

	campaign, err := s.Get(ctx, tenantID, campaignID)
	if err != nil {
		return nil, err
	}
	campaign.Status = status
	if err := s.repo.UpdateCampaign(ctx, campaign); err != nil {
		return nil, err
	}
	return campaign, nil
}

func (s *Service) Stats(ctx context.Context, tenantID, campaignID uuid.UUID) (repository.Stats, error) {
	if _, err := s.Get(ctx, tenantID, campaignID); err != nil {
		return repository.Stats{}, err
	}
	return s.repo.CampaignStats(ctx, campaignID, tenantID)
}

func (s *Service) ExecutionRates(ctx context.Context, tenantID uuid.UUID) (repository.Rates, error) {
	return s.repo.ExecutionRates(ctx, tenantID)
}

func (s *Service) LeadHistory(ctx context.Context, tenantID, leadID uuid.UUID) ([]domain.HistoryEntry, error) {
	return s.repo.ListHistory(ctx, tenantID, leadID)
}

func (s *Service) ExecutionLog(ctx context.Context, tenantID, applicationID uuid.UUID) ([]domain.ExecutionLogEntry, error) {
	return s.repo.ListExecutionLog(ctx, tenantID, applicationID)
}

// CreateTemplate stores a reusable message body. The body is parsed up
// front so broken templates fail at save time, not mid-campaign.
func (s *Service) CreateTemplate(ctx context.Context, tenantID uuid.UUID, name, body string) (*domain.MessageTemplate, error) {
	if _, err := domain.RenderMessage(body, &leaddomain.Lead{}); err != nil {
		return nil, apperr.Validation(fmt.Sprintf("template does not parse: %v", err))
	}
	tpl := &domain.MessageTemplate{TenantID: tenantID, Name: name, Body: body}
	if err := s.repo.CreateTemplate(ctx, tpl); err != nil {
		return nil, err
	}
	return tpl, nil
}

func (s *Service) ListTemplates(ctx context.Context, tenantID uuid.UUID) ([]domain.MessageTemplate, error) {
	return s.repo.ListTemplates(ctx, tenantID)
}

// ---------------------------------------------------------------------------
// Trigger matching

// OnScoreChanged applies active lead_score campaigns whose window the score
// just entered. Crossing is required: a lead already inside the window does
// not re-trigger on further movement within it.
func (s *Service) OnScoreChanged(ctx context.Context, event events.LeadScoreChanged) error {
	campaigns, err := s.repo.ListActiveCampaigns(ctx, event.TenantID)
	if err != nil {
		return err
	}

	var errs []error
	for _, campaign := range campaigns {
		if !campaign.MatchesScore(event.NewScore) || campaign.MatchesScore(event.OldScore) {
			continue
		}
		if err := s.apply(ctx, campaign, event.TenantID, event.LeadID, domain.TriggerLeadScore); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// OnStageChanged applies active stage_change campaigns matching the stage
// the lead just entered.
func (s *Service) OnStageChanged(ctx context.Context, event events.PipelineStageChanged) error {
	campaigns, err := s.repo.ListActiveCampaigns(ctx, event.TenantID)
	if err != nil {
		return err
	}

	var errs []error
	for _, campaign := range campaigns {
		if !campaign.MatchesStage(leaddomain.Stage(event.NewStage)) {
			continue
		}
		if err := s.apply(ctx, campaign, event.TenantID, event.LeadID, domain.TriggerStageChange); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// ApplyInactivityCampaigns is invoked by the scheduler sweep for each idle
// candidate lead.
func (s *Service) ApplyInactivityCampaigns(ctx context.Context, lead leaddomain.Lead) error {
	campaigns, err := s.repo.ListActiveCampaigns(ctx, lead.TenantID)
	if err != nil {
		return err
	}

	var errs []error
	for _, campaign := range campaigns {
		if !campaign.MatchesInactivity(lead.InactiveSince(), s.now()) {
			continue
		}
		if err := s.apply(ctx, campaign, lead.TenantID, lead.ID, domain.TriggerInactivity); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// ApplyManual applies a campaign to a lead on an operator's request,
// bypassing trigger conditions but not the lifecycle guards.
func (s *Service) ApplyManual(ctx context.Context, tenantID, campaignID, leadID uuid.UUID) (*domain.CampaignApplication, error) {
	campaign, err := s.Get(ctx, tenantID, campaignID)
	if err != nil {
		return nil, err
	}
	if campaign.Status != domain.StatusActive {
		return nil, apperr.Conflict("only active campaigns can be applied")
	}

	app, err := s.applyChecked(ctx, campaign, tenantID, leadID, domain.TriggerManual)
	if err != nil {
		return nil, err
	}
	if app == nil {
		return nil, apperr.Conflict("lead is not eligible for this campaign")
	}
	return app, nil
}

// apply is the event-path wrapper around applyChecked: ineligibility is a
// silent no-op there, not an error.
func (s *Service) apply(ctx context.Context, campaign *domain.Campaign, tenantID, leadID uuid.UUID, trigger string) error {
	_, err := s.applyChecked(ctx, campaign, tenantID, leadID, trigger)
	return err
}

// applyChecked creates a campaign application if the lead is eligible.
// Returns (nil, nil) when a lifecycle guard declines: terminal stage, an
// open application of the same campaign, or the max_contacts cap.
func (s *Service) applyChecked(ctx context.Context, campaign *domain.Campaign, tenantID, leadID uuid.UUID, trigger string) (*domain.CampaignApplication, error) {
	lead, err := s.leads.GetByID(ctx, tenantID, leadID)
	if err != nil {
		return nil, err
	}
	if leaddomain.IsTerminalStage(lead.EffectiveStage()) {
		return nil, nil
	}

	open, err := s.repo.HasOpenApplication(ctx, leadID, campaign.ID)
	if err != nil {
		return nil, err
	}
	if open {
		return nil, nil
	}

	if campaign.MaxContacts != nil {
		applied, err := s.repo.CountHistory(ctx, campaign.ID, leadID)
		if err != nil {
			return nil, err
		}
		if applied >= *campaign.MaxContacts {
			return nil, nil
		}
	}

	firstStep, ok := campaign.Step(1)
	if !ok {
		return nil, apperr.Configuration(fmt.Sprintf("campaign %s has no step 1", campaign.ID))
	}

	now := s.now()
	due := now.Add(firstStep.Delay())
	app := &domain.CampaignApplication{
		TenantID:           tenantID,
		CampaignID:         campaign.ID,
		LeadID:             leadID,
		Status:             domain.ApplicationActive,
		CurrentStep:        1,
		NextDueAt:          &due,
		Trigger:            trigger,
		StageAtApplication: lead.EffectiveStage(),
		AppliedAt:          now,
	}
	if err := s.repo.CreateApplication(ctx, app); err != nil {
		if errors.Is(err, repository.ErrDuplicateApplication) {
			// The partial unique index caught a concurrent apply. The
			// per-lead serialization upstream should make this impossible;
			// log it loudly and keep the first application.
			s.log.Error("concurrent campaign application detected",
				"campaign_id", campaign.ID.String(), "lead_id", leadID.String(), "trigger", trigger)
			return nil, nil
		}
		return nil, err
	}

	if err := s.repo.AppendHistory(ctx, domain.HistoryEntry{
		TenantID:           tenantID,
		CampaignID:         campaign.ID,
		LeadID:             leadID,
		Trigger:            trigger,
		StageAtApplication: lead.EffectiveStage(),
		AppliedAt:          now,
	}); err != nil {
		return nil, err
	}

	if err := s.enqueue.EnqueueStepDue(ctx, app.ID, tenantID, due); err != nil {
		return nil, err
	}

	if s.metrics != nil {
		s.metrics.CampaignApplications.WithLabelValues(trigger).Inc()
	}
	s.bus.Publish(ctx, events.CampaignApplied{
		BaseEvent:     events.NewBaseEvent(),
		ApplicationID: app.ID,
		CampaignID:    campaign.ID,
		LeadID:        leadID,
		TenantID:      tenantID,
		Trigger:       trigger,
	})
	return app, nil
}

// ---------------------------------------------------------------------------
// Dispatch

// Dispatch executes the current step of an application. It is the job-queue
// callback and is idempotent against finished applications: redelivered
// jobs for a completed or failed application are no-ops.
func (s *Service) Dispatch(ctx context.Context, applicationID, tenantID uuid.UUID) error {
	start := s.now()

	app, err := s.repo.GetApplication(ctx, applicationID, tenantID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil
		}
		return err
	}
	if !app.Open() {
		return nil
	}

	campaign, err := s.repo.GetCampaign(ctx, app.CampaignID, tenantID)
	if err != nil {
		return err
	}
	if campaign.Status != domain.StatusActive {
		// Paused campaign: hold the application. The reconciliation sweep
		// re-enqueues it once the campaign is active again.
		return nil
	}

	lead, err := s.leads.GetByID(ctx, tenantID, app.LeadID)
	if err != nil {
		return err
	}

	step, ok := campaign.Step(app.CurrentStep)
	if !ok {
		return s.failApplication(ctx, app, campaign, domain.CampaignStep{StepNumber: app.CurrentStep},
			fmt.Errorf("campaign %s has no step %d", campaign.ID, app.CurrentStep))
	}

	// Conditions are re-evaluated against the lead's state now, not at
	// application time. A lead that moved on since then skips the step.
	if !step.Conditions.Match(&lead) {
		s.logStep(ctx, app, step, domain.StepSkipped, nil)
		return s.advance(ctx, app, campaign, step)
	}

	stepCtx, cancel := context.WithTimeout(ctx, s.dispatchTimeout)
	actionErr := s.perform(stepCtx, campaign, step, &lead)
	cancel()

	if actionErr != nil {
		return s.failApplication(ctx, app, campaign, step, actionErr)
	}

	s.logStep(ctx, app, step, domain.StepSent, nil)
	if step.Action != domain.ActionUpdateStage {
		if err := s.contacts.MarkContacted(ctx, tenantID, app.LeadID); err != nil {
			s.log.Error("mark contacted failed", "lead_id", app.LeadID.String(), "error", err.Error())
		}
	}

	if s.metrics != nil {
		s.metrics.DispatchDuration.Observe(s.now().Sub(start).Seconds())
	}
	return s.advance(ctx, app, campaign, step)
}

func (s *Service) perform(ctx context.Context, campaign *domain.Campaign, step domain.CampaignStep, lead *leaddomain.Lead) error {
	switch step.Action {
	case domain.ActionSendMessage:
		body, err := s.resolveMessage(ctx, campaign.TenantID, step, lead)
		if err != nil {
			return err
		}
		sender, err := s.senders.SenderFor(campaign.Channel)
		if err != nil {
			return err
		}
		to := lead.Phone
		if campaign.Channel == domain.ChannelEmail {
			if lead.Email == nil || *lead.Email == "" {
				return fmt.Errorf("lead %s has no email address", lead.ID)
			}
			to = *lead.Email
		}
		return sender.SendMessage(ctx, to, body)
	case domain.ActionMakeCall:
		return s.calls.PlaceCall(ctx, lead.Phone)
	case domain.ActionScheduleMeeting:
		return s.meetings.ScheduleMeeting(ctx, campaign.TenantID, lead.ID, lead.Phone)
	case domain.ActionUpdateStage:
		_, err := s.stages.ChangeStage(ctx, campaign.TenantID, lead.ID, *step.TargetStage, leaddomain.CampaignReason(campaign.ID))
		return err
	default:
		return fmt.Errorf("unknown step action %q", step.Action)
	}
}

func (s *Service) resolveMessage(ctx context.Context, tenantID uuid.UUID, step domain.CampaignStep, lead *leaddomain.Lead) (string, error) {
	body := ""
	if step.MessageTemplateID != nil {
		stored, err := s.repo.GetTemplateBody(ctx, *step.MessageTemplateID, tenantID)
		if err != nil {
			return "", fmt.Errorf("load template %s: %w", step.MessageTemplateID, err)
		}
		body = stored
	} else if step.MessageText != nil {
		body = *step.MessageText
	}
	return domain.RenderMessage(body, lead)
}

// advance moves the cursor past the given step, completing the application
// when it was the last one.
func (s *Service) advance(ctx context.Context, app *domain.CampaignApplication, campaign *domain.Campaign, step domain.CampaignStep) error {
	if step.StepNumber >= campaign.LastStepNumber() {
		if err := s.repo.FinishApplication(ctx, app.ID, domain.ApplicationCompleted); err != nil {
			return err
		}
		s.log.CampaignStep(app.ID.String(), step.StepNumber, "campaign completed", nil)
		return nil
	}

	next, ok := campaign.Step(step.StepNumber + 1)
	if !ok {
		return s.failApplication(ctx, app, campaign, step,
			fmt.Errorf("campaign %s has no step %d", campaign.ID, step.StepNumber+1))
	}
	due := s.now().Add(next.Delay())
	if err := s.repo.AdvanceApplication(ctx, app.ID, next.StepNumber, &due); err != nil {
		return err
	}
	return s.enqueue.EnqueueStepDue(ctx, app.ID, app.TenantID, due)
}

// failApplication halts the application terminally. A failed step is never
// retried and the remaining steps never run.
func (s *Service) failApplication(ctx context.Context, app *domain.CampaignApplication, campaign *domain.Campaign, step domain.CampaignStep, cause error) error {
	s.logStep(ctx, app, step, domain.StepFailed, cause)
	if err := s.repo.FinishApplication(ctx, app.ID, domain.ApplicationFailed); err != nil {
		return err
	}
	s.log.CampaignStep(app.ID.String(), step.StepNumber, domain.StepFailed, cause)
	return nil
}

func (s *Service) logStep(ctx context.Context, app *domain.CampaignApplication, step domain.CampaignStep, status string, cause error) {
	var errText *string
	if cause != nil {
		text := cause.Error()
		errText = &text
	}
	entry := domain.ExecutionLogEntry{
		TenantID:      app.TenantID,
		CampaignID:    app.CampaignID,
		LeadID:        app.LeadID,
		ApplicationID: app.ID,
		StepNumber:    step.StepNumber,
		Status:        status,
		Error:         errText,
		ExecutedAt:    s.now(),
	}
	if err := s.repo.AppendExecutionLog(ctx, entry); err != nil {
		s.log.Error("execution log append failed", "application_id", app.ID.String(), "error", err.Error())
	}

	if s.metrics != nil {
		s.metrics.CampaignStepOutcomes.WithLabelValues(status).Inc()
	}
	s.bus.Publish(ctx, events.CampaignStepExecuted{
		BaseEvent:     events.NewBaseEvent(),
		ApplicationID: app.ID,
		CampaignID:    app.CampaignID,
		LeadID:        app.LeadID,
		TenantID:      app.TenantID,
		StepNumber:    step.StepNumber,
		Status:        status,
	})
}

// ReenqueueDue re-schedules dispatch for open applications whose due time
// passed without a queued job, e.g. after a crash between persisting the
// cursor and enqueueing.
func (s *Service) ReenqueueDue(ctx context.Context, limit int) (int, error) {
	apps, err := s.repo.ListDueApplications(ctx, s.now(), limit)
	if err != nil {
		return 0, err
	}
	for _, app := range apps {
		if err := s.enqueue.EnqueueStepDue(ctx, app.ID, app.TenantID, s.now()); err != nil {
			return 0, err
		}
	}
	return len(apps), nil
}
