// Package leads wires the lead lifecycle: scoring, qualification and the
// pipeline state machine, executed as one serialized step per lead.
package leads

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"inmocrm_backend/internal/events"
	"inmocrm_backend/internal/leads/domain"
	"inmocrm_backend/internal/leads/qualification"
	"inmocrm_backend/internal/leads/repository"
	"inmocrm_backend/internal/leads/scoring"
	settings "inmocrm_backend/internal/settings/domain"
	"inmocrm_backend/platform/logger"
	"inmocrm_backend/platform/metrics"
)

// ConfigProvider supplies the tenant scoring config for a recompute.
type ConfigProvider interface {
	ConfigFor(ctx context.Context, tenantID uuid.UUID) (*settings.ScoringConfig, error)
}

// StageChanger performs a single stage transition with the given reason.
type StageChanger interface {
	ChangeStage(ctx context.Context, tenantID, leadID uuid.UUID, to domain.Stage, reason string) (domain.Lead, error)
}

// Orchestrator runs the recompute chain for a lead: score, qualification,
// then one auto-advance evaluation. Concurrent recomputes for the same lead
// are serialized behind a per-lead lock so interleaved runs can never
// produce an inconsistent (score, qualification, stage) triple or
// double-apply a campaign.
type Orchestrator struct {
	repo    repository.LeadsRepository
	configs ConfigProvider
	stages  StageChanger
	bus     events.Bus
	metrics *metrics.Metrics
	log     *logger.Logger

	locksMu sync.Mutex
	locks   map[uuid.UUID]*leadLock
}

type leadLock struct {
	mu   sync.Mutex
	refs int
}

func NewOrchestrator(repo repository.LeadsRepository, configs ConfigProvider, stages StageChanger, bus events.Bus, m *metrics.Metrics, log *logger.Logger) *Orchestrator {
	return &Orchestrator{
		repo:    repo,
		configs: configs,
		stages:  stages,
		bus:     bus,
		metrics: m,
		log:     log,
		locks:   make(map[uuid.UUID]*leadLock),
	}
}

// lockLead blocks until the caller holds the lead's lock and returns the
// release function. Locks are reference-counted so the map does not grow
// with the lead table.
func (o *Orchestrator) lockLead(leadID uuid.UUID) func() {
	o.locksMu.Lock()
	entry, ok := o.locks[leadID]
	if !ok {
		entry = &leadLock{}
		o.locks[leadID] = entry
	}
	entry.refs++
	o.locksMu.Unlock()

	entry.mu.Lock()
	return func() {
		entry.mu.Unlock()
		o.locksMu.Lock()
		entry.refs--
		if entry.refs == 0 {
			delete(o.locks, leadID)
		}
		o.locksMu.Unlock()
	}
}

// Recompute runs the full lifecycle chain for one lead. Idempotent: calling
// it redundantly is safe and emits no events when nothing changed.
//
// Configuration and computation errors abort the run and leave the lead's
// last-known-good state untouched. Downstream campaign matching runs inside
// this critical section via synchronous event handlers.
func (o *Orchestrator) Recompute(ctx context.Context, tenantID, leadID uuid.UUID) error {
	unlock := o.lockLead(leadID)
	defer unlock()

	lead, err := o.repo.GetByID(ctx, leadID, tenantID)
	if err != nil {
		o.metrics.RecomputeRuns.WithLabelValues("error").Inc()
		return err
	}

	cfg, err := o.configs.ConfigFor(ctx, tenantID)
	if err != nil {
		o.metrics.RecomputeRuns.WithLabelValues("config_error").Inc()
		o.log.Error("recompute blocked by tenant config", "tenantId", tenantID, "leadId", leadID, "error", err)
		return err
	}

	result, err := scoring.Compute(lead.ScoringFields(), cfg)
	if err != nil {
		o.metrics.RecomputeRuns.WithLabelValues("config_error").Inc()
		return err
	}

	status := lead.Status
	if lead.TemperatureTracked() {
		status = result.Temperature
	}
	if result.Score != lead.LeadScore || status != lead.Status {
		if err := o.repo.UpdateScore(ctx, leadID, tenantID, result.Score, status); err != nil {
			o.metrics.RecomputeRuns.WithLabelValues("error").Inc()
			return err
		}
	}
	if result.Score != lead.LeadScore {
		if err := o.bus.PublishSync(ctx, events.LeadScoreChanged{
			BaseEvent:   events.NewBaseEvent(),
			LeadID:      leadID,
			TenantID:    tenantID,
			OldScore:    lead.LeadScore,
			NewScore:    result.Score,
			Temperature: result.Temperature,
		}); err != nil {
			o.log.Error("score change handlers failed", "leadId", leadID, "error", err)
		}
	}

	verdict := qualification.Qualify(lead.CapturedFields, cfg.Criteria)
	if verdict != lead.Qualification {
		if err := o.repo.UpdateQualification(ctx, leadID, tenantID, verdict); err != nil {
			o.metrics.RecomputeRuns.WithLabelValues("error").Inc()
			return err
		}
		if err := o.bus.PublishSync(ctx, events.LeadQualificationChanged{
			BaseEvent:        events.NewBaseEvent(),
			LeadID:           leadID,
			TenantID:         tenantID,
			OldQualification: lead.Qualification,
			NewQualification: verdict,
		}); err != nil {
			o.log.Error("qualification change handlers failed", "leadId", leadID, "error", err)
		}
	}

	// One auto-advance hop per recompute. The next recompute picks up the
	// following hop, keeping every transition individually audited.
	if next, ok := domain.AutoAdvance(lead.EffectiveStage(), lead.CapturedFields, verdict, cfg); ok {
		if _, err := o.stages.ChangeStage(ctx, tenantID, leadID, next, domain.ReasonAuto); err != nil {
			o.metrics.RecomputeRuns.WithLabelValues("error").Inc()
			return err
		}
	}

	o.metrics.RecomputeRuns.WithLabelValues("success").Inc()
	return nil
}
