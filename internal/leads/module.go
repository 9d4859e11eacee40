package leads

import (
	"context"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"

	"inmocrm_backend/internal/events"
	apphttp "inmocrm_backend/internal/http"
	"inmocrm_backend/internal/leads/domain"
	"inmocrm_backend/internal/leads/handler"
	"inmocrm_backend/internal/leads/repository"
	"inmocrm_backend/internal/leads/service"
	"inmocrm_backend/platform/logger"
	"inmocrm_backend/platform/metrics"
	"inmocrm_backend/platform/validator"
)

// Module is the leads bounded context module implementing http.Module.
type Module struct {
	handler      *handler.Handler
	service      *service.Service
	orchestrator *Orchestrator
	repo         *repository.Repository
}

// NewModule creates and initializes the leads module with all its dependencies.
func NewModule(pool *pgxpool.Pool, eventBus events.Bus, configs ConfigProvider, val *validator.Validator, m *metrics.Metrics, log *logger.Logger) *Module {
	repo := repository.New(pool)
	svc := service.New(repo, eventBus, log)
	orc := NewOrchestrator(repo, configs, svc, eventBus, m, log)

	// Every fact change re-runs the lifecycle chain. The orchestrator holds
	// the per-lead lock, so redundant triggers are safe.
	recomputeHandler := events.HandlerFunc(func(ctx context.Context, event events.Event) error {
		switch e := event.(type) {
		case events.LeadCreated:
			return orc.Recompute(ctx, e.TenantID, e.LeadID)
		case events.LeadFieldsUpdated:
			return orc.Recompute(ctx, e.TenantID, e.LeadID)
		}
		return nil
	})
	eventBus.Subscribe(events.LeadCreated{}.EventName(), recomputeHandler)
	eventBus.Subscribe(events.LeadFieldsUpdated{}.EventName(), recomputeHandler)

	eventBus.Subscribe(events.PipelineStageChanged{}.EventName(), events.HandlerFunc(func(ctx context.Context, event events.Event) error {
		e, ok := event.(events.PipelineStageChanged)
		if !ok {
			return nil
		}
		m.StageTransitions.WithLabelValues(transitionKind(e.Reason)).Inc()
		return nil
	}))

	return &Module{
		handler:      handler.New(svc, orc, val),
		service:      svc,
		orchestrator: orc,
		repo:         repo,
	}
}

func transitionKind(reason string) string {
	switch {
	case reason == domain.ReasonManual:
		return "manual"
	case reason == domain.ReasonAuto:
		return "auto"
	case strings.HasPrefix(reason, domain.ReasonCampaignPrefix):
		return "campaign"
	default:
		return "other"
	}
}

// Name returns the module identifier.
func (m *Module) Name() string {
	return "leads"
}

// Service returns the lead service for other modules.
func (m *Module) Service() *service.Service {
	return m.service
}

// Orchestrator returns the recompute orchestrator.
func (m *Module) Orchestrator() *Orchestrator {
	return m.orchestrator
}

// Repository returns the leads repository for batch consumers such as the
// inactivity sweep.
func (m *Module) Repository() *repository.Repository {
	return m.repo
}

// RegisterRoutes mounts leads routes on the provided router context.
func (m *Module) RegisterRoutes(ctx *apphttp.RouterContext) {
	group := ctx.Protected.Group("/leads")
	m.handler.RegisterRoutes(group)
}

// Compile-time check that Module implements http.Module
var _ apphttp.Module = (*Module)(nil)
