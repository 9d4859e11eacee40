// Package campaigns wires the campaign engine: trigger subscriptions, the
// dispatch service and the HTTP surface.
package campaigns

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"inmocrm_backend/internal/campaigns/handler"
	"inmocrm_backend/internal/campaigns/ports"
	"inmocrm_backend/internal/campaigns/repository"
	"inmocrm_backend/internal/campaigns/service"
	"inmocrm_backend/internal/events"
	apphttp "inmocrm_backend/internal/http"
	"inmocrm_backend/platform/logger"
	"inmocrm_backend/platform/metrics"
	"inmocrm_backend/platform/validator"
)

// Module is the campaigns bounded context module implementing http.Module.
type Module struct {
	handler *handler.Handler
	service *service.Service
}

// Deps are the cross-context collaborators of the campaign engine. The
// leads ports are satisfied by the leads module's service; Enqueue by the
// scheduler client; the outbound ports by internal/adapters.
type Deps struct {
	Pool            *pgxpool.Pool
	Bus             events.Bus
	Leads           ports.LeadReader
	Contacts        ports.LeadContacter
	Stages          ports.StageChanger
	Senders         ports.SenderRouter
	Calls           ports.CallPlacer
	Meetings        ports.MeetingScheduler
	Enqueue         ports.StepEnqueuer
	Validator       *validator.Validator
	Metrics         *metrics.Metrics
	Log             *logger.Logger
	DispatchTimeout time.Duration
}

// NewModule creates the campaigns module and subscribes its triggers.
//
// Score and stage subscriptions run synchronously inside the publisher's
// per-lead critical section, so trigger matching always sees the state that
// produced the event.
func NewModule(deps Deps) *Module {
	repo := repository.New(deps.Pool)
	svc := service.New(service.Deps{
		Repo:            repo,
		Leads:           deps.Leads,
		Contacts:        deps.Contacts,
		Stages:          deps.Stages,
		Senders:         deps.Senders,
		Calls:           deps.Calls,
		Meetings:        deps.Meetings,
		Enqueue:         deps.Enqueue,
		Bus:             deps.Bus,
		Metrics:         deps.Metrics,
		Log:             deps.Log,
		DispatchTimeout: deps.DispatchTimeout,
	})

	deps.Bus.Subscribe(events.LeadScoreChanged{}.EventName(), events.HandlerFunc(func(ctx context.Context, event events.Event) error {
		e, ok := event.(events.LeadScoreChanged)
		if !ok {
			return nil
		}
		return svc.OnScoreChanged(ctx, e)
	}))
	deps.Bus.Subscribe(events.PipelineStageChanged{}.EventName(), events.HandlerFunc(func(ctx context.Context, event events.Event) error {
		e, ok := event.(events.PipelineStageChanged)
		if !ok {
			return nil
		}
		return svc.OnStageChanged(ctx, e)
	}))

	return &Module{
		handler: handler.New(svc, deps.Validator),
		service: svc,
	}
}

// Name returns the module identifier.
func (m *Module) Name() string {
	return "campaigns"
}

// Service returns the campaign engine for the scheduler worker.
func (m *Module) Service() *service.Service {
	return m.service
}

// RegisterRoutes mounts campaign routes on the provided router context.
func (m *Module) RegisterRoutes(ctx *apphttp.RouterContext) {
	group := ctx.Protected.Group("/campaigns")
	m.handler.RegisterRoutes(group)
	m.handler.RegisterTemplateRoutes(ctx.Protected.Group("/message-templates"))
}

var _ apphttp.Module = (*Module)(nil)
