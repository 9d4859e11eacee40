// Package reporting serves the tenant-wide funnel report: stage occupancy,
// time in stage and campaign delivery rates in one response.
package reporting

import (
	"context"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"inmocrm_backend/internal/campaigns/repository"
	apphttp "inmocrm_backend/internal/http"
	leaddomain "inmocrm_backend/internal/leads/domain"
	"inmocrm_backend/platform/httpkit"
)

// StageMetricsSource is the slice of the leads context the report reads.
type StageMetricsSource interface {
	StageMetrics(ctx context.Context, tenantID uuid.UUID) (map[leaddomain.Stage]int, map[leaddomain.Stage]float64, error)
}

// RatesSource is the slice of the campaign engine the report reads.
type RatesSource interface {
	ExecutionRates(ctx context.Context, tenantID uuid.UUID) (repository.Rates, error)
}

// Report is the composite funnel report for one tenant.
type Report struct {
	StageCounts     map[leaddomain.Stage]int     `json:"stage_counts"`
	AvgDaysPerStage map[leaddomain.Stage]float64 `json:"avg_days_per_stage"`
	SuccessRate     float64                      `json:"success_rate"`
	FailureRate     float64                      `json:"failure_rate"`
}

// Module is the reporting module implementing http.Module.
type Module struct {
	stages StageMetricsSource
	rates  RatesSource
}

func NewModule(stages StageMetricsSource, rates RatesSource) *Module {
	return &Module{stages: stages, rates: rates}
}

// Name returns the module identifier.
func (m *Module) Name() string {
	return "reporting"
}

// RegisterRoutes mounts reporting routes on the provided router context.
func (m *Module) RegisterRoutes(ctx *apphttp.RouterContext) {
	ctx.Protected.GET("/reports/funnel", m.getFunnelReport)
}

func (m *Module) getFunnelReport(c *gin.Context) {
	id := httpkit.MustGetIdentity(c)
	if id == nil {
		return
	}

	counts, averages, err := m.stages.StageMetrics(c.Request.Context(), id.TenantID())
	if err != nil {
		httpkit.HandleError(c, err)
		return
	}
	rates, err := m.rates.ExecutionRates(c.Request.Context(), id.TenantID())
	if err != nil {
		httpkit.HandleError(c, err)
		return
	}

	httpkit.OK(c, Report{
		StageCounts:     counts,
		AvgDaysPerStage: averages,
		SuccessRate:     rates.SuccessRate,
		FailureRate:     rates.FailureRate,
	})
}

var _ apphttp.Module = (*Module)(nil)
