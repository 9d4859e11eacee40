// Package metrics exposes Prometheus instrumentation for the engine.
// This is part of the platform layer and contains no business logic.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus collectors used across the application.
type Metrics struct {
	Registry *prometheus.Registry

	// RecomputeRuns counts lead recompute executions by outcome.
	RecomputeRuns *prometheus.CounterVec
	// StageTransitions counts pipeline stage transitions by reason kind.
	StageTransitions *prometheus.CounterVec
	// CampaignStepOutcomes counts executed campaign steps by status.
	CampaignStepOutcomes *prometheus.CounterVec
	// CampaignApplications counts new campaign applications by trigger.
	CampaignApplications *prometheus.CounterVec
	// DispatchDuration observes dispatch latency including adapter calls.
	DispatchDuration prometheus.Histogram
}

// New creates a Metrics instance backed by its own registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		Registry: reg,
		RecomputeRuns: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "crm_recompute_runs_total",
			Help: "Lead recompute executions by outcome.",
		}, []string{"outcome"}),
		StageTransitions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "crm_stage_transitions_total",
			Help: "Pipeline stage transitions by reason kind.",
		}, []string{"kind"}),
		CampaignStepOutcomes: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "crm_campaign_step_outcomes_total",
			Help: "Executed campaign steps by status.",
		}, []string{"status"}),
		CampaignApplications: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "crm_campaign_applications_total",
			Help: "Campaign applications created by trigger.",
		}, []string{"trigger"}),
		DispatchDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "crm_dispatch_duration_seconds",
			Help:    "Campaign step dispatch latency including adapter calls.",
			Buckets: prometheus.DefBuckets,
		}),
	}
}
