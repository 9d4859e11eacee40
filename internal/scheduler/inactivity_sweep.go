package scheduler

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	leaddomain "inmocrm_backend/internal/leads/domain"
	"inmocrm_backend/platform/logger"
)

const (
	defaultSweepInterval = time.Hour
	sweepBatchSize       = 500
	sweepParallelism     = 8
)

// InactivityApplier is the slice of the campaign engine the sweep drives.
type InactivityApplier interface {
	ApplyInactivityCampaigns(ctx context.Context, lead leaddomain.Lead) error
	ReenqueueDue(ctx context.Context, limit int) (int, error)
}

// LeadSource lists idle leads for the sweep.
type LeadSource interface {
	ListInactiveCandidates(ctx context.Context, olderThan time.Time, limit int) ([]leaddomain.Lead, error)
}

// InactivitySweep periodically scans for idle leads and hands them to the
// campaign engine for inactivity trigger matching. It also re-enqueues
// overdue applications whose queued job was lost.
type InactivitySweep struct {
	leads     LeadSource
	campaigns InactivityApplier
	log       *logger.Logger
	interval  time.Duration
}

func NewInactivitySweep(leads LeadSource, campaigns InactivityApplier, log *logger.Logger, interval time.Duration) *InactivitySweep {
	if interval <= 0 {
		interval = defaultSweepInterval
	}
	return &InactivitySweep{
		leads:     leads,
		campaigns: campaigns,
		log:       log,
		interval:  interval,
	}
}

func (s *InactivitySweep) Run(ctx context.Context) {
	if s == nil || s.leads == nil {
		return
	}

	s.sweep(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sweep(ctx)
		}
	}
}

func (s *InactivitySweep) sweep(ctx context.Context) {
	requeued, err := s.campaigns.ReenqueueDue(ctx, sweepBatchSize)
	if err != nil {
		s.log.Warn("due application reconciliation failed", "error", err)
	} else if requeued > 0 {
		s.log.Info("re-enqueued overdue applications", "count", requeued)
	}

	// One day is the smallest configurable inactivity threshold; the exact
	// per-campaign threshold is checked during trigger matching.
	olderThan := time.Now().Add(-24 * time.Hour)
	leads, err := s.leads.ListInactiveCandidates(ctx, olderThan, sweepBatchSize)
	if err != nil {
		s.log.Warn("inactivity sweep query failed", "error", err)
		return
	}
	if len(leads) == 0 {
		return
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(sweepParallelism)
	for _, lead := range leads {
		lead := lead
		g.Go(func() error {
			if err := s.campaigns.ApplyInactivityCampaigns(gctx, lead); err != nil {
				s.log.Warn("inactivity matching failed",
					"lead_id", lead.ID.String(), "error", err.Error())
			}
			return nil
		})
	}
	_ = g.Wait()

	s.log.Info("inactivity sweep finished", "candidates", len(leads))
}
