package repository

import (
	"context"

	"github.com/google/uuid"

	"inmocrm_backend/internal/leads/domain"
)

// StageCounts aggregates leads per effective stage. Null stages count as
// entrada; a lead must never disappear from the board aggregate.
func (r *Repository) StageCounts(ctx context.Context, tenantID uuid.UUID) (map[domain.Stage]int, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT COALESCE(pipeline_stage, 'entrada') AS stage, COUNT(*)
		FROM leads
		WHERE tenant_id = $1
		GROUP BY COALESCE(pipeline_stage, 'entrada')
	`, tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[domain.Stage]int)
	for rows.Next() {
		var stage string
		var count int
		if err := rows.Scan(&stage, &count); err != nil {
			return nil, err
		}
		counts[domain.Stage(stage)] = count
	}
	return counts, rows.Err()
}

// AvgDaysPerStage computes the mean dwell time per stage from the stage
// history. Each history row marks a stage entry; the time spent in a stage
// is the gap until the next entry for the same lead.
func (r *Repository) AvgDaysPerStage(ctx context.Context, tenantID uuid.UUID) (map[domain.Stage]float64, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT stage, AVG(days)
		FROM (
			SELECT to_stage AS stage,
			       EXTRACT(EPOCH FROM (
			           LEAD(changed_at) OVER (PARTITION BY lead_id ORDER BY changed_at, id) - changed_at
			       )) / 86400.0 AS days
			FROM lead_stage_history
			WHERE tenant_id = $1
		) dwell
		WHERE days IS NOT NULL
		GROUP BY stage
	`, tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	averages := make(map[domain.Stage]float64)
	for rows.Next() {
		var stage string
		var days float64
		if err := rows.Scan(&stage, &days); err != nil {
			return nil, err
		}
		averages[domain.Stage(stage)] = days
	}
	return averages, rows.Err()
}
