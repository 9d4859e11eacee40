package repository

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"inmocrm_backend/internal/settings/domain"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var ErrNotFound = errors.New("scoring config not found")

type Repository struct {
	pool *pgxpool.Pool
}

func New(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Get loads the scoring config for a tenant. Returns ErrNotFound when the
// tenant has never saved one.
func (r *Repository) Get(ctx context.Context, tenantID uuid.UUID) (*domain.ScoringConfig, error) {
	var raw []byte
	err := r.pool.QueryRow(ctx, `
		SELECT config
		FROM tenant_scoring_configs
		WHERE tenant_id = $1
	`, tenantID).Scan(&raw)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	var cfg domain.ScoringConfig
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Upsert stores the scoring config for a tenant, replacing any previous one.
func (r *Repository) Upsert(ctx context.Context, tenantID uuid.UUID, cfg *domain.ScoringConfig) error {
	raw, err := json.Marshal(cfg)
	if err != nil {
		return err
	}

	_, err = r.pool.Exec(ctx, `
		INSERT INTO tenant_scoring_configs (tenant_id, config, updated_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (tenant_id)
		DO UPDATE SET config = EXCLUDED.config, updated_at = EXCLUDED.updated_at
	`, tenantID, raw, time.Now().UTC())
	return err
}
