// Package service provides the tenant configuration store consumed by the
// scoring, qualification and pipeline components.
package service

import (
	"context"
	"errors"

	"inmocrm_backend/internal/settings/domain"
	"inmocrm_backend/internal/settings/repository"
	"inmocrm_backend/platform/apperr"
	"inmocrm_backend/platform/logger"

	"github.com/google/uuid"
)

// Store loads and saves per-tenant scoring configuration. Reads validate
// before returning so a tenant whose stored config has become malformed
// blocks recompute instead of producing garbage scores.
type Store struct {
	repo       *repository.Repository
	defaultCfg *domain.ScoringConfig
	log        *logger.Logger
}

func New(repo *repository.Repository, log *logger.Logger) (*Store, error) {
	defaultCfg, err := domain.DefaultConfig()
	if err != nil {
		return nil, err
	}
	return &Store{repo: repo, defaultCfg: defaultCfg, log: log}, nil
}

// ConfigFor returns the validated scoring config for a tenant, falling back
// to the built-in default profile when the tenant has not saved one.
func (s *Store) ConfigFor(ctx context.Context, tenantID uuid.UUID) (*domain.ScoringConfig, error) {
	cfg, err := s.repo.Get(ctx, tenantID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return s.defaultCfg, nil
		}
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		s.log.Error("tenant scoring config invalid, recompute blocked", "tenant_id", tenantID, "error", err)
		return nil, err
	}
	return cfg, nil
}

// Save validates and persists a tenant's scoring config.
func (s *Store) Save(ctx context.Context, tenantID uuid.UUID, cfg *domain.ScoringConfig) error {
	if cfg == nil {
		return apperr.BadRequest("scoring config payload is required")
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	return s.repo.Upsert(ctx, tenantID, cfg)
}
