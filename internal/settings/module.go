// Package settings provides the tenant scoring configuration bounded context.
package settings

import (
	apphttp "inmocrm_backend/internal/http"
	"inmocrm_backend/internal/settings/handler"
	"inmocrm_backend/internal/settings/repository"
	"inmocrm_backend/internal/settings/service"
	"inmocrm_backend/platform/logger"
	"inmocrm_backend/platform/validator"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Module is the settings bounded context module implementing http.Module.
type Module struct {
	handler *handler.Handler
	store   *service.Store
}

// NewModule creates and initializes the settings module with all its dependencies.
func NewModule(pool *pgxpool.Pool, val *validator.Validator, log *logger.Logger) (*Module, error) {
	repo := repository.New(pool)
	store, err := service.New(repo, log)
	if err != nil {
		return nil, err
	}

	return &Module{
		handler: handler.New(store, val),
		store:   store,
	}, nil
}

// Name returns the module identifier.
func (m *Module) Name() string {
	return "settings"
}

// Store returns the config store for other modules (scoring, qualification).
func (m *Module) Store() *service.Store {
	return m.store
}

// RegisterRoutes mounts settings routes on the provided router context.
func (m *Module) RegisterRoutes(ctx *apphttp.RouterContext) {
	group := ctx.Protected.Group("/settings")
	m.handler.RegisterRoutes(group)
}

// Compile-time check that Module implements http.Module
var _ apphttp.Module = (*Module)(nil)
