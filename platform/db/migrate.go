// Package db provides database connection infrastructure.
// This is part of the platform layer and contains no business logic.
package db

import (
	"context"
	"database/sql"
	"strings"

	"inmocrm_backend/platform/config"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
)

// RunMigrations applies all pending migrations from the provided directory.
func RunMigrations(ctx context.Context, cfg config.DatabaseConfig, migrationsDir string) error {
	if strings.TrimSpace(migrationsDir) == "" {
		return nil
	}

	conn, err := sql.Open("pgx", cfg.GetDatabaseURL())
	if err != nil {
		return err
	}
	defer conn.Close()

	if err := goose.SetDialect("postgres"); err != nil {
		return err
	}

	return goose.UpContext(ctx, conn, migrationsDir)
}
