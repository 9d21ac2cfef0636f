package postgres

import (
	"context"
	"embed"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/not-nullexception/ziply/internal/logger"
	"github.com/pressly/goose/v3"
)

const migrationDir = "migrations"

//go:embed migrations/*.sql
var migrations embed.FS

// Migrate applies the embedded schema migrations through a database/sql view of the pool
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	log := logger.GetLogger("postgres-migrate")

	db := stdlib.OpenDBFromPool(pool)
	defer db.Close()

	goose.SetBaseFS(migrations)
	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("error setting migration dialect: %w", err)
	}

	if err := goose.UpContext(ctx, db, migrationDir); err != nil {
		if errors.Is(err, goose.ErrNoNextVersion) {
			log.Info().Msg("No migrations to apply")
			return nil
		}
		return fmt.Errorf("error applying migrations: %w", err)
	}

	version, err := goose.GetDBVersionContext(ctx, db)
	if err != nil {
		return fmt.Errorf("error reading schema version: %w", err)
	}
	log.Info().Int64("version", version).Msg("Database migrations applied")
	return nil
}
