package migrations

import (
	"database/sql"
	"embed"
	"fmt"

	"github.com/pressly/goose/v3"
	"go.uber.org/zap"
)

//go:embed *.sql
var migrationsFS embed.FS

func RunMigrations(db *sql.DB, logger *zap.SugaredLogger) error {
	goose.SetBaseFS(migrationsFS)
	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("migrations: %w", err)
	}
	if err := goose.Up(db, "."); err != nil {
		return fmt.Errorf("migrations: %w", err)
	}
	logger.Info("Database migrations applied successfully!")
	return nil
}
