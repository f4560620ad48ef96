package database

import (
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/BradenHooton/registrar/internal/config"
	"github.com/BradenHooton/registrar/migrations"
	_ "github.com/lib/pq"
	"github.com/pressly/goose/v3"
)

// Migrator applies the embedded goose migrations over a database/sql handle.
type Migrator struct {
	db     *sql.DB
	logger *slog.Logger
}

func NewMigrator(cfg *config.DatabaseConfig, logger *slog.Logger) (*Migrator, error) {
	db, err := sql.Open("postgres", cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	return NewMigratorFromDB(db, logger)
}

// NewMigratorFromDB wraps an already opened handle (pgx stdlib in tests).
func NewMigratorFromDB(db *sql.DB, logger *slog.Logger) (*Migrator, error) {
	goose.SetBaseFS(migrations.FS)
	if err := goose.SetDialect("postgres"); err != nil {
		return nil, fmt.Errorf("failed to set dialect: %w", err)
	}
	return &Migrator{db: db, logger: logger}, nil
}

func (m *Migrator) Up() error {
	if err := goose.Up(m.db, "."); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	m.logger.Info("migrations applied")
	return nil
}

func (m *Migrator) Down() error {
	if err := goose.Down(m.db, "."); err != nil {
		return fmt.Errorf("failed to rollback migrations: %w", err)
	}
	m.logger.Info("migration rolled back")
	return nil
}

func (m *Migrator) Reset() error {
	if err := goose.Reset(m.db, "."); err != nil {
		return fmt.Errorf("failed to reset migrations: %w", err)
	}
	return nil
}

func (m *Migrator) Status() error {
	return goose.Status(m.db, ".")
}

func (m *Migrator) Version() (int64, error) {
	return goose.GetDBVersion(m.db)
}

func (m *Migrator) Close() error {
	return m.db.Close()
}
