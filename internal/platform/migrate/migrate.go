// Package migrate applies the embedded SQL migrations of a job store with goose.
package migrate

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"time"

	"github.com/pressly/goose/v3"
)

// Supported commands
const (
	CommandUp     = "up"
	CommandDown   = "down"
	CommandStatus = "status"
)

// ErrUnknownCommand is returned by Run for commands other than up, down and status.
var ErrUnknownCommand = errors.New("unknown migration command")

// gooseLogger forwards goose output to slog. Fatalf does not exit; the error
// is returned to the caller instead.
type gooseLogger struct {
	logger *slog.Logger
}

func (l *gooseLogger) Printf(format string, v ...any) {
	l.logger.Debug(fmt.Sprintf(format, v...))
}

func (l *gooseLogger) Fatalf(format string, v ...any) {
	l.logger.Error(fmt.Sprintf(format, v...))
}

// Migrator runs migrations from one source directory against one database.
type Migrator struct {
	provider *goose.Provider
	logger   *slog.Logger
}

// New creates a Migrator. migrations must hold the .sql files at its root.
// The Migrator never closes db.
func New(db *sql.DB, dialect goose.Dialect, migrations fs.FS, logger *slog.Logger) (*Migrator, error) {
	logger = logger.With("component", "migrations", "dialect", string(dialect))
	provider, err := goose.NewProvider(dialect, db, migrations,
		goose.WithLogger(&gooseLogger{logger: logger}),
	)
	if err != nil {
		return nil, fmt.Errorf("create migration provider: %w", err)
	}
	return &Migrator{provider: provider, logger: logger}, nil
}

// Up applies every pending migration.
func (m *Migrator) Up(ctx context.Context) error {
	start := time.Now()
	results, err := m.provider.Up(ctx)
	for _, r := range results {
		m.logResult(r)
	}
	if err != nil {
		return fmt.Errorf("apply migrations: %w", err)
	}
	m.logger.Info("migrations applied",
		"count", len(results),
		"duration_ms", time.Since(start).Milliseconds())
	return nil
}

// Down rolls back the most recent migration. It is a no-op when nothing is applied.
func (m *Migrator) Down(ctx context.Context) error {
	result, err := m.provider.Down(ctx)
	if errors.Is(err, goose.ErrNoNextVersion) {
		m.logger.Info("no migration to roll back")
		return nil
	}
	if result != nil {
		m.logResult(result)
	}
	if err != nil {
		return fmt.Errorf("roll back migration: %w", err)
	}
	return nil
}

// Status reports every known migration and whether it is applied.
func (m *Migrator) Status(ctx context.Context) ([]*goose.MigrationStatus, error) {
	statuses, err := m.provider.Status(ctx)
	if err != nil {
		return nil, fmt.Errorf("read migration status: %w", err)
	}
	return statuses, nil
}

// Run executes command by name.
func (m *Migrator) Run(ctx context.Context, command string) error {
	switch command {
	case CommandUp:
		return m.Up(ctx)
	case CommandDown:
		return m.Down(ctx)
	case CommandStatus:
		statuses, err := m.Status(ctx)
		if err != nil {
			return err
		}
		for _, s := range statuses {
			m.logger.Info("migration",
				"version", s.Source.Version,
				"path", s.Source.Path,
				"state", string(s.State),
				"applied_at", s.AppliedAt)
		}
		return nil
	}
	return fmt.Errorf("%w: %q", ErrUnknownCommand, command)
}

func (m *Migrator) logResult(r *goose.MigrationResult) {
	if r.Error != nil {
		m.logger.Error("migration failed",
			"version", r.Source.Version,
			"direction", r.Direction,
			"error", r.Error)
		return
	}
	m.logger.Info("migration applied",
		"version", r.Source.Version,
		"direction", r.Direction,
		"duration_ms", r.Duration.Milliseconds())
}
