package migrate_test

import (
	"context"
	"database/sql"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"testing/fstest"

	"github.com/phrazzld/enrich/internal/platform/migrate"
	"github.com/pressly/goose/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	_ "modernc.org/sqlite"
)

var testMigrations = fstest.MapFS{
	"00001_widgets.sql": {Data: []byte(`-- +goose Up
CREATE TABLE widgets (id INTEGER PRIMARY KEY);

-- +goose Down
DROP TABLE widgets;
`)},
	"00002_gadgets.sql": {Data: []byte(`-- +goose Up
CREATE TABLE gadgets (id INTEGER PRIMARY KEY);

-- +goose Down
DROP TABLE gadgets;
`)},
}

func newMigrator(t *testing.T) (*migrate.Migrator, *sql.DB) {
	t.Helper()
	db, err := sql.Open("sqlite", filepath.Join(t.TempDir(), "m.db"))
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = db.Close() })

	m, err := migrate.New(db, goose.DialectSQLite3, testMigrations, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	return m, db
}

func tableExists(t *testing.T, db *sql.DB, name string) bool {
	t.Helper()
	var n int
	err := db.QueryRow(`SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = ?`, name).Scan(&n)
	require.NoError(t, err)
	return n == 1
}

func TestMigratorUpDownStatus(t *testing.T) {
	t.Parallel()
	m, db := newMigrator(t)
	ctx := context.Background()

	require.NoError(t, m.Up(ctx))
	assert.True(t, tableExists(t, db, "widgets"))
	assert.True(t, tableExists(t, db, "gadgets"))

	// Applying again is a no-op.
	require.NoError(t, m.Up(ctx))

	statuses, err := m.Status(ctx)
	require.NoError(t, err)
	require.Len(t, statuses, 2)
	for _, s := range statuses {
		assert.Equal(t, goose.StateApplied, s.State)
	}

	require.NoError(t, m.Down(ctx))
	assert.False(t, tableExists(t, db, "gadgets"))
	assert.True(t, tableExists(t, db, "widgets"))

	require.NoError(t, m.Run(ctx, migrate.CommandDown))
	require.NoError(t, m.Run(ctx, migrate.CommandDown), "rolling back past the first migration is a no-op")
	assert.False(t, tableExists(t, db, "widgets"))

	require.NoError(t, m.Run(ctx, migrate.CommandStatus))
}

func TestMigratorUnknownCommand(t *testing.T) {
	t.Parallel()
	m, _ := newMigrator(t)

	err := m.Run(context.Background(), "sideways")
	assert.ErrorIs(t, err, migrate.ErrUnknownCommand)
}
