package migrations

import (
	"context"
	"database/sql"
	"testing"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var exampleMigration = Migration{
	Version:     1,
	Description: "Add example test table",
	Up: `
		CREATE TABLE IF NOT EXISTS test_table (
			id INTEGER PRIMARY KEY,
			name TEXT NOT NULL
		)
	`,
	Down: `DROP TABLE IF EXISTS test_table`,
}

func openMemory(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestApplyAndRollback(t *testing.T) {
	ctx := context.Background()
	db := openMemory(t)

	manager := NewManager(exampleMigration)
	require.NoError(t, manager.Apply(ctx, db))

	v, err := Version(ctx, db)
	require.NoError(t, err)
	assert.Equal(t, 1, v)

	_, err = db.Exec("INSERT INTO test_table (id, name) VALUES (1, 'test')")
	require.NoError(t, err)

	// applying again is a no-op
	require.NoError(t, manager.Apply(ctx, db))

	require.NoError(t, manager.Rollback(ctx, db))
	v, err = Version(ctx, db)
	require.NoError(t, err)
	assert.Equal(t, 0, v)

	_, err = db.Exec("INSERT INTO test_table (id, name) VALUES (2, 'test')")
	assert.Error(t, err, "test table should have been dropped")

	assert.Error(t, manager.Rollback(ctx, db))
}

func TestFailedMigrationIsNotRecorded(t *testing.T) {
	ctx := context.Background()
	db := openMemory(t)

	manager := NewManager(exampleMigration, Migration{Version: 2, Description: "broken", Up: "CREATE TABLE ("})
	err := manager.Apply(ctx, db)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "migration 2")

	v, err := Version(ctx, db)
	require.NoError(t, err)
	assert.Equal(t, 1, v)
}

func TestMigrationOrdering(t *testing.T) {
	manager := NewManager(
		Migration{Version: 3, Description: "Third"},
		Migration{Version: 1, Description: "First"},
		Migration{Version: 2, Description: "Second"},
	)
	manager.sortMigrations()

	require.Len(t, manager.migrations, 3)
	for i, m := range manager.migrations {
		assert.Equal(t, i+1, m.Version)
	}
}
