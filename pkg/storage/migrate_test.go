package storage

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openSQLite(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestMigrate_AppliesPendingOnce(t *testing.T) {
	db := openSQLite(t)
	ctx := context.Background()

	migrations := []Migration{
		{Version: 1, Description: "create widgets", SQL: `CREATE TABLE widgets (id INTEGER PRIMARY KEY, name TEXT)`},
		{Version: 2, Description: "index widgets", SQL: `CREATE INDEX idx_widgets_name ON widgets(name)`},
	}

	require.NoError(t, Migrate(ctx, db, "test_migrations", migrations, nil))
	// Second run must skip both; re-running CREATE TABLE would fail.
	require.NoError(t, Migrate(ctx, db, "test_migrations", migrations, nil))

	var count int
	require.NoError(t, db.QueryRow("SELECT COUNT(*) FROM test_migrations").Scan(&count))
	assert.Equal(t, 2, count)
}

func TestMigrate_FailedMigrationIsNotRecorded(t *testing.T) {
	db := openSQLite(t)
	ctx := context.Background()

	err := Migrate(ctx, db, "test_migrations", []Migration{
		{Version: 1, Description: "broken", SQL: `CREATE TABLE`},
	}, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to execute migration 1")

	var count int
	require.NoError(t, db.QueryRow("SELECT COUNT(*) FROM test_migrations").Scan(&count))
	assert.Equal(t, 0, count)
}

func TestMigrate_RejectsBadTableName(t *testing.T) {
	db := openSQLite(t)
	err := Migrate(context.Background(), db, "drop table; --", nil, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid migrations table name")
}

func TestMigrate_TrackingTableError(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS rbac_migrations").WillReturnError(errors.New("permission denied"))

	err = Migrate(context.Background(), db, "rbac_migrations", nil, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to create migrations table")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestParseReplicaURLs(t *testing.T) {
	assert.Nil(t, ParseReplicaURLs(""))
	assert.Equal(t,
		[]string{"postgres://a", "postgres://b"},
		ParseReplicaURLs(" postgres://a , ,postgres://b"),
	)
}

func TestConnectionManager_ReplicaFallsBackToPrimary(t *testing.T) {
	primary := openSQLite(t)
	cm := NewConnectionManagerFromDB(primary)

	assert.Same(t, primary, cm.Replica())
	assert.NoError(t, cm.HealthCheck(context.Background()))
	assert.Len(t, cm.Stats().Replicas, 0)
}

func TestConnectionManager_ReplicaRoundRobin(t *testing.T) {
	primary := openSQLite(t)
	r1 := openSQLite(t)
	r2 := openSQLite(t)
	cm := NewConnectionManagerFromDB(primary, r1, r2)

	seen := map[*sql.DB]bool{}
	for i := 0; i < 4; i++ {
		seen[cm.Replica()] = true
	}
	assert.True(t, seen[r1])
	assert.True(t, seen[r2])
	assert.False(t, seen[primary])
}
