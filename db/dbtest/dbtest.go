// Package dbtest открывает тестовое хранилище с применёнными миграциями.
package dbtest

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"marketplace/db"
)

// Open создаёт хранилище во временном файле теста
func Open(t *testing.T) *db.Storage {
	t.Helper()
	ctx := context.Background()

	store, err := db.Open(ctx, db.Config{
		Driver:     db.DialectSQLite,
		SQLitePath: filepath.Join(t.TempDir(), "marketplace.db"),
		MaxRetries: 3,
	}, slog.New(slog.DiscardHandler))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	require.NoError(t, store.Migrate(ctx))
	return store
}

// PostgresEnv задаёт строку подключения к тестовому Postgres
const PostgresEnv = "MARKETPLACE_TEST_POSTGRES"

// OpenPostgres подключается к Postgres из PostgresEnv или пропускает тест
func OpenPostgres(t *testing.T) *db.Storage {
	t.Helper()
	conn := os.Getenv(PostgresEnv)
	if conn == "" {
		t.Skipf("%s is not set", PostgresEnv)
	}
	ctx := context.Background()

	store, err := db.Open(ctx, db.Config{
		Driver:       db.DialectPostgres,
		PostgresConn: conn,
		MaxRetries:   5,
	}, slog.New(slog.DiscardHandler))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	require.NoError(t, store.Migrate(ctx))
	return store
}
