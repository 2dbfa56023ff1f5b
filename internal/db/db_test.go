package db

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/xxxsen/ragdesk/internal/config"
)

func TestOpenSQLiteAndMigrate(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "ragdesk.db")
	conn, err := Open(config.DatabaseConfig{Driver: "sqlite", Path: path})
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, ApplyMigrations(conn, "sqlite"))
	// migrations are idempotent
	require.NoError(t, ApplyMigrations(conn, "sqlite"))

	var count int
	require.NoError(t, conn.QueryRow(`SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name IN ('conversation_messages', 'embedding_cache')`).Scan(&count))
	require.Equal(t, 2, count)
}

func TestOpenUnknownDriver(t *testing.T) {
	_, err := Open(config.DatabaseConfig{Driver: "mysql"})
	require.Error(t, err)
}

func TestPostgresDSN(t *testing.T) {
	require.Equal(t, "postgres://x", PostgresDSN(config.DatabaseConfig{DSN: "postgres://x"}))
	require.Equal(t,
		"host=db port=5432 user=u password=p dbname=rag sslmode=disable",
		PostgresDSN(config.DatabaseConfig{Host: "db", Port: 5432, User: "u", Password: "p", DBName: "rag"}),
	)
}
