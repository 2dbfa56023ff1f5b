package job

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/xxxsen/ragdesk/internal/db"
	"github.com/xxxsen/ragdesk/internal/repo"
)

type recordingExpirer struct {
	cutoff int64
	err    error
}

func (r *recordingExpirer) DeleteBefore(_ context.Context, cutoff int64) (int64, error) {
	r.cutoff = cutoff
	return 3, r.err
}

func TestEmbeddingCacheCleanupCutoff(t *testing.T) {
	now := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	exp := &recordingExpirer{}
	j := NewEmbeddingCacheCleanupJob(exp, 0)
	j.now = func() time.Time { return now }

	require.Equal(t, "embedding_cache_cleanup", j.Name())
	require.NoError(t, j.Run(context.Background()))
	require.Equal(t, now.Add(-30*24*time.Hour).Unix(), exp.cutoff)

	exp.err = errors.New("db down")
	require.Error(t, j.Run(context.Background()))
}

func TestConversationRetentionCutoff(t *testing.T) {
	now := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	exp := &recordingExpirer{}
	j := NewConversationRetentionJob(exp, 7)
	j.now = func() time.Time { return now }

	require.NoError(t, j.Run(context.Background()))
	require.Equal(t, now.Add(-7*24*time.Hour).UnixMilli(), exp.cutoff)
	require.NoError(t, NewConversationRetentionJob(nil, 7).Run(context.Background()))
}

func TestConversationRetentionAgainstRepo(t *testing.T) {
	ctx := context.Background()
	conn, err := db.OpenSQLite(filepath.Join(t.TempDir(), "ragdesk.db"))
	require.NoError(t, err)
	defer conn.Close()
	require.NoError(t, db.ApplyMigrations(conn, "sqlite"))
	r := repo.NewConversationRepo(conn, "sqlite")
	require.NoError(t, r.AppendUser(ctx, "s1", "old question"))

	j := NewConversationRetentionJob(r, 1)
	j.now = func() time.Time { return time.Now().Add(48 * time.Hour) }
	require.NoError(t, j.Run(ctx))

	msgs, err := r.ReadRecent(ctx, "s1", 10)
	require.NoError(t, err)
	require.Empty(t, msgs)
}
