package store_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nhle/emailflesh/internal/model"
	"github.com/nhle/emailflesh/internal/store"
	"github.com/nhle/emailflesh/tests/testutil"
)

func TestRecordAndListDownloads(t *testing.T) {
	s := testutil.NewTestStore(t)
	ctx := context.Background()

	base := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)
	recs := []model.DownloadRecord{
		{Account: "a@example.com", MessageIndex: 1, MessageUID: 101, Filename: "one.pdf", Path: "/tmp/a/one.pdf", Size: 10, SavedAt: base},
		{Account: "a@example.com", MessageIndex: 2, MessageUID: 102, Filename: "two.pdf", Path: "/tmp/a/two.pdf", Size: 20, SavedAt: base.Add(time.Minute)},
		{Account: "b@example.com", MessageIndex: 1, MessageUID: 7, Filename: "x.png", Path: "/tmp/b/x.png", Size: 3, SavedAt: base.Add(2 * time.Minute)},
	}
	for _, r := range recs {
		require.NoError(t, s.RecordDownload(ctx, r))
	}

	all, err := s.ListDownloads(ctx, store.HistoryFilter{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "x.png", all[0].Filename, "newest first")
	assert.NotEmpty(t, all[0].ID)

	account := "a@example.com"
	onlyA, err := s.ListDownloads(ctx, store.HistoryFilter{Account: &account})
	require.NoError(t, err)
	require.Len(t, onlyA, 2)
	assert.Equal(t, "two.pdf", onlyA[0].Filename)
	assert.Equal(t, uint32(102), onlyA[0].MessageUID)
	assert.Equal(t, int64(20), onlyA[0].Size)
	assert.True(t, onlyA[0].SavedAt.Equal(base.Add(time.Minute)))

	since := 2
	fromTwo, err := s.ListDownloads(ctx, store.HistoryFilter{Account: &account, Since: &since})
	require.NoError(t, err)
	require.Len(t, fromTwo, 1)
	assert.Equal(t, 2, fromTwo[0].MessageIndex)

	limited, err := s.ListDownloads(ctx, store.HistoryFilter{Limit: 1, Offset: 1})
	require.NoError(t, err)
	require.Len(t, limited, 1)
	assert.Equal(t, "two.pdf", limited[0].Filename)
}

func TestCountAndDeleteAccountHistory(t *testing.T) {
	s := testutil.NewTestStore(t)
	ctx := context.Background()

	for i := 1; i <= 3; i++ {
		require.NoError(t, s.RecordDownload(ctx, model.DownloadRecord{
			Account:      "a@example.com",
			MessageIndex: i,
			Filename:     "f.txt",
			Path:         "/tmp/f.txt",
			SavedAt:      time.Now(),
		}))
	}

	n, err := s.CountDownloads(ctx, "a@example.com")
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	deleted, err := s.DeleteAccountHistory(ctx, "a@example.com")
	require.NoError(t, err)
	assert.Equal(t, int64(3), deleted)

	n, err = s.CountDownloads(ctx, "a@example.com")
	require.NoError(t, err)
	assert.Zero(t, n)

	deleted, err = s.DeleteAccountHistory(ctx, "nobody@example.com")
	require.NoError(t, err)
	assert.Zero(t, deleted)
}

func TestReopenKeepsHistoryAndSkipsAppliedMigrations(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sub", "history.db")
	ctx := context.Background()

	s, err := store.NewSQLiteStore(path)
	require.NoError(t, err)
	require.NoError(t, s.RecordDownload(ctx, model.DownloadRecord{
		Account: "a@example.com", MessageIndex: 1, Filename: "a.txt", Path: "/x", SavedAt: time.Now(),
	}))
	require.NoError(t, s.Close())

	reopened, err := store.NewSQLiteStore(path)
	require.NoError(t, err)
	defer reopened.Close()

	n, err := reopened.CountDownloads(ctx, "a@example.com")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}
