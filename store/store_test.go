package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/nvr-ai/go-behavior/alert"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *AlertStore {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "alerts.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestRecordAndList(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	for i, behavior := range []string{"Abnormal", "Abnormal", "Abnormal"} {
		_, err := s.Record(ctx, alert.Alert{
			ID:           "alert-" + string(rune('a'+i)),
			Time:         base.Add(time.Duration(i) * time.Minute),
			SnapshotPath: "snapshots/s.jpg",
			Behavior:     behavior,
			Location:     "Unknown",
			User:         alert.UserContext{ID: 1},
		})
		require.NoError(t, err)
	}
	require.NoError(t, s.Notify(ctx, alert.Alert{ID: "other", Time: base, Behavior: "Abnormal", User: alert.UserContext{ID: 2}}))

	records, err := s.List(ctx, 1, 10)
	require.NoError(t, err)
	require.Len(t, records, 3)
	assert.Equal(t, "alert-c", records[0].AlertID, "newest first")
	assert.Equal(t, base.Add(2*time.Minute), records[0].Timestamp)
	assert.Equal(t, "snapshots/s.jpg", records[0].SnapshotPath)
	assert.Empty(t, records[0].ClipPath)

	limited, err := s.List(ctx, 1, 2)
	require.NoError(t, err)
	assert.Len(t, limited, 2)

	n, err := s.Count(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	n, err = s.Count(ctx, 99)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestStoreIsNotifier(t *testing.T) {
	var _ alert.Notifier = (*AlertStore)(nil)
}

func TestReopenKeepsHistory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "alerts.db")
	ctx := context.Background()

	s, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, s.Notify(ctx, alert.Alert{ID: "a", Time: time.Now(), Behavior: "Abnormal", User: alert.UserContext{ID: 5}}))
	require.NoError(t, s.Close())

	s, err = Open(path)
	require.NoError(t, err)
	defer s.Close()

	n, err := s.Count(ctx, 5)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}
