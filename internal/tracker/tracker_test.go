package tracker

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTracker_RecordSeenIsMonotonic(t *testing.T) {
	tr, err := New(NewMemoryStore())
	require.NoError(t, err)

	t1 := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	t0 := t1.Add(-time.Hour)

	require.NoError(t, tr.RecordSeen("u1", t1))
	require.NoError(t, tr.RecordSeen("u1", t0))
	assert.True(t, tr.SeenAt("u1").Equal(t1))

	require.NoError(t, tr.RecordSeen("u1", t1.Add(time.Minute)))
	assert.True(t, tr.SeenAt("u1").Equal(t1.Add(time.Minute)))
}

func TestTracker_IsUnread(t *testing.T) {
	tr, err := New(NewMemoryStore())
	require.NoError(t, err)

	activity := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	assert.True(t, tr.IsUnread("u1", activity), "never opened")

	require.NoError(t, tr.RecordSeen("u1", activity))
	assert.False(t, tr.IsUnread("u1", activity), "opened at the last activity")
	assert.True(t, tr.IsUnread("u1", activity.Add(time.Millisecond)))

	assert.True(t, tr.IsUnread("u2", activity), "other partners are independent")
}

func TestFileStore_PersistsAcrossTrackers(t *testing.T) {
	dir := t.TempDir()
	seenAt := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	first, err := New(NewFileStore(dir, "u2"))
	require.NoError(t, err)
	require.NoError(t, first.RecordSeen("u1", seenAt))

	second, err := New(NewFileStore(dir, "u2"))
	require.NoError(t, err)
	assert.True(t, second.SeenAt("u1").Equal(seenAt))

	other, err := New(NewFileStore(dir, "u3"))
	require.NoError(t, err)
	assert.True(t, other.SeenAt("u1").IsZero())

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "seen-u2.json", entries[0].Name())
}

func TestFileStore_CorruptFile(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "seen-u1.json"), []byte("{not json"), 0o600))

	_, err := New(NewFileStore(dir, "u1"))
	assert.Error(t, err)
}
