package store

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublishLog(t *testing.T) {
	start := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	s, err := Open(filepath.Join(t.TempDir(), "publish.db"), WithClock(fixedClock(start)))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	ctx := t.Context()

	entries, err := s.PublishLog(ctx)
	require.NoError(t, err)
	assert.Empty(t, entries)

	require.NoError(t, s.WritePublishLog(ctx, "publish", "/ws1/docs", "/docs"))
	require.NoError(t, s.WritePublishLog(ctx, "unpublish", "/ws1/old", "/old"))

	entries, err = s.PublishLog(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 2)

	assert.Equal(t, "publish", entries[0].Command)
	assert.Equal(t, "/ws1/docs", entries[0].Source)
	assert.Equal(t, "/docs", entries[0].Target)
	assert.Equal(t, start, entries[0].LoggedAt)

	assert.Equal(t, "unpublish", entries[1].Command)
	assert.Equal(t, start.Add(time.Second), entries[1].LoggedAt)
}
