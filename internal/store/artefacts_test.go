package store

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/converge/internal/artefact"
)

func TestFindByKey_Missing(t *testing.T) {
	s := createTestStore(t)

	rec, err := s.FindByKey(t.Context(), "nope")
	require.NoError(t, err)
	assert.Nil(t, rec)
}

func TestSave_InsertThenUpdate(t *testing.T) {
	s := createTestStore(t)
	ctx := t.Context()

	rec := createTestRecord("extension", "/app/menu.extension")
	require.NoError(t, s.Save(ctx, rec))
	require.NotZero(t, rec.ID)
	firstID := rec.ID

	rec.Checksum = "changed"
	rec.Lifecycle = artefact.LifecycleModified
	rec.Payload = []byte(`{"name":"y"}`)
	require.NoError(t, s.Save(ctx, rec))
	assert.Equal(t, firstID, rec.ID, "upsert must keep the row identity")

	got, err := s.FindByKey(ctx, rec.Key)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "changed", got.Checksum)
	assert.Equal(t, artefact.LifecycleModified, got.Lifecycle)
	assert.JSONEq(t, `{"name":"y"}`, string(got.Payload))
	assert.Equal(t, "/app/menu.extension", got.Location)
}

func TestSave_DefaultsLifecycleToNew(t *testing.T) {
	s := createTestStore(t)

	rec := createTestRecord("table", "/db/a.table")
	rec.Lifecycle = ""
	require.NoError(t, s.Save(t.Context(), rec))

	got, err := s.FindByKey(t.Context(), rec.Key)
	require.NoError(t, err)
	assert.Equal(t, artefact.LifecycleNew, got.Lifecycle)
}

func TestSave_EmptyKey(t *testing.T) {
	s := createTestStore(t)

	rec := createTestRecord("table", "/db/a.table")
	rec.Key = ""
	assert.Error(t, s.Save(t.Context(), rec))
}

func TestSave_Timestamps(t *testing.T) {
	path := t.TempDir() + "/clock.db"
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	s, err := Open(path, WithClock(fixedClock(start)))
	require.NoError(t, err)
	defer s.Close()
	ctx := t.Context()

	rec := createTestRecord("table", "/db/a.table")
	require.NoError(t, s.Save(ctx, rec))
	created := rec.CreatedAt
	assert.True(t, start.Add(time.Second).Equal(created), "created_at = %v", created)

	require.NoError(t, s.Save(ctx, rec))
	assert.True(t, created.Equal(rec.CreatedAt), "created_at must survive updates")
	assert.True(t, rec.UpdatedAt.After(created))
}

func TestListByType_OrderedAndScoped(t *testing.T) {
	s := createTestStore(t)
	ctx := t.Context()

	for _, loc := range []string{"/b.table", "/a.table", "/c.table"} {
		require.NoError(t, s.Save(ctx, createTestRecord("table", loc)))
	}
	require.NoError(t, s.Save(ctx, createTestRecord("extension", "/a.extension")))

	recs, err := s.ListByType(ctx, "table")
	require.NoError(t, err)
	require.Len(t, recs, 3)
	assert.Equal(t, "/a.table", recs[0].Location)
	assert.Equal(t, "/b.table", recs[1].Location)
	assert.Equal(t, "/c.table", recs[2].Location)

	empty, err := s.ListByType(ctx, "migrate")
	require.NoError(t, err)
	assert.NotNil(t, empty)
	assert.Empty(t, empty)
}

func TestSetLifecycle(t *testing.T) {
	s := createTestStore(t)
	ctx := t.Context()

	rec := createTestRecord("extension", "/a.extension")
	require.NoError(t, s.Save(ctx, rec))

	require.NoError(t, s.SetLifecycle(ctx, rec.Key, artefact.LifecycleFailed, "boom"))
	got, err := s.FindByKey(ctx, rec.Key)
	require.NoError(t, err)
	assert.Equal(t, artefact.LifecycleFailed, got.Lifecycle)
	assert.Equal(t, "boom", got.Error)

	require.NoError(t, s.SetLifecycle(ctx, rec.Key, artefact.LifecycleCreated, ""))
	got, err = s.FindByKey(ctx, rec.Key)
	require.NoError(t, err)
	assert.Equal(t, artefact.LifecycleCreated, got.Lifecycle)
	assert.Empty(t, got.Error)
}

func TestSetLifecycle_Missing(t *testing.T) {
	s := createTestStore(t)

	err := s.SetLifecycle(t.Context(), "missing", artefact.LifecycleCreated, "")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDelete(t *testing.T) {
	s := createTestStore(t)
	ctx := t.Context()

	rec := createTestRecord("extension", "/a.extension")
	require.NoError(t, s.Save(ctx, rec))
	require.NoError(t, s.Delete(ctx, rec.Key))

	got, err := s.FindByKey(ctx, rec.Key)
	require.NoError(t, err)
	assert.Nil(t, got)

	// Deleting again is a no-op.
	assert.NoError(t, s.Delete(ctx, rec.Key))
}

func TestCountByLifecycle(t *testing.T) {
	s := createTestStore(t)
	ctx := t.Context()

	a := createTestRecord("table", "/a.table")
	a.Lifecycle = artefact.LifecycleCreated
	b := createTestRecord("table", "/b.table")
	b.Lifecycle = artefact.LifecycleCreated
	c := createTestRecord("table", "/c.table")
	c.Lifecycle = artefact.LifecycleFailed
	for _, r := range []*Record{a, b, c} {
		require.NoError(t, s.Save(ctx, r))
	}

	counts, err := s.CountByLifecycle(ctx, "table")
	require.NoError(t, err)
	assert.Equal(t, map[artefact.Lifecycle]int{
		artefact.LifecycleCreated: 2,
		artefact.LifecycleFailed:  1,
	}, counts)
}
