package migration

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/converge/internal/artefact"
	"github.com/roach88/converge/internal/store"
)

// memStatus is an in-memory StatusStore.
type memStatus struct {
	rows    map[string]store.MigrationStatus
	creates int
	updates int
}

func newMemStatus() *memStatus {
	return &memStatus{rows: make(map[string]store.MigrationStatus)}
}

func (m *memStatus) MigrationStatus(_ context.Context, project string) (*store.MigrationStatus, error) {
	ms, ok := m.rows[project]
	if !ok {
		return nil, nil
	}
	return &ms, nil
}

func (m *memStatus) CreateMigrationStatus(_ context.Context, ms *store.MigrationStatus) error {
	if _, ok := m.rows[ms.Project]; ok {
		return fmt.Errorf("project %s exists", ms.Project)
	}
	m.creates++
	m.rows[ms.Project] = *ms
	return nil
}

func (m *memStatus) UpdateMigrationStatus(_ context.Context, ms *store.MigrationStatus) error {
	if _, ok := m.rows[ms.Project]; !ok {
		return store.ErrNotFound
	}
	m.updates++
	m.rows[ms.Project] = *ms
	return nil
}

func (m *memStatus) version(project string) string {
	ms, ok := m.rows[project]
	if !ok {
		return ""
	}
	return ms.Version()
}

// scriptedExec records executed handlers and fails those listed in failing.
type scriptedExec struct {
	ran     []string
	failing map[string]bool
}

func (e *scriptedExec) Execute(_ context.Context, engine, handler string) error {
	if e.failing[handler] {
		return errors.New("boom")
	}
	e.ran = append(e.ran, handler)
	return nil
}

type marks map[string]artefact.Lifecycle

func (mk marks) mark(_ context.Context, m *Migration, l artefact.Lifecycle, msg string) error {
	mk[m.Location] = l
	m.Lifecycle = l
	m.Error = msg
	return nil
}

func mig(project string, major, minor, micro int) *Migration {
	v := fmt.Sprintf("%d.%d.%d", major, minor, micro)
	return &Migration{
		Artefact: artefact.Artefact{Location: "/" + project + "/" + v + ".migrate", Lifecycle: artefact.LifecycleNew},
		Project:  project,
		Major:    major,
		Minor:    minor,
		Micro:    micro,
		Handler:  project + "/" + v + ".sql",
	}
}

func TestSequencer_GatesOnStatus(t *testing.T) {
	status := newMemStatus()
	status.rows["app"] = store.MigrationStatus{Project: "app", Major: 1, Minor: 2, Micro: 0}
	exec := &scriptedExec{}
	seq := NewSequencer(status, exec)

	old, mid, next := mig("app", 1, 1, 9), mig("app", 1, 2, 1), mig("app", 2, 0, 0)
	mk := marks{}
	err := seq.Run(t.Context(), []*Migration{next, old, mid}, mk.mark)
	require.NoError(t, err, "lower versions are not fatal")

	assert.Equal(t, []string{"app/1.2.1.sql", "app/2.0.0.sql"}, exec.ran)
	assert.Equal(t, "2.0.0", status.version("app"))
	assert.Equal(t, 1, status.updates)

	assert.Equal(t, artefact.LifecycleFailed, mk[old.Location])
	assert.Contains(t, old.Error, "lower version")
	assert.Equal(t, artefact.LifecycleCreated, mk[mid.Location])
	assert.Equal(t, artefact.LifecycleCreated, mk[next.Location])
}

func TestSequencer_ShortCircuitsProject(t *testing.T) {
	status := newMemStatus()
	status.rows["app"] = store.MigrationStatus{Project: "app", Major: 1, Minor: 2, Micro: 0}
	exec := &scriptedExec{failing: map[string]bool{"app/1.2.1.sql": true}}
	seq := NewSequencer(status, exec)

	mid, next := mig("app", 1, 2, 1), mig("app", 2, 0, 0)
	mk := marks{}
	err := seq.Run(t.Context(), []*Migration{mid, next}, mk.mark)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "boom")

	assert.Empty(t, exec.ran, "2.0.0 must not run after 1.2.1 failed")
	assert.Equal(t, "1.2.0", status.version("app"))
	assert.Zero(t, status.updates)
	assert.Equal(t, artefact.LifecycleFailed, mk[mid.Location])
	assert.Equal(t, artefact.LifecycleFailed, mk[next.Location])
	assert.Contains(t, next.Error, "not run")
}

func TestSequencer_FailureKeepsEarlierProgress(t *testing.T) {
	status := newMemStatus()
	exec := &scriptedExec{failing: map[string]bool{"app/1.1.0.sql": true}}
	seq := NewSequencer(status, exec)

	err := seq.Run(t.Context(), []*Migration{mig("app", 1, 0, 0), mig("app", 1, 1, 0)}, marks{}.mark)
	require.Error(t, err)
	assert.Equal(t, []string{"app/1.0.0.sql"}, exec.ran)
	assert.Equal(t, "1.0.0", status.version("app"))
}

func TestSequencer_CreatesStatus(t *testing.T) {
	status := newMemStatus()
	seq := NewSequencer(status, &scriptedExec{}, WithCreatedBy("tester"))

	err := seq.Run(t.Context(), []*Migration{mig("app", 0, 1, 0), mig("app", 0, 2, 0)}, marks{}.mark)
	require.NoError(t, err)

	require.Contains(t, status.rows, "app")
	ms := status.rows["app"]
	assert.Equal(t, "0.2.0", ms.Version())
	assert.Equal(t, "/app/0.2.0.migrate", ms.Location)
	assert.Equal(t, "tester", ms.CreatedBy)
	assert.Equal(t, 1, status.creates)
}

func TestSequencer_ProjectsAreIndependent(t *testing.T) {
	status := newMemStatus()
	exec := &scriptedExec{failing: map[string]bool{"a/1.0.0.sql": true}}
	seq := NewSequencer(status, exec)

	err := seq.Run(t.Context(), []*Migration{mig("a", 1, 0, 0), mig("b", 1, 0, 0)}, marks{}.mark)
	require.Error(t, err)
	assert.Equal(t, []string{"b/1.0.0.sql"}, exec.ran)
	assert.Equal(t, "", status.version("a"))
	assert.Equal(t, "1.0.0", status.version("b"))
}

func TestSequencer_DuplicateVersion(t *testing.T) {
	status := newMemStatus()
	exec := &scriptedExec{}
	seq := NewSequencer(status, exec)

	first, second := mig("app", 1, 0, 0), mig("app", 1, 0, 0)
	second.Location = "/app/copy.migrate"
	other := mig("app", 1, 1, 0)
	mk := marks{}

	err := seq.Run(t.Context(), []*Migration{first, second, other}, mk.mark)
	require.Error(t, err)
	assert.True(t, IsDuplicateVersion(err))
	assert.Empty(t, exec.ran, "no migration of the project runs")
	assert.Empty(t, status.rows)
	assert.Equal(t, artefact.LifecycleFailed, mk[first.Location])
	assert.Equal(t, artefact.LifecycleFailed, mk[second.Location])
	assert.NotContains(t, mk, other.Location)
}

func TestSequencer_RetriesFailedWithoutEdits(t *testing.T) {
	status := newMemStatus()
	status.rows["app"] = store.MigrationStatus{Project: "app", Major: 1}
	exec := &scriptedExec{}
	seq := NewSequencer(status, exec)

	done := mig("app", 1, 0, 0)
	done.Lifecycle = artefact.LifecycleCreated
	failed := mig("app", 1, 1, 0)
	failed.Lifecycle = artefact.LifecycleFailed
	mk := marks{}

	err := seq.Run(t.Context(), []*Migration{done, failed}, mk.mark)
	require.NoError(t, err)
	assert.Equal(t, []string{"app/1.1.0.sql"}, exec.ran)
	assert.NotContains(t, mk, done.Location)
	assert.Equal(t, artefact.LifecycleCreated, mk[failed.Location])
	assert.Equal(t, "1.1.0", status.version("app"))

	// Everything at or below the status now: nothing runs.
	exec.ran = nil
	err = seq.Run(t.Context(), []*Migration{done, failed}, mk.mark)
	require.NoError(t, err)
	assert.Empty(t, exec.ran)
}

func TestSequencer_Applied(t *testing.T) {
	status := newMemStatus()
	seq := NewSequencer(status, &scriptedExec{})

	applied, err := seq.Applied(t.Context(), mig("app", 1, 0, 0))
	require.NoError(t, err)
	assert.False(t, applied, "no status yet")

	status.rows["app"] = store.MigrationStatus{Project: "app", Major: 1, Minor: 2}
	for _, tt := range []struct {
		m    *Migration
		want bool
	}{
		{mig("app", 1, 1, 9), true},
		{mig("app", 1, 2, 0), true},
		{mig("app", 1, 2, 1), false},
		{mig("other", 0, 0, 1), false},
	} {
		got, err := seq.Applied(t.Context(), tt.m)
		require.NoError(t, err)
		assert.Equal(t, tt.want, got, tt.m.Identity())
	}
}

func TestSequencer_RetriesFailedWhenProjectTouched(t *testing.T) {
	status := newMemStatus()
	status.rows["app"] = store.MigrationStatus{Project: "app", Major: 1}
	exec := &scriptedExec{}
	seq := NewSequencer(status, exec)

	applied := mig("app", 1, 0, 0)
	applied.Lifecycle = artefact.LifecycleCreated
	fixed := mig("app", 1, 1, 0)
	fixed.Lifecycle = artefact.LifecycleModified
	blocked := mig("app", 1, 2, 0)
	blocked.Lifecycle = artefact.LifecycleFailed
	mk := marks{}

	err := seq.Run(t.Context(), []*Migration{applied, fixed, blocked}, mk.mark)
	require.NoError(t, err)
	assert.Equal(t, []string{"app/1.1.0.sql", "app/1.2.0.sql"}, exec.ran)
	assert.NotContains(t, mk, applied.Location, "applied migrations are left alone")
	assert.Equal(t, artefact.LifecycleUpdated, mk[fixed.Location])
	assert.Equal(t, artefact.LifecycleCreated, mk[blocked.Location])
	assert.Equal(t, "1.2.0", status.version("app"))
}

func TestMigration_Identity(t *testing.T) {
	m := mig("app", 1, 2, 3)
	assert.Equal(t, "app@1.2.3", m.Identity())
	assert.Equal(t, "1.2.3", m.Version().String())
}
