package synchronizer

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/converge/internal/store"
)

// fakeTask records the order it ran in.
type fakeTask struct {
	name     string
	priority int
	deps     []string
	state    string
	err      error
	ran      *[]string
}

func (f *fakeTask) Name() string        { return f.name }
func (f *fakeTask) Priority() int       { return f.priority }
func (f *fakeTask) DependsOn() []string { return f.deps }

func (f *fakeTask) Synchronize(_ context.Context, _ Mode, run *Run) (*Report, error) {
	*f.ran = append(*f.ran, f.name)
	state := f.state
	if state == "" {
		state = store.StateSuccessful
	}
	for _, d := range f.deps {
		if s, _ := run.Result(d); s != store.StateSuccessful {
			state = store.StateSkipped
		}
	}
	run.record(f.name, state)
	return &Report{Synchronizer: f.name, RunID: run.ID, State: state}, f.err
}

func TestRunner_RegisterRejectsDuplicates(t *testing.T) {
	var ran []string
	r := NewRunner()
	require.NoError(t, r.Register(&fakeTask{name: "a", ran: &ran}))
	assert.Error(t, r.Register(&fakeTask{name: "a", ran: &ran}))
}

func TestRunner_RegisterRejectsInvertedPriority(t *testing.T) {
	var ran []string
	r := NewRunner()
	require.NoError(t, r.Register(&fakeTask{name: "tables", priority: 200, ran: &ran}))

	err := r.Register(&fakeTask{name: "migrations", priority: 100, deps: []string{"tables"}, ran: &ran})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "would not run first")
	assert.Len(t, r.Tasks(), 1)
}

func TestRunner_RunAllInPriorityOrder(t *testing.T) {
	var ran []string
	r := NewRunner()
	require.NoError(t, r.Register(&fakeTask{name: "migrations", priority: 300, deps: []string{"tables"}, ran: &ran}))
	require.NoError(t, r.Register(&fakeTask{name: "tables", priority: 200, ran: &ran}))
	require.NoError(t, r.Register(&fakeTask{name: "publish", priority: 10, ran: &ran}))
	require.NoError(t, r.Register(&fakeTask{name: "extensions", priority: 200, ran: &ran}))

	reports, err := r.RunAll(t.Context(), Forced)
	require.NoError(t, err)
	assert.Equal(t, []string{"publish", "extensions", "tables", "migrations"}, ran)
	require.Len(t, reports, 4)

	// All reports share one run.
	for _, rep := range reports {
		assert.Equal(t, reports[0].RunID, rep.RunID)
	}
	assert.Equal(t, store.StateSuccessful, reports[3].State)
}

func TestRunner_RunAllContinuesAfterFailure(t *testing.T) {
	var ran []string
	boom := errors.New("boom")
	r := NewRunner()
	require.NoError(t, r.Register(&fakeTask{name: "a", priority: 1, state: store.StateFailed, err: boom, ran: &ran}))
	require.NoError(t, r.Register(&fakeTask{name: "b", priority: 2, deps: []string{"a"}, ran: &ran}))
	require.NoError(t, r.Register(&fakeTask{name: "c", priority: 3, ran: &ran}))

	reports, err := r.RunAll(t.Context(), Scheduled)
	require.ErrorIs(t, err, boom)
	assert.Equal(t, []string{"a", "b", "c"}, ran)
	assert.Equal(t, store.StateSkipped, reports[1].State)
	assert.Equal(t, store.StateSuccessful, reports[2].State)
}

func TestRunner_Disabled(t *testing.T) {
	var ran []string
	r := NewRunner()
	require.NoError(t, r.Register(&fakeTask{name: "a", ran: &ran}))
	r.SetEnabled(false)
	assert.False(t, r.Enabled())

	_, err := r.RunAll(t.Context(), Forced)
	assert.ErrorIs(t, err, ErrDisabled)
	_, err = r.RunOne(t.Context(), "a", Forced)
	assert.ErrorIs(t, err, ErrDisabled)
	assert.Empty(t, ran)

	r.SetEnabled(true)
	_, err = r.RunAll(t.Context(), Forced)
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, ran)
}

func TestRunner_RunOne(t *testing.T) {
	var ran []string
	r := NewRunner()
	require.NoError(t, r.Register(&fakeTask{name: "a", ran: &ran}))
	require.NoError(t, r.Register(&fakeTask{name: "b", ran: &ran}))

	rep, err := r.RunOne(t.Context(), "b", Forced)
	require.NoError(t, err)
	assert.Equal(t, "b", rep.Synchronizer)
	assert.Equal(t, []string{"b"}, ran)

	_, err = r.RunOne(t.Context(), "missing", Forced)
	assert.Error(t, err)
}

func TestRunner_WithDrivers(t *testing.T) {
	f := newFixture(t)
	f.put("a.widget", `{"name":"a"}`)

	r := NewRunner()
	require.NoError(t, r.Register(f.driver))

	reports, err := r.RunAll(t.Context(), Forced)
	require.NoError(t, err)
	require.Len(t, reports, 1)
	assert.Equal(t, "widgets", reports[0].Synchronizer)
	assert.Equal(t, 1, reports[0].Transitions())
}
