package scheduler

import (
	"context"
	"io"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/converge/internal/synchronizer"
)

func TestMain(m *testing.M) {
	slog.SetDefault(slog.New(slog.NewTextHandler(io.Discard, nil)))
	os.Exit(m.Run())
}

type fakeRunner struct {
	mu    sync.Mutex
	modes []synchronizer.Mode
	names []string
	err   error
}

func (r *fakeRunner) RunAll(_ context.Context, mode synchronizer.Mode) ([]*synchronizer.Report, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.modes = append(r.modes, mode)
	return []*synchronizer.Report{{Synchronizer: "widgets"}}, r.err
}

func (r *fakeRunner) RunOne(_ context.Context, name string, mode synchronizer.Mode) (*synchronizer.Report, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.modes = append(r.modes, mode)
	r.names = append(r.names, name)
	return &synchronizer.Report{Synchronizer: name}, r.err
}

func (r *fakeRunner) runs() []synchronizer.Mode {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]synchronizer.Mode(nil), r.modes...)
}

type fakeWatcher struct {
	ch      chan struct{}
	stopped bool
}

func newFakeWatcher() *fakeWatcher { return &fakeWatcher{ch: make(chan struct{}, 1)} }

func (w *fakeWatcher) Start() (<-chan struct{}, error) { return w.ch, nil }

func (w *fakeWatcher) Stop() error {
	w.stopped = true
	return nil
}

// observed collects Observer calls on a channel.
func observed() (Observer, <-chan Trigger) {
	ch := make(chan Trigger, 16)
	return func(t Trigger, _ []*synchronizer.Report, _ error) { ch <- t }, ch
}

func TestNew_RejectsBadSchedule(t *testing.T) {
	_, err := New(&fakeRunner{}, WithSchedule("every now and then"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid schedule")
}

func TestNew_AcceptsStandardSpecs(t *testing.T) {
	for _, spec := range []string{"*/5 * * * *", "@hourly", "@every 30s", ""} {
		_, err := New(&fakeRunner{}, WithSchedule(spec))
		assert.NoError(t, err, spec)
	}
}

func TestScheduler_CronTriggersScheduledRuns(t *testing.T) {
	runner := &fakeRunner{}
	obs, triggers := observed()
	s, err := New(runner, WithSchedule("@every 1s"), WithObserver(obs))
	require.NoError(t, err)
	require.NoError(t, s.Start(t.Context()))
	defer s.Stop()

	select {
	case tr := <-triggers:
		assert.Equal(t, TriggerCron, tr)
	case <-time.After(3 * time.Second):
		t.Fatal("expected a scheduled run")
	}
	assert.Equal(t, synchronizer.Scheduled, runner.runs()[0])
}

func TestScheduler_WatcherTriggersRuns(t *testing.T) {
	runner := &fakeRunner{}
	w := newFakeWatcher()
	obs, triggers := observed()
	s, err := New(runner, WithSchedule(""), WithWatcher(w), WithObserver(obs))
	require.NoError(t, err)
	require.NoError(t, s.Start(t.Context()))

	w.ch <- struct{}{}
	select {
	case tr := <-triggers:
		assert.Equal(t, TriggerWatch, tr)
	case <-time.After(time.Second):
		t.Fatal("expected a watch-triggered run")
	}

	require.NoError(t, s.Stop())
	assert.True(t, w.stopped)
}

func TestScheduler_Force(t *testing.T) {
	runner := &fakeRunner{}
	obs, triggers := observed()
	s, err := New(runner, WithSchedule(""), WithObserver(obs))
	require.NoError(t, err)

	reports, err := s.Force(t.Context())
	require.NoError(t, err)
	assert.Len(t, reports, 1)
	assert.Equal(t, TriggerForce, <-triggers)

	rep, err := s.ForceOne(t.Context(), "migrations")
	require.NoError(t, err)
	assert.Equal(t, "migrations", rep.Synchronizer)
	assert.Equal(t, []synchronizer.Mode{synchronizer.Forced, synchronizer.Forced}, runner.runs())
	assert.Equal(t, []string{"migrations"}, runner.names)
}

func TestScheduler_DisabledRunIsQuiet(t *testing.T) {
	runner := &fakeRunner{err: synchronizer.ErrDisabled}
	w := newFakeWatcher()
	obs, triggers := observed()
	s, err := New(runner, WithSchedule(""), WithWatcher(w), WithObserver(obs))
	require.NoError(t, err)
	require.NoError(t, s.Start(t.Context()))
	defer s.Stop()

	w.ch <- struct{}{}
	select {
	case <-triggers:
	case <-time.After(time.Second):
		t.Fatal("expected the run to be observed")
	}
}

func TestScheduler_StartTwice(t *testing.T) {
	s, err := New(&fakeRunner{}, WithSchedule(""))
	require.NoError(t, err)
	require.NoError(t, s.Start(t.Context()))
	defer s.Stop()
	assert.Error(t, s.Start(t.Context()))
}

func TestScheduler_StopWithoutStart(t *testing.T) {
	s, err := New(&fakeRunner{})
	require.NoError(t, err)
	assert.NoError(t, s.Stop())
}
