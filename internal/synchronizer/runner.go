package synchronizer

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"
)

// ErrDisabled is returned by Runner methods while synchronization is disabled.
var ErrDisabled = errors.New("synchronization disabled")

// Runner runs registered synchronizers in priority order.
//
// Thread-safety: Runner is safe for concurrent use. Concurrent runs share
// the drivers' locks, so one synchronizer never runs two passes at once.
type Runner struct {
	mu      sync.RWMutex
	tasks   []Task
	enabled atomic.Bool
}

// NewRunner creates an enabled runner with no synchronizers.
func NewRunner() *Runner {
	r := &Runner{}
	r.enabled.Store(true)
	return r
}

// Register adds t. Names must be unique, and a synchronizer must not have
// a lower priority number than any registered synchronizer it depends on.
func (r *Runner) Register(t Task) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, existing := range r.tasks {
		if existing.Name() == t.Name() {
			return fmt.Errorf("synchronizer %q already registered", t.Name())
		}
	}

	candidate := append(slices.Clone(r.tasks), t)
	if err := checkPriorities(candidate); err != nil {
		return err
	}
	r.tasks = candidate
	return nil
}

// checkPriorities verifies every dependency runs strictly before its
// dependents.
func checkPriorities(tasks []Task) error {
	byName := make(map[string]Task, len(tasks))
	for _, t := range tasks {
		byName[t.Name()] = t
	}
	for _, t := range tasks {
		for _, dep := range t.DependsOn() {
			upstream, ok := byName[dep]
			if !ok {
				continue
			}
			if upstream.Priority() >= t.Priority() {
				return fmt.Errorf("synchronizer %q (priority %d) depends on %q (priority %d), which would not run first",
					t.Name(), t.Priority(), dep, upstream.Priority())
			}
		}
	}
	return nil
}

// Tasks returns the registered synchronizers in run order: ascending
// priority, then name.
func (r *Runner) Tasks() []Task {
	r.mu.RLock()
	tasks := slices.Clone(r.tasks)
	r.mu.RUnlock()

	slices.SortStableFunc(tasks, func(a, b Task) int {
		if c := cmp.Compare(a.Priority(), b.Priority()); c != 0 {
			return c
		}
		return cmp.Compare(a.Name(), b.Name())
	})
	return tasks
}

// SetEnabled switches synchronization on or off.
func (r *Runner) SetEnabled(enabled bool) {
	r.enabled.Store(enabled)
	slog.Info("synchronization switched", "enabled", enabled)
}

// Enabled reports whether synchronization is on.
func (r *Runner) Enabled() bool {
	return r.enabled.Load()
}

// RunAll runs one pass of every synchronizer in a single run.
// A failing synchronizer does not stop the others; all errors are joined.
func (r *Runner) RunAll(ctx context.Context, mode Mode) ([]*Report, error) {
	if !r.Enabled() {
		return nil, ErrDisabled
	}

	run := NewRun()
	slog.Info("synchronization started", "run", run.ID, "mode", mode)

	var (
		reports []*Report
		errs    []error
	)
	for _, t := range r.Tasks() {
		rep, err := t.Synchronize(ctx, mode, run)
		if rep != nil {
			reports = append(reports, rep)
		}
		if err != nil {
			errs = append(errs, err)
		}
	}
	return reports, errors.Join(errs...)
}

// RunOne runs one pass of the named synchronizer. Its dependencies are
// checked against their last recorded state.
func (r *Runner) RunOne(ctx context.Context, name string, mode Mode) (*Report, error) {
	if !r.Enabled() {
		return nil, ErrDisabled
	}
	for _, t := range r.Tasks() {
		if t.Name() == name {
			return t.Synchronize(ctx, mode, NewRun())
		}
	}
	return nil, fmt.Errorf("unknown synchronizer %q", name)
}
