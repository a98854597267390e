// Package scheduler triggers synchronization runs from a cron schedule,
// from declaration changes, and on explicit request.
//
// Scheduled and watch-triggered runs skip synchronizers that are still
// busy; forced runs wait for them.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/robfig/cron/v3"

	"github.com/roach88/converge/internal/synchronizer"
)

// DefaultSchedule runs a synchronization every minute.
const DefaultSchedule = "@every 1m"

// Trigger names what started a run.
type Trigger string

const (
	TriggerCron  Trigger = "cron"
	TriggerWatch Trigger = "watch"
	TriggerForce Trigger = "force"
)

// Runner runs synchronizers. Implemented by *synchronizer.Runner.
type Runner interface {
	RunAll(ctx context.Context, mode synchronizer.Mode) ([]*synchronizer.Report, error)
	RunOne(ctx context.Context, name string, mode synchronizer.Mode) (*synchronizer.Report, error)
}

// Watcher signals declaration changes. Implemented by *registry.Watcher.
type Watcher interface {
	Start() (<-chan struct{}, error)
	Stop() error
}

// Observer is told about every finished run.
type Observer func(trigger Trigger, reports []*synchronizer.Report, err error)

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithSchedule sets the cron expression. Standard five-field expressions
// and descriptors such as "@every 30s" are accepted. An empty spec disables
// the schedule.
//
// Default: "@every 1m" (DefaultSchedule)
func WithSchedule(spec string) Option {
	return func(s *Scheduler) { s.spec = spec }
}

// WithWatcher triggers a run whenever w reports a change.
func WithWatcher(w Watcher) Option {
	return func(s *Scheduler) { s.watcher = w }
}

// WithObserver sets the function called after every run.
func WithObserver(fn Observer) Option {
	return func(s *Scheduler) { s.observe = fn }
}

// Scheduler owns the cron loop and the watch loop.
//
// Thread-safety: Force may be called concurrently with scheduled runs.
type Scheduler struct {
	runner  Runner
	spec    string
	watcher Watcher
	observe Observer

	cron *cron.Cron

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// New creates a scheduler and validates its schedule.
func New(runner Runner, opts ...Option) (*Scheduler, error) {
	s := &Scheduler{runner: runner, spec: DefaultSchedule}
	for _, opt := range opts {
		opt(s)
	}
	if s.observe == nil {
		s.observe = func(Trigger, []*synchronizer.Report, error) {}
	}
	if s.spec != "" {
		if _, err := cron.ParseStandard(s.spec); err != nil {
			return nil, fmt.Errorf("invalid schedule %q: %w", s.spec, err)
		}
	}

	logger := cronLogger{}
	s.cron = cron.New(
		cron.WithLogger(logger),
		cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)),
	)
	return s, nil
}

// Start begins scheduling. Runs use ctx; Stop or cancelling ctx ends them.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return errors.New("scheduler already started")
	}

	ctx, cancel := context.WithCancel(ctx)

	if s.spec != "" {
		if _, err := s.cron.AddFunc(s.spec, func() { s.trigger(ctx, TriggerCron) }); err != nil {
			cancel()
			return fmt.Errorf("schedule %q: %w", s.spec, err)
		}
	}

	if s.watcher != nil {
		changes, err := s.watcher.Start()
		if err != nil {
			cancel()
			return fmt.Errorf("start watcher: %w", err)
		}
		s.wg.Add(1)
		go s.watch(ctx, changes)
	}

	s.cron.Start()
	s.running = true
	s.cancel = cancel
	slog.Info("scheduler started", "schedule", s.spec, "watch", s.watcher != nil)
	return nil
}

// Stop ends scheduling and waits for running jobs to return.
func (s *Scheduler) Stop() error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	cancel := s.cancel
	s.mu.Unlock()

	var err error
	if s.watcher != nil {
		err = s.watcher.Stop()
	}
	<-s.cron.Stop().Done()
	cancel()
	s.wg.Wait()
	slog.Info("scheduler stopped")
	return err
}

// Force runs every synchronizer now, waiting for passes in progress.
func (s *Scheduler) Force(ctx context.Context) ([]*synchronizer.Report, error) {
	reports, err := s.runner.RunAll(ctx, synchronizer.Forced)
	s.observe(TriggerForce, reports, err)
	return reports, err
}

// ForceOne runs the named synchronizer now.
func (s *Scheduler) ForceOne(ctx context.Context, name string) (*synchronizer.Report, error) {
	rep, err := s.runner.RunOne(ctx, name, synchronizer.Forced)
	var reports []*synchronizer.Report
	if rep != nil {
		reports = append(reports, rep)
	}
	s.observe(TriggerForce, reports, err)
	return rep, err
}

func (s *Scheduler) watch(ctx context.Context, changes <-chan struct{}) {
	defer s.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case _, ok := <-changes:
			if !ok {
				return
			}
			slog.Debug("declarations changed")
			s.trigger(ctx, TriggerWatch)
		}
	}
}

func (s *Scheduler) trigger(ctx context.Context, t Trigger) {
	if ctx.Err() != nil {
		return
	}
	reports, err := s.runner.RunAll(ctx, synchronizer.Scheduled)
	switch {
	case errors.Is(err, synchronizer.ErrDisabled):
		slog.Debug("synchronization disabled, run skipped", "trigger", t)
	case err != nil:
		slog.Warn("synchronization run finished with errors", "trigger", t, "error", err)
	default:
		slog.Debug("synchronization run finished", "trigger", t, "synchronizers", len(reports))
	}
	s.observe(t, reports, err)
}

// cronLogger routes cron's logging to slog.
type cronLogger struct{}

func (cronLogger) Info(msg string, keysAndValues ...any) {
	slog.Debug("cron: "+msg, keysAndValues...)
}

func (cronLogger) Error(err error, msg string, keysAndValues ...any) {
	slog.Error("cron: "+msg, append([]any{"error", err}, keysAndValues...)...)
}
