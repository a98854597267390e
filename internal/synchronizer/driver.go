package synchronizer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/roach88/converge/internal/artefact"
	"github.com/roach88/converge/internal/store"
)

// DefaultMaxRounds bounds how often pending artefacts are retried in one pass.
const DefaultMaxRounds = 10

// Mode selects how a pass waits for the synchronizer's lock.
type Mode int

const (
	// Scheduled passes are skipped when another pass holds the lock.
	Scheduled Mode = iota

	// Forced passes wait for the running pass to finish.
	Forced
)

func (m Mode) String() string {
	if m == Forced {
		return "forced"
	}
	return "scheduled"
}

// Task is a synchronizer pass the Runner can schedule.
// Implemented by *Driver.
type Task interface {
	Name() string
	Priority() int
	DependsOn() []string
	Synchronize(ctx context.Context, mode Mode, run *Run) (*Report, error)
}

// Option configures a Driver.
type Option func(*options)

type options struct {
	tree         Source
	predelivered Source
	states       StateStore
	callback     Callback
	maxRounds    int
}

// WithTree sets the registry tree walked on every pass.
func WithTree(src Source) Option {
	return func(o *options) { o.tree = src }
}

// WithPredelivered sets the bundled declarations reconciled before the tree.
func WithPredelivered(src Source) Option {
	return func(o *options) { o.predelivered = src }
}

// WithStateStore sets where pass results are recorded.
func WithStateStore(s StateStore) Option {
	return func(o *options) { o.states = s }
}

// WithCallback sets the callback installed on the synchronizer.
func WithCallback(cb Callback) Option {
	return func(o *options) { o.callback = cb }
}

// WithMaxRounds sets how many rounds pending artefacts get per pass.
//
// Default: 10 (DefaultMaxRounds)
func WithMaxRounds(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.maxRounds = n
		}
	}
}

// Driver runs reconciliation passes for one synchronizer.
//
// Thread-safety: Synchronize may be called from any goroutine; passes are
// serialised by the driver's lock.
type Driver[A artefact.Value] struct {
	sync Synchronizer[A]
	opts options
	mu   sync.Mutex
}

// NewDriver creates a driver for s and installs the configured callback.
func NewDriver[A artefact.Value](s Synchronizer[A], opts ...Option) *Driver[A] {
	o := options{callback: Discard, maxRounds: DefaultMaxRounds}
	for _, opt := range opts {
		opt(&o)
	}
	o.callback = guard(o.callback)
	s.SetCallback(o.callback)
	return &Driver[A]{sync: s, opts: o}
}

func (d *Driver[A]) Name() string  { return d.sync.Name() }
func (d *Driver[A]) Priority() int { return d.sync.Priority() }

// DependsOn returns the synchronizers that must succeed before this one.
func (d *Driver[A]) DependsOn() []string {
	if dep, ok := any(d.sync).(Dependent); ok {
		return dep.DependsOn()
	}
	return nil
}

// Synchronizer returns the driven synchronizer.
func (d *Driver[A]) Synchronizer() Synchronizer[A] {
	return d.sync
}

// Synchronize runs one pass. A nil run starts a new one.
//
// In Scheduled mode the pass is skipped, with state SKIPPED and no error,
// when another pass of the same synchronizer is running.
func (d *Driver[A]) Synchronize(ctx context.Context, mode Mode, run *Run) (*Report, error) {
	if run == nil {
		run = NewRun()
	}
	name := d.sync.Name()

	if mode == Forced {
		d.mu.Lock()
	} else if !d.mu.TryLock() {
		slog.Debug("synchronizer busy, skipping scheduled pass", "synchronizer", name)
		run.record(name, store.StateSkipped)
		return &Report{
			Synchronizer: name,
			RunID:        run.ID,
			State:        store.StateSkipped,
			Message:      "pass already in progress",
		}, nil
	}
	defer d.mu.Unlock()

	start := time.Now()
	report := &Report{Synchronizer: name, RunID: run.ID}
	d.recordState(ctx, run.ID, store.StateInProgress, "")
	slog.Debug("synchronizer pass started", "synchronizer", name, "run", run.ID, "mode", mode)

	err := d.pass(ctx, run, report)
	if err != nil && report.State == "" {
		report.State = store.StateFailed
		report.Message = err.Error()
	}
	report.Elapsed = time.Since(start)

	run.record(name, report.State)
	d.recordState(ctx, run.ID, report.State, report.Message)
	if po, ok := d.opts.callback.(PassObserver); ok {
		po.ObservePass(name, report.State, report.Elapsed)
	}

	slog.Info("synchronizer pass finished",
		"synchronizer", name,
		"state", report.State,
		"created", report.Count(artefact.OutcomeCreated),
		"updated", report.Count(artefact.OutcomeUpdated),
		"deleted", report.Count(artefact.OutcomeDeleted),
		"failed", report.Count(artefact.OutcomeFailed),
		"elapsed", report.Elapsed,
	)
	return report, err
}

func (d *Driver[A]) pass(ctx context.Context, run *Run, report *Report) error {
	name := d.sync.Name()
	cb := d.opts.callback

	if err := d.checkDependencies(ctx, run); err != nil {
		report.State = store.StateSkipped
		report.Message = err.Error()
		cb.AddError(err.Error())
		slog.Warn("synchronizer skipped", "synchronizer", name, "error", err)
		return err
	}

	p := newPass[A]()

	if d.opts.predelivered != nil {
		err := d.opts.predelivered.Walk(ctx, func(location string, content []byte) error {
			if d.sync.IsAccepted(location) {
				d.load(ctx, p, location, content, true)
			}
			return nil
		})
		if err != nil {
			return fmt.Errorf("%s: load predelivered: %w", name, err)
		}
	}

	if d.opts.tree != nil {
		err := d.opts.tree.Walk(ctx, func(location string, content []byte) error {
			if d.sync.IsAccepted(location) {
				d.load(ctx, p, location, content, false)
			}
			return nil
		})
		if err != nil {
			return fmt.Errorf("%s: walk registry: %w", name, err)
		}
	}

	report.Immutable = p.immutable
	report.Mutable = p.mutable

	if err := d.order(p); err != nil {
		for _, item := range p.work {
			d.markFailed(ctx, p, item.value, err)
		}
		report.Outcomes = p.outcomes
		report.State = store.StateFailed
		report.Message = err.Error()
		cb.AddError(fmt.Sprintf("%s: %v", name, err))
		return err
	}

	d.complete(ctx, p)

	var postErr error
	if pp, ok := any(d.sync).(PostProcessor[A]); ok {
		if err := pp.PostProcess(ctx, p.seen); err != nil {
			postErr = fmt.Errorf("%s: post-process: %w", name, err)
			cb.AddError(postErr.Error())
			p.failed = true
		}
	}

	d.cleanup(ctx, p)
	d.settle(ctx, p)

	report.Outcomes = p.outcomes
	report.Message = summary(p.immutable, p.mutable)
	report.State = store.StateSuccessful
	if p.failed {
		report.State = store.StateFailed
	}
	return postErr
}

// checkDependencies returns a *DependencyNotSatisfiedError for the first
// upstream synchronizer that did not succeed. Results of the current run
// take precedence over the state store.
func (d *Driver[A]) checkDependencies(ctx context.Context, run *Run) error {
	for _, upstream := range d.DependsOn() {
		state, ok := run.Result(upstream)
		if !ok && d.opts.states != nil {
			st, err := d.opts.states.SynchronizerState(ctx, upstream)
			if err != nil {
				return fmt.Errorf("read state of %s: %w", upstream, err)
			}
			if st != nil {
				state = st.State
			}
		}
		if state != store.StateSuccessful {
			return &DependencyNotSatisfiedError{
				Synchronizer: d.sync.Name(),
				Dependency:   upstream,
				State:        state,
			}
		}
	}
	return nil
}

// load parses one declaration file into the pass.
func (d *Driver[A]) load(ctx context.Context, p *pass[A], location string, content []byte, immutable bool) {
	items, err := d.sync.Parse(ctx, location, content)
	if err != nil {
		// Keep the location's rows: a broken file is not a deleted one.
		p.failedLocations[location] = true
		p.fail(location, err)
		d.opts.callback.AddError(err.Error())
		slog.Warn("declaration rejected", "synchronizer", d.sync.Name(), "location", location, "error", err)
		return
	}

	for _, a := range items {
		meta := a.Meta()
		if p.seenKeys[meta.Key] {
			slog.Debug("declaration shadowed", "synchronizer", d.sync.Name(), "location", location)
			continue
		}
		p.seenKeys[meta.Key] = true
		p.seen = append(p.seen, a)
		if immutable {
			p.immutable++
		} else {
			p.mutable++
		}

		phase, ok := meta.Phase()
		if !ok {
			if meta.Lifecycle == artefact.LifecycleFailed {
				p.stale = append(p.stale, a)
				continue
			}
			p.outcome(artefact.OutcomeUnchanged, meta.Location, "")
			continue
		}
		p.work = append(p.work, workItem[A]{value: a, phase: phase})
	}
}

// order applies the synchronizer's Orderer, if any, to the pending work.
func (d *Driver[A]) order(p *pass[A]) error {
	ord, ok := any(d.sync).(Orderer[A])
	if !ok || len(p.work) == 0 {
		return nil
	}

	values := make([]A, len(p.work))
	phases := make(map[string]artefact.Phase, len(p.work))
	for i, item := range p.work {
		values[i] = item.value
		phases[item.value.Meta().Key] = item.phase
	}

	ordered, err := ord.Order(values)
	if err != nil {
		return err
	}

	work := make([]workItem[A], 0, len(ordered))
	for _, a := range ordered {
		if phase, ok := phases[a.Meta().Key]; ok {
			work = append(work, workItem[A]{value: a, phase: phase})
		}
	}
	p.work = work
	return nil
}

// complete runs pending phases in rounds until everything is done, a round
// makes no progress, or the round limit is reached.
func (d *Driver[A]) complete(ctx context.Context, p *pass[A]) {
	pending := p.work
	for round := 1; len(pending) > 0 && round <= d.opts.maxRounds; round++ {
		var next []workItem[A]
		for _, item := range pending {
			location := item.value.Meta().Location
			done, err := d.sync.Complete(ctx, item.value, item.phase)
			switch {
			case err != nil:
				if item.value.Meta().Lifecycle != artefact.LifecycleFailed {
					d.markFailed(ctx, p, item.value, err)
				} else {
					p.fail(location, err)
				}
			case !done:
				next = append(next, item)
			default:
				p.outcome(artefact.OutcomeForPhase(item.phase), location, "")
			}
		}
		if len(next) == len(pending) {
			pending = next
			break
		}
		pending = next
	}

	for _, item := range pending {
		meta := item.value.Meta()
		err := &UndepletedError{Type: meta.Type, Location: meta.Location, Phase: item.phase}
		d.opts.callback.AddError(err.Error())

		// Left in NEW or MODIFIED, the item gets the same phase next pass.
		l, ok := item.phase.Pending()
		if !ok {
			d.markFailed(ctx, p, item.value, err)
			continue
		}
		if serr := d.sync.SetStatus(ctx, item.value, l, err.Error()); serr != nil {
			slog.Error("cannot record pending artefact", "synchronizer", d.sync.Name(), "location", meta.Location, "error", serr)
		}
		p.fail(meta.Location, err)
	}
}

// cleanup runs the DELETE phase for persisted artefacts that were not seen
// in the pass. A row whose DELETE fails or does not finish is removed
// anyway.
func (d *Driver[A]) cleanup(ctx context.Context, p *pass[A]) {
	persisted, err := d.sync.Retrieve(ctx)
	if err != nil {
		p.failed = true
		d.opts.callback.AddError(err.Error())
		slog.Error("cannot retrieve artefacts for cleanup", "synchronizer", d.sync.Name(), "error", err)
		return
	}

	for _, a := range persisted {
		meta := a.Meta()
		if p.seenKeys[meta.Key] || p.failedLocations[meta.Location] {
			continue
		}
		done, err := d.sync.Complete(ctx, a, artefact.PhaseDelete)
		if err == nil && done {
			p.outcome(artefact.OutcomeDeleted, meta.Location, "")
			continue
		}
		if cerr := d.sync.Cleanup(ctx, a); cerr != nil {
			err = errors.Join(err, cerr)
		}
		if err != nil {
			p.fail(meta.Location, err)
			continue
		}
		p.outcome(artefact.OutcomeDeleted, meta.Location, "")
	}
}

// settle accounts for artefacts that end the pass in FAILED. Stale ones
// were not retried and are reported as skipped; either way the pass fails
// unless the synchronizer deems the failure inert.
func (d *Driver[A]) settle(ctx context.Context, p *pass[A]) {
	stale := make(map[string]bool, len(p.stale))
	for _, a := range p.stale {
		meta := a.Meta()
		stale[meta.Key] = true
		switch meta.Lifecycle {
		case artefact.LifecycleFailed:
			if d.inert(ctx, a) {
				p.outcome(artefact.OutcomeUnchanged, meta.Location, "")
				continue
			}
			p.failed = true
			p.outcome(artefact.OutcomeSkipped, meta.Location, "still failed: "+meta.Error)
		// A PostProcessor may have recovered it.
		case artefact.LifecycleCreated:
			p.outcome(artefact.OutcomeCreated, meta.Location, "")
		case artefact.LifecycleUpdated:
			p.outcome(artefact.OutcomeUpdated, meta.Location, "")
		default:
			p.outcome(artefact.OutcomeUnchanged, meta.Location, "")
		}
	}

	for _, a := range p.seen {
		meta := a.Meta()
		if stale[meta.Key] || meta.Lifecycle != artefact.LifecycleFailed {
			continue
		}
		if !d.inert(ctx, a) {
			p.failed = true
		}
	}
}

func (d *Driver[A]) inert(ctx context.Context, a A) bool {
	in, ok := any(d.sync).(Inert[A])
	if !ok {
		return false
	}
	yes, err := in.Inert(ctx, a)
	if err != nil {
		slog.Warn("cannot check failed artefact", "synchronizer", d.sync.Name(), "location", a.Meta().Location, "error", err)
		return false
	}
	return yes
}

func (d *Driver[A]) markFailed(ctx context.Context, p *pass[A], a A, cause error) {
	meta := a.Meta()
	if err := d.sync.SetStatus(ctx, a, artefact.LifecycleFailed, cause.Error()); err != nil {
		slog.Error("cannot record failure", "synchronizer", d.sync.Name(), "location", meta.Location, "error", err)
	}
	p.fail(meta.Location, cause)
}

func (d *Driver[A]) recordState(ctx context.Context, runID, state, message string) {
	if d.opts.states == nil {
		return
	}
	if err := d.opts.states.RecordSynchronizerState(ctx, d.sync.Name(), state, message, runID); err != nil {
		slog.Warn("cannot record synchronizer state", "synchronizer", d.sync.Name(), "state", state, "error", err)
	}
}
