package synchronizer

import (
	"log/slog"
	"sync"
	"time"

	"github.com/roach88/converge/internal/artefact"
)

// Callback receives every lifecycle change and error of a pass.
// Implementations must be safe for concurrent use.
type Callback interface {
	RegisterState(synchronizer string, a artefact.Artefact, l artefact.Lifecycle, message string)
	AddError(message string)
}

// PassObserver is implemented by callbacks that also want pass results.
type PassObserver interface {
	ObservePass(synchronizer, state string, elapsed time.Duration)
}

// Discard is a Callback that drops everything.
var Discard Callback = discard{}

type discard struct{}

func (discard) RegisterState(string, artefact.Artefact, artefact.Lifecycle, string) {}
func (discard) AddError(string)                                                     {}

// StateChange is one lifecycle change seen by a Recorder.
type StateChange struct {
	Synchronizer string             `json:"synchronizer" yaml:"synchronizer"`
	Type         string             `json:"type" yaml:"type"`
	Location     string             `json:"location" yaml:"location"`
	Lifecycle    artefact.Lifecycle `json:"lifecycle" yaml:"lifecycle"`
	Message      string             `json:"message,omitempty" yaml:"message,omitempty"`
}

// Recorder accumulates state changes and errors.
// Thread-safety: all methods are safe for concurrent use.
type Recorder struct {
	mu      sync.Mutex
	changes []StateChange
	errors  []string
}

// NewRecorder creates an empty recorder.
func NewRecorder() *Recorder {
	return &Recorder{}
}

func (r *Recorder) RegisterState(synchronizer string, a artefact.Artefact, l artefact.Lifecycle, message string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.changes = append(r.changes, StateChange{
		Synchronizer: synchronizer,
		Type:         a.Type,
		Location:     a.Location,
		Lifecycle:    l,
		Message:      message,
	})
}

func (r *Recorder) AddError(message string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.errors = append(r.errors, message)
}

// Changes returns a copy of the recorded state changes in arrival order.
func (r *Recorder) Changes() []StateChange {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]StateChange, len(r.changes))
	copy(out, r.changes)
	return out
}

// Errors returns a copy of the recorded errors in arrival order.
func (r *Recorder) Errors() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.errors))
	copy(out, r.errors)
	return out
}

// Reset drops everything recorded so far.
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.changes = nil
	r.errors = nil
}

// Multi fans out to several callbacks. A panicking callback is recovered
// and logged so the others still receive the event.
type Multi []Callback

func (m Multi) RegisterState(synchronizer string, a artefact.Artefact, l artefact.Lifecycle, message string) {
	for _, cb := range m {
		safely(func() { cb.RegisterState(synchronizer, a, l, message) })
	}
}

func (m Multi) AddError(message string) {
	for _, cb := range m {
		safely(func() { cb.AddError(message) })
	}
}

func (m Multi) ObservePass(synchronizer, state string, elapsed time.Duration) {
	for _, cb := range m {
		if po, ok := cb.(PassObserver); ok {
			safely(func() { po.ObservePass(synchronizer, state, elapsed) })
		}
	}
}

// guarded recovers panics of the callback it wraps. Every callback a
// Driver or Base installs is guarded.
type guarded struct{ cb Callback }

func guard(cb Callback) Callback {
	switch cb.(type) {
	case nil:
		return Discard
	case guarded, discard:
		return cb
	}
	return guarded{cb: cb}
}

func (g guarded) RegisterState(synchronizer string, a artefact.Artefact, l artefact.Lifecycle, message string) {
	safely(func() { g.cb.RegisterState(synchronizer, a, l, message) })
}

func (g guarded) AddError(message string) {
	safely(func() { g.cb.AddError(message) })
}

func (g guarded) ObservePass(synchronizer, state string, elapsed time.Duration) {
	if po, ok := g.cb.(PassObserver); ok {
		safely(func() { po.ObservePass(synchronizer, state, elapsed) })
	}
}

func safely(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("callback panicked", "panic", r)
		}
	}()
	fn()
}

// Logger is a Callback that writes every event to slog.
type Logger struct{}

func (Logger) RegisterState(synchronizer string, a artefact.Artefact, l artefact.Lifecycle, message string) {
	attrs := []any{"synchronizer", synchronizer, "location", a.Location, "lifecycle", l}
	if message != "" {
		attrs = append(attrs, "message", message)
	}
	if l == artefact.LifecycleFailed {
		slog.Warn("artefact state", attrs...)
		return
	}
	slog.Debug("artefact state", attrs...)
}

func (Logger) AddError(message string) {
	slog.Error("synchronization error", "message", message)
}

func (Logger) ObservePass(synchronizer, state string, elapsed time.Duration) {
	slog.Debug("pass observed", "synchronizer", synchronizer, "state", state, "elapsed", elapsed)
}
