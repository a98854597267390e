package synchronizer

import (
	"sync"

	"github.com/google/uuid"
)

// Run groups the passes of one synchronization so that dependent
// synchronizers can see what their dependencies did in the same run.
//
// Thread-safety: Run is safe for concurrent use.
type Run struct {
	ID string

	mu      sync.Mutex
	results map[string]string
}

// NewRun creates a run identified by a time-sortable UUIDv7.
func NewRun() *Run {
	return NewRunWithID(uuid.Must(uuid.NewV7()).String())
}

// NewRunWithID creates a run with a fixed ID, e.g. for tests.
func NewRunWithID(id string) *Run {
	return &Run{ID: id, results: make(map[string]string)}
}

func (r *Run) record(name, state string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.results[name] = state
}

// Result returns the state the named synchronizer finished with in this
// run, and false if it has not run.
func (r *Run) Result(name string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.results[name]
	return s, ok
}
