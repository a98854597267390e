package synchronizer

import (
	"fmt"
	"time"

	"github.com/roach88/converge/internal/artefact"
	"github.com/roach88/converge/internal/store"
)

// Report summarises one pass of one synchronizer.
type Report struct {
	Synchronizer string             `json:"synchronizer" yaml:"synchronizer"`
	RunID        string             `json:"run_id" yaml:"run_id"`
	State        string             `json:"state" yaml:"state"`
	Message      string             `json:"message,omitempty" yaml:"message,omitempty"`
	Immutable    int                `json:"immutable" yaml:"immutable"`
	Mutable      int                `json:"mutable" yaml:"mutable"`
	Outcomes     []artefact.Outcome `json:"outcomes,omitempty" yaml:"outcomes,omitempty"`
	Elapsed      time.Duration      `json:"elapsed" yaml:"elapsed"`
}

// Count returns the number of outcomes of kind k.
func (r *Report) Count(k artefact.OutcomeKind) int {
	n := 0
	for _, o := range r.Outcomes {
		if o.Kind == k {
			n++
		}
	}
	return n
}

// Transitions returns the number of outcomes that changed persisted state.
func (r *Report) Transitions() int {
	n := 0
	for _, o := range r.Outcomes {
		if o.Transition() {
			n++
		}
	}
	return n
}

// Succeeded reports whether the pass completed without failures.
func (r *Report) Succeeded() bool {
	return r.State == store.StateSuccessful
}

func (r *Report) String() string {
	return fmt.Sprintf("%s: %s (created=%d updated=%d deleted=%d failed=%d)",
		r.Synchronizer, r.State,
		r.Count(artefact.OutcomeCreated), r.Count(artefact.OutcomeUpdated),
		r.Count(artefact.OutcomeDeleted), r.Count(artefact.OutcomeFailed))
}

func summary(immutable, mutable int) string {
	return fmt.Sprintf("Immutable: %d, Mutable: %d", immutable, mutable)
}
