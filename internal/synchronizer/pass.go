package synchronizer

import "github.com/roach88/converge/internal/artefact"

// pass holds the state of one synchronization pass. A new pass is created
// for every Synchronize call, so nothing leaks between passes.
type pass[A artefact.Value] struct {
	// seenKeys holds the keys of every artefact declared in this pass.
	seenKeys map[string]bool

	// failedLocations holds files that could not be parsed; their rows
	// are kept.
	failedLocations map[string]bool

	seen []A
	work []workItem[A]

	// stale holds artefacts that rest in FAILED with an unchanged
	// declaration; they get no phase and are accounted for at the end.
	stale []A

	outcomes []artefact.Outcome

	immutable int
	mutable   int
	failed    bool
}

type workItem[A artefact.Value] struct {
	value A
	phase artefact.Phase
}

func newPass[A artefact.Value]() *pass[A] {
	return &pass[A]{
		seenKeys:        make(map[string]bool),
		failedLocations: make(map[string]bool),
	}
}

func (p *pass[A]) outcome(kind artefact.OutcomeKind, location, reason string) {
	p.outcomes = append(p.outcomes, artefact.Outcome{Kind: kind, Location: location, Reason: reason})
}

func (p *pass[A]) fail(location string, err error) {
	p.failed = true
	p.outcome(artefact.OutcomeFailed, location, err.Error())
}
