package artefact

import "fmt"

// OutcomeKind classifies what a pass did to one declaration.
type OutcomeKind string

const (
	OutcomeCreated   OutcomeKind = "created"
	OutcomeUpdated   OutcomeKind = "updated"
	OutcomeDeleted   OutcomeKind = "deleted"
	OutcomeUnchanged OutcomeKind = "unchanged"
	OutcomeSkipped   OutcomeKind = "skipped"
	OutcomeFailed    OutcomeKind = "failed"
)

// Outcome is the explicit result of reconciling one artefact.
type Outcome struct {
	Kind     OutcomeKind `json:"kind" yaml:"kind"`
	Location string      `json:"location" yaml:"location"`
	Reason   string      `json:"reason,omitempty" yaml:"reason,omitempty"`
}

func (o Outcome) String() string {
	if o.Reason != "" {
		return fmt.Sprintf("%s %s: %s", o.Kind, o.Location, o.Reason)
	}
	return fmt.Sprintf("%s %s", o.Kind, o.Location)
}

// Transition reports whether the outcome changed persisted state.
func (o Outcome) Transition() bool {
	switch o.Kind {
	case OutcomeCreated, OutcomeUpdated, OutcomeDeleted, OutcomeFailed:
		return true
	}
	return false
}

// OutcomeForPhase maps a successfully completed phase to its outcome kind.
func OutcomeForPhase(p Phase) OutcomeKind {
	switch p {
	case PhaseCreate:
		return OutcomeCreated
	case PhaseUpdate:
		return OutcomeUpdated
	case PhaseDelete:
		return OutcomeDeleted
	}
	return OutcomeUnchanged
}
