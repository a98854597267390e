package artefact

import "fmt"

// Lifecycle is the state an artefact rests in between reconciliation passes.
type Lifecycle string

const (
	LifecycleNew      Lifecycle = "NEW"
	LifecycleCreated  Lifecycle = "CREATED"
	LifecycleModified Lifecycle = "MODIFIED"
	LifecycleUpdated  Lifecycle = "UPDATED"
	LifecycleFailed   Lifecycle = "FAILED"
	LifecycleDeleted  Lifecycle = "DELETED"
)

// Lifecycles lists every valid lifecycle in declaration order.
var Lifecycles = []Lifecycle{
	LifecycleNew,
	LifecycleCreated,
	LifecycleModified,
	LifecycleUpdated,
	LifecycleFailed,
	LifecycleDeleted,
}

// ParseLifecycle converts a persisted lifecycle string back to a Lifecycle.
func ParseLifecycle(s string) (Lifecycle, error) {
	for _, l := range Lifecycles {
		if string(l) == s {
			return l, nil
		}
	}
	return "", fmt.Errorf("unknown lifecycle %q", s)
}

// Settled reports whether the lifecycle is a successful terminal state.
// Settled artefacts with an unchanged checksum need no work in a pass.
func (l Lifecycle) Settled() bool {
	return l == LifecycleCreated || l == LifecycleUpdated
}

// Phase is the action a pass applies to one artefact.
type Phase string

const (
	PhaseCreate Phase = "CREATE"
	PhaseUpdate Phase = "UPDATE"
	PhaseDelete Phase = "DELETE"
	PhaseStart  Phase = "START"
	PhaseStop   Phase = "STOP"
)

// Terminal returns the lifecycle recorded when the phase completes
// successfully. START and STOP do not move the lifecycle.
func (p Phase) Terminal() (Lifecycle, bool) {
	switch p {
	case PhaseCreate:
		return LifecycleCreated, true
	case PhaseUpdate:
		return LifecycleUpdated, true
	case PhaseDelete:
		return LifecycleDeleted, true
	default:
		return "", false
	}
}

// Pending returns the lifecycle an artefact rests in while the phase is
// under way. Only CREATE and UPDATE have one.
func (p Phase) Pending() (Lifecycle, bool) {
	switch p {
	case PhaseCreate:
		return LifecycleNew, true
	case PhaseUpdate:
		return LifecycleModified, true
	default:
		return "", false
	}
}

// PhaseFor decides which phase applies to a parsed declaration.
//
//   - never persisted, or persisted as NEW     → CREATE
//   - persisted, checksum changed              → UPDATE
//   - persisted, same checksum, MODIFIED       → UPDATE (interrupted or
//     undepleted pass)
//   - anything else                            → no phase (ok=false)
//
// An artefact still waiting when a pass gives up on it rests in NEW or
// MODIFIED, so the next pass picks it up again. A FAILED artefact with an
// unchanged checksum is not retried; it stays FAILED until its declaration
// is edited.
func PhaseFor(persisted *Artefact, checksum string) (Phase, bool) {
	if persisted == nil || persisted.ID == 0 || persisted.Lifecycle == LifecycleNew {
		return PhaseCreate, true
	}
	if persisted.Checksum != checksum || persisted.Lifecycle == LifecycleModified {
		return PhaseUpdate, true
	}
	return "", false
}
