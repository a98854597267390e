package synchronizer

import (
	"errors"
	"fmt"

	"github.com/roach88/converge/internal/artefact"
)

// ParseError reports a declaration file that could not be parsed.
// The pass continues; the file's persisted artefacts are left untouched.
type ParseError struct {
	Location string
	Err      error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse %s: %v", e.Location, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// PersistenceError reports a failed read or write of an artefact row.
type PersistenceError struct {
	Op       string
	Location string
	Err      error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Location, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// DependencyNotSatisfiedError reports a pass skipped because an upstream
// synchronizer did not succeed.
type DependencyNotSatisfiedError struct {
	Synchronizer string
	Dependency   string

	// State is the dependency's last recorded state, empty if it never ran.
	State string
}

func (e *DependencyNotSatisfiedError) Error() string {
	state := e.State
	if state == "" {
		state = "never ran"
	}
	return fmt.Sprintf("synchronizer %s skipped: dependency %s not satisfied (%s)", e.Synchronizer, e.Dependency, state)
}

// UndepletedError reports an artefact still pending after the last round
// of a pass.
type UndepletedError struct {
	Type     string
	Location string
	Phase    artefact.Phase
}

func (e *UndepletedError) Error() string {
	return fmt.Sprintf("undepleted artefact of type [%s] at [%s] in phase [%s]", e.Type, e.Location, e.Phase)
}

// IsParseError returns true if err is or wraps a *ParseError.
func IsParseError(err error) bool {
	var pe *ParseError
	return errors.As(err, &pe)
}

// IsPersistenceError returns true if err is or wraps a *PersistenceError.
func IsPersistenceError(err error) bool {
	var pe *PersistenceError
	return errors.As(err, &pe)
}

// IsDependencyError returns true if err is or wraps a
// *DependencyNotSatisfiedError.
func IsDependencyError(err error) bool {
	var de *DependencyNotSatisfiedError
	return errors.As(err, &de)
}
