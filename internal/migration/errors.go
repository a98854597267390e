package migration

import (
	"errors"
	"fmt"
	"strings"
)

// VersionSkippedError marks a migration that was not run because the
// project status is already at or above its version. Non-fatal.
type VersionSkippedError struct {
	Project string
	Version string
	Status  string
}

func (e *VersionSkippedError) Error() string {
	return fmt.Sprintf("migration for project %s with version %s has been skipped: lower version than project status %s",
		e.Project, e.Version, e.Status)
}

// DuplicateVersionError is returned when two migrations of one project
// declare the same version. No migration of that project runs.
type DuplicateVersionError struct {
	Project   string
	Version   string
	Locations []string
}

func (e *DuplicateVersionError) Error() string {
	return fmt.Sprintf("project %s declares version %s more than once: %s",
		e.Project, e.Version, strings.Join(e.Locations, ", "))
}

// BlockedError marks a migration that was not attempted because an earlier
// migration of the same project failed in this pass.
type BlockedError struct {
	Project string
	Version string
	Failed  string
}

func (e *BlockedError) Error() string {
	return fmt.Sprintf("migration for project %s with version %s not run: version %s failed",
		e.Project, e.Version, e.Failed)
}

// IsVersionSkipped reports whether err is a *VersionSkippedError.
func IsVersionSkipped(err error) bool {
	var e *VersionSkippedError
	return errors.As(err, &e)
}

// IsDuplicateVersion reports whether err is a *DuplicateVersionError.
func IsDuplicateVersion(err error) bool {
	var e *DuplicateVersionError
	return errors.As(err, &e)
}
