package migration

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"

	"github.com/Masterminds/semver/v3"

	"github.com/roach88/converge/internal/artefact"
	"github.com/roach88/converge/internal/store"
)

// DefaultCreatedBy is recorded on status rows written by the sequencer.
const DefaultCreatedBy = "converge"

// StatusStore reads and writes per-project migration status.
// Implemented by *store.Store.
type StatusStore interface {
	MigrationStatus(ctx context.Context, project string) (*store.MigrationStatus, error)
	CreateMigrationStatus(ctx context.Context, ms *store.MigrationStatus) error
	UpdateMigrationStatus(ctx context.Context, ms *store.MigrationStatus) error
}

// Executor runs a migration handler with a named engine.
// Implemented by *executor.Registry.
type Executor interface {
	Execute(ctx context.Context, engine, handler string) error
}

// MarkFunc records the lifecycle of a migration and reports it.
type MarkFunc func(ctx context.Context, m *Migration, l artefact.Lifecycle, msg string) error

// Sequencer applies migrations per project in ascending version order.
type Sequencer struct {
	status    StatusStore
	exec      Executor
	createdBy string
}

// SequencerOption configures a Sequencer.
type SequencerOption func(*Sequencer)

// WithCreatedBy sets the author recorded on status rows.
func WithCreatedBy(name string) SequencerOption {
	return func(s *Sequencer) { s.createdBy = name }
}

// NewSequencer creates a sequencer over status and exec.
func NewSequencer(status StatusStore, exec Executor, opts ...SequencerOption) *Sequencer {
	s := &Sequencer{status: status, exec: exec, createdBy: DefaultCreatedBy}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Run processes every project with a migration among migrations, whatever
// their lifecycle: a migration runs iff its version is greater than the
// project's status, so one that failed earlier is retried. Each project is
// processed once, and a failure only stops the project it belongs to. The
// returned error joins the per-project failures; skipped lower versions
// are not errors.
func (s *Sequencer) Run(ctx context.Context, migrations []*Migration, mark MarkFunc) error {
	byProject := make(map[string][]*Migration)
	for _, m := range migrations {
		byProject[m.Project] = append(byProject[m.Project], m)
	}

	projects := make([]string, 0, len(byProject))
	for p := range byProject {
		projects = append(projects, p)
	}
	slices.Sort(projects)

	var errs []error
	for _, project := range projects {
		if err := s.runProject(ctx, project, byProject[project], mark); err != nil {
			slog.Error("migration of project failed", "project", project, "error", err)
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (s *Sequencer) runProject(ctx context.Context, project string, group []*Migration, mark MarkFunc) error {
	sorted := sortByVersion(group)

	if dups := duplicates(project, sorted); len(dups) > 0 {
		var errs []error
		for _, d := range dups {
			errs = append(errs, d.err)
			for _, m := range d.members {
				if err := mark(ctx, m, artefact.LifecycleFailed, d.err.Error()); err != nil {
					errs = append(errs, err)
				}
			}
		}
		return errors.Join(errs...)
	}

	status, err := s.status.MigrationStatus(ctx, project)
	if err != nil {
		return fmt.Errorf("project %s: %w", project, err)
	}
	current := statusVersion(status)

	var (
		last    *Migration
		runErr  error
		markErr []error
	)
	for i, m := range sorted {
		if current != nil && !m.Version().GreaterThan(current) {
			if pending(m) {
				skip := &VersionSkippedError{Project: project, Version: m.VersionString(), Status: current.String()}
				slog.Debug("migration skipped", "project", project, "version", m.VersionString(), "status", current.String())
				if err := mark(ctx, m, artefact.LifecycleFailed, skip.Error()); err != nil {
					markErr = append(markErr, err)
				}
			}
			continue
		}

		if err := s.exec.Execute(ctx, m.Engine, m.Handler); err != nil {
			runErr = fmt.Errorf("project %s: migration %s: %w", project, m.VersionString(), err)
			if merr := mark(ctx, m, artefact.LifecycleFailed, err.Error()); merr != nil {
				markErr = append(markErr, merr)
			}
			for _, rest := range sorted[i+1:] {
				blocked := &BlockedError{Project: project, Version: rest.VersionString(), Failed: m.VersionString()}
				if merr := mark(ctx, rest, artefact.LifecycleFailed, blocked.Error()); merr != nil {
					markErr = append(markErr, merr)
				}
			}
			break
		}

		done := artefact.LifecycleCreated
		if m.Lifecycle == artefact.LifecycleModified || m.Lifecycle == artefact.LifecycleUpdated {
			done = artefact.LifecycleUpdated
		}
		if err := mark(ctx, m, done, ""); err != nil {
			markErr = append(markErr, err)
		}
		slog.Info("migration applied", "project", project, "version", m.VersionString(), "location", m.Location)
		last = m
		current = m.Version()
	}

	if last != nil {
		if err := s.advance(ctx, project, status, last); err != nil {
			markErr = append(markErr, err)
		}
	}
	return errors.Join(append([]error{runErr}, markErr...)...)
}

// Applied reports whether m is at or below its project's status, i.e. it
// will never run again.
func (s *Sequencer) Applied(ctx context.Context, m *Migration) (bool, error) {
	status, err := s.status.MigrationStatus(ctx, m.Project)
	if err != nil {
		return false, fmt.Errorf("project %s: %w", m.Project, err)
	}
	current := statusVersion(status)
	return current != nil && !m.Version().GreaterThan(current), nil
}

func statusVersion(status *store.MigrationStatus) *semver.Version {
	if status == nil {
		return nil
	}
	return semver.New(uint64(status.Major), uint64(status.Minor), uint64(status.Micro), "", "")
}

// advance moves the project status to last, creating the row on first use.
func (s *Sequencer) advance(ctx context.Context, project string, status *store.MigrationStatus, last *Migration) error {
	next := &store.MigrationStatus{
		Project:   project,
		Major:     last.Major,
		Minor:     last.Minor,
		Micro:     last.Micro,
		Location:  last.Location,
		CreatedBy: s.createdBy,
	}
	if status == nil {
		if err := s.status.CreateMigrationStatus(ctx, next); err != nil {
			return fmt.Errorf("project %s: %w", project, err)
		}
		return nil
	}
	if status.Major == next.Major && status.Minor == next.Minor && status.Micro == next.Micro {
		return nil
	}
	if err := s.status.UpdateMigrationStatus(ctx, next); err != nil {
		return fmt.Errorf("project %s: %w", project, err)
	}
	return nil
}

// pending reports whether m was declared or changed and has not run yet.
func pending(m *Migration) bool {
	return m.Lifecycle == artefact.LifecycleNew || m.Lifecycle == artefact.LifecycleModified
}

func sortByVersion(group []*Migration) []*Migration {
	sorted := slices.Clone(group)
	slices.SortStableFunc(sorted, func(a, b *Migration) int {
		if c := a.Version().Compare(b.Version()); c != 0 {
			return c
		}
		return cmp.Compare(a.Location, b.Location)
	})
	return sorted
}

type duplicate struct {
	err     *DuplicateVersionError
	members []*Migration
}

// duplicates returns the versions declared more than once.
// sorted must be ordered by version.
func duplicates(project string, sorted []*Migration) []duplicate {
	var out []duplicate
	for i := 0; i < len(sorted); {
		j := i + 1
		for j < len(sorted) && sorted[j].Version().Equal(sorted[i].Version()) {
			j++
		}
		if j-i > 1 {
			members := sorted[i:j]
			locs := make([]string, 0, len(members))
			for _, m := range members {
				locs = append(locs, m.Location)
			}
			out = append(out, duplicate{
				err: &DuplicateVersionError{
					Project:   project,
					Version:   sorted[i].VersionString(),
					Locations: locs,
				},
				members: members,
			})
		}
		i = j
	}
	return out
}
