// Package migration reconciles versioned migration declarations and runs
// them per project in ascending version order.
//
// A migration runs only when its version is strictly greater than the
// project's recorded status; the status then advances to the last migration
// that ran. The whole sequence is gated on the data-structures synchronizer
// having succeeded in the same run.
package migration

import (
	"context"
	"fmt"

	"github.com/Masterminds/semver/v3"

	"github.com/roach88/converge/internal/artefact"
	"github.com/roach88/converge/internal/schema"
	"github.com/roach88/converge/internal/synchronizer"
)

const (
	// Name of the migrations synchronizer.
	Name = "migrations"

	// Type is the artefact discriminator of migration rows.
	Type = "migration"

	// Priority runs migrations after the data structures they depend on.
	Priority = 300

	// Extension of migration declaration files.
	Extension = ".migrate"
)

// Migration is one versioned step of a project.
type Migration struct {
	artefact.Artefact
	Project     string `json:"project"`
	Major       int    `json:"major"`
	Minor       int    `json:"minor"`
	Micro       int    `json:"micro"`
	Handler     string `json:"handler"`
	Engine      string `json:"engine,omitempty"`
	Description string `json:"description,omitempty"`
}

// Identity keys entries of a multi-migration file by project and version.
func (m *Migration) Identity() string {
	return m.Project + "@" + m.VersionString()
}

// Version returns the migration's version as a semantic version.
func (m *Migration) Version() *semver.Version {
	return semver.New(uint64(m.Major), uint64(m.Minor), uint64(m.Micro), "", "")
}

// VersionString renders major.minor.micro.
func (m *Migration) VersionString() string {
	return fmt.Sprintf("%d.%d.%d", m.Major, m.Minor, m.Micro)
}

// Synchronizer reconciles .migrate declarations. Declarations are stored
// when completed; execution happens in PostProcess through the Sequencer.
type Synchronizer struct {
	*synchronizer.Base[*Migration]
	seq       *Sequencer
	dependsOn []string
}

// Option configures a Synchronizer.
type Option func(*Synchronizer)

// WithDependsOn replaces the upstream synchronizers that must succeed first.
//
// Default: the data-structures synchronizer.
func WithDependsOn(names ...string) Option {
	return func(s *Synchronizer) { s.dependsOn = names }
}

// NewSynchronizer creates the migrations synchronizer.
func NewSynchronizer(db synchronizer.Persistence, seq *Sequencer, opts ...Option) *Synchronizer {
	s := &Synchronizer{seq: seq, dependsOn: []string{"datastructures"}}
	s.Base = synchronizer.NewBase(synchronizer.Config[*Migration]{
		Name:       Name,
		Type:       Type,
		Priority:   Priority,
		Extensions: []string{Extension},
		New:        func() *Migration { return &Migration{} },
		Validate:   schema.Must().For(schema.Migration),
	}, db)
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// DependsOn returns the synchronizers that must succeed before migrations run.
func (s *Synchronizer) DependsOn() []string {
	return s.dependsOn
}

// Complete stores the declaration as pending (NEW or MODIFIED). Deleting a
// declaration never reverts a migration, so DELETE only drops the row.
func (s *Synchronizer) Complete(ctx context.Context, m *Migration, phase artefact.Phase) (bool, error) {
	switch phase {
	case artefact.PhaseCreate:
		return true, s.Save(ctx, m, artefact.LifecycleNew, "")
	case artefact.PhaseUpdate:
		return true, s.Save(ctx, m, artefact.LifecycleModified, "")
	default:
		return s.Transition(ctx, m, phase, nil)
	}
}

// PostProcess runs the sequencer over every declared migration.
func (s *Synchronizer) PostProcess(ctx context.Context, seen []*Migration) error {
	return s.seq.Run(ctx, seen, s.SetStatus)
}

// Inert reports whether a failed migration lies at or below its project's
// status. Skipped lower versions stay FAILED without failing the pass.
func (s *Synchronizer) Inert(ctx context.Context, m *Migration) (bool, error) {
	return s.seq.Applied(ctx, m)
}
