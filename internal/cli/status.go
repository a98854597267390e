package cli

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/converge/internal/artefact"
	"github.com/roach88/converge/internal/store"
)

// StatusReport is the persisted state of every synchronizer.
type StatusReport struct {
	Synchronizers []store.SynchronizerState `json:"synchronizers" yaml:"synchronizers"`
	Artefacts     []ArtefactCount           `json:"artefacts" yaml:"artefacts"`
	Migrations    []store.MigrationStatus   `json:"migrations" yaml:"migrations"`
	Publications  []store.PublishLogEntry   `json:"publications,omitempty" yaml:"publications,omitempty"`
}

// ArtefactCount is the number of artefacts of one type per lifecycle.
type ArtefactCount struct {
	Type   string                     `json:"type" yaml:"type"`
	Counts map[artefact.Lifecycle]int `json:"counts" yaml:"counts"`
}

// StatusStore is the subset of *store.Store read by the status command.
type StatusStore interface {
	ListSynchronizerStates(ctx context.Context) ([]store.SynchronizerState, error)
	CountByLifecycle(ctx context.Context, typ string) (map[artefact.Lifecycle]int, error)
	ListMigrationStatuses(ctx context.Context) ([]store.MigrationStatus, error)
	PublishLog(ctx context.Context) ([]store.PublishLogEntry, error)
}

// CollectStatus reads the status of every kind from st.
func CollectStatus(ctx context.Context, st StatusStore, kinds []Kind) (*StatusReport, error) {
	states, err := st.ListSynchronizerStates(ctx)
	if err != nil {
		return nil, err
	}
	rep := &StatusReport{Synchronizers: states}

	for _, k := range kinds {
		counts, err := st.CountByLifecycle(ctx, k.Type)
		if err != nil {
			return nil, err
		}
		rep.Artefacts = append(rep.Artefacts, ArtefactCount{Type: k.Type, Counts: counts})
	}

	if rep.Migrations, err = st.ListMigrationStatuses(ctx); err != nil {
		return nil, err
	}
	if rep.Publications, err = st.PublishLog(ctx); err != nil {
		return nil, err
	}
	return rep, nil
}

// RenderText prints the report as aligned tables.
func (r *StatusReport) RenderText(w io.Writer) error {
	fmt.Fprintln(w, "SYNCHRONIZERS")
	if len(r.Synchronizers) == 0 {
		fmt.Fprintln(w, "  (none have run)")
	}
	for _, s := range r.Synchronizers {
		line(w, "  %-16s %-11s %s  %s", s.Name, s.State, formatTime(s.LastTriggered), s.Message)
	}

	fmt.Fprintln(w, "\nARTEFACTS")
	for _, a := range r.Artefacts {
		line(w, "  %-16s %s", a.Type, formatCounts(a.Counts))
	}

	fmt.Fprintln(w, "\nMIGRATIONS")
	if len(r.Migrations) == 0 {
		fmt.Fprintln(w, "  (no project migrated)")
	}
	for _, m := range r.Migrations {
		line(w, "  %-16s %-9s %s  %s", m.Project, m.Version(), m.Location, formatTime(m.CreatedAt))
	}

	if len(r.Publications) > 0 {
		fmt.Fprintln(w, "\nPUBLICATIONS")
		for _, p := range r.Publications {
			line(w, "  %-9s %s -> %s  %s", p.Command, p.Source, p.Target, formatTime(p.LoggedAt))
		}
	}
	return nil
}

// line writes one formatted line without trailing blanks.
func line(w io.Writer, format string, args ...any) {
	fmt.Fprintln(w, strings.TrimRight(fmt.Sprintf(format, args...), " "))
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.UTC().Format(time.RFC3339)
}

func formatCounts(counts map[artefact.Lifecycle]int) string {
	var parts []string
	for _, l := range artefact.Lifecycles {
		if n, ok := counts[l]; ok {
			parts = append(parts, fmt.Sprintf("%s=%d", l, n))
		}
	}
	if len(parts) == 0 {
		return "-"
	}
	return strings.Join(parts, " ")
}

// NewStatusCommand creates the status command.
func NewStatusCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show synchronizer and migration status",
		Long: `Show the last pass of every synchronizer, artefact counts per
lifecycle, the migration status of every project and the publish log.

Example:
  converge status
  converge status --format yaml`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := newFormatter(rootOpts, cmd.OutOrStdout(), cmd.ErrOrStderr())

			cfg, err := loadConfig(rootOpts)
			if err != nil {
				return err
			}
			app, err := OpenApp(cfg)
			if err != nil {
				return WrapExitError(ExitCommandError, "failed to open databases", err)
			}
			defer app.Close()

			rep, err := CollectStatus(cmd.Context(), app.Store, app.Kinds)
			if err != nil {
				return WrapExitError(ExitCommandError, "failed to read status", err)
			}
			return out.Success(rep)
		},
	}
}
