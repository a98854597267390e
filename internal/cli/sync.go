package cli

import (
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/roach88/converge/internal/artefact"
	"github.com/roach88/converge/internal/store"
	"github.com/roach88/converge/internal/synchronizer"
)

// SyncOptions holds flags for the sync command.
type SyncOptions struct {
	*RootOptions
	SkipBusy bool
}

// SyncResult is the output of one synchronization run.
type SyncResult struct {
	Reports []*synchronizer.Report `json:"reports" yaml:"reports"`
	Errors  []string               `json:"errors,omitempty" yaml:"errors,omitempty"`
	verbose bool
}

// RenderText prints one line per synchronizer, and every outcome when verbose.
func (r SyncResult) RenderText(w io.Writer) error {
	for _, rep := range r.Reports {
		fmt.Fprintln(w, rep)
		if rep.Message != "" {
			fmt.Fprintf(w, "  %s\n", rep.Message)
		}
		for _, o := range rep.Outcomes {
			if r.verbose || o.Kind == artefact.OutcomeFailed {
				fmt.Fprintf(w, "  %s\n", o)
			}
		}
	}
	for _, e := range r.Errors {
		fmt.Fprintf(w, "error: %s\n", e)
	}
	return nil
}

// NewSyncCommand creates the sync command.
func NewSyncCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &SyncOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "sync [synchronizer]",
		Short: "Run a synchronization now",
		Long: `Run one pass of every synchronizer, or of the named one, and report
what changed.

By default the pass waits for a pass already in progress. With --skip-busy
a synchronizer that is still running is skipped instead.

Example:
  converge sync
  converge sync migrations --format json`,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			name := ""
			if len(args) == 1 {
				name = args[0]
			}
			return runSync(cmd, opts, name)
		},
	}

	cmd.Flags().BoolVar(&opts.SkipBusy, "skip-busy", false, "skip synchronizers that are already running")

	return cmd
}

func runSync(cmd *cobra.Command, opts *SyncOptions, name string) error {
	out := newFormatter(opts.RootOptions, cmd.OutOrStdout(), cmd.ErrOrStderr())

	cfg, err := loadConfig(opts.RootOptions)
	if err != nil {
		return err
	}
	app, err := OpenApp(cfg)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open databases", err)
	}
	defer app.Close()

	mode := synchronizer.Forced
	if opts.SkipBusy {
		mode = synchronizer.Scheduled
	}

	var reports []*synchronizer.Report
	if name == "" {
		reports, err = app.Runner.RunAll(cmd.Context(), mode)
	} else {
		var rep *synchronizer.Report
		rep, err = app.Runner.RunOne(cmd.Context(), name, mode)
		if rep != nil {
			reports = append(reports, rep)
		}
	}
	if errors.Is(err, synchronizer.ErrDisabled) {
		return WrapExitError(ExitCommandError, "synchronization is disabled", err)
	}
	if err != nil && reports == nil {
		return WrapExitError(ExitCommandError, "synchronization failed", err)
	}

	res := SyncResult{Reports: reports, verbose: opts.Verbose}
	if err != nil {
		res.Errors = []string{err.Error()}
	}
	if outErr := out.Success(res); outErr != nil {
		return outErr
	}

	for _, rep := range reports {
		if !rep.Succeeded() && rep.State != store.StateSkipped {
			return NewExitError(ExitFailure, fmt.Sprintf("synchronizer %s finished %s", rep.Synchronizer, rep.State))
		}
	}
	if err != nil {
		return WrapExitError(ExitFailure, "synchronization finished with errors", err)
	}
	return nil
}
