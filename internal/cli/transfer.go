package cli

import (
	"database/sql"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/roach88/converge/internal/store"
	"github.com/roach88/converge/internal/transfer"
)

// TransferOptions holds flags for the transfer command.
type TransferOptions struct {
	*RootOptions
	Source    string
	Target    string
	Tables    []string
	BatchSize int
}

// TransferResult summarises a finished transfer.
type TransferResult struct {
	Order   []string          `json:"order" yaml:"order"`
	Rows    map[string]int    `json:"rows" yaml:"rows"`
	Skipped map[string]string `json:"skipped,omitempty" yaml:"skipped,omitempty"`
	Stopped bool              `json:"stopped,omitempty" yaml:"stopped,omitempty"`
}

func (r TransferResult) RenderText(w io.Writer) error {
	for _, name := range r.Order {
		if reason, ok := r.Skipped[name]; ok {
			fmt.Fprintf(w, "  %-24s skipped: %s\n", name, reason)
			continue
		}
		if n, ok := r.Rows[name]; ok {
			fmt.Fprintf(w, "  %-24s %d rows\n", name, n)
		}
	}
	if r.Stopped {
		fmt.Fprintln(w, "Transfer stopped before all tables were copied.")
	}
	return nil
}

// NewTransferCommand creates the transfer command.
func NewTransferCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &TransferOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "transfer",
		Short: "Copy table contents between databases",
		Long: `Copy the rows of every table of the source database into the target
database, referenced tables first. Tables missing in the target are created
from the source definition; tables that already hold rows are skipped.

Interrupting the command stops the transfer after the current batch.

Example:
  converge transfer --source ./legacy.db --target ./app.db
  converge transfer --source ./legacy.db --target ./app.db --table customers --table orders`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTransfer(cmd, opts)
		},
	}

	cmd.Flags().StringVar(&opts.Source, "source", "", "source SQLite database (required)")
	cmd.Flags().StringVar(&opts.Target, "target", "", "target SQLite database (default: configured target_database)")
	cmd.Flags().StringArrayVar(&opts.Tables, "table", nil, "copy only this table (repeatable)")
	cmd.Flags().IntVar(&opts.BatchSize, "batch-size", transfer.DefaultBatchSize, "rows per transaction")
	_ = cmd.MarkFlagRequired("source")

	return cmd
}

func runTransfer(cmd *cobra.Command, opts *TransferOptions) error {
	out := newFormatter(opts.RootOptions, cmd.OutOrStdout(), cmd.ErrOrStderr())

	targetPath := opts.Target
	if targetPath == "" {
		cfg, err := loadConfig(opts.RootOptions)
		if err != nil {
			return err
		}
		targetPath = cfg.TargetDatabase
	}

	source, err := openExisting(opts.Source)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open source database", err)
	}
	defer source.Close()

	target, err := store.OpenTarget(targetPath)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open target database", err)
	}
	defer target.Close()

	handler := &transfer.LogHandler{}
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-sigChan:
			handler.Stop()
		case <-done:
		}
	}()

	res, err := transfer.Transfer(cmd.Context(), source, target, handler,
		transfer.WithBatchSize(opts.BatchSize),
		transfer.WithTables(opts.Tables...),
	)
	if err != nil {
		_ = out.Error(CodeTransfer, err.Error(), nil)
		return WrapExitError(ExitFailure, "transfer failed", err)
	}

	result := TransferResult{
		Order:   res.Plan.InsertOrder,
		Rows:    res.Rows,
		Skipped: res.Skipped,
		Stopped: res.Stopped,
	}
	if err := out.Success(result); err != nil {
		return err
	}
	if res.Stopped {
		return NewExitError(ExitFailure, "transfer stopped")
	}
	return nil
}

// openExisting opens a SQLite database that must already exist.
func openExisting(path string) (*sql.DB, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("database %s: %w", path, err)
	}
	return store.OpenTarget(path)
}
