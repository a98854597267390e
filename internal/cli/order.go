package cli

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/roach88/converge/internal/datastructure"
	"github.com/roach88/converge/internal/topology"
	"github.com/roach88/converge/internal/transfer"
)

// OrderOptions holds flags for the order command.
type OrderOptions struct {
	*RootOptions
	Database string
	Target   bool
}

// OrderResult lists tables in dependency order.
type OrderResult struct {
	Source      string   `json:"source" yaml:"source"`
	InsertOrder []string `json:"insert_order" yaml:"insert_order"`
	DeleteOrder []string `json:"delete_order" yaml:"delete_order"`
}

func (r OrderResult) RenderText(w io.Writer) error {
	fmt.Fprintf(w, "Tables of %s, referenced tables first:\n", r.Source)
	for i, name := range r.InsertOrder {
		fmt.Fprintf(w, "  %3d. %s\n", i+1, name)
	}
	return nil
}

// NewOrderCommand creates the order command.
func NewOrderCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &OrderOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "order",
		Short: "Print tables in foreign-key order",
		Long: `Print tables so that every table follows the tables it references.

By default the table declarations of the registry are ordered. With
--target the configured target database is read instead, and with
--database any SQLite database.

Example:
  converge order
  converge order --target --format json
  converge order --database ./legacy.db`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runOrder(cmd, opts)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "database", "", "order the tables of this SQLite database")
	cmd.Flags().BoolVar(&opts.Target, "target", false, "order the tables of the configured target database")

	return cmd
}

func runOrder(cmd *cobra.Command, opts *OrderOptions) error {
	out := newFormatter(opts.RootOptions, cmd.OutOrStdout(), cmd.ErrOrStderr())
	ctx := cmd.Context()

	var (
		res *OrderResult
		err error
	)
	if opts.Database != "" {
		res, err = orderDatabase(ctx, opts.Database)
	} else {
		cfg, cfgErr := loadConfig(opts.RootOptions)
		if cfgErr != nil {
			return cfgErr
		}
		app, openErr := OpenApp(cfg)
		if openErr != nil {
			return WrapExitError(ExitCommandError, "failed to open databases", openErr)
		}
		defer app.Close()

		if opts.Target {
			res, err = orderTables(ctx, cfg.TargetDatabase, app)
		} else {
			res, err = orderDeclarations(ctx, app)
		}
	}

	var cycle *topology.CycleDetectedError
	if errors.As(err, &cycle) {
		_ = out.Error(CodeCycle, cycle.Error(), cycle.Members())
		return WrapExitError(ExitFailure, "tables cannot be ordered", err)
	}
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read tables", err)
	}
	return out.Success(res)
}

// orderDeclarations orders the table declarations found in the registry.
func orderDeclarations(ctx context.Context, app *App) (*OrderResult, error) {
	var tables []*datastructure.Table
	err := app.Tree.Walk(ctx, func(location string, content []byte) error {
		if !app.Tables.IsAccepted(location) {
			return nil
		}
		parsed, err := app.Tables.Parse(ctx, location, content)
		if err != nil {
			return err
		}
		tables = append(tables, parsed...)
		return nil
	})
	if err != nil {
		return nil, err
	}

	sorted, err := datastructure.Order(tables)
	if err != nil {
		return nil, err
	}
	names := make([]string, len(sorted))
	for i, t := range sorted {
		names[i] = t.Name
	}
	return &OrderResult{
		Source:      app.Config.Registry,
		InsertOrder: names,
		DeleteOrder: topology.Reverse(names),
	}, nil
}

func orderTables(ctx context.Context, source string, app *App) (*OrderResult, error) {
	tables, err := transfer.ReverseTables(ctx, app.Target)
	if err != nil {
		return nil, err
	}
	return planResult(source, tables)
}

func orderDatabase(ctx context.Context, path string) (*OrderResult, error) {
	db, err := openExisting(path)
	if err != nil {
		return nil, err
	}
	defer db.Close()

	tables, err := transfer.ReverseTables(ctx, db)
	if err != nil {
		return nil, err
	}
	return planResult(path, tables)
}

func planResult(source string, tables []transfer.Table) (*OrderResult, error) {
	plan, err := transfer.NewPlan(tables)
	if err != nil {
		return nil, err
	}
	return &OrderResult{Source: source, InsertOrder: plan.InsertOrder, DeleteOrder: plan.DeleteOrder}, nil
}
