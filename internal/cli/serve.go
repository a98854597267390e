package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/converge/internal/registry"
	"github.com/roach88/converge/internal/scheduler"
	"github.com/roach88/converge/internal/synchronizer"
)

// NewServeCommand creates the serve command.
func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Synchronize continuously",
		Long: `Run synchronizations on the configured schedule and whenever the
registry tree changes, until interrupted. Prometheus metrics are served on
metrics_addr unless it is empty.

Example:
  converge serve
  converge serve --config /etc/converge/converge.yaml --verbose`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd, rootOpts)
		},
	}
}

func runServe(cmd *cobra.Command, opts *RootOptions) error {
	cfg, err := loadConfig(opts)
	if err != nil {
		return err
	}
	app, err := OpenApp(cfg)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open databases", err)
	}
	defer func() {
		if closeErr := app.Close(); closeErr != nil {
			slog.Error("error closing databases", "error", closeErr)
		}
	}()

	schedOpts := []scheduler.Option{
		scheduler.WithSchedule(cfg.Schedule),
		scheduler.WithObserver(func(t scheduler.Trigger, reports []*synchronizer.Report, err error) {
			for _, rep := range reports {
				slog.Debug("pass report", "trigger", t, "report", rep.String())
			}
		}),
	}
	if cfg.Watch {
		w, err := registry.NewWatcher(registry.WatcherConfig{
			Root:        cfg.Registry,
			DebounceDur: cfg.WatchDebounce,
		})
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to create watcher", err)
		}
		schedOpts = append(schedOpts, scheduler.WithWatcher(w))
	}

	sched, err := scheduler.New(app.Runner, schedOpts...)
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid schedule", err)
	}

	parentCtx := cmd.Context()
	if parentCtx == nil {
		parentCtx = context.Background()
	}
	ctx, cancel := context.WithCancel(parentCtx)
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	go func() {
		select {
		case sig := <-sigChan:
			slog.Info("received signal, shutting down", "signal", sig)
			cancel()
		case <-ctx.Done():
		}
	}()

	var srv *http.Server
	if cfg.MetricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", app.Metrics.Handler())
		srv = &http.Server{Addr: cfg.MetricsAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				slog.Error("metrics server failed", "addr", cfg.MetricsAddr, "error", err)
			}
		}()
		slog.Info("serving metrics", "addr", cfg.MetricsAddr)
	}

	// Startup run so the registry is reconciled before the first tick.
	if _, err := sched.Force(ctx); err != nil && !errors.Is(err, synchronizer.ErrDisabled) {
		slog.Warn("initial synchronization finished with errors", "error", err)
	}

	if err := sched.Start(ctx); err != nil {
		return WrapExitError(ExitCommandError, "failed to start scheduler", err)
	}
	fmt.Fprintln(cmd.OutOrStdout(), "converge is running. Press Ctrl-C to stop.")

	<-ctx.Done()

	if err := sched.Stop(); err != nil {
		slog.Warn("error stopping scheduler", "error", err)
	}
	if srv != nil {
		shutdownCtx, done := context.WithTimeout(context.Background(), 5*time.Second)
		defer done()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Warn("error stopping metrics server", "error", err)
		}
	}
	slog.Info("converge stopped gracefully")
	return nil
}
