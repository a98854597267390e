package cli

import (
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/viper"

	"github.com/roach88/converge/internal/artefact"
	"github.com/roach88/converge/internal/config"
	"github.com/roach88/converge/internal/datastructure"
	"github.com/roach88/converge/internal/executor"
	"github.com/roach88/converge/internal/extension"
	"github.com/roach88/converge/internal/migration"
	"github.com/roach88/converge/internal/publisher"
	"github.com/roach88/converge/internal/registry"
	"github.com/roach88/converge/internal/store"
	"github.com/roach88/converge/internal/synchronizer"
)

// metricsNamespace prefixes every exported metric.
const metricsNamespace = "converge"

// App is a fully wired set of synchronizers over one configuration.
type App struct {
	Config  config.Config
	Store   *store.Store
	Target  *sql.DB
	Tree    *registry.Tree
	Runner  *synchronizer.Runner
	Metrics *synchronizer.MetricsCallback

	Tables *datastructure.Synchronizer
	Kinds  []Kind
}

// loadConfig reads the configuration named by the root options.
func loadConfig(opts *RootOptions) (config.Config, error) {
	cfg, err := config.Load(viper.New(), opts.ConfigFile)
	if err != nil {
		return config.Config{}, WrapExitError(ExitCommandError, "failed to load config", err)
	}
	return cfg, nil
}

// OpenApp opens both databases and registers every synchronizer.
func OpenApp(cfg config.Config, opts ...store.Option) (*App, error) {
	st, err := store.Open(cfg.Database, opts...)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	target, err := store.OpenTarget(cfg.TargetDatabase)
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("open target database: %w", err)
	}

	app := &App{
		Config:  cfg,
		Store:   st,
		Target:  target,
		Tree:    registry.OpenTree(cfg.Registry),
		Runner:  synchronizer.NewRunner(),
		Metrics: synchronizer.NewMetricsCallback(metricsNamespace),
	}
	app.Runner.SetEnabled(cfg.Enabled)

	if err := app.register(); err != nil {
		app.Close()
		return nil, err
	}
	return app, nil
}

func (a *App) register() error {
	driverOpts := []synchronizer.Option{
		synchronizer.WithTree(a.Tree),
		synchronizer.WithStateStore(a.Store),
		synchronizer.WithCallback(synchronizer.Multi{synchronizer.Logger{}, a.Metrics}),
		synchronizer.WithMaxRounds(a.Config.MaxRounds),
	}
	if a.Config.Predelivered != "" {
		pre := registry.NewPredelivered()
		n, err := pre.RegisterFS(os.DirFS(a.Config.Predelivered))
		if err != nil {
			return fmt.Errorf("load predelivered declarations: %w", err)
		}
		slog.Debug("predelivered declarations loaded", "count", n)
		driverOpts = append(driverOpts, synchronizer.WithPredelivered(pre))
	}

	engines := executor.NewRegistry()
	if err := engines.Register(executor.DefaultEngine, executor.NewSQLEngine(a.Target, a.Tree)); err != nil {
		return err
	}

	points := extension.NewPointSynchronizer(a.Store)
	a.Tables = datastructure.NewSynchronizer(a.Store, a.Target)
	seq := migration.NewSequencer(a.Store, engines)

	return errors.Join(
		register[*publisher.Request](a, publisher.NewDirSynchronizer(a.Store, a.Store, a.Config.Workspaces, a.Config.Registry), driverOpts),
		register[*extension.Point](a, points, driverOpts),
		register[*extension.Extension](a, extension.NewSynchronizer(a.Store, points), driverOpts),
		register[*datastructure.Table](a, a.Tables, driverOpts),
		register[*migration.Migration](a, migration.NewSynchronizer(a.Store, seq), driverOpts),
	)
}

// Kind pairs a synchronizer with the artefact type it owns.
type Kind struct {
	Synchronizer string
	Type         string
}

type typed interface{ Type() string }

func register[A artefact.Value](a *App, s synchronizer.Synchronizer[A], opts []synchronizer.Option) error {
	if err := a.Runner.Register(synchronizer.NewDriver(s, opts...)); err != nil {
		return fmt.Errorf("register %s: %w", s.Name(), err)
	}
	if t, ok := s.(typed); ok {
		a.Kinds = append(a.Kinds, Kind{Synchronizer: s.Name(), Type: t.Type()})
	}
	return nil
}

// Close closes both databases.
func (a *App) Close() error {
	return errors.Join(a.Target.Close(), a.Store.Close())
}
