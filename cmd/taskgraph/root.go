package main

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/hupe1980/taskgraph"
	"github.com/hupe1980/taskgraph/config"
	"github.com/hupe1980/taskgraph/graph"
	"github.com/hupe1980/taskgraph/internal/codec"
	"github.com/hupe1980/taskgraph/logging"
	"github.com/hupe1980/taskgraph/memory"
	"github.com/hupe1980/taskgraph/observability"
	"github.com/hupe1980/taskgraph/store"
	"github.com/hupe1980/taskgraph/store/redis"
	"github.com/hupe1980/taskgraph/store/sqlite"
)

// backend is what the persistence drivers have in common.
type backend interface {
	memory.Snapshotter
	graph.TraceSink
	ListRuns(ctx context.Context, limit int) ([]store.RunSummary, error)
	Close() error
}

type app struct {
	cfgFile     string
	showMetrics bool

	cfg      *config.Config
	logger   *logging.GraphLogger
	backend  backend
	registry *prometheus.Registry
	tg       *taskgraph.TaskGraph
	loaded   bool
	closed   bool
}

func newRootCmd() *cobra.Command {
	a := &app{}

	cmd := &cobra.Command{
		Use:           "taskgraph",
		Short:         "Run stateful agent workflows",
		Long:          "taskgraph runs the travel planner, the reflection loop and the memory feedback loop on the graph engine.",
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if err := a.setup(cmd); err != nil {
				return errors.Join(err, a.teardown(cmd))
			}

			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&a.cfgFile, "config", "", "config file (yaml, json or toml)")
	cmd.PersistentFlags().BoolVar(&a.showMetrics, "metrics", false, "print run metrics to stderr")
	config.BindFlags(cmd.PersistentFlags())

	cmd.AddCommand(
		newPlanCmd(a),
		newReflectCmd(a),
		newMemoryCmd(a),
	)

	a.wrapRun(cmd)

	return cmd
}

// wrapRun makes every runnable command tear the app down when it returns,
// so memory is saved and the store closed even when the command fails.
func (a *app) wrapRun(cmd *cobra.Command) {
	for _, c := range cmd.Commands() {
		a.wrapRun(c)
	}

	run := cmd.RunE
	if run == nil {
		return
	}

	cmd.RunE = func(cmd *cobra.Command, args []string) error {
		err := run(cmd, args)
		return errors.Join(err, a.teardown(cmd))
	}
}

func (a *app) setup(cmd *cobra.Command) error {
	cfg, err := config.Load(a.cfgFile, cmd.Flags())
	if err != nil {
		return err
	}

	a.cfg = cfg
	a.logger = cfg.Logger().WithComponent("cli")
	a.logger.Debug("cli.config.loaded", "store", cfg.Store.Driver)

	switch cfg.Store.Driver {
	case config.StoreSQLite:
		db, err := sqlite.Open(cfg.Store.DSN)
		if err != nil {
			return fmt.Errorf("open %s store: %w", cfg.Store.Driver, err)
		}

		a.backend = db
	case config.StoreRedis:
		rs, err := redis.New(cmd.Context(), cfg.Store.RedisAddr, redis.WithPrefix(cfg.Store.Prefix))
		if err != nil {
			return fmt.Errorf("open %s store: %w", cfg.Store.Driver, err)
		}

		a.backend = rs
	}

	a.registry = prometheus.NewRegistry()

	metrics, err := observability.NewMetrics(a.registry, "taskgraph")
	if err != nil {
		return err
	}

	a.tg, err = taskgraph.New(func(o *taskgraph.Options) {
		o.Config = cfg
		o.Callbacks = append(metrics.Callbacks(), observability.NewRunLogger(cfg.Logger()).Callbacks()...)
		o.Logger = a.logger

		if a.backend != nil {
			o.Snapshotter = a.backend
			o.TraceSink = a.backend
		}
	})
	if err != nil {
		return err
	}

	if err := a.tg.Load(cmd.Context()); err != nil {
		return err
	}

	a.loaded = true

	return nil
}

// teardown prints metrics, saves memory and closes the store. It runs at
// most once.
func (a *app) teardown(cmd *cobra.Command) error {
	if a.closed {
		return nil
	}

	a.closed = true

	var errs []error

	if a.showMetrics && a.registry != nil {
		errs = append(errs, a.printMetrics(cmd.ErrOrStderr()))
	}

	if a.backend == nil {
		return errors.Join(errs...)
	}

	// memory that failed to load is not saved over the stored snapshot
	if a.loaded {
		ctx := context.WithoutCancel(cmd.Context())
		if err := a.tg.Save(ctx); err != nil {
			errs = append(errs, fmt.Errorf("save memory: %w", err))
		}
	}

	if err := a.backend.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close %s store: %w", a.cfg.Store.Driver, err))
	}

	return errors.Join(errs...)
}

func (a *app) printMetrics(w io.Writer) error {
	families, err := a.registry.Gather()
	if err != nil {
		return err
	}

	for _, mf := range families {
		for _, m := range mf.GetMetric() {
			labels := ""
			for _, lp := range m.GetLabel() {
				labels += fmt.Sprintf(" %s=%s", lp.GetName(), lp.GetValue())
			}

			switch {
			case m.GetCounter() != nil:
				fmt.Fprintf(w, "%s%s %g\n", mf.GetName(), labels, m.GetCounter().GetValue())
			case m.GetHistogram() != nil:
				fmt.Fprintf(w, "%s_count%s %d\n", mf.GetName(), labels, m.GetHistogram().GetSampleCount())
			}
		}
	}

	return nil
}

func writeJSON(w io.Writer, v any) error {
	data, err := codec.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}

	_, err = fmt.Fprintln(w, string(data))

	return err
}
