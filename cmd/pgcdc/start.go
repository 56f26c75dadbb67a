package main

import (
	"context"
	"fmt"
	"os/signal"
	"sync"
	"syscall"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/edgeflare/pgcdc/pkg/cdcevent"
	"github.com/edgeflare/pgcdc/pkg/config"
	"github.com/edgeflare/pgcdc/pkg/conn"
	"github.com/edgeflare/pgcdc/pkg/metrics"
	"github.com/edgeflare/pgcdc/pkg/pg"
	"github.com/edgeflare/pgcdc/pkg/runner"
	"github.com/edgeflare/pgcdc/pkg/watch"
	"github.com/edgeflare/pgcdc/pkg/watcher/clickhouse"
	"github.com/edgeflare/pgcdc/pkg/watcher/kafka"
	"github.com/edgeflare/pgcdc/pkg/watcher/mqtt"
	"github.com/edgeflare/pgcdc/pkg/watcher/nats"
)

var startCmd = &cobra.Command{
	Use:   "start [config.yaml]",
	Short: "Start replicating every configured slot",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runStart,
}

func runStart(cmd *cobra.Command, args []string) error {
	path := cfgFile
	if len(args) == 1 {
		path = args[0]
	}

	cfg, err := config.Load(path)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if cfg.PG.ConnString == "" {
		return fmt.Errorf("pg.conn_string is not set")
	}

	logger, err := zap.NewProduction()
	if err != nil {
		return fmt.Errorf("build logger: %w", err)
	}
	defer logger.Sync() //nolint:errcheck

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.Metrics.Enabled {
		opts := &metrics.PromServerOpts{Addr: cfg.Metrics.Addr, Path: cfg.Metrics.Path}
		var wg sync.WaitGroup
		metrics.StartPrometheusServer(ctx, &wg, opts)
		defer wg.Wait()
	}

	// Metadata and ping connections share one connection pool (up to 4
	// connections) in the pool manager's singleton registry: PK discovery and the liveness
	// ping are both low-frequency, short queries that don't need a
	// dedicated connection the way the replication stream does.
	pool := pg.GetPoolManager()
	const poolName = "pgcdc-meta"
	if err := pool.Add(ctx, pg.PoolConfig{Name: poolName, ConnString: cfg.PG.ConnString, MaxConns: 4}); err != nil {
		return fmt.Errorf("open metadata pool: %w", err)
	}
	defer pool.Close()

	metaConn := func(ctx context.Context) (conn.Conn, error) { return pool.Get(poolName) }

	r := &runner.Runner{
		Config:   cfg.RunnerConfig(),
		Watchers: buildWatcherRegistry(),
		Logger:   logger,
		NewReplConn: func(ctx context.Context, slotName string, _ runner.SlotConfig) (*pgconn.PgConn, error) {
			return pgconn.Connect(ctx, cfg.PG.ConnString+"?replication=database")
		},
		NewMetaConn: func(ctx context.Context, slotName string, _ runner.SlotConfig) (conn.Conn, error) {
			return metaConn(ctx)
		},
		NewPingConn: func(ctx context.Context) (conn.Conn, error) {
			return metaConn(ctx)
		},
	}

	return r.Run(ctx)
}

// buildWatcherRegistry wires each pkg/watcher/* sink into a name a slot's
// `watcher:` field can reference. Each sink is built from a zero Config, so
// it runs on its package's withDefaults() values (some of which read
// PGCDC_* env vars); the Runner's WatcherFactory takes no arguments, so no
// per-slot sink parameters reach these constructors.
func buildWatcherRegistry() runner.WatcherRegistry {
	return runner.WatcherRegistry{
		"kafka": func() (watch.Watcher, error) {
			return kafka.New(kafka.Config{})
		},
		"mqtt": func() (watch.Watcher, error) {
			return mqtt.New(mqtt.Config{})
		},
		"nats": func() (watch.Watcher, error) {
			return nats.New(nats.Config{})
		},
		"clickhouse": func() (watch.Watcher, error) {
			return clickhouse.New(context.Background(), clickhouse.Config{})
		},
		"noop": func() (watch.Watcher, error) {
			return watch.Func(func(cdcevent.Event) error { return nil }), nil
		},
	}
}
