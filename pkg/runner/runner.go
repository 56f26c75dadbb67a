package runner

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"os/signal"
	"sort"
	"sync"
	"syscall"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/mitchellh/mapstructure"
	"go.uber.org/zap"

	"github.com/edgeflare/pgcdc/pkg/conn"
	"github.com/edgeflare/pgcdc/pkg/metrics"
	"github.com/edgeflare/pgcdc/pkg/replicator"
	"github.com/edgeflare/pgcdc/pkg/watch"
)

// internalGroupEnv names the environment variable a spawned child process
// uses to learn which worker group it alone is responsible for. Its
// presence distinguishes a forked child from the top-level invocation.
const internalGroupEnv = "PGCDC_INTERNAL_GROUP"

// ErrInvalidConfig marks a non-retriable configuration error (§4.7's
// "invalid argument" exception class): the Runner does not retry it.
var ErrInvalidConfig = errors.New("runner: invalid configuration")

// Runner orchestrates every slot in Config across one or more worker-group
// processes, per §4.7. Database connection parameters are supplied by the
// host application through the New*Conn factories; the Runner never builds
// a connection string itself.
type Runner struct {
	Config      Config
	Watchers    WatcherRegistry
	Replicators ReplicatorRegistry

	NewReplConn func(ctx context.Context, slotName string, cfg SlotConfig) (*pgconn.PgConn, error)
	NewMetaConn func(ctx context.Context, slotName string, cfg SlotConfig) (conn.Conn, error)
	NewPingConn func(ctx context.Context) (conn.Conn, error)

	// PingInterval overrides the default 20s liveness-ping cadence (§4.7).
	PingInterval time.Duration

	// BeforeFork runs once, in the parent, before any child process is
	// spawned; it must close any parent-held database handles so file
	// descriptors aren't inherited into children (§9 "Fork hooks").
	BeforeFork func()
	// AfterFork runs once in each spawned child before it starts working.
	AfterFork func()

	Logger *zap.Logger

	mu       sync.Mutex
	children []*exec.Cmd
}

func (r *Runner) logger() *zap.Logger {
	if r.Logger != nil {
		return r.Logger
	}
	return zap.L()
}

func (r *Runner) pingInterval() time.Duration {
	if r.PingInterval <= 0 {
		return 20 * time.Second
	}
	return r.PingInterval
}

// Run is the CLI entry point (`pgcdc start config.yaml` calls this). It
// blocks until a termination signal is received (returns nil, exit code 0)
// or an unrecoverable error occurs.
func (r *Runner) Run(ctx context.Context) error {
	if group := os.Getenv(internalGroupEnv); group != "" {
		return r.runChild(ctx, group)
	}

	groups := r.Config.groups()
	if len(groups) <= 1 {
		for _, slots := range groups {
			return r.runSingleProcess(ctx, slots)
		}
		return nil // no slots configured
	}
	return r.runParent(ctx, groups)
}

// runSingleProcess is the "single group: executes in-process" path (§4.7).
// It also owns the liveness ping, since no parent/child split exists.
func (r *Runner) runSingleProcess(ctx context.Context, slotNames []string) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var wg sync.WaitGroup
	go r.runPing(ctx)

	for _, name := range slotNames {
		name, cfg := name, r.Config.Slots[name]
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := r.runSlotForever(ctx, name, cfg); err != nil && ctx.Err() == nil {
				r.logger().Error("slot exhausted retries", zap.String("slot", name), zap.Error(err))
				syscall.Kill(syscall.Getpid(), syscall.SIGTERM)
			}
		}()
	}
	wg.Wait()
	return nil
}

// runChild is what a spawned child process runs: it is responsible for
// exactly one worker group, no further forking.
func (r *Runner) runChild(ctx context.Context, group string) error {
	if r.AfterFork != nil {
		r.AfterFork()
	}
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	slotNames := r.Config.groups()[group]
	var wg sync.WaitGroup
	for _, name := range slotNames {
		name, cfg := name, r.Config.Slots[name]
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := r.runSlotForever(ctx, name, cfg); err != nil && ctx.Err() == nil {
				r.logger().Error("slot exhausted retries", zap.String("slot", name), zap.Error(err))
				syscall.Kill(syscall.Getpid(), syscall.SIGTERM)
			}
		}()
	}
	wg.Wait()
	return nil
}

// runParent spawns one child process per worker group, runs the liveness
// ping itself, and waits for a termination signal before stopping the ping
// and signaling every child in turn (§4.7 "Signals").
func (r *Runner) runParent(ctx context.Context, groups map[string][]string) error {
	if r.BeforeFork != nil {
		r.BeforeFork()
	}

	names := make([]string, 0, len(groups))
	for g := range groups {
		names = append(names, g)
	}
	sort.Strings(names)

	for _, g := range names {
		cmd := exec.Command(os.Args[0], os.Args[1:]...)
		cmd.Env = append(os.Environ(), internalGroupEnv+"="+g)
		cmd.Stdout = os.Stdout
		cmd.Stderr = os.Stderr
		if err := cmd.Start(); err != nil {
			return fmt.Errorf("spawn worker group %q: %w", g, err)
		}
		r.mu.Lock()
		r.children = append(r.children, cmd)
		r.mu.Unlock()
	}

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pingDone := make(chan struct{})
	go func() { r.runPing(ctx); close(pingDone) }()

	<-ctx.Done()
	<-pingDone

	r.mu.Lock()
	children := append([]*exec.Cmd(nil), r.children...)
	r.mu.Unlock()

	for _, c := range children {
		if c.Process == nil {
			continue
		}
		if err := c.Process.Signal(syscall.SIGTERM); err != nil && !errors.Is(err, os.ErrProcessDone) {
			r.logger().Warn("signal child", zap.Int("pid", c.Process.Pid), zap.Error(err))
		}
	}
	for _, c := range children {
		if err := c.Wait(); err != nil {
			var exitErr *exec.ExitError
			if !errors.As(err, &exitErr) {
				r.logger().Warn("wait child", zap.Error(err))
			}
		}
	}
	return nil
}

// runPing implements §4.7's liveness probe: every PingInterval, open a
// normal session and emit a wal_ping logical decoding message, which every
// Replicator recognizes (§4.3) as a keepalive and acknowledges.
func (r *Runner) runPing(ctx context.Context) {
	if r.NewPingConn == nil {
		return
	}
	ticker := time.NewTicker(r.pingInterval())
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c, err := r.NewPingConn(ctx)
			if err != nil {
				r.logger().Warn("ping connection failed", zap.Error(err))
				continue
			}
			_, err = c.Exec(ctx, `SELECT pg_logical_emit_message(true, 'wal_ping', '{}')`)
			if err != nil {
				r.logger().Warn("ping emit failed", zap.Error(err))
			}
		}
	}
}

// runSlotForever runs one slot's Replicator, applying §4.7's retry/backoff
// law: any error other than ErrInvalidConfig retries with backoff up to
// the slot's max retry count (unbounded by default); a clean return also
// restarts, with the same backoff, when auto_restart is true.
func (r *Runner) runSlotForever(ctx context.Context, name string, cfg SlotConfig) error {
	bo := newSlotBackOff(cfg)

	for {
		err := r.runSlotOnce(ctx, name, cfg)
		if ctx.Err() != nil {
			return nil // signal-driven shutdown, not a failure
		}

		var permanent *backoff.PermanentError
		if errors.As(err, &permanent) {
			return permanent.Err
		}

		if err == nil {
			if !cfg.autoRestart() {
				return nil
			}
			r.logger().Info("slot finished cleanly, auto-restarting", zap.String("slot", name))
		} else {
			r.logger().Warn("slot failed, retrying", zap.String("slot", name), zap.Error(err))
		}
		wait := bo.NextBackOff()
		if wait == backoff.Stop {
			if err == nil {
				return nil
			}
			return fmt.Errorf("slot %q exhausted retries: %w", name, err)
		}
		metrics.SlotRetries.WithLabelValues(name).Inc()
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(wait):
		}
	}
}

func (r *Runner) runSlotOnce(ctx context.Context, name string, cfg SlotConfig) error {
	w, err := r.Watchers.build(cfg.Watcher)
	if err != nil {
		return backoff.Permanent(err)
	}
	w = watch.NewLoggingWatcher(w, r.logger())

	slotName := name
	if cfg.Temporary {
		slotName = name + "_" + uuid.NewString()[:8]
	}

	replConn, err := r.NewReplConn(ctx, slotName, cfg)
	if err != nil {
		return fmt.Errorf("open replication connection for %q: %w", name, err)
	}

	metaConn, err := r.NewMetaConn(ctx, slotName, cfg)
	if err != nil {
		replConn.Close(ctx)
		return fmt.Errorf("open metadata connection for %q: %w", name, err)
	}
	reconnectMeta := func(ctx context.Context) (conn.Conn, error) { return r.NewMetaConn(ctx, slotName, cfg) }

	rep, err := r.buildReplicator(cfg, replConn, metaConn, reconnectMeta, slotName)
	if err != nil {
		return backoff.Permanent(err)
	}

	return rep.Replicate(ctx, w)
}

func (r *Runner) buildReplicator(cfg SlotConfig, replConn *pgconn.PgConn, metaConn conn.Conn, reconnectMeta func(context.Context) (conn.Conn, error), slotName string) (Replicator, error) {
	if cfg.Replicator != "" {
		factory, ok := r.Replicators[cfg.Replicator]
		if !ok {
			return nil, fmt.Errorf("%w: no replicator registered as %q", ErrInvalidConfig, cfg.Replicator)
		}
		return factory(replConn, metaConn, reconnectMeta, cfg.ReplicatorParams, r.logger())
	}

	var rcfg replicator.Config
	if cfg.ReplicatorParams != nil {
		if err := mapstructure.Decode(cfg.ReplicatorParams, &rcfg); err != nil {
			return nil, fmt.Errorf("%w: decode replicator_params: %v", ErrInvalidConfig, err)
		}
	}
	rcfg.SlotName = slotName
	rcfg.Temporary = cfg.Temporary
	rcfg.Publications = cfg.Publications

	return replicator.New(replConn, metaConn, reconnectMeta, &rcfg, r.logger()), nil
}
