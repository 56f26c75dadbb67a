package runner

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
	"go.uber.org/zap"

	"github.com/edgeflare/pgcdc/pkg/conn"
	"github.com/edgeflare/pgcdc/pkg/watch"
)

// WatcherFactory builds the Watcher a slot's `watcher: class-name` entry
// names. The host application registers one per name it wants addressable
// from YAML, mirroring the teacher's pipeline.Manager.RegisterConnector
// registration-at-init idiom (§4.5's DSL note applies equally here: Go has
// no open classes, so "class-name" resolves through a name→constructor map
// built at startup instead).
type WatcherFactory func() (watch.Watcher, error)

// WatcherRegistry maps a slot's `watcher` name to its factory.
type WatcherRegistry map[string]WatcherFactory

func (r WatcherRegistry) build(name string) (watch.Watcher, error) {
	factory, ok := r[name]
	if !ok {
		return nil, fmt.Errorf("%w: no watcher registered as %q", ErrInvalidConfig, name)
	}
	return factory()
}

// Replicator is the capability the Runner drives per slot; pkg/replicator.Replicator
// satisfies it directly. A slot's optional `replicator: class-name` selects
// an alternative implementation registered here instead of the default.
type Replicator interface {
	Replicate(ctx context.Context, w watch.Watcher) error
}

// ReplicatorFactory builds a Replicator for one slot from its decoded
// replicator_params, given the connections the Runner opened for it.
type ReplicatorFactory func(replConn *pgconn.PgConn, metaConn conn.Conn, reconnectMeta func(ctx context.Context) (conn.Conn, error), params map[string]any, logger *zap.Logger) (Replicator, error)

// ReplicatorRegistry maps a slot's `replicator` name to its factory. An
// empty `replicator` name uses the Runner's default (pkg/replicator.New
// driven by mapstructure-decoded replicator_params); a non-empty name with
// no entry here is rejected with ErrInvalidConfig.
type ReplicatorRegistry map[string]ReplicatorFactory
