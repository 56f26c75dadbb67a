// Package clickhouse appends row-change events to a ClickHouse table,
// adapted from the teacher's pkg/pipeline/peer/clickhouse.PeerClickHouse
// (clickhouse.Open connection setup, env-var-backed auth defaults) to the
// watch.Watcher contract. Unlike the teacher's Pub, which is a stub that
// only logs, this watcher's OnEvent issues a real INSERT: the teacher left the SQL
// commented out behind a TODO.
package clickhouse

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/ClickHouse/clickhouse-go/v2"

	"github.com/edgeflare/pgcdc/pkg/cdcevent"
	"github.com/edgeflare/pgcdc/pkg/metrics"
	"github.com/edgeflare/pgcdc/pkg/util"
	"github.com/edgeflare/pgcdc/pkg/watch"
	"github.com/edgeflare/pgcdc/pkg/watcher/wire"
)

// Config is this watcher's parameter shape, matching the auth fields the
// teacher's peer/clickhouse Connect fills from clickhouse.Options.
type Config struct {
	Addr     []string `mapstructure:"addr"`
	Database string   `mapstructure:"database"`
	Username string   `mapstructure:"username"`
	Password string   `mapstructure:"password"`
	Table    string   `mapstructure:"table"`
}

// withDefaults mirrors the teacher's peer/clickhouse Connect: unset address,
// database and auth fields are filled from PGCDC_CLICKHOUSE_* env vars rather
// than literal zero values, so a deployment can supply credentials without a
// config file.
func (c *Config) withDefaults() {
	if len(c.Addr) == 0 {
		c.Addr = []string{util.GetEnvOrDefault("PGCDC_CLICKHOUSE_ADDR", "localhost:9000")}
	}
	if c.Database == "" {
		c.Database = util.GetEnvOrDefault("PGCDC_CLICKHOUSE_DATABASE", "default")
	}
	if c.Username == "" {
		c.Username = util.GetEnvOrDefault("PGCDC_CLICKHOUSE_USERNAME", "default")
	}
	if c.Password == "" {
		c.Password = util.GetEnvOrDefault("PGCDC_CLICKHOUSE_PASSWORD", "")
	}
	if c.Table == "" {
		c.Table = "pgcdc_events"
	}
}

const createTableDDL = `
CREATE TABLE IF NOT EXISTS %s (
	kind String,
	xid UInt32,
	lsn String,
	schema String,
	"table" String,
	primary_key String,
	old String,
	new String,
	context String,
	ingested_at DateTime DEFAULT now()
) ENGINE = MergeTree ORDER BY (schema, table, lsn)
`

// Watcher appends Insert/Update/Delete events as rows in a single
// ClickHouse table. Begin/Commit are no-ops: there is no per-transaction
// row a sink table should carry.
type Watcher struct {
	watch.Base
	cfg  Config
	conn clickhouse.Conn
}

// New opens a connection per cfg and ensures the destination table exists.
func New(ctx context.Context, cfg Config) (*Watcher, error) {
	cfg.withDefaults()

	conn, err := clickhouse.Open(&clickhouse.Options{
		Addr: cfg.Addr,
		Auth: clickhouse.Auth{
			Database: cfg.Database,
			Username: cfg.Username,
			Password: cfg.Password,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("watcher/clickhouse: open: %w", err)
	}
	if err := conn.Ping(ctx); err != nil {
		return nil, fmt.Errorf("watcher/clickhouse: ping: %w", err)
	}
	if err := conn.Exec(ctx, fmt.Sprintf(createTableDDL, cfg.Table)); err != nil {
		return nil, fmt.Errorf("watcher/clickhouse: create table: %w", err)
	}

	return &Watcher{cfg: cfg, conn: conn}, nil
}

// OnEvent inserts row-change events; Begin/Commit are no-ops.
func (w *Watcher) OnEvent(e cdcevent.Event) error {
	env, ok := wire.FromEvent(e)
	if !ok {
		return nil
	}

	pk, err := json.Marshal(env.PrimaryKey)
	if err != nil {
		return fmt.Errorf("watcher/clickhouse: marshal primary key: %w", err)
	}
	oldRow, err := json.Marshal(env.Old)
	if err != nil {
		return fmt.Errorf("watcher/clickhouse: marshal old row: %w", err)
	}
	newRow, err := json.Marshal(env.New)
	if err != nil {
		return fmt.Errorf("watcher/clickhouse: marshal new row: %w", err)
	}
	ctxJSON, err := json.Marshal(env.Context)
	if err != nil {
		return fmt.Errorf("watcher/clickhouse: marshal context: %w", err)
	}

	q := fmt.Sprintf(
		`INSERT INTO %s (kind, xid, lsn, schema, "table", primary_key, old, new, context) VALUES (?,?,?,?,?,?,?,?,?)`,
		w.cfg.Table,
	)
	err = w.conn.Exec(context.Background(), q,
		env.Kind, env.Xid, env.LSN, env.Schema, env.Table,
		string(pk), string(oldRow), string(newRow), string(ctxJSON),
	)
	if err != nil {
		metrics.PublishErrors.WithLabelValues("clickhouse").Inc()
		return fmt.Errorf("watcher/clickhouse: insert: %w", err)
	}
	return nil
}

// Close closes the underlying connection.
func (w *Watcher) Close() error {
	return w.conn.Close()
}
