package record

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/edgeflare/pgcdc/pkg/cdcevent"
	"github.com/edgeflare/pgcdc/pkg/conn"
)

// marshalPrimaryKey renders a PrimaryKey's int64/string elements as a JSON
// array, preserving per-element type, so a composite key round-trips
// through the temp table without flattening to a single text column.
func marshalPrimaryKey(pk cdcevent.PrimaryKey) ([]byte, error) {
	return json.Marshal([]any(pk))
}

// unmarshalPrimaryKey is marshalPrimaryKey's inverse. It decodes JSON
// numbers via json.Number rather than the default float64 so integer
// elements come back as int64, matching cdcevent.NewPrimaryKey's own
// int64/string-only contract.
func unmarshalPrimaryKey(data []byte) (cdcevent.PrimaryKey, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var raw []any
	if err := dec.Decode(&raw); err != nil {
		return nil, fmt.Errorf("record: decode primary key: %w", err)
	}
	pk := make(cdcevent.PrimaryKey, len(raw))
	for i, v := range raw {
		switch e := v.(type) {
		case json.Number:
			n, err := e.Int64()
			if err != nil {
				return nil, fmt.Errorf("record: primary key element %d not an integer: %w", i, err)
			}
			pk[i] = n
		case string:
			pk[i] = e
		default:
			return nil, fmt.Errorf("record: primary key element %d has unsupported type %T", i, v)
		}
	}
	return pk, nil
}

// tempTableBackend spills aggregation state to a session-temporary table
// when a transaction's estimated WAL footprint exceeds EstimatedSizeThreshold,
// per §4.5. It uses a dedicated connection (never the replication
// connection), matching §5's "same pool policy as the host application"
// rule and the teacher's habit of giving each concern its own pgx handle
// (pkg/pg.PoolManager).
type tempTableBackend struct {
	conn  conn.Conn
	table string
}

func newTempTableBackend(ctx context.Context, c conn.Conn) (*tempTableBackend, error) {
	table := "temp_record_watcher_" + strings.ReplaceAll(uuid.NewString(), "-", "_")
	b := &tempTableBackend{conn: c, table: table}

	ddl := fmt.Sprintf(`CREATE TEMPORARY TABLE %s (
		xid bigint NOT NULL,
		lsn bigint NOT NULL,
		action text NOT NULL,
		table_name text NOT NULL,
		primary_key text NOT NULL,
		pk_json jsonb NOT NULL,
		old jsonb,
		new jsonb,
		context jsonb
	)`, table)
	if _, err := c.Exec(ctx, ddl); err != nil {
		return nil, fmt.Errorf("record: create temp table %s: %w", table, err)
	}

	idx := fmt.Sprintf(`CREATE UNIQUE INDEX ON %s (table_name, primary_key)`, table)
	if _, err := c.Exec(ctx, idx); err != nil {
		return nil, fmt.Errorf("record: index temp table %s: %w", table, err)
	}
	return b, nil
}

func (b *tempTableBackend) Begin(ctx context.Context, xid uint32) error {
	return nil // table is created fresh per transaction by the RecordWatcher
}

func (b *tempTableBackend) Apply(ctx context.Context, e aggregated) error {
	k := keyFor(e.Table, e.PK)

	prior, err := b.lookup(ctx, k)
	if err != nil {
		return err
	}

	merged := coalesce(prior, e)
	if merged == nil {
		_, err := b.conn.Exec(ctx, fmt.Sprintf(`DELETE FROM %s WHERE table_name = $1 AND primary_key = $2`, b.table), k.table, k.pk)
		return err
	}

	oldJSON, err := json.Marshal(merged.Old)
	if err != nil {
		return err
	}
	newJSON, err := json.Marshal(merged.New)
	if err != nil {
		return err
	}
	ctxJSON, err := json.Marshal(merged.Context)
	if err != nil {
		return err
	}
	pkJSON, err := marshalPrimaryKey(merged.PK)
	if err != nil {
		return err
	}

	upsert := fmt.Sprintf(`
		INSERT INTO %s (xid, lsn, action, table_name, primary_key, pk_json, old, new, context)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (table_name, primary_key) DO UPDATE SET
			xid = EXCLUDED.xid, lsn = EXCLUDED.lsn, action = EXCLUDED.action,
			pk_json = EXCLUDED.pk_json, old = EXCLUDED.old, new = EXCLUDED.new, context = EXCLUDED.context`, b.table)
	_, err = b.conn.Exec(ctx, upsert, merged.Xid, merged.LSN, merged.Kind.String(), k.table, k.pk, pkJSON, oldJSON, newJSON, ctxJSON)
	return err
}

func (b *tempTableBackend) lookup(ctx context.Context, k key) (*aggregated, error) {
	row := b.conn.QueryRow(ctx, fmt.Sprintf(
		`SELECT xid, lsn, action, pk_json, old, new, context FROM %s WHERE table_name = $1 AND primary_key = $2`, b.table),
		k.table, k.pk)

	var xid, lsn int64
	var action string
	var pkJSON, oldJSON, newJSON, ctxJSON []byte
	if err := row.Scan(&xid, &lsn, &action, &pkJSON, &oldJSON, &newJSON, &ctxJSON); err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}

	a := &aggregated{Table: k.table, Xid: uint32(xid), LSN: uint64(lsn), Kind: kindFromAction(action)}
	if pk, err := unmarshalPrimaryKey(pkJSON); err == nil {
		a.PK = pk
	}
	if len(oldJSON) > 0 {
		_ = json.Unmarshal(oldJSON, &a.Old)
	}
	if len(newJSON) > 0 {
		_ = json.Unmarshal(newJSON, &a.New)
	}
	if len(ctxJSON) > 0 {
		_ = json.Unmarshal(ctxJSON, &a.Context)
	}
	return a, nil
}

// drainBatchSize bounds each round trip Drain makes to the server, so a
// transaction that touched millions of keys doesn't materialize the whole
// result set in memory at once.
const drainBatchSize = 1000

func (b *tempTableBackend) Drain(ctx context.Context) ([]aggregated, error) {
	var out []aggregated
	offset := 0
	for {
		rows, err := b.conn.Query(ctx, fmt.Sprintf(
			`SELECT xid, lsn, action, table_name, pk_json, old, new, context FROM %s ORDER BY lsn LIMIT $1 OFFSET $2`, b.table),
			drainBatchSize, offset)
		if err != nil {
			return nil, err
		}

		n := 0
		for rows.Next() {
			var xid, lsn int64
			var action, tableName string
			var pkJSON, oldJSON, newJSON, ctxJSON []byte
			if err := rows.Scan(&xid, &lsn, &action, &tableName, &pkJSON, &oldJSON, &newJSON, &ctxJSON); err != nil {
				rows.Close()
				return nil, err
			}
			// pk_json carries the primary key as a typed JSON array, so a
			// composite key's per-column int64/string types round-trip intact
			// instead of flattening to the table's (table_name, primary_key)
			// text index column, which exists only to drive ON CONFLICT.
			pk, err := unmarshalPrimaryKey(pkJSON)
			if err != nil {
				rows.Close()
				return nil, err
			}
			a := aggregated{Table: tableName, Xid: uint32(xid), LSN: uint64(lsn), Kind: kindFromAction(action), PK: pk}
			if len(oldJSON) > 0 {
				_ = json.Unmarshal(oldJSON, &a.Old)
			}
			if len(newJSON) > 0 {
				_ = json.Unmarshal(newJSON, &a.New)
			}
			if len(ctxJSON) > 0 {
				_ = json.Unmarshal(ctxJSON, &a.Context)
			}
			out = append(out, a)
			n++
		}
		err = rows.Err()
		rows.Close()
		if err != nil {
			return nil, err
		}
		if n < drainBatchSize {
			return out, nil
		}
		offset += n
	}
}

func (b *tempTableBackend) Discard(ctx context.Context) error {
	_, err := b.conn.Exec(ctx, fmt.Sprintf(`DROP TABLE IF EXISTS %s`, b.table))
	return err
}

func kindFromAction(action string) cdcevent.EventKind {
	switch action {
	case "insert":
		return cdcevent.KindInsert
	case "update":
		return cdcevent.KindUpdate
	case "delete":
		return cdcevent.KindDelete
	default:
		return cdcevent.KindInsert
	}
}
