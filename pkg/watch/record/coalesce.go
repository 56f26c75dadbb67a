// Package record implements the RecordWatcher aggregation engine: a
// per-transaction deduplicator presenting one terminal event per
// (table, primary_key), with interchangeable in-memory and
// session-temporary-table backends selected by transaction size.
//
// The coalescing law has no teacher precedent (pkg/pipeline has no
// equivalent); its registration-at-construction DSL is modeled on the
// teacher's pipeline.Manager/RegisterConnector idiom of attaching handlers
// once at startup rather than dispatching dynamically per event.
package record

import (
	"github.com/jackc/pglogrepl"

	"github.com/edgeflare/pgcdc/pkg/cdcevent"
)

func pglogreplLSN(v uint64) pglogrepl.LSN { return pglogrepl.LSN(v) }

// carryForwardUnresolved fills a key left nil in newRow (an unresolved
// TOAST-unchanged marker the replicator couldn't settle from the Update
// message's own old/new pair) from the previous in-transaction image for
// the same key, per §3's DecodedRow rule: "otherwise they remain null in
// that column's place and are carried forward by the aggregation engine
// from prior in-transaction state".
func carryForwardUnresolved(prevNew, newRow cdcevent.DecodedRow) cdcevent.DecodedRow {
	for k, v := range prevNew {
		if cur, ok := newRow[k]; ok && cur == nil {
			newRow[k] = v
		}
	}
	return newRow
}

// aggregated is the backend-neutral representation of one in-progress
// terminal event for a (table, primary_key) pair within a transaction.
type aggregated struct {
	Table   string
	PK      cdcevent.PrimaryKey
	Kind    cdcevent.EventKind // Insert, Update, or Delete
	Old     cdcevent.DecodedRow
	New     cdcevent.DecodedRow
	Context cdcevent.Context
	Xid     uint32
	LSN     uint64
}

// coalesce applies §4.5's coalescing law: prior is the aggregator's current
// state for this key (nil if none yet); incoming is the just-decoded event.
// A nil result means the key's change has been fully erased within this
// transaction (insert immediately followed by delete) and must not be
// delivered.
func coalesce(prior *aggregated, incoming aggregated) *aggregated {
	if prior == nil {
		return &incoming
	}

	switch prior.Kind {
	case cdcevent.KindInsert:
		switch incoming.Kind {
		case cdcevent.KindInsert:
			return &incoming // overwrite
		case cdcevent.KindUpdate:
			merged := incoming
			merged.Kind = cdcevent.KindInsert // keep as insert, refresh data
			merged.Old = nil
			merged.New = carryForwardUnresolved(prior.New, incoming.New)
			return &merged
		case cdcevent.KindDelete:
			return nil // erase: inserted and deleted within the same tx
		}

	case cdcevent.KindUpdate:
		switch incoming.Kind {
		case cdcevent.KindInsert:
			return &incoming // shouldn't occur; last-write-wins
		case cdcevent.KindUpdate:
			merged := incoming
			merged.Old = prior.Old // keep original old
			merged.New = carryForwardUnresolved(prior.New, incoming.New)
			return &merged
		case cdcevent.KindDelete:
			merged := incoming
			merged.Kind = cdcevent.KindDelete
			merged.Old = prior.Old // keep original old
			return &merged
		}

	case cdcevent.KindDelete:
		switch incoming.Kind {
		case cdcevent.KindInsert:
			return &incoming
		case cdcevent.KindUpdate:
			merged := incoming
			merged.Kind = cdcevent.KindUpdate
			return &merged
		case cdcevent.KindDelete:
			return prior // idempotent
		}
	}

	return &incoming
}

// toEvent rebuilds a concrete cdcevent.Event from the aggregator's terminal
// state for delivery to the dispatch DSL.
func (a aggregated) toEvent() cdcevent.Event {
	lsn := pglogreplLSN(a.LSN)
	switch a.Kind {
	case cdcevent.KindInsert:
		return cdcevent.Insert{Xid: a.Xid, LSN_: lsn, Context: a.Context, Schema: a.schema(), Table: a.tableOnly(), PrimaryKey: a.PK, New: a.New}
	case cdcevent.KindUpdate:
		return cdcevent.Update{Xid: a.Xid, LSN_: lsn, Context: a.Context, Schema: a.schema(), Table: a.tableOnly(), PrimaryKey: a.PK, Old: a.Old, New: a.New}
	case cdcevent.KindDelete:
		return cdcevent.Delete{Xid: a.Xid, LSN_: lsn, Context: a.Context, Schema: a.schema(), Table: a.tableOnly(), PrimaryKey: a.PK, Old: a.Old}
	default:
		return nil
	}
}

func (a aggregated) schema() string {
	s, _ := splitFullTableName(a.Table)
	return s
}

func (a aggregated) tableOnly() string {
	_, t := splitFullTableName(a.Table)
	return t
}

func splitFullTableName(full string) (schema, table string) {
	for i := 0; i < len(full); i++ {
		if full[i] == '.' {
			return full[:i], full[i+1:]
		}
	}
	return "public", full
}
