package record

import (
	"context"

	"github.com/edgeflare/pgcdc/pkg/cdcevent"
)

// Backend is the per-transaction aggregation strategy: in-memory or
// session-temporary-table. Begin resets state for a new transaction; Apply
// folds one decoded row-change event into the backend's running state per
// the coalescing law; Drain returns the terminal events in no particular
// order (the RecordWatcher delivers them to the dispatch DSL in whatever
// order Drain yields, since the spec places no ordering requirement across
// distinct keys); Discard releases any resources (drops the temp table).
type Backend interface {
	Begin(ctx context.Context, xid uint32) error
	Apply(ctx context.Context, e aggregated) error
	Drain(ctx context.Context) ([]aggregated, error)
	Discard(ctx context.Context) error
}

// EstimatedSizeThreshold is the BeginTransaction.estimated_size above which
// the RecordWatcher switches from the in-memory backend to the
// temporary-table backend, per §4.5. Values at or below zero (possible
// when final_lsn <= lsn) are treated as "use memory", per the spec's open
// question decision.
const EstimatedSizeThreshold = 2 * 1024 * 1024 * 1024 // 2 GiB

type key struct {
	table string
	pk    string
}

func keyFor(table string, pk cdcevent.PrimaryKey) key {
	return key{table: table, pk: pk.String()}
}
