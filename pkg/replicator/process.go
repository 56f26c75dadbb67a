package replicator

import (
	"github.com/jackc/pglogrepl"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/edgeflare/pgcdc/pkg/cdcevent"
	"github.com/edgeflare/pgcdc/pkg/coldecode"
	"github.com/edgeflare/pgcdc/pkg/relcache"
)

// decodeTuple turns a pgoutput TupleData into a DecodedRow keyed by the
// Relation's column names, using coldecode for each value. Columns whose
// server-sent state is "toast-unchanged" decode to coldecode.ToastUnchanged{},
// resolved by resolveToastUnchanged before the row is handed to a watcher.
func decodeTuple(typeMap *pgtype.Map, rel *relcache.Relation, tuple *pglogrepl.TupleData) (cdcevent.DecodedRow, error) {
	if tuple == nil {
		return nil, nil
	}
	row := make(cdcevent.DecodedRow, len(tuple.Columns))
	for i, col := range tuple.Columns {
		if i >= len(rel.Columns) {
			break // schema evolved mid-stream; caller will re-resolve on next Relation message
		}
		v, err := coldecode.DecodeNative(typeMap, coldecode.ColumnState(col.DataType), rel.Columns[i].DataType, col.Data)
		if err != nil {
			return nil, err
		}
		row[rel.Columns[i].Name] = v
	}
	return row, nil
}

// resolveToastUnchanged fills a ToastUnchanged marker in either old or new
// from the other image when both are present in the same Update message,
// per §3's DecodedRow rule. Any marker left unresolved becomes nil; the
// RecordWatcher aggregation engine carries such columns forward from prior
// in-transaction state for the same key.
func resolveToastUnchanged(old, new cdcevent.DecodedRow) {
	for k, v := range new {
		if _, unresolved := v.(coldecode.ToastUnchanged); !unresolved {
			continue
		}
		if old != nil {
			if ov, ok := old[k]; ok {
				if _, stillUnresolved := ov.(coldecode.ToastUnchanged); !stillUnresolved {
					new[k] = ov
					continue
				}
			}
		}
		new[k] = nil
	}
	for k, v := range old {
		if _, unresolved := v.(coldecode.ToastUnchanged); !unresolved {
			continue
		}
		if new != nil {
			if nv, ok := new[k]; ok {
				if _, stillUnresolved := nv.(coldecode.ToastUnchanged); !stillUnresolved {
					old[k] = nv
					continue
				}
			}
		}
		old[k] = nil
	}
}

// resolvePrimaryKey extracts the PK column values from row (preferring new
// over old, since Insert/Update resolve from the new image and Delete from
// whichever image it received) in the order relcache returned them, and
// coerces them via cdcevent.NewPrimaryKey.
func resolvePrimaryKey(pkColumns []string, row cdcevent.DecodedRow) (cdcevent.PrimaryKey, bool) {
	if len(pkColumns) == 0 || row == nil {
		return nil, false
	}
	values := make([]any, len(pkColumns))
	for i, c := range pkColumns {
		v, ok := row[c]
		if !ok {
			return nil, false
		}
		if _, unresolved := v.(coldecode.ToastUnchanged); unresolved {
			return nil, false
		}
		values[i] = v
	}
	return cdcevent.NewPrimaryKey(values)
}
