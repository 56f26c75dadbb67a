package record

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edgeflare/pgcdc/pkg/cdcevent"
)

func feedTransaction(t *testing.T, w *Watcher, xid uint32, estimatedSize int64, events []cdcevent.Event) {
	t.Helper()
	require.NoError(t, w.OnEvent(cdcevent.BeginTransaction{Xid: xid, LSN_: 1, FinalLSN: pglogreplLSN(uint64(estimatedSize) + 1)}))
	for _, e := range events {
		require.NoError(t, w.OnEvent(e))
	}
	require.NoError(t, w.OnEvent(cdcevent.CommitTransaction{Xid: xid}))
}

// scenario 1: insert then update in one tx -> single Insert with latest values.
func TestInsertThenUpdateCollapsesToSingleInsert(t *testing.T) {
	var got []cdcevent.Insert
	d := NewDispatcher()
	d.OnInsert("records", func(e cdcevent.Insert) error { got = append(got, e); return nil })
	w := New(context.Background(), d, nil)

	pk := cdcevent.PrimaryKey{int64(42)}
	feedTransaction(t, w, 1, 0, []cdcevent.Event{
		cdcevent.Insert{Xid: 1, Schema: "public", Table: "records", PrimaryKey: pk, New: cdcevent.DecodedRow{"id": int64(42), "name": "OriginalName"}},
		cdcevent.Update{Xid: 1, Schema: "public", Table: "records", PrimaryKey: pk, Old: cdcevent.DecodedRow{"id": int64(42), "name": "OriginalName"}, New: cdcevent.DecodedRow{"id": int64(42), "name": "UpdatedName"}},
	})

	require.Len(t, got, 1)
	assert.Equal(t, "UpdatedName", got[0].New["name"])
	assert.Equal(t, pk.Scalar(), got[0].PrimaryKey.Scalar())
}

// insert then update where the update leaves a TOASTed column unresolved
// (nil, per non-FULL replica identity omitting it from the old image) must
// carry that column's value forward from the insert's own New image rather
// than losing it in the collapsed Insert.
func TestInsertThenUpdateCarriesForwardUnresolvedToastColumn(t *testing.T) {
	var got []cdcevent.Insert
	d := NewDispatcher()
	d.OnInsert("records", func(e cdcevent.Insert) error { got = append(got, e); return nil })
	w := New(context.Background(), d, nil)

	pk := cdcevent.PrimaryKey{int64(42)}
	feedTransaction(t, w, 1, 0, []cdcevent.Event{
		cdcevent.Insert{Xid: 1, Schema: "public", Table: "records", PrimaryKey: pk, New: cdcevent.DecodedRow{"id": int64(42), "name": "OriginalName", "body": "large-toasted-value"}},
		cdcevent.Update{Xid: 1, Schema: "public", Table: "records", PrimaryKey: pk, Old: cdcevent.DecodedRow{"id": int64(42), "name": "OriginalName"}, New: cdcevent.DecodedRow{"id": int64(42), "name": "UpdatedName", "body": nil}},
	})

	require.Len(t, got, 1)
	assert.Equal(t, "UpdatedName", got[0].New["name"])
	assert.Equal(t, "large-toasted-value", got[0].New["body"])
}

// scenario 2: update then delete -> single Delete with original old preserved.
func TestUpdateThenDeletePreservesOriginalOld(t *testing.T) {
	var got []cdcevent.Delete
	d := NewDispatcher()
	d.OnDestroy("records", func(e cdcevent.Delete) error { got = append(got, e); return nil })
	w := New(context.Background(), d, nil)

	pk := cdcevent.PrimaryKey{int64(7)}
	feedTransaction(t, w, 1, 0, []cdcevent.Event{
		cdcevent.Update{Xid: 1, Schema: "public", Table: "records", PrimaryKey: pk, Old: cdcevent.DecodedRow{"name": "OriginalName"}, New: cdcevent.DecodedRow{"name": "UpdatedName"}},
		cdcevent.Delete{Xid: 1, Schema: "public", Table: "records", PrimaryKey: pk, Old: cdcevent.DecodedRow{"name": "UpdatedName"}},
	})

	require.Len(t, got, 1)
	assert.Equal(t, "OriginalName", got[0].Old["name"])
}

// scenario 3: composite PK, an insert and a later update both carry the composite key.
func TestCompositePrimaryKeyPreservedThroughLifecycle(t *testing.T) {
	var inserts []cdcevent.Insert
	var updates []cdcevent.Update
	d := NewDispatcher()
	d.OnInsert("order_items", func(e cdcevent.Insert) error { inserts = append(inserts, e); return nil })
	d.OnUpdate("order_items", nil, func(e cdcevent.Update) error { updates = append(updates, e); return nil })
	w := New(context.Background(), d, nil)

	pk := cdcevent.PrimaryKey{int64(2), int64(200)}
	feedTransaction(t, w, 1, 0, []cdcevent.Event{
		cdcevent.Insert{Xid: 1, Table: "order_items", PrimaryKey: pk, New: cdcevent.DecodedRow{"quantity": int64(10)}},
	})
	// second transaction: update
	feedTransaction(t, w, 2, 0, []cdcevent.Event{
		cdcevent.Update{Xid: 2, Table: "order_items", PrimaryKey: pk, Old: cdcevent.DecodedRow{"quantity": int64(10)}, New: cdcevent.DecodedRow{"quantity": int64(20)}},
	})

	require.Len(t, inserts, 1)
	assert.Equal(t, []any{int64(2), int64(200)}, inserts[0].PrimaryKey.Scalar())

	require.Len(t, updates, 1)
	assert.Equal(t, int64(10), updates[0].Old["quantity"])
	assert.Equal(t, int64(20), updates[0].New["quantity"])
}

// insert+delete in the same tx must erase the key entirely.
func TestInsertThenDeleteEmitsNothing(t *testing.T) {
	var insertCount, destroyCount int
	d := NewDispatcher()
	d.OnInsert("records", func(e cdcevent.Insert) error { insertCount++; return nil })
	d.OnDestroy("records", func(e cdcevent.Delete) error { destroyCount++; return nil })
	w := New(context.Background(), d, nil)

	pk := cdcevent.PrimaryKey{int64(1)}
	feedTransaction(t, w, 1, 0, []cdcevent.Event{
		cdcevent.Insert{Xid: 1, Table: "records", PrimaryKey: pk, New: cdcevent.DecodedRow{"id": int64(1)}},
		cdcevent.Delete{Xid: 1, Table: "records", PrimaryKey: pk, Old: cdcevent.DecodedRow{"id": int64(1)}},
	})

	assert.Equal(t, 0, insertCount)
	assert.Equal(t, 0, destroyCount)
}

func TestUpdateThenUpdateKeepsOriginalOldAndLatestNew(t *testing.T) {
	var got []cdcevent.Update
	d := NewDispatcher()
	d.OnUpdate("records", nil, func(e cdcevent.Update) error { got = append(got, e); return nil })
	w := New(context.Background(), d, nil)

	pk := cdcevent.PrimaryKey{int64(1)}
	feedTransaction(t, w, 1, 0, []cdcevent.Event{
		cdcevent.Update{Xid: 1, Table: "records", PrimaryKey: pk, Old: cdcevent.DecodedRow{"v": int64(1)}, New: cdcevent.DecodedRow{"v": int64(2)}},
		cdcevent.Update{Xid: 1, Table: "records", PrimaryKey: pk, Old: cdcevent.DecodedRow{"v": int64(2)}, New: cdcevent.DecodedRow{"v": int64(3)}},
	})

	require.Len(t, got, 1)
	assert.Equal(t, int64(1), got[0].Old["v"])
	assert.Equal(t, int64(3), got[0].New["v"])
}

func TestUnresolvablePrimaryKeyIgnoredByAggregator(t *testing.T) {
	var count int
	d := NewDispatcher()
	d.OnInsert("records", func(e cdcevent.Insert) error { count++; return nil })
	w := New(context.Background(), d, nil)

	feedTransaction(t, w, 1, 0, []cdcevent.Event{
		cdcevent.Insert{Xid: 1, Table: "records", PrimaryKey: cdcevent.PrimaryKey{3.14}, New: cdcevent.DecodedRow{"v": int64(1)}},
	})
	assert.Equal(t, 0, count)
}

func TestEstimatedSizeAtOrBelowZeroUsesMemoryBackend(t *testing.T) {
	w := New(context.Background(), NewDispatcher(), nil)
	require.NoError(t, w.begin(cdcevent.BeginTransaction{Xid: 1, LSN_: 100, FinalLSN: 100}))
	_, ok := w.backend.(*memoryBackend)
	assert.True(t, ok)
}

func TestLargeTransactionWithNoTempConnStaysOnMemory(t *testing.T) {
	w := New(context.Background(), NewDispatcher(), nil)
	require.NoError(t, w.begin(cdcevent.BeginTransaction{Xid: 1, LSN_: 0, FinalLSN: pglogreplLSN(EstimatedSizeThreshold + 1)}))
	_, ok := w.backend.(*memoryBackend)
	assert.True(t, ok, "without a temp-table connection the watcher must not crash; it stays on memory")
}

func TestOnSaveFiresForInsertButNotNonMatchingUpdate(t *testing.T) {
	var saves int
	d := NewDispatcher()
	d.OnSave("records", []string{"name"}, func(e cdcevent.Event) error { saves++; return nil })
	w := New(context.Background(), d, nil)

	pk1 := cdcevent.PrimaryKey{int64(1)}
	feedTransaction(t, w, 1, 0, []cdcevent.Event{
		cdcevent.Insert{Xid: 1, Table: "records", PrimaryKey: pk1, New: cdcevent.DecodedRow{"name": "a"}},
	})
	assert.Equal(t, 1, saves)

	pk2 := cdcevent.PrimaryKey{int64(2)}
	feedTransaction(t, w, 2, 0, []cdcevent.Event{
		cdcevent.Update{Xid: 2, Table: "records", PrimaryKey: pk2, Old: cdcevent.DecodedRow{"name": "a", "other": int64(1)}, New: cdcevent.DecodedRow{"name": "a", "other": int64(2)}},
	})
	// "other" changed but not "name": OnSave filters by changed=["name"], so this must not fire.
	assert.Equal(t, 1, saves)
}
