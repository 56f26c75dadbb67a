package record

import (
	"context"
	"fmt"

	"github.com/edgeflare/pgcdc/pkg/cdcevent"
	"github.com/edgeflare/pgcdc/pkg/conn"
	"github.com/edgeflare/pgcdc/pkg/metrics"
	"github.com/edgeflare/pgcdc/pkg/watch"
)

// Watcher implements watch.Watcher as the RecordWatcher aggregation engine
// described in §4.5: it buffers each transaction's row events through a
// Backend, coalesces them per key, and on Commit delivers exactly one
// terminal event per (table, primary_key) to a Dispatcher.
type Watcher struct {
	watch.Base

	ctx        context.Context
	dispatcher *Dispatcher
	tempConn   conn.Conn // nil disables the temp-table backend; memory is always used then

	backend     Backend
	backendKind string
}

var _ watch.Watcher = (*Watcher)(nil)

// New builds a RecordWatcher. ctx bounds the lifetime of any temp-table DDL
// issued against tempConn; tempConn may be nil, in which case every
// transaction uses the in-memory backend regardless of estimated size.
func New(ctx context.Context, dispatcher *Dispatcher, tempConn conn.Conn) *Watcher {
	return &Watcher{ctx: ctx, dispatcher: dispatcher, tempConn: tempConn}
}

func (w *Watcher) ShouldWatchTable(fullName string) bool {
	for _, t := range w.dispatcher.Tables() {
		if t == fullName {
			return true
		}
	}
	return false
}

func (w *Watcher) OnEvent(e cdcevent.Event) error {
	switch ev := e.(type) {
	case cdcevent.BeginTransaction:
		return w.begin(ev)
	case cdcevent.Insert:
		if !ev.PrimaryKey.Valid() {
			return nil
		}
		return w.apply(aggregated{Table: ev.FullTableName(), PK: ev.PrimaryKey, Kind: cdcevent.KindInsert, New: ev.New, Context: ev.Context, Xid: ev.Xid, LSN: uint64(ev.LSN_)})
	case cdcevent.Update:
		if !ev.PrimaryKey.Valid() {
			return nil
		}
		return w.apply(aggregated{Table: ev.FullTableName(), PK: ev.PrimaryKey, Kind: cdcevent.KindUpdate, Old: ev.Old, New: ev.New, Context: ev.Context, Xid: ev.Xid, LSN: uint64(ev.LSN_)})
	case cdcevent.Delete:
		if !ev.PrimaryKey.Valid() {
			return nil
		}
		return w.apply(aggregated{Table: ev.FullTableName(), PK: ev.PrimaryKey, Kind: cdcevent.KindDelete, Old: ev.Old, Context: ev.Context, Xid: ev.Xid, LSN: uint64(ev.LSN_)})
	case cdcevent.CommitTransaction:
		return w.commit()
	default:
		return nil
	}
}

func (w *Watcher) begin(ev cdcevent.BeginTransaction) error {
	if ev.EstimatedSize() > EstimatedSizeThreshold && w.tempConn != nil {
		b, err := newTempTableBackend(w.ctx, w.tempConn)
		if err != nil {
			return fmt.Errorf("record: switch to temp-table backend: %w", err)
		}
		w.backend = b
		w.backendKind = "temptable"
	} else {
		w.backend = newMemoryBackend()
		w.backendKind = "memory"
	}
	return w.backend.Begin(w.ctx, ev.Xid)
}

func (w *Watcher) apply(a aggregated) error {
	if w.backend == nil {
		return fmt.Errorf("record: row event received before Begin")
	}
	return w.backend.Apply(w.ctx, a)
}

func (w *Watcher) commit() error {
	if w.backend == nil {
		return fmt.Errorf("record: commit received before Begin")
	}
	results, err := w.backend.Drain(w.ctx)
	discardErr := w.backend.Discard(w.ctx)
	metrics.AggregatorFlushSize.WithLabelValues(w.backendKind).Observe(float64(len(results)))
	w.backend = nil
	if err != nil {
		return err
	}

	for _, a := range results {
		if err := w.dispatcher.Dispatch(a.toEvent(), a.Table); err != nil {
			return err
		}
	}
	return discardErr
}
