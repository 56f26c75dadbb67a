package watch

import (
	"fmt"

	"github.com/edgeflare/pgcdc/pkg/cdcevent"
)

// DefaultQueueSize is the bounded FIFO capacity StreamingWatcher uses when
// QueueSize returns 0, per §4.6.
const DefaultQueueSize = 5000

// Handler processes one transaction's events as they arrive, reading from
// stream until it closes (immediately after yielding the Commit event).
type Handler func(stream <-chan cdcevent.Event) error

// QueueSizer lets the handler size the per-transaction queue from the
// Begin event; implement it alongside Handler when the default 5000 isn't
// right for a given workload.
type QueueSizer interface {
	QueueSize(begin cdcevent.BeginTransaction) int
}

// StreamingWatcher hands events to handler on a single parallel worker per
// transaction with a bounded, back-pressured queue, instead of waiting for
// the whole transaction to buffer before any processing starts. Exactly one
// worker is alive at a time; worker failure is captured and re-raised to
// the producer at commit time so the replicator's stream aborts rather than
// silently losing work.
type StreamingWatcher struct {
	Base
	handler    Handler
	queueSizer QueueSizer

	queue    chan cdcevent.Event
	done     chan error
	workerOn bool
}

// NewStreamingWatcher builds a StreamingWatcher around handler. sizer may be
// nil to always use DefaultQueueSize.
func NewStreamingWatcher(handler Handler, sizer QueueSizer) *StreamingWatcher {
	return &StreamingWatcher{handler: handler, queueSizer: sizer}
}

func (w *StreamingWatcher) OnEvent(e cdcevent.Event) error {
	switch begin := e.(type) {
	case cdcevent.BeginTransaction:
		return w.startTransaction(begin)
	case cdcevent.CommitTransaction:
		return w.finishTransaction(e)
	default:
		if !w.workerOn {
			return fmt.Errorf("streamingwatcher: event %s received outside a transaction", e.Kind())
		}
		w.queue <- e
		return nil
	}
}

func (w *StreamingWatcher) startTransaction(begin cdcevent.BeginTransaction) error {
	size := DefaultQueueSize
	if w.queueSizer != nil {
		if n := w.queueSizer.QueueSize(begin); n > 0 {
			size = n
		}
	}

	w.queue = make(chan cdcevent.Event, size)
	w.done = make(chan error, 1)
	w.workerOn = true

	w.queue <- cdcevent.Event(begin)

	go func() {
		w.done <- w.handler(w.queue)
	}()
	return nil
}

func (w *StreamingWatcher) finishTransaction(commit cdcevent.Event) error {
	if !w.workerOn {
		return fmt.Errorf("streamingwatcher: commit received without a prior begin")
	}
	w.queue <- commit
	close(w.queue)

	err := <-w.done
	w.workerOn = false
	w.queue = nil
	w.done = nil
	return err
}
