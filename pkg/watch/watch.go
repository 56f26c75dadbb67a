// Package watch defines the contract implemented by application code that
// consumes the replicator's event stream, generalized from the teacher's
// pipeline.Connector interface shape (pkg/pipeline/connector.go) to the
// three-method capability set §4.4 specifies.
package watch

import "github.com/edgeflare/pgcdc/pkg/cdcevent"

// Watcher receives the replicator's event stream in order, synchronously,
// in the replicator's own goroutine. A failing OnEvent aborts the stream;
// the replicator propagates the error to its caller (the Runner's retry
// loop, per §4.7).
type Watcher interface {
	// OnEvent is called for every Begin/Insert/Update/Delete/Commit event,
	// in server order.
	OnEvent(e cdcevent.Event) error

	// ShouldWatchTable reports whether row events for fullName ("schema.table"
	// or "table" for public) should be decoded and delivered at all. It is
	// consulted before row decoding; the relation cache lookup still occurs
	// regardless of the answer.
	ShouldWatchTable(fullName string) bool

	// ValidContextPrefix reports whether a logical message with this prefix
	// is accepted into the transaction's Context.
	ValidContextPrefix(prefix string) bool
}

// Base implements ShouldWatchTable and ValidContextPrefix as the spec's
// defaults (both true), so a Watcher need only embed Base and implement
// OnEvent for the common case of watching every table and accepting every
// context prefix.
type Base struct{}

func (Base) ShouldWatchTable(string) bool    { return true }
func (Base) ValidContextPrefix(string) bool  { return true }

// Func adapts a plain function to a Watcher with the default predicates.
type Func func(e cdcevent.Event) error

func (f Func) OnEvent(e cdcevent.Event) error   { return f(e) }
func (f Func) ShouldWatchTable(string) bool     { return true }
func (f Func) ValidContextPrefix(string) bool   { return true }
