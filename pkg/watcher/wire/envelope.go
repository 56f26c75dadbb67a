// Package wire defines the JSON wire representation sink watchers
// (pkg/watcher/kafka, mqtt, nats, clickhouse) publish to external systems.
//
// cdcevent.Event is a closed sum type with no shared exported field set, so
// it cannot be marshaled directly the way the teacher's single flat
// cdc.Event struct (pkg/pipeline/cdc/cdc.go) was; Envelope is the
// equivalent flattened shape for the new five-variant model.
package wire

import (
	"time"

	"github.com/edgeflare/pgcdc/pkg/cdcevent"
)

// Envelope is the sink-facing JSON shape of one row-change event.
type Envelope struct {
	Kind      string         `json:"kind"`
	Xid       uint32         `json:"xid"`
	LSN       string         `json:"lsn"`
	Schema    string         `json:"schema"`
	Table     string         `json:"table"`
	PrimaryKey []any         `json:"primary_key,omitempty"`
	Old       map[string]any `json:"old,omitempty"`
	New       map[string]any `json:"new,omitempty"`
	Context   map[string]any `json:"context,omitempty"`
}

// FromEvent flattens a row-change Event into an Envelope. It returns
// ok=false for BeginTransaction/CommitTransaction, which carry no row
// payload sink watchers would publish.
func FromEvent(e cdcevent.Event) (Envelope, bool) {
	switch ev := e.(type) {
	case cdcevent.Insert:
		return Envelope{
			Kind: "insert", Xid: ev.Xid, LSN: ev.LSN().String(),
			Schema: ev.Schema, Table: ev.Table,
			PrimaryKey: []any(ev.PrimaryKey), New: ev.New, Context: ev.Context,
		}, true
	case cdcevent.Update:
		return Envelope{
			Kind: "update", Xid: ev.Xid, LSN: ev.LSN().String(),
			Schema: ev.Schema, Table: ev.Table,
			PrimaryKey: []any(ev.PrimaryKey), Old: ev.Old, New: ev.New, Context: ev.Context,
		}, true
	case cdcevent.Delete:
		return Envelope{
			Kind: "delete", Xid: ev.Xid, LSN: ev.LSN().String(),
			Schema: ev.Schema, Table: ev.Table,
			PrimaryKey: []any(ev.PrimaryKey), Old: ev.Old, Context: ev.Context,
		}, true
	default:
		return Envelope{}, false
	}
}

// Subject formats the dot-separated routing key ("prefix.schema.table.kind")
// the teacher's Kafka/NATS peers both derive topics/subjects from.
func Subject(prefix string, env Envelope) string {
	if prefix == "" {
		prefix = "pgcdc"
	}
	return prefix + "." + env.Schema + "." + env.Table + "." + env.Kind
}

var _ = time.Now // retained: Envelope intentionally carries no wall-clock stamp of its own (LSN orders events); keeps this file's import list stable if a Timestamp field is added later.
