// Package cdcevent defines the row-change event model produced by the
// replicator and consumed by watchers.
package cdcevent

import (
	"fmt"
	"time"

	"github.com/jackc/pglogrepl"
)

// DecodedRow maps column name to decoded native value (or nil).
type DecodedRow map[string]any

// Context is per-transaction metadata injected via logical decoding messages
// and merged into every row event of the transaction that follows it.
type Context map[string]any

// Clone returns a shallow copy, used when handing Context to an event so
// later in-transaction mutation of the live context doesn't retroactively
// change events already emitted.
func (c Context) Clone() Context {
	if c == nil {
		return nil
	}
	out := make(Context, len(c))
	for k, v := range c {
		out[k] = v
	}
	return out
}

// PrimaryKey is an ordered tuple of scalar (int64 or string) values. A
// single-element PrimaryKey represents a scalar key; longer ones represent
// composite keys.
type PrimaryKey []any

// Scalar returns the sole element for a single-column key, or itself
// (as []any) when composite. Used for display/comparison purposes.
func (pk PrimaryKey) Scalar() any {
	if len(pk) == 1 {
		return pk[0]
	}
	return []any(pk)
}

func (pk PrimaryKey) String() string {
	return fmt.Sprintf("%v", pk.Scalar())
}

// Valid reports whether every element is an int64 or string, per the data
// model's rule that keys unresolvable to only integers/strings are dropped.
func (pk PrimaryKey) Valid() bool {
	if len(pk) == 0 {
		return false
	}
	for _, v := range pk {
		switch v.(type) {
		case int64, string:
		default:
			return false
		}
	}
	return true
}

// EventKind discriminates the closed set of Event variants.
type EventKind int

const (
	KindBeginTransaction EventKind = iota
	KindInsert
	KindUpdate
	KindDelete
	KindCommitTransaction
)

func (k EventKind) String() string {
	switch k {
	case KindBeginTransaction:
		return "begin"
	case KindInsert:
		return "insert"
	case KindUpdate:
		return "update"
	case KindDelete:
		return "delete"
	case KindCommitTransaction:
		return "commit"
	default:
		return "unknown"
	}
}

// Event is the closed sum type of row-change and transaction-delimiter
// events. Concrete variants are BeginTransaction, Insert, Update, Delete,
// and CommitTransaction; Kind reports which one a value is, and the
// unexported marker method prevents other packages from adding variants,
// keeping call sites' type switches exhaustive.
type Event interface {
	Kind() EventKind
	XID() uint32
	LSN() pglogrepl.LSN
	isEvent()
}

// BeginTransaction opens a transaction's event sequence.
type BeginTransaction struct {
	Xid       uint32
	LSN_      pglogrepl.LSN
	FinalLSN  pglogrepl.LSN
	Timestamp time.Time
}

func (e BeginTransaction) Kind() EventKind    { return KindBeginTransaction }
func (e BeginTransaction) XID() uint32        { return e.Xid }
func (e BeginTransaction) LSN() pglogrepl.LSN { return e.LSN_ }
func (e BeginTransaction) isEvent()           {}

// EstimatedSize approximates the transaction's WAL footprint in bytes.
// final_lsn <= lsn yields a non-positive value, which callers must treat as
// "use the in-memory aggregation strategy", not as an error.
func (e BeginTransaction) EstimatedSize() int64 {
	return int64(e.FinalLSN) - int64(e.LSN_)
}

// Insert is a row-change event carrying only the new row image.
type Insert struct {
	Xid        uint32
	LSN_       pglogrepl.LSN
	Context    Context
	Schema     string
	Table      string
	PrimaryKey PrimaryKey
	New        DecodedRow
}

func (e Insert) Kind() EventKind    { return KindInsert }
func (e Insert) XID() uint32        { return e.Xid }
func (e Insert) LSN() pglogrepl.LSN { return e.LSN_ }
func (e Insert) isEvent()           {}

// FullTableName returns "schema.table", or just "table" for the public schema.
func (e Insert) FullTableName() string { return fullTableName(e.Schema, e.Table) }

// Attribute returns the new value for column k.
func (e Insert) Attribute(k string) any { return e.New[k] }

// Diff reports every new column as a (nil, v) pair, per spec's RecordWatcher diff rule.
func (e Insert) Diff() map[string][2]any {
	d := make(map[string][2]any, len(e.New))
	for k, v := range e.New {
		d[k] = [2]any{nil, v}
	}
	return d
}

// ChangedAttribute reports whether k is present in Diff.
func (e Insert) ChangedAttribute(k string) bool {
	_, ok := e.New[k]
	return ok
}

// Update carries both the pre- and post-image of a changed row.
type Update struct {
	Xid        uint32
	LSN_       pglogrepl.LSN
	Context    Context
	Schema     string
	Table      string
	PrimaryKey PrimaryKey
	Old        DecodedRow
	New        DecodedRow
}

func (e Update) Kind() EventKind    { return KindUpdate }
func (e Update) XID() uint32        { return e.Xid }
func (e Update) LSN() pglogrepl.LSN { return e.LSN_ }
func (e Update) isEvent()           {}

func (e Update) FullTableName() string { return fullTableName(e.Schema, e.Table) }

func (e Update) Attribute(k string) any    { return e.New[k] }
func (e Update) AttributeWas(k string) any { return e.Old[k] }

// Diff reports keys where Old and New disagree, per spec's diff rule.
func (e Update) Diff() map[string][2]any {
	d := make(map[string][2]any)
	for k, nv := range e.New {
		ov, ok := e.Old[k]
		if !ok || !valuesEqual(ov, nv) {
			d[k] = [2]any{ov, nv}
		}
	}
	return d
}

func (e Update) ChangedAttribute(k string) bool {
	_, changed := e.Diff()[k]
	return changed
}

// Delete carries only the pre-image of the removed row.
type Delete struct {
	Xid        uint32
	LSN_       pglogrepl.LSN
	Context    Context
	Schema     string
	Table      string
	PrimaryKey PrimaryKey
	Old        DecodedRow
}

func (e Delete) Kind() EventKind    { return KindDelete }
func (e Delete) XID() uint32        { return e.Xid }
func (e Delete) LSN() pglogrepl.LSN { return e.LSN_ }
func (e Delete) isEvent()           {}

func (e Delete) FullTableName() string { return fullTableName(e.Schema, e.Table) }

func (e Delete) AttributeWas(k string) any { return e.Old[k] }

func (e Delete) Diff() map[string][2]any {
	d := make(map[string][2]any, len(e.Old))
	for k, v := range e.Old {
		d[k] = [2]any{v, nil}
	}
	return d
}

func (e Delete) ChangedAttribute(k string) bool {
	_, ok := e.Old[k]
	return ok
}

// CommitTransaction closes a transaction's event sequence.
type CommitTransaction struct {
	Xid       uint32
	LSN_      pglogrepl.LSN
	Context   Context
	Timestamp time.Time
}

func (e CommitTransaction) Kind() EventKind    { return KindCommitTransaction }
func (e CommitTransaction) XID() uint32        { return e.Xid }
func (e CommitTransaction) LSN() pglogrepl.LSN { return e.LSN_ }
func (e CommitTransaction) isEvent()           {}

// FullTableName returns "schema.table", or just "table" for the public
// schema, per §4.3's naming rule.
func FullTableName(schema, table string) string {
	if schema == "public" || schema == "" {
		return table
	}
	return schema + "." + table
}

func fullTableName(schema, table string) string { return FullTableName(schema, table) }

func valuesEqual(a, b any) bool {
	return fmt.Sprint(a) == fmt.Sprint(b) && (a == nil) == (b == nil)
}
