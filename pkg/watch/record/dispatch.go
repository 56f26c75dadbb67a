package record

import (
	"github.com/edgeflare/pgcdc/pkg/cdcevent"
)

// Tabler lets a DSL registration name its table via a method instead of a
// literal string, mirroring the spec's "table may be a literal name or any
// object exposing table_name".
type Tabler interface {
	TableName() string
}

func tableNameOf(t any) string {
	switch v := t.(type) {
	case string:
		return v
	case Tabler:
		return v.TableName()
	default:
		return ""
	}
}

type handlerKind int

const (
	handlerInsert handlerKind = iota
	handlerUpdate
	handlerSave
	handlerDestroy
)

type registration struct {
	kind    handlerKind
	changed map[string]bool // nil means "any column"
	fn      func(cdcevent.Event) error
}

// Dispatcher holds the DSL's handler registrations, built once (typically
// at program startup) and then used read-only for the life of the watcher,
// the way the teacher's pipeline.Manager registers connectors once via
// RegisterConnector before Init runs.
type Dispatcher struct {
	byTable map[string][]registration
	order   []string
}

// NewDispatcher returns an empty Dispatcher.
func NewDispatcher() *Dispatcher {
	return &Dispatcher{byTable: make(map[string][]registration)}
}

func (d *Dispatcher) register(table any, r registration) *Dispatcher {
	name := tableNameOf(table)
	if _, ok := d.byTable[name]; !ok {
		d.order = append(d.order, name)
	}
	d.byTable[name] = append(d.byTable[name], r)
	return d
}

func changedSet(cols []string) map[string]bool {
	if cols == nil {
		return nil
	}
	s := make(map[string]bool, len(cols))
	for _, c := range cols {
		s[c] = true
	}
	return s
}

// OnInsert registers fn to fire on a terminal Insert for table.
func (d *Dispatcher) OnInsert(table any, fn func(cdcevent.Insert) error) *Dispatcher {
	return d.register(table, registration{kind: handlerInsert, fn: func(e cdcevent.Event) error {
		return fn(e.(cdcevent.Insert))
	}})
}

// OnUpdate registers fn to fire on a terminal Update for table, provided
// changed is empty or the event's diff intersects it.
func (d *Dispatcher) OnUpdate(table any, changed []string, fn func(cdcevent.Update) error) *Dispatcher {
	return d.register(table, registration{kind: handlerUpdate, changed: changedSet(changed), fn: func(e cdcevent.Event) error {
		return fn(e.(cdcevent.Update))
	}})
}

// OnSave registers fn to fire on a terminal Insert or a terminal Update
// whose diff intersects changed (when given).
func (d *Dispatcher) OnSave(table any, changed []string, fn func(cdcevent.Event) error) *Dispatcher {
	return d.register(table, registration{kind: handlerSave, changed: changedSet(changed), fn: fn})
}

// OnDestroy registers fn to fire on a terminal Delete for table.
func (d *Dispatcher) OnDestroy(table any, fn func(cdcevent.Delete) error) *Dispatcher {
	return d.register(table, registration{kind: handlerDestroy, fn: func(e cdcevent.Event) error {
		return fn(e.(cdcevent.Delete))
	}})
}

// Tables returns the union of every table name registered for any
// callback, used to override ShouldWatchTable per §4.5.
func (d *Dispatcher) Tables() []string {
	return append([]string(nil), d.order...)
}

func diffOf(e cdcevent.Event) map[string][2]any {
	switch ev := e.(type) {
	case cdcevent.Insert:
		return ev.Diff()
	case cdcevent.Update:
		return ev.Diff()
	case cdcevent.Delete:
		return ev.Diff()
	default:
		return nil
	}
}

func intersects(changed map[string]bool, diff map[string][2]any) bool {
	if changed == nil {
		return true
	}
	for k := range diff {
		if changed[k] {
			return true
		}
	}
	return false
}

// Dispatch delivers e to every handler registered for table, in
// registration order, per the kind/changed-columns rules of §4.5.
func (d *Dispatcher) Dispatch(e cdcevent.Event, table string) error {
	regs, ok := d.byTable[table]
	if !ok {
		return nil
	}

	kind := e.Kind()
	diff := diffOf(e)

	for _, r := range regs {
		switch r.kind {
		case handlerInsert:
			if kind != cdcevent.KindInsert {
				continue
			}
		case handlerUpdate:
			if kind != cdcevent.KindUpdate || !intersects(r.changed, diff) {
				continue
			}
		case handlerSave:
			if kind != cdcevent.KindInsert && kind != cdcevent.KindUpdate {
				continue
			}
			if kind == cdcevent.KindUpdate && !intersects(r.changed, diff) {
				continue
			}
		case handlerDestroy:
			if kind != cdcevent.KindDelete {
				continue
			}
		}
		if err := r.fn(e); err != nil {
			return err
		}
	}
	return nil
}
