package uow

import (
	"maps"
	"slices"

	"github.com/syssam/strata/record"
)

// Op is the logical write an entry performs.
type Op uint8

// Entry operations.
const (
	OpInsert Op = iota + 1
	OpUpdate
	OpDelete
)

func (op Op) String() string {
	switch op {
	case OpInsert:
		return "insert"
	case OpUpdate:
		return "update"
	case OpDelete:
		return "delete"
	}
	return "unknown"
}

// Entry is the journaled write of one row. Repeated adds of the same
// instance merge into one entry, and so do adds of other objects loaded for
// the same row.
type Entry struct {
	Op      Op
	Inst    *record.Instance
	Backend string
	// Before is the state of the instance when it joined the log.
	Before record.State
	// Old holds the values the written fields had before the transaction:
	// changed fields for updates, every field for deletes.
	Old map[string]any
	// New holds the values written: changed fields for updates, every field
	// for inserts.
	New map[string]any

	seq     int
	pending bool
	created bool
	// aliases are other objects of the row whose changes were folded into
	// Inst.
	aliases []alias
}

type alias struct {
	inst   *record.Instance
	before record.State
}

// Pending reports whether the entry has changes that were not sent yet.
func (e *Entry) Pending() bool { return e.pending }

// transient reports whether the entry inserts and deletes the same row, so
// it leaves no trace once committed.
func (e *Entry) transient() bool { return e.created && e.Op == OpDelete }

// track records inst as another object of the row of e.
func (e *Entry) track(inst *record.Instance) {
	if inst == e.Inst || slices.ContainsFunc(e.aliases, func(a alias) bool { return a.inst == inst }) {
		return
	}
	e.aliases = append(e.aliases, alias{inst: inst, before: inst.Snapshot()})
}

// adopt folds the changes of another object of the row into Inst.
func (e *Entry) adopt(inst *record.Instance) error {
	e.track(inst)
	for _, c := range inst.Changes() {
		if err := e.Inst.Set(c.Field, c.New); err != nil {
			return err
		}
	}
	return nil
}

// settle brings the aliases in line with what a send wrote.
func (e *Entry) settle() {
	for _, a := range e.aliases {
		if e.Op == OpDelete {
			a.inst.MarkDeleted()
			continue
		}
		a.inst.MarkPersisted()
		a.inst.Refill(e.Inst.Values())
	}
}

// revertAliases gives the aliases their state from before they joined.
func (e *Entry) revertAliases() {
	for _, a := range e.aliases {
		a.inst.Restore(a.before)
		a.inst.Revert()
	}
}

// capture records what a successful send wrote.
func (e *Entry) capture(changes []record.Change) {
	switch e.Op {
	case OpInsert:
		e.New = e.Inst.Values()
	case OpUpdate:
		for _, c := range changes {
			if _, ok := e.Old[c.Field]; !ok {
				e.Old[c.Field] = c.Old
			}
			e.New[c.Field] = c.New
		}
	}
}

// inverse returns the write that undoes e.
func (e *Entry) inverse() *Entry {
	inv := &Entry{Inst: e.Inst, Backend: e.Backend, Old: maps.Clone(e.New), New: maps.Clone(e.Old)}
	switch e.Op {
	case OpInsert:
		inv.Op = OpDelete
	case OpDelete:
		inv.Op = OpInsert
	default:
		inv.Op = OpUpdate
	}
	return inv
}

// Log is the ordered set of entries of one transaction. Entries are found
// by instance and, once the row exists, by model and primary key.
type Log struct {
	entries []*Entry
	byInst  map[*record.Instance]*Entry
	byKey   map[record.Key]*Entry
	seq     int
}

// NewLog returns an empty log.
func NewLog() *Log {
	return &Log{
		byInst: make(map[*record.Instance]*Entry),
		byKey:  make(map[record.Key]*Entry),
	}
}

// Entries returns the entries in the order they joined the log.
func (l *Log) Entries() []*Entry { return slices.Clone(l.entries) }

// Len returns the number of entries.
func (l *Log) Len() int { return len(l.entries) }

// Entry returns the entry of inst, or of the row inst was loaded for.
func (l *Log) Entry(inst *record.Instance) (*Entry, bool) {
	if e, ok := l.byInst[inst]; ok {
		return e, true
	}
	if inst.IsNew() {
		return nil, false
	}
	k, ok := inst.Key()
	if !ok {
		return nil, false
	}
	e, ok := l.byKey[k]
	return e, ok
}

// index makes e reachable by the key of its row.
func (l *Log) index(e *Entry) {
	if e.Inst.IsNew() {
		return
	}
	if k, ok := e.Inst.Key(); ok {
		l.byKey[k] = e
	}
}

// add journals a save of inst. It reports false when nothing was recorded:
// the instance has no changes or is already scheduled for deletion.
func (l *Log) add(inst *record.Instance, backend string) (*Entry, bool, error) {
	if e, ok := l.Entry(inst); ok {
		if e.Op == OpDelete {
			return e, false, nil
		}
		if e.Inst != inst {
			if err := e.adopt(inst); err != nil {
				return nil, false, err
			}
		}
		if e.Inst.IsDirty() {
			e.pending = true
		}
		return e, e.pending, nil
	}
	if !inst.IsDirty() && !inst.IsNew() {
		return nil, false, nil
	}
	op := OpUpdate
	if inst.IsNew() {
		op = OpInsert
	}
	return l.append(&Entry{Op: op, Inst: inst, Backend: backend}), true, nil
}

// delete journals a delete of inst. Deleting an instance whose insert was
// never sent drops the entry instead.
func (l *Log) delete(inst *record.Instance, backend string) *Entry {
	values := inst.Values()
	if !inst.IsNew() {
		// Unsent changes never reached the database.
		maps.Copy(values, inst.Dirty())
	}
	if e, ok := l.Entry(inst); ok {
		e.track(inst)
		if e.Op == OpInsert && e.New == nil {
			l.remove(e)
			return nil
		}
		if e.Op != OpDelete {
			e.Old = e.mergedOld(values)
		}
		e.Op, e.New, e.pending = OpDelete, nil, true
		return e
	}
	if inst.IsNew() {
		return nil
	}
	return l.append(&Entry{Op: OpDelete, Inst: inst, Backend: backend, Old: values})
}

// mergedOld returns the full pre-transaction values of a deleted instance:
// fields an earlier send changed keep their original value.
func (e *Entry) mergedOld(current map[string]any) map[string]any {
	for name, v := range e.Old {
		current[name] = v
	}
	return current
}

func (l *Log) append(e *Entry) *Entry {
	e.Before = e.Inst.Snapshot()
	e.seq = l.seq
	e.pending = true
	e.created = e.Op == OpInsert
	if e.Old == nil {
		e.Old = make(map[string]any)
	}
	if e.New == nil && e.Op == OpUpdate {
		e.New = make(map[string]any)
	}
	l.seq++
	l.entries = append(l.entries, e)
	l.byInst[e.Inst] = e
	l.index(e)
	return e
}

func (l *Log) remove(e *Entry) {
	delete(l.byInst, e.Inst)
	if k, ok := e.Inst.Key(); ok && l.byKey[k] == e {
		delete(l.byKey, k)
	}
	l.entries = slices.DeleteFunc(l.entries, func(x *Entry) bool { return x == e })
}

// pending returns the entries that still have to be sent.
func (l *Log) pending() []*Entry {
	var out []*Entry
	for _, e := range l.entries {
		if e.pending {
			out = append(out, e)
		}
	}
	return out
}
