package uow

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"slices"

	"github.com/dominikbraun/graph"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/syssam/strata"
	"github.com/syssam/strata/dialect"
	"github.com/syssam/strata/record"
)

var (
	// ErrNotSent is returned when the target reports that a write changed
	// no row.
	ErrNotSent = errors.New("uow: write affected no row")

	// ErrNoHistory is returned by UndoCommit when no log was committed.
	ErrNoHistory = errors.New("uow: no committed transaction to undo")

	// ErrNoTransactions is returned when a backend cannot run transactions.
	ErrNoTransactions = errors.New("uow: backend does not support transactions")
)

// Target performs the writes of a coordinator. It is implemented by the
// database object that owns the models.
type Target interface {
	// Backend returns the backend that stores model.
	Backend(model string) (dialect.Backend, error)
	// Send writes inst to its backend and updates its in-memory state. It
	// reports false when the database changed no row.
	Send(ctx context.Context, op Op, inst *record.Instance) (bool, error)
	// Identity returns the identity map the target caches instances in.
	Identity() *record.IdentityMap
}

// State is the lifecycle state of a coordinator.
type State uint8

// Coordinator states.
const (
	Idle State = iota
	Started
	Committed
	RolledBack
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Started:
		return "started"
	case Committed:
		return "committed"
	case RolledBack:
		return "rolled back"
	}
	return "unknown"
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithLogger sets the logger. The default is slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(c *Coordinator) { c.logger = l }
}

// WithAutoflush sends every add and delete as soon as it is journaled.
func WithAutoflush() Option {
	return func(c *Coordinator) { c.autoflush = true }
}

// WithRetry replays the log and commits once more when a commit fails.
func WithRetry() Option {
	return func(c *Coordinator) { c.retry = true }
}

// WithJournal writes every committed log to w as msgpack records.
func WithJournal(w io.Writer) Option {
	return func(c *Coordinator) { c.journal = msgpack.NewEncoder(w) }
}

// Distributed makes implicitly started transactions distributed.
func Distributed() Option {
	return func(c *Coordinator) { c.defaultDistributed = true }
}

// Coordinator is a unit of work. It journals saves and deletes, sends them
// in dependency order, and commits them on every backend it touched.
//
// A coordinator is not safe for concurrent use.
type Coordinator struct {
	target  Target
	logger  *slog.Logger
	journal *msgpack.Encoder

	autoflush          bool
	retry              bool
	defaultDistributed bool

	state       State
	distributed bool
	log         *Log
	history     []*Log
	backends    []dialect.Backend
	begun       map[string]bool
	txIDs       map[string]string
}

// New returns an idle coordinator writing through target.
func New(target Target, opts ...Option) *Coordinator {
	c := &Coordinator{
		target: target,
		logger: slog.Default(),
		log:    NewLog(),
		begun:  make(map[string]bool),
		txIDs:  make(map[string]string),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// State returns the lifecycle state.
func (c *Coordinator) State() State { return c.state }

// Log returns the log of the current or last transaction.
func (c *Coordinator) Log() *Log { return c.log }

// History returns the committed logs, oldest first.
func (c *Coordinator) History() []*Log { return slices.Clone(c.history) }

// Begin opens a transaction. Backends are only asked to begin once the
// first entry is sent.
func (c *Coordinator) Begin() error { return c.open(false) }

// BeginDistributed opens a transaction that may span several backends.
// Every participating backend must implement dialect.Distributed.
func (c *Coordinator) BeginDistributed() error { return c.open(true) }

func (c *Coordinator) open(distributed bool) error {
	if c.state == Started {
		return strata.NewTransactionError("begin", false, strata.ErrTxStarted)
	}
	c.reset()
	c.distributed = distributed
	c.state = Started
	return nil
}

func (c *Coordinator) reset() {
	c.log = NewLog()
	c.backends = nil
	c.distributed = c.defaultDistributed
	clear(c.begun)
	clear(c.txIDs)
}

// Add journals a save of inst. Instances with no changes are ignored, and
// so are instances already scheduled for deletion.
func (c *Coordinator) Add(ctx context.Context, inst *record.Instance) error {
	if inst.IsDeleted() {
		return strata.NewTransactionError("add", false, strata.ErrDeleted)
	}
	if !c.tracks(inst) && !inst.IsNew() && !inst.IsDirty() {
		return nil
	}
	name, err := c.join(inst)
	if err != nil {
		return err
	}
	if _, ok, err := c.log.add(inst, name); err != nil || !ok || !c.autoflush {
		return err
	}
	return c.Flush(ctx)
}

// Delete journals a delete of inst. Deleting an instance whose insert was
// never sent cancels the insert.
func (c *Coordinator) Delete(ctx context.Context, inst *record.Instance) error {
	if inst.IsDeleted() {
		return strata.NewTransactionError("delete", false, strata.ErrDeleted)
	}
	if !c.tracks(inst) && inst.IsNew() {
		return nil
	}
	name, err := c.join(inst)
	if err != nil {
		return err
	}
	if e := c.log.delete(inst, name); e == nil || !c.autoflush {
		return nil
	}
	return c.Flush(ctx)
}

// tracks reports whether inst has an entry in the open transaction.
func (c *Coordinator) tracks(inst *record.Instance) bool {
	if c.state != Started {
		return false
	}
	_, ok := c.log.Entry(inst)
	return ok
}

// join starts the transaction if needed and captures the backend of inst.
func (c *Coordinator) join(inst *record.Instance) (string, error) {
	if c.state != Started {
		c.reset()
	}
	b, err := c.target.Backend(inst.Meta().Name)
	if err != nil {
		return "", err
	}
	if c.backend(b.Name()) == nil {
		switch {
		case c.distributed && !dialect.SupportsTwoPhase(b):
			return "", strata.NewTransactionError("join", false, fmt.Errorf("%s: %w", b.Name(), dialect.ErrTwoPhaseUnsupported))
		case !c.distributed && len(c.backends) > 0:
			return "", strata.NewTransactionError("join", false, fmt.Errorf("%s: %w", b.Name(), strata.ErrSecondBackend))
		}
		if _, ok := b.(dialect.Transactional); !ok {
			return "", strata.NewTransactionError("join", false, fmt.Errorf("%s: %w", b.Name(), ErrNoTransactions))
		}
		c.backends = append(c.backends, b)
	}
	c.state = Started
	return b.Name(), nil
}

func (c *Coordinator) backend(name string) dialect.Backend {
	for _, b := range c.backends {
		if b.Name() == name {
			return b
		}
	}
	return nil
}

// active returns the backends with an open transaction, in join order.
func (c *Coordinator) active() []dialect.Transactional {
	var out []dialect.Transactional
	for _, b := range c.backends {
		if c.begun[b.Name()] {
			out = append(out, b.(dialect.Transactional))
		}
	}
	return out
}

func (c *Coordinator) begin(ctx context.Context, name string) error {
	if c.begun[name] {
		return nil
	}
	b := c.backend(name)
	if c.distributed {
		id, err := b.(dialect.Distributed).StartDistributed(ctx)
		if err != nil {
			return strata.NewTransactionError("begin", false, fmt.Errorf("%s: %w", name, err))
		}
		c.txIDs[name] = id
	} else if err := b.(dialect.Transactional).BeginTransaction(ctx); err != nil {
		return strata.NewTransactionError("begin", false, fmt.Errorf("%s: %w", name, err))
	}
	c.begun[name] = true
	c.logger.Debug("uow: transaction started", "backend", name, "distributed", c.distributed)
	return nil
}

// Flush sends every pending entry. An entry whose instance references a
// new instance through an unset foreign key is sent after the insert of
// that instance; other entries keep the order they joined the log in.
func (c *Coordinator) Flush(ctx context.Context) error {
	if c.state != Started {
		return nil
	}
	entries, err := c.log.ordered()
	if err != nil {
		return strata.NewTransactionError("flush", false, err)
	}
	for _, e := range entries {
		if err := c.begin(ctx, e.Backend); err != nil {
			return err
		}
		if err := c.send(ctx, e); err != nil {
			return err
		}
	}
	return nil
}

func (c *Coordinator) send(ctx context.Context, e *Entry) error {
	op := e.Op
	var changes []record.Change
	if op != OpDelete {
		if err := e.Inst.SyncRelations(); err != nil {
			return err
		}
		changes = e.Inst.Changes()
		if op == OpInsert && !e.Inst.IsNew() {
			op = OpUpdate
		}
	}
	ok, err := c.target.Send(ctx, op, e.Inst)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: %s %s", ErrNotSent, op, e.Inst)
	}
	e.capture(changes)
	e.settle()
	c.log.index(e)
	e.pending = false
	return nil
}

// Commit flushes the log and commits every backend. A distributed commit
// runs both phases and, when any backend fails the first, undoes the commit
// on all of them.
//
// With retry enabled, a failed commit rolls back, replays the log and is
// attempted once more. A failed distributed commit is fatal: the target
// already reported writes that did not persist. The coordinator never rolls
// back on its own after a failed commit.
func (c *Coordinator) Commit(ctx context.Context) error {
	if c.state != Started {
		return nil
	}
	err := c.commit(ctx)
	if err != nil && c.retry {
		c.logger.Warn("uow: commit failed, replaying log", "error", err)
		if err = c.replay(ctx); err == nil {
			err = c.commit(ctx)
		}
	}
	if err != nil {
		if strata.IsTransactionError(err) {
			return err
		}
		return strata.NewTransactionError("commit", c.distributed, err)
	}
	if c.journal != nil {
		if err := writeJournal(c.journal, c.log); err != nil {
			c.logger.Error("uow: journal write failed", "error", err)
		}
	}
	c.history = append(c.history, c.log)
	c.state = Committed
	c.logger.Debug("uow: transaction committed", "entries", c.log.Len())
	return nil
}

func (c *Coordinator) commit(ctx context.Context) error {
	if err := c.Flush(ctx); err != nil {
		return err
	}
	if c.distributed {
		return c.commitDistributed(ctx)
	}
	for _, b := range c.active() {
		if err := b.Commit(ctx); err != nil {
			return fmt.Errorf("commit %s: %w", b.Name(), err)
		}
		delete(c.begun, b.Name())
	}
	return nil
}

func (c *Coordinator) commitDistributed(ctx context.Context) error {
	var (
		active = c.active()
		errs   []error
	)
	for _, b := range active {
		id := c.txIDs[b.Name()]
		if err := b.(dialect.Distributed).TryCommit(ctx, id); err != nil {
			errs = append(errs, fmt.Errorf("prepare %s: %w", b.Name(), err))
		}
	}
	if len(errs) > 0 {
		for _, b := range active {
			if err := b.(dialect.Distributed).UndoCommit(ctx, c.txIDs[b.Name()]); err != nil {
				errs = append(errs, &strata.RollbackError{Backend: b.Name(), Err: err})
			}
			delete(c.begun, b.Name())
		}
		return strata.NewAggregateError(errs...)
	}
	for _, b := range active {
		if err := b.(dialect.Distributed).FinishCommit(ctx, c.txIDs[b.Name()]); err != nil {
			errs = append(errs, fmt.Errorf("commit %s: %w", b.Name(), err))
		}
		delete(c.begun, b.Name())
	}
	return strata.NewAggregateError(errs...)
}

// replay rolls back what is still open and rewinds every entry so that the
// whole log is sent again.
func (c *Coordinator) replay(ctx context.Context) error {
	if err := c.rollbackBackends(ctx); err != nil {
		c.logger.Warn("uow: rollback before replay failed", "error", err)
	}
	clear(c.begun)
	clear(c.txIDs)
	identity := c.target.Identity()
	entries := c.log.Entries()
	for _, e := range slices.Backward(entries) {
		inst := e.Inst
		if e.created {
			identity.Forget(inst)
		}
		if e.transient() {
			inst.Restore(e.Before)
			inst.MarkDeleted()
			c.log.remove(e)
			continue
		}
		current, before := inst.Values(), e.Before.Values()
		inst.Restore(e.Before)
		for name, v := range current {
			// Generated keys are assigned again by the next insert.
			if e.created && before[name] == nil && slices.Contains(inst.Meta().PrimaryKey, name) {
				continue
			}
			if err := inst.Set(name, v); err != nil {
				return err
			}
		}
		if e.Op == OpDelete {
			identity.Put(inst)
		}
		e.Old = make(map[string]any)
		if e.Op == OpUpdate {
			e.New = make(map[string]any)
		} else {
			e.New = nil
		}
		e.pending = true
	}
	return nil
}

func (c *Coordinator) rollbackBackends(ctx context.Context) error {
	var errs []error
	for _, b := range c.active() {
		if err := b.Rollback(ctx); err != nil {
			errs = append(errs, &strata.RollbackError{Backend: b.Name(), Err: err})
		}
		delete(c.begun, b.Name())
	}
	return strata.NewAggregateError(errs...)
}

// Rollback rolls back every backend, even when one of them fails. With
// revert, every instance in the log gets its pre-transaction state back:
// inserted instances are new again and leave the identity map, updated
// ones get their old values and deleted ones return to the identity map.
// Effects observed outside the instances are not undone.
//
// Rollback is a no-op when no transaction is started.
func (c *Coordinator) Rollback(ctx context.Context, revert bool) error {
	if c.state != Started {
		return nil
	}
	err := c.rollbackBackends(ctx)
	if revert {
		identity := c.target.Identity()
		for _, e := range slices.Backward(c.log.Entries()) {
			e.revertAliases()
			if e.created {
				identity.Forget(e.Inst)
				e.Inst.Restore(e.Before)
				continue
			}
			e.Inst.Restore(e.Before)
			e.Inst.Revert()
			if e.Op == OpDelete {
				identity.Put(e.Inst)
			}
		}
	}
	c.state = RolledBack
	c.logger.Debug("uow: transaction rolled back", "entries", c.log.Len(), "revert", revert)
	return err
}

// UndoCommit starts a transaction that applies the inverse of the last
// committed log: inserted rows are deleted, deleted rows are inserted again
// and updated fields get their old values. It flushes but does not commit.
func (c *Coordinator) UndoCommit(ctx context.Context) error {
	if c.state == Started {
		return strata.NewTransactionError("undo", false, strata.ErrTxStarted)
	}
	if len(c.history) == 0 {
		return strata.NewTransactionError("undo", false, ErrNoHistory)
	}
	last := c.history[len(c.history)-1]
	c.history = c.history[:len(c.history)-1]
	if err := c.open(c.distributed); err != nil {
		return err
	}
	for _, e := range slices.Backward(last.entries) {
		if e.transient() {
			continue
		}
		inv := e.inverse()
		switch inv.Op {
		case OpDelete:
			if err := c.Delete(ctx, e.Inst); err != nil {
				return err
			}
		case OpInsert:
			inst, err := record.New(e.Inst.Meta(), inv.New)
			if err != nil {
				return err
			}
			inst.Bind(e.Inst.Store())
			if err := c.Add(ctx, inst); err != nil {
				return err
			}
		case OpUpdate:
			for name, v := range inv.New {
				if err := e.Inst.Set(name, v); err != nil {
					return err
				}
			}
			if err := c.Add(ctx, e.Inst); err != nil {
				return err
			}
		}
	}
	return c.Flush(ctx)
}

// ordered returns the pending entries in send order.
func (l *Log) ordered() ([]*Entry, error) {
	pending := l.pending()
	g := graph.New(func(e *Entry) int { return e.seq }, graph.Directed(), graph.PreventCycles())
	for _, e := range pending {
		if err := g.AddVertex(e); err != nil {
			return nil, err
		}
	}
	for _, e := range pending {
		if e.Op == OpDelete {
			continue
		}
		for _, dep := range e.Inst.Dependencies() {
			d, ok := l.Entry(dep)
			if !ok || !d.pending || d == e {
				continue
			}
			if err := g.AddEdge(d.seq, e.seq); err != nil && !errors.Is(err, graph.ErrEdgeAlreadyExists) {
				return nil, fmt.Errorf("ordering %s after %s: %w", e.Inst, dep, err)
			}
		}
	}
	seqs, err := graph.StableTopologicalSort(g, func(a, b int) bool { return a < b })
	if err != nil {
		return nil, err
	}
	out := make([]*Entry, len(seqs))
	for n, seq := range seqs {
		e, err := g.Vertex(seq)
		if err != nil {
			return nil, err
		}
		out[n] = e
	}
	return out, nil
}
