package uow

import (
	"context"
	"errors"

	"github.com/syssam/strata/record"
)

// Session routes the saves and deletes of instances through a coordinator.
// It implements record.Store: instances bound to a session are journaled by
// Save and Delete instead of being written at once.
type Session struct {
	*Coordinator
	store record.Store
}

// NewSession returns a session journaling into c. Refreshes go to store.
func NewSession(c *Coordinator, store record.Store) *Session {
	return &Session{Coordinator: c, store: store}
}

// Save journals inst. It reports whether an entry was recorded or merged.
func (s *Session) Save(ctx context.Context, inst *record.Instance) (bool, error) {
	if err := s.Add(ctx, inst); err != nil {
		return false, err
	}
	_, ok := s.log.Entry(inst)
	return ok, nil
}

// Delete journals a delete of inst.
func (s *Session) Delete(ctx context.Context, inst *record.Instance) (bool, error) {
	if err := s.Coordinator.Delete(ctx, inst); err != nil {
		return false, err
	}
	return true, nil
}

// Refresh reloads fields of inst from the underlying store.
func (s *Session) Refresh(ctx context.Context, inst *record.Instance, fields ...string) error {
	return s.store.Refresh(ctx, inst, fields...)
}

// Bind makes s the store of every instance.
func (s *Session) Bind(insts ...*record.Instance) {
	for _, inst := range insts {
		inst.Bind(s)
	}
}

// Run opens a transaction, calls fn with a context carrying the session
// and commits. When fn fails the transaction is rolled back and the
// instances are reverted.
func (s *Session) Run(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := s.Begin(); err != nil {
		return err
	}
	if err := fn(NewContext(ctx, s)); err != nil {
		return errors.Join(err, s.Rollback(ctx, true))
	}
	return s.Commit(ctx)
}

type sessionCtxKey struct{}

// NewContext returns a context carrying s.
func NewContext(ctx context.Context, s *Session) context.Context {
	return context.WithValue(ctx, sessionCtxKey{}, s)
}

// FromContext returns the session carried by ctx, or nil.
func FromContext(ctx context.Context) *Session {
	s, _ := ctx.Value(sessionCtxKey{}).(*Session)
	return s
}

var _ record.Store = (*Session)(nil)
