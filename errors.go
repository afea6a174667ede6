package strata

import (
	"errors"
	"fmt"
	"strings"
)

// Standard sentinel errors.
var (
	// ErrNotFound is returned when a lookup that requires one row finds none.
	ErrNotFound = errors.New("strata: model not found")

	// ErrNotSingular is returned when a lookup that requires one row finds more.
	ErrNotSingular = errors.New("strata: model not singular")

	// ErrDeleted is returned when writing to a model that has been deleted.
	ErrDeleted = errors.New("strata: model is deleted")

	// ErrSecondBackend is returned when a model from another backend joins a
	// transaction that was not opened as distributed.
	ErrSecondBackend = errors.New("strata: transaction already bound to another backend")

	// ErrTxStarted is returned when opening a transaction that is already open.
	ErrTxStarted = errors.New("strata: transaction already started")
)

// NotFoundError reports that no row matched a single-row lookup.
type NotFoundError struct {
	Model string
	Key   any
}

// Error returns the error string.
func (e *NotFoundError) Error() string {
	if e.Key != nil {
		return fmt.Sprintf("strata: %s not found (pk=%v)", e.Model, e.Key)
	}
	return fmt.Sprintf("strata: %s not found", e.Model)
}

// Is makes errors.Is(err, ErrNotFound) hold.
func (e *NotFoundError) Is(err error) bool { return err == ErrNotFound }

// NewNotFoundError returns a NotFoundError for model.
func NewNotFoundError(model string) *NotFoundError { return &NotFoundError{Model: model} }

// IsNotFound reports whether err is a not-found error.
func IsNotFound(err error) bool { return err != nil && errors.Is(err, ErrNotFound) }

// NotSingularError reports that a single-row lookup matched several rows.
type NotSingularError struct {
	Model string
	Count int
}

// Error returns the error string.
func (e *NotSingularError) Error() string {
	if e.Count > 0 {
		return fmt.Sprintf("strata: %s not singular (got %d rows)", e.Model, e.Count)
	}
	return fmt.Sprintf("strata: %s not singular", e.Model)
}

// Is makes errors.Is(err, ErrNotSingular) hold.
func (e *NotSingularError) Is(err error) bool { return err == ErrNotSingular }

// NewNotSingularError returns a NotSingularError for model.
func NewNotSingularError(model string, count int) *NotSingularError {
	return &NotSingularError{Model: model, Count: count}
}

// IsNotSingular reports whether err is a not-singular error.
func IsNotSingular(err error) bool { return err != nil && errors.Is(err, ErrNotSingular) }

// ConfigError reports invalid model metadata. It is raised when a model is
// inspected and is not recoverable per request.
type ConfigError struct {
	Model string
	Msg   string
}

// Error returns the error string.
func (e *ConfigError) Error() string {
	return fmt.Sprintf("strata: model %s: %s", e.Model, e.Msg)
}

// NewConfigError returns a ConfigError with a formatted message.
func NewConfigError(model, format string, args ...any) *ConfigError {
	return &ConfigError{Model: model, Msg: fmt.Sprintf(format, args...)}
}

// IsConfigError reports whether err is a ConfigError.
func IsConfigError(err error) bool {
	var e *ConfigError
	return errors.As(err, &e)
}

// QueryError reports a query that cannot be compiled.
type QueryError struct {
	Model string
	Op    string
	Err   error
}

// Error returns the error string.
func (e *QueryError) Error() string {
	if e.Op != "" {
		return fmt.Sprintf("strata: querying %s (%s): %v", e.Model, e.Op, e.Err)
	}
	return fmt.Sprintf("strata: querying %s: %v", e.Model, e.Err)
}

// Unwrap returns the underlying error.
func (e *QueryError) Unwrap() error { return e.Err }

// NewQueryError returns a QueryError.
func NewQueryError(model, op string, err error) *QueryError {
	return &QueryError{Model: model, Op: op, Err: err}
}

// IsQueryError reports whether err is, or wraps, a query error.
func IsQueryError(err error) bool {
	var (
		qe *QueryError
		le *LookupError
		ue *UnsupportedLookupError
	)
	return errors.As(err, &qe) || errors.As(err, &le) || errors.As(err, &ue)
}

// LookupError reports a field path segment that names nothing on a model.
type LookupError struct {
	Model   string
	Segment string
	Path    string
}

// Error returns the error string.
func (e *LookupError) Error() string {
	return fmt.Sprintf("strata: cannot resolve %q in %q: %s has no field, relation or annotation of that name", e.Segment, e.Path, e.Model)
}

// UnsupportedLookupError reports a lookup or transform that is not
// registered for a field kind or any of its ancestors.
type UnsupportedLookupError struct {
	Lookup string
	Kind   string
}

// Error returns the error string.
func (e *UnsupportedLookupError) Error() string {
	return fmt.Sprintf("strata: unsupported lookup %q for %s fields", e.Lookup, e.Kind)
}

// TransactionError reports a unit-of-work failure. Fatal errors mean that
// listeners were already notified of writes that did not persist.
type TransactionError struct {
	Op    string
	Fatal bool
	Err   error
}

// Error returns the error string.
func (e *TransactionError) Error() string {
	if e.Fatal {
		return fmt.Sprintf("strata: fatal transaction failure during %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("strata: transaction %s: %v", e.Op, e.Err)
}

// Unwrap returns the underlying error.
func (e *TransactionError) Unwrap() error { return e.Err }

// NewTransactionError returns a TransactionError.
func NewTransactionError(op string, fatal bool, err error) *TransactionError {
	return &TransactionError{Op: op, Fatal: fatal, Err: err}
}

// IsTransactionError reports whether err is a TransactionError.
func IsTransactionError(err error) bool {
	var e *TransactionError
	return errors.As(err, &e)
}

// IsFatal reports whether err is a fatal TransactionError.
func IsFatal(err error) bool {
	var e *TransactionError
	return errors.As(err, &e) && e.Fatal
}

// ConstraintError represents a database constraint violation.
type ConstraintError struct {
	msg  string
	wrap error
}

// Error returns the error string.
func (e ConstraintError) Error() string {
	return fmt.Sprintf("strata: constraint failed: %s", e.msg)
}

// Unwrap returns the underlying error.
func (e ConstraintError) Unwrap() error { return e.wrap }

// NewConstraintError returns a ConstraintError.
func NewConstraintError(msg string, wrap error) error {
	return ConstraintError{msg: msg, wrap: wrap}
}

// IsConstraintError reports whether err is a ConstraintError.
func IsConstraintError(err error) bool {
	var e ConstraintError
	return errors.As(err, &e)
}

// ValidationError represents a field value rejected by a validator.
type ValidationError struct {
	Name string
	Err  error
}

// Error returns the error string.
func (e *ValidationError) Error() string {
	return fmt.Sprintf("strata: validator failed for field %q: %s", e.Name, e.Err)
}

// Unwrap returns the underlying error.
func (e *ValidationError) Unwrap() error { return e.Err }

// IsValidationError reports whether err is a ValidationError.
func IsValidationError(err error) bool {
	var e *ValidationError
	return errors.As(err, &e)
}

// AggregateError collects errors from an operation applied to several
// backends.
type AggregateError struct {
	Errors []error
}

// Error returns the error string.
func (e *AggregateError) Error() string {
	if len(e.Errors) == 1 {
		return e.Errors[0].Error()
	}
	var sb strings.Builder
	sb.WriteString("strata: multiple errors:")
	for i, err := range e.Errors {
		fmt.Fprintf(&sb, "\n  [%d] %v", i+1, err)
	}
	return sb.String()
}

// Unwrap returns the collected errors.
func (e *AggregateError) Unwrap() []error { return e.Errors }

// NewAggregateError returns nil when every error is nil, the error itself
// when exactly one is set, and an AggregateError otherwise.
func NewAggregateError(errs ...error) error {
	var filtered []error
	for _, err := range errs {
		if err != nil {
			filtered = append(filtered, err)
		}
	}
	switch len(filtered) {
	case 0:
		return nil
	case 1:
		return filtered[0]
	}
	return &AggregateError{Errors: filtered}
}

// RollbackError wraps an error that occurred during a rollback.
type RollbackError struct {
	Backend string
	Err     error
}

// Error returns the error string.
func (e *RollbackError) Error() string {
	return fmt.Sprintf("strata: rollback of %s failed: %v", e.Backend, e.Err)
}

// Unwrap returns the underlying error.
func (e *RollbackError) Unwrap() error { return e.Err }
