package sql

import (
	"database/sql"
	"errors"

	"github.com/syssam/strata/dialect"
)

// ColumnScanner is the interface that wraps the standard
// sql.Rows methods used for scanning database rows.
type ColumnScanner interface {
	Close() error
	ColumnTypes() ([]*sql.ColumnType, error)
	Columns() ([]string, error)
	Err() error
	Next() bool
	NextResultSet() bool
	Scan(dest ...any) error
}

// rowsWithCloser wraps the ColumnScanner interface with a custom Close hook.
type rowsWithCloser struct {
	ColumnScanner
	closer func() error
}

// Close closes the underlying ColumnScanner and calls the custom closer.
func (r rowsWithCloser) Close() error {
	err := r.ColumnScanner.Close()
	return errors.Join(err, r.closer())
}

// Rows implements dialect.Rows over a ColumnScanner. Values are returned
// as the driver produced them; byte slices are copies.
type Rows struct {
	ColumnScanner
	width int
}

// NewRows wraps a ColumnScanner.
func NewRows(cs ColumnScanner) *Rows { return &Rows{ColumnScanner: cs} }

// Values scans the current row.
func (r *Rows) Values() ([]any, error) {
	if r.width == 0 {
		cols, err := r.Columns()
		if err != nil {
			return nil, err
		}
		r.width = len(cols)
	}
	vals := make([]any, r.width)
	dest := make([]any, r.width)
	for i := range vals {
		dest[i] = &vals[i]
	}
	if err := r.Scan(dest...); err != nil {
		return nil, err
	}
	return vals, nil
}

var _ dialect.Rows = (*Rows)(nil)
