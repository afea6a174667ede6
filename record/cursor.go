package record

import (
	"errors"
	"iter"

	"github.com/syssam/strata/dialect"
)

// Cursor iterates the models of a result set. The underlying rows are
// released when iteration ends, fails, or Close is called.
//
//	cur, err := q.Iter(ctx)
//	if err != nil {
//		return err
//	}
//	defer cur.Close()
//	for cur.Next() {
//		m := cur.Model()
//	}
//	return cur.Err()
type Cursor struct {
	rows   dialect.Rows
	fm     []dialect.FieldMapEntry
	mat    *Materializer
	cur    Model
	err    error
	closed bool
}

// NewCursor returns a cursor materializing rows with mat.
func NewCursor(rows dialect.Rows, fm []dialect.FieldMapEntry, mat *Materializer) *Cursor {
	return &Cursor{rows: rows, fm: fm, mat: mat}
}

// Next advances to the next model.
func (c *Cursor) Next() bool {
	if c.closed || c.err != nil {
		return false
	}
	if !c.rows.Next() {
		c.err = c.rows.Err()
		c.release()
		return false
	}
	vals, err := c.rows.Values()
	if err == nil {
		c.cur, err = c.mat.Row(c.fm, vals)
	}
	if err != nil {
		c.err = err
		c.release()
		return false
	}
	return true
}

// Model returns the current model.
func (c *Cursor) Model() Model { return c.cur }

// Err returns the error that stopped iteration, if any.
func (c *Cursor) Err() error { return c.err }

// Close releases the rows. It is safe to call more than once.
func (c *Cursor) Close() error {
	if c.closed {
		return nil
	}
	c.closed = true
	return c.rows.Close()
}

func (c *Cursor) release() {
	if err := c.Close(); err != nil && c.err == nil {
		c.err = err
	}
}

// All drains the cursor.
func (c *Cursor) All() ([]Model, error) {
	var out []Model
	for c.Next() {
		out = append(out, c.cur)
	}
	return out, errors.Join(c.Err(), c.Close())
}

// Models returns an iterator over the remaining models. The rows are closed
// when the loop ends, including on break.
func (c *Cursor) Models() iter.Seq2[Model, error] {
	return func(yield func(Model, error) bool) {
		defer c.Close()
		for c.Next() {
			if !yield(c.cur, nil) {
				return
			}
		}
		if err := c.Err(); err != nil {
			yield(nil, err)
		}
	}
}
