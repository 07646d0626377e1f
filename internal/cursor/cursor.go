// Package cursor walks the records of one table in key order.
package cursor

import (
	"fmt"
	"math"

	"github.com/example/esedb/internal/btree"
	"github.com/example/esedb/internal/catalog"
	"github.com/example/esedb/internal/errs"
	"github.com/example/esedb/internal/record"
)

// Move sentinels.
const (
	MoveFirst = math.MinInt32
	MoveLast  = math.MaxInt32
)

// State is the position state of a cursor.
type State int

const (
	Positioned State = iota
	Exhausted
	Closed
)

func (s State) String() string {
	switch s {
	case Positioned:
		return "positioned"
	case Exhausted:
		return "exhausted"
	case Closed:
		return "closed"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// Cursor iterates one table's data tree. A cursor is not safe for concurrent
// use; independent cursors share only the page store.
type Cursor struct {
	table  *catalog.Table
	tree   *btree.Tree
	layout record.Layout

	state State
	pos   btree.Position
	// edge is the direction of the move that exhausted the cursor.
	edge int
	rec  *record.Record
}

// Open positions a new cursor on the first record of table. An empty table
// yields an exhausted cursor.
func Open(pages btree.PageReader, table *catalog.Table, largePage bool) (*Cursor, error) {
	if table.RootPage == 0 {
		return nil, fmt.Errorf("cursor: table %q has no data tree: %w", table.Name, errs.ErrCatalogCorruption)
	}
	c := &Cursor{
		table:  table,
		tree:   btree.New(pages, table.RootPage),
		layout: table.Layout(largePage),
	}
	if _, err := c.Move(MoveFirst); err != nil {
		return nil, err
	}
	return c, nil
}

// Table returns the table the cursor iterates.
func (c *Cursor) Table() *catalog.Table { return c.table }

// State reports the current state.
func (c *Cursor) State() State { return c.state }

// Position returns the current entry; ok is false unless Positioned.
func (c *Cursor) Position() (btree.Position, bool) {
	return c.pos, c.state == Positioned
}

// Move shifts the cursor delta records. MoveFirst and MoveLast (or anything
// beyond them) reposition at the ends of the table. The result is false when
// the walk runs off the table, leaving the cursor Exhausted. From Exhausted,
// a move back toward the table resumes at the record nearest the edge.
func (c *Cursor) Move(delta int) (bool, error) {
	if c.state == Closed {
		return false, fmt.Errorf("cursor: move on closed cursor: %w", errs.ErrInvalidCursor)
	}
	switch {
	case delta <= MoveFirst:
		pos, ok, err := c.tree.First()
		return c.land(pos, ok, err, -1)
	case delta >= MoveLast:
		pos, ok, err := c.tree.Last()
		return c.land(pos, ok, err, 1)
	case delta == 0:
		return c.state == Positioned, nil
	}

	step := 1
	if delta < 0 {
		step, delta = -1, -delta
	}
	pos := c.pos
	if c.state == Exhausted {
		if c.edge == step {
			return false, nil
		}
		var (
			ok  bool
			err error
		)
		if step > 0 {
			pos, ok, err = c.tree.First()
		} else {
			pos, ok, err = c.tree.Last()
		}
		if err != nil || !ok {
			return c.land(pos, ok, err, step)
		}
		delta--
	}
	for ; delta > 0; delta-- {
		var (
			ok  bool
			err error
		)
		if step > 0 {
			pos, ok, err = c.tree.Next(pos)
		} else {
			pos, ok, err = c.tree.Prev(pos)
		}
		if err != nil || !ok {
			return c.land(pos, ok, err, step)
		}
	}
	return c.land(pos, true, nil, step)
}

// land applies the outcome of a move. A read error leaves the cursor where
// it was.
func (c *Cursor) land(pos btree.Position, ok bool, err error, dir int) (bool, error) {
	if err != nil {
		return false, fmt.Errorf("cursor: table %q: %w", c.table.Name, err)
	}
	c.rec = nil
	if !ok {
		c.state = Exhausted
		c.edge = dir
		return false, nil
	}
	c.state = Positioned
	c.pos = pos
	return true, nil
}

// Record decodes the current record. It fails with ErrInvalidCursor unless
// the cursor is Positioned.
func (c *Cursor) Record() (*record.Record, error) {
	switch c.state {
	case Closed:
		return nil, fmt.Errorf("cursor: read on closed cursor: %w", errs.ErrInvalidCursor)
	case Exhausted:
		return nil, fmt.Errorf("cursor: read past the end of table %q: %w", c.table.Name, errs.ErrInvalidCursor)
	}
	if c.rec != nil {
		return c.rec, nil
	}
	e, err := c.tree.Entry(c.pos)
	if err != nil {
		return nil, fmt.Errorf("cursor: table %q: %w", c.table.Name, err)
	}
	rec, err := record.Decode(e.Data, c.layout)
	if err != nil {
		return nil, fmt.Errorf("cursor: table %q page %d entry %d: %w", c.table.Name, c.pos.Page, c.pos.Tag, err)
	}
	c.rec = rec
	return rec, nil
}

// Key returns the key of the current record.
func (c *Cursor) Key() ([]byte, error) {
	if c.state != Positioned {
		return nil, fmt.Errorf("cursor: key of %s cursor: %w", c.state, errs.ErrInvalidCursor)
	}
	e, err := c.tree.Entry(c.pos)
	if err != nil {
		return nil, err
	}
	return e.Key, nil
}

// Close releases the cursor. Closing twice is an error.
func (c *Cursor) Close() error {
	if c.state == Closed {
		return fmt.Errorf("cursor: already closed: %w", errs.ErrInvalidCursor)
	}
	c.state = Closed
	c.rec = nil
	return nil
}
