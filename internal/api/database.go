package api

import (
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/example/esedb/internal/catalog"
	"github.com/example/esedb/internal/cursor"
	"github.com/example/esedb/internal/errs"
	"github.com/example/esedb/internal/longvalue"
	"github.com/example/esedb/internal/storage"
	"github.com/example/esedb/internal/value"
)

// Move sentinels for MoveRow.
const (
	MoveFirst = cursor.MoveFirst
	MoveLast  = cursor.MoveLast
)

// Column is the schema of one column as returned by Columns and Column.
type Column = catalog.Column

// Database provides a read-only façade over an ESE database image.
type Database struct {
	path    string
	storage *storage.Manager
	catalog *catalog.Catalog
	log     logrus.FieldLogger

	mu      sync.Mutex
	cursors map[*Cursor]struct{}
}

// Cursor is an open table: a position within its records plus the
// long-value tree its out-of-line values live in.
type Cursor struct {
	db     *Database
	cur    *cursor.Cursor
	values *longvalue.Resolver
}

// Open reads the database file at path.
func Open(path string, opts ...Option) (*Database, error) {
	o := buildOptions(opts)
	var (
		src storage.Source
		err error
	)
	if o.Mmap {
		src, err = storage.OpenMapped(path)
	} else {
		src, err = storage.OpenFile(path)
	}
	if err != nil {
		return nil, err
	}
	db, err := open(src, path, o)
	if err != nil {
		if c, ok := src.(io.Closer); ok {
			c.Close()
		}
		return nil, err
	}
	return db, nil
}

// OpenSource reads a database from an already-open stream of the given
// length. The caller keeps ownership of r.
func OpenSource(r io.ReaderAt, size int64, opts ...Option) (*Database, error) {
	return open(storage.NewSource(r, size), "", buildOptions(opts))
}

func open(src storage.Source, path string, o Options) (*Database, error) {
	mgr, err := storage.Open(src, o.CacheSize)
	if err != nil {
		return nil, err
	}
	h := mgr.Header()
	log := o.Logger.WithField("db", path)
	log.WithFields(logrus.Fields{
		"pageSize": h.PageSize,
		"version":  fmt.Sprintf("%#x", h.FormatVersion),
		"revision": fmt.Sprintf("%#x", h.FormatRevision),
		"state":    h.State.String(),
		"pages":    mgr.PageCount(),
	}).Debug("header parsed")

	cat, err := catalog.Load(mgr)
	if err != nil {
		mgr.Close()
		return nil, err
	}
	log.WithField("tables", len(cat.Tables())).Debug("catalog loaded")
	return &Database{
		path:    path,
		storage: mgr,
		catalog: cat,
		log:     log,
		cursors: make(map[*Cursor]struct{}),
	}, nil
}

// Close closes every open cursor and releases the page store.
func (db *Database) Close() error {
	db.mu.Lock()
	defer db.mu.Unlock()
	if db.storage == nil {
		return nil
	}
	for c := range db.cursors {
		c.cur.Close()
	}
	db.cursors = nil
	err := db.storage.Close()
	db.storage = nil
	return err
}

// Tables returns the table names in catalog order.
func (db *Database) Tables() []string {
	return db.catalog.TableNames()
}

func (db *Database) table(name string) (*catalog.Table, error) {
	t, ok := db.catalog.GetTable(name)
	if !ok {
		return nil, errs.NewTableNotFound(name)
	}
	return t, nil
}

// Columns returns the columns of a table ordered by column id.
func (db *Database) Columns(table string) ([]Column, error) {
	t, err := db.table(table)
	if err != nil {
		return nil, err
	}
	out := make([]Column, len(t.Columns))
	copy(out, t.Columns)
	return out, nil
}

// Column looks a column up by name.
func (db *Database) Column(table, column string) (Column, error) {
	t, err := db.table(table)
	if err != nil {
		return Column{}, err
	}
	c, ok := t.Column(column)
	if !ok {
		return Column{}, errs.NewColumnNotFound(table, column)
	}
	return c, nil
}

// OpenTable returns a cursor positioned on the first record of name.
func (db *Database) OpenTable(name string) (*Cursor, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	if db.storage == nil {
		return nil, fmt.Errorf("api: database closed: %w", errs.ErrInvalidCursor)
	}
	t, err := db.table(name)
	if err != nil {
		return nil, err
	}
	cur, err := cursor.Open(db.storage, t, db.storage.Layout().LargePage())
	if err != nil {
		return nil, err
	}
	c := &Cursor{db: db, cur: cur, values: longvalue.New(db.storage, t.LongValueRoot)}
	db.cursors[c] = struct{}{}
	db.log.WithFields(logrus.Fields{"table": name, "root": t.RootPage, "lvRoot": t.LongValueRoot}).Debug("table opened")
	return c, nil
}

// CloseTable releases a cursor returned by OpenTable.
func (db *Database) CloseTable(c *Cursor) error {
	if err := db.owns(c); err != nil {
		return err
	}
	db.mu.Lock()
	delete(db.cursors, c)
	db.mu.Unlock()
	if err := c.cur.Close(); err != nil {
		return err
	}
	db.log.WithField("table", c.cur.Table().Name).Debug("table closed")
	return nil
}

func (db *Database) owns(c *Cursor) error {
	if c == nil || c.db != db {
		return fmt.Errorf("api: cursor does not belong to this database: %w", errs.ErrInvalidCursor)
	}
	return nil
}

// MoveRow moves c by delta records; see cursor.Cursor.Move. A false result
// means the cursor ran off the table and is exhausted.
func (db *Database) MoveRow(c *Cursor, delta int) (bool, error) {
	if err := db.owns(c); err != nil {
		return false, err
	}
	return c.cur.Move(delta)
}

// GetValue decodes the first value of col in the current record. Null
// columns decode to nil.
func (db *Database) GetValue(c *Cursor, col Column) (interface{}, error) {
	return db.GetValueMultivalued(c, col, 1)
}

// GetValueMultivalued decodes value index (1-based) of col in the current
// record. An index past the last stored value yields nil.
func (db *Database) GetValueMultivalued(c *Cursor, col Column, index int) (interface{}, error) {
	if err := db.owns(c); err != nil {
		return nil, err
	}
	raw, err := c.raw(col, index)
	if err != nil || raw == nil {
		return nil, err
	}
	v, err := value.Decode(raw, col.Type, col.CodePage)
	if err != nil {
		return nil, fmt.Errorf("api: column %q: %w", col.Name, err)
	}
	return v, nil
}

// GetRow is the former name of GetValue.
//
// Deprecated: use GetValue.
func (db *Database) GetRow(c *Cursor, col Column) (interface{}, error) {
	return db.GetValue(c, col)
}

// GetRowMV is the former name of GetValueMultivalued.
//
// Deprecated: use GetValueMultivalued.
func (db *Database) GetRowMV(c *Cursor, col Column, index int) (interface{}, error) {
	return db.GetValueMultivalued(c, col, index)
}

// RawValue returns the stored bytes of value index of col after long-value
// resolution and decompression, or nil when there is no such value.
func (db *Database) RawValue(c *Cursor, col Column, index int) ([]byte, error) {
	if err := db.owns(c); err != nil {
		return nil, err
	}
	return c.raw(col, index)
}

// ValueCount reports how many values col holds in the current record.
func (db *Database) ValueCount(c *Cursor, col Column) (int, error) {
	if err := db.owns(c); err != nil {
		return 0, err
	}
	if err := c.check(col); err != nil {
		return 0, err
	}
	rec, err := c.cur.Record()
	if err != nil {
		return 0, err
	}
	vals, err := rec.Values(col.ID)
	return len(vals), err
}

// DecodeAsWindowsTicks renders raw as a count of 100ns ticks since
// 1601-01-01 UTC. Callers use it for timestamp columns whose OLE date
// decode is implausible; nothing applies it automatically.
func DecodeAsWindowsTicks(raw uint64) string {
	return value.FormatWindowsTicks(raw)
}

// Table returns the name of the table c iterates.
func (c *Cursor) Table() string { return c.cur.Table().Name }

// check rejects columns that do not belong to the cursor's table.
func (c *Cursor) check(col Column) error {
	t := c.cur.Table()
	own, ok := t.ColumnByID(col.ID)
	if !ok || own.Name != col.Name || own.TableID != col.TableID {
		return fmt.Errorf("api: column %q is not a column of table %q: %w", col.Name, t.Name, errs.ErrInvalidCursor)
	}
	return nil
}

func (c *Cursor) raw(col Column, index int) ([]byte, error) {
	if err := c.check(col); err != nil {
		return nil, err
	}
	if index < 1 {
		return nil, fmt.Errorf("api: value index %d, indexes start at 1: %w", index, errs.ErrOutOfRange)
	}
	rec, err := c.cur.Record()
	if err != nil {
		return nil, err
	}
	vals, err := rec.Values(col.ID)
	if err != nil {
		return nil, fmt.Errorf("api: column %q: %w", col.Name, err)
	}
	if index > len(vals) {
		return nil, nil
	}
	v := vals[index-1]
	raw := rec.Bytes(v.Range)
	if v.LongValue {
		lid, err := longvalue.ParseLID(raw)
		if err != nil {
			return nil, fmt.Errorf("api: column %q: %w", col.Name, err)
		}
		if raw, err = c.values.Resolve(lid); err != nil {
			return nil, fmt.Errorf("api: column %q: %w", col.Name, err)
		}
		c.db.log.WithFields(logrus.Fields{"table": c.Table(), "column": col.Name, "lid": lid, "bytes": len(raw)}).Debug("long value resolved")
	}
	if v.Compressed {
		if raw, err = value.Decompress(raw); err != nil {
			return nil, fmt.Errorf("api: column %q: %w", col.Name, err)
		}
	}
	if raw == nil {
		raw = []byte{}
	}
	return raw, nil
}

// IsNotFound reports whether err is an unknown table or column.
func IsNotFound(err error) bool {
	return errors.Is(err, errs.ErrNotFound)
}
