// Package catalog reads the system catalog tree and assembles the table,
// column, index and long-value definitions it describes.
package catalog

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sort"

	"github.com/example/esedb/internal/btree"
	"github.com/example/esedb/internal/errs"
	"github.com/example/esedb/internal/record"
	"github.com/example/esedb/internal/storage"
)

// Catalog object types.
const (
	TypeTable     = 1
	TypeColumn    = 2
	TypeIndex     = 3
	TypeLongValue = 4
	TypeCallback  = 5
)

// Catalog record column identifiers.
const (
	colObjidTable    = 1
	colType          = 2
	colID            = 3
	colColtypOrFDP   = 4
	colSpaceUsage    = 5
	colFlags         = 6
	colPagesOrLocale = 7
	colName          = 128
	colTemplateTable = 130
	colDefaultValue  = 131
)

var catalogFixed = []record.FixedColumn{
	{ID: 1, Width: 4},  // ObjidTable
	{ID: 2, Width: 2},  // Type
	{ID: 3, Width: 4},  // Id
	{ID: 4, Width: 4},  // ColtypOrPgnoFDP
	{ID: 5, Width: 4},  // SpaceUsage
	{ID: 6, Width: 4},  // Flags
	{ID: 7, Width: 4},  // PagesOrLocale
	{ID: 8, Width: 1},  // RootFlag
	{ID: 9, Width: 2},  // RecordOffset
	{ID: 10, Width: 4}, // LCMapFlags
	{ID: 11, Width: 2}, // KeyMost
}

// Catalog holds the definitions of every table, in catalog-scan order.
type Catalog struct {
	tables []*Table
	byName map[string]*Table
}

// Load scans the catalog tree once, left to right, and builds the schema.
func Load(mgr *storage.Manager) (*Catalog, error) {
	root, err := mgr.ReadPage(storage.CatalogPage)
	if err != nil {
		return nil, wrap(err)
	}
	if !root.IsBranch() {
		return nil, fmt.Errorf("catalog: root page %d lacks the branch flag (flags %#x): %w",
			root.ID, uint32(root.Flags()), errs.ErrCatalogCorruption)
	}

	s := &scanner{
		layout:   record.Layout{Fixed: catalogFixed, LargePage: mgr.Layout().LargePage()},
		byObjid:  make(map[uint32]*Table),
		byName:   make(map[string]*Table),
		resolved: make(map[*Table]bool),
	}
	tree := btree.New(mgr, storage.CatalogPage)
	if err := tree.Walk(s.visit); err != nil {
		return nil, wrap(err)
	}
	if err := s.finish(); err != nil {
		return nil, err
	}
	return &Catalog{tables: s.tables, byName: s.byName}, nil
}

// wrap classifies structural failures met during the scan as catalog
// corruption while keeping the original kind reachable.
func wrap(err error) error {
	if errors.Is(err, errs.ErrCatalogCorruption) {
		return err
	}
	if errors.Is(err, errs.ErrPageCorruption) || errors.Is(err, errs.ErrRecordCorruption) || errors.Is(err, errs.ErrOutOfRange) {
		return fmt.Errorf("catalog: %w: %w", errs.ErrCatalogCorruption, err)
	}
	return fmt.Errorf("catalog: %w", err)
}

type scanner struct {
	layout   record.Layout
	tables   []*Table
	byObjid  map[uint32]*Table
	byName   map[string]*Table
	pending  []pendingItem
	resolved map[*Table]bool
}

// pendingItem is a child definition seen before its parent table.
type pendingItem struct {
	parent uint32
	typ    uint16
	item   item
}

type item struct {
	id       uint32
	field4   uint32
	field5   uint32
	field6   uint32
	field7   uint32
	name     string
	template string
	defValue []byte
}

func (s *scanner) visit(pos btree.Position, e btree.Entry) error {
	rec, err := record.Decode(e.Data, s.layout)
	if err != nil {
		return fmt.Errorf("catalog: page %d entry %d: %w", pos.Page, pos.Tag, err)
	}
	parent, err := fixedU32(rec, colObjidTable)
	if err != nil {
		return err
	}
	typ, err := fixedU16(rec, colType)
	if err != nil {
		return err
	}
	it := item{name: string(variable(rec, colName)), template: string(variable(rec, colTemplateTable))}
	if def := variable(rec, colDefaultValue); def != nil {
		it.defValue = append([]byte(nil), def...)
	}
	for _, f := range []struct {
		id  uint32
		dst *uint32
	}{
		{colID, &it.id}, {colColtypOrFDP, &it.field4}, {colSpaceUsage, &it.field5},
		{colFlags, &it.field6}, {colPagesOrLocale, &it.field7},
	} {
		if *f.dst, err = fixedU32(rec, f.id); err != nil {
			return err
		}
	}

	if typ == TypeTable {
		return s.addTable(parent, it)
	}
	t, ok := s.byObjid[parent]
	if !ok {
		s.pending = append(s.pending, pendingItem{parent: parent, typ: typ, item: it})
		return nil
	}
	return attach(t, typ, it)
}

func (s *scanner) addTable(objid uint32, it item) error {
	if it.name == "" {
		return fmt.Errorf("catalog: table object %d has no name: %w", objid, errs.ErrCatalogCorruption)
	}
	if _, dup := s.byName[it.name]; dup {
		return fmt.Errorf("catalog: duplicate table %q: %w", it.name, errs.ErrCatalogCorruption)
	}
	if _, dup := s.byObjid[objid]; dup {
		return fmt.Errorf("catalog: duplicate table object id %d: %w", objid, errs.ErrCatalogCorruption)
	}
	t := &Table{
		Name:     it.name,
		ObjectID: objid,
		RootPage: storage.PageID(it.field4),
		Template: it.template,
	}
	s.tables = append(s.tables, t)
	s.byObjid[objid] = t
	s.byName[t.Name] = t
	return nil
}

func attach(t *Table, typ uint16, it item) error {
	switch typ {
	case TypeColumn:
		if _, dup := t.ColumnByID(it.id); dup {
			return fmt.Errorf("catalog: table %q declares column %d twice: %w", t.Name, it.id, errs.ErrCatalogCorruption)
		}
		t.Columns = append(t.Columns, Column{
			ID:        it.id,
			Name:      it.name,
			Type:      ColumnType(it.field4),
			MaxLength: it.field5,
			Flags:     ColumnFlags(it.field6),
			CodePage:  it.field7,
			Default:   it.defValue,
			TableID:   t.ObjectID,
		})
	case TypeIndex:
		t.Indexes = append(t.Indexes, Index{ID: it.id, Name: it.name, RootPage: storage.PageID(it.field4)})
	case TypeLongValue:
		if t.LongValueRoot != 0 {
			return fmt.Errorf("catalog: table %q has two long-value trees: %w", t.Name, errs.ErrCatalogCorruption)
		}
		t.LongValueRoot = storage.PageID(it.field4)
	}
	return nil
}

func (s *scanner) finish() error {
	for _, p := range s.pending {
		t, ok := s.byObjid[p.parent]
		if !ok {
			return fmt.Errorf("catalog: %s %q references missing table object %d: %w",
				typeName(p.typ), p.item.name, p.parent, errs.ErrCatalogCorruption)
		}
		if err := attach(t, p.typ, p.item); err != nil {
			return err
		}
	}
	for _, t := range s.tables {
		sort.SliceStable(t.Columns, func(i, j int) bool { return t.Columns[i].ID < t.Columns[j].ID })
	}
	for _, t := range s.tables {
		if err := s.inherit(t, 0); err != nil {
			return err
		}
	}
	return nil
}

// inherit prepends the template table's columns to t.
func (s *scanner) inherit(t *Table, depth int) error {
	if t.Template == "" || s.resolved[t] {
		return nil
	}
	if depth > len(s.tables) {
		return fmt.Errorf("catalog: template chain of %q loops: %w", t.Name, errs.ErrCatalogCorruption)
	}
	tmpl, ok := s.byName[t.Template]
	if !ok {
		return fmt.Errorf("catalog: table %q names missing template %q: %w", t.Name, t.Template, errs.ErrCatalogCorruption)
	}
	if err := s.inherit(tmpl, depth+1); err != nil {
		return err
	}
	merged := make([]Column, 0, len(tmpl.Columns)+len(t.Columns))
	for _, c := range tmpl.Columns {
		if _, own := t.ColumnByID(c.ID); !own {
			merged = append(merged, c)
		}
	}
	merged = append(merged, t.Columns...)
	sort.SliceStable(merged, func(i, j int) bool { return merged[i].ID < merged[j].ID })
	t.Columns = merged
	s.resolved[t] = true
	return nil
}

func typeName(typ uint16) string {
	switch typ {
	case TypeColumn:
		return "column"
	case TypeIndex:
		return "index"
	case TypeLongValue:
		return "long-value tree"
	case TypeCallback:
		return "callback"
	}
	return fmt.Sprintf("object type %d", typ)
}

func fixedBytes(rec *record.Record, id uint32, width int) ([]byte, error) {
	f := rec.Field(id)
	if f.Null {
		return nil, nil
	}
	if f.Range.Len() != width {
		return nil, fmt.Errorf("catalog: field %d has %d bytes: %w", id, f.Range.Len(), errs.ErrCatalogCorruption)
	}
	return rec.Bytes(f.Range), nil
}

func fixedU32(rec *record.Record, id uint32) (uint32, error) {
	b, err := fixedBytes(rec, id, 4)
	if err != nil || b == nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b), nil
}

func fixedU16(rec *record.Record, id uint32) (uint16, error) {
	b, err := fixedBytes(rec, id, 2)
	if err != nil || b == nil {
		return 0, err
	}
	return binary.LittleEndian.Uint16(b), nil
}

func variable(rec *record.Record, id uint32) []byte {
	f := rec.Field(id)
	if f.Null || f.Range.Len() == 0 {
		return nil
	}
	return rec.Bytes(f.Range)
}

// Tables returns the tables in catalog-scan order.
func (c *Catalog) Tables() []*Table {
	out := make([]*Table, len(c.tables))
	copy(out, c.tables)
	return out
}

// TableNames returns the table names in catalog-scan order.
func (c *Catalog) TableNames() []string {
	names := make([]string, len(c.tables))
	for i, t := range c.tables {
		names[i] = t.Name
	}
	return names
}

// GetTable retrieves the table metadata if present.
func (c *Catalog) GetTable(name string) (*Table, bool) {
	t, ok := c.byName[name]
	return t, ok
}
