package catalog

import (
	"fmt"
	"strings"

	"github.com/example/esedb/internal/record"
	"github.com/example/esedb/internal/storage"
)

// ColumnType enumerates the column types of the format.
type ColumnType uint32

const (
	ColumnTypeNil ColumnType = iota
	ColumnTypeBit
	ColumnTypeUnsignedByte
	ColumnTypeShort
	ColumnTypeLong
	ColumnTypeCurrency
	ColumnTypeIEEESingle
	ColumnTypeIEEEDouble
	ColumnTypeDateTime
	ColumnTypeBinary
	ColumnTypeText
	ColumnTypeLongBinary
	ColumnTypeLongText
	ColumnTypeSLV
	ColumnTypeUnsignedLong
	ColumnTypeLongLong
	ColumnTypeGUID
	ColumnTypeUnsignedShort
	ColumnTypeUnsignedLongLong
)

var columnTypeNames = [...]string{
	"Nil", "Bit", "UnsignedByte", "Short", "Long", "Currency", "IEEESingle",
	"IEEEDouble", "DateTime", "Binary", "Text", "LongBinary", "LongText", "SLV",
	"UnsignedLong", "LongLong", "GUID", "UnsignedShort", "UnsignedLongLong",
}

func (t ColumnType) String() string {
	if int(t) < len(columnTypeNames) {
		return columnTypeNames[t]
	}
	return fmt.Sprintf("ColumnType(%d)", uint32(t))
}

// FixedWidth returns the storage width of fixed-size types, zero otherwise.
func (t ColumnType) FixedWidth() int {
	switch t {
	case ColumnTypeBit, ColumnTypeUnsignedByte:
		return 1
	case ColumnTypeShort, ColumnTypeUnsignedShort:
		return 2
	case ColumnTypeLong, ColumnTypeIEEESingle, ColumnTypeUnsignedLong:
		return 4
	case ColumnTypeCurrency, ColumnTypeIEEEDouble, ColumnTypeDateTime, ColumnTypeLongLong, ColumnTypeUnsignedLongLong:
		return 8
	case ColumnTypeGUID:
		return 16
	}
	return 0
}

// IsText reports whether values are character data.
func (t ColumnType) IsText() bool {
	return t == ColumnTypeText || t == ColumnTypeLongText
}

// ColumnFlags are the catalog flags of a column.
type ColumnFlags uint32

const (
	ColumnNotNull                 ColumnFlags = 0x0001
	ColumnVersion                 ColumnFlags = 0x0002
	ColumnAutoincrement           ColumnFlags = 0x0004
	ColumnMultivalued             ColumnFlags = 0x0008
	ColumnDefault                 ColumnFlags = 0x0010
	ColumnEscrowUpdate            ColumnFlags = 0x0020
	ColumnFinalize                ColumnFlags = 0x0040
	ColumnUserDefinedDefault      ColumnFlags = 0x0080
	ColumnTemplateColumnESE98     ColumnFlags = 0x0100
	ColumnDeleteOnZero            ColumnFlags = 0x0200
	ColumnPrimaryIndexPlaceholder ColumnFlags = 0x0800
	ColumnCompressed              ColumnFlags = 0x1000
	ColumnEncrypted               ColumnFlags = 0x2000
)

var columnFlagNames = []struct {
	flag ColumnFlags
	name string
}{
	{ColumnNotNull, "NotNull"},
	{ColumnVersion, "Version"},
	{ColumnAutoincrement, "Autoincrement"},
	{ColumnMultivalued, "Multivalued"},
	{ColumnDefault, "Default"},
	{ColumnEscrowUpdate, "EscrowUpdate"},
	{ColumnFinalize, "Finalize"},
	{ColumnUserDefinedDefault, "UserDefinedDefault"},
	{ColumnTemplateColumnESE98, "TemplateColumnESE98"},
	{ColumnDeleteOnZero, "DeleteOnZero"},
	{ColumnPrimaryIndexPlaceholder, "PrimaryIndexPlaceholder"},
	{ColumnCompressed, "Compressed"},
	{ColumnEncrypted, "Encrypted"},
}

// Has reports whether every bit of want is set.
func (f ColumnFlags) Has(want ColumnFlags) bool { return f&want == want }

func (f ColumnFlags) String() string {
	var parts []string
	for _, n := range columnFlagNames {
		if f.Has(n.flag) {
			parts = append(parts, n.name)
		}
	}
	if len(parts) == 0 {
		return "0"
	}
	return strings.Join(parts, "|")
}

// Column describes a table column.
type Column struct {
	ID        uint32
	Name      string
	Type      ColumnType
	MaxLength uint32
	CodePage  uint32
	Flags     ColumnFlags
	Default   []byte
	// TableID is the object id of the owning table.
	TableID uint32
}

// Kind reports whether the column is fixed, variable or tagged.
func (c Column) Kind() record.Kind {
	return record.KindOf(c.ID)
}

// Nullable reports whether the column may hold null.
func (c Column) Nullable() bool {
	return !c.Flags.Has(ColumnNotNull)
}

// Multivalued reports whether the column may hold several values.
func (c Column) Multivalued() bool {
	return c.Flags.Has(ColumnMultivalued)
}

// Width returns the fixed storage width of the column.
func (c Column) Width() int {
	if w := c.Type.FixedWidth(); w > 0 {
		return w
	}
	return int(c.MaxLength)
}

// Index describes an index definition. Indexes are schema metadata only.
type Index struct {
	ID       uint32
	Name     string
	RootPage storage.PageID
}

// Table captures the metadata of one table.
type Table struct {
	Name          string
	ObjectID      uint32
	RootPage      storage.PageID
	LongValueRoot storage.PageID
	Template      string
	Columns       []Column
	Indexes       []Index
}

// Column finds a column by name.
func (t *Table) Column(name string) (Column, bool) {
	for _, c := range t.Columns {
		if c.Name == name {
			return c, true
		}
	}
	return Column{}, false
}

// ColumnByID finds a column by identifier.
func (t *Table) ColumnByID(id uint32) (Column, bool) {
	for _, c := range t.Columns {
		if c.ID == id {
			return c, true
		}
	}
	return Column{}, false
}

// Layout returns the record layout of the table's rows.
func (t *Table) Layout(large bool) record.Layout {
	l := record.Layout{LargePage: large}
	for _, c := range t.Columns {
		if c.Kind() == record.KindFixed {
			l.Fixed = append(l.Fixed, record.FixedColumn{ID: c.ID, Width: c.Width()})
		}
	}
	return l
}
