// Package record splits a raw data-tree record into its fixed, variable and
// tagged regions. Decoding only records byte ranges; values are sliced from
// the record buffer when a column is asked for.
package record

import (
	"encoding/binary"
	"fmt"

	"github.com/example/esedb/internal/errs"
)

// Column identifier ranges.
const (
	LastFixedID    = 127
	FirstVarID     = 128
	LastVarID      = 255
	FirstTaggedID  = 256
	recordHeaderSz = 4
)

// TagFlags describe how a tagged value is stored.
type TagFlags uint8

const (
	TagVariable         TagFlags = 0x01
	TagCompressed       TagFlags = 0x02
	TagLongValue        TagFlags = 0x04
	TagMultiValue       TagFlags = 0x08
	TagMultiValueOffset TagFlags = 0x10
)

// Kind classifies a column by identifier.
type Kind uint8

const (
	KindFixed Kind = iota
	KindVariable
	KindTagged
)

// KindOf returns the storage class implied by a column identifier.
func KindOf(id uint32) Kind {
	switch {
	case id <= LastFixedID:
		return KindFixed
	case id <= LastVarID:
		return KindVariable
	default:
		return KindTagged
	}
}

// FixedColumn declares the width of one fixed column.
type FixedColumn struct {
	ID    uint32
	Width int
}

// Layout is what the decoder needs to know about a table.
type Layout struct {
	// Fixed lists the table's fixed columns in identifier order.
	Fixed []FixedColumn
	// LargePage selects 15-bit tagged offsets with an unconditional flag byte.
	LargePage bool
}

// Range is a half-open byte range within the record.
type Range struct {
	Start int
	End   int
}

// Len returns the number of bytes covered.
func (r Range) Len() int { return r.End - r.Start }

// Field is the decoded location of one column in a record.
type Field struct {
	Kind  Kind
	Null  bool
	Range Range
	Flags TagFlags
}

// TaggedEntry is one directory entry of the tagged section.
type TaggedEntry struct {
	Column uint32
	Flags  TagFlags
	Range  Range
}

// Value is one value of a column: a byte range plus how to interpret it.
type Value struct {
	Range      Range
	LongValue  bool
	Compressed bool
}

// Record is a decoded view over one row's bytes.
type Record struct {
	data      []byte
	lastFixed uint32
	lastVar   uint32
	fixed     map[uint32]Field
	variable  []Field
	tagged    []TaggedEntry
}

// Decode parses the record structure of data. data is retained, not copied.
func Decode(data []byte, layout Layout) (*Record, error) {
	if len(data) < recordHeaderSz {
		return nil, corrupt("record is %d bytes, shorter than its header", len(data))
	}
	le := binary.LittleEndian
	r := &Record{
		data:      data,
		lastFixed: uint32(data[0]),
		lastVar:   uint32(data[1]),
		fixed:     make(map[uint32]Field, len(layout.Fixed)),
	}
	varOffset := int(le.Uint16(data[2:4]))
	if varOffset < recordHeaderSz || varOffset > len(data) {
		return nil, corrupt("variable offset %d outside record of %d bytes", varOffset, len(data))
	}

	if err := r.decodeFixed(layout, varOffset); err != nil {
		return nil, err
	}
	taggedStart, err := r.decodeVariable(varOffset)
	if err != nil {
		return nil, err
	}
	if err := r.decodeTagged(taggedStart, layout.LargePage); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *Record) decodeFixed(layout Layout, varOffset int) error {
	bitmapLen := int(r.lastFixed+7) / 8
	bitmapStart := varOffset - bitmapLen
	pos := recordHeaderSz
	for _, c := range layout.Fixed {
		if c.ID > r.lastFixed {
			break
		}
		end := pos + c.Width
		if end > bitmapStart {
			return corrupt("fixed column %d [%d,%d) overruns null bitmap at %d", c.ID, pos, end, bitmapStart)
		}
		bit := c.ID - 1
		null := r.data[bitmapStart+int(bit/8)]&(1<<(bit%8)) != 0
		r.fixed[c.ID] = Field{Kind: KindFixed, Null: null, Range: Range{pos, end}}
		pos = end
	}
	return nil
}

// decodeVariable reads the variable offset table and returns where the tagged
// section starts.
func (r *Record) decodeVariable(varOffset int) (int, error) {
	count := 0
	if r.lastVar > LastFixedID {
		count = int(r.lastVar - LastFixedID)
	}
	valuesStart := varOffset + 2*count
	if valuesStart > len(r.data) {
		return 0, corrupt("variable offset table of %d entries overruns record", count)
	}
	r.variable = make([]Field, count)
	prev := 0
	for i := 0; i < count; i++ {
		word := binary.LittleEndian.Uint16(r.data[varOffset+2*i:])
		if word&0x8000 != 0 {
			r.variable[i] = Field{Kind: KindVariable, Null: true, Range: Range{valuesStart + prev, valuesStart + prev}}
			continue
		}
		end := int(word & 0x7fff)
		if end < prev {
			return 0, corrupt("variable column %d end offset %d precedes %d", FirstVarID+i, end, prev)
		}
		if valuesStart+end > len(r.data) {
			return 0, corrupt("variable column %d ends at %d past record end %d", FirstVarID+i, valuesStart+end, len(r.data))
		}
		r.variable[i] = Field{Kind: KindVariable, Range: Range{valuesStart + prev, valuesStart + end}}
		prev = end
	}
	return valuesStart + prev, nil
}

func (r *Record) decodeTagged(start int, large bool) error {
	region := r.data[start:]
	if len(region) == 0 {
		return nil
	}
	if len(region) < 4 {
		return corrupt("tagged section of %d bytes is too short", len(region))
	}
	mask := uint16(0x3fff)
	if large {
		mask = 0x7fff
	}
	le := binary.LittleEndian
	dirSize := int(le.Uint16(region[2:]) & mask)
	if dirSize < 4 || dirSize%4 != 0 || dirSize > len(region) {
		return corrupt("tagged directory size %d invalid for section of %d bytes", dirSize, len(region))
	}
	n := dirSize / 4
	r.tagged = make([]TaggedEntry, n)
	for i := 0; i < n; i++ {
		id := uint32(le.Uint16(region[4*i:]))
		word := le.Uint16(region[4*i+2:])
		lo := int(word & mask)
		hi := len(region)
		if i+1 < n {
			hi = int(le.Uint16(region[4*(i+1)+2:]) & mask)
		}
		if lo < dirSize || hi < lo || hi > len(region) {
			return corrupt("tagged column %d range [%d,%d) invalid in section of %d bytes", id, lo, hi, len(region))
		}
		var flags TagFlags
		if lo < hi && (large || word&0x4000 != 0) {
			flags = TagFlags(region[lo])
			lo++
		}
		if i > 0 && id <= r.tagged[i-1].Column {
			return corrupt("tagged column %d follows column %d", id, r.tagged[i-1].Column)
		}
		r.tagged[i] = TaggedEntry{Column: id, Flags: flags, Range: Range{start + lo, start + hi}}
	}
	return nil
}

// Bytes returns the record bytes covered by rg.
func (r *Record) Bytes(rg Range) []byte {
	return r.data[rg.Start:rg.End]
}

// LastFixed returns the highest fixed column identifier present.
func (r *Record) LastFixed() uint32 { return r.lastFixed }

// LastVariable returns the highest variable column identifier present.
func (r *Record) LastVariable() uint32 { return r.lastVar }

// Tagged returns the tagged directory in on-disk order.
func (r *Record) Tagged() []TaggedEntry { return r.tagged }

// Field locates column id. Columns beyond the record's last fixed or
// variable identifier, and tagged columns without an entry, are null.
func (r *Record) Field(id uint32) Field {
	switch KindOf(id) {
	case KindFixed:
		if f, ok := r.fixed[id]; ok {
			return f
		}
		return Field{Kind: KindFixed, Null: true}
	case KindVariable:
		i := int(id) - FirstVarID
		if i < len(r.variable) {
			return r.variable[i]
		}
		return Field{Kind: KindVariable, Null: true}
	default:
		for _, e := range r.tagged {
			if e.Column == id {
				return Field{Kind: KindTagged, Null: e.Range.Len() == 0, Range: e.Range, Flags: e.Flags}
			}
		}
		return Field{Kind: KindTagged, Null: true}
	}
}

// Values expands column id into its individual values. Fixed and variable
// columns yield at most one value; multi-valued tagged columns yield one per
// stored value in on-disk order. A null column yields none.
func (r *Record) Values(id uint32) ([]Value, error) {
	f := r.Field(id)
	if f.Null {
		return nil, nil
	}
	if f.Kind != KindTagged {
		return []Value{{Range: f.Range}}, nil
	}

	switch {
	case f.Flags&TagMultiValueOffset != 0:
		return r.twoValues(id, f)
	case f.Flags&TagMultiValue != 0:
		return r.multiValues(id, f)
	}
	return []Value{{
		Range:      f.Range,
		LongValue:  f.Flags&TagLongValue != 0,
		Compressed: f.Flags&TagCompressed != 0,
	}}, nil
}

// twoValues splits the encoding whose first byte is the size of the first of
// exactly two values.
func (r *Record) twoValues(id uint32, f Field) ([]Value, error) {
	buf := r.Bytes(f.Range)
	first := int(buf[0])
	if 1+first > len(buf) {
		return nil, corrupt("tagged column %d first value of %d bytes overruns %d", id, first, len(buf))
	}
	long := f.Flags&TagLongValue != 0
	mid := f.Range.Start + 1 + first
	return []Value{
		{Range: Range{f.Range.Start + 1, mid}, LongValue: long, Compressed: f.Flags&TagCompressed != 0},
		{Range: Range{mid, f.Range.End}, LongValue: long},
	}, nil
}

func (r *Record) multiValues(id uint32, f Field) ([]Value, error) {
	buf := r.Bytes(f.Range)
	if len(buf) < 2 {
		return nil, corrupt("tagged column %d multi-value table truncated", id)
	}
	le := binary.LittleEndian
	firstWord := le.Uint16(buf)
	tableSize := int(firstWord & 0x7fff)
	if tableSize < 2 || tableSize%2 != 0 || tableSize > len(buf) {
		return nil, corrupt("tagged column %d multi-value table size %d invalid", id, tableSize)
	}
	n := tableSize / 2
	out := make([]Value, n)
	for i := 0; i < n; i++ {
		word := le.Uint16(buf[2*i:])
		lo := int(word & 0x7fff)
		hi := len(buf)
		if i+1 < n {
			hi = int(le.Uint16(buf[2*(i+1):]) & 0x7fff)
		}
		if lo < tableSize || hi < lo || hi > len(buf) {
			return nil, corrupt("tagged column %d value %d range [%d,%d) invalid", id, i+1, lo, hi)
		}
		out[i] = Value{
			Range:     Range{f.Range.Start + lo, f.Range.Start + hi},
			LongValue: word&0x8000 != 0 || f.Flags&TagLongValue != 0,
		}
	}
	// Only the first value of a compressed multi-value is stored compressed.
	out[0].Compressed = f.Flags&TagCompressed != 0
	return out, nil
}

func corrupt(format string, args ...any) error {
	return fmt.Errorf("record: "+format+": %w", append(args, errs.ErrRecordCorruption)...)
}
