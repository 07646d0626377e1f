package fixture

import (
	"encoding/binary"
	"fmt"
	"sort"
)

type fixedCol struct {
	id    uint32
	width int
}

type taggedValue struct {
	id      uint32
	flags   byte
	payload []byte
}

// catalogRecord is one row of the catalog tree.
type catalogRecord struct {
	objid    uint32
	typ      uint16
	id       uint32
	field4   uint32
	field5   uint32
	field6   uint32
	field7   uint32
	name     string
	template string
}

var catalogFixed = []fixedCol{
	{1, 4}, {2, 2}, {3, 4}, {4, 4}, {5, 4}, {6, 4}, {7, 4}, {8, 1}, {9, 2}, {10, 4}, {11, 2},
}

func (c catalogRecord) encode(large bool) ([]byte, error) {
	le := binary.LittleEndian
	values := map[uint32][]byte{
		1:  le32(c.objid),
		2:  le.AppendUint16(nil, c.typ),
		3:  le32(c.id),
		4:  le32(c.field4),
		5:  le32(c.field5),
		6:  le32(c.field6),
		7:  le32(c.field7),
		8:  {0},
		9:  le.AppendUint16(nil, 0),
		10: le32(0),
		11: le.AppendUint16(nil, 0),
	}
	values[128] = []byte(c.name)
	if c.template != "" {
		values[130] = []byte(c.template)
	}
	return encodeRecord(catalogFixed, values, nil, large)
}

// encodeRow lays a row out against the table's columns. storeLong moves a
// value into the long-value tree and returns its inline reference.
func encodeRow(columns []Column, row Row, large bool, storeLong func([]byte) []byte) ([]byte, error) {
	byID := make(map[uint32]Column, len(columns))
	var fixed []fixedCol
	for _, c := range columns {
		byID[c.ID] = c
		if c.ID <= 127 {
			w := FixedWidth(c.Type)
			if w == 0 {
				w = int(c.Size)
			}
			fixed = append(fixed, fixedCol{id: c.ID, width: w})
		}
	}

	values := make(map[uint32][]byte)
	var tagged []taggedValue
	for _, f := range row.Fields {
		if _, ok := byID[f.Column]; !ok {
			return nil, fmt.Errorf("unknown column %d", f.Column)
		}
		if f.Column < 256 {
			if f.Value != nil {
				values[f.Column] = f.Value
			}
			continue
		}

		tv := taggedValue{id: f.Column}
		switch {
		case f.Values != nil && f.TwoValues:
			if len(f.Values) != 2 || len(f.Values[0]) > 255 {
				return nil, fmt.Errorf("column %d: two-value encoding needs two values, the first under 256 bytes", f.Column)
			}
			tv.flags = TagVariable | TagMultiValueOffset
			tv.payload = append([]byte{byte(len(f.Values[0]))}, f.Values[0]...)
			tv.payload = append(tv.payload, f.Values[1]...)
		case f.Values != nil:
			tv.flags = TagVariable | TagMultiValue
			items := make([][]byte, len(f.Values))
			for i, v := range f.Values {
				items[i] = v
				if f.LongValue {
					items[i] = storeLong(v)
				}
			}
			offset := 2 * len(items)
			var table, body []byte
			for _, item := range items {
				word := uint16(offset)
				if f.LongValue {
					word |= 0x8000
				}
				table = binary.LittleEndian.AppendUint16(table, word)
				body = append(body, item...)
				offset += len(item)
			}
			tv.payload = append(table, body...)
		default:
			tv.payload = f.Value
			if f.LongValue {
				tv.flags |= TagVariable | TagLongValue
				tv.payload = storeLong(f.Value)
			}
		}
		if f.Compressed {
			tv.flags |= TagCompressed
		}
		tagged = append(tagged, tv)
	}
	sort.Slice(tagged, func(i, j int) bool { return tagged[i].id < tagged[j].id })
	return encodeRecord(fixed, values, tagged, large)
}

// encodeRecord writes the record header, fixed data, null bitmap, variable
// offset table and values, and the tagged directory and values.
func encodeRecord(fixed []fixedCol, values map[uint32][]byte, tagged []taggedValue, large bool) ([]byte, error) {
	le := binary.LittleEndian

	var lastFixed uint32
	for _, c := range fixed {
		if _, ok := values[c.id]; ok && c.id > lastFixed {
			lastFixed = c.id
		}
	}
	var fixedData []byte
	bitmap := make([]byte, (lastFixed+7)/8)
	for _, c := range fixed {
		if c.id > lastFixed {
			break
		}
		v, ok := values[c.id]
		if !ok {
			bitmap[(c.id-1)/8] |= 1 << ((c.id - 1) % 8)
			v = nil
		}
		if ok && len(v) != c.width {
			return nil, fmt.Errorf("fixed column %d: value has %d bytes, want %d", c.id, len(v), c.width)
		}
		cell := make([]byte, c.width)
		copy(cell, v)
		fixedData = append(fixedData, cell...)
	}

	lastVar := uint32(127)
	for id := range values {
		if id >= 128 && id <= 255 && id > lastVar {
			lastVar = id
		}
	}
	var varTable, varData []byte
	for id := uint32(128); id <= lastVar; id++ {
		v, ok := values[id]
		if !ok {
			varTable = le.AppendUint16(varTable, uint16(len(varData))|0x8000)
			continue
		}
		varData = append(varData, v...)
		varTable = le.AppendUint16(varTable, uint16(len(varData)))
	}

	var dir, body []byte
	dirSize := 4 * len(tagged)
	for _, tv := range tagged {
		withFlags := large || tv.flags != 0
		off := uint16(dirSize + len(body))
		if withFlags {
			if !large {
				off |= 0x4000
			}
			body = append(body, tv.flags)
		}
		body = append(body, tv.payload...)
		dir = le.AppendUint16(dir, uint16(tv.id))
		dir = le.AppendUint16(dir, off)
	}

	out := []byte{byte(lastFixed), byte(lastVar), 0, 0}
	out = append(out, fixedData...)
	out = append(out, bitmap...)
	le.PutUint16(out[2:], uint16(len(out)))
	out = append(out, varTable...)
	out = append(out, varData...)
	out = append(out, dir...)
	out = append(out, body...)
	return out, nil
}
