// Package fixture builds small, byte-exact ESE database images in memory for
// tests. Images carry a valid file header and backup header, a catalog tree
// rooted at page 4, one data tree per table and, where needed, a long-value
// tree per table.
package fixture

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"
	"sort"
)

// Column types, as stored in the catalog.
const (
	TypeNil              = 0
	TypeBit              = 1
	TypeUnsignedByte     = 2
	TypeShort            = 3
	TypeLong             = 4
	TypeCurrency         = 5
	TypeIEEESingle       = 6
	TypeIEEEDouble       = 7
	TypeDateTime         = 8
	TypeBinary           = 9
	TypeText             = 10
	TypeLongBinary       = 11
	TypeLongText         = 12
	TypeSLV              = 13
	TypeUnsignedLong     = 14
	TypeLongLong         = 15
	TypeGUID             = 16
	TypeUnsignedShort    = 17
	TypeUnsignedLongLong = 18
)

// Tagged value flag bits.
const (
	TagVariable         = 0x01
	TagCompressed       = 0x02
	TagLongValue        = 0x04
	TagMultiValue       = 0x08
	TagMultiValueOffset = 0x10
)

const (
	catalogPage       = 4
	catalogBackupPage = 24

	catalogTypeTable     = 1
	catalogTypeColumn    = 2
	catalogTypeIndex     = 3
	catalogTypeLongValue = 4

	pageFlagRoot      = 0x0001
	pageFlagLeaf      = 0x0002
	pageFlagParent    = 0x0004
	pageFlagLongValue = 0x0080
	pageFlagNewFormat = 0x2000

	tagFlagDefunct   = 0x2
	tagFlagCommonKey = 0x4

	fileHeaderSize = 672
)

// Options control the physical shape of a generated image.
type Options struct {
	PageSize int
	Revision uint32
	State    uint32
	// LeafCapacity caps entries per leaf page; zero fills pages by size.
	LeafCapacity int
	// BranchCapacity caps entries per branch page; zero fills pages by size.
	BranchCapacity int
	// SegmentSize is the long-value chunk size.
	SegmentSize int
}

// DefaultOptions returns an 8 KiB, revision 0x14 layout.
func DefaultOptions() Options {
	return Options{PageSize: 8192, Revision: 0x14, State: 3, SegmentSize: 1024}
}

// Column declares one column of a table.
type Column struct {
	ID       uint32
	Name     string
	Type     uint32
	Size     uint32
	CodePage uint32
	Flags    uint32
}

// Field is one column value of a row. A column without a Field is null.
type Field struct {
	Column uint32
	Value  []byte
	// Values holds the entries of a multi-valued tagged column.
	Values [][]byte
	// TwoValues stores Values with the "size of first value" encoding.
	TwoValues bool
	// LongValue stores Value (or each of Values) out of line.
	LongValue bool
	// Compressed marks Value, or the first of Values, as already compressed.
	Compressed bool
}

// Row is one record of a table.
type Row struct {
	Fields  []Field
	Deleted bool
}

// Table declares a table, its schema and its rows.
type Table struct {
	Name     string
	Template string
	Columns  []Column
	Indexes  []string
	Rows     []Row
	// Root pins the data tree to a page; the catalog page 4 means the table
	// is the catalog itself and must have no rows.
	Root uint32
}

// TableInfo reports where a table ended up in the image.
type TableInfo struct {
	ObjectID uint32
	Root     uint32
	LVRoot   uint32
	Leaves   []uint32
}

// Image is a generated database.
type Image struct {
	Bytes    []byte
	Options  Options
	Tables   map[string]TableInfo
	Catalog  []uint32
	NumPages uint32
}

// PageOffset returns the file offset of page pgno.
func (img *Image) PageOffset(pgno uint32) int {
	return int(pgno+1) * img.Options.PageSize
}

// Page returns the bytes of page pgno, aliasing the image.
func (img *Image) Page(pgno uint32) []byte {
	off := img.PageOffset(pgno)
	return img.Bytes[off : off+img.Options.PageSize]
}

// SystemTables returns the catalog tables every database carries.
func SystemTables() []Table {
	objectColumns := []Column{
		{ID: 1, Name: "ObjidTable", Type: TypeLong, Size: 4},
		{ID: 2, Name: "Type", Type: TypeShort, Size: 2},
		{ID: 3, Name: "Id", Type: TypeLong, Size: 4},
		{ID: 4, Name: "ColtypOrPgnoFDP", Type: TypeLong, Size: 4},
		{ID: 5, Name: "SpaceUsage", Type: TypeLong, Size: 4},
		{ID: 6, Name: "Flags", Type: TypeLong, Size: 4},
		{ID: 7, Name: "PagesOrLocale", Type: TypeLong, Size: 4},
		{ID: 8, Name: "RootFlag", Type: TypeBit, Size: 1},
		{ID: 9, Name: "RecordOffset", Type: TypeShort, Size: 2},
		{ID: 10, Name: "LCMapFlags", Type: TypeLong, Size: 4},
		{ID: 11, Name: "KeyMost", Type: TypeUnsignedShort, Size: 2},
		{ID: 128, Name: "Name", Type: TypeText, Size: 255, CodePage: 1252},
		{ID: 129, Name: "Stats", Type: TypeBinary, Size: 255},
		{ID: 130, Name: "TemplateTable", Type: TypeText, Size: 255, CodePage: 1252},
		{ID: 131, Name: "DefaultValue", Type: TypeBinary, Size: 255},
	}
	return []Table{
		{Name: "MSysObjects", Columns: objectColumns, Indexes: []string{"RootObjects", "Name", "Id"}, Root: catalogPage},
		{Name: "MSysObjectsShadow", Columns: objectColumns, Root: catalogBackupPage},
		{Name: "MSysObjids", Columns: []Column{
			{ID: 1, Name: "objid", Type: TypeLong, Size: 4},
			{ID: 2, Name: "objidTable", Type: TypeLong, Size: 4},
			{ID: 3, Name: "type", Type: TypeShort, Size: 2},
		}},
		{Name: "MSysLocales", Columns: []Column{
			{ID: 128, Name: "Key", Type: TypeBinary, Size: 255},
		}},
	}
}

// FixedWidth returns the on-disk width of a fixed column of type typ, or
// zero for variable types.
func FixedWidth(typ uint32) int {
	switch typ {
	case TypeBit, TypeUnsignedByte:
		return 1
	case TypeShort, TypeUnsignedShort:
		return 2
	case TypeLong, TypeIEEESingle, TypeUnsignedLong:
		return 4
	case TypeCurrency, TypeIEEEDouble, TypeDateTime, TypeLongLong, TypeUnsignedLongLong:
		return 8
	case TypeGUID:
		return 16
	}
	return 0
}

type builder struct {
	opts   Options
	pages  map[uint32][]byte
	next   uint32
	objid  uint32
	tables map[string]*tableState
}

type tableState struct {
	def     Table
	objid   uint32
	root    uint32
	lvRoot  uint32
	lvObjid uint32
	columns []Column
	leaves  []uint32
}

type entry struct {
	key     []byte
	data    []byte
	defunct bool
}

// Build generates an image holding tables in catalog order.
func Build(opts Options, tables ...Table) (*Image, error) {
	if opts.PageSize == 0 {
		opts.PageSize = 8192
	}
	if opts.Revision == 0 {
		opts.Revision = 0x14
	}
	if opts.SegmentSize == 0 {
		opts.SegmentSize = 1024
	}
	b := &builder{
		opts:   opts,
		pages:  make(map[uint32][]byte),
		next:   5,
		objid:  2,
		tables: make(map[string]*tableState),
	}

	states := make([]*tableState, 0, len(tables))
	for _, t := range tables {
		if _, dup := b.tables[t.Name]; dup {
			return nil, fmt.Errorf("fixture: duplicate table %q", t.Name)
		}
		st := &tableState{def: t, objid: b.objid}
		b.objid++
		b.tables[t.Name] = st
		states = append(states, st)
	}
	for _, st := range states {
		st.columns = append([]Column(nil), st.def.Columns...)
		if st.def.Template != "" {
			tmpl, ok := b.tables[st.def.Template]
			if !ok {
				return nil, fmt.Errorf("fixture: table %q names unknown template %q", st.def.Name, st.def.Template)
			}
			st.columns = append(append([]Column(nil), tmpl.def.Columns...), st.columns...)
		}
		sort.Slice(st.columns, func(i, j int) bool { return st.columns[i].ID < st.columns[j].ID })
	}

	for _, st := range states {
		if err := b.buildTable(st); err != nil {
			return nil, err
		}
	}

	catalogEntries, err := b.catalogEntries(states)
	if err != nil {
		return nil, err
	}
	catalogPages, err := b.buildTree(catalogPage, 2, 0, catalogEntries, true)
	if err != nil {
		return nil, err
	}
	if _, ok := b.pages[catalogBackupPage]; !ok {
		if _, err := b.buildTree(catalogBackupPage, 3, 0, nil, false); err != nil {
			return nil, err
		}
	}

	img := b.assemble(states)
	img.Catalog = catalogPages
	return img, nil
}

func (b *builder) alloc() uint32 {
	for {
		pgno := b.next
		b.next++
		if pgno == catalogBackupPage {
			continue
		}
		return pgno
	}
}

func (b *builder) large() bool {
	return b.opts.Revision >= 0x11 && b.opts.PageSize >= 16384
}

func (b *builder) buildTable(st *tableState) error {
	t := st.def
	if t.Root == catalogPage {
		if len(t.Rows) > 0 {
			return fmt.Errorf("fixture: catalog table %q cannot hold rows", t.Name)
		}
		st.root = catalogPage
		return nil
	}

	var lvEntries []entry
	var nextLID uint32 = 1
	storeLong := func(data []byte) []byte {
		lid := nextLID
		nextLID++
		lvEntries = append(lvEntries, longValueEntries(lid, data, b.opts.SegmentSize)...)
		return le32(lid)
	}

	rows := make([]entry, 0, len(t.Rows))
	for i, row := range t.Rows {
		rec, err := encodeRow(st.columns, row, b.large(), storeLong)
		if err != nil {
			return fmt.Errorf("fixture: table %q row %d: %w", t.Name, i, err)
		}
		rows = append(rows, entry{key: be32(uint32(i + 1)), data: rec, defunct: row.Deleted})
	}

	root := t.Root
	if root == 0 {
		root = b.alloc()
	}
	leaves, err := b.buildTree(root, st.objid, 0, rows, false)
	if err != nil {
		return err
	}
	st.root = root
	st.leaves = leaves

	if len(lvEntries) > 0 {
		sort.SliceStable(lvEntries, func(i, j int) bool { return bytes.Compare(lvEntries[i].key, lvEntries[j].key) < 0 })
		st.lvObjid = b.objid
		b.objid++
		st.lvRoot = b.alloc()
		if _, err := b.buildTree(st.lvRoot, st.lvObjid, pageFlagLongValue, lvEntries, false); err != nil {
			return err
		}
	}
	return nil
}

// longValueEntries splits data into segments keyed (lid, offset) big-endian,
// preceded by the (refcount, size) header record.
func longValueEntries(lid uint32, data []byte, segment int) []entry {
	header := append(le32(1), le32(uint32(len(data)))...)
	out := []entry{{key: be32(lid), data: header}}
	for off := 0; off < len(data); off += segment {
		end := off + segment
		if end > len(data) {
			end = len(data)
		}
		key := append(be32(lid), be32(uint32(off))...)
		out = append(out, entry{key: key, data: append([]byte(nil), data[off:end]...)})
	}
	return out
}

func (b *builder) catalogEntries(states []*tableState) ([]entry, error) {
	var out []entry
	key := func(objid uint32, typ uint16, id uint32) []byte {
		k := be32(objid)
		k = append(k, byte(typ>>8), byte(typ))
		return append(k, be32(id)...)
	}
	for _, st := range states {
		t := st.def
		tableRec := catalogRecord{
			objid: st.objid, typ: catalogTypeTable, id: st.objid,
			field4: st.root, field5: 80, field7: 1,
			name: t.Name, template: t.Template,
		}
		rec, err := tableRec.encode(b.large())
		if err != nil {
			return nil, err
		}
		out = append(out, entry{key: key(st.objid, catalogTypeTable, st.objid), data: rec})

		for _, c := range t.Columns {
			colRec := catalogRecord{
				objid: st.objid, typ: catalogTypeColumn, id: c.ID,
				field4: c.Type, field5: c.Size, field6: c.Flags, field7: c.CodePage,
				name: c.Name,
			}
			rec, err := colRec.encode(b.large())
			if err != nil {
				return nil, err
			}
			out = append(out, entry{key: key(st.objid, catalogTypeColumn, c.ID), data: rec})
		}
		for _, name := range t.Indexes {
			id := b.objid
			b.objid++
			idxRec := catalogRecord{
				objid: st.objid, typ: catalogTypeIndex, id: id,
				field4: st.root, field5: 80,
				name: name,
			}
			rec, err := idxRec.encode(b.large())
			if err != nil {
				return nil, err
			}
			out = append(out, entry{key: key(st.objid, catalogTypeIndex, id), data: rec})
		}
		if st.lvRoot != 0 {
			lvRec := catalogRecord{
				objid: st.objid, typ: catalogTypeLongValue, id: st.lvObjid,
				field4: st.lvRoot, field5: 80,
				name: "LV",
			}
			rec, err := lvRec.encode(b.large())
			if err != nil {
				return nil, err
			}
			out = append(out, entry{key: key(st.objid, catalogTypeLongValue, st.lvObjid), data: rec})
		}
	}
	return out, nil
}

// buildTree lays entries out as a B-tree rooted at root and returns its leaf
// pages left to right. forceBranch keeps the root a branch page even when
// every entry would fit in it.
func (b *builder) buildTree(root, objid uint32, extra uint32, entries []entry, forceBranch bool) ([]uint32, error) {
	chunks := b.chunk(entries, b.opts.LeafCapacity, true)
	if len(chunks) <= 1 && !forceBranch {
		b.writePage(root, pageLayout{
			flags: pageFlagRoot | pageFlagLeaf | extra, objid: objid,
			tag0: rootHeader(), entries: entries,
		})
		return []uint32{root}, nil
	}
	if len(chunks) == 0 {
		chunks = [][]entry{nil}
	}

	leaves := make([]uint32, len(chunks))
	for i := range chunks {
		leaves[i] = b.alloc()
	}
	items := make([]entry, len(chunks))
	for i, chunk := range chunks {
		var prev, next uint32
		if i > 0 {
			prev = leaves[i-1]
		}
		if i+1 < len(chunks) {
			next = leaves[i+1]
		}
		b.writePage(leaves[i], pageLayout{
			flags: pageFlagLeaf | extra, objid: objid, prev: prev, next: next,
			entries: chunk, prefix: true,
		})
		var sep []byte
		if i+1 < len(chunks) {
			sep = chunk[len(chunk)-1].key
		}
		items[i] = entry{key: sep, data: le32(leaves[i])}
	}

	for {
		groups := b.chunk(items, b.opts.BranchCapacity, false)
		if len(groups) <= 1 {
			b.writePage(root, pageLayout{
				flags: pageFlagRoot | pageFlagParent | extra, objid: objid,
				tag0: rootHeader(), entries: items,
			})
			return leaves, nil
		}
		pages := make([]uint32, len(groups))
		for i := range groups {
			pages[i] = b.alloc()
		}
		next := make([]entry, len(groups))
		for i, group := range groups {
			var prev, nxt uint32
			if i > 0 {
				prev = pages[i-1]
			}
			if i+1 < len(groups) {
				nxt = pages[i+1]
			}
			b.writePage(pages[i], pageLayout{
				flags: pageFlagParent | extra, objid: objid, prev: prev, next: nxt,
				entries: group,
			})
			next[i] = entry{key: group[len(group)-1].key, data: le32(pages[i])}
		}
		items = next
	}
}

// chunk splits entries into page-sized groups.
func (b *builder) chunk(entries []entry, capacity int, prefix bool) [][]entry {
	var out [][]entry
	hdr := b.headerSize()
	budget := b.opts.PageSize - hdr - 4 - 32
	var cur []entry
	used := 0
	for _, e := range entries {
		need := 2 + len(e.key) + len(e.data) + 4
		if prefix {
			need += 2
		}
		if b.large() {
			need += 2
		}
		if len(cur) > 0 && ((capacity > 0 && len(cur) >= capacity) || used+need > budget) {
			out = append(out, cur)
			cur, used = nil, 0
		}
		cur = append(cur, e)
		used += need
	}
	if len(cur) > 0 {
		out = append(out, cur)
	}
	return out
}

func (b *builder) headerSize() int {
	if b.opts.Revision >= 0x11 && b.opts.PageSize > 8192 {
		return 80
	}
	return 40
}

type pageLayout struct {
	flags   uint32
	objid   uint32
	prev    uint32
	next    uint32
	tag0    []byte
	entries []entry
	prefix  bool
}

func rootHeader() []byte {
	buf := make([]byte, 16)
	binary.LittleEndian.PutUint32(buf[0:], 1)
	return buf
}

func commonPrefix(entries []entry) []byte {
	if len(entries) < 2 {
		return nil
	}
	p := entries[0].key
	for _, e := range entries[1:] {
		n := 0
		for n < len(p) && n < len(e.key) && p[n] == e.key[n] {
			n++
		}
		p = p[:n]
	}
	return p
}

func (b *builder) writePage(pgno uint32, layout pageLayout) {
	size := b.opts.PageSize
	page := make([]byte, size)
	hdr := b.headerSize()
	le := binary.LittleEndian
	large := b.large()

	tag0 := layout.tag0
	var prefix []byte
	if layout.prefix {
		prefix = commonPrefix(layout.entries)
		tag0 = prefix
	}

	type rawTag struct {
		data  []byte
		flags uint16
	}
	tags := []rawTag{{data: tag0}}
	for _, e := range layout.entries {
		var flags uint16
		var buf []byte
		local := e.key
		if len(prefix) > 0 {
			flags |= tagFlagCommonKey
			buf = le.AppendUint16(buf, uint16(len(prefix)))
			local = e.key[len(prefix):]
		}
		if e.defunct {
			flags |= tagFlagDefunct
		}
		buf = le.AppendUint16(buf, uint16(len(local)))
		buf = append(buf, local...)
		buf = append(buf, e.data...)
		if large && len(buf) >= 2 {
			first := le.Uint16(buf) | flags<<13
			le.PutUint16(buf, first)
		}
		tags = append(tags, rawTag{data: buf, flags: flags})
	}

	off := 0
	for i, t := range tags {
		copy(page[hdr+off:], t.data)
		pos := size - 4*(i+1)
		le.PutUint16(page[pos:], uint16(len(t.data)))
		tagOff := uint16(off)
		if !large {
			tagOff |= t.flags << 13
		}
		le.PutUint16(page[pos+2:], tagOff)
		off += len(t.data)
	}

	switch {
	case b.opts.Revision < 0x0b:
		le.PutUint32(page[4:], pgno)
	case b.opts.Revision >= 0x11 && size > 8192:
		le.PutUint64(page[64:], uint64(pgno))
	}
	le.PutUint32(page[16:], layout.prev)
	le.PutUint32(page[20:], layout.next)
	le.PutUint32(page[24:], layout.objid)
	free := size - hdr - off - 4*len(tags)
	le.PutUint16(page[28:], uint16(free))
	le.PutUint16(page[32:], uint16(off))
	le.PutUint16(page[34:], uint16(len(tags)))
	le.PutUint32(page[36:], layout.flags|pageFlagNewFormat)
	b.pages[pgno] = page
}

func (b *builder) assemble(states []*tableState) *Image {
	var maxPage uint32 = catalogBackupPage
	for pgno := range b.pages {
		if pgno > maxPage {
			maxPage = pgno
		}
	}
	size := b.opts.PageSize
	out := make([]byte, int(maxPage+2)*size)
	for pgno := uint32(1); pgno <= maxPage; pgno++ {
		page, ok := b.pages[pgno]
		if !ok {
			b.writePage(pgno, pageLayout{flags: pageFlagLeaf, objid: 1})
			page = b.pages[pgno]
		}
		copy(out[int(pgno+1)*size:], page)
	}

	header := b.fileHeader()
	copy(out, header)
	copy(out[size:], header)

	img := &Image{
		Bytes:    out,
		Options:  b.opts,
		Tables:   make(map[string]TableInfo, len(states)),
		NumPages: maxPage,
	}
	for _, st := range states {
		img.Tables[st.def.Name] = TableInfo{ObjectID: st.objid, Root: st.root, LVRoot: st.lvRoot, Leaves: st.leaves}
	}
	return img
}

func (b *builder) fileHeader() []byte {
	buf := make([]byte, fileHeaderSize)
	le := binary.LittleEndian
	le.PutUint32(buf[4:], 0x89abcdef)
	le.PutUint32(buf[8:], 0x620)
	le.PutUint32(buf[52:], b.opts.State)
	le.PutUint32(buf[212:], b.objid)
	le.PutUint32(buf[232:], b.opts.Revision)
	le.PutUint32(buf[236:], uint32(b.opts.PageSize))
	le.PutUint32(buf[340:], 0x620)
	le.PutUint32(buf[344:], b.opts.Revision)
	SealHeader(buf)
	return buf
}

// SealHeader recomputes the checksum of a file header in place.
func SealHeader(buf []byte) {
	sum := uint32(0x89abcdef)
	for off := 4; off+4 <= fileHeaderSize; off += 4 {
		sum ^= binary.LittleEndian.Uint32(buf[off:])
	}
	binary.LittleEndian.PutUint32(buf[0:], sum)
}

// Little-endian helpers for building field values.

func LE16(v uint16) []byte { return binary.LittleEndian.AppendUint16(nil, v) }
func LE32(v uint32) []byte { return le32(v) }
func LE64(v uint64) []byte { return binary.LittleEndian.AppendUint64(nil, v) }

// F32 encodes an IEEE-754 single.
func F32(v float32) []byte { return le32(math.Float32bits(v)) }

// F64 encodes an IEEE-754 double.
func F64(v float64) []byte { return LE64(math.Float64bits(v)) }

// UTF16 encodes s as UTF-16LE without a terminator.
func UTF16(s string) []byte {
	var out []byte
	for _, r := range s {
		if r >= 0x10000 {
			r -= 0x10000
			out = binary.LittleEndian.AppendUint16(out, uint16(0xd800+(r>>10)))
			out = binary.LittleEndian.AppendUint16(out, uint16(0xdc00+(r&0x3ff)))
			continue
		}
		out = binary.LittleEndian.AppendUint16(out, uint16(r))
	}
	return out
}

// Pattern returns n bytes of the repeating sequence 0, 1, ..., 254.
func Pattern(n int) []byte {
	out := make([]byte, n)
	for i := range out {
		out[i] = byte(i % 255)
	}
	return out
}

func le32(v uint32) []byte { return binary.LittleEndian.AppendUint32(nil, v) }

// BE32 encodes v big-endian, the byte order of row and long-value keys.
func BE32(v uint32) []byte { return be32(v) }

func be32(v uint32) []byte { return binary.BigEndian.AppendUint32(nil, v) }
