package storage

import (
	"encoding/binary"
	"fmt"

	"github.com/example/esedb/internal/errs"
)

// PageID is a 1-based database page number. Page n lives at byte offset
// (n+1)*pageSize because the first two pages hold the file header and its
// backup.
type PageID uint32

// CatalogPage is the root of the catalog tree.
const CatalogPage PageID = 4

// PageFlags describes the role of a page within its B-tree.
type PageFlags uint32

const (
	FlagRoot            PageFlags = 0x0001
	FlagLeaf            PageFlags = 0x0002
	FlagParent          PageFlags = 0x0004
	FlagEmpty           PageFlags = 0x0008
	FlagSpaceTree       PageFlags = 0x0020
	FlagIndex           PageFlags = 0x0040
	FlagLongValue       PageFlags = 0x0080
	FlagNewRecordFormat PageFlags = 0x2000
	FlagScrubbed        PageFlags = 0x4000
)

// Has reports whether every bit of want is set.
func (f PageFlags) Has(want PageFlags) bool {
	return f&want == want
}

// TagFlags are the three flag bits attached to each page tag.
type TagFlags uint8

const (
	TagVersion      TagFlags = 0x1
	TagDefunct      TagFlags = 0x2
	TagHasCommonKey TagFlags = 0x4
)

const tagFlagsBitShift = 13

// Tag locates one entry inside a page. Offset is relative to the end of the
// page header.
type Tag struct {
	Offset uint16
	Size   uint16
	Flags  TagFlags
}

// Defunct reports whether the entry has been deleted.
func (t Tag) Defunct() bool {
	return t.Flags&TagDefunct != 0
}

// PageHeader is the revision-independent part of a page header.
type PageHeader struct {
	Checksum          uint64
	PageNumber        uint64
	HasPageNumber     bool
	ModificationTime  uint64
	Prev              PageID
	Next              PageID
	FatherObjectID    uint32
	AvailableSize     uint16
	UncommittedSize   uint16
	AvailableOffset   uint16
	AvailableTagCount uint16
	Flags             PageFlags
}

const (
	pageHeaderSize    = 40
	extPageHeaderSize = 40
)

// Layout captures the format parameters that change how pages are parsed.
type Layout struct {
	PageSize int
	Revision uint32
}

// HeaderSize returns the number of header bytes preceding page data.
func (l Layout) HeaderSize() int {
	if l.extendedHeader() {
		return pageHeaderSize + extPageHeaderSize
	}
	return pageHeaderSize
}

// LargePage reports whether tag flags live in the entry data and offsets use
// 15 bits.
func (l Layout) LargePage() bool {
	return l.Revision >= RevisionExtendedPageHeader && l.PageSize >= 16384
}

func (l Layout) extendedHeader() bool {
	return l.Revision >= RevisionExtendedPageHeader && l.PageSize > 8192
}

// Page is a parsed, immutable database page.
type Page struct {
	ID     PageID
	Header PageHeader
	layout Layout
	data   []byte
	tags   []Tag
}

// ParsePage decodes the header and tag array of a raw page buffer.
func ParsePage(id PageID, layout Layout, data []byte) (*Page, error) {
	if len(data) != layout.PageSize {
		return nil, fmt.Errorf("storage: page %d buffer is %d bytes, want %d: %w", id, len(data), layout.PageSize, errs.ErrPageCorruption)
	}
	le := binary.LittleEndian
	var h PageHeader
	switch {
	case layout.Revision < RevisionNewRecordFormat:
		h.Checksum = uint64(le.Uint32(data[0:4]))
		h.PageNumber = uint64(le.Uint32(data[4:8]))
		h.HasPageNumber = true
	case layout.Revision < RevisionExtendedPageHeader:
		h.Checksum = uint64(le.Uint32(data[0:4]))
	default:
		h.Checksum = le.Uint64(data[0:8])
	}
	h.ModificationTime = le.Uint64(data[8:16])
	h.Prev = PageID(le.Uint32(data[16:20]))
	h.Next = PageID(le.Uint32(data[20:24]))
	h.FatherObjectID = le.Uint32(data[24:28])
	h.AvailableSize = le.Uint16(data[28:30])
	h.UncommittedSize = le.Uint16(data[30:32])
	h.AvailableOffset = le.Uint16(data[32:34])
	h.AvailableTagCount = le.Uint16(data[34:36])
	h.Flags = PageFlags(le.Uint32(data[36:40]))
	if layout.extendedHeader() {
		h.PageNumber = le.Uint64(data[64:72])
		h.HasPageNumber = true
	}

	if h.HasPageNumber && h.PageNumber != uint64(id) {
		return nil, fmt.Errorf("storage: page %d header claims page %d: %w: %w", id, h.PageNumber, errs.ErrPageCorruption, errs.ErrFormat)
	}

	p := &Page{ID: id, Header: h, layout: layout, data: data}
	if err := p.parseTags(); err != nil {
		return nil, err
	}
	return p, nil
}

func (p *Page) parseTags() error {
	count := int(p.Header.AvailableTagCount)
	hdr := p.layout.HeaderSize()
	if hdr+4*count > len(p.data) {
		return fmt.Errorf("storage: page %d declares %d tags, too many for page: %w", p.ID, count, errs.ErrPageCorruption)
	}
	large := p.layout.LargePage()
	p.tags = make([]Tag, count)
	for i := 0; i < count; i++ {
		pos := len(p.data) - 4*(i+1)
		size := binary.LittleEndian.Uint16(p.data[pos:])
		offset := binary.LittleEndian.Uint16(p.data[pos+2:])
		var t Tag
		if large {
			t.Offset = offset & 0x7fff
			t.Size = size & 0x7fff
			at := hdr + int(t.Offset)
			if t.Size >= 2 && at+2 <= len(p.data) {
				t.Flags = TagFlags(binary.LittleEndian.Uint16(p.data[at:]) >> tagFlagsBitShift)
			}
		} else {
			t.Flags = TagFlags(offset >> tagFlagsBitShift)
			t.Offset = offset & 0x1fff
			t.Size = size & 0x1fff
		}
		p.tags[i] = t
	}
	return nil
}

// Layout returns the format parameters the page was parsed with.
func (p *Page) Layout() Layout { return p.layout }

// Flags returns the page flags.
func (p *Page) Flags() PageFlags { return p.Header.Flags }

func (p *Page) IsRoot() bool      { return p.Header.Flags.Has(FlagRoot) }
func (p *Page) IsLeaf() bool      { return p.Header.Flags.Has(FlagLeaf) }
func (p *Page) IsBranch() bool    { return p.Header.Flags.Has(FlagParent) }
func (p *Page) IsLongValue() bool { return p.Header.Flags.Has(FlagLongValue) }

// Prev returns the left sibling, or 0.
func (p *Page) Prev() PageID { return p.Header.Prev }

// Next returns the right sibling, or 0.
func (p *Page) Next() PageID { return p.Header.Next }

// TagCount returns the number of tags including tag 0.
func (p *Page) TagCount() int { return len(p.tags) }

// Tag returns tag i.
func (p *Page) Tag(i int) (Tag, error) {
	if i < 0 || i >= len(p.tags) {
		return Tag{}, fmt.Errorf("storage: page %d has no tag %d: %w", p.ID, i, errs.ErrPageCorruption)
	}
	return p.tags[i], nil
}

// TagData returns the bytes of entry i. The slice aliases the page buffer and
// must not be modified.
func (p *Page) TagData(i int) ([]byte, error) {
	t, err := p.Tag(i)
	if err != nil {
		return nil, err
	}
	start := p.layout.HeaderSize() + int(t.Offset)
	end := start + int(t.Size)
	if end > len(p.data)-4*len(p.tags) {
		return nil, fmt.Errorf("storage: page %d tag %d [%d,%d) overlaps tag array: %w", p.ID, i, start, end, errs.ErrPageCorruption)
	}
	return p.data[start:end], nil
}

// RootHeader is the space descriptor stored in tag 0 of a root page.
type RootHeader struct {
	InitialPages  uint32
	ParentFDP     uint32
	ExtentSpace   uint32
	SpaceTreePage PageID
}

// RootHeader decodes tag 0 of a root page, in either its 16 or 25 byte form.
func (p *Page) RootHeader() (RootHeader, error) {
	if !p.IsRoot() {
		return RootHeader{}, fmt.Errorf("storage: page %d is not a root page: %w", p.ID, errs.ErrPageCorruption)
	}
	buf, err := p.TagData(0)
	if err != nil {
		return RootHeader{}, err
	}
	le := binary.LittleEndian
	switch len(buf) {
	case 16:
		return RootHeader{
			InitialPages:  le.Uint32(buf[0:4]),
			ParentFDP:     le.Uint32(buf[4:8]),
			ExtentSpace:   le.Uint32(buf[8:12]),
			SpaceTreePage: PageID(le.Uint32(buf[12:16])),
		}, nil
	case 25:
		return RootHeader{
			InitialPages:  le.Uint32(buf[0:4]),
			ParentFDP:     le.Uint32(buf[5:9]),
			ExtentSpace:   le.Uint32(buf[9:13]),
			SpaceTreePage: PageID(le.Uint32(buf[13:17])),
		}, nil
	}
	return RootHeader{}, fmt.Errorf("storage: page %d root header has %d bytes: %w", p.ID, len(buf), errs.ErrPageCorruption)
}
