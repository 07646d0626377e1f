// Package btree navigates the page B-trees shared by the catalog, table data
// and long-value trees: branch entries point at child pages, leaves are
// linked left to right through their sibling pointers.
package btree

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/example/esedb/internal/errs"
	"github.com/example/esedb/internal/storage"
)

// maxDepth bounds descents so a cyclic branch graph cannot loop forever.
const maxDepth = 64

// PageReader is the page access the tree walker needs.
type PageReader interface {
	ReadPage(id storage.PageID) (*storage.Page, error)
}

// Entry is one parsed page entry.
type Entry struct {
	Key  []byte
	Data []byte
	Tag  storage.Tag
}

// Child interprets the entry data as a branch child pointer.
func (e Entry) Child() (storage.PageID, error) {
	if len(e.Data) < 4 {
		return 0, fmt.Errorf("btree: branch entry holds %d bytes, want a page number: %w", len(e.Data), errs.ErrPageCorruption)
	}
	return storage.PageID(binary.LittleEndian.Uint32(e.Data)), nil
}

// ParseEntry splits entry i of page p into key and data. Keys that share a
// prefix with the page's tag 0 are rebuilt in full.
func ParseEntry(p *storage.Page, i int) (Entry, error) {
	tag, err := p.Tag(i)
	if err != nil {
		return Entry{}, err
	}
	buf, err := p.TagData(i)
	if err != nil {
		return Entry{}, err
	}
	large := p.Layout().LargePage()
	first := true
	word := func(pos int) (int, error) {
		if pos+2 > len(buf) {
			return 0, fmt.Errorf("btree: page %d entry %d truncated at %d: %w", p.ID, i, pos, errs.ErrPageCorruption)
		}
		v := binary.LittleEndian.Uint16(buf[pos:])
		if first && large {
			v &= 0x1fff
		}
		first = false
		return int(v), nil
	}

	pos := 0
	common := 0
	if tag.Flags&storage.TagHasCommonKey != 0 {
		if common, err = word(pos); err != nil {
			return Entry{}, err
		}
		pos += 2
	}
	local, err := word(pos)
	if err != nil {
		return Entry{}, err
	}
	pos += 2
	if pos+local > len(buf) {
		return Entry{}, fmt.Errorf("btree: page %d entry %d key of %d bytes overruns entry: %w", p.ID, i, local, errs.ErrPageCorruption)
	}

	key := buf[pos : pos+local]
	if common > 0 {
		prefix, err := p.TagData(0)
		if err != nil {
			return Entry{}, err
		}
		if common > len(prefix) {
			return Entry{}, fmt.Errorf("btree: page %d entry %d shares %d key bytes, page prefix has %d: %w", p.ID, i, common, len(prefix), errs.ErrPageCorruption)
		}
		full := make([]byte, 0, common+local)
		full = append(full, prefix[:common]...)
		key = append(full, key...)
	}
	return Entry{Key: key, Data: buf[pos+local:], Tag: tag}, nil
}

// Position identifies one leaf entry.
type Position struct {
	Page storage.PageID
	Tag  int
}

// Tree is a B-tree rooted at a page.
type Tree struct {
	pages PageReader
	root  storage.PageID
}

// New returns the tree rooted at root.
func New(pages PageReader, root storage.PageID) *Tree {
	return &Tree{pages: pages, root: root}
}

// Root returns the root page number.
func (t *Tree) Root() storage.PageID { return t.root }

// firstLive returns the first non-defunct entry at or after tag from,
// scanning in direction step, or -1.
func firstLive(p *storage.Page, from, step int) (int, error) {
	for i := from; i >= 1 && i < p.TagCount(); i += step {
		tag, err := p.Tag(i)
		if err != nil {
			return -1, err
		}
		if !tag.Defunct() {
			return i, nil
		}
	}
	return -1, nil
}

// descend follows the first (leftmost) or last (rightmost) child pointer
// down to a leaf.
func (t *Tree) descend(leftmost bool) (*storage.Page, error) {
	id := t.root
	for depth := 0; depth < maxDepth; depth++ {
		p, err := t.pages.ReadPage(id)
		if err != nil {
			return nil, err
		}
		if p.IsLeaf() {
			return p, nil
		}
		if !p.IsBranch() {
			return nil, fmt.Errorf("btree: page %d is neither branch nor leaf (flags %#x): %w", p.ID, uint32(p.Flags()), errs.ErrPageCorruption)
		}
		var i int
		if leftmost {
			i, err = firstLive(p, 1, 1)
		} else {
			i, err = firstLive(p, p.TagCount()-1, -1)
		}
		if err != nil {
			return nil, err
		}
		if i < 0 {
			return nil, fmt.Errorf("btree: branch page %d has no entries: %w", p.ID, errs.ErrPageCorruption)
		}
		e, err := ParseEntry(p, i)
		if err != nil {
			return nil, err
		}
		if id, err = e.Child(); err != nil {
			return nil, err
		}
	}
	return nil, fmt.Errorf("btree: tree rooted at %d deeper than %d levels: %w", t.root, maxDepth, errs.ErrPageCorruption)
}

// FirstLeaf returns the leftmost leaf page.
func (t *Tree) FirstLeaf() (*storage.Page, error) {
	return t.descend(true)
}

// LastLeaf returns the rightmost leaf page.
func (t *Tree) LastLeaf() (*storage.Page, error) {
	return t.descend(false)
}

// First returns the position of the first live entry; ok is false for an
// empty tree.
func (t *Tree) First() (pos Position, ok bool, err error) {
	p, err := t.FirstLeaf()
	if err != nil {
		return Position{}, false, err
	}
	return t.scan(p, 1, 1)
}

// Last returns the position of the last live entry.
func (t *Tree) Last() (pos Position, ok bool, err error) {
	p, err := t.LastLeaf()
	if err != nil {
		return Position{}, false, err
	}
	return t.scan(p, p.TagCount()-1, -1)
}

// Next returns the live entry after pos, following the leaf chain.
func (t *Tree) Next(pos Position) (Position, bool, error) {
	p, err := t.pages.ReadPage(pos.Page)
	if err != nil {
		return Position{}, false, err
	}
	return t.scan(p, pos.Tag+1, 1)
}

// Prev returns the live entry before pos.
func (t *Tree) Prev(pos Position) (Position, bool, error) {
	p, err := t.pages.ReadPage(pos.Page)
	if err != nil {
		return Position{}, false, err
	}
	return t.scan(p, pos.Tag-1, -1)
}

// scan looks for a live entry starting at tag from of leaf p, moving to
// sibling leaves in direction step when p runs out.
func (t *Tree) scan(p *storage.Page, from, step int) (Position, bool, error) {
	visited := make(map[storage.PageID]bool)
	for {
		if !p.IsLeaf() {
			return Position{}, false, fmt.Errorf("btree: page %d in leaf chain is not a leaf: %w", p.ID, errs.ErrPageCorruption)
		}
		visited[p.ID] = true
		i, err := firstLive(p, from, step)
		if err != nil {
			return Position{}, false, err
		}
		if i >= 0 {
			return Position{Page: p.ID, Tag: i}, true, nil
		}

		sibling := p.Next()
		if step < 0 {
			sibling = p.Prev()
		}
		if sibling == 0 {
			return Position{}, false, nil
		}
		if visited[sibling] {
			return Position{}, false, fmt.Errorf("btree: leaf chain loops back to page %d: %w", sibling, errs.ErrPageCorruption)
		}
		next, err := t.pages.ReadPage(sibling)
		if err != nil {
			return Position{}, false, err
		}
		if step > 0 && next.Prev() != 0 && next.Prev() != p.ID {
			return Position{}, false, fmt.Errorf("btree: page %d previous pointer %d, expected %d: %w", next.ID, next.Prev(), p.ID, errs.ErrPageCorruption)
		}
		if step < 0 && next.Next() != 0 && next.Next() != p.ID {
			return Position{}, false, fmt.Errorf("btree: page %d next pointer %d, expected %d: %w", next.ID, next.Next(), p.ID, errs.ErrPageCorruption)
		}
		p = next
		from = 1
		if step < 0 {
			from = p.TagCount() - 1
		}
	}
}

// Entry parses the entry at pos.
func (t *Tree) Entry(pos Position) (Entry, error) {
	p, err := t.pages.ReadPage(pos.Page)
	if err != nil {
		return Entry{}, err
	}
	return ParseEntry(p, pos.Tag)
}

// Walk visits every live leaf entry left to right. Returning a non-nil error
// from fn stops the walk with that error.
func (t *Tree) Walk(fn func(pos Position, e Entry) error) error {
	pos, ok, err := t.First()
	for ; err == nil && ok; pos, ok, err = t.Next(pos) {
		e, err := t.Entry(pos)
		if err != nil {
			return err
		}
		if err := fn(pos, e); err != nil {
			return err
		}
	}
	return err
}

// Seek returns the first live entry whose key is greater than or equal to
// key. Branch separators are treated as upper bounds with an empty separator
// standing for +infinity; the search enters one child to the left of the
// first separator at or above key and scans forward, so it tolerates either
// separator convention.
func (t *Tree) Seek(key []byte) (Position, bool, error) {
	id := t.root
	var leaf *storage.Page
	for depth := 0; leaf == nil; depth++ {
		if depth >= maxDepth {
			return Position{}, false, fmt.Errorf("btree: tree rooted at %d deeper than %d levels: %w", t.root, maxDepth, errs.ErrPageCorruption)
		}
		p, err := t.pages.ReadPage(id)
		if err != nil {
			return Position{}, false, err
		}
		if p.IsLeaf() {
			leaf = p
			break
		}
		if !p.IsBranch() {
			return Position{}, false, fmt.Errorf("btree: page %d is neither branch nor leaf: %w", p.ID, errs.ErrPageCorruption)
		}
		var children []storage.PageID
		pick := -1
		for i := 1; i < p.TagCount(); i++ {
			tag, err := p.Tag(i)
			if err != nil {
				return Position{}, false, err
			}
			if tag.Defunct() {
				continue
			}
			e, err := ParseEntry(p, i)
			if err != nil {
				return Position{}, false, err
			}
			child, err := e.Child()
			if err != nil {
				return Position{}, false, err
			}
			children = append(children, child)
			if len(e.Key) == 0 || bytes.Compare(e.Key, key) >= 0 {
				pick = len(children) - 1
				break
			}
		}
		if len(children) == 0 {
			return Position{}, false, fmt.Errorf("btree: branch page %d has no entries: %w", p.ID, errs.ErrPageCorruption)
		}
		if pick < 0 {
			pick = len(children) - 1
		}
		if pick > 0 {
			pick--
		}
		id = children[pick]
	}

	pos, ok, err := t.scan(leaf, 1, 1)
	for ; err == nil && ok; pos, ok, err = t.Next(pos) {
		e, err := t.Entry(pos)
		if err != nil {
			return Position{}, false, err
		}
		if bytes.Compare(e.Key, key) >= 0 {
			return pos, true, nil
		}
	}
	return Position{}, false, err
}
