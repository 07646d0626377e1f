// Package longvalue reassembles values stored out of line in a table's
// long-value tree. Segments are keyed by the big-endian pair (LID, byte
// offset); a 4-byte key holding only the LID prefixes them with a
// (reference count, total size) header.
package longvalue

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/example/esedb/internal/btree"
	"github.com/example/esedb/internal/errs"
	"github.com/example/esedb/internal/storage"
)

// Header is the descriptor record stored ahead of a value's segments.
type Header struct {
	RefCount  uint32
	TotalSize uint32
}

// Resolver looks up long values in one table's long-value tree.
type Resolver struct {
	pages btree.PageReader
	tree  *btree.Tree
}

// New returns a resolver for the tree rooted at root. A zero root yields a
// resolver that reports every LID as missing.
func New(pages btree.PageReader, root storage.PageID) *Resolver {
	if root == 0 {
		return &Resolver{}
	}
	return &Resolver{pages: pages, tree: btree.New(pages, root)}
}

// ParseLID decodes the inline reference of an out-of-line value.
func ParseLID(inline []byte) (uint32, error) {
	if len(inline) != 4 {
		return 0, fmt.Errorf("longvalue: inline reference has %d bytes, want 4: %w", len(inline), errs.ErrRecordCorruption)
	}
	return binary.LittleEndian.Uint32(inline), nil
}

// Resolve concatenates the segments of lid in ascending offset order. Each
// segment must start where the previous one ended; a missing first segment,
// a gap or a repeated offset fails with a MissingLongValueError.
func (r *Resolver) Resolve(lid uint32) ([]byte, error) {
	if r.tree == nil {
		return nil, errs.NewMissingLongValue(lid, "table has no long-value tree")
	}
	root, err := r.pages.ReadPage(r.tree.Root())
	if err != nil {
		return nil, r.wrap(lid, err)
	}
	if !root.IsLongValue() {
		return nil, fmt.Errorf("longvalue: page %d is not a long-value root: %w", root.ID, errs.ErrPageCorruption)
	}
	prefix := binary.BigEndian.AppendUint32(nil, lid)
	pos, ok, err := r.tree.Seek(prefix)
	if err != nil {
		return nil, r.wrap(lid, err)
	}

	var (
		out    []byte
		header *Header
		found  bool
		seen   = make(map[uint32]bool)
	)
	for ; ok; pos, ok, err = r.tree.Next(pos) {
		e, err := r.tree.Entry(pos)
		if err != nil {
			return nil, r.wrap(lid, err)
		}
		if !bytes.HasPrefix(e.Key, prefix) {
			break
		}
		switch len(e.Key) {
		case 4:
			if len(e.Data) < 8 {
				return nil, fmt.Errorf("longvalue: header of %#x has %d bytes: %w", lid, len(e.Data), errs.ErrPageCorruption)
			}
			header = &Header{
				RefCount:  binary.LittleEndian.Uint32(e.Data[0:4]),
				TotalSize: binary.LittleEndian.Uint32(e.Data[4:8]),
			}
		case 8:
			off := binary.BigEndian.Uint32(e.Key[4:])
			if seen[off] {
				return nil, errs.NewMissingLongValue(lid, fmt.Sprintf("segment at offset %d repeats", off))
			}
			seen[off] = true
			if off != uint32(len(out)) {
				if !found && off != 0 {
					return nil, errs.NewMissingLongValue(lid, fmt.Sprintf("first segment starts at offset %d", off))
				}
				return nil, errs.NewMissingLongValue(lid, fmt.Sprintf("segment at offset %d, expected %d", off, len(out)))
			}
			found = true
			out = append(out, e.Data...)
		default:
			return nil, fmt.Errorf("longvalue: key of %d bytes under %#x: %w", len(e.Key), lid, errs.ErrPageCorruption)
		}
	}
	if err != nil {
		return nil, r.wrap(lid, err)
	}
	if !found {
		return nil, errs.NewMissingLongValue(lid, "no segments")
	}
	if header != nil && uint32(len(out)) < header.TotalSize {
		return nil, errs.NewMissingLongValue(lid, fmt.Sprintf("assembled %d of %d bytes", len(out), header.TotalSize))
	}
	if header != nil && uint32(len(out)) > header.TotalSize {
		out = out[:header.TotalSize]
	}
	return out, nil
}

func (r *Resolver) wrap(lid uint32, err error) error {
	var missing *errs.MissingLongValueError
	if errors.As(err, &missing) {
		return err
	}
	return fmt.Errorf("longvalue: resolve %#x: %w", lid, err)
}
