package storage

import (
	"bytes"
	"fmt"
	"io"
	"os"

	"github.com/example/esedb/internal/errs"
)

// Source is the capability the reader needs from its backing store: positional
// reads and a fixed total length. Files, memory buffers, memory maps and
// network-backed readers all satisfy it.
type Source interface {
	io.ReaderAt
	Size() int64
}

// NewSource adapts any io.ReaderAt of known length, such as an already-open
// stream handed over by a caller.
func NewSource(r io.ReaderAt, size int64) Source {
	return io.NewSectionReader(r, 0, size)
}

// FromBytes serves a database image held entirely in memory.
func FromBytes(buf []byte) Source {
	return bytes.NewReader(buf)
}

// File is a Source backed by an *os.File using positional reads.
type File struct {
	file *os.File
	size int64
}

// OpenFile opens path read-only.
func OpenFile(path string) (*File, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errs.IO("storage: open "+path, err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, errs.IO("storage: stat "+path, err)
	}
	if info.IsDir() {
		f.Close()
		return nil, fmt.Errorf("storage: %s is a directory: %w", path, errs.ErrFormat)
	}
	return &File{file: f, size: info.Size()}, nil
}

// ReadAt implements io.ReaderAt.
func (f *File) ReadAt(p []byte, off int64) (int, error) {
	if f.file == nil {
		return 0, os.ErrClosed
	}
	return f.file.ReadAt(p, off)
}

// Size returns the file length captured when it was opened.
func (f *File) Size() int64 {
	return f.size
}

// Close releases the file handle.
func (f *File) Close() error {
	if f.file == nil {
		return nil
	}
	err := f.file.Close()
	f.file = nil
	return err
}

// readFull reads exactly len(buf) bytes at off, mapping short reads and source
// failures onto ErrIO.
func readFull(src Source, buf []byte, off int64) error {
	n, err := src.ReadAt(buf, off)
	if n == len(buf) {
		return nil
	}
	if err == nil || err == io.EOF {
		err = io.ErrUnexpectedEOF
	}
	return errs.IO(fmt.Sprintf("storage: read %d bytes at offset %d", len(buf), off), err)
}
