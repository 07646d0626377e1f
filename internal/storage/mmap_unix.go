//go:build unix

package storage

import (
	"fmt"
	"io"
	"os"

	"golang.org/x/sys/unix"

	"github.com/example/esedb/internal/errs"
)

// Mapped is a read-only memory-mapped Source.
type Mapped struct {
	file *os.File
	data []byte
	size int64
}

// OpenMapped maps the file at path into memory for reading.
func OpenMapped(path string) (*Mapped, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, errs.IO("storage: open "+path, err)
	}
	info, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, errs.IO("storage: stat "+path, err)
	}
	size := info.Size()
	if size == 0 {
		file.Close()
		return nil, fmt.Errorf("storage: cannot map empty file %s: %w", path, errs.ErrFormat)
	}

	data, err := unix.Mmap(int(file.Fd()), 0, int(size), unix.PROT_READ, unix.MAP_SHARED)
	if err != nil {
		file.Close()
		return nil, errs.IO("storage: mmap "+path, err)
	}
	return &Mapped{file: file, data: data, size: size}, nil
}

// ReadAt copies out of the mapping.
func (m *Mapped) ReadAt(p []byte, off int64) (int, error) {
	if m.data == nil {
		return 0, os.ErrClosed
	}
	if off < 0 {
		return 0, fmt.Errorf("storage: negative offset %d", off)
	}
	if off >= m.size {
		return 0, io.EOF
	}
	n := copy(p, m.data[off:])
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

// Size returns the mapped length.
func (m *Mapped) Size() int64 {
	return m.size
}

// Close unmaps and closes the file.
func (m *Mapped) Close() error {
	if m.data != nil {
		if err := unix.Munmap(m.data); err != nil {
			return fmt.Errorf("storage: munmap: %w", err)
		}
		m.data = nil
	}
	if m.file != nil {
		if err := m.file.Close(); err != nil {
			return fmt.Errorf("storage: close: %w", err)
		}
		m.file = nil
	}
	return nil
}
