package storage

import (
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/example/esedb/internal/errs"
)

// DefaultCacheSize is the number of parsed pages kept by a Manager unless
// configured otherwise.
const DefaultCacheSize = 256

// Manager coordinates read access to an ESE database image: it validates the
// file header once and then serves parsed pages by number.
type Manager struct {
	mu        sync.RWMutex
	src       Source
	header    FileHeader
	layout    Layout
	pageCount uint32
	cache     *lru[PageID, *Page]
	closed    bool
}

// Open validates the file header of src and prepares page access. A
// cacheSize of zero disables page caching.
func Open(src Source, cacheSize int) (*Manager, error) {
	header, err := readFileHeader(src)
	if err != nil {
		return nil, err
	}
	pageSize := int64(header.PageSize)
	pages := src.Size()/pageSize - 2
	if pages < 0 {
		pages = 0
	}
	return &Manager{
		src:       src,
		header:    header,
		layout:    Layout{PageSize: int(header.PageSize), Revision: header.FormatRevision},
		pageCount: uint32(pages),
		cache:     newLRU[PageID, *Page](cacheSize),
	}, nil
}

// Header returns the validated file header.
func (m *Manager) Header() FileHeader {
	return m.header
}

// PageSize returns the database page size in bytes.
func (m *Manager) PageSize() int {
	return m.layout.PageSize
}

// Layout returns the page layout parameters.
func (m *Manager) Layout() Layout {
	return m.layout
}

// PageCount returns the number of database pages implied by the file length.
func (m *Manager) PageCount() uint32 {
	return m.pageCount
}

// ReadPage retrieves and parses the given page.
func (m *Manager) ReadPage(id PageID) (*Page, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, errs.IO(fmt.Sprintf("storage: read page %d", id), os.ErrClosed)
	}
	if id == 0 || uint32(id) > m.pageCount {
		return nil, fmt.Errorf("storage: page %d out of bounds (1..%d): %w", id, m.pageCount, errs.ErrOutOfRange)
	}
	if p, ok := m.cache.Get(id); ok {
		return p, nil
	}

	buf := make([]byte, m.layout.PageSize)
	offset := (int64(id) + 1) * int64(m.layout.PageSize)
	if err := readFull(m.src, buf, offset); err != nil {
		return nil, err
	}
	p, err := ParsePage(id, m.layout, buf)
	if err != nil {
		return nil, err
	}
	m.cache.Put(id, p)
	return p, nil
}

// CachedPages reports how many parsed pages are currently cached.
func (m *Manager) CachedPages() int {
	return m.cache.Len()
}

// Close drops cached pages and closes the source when it is closable.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil
	}
	m.closed = true
	m.cache.Purge()
	if c, ok := m.src.(io.Closer); ok {
		return c.Close()
	}
	return nil
}
