package api

import (
	"io"

	"github.com/sirupsen/logrus"

	"github.com/example/esedb/internal/storage"
)

// Options configure how a database is opened.
type Options struct {
	// CacheSize is the number of parsed pages kept in memory. Zero or less
	// disables the cache.
	CacheSize int
	// Logger receives debug events. The default discards everything.
	Logger logrus.FieldLogger
	// Mmap maps the file into memory instead of reading it with ReadAt.
	Mmap bool
}

// Option mutates Options.
type Option func(*Options)

// WithCacheSize sets the page cache capacity.
func WithCacheSize(pages int) Option {
	return func(o *Options) { o.CacheSize = pages }
}

// WithLogger routes debug events to l.
func WithLogger(l logrus.FieldLogger) Option {
	return func(o *Options) { o.Logger = l }
}

// WithMmap selects the memory-mapped file backend.
func WithMmap(enabled bool) Option {
	return func(o *Options) { o.Mmap = enabled }
}

func buildOptions(opts []Option) Options {
	o := Options{CacheSize: storage.DefaultCacheSize}
	for _, opt := range opts {
		opt(&o)
	}
	if o.Logger == nil {
		l := logrus.New()
		l.SetOutput(io.Discard)
		o.Logger = l
	}
	return o
}
