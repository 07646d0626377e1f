//go:build !unix

package storage

// Mapped falls back to positional file reads where mmap is unavailable.
type Mapped = File

// OpenMapped opens path with plain positional reads.
func OpenMapped(path string) (*Mapped, error) {
	return OpenFile(path)
}
