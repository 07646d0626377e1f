package storage

import (
	"encoding/binary"
	"fmt"

	"github.com/example/esedb/internal/errs"
)

const (
	// Signature identifies an ESE database file header.
	Signature = uint32(0x89abcdef)

	// FormatVersion is the only major format version the reader accepts.
	FormatVersion = uint32(0x620)

	// RevisionNewRecordFormat introduced the ECC page header.
	RevisionNewRecordFormat = uint32(0x0b)
	// RevisionExtendedPageHeader introduced 64-bit page checksums, large
	// pages and the extended page header.
	RevisionExtendedPageHeader = uint32(0x11)

	// FileHeaderSize is the number of header bytes covered by the checksum.
	FileHeaderSize = 672

	minPageSize = 2048
	maxPageSize = 32768
)

// DBState is the shutdown state recorded in the file header.
type DBState uint32

const (
	StateImpossible DBState = iota
	StateJustCreated
	StateDirtyShutdown
	StateCleanShutdown
	StateBeingConverted
	StateForceDetach
)

func (s DBState) String() string {
	switch s {
	case StateImpossible:
		return "Impossible"
	case StateJustCreated:
		return "JustCreated"
	case StateDirtyShutdown:
		return "DirtyShutdown"
	case StateCleanShutdown:
		return "CleanShutdown"
	case StateBeingConverted:
		return "BeingConverted"
	case StateForceDetach:
		return "ForceDetach"
	default:
		return fmt.Sprintf("DBState(%d)", uint32(s))
	}
}

// FileHeader holds the fields of the database file header the reader uses.
type FileHeader struct {
	Checksum               uint32
	Signature              uint32
	FormatVersion          uint32
	FileType               uint32
	State                  DBState
	LastObjectID           uint32
	FormatRevision         uint32
	PageSize               uint32
	CreationFormatVersion  uint32
	CreationFormatRevision uint32
}

// HeaderChecksum computes the XOR checksum of a file header: every
// little-endian 32-bit word after the stored checksum, seeded with the
// signature.
func HeaderChecksum(buf []byte) uint32 {
	sum := Signature
	for off := 4; off+4 <= FileHeaderSize && off+4 <= len(buf); off += 4 {
		sum ^= binary.LittleEndian.Uint32(buf[off:])
	}
	return sum
}

func parseFileHeader(buf []byte) (FileHeader, error) {
	if len(buf) < FileHeaderSize {
		return FileHeader{}, fmt.Errorf("storage: file header truncated to %d bytes: %w", len(buf), errs.ErrFormat)
	}
	le := binary.LittleEndian
	h := FileHeader{
		Checksum:               le.Uint32(buf[0:4]),
		Signature:              le.Uint32(buf[4:8]),
		FormatVersion:          le.Uint32(buf[8:12]),
		FileType:               le.Uint32(buf[12:16]),
		State:                  DBState(le.Uint32(buf[52:56])),
		LastObjectID:           le.Uint32(buf[212:216]),
		FormatRevision:         le.Uint32(buf[232:236]),
		PageSize:               le.Uint32(buf[236:240]),
		CreationFormatVersion:  le.Uint32(buf[340:344]),
		CreationFormatRevision: le.Uint32(buf[344:348]),
	}
	if h.Signature != Signature {
		return h, fmt.Errorf("storage: bad file signature %#x: %w", h.Signature, errs.ErrFormat)
	}
	return h, nil
}

// readFileHeader loads the primary header, reconciles it with the backup
// copy stored one page further in and validates the result.
func readFileHeader(src Source) (FileHeader, error) {
	if src.Size() < FileHeaderSize {
		return FileHeader{}, fmt.Errorf("storage: file too small (%d bytes): %w", src.Size(), errs.ErrFormat)
	}
	buf := make([]byte, FileHeaderSize)
	if err := readFull(src, buf, 0); err != nil {
		return FileHeader{}, err
	}
	h, err := parseFileHeader(buf)
	if err != nil {
		return FileHeader{}, err
	}
	if sum := HeaderChecksum(buf); sum != h.Checksum {
		return FileHeader{}, fmt.Errorf("storage: header checksum %#x, calculated %#x: %w", h.Checksum, sum, errs.ErrFormat)
	}

	backup, err := readBackupHeader(src, h.PageSize)
	if err != nil {
		return FileHeader{}, err
	}
	if h.FormatRevision == 0 {
		h.FormatRevision = backup.FormatRevision
	}
	if h.FormatRevision != backup.FormatRevision {
		return FileHeader{}, fmt.Errorf("storage: format revision %#x differs from backup %#x: %w",
			h.FormatRevision, backup.FormatRevision, errs.ErrFormat)
	}
	if h.PageSize == 0 {
		h.PageSize = backup.PageSize
	}
	if h.PageSize != backup.PageSize {
		return FileHeader{}, fmt.Errorf("storage: page size %d differs from backup %d: %w",
			h.PageSize, backup.PageSize, errs.ErrFormat)
	}

	if h.FormatVersion != FormatVersion {
		return FileHeader{}, fmt.Errorf("storage: unsupported format version %#x: %w", h.FormatVersion, errs.ErrFormat)
	}
	if h.FormatRevision <= 2 {
		return FileHeader{}, fmt.Errorf("storage: linear tagged format revision %#x not supported: %w", h.FormatRevision, errs.ErrFormat)
	}
	if !validPageSize(h.PageSize) {
		return FileHeader{}, fmt.Errorf("storage: invalid page size %d: %w", h.PageSize, errs.ErrFormat)
	}
	return h, nil
}

// readBackupHeader reads the shadow header. When the primary header does not
// record a page size every candidate size is probed for a valid signature.
func readBackupHeader(src Source, pageSize uint32) (FileHeader, error) {
	candidates := []uint32{pageSize}
	if pageSize == 0 {
		candidates = candidates[:0]
		for size := uint32(minPageSize); size <= maxPageSize; size <<= 1 {
			candidates = append(candidates, size)
		}
	}
	buf := make([]byte, FileHeaderSize)
	for _, off := range candidates {
		if int64(off)+FileHeaderSize > src.Size() {
			continue
		}
		if err := readFull(src, buf, int64(off)); err != nil {
			return FileHeader{}, err
		}
		h, err := parseFileHeader(buf)
		if err != nil {
			if pageSize == 0 {
				continue
			}
			return FileHeader{}, fmt.Errorf("storage: backup header: %w", err)
		}
		if pageSize == 0 && h.PageSize != off {
			continue
		}
		return h, nil
	}
	return FileHeader{}, fmt.Errorf("storage: backup header not found: %w", errs.ErrFormat)
}

func validPageSize(size uint32) bool {
	return size >= minPageSize && size <= maxPageSize && size&(size-1) == 0
}

var revisionNotes = map[uint32]string{
	0x00: "Original operating system Beta format (April 22, 1997)",
	0x01: "Add columns in the catalog for conditional indexing and OLD (May 29, 1997)",
	0x02: "Add the fLocalizedText flag in IDB (July 5, 1997)",
	0x03: "Add SPLIT_BUFFER to space tree root pages (October 30, 1997)",
	0x04: "Super Long Value (SLV) support (May 5, 1998)",
	0x05: "New SLV space tree (May 29, 1998)",
	0x06: "SLV space map (October 12, 1998)",
	0x07: "4-byte IDXSEG (December 10, 1998)",
	0x08: "New template column format (January 25, 1999)",
	0x09: "Sorted template columns (July 24, 1999), used in Windows XP SP3",
	0x0b: "Page header with ECC checksum, used in Exchange",
	0x0c: "Used in Windows Vista (SP0)",
	0x11: "2, 16 and 32 KiB pages, extended page header, column compression, used in Windows 7 (SP0)",
	0x14: "Used in Exchange 2013 and Active Directory 2016",
}

// RevisionDescription renders a version/revision pair with its known
// history note.
func RevisionDescription(version, revision uint32) string {
	note := "Unknown"
	if version == FormatVersion {
		if s, ok := revisionNotes[revision]; ok {
			note = s
		}
	}
	return fmt.Sprintf("%#x, %#x: %s", version, revision, note)
}
