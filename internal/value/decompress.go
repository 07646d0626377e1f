package value

import (
	"encoding/binary"
	"fmt"

	"github.com/example/esedb/internal/errs"
)

// Compression schemes, stored in the top five bits of the first byte.
const (
	Scheme7BitASCII   = 1
	Scheme7BitUnicode = 2
	SchemeLZXpress    = 3
)

// Decompress expands a value stored with the compressed tag flag.
func Decompress(data []byte) ([]byte, error) {
	if len(data) == 0 {
		return nil, corrupt("compressed value is empty")
	}
	switch scheme := data[0] >> 3; scheme {
	case Scheme7BitASCII:
		return unpack7Bit(data)
	case Scheme7BitUnicode:
		narrow, err := unpack7Bit(data)
		if err != nil {
			return nil, err
		}
		wide := make([]byte, 2*len(narrow))
		for i, c := range narrow {
			wide[2*i] = c
		}
		return wide, nil
	case SchemeLZXpress:
		if len(data) < 3 {
			return nil, corrupt("LZXPRESS value of %d bytes lacks its size", len(data))
		}
		size := int(binary.LittleEndian.Uint16(data[1:3]))
		return lz77Decompress(data[3:], size)
	default:
		return nil, corrupt("unknown compression scheme %d", scheme)
	}
}

// DecompressedSize reports the expanded length of a compressed value, or zero
// if the scheme is not recognised.
func DecompressedSize(data []byte) int {
	if len(data) == 0 {
		return 0
	}
	switch data[0] >> 3 {
	case Scheme7BitASCII:
		return size7Bit(data)
	case Scheme7BitUnicode:
		return 2 * size7Bit(data)
	case SchemeLZXpress:
		if len(data) < 3 {
			return 0
		}
		return int(binary.LittleEndian.Uint16(data[1:3]))
	}
	return 0
}

// size7Bit derives the character count from the packed length; the low three
// bits of the first byte hold the number of bits used in the final byte,
// minus one.
func size7Bit(data []byte) int {
	if len(data) < 2 {
		return 0
	}
	bits := (len(data)-2)*8 + int(data[0]&0x7) + 1
	return bits / 7
}

// unpack7Bit reads consecutive 7-bit characters packed little-endian from
// data[1:].
func unpack7Bit(data []byte) ([]byte, error) {
	n := size7Bit(data)
	if n == 0 {
		return nil, corrupt("7-bit value of %d bytes holds no characters", len(data))
	}
	out := make([]byte, n)
	idx, bit := 1, uint(0)
	for i := range out {
		if idx >= len(data) {
			return nil, corrupt("7-bit value truncated at character %d", i)
		}
		word := uint16(data[idx])
		if bit > 1 && idx+1 < len(data) {
			word |= uint16(data[idx+1]) << 8
		}
		out[i] = byte(word>>bit) & 0x7f
		bit += 7
		if bit >= 8 {
			bit -= 8
			idx++
		}
	}
	return out, nil
}

// lz77Decompress implements the plain LZ77 variant of MS-XCA 2.4.4: 32-bit
// flag words, most significant bit first, select between literal bytes and
// back references whose long lengths borrow nibbles shared between matches.
func lz77Decompress(in []byte, size int) ([]byte, error) {
	out := make([]byte, 0, size)
	var (
		pos       int
		flags     uint32
		flagCount uint
		nibble    = -1
	)
	le := binary.LittleEndian
	for pos < len(in) {
		if flagCount == 0 {
			if pos+4 > len(in) {
				return nil, corrupt("LZXPRESS flags truncated at %d", pos)
			}
			flags = le.Uint32(in[pos:])
			pos += 4
			flagCount = 32
		}
		flagCount--

		if flags&(1<<flagCount) == 0 {
			if pos >= len(in) {
				return nil, corrupt("LZXPRESS literal truncated at %d", pos)
			}
			if len(out) >= size {
				return nil, corrupt("LZXPRESS output exceeds %d bytes", size)
			}
			out = append(out, in[pos])
			pos++
			continue
		}

		if pos == len(in) {
			break
		}
		if pos+2 > len(in) {
			return nil, corrupt("LZXPRESS match truncated at %d", pos)
		}
		match := int(le.Uint16(in[pos:]))
		pos += 2
		offset := match/8 + 1
		length := match % 8

		if length == 7 {
			if nibble < 0 {
				if pos >= len(in) {
					return nil, corrupt("LZXPRESS length nibble truncated at %d", pos)
				}
				length = int(in[pos] & 0x0f)
				nibble = pos
				pos++
			} else {
				length = int(in[nibble] >> 4)
				nibble = -1
			}
			if length == 15 {
				if pos >= len(in) {
					return nil, corrupt("LZXPRESS length byte truncated at %d", pos)
				}
				length = int(in[pos])
				pos++
				if length == 255 {
					if pos+2 > len(in) {
						return nil, corrupt("LZXPRESS length word truncated at %d", pos)
					}
					length = int(le.Uint16(in[pos:]))
					pos += 2
					if length == 0 {
						if pos+4 > len(in) {
							return nil, corrupt("LZXPRESS length dword truncated at %d", pos)
						}
						length = int(le.Uint32(in[pos:]))
						pos += 4
					}
					if length < 15+7 {
						return nil, corrupt("LZXPRESS match length %d too small", length)
					}
					length -= 15 + 7
				}
				length += 15
			}
			length += 7
		}
		length += 3

		if offset > len(out) {
			return nil, corrupt("LZXPRESS match offset %d before start of output %d", offset, len(out))
		}
		if len(out)+length > size {
			return nil, corrupt("LZXPRESS output exceeds %d bytes", size)
		}
		for i := 0; i < length; i++ {
			out = append(out, out[len(out)-offset])
		}
	}
	if len(out) != size {
		return nil, corrupt("LZXPRESS produced %d bytes, header says %d", len(out), size)
	}
	return out, nil
}

func corrupt(format string, args ...interface{}) error {
	return fmt.Errorf("value: "+format+": %w", append(args, errs.ErrRecordCorruption)...)
}
