// Package value turns the raw bytes of a column into a typed Go value.
package value

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/shopspring/decimal"

	"github.com/example/esedb/internal/catalog"
	"github.com/example/esedb/internal/errs"
)

// currencyScale is the power of ten applied to the stored Currency integer.
const currencyScale = -4

// Decode converts raw into the Go value of typ:
//
//	Bit                 bool
//	UnsignedByte        uint8
//	Short               int16
//	Long                int32
//	Currency            decimal.Decimal
//	IEEESingle          float32
//	IEEEDouble          float64
//	DateTime            time.Time (UTC)
//	Binary, LongBinary  []byte
//	Text, LongText      string
//	UnsignedLong        uint32
//	LongLong            int64
//	GUID                string, {XXXXXXXX-XXXX-XXXX-XXXX-XXXXXXXXXXXX}
//	UnsignedShort       uint16
//	UnsignedLongLong    uint64
//
// A nil raw slice is null and decodes to nil. Fixed-width types reject any
// other width with ErrRecordCorruption.
func Decode(raw []byte, typ catalog.ColumnType, codePage uint32) (interface{}, error) {
	if raw == nil || typ == catalog.ColumnTypeNil {
		return nil, nil
	}
	if w := typ.FixedWidth(); w > 0 && len(raw) != w {
		return nil, fmt.Errorf("value: %s value has %d bytes, want %d: %w", typ, len(raw), w, errs.ErrRecordCorruption)
	}

	le := binary.LittleEndian
	switch typ {
	case catalog.ColumnTypeBit:
		return raw[0] != 0, nil
	case catalog.ColumnTypeUnsignedByte:
		return raw[0], nil
	case catalog.ColumnTypeShort:
		return int16(le.Uint16(raw)), nil
	case catalog.ColumnTypeLong:
		return int32(le.Uint32(raw)), nil
	case catalog.ColumnTypeCurrency:
		return decimal.New(int64(le.Uint64(raw)), currencyScale), nil
	case catalog.ColumnTypeIEEESingle:
		return math.Float32frombits(le.Uint32(raw)), nil
	case catalog.ColumnTypeIEEEDouble:
		return math.Float64frombits(le.Uint64(raw)), nil
	case catalog.ColumnTypeDateTime:
		return OLEDate(math.Float64frombits(le.Uint64(raw)))
	case catalog.ColumnTypeBinary, catalog.ColumnTypeLongBinary, catalog.ColumnTypeSLV:
		return append([]byte{}, raw...), nil
	case catalog.ColumnTypeText, catalog.ColumnTypeLongText:
		return DecodeText(raw, codePage)
	case catalog.ColumnTypeUnsignedLong:
		return le.Uint32(raw), nil
	case catalog.ColumnTypeLongLong:
		return int64(le.Uint64(raw)), nil
	case catalog.ColumnTypeGUID:
		return FormatGUID(raw)
	case catalog.ColumnTypeUnsignedShort:
		return le.Uint16(raw), nil
	case catalog.ColumnTypeUnsignedLongLong:
		return le.Uint64(raw), nil
	}
	return append([]byte{}, raw...), nil
}
