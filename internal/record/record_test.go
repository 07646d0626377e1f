package record_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/example/esedb/internal/errs"
	"github.com/example/esedb/internal/record"
)

var layout = record.Layout{Fixed: []record.FixedColumn{{ID: 1, Width: 4}, {ID: 2, Width: 2}, {ID: 3, Width: 8}}}

// sampleRecord holds fixed column 1 = 7 and 2 = null, variable 128 = "abc"
// and 129 = null, tagged 256 = "xy" and multi-valued 300 = {"p", "qr"}.
func sampleRecord() []byte {
	return []byte{
		// last fixed, last variable, variable offset
		2, 129, 11, 0,
		// fixed columns 1 and 2, then the null bitmap
		7, 0, 0, 0, 0, 0, 0x02,
		// variable end offsets and values
		0x03, 0x00, 0x03, 0x80, 'a', 'b', 'c',
		0x00, 0x01, 0x08, 0x00, // tagged 256 at 8
		0x2c, 0x01, 0x0a, 0x40, // tagged 300 at 10, flag byte present
		'x', 'y',
		0x09, 0x04, 0x00, 0x05, 0x00, 'p', 'q', 'r',
	}
}

func TestDecodeRegions(t *testing.T) {
	data := sampleRecord()
	rec, err := record.Decode(data, layout)
	require.NoError(t, err)
	require.Equal(t, uint32(2), rec.LastFixed())
	require.Equal(t, uint32(129), rec.LastVariable())

	f := rec.Field(1)
	require.False(t, f.Null)
	require.Equal(t, []byte{7, 0, 0, 0}, rec.Bytes(f.Range))
	require.True(t, rec.Field(2).Null)
	require.True(t, rec.Field(3).Null, "fixed column past the last present one")

	f = rec.Field(128)
	require.False(t, f.Null)
	require.Equal(t, record.KindVariable, f.Kind)
	require.Equal(t, "abc", string(rec.Bytes(f.Range)))
	require.True(t, rec.Field(129).Null)
	require.True(t, rec.Field(130).Null)

	f = rec.Field(256)
	require.Equal(t, record.KindTagged, f.Kind)
	require.Equal(t, "xy", string(rec.Bytes(f.Range)))
	require.Zero(t, f.Flags)
	require.True(t, rec.Field(257).Null)

	tagged := rec.Tagged()
	require.Len(t, tagged, 2)
	require.Equal(t, uint32(300), tagged[1].Column)
	require.Equal(t, record.TagVariable|record.TagMultiValue, tagged[1].Flags)

	vals, err := rec.Values(300)
	require.NoError(t, err)
	require.Len(t, vals, 2)
	require.Equal(t, "p", string(rec.Bytes(vals[0].Range)))
	require.Equal(t, "qr", string(rec.Bytes(vals[1].Range)))
	require.False(t, vals[0].LongValue)

	vals, err = rec.Values(2)
	require.NoError(t, err)
	require.Empty(t, vals)
	vals, err = rec.Values(128)
	require.NoError(t, err)
	require.Len(t, vals, 1)
}

func TestDecodeTwoValues(t *testing.T) {
	small := []byte{0, 127, 4, 0, 0x00, 0x01, 0x04, 0x40, 0x11, 2, 'a', 'b', 'c', 'd', 'e'}
	large := []byte{0, 127, 4, 0, 0x00, 0x01, 0x04, 0x00, 0x11, 2, 'a', 'b', 'c', 'd', 'e'}
	for name, tc := range map[string]struct {
		data  []byte
		large bool
	}{
		"small page": {small, false},
		"large page": {large, true},
	} {
		t.Run(name, func(t *testing.T) {
			rec, err := record.Decode(tc.data, record.Layout{LargePage: tc.large})
			require.NoError(t, err)
			vals, err := rec.Values(256)
			require.NoError(t, err)
			require.Len(t, vals, 2)
			require.Equal(t, "ab", string(rec.Bytes(vals[0].Range)))
			require.Equal(t, "cde", string(rec.Bytes(vals[1].Range)))
		})
	}
}

func TestDecodeLongValueFlags(t *testing.T) {
	data := []byte{0, 127, 4, 0, 0x00, 0x01, 0x04, 0x40, 0x07, 1, 0, 0, 0}
	rec, err := record.Decode(data, record.Layout{})
	require.NoError(t, err)
	vals, err := rec.Values(256)
	require.NoError(t, err)
	require.Len(t, vals, 1)
	require.True(t, vals[0].LongValue)
	require.True(t, vals[0].Compressed)
	require.Equal(t, []byte{1, 0, 0, 0}, rec.Bytes(vals[0].Range))

	multi := []byte{0, 127, 4, 0, 0x00, 0x01, 0x04, 0x40, 0x09, 0x04, 0x80, 0x08, 0x00, 1, 0, 0, 0, 'z'}
	rec, err = record.Decode(multi, record.Layout{})
	require.NoError(t, err)
	vals, err = rec.Values(256)
	require.NoError(t, err)
	require.Len(t, vals, 2)
	require.True(t, vals[0].LongValue)
	require.False(t, vals[1].LongValue)
	require.Equal(t, "z", string(rec.Bytes(vals[1].Range)))
}

func TestDecodeCompressedMultiValues(t *testing.T) {
	multi := []byte{0, 127, 4, 0, 0x00, 0x01, 0x04, 0x40, 0x0b, 0x04, 0x00, 0x07, 0x00, 'a', 'b', 'c', 'd', 'e'}
	rec, err := record.Decode(multi, record.Layout{})
	require.NoError(t, err)
	require.Equal(t, record.TagVariable|record.TagCompressed|record.TagMultiValue, rec.Field(256).Flags)
	vals, err := rec.Values(256)
	require.NoError(t, err)
	require.Len(t, vals, 2)
	require.Equal(t, "abc", string(rec.Bytes(vals[0].Range)))
	require.True(t, vals[0].Compressed)
	require.False(t, vals[1].Compressed)

	two := []byte{0, 127, 4, 0, 0x00, 0x01, 0x04, 0x40, 0x13, 2, 'a', 'b', 'c', 'd', 'e'}
	rec, err = record.Decode(two, record.Layout{})
	require.NoError(t, err)
	vals, err = rec.Values(256)
	require.NoError(t, err)
	require.Len(t, vals, 2)
	require.True(t, vals[0].Compressed)
	require.False(t, vals[1].Compressed)
}

func TestDecodeCorruption(t *testing.T) {
	cases := map[string][]byte{
		"short header":      {1, 2, 3},
		"variable offset":   {0, 127, 100, 0},
		"variable overrun":  {0, 128, 4, 0, 0x10, 0x00},
		"tagged directory":  {0, 127, 4, 0, 0x00, 0x01, 0x40, 0x00},
		"tagged order":      {0, 127, 4, 0, 0x2c, 0x01, 0x08, 0x00, 0x00, 0x01, 0x09, 0x00, 'a', 'b'},
		"tagged short":      {0, 127, 4, 0, 0x00},
		"fixed past bitmap": {1, 127, 5, 0, 0x00},
		"multi-value table": {0, 127, 4, 0, 0x00, 0x01, 0x04, 0x40, 0x09, 0x09, 0x00},
	}
	fixed := record.Layout{Fixed: []record.FixedColumn{{ID: 1, Width: 4}}}
	for name, data := range cases {
		t.Run(name, func(t *testing.T) {
			rec, err := record.Decode(data, fixed)
			if err == nil {
				_, err = rec.Values(256)
			}
			if !errors.Is(err, errs.ErrRecordCorruption) {
				t.Fatalf("expected record corruption, got %v", err)
			}
		})
	}
}

func TestKindOf(t *testing.T) {
	require.Equal(t, record.KindFixed, record.KindOf(1))
	require.Equal(t, record.KindFixed, record.KindOf(127))
	require.Equal(t, record.KindVariable, record.KindOf(128))
	require.Equal(t, record.KindVariable, record.KindOf(255))
	require.Equal(t, record.KindTagged, record.KindOf(256))
}
