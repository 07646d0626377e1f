package cursor_test

import (
	"encoding/binary"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/example/esedb/internal/catalog"
	"github.com/example/esedb/internal/cursor"
	"github.com/example/esedb/internal/errs"
	"github.com/example/esedb/internal/fixture"
	"github.com/example/esedb/internal/storage"
)

func numbersTable(n int, deleted ...int) fixture.Table {
	t := fixture.Table{
		Name:    "Numbers",
		Columns: []fixture.Column{{ID: 1, Name: "N", Type: fixture.TypeLong, Size: 4}},
	}
	gone := make(map[int]bool)
	for _, d := range deleted {
		gone[d] = true
	}
	for i := 1; i <= n; i++ {
		t.Rows = append(t.Rows, fixture.Row{
			Fields:  []fixture.Field{{Column: 1, Value: fixture.LE32(uint32(i))}},
			Deleted: gone[i],
		})
	}
	return t
}

func openCursor(t *testing.T, opts fixture.Options, tbl fixture.Table) *cursor.Cursor {
	t.Helper()
	img, err := fixture.Build(opts, append(fixture.SystemTables(), tbl)...)
	if err != nil {
		t.Fatalf("build fixture: %v", err)
	}
	mgr, err := storage.Open(storage.FromBytes(img.Bytes), 0)
	if err != nil {
		t.Fatalf("open storage: %v", err)
	}
	t.Cleanup(func() { mgr.Close() })
	cat, err := catalog.Load(mgr)
	if err != nil {
		t.Fatalf("load catalog: %v", err)
	}
	table, ok := cat.GetTable(tbl.Name)
	if !ok {
		t.Fatalf("table %s missing from catalog", tbl.Name)
	}
	c, err := cursor.Open(mgr, table, mgr.Layout().LargePage())
	if err != nil {
		t.Fatalf("open cursor: %v", err)
	}
	return c
}

func current(t *testing.T, c *cursor.Cursor) uint32 {
	t.Helper()
	rec, err := c.Record()
	if err != nil {
		t.Fatalf("record: %v", err)
	}
	f := rec.Field(1)
	require.False(t, f.Null)
	return binary.LittleEndian.Uint32(rec.Bytes(f.Range))
}

func smallLeaves() fixture.Options {
	opts := fixture.DefaultOptions()
	opts.LeafCapacity = 3
	return opts
}

func TestCursorWalksForwardAcrossLeaves(t *testing.T) {
	c := openCursor(t, smallLeaves(), numbersTable(10, 5))
	require.Equal(t, cursor.Positioned, c.State())

	got := []uint32{current(t, c)}
	for {
		ok, err := c.Move(1)
		require.NoError(t, err)
		if !ok {
			break
		}
		got = append(got, current(t, c))
	}
	require.Equal(t, []uint32{1, 2, 3, 4, 6, 7, 8, 9, 10}, got)
	require.Equal(t, cursor.Exhausted, c.State())

	_, err := c.Record()
	require.ErrorIs(t, err, errs.ErrInvalidCursor)

	ok, err := c.Move(1)
	require.NoError(t, err)
	require.False(t, ok, "exhausted cursor must stay exhausted going forward")

	ok, err = c.Move(-1)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, uint32(10), current(t, c))
}

func TestCursorWalksBackward(t *testing.T) {
	c := openCursor(t, smallLeaves(), numbersTable(7, 1))
	ok, err := c.Move(cursor.MoveLast)
	require.NoError(t, err)
	require.True(t, ok)

	got := []uint32{current(t, c)}
	for {
		ok, err := c.Move(-1)
		require.NoError(t, err)
		if !ok {
			break
		}
		got = append(got, current(t, c))
	}
	require.Equal(t, []uint32{7, 6, 5, 4, 3, 2}, got)

	ok, err = c.Move(1)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, uint32(2), current(t, c))
}

func TestCursorSentinels(t *testing.T) {
	c := openCursor(t, smallLeaves(), numbersTable(10, 5))

	ok, err := c.Move(cursor.MoveLast)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, uint32(10), current(t, c))

	ok, err = c.Move(cursor.MoveFirst)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, uint32(1), current(t, c))

	ok, err = c.Move(3)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, uint32(4), current(t, c))

	ok, err = c.Move(2)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, uint32(7), current(t, c), "deleted rows are skipped")

	ok, err = c.Move(0)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, uint32(7), current(t, c))

	ok, err = c.Move(-100)
	require.NoError(t, err)
	require.False(t, ok)

	ok, err = c.Move(cursor.MoveLast)
	require.NoError(t, err)
	require.True(t, ok, "sentinel repositions an exhausted cursor")
	require.Equal(t, uint32(10), current(t, c))
}

func TestCursorResumesFromBoundaryAfterBackwardExhaustion(t *testing.T) {
	c := openCursor(t, smallLeaves(), numbersTable(4))
	ok, err := c.Move(-1)
	require.NoError(t, err)
	require.False(t, ok)

	ok, err = c.Move(-1)
	require.NoError(t, err)
	require.False(t, ok)

	ok, err = c.Move(2)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, uint32(2), current(t, c))
}

func TestCursorEmptyTable(t *testing.T) {
	c := openCursor(t, fixture.DefaultOptions(), numbersTable(0))
	require.Equal(t, cursor.Exhausted, c.State())

	for _, delta := range []int{cursor.MoveFirst, cursor.MoveLast, 1, -1, 0} {
		ok, err := c.Move(delta)
		if err != nil {
			t.Fatalf("move %d: %v", delta, err)
		}
		if ok {
			t.Fatalf("move %d on empty table reported a record", delta)
		}
	}
	if _, err := c.Record(); !errors.Is(err, errs.ErrInvalidCursor) {
		t.Fatalf("expected invalid cursor, got %v", err)
	}
}

func TestCursorClose(t *testing.T) {
	c := openCursor(t, fixture.DefaultOptions(), numbersTable(2))
	require.NoError(t, c.Close())
	require.Equal(t, cursor.Closed, c.State())

	_, err := c.Move(1)
	require.ErrorIs(t, err, errs.ErrInvalidCursor)
	_, err = c.Record()
	require.ErrorIs(t, err, errs.ErrInvalidCursor)
	require.ErrorIs(t, c.Close(), errs.ErrInvalidCursor)
}

func TestCursorLargePages(t *testing.T) {
	opts := fixture.DefaultOptions()
	opts.PageSize = 32768
	opts.LeafCapacity = 4
	c := openCursor(t, opts, numbersTable(9, 2, 9))

	var got []uint32
	for ok := true; ok; {
		got = append(got, current(t, c))
		var err error
		ok, err = c.Move(1)
		require.NoError(t, err)
	}
	require.Equal(t, []uint32{1, 3, 4, 5, 6, 7, 8}, got)

	key, err := func() ([]byte, error) {
		if _, err := c.Move(cursor.MoveLast); err != nil {
			return nil, err
		}
		return c.Key()
	}()
	require.NoError(t, err)
	require.Equal(t, fixture.BE32(8), key)
}
