package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/hashicorp/go-msgpack/codec"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/example/esedb/internal/api"
	"github.com/example/esedb/internal/fixture"
)

func openFixture(t *testing.T) *api.Database {
	t.Helper()
	db, err := api.Open(writeFixture(t))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func decodeJSONLines(t *testing.T, data []byte) []map[string]interface{} {
	t.Helper()
	var rows []map[string]interface{}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	for dec.More() {
		var row map[string]interface{}
		if err := dec.Decode(&row); err != nil {
			t.Fatalf("decode row: %v", err)
		}
		rows = append(rows, row)
	}
	return rows
}

func TestDumpTableJSON(t *testing.T) {
	db := openFixture(t)
	opts, err := newDumpOptions(formatJSON, 0, "")
	require.NoError(t, err)

	var buf bytes.Buffer
	n, err := dumpTable(&buf, db, "people", opts)
	require.NoError(t, err)
	require.Equal(t, 2, n)

	rows := decodeJSONLines(t, buf.Bytes())
	require.Len(t, rows, 2)

	first := rows[0]
	require.Equal(t, json.Number("1"), first["id"])
	require.Equal(t, "Ada", first["name"])
	require.Equal(t, "2021-03-29T11:49:47Z", first["joined"])
	require.Equal(t, "35.0050", first["balance"])
	require.Equal(t, json.Number("132614921870000000"), first["stamp"])
	require.Equal(t, []interface{}{"a", "b"}, first["tags"])
	require.Equal(t, base64.StdEncoding.EncodeToString(fixture.Pattern(3000)), first["photo"])

	second := rows[1]
	require.Equal(t, "Grace", second["name"])
	require.Nil(t, second["joined"])
	require.Nil(t, second["tags"])
	require.Nil(t, second["photo"])
}

func TestDumpTableWindowsTicks(t *testing.T) {
	db := openFixture(t)
	opts, err := newDumpOptions(formatJSON, 0, " stamp , ")
	require.NoError(t, err)
	require.Equal(t, map[string]bool{"stamp": true}, opts.ticks)

	var buf bytes.Buffer
	_, err = dumpTable(&buf, db, "people", opts)
	require.NoError(t, err)
	rows := decodeJSONLines(t, buf.Bytes())
	require.Equal(t, "2021-03-29T11:49:47.0000000Z", rows[0]["stamp"])
	require.Nil(t, rows[1]["stamp"])
}

func TestDumpTableTextLimit(t *testing.T) {
	db := openFixture(t)
	opts, err := newDumpOptions(formatText, 1, "")
	require.NoError(t, err)

	var buf bytes.Buffer
	n, err := dumpTable(&buf, db, "people", opts)
	require.NoError(t, err)
	require.Equal(t, 1, n)

	out := buf.String()
	require.Contains(t, out, "-- row 1 --")
	require.Contains(t, out, `"Ada"`)
	require.Contains(t, out, "(3000 bytes)")
	require.NotContains(t, out, "-- row 2 --")
}

func TestDumpEmptyAndUnknownTables(t *testing.T) {
	db := openFixture(t)
	opts, err := newDumpOptions(formatText, 0, "")
	require.NoError(t, err)

	var buf bytes.Buffer
	n, err := dumpTable(&buf, db, "staff", opts)
	require.NoError(t, err)
	require.Zero(t, n)
	require.Empty(t, buf.String())

	_, err = dumpTable(&buf, db, "nobody", opts)
	require.True(t, api.IsNotFound(err))
}

func TestNewDumpOptionsRejectsBadInput(t *testing.T) {
	_, err := newDumpOptions("xml", 0, "")
	require.Error(t, err)
	_, err = newDumpOptions(formatJSON, -1, "")
	require.Error(t, err)
}

func TestExportTables(t *testing.T) {
	db := openFixture(t)
	dir := t.TempDir()

	results, err := exportTables(context.Background(), db, []string{"people", "staff", "MSysObjects"}, dir, formatMsgpack, 2)
	require.NoError(t, err)
	require.Len(t, results, 3)
	require.Equal(t, "people", results[0].Table)
	require.Equal(t, 2, results[0].Rows)
	require.Equal(t, filepath.Join(dir, "people.msgpack"), results[0].Path)
	require.Zero(t, results[1].Rows)

	f, err := os.Open(results[0].Path)
	require.NoError(t, err)
	defer f.Close()
	dec := codec.NewDecoder(bufio.NewReader(f), new(codec.MsgpackHandle))

	var header tableHeader
	require.NoError(t, dec.Decode(&header))
	require.Equal(t, "people", header.Table)
	require.Equal(t, []string{"id", "joined", "balance", "stamp", "name", "tags", "photo"}, header.Columns)
	for i := 0; i < results[0].Rows; i++ {
		var row []interface{}
		require.NoError(t, dec.Decode(&row))
		require.Len(t, row, len(header.Columns))
	}

	results, err = exportTables(context.Background(), db, []string{"people"}, dir, formatJSON, 0)
	require.NoError(t, err)
	data, err := os.ReadFile(results[0].Path)
	require.NoError(t, err)
	require.Len(t, decodeJSONLines(t, data), 2)
}

func TestExportUnknownTableFails(t *testing.T) {
	db := openFixture(t)
	_, err := exportTables(context.Background(), db, []string{"people", "missing"}, t.TempDir(), formatJSON, 4)
	require.Error(t, err)
	require.True(t, api.IsNotFound(err))
}

func TestExportFileName(t *testing.T) {
	require.Equal(t, "MSysObjects.jsonl", exportFileName("MSysObjects", formatJSON))
	require.Equal(t, "a_b_c.msgpack", exportFileName("a/b c", formatMsgpack))
}

func TestFormatValue(t *testing.T) {
	require.True(t, strings.Contains(formatValue(nil), "NULL"))
	require.Equal(t, "0x0102", formatValue([]byte{1, 2}))
	require.Equal(t, "[1, \"x\"]", formatValue([]interface{}{int32(1), "x"}))
	require.Equal(t, "-1.2345", formatValue(decimal.New(-12345, -4)))
	require.Contains(t, formatValue(make([]byte, 40)), "(40 bytes)")
}
