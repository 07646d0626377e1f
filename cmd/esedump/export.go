package main

import (
	"bufio"
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/hashicorp/go-msgpack/codec"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/example/esedb/internal/api"
)

const (
	formatText    = "text"
	formatJSON    = "json"
	formatMsgpack = "msgpack"
)

type dumpOptions struct {
	format string
	// limit stops the dump after that many rows; zero means no limit.
	limit int
	// ticks names columns whose 8-byte value is shown as a Windows timestamp.
	ticks map[string]bool
}

func newDumpOptions(format string, limit int, ticks string) (dumpOptions, error) {
	switch format {
	case formatText, formatJSON, formatMsgpack:
	default:
		return dumpOptions{}, fmt.Errorf("unknown format %q", format)
	}
	if limit < 0 {
		return dumpOptions{}, fmt.Errorf("negative limit %d", limit)
	}
	opts := dumpOptions{format: format, limit: limit, ticks: make(map[string]bool)}
	for _, name := range strings.Split(ticks, ",") {
		if name = strings.TrimSpace(name); name != "" {
			opts.ticks[name] = true
		}
	}
	return opts, nil
}

// tableHeader opens a msgpack table stream; every following object is one
// row in column order.
type tableHeader struct {
	Table   string
	Columns []string
}

// rowEncoder writes rows in one of the machine-readable formats.
type rowEncoder interface {
	begin(table string, cols []api.Column) error
	row(cols []api.Column, values []interface{}) error
}

type jsonRows struct{ enc *json.Encoder }

func (j *jsonRows) begin(string, []api.Column) error { return nil }

func (j *jsonRows) row(cols []api.Column, values []interface{}) error {
	obj := make(map[string]interface{}, len(cols))
	for i, c := range cols {
		obj[c.Name] = exportValue(values[i])
	}
	return j.enc.Encode(obj)
}

type msgpackRows struct{ enc *codec.Encoder }

func newMsgpackRows(w io.Writer) *msgpackRows {
	handle := new(codec.MsgpackHandle)
	return &msgpackRows{enc: codec.NewEncoder(w, handle)}
}

func (m *msgpackRows) begin(table string, cols []api.Column) error {
	names := make([]string, len(cols))
	for i, c := range cols {
		names[i] = c.Name
	}
	return m.enc.Encode(tableHeader{Table: table, Columns: names})
}

func (m *msgpackRows) row(_ []api.Column, values []interface{}) error {
	out := make([]interface{}, len(values))
	for i, v := range values {
		out[i] = exportValue(v)
	}
	return m.enc.Encode(out)
}

// exportValue maps decoded values onto types both encoders render without
// extensions.
func exportValue(v interface{}) interface{} {
	switch x := v.(type) {
	case time.Time:
		return x.Format(time.RFC3339Nano)
	case decimal.Decimal:
		return x.StringFixed(4)
	case []interface{}:
		out := make([]interface{}, len(x))
		for i, e := range x {
			out[i] = exportValue(e)
		}
		return out
	default:
		return v
	}
}

// dumpTable writes every row of table to w and returns the number written.
func dumpTable(w io.Writer, db *api.Database, table string, opts dumpOptions) (int, error) {
	cols, err := db.Columns(table)
	if err != nil {
		return 0, err
	}
	c, err := db.OpenTable(table)
	if err != nil {
		return 0, err
	}
	defer db.CloseTable(c)

	var enc rowEncoder
	switch opts.format {
	case formatJSON:
		enc = &jsonRows{enc: json.NewEncoder(w)}
	case formatMsgpack:
		enc = newMsgpackRows(w)
	}
	if enc != nil {
		if err := enc.begin(table, cols); err != nil {
			return 0, err
		}
	}

	n := 0
	ok, err := db.MoveRow(c, api.MoveFirst)
	for ; err == nil && ok; ok, err = db.MoveRow(c, 1) {
		if opts.limit > 0 && n >= opts.limit {
			break
		}
		values, err := readRow(db, c, cols, opts.ticks)
		if err != nil {
			return n, fmt.Errorf("table %s row %d: %w", table, n+1, err)
		}
		n++
		if enc == nil {
			writeTextRow(w, n, cols, values)
			continue
		}
		if err := enc.row(cols, values); err != nil {
			return n, err
		}
	}
	return n, err
}

// readRow decodes every column of the current record. Multi-valued columns
// yield a []interface{} holding each stored value.
func readRow(db *api.Database, c *api.Cursor, cols []api.Column, ticks map[string]bool) ([]interface{}, error) {
	values := make([]interface{}, len(cols))
	for i, col := range cols {
		if ticks[col.Name] {
			raw, err := db.RawValue(c, col, 1)
			if err != nil {
				return nil, err
			}
			if len(raw) == 8 {
				values[i] = api.DecodeAsWindowsTicks(binary.LittleEndian.Uint64(raw))
				continue
			}
		}
		if !col.Multivalued() {
			v, err := db.GetValue(c, col)
			if err != nil {
				return nil, err
			}
			values[i] = v
			continue
		}
		count, err := db.ValueCount(c, col)
		if err != nil {
			return nil, err
		}
		if count == 0 {
			continue
		}
		all := make([]interface{}, count)
		for j := range all {
			if all[j], err = db.GetValueMultivalued(c, col, j+1); err != nil {
				return nil, err
			}
		}
		values[i] = all
	}
	return values, nil
}

// exportResult reports one exported table.
type exportResult struct {
	Table string
	Path  string
	Rows  int
}

// exportTables writes each table to its own file in dir, running up to jobs
// tables at once. Every table gets an independent cursor over the shared
// page store.
func exportTables(ctx context.Context, db *api.Database, tables []string, dir, format string, jobs int) ([]exportResult, error) {
	if jobs < 1 {
		jobs = 1
	}
	results := make([]exportResult, len(tables))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(jobs)
	for i, table := range tables {
		i, table := i, table
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			path := filepath.Join(dir, exportFileName(table, format))
			n, err := exportTable(db, table, path, format)
			if err != nil {
				return fmt.Errorf("export %s: %w", table, err)
			}
			results[i] = exportResult{Table: table, Path: path, Rows: n}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

func exportTable(db *api.Database, table, path, format string) (int, error) {
	f, err := os.Create(path)
	if err != nil {
		return 0, err
	}
	bw := bufio.NewWriter(f)
	n, err := dumpTable(bw, db, table, dumpOptions{format: format})
	if err == nil {
		err = bw.Flush()
	}
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	return n, err
}

// exportFileName turns a table name into a file name, replacing characters
// that are not portable in paths.
func exportFileName(table, format string) string {
	ext := ".jsonl"
	if format == formatMsgpack {
		ext = ".msgpack"
	}
	name := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_', r == '.':
			return r
		default:
			return '_'
		}
	}, table)
	return name + ext
}
