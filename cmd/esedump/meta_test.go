package main

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/example/esedb/internal/api"
	"github.com/example/esedb/internal/fixture"
)

func TestParseMetaArgs(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name       string
		args       []string
		wantJSON   bool
		wantDB     string
		wantErr    bool
		usageError bool
	}{{
		name:     "with json flag",
		args:     []string{"--json", "demo.edb"},
		wantJSON: true,
		wantDB:   "demo.edb",
	}, {
		name:     "with shorthand json",
		args:     []string{"-json", "demo.edb"},
		wantJSON: true,
		wantDB:   "demo.edb",
	}, {
		name:   "without flags",
		args:   []string{"demo.edb"},
		wantDB: "demo.edb",
	}, {
		name:       "missing database",
		args:       []string{"--json"},
		wantErr:    true,
		usageError: true,
	}, {
		name:    "unknown option",
		args:    []string{"--bogus", "demo.edb"},
		wantErr: true,
	}, {
		name:    "duplicate database",
		args:    []string{"demo.edb", "extra.edb"},
		wantErr: true,
	}}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			jsonOut, dbPath, err := parseMetaArgs(tc.args)
			if tc.wantErr {
				if err == nil {
					t.Fatalf("expected error")
				}
				if tc.usageError && err != errMetaUsage {
					t.Fatalf("expected usage error, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if jsonOut != tc.wantJSON {
				t.Fatalf("json flag mismatch: got %v want %v", jsonOut, tc.wantJSON)
			}
			if dbPath != tc.wantDB {
				t.Fatalf("database path mismatch: got %q want %q", dbPath, tc.wantDB)
			}
		})
	}
}

// writeFixture stores a small database with a system catalog plus a
// "people" table and a "staff" table templated on it.
func writeFixture(t *testing.T) string {
	t.Helper()
	people := fixture.Table{
		Name: "people",
		Columns: []fixture.Column{
			{ID: 1, Name: "id", Type: fixture.TypeLong, Flags: 0x1},
			{ID: 2, Name: "joined", Type: fixture.TypeDateTime},
			{ID: 3, Name: "balance", Type: fixture.TypeCurrency},
			{ID: 4, Name: "stamp", Type: fixture.TypeLongLong},
			{ID: 128, Name: "name", Type: fixture.TypeText, Size: 64, CodePage: 1252},
			{ID: 256, Name: "tags", Type: fixture.TypeText, CodePage: 1252, Flags: 0x8},
			{ID: 257, Name: "photo", Type: fixture.TypeLongBinary},
		},
		Indexes: []string{"primary"},
		Rows: []fixture.Row{
			{Fields: []fixture.Field{
				{Column: 1, Value: fixture.LE32(1)},
				{Column: 2, Value: fixture.F64(44284.49290509259)},
				{Column: 3, Value: fixture.LE64(350050)},
				{Column: 4, Value: fixture.LE64(132614921870000000)},
				{Column: 128, Value: []byte("Ada")},
				{Column: 256, Values: [][]byte{[]byte("a"), []byte("b")}},
				{Column: 257, Value: fixture.Pattern(3000), LongValue: true},
			}},
			{Fields: []fixture.Field{
				{Column: 1, Value: fixture.LE32(2)},
				{Column: 128, Value: []byte("Grace")},
			}},
		},
	}
	staff := fixture.Table{
		Name:     "staff",
		Template: "people",
		Columns:  []fixture.Column{{ID: 129, Name: "role", Type: fixture.TypeText, Size: 16, CodePage: 1252}},
	}
	img, err := fixture.Build(fixture.DefaultOptions(), append(fixture.SystemTables(), people, staff)...)
	if err != nil {
		t.Fatalf("build fixture: %v", err)
	}
	path := filepath.Join(t.TempDir(), "meta.edb")
	if err := os.WriteFile(path, img.Bytes, 0o600); err != nil {
		t.Fatalf("write fixture: %v", err)
	}
	return path
}

func TestLoadDatabaseMeta(t *testing.T) {
	t.Parallel()

	path := writeFixture(t)
	meta, err := api.LoadDatabaseMeta(path)
	if err != nil {
		t.Fatalf("LoadDatabaseMeta: %v", err)
	}
	if meta.Database != path {
		t.Fatalf("expected database path %q, got %q", path, meta.Database)
	}
	if len(meta.Tables) != 6 {
		t.Fatalf("expected 6 tables, got %d", len(meta.Tables))
	}

	data, err := json.Marshal(meta)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	payload := string(data)
	if !containsAll(payload, []string{"people", "staff", "primary", "photo", `"template":"people"`}) {
		t.Fatalf("metadata missing expected entries: %s", payload)
	}

	var out strings.Builder
	printMeta(&out, meta)
	if !containsAll(out.String(), []string{"Table people", "template people", "index primary", "photo LongBinary"}) {
		t.Fatalf("unexpected text metadata:\n%s", out.String())
	}
}

func containsAll(haystack string, needles []string) bool {
	for _, needle := range needles {
		if !strings.Contains(haystack, needle) {
			return false
		}
	}
	return true
}
