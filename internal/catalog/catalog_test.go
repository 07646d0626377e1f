package catalog_test

import (
	"encoding/binary"
	"errors"
	"strings"
	"testing"

	"github.com/example/esedb/internal/btree"
	"github.com/example/esedb/internal/catalog"
	"github.com/example/esedb/internal/errs"
	"github.com/example/esedb/internal/fixture"
	"github.com/example/esedb/internal/storage"
)

func peopleTables() []fixture.Table {
	return append(fixture.SystemTables(),
		fixture.Table{
			Name: "people",
			Columns: []fixture.Column{
				{ID: 1, Name: "id", Type: fixture.TypeLong, Flags: 0x1},
				{ID: 128, Name: "name", Type: fixture.TypeText, Size: 32, CodePage: 1252},
				{ID: 256, Name: "photo", Type: fixture.TypeLongBinary},
			},
			Indexes: []string{"primary", "by_name"},
			Rows: []fixture.Row{{Fields: []fixture.Field{
				{Column: 1, Value: fixture.LE32(1)},
				{Column: 256, Value: fixture.Pattern(4000), LongValue: true},
			}}},
		},
		fixture.Table{
			Name:     "staff",
			Template: "people",
			Columns: []fixture.Column{
				{ID: 129, Name: "role", Type: fixture.TypeText, Size: 16, CodePage: 1252},
			},
		},
	)
}

func loadImage(t *testing.T, img []byte) (*catalog.Catalog, error) {
	t.Helper()
	mgr, err := storage.Open(storage.FromBytes(img), storage.DefaultCacheSize)
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { mgr.Close() })
	return catalog.Load(mgr)
}

func build(t *testing.T, opts fixture.Options) *fixture.Image {
	t.Helper()
	img, err := fixture.Build(opts, peopleTables()...)
	if err != nil {
		t.Fatalf("build fixture: %v", err)
	}
	return img
}

func TestCatalogListsTablesInScanOrder(t *testing.T) {
	cat, err := loadImage(t, build(t, fixture.DefaultOptions()).Bytes)
	if err != nil {
		t.Fatalf("load catalog: %v", err)
	}
	want := []string{"MSysObjects", "MSysObjectsShadow", "MSysObjids", "MSysLocales", "people", "staff"}
	got := cat.TableNames()
	if len(got) != len(want) {
		t.Fatalf("expected %d tables, got %v", len(want), got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("table %d: expected %s, got %s", i, want[i], got[i])
		}
	}
	if tables := cat.Tables(); len(tables) != len(want) || tables[4].Name != "people" {
		t.Fatalf("Tables() disagrees with TableNames(): %v", tables)
	}
}

func TestCatalogTableDefinition(t *testing.T) {
	img := build(t, fixture.DefaultOptions())
	cat, err := loadImage(t, img.Bytes)
	if err != nil {
		t.Fatalf("load catalog: %v", err)
	}
	people, ok := cat.GetTable("people")
	if !ok {
		t.Fatalf("expected people table")
	}
	info := img.Tables["people"]
	if people.ObjectID != info.ObjectID {
		t.Fatalf("expected object id %d, got %d", info.ObjectID, people.ObjectID)
	}
	if uint32(people.RootPage) != info.Root {
		t.Fatalf("expected root page %d, got %d", info.Root, people.RootPage)
	}
	if people.LongValueRoot == 0 || uint32(people.LongValueRoot) != info.LVRoot {
		t.Fatalf("expected long-value root %d, got %d", info.LVRoot, people.LongValueRoot)
	}
	if len(people.Columns) != 3 {
		t.Fatalf("expected 3 columns, got %d", len(people.Columns))
	}

	id, ok := people.Column("id")
	if !ok {
		t.Fatalf("expected id column")
	}
	if id.Type != catalog.ColumnTypeLong || id.Nullable() || id.Kind() != 0 {
		t.Fatalf("unexpected id column: %+v", id)
	}
	name, ok := people.ColumnByID(128)
	if !ok || name.Name != "name" || name.MaxLength != 32 || name.CodePage != 1252 {
		t.Fatalf("unexpected name column: %+v", name)
	}
	if _, ok := people.Column("missing"); ok {
		t.Fatalf("did not expect a missing column")
	}

	if len(people.Indexes) != 2 || people.Indexes[0].Name != "primary" || people.Indexes[1].Name != "by_name" {
		t.Fatalf("unexpected indexes: %+v", people.Indexes)
	}

	objects, ok := cat.GetTable("MSysObjects")
	if !ok {
		t.Fatalf("expected MSysObjects")
	}
	if objects.RootPage != storage.CatalogPage || len(objects.Indexes) != 3 {
		t.Fatalf("unexpected MSysObjects definition: root %d, %d indexes", objects.RootPage, len(objects.Indexes))
	}

	layout := people.Layout(false)
	if len(layout.Fixed) != 1 || layout.Fixed[0].Width != 4 {
		t.Fatalf("unexpected record layout: %+v", layout)
	}
}

func TestCatalogTemplateInheritance(t *testing.T) {
	cat, err := loadImage(t, build(t, fixture.DefaultOptions()).Bytes)
	if err != nil {
		t.Fatalf("load catalog: %v", err)
	}
	staff, ok := cat.GetTable("staff")
	if !ok {
		t.Fatalf("expected staff table")
	}
	if staff.Template != "people" {
		t.Fatalf("expected template people, got %q", staff.Template)
	}
	var names []string
	for _, c := range staff.Columns {
		names = append(names, c.Name)
	}
	want := []string{"id", "name", "role", "photo"}
	if len(names) != len(want) {
		t.Fatalf("expected columns %v, got %v", want, names)
	}
	for i := range want {
		if names[i] != want[i] {
			t.Fatalf("expected columns %v, got %v", want, names)
		}
	}
	people, _ := cat.GetTable("people")
	if len(people.Columns) != 3 {
		t.Fatalf("template table must keep its own columns, got %d", len(people.Columns))
	}
}

func TestCatalogLargePages(t *testing.T) {
	opts := fixture.DefaultOptions()
	opts.PageSize = 16384
	opts.LeafCapacity = 2
	cat, err := loadImage(t, build(t, opts).Bytes)
	if err != nil {
		t.Fatalf("load catalog: %v", err)
	}
	if _, ok := cat.GetTable("staff"); !ok {
		t.Fatalf("expected staff table on 16 KiB pages")
	}
}

func TestCatalogRootMustBeBranch(t *testing.T) {
	img := build(t, fixture.DefaultOptions())
	page := img.Page(uint32(storage.CatalogPage))
	binary.LittleEndian.PutUint32(page[36:], uint32(storage.FlagRoot|storage.FlagLeaf))

	_, err := loadImage(t, img.Bytes)
	if !errors.Is(err, errs.ErrCatalogCorruption) {
		t.Fatalf("expected catalog corruption, got %v", err)
	}
}

func TestCatalogChildOutOfRange(t *testing.T) {
	img := build(t, fixture.DefaultOptions())
	layout := storage.Layout{PageSize: img.Options.PageSize, Revision: img.Options.Revision}
	p, err := storage.ParsePage(storage.CatalogPage, layout, img.Page(uint32(storage.CatalogPage)))
	if err != nil {
		t.Fatalf("parse catalog root: %v", err)
	}
	e, err := btree.ParseEntry(p, 1)
	if err != nil {
		t.Fatalf("parse branch entry: %v", err)
	}
	binary.LittleEndian.PutUint32(e.Data, img.NumPages+100)

	_, err = loadImage(t, img.Bytes)
	if !errors.Is(err, errs.ErrCatalogCorruption) {
		t.Fatalf("expected catalog corruption, got %v", err)
	}
	if !errors.Is(err, errs.ErrOutOfRange) {
		t.Fatalf("expected the out-of-range cause to be kept, got %v", err)
	}
}

func TestCatalogMissingParentTable(t *testing.T) {
	img := build(t, fixture.DefaultOptions())
	people := img.Tables["people"].ObjectID
	layout := storage.Layout{PageSize: img.Options.PageSize, Revision: img.Options.Revision}
	patched := false
	for _, pgno := range img.Catalog {
		p, err := storage.ParsePage(storage.PageID(pgno), layout, img.Page(pgno))
		if err != nil {
			t.Fatalf("parse catalog leaf %d: %v", pgno, err)
		}
		for i := 1; i < p.TagCount() && !patched; i++ {
			e, err := btree.ParseEntry(p, i)
			if err != nil {
				t.Fatalf("parse catalog entry: %v", err)
			}
			// Fixed columns follow the 4-byte record header: ObjidTable, then Type.
			if binary.LittleEndian.Uint32(e.Data[4:]) == people && binary.LittleEndian.Uint16(e.Data[8:]) == catalog.TypeColumn {
				binary.LittleEndian.PutUint32(e.Data[4:], 9999)
				patched = true
			}
		}
	}
	if !patched {
		t.Fatalf("no column record of people found in the catalog")
	}

	_, err := loadImage(t, img.Bytes)
	if !errors.Is(err, errs.ErrCatalogCorruption) {
		t.Fatalf("expected catalog corruption, got %v", err)
	}
	if !strings.Contains(err.Error(), "missing table object 9999") {
		t.Fatalf("unexpected error text: %v", err)
	}
}

func TestColumnTypeNames(t *testing.T) {
	cases := map[catalog.ColumnType]string{
		catalog.ColumnTypeBit:              "Bit",
		catalog.ColumnTypeLongText:         "LongText",
		catalog.ColumnTypeUnsignedLongLong: "UnsignedLongLong",
		catalog.ColumnType(99):             "ColumnType(99)",
	}
	for typ, want := range cases {
		if got := typ.String(); got != want {
			t.Fatalf("expected %s, got %s", want, got)
		}
	}
	if got := (catalog.ColumnMultivalued | catalog.ColumnNotNull).String(); got != "NotNull|Multivalued" {
		t.Fatalf("unexpected flag string %s", got)
	}
	if catalog.ColumnTypeGUID.FixedWidth() != 16 || catalog.ColumnTypeText.FixedWidth() != 0 {
		t.Fatalf("unexpected fixed widths")
	}
}
