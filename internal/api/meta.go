package api

import (
	"encoding/json"
	"fmt"

	"github.com/example/esedb/internal/catalog"
	"github.com/example/esedb/internal/errs"
	"github.com/example/esedb/internal/record"
	"github.com/example/esedb/internal/storage"
)

// Info summarises the file header of an open database.
type Info struct {
	Path             string `json:"path,omitempty"`
	FormatVersion    uint32 `json:"formatVersion"`
	FormatRevision   uint32 `json:"formatRevision"`
	Revision         string `json:"revision"`
	CreationVersion  uint32 `json:"creationVersion"`
	CreationRevision uint32 `json:"creationRevision"`
	PageSize         int    `json:"pageSize"`
	PageCount        uint32 `json:"pageCount"`
	State            string `json:"state"`
	FileType         uint32 `json:"fileType"`
	LastObjectID     uint32 `json:"lastObjectId"`
	Tables           int    `json:"tables"`
}

// Info describes the database header.
func (db *Database) Info() (Info, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	if db.storage == nil {
		return Info{}, fmt.Errorf("api: database closed: %w", errs.ErrInvalidCursor)
	}
	h := db.storage.Header()
	return Info{
		Path:             db.path,
		FormatVersion:    h.FormatVersion,
		FormatRevision:   h.FormatRevision,
		Revision:         storage.RevisionDescription(h.FormatVersion, h.FormatRevision),
		CreationVersion:  h.CreationFormatVersion,
		CreationRevision: h.CreationFormatRevision,
		PageSize:         db.storage.PageSize(),
		PageCount:        db.storage.PageCount(),
		State:            h.State.String(),
		FileType:         h.FileType,
		LastObjectID:     h.LastObjectID,
		Tables:           len(db.catalog.Tables()),
	}, nil
}

// DatabaseMeta summarises the schema structure for tooling integration.
type DatabaseMeta struct {
	Database string      `json:"database"`
	PageSize int         `json:"pageSize"`
	Tables   []TableMeta `json:"tables"`
}

// TableMeta captures table-level metadata.
type TableMeta struct {
	Name          string       `json:"name"`
	ObjectID      uint32       `json:"objectId"`
	RootPage      uint32       `json:"rootPage"`
	LongValueRoot uint32       `json:"longValueRoot,omitempty"`
	InitialPages  uint32       `json:"initialPages"`
	Template      string       `json:"template,omitempty"`
	Columns       []ColumnMeta `json:"columns"`
	Indexes       []IndexMeta  `json:"indexes"`
}

// ColumnMeta describes a column definition.
type ColumnMeta struct {
	ID          uint32 `json:"id"`
	Name        string `json:"name"`
	Type        string `json:"type"`
	MaxLength   uint32 `json:"maxLength"`
	CodePage    uint32 `json:"codePage,omitempty"`
	Flags       string `json:"flags"`
	NotNull     bool   `json:"notNull"`
	Multivalued bool   `json:"multivalued"`
	Storage     string `json:"storage"`
}

// IndexMeta outlines an index entry.
type IndexMeta struct {
	ID       uint32 `json:"id"`
	Name     string `json:"name"`
	RootPage uint32 `json:"rootPage"`
}

// LoadDatabaseMeta opens the database at dbPath and extracts catalogue metadata.
func LoadDatabaseMeta(dbPath string, opts ...Option) (DatabaseMeta, error) {
	db, err := Open(dbPath, opts...)
	if err != nil {
		return DatabaseMeta{}, err
	}
	defer db.Close()

	meta, err := db.DatabaseMeta()
	if err != nil {
		return DatabaseMeta{}, err
	}
	if meta.Database == "" {
		meta.Database = dbPath
	}
	return meta, nil
}

// DatabaseMeta gathers schema information for an open database handle.
func (db *Database) DatabaseMeta() (DatabaseMeta, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	if db.catalog == nil || db.storage == nil {
		return DatabaseMeta{}, fmt.Errorf("api: database closed: %w", errs.ErrInvalidCursor)
	}
	tables := db.catalog.Tables()
	meta := DatabaseMeta{
		Database: db.path,
		PageSize: db.storage.PageSize(),
		Tables:   make([]TableMeta, len(tables)),
	}
	for i, table := range tables {
		root, err := db.storage.ReadPage(table.RootPage)
		if err != nil {
			return DatabaseMeta{}, fmt.Errorf("api: table %q: %w", table.Name, err)
		}
		space, err := root.RootHeader()
		if err != nil {
			return DatabaseMeta{}, fmt.Errorf("api: table %q: %w", table.Name, err)
		}
		meta.Tables[i] = buildTableMeta(table, space)
	}
	return meta, nil
}

// MetadataJSON returns the schema metadata encoded as JSON.
func (db *Database) MetadataJSON() ([]byte, error) {
	meta, err := db.DatabaseMeta()
	if err != nil {
		return nil, err
	}
	return json.Marshal(meta)
}

func buildTableMeta(table *catalog.Table, space storage.RootHeader) TableMeta {
	columns := make([]ColumnMeta, len(table.Columns))
	for i, col := range table.Columns {
		columns[i] = ColumnMeta{
			ID:          col.ID,
			Name:        col.Name,
			Type:        col.Type.String(),
			MaxLength:   col.MaxLength,
			CodePage:    col.CodePage,
			Flags:       col.Flags.String(),
			NotNull:     !col.Nullable(),
			Multivalued: col.Multivalued(),
			Storage:     storageName(col),
		}
	}

	indexes := make([]IndexMeta, len(table.Indexes))
	for i, idx := range table.Indexes {
		indexes[i] = IndexMeta{ID: idx.ID, Name: idx.Name, RootPage: uint32(idx.RootPage)}
	}

	return TableMeta{
		Name:          table.Name,
		ObjectID:      table.ObjectID,
		RootPage:      uint32(table.RootPage),
		LongValueRoot: uint32(table.LongValueRoot),
		InitialPages:  space.InitialPages,
		Template:      table.Template,
		Columns:       columns,
		Indexes:       indexes,
	}
}

func storageName(col catalog.Column) string {
	switch col.Kind() {
	case record.KindFixed:
		return "fixed"
	case record.KindVariable:
		return "variable"
	default:
		return "tagged"
	}
}
