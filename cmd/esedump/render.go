package main

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/shopspring/decimal"

	"github.com/example/esedb/internal/api"
)

var (
	primaryColor = lipgloss.AdaptiveColor{Light: "#5A56E0", Dark: "#7571F9"}
	mutedColor   = lipgloss.AdaptiveColor{Light: "#9B9B9B", Dark: "#5C5C5C"}

	titleStyle = lipgloss.NewStyle().
			Foreground(primaryColor).
			Bold(true)

	labelStyle = lipgloss.NewStyle().
			Foreground(primaryColor)

	headerStyle = lipgloss.NewStyle().
			Bold(true).
			Underline(true)

	mutedStyle = lipgloss.NewStyle().
			Foreground(mutedColor)
)

// maxBinaryPreview bounds how many bytes of a binary value text output shows.
const maxBinaryPreview = 32

func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func printInfo(w io.Writer, info api.Info) {
	fmt.Fprintln(w, titleStyle.Render("Database "+info.Path))
	rows := [][2]string{
		{"Format", fmt.Sprintf("%#x", info.FormatVersion)},
		{"Revision", info.Revision},
		{"Created with", fmt.Sprintf("%#x, %#x", info.CreationVersion, info.CreationRevision)},
		{"Page size", fmt.Sprintf("%d", info.PageSize)},
		{"Pages", fmt.Sprintf("%d", info.PageCount)},
		{"State", info.State},
		{"Last object id", fmt.Sprintf("%d", info.LastObjectID)},
		{"Tables", fmt.Sprintf("%d", info.Tables)},
	}
	for _, r := range rows {
		fmt.Fprintf(w, "  %s %s\n", labelStyle.Render(fmt.Sprintf("%-15s", r[0])), r[1])
	}
}

func printTables(w io.Writer, tables []string) {
	fmt.Fprintln(w, titleStyle.Render(fmt.Sprintf("%d table(s)", len(tables))))
	for _, t := range tables {
		fmt.Fprintf(w, "  %s\n", t)
	}
}

func printColumns(w io.Writer, table string, cols []api.Column) {
	fmt.Fprintln(w, titleStyle.Render("Table "+table))
	header := []string{"ID", "NAME", "TYPE", "MAXLEN", "CODEPAGE", "FLAGS"}
	rows := make([][]string, len(cols))
	for i, c := range cols {
		rows[i] = []string{
			fmt.Sprintf("%d", c.ID),
			c.Name,
			c.Type.String(),
			fmt.Sprintf("%d", c.MaxLength),
			fmt.Sprintf("%d", c.CodePage),
			c.Flags.String(),
		}
	}
	printGrid(w, header, rows)
}

func printMeta(w io.Writer, meta api.DatabaseMeta) {
	fmt.Fprintln(w, titleStyle.Render(fmt.Sprintf("Database %s (page size %d)", meta.Database, meta.PageSize)))
	for _, t := range meta.Tables {
		line := fmt.Sprintf("Table %s: %d column(s), %d index(es), root page %d (%d initial page(s))",
			t.Name, len(t.Columns), len(t.Indexes), t.RootPage, t.InitialPages)
		if t.Template != "" {
			line += ", template " + t.Template
		}
		fmt.Fprintln(w, labelStyle.Render(line))
		for _, c := range t.Columns {
			fmt.Fprintf(w, "  - %s %s %s\n", c.Name, c.Type, mutedStyle.Render(c.Storage))
		}
		for _, idx := range t.Indexes {
			fmt.Fprintf(w, "  * index %s (root page %d)\n", idx.Name, idx.RootPage)
		}
	}
}

func printGrid(w io.Writer, header []string, rows [][]string) {
	widths := make([]int, len(header))
	for i, h := range header {
		widths[i] = len(h)
	}
	for _, row := range rows {
		for i, cell := range row {
			if len(cell) > widths[i] {
				widths[i] = len(cell)
			}
		}
	}
	cells := make([]string, len(header))
	for i, h := range header {
		cells[i] = headerStyle.Render(fmt.Sprintf("%-*s", widths[i], h))
	}
	fmt.Fprintln(w, strings.Join(cells, "  "))
	for _, row := range rows {
		for i, v := range row {
			cells[i] = fmt.Sprintf("%-*s", widths[i], v)
		}
		fmt.Fprintln(w, strings.TrimRight(strings.Join(cells, "  "), " "))
	}
}

// writeTextRow prints one record as "column: value" lines.
func writeTextRow(w io.Writer, n int, cols []api.Column, values []interface{}) {
	fmt.Fprintln(w, titleStyle.Render(fmt.Sprintf("-- row %d --", n)))
	for i, c := range cols {
		fmt.Fprintf(w, "  %s %s\n", labelStyle.Render(c.Name+":"), formatValue(values[i]))
	}
}

func formatValue(v interface{}) string {
	switch x := v.(type) {
	case nil:
		return mutedStyle.Render("NULL")
	case []interface{}:
		parts := make([]string, len(x))
		for i, e := range x {
			parts[i] = formatValue(e)
		}
		return "[" + strings.Join(parts, ", ") + "]"
	case []byte:
		if len(x) > maxBinaryPreview {
			return fmt.Sprintf("0x%s... (%d bytes)", hex.EncodeToString(x[:maxBinaryPreview]), len(x))
		}
		return "0x" + hex.EncodeToString(x)
	case string:
		return fmt.Sprintf("%q", x)
	case time.Time:
		return x.Format(time.RFC3339Nano)
	case decimal.Decimal:
		return x.StringFixed(4)
	default:
		return fmt.Sprint(x)
	}
}
