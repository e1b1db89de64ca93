package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/muesli/termenv"
)

// PrintJSON writes v as indented JSON.
func PrintJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// Table writes aligned columns under an upper-case header.
type Table struct {
	tw *tabwriter.Writer
}

// NewTable starts a table with the given column names.
func NewTable(w io.Writer, header ...string) *Table {
	t := &Table{tw: tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)}
	cells := make([]any, len(header))
	for i, h := range header {
		cells[i] = strings.ToUpper(h)
	}
	t.Row(cells...)
	return t
}

// Row adds one row.
func (t *Table) Row(cells ...any) {
	parts := make([]string, len(cells))
	for i, c := range cells {
		parts[i] = fmt.Sprint(c)
	}
	fmt.Fprintln(t.tw, strings.Join(parts, "\t"))
}

// Flush writes the table.
func (t *Table) Flush() error {
	return t.tw.Flush()
}

// Heading prints a section title, bold when w is a terminal.
func Heading(w io.Writer, s string) {
	out := termenv.NewOutput(w)
	fmt.Fprintln(w, out.String(s).Bold().String())
}
