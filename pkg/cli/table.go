package cli

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
)

// Table writes column-aligned rows. The header and a dash divider are
// written with the first row, so an empty table prints nothing.
type Table struct {
	w       *tabwriter.Writer
	headers []string
	prefix  string
	rows    int
}

// NewTable creates a table writing to out.
func NewTable(out io.Writer, headers ...string) *Table {
	return &Table{
		w:       tabwriter.NewWriter(out, 0, 0, 2, ' ', 0),
		headers: headers,
	}
}

// WithPrefix indents every line of the table.
func (t *Table) WithPrefix(prefix string) *Table {
	t.prefix = prefix
	return t
}

// Row writes one row. Missing trailing cells are left empty.
func (t *Table) Row(values ...string) {
	if t.rows == 0 {
		t.line(t.headers)
		dividers := make([]string, len(t.headers))
		for i, h := range t.headers {
			dividers[i] = strings.Repeat("-", len(h))
		}
		t.line(dividers)
	}
	t.rows++
	t.line(values)
}

func (t *Table) line(cells []string) {
	fmt.Fprintln(t.w, t.prefix+strings.Join(cells, "\t"))
}

// Rows returns the number of rows written.
func (t *Table) Rows() int {
	return t.rows
}

// Flush writes buffered output.
func (t *Table) Flush() error {
	if t.rows == 0 {
		return nil
	}
	return t.w.Flush()
}
