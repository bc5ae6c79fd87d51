package app

import (
	"io"

	"github.com/gosuri/uitable"
)

// Table is a column-aligned listing written by informational subcommands.
type Table struct {
	t *uitable.Table
}

// NewTable returns a table whose first row is header.
func NewTable(header ...any) *Table {
	t := uitable.New()
	t.MaxColWidth = 96
	t.Wrap = true
	t.AddRow(header...)
	return &Table{t: t}
}

// AddRow appends one row.
func (t *Table) AddRow(cells ...any) {
	t.t.AddRow(cells...)
}

// Rows returns the number of rows below the header.
func (t *Table) Rows() int {
	return len(t.t.Rows) - 1
}

// WriteTo writes the table followed by a newline.
func (t *Table) WriteTo(w io.Writer) (int64, error) {
	n, err := io.WriteString(w, t.t.String()+"\n")
	return int64(n), err
}
