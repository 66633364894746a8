package output

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
)

// Table is a column table.
type Table struct {
	Headers []string
	Rows    [][]string
}

// NewTable creates a table with the given column headers.
func NewTable(headers ...string) *Table {
	return &Table{Headers: headers}
}

// AddRow appends a row. Values are printed with fmt.Sprint; missing
// cells are left empty.
func (t *Table) AddRow(values ...any) {
	row := make([]string, len(t.Headers))
	for i := range row {
		if i < len(values) && values[i] != nil {
			row[i] = fmt.Sprint(values[i])
		}
	}
	t.Rows = append(t.Rows, row)
}

// Render writes the table, headers first.
func (t *Table) Render(w io.Writer, noHeaders bool) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	if !noHeaders && len(t.Headers) > 0 {
		fmt.Fprintln(tw, strings.Join(t.Headers, "\t"))
	}
	for _, row := range t.Rows {
		fmt.Fprintln(tw, strings.Join(row, "\t"))
	}
	return tw.Flush()
}

// Records returns one map per row keyed by the lowercased headers, for
// the structured formats.
func (t *Table) Records() []map[string]string {
	out := make([]map[string]string, 0, len(t.Rows))
	for _, row := range t.Rows {
		rec := make(map[string]string, len(t.Headers))
		for i, h := range t.Headers {
			rec[strings.ToLower(h)] = row[i]
		}
		out = append(out, rec)
	}
	return out
}

// TableFormatter renders tables; other data is printed as YAML.
type TableFormatter struct {
	NoHeaders bool
}

func (f *TableFormatter) Format(w io.Writer, data any) error {
	switch t := data.(type) {
	case nil:
		return nil
	case *Table:
		return t.Render(w, f.NoHeaders)
	case string:
		_, err := fmt.Fprintln(w, t)
		return err
	}
	return (&YAMLFormatter{}).Format(w, data)
}
