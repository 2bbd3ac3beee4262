package export

import "fmt"

// Column describes one field of an exported table.
type Column struct {
	Name    string
	Numeric bool
	// Weight sizes the column relative to the others in PDF output. Zero means 1.
	Weight float64
}

// Dataset is a rendered table: one string per column in every row.
type Dataset struct {
	Title   string
	Columns []Column
	Rows    [][]string
	// Footer is an optional summary row, same width as Columns.
	Footer []string
}

// Headers returns the column names in order.
func (d Dataset) Headers() []string {
	out := make([]string, len(d.Columns))
	for i, col := range d.Columns {
		out[i] = col.Name
	}
	return out
}

func (d Dataset) validate() error {
	if len(d.Columns) == 0 {
		return fmt.Errorf("export requires at least one column")
	}
	for i, row := range d.Rows {
		if len(row) != len(d.Columns) {
			return fmt.Errorf("row %d has %d cells, want %d", i, len(row), len(d.Columns))
		}
	}
	if d.Footer != nil && len(d.Footer) != len(d.Columns) {
		return fmt.Errorf("footer has %d cells, want %d", len(d.Footer), len(d.Columns))
	}
	return nil
}
