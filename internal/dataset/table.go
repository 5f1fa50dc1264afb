package dataset

import (
	"fmt"
	"strings"
	"unicode"
)

// Table is a loosely typed customer table: a header and string cells. Both the
// CSV loader and the database loader produce one, so the column contract is
// enforced in a single place regardless of where the rows came from.
type Table struct {
	Columns []string
	Rows    [][]string

	index map[string]int
}

func NewTable(columns []string) *Table {
	t := &Table{Columns: append([]string(nil), columns...)}
	t.reindex()
	return t
}

func (t *Table) reindex() {
	t.index = make(map[string]int, len(t.Columns))
	for i, c := range t.Columns {
		key := NormalizeColumn(c)
		if _, dup := t.index[key]; !dup {
			t.index[key] = i
		}
	}
}

// Append adds a row. The row must have one cell per column.
func (t *Table) Append(row []string) error {
	if len(row) != len(t.Columns) {
		return fmt.Errorf("row has %d cells, table has %d columns", len(row), len(t.Columns))
	}
	t.Rows = append(t.Rows, row)
	return nil
}

func (t *Table) Len() int { return len(t.Rows) }

// Has reports whether a column is present, ignoring case, spaces and underscores.
func (t *Table) Has(column string) bool {
	if t.index == nil {
		t.reindex()
	}
	_, ok := t.index[NormalizeColumn(column)]
	return ok
}

// ColumnIndex returns the position of column or -1.
func (t *Table) ColumnIndex(column string) int {
	if t.index == nil {
		t.reindex()
	}
	if i, ok := t.index[NormalizeColumn(column)]; ok {
		return i
	}
	return -1
}

// Value returns the trimmed cell for row i and column, or "" if the column is absent.
func (t *Table) Value(i int, column string) string {
	j := t.ColumnIndex(column)
	if j < 0 || i < 0 || i >= len(t.Rows) {
		return ""
	}
	return strings.TrimSpace(t.Rows[i][j])
}

// NormalizeColumn folds "Satisfaction Score", "satisfaction_score" and
// "SatisfactionScore" onto the same key.
func NormalizeColumn(name string) string {
	var b strings.Builder
	for _, r := range name {
		if r == '_' || r == '-' || unicode.IsSpace(r) {
			continue
		}
		b.WriteRune(unicode.ToLower(r))
	}
	return b.String()
}
