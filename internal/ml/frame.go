package ml

import (
	"errors"
	"fmt"

	"gonum.org/v1/gonum/mat"
)

// Column is one named model input. Categorical columns carry Cat, numeric
// columns carry Num.
type Column struct {
	Name        string
	Categorical bool
	Num         []float64
	Cat         []string
}

// Frame is a dense feature matrix with a fixed column order. Categorical
// cells hold level codes that index into Levels for that column.
type Frame struct {
	Names       []string
	Categorical []bool
	Levels      [][]string

	x    *mat.Dense
	rows int
}

var ErrEmptyFrame = errors.New("feature frame has no rows")

// NewFrame builds a frame from equally long columns. Category levels are coded
// in order of first appearance, so the same input always yields the same codes.
func NewFrame(cols []Column) (*Frame, error) {
	if len(cols) == 0 {
		return nil, errors.New("feature frame has no columns")
	}
	n := columnLen(cols[0])
	if n == 0 {
		return nil, ErrEmptyFrame
	}
	f := &Frame{
		Names:       make([]string, len(cols)),
		Categorical: make([]bool, len(cols)),
		Levels:      make([][]string, len(cols)),
		rows:        n,
	}
	data := make([]float64, n*len(cols))
	for j, c := range cols {
		if got := columnLen(c); got != n {
			return nil, fmt.Errorf("column %q has %d rows, want %d", c.Name, got, n)
		}
		f.Names[j] = c.Name
		f.Categorical[j] = c.Categorical
		if !c.Categorical {
			for i, v := range c.Num {
				data[i*len(cols)+j] = v
			}
			continue
		}
		codes := map[string]int{}
		for i, v := range c.Cat {
			code, ok := codes[v]
			if !ok {
				code = len(f.Levels[j])
				codes[v] = code
				f.Levels[j] = append(f.Levels[j], v)
			}
			data[i*len(cols)+j] = float64(code)
		}
	}
	f.x = mat.NewDense(n, len(cols), data)
	return f, nil
}

func columnLen(c Column) int {
	if c.Categorical {
		return len(c.Cat)
	}
	return len(c.Num)
}

func (f *Frame) Rows() int { return f.rows }
func (f *Frame) Cols() int { return len(f.Names) }

func (f *Frame) At(i, j int) float64 { return f.x.At(i, j) }

// Category returns the category string of a categorical cell.
func (f *Frame) Category(i, j int) string {
	code := int(f.x.At(i, j))
	if code < 0 || code >= len(f.Levels[j]) {
		return ""
	}
	return f.Levels[j][code]
}

// Row copies row i.
func (f *Frame) Row(i int) []float64 {
	return mat.Row(nil, i, f.x)
}

// CategoricalIndex lists the positions of categorical columns.
func (f *Frame) CategoricalIndex() []int {
	var idx []int
	for j, c := range f.Categorical {
		if c {
			idx = append(idx, j)
		}
	}
	return idx
}

// Subset returns the rows in idx, in that order. Levels are shared with f.
func (f *Frame) Subset(idx []int) (*Frame, error) {
	if len(idx) == 0 {
		return nil, ErrEmptyFrame
	}
	out := f.shell(len(idx))
	for k, i := range idx {
		out.x.SetRow(k, f.x.RawRowView(i))
	}
	return out, nil
}

// AppendRows returns a new frame with extra raw rows after the existing ones.
// Categorical cells of the extra rows must be valid level codes.
func (f *Frame) AppendRows(extra [][]float64) (*Frame, error) {
	out := f.shell(f.rows + len(extra))
	for i := 0; i < f.rows; i++ {
		out.x.SetRow(i, f.x.RawRowView(i))
	}
	for k, row := range extra {
		if len(row) != f.Cols() {
			return nil, fmt.Errorf("appended row %d has %d cells, want %d", k, len(row), f.Cols())
		}
		for _, j := range f.CategoricalIndex() {
			if c := int(row[j]); c < 0 || c >= len(f.Levels[j]) {
				return nil, fmt.Errorf("appended row %d: unknown level code %v in %q", k, row[j], f.Names[j])
			}
		}
		out.x.SetRow(f.rows+k, row)
	}
	return out, nil
}

func (f *Frame) shell(rows int) *Frame {
	return &Frame{
		Names:       f.Names,
		Categorical: f.Categorical,
		Levels:      f.Levels,
		x:           mat.NewDense(rows, len(f.Names), nil),
		rows:        rows,
	}
}

// CheckLayout fails unless f has exactly the given column names, order and kinds.
func CheckLayout(names []string, categorical []bool, f *Frame) error {
	if len(names) != len(f.Names) {
		return fmt.Errorf("feature count mismatch: model expects %d, frame has %d", len(names), len(f.Names))
	}
	for j := range names {
		if names[j] != f.Names[j] {
			return fmt.Errorf("feature %d: model expects %q, frame has %q", j, names[j], f.Names[j])
		}
		if categorical[j] != f.Categorical[j] {
			return fmt.Errorf("feature %q: categorical mismatch", names[j])
		}
	}
	return nil
}
