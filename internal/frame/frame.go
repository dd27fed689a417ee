// Package frame implements the in-memory column-oriented table that dataframes are loaded into.
package frame

import (
	"fmt"
	"strings"

	"gonum.org/v1/gonum/mat"
)

// DataFrame is an ordered set of equally long series with unique names
type DataFrame struct {
	columns []*Series
	index   map[string]int
	nrows   int
}

// New creates a dataframe from series of equal length
func New(columns ...*Series) (*DataFrame, error) {
	df := &DataFrame{index: make(map[string]int, len(columns))}
	for i, s := range columns {
		if i == 0 {
			df.nrows = s.Len()
		} else if s.Len() != df.nrows {
			return nil, fmt.Errorf("column %q has %d rows, expected %d", s.Name(), s.Len(), df.nrows)
		}
		if _, dup := df.index[s.Name()]; dup {
			return nil, fmt.Errorf("duplicate column name %q", s.Name())
		}
		df.index[s.Name()] = i
		df.columns = append(df.columns, s)
	}
	return df, nil
}

// MustNew is New for statically known inputs; it panics on error
func MustNew(columns ...*Series) *DataFrame {
	df, err := New(columns...)
	if err != nil {
		panic(err)
	}
	return df
}

// NRows returns the number of rows
func (df *DataFrame) NRows() int { return df.nrows }

// NCols returns the number of columns
func (df *DataFrame) NCols() int { return len(df.columns) }

// Columns returns column names in order
func (df *DataFrame) Columns() []string {
	names := make([]string, len(df.columns))
	for i, s := range df.columns {
		names[i] = s.Name()
	}
	return names
}

// Has reports whether a column exists
func (df *DataFrame) Has(name string) bool {
	_, ok := df.index[name]
	return ok
}

// Column returns a column by name
func (df *DataFrame) Column(name string) (*Series, bool) {
	i, ok := df.index[name]
	if !ok {
		return nil, false
	}
	return df.columns[i], true
}

// Series returns every column in order
func (df *DataFrame) Series() []*Series {
	return append([]*Series(nil), df.columns...)
}

// Clone deep-copies the dataframe
func (df *DataFrame) Clone() *DataFrame {
	cols := make([]*Series, len(df.columns))
	for i, s := range df.columns {
		cols[i] = s.Clone()
	}
	return MustNew(cols...)
}

// Select returns the named columns in the given order
func (df *DataFrame) Select(names ...string) (*DataFrame, error) {
	cols := make([]*Series, 0, len(names))
	for _, name := range names {
		s, ok := df.Column(name)
		if !ok {
			return nil, fmt.Errorf("column %q not found", name)
		}
		cols = append(cols, s)
	}
	out, err := New(cols...)
	if err != nil {
		return nil, err
	}
	if len(names) == 0 {
		out.nrows = df.nrows
	}
	return out, nil
}

// Drop returns the dataframe without the named columns; unknown names are ignored
func (df *DataFrame) Drop(names ...string) *DataFrame {
	drop := make(map[string]struct{}, len(names))
	for _, n := range names {
		drop[n] = struct{}{}
	}
	var cols []*Series
	for _, s := range df.columns {
		if _, ok := drop[s.Name()]; !ok {
			cols = append(cols, s)
		}
	}
	out := MustNew(cols...)
	out.nrows = df.nrows
	return out
}

// Set replaces a column in place of the same name, or appends it
func (df *DataFrame) Set(s *Series) error {
	if len(df.columns) > 0 && s.Len() != df.nrows {
		return fmt.Errorf("column %q has %d rows, expected %d", s.Name(), s.Len(), df.nrows)
	}
	if i, ok := df.index[s.Name()]; ok {
		df.columns[i] = s
		return nil
	}
	if len(df.columns) == 0 {
		df.nrows = s.Len()
	}
	df.index[s.Name()] = len(df.columns)
	df.columns = append(df.columns, s)
	return nil
}

// Take returns a dataframe holding the given rows in order
func (df *DataFrame) Take(rows []int) *DataFrame {
	cols := make([]*Series, len(df.columns))
	for i, s := range df.columns {
		cols[i] = s.Take(rows)
	}
	out := MustNew(cols...)
	out.nrows = len(rows)
	return out
}

// RowKey builds a comparable key from a row's values over the given columns
func (df *DataFrame) RowKey(row int, names []string) string {
	var b strings.Builder
	for _, name := range names {
		s := df.columns[df.index[name]]
		if s.IsNA(row) {
			b.WriteString("\x00na")
		} else {
			b.WriteString(s.Text(row))
		}
		b.WriteByte('\x1f')
	}
	return b.String()
}

// Matrix copies the named numeric columns into a dense rows x columns matrix
func (df *DataFrame) Matrix(names []string) (*mat.Dense, error) {
	if df.nrows == 0 || len(names) == 0 {
		return nil, fmt.Errorf("cannot build a matrix from %d rows and %d columns", df.nrows, len(names))
	}
	m := mat.NewDense(df.nrows, len(names), nil)
	for j, name := range names {
		s, ok := df.Column(name)
		if !ok {
			return nil, fmt.Errorf("column %q not found", name)
		}
		if !s.IsNumeric() && s.Kind() != Bool {
			return nil, fmt.Errorf("column %q is not numeric", name)
		}
		for i, v := range s.Floats() {
			m.Set(i, j, v)
		}
	}
	return m, nil
}

// FromMatrix builds a float dataframe from a matrix and column names
func FromMatrix(m mat.Matrix, names []string) (*DataFrame, error) {
	r, c := m.Dims()
	if c != len(names) {
		return nil, fmt.Errorf("matrix has %d columns, %d names given", c, len(names))
	}
	cols := make([]*Series, c)
	for j := 0; j < c; j++ {
		values := make([]float64, r)
		for i := 0; i < r; i++ {
			values[i] = m.At(i, j)
		}
		cols[j] = NewFloat(names[j], values)
	}
	return New(cols...)
}

// Records returns rows [start, end) as maps keyed by column name
func (df *DataFrame) Records(start, end int) []map[string]any {
	if start < 0 {
		start = 0
	}
	if end > df.nrows {
		end = df.nrows
	}
	if start >= end {
		return []map[string]any{}
	}
	out := make([]map[string]any, 0, end-start)
	for i := start; i < end; i++ {
		rec := make(map[string]any, len(df.columns))
		for _, s := range df.columns {
			rec[s.Name()] = s.Value(i)
		}
		out = append(out, rec)
	}
	return out
}

// SameColumnSet reports whether the dataframe's columns equal the given names, ignoring order
func (df *DataFrame) SameColumnSet(names []string) bool {
	if len(names) != len(df.columns) {
		return false
	}
	for _, n := range names {
		if !df.Has(n) {
			return false
		}
	}
	return true
}
