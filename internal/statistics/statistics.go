// Package statistics describes dataframe contents for browsing: row windows,
// per-column summaries and the correlation matrix of numeric columns.
package statistics

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/aegisshield/ml-workbench/internal/apperrors"
	"github.com/aegisshield/ml-workbench/internal/frame"
	"github.com/aegisshield/ml-workbench/internal/models"
)

const (
	// DefaultBins is the histogram bin count of numeric descriptions
	DefaultBins = 10
	topN        = 5
)

// Page is one window of rows
type Page struct {
	Records    []map[string]any `json:"records"`
	Page       int              `json:"page"`
	RowsOnPage int              `json:"rows_on_page"`
	Total      int              `json:"total"`
}

// Window returns the 1-based page of rows; missing values are rendered as ""
func Window(df *frame.DataFrame, page, rowsOnPage int) (*Page, error) {
	if page < 1 || rowsOnPage < 1 {
		return nil, apperrors.New(apperrors.InvalidPagination, "page and rows_on_page must be positive, got %d and %d", page, rowsOnPage).
			With("page", page).
			With("rows_on_page", rowsOnPage)
	}
	start := (page - 1) * rowsOnPage
	records := df.Records(start, start+rowsOnPage)
	for _, rec := range records {
		for k, v := range rec {
			if v == nil {
				rec[k] = ""
			}
		}
	}
	return &Page{
		Records:    records,
		Page:       page,
		RowsOnPage: rowsOnPage,
		Total:      (df.NRows() + rowsOnPage - 1) / rowsOnPage,
	}, nil
}

// Histogram holds equal-width bin edges and the count in each bin
type Histogram struct {
	Edges  []float64 `json:"edges"`
	Counts []float64 `json:"counts"`
}

// NumericDescription summarises a numeric column
type NumericDescription struct {
	Count     int       `json:"count"`
	Mean      *float64  `json:"mean"`
	Std       *float64  `json:"std"`
	Min       *float64  `json:"min"`
	Q25       *float64  `json:"25%"`
	Q50       *float64  `json:"50%"`
	Q75       *float64  `json:"75%"`
	Max       *float64  `json:"max"`
	Histogram Histogram `json:"histogram"`
}

// ValueShare is one normalised value count
type ValueShare struct {
	Value string  `json:"value"`
	Share float64 `json:"share"`
}

// CategoricalDescription summarises a categorical column
type CategoricalDescription struct {
	Count       int          `json:"count"`
	NUnique     int          `json:"nunique"`
	ValueCounts []ValueShare `json:"value_counts"`
	Top         []ValueShare `json:"top"`
}

// Description is the summary of one column
type Description struct {
	Column      string                  `json:"column"`
	Type        string                  `json:"type"`
	Numeric     *NumericDescription     `json:"numeric,omitempty"`
	Categorical *CategoricalDescription `json:"categorical,omitempty"`
}

// Describe summarises every classified column: numeric columns first, then categorical
func Describe(df *frame.DataFrame, types models.ColumnTypes, bins int) ([]Description, error) {
	if bins <= 0 {
		bins = DefaultBins
	}
	out := make([]Description, 0, len(types.Numeric)+len(types.Categorical))
	for _, name := range types.Numeric {
		s, err := column(df, name)
		if err != nil {
			return nil, err
		}
		out = append(out, Description{Column: name, Type: "numeric", Numeric: DescribeNumeric(s.Floats(), bins)})
	}
	for _, name := range types.Categorical {
		s, err := column(df, name)
		if err != nil {
			return nil, err
		}
		out = append(out, Description{Column: name, Type: "categorical", Categorical: DescribeCategorical(s)})
	}
	return out, nil
}

// DescribeNumeric computes count, moments, quartiles and a histogram of the non-missing values
func DescribeNumeric(values []float64, bins int) *NumericDescription {
	present := make([]float64, 0, len(values))
	for _, v := range values {
		if !math.IsNaN(v) && !math.IsInf(v, 0) {
			present = append(present, v)
		}
	}
	d := &NumericDescription{Count: len(present), Histogram: Histogram{Edges: []float64{}, Counts: []float64{}}}
	if len(present) == 0 {
		return d
	}
	sort.Float64s(present)
	d.Mean = ptr(stat.Mean(present, nil))
	if len(present) > 1 {
		d.Std = ptr(stat.StdDev(present, nil))
	}
	d.Min = ptr(present[0])
	d.Q25 = ptr(frame.SortedQuantile(present, 0.25))
	d.Q50 = ptr(frame.SortedQuantile(present, 0.5))
	d.Q75 = ptr(frame.SortedQuantile(present, 0.75))
	d.Max = ptr(present[len(present)-1])
	d.Histogram = histogram(present, bins)
	return d
}

// histogram bins sorted values into equal-width bins; the last bin is closed
func histogram(sorted []float64, bins int) Histogram {
	lo, hi := sorted[0], sorted[len(sorted)-1]
	if lo == hi {
		lo, hi = lo-0.5, hi+0.5
	}
	edges := floats.Span(make([]float64, bins+1), lo, hi)
	dividers := append([]float64(nil), edges...)
	dividers[bins] = math.Nextafter(hi, math.Inf(1))
	return Histogram{Edges: edges, Counts: stat.Histogram(nil, dividers, sorted, nil)}
}

// DescribeCategorical computes normalised value counts, the distinct count and the most frequent values
func DescribeCategorical(s *frame.Series) *CategoricalDescription {
	counts := s.ValueCounts()
	total := 0
	for _, c := range counts {
		total += c.Count
	}
	d := &CategoricalDescription{Count: total, NUnique: len(counts), ValueCounts: make([]ValueShare, len(counts))}
	for i, c := range counts {
		d.ValueCounts[i] = ValueShare{Value: c.Value, Share: float64(c.Count) / float64(total)}
	}
	d.Top = d.ValueCounts[:min(topN, len(d.ValueCounts))]
	return d
}

// CorrelationMatrix is the Pearson correlation of numeric columns; undefined
// coefficients are null
type CorrelationMatrix struct {
	Columns []string     `json:"columns"`
	Values  [][]*float64 `json:"values"`
}

// Correlation computes pairwise Pearson coefficients over rows where both columns are present
func Correlation(df *frame.DataFrame, types models.ColumnTypes) (*CorrelationMatrix, error) {
	cols := make([][]float64, len(types.Numeric))
	for i, name := range types.Numeric {
		s, err := column(df, name)
		if err != nil {
			return nil, err
		}
		cols[i] = s.Floats()
	}
	m := &CorrelationMatrix{Columns: append([]string{}, types.Numeric...), Values: make([][]*float64, len(cols))}
	for i := range cols {
		m.Values[i] = make([]*float64, len(cols))
	}
	for i := range cols {
		for j := i; j < len(cols); j++ {
			r := pairwise(cols[i], cols[j])
			if math.IsNaN(r) {
				continue
			}
			m.Values[i][j], m.Values[j][i] = ptr(r), ptr(r)
		}
	}
	return m, nil
}

func pairwise(a, b []float64) float64 {
	x := make([]float64, 0, len(a))
	y := make([]float64, 0, len(b))
	for i := range a {
		if math.IsNaN(a[i]) || math.IsNaN(b[i]) {
			continue
		}
		x = append(x, a[i])
		y = append(y, b[i])
	}
	if len(x) < 2 {
		return math.NaN()
	}
	return stat.Correlation(x, y, nil)
}

func column(df *frame.DataFrame, name string) (*frame.Series, error) {
	s, ok := df.Column(name)
	if !ok {
		return nil, apperrors.New(apperrors.ColumnsNotEqual, "column %q is classified but missing from the table", name).
			With("column", name)
	}
	return s, nil
}

func ptr(v float64) *float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return nil
	}
	return &v
}
