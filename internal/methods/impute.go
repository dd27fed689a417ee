package methods

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/mat"

	"github.com/aegisshield/ml-workbench/internal/apperrors"
	"github.com/aegisshield/ml-workbench/internal/frame"
)

// fillStatistic fills numeric gaps with the column mean or median
type fillStatistic struct {
	kind string
}

func (m *fillStatistic) check(s *step) error {
	if err := s.requireColumns(); err != nil {
		return err
	}
	return s.requireNumeric()
}

func (m *fillStatistic) apply(s *step) error {
	for _, c := range s.columns {
		col := s.column(c)
		values := append([]float64(nil), col.Floats()...)
		fill := frame.Mean(values)
		if m.kind == FillMedian {
			fill = frame.Median(values)
		}
		if math.IsNaN(fill) {
			return fmt.Errorf("column %q has no values to compute a fill from", c)
		}
		for i, v := range values {
			if math.IsNaN(v) {
				values[i] = fill
			}
		}
		if err := s.df.Set(col.WithFloats(values)); err != nil {
			return err
		}
	}
	return nil
}

// fillMostFrequent fills gaps with the modal value of each column
type fillMostFrequent struct{}

func (m *fillMostFrequent) check(s *step) error { return s.requireColumns() }

func (m *fillMostFrequent) apply(s *step) error {
	for _, c := range s.columns {
		col := s.column(c)
		counts := col.ValueCounts()
		if len(counts) == 0 {
			return fmt.Errorf("column %q has no values to compute a fill from", c)
		}
		mode := counts[0]
		// equal counts resolve to the smallest value
		for _, vc := range counts[1:] {
			if vc.Count < mode.Count {
				break
			}
			if lessText(col, vc.Value, mode.Value) {
				mode = vc
			}
		}
		filled, err := fillText(col, mode.Value)
		if err != nil {
			return err
		}
		if err := s.df.Set(filled); err != nil {
			return err
		}
	}
	return nil
}

func lessText(col *frame.Series, a, b string) bool {
	if col.Kind() == frame.String {
		return a < b
	}
	var fa, fb float64
	fmt.Sscan(a, &fa)
	fmt.Sscan(b, &fb)
	return fa < fb
}

// fillText fills the missing rows of col with the value's text form
func fillText(col *frame.Series, value string) (*frame.Series, error) {
	if col.Kind() == frame.String {
		strs, na := col.Texts()
		for i := range strs {
			if na[i] {
				strs[i], na[i] = value, false
			}
		}
		return col.WithStrings(strs, na), nil
	}
	single := frame.NewString(col.Name(), []string{value}, nil)
	parsed, err := single.ToNumeric()
	if err != nil {
		return nil, err
	}
	fill := parsed.Float(0)
	values := append([]float64(nil), col.Floats()...)
	for i, v := range values {
		if math.IsNaN(v) {
			values[i] = fill
		}
	}
	return col.WithFloats(values), nil
}

// fillDirectional propagates the previous (ffill) or next (bfill) present value
type fillDirectional struct {
	backward bool
}

func (m *fillDirectional) check(s *step) error { return s.requireColumns() }

func (m *fillDirectional) apply(s *step) error {
	for _, c := range s.columns {
		col := s.column(c)
		n := col.Len()
		order := make([]int, n)
		for i := range order {
			order[i] = i
			if m.backward {
				order[i] = n - 1 - i
			}
		}

		if col.Kind() == frame.String {
			strs, na := col.Texts()
			last, have := "", false
			for _, i := range order {
				if !na[i] {
					last, have = strs[i], true
				} else if have {
					strs[i], na[i] = last, false
				}
			}
			if err := s.df.Set(col.WithStrings(strs, na)); err != nil {
				return err
			}
			continue
		}

		values := append([]float64(nil), col.Floats()...)
		last := math.NaN()
		for _, i := range order {
			if !math.IsNaN(values[i]) {
				last = values[i]
			} else {
				values[i] = last
			}
		}
		if err := s.df.Set(col.WithFloats(values)); err != nil {
			return err
		}
	}
	return nil
}

// fillInterpolation fills interior gaps linearly by row position.
// Leading gaps stay missing; trailing gaps take the last present value.
type fillInterpolation struct{}

func (m *fillInterpolation) check(s *step) error {
	if err := s.requireColumns(); err != nil {
		return err
	}
	return s.requireNumeric()
}

func (m *fillInterpolation) apply(s *step) error {
	for _, c := range s.columns {
		col := s.column(c)
		values := append([]float64(nil), col.Floats()...)
		prev := -1
		for i, v := range values {
			if math.IsNaN(v) {
				continue
			}
			if prev >= 0 && i-prev > 1 {
				step := (v - values[prev]) / float64(i-prev)
				for j := prev + 1; j < i; j++ {
					values[j] = values[prev] + step*float64(j-prev)
				}
			}
			prev = i
		}
		if prev >= 0 {
			for j := prev + 1; j < len(values); j++ {
				values[j] = values[prev]
			}
		}
		if err := s.df.Set(col.WithFloats(values)); err != nil {
			return err
		}
	}
	return nil
}

// fillCustomValue fills each column with its own value
type fillCustomValue struct {
	Values []any `json:"values" validate:"required,min=1"`
}

func (m *fillCustomValue) check(s *step) error {
	if err := s.requireColumns(); err != nil {
		return err
	}
	if len(m.Values) != len(s.columns) {
		return apperrors.New(apperrors.InvalidMethodParams,
			"expected %d values, got %d", len(s.columns), len(m.Values))
	}
	for i, c := range s.columns {
		col := s.column(c)
		if m.Values[i] == nil || !col.CanHold(m.Values[i]) {
			return apperrors.New(apperrors.FillCustomValueWrongDType,
				"value %v cannot be cast to the %s dtype of column %q", m.Values[i], col.Kind(), c).
				With("column", c).With("dtype", string(col.Kind()))
		}
	}
	return nil
}

func (m *fillCustomValue) apply(s *step) error {
	for i, c := range s.columns {
		col := s.column(c)
		var text string
		switch v := m.Values[i].(type) {
		case string:
			text = v
		case bool:
			text = "False"
			if v {
				text = "True"
			}
		default:
			text = fmt.Sprint(v)
		}
		filled, err := fillText(col, text)
		if err != nil {
			return err
		}
		if err := s.df.Set(filled); err != nil {
			return err
		}
	}
	return nil
}

// fillLinearImputer predicts each column's gaps from the other step columns with a
// least-squares fit. Gaps in predictors take the recorded column means.
type fillLinearImputer struct {
	Means        []float64   `json:"means,omitempty"`
	Coefficients [][]float64 `json:"coefficients,omitempty"`
	Intercepts   []float64   `json:"intercepts,omitempty"`
}

func (m *fillLinearImputer) check(s *step) error {
	if err := s.requireColumns(); err != nil {
		return err
	}
	return s.requireNumeric()
}

func (m *fillLinearImputer) apply(s *step) error {
	data := make([][]float64, len(s.columns))
	for j, c := range s.columns {
		data[j] = s.column(c).Floats()
	}

	if m.Means == nil {
		if err := m.fit(data); err != nil {
			return err
		}
	} else if err := s.checkRecordedColumns(len(m.Means)); err != nil {
		return err
	}

	for j, c := range s.columns {
		values := append([]float64(nil), data[j]...)
		for i, v := range values {
			if !math.IsNaN(v) {
				continue
			}
			pred := m.Intercepts[j]
			k := 0
			for p := range s.columns {
				if p == j {
					continue
				}
				x := data[p][i]
				if math.IsNaN(x) {
					x = m.Means[p]
				}
				pred += m.Coefficients[j][k] * x
				k++
			}
			values[i] = pred
		}
		if err := s.df.Set(s.column(c).WithFloats(values)); err != nil {
			return err
		}
	}
	return nil
}

func (m *fillLinearImputer) fit(data [][]float64) error {
	n := len(data)
	m.Means = make([]float64, n)
	for j := range data {
		m.Means[j] = frame.Mean(data[j])
		if math.IsNaN(m.Means[j]) {
			return errors.New("cannot impute a column without any present values")
		}
	}

	m.Coefficients = make([][]float64, n)
	m.Intercepts = make([]float64, n)
	for j := range data {
		var rows []int
		for i, v := range data[j] {
			if !math.IsNaN(v) {
				rows = append(rows, i)
			}
		}
		x := mat.NewDense(len(rows), n, nil)
		y := mat.NewVecDense(len(rows), nil)
		for r, i := range rows {
			x.Set(r, 0, 1)
			col := 1
			for p := range data {
				if p == j {
					continue
				}
				v := data[p][i]
				if math.IsNaN(v) {
					v = m.Means[p]
				}
				x.Set(r, col, v)
				col++
			}
			y.SetVec(r, data[j][i])
		}
		beta, err := ridgeSolve(x, y)
		if err != nil {
			return err
		}
		m.Intercepts[j] = beta[0]
		m.Coefficients[j] = beta[1:]
	}
	return nil
}

// ridgeSolve solves (XᵀX + λI)β = Xᵀy with a tiny λ for stability
func ridgeSolve(x *mat.Dense, y *mat.VecDense) ([]float64, error) {
	_, c := x.Dims()
	var xtx mat.Dense
	xtx.Mul(x.T(), x)
	for i := 0; i < c; i++ {
		xtx.Set(i, i, xtx.At(i, i)+1e-8)
	}
	var xty mat.VecDense
	xty.MulVec(x.T(), y)
	var beta mat.VecDense
	if err := beta.SolveVec(&xtx, &xty); err != nil {
		return nil, err
	}
	return beta.RawVector().Data, nil
}

// fillKNNImputer fills gaps with the mean of the nearest recorded rows under a
// NaN-aware euclidean distance.
type fillKNNImputer struct {
	NNeighbors int          `json:"n_neighbors" validate:"gte=1"`
	FitData    [][]*float64 `json:"fit_data,omitempty"`
}

func (m *fillKNNImputer) setDefaults() {
	if m.NNeighbors == 0 {
		m.NNeighbors = 5
	}
}

func (m *fillKNNImputer) check(s *step) error {
	if err := s.requireColumns(); err != nil {
		return err
	}
	return s.requireNumeric()
}

func (m *fillKNNImputer) apply(s *step) error {
	data := make([][]float64, len(s.columns))
	for j, c := range s.columns {
		data[j] = s.column(c).Floats()
	}
	rows := s.df.NRows()

	if m.FitData == nil {
		m.FitData = make([][]*float64, rows)
		for i := 0; i < rows; i++ {
			rec := make([]*float64, len(data))
			for j := range data {
				if v := data[j][i]; !math.IsNaN(v) {
					rec[j] = &v
				}
			}
			m.FitData[i] = rec
		}
	}
	for _, rec := range m.FitData {
		if err := s.checkRecordedColumns(len(rec)); err != nil {
			return err
		}
	}

	out := make([][]float64, len(data))
	for j := range data {
		out[j] = append([]float64(nil), data[j]...)
	}

	type neighbour struct {
		dist  float64
		value float64
	}
	for i := 0; i < rows; i++ {
		row := make([]float64, len(data))
		for j := range data {
			row[j] = data[j][i]
		}
		for j, v := range row {
			if !math.IsNaN(v) {
				continue
			}
			var candidates []neighbour
			for _, rec := range m.FitData {
				if rec[j] == nil {
					continue
				}
				d, ok := nanEuclidean(row, rec)
				if !ok {
					continue
				}
				candidates = append(candidates, neighbour{dist: d, value: *rec[j]})
			}
			if len(candidates) == 0 {
				// no comparable rows, fall back to the recorded column mean
				out[j][i] = recordedMean(m.FitData, j)
				continue
			}
			sort.SliceStable(candidates, func(a, b int) bool { return candidates[a].dist < candidates[b].dist })
			k := min(m.NNeighbors, len(candidates))
			sum := 0.0
			for _, c := range candidates[:k] {
				sum += c.value
			}
			out[j][i] = sum / float64(k)
		}
	}

	for j, c := range s.columns {
		if err := s.df.Set(s.column(c).WithFloats(out[j])); err != nil {
			return err
		}
	}
	return nil
}

// nanEuclidean scales the distance over coordinates present in both rows up to the full width
func nanEuclidean(row []float64, rec []*float64) (float64, bool) {
	sum, present := 0.0, 0
	for j, v := range row {
		if math.IsNaN(v) || rec[j] == nil {
			continue
		}
		d := v - *rec[j]
		sum += d * d
		present++
	}
	if present == 0 {
		return 0, false
	}
	return math.Sqrt(sum * float64(len(row)) / float64(present)), true
}

func recordedMean(data [][]*float64, j int) float64 {
	sum, n := 0.0, 0
	for _, rec := range data {
		if rec[j] != nil {
			sum += *rec[j]
			n++
		}
	}
	if n == 0 {
		return math.NaN()
	}
	return sum / float64(n)
}
