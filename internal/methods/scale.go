package methods

import (
	"fmt"
	"math"

	"github.com/aegisshield/ml-workbench/internal/apperrors"
	"github.com/aegisshield/ml-workbench/internal/frame"
)

// affine applies (x - shift) / scale, or x*scale + shift when multiply is set
func affine(s *step, shift, scale []float64, multiply bool) error {
	for j, c := range s.columns {
		values := append([]float64(nil), s.column(c).Floats()...)
		for i, v := range values {
			if multiply {
				values[i] = v*scale[j] + shift[j]
			} else {
				values[i] = (v - shift[j]) / scale[j]
			}
		}
		if err := s.df.Set(frame.NewFloat(c, values)); err != nil {
			return err
		}
	}
	return nil
}

// nonZero replaces zero scales with 1 so constant columns map to their offset
func nonZero(v float64) float64 {
	if v == 0 || math.IsNaN(v) {
		return 1
	}
	return v
}

// standardScaler centres on the mean and divides by the population standard deviation
type standardScaler struct {
	Mean  []float64 `json:"mean_,omitempty"`
	Scale []float64 `json:"scale_,omitempty"`
}

func (m *standardScaler) check(s *step) error { return s.encoderChecks(true) }

func (m *standardScaler) apply(s *step) error {
	if m.Mean == nil {
		m.Mean = make([]float64, len(s.columns))
		m.Scale = make([]float64, len(s.columns))
		for j, c := range s.columns {
			values := s.column(c).Floats()
			m.Mean[j] = frame.Mean(values)
			m.Scale[j] = nonZero(frame.PopStd(values))
		}
	} else if err := recordedPair(s, m.Mean, m.Scale); err != nil {
		return err
	}
	return affine(s, m.Mean, m.Scale, false)
}

// minMaxScaler maps each column's observed range onto the feature range
type minMaxScaler struct {
	FeatureRange []float64 `json:"feature_range" validate:"omitempty,len=2"`
	DataMin      []float64 `json:"data_min_,omitempty"`
	DataMax      []float64 `json:"data_max_,omitempty"`
	Min          []float64 `json:"min_,omitempty"`
	Scale        []float64 `json:"scale_,omitempty"`
}

func (m *minMaxScaler) setDefaults() {
	if m.FeatureRange == nil {
		m.FeatureRange = []float64{0, 1}
	}
}

func (m *minMaxScaler) check(s *step) error {
	if len(m.FeatureRange) == 2 && m.FeatureRange[0] >= m.FeatureRange[1] {
		return apperrors.New(apperrors.InvalidMethodParams, "feature_range minimum must be below its maximum")
	}
	return s.encoderChecks(true)
}

func (m *minMaxScaler) apply(s *step) error {
	if m.Scale == nil {
		n := len(s.columns)
		m.DataMin, m.DataMax = make([]float64, n), make([]float64, n)
		m.Min, m.Scale = make([]float64, n), make([]float64, n)
		lo, hi := m.FeatureRange[0], m.FeatureRange[1]
		for j, c := range s.columns {
			values := s.column(c).Floats()
			dmin, dmax := math.Inf(1), math.Inf(-1)
			for _, v := range values {
				dmin, dmax = math.Min(dmin, v), math.Max(dmax, v)
			}
			if len(values) == 0 {
				dmin, dmax = 0, 0
			}
			m.DataMin[j], m.DataMax[j] = dmin, dmax
			m.Scale[j] = (hi - lo) / nonZero(dmax-dmin)
			m.Min[j] = lo - dmin*m.Scale[j]
		}
	} else if err := recordedPair(s, m.Min, m.Scale); err != nil {
		return err
	}
	return affine(s, m.Min, m.Scale, true)
}

// robustScaler centres on the median and divides by the interquantile range
type robustScaler struct {
	QuantileRange []float64 `json:"quantile_range" validate:"omitempty,len=2,dive,gte=0,lte=100"`
	Center        []float64 `json:"center_,omitempty"`
	Scale         []float64 `json:"scale_,omitempty"`
}

func (m *robustScaler) setDefaults() {
	if m.QuantileRange == nil {
		m.QuantileRange = []float64{25, 75}
	}
}

func (m *robustScaler) check(s *step) error {
	if len(m.QuantileRange) == 2 && m.QuantileRange[0] >= m.QuantileRange[1] {
		return apperrors.New(apperrors.InvalidMethodParams, "quantile_range lower bound must be below its upper bound")
	}
	return s.encoderChecks(true)
}

func (m *robustScaler) apply(s *step) error {
	if m.Center == nil {
		m.Center = make([]float64, len(s.columns))
		m.Scale = make([]float64, len(s.columns))
		for j, c := range s.columns {
			values := s.column(c).Floats()
			m.Center[j] = frame.Median(values)
			q1 := frame.Quantile(values, m.QuantileRange[0]/100)
			q3 := frame.Quantile(values, m.QuantileRange[1]/100)
			m.Scale[j] = nonZero(q3 - q1)
		}
	} else if err := recordedPair(s, m.Center, m.Scale); err != nil {
		return err
	}
	return affine(s, m.Center, m.Scale, false)
}

func recordedPair(s *step, a, b []float64) error {
	if err := s.checkRecordedColumns(len(a)); err != nil {
		return err
	}
	if len(a) != len(b) {
		return fmt.Errorf("recorded statistics have mismatched lengths %d and %d", len(a), len(b))
	}
	return nil
}
