package methods

import (
	"fmt"
	"slices"
	"sort"
	"strconv"

	"github.com/aegisshield/ml-workbench/internal/apperrors"
	"github.com/aegisshield/ml-workbench/internal/frame"
)

// leaveNValuesEncoding keeps the n most frequent values of each column and
// replaces every other value with a shared placeholder.
type leaveNValuesEncoding struct {
	N          int        `json:"n" validate:"required,gte=1"`
	OtherValue string     `json:"other_value"`
	KeptValues [][]string `json:"kept_values,omitempty"`
}

func (m *leaveNValuesEncoding) setDefaults() {
	if m.OtherValue == "" {
		m.OtherValue = "other"
	}
}

func (m *leaveNValuesEncoding) check(s *step) error { return s.encoderChecks(false) }

func (m *leaveNValuesEncoding) apply(s *step) error {
	if m.KeptValues == nil {
		m.KeptValues = make([][]string, len(s.columns))
		for j, c := range s.columns {
			counts := s.column(c).ValueCounts()
			kept := make([]string, 0, m.N)
			for _, vc := range counts[:min(m.N, len(counts))] {
				kept = append(kept, vc.Value)
			}
			m.KeptValues[j] = kept
		}
	} else if err := s.checkRecordedColumns(len(m.KeptValues)); err != nil {
		return err
	}

	for j, c := range s.columns {
		col := s.column(c)
		strs, na := col.Texts()
		for i, v := range strs {
			if !slices.Contains(m.KeptValues[j], v) {
				strs[i] = m.OtherValue
			}
		}
		if err := s.df.Set(frame.NewString(c, strs, na)); err != nil {
			return err
		}
	}
	return nil
}

// oneHotEncoding replaces each column with one indicator column per category,
// dropping the first category. Unknown categories encode as all zeros.
type oneHotEncoding struct {
	Categories        [][]string `json:"categories_,omitempty"`
	DropIdx           []*int     `json:"drop_idx_,omitempty"`
	InfrequentEnabled bool       `json:"_infrequent_enabled"`
	NFeaturesOuts     []int      `json:"_n_features_outs,omitempty"`
}

func (m *oneHotEncoding) check(s *step) error {
	if err := s.encoderChecks(false); err != nil {
		return err
	}
	if m.InfrequentEnabled {
		return apperrors.New(apperrors.InvalidMethodParams, "infrequent category grouping is not supported")
	}
	return nil
}

func (m *oneHotEncoding) apply(s *step) error {
	if m.Categories == nil {
		m.Categories = make([][]string, len(s.columns))
		m.DropIdx = make([]*int, len(s.columns))
		m.NFeaturesOuts = make([]int, len(s.columns))
		for j, c := range s.columns {
			m.Categories[j] = sortedCategories(s.column(c))
			first := 0
			m.DropIdx[j] = &first
			m.NFeaturesOuts[j] = len(m.Categories[j]) - 1
		}
	} else if err := m.checkRecorded(s); err != nil {
		return err
	}

	var added []*frame.Series
	for j, c := range s.columns {
		col := s.column(c)
		strs, _ := col.Texts()
		for k, cat := range m.Categories[j] {
			if m.DropIdx[j] != nil && *m.DropIdx[j] == k {
				continue
			}
			name := c + "_" + cat
			if s.df.Has(name) && !slices.Contains(s.columns, name) {
				return fmt.Errorf("encoded column %q already exists", name)
			}
			values := make([]float64, len(strs))
			for i, v := range strs {
				if v == cat {
					values[i] = 1
				}
			}
			added = append(added, frame.NewFloat(name, values))
		}
	}

	s.df = s.df.Drop(s.columns...)
	for _, c := range s.columns {
		s.types.Remove(c)
	}
	for _, col := range added {
		if err := s.df.Set(col); err != nil {
			return err
		}
		s.types.SetNumeric(col.Name())
	}
	return nil
}

func (m *oneHotEncoding) checkRecorded(s *step) error {
	if err := s.checkRecordedColumns(len(m.Categories)); err != nil {
		return err
	}
	if len(m.DropIdx) != len(m.Categories) {
		return fmt.Errorf("recorded drop indices cover %d columns, categories cover %d", len(m.DropIdx), len(m.Categories))
	}
	for j, cats := range m.Categories {
		out := len(cats)
		if idx := m.DropIdx[j]; idx != nil {
			if *idx < 0 || *idx >= len(cats) {
				return fmt.Errorf("drop index %d out of range for column %q", *idx, s.columns[j])
			}
			out--
		}
		if m.NFeaturesOuts != nil && m.NFeaturesOuts[j] != out {
			return fmt.Errorf("recorded output count %d does not match %d for column %q", m.NFeaturesOuts[j], out, s.columns[j])
		}
	}
	return nil
}

// ordinalEncoding maps each category to its index in the sorted category list.
// Categories unseen at fit time encode as the unknown value.
type ordinalEncoding struct {
	Categories   [][]string `json:"categories_,omitempty"`
	UnknownValue *float64   `json:"unknown_value"`
}

func (m *ordinalEncoding) setDefaults() {
	if m.UnknownValue == nil {
		v := -1.0
		m.UnknownValue = &v
	}
}

func (m *ordinalEncoding) check(s *step) error { return s.encoderChecks(false) }

func (m *ordinalEncoding) apply(s *step) error {
	if m.Categories == nil {
		m.Categories = make([][]string, len(s.columns))
		for j, c := range s.columns {
			m.Categories[j] = sortedCategories(s.column(c))
		}
	} else if err := s.checkRecordedColumns(len(m.Categories)); err != nil {
		return err
	}

	for j, c := range s.columns {
		index := make(map[string]int, len(m.Categories[j]))
		for k, cat := range m.Categories[j] {
			index[cat] = k
		}
		strs, _ := s.column(c).Texts()
		values := make([]float64, len(strs))
		for i, v := range strs {
			if k, ok := index[v]; ok {
				values[i] = float64(k)
			} else {
				values[i] = *m.UnknownValue
			}
		}
		if err := s.df.Set(frame.NewFloat(c, values)); err != nil {
			return err
		}
		s.types.SetNumeric(c)
	}
	return nil
}

// sortedCategories returns distinct values, numerically ordered for numeric dtypes
func sortedCategories(col *frame.Series) []string {
	cats := col.Unique()
	if col.Kind() == frame.String {
		sort.Strings(cats)
		return cats
	}
	sort.SliceStable(cats, func(a, b int) bool {
		fa, _ := strconv.ParseFloat(cats[a], 64)
		fb, _ := strconv.ParseFloat(cats[b], 64)
		return fa < fb
	})
	return cats
}
