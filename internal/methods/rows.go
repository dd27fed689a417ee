package methods

import (
	"github.com/aegisshield/ml-workbench/internal/apperrors"
)

// dropDuplicates removes repeated rows, keeping the first occurrence.
// With no columns every column takes part in the comparison.
type dropDuplicates struct{}

func (m *dropDuplicates) check(s *step) error { return nil }

func (m *dropDuplicates) apply(s *step) error {
	subset := s.columns
	if len(subset) == 0 {
		subset = s.df.Columns()
	}
	seen := make(map[string]struct{}, s.df.NRows())
	keep := make([]int, 0, s.df.NRows())
	for i := 0; i < s.df.NRows(); i++ {
		key := s.df.RowKey(i, subset)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		keep = append(keep, i)
	}
	s.df = s.df.Take(keep)
	return nil
}

// dropNA removes rows with a missing value in any of the columns
type dropNA struct{}

func (m *dropNA) check(s *step) error { return nil }

func (m *dropNA) apply(s *step) error {
	subset := s.columns
	if len(subset) == 0 {
		subset = s.df.Columns()
	}
	keep := make([]int, 0, s.df.NRows())
rows:
	for i := 0; i < s.df.NRows(); i++ {
		for _, c := range subset {
			if s.column(c).IsNA(i) {
				continue rows
			}
		}
		keep = append(keep, i)
	}
	s.df = s.df.Take(keep)
	return nil
}

type dropColumns struct{}

func (m *dropColumns) check(s *step) error {
	if err := s.requireColumns(); err != nil {
		return err
	}
	return s.rejectTarget()
}

func (m *dropColumns) apply(s *step) error {
	s.df = s.df.Drop(s.columns...)
	for _, c := range s.columns {
		s.types.Remove(c)
	}
	return nil
}

// changeColumnsType moves columns between the numeric and categorical lists
type changeColumnsType struct {
	NewType string `json:"new_type" validate:"required,oneof=numeric categorical"`
}

func (m *changeColumnsType) check(s *step) error {
	return s.requireColumns()
}

func (m *changeColumnsType) apply(s *step) error {
	for _, c := range s.columns {
		col := s.column(c)
		if m.NewType == "categorical" {
			converted := col.ToCategorical()
			if n := converted.NUnique(); n > s.cardinalityLimit {
				return apperrors.New(apperrors.TooManyCategories,
					"column %q would have %d categories, the limit is %d", c, n, s.cardinalityLimit).
					With("column", c).With("categories", n)
			}
			if err := s.df.Set(converted); err != nil {
				return err
			}
			s.types.SetCategorical(c)
			continue
		}

		converted, err := col.ToNumeric()
		if err != nil {
			return err
		}
		if err := s.df.Set(converted); err != nil {
			return err
		}
		s.types.SetNumeric(c)
	}
	return nil
}
