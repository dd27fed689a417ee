// Package methods applies recorded preprocessing methods to in-memory tables.
//
// Every method is a parameter struct decoded strictly from the step's params. Stateful
// methods fill their fitted fields on first application; a step whose fitted fields are
// already present replays them instead of refitting, so a recorded pipeline transforms a
// new table exactly as it transformed the original.
package methods

import (
	"bytes"
	"encoding/json"
	"fmt"
	"slices"
	"sort"

	"github.com/go-playground/validator/v10"

	"github.com/aegisshield/ml-workbench/internal/apperrors"
	"github.com/aegisshield/ml-workbench/internal/frame"
	"github.com/aegisshield/ml-workbench/internal/models"
)

// Method names
const (
	DropDuplicates        = "drop_duplicates"
	DropNA                = "drop_na"
	DropColumns           = "drop_columns"
	ChangeColumnsType     = "change_columns_type"
	FillMean              = "fill_mean"
	FillMedian            = "fill_median"
	FillMostFrequent      = "fill_most_frequent"
	FillBfill             = "fill_bfill"
	FillFfill             = "fill_ffill"
	FillInterpolation     = "fill_interpolation"
	FillCustomValue       = "fill_custom_value"
	FillLinearImputer     = "fill_linear_imputer"
	FillKNNImputer        = "fill_knn_imputer"
	LeaveNValuesEncoding  = "leave_n_values_encoding"
	OneHotEncoding        = "one_hot_encoding"
	OrdinalEncoding       = "ordinal_encoding"
	StandardScaler        = "standard_scaler"
	MinMaxScaler          = "min_max_scaler"
	RobustScaler          = "robust_scaler"
	DefaultCardinalityCap = 1000
)

// method is one parametrised transformation
type method interface {
	// check runs the per-method column checks before anything is mutated
	check(s *step) error
	// apply transforms s.df and s.types, filling any fitted state into the receiver
	apply(s *step) error
}

var registry = map[string]func() method{
	DropDuplicates:       func() method { return &dropDuplicates{} },
	DropNA:               func() method { return &dropNA{} },
	DropColumns:          func() method { return &dropColumns{} },
	ChangeColumnsType:    func() method { return &changeColumnsType{} },
	FillMean:             func() method { return &fillStatistic{kind: FillMean} },
	FillMedian:           func() method { return &fillStatistic{kind: FillMedian} },
	FillMostFrequent:     func() method { return &fillMostFrequent{} },
	FillBfill:            func() method { return &fillDirectional{backward: true} },
	FillFfill:            func() method { return &fillDirectional{} },
	FillInterpolation:    func() method { return &fillInterpolation{} },
	FillCustomValue:      func() method { return &fillCustomValue{} },
	FillLinearImputer:    func() method { return &fillLinearImputer{} },
	FillKNNImputer:       func() method { return &fillKNNImputer{} },
	LeaveNValuesEncoding: func() method { return &leaveNValuesEncoding{} },
	OneHotEncoding:       func() method { return &oneHotEncoding{} },
	OrdinalEncoding:      func() method { return &ordinalEncoding{} },
	StandardScaler:       func() method { return &standardScaler{} },
	MinMaxScaler:         func() method { return &minMaxScaler{} },
	RobustScaler:         func() method { return &robustScaler{} },
}

// Names returns every recognised method name, sorted
func Names() []string {
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Exists reports whether a method name is recognised
func Exists(name string) bool {
	_, ok := registry[name]
	return ok
}

// step carries the state one method application works on
type step struct {
	df               *frame.DataFrame
	types            *models.ColumnTypes
	target           string
	columns          []string
	cardinalityLimit int
}

// Applier applies method sequences to tables
type Applier struct {
	validate         *validator.Validate
	cardinalityLimit int
}

// NewApplier creates an applier; cardinalityLimit caps distinct values of categorical columns
func NewApplier(cardinalityLimit int) *Applier {
	if cardinalityLimit <= 0 {
		cardinalityLimit = DefaultCardinalityCap
	}
	return &Applier{
		validate:         validator.New(validator.WithRequiredStructEnabled()),
		cardinalityLimit: cardinalityLimit,
	}
}

// Result is the outcome of applying a method sequence
type Result struct {
	DataFrame *frame.DataFrame
	Types     models.ColumnTypes
	// Steps holds the applied steps with finalised params, ready to append to a pipeline
	Steps []models.ApplyMethodParams
}

// Apply runs steps in order against a copy of df. meta supplies column types and the
// target feature; neither df nor meta is modified. The first failing step aborts the run.
func (a *Applier) Apply(df *frame.DataFrame, meta *models.DataFrameMetadata, steps []models.ApplyMethodParams) (*Result, error) {
	if !df.SameColumnSet(meta.FeatureColumnsTypes.All()) {
		return nil, apperrors.New(apperrors.ColumnsNotEqual, "dataframe columns differ from metadata column types").
			With("dataframe_columns", df.Columns()).
			With("metadata_columns", meta.FeatureColumnsTypes.All())
	}

	target := ""
	if meta.TargetFeature != nil {
		target = *meta.TargetFeature
	}
	types := meta.FeatureColumnsTypes.Clone()
	s := &step{
		df:               df.Clone(),
		types:            &types,
		target:           target,
		cardinalityLimit: a.cardinalityLimit,
	}

	applied := make([]models.ApplyMethodParams, 0, len(steps))
	for i, p := range steps {
		recorded, err := a.applyOne(s, p)
		if err != nil {
			if e, ok := apperrors.As(err); ok {
				e.With("step", i).With("method_name", p.MethodName)
			}
			return nil, err
		}
		applied = append(applied, recorded)
		if s.target != "" && !s.types.Contains(s.target) {
			return nil, apperrors.New(apperrors.TargetNotInColumnTypes, "target feature %q missing from column types", s.target)
		}
	}

	return &Result{DataFrame: s.df, Types: *s.types, Steps: applied}, nil
}

// Replay applies a recorded pipeline to a table it was not recorded on. Columns the
// pipeline feeds to a categorical encoder are read as categorical first, since values
// such as 1 and 2 parse as numbers when the table lacks the non-numeric categories.
func (a *Applier) Replay(df *frame.DataFrame, meta *models.DataFrameMetadata, steps []models.ApplyMethodParams) (*Result, error) {
	coerce := encodedColumns(steps)
	if len(coerce) == 0 {
		return a.Apply(df, meta, steps)
	}

	df = df.Clone()
	types := meta.FeatureColumnsTypes.Clone()
	for _, name := range coerce {
		col, ok := df.Column(name)
		if !ok || !types.IsNumeric(name) {
			continue
		}
		if err := df.Set(col.ToCategorical()); err != nil {
			return nil, err
		}
		types.SetCategorical(name)
	}
	adjusted := *meta
	adjusted.FeatureColumnsTypes = types
	return a.Apply(df, &adjusted, steps)
}

// encodedColumns lists columns a categorical encoder reads before any explicit type change
func encodedColumns(steps []models.ApplyMethodParams) []string {
	retyped := map[string]bool{}
	var out []string
	for _, p := range steps {
		for _, c := range p.Columns {
			switch {
			case retyped[c]:
			case p.MethodName == ChangeColumnsType:
				retyped[c] = true
			case p.MethodName == OneHotEncoding, p.MethodName == OrdinalEncoding, p.MethodName == LeaveNValuesEncoding:
				if !slices.Contains(out, c) {
					out = append(out, c)
				}
			}
		}
	}
	return out
}

func (a *Applier) applyOne(s *step, p models.ApplyMethodParams) (models.ApplyMethodParams, error) {
	factory, ok := registry[p.MethodName]
	if !ok {
		return models.ApplyMethodParams{}, apperrors.New(apperrors.ApplyingMethodNotExists, "method %q does not exist", p.MethodName)
	}

	m := factory()
	if err := a.decode(p.Params, m); err != nil {
		return models.ApplyMethodParams{}, apperrors.Wrap(apperrors.InvalidMethodParams, err, "invalid params for method %s", p.MethodName)
	}

	for _, col := range p.Columns {
		if !s.types.Contains(col) {
			return models.ApplyMethodParams{}, apperrors.New(apperrors.ColumnNotFoundInMetadata, "column %q not found in metadata", col).
				With("column", col)
		}
		if !s.df.Has(col) {
			return models.ApplyMethodParams{}, apperrors.New(apperrors.ColumnNotFoundInDataFrame, "column %q not found in dataframe", col).
				With("column", col)
		}
	}
	s.columns = dedupe(p.Columns)

	if err := m.check(s); err != nil {
		return models.ApplyMethodParams{}, err
	}

	// Work on copies so a failed method leaves the step state untouched
	df, types := s.df, *s.types
	s.df = df.Clone()
	typesCopy := types.Clone()
	s.types = &typesCopy

	if err := runSafely(func() error { return m.apply(s) }); err != nil {
		s.df = df
		s.types = &types
		if _, ok := apperrors.As(err); ok {
			return models.ApplyMethodParams{}, err
		}
		return models.ApplyMethodParams{}, apperrors.Wrap(apperrors.ApplyingMethod, err, "method %s failed: %v", p.MethodName, err)
	}

	params, err := encode(m)
	if err != nil {
		return models.ApplyMethodParams{}, apperrors.Wrap(apperrors.ApplyingMethod, err, "method %s produced unrecordable state", p.MethodName)
	}

	return models.ApplyMethodParams{
		MethodName: p.MethodName,
		Columns:    append([]string{}, s.columns...),
		Params:     params,
	}, nil
}

// decode strictly parses params into the method struct and validates it
func (a *Applier) decode(params map[string]any, m method) error {
	if params == nil {
		params = map[string]any{}
	}
	raw, err := json.Marshal(params)
	if err != nil {
		return err
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(m); err != nil {
		return err
	}
	if d, ok := m.(interface{ setDefaults() }); ok {
		d.setDefaults()
	}
	return a.validate.Struct(m)
}

func encode(m method) (map[string]any, error) {
	raw, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	out := map[string]any{}
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func runSafely(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return fn()
}

func dedupe(cols []string) []string {
	out := make([]string, 0, len(cols))
	for _, c := range cols {
		if !slices.Contains(out, c) {
			out = append(out, c)
		}
	}
	return out
}

// shared checks

func (s *step) requireColumns() error {
	if len(s.columns) == 0 {
		return apperrors.New(apperrors.InvalidMethodParams, "method requires at least one column")
	}
	return nil
}

func (s *step) rejectTarget() error {
	if s.target != "" && slices.Contains(s.columns, s.target) {
		return apperrors.New(apperrors.TargetFeatureInColumns, "target feature %q cannot be used by this method", s.target).
			With("column", s.target)
	}
	return nil
}

func (s *step) requireNumeric() error {
	for _, c := range s.columns {
		if !s.types.IsNumeric(c) {
			return apperrors.New(apperrors.WrongColumnType, "column %q is not numeric", c).With("column", c)
		}
	}
	return nil
}

func (s *step) requireCategorical() error {
	for _, c := range s.columns {
		if !s.types.IsCategorical(c) {
			return apperrors.New(apperrors.WrongColumnType, "column %q is not categorical", c).With("column", c)
		}
	}
	return nil
}

func (s *step) rejectNaN() error {
	for _, c := range s.columns {
		col, _ := s.df.Column(c)
		if col.HasNA() {
			return apperrors.New(apperrors.NaNInColumns, "column %q contains missing values", c).With("column", c)
		}
	}
	return nil
}

// encoderChecks are shared by encoders and scalers
func (s *step) encoderChecks(numeric bool) error {
	if err := s.requireColumns(); err != nil {
		return err
	}
	if err := s.rejectTarget(); err != nil {
		return err
	}
	if numeric {
		if err := s.requireNumeric(); err != nil {
			return err
		}
	} else if err := s.requireCategorical(); err != nil {
		return err
	}
	return s.rejectNaN()
}

func (s *step) column(name string) *frame.Series {
	col, _ := s.df.Column(name)
	return col
}

// numericValues returns a column's values as floats, converting object columns
func (s *step) numericValues(name string) ([]float64, error) {
	col := s.column(name)
	if col.IsNumeric() || col.Kind() == frame.Bool {
		return append([]float64(nil), col.Floats()...), nil
	}
	num, err := col.ToNumeric()
	if err != nil {
		return nil, err
	}
	return append([]float64(nil), num.Floats()...), nil
}

func (s *step) checkRecordedColumns(recorded int) error {
	if recorded != len(s.columns) {
		return fmt.Errorf("recorded state covers %d columns, step has %d", recorded, len(s.columns))
	}
	return nil
}
