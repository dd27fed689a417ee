// Package selection runs feature-selection methods against one (features, target)
// pair and summarises their per-column verdicts side by side.
package selection

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/go-playground/validator/v10"
	"gonum.org/v1/gonum/mat"

	"github.com/aegisshield/ml-workbench/internal/apperrors"
	"github.com/aegisshield/ml-workbench/internal/models"
)

// Selector names
const (
	VarianceThreshold           = "variance_threshold"
	SelectKBest                 = "select_k_best"
	SelectPercentile            = "select_percentile"
	SelectFpr                   = "select_fpr"
	SelectFdr                   = "select_fdr"
	SelectFwe                   = "select_fwe"
	RecursiveFeatureElimination = "recursive_feature_elimination"
	SelectFromModel             = "select_from_model"
	SequentialForwardSelection  = "sequential_forward_selection"
	SequentialBackwardSelection = "sequential_backward_selection"
)

// Method is one requested selector run
type Method struct {
	MethodName string         `json:"method_name"`
	Params     map[string]any `json:"params"`
}

// Input is the feature matrix and target the selectors score
type Input struct {
	X       *mat.Dense
	Columns []string
	Task    models.TaskType
	// Labels and NClasses hold an encoded classification target
	Labels   []int
	NClasses int
	// Target holds a regression target
	Target []float64
}

// selector computes one value per column: support, rank or weight
type selector interface {
	run(in *Input) ([]any, error)
}

// registry builds selectors pre-filled with their defaults; decoding overwrites
// only the params a request names
var registry = map[string]func() selector{
	VarianceThreshold:           func() selector { return &varianceThreshold{} },
	SelectKBest:                 func() selector { return &selectKBest{K: 10} },
	SelectPercentile:            func() selector { return &selectPercentile{Percentile: 10} },
	SelectFpr:                   func() selector { return &selectAlpha{Alpha: 0.05, mode: SelectFpr} },
	SelectFdr:                   func() selector { return &selectAlpha{Alpha: 0.05, mode: SelectFdr} },
	SelectFwe:                   func() selector { return &selectAlpha{Alpha: 0.05, mode: SelectFwe} },
	RecursiveFeatureElimination: func() selector { return &recursiveElimination{Step: 1} },
	SelectFromModel:             func() selector { return &fromModel{Threshold: "mean"} },
	SequentialForwardSelection:  func() selector { return &sequential{CV: 5, forward: true} },
	SequentialBackwardSelection: func() selector { return &sequential{CV: 5} },
}

// Names returns every selector name, sorted
func Names() []string {
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Summariser validates and runs selectors
type Summariser struct {
	validate *validator.Validate
}

// NewSummariser creates a summariser
func NewSummariser() *Summariser {
	return &Summariser{validate: validator.New(validator.WithRequiredStructEnabled())}
}

// Validate checks every method name and params without running anything
func (s *Summariser) Validate(methods []Method) error {
	for _, m := range methods {
		if _, err := s.decode(m); err != nil {
			return err
		}
	}
	return nil
}

// EmptyReport is the summary with every method column present and no values
func EmptyReport(columns []string, methods []Method) *models.FeatureImportanceReport {
	keys := methodKeys(methods)
	report := &models.FeatureImportanceReport{Methods: keys, Rows: make([]models.FeatureImportanceRow, len(columns))}
	for i, col := range columns {
		values := make(map[string]any, len(keys))
		for _, k := range keys {
			values[k] = nil
		}
		report.Rows[i] = models.FeatureImportanceRow{Column: col, Values: values}
	}
	return report
}

// Summarise runs every method and assembles the per-column cross-method summary
func (s *Summariser) Summarise(in *Input, methods []Method) (*models.FeatureImportanceReport, error) {
	if in.Task != models.TaskClassification && in.Task != models.TaskRegression {
		return nil, apperrors.New(apperrors.UnknownTaskType, "feature selection supports classification and regression, got %q", in.Task)
	}
	report := EmptyReport(in.Columns, methods)
	for i, m := range methods {
		sel, err := s.decode(m)
		if err != nil {
			return nil, err
		}
		var values []any
		err = runSafely(func() error {
			var runErr error
			values, runErr = sel.run(in)
			return runErr
		})
		if err != nil {
			if _, typed := apperrors.As(err); typed {
				return nil, err
			}
			return nil, apperrors.Wrap(apperrors.SelectorProcessing, err, "selector %s failed", m.MethodName).
				With("method_name", m.MethodName)
		}
		key := report.Methods[i]
		for c := range report.Rows {
			report.Rows[c].Values[key] = values[c]
		}
	}
	return report, nil
}

func (s *Summariser) decode(m Method) (selector, error) {
	build, ok := registry[m.MethodName]
	if !ok {
		return nil, apperrors.New(apperrors.UnknownSelector, "unknown selector %q", m.MethodName).
			With("method_name", m.MethodName)
	}
	sel := build()
	params := m.Params
	if params == nil {
		params = map[string]any{}
	}
	raw, err := json.Marshal(params)
	if err == nil {
		dec := json.NewDecoder(bytes.NewReader(raw))
		dec.DisallowUnknownFields()
		err = dec.Decode(sel)
	}
	if err == nil {
		err = s.validate.Struct(sel)
	}
	if err == nil {
		if c, ok := sel.(interface{ check() error }); ok {
			err = c.check()
		}
	}
	if err != nil {
		return nil, apperrors.Wrap(apperrors.InvalidSelectorParams, err, "invalid params for selector %s", m.MethodName).
			With("method_name", m.MethodName)
	}
	return sel, nil
}

// methodKeys names the summary columns; a repeated method gets a numeric suffix
func methodKeys(methods []Method) []string {
	seen := make(map[string]int)
	keys := make([]string, len(methods))
	for i, m := range methods {
		seen[m.MethodName]++
		keys[i] = m.MethodName
		if n := seen[m.MethodName]; n > 1 {
			keys[i] = fmt.Sprintf("%s_%d", m.MethodName, n)
		}
	}
	return keys
}

func runSafely(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return fn()
}

func support(mask []bool) []any {
	out := make([]any, len(mask))
	for i, v := range mask {
		out[i] = v
	}
	return out
}
