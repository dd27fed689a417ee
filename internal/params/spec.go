// Package params holds the declarative hyperparameter schema of every model type
// and validates default, custom and searched parameter dicts against it.
package params

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/aegisshield/ml-workbench/internal/apperrors"
)

// Kind is the value type of a parameter
type Kind string

const (
	KindInt    Kind = "int"
	KindFloat  Kind = "float"
	KindString Kind = "string"
	KindBool   Kind = "bool"
	// KindInts is a list of positive integers such as hidden layer sizes
	KindInts Kind = "int_list"
	// KindFloats is a list of positive floats such as candidate penalties
	KindFloats Kind = "float_list"
	// KindFloatOrString accepts a number within bounds or one of the choices
	KindFloatOrString Kind = "float_or_string"
)

// DistributionType names a search distribution
type DistributionType string

const (
	Uniform    DistributionType = "uniform"
	QUniform   DistributionType = "quniform"
	LogUniform DistributionType = "loguniform"
	Choice     DistributionType = "choice"
)

// Distribution is the prior a hyperparameter search samples from
type Distribution struct {
	Type    DistributionType `json:"type"`
	Low     float64          `json:"low,omitempty"`
	High    float64          `json:"high,omitempty"`
	Q       float64          `json:"q,omitempty"`
	Options []any            `json:"options,omitempty"`
}

// ParamSpec declares one hyperparameter
type ParamSpec struct {
	Name     string        `json:"name"`
	Kind     Kind          `json:"kind"`
	Default  any           `json:"default"`
	Nullable bool          `json:"nullable,omitempty"`
	Min      *float64      `json:"min,omitempty"`
	Max      *float64      `json:"max,omitempty"`
	// MinExclusive makes Min a strict lower bound
	MinExclusive bool          `json:"min_exclusive,omitempty"`
	Choices      []string      `json:"choices,omitempty"`
	Search       *Distribution `json:"search,omitempty"`
}

// Schema is the ordered parameter list of one model type
type Schema []ParamSpec

// SearchSpace returns the parameters that carry a search distribution
func (s Schema) SearchSpace() []ParamSpec {
	var out []ParamSpec
	for _, p := range s {
		if p.Search != nil {
			out = append(out, p)
		}
	}
	return out
}

// Defaults returns every parameter at its default
func (s Schema) Defaults() map[string]any {
	out := make(map[string]any, len(s))
	for _, p := range s {
		out[p.Name] = p.Default
	}
	return out
}

// Validate checks supplied values against the schema and fills defaults for the
// rest. Unknown keys are rejected. The result holds only primitives and lists of
// primitives.
func (s Schema) Validate(values map[string]any) (map[string]any, error) {
	known := make(map[string]bool, len(s))
	for _, p := range s {
		known[p.Name] = true
	}
	var unknown []string
	for k := range values {
		if !known[k] {
			unknown = append(unknown, k)
		}
	}
	if len(unknown) > 0 {
		sort.Strings(unknown)
		return nil, fmt.Errorf("unknown parameters: %s", strings.Join(unknown, ", "))
	}

	out := make(map[string]any, len(s))
	for _, p := range s {
		v, ok := values[p.Name]
		if !ok {
			out[p.Name] = p.Default
			continue
		}
		clean, err := p.check(v)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", p.Name, err)
		}
		out[p.Name] = clean
	}
	return out, nil
}

func (p ParamSpec) check(v any) (any, error) {
	if v == nil {
		if p.Nullable {
			return nil, nil
		}
		return nil, fmt.Errorf("must not be null")
	}
	switch p.Kind {
	case KindInt:
		n, ok := asNumber(v)
		if !ok || n != math.Trunc(n) {
			return nil, fmt.Errorf("must be an integer, got %v", v)
		}
		if err := p.bounds(n); err != nil {
			return nil, err
		}
		return int(n), nil
	case KindFloat:
		n, ok := asNumber(v)
		if !ok {
			return nil, fmt.Errorf("must be a number, got %v", v)
		}
		if err := p.bounds(n); err != nil {
			return nil, err
		}
		return n, nil
	case KindBool:
		b, ok := v.(bool)
		if !ok {
			return nil, fmt.Errorf("must be a boolean, got %v", v)
		}
		return b, nil
	case KindString:
		str, ok := v.(string)
		if !ok {
			return nil, fmt.Errorf("must be a string, got %v", v)
		}
		return str, p.choice(str)
	case KindFloatOrString:
		if str, ok := v.(string); ok {
			return str, p.choice(str)
		}
		n, ok := asNumber(v)
		if !ok {
			return nil, fmt.Errorf("must be a number or one of %v, got %v", p.Choices, v)
		}
		return n, p.bounds(n)
	case KindInts, KindFloats:
		return p.list(v)
	}
	return nil, fmt.Errorf("unsupported parameter kind %q", p.Kind)
}

func (p ParamSpec) list(v any) (any, error) {
	var raw []any
	switch l := v.(type) {
	case []any:
		raw = l
	case []int:
		for _, n := range l {
			raw = append(raw, n)
		}
	case []float64:
		for _, n := range l {
			raw = append(raw, n)
		}
	default:
		return nil, fmt.Errorf("must be a list, got %v", v)
	}
	if len(raw) == 0 {
		return nil, fmt.Errorf("must not be empty")
	}
	out := make([]any, len(raw))
	for i, item := range raw {
		n, ok := asNumber(item)
		if !ok || n <= 0 {
			return nil, fmt.Errorf("item %d must be a positive number, got %v", i, item)
		}
		if p.Kind == KindInts {
			if n != math.Trunc(n) {
				return nil, fmt.Errorf("item %d must be an integer, got %v", i, item)
			}
			out[i] = int(n)
			continue
		}
		out[i] = n
	}
	return out, nil
}

func (p ParamSpec) bounds(n float64) error {
	if math.IsNaN(n) || math.IsInf(n, 0) {
		return fmt.Errorf("must be finite")
	}
	if p.Min != nil {
		if p.MinExclusive && n <= *p.Min {
			return fmt.Errorf("must be greater than %g, got %g", *p.Min, n)
		}
		if !p.MinExclusive && n < *p.Min {
			return fmt.Errorf("must be at least %g, got %g", *p.Min, n)
		}
	}
	if p.Max != nil && n > *p.Max {
		return fmt.Errorf("must be at most %g, got %g", *p.Max, n)
	}
	return nil
}

func (p ParamSpec) choice(s string) error {
	if len(p.Choices) == 0 {
		return nil
	}
	for _, c := range p.Choices {
		if c == s {
			return nil
		}
	}
	return fmt.Errorf("must be one of %v, got %q", p.Choices, s)
}

func asNumber(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case int32:
		return float64(n), true
	}
	return 0, false
}

// validation wraps a schema failure as a client error
func validation(modelType string, err error) error {
	return apperrors.Wrap(apperrors.ModelParamsValidation, err, "invalid params for %s", modelType).
		With("model_type", modelType)
}
