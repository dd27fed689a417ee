// Package estimators holds the numerical models behind every task type.
//
// Models are plain structs with exported fitted state so a trained model can be
// persisted with encoding/gob inside a Bundle. Labels of classifiers are encoded to
// 0..k-1 before fitting; the Bundle keeps the decoder.
package estimators

import (
	"fmt"
	"math/rand/v2"
	"sort"

	"gonum.org/v1/gonum/mat"

	"github.com/aegisshield/ml-workbench/internal/models"
)

// Classifier predicts encoded class labels
type Classifier interface {
	Fit(x *mat.Dense, y []int, nClasses int) error
	Predict(x *mat.Dense) []int
}

// ProbaClassifier exposes class membership probabilities, one column per class
type ProbaClassifier interface {
	PredictProba(x *mat.Dense) *mat.Dense
}

// DecisionFunctioner exposes raw per-class scores
type DecisionFunctioner interface {
	DecisionFunction(x *mat.Dense) *mat.Dense
}

// Regressor predicts a continuous target
type Regressor interface {
	Fit(x *mat.Dense, y []float64) error
	Predict(x *mat.Dense) []float64
}

// Clusterer assigns cluster labels to the rows it is fitted on
type Clusterer interface {
	FitPredict(x *mat.Dense) ([]int, error)
}

// ClusterPredictor assigns fitted clusters to new rows
type ClusterPredictor interface {
	PredictCluster(x *mat.Dense) []int
}

// OutlierDetector labels the rows it is fitted on with 1 (inlier) or -1 (outlier)
type OutlierDetector interface {
	FitPredict(x *mat.Dense) ([]int, error)
}

// OutlierPredictor labels new rows against the fitted model
type OutlierPredictor interface {
	PredictOutlier(x *mat.Dense) []int
}

// Reducer projects the rows it is fitted on. y may be nil for unsupervised reducers.
type Reducer interface {
	FitTransform(x *mat.Dense, y []int) (*mat.Dense, error)
}

// Transformer projects new rows with a fitted reducer
type Transformer interface {
	Transform(x *mat.Dense) *mat.Dense
}

// VarianceExplainer reports the share of variance kept by each component
type VarianceExplainer interface {
	ExplainedVarianceRatio() []float64
}

// FeatureImportancer exposes impurity or gain based importances
type FeatureImportancer interface {
	FeatureImportances() []float64
}

// Coefficienter exposes linear weights, one row per class for multi-class models
type Coefficienter interface {
	Coefficients() [][]float64
}

// Builder constructs an unfitted model from validated params
type Builder func(p Params) any

var registry = map[models.TaskType]map[string]Builder{
	models.TaskClassification:          classifiers,
	models.TaskRegression:              regressors,
	models.TaskClustering:              clusterers,
	models.TaskOutlierDetection:        outlierDetectors,
	models.TaskDimensionalityReduction: reducers,
}

// New constructs an unfitted model of the given type
func New(task models.TaskType, modelType string, params map[string]any) (any, error) {
	byType, ok := registry[task]
	if !ok {
		return nil, fmt.Errorf("unknown task type %q", task)
	}
	build, ok := byType[modelType]
	if !ok {
		return nil, fmt.Errorf("unknown %s model type %q", task, modelType)
	}
	return build(Params(params)), nil
}

// Types lists the model types of a task, sorted
func Types(task models.TaskType) []string {
	byType := registry[task]
	out := make([]string, 0, len(byType))
	for name := range byType {
		if !stackingOnly[name] {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}

// Supports reports whether a task has a model type
func Supports(task models.TaskType, modelType string) bool {
	_, ok := registry[task][modelType]
	return ok && !stackingOnly[modelType]
}

// Params reads typed hyperparameters with fallbacks
type Params map[string]any

func (p Params) Float(key string, def float64) float64 {
	switch v := p[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	case int64:
		return float64(v)
	}
	return def
}

func (p Params) Int(key string, def int) int {
	switch v := p[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	case int64:
		return int(v)
	}
	return def
}

func (p Params) String(key, def string) string {
	if v, ok := p[key].(string); ok {
		return v
	}
	return def
}

func (p Params) Bool(key string, def bool) bool {
	if v, ok := p[key].(bool); ok {
		return v
	}
	return def
}

// Ints reads an integer list such as hidden layer sizes
func (p Params) Ints(key string, def []int) []int {
	raw, ok := p[key].([]any)
	if !ok {
		if ints, ok := p[key].([]int); ok {
			return ints
		}
		return def
	}
	out := make([]int, 0, len(raw))
	for _, v := range raw {
		switch n := v.(type) {
		case float64:
			out = append(out, int(n))
		case int:
			out = append(out, n)
		}
	}
	return out
}

// Floats reads a float list such as candidate penalties
func (p Params) Floats(key string, def []float64) []float64 {
	raw, ok := p[key].([]any)
	if !ok {
		if fs, ok := p[key].([]float64); ok {
			return fs
		}
		return def
	}
	out := make([]float64, 0, len(raw))
	for _, v := range raw {
		if f, ok := v.(float64); ok {
			out = append(out, f)
		}
	}
	if len(out) == 0 {
		return def
	}
	return out
}

// OptionalInt reads an integer that may be null, returning 0 when unset
func (p Params) OptionalInt(key string) int {
	return p.Int(key, 0)
}

func newRand(seed int) *rand.Rand {
	s := uint64(seed)
	return rand.New(rand.NewPCG(s, s^0x9e3779b97f4a7c15))
}

// LabelEncoder maps class labels to 0..k-1 in sorted order
type LabelEncoder struct {
	Classes []string
}

// FitLabels builds an encoder from the distinct labels
func FitLabels(labels []string) *LabelEncoder {
	seen := make(map[string]struct{})
	var classes []string
	for _, l := range labels {
		if _, ok := seen[l]; !ok {
			seen[l] = struct{}{}
			classes = append(classes, l)
		}
	}
	sortLabels(classes)
	return &LabelEncoder{Classes: classes}
}

// Encode maps labels to class indexes; unknown labels map to -1
func (e *LabelEncoder) Encode(labels []string) []int {
	index := make(map[string]int, len(e.Classes))
	for i, c := range e.Classes {
		index[c] = i
	}
	out := make([]int, len(labels))
	for i, l := range labels {
		if k, ok := index[l]; ok {
			out[i] = k
		} else {
			out[i] = -1
		}
	}
	return out
}

// Decode maps class indexes back to labels
func (e *LabelEncoder) Decode(codes []int) []string {
	out := make([]string, len(codes))
	for i, c := range codes {
		if c >= 0 && c < len(e.Classes) {
			out[i] = e.Classes[c]
		}
	}
	return out
}
