package estimators

import (
	"errors"
	"fmt"
	"slices"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"github.com/aegisshield/ml-workbench/internal/models"
)

// Composition types
const (
	VotingClassifierType   = "voting_classifier"
	VotingRegressorType    = "voting_regressor"
	StackingClassifierType = "stacking_classifier"
	StackingRegressorType  = "stacking_regressor"
)

// CompositionTypes lists the composition types, sorted
var CompositionTypes = []string{
	StackingClassifierType,
	StackingRegressorType,
	VotingClassifierType,
	VotingRegressorType,
}

// CompositionTask returns the member task a composition type combines
func CompositionTask(kind string) (models.TaskType, bool) {
	switch kind {
	case VotingClassifierType, StackingClassifierType:
		return models.TaskClassification, true
	case VotingRegressorType, StackingRegressorType:
		return models.TaskRegression, true
	}
	return "", false
}

var (
	stackingClassifierFinals = []string{"logistic_regression", "random_forest_classifier", "gradient_boosting_classifier"}
	stackingRegressorFinals  = []string{"ridge_cv", "random_forest_regressor", "gradient_boosting_regressor"}
)

// FinalEstimators lists the meta-estimators a stacking type accepts
func FinalEstimators(kind string) []string {
	switch kind {
	case StackingClassifierType:
		return stackingClassifierFinals
	case StackingRegressorType:
		return stackingRegressorFinals
	}
	return nil
}

// Member is a fitted model inside a composition. Classes holds the member's own
// label decoder for classifiers.
type Member struct {
	Model   any
	Classes []string
}

// NewComposition assembles prefit members. classes is the label set the
// composition predicts in; members are aligned to it.
func NewComposition(kind string, members []Member, params map[string]any, classes []string) (any, error) {
	if len(members) < 2 {
		return nil, errors.New("a composition needs at least two models")
	}
	p := Params(params)
	switch kind {
	case VotingClassifierType:
		voting := p.String("voting", "hard")
		if voting != "hard" && voting != "soft" {
			return nil, fmt.Errorf("voting must be hard or soft, got %q", voting)
		}
		if voting == "soft" {
			for i, m := range members {
				if !HasProba(m.Model) {
					return nil, fmt.Errorf("member %d does not expose probabilities required by soft voting", i)
				}
			}
		}
		return &VotingClassifier{Members: members, Soft: voting == "soft", Classes: classes}, nil
	case VotingRegressorType:
		return &VotingRegressor{Members: members}, nil
	case StackingClassifierType, StackingRegressorType:
		final := p.String("final_estimator", FinalEstimators(kind)[0])
		if !slices.Contains(FinalEstimators(kind), final) {
			return nil, fmt.Errorf("unsupported final estimator %q for %s", final, kind)
		}
		finalParams, _ := params["final_estimator_params"].(map[string]any)
		task, _ := CompositionTask(kind)
		est, err := New(task, final, finalParams)
		if err != nil {
			return nil, err
		}
		if kind == StackingClassifierType {
			return &StackingClassifier{Members: members, Classes: classes, Final: est}, nil
		}
		return &StackingRegressor{Members: members, Final: est}, nil
	}
	return nil, fmt.Errorf("unknown composition type %q", kind)
}

// HasProba reports whether a model produces usable class probabilities
func HasProba(model any) bool {
	if _, ok := model.(ProbaClassifier); !ok {
		return false
	}
	if h, ok := model.(interface{ HasProba() bool }); ok {
		return h.HasProba()
	}
	return true
}

// Scores returns per-class scores of a fitted classifier: probabilities when the
// model has them, else its decision function, else nil. kind names the source.
func Scores(model any, x *mat.Dense) (scores *mat.Dense, kind string) {
	if HasProba(model) {
		return model.(ProbaClassifier).PredictProba(x), "predict_proba"
	}
	if d, ok := model.(DecisionFunctioner); ok {
		return d.DecisionFunction(x), "decision_function"
	}
	return nil, "none"
}

// alignedProba returns member probabilities over the composition classes;
// members without probabilities contribute one-hot votes.
func alignedProba(m Member, x *mat.Dense, classes []string) *mat.Dense {
	r, _ := x.Dims()
	out := mat.NewDense(r, max(len(classes), 2), nil)
	index := make(map[string]int, len(classes))
	for i, c := range classes {
		index[c] = i
	}
	if HasProba(m.Model) {
		proba := m.Model.(ProbaClassifier).PredictProba(x)
		_, k := proba.Dims()
		for j := 0; j < min(k, len(m.Classes)); j++ {
			g, ok := index[m.Classes[j]]
			if !ok {
				continue
			}
			for i := 0; i < r; i++ {
				out.Set(i, g, proba.At(i, j))
			}
		}
		return out
	}
	pred := m.Model.(Classifier).Predict(x)
	for i, p := range pred {
		if p >= 0 && p < len(m.Classes) {
			if g, ok := index[m.Classes[p]]; ok {
				out.Set(i, g, 1)
			}
		}
	}
	return out
}

// VotingClassifier combines prefit classifiers by majority (hard) or mean probability (soft)
type VotingClassifier struct {
	Members  []Member
	Soft     bool
	Classes  []string
	NClasses int
}

// Fit records the class count; members stay as fitted
func (m *VotingClassifier) Fit(_ *mat.Dense, _ []int, nClasses int) error {
	m.NClasses = nClasses
	return nil
}

func (m *VotingClassifier) PredictProba(x *mat.Dense) *mat.Dense {
	r, _ := x.Dims()
	out := mat.NewDense(r, max(len(m.Classes), 2), nil)
	for _, mem := range m.Members {
		p := alignedProba(mem, x, m.Classes)
		if !m.Soft {
			p = probaFromVotes(argmaxRows(p), max(len(m.Classes), 2))
		}
		out.Add(out, p)
	}
	out.Scale(1/float64(len(m.Members)), out)
	return out
}

func (m *VotingClassifier) HasProba() bool { return m.Soft }

func (m *VotingClassifier) Predict(x *mat.Dense) []int { return argmaxRows(m.PredictProba(x)) }

// VotingRegressor averages prefit regressors
type VotingRegressor struct {
	Members []Member
}

func (m *VotingRegressor) Fit(_ *mat.Dense, _ []float64) error { return nil }

func (m *VotingRegressor) Predict(x *mat.Dense) []float64 {
	r, _ := x.Dims()
	out := make([]float64, r)
	for _, mem := range m.Members {
		floats.Add(out, mem.Model.(Regressor).Predict(x))
	}
	floats.Scale(1/float64(len(m.Members)), out)
	return out
}

// StackingClassifier feeds member probabilities to a final classifier. Binary
// members contribute only the positive class column.
type StackingClassifier struct {
	Members  []Member
	Classes  []string
	Final    any
	NClasses int
}

func (m *StackingClassifier) stack(x *mat.Dense) *mat.Dense {
	r, _ := x.Dims()
	var blocks []*mat.Dense
	width := 0
	for _, mem := range m.Members {
		p := alignedProba(mem, x, m.Classes)
		if len(m.Classes) <= 2 {
			p = mat.NewDense(r, 1, mat.Col(nil, 1, p))
		}
		_, c := p.Dims()
		width += c
		blocks = append(blocks, p)
	}
	out := mat.NewDense(r, width, nil)
	at := 0
	for _, b := range blocks {
		_, c := b.Dims()
		out.Slice(0, r, at, at+c).(*mat.Dense).Copy(b)
		at += c
	}
	return out
}

// Fit refits only the final estimator on member outputs
func (m *StackingClassifier) Fit(x *mat.Dense, y []int, nClasses int) error {
	m.NClasses = nClasses
	return m.Final.(Classifier).Fit(m.stack(x), y, nClasses)
}

func (m *StackingClassifier) PredictProba(x *mat.Dense) *mat.Dense {
	meta := m.stack(x)
	if HasProba(m.Final) {
		return m.Final.(ProbaClassifier).PredictProba(meta)
	}
	return probaFromVotes(m.Final.(Classifier).Predict(meta), max(m.NClasses, 2))
}

func (m *StackingClassifier) HasProba() bool { return HasProba(m.Final) }

func (m *StackingClassifier) Predict(x *mat.Dense) []int {
	return m.Final.(Classifier).Predict(m.stack(x))
}

// StackingRegressor feeds member predictions to a final regressor
type StackingRegressor struct {
	Members []Member
	Final   any
}

func (m *StackingRegressor) stack(x *mat.Dense) *mat.Dense {
	r, _ := x.Dims()
	out := mat.NewDense(r, len(m.Members), nil)
	for j, mem := range m.Members {
		out.SetCol(j, mem.Model.(Regressor).Predict(x))
	}
	return out
}

func (m *StackingRegressor) Fit(x *mat.Dense, y []float64) error {
	return m.Final.(Regressor).Fit(m.stack(x), y)
}

func (m *StackingRegressor) Predict(x *mat.Dense) []float64 {
	return m.Final.(Regressor).Predict(m.stack(x))
}
