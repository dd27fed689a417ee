package selection

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"

	"github.com/aegisshield/ml-workbench/internal/estimators"
	"github.com/aegisshield/ml-workbench/internal/models"
)

// Base estimators available to model-driven selectors
const (
	LinearRegression       = "linear_regression"
	LogisticRegression     = "logistic_regression"
	RandomForestRegressor  = "random_forest_regressor"
	RandomForestClassifier = "random_forest_classifier"
)

type varianceThreshold struct {
	Threshold float64 `json:"threshold" validate:"gte=0"`
}

func (s *varianceThreshold) run(in *Input) ([]any, error) {
	n, c := in.X.Dims()
	mask := make([]bool, c)
	col := make([]float64, n)
	kept := 0
	for j := 0; j < c; j++ {
		mat.Col(col, j, in.X)
		_, v := stat.PopMeanVariance(col, nil)
		mask[j] = v > s.Threshold
		if mask[j] {
			kept++
		}
	}
	if kept == 0 {
		return nil, fmt.Errorf("no feature meets the variance threshold %g", s.Threshold)
	}
	return support(mask), nil
}

type selectKBest struct {
	K int `json:"k" validate:"gte=0"`
}

func (s *selectKBest) run(in *Input) ([]any, error) {
	scores, _ := scoreFunc(in)
	return support(topK(scores, min(s.K, len(scores)))), nil
}

type selectPercentile struct {
	Percentile float64 `json:"percentile" validate:"gte=0,lte=100"`
}

func (s *selectPercentile) run(in *Input) ([]any, error) {
	scores, _ := scoreFunc(in)
	k := int(math.Floor(float64(len(scores)) * s.Percentile / 100))
	return support(topK(scores, k)), nil
}

// selectAlpha keeps features by p-value: below alpha (fpr), under the
// Benjamini-Hochberg line (fdr) or below alpha/n (fwe)
type selectAlpha struct {
	Alpha float64 `json:"alpha" validate:"gt=0,lte=1"`
	mode  string
}

func (s *selectAlpha) run(in *Input) ([]any, error) {
	_, p := scoreFunc(in)
	n := float64(len(p))
	mask := make([]bool, len(p))
	switch s.mode {
	case SelectFpr:
		for i, v := range p {
			mask[i] = v < s.Alpha
		}
	case SelectFwe:
		for i, v := range p {
			mask[i] = v < s.Alpha/n
		}
	case SelectFdr:
		sorted := append([]float64(nil), p...)
		sort.Float64s(sorted)
		cut := math.Inf(-1)
		for i, v := range sorted {
			if v <= s.Alpha*float64(i+1)/n {
				cut = v
			}
		}
		for i, v := range p {
			mask[i] = v <= cut
		}
	}
	return support(mask), nil
}

type recursiveElimination struct {
	Estimator         string  `json:"estimator" validate:"omitempty,oneof=linear_regression logistic_regression random_forest_regressor random_forest_classifier"`
	NFeaturesToSelect *int    `json:"n_features_to_select" validate:"omitempty,gte=1"`
	Step              float64 `json:"step" validate:"gt=0"`
}

// run ranks features 1 for the selected set, 2 for the last eliminated, and so on
func (s *recursiveElimination) run(in *Input) ([]any, error) {
	_, c := in.X.Dims()
	target := max(1, c/2)
	if s.NFeaturesToSelect != nil {
		target = min(*s.NFeaturesToSelect, c)
	}
	step := int(s.Step)
	if s.Step < 1 {
		step = max(1, int(s.Step*float64(c)))
	}

	ranking := make([]int, c)
	for i := range ranking {
		ranking[i] = 1
	}
	active := allColumns(c)
	for len(active) > target {
		est, err := baseEstimator(s.Estimator, in)
		if err != nil {
			return nil, err
		}
		if err := fit(est, columns(in.X, active), in); err != nil {
			return nil, err
		}
		imp, err := importances(est, true)
		if err != nil {
			return nil, err
		}
		order := make([]int, len(active))
		for i := range order {
			order[i] = i
		}
		sort.SliceStable(order, func(a, b int) bool { return imp[order[a]] < imp[order[b]] })
		drop := make(map[int]bool)
		for _, i := range order[:min(step, len(active)-target)] {
			drop[active[i]] = true
		}
		kept := active[:0:0]
		for _, col := range active {
			if !drop[col] {
				kept = append(kept, col)
			}
		}
		active = kept
		inActive := make(map[int]bool, len(active))
		for _, col := range active {
			inActive[col] = true
		}
		for col := range ranking {
			if !inActive[col] {
				ranking[col]++
			}
		}
	}
	out := make([]any, c)
	for i, r := range ranking {
		out[i] = r
	}
	return out, nil
}

// fromModel reports each kept feature's importance weight and false for the rest
type fromModel struct {
	Estimator   string `json:"estimator" validate:"omitempty,oneof=linear_regression logistic_regression random_forest_regressor random_forest_classifier"`
	Threshold   any    `json:"threshold"`
	MaxFeatures *int   `json:"max_features" validate:"omitempty,gte=0"`
}

func (s *fromModel) check() error {
	_, err := parseThreshold(s.Threshold, []float64{1})
	return err
}

func (s *fromModel) run(in *Input) ([]any, error) {
	est, err := baseEstimator(s.Estimator, in)
	if err != nil {
		return nil, err
	}
	if err := fit(est, in.X, in); err != nil {
		return nil, err
	}
	imp, err := importances(est, false)
	if err != nil {
		return nil, err
	}
	threshold, err := parseThreshold(s.Threshold, imp)
	if err != nil {
		return nil, err
	}
	mask := make([]bool, len(imp))
	for i, v := range imp {
		mask[i] = v >= threshold
	}
	if s.MaxFeatures != nil {
		top := topK(imp, min(*s.MaxFeatures, len(imp)))
		for i := range mask {
			mask[i] = mask[i] && top[i]
		}
	}
	out := make([]any, len(imp))
	for i, v := range imp {
		if mask[i] {
			out[i] = v
		} else {
			out[i] = false
		}
	}
	return out, nil
}

// parseThreshold accepts a number, "mean", "median" or "<scale>*mean|median"
func parseThreshold(raw any, imp []float64) (float64, error) {
	switch v := raw.(type) {
	case nil:
		return stat.Mean(imp, nil), nil
	case float64:
		return v, nil
	case string:
		scale := 1.0
		ref := strings.TrimSpace(v)
		if head, tail, ok := strings.Cut(ref, "*"); ok {
			f, err := strconv.ParseFloat(strings.TrimSpace(head), 64)
			if err != nil {
				return 0, fmt.Errorf("invalid threshold scale %q", head)
			}
			scale, ref = f, strings.TrimSpace(tail)
		}
		switch ref {
		case "mean":
			return scale * stat.Mean(imp, nil), nil
		case "median":
			sorted := append([]float64(nil), imp...)
			sort.Float64s(sorted)
			return scale * stat.Quantile(0.5, stat.Empirical, sorted, nil), nil
		}
		return 0, fmt.Errorf("threshold must be a number, mean or median, got %q", v)
	}
	return 0, fmt.Errorf("threshold must be a number or string, got %T", raw)
}

// sequential greedily adds (forward) or removes (backward) the feature whose
// change gives the best cross-validated score
type sequential struct {
	Estimator         string `json:"estimator" validate:"omitempty,oneof=linear_regression logistic_regression random_forest_regressor random_forest_classifier"`
	NFeaturesToSelect *int   `json:"n_features_to_select" validate:"omitempty,gte=1"`
	CV                int    `json:"cv" validate:"gte=2"`
	forward           bool
}

func (s *sequential) run(in *Input) ([]any, error) {
	n, c := in.X.Dims()
	target := max(1, c/2)
	if s.NFeaturesToSelect != nil {
		target = *s.NFeaturesToSelect
	}
	if target >= c {
		return nil, fmt.Errorf("n_features_to_select must be less than the number of features (%d)", c)
	}
	folds, err := cvFolds(in, min(s.CV, n))
	if err != nil {
		return nil, err
	}

	selected := make([]bool, c)
	if !s.forward {
		for i := range selected {
			selected[i] = true
		}
	}
	steps := target
	if !s.forward {
		steps = c - target
	}
	for step := 0; step < steps; step++ {
		best, bestScore := -1, math.Inf(-1)
		for cand := 0; cand < c; cand++ {
			if selected[cand] != !s.forward {
				continue
			}
			selected[cand] = !selected[cand]
			score, err := crossValidate(s.Estimator, in, selectedColumns(selected), folds)
			selected[cand] = !selected[cand]
			if err != nil {
				return nil, err
			}
			if score > bestScore {
				best, bestScore = cand, score
			}
		}
		if best < 0 {
			return nil, errors.New("no candidate feature could be scored")
		}
		selected[best] = !selected[best]
	}
	return support(selected), nil
}

// scoreFunc is f_classif for classification and f_regression otherwise
func scoreFunc(in *Input) (scores, pvalues []float64) {
	if in.Task == models.TaskClassification {
		return FClassif(in.X, in.Labels)
	}
	return FRegression(in.X, in.Target)
}

func baseEstimator(name string, in *Input) (any, error) {
	if name == "" {
		name = LinearRegression
		if in.Task == models.TaskClassification {
			name = LogisticRegression
		}
	}
	classifier := name == LogisticRegression || name == RandomForestClassifier
	if classifier != (in.Task == models.TaskClassification) {
		return nil, fmt.Errorf("estimator %s does not fit a %s target", name, in.Task)
	}
	return estimators.New(in.Task, name, nil)
}

func fit(est any, x *mat.Dense, in *Input) error {
	if in.Task == models.TaskClassification {
		return est.(estimators.Classifier).Fit(x, in.Labels, in.NClasses)
	}
	return est.(estimators.Regressor).Fit(x, in.Target)
}

// importances reads feature importances or coefficient magnitudes, summed over
// classes; squared selects squared coefficients
func importances(est any, squared bool) ([]float64, error) {
	if fi, ok := est.(estimators.FeatureImportancer); ok {
		return fi.FeatureImportances(), nil
	}
	co, ok := est.(estimators.Coefficienter)
	if !ok {
		return nil, errors.New("estimator exposes neither coefficients nor feature importances")
	}
	rows := co.Coefficients()
	out := make([]float64, len(rows[0]))
	for _, r := range rows {
		for j, w := range r {
			if squared {
				out[j] += w * w
			} else {
				out[j] += math.Abs(w)
			}
		}
	}
	return out, nil
}

func cvFolds(in *Input, k int) ([]estimators.Fold, error) {
	n, _ := in.X.Dims()
	if in.Task == models.TaskClassification {
		return estimators.StratifiedKFold(in.Labels, k, false, 0)
	}
	return estimators.KFold(n, k, false, 0)
}

// crossValidate is the mean accuracy or R² over folds
func crossValidate(name string, in *Input, cols []int, folds []estimators.Fold) (float64, error) {
	x := columns(in.X, cols)
	total := 0.0
	for _, f := range folds {
		est, err := baseEstimator(name, in)
		if err != nil {
			return 0, err
		}
		train := estimators.TakeRows(x, f.Train)
		test := estimators.TakeRows(x, f.Test)
		if in.Task == models.TaskClassification {
			clf := est.(estimators.Classifier)
			if err := clf.Fit(train, pickInts(in.Labels, f.Train), in.NClasses); err != nil {
				return 0, err
			}
			pred := clf.Predict(test)
			hit := 0
			for i, r := range f.Test {
				if pred[i] == in.Labels[r] {
					hit++
				}
			}
			total += float64(hit) / float64(len(f.Test))
			continue
		}
		reg := est.(estimators.Regressor)
		if err := reg.Fit(train, pickFloats(in.Target, f.Train)); err != nil {
			return 0, err
		}
		total += r2(pickFloats(in.Target, f.Test), reg.Predict(test))
	}
	return total / float64(len(folds)), nil
}

func r2(y, pred []float64) float64 {
	mean := stat.Mean(y, nil)
	var res, tot float64
	for i := range y {
		res += (y[i] - pred[i]) * (y[i] - pred[i])
		tot += (y[i] - mean) * (y[i] - mean)
	}
	if tot == 0 {
		if res == 0 {
			return 1
		}
		return 0
	}
	return 1 - res/tot
}

// topK marks the k highest scores; NaN scores rank last
func topK(scores []float64, k int) []bool {
	order := make([]int, len(scores))
	for i := range order {
		order[i] = i
	}
	key := func(i int) float64 {
		if math.IsNaN(scores[i]) {
			return math.Inf(-1)
		}
		return scores[i]
	}
	sort.SliceStable(order, func(a, b int) bool { return key(order[a]) > key(order[b]) })
	mask := make([]bool, len(scores))
	for _, i := range order[:max(0, k)] {
		mask[i] = true
	}
	return mask
}

func allColumns(c int) []int {
	out := make([]int, c)
	for i := range out {
		out[i] = i
	}
	return out
}

func selectedColumns(mask []bool) []int {
	var out []int
	for i, m := range mask {
		if m {
			out = append(out, i)
		}
	}
	return out
}

func columns(x *mat.Dense, cols []int) *mat.Dense {
	r, _ := x.Dims()
	out := mat.NewDense(r, len(cols), nil)
	for j, c := range cols {
		out.SetCol(j, mat.Col(nil, c, x))
	}
	return out
}

func pickInts(v []int, idx []int) []int {
	out := make([]int, len(idx))
	for i, j := range idx {
		out[i] = v[j]
	}
	return out
}

func pickFloats(v []float64, idx []int) []float64 {
	out := make([]float64, len(idx))
	for i, j := range idx {
		out[i] = v[j]
	}
	return out
}
