// Package reports scores fitted models and assembles the JSON bodies stored as
// Train, Valid and Error reports.
package reports

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/aegisshield/ml-workbench/internal/apperrors"
	"github.com/aegisshield/ml-workbench/internal/estimators"
)

// projectionLimit caps the points kept in a report projection
const projectionLimit = 1000

// Body is a report body; it is stored as JSON
type Body map[string]any

// Point is one row of a 2-D projection
type Point struct {
	X     float64 `json:"x"`
	Y     float64 `json:"y"`
	Label any     `json:"label"`
}

// Classification scores predictions against y. scores may be nil when the model
// exposes neither probabilities nor a decision function; otherwise it holds one
// column per class.
func Classification(x *mat.Dense, y, pred []int, scores *mat.Dense, classes []string) Body {
	k := max(len(classes), 2)
	precision, recall, f1 := PrecisionRecallF1(y, pred, k)
	body := Body{
		"accuracy":  number(Accuracy(y, pred)),
		"precision": number(precision),
		"recall":    number(recall),
		"f1":        number(f1),
		"classes":   classes,
		"confusion_matrix": map[string]any{
			"labels": classes,
			"matrix": ConfusionMatrix(y, pred, k),
		},
		"roc_auc":          nil,
		"fpr":              nil,
		"tpr":              nil,
		"precision_curve":  nil,
		"recall_curve":     nil,
		"projection":       Projection(x, decode(pred, classes)),
		"n_samples":        len(y),
		"probability_kind": "none",
	}
	if scores == nil {
		return body
	}
	body["probability_kind"] = "scores"

	if k == 2 {
		positive := make([]bool, len(y))
		for i, v := range y {
			positive[i] = v == 1
		}
		col := mat.Col(nil, 1, scores)
		if fpr, tpr, err := RocCurve(col, positive); err == nil {
			auc, _ := RocAUC(col, positive)
			body["roc_auc"] = number(auc)
			body["fpr"] = numbers(fpr)
			body["tpr"] = numbers(tpr)
		}
		p, r := PrecisionRecallCurve(col, positive)
		body["precision_curve"] = numbers(p)
		body["recall_curve"] = numbers(r)
		return body
	}

	if auc, err := WeightedOvrAUC(y, scores); err == nil {
		body["roc_auc"] = number(auc)
	}
	fprs, tprs := make(map[string]any), make(map[string]any)
	positive := make([]bool, len(y))
	for c := 0; c < len(classes); c++ {
		for i, v := range y {
			positive[i] = v == c
		}
		if fpr, tpr, err := RocCurve(mat.Col(nil, c, scores), positive); err == nil {
			fprs[classes[c]] = numbers(fpr)
			tprs[classes[c]] = numbers(tpr)
		}
	}
	body["fpr"] = fprs
	body["tpr"] = tprs
	return body
}

// Regression scores continuous predictions against y
func Regression(x *mat.Dense, y, pred []float64) Body {
	mse := MeanSquaredError(y, pred)
	return Body{
		"mse":                   number(mse),
		"rmse":                  number(math.Sqrt(mse)),
		"mae":                   number(MeanAbsoluteError(y, pred)),
		"r2":                    number(R2(y, pred)),
		"max_error":             number(MaxError(y, pred)),
		"median_absolute_error": number(MedianAbsoluteError(y, pred)),
		"explained_variance":    number(ExplainedVariance(y, pred)),
		"projection":            Projection(x, anySlice(pred)),
		"n_samples":             len(y),
	}
}

// Clustering describes cluster assignments. Scores that are undefined for the
// labelling (a single cluster, or one cluster per row) are null.
func Clustering(x *mat.Dense, labels []int) Body {
	sizes := make(map[int]int)
	for _, l := range labels {
		sizes[l]++
	}
	body := Body{
		"n_clusters":        len(sizes),
		"cluster_sizes":     sizes,
		"silhouette":        nil,
		"calinski_harabasz": nil,
		"davies_bouldin":    nil,
		"projection":        Projection(x, anySlice(labels)),
		"n_samples":         len(labels),
	}
	if v, err := Silhouette(x, labels); err == nil {
		body["silhouette"] = number(v)
	}
	if v, err := CalinskiHarabasz(x, labels); err == nil {
		body["calinski_harabasz"] = number(v)
	}
	if v, err := DaviesBouldin(x, labels); err == nil {
		body["davies_bouldin"] = number(v)
	}
	return body
}

// Outliers describes outlier flags
func Outliers(x *mat.Dense, isOutlier []bool) Body {
	count := 0
	for _, o := range isOutlier {
		if o {
			count++
		}
	}
	share := 0.0
	if len(isOutlier) > 0 {
		share = float64(count) / float64(len(isOutlier))
	}
	return Body{
		"n_outliers":    count,
		"outlier_share": number(share),
		"projection":    Projection(x, anySlice(isOutlier)),
		"n_samples":     len(isOutlier),
	}
}

// Reduction describes a reduced feature matrix. ratio is nil for reducers without
// explained variance; labels colours the projection and may be nil.
func Reduction(reduced *mat.Dense, ratio []float64, labels []string) Body {
	r, c := reduced.Dims()
	var colour []any
	if labels != nil {
		colour = anySlice(labels)
	}
	body := Body{
		"n_components":             c,
		"explained_variance_ratio": nil,
		"n_samples":                r,
	}
	if ratio != nil {
		body["explained_variance_ratio"] = numbers(ratio)
		total := 0.0
		for _, v := range ratio {
			total += v
		}
		body["total_explained_variance"] = number(total)
	}

	idx := evenSample(r, projectionLimit)
	points := make([]Point, len(idx))
	for n, i := range idx {
		p := Point{X: finite(reduced.At(i, 0))}
		if c > 1 {
			p.Y = finite(reduced.At(i, 1))
		}
		if colour != nil {
			p.Label = colour[i]
		}
		points[n] = p
	}
	body["projection"] = points
	return body
}

// Error describes a failed training run
func Error(err error, stack string) Body {
	return Body{
		"error_type":  errorType(err),
		"message":     err.Error(),
		"stack_trace": stack,
	}
}

// Projection maps rows onto their first two principal components, keeping at most
// projectionLimit evenly spaced rows. labels is indexed like the rows of x.
func Projection(x *mat.Dense, labels []any) []Point {
	r, c := x.Dims()
	if r == 0 || c == 0 {
		return []Point{}
	}
	idx := evenSample(r, projectionLimit)
	sample := x
	if len(idx) < r {
		sample = estimators.TakeRows(x, idx)
	}

	var coords *mat.Dense
	if r >= 2 {
		pca := &estimators.PCA{NComponents: min(2, c)}
		if out, err := pca.FitTransform(sample, nil); err == nil {
			coords = out
		}
	}
	points := make([]Point, len(idx))
	for n, i := range idx {
		var p Point
		if coords != nil {
			_, k := coords.Dims()
			p.X = finite(coords.At(n, 0))
			if k > 1 {
				p.Y = finite(coords.At(n, 1))
			}
		} else {
			p.X = finite(x.At(i, 0))
		}
		if labels != nil {
			p.Label = labels[i]
		}
		points[n] = p
	}
	return points
}

func errorType(err error) string {
	if e, ok := apperrors.As(err); ok {
		return string(e.Code)
	}
	return fmt.Sprintf("%T", err)
}

func decode(pred []int, classes []string) []any {
	out := make([]any, len(pred))
	for i, p := range pred {
		if p >= 0 && p < len(classes) {
			out[i] = classes[p]
		} else {
			out[i] = p
		}
	}
	return out
}

func anySlice[T any](values []T) []any {
	out := make([]any, len(values))
	for i, v := range values {
		out[i] = v
	}
	return out
}

// number drops values JSON cannot carry
func number(v float64) any {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return nil
	}
	return v
}

func numbers(values []float64) []any {
	out := make([]any, len(values))
	for i, v := range values {
		out[i] = number(v)
	}
	return out
}

func finite(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	return v
}
