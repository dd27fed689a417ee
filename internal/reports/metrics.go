package reports

import (
	"errors"
	"math"
	"sort"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/integrate"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"

	"github.com/aegisshield/ml-workbench/internal/frame"
)

// silhouetteSampleSize caps the rows used for pairwise cluster scores
const silhouetteSampleSize = 2000

// Accuracy is the share of exact matches
func Accuracy(y, pred []int) float64 {
	if len(y) == 0 {
		return math.NaN()
	}
	hit := 0
	for i := range y {
		if y[i] == pred[i] {
			hit++
		}
	}
	return float64(hit) / float64(len(y))
}

// ConfusionMatrix counts rows of true class against columns of predicted class
func ConfusionMatrix(y, pred []int, k int) [][]int {
	out := make([][]int, k)
	for i := range out {
		out[i] = make([]int, k)
	}
	for i := range y {
		if y[i] >= 0 && y[i] < k && pred[i] >= 0 && pred[i] < k {
			out[y[i]][pred[i]]++
		}
	}
	return out
}

// PrecisionRecallF1 scores the positive class (index 1) for binary targets and
// the support-weighted mean over classes otherwise. Undefined ratios count as 0.
func PrecisionRecallF1(y, pred []int, k int) (precision, recall, f1 float64) {
	cm := ConfusionMatrix(y, pred, k)
	perClass := func(c int) (p, r, f float64, support int) {
		tp := cm[c][c]
		predicted, actual := 0, 0
		for j := 0; j < k; j++ {
			predicted += cm[j][c]
			actual += cm[c][j]
		}
		if predicted > 0 {
			p = float64(tp) / float64(predicted)
		}
		if actual > 0 {
			r = float64(tp) / float64(actual)
		}
		if p+r > 0 {
			f = 2 * p * r / (p + r)
		}
		return p, r, f, actual
	}
	if k == 2 {
		p, r, f, _ := perClass(1)
		return p, r, f
	}
	total := 0
	for c := 0; c < k; c++ {
		p, r, f, support := perClass(c)
		precision += p * float64(support)
		recall += r * float64(support)
		f1 += f * float64(support)
		total += support
	}
	if total == 0 {
		return 0, 0, 0
	}
	return precision / float64(total), recall / float64(total), f1 / float64(total)
}

// RocCurve returns the false and true positive rates over every score cutoff.
// It fails when positive holds a single class.
func RocCurve(scores []float64, positive []bool) (fpr, tpr []float64, err error) {
	if !bothClasses(positive) {
		return nil, nil, errors.New("ROC is undefined when only one class is present")
	}
	s := append([]float64(nil), scores...)
	c := append([]bool(nil), positive...)
	sortPaired(s, c)
	tpr, fpr, _ = stat.ROC(nil, s, c, nil)
	return fpr, tpr, nil
}

// RocAUC is the area under the ROC curve
func RocAUC(scores []float64, positive []bool) (float64, error) {
	fpr, tpr, err := RocCurve(scores, positive)
	if err != nil {
		return math.NaN(), err
	}
	return integrate.Trapezoidal(fpr, tpr), nil
}

// WeightedOvrAUC averages one-vs-rest AUCs over the columns of scores, weighted by
// class support. Classes absent from y are skipped.
func WeightedOvrAUC(y []int, scores *mat.Dense) (float64, error) {
	_, k := scores.Dims()
	var sum, weight float64
	col := make([]float64, len(y))
	positive := make([]bool, len(y))
	for c := 0; c < k; c++ {
		support := 0
		for i, v := range y {
			positive[i] = v == c
			if positive[i] {
				support++
			}
		}
		if support == 0 || support == len(y) {
			continue
		}
		mat.Col(col, c, scores)
		auc, err := RocAUC(col, positive)
		if err != nil {
			return math.NaN(), err
		}
		sum += auc * float64(support)
		weight += float64(support)
	}
	if weight == 0 {
		return math.NaN(), errors.New("ROC AUC needs at least two classes in the target")
	}
	return sum / weight, nil
}

// PrecisionRecallCurve returns precision and recall at every distinct score
// cutoff, from the highest cutoff down.
func PrecisionRecallCurve(scores []float64, positive []bool) (precision, recall []float64) {
	idx := make([]int, len(scores))
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool { return scores[idx[a]] > scores[idx[b]] })
	total := 0
	for _, p := range positive {
		if p {
			total++
		}
	}
	if total == 0 {
		return nil, nil
	}
	tp, fp := 0, 0
	for n, i := range idx {
		if positive[i] {
			tp++
		} else {
			fp++
		}
		if n+1 < len(idx) && scores[idx[n+1]] == scores[i] {
			continue
		}
		precision = append(precision, float64(tp)/float64(tp+fp))
		recall = append(recall, float64(tp)/float64(total))
	}
	return precision, recall
}

// MeanSquaredError of predictions
func MeanSquaredError(y, pred []float64) float64 {
	sum := 0.0
	for i := range y {
		d := y[i] - pred[i]
		sum += d * d
	}
	return sum / float64(len(y))
}

// MeanAbsoluteError of predictions
func MeanAbsoluteError(y, pred []float64) float64 {
	sum := 0.0
	for i := range y {
		sum += math.Abs(y[i] - pred[i])
	}
	return sum / float64(len(y))
}

// MedianAbsoluteError of predictions
func MedianAbsoluteError(y, pred []float64) float64 {
	abs := make([]float64, len(y))
	for i := range y {
		abs[i] = math.Abs(y[i] - pred[i])
	}
	return frame.Median(abs)
}

// MaxError is the largest absolute residual
func MaxError(y, pred []float64) float64 {
	worst := 0.0
	for i := range y {
		worst = math.Max(worst, math.Abs(y[i]-pred[i]))
	}
	return worst
}

// R2 is the coefficient of determination. A constant target scores 1 when
// predicted exactly and 0 otherwise.
func R2(y, pred []float64) float64 {
	mean := stat.Mean(y, nil)
	var ssRes, ssTot float64
	for i := range y {
		ssRes += (y[i] - pred[i]) * (y[i] - pred[i])
		ssTot += (y[i] - mean) * (y[i] - mean)
	}
	if ssTot == 0 {
		if ssRes == 0 {
			return 1
		}
		return 0
	}
	return 1 - ssRes/ssTot
}

// ExplainedVariance is 1 - Var(y - pred) / Var(y)
func ExplainedVariance(y, pred []float64) float64 {
	residual := make([]float64, len(y))
	floats.SubTo(residual, y, pred)
	_, varRes := stat.PopMeanVariance(residual, nil)
	_, varY := stat.PopMeanVariance(y, nil)
	if varY == 0 {
		if varRes == 0 {
			return 1
		}
		return 0
	}
	return 1 - varRes/varY
}

// Silhouette is the mean silhouette coefficient over at most
// silhouetteSampleSize evenly spaced rows. Noise labels count as a cluster.
func Silhouette(x *mat.Dense, labels []int) (float64, error) {
	n, _ := x.Dims()
	if k := distinct(labels); k < 2 || k > n-1 {
		return math.NaN(), errors.New("silhouette needs between 2 and n_samples - 1 clusters")
	}
	rows := evenSample(n, silhouetteSampleSize)
	sizes := make(map[int]int)
	for _, i := range rows {
		sizes[labels[i]]++
	}
	total := 0.0
	for _, i := range rows {
		sums := make(map[int]float64)
		for _, j := range rows {
			if i != j {
				sums[labels[j]] += floats.Distance(x.RawRowView(i), x.RawRowView(j), 2)
			}
		}
		own := sizes[labels[i]] - 1
		if own == 0 {
			continue
		}
		a := sums[labels[i]] / float64(own)
		b := math.Inf(1)
		for l, s := range sums {
			if l != labels[i] {
				b = math.Min(b, s/float64(sizes[l]))
			}
		}
		if math.IsInf(b, 1) {
			continue
		}
		if m := math.Max(a, b); m > 0 {
			total += (b - a) / m
		}
	}
	return total / float64(len(rows)), nil
}

// CalinskiHarabasz is the ratio of between- to within-cluster dispersion
func CalinskiHarabasz(x *mat.Dense, labels []int) (float64, error) {
	n, c := x.Dims()
	k := distinct(labels)
	if k < 2 || k > n-1 {
		return math.NaN(), errors.New("calinski harabasz needs between 2 and n_samples - 1 clusters")
	}
	centroids, counts := clusterCentroids(x, labels)
	mean := make([]float64, c)
	for i := 0; i < n; i++ {
		floats.Add(mean, x.RawRowView(i))
	}
	floats.Scale(1/float64(n), mean)
	var between, within float64
	for l, centre := range centroids {
		between += float64(counts[l]) * sqDistance(centre, mean)
	}
	for i := 0; i < n; i++ {
		within += sqDistance(x.RawRowView(i), centroids[labels[i]])
	}
	if within == 0 {
		return 1, nil
	}
	return between * float64(n-k) / (within * float64(k-1)), nil
}

// DaviesBouldin is the mean worst-case similarity of each cluster to another
func DaviesBouldin(x *mat.Dense, labels []int) (float64, error) {
	n, _ := x.Dims()
	if k := distinct(labels); k < 2 || k > n-1 {
		return math.NaN(), errors.New("davies bouldin needs between 2 and n_samples - 1 clusters")
	}
	centroids, counts := clusterCentroids(x, labels)
	spread := make(map[int]float64, len(centroids))
	for i := 0; i < n; i++ {
		spread[labels[i]] += math.Sqrt(sqDistance(x.RawRowView(i), centroids[labels[i]]))
	}
	keys := make([]int, 0, len(centroids))
	for l := range centroids {
		spread[l] /= float64(counts[l])
		keys = append(keys, l)
	}
	sort.Ints(keys)
	total := 0.0
	for _, a := range keys {
		worst := 0.0
		for _, b := range keys {
			if a == b {
				continue
			}
			d := math.Sqrt(sqDistance(centroids[a], centroids[b]))
			if d > 0 {
				worst = math.Max(worst, (spread[a]+spread[b])/d)
			}
		}
		total += worst
	}
	return total / float64(len(keys)), nil
}

func clusterCentroids(x *mat.Dense, labels []int) (map[int][]float64, map[int]int) {
	_, c := x.Dims()
	centroids := make(map[int][]float64)
	counts := make(map[int]int)
	for i, l := range labels {
		if centroids[l] == nil {
			centroids[l] = make([]float64, c)
		}
		floats.Add(centroids[l], x.RawRowView(i))
		counts[l]++
	}
	for l, centre := range centroids {
		floats.Scale(1/float64(counts[l]), centre)
	}
	return centroids, counts
}

func sqDistance(a, b []float64) float64 {
	d := floats.Distance(a, b, 2)
	return d * d
}

func distinct(labels []int) int {
	seen := make(map[int]struct{})
	for _, l := range labels {
		seen[l] = struct{}{}
	}
	return len(seen)
}

func bothClasses(positive []bool) bool {
	var pos, neg bool
	for _, p := range positive {
		if p {
			pos = true
		} else {
			neg = true
		}
	}
	return pos && neg
}

// sortPaired sorts scores ascending, carrying classes along
func sortPaired(scores []float64, classes []bool) {
	idx := make([]int, len(scores))
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool { return scores[idx[a]] < scores[idx[b]] })
	s := make([]float64, len(scores))
	c := make([]bool, len(classes))
	for i, j := range idx {
		s[i], c[i] = scores[j], classes[j]
	}
	copy(scores, s)
	copy(classes, c)
}

// evenSample returns at most limit row indexes spread evenly over n rows
func evenSample(n, limit int) []int {
	if n <= limit {
		out := make([]int, n)
		for i := range out {
			out[i] = i
		}
		return out
	}
	out := make([]int, limit)
	step := float64(n) / float64(limit)
	for i := range out {
		out[i] = int(float64(i) * step)
	}
	return out
}
