package reports

import (
	"encoding/json"
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"github.com/aegisshield/ml-workbench/internal/apperrors"
)

func TestClassificationMetrics(t *testing.T) {
	y := []int{0, 0, 1, 1, 1, 0}
	pred := []int{0, 1, 1, 1, 0, 0}

	t.Run("accuracy and confusion matrix", func(t *testing.T) {
		assert.InDelta(t, 4.0/6, Accuracy(y, pred), 1e-12)
		assert.Equal(t, [][]int{{2, 1}, {1, 2}}, ConfusionMatrix(y, pred, 2))
	})

	t.Run("binary scores the positive class", func(t *testing.T) {
		p, r, f := PrecisionRecallF1(y, pred, 2)
		assert.InDelta(t, 2.0/3, p, 1e-12)
		assert.InDelta(t, 2.0/3, r, 1e-12)
		assert.InDelta(t, 2.0/3, f, 1e-12)
	})

	t.Run("multiclass is support weighted", func(t *testing.T) {
		y3 := []int{0, 1, 2, 2}
		p, r, _ := PrecisionRecallF1(y3, []int{0, 1, 2, 1}, 3)
		// class 0: p=1 r=1, class 1: p=0.5 r=1, class 2: p=1 r=0.5
		assert.InDelta(t, (1+0.5+2)/4, p, 1e-12)
		assert.InDelta(t, (1+1+1)/4, r, 1e-12)
	})

	t.Run("perfect ranking has unit auc", func(t *testing.T) {
		auc, err := RocAUC([]float64{0.1, 0.2, 0.8, 0.9}, []bool{false, false, true, true})
		require.NoError(t, err)
		assert.InDelta(t, 1, auc, 1e-12)
	})

	t.Run("inverted ranking has zero auc", func(t *testing.T) {
		auc, err := RocAUC([]float64{0.9, 0.8, 0.2, 0.1}, []bool{false, false, true, true})
		require.NoError(t, err)
		assert.InDelta(t, 0, auc, 1e-12)
	})

	t.Run("ties score one half", func(t *testing.T) {
		auc, err := RocAUC([]float64{0.5, 0.5, 0.5, 0.5}, []bool{false, true, false, true})
		require.NoError(t, err)
		assert.InDelta(t, 0.5, auc, 1e-12)
	})

	t.Run("single class has no auc", func(t *testing.T) {
		_, err := RocAUC([]float64{0.1, 0.2}, []bool{true, true})
		assert.Error(t, err)
	})

	t.Run("weighted one vs rest", func(t *testing.T) {
		scores := mat.NewDense(3, 3, []float64{
			0.8, 0.1, 0.1,
			0.1, 0.8, 0.1,
			0.1, 0.1, 0.8,
		})
		auc, err := WeightedOvrAUC([]int{0, 1, 2}, scores)
		require.NoError(t, err)
		assert.InDelta(t, 1, auc, 1e-12)
	})

	t.Run("precision recall curve", func(t *testing.T) {
		p, r := PrecisionRecallCurve([]float64{0.9, 0.7, 0.4}, []bool{true, false, true})
		assert.Equal(t, []float64{1, 0.5, 2.0 / 3}, p)
		assert.Equal(t, []float64{0.5, 0.5, 1}, r)
	})
}

func TestRegressionMetrics(t *testing.T) {
	y := []float64{1, 2, 3, 4}
	pred := []float64{1, 2, 3, 6}

	assert.InDelta(t, 1, MeanSquaredError(y, pred), 1e-12)
	assert.InDelta(t, 0.5, MeanAbsoluteError(y, pred), 1e-12)
	assert.InDelta(t, 0, MedianAbsoluteError(y, pred), 1e-12)
	assert.InDelta(t, 2, MaxError(y, pred), 1e-12)
	assert.InDelta(t, 1-4.0/5, R2(y, pred), 1e-12)
	assert.Equal(t, 1.0, R2([]float64{2, 2}, []float64{2, 2}))
	assert.Equal(t, 1.0, ExplainedVariance(y, []float64{2, 3, 4, 5}))
}

func TestClusterScores(t *testing.T) {
	x := mat.NewDense(6, 1, []float64{0, 0.1, 0.2, 10, 10.1, 10.2})
	labels := []int{0, 0, 0, 1, 1, 1}

	t.Run("separated clusters", func(t *testing.T) {
		s, err := Silhouette(x, labels)
		require.NoError(t, err)
		assert.Greater(t, s, 0.9)

		ch, err := CalinskiHarabasz(x, labels)
		require.NoError(t, err)
		assert.Greater(t, ch, 1000.0)

		db, err := DaviesBouldin(x, labels)
		require.NoError(t, err)
		assert.Less(t, db, 0.1)
	})

	t.Run("single cluster is undefined", func(t *testing.T) {
		_, err := Silhouette(x, make([]int, 6))
		assert.Error(t, err)
		_, err = CalinskiHarabasz(x, make([]int, 6))
		assert.Error(t, err)
	})
}

func TestBodies(t *testing.T) {
	x := mat.NewDense(4, 2, []float64{0, 0, 0, 1, 5, 5, 5, 6})

	t.Run("classification body is json safe", func(t *testing.T) {
		scores := mat.NewDense(4, 2, []float64{0.9, 0.1, 0.8, 0.2, 0.3, 0.7, 0.1, 0.9})
		body := Classification(x, []int{0, 0, 1, 1}, []int{0, 0, 1, 1}, scores, []string{"no", "yes"})
		assert.Equal(t, 1.0, body["accuracy"])
		assert.Equal(t, 1.0, body["roc_auc"])
		assert.NotNil(t, body["fpr"])
		assert.NotNil(t, body["tpr"])
		assert.Len(t, body["projection"], 4)
		_, err := json.Marshal(body)
		assert.NoError(t, err)
	})

	t.Run("classification without scores", func(t *testing.T) {
		body := Classification(x, []int{0, 0, 1, 1}, []int{0, 1, 1, 1}, nil, []string{"a", "b"})
		assert.Nil(t, body["roc_auc"])
		assert.Equal(t, "none", body["probability_kind"])
	})

	t.Run("regression body", func(t *testing.T) {
		body := Regression(x, []float64{1, 2, 3, 4}, []float64{1, 2, 3, 4})
		assert.Equal(t, 0.0, body["mse"])
		assert.Equal(t, 1.0, body["r2"])
	})

	t.Run("clustering body with a single cluster", func(t *testing.T) {
		body := Clustering(x, []int{0, 0, 0, 0})
		assert.Nil(t, body["silhouette"])
		_, err := json.Marshal(body)
		assert.NoError(t, err)
	})

	t.Run("outlier body", func(t *testing.T) {
		body := Outliers(x, []bool{false, false, false, true})
		assert.Equal(t, 1, body["n_outliers"])
		assert.Equal(t, 0.25, body["outlier_share"])
	})

	t.Run("reduction body", func(t *testing.T) {
		body := Reduction(x, []float64{0.9, math.NaN()}, []string{"a", "b", "c", "d"})
		assert.Equal(t, []any{0.9, nil}, body["explained_variance_ratio"])
		points := body["projection"].([]Point)
		assert.Equal(t, "d", points[3].Label)
	})

	t.Run("error body", func(t *testing.T) {
		body := Error(apperrors.New(apperrors.ModelTraining, "fit failed"), "trace")
		assert.Equal(t, "ModelTraining", body["error_type"])
		assert.Equal(t, "trace", body["stack_trace"])

		body = Error(errors.New("boom"), "")
		assert.Equal(t, "*errors.errorString", body["error_type"])
	})
}
