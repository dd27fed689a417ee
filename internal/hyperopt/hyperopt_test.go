package hyperopt

import (
	"context"
	"errors"
	"math"
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/aegisshield/ml-workbench/internal/apperrors"
	"github.com/aegisshield/ml-workbench/internal/frame"
	"github.com/aegisshield/ml-workbench/internal/models"
	"github.com/aegisshield/ml-workbench/internal/params"
	"github.com/aegisshield/ml-workbench/internal/training"
)

type fakeLoader struct {
	df     *frame.DataFrame
	target string
	err    error
	calls  int
}

func (f *fakeLoader) Dataset(_ context.Context, _, _ string, task models.TaskType) (*training.Dataset, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	if f.target == "" {
		return training.NewDataset(task, f.df, nil)
	}
	target, _ := f.df.Column(f.target)
	return training.NewDataset(task, f.df.Drop(f.target), target)
}

// blobs is two well separated groups labelled "a" and "b"
func blobs(per int) *frame.DataFrame {
	rng := rand.New(rand.NewPCG(7, 7))
	var x1, x2 []float64
	var label []string
	for c, centre := range [][2]float64{{0, 0}, {6, 6}} {
		for i := 0; i < per; i++ {
			x1 = append(x1, centre[0]+rng.NormFloat64()*0.6)
			x2 = append(x2, centre[1]+rng.NormFloat64()*0.6)
			label = append(label, []string{"a", "b"}[c])
		}
	}
	return frame.MustNew(
		frame.NewFloat("x1", x1),
		frame.NewFloat("x2", x2),
		frame.NewString("label", label, nil),
	)
}

func linear(n int) *frame.DataFrame {
	rng := rand.New(rand.NewPCG(3, 3))
	a, b, y := make([]float64, n), make([]float64, n), make([]float64, n)
	for i := range y {
		a[i], b[i] = rng.Float64()*10, rng.Float64()*10
		y[i] = 2*a[i] - b[i] + 0.05*rng.NormFloat64()
	}
	return frame.MustNew(frame.NewFloat("a", a), frame.NewFloat("b", b), frame.NewFloat("y", y))
}

func space(t *testing.T, task models.TaskType, modelType string) []params.ParamSpec {
	schema, err := params.SchemaFor(task, modelType)
	require.NoError(t, err)
	return schema.SearchSpace()
}

func smallConfig() Config {
	return Config{Evals: 8, StartupTrials: 4, Folds: 3, Seed: 1}
}

func TestSearch(t *testing.T) {
	ctx := context.Background()

	t.Run("classification", func(t *testing.T) {
		s := NewSearcher(&fakeLoader{df: blobs(15), target: "label"}, smallConfig(), zap.NewNop())
		found, err := s.Search(ctx, params.SearchRequest{
			Task:      models.TaskClassification,
			ModelType: "logistic_regression",
			Space:     space(t, models.TaskClassification, "logistic_regression"),
			Fixed:     map[string]any{"max_iter": 200},
		})
		require.NoError(t, err)
		c, ok := found["C"].(float64)
		require.True(t, ok)
		assert.True(t, c >= 1e-3 && c <= 100, "C=%g", c)
		assert.Equal(t, 200, found["max_iter"])
	})

	t.Run("regression", func(t *testing.T) {
		s := NewSearcher(&fakeLoader{df: linear(30), target: "y"}, smallConfig(), zap.NewNop())
		found, err := s.Search(ctx, params.SearchRequest{
			Task:      models.TaskRegression,
			ModelType: "ridge",
			Space:     space(t, models.TaskRegression, "ridge"),
		})
		require.NoError(t, err)
		assert.Contains(t, found, "alpha")
	})

	t.Run("clustering picks an integer cluster count", func(t *testing.T) {
		s := NewSearcher(&fakeLoader{df: blobs(15).Drop("label")}, smallConfig(), zap.NewNop())
		found, err := s.Search(ctx, params.SearchRequest{
			Task:      models.TaskClustering,
			ModelType: "kmeans",
			Space:     space(t, models.TaskClustering, "kmeans"),
			Fixed:     map[string]any{"n_init": 2},
		})
		require.NoError(t, err)
		n, ok := found["n_clusters"].(int)
		require.True(t, ok)
		assert.True(t, n >= 2 && n <= 12)
	})

	t.Run("unsupported task", func(t *testing.T) {
		loader := &fakeLoader{}
		s := NewSearcher(loader, smallConfig(), zap.NewNop())
		_, err := s.Search(ctx, params.SearchRequest{Task: models.TaskOutlierDetection, ModelType: "isolation_forest"})
		assert.True(t, apperrors.HasCode(err, apperrors.HyperoptTaskType))
		assert.Zero(t, loader.calls)
	})

	t.Run("empty space returns the pinned values", func(t *testing.T) {
		loader := &fakeLoader{}
		s := NewSearcher(loader, smallConfig(), zap.NewNop())
		found, err := s.Search(ctx, params.SearchRequest{
			Task:      models.TaskRegression,
			ModelType: "linear_regression",
			Fixed:     map[string]any{"fit_intercept": false},
		})
		require.NoError(t, err)
		assert.Equal(t, map[string]any{"fit_intercept": false}, found)
		assert.Zero(t, loader.calls)
	})

	t.Run("loader errors pass through", func(t *testing.T) {
		notFound := apperrors.New(apperrors.DataFrameNotFound, "missing")
		s := NewSearcher(&fakeLoader{err: notFound}, smallConfig(), zap.NewNop())
		_, err := s.Search(ctx, params.SearchRequest{
			Task:      models.TaskRegression,
			ModelType: "ridge",
			Space:     space(t, models.TaskRegression, "ridge"),
		})
		assert.True(t, apperrors.HasCode(err, apperrors.DataFrameNotFound))
	})

	t.Run("cancelled", func(t *testing.T) {
		cancelled, cancel := context.WithCancel(ctx)
		cancel()
		s := NewSearcher(&fakeLoader{df: linear(30), target: "y"}, smallConfig(), zap.NewNop())
		_, err := s.Search(cancelled, params.SearchRequest{
			Task:      models.TaskRegression,
			ModelType: "ridge",
			Space:     space(t, models.TaskRegression, "ridge"),
		})
		assert.True(t, errors.Is(err, context.Canceled))
	})
}

func TestMinimizeFailures(t *testing.T) {
	s := NewSearcher(nil, smallConfig(), zap.NewNop())
	req := params.SearchRequest{
		ModelType: "ridge",
		Space:     space(t, models.TaskRegression, "ridge"),
	}

	t.Run("every evaluation fails", func(t *testing.T) {
		_, err := s.minimize(context.Background(), req, func(map[string]any) (float64, error) {
			return 0, errors.New("singular matrix")
		})
		assert.True(t, apperrors.HasCode(err, apperrors.ParamsSearching))
	})

	t.Run("panics are contained", func(t *testing.T) {
		calls := 0
		found, err := s.minimize(context.Background(), req, func(p map[string]any) (float64, error) {
			calls++
			if calls%2 == 0 {
				panic("index out of range")
			}
			return p["alpha"].(float64), nil
		})
		require.NoError(t, err)
		assert.Contains(t, found, "alpha")
	})
}

func TestTPEConcentratesOnTheMinimum(t *testing.T) {
	spec := params.ParamSpec{
		Name:   "x",
		Kind:   params.KindFloat,
		Search: &params.Distribution{Type: params.Uniform, Low: -10, High: 10},
	}
	cfg := DefaultConfig()
	tp := newTPE([]params.ParamSpec{spec}, cfg)
	best := math.Inf(1)
	for i := 0; i < 60; i++ {
		p := tp.suggest()
		loss := (p[0] - 3) * (p[0] - 3)
		tp.observe(p, loss)
		best = math.Min(best, loss)
	}
	assert.Less(t, best, 0.25)
}

func TestDimensionValues(t *testing.T) {
	t.Run("quniform snaps to the grid", func(t *testing.T) {
		d := newDimension(params.ParamSpec{
			Name:   "n_estimators",
			Kind:   params.KindInt,
			Search: &params.Distribution{Type: params.QUniform, Low: 10, High: 150, Q: 10},
		})
		assert.Equal(t, 40, d.value(37.2))
		assert.Equal(t, 150, d.value(180))
	})

	t.Run("loguniform works in log space", func(t *testing.T) {
		d := newDimension(params.ParamSpec{
			Name:   "C",
			Kind:   params.KindFloat,
			Search: &params.Distribution{Type: params.LogUniform, Low: 1e-2, High: 1e2},
		})
		assert.InDelta(t, 0, d.lo+d.hi, 1e-9)
		assert.InDelta(t, 1.0, d.value(0).(float64), 1e-12)
	})

	t.Run("choice returns options", func(t *testing.T) {
		d := newDimension(params.ParamSpec{
			Name:   "kernel",
			Kind:   params.KindString,
			Search: &params.Distribution{Type: params.Choice, Options: []any{"rbf", "linear"}},
		})
		assert.True(t, d.categorical())
		assert.Equal(t, "linear", d.value(1))
	})
}
