// Package hyperopt searches model hyperparameters with a tree-structured Parzen
// estimator against cross-validated task objectives.
package hyperopt

import (
	"context"
	"errors"
	"fmt"
	"math"

	"go.uber.org/zap"
	"gonum.org/v1/gonum/mat"

	"github.com/aegisshield/ml-workbench/internal/apperrors"
	"github.com/aegisshield/ml-workbench/internal/estimators"
	"github.com/aegisshield/ml-workbench/internal/models"
	"github.com/aegisshield/ml-workbench/internal/params"
	"github.com/aegisshield/ml-workbench/internal/reports"
	"github.com/aegisshield/ml-workbench/internal/training"
)

// Loader provides the encoded data of a dataframe for a task
type Loader interface {
	Dataset(ctx context.Context, userID, dataframeID string, task models.TaskType) (*training.Dataset, error)
}

// Config tunes the search
type Config struct {
	Evals         int
	StartupTrials int
	Gamma         float64
	Candidates    int
	Folds         int
	Seed          int
}

// DefaultConfig returns 50 evaluations with 10 random start-up trials, gamma
// 0.25, 24 candidates per suggestion and 5 folds
func DefaultConfig() Config {
	return Config{Evals: 50, StartupTrials: 10, Gamma: 0.25, Candidates: 24, Folds: 5, Seed: 42}
}

// Searcher runs hyperparameter searches
type Searcher struct {
	loader Loader
	cfg    Config
	logger *zap.Logger
}

// NewSearcher creates a searcher; zero config fields take their defaults
func NewSearcher(loader Loader, cfg Config, logger *zap.Logger) *Searcher {
	def := DefaultConfig()
	if cfg.Evals <= 0 {
		cfg.Evals = def.Evals
	}
	if cfg.StartupTrials <= 0 {
		cfg.StartupTrials = def.StartupTrials
	}
	if cfg.Gamma <= 0 || cfg.Gamma >= 1 {
		cfg.Gamma = def.Gamma
	}
	if cfg.Candidates <= 0 {
		cfg.Candidates = def.Candidates
	}
	if cfg.Folds < 2 {
		cfg.Folds = def.Folds
	}
	return &Searcher{loader: loader, cfg: cfg, logger: logger.With(zap.String("component", "hyperopt"))}
}

// objective scores one param dict; lower is better
type objective func(p map[string]any) (float64, error)

// Search returns the best evaluated param dict, pinned values included
func (s *Searcher) Search(ctx context.Context, req params.SearchRequest) (map[string]any, error) {
	switch req.Task {
	case models.TaskClassification, models.TaskRegression, models.TaskClustering:
	default:
		return nil, apperrors.New(apperrors.HyperoptTaskType, "hyperparameter search does not support %s", req.Task).
			With("task_type", string(req.Task))
	}
	if len(req.Space) == 0 {
		return copyParams(req.Fixed), nil
	}
	ds, err := s.loader.Dataset(ctx, req.UserID, req.DataFrameID, req.Task)
	if err != nil {
		return nil, err
	}
	obj, err := s.objective(req, ds)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ParamsSearching, err, "cannot search %s", req.ModelType)
	}
	return s.minimize(ctx, req, obj)
}

func (s *Searcher) minimize(ctx context.Context, req params.SearchRequest, obj objective) (map[string]any, error) {
	t := newTPE(req.Space, s.cfg)
	var (
		best     map[string]any
		bestLoss = math.Inf(1)
		lastErr  error
	)
	for i := 0; i < s.cfg.Evals; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		point := t.suggest()
		candidate := copyParams(req.Fixed)
		for d, dim := range t.dims {
			candidate[dim.spec.Name] = dim.value(point[d])
		}
		loss, err := evaluate(obj, candidate)
		if err != nil {
			lastErr = err
			loss = math.Inf(1)
			s.logger.Debug("Evaluation failed", zap.Int("eval", i), zap.Error(err))
		}
		t.observe(point, loss)
		if loss < bestLoss {
			best, bestLoss = candidate, loss
		}
	}
	if best == nil {
		if lastErr == nil {
			lastErr = errors.New("no evaluation produced a finite loss")
		}
		return nil, apperrors.Wrap(apperrors.ParamsSearching, lastErr, "every evaluation of %s failed", req.ModelType)
	}
	s.logger.Info("Search complete",
		zap.String("model_type", req.ModelType),
		zap.Int("evals", s.cfg.Evals),
		zap.Float64("best_loss", bestLoss))
	return best, nil
}

func evaluate(obj objective, p map[string]any) (loss float64, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	loss, err = obj(p)
	if err == nil && math.IsNaN(loss) {
		err = errors.New("objective is undefined")
	}
	return loss, err
}

func (s *Searcher) objective(req params.SearchRequest, ds *training.Dataset) (objective, error) {
	build := func(p map[string]any) (any, error) {
		return estimators.New(req.Task, req.ModelType, p)
	}
	switch req.Task {
	case models.TaskClassification:
		folds, err := estimators.StratifiedKFold(ds.Labels, s.cfg.Folds, true, s.cfg.Seed)
		if err != nil {
			// classes too small to stratify
			if folds, err = estimators.KFold(ds.Rows(), s.cfg.Folds, true, s.cfg.Seed); err != nil {
				return nil, err
			}
		}
		return func(p map[string]any) (float64, error) {
			auc, err := crossValidateAUC(build, ds, folds, p)
			return -auc, err
		}, nil
	case models.TaskRegression:
		folds, err := estimators.KFold(ds.Rows(), s.cfg.Folds, true, s.cfg.Seed)
		if err != nil {
			return nil, err
		}
		return func(p map[string]any) (float64, error) {
			return crossValidateMSE(build, ds, folds, p)
		}, nil
	default:
		return func(p map[string]any) (float64, error) {
			m, err := build(p)
			if err != nil {
				return 0, err
			}
			c, ok := m.(estimators.Clusterer)
			if !ok {
				return 0, fmt.Errorf("%s is not a clusterer", req.ModelType)
			}
			labels, err := c.FitPredict(ds.X)
			if err != nil {
				return 0, err
			}
			sil, err := reports.Silhouette(ds.X, labels)
			return -sil, err
		}, nil
	}
}

// crossValidateAUC is the mean ROC-AUC over folds: binary AUC of the positive
// class or weighted one-vs-rest AUC for more classes
func crossValidateAUC(build func(map[string]any) (any, error), ds *training.Dataset, folds []estimators.Fold, p map[string]any) (float64, error) {
	total := 0.0
	for _, f := range folds {
		m, err := build(p)
		if err != nil {
			return 0, err
		}
		clf, ok := m.(estimators.Classifier)
		if !ok {
			return 0, errors.New("model is not a classifier")
		}
		train, test := ds.Subset(f.Train), ds.Subset(f.Test)
		if err := clf.Fit(train.X, train.Labels, ds.NClasses); err != nil {
			return 0, err
		}
		scores, _ := estimators.Scores(clf, test.X)
		if scores == nil {
			scores = oneHot(clf.Predict(test.X), ds.NClasses)
		}
		var auc float64
		if ds.NClasses == 2 {
			positive := make([]bool, len(test.Labels))
			for i, l := range test.Labels {
				positive[i] = l == 1
			}
			auc, err = reports.RocAUC(mat.Col(nil, 1, scores), positive)
		} else {
			auc, err = reports.WeightedOvrAUC(test.Labels, scores)
		}
		if err != nil {
			return 0, err
		}
		total += auc
	}
	return total / float64(len(folds)), nil
}

func crossValidateMSE(build func(map[string]any) (any, error), ds *training.Dataset, folds []estimators.Fold, p map[string]any) (float64, error) {
	total := 0.0
	for _, f := range folds {
		m, err := build(p)
		if err != nil {
			return 0, err
		}
		reg, ok := m.(estimators.Regressor)
		if !ok {
			return 0, errors.New("model is not a regressor")
		}
		train, test := ds.Subset(f.Train), ds.Subset(f.Test)
		if err := reg.Fit(train.X, train.Values); err != nil {
			return 0, err
		}
		total += reports.MeanSquaredError(test.Values, reg.Predict(test.X))
	}
	return total / float64(len(folds)), nil
}

func oneHot(pred []int, k int) *mat.Dense {
	out := mat.NewDense(len(pred), k, nil)
	for i, c := range pred {
		if c >= 0 && c < k {
			out.Set(i, c, 1)
		}
	}
	return out
}

func copyParams(p map[string]any) map[string]any {
	out := make(map[string]any, len(p))
	for k, v := range p {
		out[k] = v
	}
	return out
}
