// Package training fits estimators for each task type and produces the reports
// and prediction tables of a training run.
package training

import (
	"context"
	"fmt"
	"strconv"

	"go.uber.org/zap"
	"gonum.org/v1/gonum/mat"

	"github.com/aegisshield/ml-workbench/internal/apperrors"
	"github.com/aegisshield/ml-workbench/internal/estimators"
	"github.com/aegisshield/ml-workbench/internal/frame"
	"github.com/aegisshield/ml-workbench/internal/models"
	"github.com/aegisshield/ml-workbench/internal/reports"
)

// Class-count bounds of a classification target
const (
	MinClasses = 2
	MaxClasses = 10
)

// Split names of prediction tables
const (
	SplitTrain = "train"
	SplitValid = "valid"
)

// Report is one scoring pass of a training run
type Report struct {
	Type models.ReportType
	Body reports.Body
}

// Prediction is the prediction table of one split
type Prediction struct {
	Split string
	Frame *frame.DataFrame
}

// Result is the outcome of a successful training run
type Result struct {
	Model       any
	Encoder     *estimators.LabelEncoder
	Reports     []Report
	Predictions []Prediction
}

// Trainer fits models task by task
type Trainer struct {
	seed   int
	logger *zap.Logger
}

// NewTrainer creates a trainer; seed drives the train/valid split
func NewTrainer(seed int, logger *zap.Logger) *Trainer {
	return &Trainer{seed: seed, logger: logger.With(zap.String("component", "trainer"))}
}

// Prepare encodes the training data of a model. A classification target must
// hold between MinClasses and MaxClasses distinct values.
func (t *Trainer) Prepare(meta *models.ModelMetadata, features *frame.DataFrame, target *frame.Series) (*Dataset, error) {
	if meta.TaskType == models.TaskClassification && target != nil {
		switch n := target.NUnique(); {
		case n < MinClasses:
			return nil, apperrors.New(apperrors.OneClassClassification,
				"target %q has %d distinct value(s); classification needs at least %d", target.Name(), n, MinClasses).
				With("n_classes", n)
		case n > MaxClasses:
			return nil, apperrors.New(apperrors.TooManyClassesClassification,
				"target %q has %d distinct values; classification allows at most %d", target.Name(), n, MaxClasses).
				With("n_classes", n)
		}
	}
	ds, err := NewDataset(meta.TaskType, features, target)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ModelTraining, err, "cannot prepare training data")
	}
	return ds, nil
}

// Train fits model on ds and scores it. features is the table ds was built from;
// its rows are copied into the prediction tables.
func (t *Trainer) Train(ctx context.Context, meta *models.ModelMetadata, model any, features *frame.DataFrame, ds *Dataset) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	logger := t.logger.With(
		zap.String("model_id", meta.ID),
		zap.String("task_type", string(meta.TaskType)),
		zap.String("model_type", meta.ModelParams.ModelType))
	logger.Info("Training started", zap.Int("rows", ds.Rows()), zap.Int("features", len(ds.Features)))

	var (
		res *Result
		err error
	)
	switch meta.TaskType {
	case models.TaskClassification:
		res, err = t.classification(ctx, meta, model, features, ds)
	case models.TaskRegression:
		if vr, ok := model.(*estimators.VotingRegressor); ok {
			res, err = t.votingRegression(vr, features, ds)
		} else {
			res, err = t.regression(ctx, meta, model, features, ds)
		}
	case models.TaskClustering:
		res, err = t.clustering(model, ds)
	case models.TaskOutlierDetection:
		res, err = t.outliers(model, ds)
	case models.TaskDimensionalityReduction:
		res, err = t.reduction(model, ds)
	default:
		return nil, apperrors.New(apperrors.UnknownTaskType, "unknown task type %q", meta.TaskType)
	}
	if err != nil {
		if _, typed := apperrors.As(err); typed || ctx.Err() != nil {
			return nil, err
		}
		return nil, apperrors.Wrap(apperrors.ModelTraining, err, "training %s failed", meta.ModelParams.ModelType)
	}
	res.Encoder = ds.Encoder
	logger.Info("Training finished", zap.Int("reports", len(res.Reports)))
	return res, nil
}

func (t *Trainer) split(meta *models.ModelMetadata, ds *Dataset) (train, valid []int, err error) {
	var strata []int
	if meta.Stratify && ds.Labels != nil {
		strata = ds.Labels
	}
	train, valid, err = estimators.TrainTestSplit(ds.Rows(), meta.TestSize, strata, t.seed)
	if err != nil {
		return nil, nil, apperrors.Wrap(apperrors.ModelTraining, err, "cannot split the data")
	}
	return train, valid, nil
}

func (t *Trainer) classification(ctx context.Context, meta *models.ModelMetadata, model any, features *frame.DataFrame, ds *Dataset) (*Result, error) {
	clf, ok := model.(estimators.Classifier)
	if !ok {
		return nil, fmt.Errorf("%s is not a classifier", meta.ModelParams.ModelType)
	}
	trainIdx, validIdx, err := t.split(meta, ds)
	if err != nil {
		return nil, err
	}
	train := ds.Subset(trainIdx)
	if err := clf.Fit(train.X, train.Labels, ds.NClasses); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	res := &Result{Model: clf}
	for _, part := range []struct {
		split string
		kind  models.ReportType
		idx   []int
	}{
		{SplitTrain, models.ReportTrain, trainIdx},
		{SplitValid, models.ReportValid, validIdx},
	} {
		sub := ds.Subset(part.idx)
		pred := clf.Predict(sub.X)
		scores, _ := estimators.Scores(clf, sub.X)
		res.Reports = append(res.Reports, Report{
			Type: part.kind,
			Body: reports.Classification(sub.X, sub.Labels, pred, scores, ds.Encoder.Classes),
		})
		pf, err := predictionFrame(features.Take(part.idx),
			labelSeries(ds.Target.Name(), ds.Encoder.Decode(pred), ds.Target.IsNumeric()))
		if err != nil {
			return nil, err
		}
		res.Predictions = append(res.Predictions, Prediction{Split: part.split, Frame: pf})
	}
	return res, nil
}

func (t *Trainer) regression(ctx context.Context, meta *models.ModelMetadata, model any, features *frame.DataFrame, ds *Dataset) (*Result, error) {
	reg, ok := model.(estimators.Regressor)
	if !ok {
		return nil, fmt.Errorf("%s is not a regressor", meta.ModelParams.ModelType)
	}
	trainIdx, validIdx, err := t.split(meta, ds)
	if err != nil {
		return nil, err
	}
	train := ds.Subset(trainIdx)
	if err := reg.Fit(train.X, train.Values); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	res := &Result{Model: reg}
	for _, part := range []struct {
		split string
		kind  models.ReportType
		idx   []int
	}{
		{SplitTrain, models.ReportTrain, trainIdx},
		{SplitValid, models.ReportValid, validIdx},
	} {
		sub := ds.Subset(part.idx)
		pred := reg.Predict(sub.X)
		res.Reports = append(res.Reports, Report{Type: part.kind, Body: reports.Regression(sub.X, sub.Values, pred)})
		pf, err := predictionFrame(features.Take(part.idx), ds.Target.WithFloats(pred))
		if err != nil {
			return nil, err
		}
		res.Predictions = append(res.Predictions, Prediction{Split: part.split, Frame: pf})
	}
	return res, nil
}

// votingRegression scores prefit members on every row without refitting
func (t *Trainer) votingRegression(vr *estimators.VotingRegressor, features *frame.DataFrame, ds *Dataset) (*Result, error) {
	pred := vr.Predict(ds.X)
	pf, err := predictionFrame(features.Clone(), ds.Target.WithFloats(pred))
	if err != nil {
		return nil, err
	}
	return &Result{
		Model:       vr,
		Reports:     []Report{{Type: models.ReportTrain, Body: reports.Regression(ds.X, ds.Values, pred)}},
		Predictions: []Prediction{{Split: SplitTrain, Frame: pf}},
	}, nil
}

func (t *Trainer) clustering(model any, ds *Dataset) (*Result, error) {
	c, ok := model.(estimators.Clusterer)
	if !ok {
		return nil, fmt.Errorf("model is not a clusterer")
	}
	labels, err := c.FitPredict(ds.X)
	if err != nil {
		return nil, err
	}
	return &Result{Model: c, Reports: []Report{{Type: models.ReportTrain, Body: reports.Clustering(ds.X, labels)}}}, nil
}

func (t *Trainer) outliers(model any, ds *Dataset) (*Result, error) {
	d, ok := model.(estimators.OutlierDetector)
	if !ok {
		return nil, fmt.Errorf("model is not an outlier detector")
	}
	flags, err := d.FitPredict(ds.X)
	if err != nil {
		return nil, err
	}
	return &Result{Model: d, Reports: []Report{{Type: models.ReportTrain, Body: reports.Outliers(ds.X, IsOutlier(flags))}}}, nil
}

func (t *Trainer) reduction(model any, ds *Dataset) (*Result, error) {
	r, ok := model.(estimators.Reducer)
	if !ok {
		return nil, fmt.Errorf("model is not a reducer")
	}
	reduced, err := r.FitTransform(ds.X, ds.Labels)
	if err != nil {
		return nil, err
	}
	var ratio []float64
	if ve, ok := r.(estimators.VarianceExplainer); ok {
		ratio = ve.ExplainedVarianceRatio()
	}
	var labels []string
	if ds.Target != nil {
		labels, _ = ds.Target.Texts()
	}
	return &Result{Model: r, Reports: []Report{{Type: models.ReportTrain, Body: reports.Reduction(reduced, ratio, labels)}}}, nil
}

// IsOutlier maps detector output (1 inlier, -1 outlier) to flags
func IsOutlier(pred []int) []bool {
	out := make([]bool, len(pred))
	for i, p := range pred {
		out[i] = p == -1
	}
	return out
}

// ReducedFrame names reduced components component_0, component_1, ... and
// joins the target when there is one
func ReducedFrame(reduced *mat.Dense, target *frame.Series) (*frame.DataFrame, error) {
	_, c := reduced.Dims()
	names := make([]string, c)
	for j := range names {
		names[j] = "component_" + strconv.Itoa(j)
	}
	df, err := frame.FromMatrix(reduced, names)
	if err != nil {
		return nil, err
	}
	if target != nil {
		if err := df.Set(target.Clone()); err != nil {
			return nil, err
		}
	}
	return df, nil
}

func predictionFrame(features *frame.DataFrame, prediction *frame.Series) (*frame.DataFrame, error) {
	if err := features.Set(prediction); err != nil {
		return nil, err
	}
	return features, nil
}

// labelSeries turns decoded class labels back into a column; labels of a
// numeric target stay numeric
func labelSeries(name string, labels []string, numeric bool) *frame.Series {
	if numeric {
		values := make([]float64, len(labels))
		ok := true
		for i, l := range labels {
			v, err := strconv.ParseFloat(l, 64)
			if err != nil {
				ok = false
				break
			}
			values[i] = v
		}
		if ok {
			return frame.NewNumeric(name, values)
		}
	}
	return frame.NewString(name, labels, nil)
}
