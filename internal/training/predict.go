package training

import (
	"errors"
	"fmt"
	"math"

	"github.com/aegisshield/ml-workbench/internal/apperrors"
	"github.com/aegisshield/ml-workbench/internal/estimators"
	"github.com/aegisshield/ml-workbench/internal/frame"
	"github.com/aegisshield/ml-workbench/internal/models"
)

// Prediction column names of tasks without a target
const (
	ClusterColumn   = "cluster"
	OutlierColumn   = "is_outlier"
	PredictedColumn = "prediction"
)

// Predict runs a fitted bundle over features and returns the prediction table:
// the features plus a prediction column, or the reduced components for
// dimensionality reduction. features must hold every bundle feature.
func Predict(b *estimators.Bundle, features *frame.DataFrame) (out *frame.DataFrame, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = apperrors.Wrap(apperrors.ModelPrediction, fmt.Errorf("panic: %v", r), "prediction with %s failed", b.ModelType)
		}
	}()
	ordered, err := features.Select(b.Features...)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.FeaturesNotEqual, err, "features do not match the model")
	}
	x, err := ordered.Matrix(b.Features)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ModelPrediction, err, "cannot build the feature matrix")
	}
	for _, v := range x.RawMatrix().Data {
		if math.IsNaN(v) {
			return nil, apperrors.New(apperrors.ModelPrediction, "feature columns contain missing values")
		}
	}

	name := b.Target
	if name == "" {
		name = PredictedColumn
	}
	var column *frame.Series
	switch b.TaskType {
	case models.TaskClassification:
		clf, ok := b.Model.(estimators.Classifier)
		if !ok || b.Labels == nil {
			return nil, predictionError(b, errors.New("bundle holds no classifier"))
		}
		column = labelSeries(name, b.Labels.Decode(clf.Predict(x)), true)
	case models.TaskRegression:
		reg, ok := b.Model.(estimators.Regressor)
		if !ok {
			return nil, predictionError(b, errors.New("bundle holds no regressor"))
		}
		column = frame.NewFloat(name, reg.Predict(x))
	case models.TaskClustering:
		c, ok := b.Model.(estimators.ClusterPredictor)
		if !ok {
			return nil, predictionError(b, errors.New("the model cannot assign clusters to new rows"))
		}
		labels := c.PredictCluster(x)
		values := make([]int64, len(labels))
		for i, l := range labels {
			values[i] = int64(l)
		}
		column = frame.NewInt(ClusterColumn, values)
	case models.TaskOutlierDetection:
		d, ok := b.Model.(estimators.OutlierPredictor)
		if !ok {
			return nil, predictionError(b, errors.New("the model cannot label new rows"))
		}
		column = frame.NewBool(OutlierColumn, IsOutlier(d.PredictOutlier(x)))
	case models.TaskDimensionalityReduction:
		tr, ok := b.Model.(estimators.Transformer)
		if !ok {
			return nil, predictionError(b, errors.New("the model cannot transform new rows"))
		}
		reduced, err := ReducedFrame(tr.Transform(x), nil)
		if err != nil {
			return nil, predictionError(b, err)
		}
		return reduced, nil
	default:
		return nil, apperrors.New(apperrors.UnknownTaskType, "unknown task type %q", b.TaskType)
	}

	out = ordered.Clone()
	if err := out.Set(column); err != nil {
		return nil, predictionError(b, err)
	}
	return out, nil
}

func predictionError(b *estimators.Bundle, err error) error {
	return apperrors.Wrap(apperrors.ModelPrediction, err, "prediction with %s failed", b.ModelType)
}
