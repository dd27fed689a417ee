package training

import (
	"slices"

	"github.com/aegisshield/ml-workbench/internal/apperrors"
	"github.com/aegisshield/ml-workbench/internal/estimators"
	"github.com/aegisshield/ml-workbench/internal/models"
)

// CheckMembers verifies that composition members can be combined: at least two
// trained models of the composition's task, trained on the same dataframe (or on
// dataframes with the same columns) with equal feature and target columns.
// frames maps each member's dataframe id to its metadata.
func CheckMembers(kind string, members []*models.ModelMetadata, frames map[string]*models.DataFrameMetadata) error {
	task, ok := estimators.CompositionTask(kind)
	if !ok {
		return apperrors.New(apperrors.UnknownCompositionType, "unknown composition type %q", kind).
			With("composition_type", kind)
	}
	if len(members) < 2 {
		return apperrors.New(apperrors.CompositionTooFewModels, "a composition needs at least two models, got %d", len(members))
	}
	for _, m := range members {
		if m.Status != models.ModelStatusTrained {
			return apperrors.New(apperrors.CompositionMemberNotTrained, "model %q is %s", m.Filename, m.Status).
				With("model_id", m.ID)
		}
	}

	first := members[0]
	for _, m := range members[1:] {
		if !sameDataFrame(first, m, frames) {
			return apperrors.New(apperrors.DifferentDataFramesComposition,
				"models %q and %q were trained on different dataframes", first.Filename, m.Filename)
		}
	}
	for _, m := range members[1:] {
		if m.TaskType != first.TaskType {
			return apperrors.New(apperrors.DifferentTaskTypesComposition,
				"models %q and %q solve different tasks", first.Filename, m.Filename).
				With("task_types", []models.TaskType{first.TaskType, m.TaskType})
		}
	}
	if first.TaskType != task {
		return apperrors.New(apperrors.WrongTaskTypeComposition, "%s combines %s models, got %s", kind, task, first.TaskType).
			With("task_type", string(first.TaskType))
	}
	for _, m := range members[1:] {
		if !slices.Equal(m.FeatureColumns, first.FeatureColumns) {
			return apperrors.New(apperrors.DifferentFeatureColumnsComposition,
				"models %q and %q use different feature columns", first.Filename, m.Filename)
		}
	}
	for _, m := range members[1:] {
		if deref(m.TargetColumn) != deref(first.TargetColumn) {
			return apperrors.New(apperrors.DifferentTargetColumnsComposition,
				"models %q and %q predict different targets", first.Filename, m.Filename)
		}
	}
	return nil
}

func sameDataFrame(a, b *models.ModelMetadata, frames map[string]*models.DataFrameMetadata) bool {
	if a.DataFrameID == b.DataFrameID {
		return true
	}
	fa, fb := frames[a.DataFrameID], frames[b.DataFrameID]
	if fa == nil || fb == nil {
		return false
	}
	ca, cb := fa.FeatureColumnsTypes.All(), fb.FeatureColumnsTypes.All()
	slices.Sort(ca)
	slices.Sort(cb)
	return slices.Equal(ca, cb) && deref(fa.TargetFeature) == deref(fb.TargetFeature)
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// NewComposition assembles fitted member bundles into a composition predicting
// over the classes of ds
func NewComposition(kind string, bundles []*estimators.Bundle, params map[string]any, ds *Dataset) (any, error) {
	members := make([]estimators.Member, len(bundles))
	for i, b := range bundles {
		members[i] = estimators.Member{Model: b.Model}
		if b.Labels != nil {
			members[i].Classes = b.Labels.Classes
		}
	}
	var classes []string
	if ds.Encoder != nil {
		classes = ds.Encoder.Classes
	}
	comp, err := estimators.NewComposition(kind, members, params, classes)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ModelConstruction, err, "cannot build %s", kind)
	}
	return comp, nil
}
