package params

import (
	"context"
	"fmt"
	"slices"
	"sort"

	"go.uber.org/zap"

	"github.com/aegisshield/ml-workbench/internal/apperrors"
	"github.com/aegisshield/ml-workbench/internal/estimators"
	"github.com/aegisshield/ml-workbench/internal/models"
)

// Searcher discovers a param dict for a model type on a dataframe's data
type Searcher interface {
	Search(ctx context.Context, req SearchRequest) (map[string]any, error)
}

// SearchRequest names the data and space of one hyperparameter search
type SearchRequest struct {
	UserID      string
	DataFrameID string
	Task        models.TaskType
	ModelType   string
	// Space holds the searched parameters; Fixed holds values the caller pinned
	Space []ParamSpec
	Fixed map[string]any
}

var unknownModel = map[models.TaskType]apperrors.Code{
	models.TaskClassification:          apperrors.UnknownClassificationModel,
	models.TaskRegression:              apperrors.UnknownRegressionModel,
	models.TaskClustering:              apperrors.UnknownClusteringModel,
	models.TaskOutlierDetection:        apperrors.UnknownOutlierDetectionModel,
	models.TaskDimensionalityReduction: apperrors.UnknownDimensionalityReductionModel,
}

// ModelTypes lists the model types of a task, sorted
func ModelTypes(task models.TaskType) ([]string, error) {
	byType, ok := schemas[task]
	if !ok {
		return nil, unknownTask(task)
	}
	out := make([]string, 0, len(byType))
	for name := range byType {
		out = append(out, name)
	}
	sort.Strings(out)
	return out, nil
}

// SchemaFor returns the schema of a task's model type
func SchemaFor(task models.TaskType, modelType string) (Schema, error) {
	byType, ok := schemas[task]
	if !ok {
		return nil, unknownTask(task)
	}
	s, ok := byType[modelType]
	if !ok {
		return nil, apperrors.New(unknownModel[task], "unknown %s model %q", task, modelType).
			With("task_type", string(task)).
			With("model_type", modelType)
	}
	return s, nil
}

// Validator turns requested model params into validated ones
type Validator struct {
	searcher Searcher
	logger   *zap.Logger
}

// NewValidator creates a validator; searcher may be nil when hyperopt is not offered
func NewValidator(searcher Searcher, logger *zap.Logger) *Validator {
	return &Validator{searcher: searcher, logger: logger.With(zap.String("component", "params"))}
}

// Validate resolves params for the given params type. Hyperopt searches the
// dataframe's data over every parameter the request did not pin.
func (v *Validator) Validate(ctx context.Context, userID string, task models.TaskType, mp models.ModelParams, pt models.ParamsType, dataframeID string) (*models.ModelParams, error) {
	schema, err := SchemaFor(task, mp.ModelType)
	if err != nil {
		return nil, err
	}
	var values map[string]any
	switch pt {
	case models.ParamsDefault:
		values = map[string]any{}
	case models.ParamsCustom:
		values = mp.Params
	case models.ParamsHyperopt:
		values, err = v.search(ctx, userID, task, mp, schema, dataframeID)
		if err != nil {
			return nil, err
		}
	default:
		return nil, apperrors.New(apperrors.UnknownParamsType, "unknown params type %q", pt).
			With("params_type", string(pt))
	}
	clean, err := schema.Validate(values)
	if err != nil {
		return nil, validation(mp.ModelType, err)
	}
	return &models.ModelParams{ModelType: mp.ModelType, Params: clean}, nil
}

func (v *Validator) search(ctx context.Context, userID string, task models.TaskType, mp models.ModelParams, schema Schema, dataframeID string) (map[string]any, error) {
	if v.searcher == nil {
		return nil, apperrors.New(apperrors.ParamsSearching, "hyperparameter search is not configured")
	}
	fixed := make(map[string]any, len(mp.Params))
	for k, val := range mp.Params {
		fixed[k] = val
	}
	if _, err := schema.Validate(fixed); err != nil {
		return nil, validation(mp.ModelType, err)
	}
	var space []ParamSpec
	for _, p := range schema.SearchSpace() {
		if _, pinned := fixed[p.Name]; !pinned {
			space = append(space, p)
		}
	}
	found, err := v.searcher.Search(ctx, SearchRequest{
		UserID:      userID,
		DataFrameID: dataframeID,
		Task:        task,
		ModelType:   mp.ModelType,
		Space:       space,
		Fixed:       fixed,
	})
	if err != nil {
		if _, typed := apperrors.As(err); typed {
			return nil, err
		}
		return nil, apperrors.Wrap(apperrors.ParamsSearching, err, "hyperparameter search failed for %s", mp.ModelType)
	}
	if found == nil {
		found = map[string]any{}
	}
	for k, val := range fixed {
		found[k] = val
	}
	v.logger.Info("Hyperparameter search finished",
		zap.String("user_id", userID),
		zap.String("model_type", mp.ModelType),
		zap.Any("params", found))
	return found, nil
}

// ValidateComposition checks the params of a composition type and fills defaults.
// A stacking meta-estimator's params are validated against its own schema.
func ValidateComposition(kind string, values map[string]any) (map[string]any, error) {
	schema, err := CompositionSchema(kind)
	if err != nil {
		return nil, err
	}
	own := make(map[string]any, len(values))
	for k, v := range values {
		own[k] = v
	}
	nested, hasNested := own["final_estimator_params"]
	stacking := len(estimators.FinalEstimators(kind)) > 0
	if stacking {
		delete(own, "final_estimator_params")
	}
	clean, err := schema.withoutObjects().Validate(own)
	if err != nil {
		return nil, validation(kind, err)
	}
	if !stacking {
		return clean, nil
	}

	var finalValues map[string]any
	if hasNested && nested != nil {
		m, ok := nested.(map[string]any)
		if !ok {
			return nil, validation(kind, fmt.Errorf("final_estimator_params: must be an object, got %v", nested))
		}
		finalValues = m
	}
	final := clean["final_estimator"].(string)
	finalSchema, ok := finalEstimatorSchemas[final]
	if !ok {
		task, _ := estimators.CompositionTask(kind)
		if finalSchema, err = SchemaFor(task, final); err != nil {
			return nil, err
		}
	}
	finalParams, err := finalSchema.Validate(finalValues)
	if err != nil {
		return nil, validation(final, err)
	}
	clean["final_estimator_params"] = finalParams
	return clean, nil
}

// CompositionSchema describes the params a composition type accepts
func CompositionSchema(kind string) (Schema, error) {
	if _, ok := estimators.CompositionTask(kind); !ok {
		return nil, apperrors.New(apperrors.UnknownCompositionType, "unknown composition type %q", kind).
			With("composition_type", kind)
	}
	if kind == estimators.VotingClassifierType {
		return Schema{text("voting", "hard", "hard", "soft")}, nil
	}
	if finals := estimators.FinalEstimators(kind); len(finals) > 0 {
		return Schema{
			text("final_estimator", finals[0], finals...),
			{Name: "final_estimator_params", Kind: kindObject, Default: map[string]any{}},
		}, nil
	}
	return Schema{}, nil
}

// kindObject marks nested params validated against another schema
const kindObject Kind = "object"

func (s Schema) withoutObjects() Schema {
	return slices.DeleteFunc(slices.Clone(s), func(p ParamSpec) bool { return p.Kind == kindObject })
}

func unknownTask(task models.TaskType) error {
	return apperrors.New(apperrors.UnknownTaskType, "unknown task type %q", task).
		With("task_type", string(task))
}
