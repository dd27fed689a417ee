// Package apperrors defines the typed error taxonomy shared by every layer of the service.
//
// Each error carries a Code naming the failure (ColumnsNotEqual, ModelTraining, ...) and a Kind
// that decides how the HTTP layer surfaces it: client and operational errors become 4xx
// responses, critical errors signal a broken invariant and become 5xx.
package apperrors

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies an error by the surface it is reported on
type Kind string

const (
	KindClient      Kind = "client"
	KindNotFound    Kind = "not_found"
	KindConflict    Kind = "conflict"
	KindOperational Kind = "operational"
	KindCritical    Kind = "critical"
)

// Code names a specific failure
type Code string

// Client input errors
const (
	DataFrameNotFound                   Code = "DataFrameNotFound"
	ModelNotFound                       Code = "ModelNotFound"
	JobNotFound                         Code = "JobNotFound"
	ReportNotFound                      Code = "ReportNotFound"
	FilenameExists                      Code = "FilenameExists"
	ApplyingMethodNotExists             Code = "ApplyingMethodNotExists"
	InvalidMethodParams                 Code = "InvalidMethodParams"
	ColumnNotFoundInMetadata            Code = "ColumnNotFoundInMetadata"
	ColumnNotFoundInDataFrame           Code = "ColumnNotFoundInDataFrame"
	TargetFeatureInColumns              Code = "TargetFeatureInColumns"
	WrongColumnType                     Code = "WrongColumnType"
	NaNInColumns                        Code = "NaNInColumns"
	TooManyCategories                   Code = "TooManyCategories"
	FillCustomValueWrongDType           Code = "FillCustomValueWrongDType"
	PredictionDataFrameReadOnly         Code = "PredictionDataFrameReadOnly"
	SetTargetNotFoundInMetadata         Code = "SetTargetNotFoundInMetadata"
	TargetNotFound                      Code = "TargetNotFound"
	DataFrameIsRoot                     Code = "DataFrameIsRoot"
	NotPredictionDataFrame              Code = "NotPredictionDataFrame"
	EmptyDataFrame                      Code = "EmptyDataFrame"
	InvalidCSV                          Code = "InvalidCSV"
	InvalidPagination                   Code = "InvalidPagination"
	UnknownTaskType                     Code = "UnknownTaskType"
	UnknownParamsType                   Code = "UnknownParamsType"
	UnknownClassificationModel          Code = "UnknownClassificationModel"
	UnknownRegressionModel              Code = "UnknownRegressionModel"
	UnknownClusteringModel              Code = "UnknownClusteringModel"
	UnknownOutlierDetectionModel        Code = "UnknownOutlierDetectionModel"
	UnknownDimensionalityReductionModel Code = "UnknownDimensionalityReductionModel"
	UnknownCompositionType              Code = "UnknownCompositionType"
	ModelParamsValidation               Code = "ModelParamsValidation"
	TargetColumnRequired                Code = "TargetColumnRequired"
	InvalidTestSize                     Code = "InvalidTestSize"
	HyperoptTaskType                    Code = "HyperoptTaskType"
	FeaturesNotEqual                    Code = "FeaturesNotEqual"
	ModelNotTrained                     Code = "ModelNotTrained"
	UnknownSelector                     Code = "UnknownSelector"
	InvalidSelectorParams               Code = "InvalidSelectorParams"
	OneClassClassification              Code = "OneClassClassification"
	TooManyClassesClassification        Code = "TooManyClassesClassification"
	CompositionTooFewModels             Code = "CompositionTooFewModels"
	DifferentDataFramesComposition      Code = "DifferentDataFramesComposition"
	DifferentTaskTypesComposition       Code = "DifferentTaskTypesComposition"
	WrongTaskTypeComposition            Code = "WrongTaskTypeComposition"
	DifferentFeatureColumnsComposition  Code = "DifferentFeatureColumnsComposition"
	DifferentTargetColumnsComposition   Code = "DifferentTargetColumnsComposition"
	CompositionMemberNotTrained         Code = "CompositionMemberNotTrained"
	Unauthorized                        Code = "Unauthorized"
	InvalidRequest                      Code = "InvalidRequest"
)

// Operational errors
const (
	ApplyingMethod     Code = "ApplyingMethod"
	SelectorProcessing Code = "SelectorProcessing"
	ParamsSearching    Code = "ParamsSearching"
	ModelConstruction  Code = "ModelConstruction"
	ModelTraining      Code = "ModelTraining"
	ModelPrediction    Code = "ModelPrediction"
)

// Critical invariant violations
const (
	ColumnsNotEqual         Code = "ColumnsNotEqual"
	TargetNotInColumnTypes  Code = "TargetNotInColumnTypes"
	ColumnTypesUndefined    Code = "ColumnTypesUndefined"
	FileNotFound            Code = "FileNotFound"
	CategoricalColumnFound  Code = "CategoricalColumnFound"
	TrainedModelFileMissing Code = "TrainedModelFileMissing"
	Internal                Code = "Internal"
)

var kinds = map[Code]Kind{
	DataFrameNotFound: KindNotFound,
	ModelNotFound:     KindNotFound,
	JobNotFound:       KindNotFound,
	ReportNotFound:    KindNotFound,
	FilenameExists:    KindConflict,

	ApplyingMethod:     KindOperational,
	SelectorProcessing: KindOperational,
	ParamsSearching:    KindOperational,
	ModelConstruction:  KindOperational,
	ModelTraining:      KindOperational,
	ModelPrediction:    KindOperational,

	ColumnsNotEqual:         KindCritical,
	TargetNotInColumnTypes:  KindCritical,
	ColumnTypesUndefined:    KindCritical,
	FileNotFound:            KindCritical,
	CategoricalColumnFound:  KindCritical,
	TrainedModelFileMissing: KindCritical,
	Internal:                KindCritical,
}

// KindFor returns the kind registered for a code; unregistered codes are client errors
func KindFor(code Code) Kind {
	if kind, ok := kinds[code]; ok {
		return kind
	}
	return KindClient
}

// Error is the typed error raised by service components
type Error struct {
	Code    Code
	Kind    Kind
	Message string
	Detail  map[string]any
	Err     error
}

// New creates an error with a formatted message
func New(code Code, format string, args ...any) *Error {
	return &Error{
		Code:    code,
		Kind:    KindFor(code),
		Message: fmt.Sprintf(format, args...),
	}
}

// Wrap creates an error of the given code around an underlying cause.
// The cause's type and text are kept in the detail object.
func Wrap(code Code, err error, format string, args ...any) *Error {
	e := New(code, format, args...)
	e.Err = err
	if err != nil {
		e.Detail = map[string]any{
			"cause":      err.Error(),
			"cause_type": causeType(err),
		}
		if e.Message == "" {
			e.Message = err.Error()
		}
	}
	return e
}

// With attaches a detail entry and returns the error for chaining
func (e *Error) With(key string, value any) *Error {
	if e.Detail == nil {
		e.Detail = make(map[string]any)
	}
	e.Detail[key] = value
	return e
}

// Error implements the error interface
func (e *Error) Error() string {
	if e.Err != nil && e.Message != e.Err.Error() {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap implements the error unwrapping interface
func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether target is an *Error with the same code
func (e *Error) Is(target error) bool {
	var other *Error
	if errors.As(target, &other) {
		return other.Code == e.Code
	}
	return false
}

// Sentinel returns a comparable error value for errors.Is checks against a code
func Sentinel(code Code) error {
	return &Error{Code: code, Kind: KindFor(code)}
}

// As extracts the outermost *Error from an error chain
func As(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// CodeOf returns the code of the outermost typed error, or Internal
func CodeOf(err error) Code {
	if e, ok := As(err); ok {
		return e.Code
	}
	return Internal
}

// HasCode reports whether any error in the chain carries the given code
func HasCode(err error, code Code) bool {
	return errors.Is(err, Sentinel(code))
}

// HTTPStatus maps an error onto the response status used by the API layer
func HTTPStatus(err error) int {
	e, ok := As(err)
	if !ok {
		return http.StatusInternalServerError
	}
	switch e.Kind {
	case KindNotFound:
		return http.StatusNotFound
	case KindConflict:
		return http.StatusConflict
	case KindClient, KindOperational:
		if e.Code == Unauthorized {
			return http.StatusUnauthorized
		}
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// Body builds the structured detail object returned to clients
func Body(err error) map[string]any {
	e, ok := As(err)
	if !ok {
		return map[string]any{
			"error_type": string(Internal),
			"message":    err.Error(),
			"detail":     map[string]any{},
		}
	}
	detail := e.Detail
	if detail == nil {
		detail = map[string]any{}
	}
	return map[string]any{
		"error_type": string(e.Code),
		"message":    e.Message,
		"detail":     detail,
	}
}

func causeType(err error) string {
	if e, ok := err.(*Error); ok {
		return string(e.Code)
	}
	return fmt.Sprintf("%T", err)
}
