package training

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/aegisshield/ml-workbench/internal/estimators"
	"github.com/aegisshield/ml-workbench/internal/frame"
	"github.com/aegisshield/ml-workbench/internal/models"
)

// Dataset is a feature matrix with its target encoded for one task
type Dataset struct {
	Task     models.TaskType
	Features []string
	X        *mat.Dense
	// Target is the raw target column; nil for unsupervised data without one
	Target *frame.Series
	// Encoder, Labels and NClasses hold an encoded classification target. A
	// dimensionality-reduction target is encoded the same way.
	Encoder  *estimators.LabelEncoder
	Labels   []int
	NClasses int
	// Values holds a regression target
	Values []float64
}

// NewDataset builds the matrix of every feature column and encodes the target
// the task needs. Missing feature or target values are rejected.
func NewDataset(task models.TaskType, features *frame.DataFrame, target *frame.Series) (*Dataset, error) {
	names := features.Columns()
	x, err := features.Matrix(names)
	if err != nil {
		return nil, err
	}
	for _, v := range x.RawMatrix().Data {
		if math.IsNaN(v) {
			return nil, errors.New("feature columns contain missing values")
		}
	}
	ds := &Dataset{Task: task, Features: names, X: x, Target: target}
	if target != nil && target.Len() != features.NRows() {
		return nil, fmt.Errorf("target has %d rows, features have %d", target.Len(), features.NRows())
	}

	switch task {
	case models.TaskClassification, models.TaskDimensionalityReduction:
		if target == nil {
			if task == models.TaskClassification {
				return nil, errors.New("classification needs a target column")
			}
			return ds, nil
		}
		texts, na := target.Texts()
		for _, missing := range na {
			if missing {
				return nil, fmt.Errorf("target column %q contains missing values", target.Name())
			}
		}
		ds.Encoder = estimators.FitLabels(texts)
		ds.Labels = ds.Encoder.Encode(texts)
		ds.NClasses = len(ds.Encoder.Classes)
	case models.TaskRegression:
		if target == nil {
			return nil, errors.New("regression needs a target column")
		}
		ds.Values = make([]float64, target.Len())
		for i := range ds.Values {
			v := target.Float(i)
			if math.IsNaN(v) {
				return nil, fmt.Errorf("target column %q has a missing or non-numeric value at row %d", target.Name(), i)
			}
			ds.Values[i] = v
		}
	}
	return ds, nil
}

// Rows returns the number of samples
func (d *Dataset) Rows() int {
	r, _ := d.X.Dims()
	return r
}

// Subset returns the dataset restricted to the given rows; the encoder is shared
func (d *Dataset) Subset(idx []int) *Dataset {
	out := &Dataset{
		Task:     d.Task,
		Features: d.Features,
		X:        estimators.TakeRows(d.X, idx),
		Encoder:  d.Encoder,
		NClasses: d.NClasses,
	}
	if d.Target != nil {
		out.Target = d.Target.Take(idx)
	}
	if d.Labels != nil {
		out.Labels = pickInts(d.Labels, idx)
	}
	if d.Values != nil {
		out.Values = pickFloats(d.Values, idx)
	}
	return out
}

func pickInts(v []int, idx []int) []int {
	out := make([]int, len(idx))
	for i, j := range idx {
		out[i] = v[j]
	}
	return out
}

func pickFloats(v []float64, idx []int) []float64 {
	out := make([]float64, len(idx))
	for i, j := range idx {
		out[i] = v[j]
	}
	return out
}
