package methods

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aegisshield/ml-workbench/internal/apperrors"
	"github.com/aegisshield/ml-workbench/internal/frame"
	"github.com/aegisshield/ml-workbench/internal/models"
)

func housesFrame(cities ...string) (*frame.DataFrame, *models.DataFrameMetadata) {
	n := len(cities)
	ages := make([]int64, n)
	prices := make([]float64, n)
	for i := range cities {
		ages[i] = int64(20 + i)
		prices[i] = float64(100 + 10*i)
	}
	df := frame.MustNew(
		frame.NewInt("age", ages),
		frame.NewFloat("price", prices),
		frame.NewString("city", cities, nil),
	)
	meta := &models.DataFrameMetadata{
		UserID:   "u1",
		Filename: "houses",
		FeatureColumnsTypes: models.ColumnTypes{
			Numeric:     []string{"age", "price"},
			Categorical: []string{"city"},
		},
	}
	return df, meta
}

func mstep(name string, columns []string, params map[string]any) models.ApplyMethodParams {
	return models.ApplyMethodParams{MethodName: name, Columns: columns, Params: params}
}

func floats(t *testing.T, df *frame.DataFrame, name string) []float64 {
	t.Helper()
	col, ok := df.Column(name)
	require.True(t, ok, "column %s", name)
	return col.Floats()
}

func TestOneHotRecordAndReplay(t *testing.T) {
	a := NewApplier(0)
	df, meta := housesFrame("A", "B", "C", "A")

	res, err := a.Apply(df, meta, []models.ApplyMethodParams{mstep(OneHotEncoding, []string{"city"}, nil)})
	require.NoError(t, err)

	assert.Equal(t, []string{"age", "price", "city_B", "city_C"}, res.DataFrame.Columns())
	assert.Equal(t, []string{"age", "price", "city_B", "city_C"}, res.Types.Numeric)
	assert.Empty(t, res.Types.Categorical)
	assert.Equal(t, []float64{0, 1, 0, 0}, floats(t, res.DataFrame, "city_B"))

	require.Len(t, res.Steps, 1)
	recorded := res.Steps[0].Params
	assert.Equal(t, []any{[]any{"A", "B", "C"}}, recorded["categories_"])
	assert.Equal(t, []any{float64(0)}, recorded["drop_idx_"])

	t.Run("replay on disjoint table", func(t *testing.T) {
		other, otherMeta := housesFrame("B", "A", "A")
		replayed, err := a.Apply(other, otherMeta, res.Steps)
		require.NoError(t, err)

		assert.Equal(t, []string{"age", "price", "city_B", "city_C"}, replayed.DataFrame.Columns())
		assert.Equal(t, []float64{0, 0, 0}, floats(t, replayed.DataFrame, "city_C"))
		assert.Equal(t, []float64{1, 0, 0}, floats(t, replayed.DataFrame, "city_B"))
		assert.Equal(t, res.Steps, replayed.Steps)
	})

	t.Run("unknown categories encode as zeros", func(t *testing.T) {
		other, otherMeta := housesFrame("D")
		replayed, err := a.Apply(other, otherMeta, res.Steps)
		require.NoError(t, err)
		assert.Equal(t, []float64{0}, floats(t, replayed.DataFrame, "city_B"))
		assert.Equal(t, []float64{0}, floats(t, replayed.DataFrame, "city_C"))
	})

	t.Run("dropping encoded columns keeps rows", func(t *testing.T) {
		dropped, err := a.Apply(df, meta, []models.ApplyMethodParams{
			mstep(OneHotEncoding, []string{"city"}, nil),
			mstep(DropColumns, []string{"city_B", "city_C"}, nil),
		})
		require.NoError(t, err)
		assert.Equal(t, []string{"age", "price"}, dropped.DataFrame.Columns())
		assert.Equal(t, floats(t, df, "price"), floats(t, dropped.DataFrame, "price"))
	})

	t.Run("source untouched", func(t *testing.T) {
		assert.Equal(t, []string{"age", "price", "city"}, df.Columns())
		assert.Equal(t, []string{"city"}, meta.FeatureColumnsTypes.Categorical)
	})
}

func TestScalers(t *testing.T) {
	a := NewApplier(0)
	df, meta := housesFrame("A", "B", "C", "D", "E")

	t.Run("standard scaler", func(t *testing.T) {
		res, err := a.Apply(df, meta, []models.ApplyMethodParams{mstep(StandardScaler, []string{"price"}, nil)})
		require.NoError(t, err)
		values := floats(t, res.DataFrame, "price")
		assert.InDelta(t, 0, frame.Mean(values), 1e-9)
		assert.InDelta(t, 1, frame.PopStd(values), 1e-9)
		assert.Equal(t, []any{float64(120)}, res.Steps[0].Params["mean_"])

		// replay keeps the recorded statistics
		shifted := frame.MustNew(
			frame.NewInt("age", []int64{1}),
			frame.NewFloat("price", []float64{120}),
			frame.NewString("city", []string{"A"}, nil),
		)
		replayed, err := a.Apply(shifted, meta, res.Steps)
		require.NoError(t, err)
		assert.InDelta(t, 0, floats(t, replayed.DataFrame, "price")[0], 1e-9)
	})

	t.Run("min max scaler", func(t *testing.T) {
		res, err := a.Apply(df, meta, []models.ApplyMethodParams{
			mstep(MinMaxScaler, []string{"price"}, map[string]any{"feature_range": []any{-1, 1}}),
		})
		require.NoError(t, err)
		assert.InDeltaSlice(t, []float64{-1, -0.5, 0, 0.5, 1}, floats(t, res.DataFrame, "price"), 1e-9)
	})

	t.Run("robust scaler", func(t *testing.T) {
		res, err := a.Apply(df, meta, []models.ApplyMethodParams{mstep(RobustScaler, []string{"price"}, nil)})
		require.NoError(t, err)
		// median 120, iqr 20
		assert.InDeltaSlice(t, []float64{-1, -0.5, 0, 0.5, 1}, floats(t, res.DataFrame, "price"), 1e-9)
	})

	t.Run("ordinal encoding", func(t *testing.T) {
		res, err := a.Apply(df, meta, []models.ApplyMethodParams{mstep(OrdinalEncoding, []string{"city"}, nil)})
		require.NoError(t, err)
		assert.Equal(t, []float64{0, 1, 2, 3, 4}, floats(t, res.DataFrame, "city"))
		assert.True(t, res.Types.IsNumeric("city"))

		keys := make([]string, 0, len(res.Steps[0].Params))
		for k := range res.Steps[0].Params {
			keys = append(keys, k)
		}
		assert.ElementsMatch(t, []string{"categories_", "unknown_value"}, keys)

		other, otherMeta := housesFrame("E", "Z")
		replayed, err := a.Apply(other, otherMeta, res.Steps)
		require.NoError(t, err)
		assert.Equal(t, []float64{4, -1}, floats(t, replayed.DataFrame, "city"))
	})
}

func TestReplayReadsEncodedColumnsAsCategorical(t *testing.T) {
	a := NewApplier(0)
	train := frame.MustNew(
		frame.NewFloat("v", []float64{1, 2, 3}),
		frame.NewString("code", []string{"1", "2", "x"}, nil),
	)
	trainMeta := &models.DataFrameMetadata{
		FeatureColumnsTypes: models.ColumnTypes{Numeric: []string{"v"}, Categorical: []string{"code"}},
	}
	res, err := a.Apply(train, trainMeta, []models.ApplyMethodParams{mstep(OneHotEncoding, []string{"code"}, nil)})
	require.NoError(t, err)
	require.Equal(t, []string{"v", "code_2", "code_x"}, res.DataFrame.Columns())

	// without the "x" rows the column parses as integers
	fresh := frame.MustNew(
		frame.NewFloat("v", []float64{4, 5}),
		frame.NewInt("code", []int64{2, 1}),
	)
	freshMeta := &models.DataFrameMetadata{
		FeatureColumnsTypes: models.ColumnTypes{Numeric: []string{"v", "code"}},
	}

	t.Run("plain apply rejects the numeric column", func(t *testing.T) {
		_, err := a.Apply(fresh, freshMeta, res.Steps)
		assert.True(t, apperrors.HasCode(err, apperrors.WrongColumnType))
	})

	t.Run("replay encodes it with the recorded categories", func(t *testing.T) {
		replayed, err := a.Replay(fresh, freshMeta, res.Steps)
		require.NoError(t, err)
		assert.Equal(t, []string{"v", "code_2", "code_x"}, replayed.DataFrame.Columns())
		assert.Equal(t, []float64{1, 0}, floats(t, replayed.DataFrame, "code_2"))
		assert.Equal(t, []float64{0, 0}, floats(t, replayed.DataFrame, "code_x"))
		assert.True(t, freshMeta.FeatureColumnsTypes.IsNumeric("code"))
	})

	t.Run("explicit type changes are left to the pipeline", func(t *testing.T) {
		steps := []models.ApplyMethodParams{
			mstep(ChangeColumnsType, []string{"code"}, map[string]any{"new_type": "categorical"}),
			mstep(OrdinalEncoding, []string{"code"}, nil),
		}
		assert.Empty(t, encodedColumns(steps))
		assert.Equal(t, []string{"code"}, encodedColumns(res.Steps))
	})
}

func TestImputation(t *testing.T) {
	a := NewApplier(0)
	nan := math.NaN()
	build := func(values []float64) (*frame.DataFrame, *models.DataFrameMetadata) {
		df := frame.MustNew(
			frame.NewFloat("x", values),
			frame.NewFloat("y", []float64{1, 2, 3, 4, 5}),
		)
		return df, &models.DataFrameMetadata{FeatureColumnsTypes: models.ColumnTypes{Numeric: []string{"x", "y"}}}
	}

	tests := []struct {
		name   string
		method string
		params map[string]any
		input  []float64
		want   []float64
	}{
		{"mean", FillMean, nil, []float64{1, nan, 3, nan, 5}, []float64{1, 3, 3, 3, 5}},
		{"median", FillMedian, nil, []float64{1, nan, 2, nan, 10}, []float64{1, 2, 2, 2, 10}},
		{"most frequent", FillMostFrequent, nil, []float64{7, nan, 7, 2, nan}, []float64{7, 7, 7, 2, 7}},
		{"ffill", FillFfill, nil, []float64{1, nan, 3, nan, nan}, []float64{1, 1, 3, 3, 3}},
		{"bfill", FillBfill, nil, []float64{nan, 2, nan, 4, 5}, []float64{2, 2, 4, 4, 5}},
		{"interpolation", FillInterpolation, nil, []float64{1, nan, nan, 4, nan}, []float64{1, 2, 3, 4, 4}},
		{"custom", FillCustomValue, map[string]any{"values": []any{0.5}}, []float64{nan, 1, 1, 1, 1}, []float64{0.5, 1, 1, 1, 1}},
		{"linear", FillLinearImputer, nil, []float64{2, 4, nan, 8, 10}, []float64{2, 4, 6, 8, 10}},
		{"knn", FillKNNImputer, map[string]any{"n_neighbors": 2}, []float64{10, 20, nan, 40, 50}, []float64{10, 20, 30, 40, 50}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			df, meta := build(tt.input)
			columns := []string{"x"}
			if tt.method == FillLinearImputer || tt.method == FillKNNImputer {
				columns = []string{"x", "y"}
			}
			res, err := a.Apply(df, meta, []models.ApplyMethodParams{mstep(tt.method, columns, tt.params)})
			require.NoError(t, err)
			assert.InDeltaSlice(t, tt.want, floats(t, res.DataFrame, "x"), 1e-6)
		})
	}

	t.Run("custom value on object column", func(t *testing.T) {
		df := frame.MustNew(frame.NewString("c", []string{"a", ""}, []bool{false, true}))
		meta := &models.DataFrameMetadata{FeatureColumnsTypes: models.ColumnTypes{Categorical: []string{"c"}}}
		res, err := a.Apply(df, meta, []models.ApplyMethodParams{
			mstep(FillCustomValue, []string{"c"}, map[string]any{"values": []any{"missing"}}),
		})
		require.NoError(t, err)
		col, _ := res.DataFrame.Column("c")
		assert.Equal(t, "missing", col.Text(1))
		assert.False(t, col.HasNA())
	})
}

func TestRowAndTypeMethods(t *testing.T) {
	a := NewApplier(2)
	df, meta := housesFrame("A", "B", "A", "C")

	t.Run("drop duplicates on subset", func(t *testing.T) {
		res, err := a.Apply(df, meta, []models.ApplyMethodParams{mstep(DropDuplicates, []string{"city"}, nil)})
		require.NoError(t, err)
		assert.Equal(t, 3, res.DataFrame.NRows())
		assert.Equal(t, []float64{20, 21, 23}, floats(t, res.DataFrame, "age"))
	})

	t.Run("drop na", func(t *testing.T) {
		withNA := frame.MustNew(
			frame.NewFloat("x", []float64{1, math.NaN(), 3}),
			frame.NewString("c", []string{"a", "b", ""}, []bool{false, false, true}),
		)
		m := &models.DataFrameMetadata{FeatureColumnsTypes: models.ColumnTypes{Numeric: []string{"x"}, Categorical: []string{"c"}}}
		res, err := a.Apply(withNA, m, []models.ApplyMethodParams{mstep(DropNA, nil, nil)})
		require.NoError(t, err)
		assert.Equal(t, 1, res.DataFrame.NRows())
	})

	t.Run("change type to categorical honours cardinality", func(t *testing.T) {
		_, err := a.Apply(df, meta, []models.ApplyMethodParams{
			mstep(ChangeColumnsType, []string{"age"}, map[string]any{"new_type": "categorical"}),
		})
		assert.True(t, apperrors.HasCode(err, apperrors.TooManyCategories))
	})

	t.Run("change type to numeric", func(t *testing.T) {
		_, err := a.Apply(df, meta, []models.ApplyMethodParams{
			mstep(ChangeColumnsType, []string{"city"}, map[string]any{"new_type": "numeric"}),
		})
		assert.True(t, apperrors.HasCode(err, apperrors.ApplyingMethod))
	})

	t.Run("leave n values", func(t *testing.T) {
		res, err := a.Apply(df, meta, []models.ApplyMethodParams{
			mstep(LeaveNValuesEncoding, []string{"city"}, map[string]any{"n": 1}),
		})
		require.NoError(t, err)
		col, _ := res.DataFrame.Column("city")
		texts, _ := col.Texts()
		assert.Equal(t, []string{"A", "other", "A", "other"}, texts)
	})
}

func TestApplyErrors(t *testing.T) {
	a := NewApplier(0)
	df, meta := housesFrame("A", "B")
	target := "price"
	withTarget := *meta
	withTarget.TargetFeature = &target

	withNA := frame.MustNew(
		frame.NewInt("age", []int64{1, 2}),
		frame.NewFloat("price", []float64{1, math.NaN()}),
		frame.NewString("city", []string{"A", "B"}, nil),
	)

	tests := []struct {
		name  string
		df    *frame.DataFrame
		meta  *models.DataFrameMetadata
		steps []models.ApplyMethodParams
		code  apperrors.Code
	}{
		{"unknown method", df, meta, []models.ApplyMethodParams{mstep("explode", nil, nil)}, apperrors.ApplyingMethodNotExists},
		{"unknown param", df, meta, []models.ApplyMethodParams{mstep(StandardScaler, []string{"age"}, map[string]any{"bogus": 1})}, apperrors.InvalidMethodParams},
		{"failed validation", df, meta, []models.ApplyMethodParams{mstep(ChangeColumnsType, []string{"age"}, map[string]any{"new_type": "date"})}, apperrors.InvalidMethodParams},
		{"missing column", df, meta, []models.ApplyMethodParams{mstep(FillMean, []string{"ghost"}, nil)}, apperrors.ColumnNotFoundInMetadata},
		{"target dropped", df, &withTarget, []models.ApplyMethodParams{mstep(DropColumns, []string{"price"}, nil)}, apperrors.TargetFeatureInColumns},
		{"scaler on target", df, &withTarget, []models.ApplyMethodParams{mstep(StandardScaler, []string{"price"}, nil)}, apperrors.TargetFeatureInColumns},
		{"encoder on numeric", df, meta, []models.ApplyMethodParams{mstep(OneHotEncoding, []string{"age"}, nil)}, apperrors.WrongColumnType},
		{"scaler with nan", withNA, meta, []models.ApplyMethodParams{mstep(StandardScaler, []string{"price"}, nil)}, apperrors.NaNInColumns},
		{"custom value wrong dtype", withNA, meta, []models.ApplyMethodParams{mstep(FillCustomValue, []string{"price"}, map[string]any{"values": []any{"abc"}})}, apperrors.FillCustomValueWrongDType},
		{"custom value count", withNA, meta, []models.ApplyMethodParams{mstep(FillCustomValue, []string{"price"}, map[string]any{"values": []any{1, 2}})}, apperrors.InvalidMethodParams},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := a.Apply(tt.df, tt.meta, tt.steps)
			require.Error(t, err)
			assert.Equal(t, tt.code, apperrors.CodeOf(err), err.Error())
		})
	}

	t.Run("column set mismatch", func(t *testing.T) {
		bad := *meta
		bad.FeatureColumnsTypes = models.ColumnTypes{Numeric: []string{"age"}}
		_, err := a.Apply(df, &bad, nil)
		assert.True(t, apperrors.HasCode(err, apperrors.ColumnsNotEqual))
	})
}

func TestNames(t *testing.T) {
	assert.Len(t, Names(), 19)
	assert.True(t, Exists(OneHotEncoding))
	assert.False(t, Exists("explode"))
}
