package statistics

import (
	"encoding/json"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aegisshield/ml-workbench/internal/apperrors"
	"github.com/aegisshield/ml-workbench/internal/frame"
	"github.com/aegisshield/ml-workbench/internal/models"
)

func sample(n int) *frame.DataFrame {
	age := make([]int64, n)
	price := make([]float64, n)
	city := make([]string, n)
	na := make([]bool, n)
	for i := 0; i < n; i++ {
		age[i] = int64(i + 1)
		price[i] = 2 * float64(i+1)
		city[i] = []string{"A", "B", "C"}[i%3]
	}
	price[0] = math.NaN()
	na[1] = true
	return frame.MustNew(
		frame.NewInt("age", age),
		frame.NewString("city", city, na),
		frame.NewFloat("price", price),
	)
}

var sampleTypes = models.ColumnTypes{Numeric: []string{"age", "price"}, Categorical: []string{"city"}}

func TestWindow(t *testing.T) {
	df := sample(120)

	t.Run("second page", func(t *testing.T) {
		page, err := Window(df, 2, 50)
		require.NoError(t, err)
		assert.Equal(t, 3, page.Total)
		require.Len(t, page.Records, 50)
		assert.Equal(t, int64(51), page.Records[0]["age"])
		assert.Equal(t, int64(100), page.Records[49]["age"])
	})

	t.Run("missing values become empty strings", func(t *testing.T) {
		page, err := Window(df, 1, 2)
		require.NoError(t, err)
		assert.Equal(t, "", page.Records[0]["price"])
		assert.Equal(t, "", page.Records[1]["city"])
		assert.Equal(t, 60, page.Total)
	})

	t.Run("past the end", func(t *testing.T) {
		page, err := Window(df, 9, 50)
		require.NoError(t, err)
		assert.Empty(t, page.Records)
	})

	t.Run("invalid pagination", func(t *testing.T) {
		_, err := Window(df, 0, 50)
		assert.True(t, apperrors.HasCode(err, apperrors.InvalidPagination))
		_, err = Window(df, 1, 0)
		assert.True(t, apperrors.HasCode(err, apperrors.InvalidPagination))
	})
}

func TestDescribe(t *testing.T) {
	descriptions, err := Describe(sample(10), sampleTypes, 0)
	require.NoError(t, err)
	require.Len(t, descriptions, 3)

	t.Run("numeric", func(t *testing.T) {
		age := descriptions[0].Numeric
		require.NotNil(t, age)
		assert.Equal(t, 10, age.Count)
		assert.InDelta(t, 5.5, *age.Mean, 1e-12)
		assert.InDelta(t, 3.0277, *age.Std, 1e-4)
		assert.Equal(t, 1.0, *age.Min)
		assert.InDelta(t, 3.25, *age.Q25, 1e-12)
		assert.InDelta(t, 5.5, *age.Q50, 1e-12)
		assert.InDelta(t, 7.75, *age.Q75, 1e-12)
		assert.Equal(t, 10.0, *age.Max)
		assert.Len(t, age.Histogram.Edges, DefaultBins+1)
		assert.Equal(t, []float64{1, 1, 1, 1, 1, 1, 1, 1, 1, 1}, age.Histogram.Counts)

		price := descriptions[1].Numeric
		assert.Equal(t, 9, price.Count)
		assert.Equal(t, 4.0, *price.Min)
	})

	t.Run("categorical", func(t *testing.T) {
		city := descriptions[2].Categorical
		require.NotNil(t, city)
		assert.Equal(t, 9, city.Count)
		assert.Equal(t, 3, city.NUnique)
		assert.Equal(t, "A", city.Top[0].Value)
		assert.InDelta(t, 4.0/9, city.Top[0].Share, 1e-12)
		var total float64
		for _, v := range city.ValueCounts {
			total += v.Share
		}
		assert.InDelta(t, 1, total, 1e-12)
	})

	t.Run("constant and empty columns", func(t *testing.T) {
		constant := DescribeNumeric([]float64{3, 3, 3}, 4)
		assert.Equal(t, []float64{0, 0, 3, 0}, constant.Histogram.Counts)

		empty := DescribeNumeric([]float64{math.NaN()}, 4)
		assert.Equal(t, 0, empty.Count)
		assert.Nil(t, empty.Mean)
		_, err := json.Marshal(empty)
		assert.NoError(t, err)
	})

	t.Run("missing column is an invariant violation", func(t *testing.T) {
		_, err := Describe(sample(5), models.ColumnTypes{Numeric: []string{"weight"}}, 10)
		assert.True(t, apperrors.HasCode(err, apperrors.ColumnsNotEqual))
	})
}

func TestCorrelation(t *testing.T) {
	df := frame.MustNew(
		frame.NewFloat("x", []float64{1, 2, 3, 4, math.NaN()}),
		frame.NewFloat("y", []float64{2, 4, 6, 8, 100}),
		frame.NewFloat("z", []float64{4, 3, 2, 1, 0}),
		frame.NewFloat("c", []float64{1, 1, 1, 1, 1}),
	)
	m, err := Correlation(df, models.ColumnTypes{Numeric: []string{"x", "y", "z", "c"}})
	require.NoError(t, err)

	assert.Equal(t, []string{"x", "y", "z", "c"}, m.Columns)
	assert.InDelta(t, 1, *m.Values[0][0], 1e-12)
	assert.InDelta(t, 1, *m.Values[0][1], 1e-12)
	assert.InDelta(t, -1, *m.Values[0][2], 1e-12)
	assert.Equal(t, m.Values[1][2], m.Values[2][1])
	assert.Nil(t, m.Values[3][0])
	assert.Nil(t, m.Values[3][3])
}
