package frame

import (
	"bytes"
	"math"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadCSVInfersKinds(t *testing.T) {
	input := "age,city,price,flag,partial\n" +
		"31,A,10.5,True,1\n" +
		"42,B,11,False,\n" +
		"27,,12.25,true,3\n"

	df, err := ReadCSV(strings.NewReader(input))
	require.NoError(t, err)

	assert.Equal(t, []string{"age", "city", "price", "flag", "partial"}, df.Columns())
	assert.Equal(t, 3, df.NRows())

	kinds := map[string]Kind{}
	for _, s := range df.Series() {
		kinds[s.Name()] = s.Kind()
	}
	assert.Equal(t, map[string]Kind{
		"age":     Int,
		"city":    String,
		"price":   Float,
		"flag":    Bool,
		"partial": Float,
	}, kinds)

	city, _ := df.Column("city")
	assert.True(t, city.IsNA(2))
	partial, _ := df.Column("partial")
	assert.True(t, math.IsNaN(partial.Float(1)))
}

func TestCSVRoundTrip(t *testing.T) {
	df := MustNew(
		NewInt("id", []int64{1, 2, 3}),
		NewFloat("score", []float64{0.1, math.NaN(), 2}),
		NewString("name", []string{"a,b", "", "c"}, []bool{false, true, false}),
		NewBool("ok", []bool{true, false, true}),
	)

	var buf bytes.Buffer
	require.NoError(t, WriteCSV(&buf, df))

	back, err := ReadCSV(&buf)
	require.NoError(t, err)

	for _, name := range df.Columns() {
		orig, _ := df.Column(name)
		got, _ := back.Column(name)
		assert.Equal(t, orig.Kind(), got.Kind(), name)
		for i := 0; i < df.NRows(); i++ {
			assert.Equal(t, orig.Value(i), got.Value(i), "%s[%d]", name, i)
		}
	}
}

func TestWholeFloatsStayFloat(t *testing.T) {
	df := MustNew(NewFloat("x", []float64{1, 2}))

	var buf bytes.Buffer
	require.NoError(t, WriteCSV(&buf, df))
	assert.Equal(t, "x\n1.0\n2.0\n", buf.String())
}

func TestSelectDropTake(t *testing.T) {
	df := MustNew(
		NewInt("a", []int64{1, 2, 3}),
		NewInt("b", []int64{4, 5, 6}),
	)

	t.Run("select reorders", func(t *testing.T) {
		sel, err := df.Select("b", "a")
		require.NoError(t, err)
		assert.Equal(t, []string{"b", "a"}, sel.Columns())
	})

	t.Run("select unknown", func(t *testing.T) {
		_, err := df.Select("zzz")
		assert.Error(t, err)
	})

	t.Run("drop", func(t *testing.T) {
		assert.Equal(t, []string{"b"}, df.Drop("a").Columns())
	})

	t.Run("take", func(t *testing.T) {
		taken := df.Take([]int{2, 0})
		b, _ := taken.Column("b")
		assert.Equal(t, []float64{6, 4}, b.Floats())
	})
}

func TestValueCountsAndUnique(t *testing.T) {
	s := NewString("c", []string{"x", "y", "x", "", "z", "y", "x"}, []bool{false, false, false, true, false, false, false})

	counts := s.ValueCounts()
	require.Len(t, counts, 3)
	assert.Equal(t, ValueCount{Value: "x", Count: 3}, counts[0])
	assert.Equal(t, ValueCount{Value: "y", Count: 2}, counts[1])
	assert.Equal(t, 3, s.NUnique())
	assert.Equal(t, []string{"x", "y", "z"}, s.Unique())
}

func TestToNumeric(t *testing.T) {
	t.Run("parses", func(t *testing.T) {
		s := NewString("n", []string{"1", "2", ""}, []bool{false, false, true})
		out, err := s.ToNumeric()
		require.NoError(t, err)
		assert.Equal(t, Float, out.Kind())
	})

	t.Run("whole values become int", func(t *testing.T) {
		s := NewString("n", []string{"1", "2"}, nil)
		out, err := s.ToNumeric()
		require.NoError(t, err)
		assert.Equal(t, Int, out.Kind())
	})

	t.Run("rejects text", func(t *testing.T) {
		_, err := NewString("n", []string{"1", "abc"}, nil).ToNumeric()
		assert.Error(t, err)
	})
}

func TestMatrix(t *testing.T) {
	df := MustNew(
		NewInt("a", []int64{1, 2}),
		NewFloat("b", []float64{0.5, 1.5}),
		NewString("c", []string{"x", "y"}, nil),
	)

	m, err := df.Matrix([]string{"b", "a"})
	require.NoError(t, err)
	assert.Equal(t, 1.5, m.At(1, 0))
	assert.Equal(t, 2.0, m.At(1, 1))

	_, err = df.Matrix([]string{"c"})
	assert.Error(t, err)
}

func TestRecordsWindow(t *testing.T) {
	df := MustNew(NewFloat("v", []float64{1, math.NaN(), 3}))

	recs := df.Records(1, 10)
	require.Len(t, recs, 2)
	assert.Nil(t, recs[0]["v"])
	assert.Equal(t, 3.0, recs[1]["v"])
	assert.Empty(t, df.Records(5, 6))
}
