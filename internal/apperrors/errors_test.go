package apperrors

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKinds(t *testing.T) {
	t.Run("client by default", func(t *testing.T) {
		assert.Equal(t, KindClient, New(InvalidMethodParams, "bad").Kind)
	})

	t.Run("registered kinds", func(t *testing.T) {
		assert.Equal(t, KindCritical, New(ColumnsNotEqual, "x").Kind)
		assert.Equal(t, KindOperational, New(ModelTraining, "x").Kind)
		assert.Equal(t, KindNotFound, New(ModelNotFound, "x").Kind)
		assert.Equal(t, KindConflict, New(FilenameExists, "x").Kind)
	})
}

func TestWrapKeepsCause(t *testing.T) {
	cause := fmt.Errorf("singular matrix")
	err := Wrap(ApplyingMethod, cause, "method %s failed", "standard_scaler")

	require.ErrorIs(t, err, cause)
	assert.Equal(t, "singular matrix", err.Detail["cause"])
	assert.Contains(t, err.Error(), "ApplyingMethod")
}

func TestHasCodeThroughWrapping(t *testing.T) {
	inner := New(FeaturesNotEqual, "features differ")
	outer := fmt.Errorf("predict: %w", inner)

	assert.True(t, HasCode(outer, FeaturesNotEqual))
	assert.False(t, HasCode(outer, ModelNotFound))
	assert.Equal(t, FeaturesNotEqual, CodeOf(outer))
	assert.Equal(t, Internal, CodeOf(errors.New("plain")))
}

func TestHTTPStatus(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"client", New(TargetNotFound, "x"), http.StatusBadRequest},
		{"operational", New(SelectorProcessing, "x"), http.StatusBadRequest},
		{"not found", New(DataFrameNotFound, "x"), http.StatusNotFound},
		{"conflict", New(FilenameExists, "x"), http.StatusConflict},
		{"critical", New(CategoricalColumnFound, "x"), http.StatusInternalServerError},
		{"untyped", errors.New("boom"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, HTTPStatus(tt.err))
		})
	}
}

func TestBody(t *testing.T) {
	body := Body(New(FillCustomValueWrongDType, "cannot cast").With("column", "age"))

	assert.Equal(t, "FillCustomValueWrongDType", body["error_type"])
	assert.Equal(t, "cannot cast", body["message"])
	assert.Equal(t, map[string]any{"column": "age"}, body["detail"])
}
