package imc

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestEvaluate(t *testing.T) {
	cases := []struct {
		height, weight string
		value          string
		category       Category
	}{
		{"170", "50", "17.3", Underweight},
		{"170", "65", "22.5", Normal},
		{"170", "80", "27.7", Overweight},
		{"160", "90", "35.2", Obese},
		{"200", "74", "18.5", Normal},
	}
	for _, tc := range cases {
		res, err := Evaluate(d(tc.height), d(tc.weight))
		require.NoError(t, err)
		assert.True(t, res.Value.Equal(d(tc.value)), "imc %s/%s = %s, want %s", tc.height, tc.weight, res.Value, tc.value)
		assert.Equal(t, tc.category, res.Category)
	}
}

func TestEvaluate_Invalid(t *testing.T) {
	_, err := Evaluate(decimal.Zero, d("70"))
	assert.ErrorIs(t, err, ErrInvalidMeasurements)
	_, err = Evaluate(d("170"), d("-1"))
	assert.ErrorIs(t, err, ErrInvalidMeasurements)
}
