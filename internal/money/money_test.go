package money

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func TestRoundHalfUp(t *testing.T) {
	require.Equal(t, "100.01", Round(MustParse("100.005")).StringFixed(2))
	require.Equal(t, "100.00", Round(MustParse("100.004")).StringFixed(2))
	require.Equal(t, "0.01", Round(MustParse("0.005")).StringFixed(2))
}

func TestPercent(t *testing.T) {
	require.Equal(t, "5.00", Percent(MustParse("100.00"), decimal.NewFromInt(5)).StringFixed(2))
	require.Equal(t, "12.50", Percent(MustParse("250.00"), decimal.NewFromInt(5)).StringFixed(2))
}

func TestParseRejectsGarbage(t *testing.T) {
	_, err := Parse("12,50")
	require.Error(t, err)
}
