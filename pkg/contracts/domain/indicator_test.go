package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCategorizeGrowth(t *testing.T) {
	f := func(v float64) *float64 { return &v }

	tests := []struct {
		name string
		yoy  *float64
		want GrowthCategory
	}{
		{"upper bound is stable", f(0.02), GrowthStable},
		{"lower bound is stable", f(-0.02), GrowthStable},
		{"zero", f(0), GrowthStable},
		{"just above upper bound", f(0.0200001), GrowthGrowth},
		{"just below lower bound", f(-0.0200001), GrowthContraction},
		{"strong growth", f(0.08), GrowthGrowth},
		{"strong contraction", f(-0.5), GrowthContraction},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := CategorizeGrowth(tt.yoy)
			require.NotNil(t, got)
			assert.Equal(t, tt.want, *got)
		})
	}

	assert.Nil(t, CategorizeGrowth(nil))
}

func TestIsAnomaly(t *testing.T) {
	f := func(v float64) *float64 { return &v }

	assert.False(t, IsAnomaly(nil))
	assert.False(t, IsAnomaly(f(3)))
	assert.False(t, IsAnomaly(f(-3)))
	assert.True(t, IsAnomaly(f(3.0001)))
	assert.True(t, IsAnomaly(f(-3.0001)))
}
