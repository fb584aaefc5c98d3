package stats

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPercentile(t *testing.T) {
	values := []float64{4, 1, 3, 2}

	assert.InDelta(t, 1.75, Percentile(values, 25), 1e-12)
	assert.InDelta(t, 2.5, Percentile(values, 50), 1e-12)
	assert.InDelta(t, 3.25, Percentile(values, 75), 1e-12)
	assert.Equal(t, 1.0, Percentile(values, 0))
	assert.Equal(t, 4.0, Percentile(values, 100))
	assert.Equal(t, 7.0, Percentile([]float64{7}, 25))
	assert.True(t, math.IsNaN(Percentile(nil, 50)))

	// input must not be reordered
	assert.Equal(t, []float64{4, 1, 3, 2}, values)
}

func TestFilterOutliers(t *testing.T) {
	identity := func(v float64) float64 { return v }

	t.Run("removes far value", func(t *testing.T) {
		got := FilterOutliers([]float64{9000, 9050, 9020, 30000}, identity)
		assert.Equal(t, []float64{9000, 9050, 9020}, got)
	})

	t.Run("three values are never fenced out", func(t *testing.T) {
		// Q1=9025, Q3=19525, upper fence 35275
		got := FilterOutliers([]float64{9000, 9050, 30000}, identity)
		assert.Equal(t, []float64{9000, 9050, 30000}, got)
	})

	t.Run("fewer than two is a no-op", func(t *testing.T) {
		assert.Empty(t, FilterOutliers([]float64{}, identity))
		assert.Equal(t, []float64{42}, FilterOutliers([]float64{42}, identity))
	})

	t.Run("bounds are inclusive", func(t *testing.T) {
		assert.Equal(t, []float64{1, 2, 3, 4, 7}, FilterOutliers([]float64{1, 2, 3, 4, 7}, identity))
		assert.Equal(t, []float64{1, 2, 3, 4}, FilterOutliers([]float64{1, 2, 3, 4, 7.01}, identity))
	})

	t.Run("identical values all survive", func(t *testing.T) {
		assert.Len(t, FilterOutliers([]float64{5, 5, 5, 5}, identity), 4)
	})

	t.Run("generic over items", func(t *testing.T) {
		type item struct {
			name  string
			price float64
		}
		items := []item{{"a", 10}, {"b", 11}, {"c", 10.5}, {"d", 100}}
		got := FilterOutliers(items, func(it item) float64 { return it.price })
		require.Len(t, got, 3)
		for _, it := range got {
			assert.NotEqual(t, "d", it.name)
		}
	})

	t.Run("result is a subset of the input", func(t *testing.T) {
		in := []float64{3, 8, 1, 99, 4, 6, 2, -50}
		out := FilterOutliers(in, identity)
		assert.Subset(t, in, out)
		assert.LessOrEqual(t, len(out), len(in))
	})
}

func TestFilterOutliersStdDev(t *testing.T) {
	identity := func(v float64) float64 { return v }

	tests := []struct {
		name string
		in   []float64
		want []float64
	}{
		{"one sigma already keeps three", []float64{9000, 9050, 9020, 30000}, []float64{9000, 9050, 9020}},
		{"widens until three survive", []float64{1, 2, 100}, []float64{1, 2, 100}},
		{"two values are both kept", []float64{1, 100}, []float64{1, 100}},
		{"no spread", []float64{5, 5, 5, 5}, []float64{5, 5, 5, 5}},
		{"single value", []float64{7}, []float64{7}},
		{"order preserved", []float64{10, 500, 11, 12, 13}, []float64{10, 11, 12, 13}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, FilterOutliersStdDev(tc.in, identity))
		})
	}

	t.Run("non-finite input is returned unchanged", func(t *testing.T) {
		in := []float64{1, 2, math.Inf(1)}
		assert.Len(t, FilterOutliersStdDev(in, identity), 3)
	})
}

func TestMoments(t *testing.T) {
	values := []float64{2, 4, 4, 4, 5, 5, 7, 9}

	assert.InDelta(t, 5.0, Mean(values), 1e-12)
	assert.InDelta(t, 4.0, PopulationVariance(values), 1e-12)
	assert.InDelta(t, 2.0, PopulationStdDev(values), 1e-12)
	assert.Equal(t, 0.0, PopulationStdDev([]float64{3}))
	assert.True(t, math.IsNaN(Mean(nil)))
}

func TestWeightedMean(t *testing.T) {
	m, ok := WeightedMean([]float64{10, 20}, []float64{1, 3})
	require.True(t, ok)
	assert.InDelta(t, 17.5, m, 1e-12)

	_, ok = WeightedMean([]float64{10, 20}, []float64{0, 0})
	assert.False(t, ok)

	_, ok = WeightedMean([]float64{10}, []float64{1, 2})
	assert.False(t, ok)
}

func TestIsFinite(t *testing.T) {
	assert.True(t, IsFinite(1.5))
	assert.False(t, IsFinite(math.NaN()))
	assert.False(t, IsFinite(math.Inf(-1)))
}
