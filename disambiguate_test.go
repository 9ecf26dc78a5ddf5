package mapsheet

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestCache(t *testing.T) *TileCache {
	grid, err := NewTileGrid(8, 8, 4, 4)
	require.NoError(t, err)
	cache, err := NewTileCache(grid, testSpacing(), newMemStore(), 16)
	require.NoError(t, err)
	return cache
}

func TestDisambiguate_UntouchedNodeNotOk(t *testing.T) {
	cache := newTestCache(t)
	d := NewDisambiguator(PolicyDensity, 0.95, AlgoHypothesis, cache, nil)
	r, err := d.Disambiguate(0, 0)
	require.NoError(t, err)
	assert.False(t, r.Ok)
}

func TestDisambiguate_DensityPolicyPrefersLargerSampleCount(t *testing.T) {
	cache := newTestCache(t)
	node, err := cache.GetNodeMut(0, 0)
	require.NoError(t, err)
	node.Hypotheses = []Hypothesis{
		{Z: 10, V: 1.0, N: 2},
		{Z: 20, V: 1.0, N: 5},
	}

	d := NewDisambiguator(PolicyDensity, 0.95, AlgoHypothesis, cache, nil)
	r, err := d.Disambiguate(0, 0)
	require.NoError(t, err)
	assert.True(t, r.Ok)
	assert.Equal(t, 20.0, r.Z)
}

func TestDisambiguate_DensityPolicyTieBreaksOnLowestVariance(t *testing.T) {
	cache := newTestCache(t)
	node, err := cache.GetNodeMut(0, 0)
	require.NoError(t, err)
	node.Hypotheses = []Hypothesis{
		{Z: 10, V: 2.0, N: 3},
		{Z: 20, V: 0.5, N: 3},
	}

	d := NewDisambiguator(PolicyDensity, 0.95, AlgoHypothesis, cache, nil)
	r, err := d.Disambiguate(0, 0)
	require.NoError(t, err)
	assert.Equal(t, 20.0, r.Z)
}

func TestDisambiguate_PriorPolicyPicksClosestToPredicted(t *testing.T) {
	cache := newTestCache(t)
	node, err := cache.GetNodeMut(0, 0)
	require.NoError(t, err)
	predicted := 19.0
	node.PredictedDepth = &predicted
	node.Hypotheses = []Hypothesis{
		{Z: 10, V: 1.0, N: 1},
		{Z: 20, V: 1.0, N: 1},
	}

	d := NewDisambiguator(PolicyPrior, 0.95, AlgoHypothesis, cache, nil)
	r, err := d.Disambiguate(0, 0)
	require.NoError(t, err)
	assert.Equal(t, 20.0, r.Z)
}

func TestDisambiguate_NominationOverridesPolicy(t *testing.T) {
	cache := newTestCache(t)
	node, err := cache.GetNodeMut(0, 0)
	require.NoError(t, err)
	node.Hypotheses = []Hypothesis{
		{Z: 10, V: 1.0, N: 10},
		{Z: 20, V: 1.0, N: 1},
	}
	node.Nominated = 1 // fewer samples, but explicitly nominated

	d := NewDisambiguator(PolicyDensity, 0.95, AlgoHypothesis, cache, nil)
	r, err := d.Disambiguate(0, 0)
	require.NoError(t, err)
	assert.Equal(t, 20.0, r.Z)

	node.Nominated = -1 // cleared: falls back to policy
	r, err = d.Disambiguate(0, 0)
	require.NoError(t, err)
	assert.Equal(t, 10.0, r.Z)
}

func TestDisambiguate_LocalePolicyConvergesOverMultiplePasses(t *testing.T) {
	cache := newTestCache(t)

	// Strong single-hypothesis anchor at (0,0), low variance so it
	// dominates any weighted-mean consensus it takes part in.
	anchor, err := cache.GetNodeMut(0, 0)
	require.NoError(t, err)
	anchor.Hypotheses = []Hypothesis{{Z: 20, V: 0.01, N: 100}}

	// (1,0) and (2,0) both start perfectly tied between 10 and 20, so a
	// single density-only neighbor lookup resolves them to the first
	// hypothesis (10) by the tie-break rule.
	mid, err := cache.GetNodeMut(1, 0)
	require.NoError(t, err)
	mid.Hypotheses = []Hypothesis{
		{Z: 10, V: 1.0, N: 3},
		{Z: 20, V: 1.0, N: 3},
	}

	target, err := cache.GetNodeMut(2, 0)
	require.NoError(t, err)
	target.Hypotheses = []Hypothesis{
		{Z: 10, V: 1.0, N: 3},
		{Z: 20, V: 1.0, N: 3},
	}

	d := NewDisambiguator(PolicyLocale, 0.95, AlgoHypothesis, cache, nil)
	r, err := d.Disambiguate(2, 0)
	require.NoError(t, err)
	require.True(t, r.Ok)
	// (2,0) is two hops from the anchor: a single pass only sees (1,0)'s
	// still-tied, unconverged pick (10) and would stay at 10. The anchor's
	// influence only reaches (1,0) on the first pass and (2,0) on the
	// second, so convergence is required to land on 20.
	assert.Equal(t, 20.0, r.Z)
}

func TestDisambiguate_BinnedNodesBypassPolicies(t *testing.T) {
	cache := newTestCache(t)
	node, err := cache.GetNodeMut(0, 0)
	require.NoError(t, err)
	node.Bins = []float64{1, 3, 5, 7, 9}

	d := NewDisambiguator(PolicyDensity, 0.95, AlgoBinnedMedian, cache, nil)
	r, err := d.Disambiguate(0, 0)
	require.NoError(t, err)
	assert.True(t, r.Ok)
	assert.Equal(t, 5.0, r.Z)
	assert.Equal(t, 1, r.HypoCount)
}

func TestCIMultiplier_95PercentIsFamiliarValue(t *testing.T) {
	m := ciMultiplier(0.95)
	assert.InDelta(t, 1.95996, m, 1e-4)
}
