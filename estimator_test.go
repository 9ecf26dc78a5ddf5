package mapsheet

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUpdateBinned_ReservoirFillsBeforeReplacing(t *testing.T) {
	p := DefaultParams()
	p.BinnedMaxSlots = 3
	n := NewNodeEstimator()
	rng := rand.New(rand.NewSource(3))

	for i, d := range []float64{1, 2, 3} {
		n.Update(AlgoBinnedMean, d, 0.1, float64(i), &p, rng)
	}
	assert.ElementsMatch(t, []float64{1, 2, 3}, n.Bins)
}

func TestUpdateBinned_ReservoirReplacesAfterFull(t *testing.T) {
	p := DefaultParams()
	p.BinnedMaxSlots = 2
	n := NewNodeEstimator()
	rng := rand.New(rand.NewSource(42))

	for i := 0; i < 50; i++ {
		n.Update(AlgoBinnedMean, float64(i), 0.1, float64(i), &p, rng)
	}
	assert.Len(t, n.Bins, 2)
	assert.Equal(t, uint64(50), n.binSeen)
}

func TestBinnedMean_EmptyNodeNotOk(t *testing.T) {
	n := NewNodeEstimator()
	_, ok := n.BinnedMean()
	assert.False(t, ok)
}

func TestBinnedMean_AverageOfRetainedSamples(t *testing.T) {
	n := NewNodeEstimator()
	n.Bins = []float64{2, 4, 6}
	mean, ok := n.BinnedMean()
	require.True(t, ok)
	assert.InDelta(t, 4.0, mean, 1e-9)
}

func TestBinnedMedian_OddAndEvenCounts(t *testing.T) {
	n := NewNodeEstimator()
	n.Bins = []float64{5, 1, 3}
	median, ok := n.BinnedMedian()
	require.True(t, ok)
	assert.Equal(t, 3.0, median)

	n.Bins = []float64{1, 2, 3, 4}
	median, ok = n.BinnedMedian()
	require.True(t, ok)
	assert.Equal(t, 2.5, median)
}
