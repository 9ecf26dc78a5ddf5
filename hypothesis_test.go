package mapsheet

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFoldSample_VarianceWeightedMean(t *testing.T) {
	h := newHypothesis(10.0, 1.0, 0, 0.01)
	folded := foldSample(h, 20.0, 1.0, 1, 0.01)

	assert.InDelta(t, 15.0, folded.Z, 1e-9)
	assert.InDelta(t, 0.5, folded.V, 1e-9)
	assert.Equal(t, uint32(2), folded.N)
}

func TestFoldSample_VarianceFloorEnforced(t *testing.T) {
	h := newHypothesis(10.0, 1e-6, 0, 0.05)
	folded := foldSample(h, 10.0, 1e-6, 1, 0.05)
	assert.GreaterOrEqual(t, folded.V, 0.05)
}

func TestFoldSample_TracksFirstAndLastTime(t *testing.T) {
	h := newHypothesis(10.0, 1.0, 5, 0.01)
	h = foldSample(h, 10.0, 1.0, 9, 0.01)
	assert.Equal(t, 5.0, h.FirstTime)
	assert.Equal(t, 9.0, h.LastTime)
}

func TestSquaredResidual_ZeroAtExactMatch(t *testing.T) {
	h := newHypothesis(10.0, 1.0, 0, 0.01)
	assert.Equal(t, 0.0, squaredResidual(h, 10.0, 1.0))
}

func TestSquaredResidual_ScalesWithDistance(t *testing.T) {
	h := newHypothesis(10.0, 1.0, 0, 0.01)
	near := squaredResidual(h, 11.0, 1.0)
	far := squaredResidual(h, 20.0, 1.0)
	assert.Less(t, near, far)
}
