package mapsheet

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultParams_ValidatesClean(t *testing.T) {
	p := DefaultParams()
	assert.NoError(t, p.Validate())
	assert.Equal(t, uint32(64), p.TileWidth)
	assert.InDelta(t, 3.84, p.NodeMatchThreshold, 1e-9)
}

func TestParams_ValidateRejectsOutOfRangeField(t *testing.T) {
	p := DefaultParams()
	p.NodeMaxHypotheses = 0 // below the tagged min=1
	err := p.Validate()
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrBadParameter)
}

func TestParams_ValidateReportsEveryViolation(t *testing.T) {
	p := DefaultParams()
	p.NodeMaxHypotheses = 0
	p.CacheCapacity = 0
	err := p.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "node.max_hypotheses")
	assert.Contains(t, err.Error(), "cache.capacity")
}

func TestMapSheet_ResetParamsKeepsPreviousOnFailure(t *testing.T) {
	ms := newTestSheet(t, DefaultParams())

	bad := DefaultParams()
	bad.NodeMaxHypotheses = 0
	err := ms.ResetParams(bad)
	require.Error(t, err)

	require.NoError(t, ms.Update(Sounding{East: 5, North: 5, Depth: 42.0, Variance: 1.0, Footprint: singleNodeFootprint}))
	require.NoError(t, ms.Flush())
	res, err := ms.Disambiguate(5, 5)
	require.NoError(t, err)
	assert.True(t, res.Ok)
}
