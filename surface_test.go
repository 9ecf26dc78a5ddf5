package mapsheet

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSurfaceAssembler_SentinelPreservedForUntouchedNodes(t *testing.T) {
	grid, err := NewTileGrid(4, 4, 4, 4)
	require.NoError(t, err)
	cache, err := NewTileCache(grid, testSpacing(), newMemStore(), 4)
	require.NoError(t, err)

	disc := NewDisambiguator(PolicyDensity, 0.95, AlgoHypothesis, cache, nil)
	asm := NewSurfaceAssembler(grid, disc, cache, nil)

	out, err := asm.Extract([]Layer{LayerDepth, LayerHitCount})
	require.NoError(t, err)

	depth := out[LayerDepth].Samples[0]
	assert.True(t, math.IsNaN(depth))

	hits := out[LayerHitCount].Samples[0]
	assert.Equal(t, float64(InvalidU32), hits)
}

func TestSurfaceAssembler_TouchedNodeReportsRealValues(t *testing.T) {
	grid, err := NewTileGrid(4, 4, 4, 4)
	require.NoError(t, err)
	cache, err := NewTileCache(grid, testSpacing(), newMemStore(), 4)
	require.NoError(t, err)

	p := DefaultParams()
	node, err := cache.GetNodeMut(1, 1)
	require.NoError(t, err)
	node.Update(AlgoHypothesis, 25.0, 1.0, 0, &p, nil)

	disc := NewDisambiguator(PolicyDensity, 0.95, AlgoHypothesis, cache, nil)
	asm := NewSurfaceAssembler(grid, disc, cache, nil)

	out, err := asm.Extract([]Layer{LayerDepth, LayerStdDev})
	require.NoError(t, err)

	idx := 1*int(grid.TotalCols) + 1
	assert.Equal(t, 25.0, out[LayerDepth].Samples[idx])
	assert.InDelta(t, 1.0, out[LayerStdDev].Samples[idx], 1e-9)
}

func TestHitGrid_AddAndZero(t *testing.T) {
	g := NewHitGrid(4, 4)
	g.Add(2, 2)
	g.Add(2, 2)
	assert.Equal(t, uint32(2), g.At(2, 2))
	assert.Equal(t, uint32(0), g.At(0, 0))

	g.Zero()
	assert.Equal(t, uint32(0), g.At(2, 2))
}
