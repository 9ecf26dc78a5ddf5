package mapsheet

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestDispatcher(t *testing.T, p *Params) (*SoundingDispatcher, *TileCache) {
	grid, err := NewTileGrid(20, 20, 4, 4)
	require.NoError(t, err)
	spacing := NodeSpacing{SWEast: 0, SWNorth: 0, EastSpacing: 1, NorthSpacing: 1}
	cache, err := NewTileCache(grid, spacing, newMemStore(), 64)
	require.NoError(t, err)
	return NewSoundingDispatcher(grid, spacing, cache, p, AlgoHypothesis, nil), cache
}

func TestDispatch_StaysWithinFootprintRadius(t *testing.T) {
	p := DefaultParams()
	d, cache := newTestDispatcher(t, &p)

	s := Sounding{East: 10, North: 10, Depth: 30, Variance: 1.0, Footprint: 1.5}
	require.NoError(t, d.Dispatch(s, nil))

	// A node well outside the footprint must remain untouched.
	node, err := cache.GetNode(0, 0)
	require.NoError(t, err)
	assert.Empty(t, node.Hypotheses)

	// A node at the sounding's own location must be touched.
	node, err = cache.GetNode(10, 10)
	require.NoError(t, err)
	assert.NotEmpty(t, node.Hypotheses)
}

func TestDispatch_VarianceUnscaledAtZeroDistance(t *testing.T) {
	p := DefaultParams()
	p.DispatcherDistanceInflation = 0
	d, cache := newTestDispatcher(t, &p)

	s := Sounding{East: 10, North: 10, Depth: 30, Variance: 2.0, Footprint: 0.5}
	require.NoError(t, d.Dispatch(s, nil))

	node, err := cache.GetNode(10, 10)
	require.NoError(t, err)
	require.Len(t, node.Hypotheses, 1)
	assert.InDelta(t, 2.0, node.Hypotheses[0].V, 1e-9)
}

func TestDispatch_GateDropsSoundingSilently(t *testing.T) {
	p := DefaultParams()
	d, cache := newTestDispatcher(t, &p)
	d.AddGate(func(s Sounding) bool { return s.Depth < 100 })

	s := Sounding{East: 10, North: 10, Depth: 500, Variance: 1.0, Footprint: 1.0}
	require.NoError(t, d.Dispatch(s, nil))

	node, err := cache.GetNode(10, 10)
	require.NoError(t, err)
	assert.Empty(t, node.Hypotheses)
}

func TestDispatch_OutsideSheetBoundsIsNotAnError(t *testing.T) {
	p := DefaultParams()
	d, _ := newTestDispatcher(t, &p)

	s := Sounding{East: 1000, North: 1000, Depth: 30, Variance: 1.0, Footprint: 1.0}
	assert.NoError(t, d.Dispatch(s, nil))
}

func TestDispatch_FallsBackToConfiguredInfluenceRadius(t *testing.T) {
	p := DefaultParams()
	p.DispatcherInfluenceRadius = 0.4
	d, cache := newTestDispatcher(t, &p)

	s := Sounding{East: 10, North: 10, Depth: 30, Variance: 1.0} // Footprint unset
	require.NoError(t, d.Dispatch(s, nil))

	node, err := cache.GetNode(10, 10)
	require.NoError(t, err)
	assert.NotEmpty(t, node.Hypotheses)

	node, err = cache.GetNode(11, 10)
	require.NoError(t, err)
	assert.Empty(t, node.Hypotheses, "node beyond the fallback radius must stay untouched")
}
