package mapsheet

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// memStore is an in-memory TileStore stand-in for tests, avoiding any
// dependency on a real backing store.
type memStore struct {
	tiles map[TileCoord]*Tile
	saves int
}

func newMemStore() *memStore { return &memStore{tiles: make(map[TileCoord]*Tile)} }

func (m *memStore) LoadTile(coord TileCoord, grid TileGrid) (*Tile, bool, error) {
	t, ok := m.tiles[coord]
	return t, ok, nil
}

func (m *memStore) SaveTile(tile *Tile) error {
	m.saves++
	cp := *tile
	cp.Nodes = append([]NodeEstimator(nil), tile.Nodes...)
	m.tiles[tile.Coord] = &cp
	return nil
}

func testGrid(t *testing.T) TileGrid {
	g, err := NewTileGrid(16, 16, 4, 4)
	require.NoError(t, err)
	return g
}

func testSpacing() NodeSpacing {
	return NodeSpacing{SWEast: 100, SWNorth: 200, EastSpacing: 1, NorthSpacing: 1}
}

func TestTileCache_CapacityEvictsLRU(t *testing.T) {
	grid := testGrid(t)
	store := newMemStore()
	cache, err := NewTileCache(grid, testSpacing(), store, 1)
	require.NoError(t, err)

	_, err = cache.GetNodeMut(0, 0) // tile (0,0)
	require.NoError(t, err)
	assert.Equal(t, 1, cache.ResidentCount())

	_, err = cache.GetNodeMut(4, 0) // tile (1,0): forces eviction of (0,0)
	require.NoError(t, err)
	assert.Equal(t, 1, cache.ResidentCount())
	assert.Equal(t, 1, store.saves, "dirty tile must be written back before eviction")
}

func TestTileCache_FlushIsIdempotent(t *testing.T) {
	grid := testGrid(t)
	store := newMemStore()
	cache, err := NewTileCache(grid, testSpacing(), store, 4)
	require.NoError(t, err)

	n, err := cache.GetNodeMut(0, 0)
	require.NoError(t, err)
	p := DefaultParams()
	n.Update(AlgoHypothesis, 10.0, 1.0, 0, &p, nil)

	require.NoError(t, cache.Flush())
	firstSaves := store.saves
	require.NoError(t, cache.Flush())
	assert.Equal(t, firstSaves, store.saves, "a second flush with no new writes must not re-save")
}

func TestTileCache_EvictionRoundTripPreservesState(t *testing.T) {
	grid := testGrid(t)
	store := newMemStore()
	cache, err := NewTileCache(grid, testSpacing(), store, 1)
	require.NoError(t, err)

	p := DefaultParams()
	n, err := cache.GetNodeMut(0, 0)
	require.NoError(t, err)
	n.Update(AlgoHypothesis, 33.0, 1.0, 0, &p, nil)

	// Touch the 15 other tiles to force (0,0) all the way out and back via the
	// backing store.
	for tc := uint32(0); tc < 4; tc++ {
		for tr := uint32(0); tr < 4; tr++ {
			if tc == 0 && tr == 0 {
				continue
			}
			_, err := cache.GetNodeMut(tc*4, tr*4)
			require.NoError(t, err)
		}
	}

	reloaded, err := cache.GetNode(0, 0)
	require.NoError(t, err)
	require.Len(t, reloaded.Hypotheses, 1)
	assert.Equal(t, 33.0, reloaded.Hypotheses[0].Z)
}

func TestTileCache_TileOriginIsProjectedNotRawIndex(t *testing.T) {
	grid := testGrid(t)
	store := newMemStore()
	spacing := testSpacing()
	cache, err := NewTileCache(grid, spacing, store, 16)
	require.NoError(t, err)

	tile, err := cache.resident(TileCoord{TC: 1, TR: 2})
	require.NoError(t, err)
	assert.Equal(t, spacing.SWEast+float64(1*grid.TileW)*spacing.EastSpacing, tile.OriginEast)
	assert.Equal(t, spacing.SWNorth+float64(2*grid.TileH)*spacing.NorthSpacing, tile.OriginNorth)
}

func TestTileCache_TileOriginSurvivesEvictionAndReload(t *testing.T) {
	grid := testGrid(t)
	store := newMemStore()
	spacing := testSpacing()
	cache, err := NewTileCache(grid, spacing, store, 1)
	require.NoError(t, err)

	_, err = cache.GetNodeMut(0, 0) // tile (0,0): dirty, evicted below
	require.NoError(t, err)
	_, err = cache.GetNodeMut(4, 0) // tile (1,0): forces eviction of (0,0)
	require.NoError(t, err)

	reloaded, err := cache.resident(TileCoord{TC: 0, TR: 0})
	require.NoError(t, err)
	assert.Equal(t, spacing.SWEast, reloaded.OriginEast)
	assert.Equal(t, spacing.SWNorth, reloaded.OriginNorth)
}

func TestTileCache_MinimizeMemoryEvictsStaleTiles(t *testing.T) {
	grid := testGrid(t)
	store := newMemStore()
	cache, err := NewTileCache(grid, testSpacing(), store, 16)
	require.NoError(t, err)

	_, err = cache.GetNodeMut(0, 0)
	require.NoError(t, err)
	_, err = cache.GetNodeMut(4, 0)
	require.NoError(t, err)

	require.NoError(t, cache.MinimizeMemory(1))
	assert.LessOrEqual(t, cache.ResidentCount(), 1)
}

func TestTileCache_OutOfBoundsNodeIsError(t *testing.T) {
	grid := testGrid(t)
	store := newMemStore()
	cache, err := NewTileCache(grid, testSpacing(), store, 4)
	require.NoError(t, err)

	_, err = cache.GetNode(16, 0)
	assert.Error(t, err)
}
