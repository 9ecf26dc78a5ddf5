package mapsheet

import (
	"errors"

	"github.com/samber/lo"
)

// TileStore is the backing-store side of the TileCache: load a tile by
// coordinate (or report it has never been written) and write one back.
// PersistenceLayer is the only implementation; the interface exists so
// TileCache never depends on the on-disk layout directly (§9: "Tile and
// TileCache" must not cycle).
type TileStore interface {
	LoadTile(coord TileCoord, grid TileGrid) (tile *Tile, present bool, err error)
	SaveTile(tile *Tile) error
}

// TileCache makes the logical N×M node grid addressable while holding at
// most Capacity tiles resident (§4.3). Eviction is strictly by LastTouch,
// ties broken by tile coordinate; dirty tiles are written through before
// eviction.
type TileCache struct {
	grid     TileGrid
	spacing  NodeSpacing
	store    TileStore
	capacity uint32
	sellBy   uint64

	clock uint64
	tiles map[TileCoord]*Tile
}

// NewTileCache constructs a TileCache over grid, backed by store, holding
// at most capacity tiles resident at once. spacing is used to compute
// each tile's southwest corner in projected coordinates (§3) on both
// first touch and reload, so it must match the MapSheet's own node
// spacing.
func NewTileCache(grid TileGrid, spacing NodeSpacing, store TileStore, capacity uint32) (*TileCache, error) {
	if capacity == 0 {
		return nil, ConfigError(errors.New("cache capacity must be >= 1"))
	}
	return &TileCache{
		grid:     grid,
		spacing:  spacing,
		store:    store,
		capacity: capacity,
		tiles:    make(map[TileCoord]*Tile),
	}, nil
}

// tileOrigin returns the southwest corner of tile coord in projected
// coordinates, derived from the cache's node spacing rather than raw
// tile-index arithmetic (§3: "southwest corner in projected coordinates").
func (c *TileCache) tileOrigin(coord TileCoord) (east, north float64) {
	east = c.spacing.SWEast + float64(coord.TC*c.grid.TileW)*c.spacing.EastSpacing
	north = c.spacing.SWNorth + float64(coord.TR*c.grid.TileH)*c.spacing.NorthSpacing
	return east, north
}

// resident returns the tile at coord, loading it from the backing store
// (or allocating it fresh, on first touch) if it is not already resident,
// evicting the LRU tile first if the cache is at capacity.
func (c *TileCache) resident(coord TileCoord) (*Tile, error) {
	if t, ok := c.tiles[coord]; ok {
		c.clock++
		t.LastTouch = c.clock
		return t, nil
	}

	if uint32(len(c.tiles)) >= c.capacity {
		if err := c.evictOne(); err != nil {
			return nil, err
		}
	}

	tile, present, err := c.store.LoadTile(coord, c.grid)
	if err != nil {
		return nil, PersistenceErrorf(err)
	}
	swEast, swNorth := c.tileOrigin(coord)
	if !present {
		w, h := c.grid.TileDims(coord.TC, coord.TR)
		tile, err = NewTile(coord, w, h, c.grid.TileW, c.grid.TileH, swEast, swNorth)
		if err != nil {
			return nil, err
		}
		tile.Resident = true
	} else {
		// decodeTile does not restore the tile origin, so re-derive it
		// from geometry on every load, the same way Coord/Active/Design
		// dims are reconstructed from grid context rather than read back
		// from the file (persistence.go's LoadTile).
		tile.OriginEast, tile.OriginNorth = swEast, swNorth
	}

	c.clock++
	tile.LastTouch = c.clock
	tile.Resident = true
	c.tiles[coord] = tile
	return tile, nil
}

// evictOne writes back and drops the least-recently-touched resident
// tile, ties broken by tile coordinate (§4.3).
func (c *TileCache) evictOne() error {
	type cand struct {
		coord TileCoord
		touch uint64
	}
	candidates := make([]cand, 0, len(c.tiles))
	for coord, t := range c.tiles {
		candidates = append(candidates, cand{coord: coord, touch: t.LastTouch})
	}
	victim := lo.MinBy(candidates, func(a, b cand) bool {
		if a.touch != b.touch {
			return a.touch < b.touch
		}
		if a.coord.TR != b.coord.TR {
			return a.coord.TR < b.coord.TR
		}
		return a.coord.TC < b.coord.TC
	})

	tile := c.tiles[victim.coord]
	if tile.Dirty {
		if err := c.writeThrough(tile); err != nil {
			return err
		}
	}
	tile.Resident = false
	delete(c.tiles, victim.coord)
	return nil
}

// writeThrough saves a dirty tile, retrying once on failure before
// surfacing a persistence failure (§4.3).
func (c *TileCache) writeThrough(tile *Tile) error {
	err := c.store.SaveTile(tile)
	if err != nil {
		err = c.store.SaveTile(tile)
	}
	if err != nil {
		return PersistenceErrorf(err)
	}
	tile.Dirty = false
	return nil
}

// GetNodeMut returns a mutable handle to the node at (col, row), loading
// its tile on miss and evicting the LRU tile if the cache is at capacity.
// The returned pointer is valid only until the next TileCache call.
func (c *TileCache) GetNodeMut(col, row uint32) (*NodeEstimator, error) {
	coord, lc, lr, ok := c.grid.Locate(col, row)
	if !ok {
		return nil, ConfigError(errors.New("node coordinate outside grid"))
	}
	tile, err := c.resident(coord)
	if err != nil {
		return nil, err
	}
	tile.Dirty = true
	n := tile.NodeAt(lc, lr)
	if n == nil {
		return nil, ConfigError(errors.New("node coordinate outside tile active bounds"))
	}
	return n, nil
}

// GetNode returns a read-only handle to the node at (col, row), with the
// same residency semantics as GetNodeMut but without marking the tile
// dirty.
func (c *TileCache) GetNode(col, row uint32) (*NodeEstimator, error) {
	coord, lc, lr, ok := c.grid.Locate(col, row)
	if !ok {
		return nil, ConfigError(errors.New("node coordinate outside grid"))
	}
	tile, err := c.resident(coord)
	if err != nil {
		return nil, err
	}
	n := tile.NodeAt(lc, lr)
	if n == nil {
		return nil, ConfigError(errors.New("node coordinate outside tile active bounds"))
	}
	return n, nil
}

// Flush writes all dirty resident tiles through to the backing store and
// clears their dirty bits. Calling Flush twice in succession performs no
// additional writes on the second call (§8, idempotent flush).
func (c *TileCache) Flush() error {
	for _, t := range c.tiles {
		if !t.Dirty {
			continue
		}
		if err := c.writeThrough(t); err != nil {
			return err
		}
	}
	return nil
}

// MinimizeMemory flushes dirty tiles and evicts every resident tile whose
// LastTouch is older than sellBy ticks of the cache clock (§4.3).
// Residency may drop to zero.
func (c *TileCache) MinimizeMemory(sellBy uint64) error {
	if err := c.Flush(); err != nil {
		return err
	}
	var toEvict []TileCoord
	for coord, t := range c.tiles {
		age := c.clock - t.LastTouch
		if age >= sellBy {
			toEvict = append(toEvict, coord)
		}
	}
	for _, coord := range toEvict {
		t := c.tiles[coord]
		if t.Dirty {
			if err := c.writeThrough(t); err != nil {
				return err
			}
		}
		t.Resident = false
		delete(c.tiles, coord)
	}
	return nil
}

// ResidentCount reports how many tiles are currently resident, for tests
// of the cache-capacity and sell-by-eviction invariants (§8).
func (c *TileCache) ResidentCount() int {
	return len(c.tiles)
}

// SnapshotVisit iterates every tile in the logical grid in row-major,
// north-to-south order, loading lazily, and calls fn with each. Visited
// tiles are marked with the current clock (§4.3).
func (c *TileCache) SnapshotVisit(fn func(*Tile) error) error {
	for tr := uint32(0); tr < c.grid.TileRows; tr++ {
		for tc := uint32(0); tc < c.grid.TileCols; tc++ {
			tile, err := c.resident(TileCoord{TC: tc, TR: tr})
			if err != nil {
				return err
			}
			if err := fn(tile); err != nil {
				return err
			}
		}
	}
	return nil
}
