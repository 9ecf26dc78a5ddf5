package mapsheet

import "fmt"

// TileCoord addresses one tile in the logical TileGrid by (column, row),
// tile (0,0) at the NORTHWEST (§3).
type TileCoord struct {
	TC, TR uint32
}

// MarshalText encodes c as "tc_tr", so a TileCoord can key the
// persisted Nominations JSON object.
func (c TileCoord) MarshalText() ([]byte, error) {
	return []byte(fmt.Sprintf("%d_%d", c.TC, c.TR)), nil
}

// UnmarshalText parses the "tc_tr" form written by MarshalText.
func (c *TileCoord) UnmarshalText(b []byte) error {
	_, err := fmt.Sscanf(string(b), "%d_%d", &c.TC, &c.TR)
	return err
}

// TileGrid is the logical, ungapped description of the full survey area
// expressed in ⌈totalCols/W⌉ × ⌈totalRows/H⌉ tiles (§3). It carries no
// node storage itself; TileCache owns resident Tile values indexed by
// TileCoord.
type TileGrid struct {
	TotalCols, TotalRows uint32
	TileW, TileH         uint32
	TileCols, TileRows   uint32
}

// NewTileGrid computes the logical tiling of a totalCols × totalRows node
// grid into tileW × tileH tiles, per §3/§4.2.
func NewTileGrid(totalCols, totalRows, tileW, tileH uint32) (TileGrid, error) {
	if totalCols == 0 || totalRows == 0 || tileW == 0 || tileH == 0 {
		return TileGrid{}, ConfigError(ErrBadGeometry)
	}
	return TileGrid{
		TotalCols: totalCols,
		TotalRows: totalRows,
		TileW:     tileW,
		TileH:     tileH,
		TileCols:  ceilDiv(totalCols, tileW),
		TileRows:  ceilDiv(totalRows, tileH),
	}, nil
}

func ceilDiv(a, b uint32) uint32 {
	return (a + b - 1) / b
}

// Locate maps an absolute (col, row) node coordinate to its owning tile
// coordinate and the node's offset within that tile (§4.2).
func (g *TileGrid) Locate(col, row uint32) (tile TileCoord, localCol, localRow uint32, ok bool) {
	if col >= g.TotalCols || row >= g.TotalRows {
		return TileCoord{}, 0, 0, false
	}
	tile = TileCoord{TC: col / g.TileW, TR: row / g.TileH}
	localCol = col % g.TileW
	localRow = row % g.TileH
	return tile, localCol, localRow, true
}

// TileDims returns the active (width, height) of the tile at (tc, tr):
// the design W×H everywhere except the right/bottom edge tiles, which
// carry unused trailing cells (§4.2).
func (g *TileGrid) TileDims(tc, tr uint32) (w, h uint32) {
	w = g.TileW
	if (tc+1)*g.TileW > g.TotalCols {
		w = g.TotalCols - tc*g.TileW
	}
	h = g.TileH
	if (tr+1)*g.TileH > g.TotalRows {
		h = g.TotalRows - tr*g.TileH
	}
	return w, h
}

// Tile is a fixed W×H block of NodeEstimators (dense array, row-major
// north to south) plus its tile-local metadata (§3/§4.2). Right/bottom
// edge tiles carry Active W/H smaller than the design TileW/TileH; the
// trailing cells in Nodes are allocated but never addressed.
type Tile struct {
	Coord TileCoord

	// Active dimensions: may be smaller than the design tile size on the
	// right/bottom edge of the survey.
	ActiveW, ActiveH uint32

	// DesignW, DesignH are the tile's design dimensions, used to compute
	// the dense storage stride and the fixed on-disk record size.
	DesignW, DesignH uint32

	// OriginEast, OriginNorth is the southwest corner of the tile in
	// projected coordinates.
	OriginEast, OriginNorth float64

	Nodes []NodeEstimator // len == DesignW*DesignH, row-major north->south

	LastTouch uint64
	Dirty     bool
	Resident  bool
}

// NewTile allocates a tile's dense node storage. Tile geometry is caller
// (survey-design) controlled, so an allocation failure here is reported
// as OutOfMemory (§7: "tile or grid allocation failure") rather than
// panicking the calling goroutine.
func NewTile(coord TileCoord, activeW, activeH, designW, designH uint32, swEast, swNorth float64) (*Tile, error) {
	nodes, err := allocateNodes(designW, designH)
	if err != nil {
		return nil, err
	}
	return &Tile{
		Coord:      coord,
		ActiveW:    activeW,
		ActiveH:    activeH,
		DesignW:    designW,
		DesignH:    designH,
		OriginEast: swEast,
		OriginNorth: swNorth,
		Nodes:      nodes,
	}, nil
}

// allocateNodes allocates a designW*designH dense node array, converting
// a runtime allocation failure into an OutOfMemory error instead of
// letting it crash the process (§7).
func allocateNodes(designW, designH uint32) (nodes []NodeEstimator, err error) {
	defer func() {
		if r := recover(); r != nil {
			nodes = nil
			err = OOMError(fmt.Errorf("allocating %d nodes: %v", designW*designH, r))
		}
	}()
	nodes = make([]NodeEstimator, designW*designH)
	for i := range nodes {
		nodes[i] = NewNodeEstimator()
	}
	return nodes, nil
}

// NodeAt returns a pointer to the NodeEstimator at the tile-local
// (col, row), or nil if out of the tile's active bounds.
func (t *Tile) NodeAt(localCol, localRow uint32) *NodeEstimator {
	if localCol >= t.ActiveW || localRow >= t.ActiveH {
		return nil
	}
	return &t.Nodes[localRow*t.DesignW+localCol]
}
