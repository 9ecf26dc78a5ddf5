package mapsheet

import "math"

// Layer identifies one raster SurfaceAssembler can emit (§4.7).
type Layer uint8

const (
	LayerDepth Layer = iota
	LayerUncertainty
	LayerStdDev
	LayerHitCount
	LayerHypoCount
	LayerHypoStrength
)

// Raster is a dense, row-major, north-to-south scalar grid (§4.7/§6).
// Samples is always Width*Height long; a sample equal to Type's
// published invalid-data sentinel marks an untouched node.
type Raster struct {
	Layer  Layer
	Width  uint32
	Height uint32
	Type   DataType
	Samples []float64 // Type's sentinel is substituted for untouched nodes
}

// SurfaceAssembler walks the logical tile grid and emits full rasters,
// invoking Disambiguator once per node regardless of how many layers are
// requested (§4.7).
type SurfaceAssembler struct {
	grid  TileGrid
	disc  *Disambiguator
	cache *TileCache
	hits  *HitGrid
}

// NewSurfaceAssembler constructs a SurfaceAssembler over grid, reading
// disambiguated depths through disc and optional hit counts through
// hits (nil if the sheet carries no hit-count grid).
func NewSurfaceAssembler(grid TileGrid, disc *Disambiguator, cache *TileCache, hits *HitGrid) *SurfaceAssembler {
	return &SurfaceAssembler{grid: grid, disc: disc, cache: cache, hits: hits}
}

// Extract emits one Raster per requested layer, walking the grid exactly
// once and sharing one Disambiguator call per node across all requested
// layers (§4.7).
func (s *SurfaceAssembler) Extract(layers []Layer) (map[Layer]*Raster, error) {
	out := make(map[Layer]*Raster, len(layers))
	for _, l := range layers {
		out[l] = &Raster{
			Layer:  l,
			Width:  s.grid.TotalCols,
			Height: s.grid.TotalRows,
			Type:   layerDataType(l),
			Samples: make([]float64, int(s.grid.TotalCols)*int(s.grid.TotalRows)),
		}
	}

	for row := uint32(0); row < s.grid.TotalRows; row++ {
		for col := uint32(0); col < s.grid.TotalCols; col++ {
			result, err := s.disc.Disambiguate(col, row)
			if err != nil {
				return nil, err
			}
			idx := int(row)*int(s.grid.TotalCols) + int(col)

			var hitCount uint32
			if s.hits != nil {
				hitCount = s.hits.At(col, row)
			}

			for _, l := range layers {
				out[l].Samples[idx] = sampleFor(l, result, hitCount)
			}
		}
	}
	return out, nil
}

func layerDataType(l Layer) DataType {
	switch l {
	case LayerHitCount, LayerHypoCount:
		return DataU32
	default:
		return DataF32
	}
}

// sampleFor computes one layer's scalar at a node, returning the
// invalid-data sentinel for an untouched node (§8: "Sentinel
// preservation").
func sampleFor(l Layer, r DisambiguationResult, hitCount uint32) float64 {
	if !r.Ok {
		switch l {
		case LayerHitCount, LayerHypoCount:
			return float64(InvalidU32)
		default:
			return float64(InvalidF32)
		}
	}
	switch l {
	case LayerDepth:
		return r.Z
	case LayerUncertainty:
		return r.CI
	case LayerStdDev:
		return sqrtNonNeg(r.V)
	case LayerHitCount:
		return float64(hitCount)
	case LayerHypoCount:
		return float64(r.HypoCount)
	case LayerHypoStrength:
		return r.Strength
	default:
		return float64(InvalidF32)
	}
}

func sqrtNonNeg(v float64) float64 {
	if v < 0 {
		return 0
	}
	return math.Sqrt(v)
}

// HitGrid is the optional parallel hit-count grid (§3, §12:
// mapsheet_add_hits/count_hits/zero_hits/delete_hits). It is addressed
// by the same logical (col, row) coordinates as the depth grid but
// stores plain counters rather than estimator state, so it is kept as a
// flat slice rather than routed through the TileCache.
type HitGrid struct {
	width, height uint32
	counts        []uint32
}

// NewHitGrid allocates a zeroed hit-count grid sized to width x height.
func NewHitGrid(width, height uint32) *HitGrid {
	return &HitGrid{width: width, height: height, counts: make([]uint32, int(width)*int(height))}
}

// Add increments the hit count at (col, row).
func (g *HitGrid) Add(col, row uint32) {
	g.counts[int(row)*int(g.width)+int(col)]++
}

// At returns the hit count at (col, row).
func (g *HitGrid) At(col, row uint32) uint32 {
	return g.counts[int(row)*int(g.width)+int(col)]
}

// Zero clears every counter without reallocating.
func (g *HitGrid) Zero() {
	for i := range g.counts {
		g.counts[i] = 0
	}
}
