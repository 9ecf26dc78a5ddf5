package mapsheet

import "math"

// Sounding is the abstract record consumed by SoundingDispatcher (§6).
// Positions are already projected; the dispatcher has no notion of
// geodetic coordinates.
type Sounding struct {
	East, North float64 // projected meters
	Depth       float32 // positive-down, meters
	Variance    float32 // propagated depth variance, m²
	AlongVar    float32 // along-track horizontal variance, m²
	AcrossVar   float32 // across-track horizontal variance, m²
	BeamAngle   float32 // degrees, +starboard
	Timestamp   float64 // seconds since a fixed epoch
	Backscatter *uint16 // optional

	Footprint float64 // per-sounding influence radius, derived from beam geometry
}

// GateFunc screens a sounding before any node is touched (§4.4: "Depth
// and angle gates (parameters) are applied to the sounding itself before
// any node is touched; gated-out soundings are silently dropped").
// A MapSheet configures zero or more gates; nil disables gating.
type GateFunc func(Sounding) bool

// SoundingDispatcher attributes one sounding to the neighborhood of
// nodes within its footprint, weighting and inflating the propagated
// variance by distance, and routes the update to NodeEstimator through
// a TileCache.
type SoundingDispatcher struct {
	grid    TileGrid
	spacing NodeSpacing
	cache   *TileCache
	params  *Params
	algo    Algorithm
	gates   []GateFunc
	rng     Uniformer
}

// NodeSpacing converts between projected (east, north) and integer
// (col, row) node coordinates for one MapSheet (§3: "east/north node
// spacing in projected units; SW and NE corners in projected units").
type NodeSpacing struct {
	SWEast, SWNorth       float64
	EastSpacing, NorthSpacing float64
}

// NodeXY returns the projected coordinate of node (col, row).
func (s NodeSpacing) NodeXY(col, row uint32) (east, north float64) {
	return s.SWEast + float64(col)*s.EastSpacing, s.SWNorth + float64(row)*s.NorthSpacing
}

// ColRow returns the nearest node coordinate for a projected (east,
// north) position, with ok=false if the position falls outside the
// sheet bounds (used for nearest-node hypothesis queries, §12).
func (s NodeSpacing) ColRow(east, north float64, totalCols, totalRows uint32) (col, row uint32, ok bool) {
	if s.EastSpacing <= 0 || s.NorthSpacing <= 0 {
		return 0, 0, false
	}
	fc := (east - s.SWEast) / s.EastSpacing
	fr := (north - s.SWNorth) / s.NorthSpacing
	if fc < -0.5 || fr < -0.5 {
		return 0, 0, false
	}
	c := int64(math.Round(fc))
	r := int64(math.Round(fr))
	if c < 0 || r < 0 || c >= int64(totalCols) || r >= int64(totalRows) {
		return 0, 0, false
	}
	return uint32(c), uint32(r), true
}

// NewSoundingDispatcher constructs a dispatcher over cache, addressing
// nodes through spacing and folding samples via the algo estimator.
func NewSoundingDispatcher(grid TileGrid, spacing NodeSpacing, cache *TileCache, params *Params, algo Algorithm, rng Uniformer) *SoundingDispatcher {
	return &SoundingDispatcher{grid: grid, spacing: spacing, cache: cache, params: params, algo: algo, rng: rng}
}

// AddGate registers a gate applied to every sounding before dispatch.
func (d *SoundingDispatcher) AddGate(g GateFunc) {
	d.gates = append(d.gates, g)
}

// Dispatch attributes one sounding to every node within its footprint
// radius, per §4.4 steps 1-5. Soundings failing a configured gate, or
// falling entirely outside the sheet, are silently dropped (§7:
// InputError "sounding outside the sheet bounds... not an error").
func (d *SoundingDispatcher) Dispatch(s Sounding, predicted PredictedSurface) error {
	for _, g := range d.gates {
		if g != nil && !g(s) {
			return nil
		}
	}

	rho := s.Footprint
	if rho <= 0 {
		rho = d.params.DispatcherInfluenceRadius
	}

	minCol, maxCol, minRow, maxRow, any := d.windowBounds(s.East, s.North, rho)
	if !any {
		return nil
	}

	k := d.params.DispatcherDistanceInflation

	for row := minRow; row <= maxRow; row++ {
		for col := minCol; col <= maxCol; col++ {
			nodeEast, nodeNorth := d.spacing.NodeXY(col, row)
			dx := s.East - nodeEast
			dy := s.North - nodeNorth
			dist := math.Hypot(dx, dy)
			if dist > rho {
				continue // step 2: reject outside the footprint
			}

			sigma2 := float64(s.Variance)

			var slope float64
			if predicted != nil {
				if p, ok := predicted.SlopeAt(col, row); ok {
					slope = p
				}
			}
			sigmaEff := sigma2 + (slope*dist)*(slope*dist) + k*(dist/rho)*(dist/rho)*sigma2

			// IDW positional reliability weight (§4.4 step 4), normalized
			// to 1 at dist==0 and falling off as 1/(dist²+eps): a small
			// eps floor only guards against division by zero, it does
			// not otherwise perturb the weight at the sounding's own
			// location. The inverse weight scales the propagated
			// variance, so a distant node is treated as having seen a
			// noisier observation.
			const eps = 1e-6
			relWeight := eps / (dist*dist + eps)
			propagated := sigmaEff / relWeight

			node, err := d.cache.GetNodeMut(col, row)
			if err != nil {
				return err
			}
			node.Update(d.algo, float64(s.Depth), propagated, s.Timestamp, d.params, d.rng)
		}
	}
	return nil
}

// windowBounds computes the inclusive node-index window covering a
// square of half-width rho around (east, north), clamped to the sheet's
// logical extent.
func (d *SoundingDispatcher) windowBounds(east, north, rho float64) (minCol, maxCol, minRow, maxRow uint32, any bool) {
	if d.spacing.EastSpacing <= 0 || d.spacing.NorthSpacing <= 0 {
		return 0, 0, 0, 0, false
	}
	loE, hiE := east-rho, east+rho
	loN, hiN := north-rho, north+rho

	fc0 := (loE - d.spacing.SWEast) / d.spacing.EastSpacing
	fc1 := (hiE - d.spacing.SWEast) / d.spacing.EastSpacing
	fr0 := (loN - d.spacing.SWNorth) / d.spacing.NorthSpacing
	fr1 := (hiN - d.spacing.SWNorth) / d.spacing.NorthSpacing

	c0 := int64(math.Ceil(fc0))
	c1 := int64(math.Floor(fc1))
	r0 := int64(math.Ceil(fr0))
	r1 := int64(math.Floor(fr1))

	if c0 < 0 {
		c0 = 0
	}
	if r0 < 0 {
		r0 = 0
	}
	if c1 >= int64(d.grid.TotalCols) {
		c1 = int64(d.grid.TotalCols) - 1
	}
	if r1 >= int64(d.grid.TotalRows) {
		r1 = int64(d.grid.TotalRows) - 1
	}
	if c0 > c1 || r0 > r1 {
		return 0, 0, 0, 0, false
	}
	return uint32(c0), uint32(c1), uint32(r0), uint32(r1), true
}

// depthAngleGate implements §4.4's depth and angle gates: a sounding
// whose depth or beam angle falls outside the configured range is
// dropped before any node is touched.
func depthAngleGate(p *Params) GateFunc {
	return func(s Sounding) bool {
		d := float64(s.Depth)
		if d < p.GateMinDepth || d > p.GateMaxDepth {
			return false
		}
		a := math.Abs(float64(s.BeamAngle))
		if a > p.GateMaxAbsAngle {
			return false
		}
		return true
	}
}

// PredictedSurface supplies the optional slope-correction prior used by
// the dispatcher's variance inflation (§4.4 step 3). A MapSheet with no
// predicted-depth surface simply omits it ("Behavior without a
// predicted-depth surface: the slope term is zero").
type PredictedSurface interface {
	// SlopeAt returns the local slope magnitude at (col, row), or
	// ok=false if unavailable there.
	SlopeAt(col, row uint32) (slope float64, ok bool)
}
