package mapsheet

import (
	"math"
	"math/rand"
	"os"

	"github.com/samber/lo"
)

// MapSheet is the logical grid plus everything described in §3: the
// projection handle, node/tile geometry, algorithm selector, optional
// hit-count and backscatter grids, and the tile cache through which all
// node access is routed. A MapSheet is not safe for concurrent access
// (§5): at most one in-flight update or readback exists at any time.
type MapSheet struct {
	grid    TileGrid
	spacing NodeSpacing
	proj    Projection
	projType ProjectionType

	algo   Algorithm
	params Params

	store *BackingStore
	cache *TileCache
	rng   *rand.Rand

	depthAdded bool

	hits        *HitGrid
	backscatter *HitGrid // u16 parallel grid, reuses HitGrid's flat-counter shape

	predicted *PredictedRaster

	dirURI string
}

// PredictedRaster is a simple, directly-supplied prior (§3, §4.4 step
// 3): dense row-major grids of per-node slope magnitudes (Slopes, used by
// SoundingDispatcher's variance inflation) and predicted depths (Depths,
// used by Disambiguator's Prior policy when a node carries no predicted
// depth of its own). Callers compute it externally (e.g. from a previous survey
// pass); the core only consumes it.
type PredictedRaster struct {
	Width, Height uint32
	Slopes        []float64
	Depths        []float64
}

func (p *PredictedRaster) SlopeAt(col, row uint32) (float64, bool) {
	if p == nil || col >= p.Width || row >= p.Height {
		return 0, false
	}
	return p.Slopes[int(row)*int(p.Width)+int(col)], true
}

// NewDirect constructs a MapSheet directly from grid geometry (§9,
// mapsheet_new_direct): width/height in nodes, SW corner, node spacing,
// tile geometry, and a projection. A fresh temporary backing-store
// directory is created; use NewDirectBacked to target an explicit one.
func NewDirect(width, height uint32, swEast, swNorth, eastSpacing, northSpacing float64, tileWidth, tileHeight uint32, proj Projection, params Params) (*MapSheet, error) {
	dir, err := os.MkdirTemp("", "mapsheet-*")
	if err != nil {
		return nil, PersistenceErrorf(err)
	}
	return NewDirectBacked(width, height, swEast, swNorth, eastSpacing, northSpacing, tileWidth, tileHeight, proj, params, dir)
}

// NewDirectBacked is NewDirect with an explicit backing-store directory
// (§9, mapsheet_new_direct_backed).
func NewDirectBacked(width, height uint32, swEast, swNorth, eastSpacing, northSpacing float64, tileWidth, tileHeight uint32, proj Projection, params Params, dirURI string) (*MapSheet, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}
	grid, err := NewTileGrid(width, height, tileWidth, tileHeight)
	if err != nil {
		return nil, err
	}

	maxSlots := params.NodeMaxHypotheses
	if params.BinnedMaxSlots > maxSlots {
		maxSlots = params.BinnedMaxSlots
	}
	store, err := OpenBackingStore(dirURI, "", maxSlots)
	if err != nil {
		return nil, err
	}

	spacing := NodeSpacing{SWEast: swEast, SWNorth: swNorth, EastSpacing: eastSpacing, NorthSpacing: northSpacing}
	cache, err := NewTileCache(grid, spacing, store, params.CacheCapacity)
	if err != nil {
		store.Close()
		return nil, err
	}

	projType := ProjNone
	if proj != nil {
		projType = proj.Type()
	}

	ms := &MapSheet{
		grid:    grid,
		spacing: spacing,
		proj:    proj,
		projType: projType,
		algo:    AlgoNone,
		params:  params,
		store:   store,
		cache:   cache,
		rng:     rand.New(rand.NewSource(1)),
		dirURI:  dirURI,
	}
	return ms, nil
}

// NewByCenter constructs a MapSheet from a center point and extent in
// projected meters (§9, mapsheet_new_by_center), deriving the SW/NE
// corners and node counts from the requested spacing.
func NewByCenter(centerEast, centerNorth, widthMeters, heightMeters, eastSpacing, northSpacing float64, tileWidth, tileHeight uint32, proj Projection, params Params) (*MapSheet, error) {
	swEast := centerEast - widthMeters/2
	swNorth := centerNorth - heightMeters/2
	width := uint32(math.Ceil(widthMeters / eastSpacing))
	height := uint32(math.Ceil(heightMeters / northSpacing))
	return NewDirect(width, height, swEast, swNorth, eastSpacing, northSpacing, tileWidth, tileHeight, proj, params)
}

// NewByCenterBacked is NewByCenter with an explicit backing-store
// directory.
func NewByCenterBacked(centerEast, centerNorth, widthMeters, heightMeters, eastSpacing, northSpacing float64, tileWidth, tileHeight uint32, proj Projection, params Params, dirURI string) (*MapSheet, error) {
	swEast := centerEast - widthMeters/2
	swNorth := centerNorth - heightMeters/2
	width := uint32(math.Ceil(widthMeters / eastSpacing))
	height := uint32(math.Ceil(heightMeters / northSpacing))
	return NewDirectBacked(width, height, swEast, swNorth, eastSpacing, northSpacing, tileWidth, tileHeight, proj, params, dirURI)
}

// NewByBounds constructs a MapSheet from an axis-aligned SW/NE bounds
// specification (§9, mapsheet_new_by_bounds).
func NewByBounds(swEast, swNorth, neEast, neNorth, eastSpacing, northSpacing float64, tileWidth, tileHeight uint32, proj Projection, params Params) (*MapSheet, error) {
	width := uint32(math.Ceil((neEast - swEast) / eastSpacing))
	height := uint32(math.Ceil((neNorth - swNorth) / northSpacing))
	return NewDirect(width, height, swEast, swNorth, eastSpacing, northSpacing, tileWidth, tileHeight, proj, params)
}

// NewByBoundsBacked is NewByBounds with an explicit backing-store
// directory.
func NewByBoundsBacked(swEast, swNorth, neEast, neNorth, eastSpacing, northSpacing float64, tileWidth, tileHeight uint32, proj Projection, params Params, dirURI string) (*MapSheet, error) {
	width := uint32(math.Ceil((neEast - swEast) / eastSpacing))
	height := uint32(math.Ceil((neNorth - swNorth) / northSpacing))
	return NewDirectBacked(width, height, swEast, swNorth, eastSpacing, northSpacing, tileWidth, tileHeight, proj, params, dirURI)
}

// AddDepthSurface activates algo as this sheet's in-memory estimator
// (§3: "depth layer added exactly once before first sounding"). Calling
// it twice is a ConfigurationError.
func (m *MapSheet) AddDepthSurface(algo Algorithm) error {
	if algo == AlgoNone {
		return ConfigError(ErrBadParameter)
	}
	if m.depthAdded {
		return ConfigError(ErrDepthSurfaceExists)
	}
	m.algo = algo
	m.depthAdded = true
	return nil
}

// SetPredictedSurface installs the optional slope-correction prior used
// by dispatch-time variance inflation and the Prior disambiguation
// policy.
func (m *MapSheet) SetPredictedSurface(p *PredictedRaster) {
	m.predicted = p
}

// AddHits allocates the optional parallel hit-count grid (§12,
// mapsheet_add_hits).
func (m *MapSheet) AddHits() {
	if m.hits == nil {
		m.hits = NewHitGrid(m.grid.TotalCols, m.grid.TotalRows)
	}
}

// CountHits increments the hit-count grid at (col, row); a no-op if the
// grid has not been added (mapsheet_count_hits).
func (m *MapSheet) CountHits(col, row uint32) {
	if m.hits != nil {
		m.hits.Add(col, row)
	}
}

// ZeroHits clears every counter in the hit-count grid (mapsheet_zero_hits).
func (m *MapSheet) ZeroHits() {
	if m.hits != nil {
		m.hits.Zero()
	}
}

// DeleteHits releases the hit-count grid (mapsheet_delete_hits).
func (m *MapSheet) DeleteHits() {
	m.hits = nil
}

// AddBackscatter allocates the optional parallel backscatter grid.
func (m *MapSheet) AddBackscatter() {
	if m.backscatter == nil {
		m.backscatter = NewHitGrid(m.grid.TotalCols, m.grid.TotalRows)
	}
}

// Update attributes one sounding to its neighborhood of nodes, per
// §4.4. A MapSheet with no depth surface yet silently drops every
// sounding (no estimator to route into).
func (m *MapSheet) Update(s Sounding) error {
	if !m.depthAdded {
		return nil
	}
	dispatcher := NewSoundingDispatcher(m.grid, m.spacing, m.cache, &m.params, m.algo, rngAdapter{m.rng})
	dispatcher.AddGate(depthAngleGate(&m.params))
	if err := dispatcher.Dispatch(s, m.predicted); err != nil {
		return err
	}
	if m.hits != nil {
		if col, row, ok := m.spacing.ColRow(s.East, s.North, m.grid.TotalCols, m.grid.TotalRows); ok {
			m.hits.Add(col, row)
		}
	}
	if m.backscatter != nil && s.Backscatter != nil {
		if col, row, ok := m.spacing.ColRow(s.East, s.North, m.grid.TotalCols, m.grid.TotalRows); ok {
			m.backscatter.counts[int(row)*int(m.backscatter.width)+int(col)] = uint32(*s.Backscatter)
		}
	}
	return nil
}

type rngAdapter struct{ r *rand.Rand }

func (a rngAdapter) Intn(n int) int { return a.r.Intn(n) }

// disambiguator constructs a fresh Disambiguator bound to this sheet's
// current policy/cache/predicted surface.
func (m *MapSheet) disambiguator() *Disambiguator {
	return NewDisambiguator(m.params.DisambiguatorPolicy, m.params.DisambiguatorCILevel, m.algo, m.cache, m.predicted)
}

// Disambiguate reports the current reportable hypothesis at (col, row).
func (m *MapSheet) Disambiguate(col, row uint32) (DisambiguationResult, error) {
	return m.disambiguator().Disambiguate(col, row)
}

// Extract walks the full grid, emitting one Raster per requested layer
// (§4.7).
func (m *MapSheet) Extract(layers []Layer) (map[Layer]*Raster, error) {
	assembler := NewSurfaceAssembler(m.grid, m.disambiguator(), m.cache, m.hits)
	return assembler.Extract(layers)
}

// Flush writes all dirty resident tiles through to the backing store
// (§4.3 durability barrier).
func (m *MapSheet) Flush() error {
	return m.cache.Flush()
}

// MinimizeMemory flushes and evicts tiles past the configured sell-by
// age (§4.3).
func (m *MapSheet) MinimizeMemory() error {
	return m.cache.MinimizeMemory(m.params.CacheSellBy)
}

// Release drops all unflushed in-memory state on a best-effort basis
// (§5: "must drop all unflushed state... unless the caller flushed
// first"). It does not touch the backing store directory's contents.
func (m *MapSheet) Release() {
	m.store.Close()
}

// Save persists the sheet's header, params, dirty tiles, and
// nominations to dirURI, following save_v2 semantics (§4.8): if dirURI
// is already this sheet's mounted backing store, only dirty tiles, the
// header/params and the nominations are written; otherwise the entire backing store is
// copied to the target first.
func (m *MapSheet) Save(dirURI string) error {
	if dirURI == m.dirURI || dirURI == "" {
		if err := m.Flush(); err != nil {
			return err
		}
		return m.saveMetadata(m.store)
	}

	target, err := OpenBackingStore(dirURI, "", m.store.maxHypotheses)
	if err != nil {
		return err
	}
	if err := m.Flush(); err != nil {
		target.Close()
		return err
	}
	if err := target.CopyFrom(m.store); err != nil {
		target.Close()
		return err
	}
	if err := m.saveMetadata(target); err != nil {
		target.Close()
		return err
	}
	target.Close()
	return nil
}

func (m *MapSheet) saveMetadata(store *BackingStore) error {
	header := SheetHeader{
		Version:  headerVersion,
		ProjType: m.projType,
	}
	if utm, ok := m.proj.(*UTM); ok {
		cenLon, _, x0, y0, ellipsoid := utm.Params()
		header.CenterLon = cenLon
		header.FalseEasting = x0
		header.FalseNorthing = y0
		header.Ellipsoid = ellipsoid
		header.UTMZone = int32(utm.Zone)
		header.UTMSouth = utm.South
	}
	header.Width = m.grid.TotalCols
	header.Height = m.grid.TotalRows
	header.EastSpacing, header.NorthSpacing = m.spacing.EastSpacing, m.spacing.NorthSpacing
	header.SWEast, header.SWNorth = m.spacing.SWEast, m.spacing.SWNorth
	header.TileWidth, header.TileHeight = m.grid.TileW, m.grid.TileH
	header.Algorithm = m.algo
	header.HasHits = m.hits != nil
	header.HasBackscatter = m.backscatter != nil

	if err := store.SaveHeader(header); err != nil {
		return err
	}
	if err := store.SaveParams(m.params); err != nil {
		return err
	}
	return store.SaveNominations(m.collectNominations())
}

func (m *MapSheet) collectNominations() Nominations {
	out := Nominations{}
	_ = m.cache.SnapshotVisit(func(t *Tile) error {
		for lr := uint32(0); lr < t.ActiveH; lr++ {
			for lc := uint32(0); lc < t.ActiveW; lc++ {
				n := t.NodeAt(lc, lr)
				if n.Nominated < 0 {
					continue
				}
				local, ok := out[t.Coord]
				if !ok {
					local = map[uint32]float64{}
					out[t.Coord] = local
				}
				local[lr*t.DesignW+lc] = n.Hypotheses[n.Nominated].Z
			}
		}
		return nil
	})
	return out
}

// Load mounts dirURI as the backing store of a fresh MapSheet,
// validating the header version (§4.8).
func Load(dirURI string) (*MapSheet, error) {
	probe, err := OpenBackingStore(dirURI, "", 1)
	if err != nil {
		return nil, err
	}
	header, err := probe.LoadHeader()
	if err != nil {
		probe.Close()
		return nil, err
	}
	params, err := probe.LoadParams()
	if err != nil {
		probe.Close()
		return nil, err
	}
	probe.Close()

	var proj Projection
	if header.ProjType != ProjNone {
		proj, err = NewProjection(header.ProjType, int(header.UTMZone), header.UTMSouth)
		if err != nil {
			return nil, err
		}
	}

	ms, err := NewDirectBacked(header.Width, header.Height, header.SWEast, header.SWNorth,
		header.EastSpacing, header.NorthSpacing, header.TileWidth, header.TileHeight, proj, params, dirURI)
	if err != nil {
		return nil, err
	}
	ms.algo = header.Algorithm
	ms.depthAdded = header.Algorithm != AlgoNone
	if header.HasHits {
		ms.AddHits()
	}
	if header.HasBackscatter {
		ms.AddBackscatter()
	}

	nominations, err := ms.store.LoadNominations()
	if err != nil {
		return nil, err
	}
	for coord, byLocal := range nominations {
		for local, depth := range byLocal {
			col := coord.TC*ms.grid.TileW + local%ms.grid.TileW
			row := coord.TR*ms.grid.TileH + local/ms.grid.TileW
			if err := ms.NominateByNode(col, row, depth); err != nil {
				return nil, err
			}
		}
	}
	return ms, nil
}

// --- Hypothesis query / nominate / un-nominate / remove (§12) ---

// HypoArray is the user-inspection view of one node's hypothesis list
// (§3): its projected location, hypothesis count, nominated index (or
// -1), and (z, ci, n) triples per hypothesis.
type HypoArray struct {
	East, North float64
	Nominated   int32
	Triples     []HypoTriple
}

type HypoTriple struct {
	Z  float64
	CI float64
	N  uint32
}

// GetHypoByNode returns the hypothesis list at (col, row). Fails with
// ErrUnsupportedAlgo if the active estimator is not the hypothesis
// tracker or nodal-Kalman (§12: mapsheet_get_hypo_by_node).
func (m *MapSheet) GetHypoByNode(col, row uint32) (HypoArray, error) {
	if m.algo != AlgoHypothesis && m.algo != AlgoNodal {
		return HypoArray{}, UnsupportedOpError(ErrUnsupportedAlgo)
	}
	node, err := m.cache.GetNode(col, row)
	if err != nil {
		return HypoArray{}, err
	}
	east, north := m.spacing.NodeXY(col, row)
	mult := ciMultiplier(m.params.DisambiguatorCILevel)
	triples := make([]HypoTriple, len(node.Hypotheses))
	for i, h := range node.Hypotheses {
		triples[i] = HypoTriple{Z: h.Z, CI: mult * math.Sqrt(h.V), N: h.N}
	}
	return HypoArray{East: east, North: north, Nominated: node.Nominated, Triples: triples}, nil
}

// GetHypoByLocation is GetHypoByNode addressed by projected (east,
// north), resolving to the nearest node (§12:
// mapsheet_get_hypo_by_location).
func (m *MapSheet) GetHypoByLocation(east, north float64) (HypoArray, error) {
	col, row, ok := m.spacing.ColRow(east, north, m.grid.TotalCols, m.grid.TotalRows)
	if !ok {
		return HypoArray{}, ConfigError(ErrBadGeometry)
	}
	return m.GetHypoByNode(col, row)
}

// NominateByNode pins (col, row) to the live hypothesis whose depth is
// closest to depth, and fails with ErrHypothesisNotFound when no live
// hypothesis lies within 0.001 m of depth (§4.6, §12:
// mapsheet_nominate_hypo_by_node).
func (m *MapSheet) NominateByNode(col, row uint32, depth float64) error {
	if m.algo != AlgoHypothesis && m.algo != AlgoNodal {
		return UnsupportedOpError(ErrUnsupportedAlgo)
	}
	node, err := m.cache.GetNodeMut(col, row)
	if err != nil {
		return err
	}
	if len(node.Hypotheses) == 0 {
		return ConfigError(ErrNoDepthSurface)
	}
	type cand struct {
		idx  int
		diff float64
	}
	cands := make([]cand, len(node.Hypotheses))
	for i, h := range node.Hypotheses {
		cands[i] = cand{idx: i, diff: math.Abs(h.Z - depth)}
	}
	best := lo.MinBy(cands, func(a, b cand) bool { return a.diff < b.diff })
	if best.diff > 0.001 {
		return ConfigError(ErrHypothesisNotFound)
	}
	node.Nominated = int32(best.idx)
	return nil
}

// NominateByLocation is NominateByNode addressed by projected location.
func (m *MapSheet) NominateByLocation(east, north, depth float64) error {
	col, row, ok := m.spacing.ColRow(east, north, m.grid.TotalCols, m.grid.TotalRows)
	if !ok {
		return ConfigError(ErrBadGeometry)
	}
	return m.NominateByNode(col, row, depth)
}

// UnnominateByNode clears a node's nomination, letting the configured
// policy re-apply (§8 scenario 6; §12: mapsheet_unnominate_hypo_by_node).
func (m *MapSheet) UnnominateByNode(col, row uint32) error {
	node, err := m.cache.GetNodeMut(col, row)
	if err != nil {
		return err
	}
	node.Nominated = -1
	return nil
}

// UnnominateByLocation is UnnominateByNode addressed by projected
// location.
func (m *MapSheet) UnnominateByLocation(east, north float64) error {
	col, row, ok := m.spacing.ColRow(east, north, m.grid.TotalCols, m.grid.TotalRows)
	if !ok {
		return ConfigError(ErrBadGeometry)
	}
	return m.UnnominateByNode(col, row)
}

// RemoveHypoByNode deletes one hypothesis from a node's live list by
// swap-with-last-and-truncate (§9), clearing any nomination that
// referenced it or shifting one that referenced the swapped slot
// (§12: mapsheet_remove_hypo_by_node).
func (m *MapSheet) RemoveHypoByNode(col, row uint32, depth float64) error {
	if m.algo != AlgoHypothesis && m.algo != AlgoNodal {
		return UnsupportedOpError(ErrUnsupportedAlgo)
	}
	node, err := m.cache.GetNodeMut(col, row)
	if err != nil {
		return err
	}
	idx := -1
	best := math.MaxFloat64
	for i, h := range node.Hypotheses {
		d := math.Abs(h.Z - depth)
		if d < best {
			best, idx = d, i
		}
	}
	if idx < 0 {
		return ConfigError(ErrHypothesisNotFound)
	}

	last := len(node.Hypotheses) - 1
	if int(node.Nominated) == idx {
		node.Nominated = -1
	} else if int(node.Nominated) == last {
		node.Nominated = int32(idx)
	}
	node.Hypotheses[idx] = node.Hypotheses[last]
	node.Hypotheses = node.Hypotheses[:last]
	return nil
}

// RemoveHypoByLocation is RemoveHypoByNode addressed by projected
// location.
func (m *MapSheet) RemoveHypoByLocation(east, north, depth float64) error {
	col, row, ok := m.spacing.ColRow(east, north, m.grid.TotalCols, m.grid.TotalRows)
	if !ok {
		return ConfigError(ErrBadGeometry)
	}
	return m.RemoveHypoByNode(col, row, depth)
}

// ResetParams atomically swaps the parameter block (§9
// "reset_params"): validation runs against a copy first, so a failure
// leaves the sheet's previous parameters intact.
func (m *MapSheet) ResetParams(p Params) error {
	if err := p.Validate(); err != nil {
		return err
	}
	m.params = p
	return nil
}

// LimitBinSize adjusts the binned mean/median reservoir cap
// post-construction (§12: mapsheet_limit_bin_size equivalent).
func (m *MapSheet) LimitBinSize(maxSlots uint32) error {
	if maxSlots == 0 {
		return ConfigError(ErrBadParameter)
	}
	m.params.BinnedMaxSlots = maxSlots
	return nil
}
