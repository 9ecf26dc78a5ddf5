package mapsheet

import (
	"math"
	"sort"

	"github.com/samber/lo"
)

// DisambiguationResult is one node's reportable output (§4.6): depth,
// confidence-interval half-width, sample count, live hypothesis count,
// and a hypothesis-strength scalar.
type DisambiguationResult struct {
	Z         float64
	V         float64 // variance, m² — the internal unit (§13)
	CI        float64
	N         uint32
	HypoCount int
	Strength  float64
	Ok        bool // false for an untouched node (no hypotheses)
}

// ciMultiplier converts the internal variance unit to a symmetric
// confidence-interval half-width multiplier for the requested confidence
// level (§13: the single variance→CI conversion boundary in this
// package). level=0.95 yields the familiar ~1.95996.
func ciMultiplier(level float64) float64 {
	return math.Sqrt2 * math.Erfinv(level)
}

// Disambiguator selects one hypothesis per node for external reporting
// (§4.6). It never mutates NodeEstimator state except through explicit
// Nominate/Unnominate calls on MapSheet.
type Disambiguator struct {
	policy    DisambiguatorPolicy
	ciLevel   float64
	algo      Algorithm
	cache     *TileCache
	predicted PredictedSurface

	// localePicks memoizes the Locale policy's converged per-node picks
	// (§4.6), computed once per Disambiguator lifetime on first use.
	localePicks map[localeCoord]int
}

// NewDisambiguator constructs a Disambiguator reading nodes through
// cache, using predicted (optional, may be nil) for the prior policy.
// algo is the sheet's active estimator: binned-mean/median nodes carry
// no hypothesis list at all, so they bypass the policy machinery below
// entirely and report their trimmed statistic directly.
func NewDisambiguator(policy DisambiguatorPolicy, ciLevel float64, algo Algorithm, cache *TileCache, predicted PredictedSurface) *Disambiguator {
	return &Disambiguator{policy: policy, ciLevel: ciLevel, algo: algo, cache: cache, predicted: predicted}
}

// Disambiguate selects the reportable hypothesis at (col, row) under the
// configured policy, resolved per-node by nomination first (§4.6:
// "Policies... resolvable per-node by nomination").
func (d *Disambiguator) Disambiguate(col, row uint32) (DisambiguationResult, error) {
	node, err := d.cache.GetNode(col, row)
	if err != nil {
		return DisambiguationResult{}, err
	}
	return d.disambiguateNode(node, col, row)
}

func (d *Disambiguator) disambiguateNode(node *NodeEstimator, col, row uint32) (DisambiguationResult, error) {
	if d.algo == AlgoBinnedMean || d.algo == AlgoBinnedMedian {
		return d.binnedResult(node)
	}

	if len(node.Hypotheses) == 0 {
		return DisambiguationResult{}, nil
	}

	if node.Nominated >= 0 && int(node.Nominated) < len(node.Hypotheses) {
		return d.result(node, int(node.Nominated)), nil
	}

	var idx int
	switch d.policy {
	case PolicyNominated:
		// No live nomination: fall back to density, the policy the
		// reference implementation treats as the nominated default.
		idx = densityPick(node.Hypotheses)
	case PolicyLocale:
		var err error
		idx, err = d.localePick(node, col, row)
		if err != nil {
			return DisambiguationResult{}, err
		}
	case PolicyPrior:
		idx = d.priorPick(node, col, row)
	case PolicyDensity:
		idx = densityPick(node.Hypotheses)
	default:
		idx = densityPick(node.Hypotheses)
	}

	return d.result(node, idx), nil
}

func (d *Disambiguator) result(node *NodeEstimator, idx int) DisambiguationResult {
	h := node.Hypotheses[idx]
	return DisambiguationResult{
		Z:         h.Z,
		V:         h.V,
		CI:        ciMultiplier(d.ciLevel) * math.Sqrt(h.V),
		N:         h.N,
		HypoCount: len(node.Hypotheses),
		Strength:  hypothesisStrength(node.Hypotheses),
		Ok:        true,
	}
}

// binnedResult computes the reportable statistic for the binned mean and
// binned median algorithms (§4.5), which carry raw retained samples
// instead of a hypothesis list. Variance is the sample variance of the
// retained bin (population form, since the bin is the entire population
// the readback considers), and hypothesis count/strength are degenerate
// (a single statistic, no competing candidates).
func (d *Disambiguator) binnedResult(node *NodeEstimator) (DisambiguationResult, error) {
	var z float64
	var ok bool
	if d.algo == AlgoBinnedMean {
		z, ok = node.BinnedMean()
	} else {
		z, ok = node.BinnedMedian()
	}
	if !ok {
		return DisambiguationResult{}, nil
	}

	var ssq float64
	for _, b := range node.Bins {
		diff := b - z
		ssq += diff * diff
	}
	v := ssq / float64(len(node.Bins))

	return DisambiguationResult{
		Z:         z,
		V:         v,
		CI:        ciMultiplier(d.ciLevel) * math.Sqrt(v),
		N:         uint32(node.binSeen),
		HypoCount: 1,
		Strength:  1.0,
		Ok:        true,
	}, nil
}

// densityPick implements §4.6's Density policy: largest sample count,
// ties broken by lowest variance.
func densityPick(hyps []Hypothesis) int {
	type cand struct {
		idx int
		n   uint32
		v   float64
	}
	cands := make([]cand, len(hyps))
	for i, h := range hyps {
		cands[i] = cand{idx: i, n: h.N, v: h.V}
	}
	best := lo.MinBy(cands, func(a, b cand) bool {
		if a.n != b.n {
			return a.n > b.n
		}
		return a.v < b.v
	})
	return best.idx
}

// priorPick implements §4.6's Prior policy: the hypothesis closest to
// the predicted-depth surface at this node. With no predicted surface
// available, falls back to density.
func (d *Disambiguator) priorPick(node *NodeEstimator, col, row uint32) int {
	var predicted float64
	have := false
	if node.PredictedDepth != nil {
		predicted = *node.PredictedDepth
		have = true
	} else if pr, ok := d.predicted.(*PredictedRaster); ok && pr != nil && col < pr.Width && row < pr.Height {
		if i := int(row)*int(pr.Width) + int(col); i < len(pr.Depths) {
			predicted = pr.Depths[i]
			have = true
		}
	}
	if !have {
		return densityPick(node.Hypotheses)
	}

	type cand struct {
		idx  int
		diff float64
	}
	cands := make([]cand, len(node.Hypotheses))
	for i, h := range node.Hypotheses {
		cands[i] = cand{idx: i, diff: math.Abs(h.Z - predicted)}
	}
	best := lo.MinBy(cands, func(a, b cand) bool { return a.diff < b.diff })
	return best.idx
}

// localePick implements §4.6's Locale policy: prefer the hypothesis
// whose depth agrees best with the variance-weighted mean of
// disambiguated neighbors within a window, iterating to a fixed point or
// a bounded number of passes. Convergence runs once per Disambiguator
// (on first Locale lookup) over every touched node in the grid and is
// memoized, so a full-raster Extract walk and a single-node Disambiguate
// call both read from the same converged picks (§4.7: "Disambiguator is
// invoked... per node before emission").
const (
	localeWindow    = 1 // half-width: 3x3 neighborhood
	localeMaxPasses = 8
)

// localeCoord keys a node by absolute (col, row).
type localeCoord struct {
	col, row uint32
}

func (d *Disambiguator) localePick(node *NodeEstimator, col, row uint32) (int, error) {
	if err := d.ensureLocaleConverged(); err != nil {
		return 0, err
	}
	if idx, ok := d.localePicks[localeCoord{col, row}]; ok {
		return idx, nil
	}
	return densityPick(node.Hypotheses), nil
}

// ensureLocaleConverged computes, on first call, the converged Locale
// pick for every touched node in the grid and caches it on d. Each pass
// recomputes every node's pick from the PREVIOUS pass's neighbor picks
// (not a live re-query), so the update is order-independent within a
// pass; iteration stops early once no node's pick changes.
func (d *Disambiguator) ensureLocaleConverged() error {
	if d.localePicks != nil {
		return nil
	}

	totalCols, totalRows := d.cache.grid.TotalCols, d.cache.grid.TotalRows
	touched := make(map[localeCoord][]Hypothesis)
	for row := uint32(0); row < totalRows; row++ {
		for col := uint32(0); col < totalCols; col++ {
			n, err := d.cache.GetNode(col, row)
			if err != nil {
				return err
			}
			if len(n.Hypotheses) == 0 {
				continue
			}
			touched[localeCoord{col, row}] = n.Hypotheses
		}
	}

	picks := make(map[localeCoord]int, len(touched))
	for k, hyps := range touched {
		picks[k] = densityPick(hyps)
	}

	for pass := 0; pass < localeMaxPasses; pass++ {
		next := make(map[localeCoord]int, len(picks))
		changed := false
		for k, hyps := range touched {
			idx := localeNeighborPick(k.col, k.row, hyps, touched, picks)
			next[k] = idx
			if idx != picks[k] {
				changed = true
			}
		}
		picks = next
		if !changed {
			break
		}
	}

	d.localePicks = picks
	return nil
}

// localeNeighborPick picks the hypothesis at (col, row) that agrees best
// with the variance-weighted mean of its 3x3 neighbors' CURRENT picks
// (touched/picks as of the start of the enclosing pass), falling back to
// density when no neighbor is touched.
func localeNeighborPick(col, row uint32, hyps []Hypothesis, touched map[localeCoord][]Hypothesis, picks map[localeCoord]int) int {
	var sumWZ, sumW float64
	found := false

	for dr := -localeWindow; dr <= localeWindow; dr++ {
		for dc := -localeWindow; dc <= localeWindow; dc++ {
			if dc == 0 && dr == 0 {
				continue
			}
			nc := int64(col) + int64(dc)
			nr := int64(row) + int64(dr)
			if nc < 0 || nr < 0 {
				continue
			}
			key := localeCoord{col: uint32(nc), row: uint32(nr)}
			nh, ok := touched[key]
			if !ok {
				continue
			}
			idx := picks[key]
			if idx >= len(nh) {
				continue
			}
			h := nh[idx]
			w := 1.0 / h.V
			sumWZ += w * h.Z
			sumW += w
			found = true
		}
	}

	if !found || sumW == 0 {
		return densityPick(hyps)
	}
	mean, variance := sumWZ/sumW, 1.0/sumW

	type cand struct {
		idx int
		r2  float64
	}
	cands := make([]cand, len(hyps))
	for i, h := range hyps {
		cands[i] = cand{idx: i, r2: squaredResidual(h, mean, variance)}
	}
	best := lo.MinBy(cands, func(a, b cand) bool { return a.r2 < b.r2 })
	return best.idx
}

// hypothesisStrength is a monotone function of pairwise standardized
// residuals between live hypotheses (§4.6): 0 when hypotheses agree
// closely, approaching 1 as they separate. A
// single hypothesis has no competition, so it reports maximal strength.
func hypothesisStrength(hyps []Hypothesis) float64 {
	if len(hyps) <= 1 {
		return 1.0
	}
	var sum float64
	pairs := 0
	for i := 0; i < len(hyps); i++ {
		for j := i + 1; j < len(hyps); j++ {
			sum += squaredResidual(hyps[i], hyps[j].Z, hyps[j].V)
			pairs++
		}
	}
	avg := sum / float64(pairs)
	return avg / (1 + avg)
}

// sortedHypotheses returns a copy of hyps sorted by depth; nothing in
// the package calls it at present.
func sortedHypotheses(hyps []Hypothesis) []Hypothesis {
	out := make([]Hypothesis, len(hyps))
	copy(out, hyps)
	sort.Slice(out, func(i, j int) bool { return out[i].Z < out[j].Z })
	return out
}
