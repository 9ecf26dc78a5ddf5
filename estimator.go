package mapsheet

import "sort"

// updateBinned implements the reservoir-style raw-depth bin used by the
// binned mean/median algorithms (§4.5): up to p.BinnedMaxSlots raw depths
// are kept per node; once full, incoming samples replace a uniformly
// random existing slot (classic reservoir sampling), so every sample ever
// seen has equal probability of surviving to readback regardless of how
// many arrived after it.
func (n *NodeEstimator) updateBinned(d float64, p *Params, rng Uniformer) {
	n.binSeen++
	cap := int(p.BinnedMaxSlots)
	if len(n.Bins) < cap {
		n.Bins = append(n.Bins, d)
		return
	}
	j := rng.Intn(int(n.binSeen))
	if j < cap {
		n.Bins[j] = d
	}
}

// BinnedMean computes the readback depth for the binned-mean algorithm:
// the arithmetic mean of every retained raw sample. Returns ok=false for
// an untouched node.
func (n *NodeEstimator) BinnedMean() (float64, bool) {
	if len(n.Bins) == 0 {
		return 0, false
	}
	sum := 0.0
	for _, v := range n.Bins {
		sum += v
	}
	return sum / float64(len(n.Bins)), true
}

// BinnedMedian computes the readback depth for the binned-median
// algorithm: the median of every retained raw sample, computed at
// readback time as §4.5 specifies ("Readback from binned modes computes
// the trimmed mean / median at readback time"). No trimming is applied
// beyond the reservoir cap itself (see SPEC_FULL.md §13 for the chosen
// resolution of the CI/variance open question; this algorithm has no
// analogous ambiguity, so the plain median of the retained sample is
// reported).
func (n *NodeEstimator) BinnedMedian() (float64, bool) {
	if len(n.Bins) == 0 {
		return 0, false
	}
	sorted := make([]float64, len(n.Bins))
	copy(sorted, n.Bins)
	sort.Float64s(sorted)
	mid := len(sorted) / 2
	if len(sorted)%2 == 1 {
		return sorted[mid], true
	}
	return (sorted[mid-1] + sorted[mid]) / 2.0, true
}
