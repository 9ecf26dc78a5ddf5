package mapsheet

import "github.com/samber/lo"

// Algorithm selects the in-memory estimator a MapSheet's depth layer uses
// (§4.5, §9's tagged-variant design note). Hypothesis operations
// (nominate, hypothesis queries, hypothesis removal) accept the
// hypothesis and nodal tags and fail with ErrUnsupportedAlgo on any
// other tag.
type Algorithm uint8

const (
	AlgoNone Algorithm = iota
	AlgoNodal
	AlgoBinnedMean
	AlgoBinnedMedian
	AlgoHypothesis
)

func (a Algorithm) String() string {
	switch a {
	case AlgoNone:
		return "none"
	case AlgoNodal:
		return "nodal"
	case AlgoBinnedMean:
		return "binned_mean"
	case AlgoBinnedMedian:
		return "binned_median"
	case AlgoHypothesis:
		return "hypothesis"
	default:
		return "unknown"
	}
}

// monitorState is the sliding-window intermediate sum (§4.1 step 4) held
// against the best-matching live hypothesis while a sample's fate (fold or
// promote) is undecided.
type monitorState struct {
	z, v float64
	n    uint32
}

// NodeEstimator is the complete per-node state (§3). A zero value has no
// hypotheses and no monitors, but its Nominated is 0; NewNodeEstimator
// returns a freshly-touched node with Nominated set to -1.
type NodeEstimator struct {
	Hypotheses []Hypothesis

	monitors map[int]monitorState

	PredictedDepth *float64 // slope-correction prior, optional
	Nominated      int32    // index into Hypotheses, or -1

	Bins     []float64 // binned mean/median raw samples
	binSeen  uint64     // total samples ever offered to the reservoir

	WriteEpoch uint64
}

// NewNodeEstimator returns a freshly-touched node with no nomination.
func NewNodeEstimator() NodeEstimator {
	return NodeEstimator{Nominated: -1}
}

// Update folds one (depth, propagated-variance, timestamp) observation
// into the node according to the active algorithm. rng supplies the
// reservoir-replacement randomness for the binned algorithms; it is unused
// by the hypothesis-tracker and nodal paths.
func (n *NodeEstimator) Update(algo Algorithm, d, sigma2, ts float64, p *Params, rng Uniformer) {
	n.WriteEpoch++
	switch algo {
	case AlgoNone:
		return
	case AlgoNodal:
		n.updateHypothesisTracker(d, sigma2, ts, p, 1)
	case AlgoHypothesis:
		n.updateHypothesisTracker(d, sigma2, ts, p, int(p.NodeMaxHypotheses))
	case AlgoBinnedMean, AlgoBinnedMedian:
		n.updateBinned(d, p, rng)
	}
}

// updateHypothesisTracker implements the CUBE node update contract (§4.1).
// hmax overrides p.NodeMaxHypotheses so the nodal (degenerate, hmax=1) and
// full hypothesis-tracker variants share one code path, per §9's guidance
// that nodal-Kalman is "a degenerate case of §4.1 with H_max=1".
func (n *NodeEstimator) updateHypothesisTracker(d, sigma2, ts float64, p *Params, hmax int) {
	floor := p.NodeVarianceFloor

	if len(n.Hypotheses) == 0 {
		n.Hypotheses = append(n.Hypotheses, newHypothesis(d, sigma2, ts, floor))
		return
	}

	bestIdx, minR2 := n.bestMatch(d, sigma2)

	if minR2 <= p.NodeMatchThreshold {
		n.Hypotheses[bestIdx] = foldSample(n.Hypotheses[bestIdx], d, sigma2, ts, floor)
		return
	}

	// Sample doesn't match any live hypothesis closely enough: hold it in
	// a monitor attached to the best-matching hypothesis until either it
	// folds in or earns promotion to a new hypothesis (§4.1 step 4).
	if n.monitors == nil {
		n.monitors = make(map[int]monitorState)
	}
	mon, ok := n.monitors[bestIdx]
	if !ok {
		mon = monitorState{z: d, v: sigma2, n: 1}
	} else {
		denom := mon.v + sigma2
		mon = monitorState{
			z: (mon.z*sigma2 + d*mon.v) / denom,
			v: mon.v * sigma2 / denom,
			n: mon.n + 1,
		}
	}

	if mon.n < p.NodeMonitorDepth {
		n.monitors[bestIdx] = mon
		return
	}

	// Monitor has matured: decide fold-vs-promote against the *current*
	// hypothesis list one last time.
	delete(n.monitors, bestIdx)
	idx, r2 := n.bestMatch(mon.z, mon.v)
	if r2 <= p.NodeMatchThreshold {
		n.Hypotheses[idx] = foldSample(n.Hypotheses[idx], mon.z, mon.v, ts, floor)
		return
	}

	if len(n.Hypotheses) >= hmax {
		// §4.1 step 5: reject the new hypothesis, fold into best match.
		n.Hypotheses[idx] = foldSample(n.Hypotheses[idx], mon.z, mon.v, ts, floor)
		return
	}

	h := newHypothesis(mon.z, mon.v, ts, floor)
	n.Hypotheses = append(n.Hypotheses, h)
}

// bestMatch returns the index of the live hypothesis with the smallest
// standardized residual against (d, sigma2), using lo.MinBy the way the
// teacher's nulls.go reaches for samber/lo over a hand-rolled loop.
func (n *NodeEstimator) bestMatch(d, sigma2 float64) (int, float64) {
	type scored struct {
		idx int
		r2  float64
	}
	candidates := make([]scored, len(n.Hypotheses))
	for i, h := range n.Hypotheses {
		candidates[i] = scored{idx: i, r2: squaredResidual(h, d, sigma2)}
	}
	best := lo.MinBy(candidates, func(a, b scored) bool { return a.r2 < b.r2 })
	return best.idx, best.r2
}

// Uniformer supplies uniform random integers in [0, n) for reservoir
// sampling; satisfied by *rand.Rand (math/rand).
type Uniformer interface {
	Intn(n int) int
}
