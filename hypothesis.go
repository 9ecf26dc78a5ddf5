package mapsheet

// Hypothesis is one candidate depth at one node (§3). All arithmetic
// is carried in variance (m²); the only CI conversion boundary is
// Disambiguator output (see ciMultiplier in disambiguate.go).
type Hypothesis struct {
	Z float64 // mean depth, meters, positive down
	V float64 // variance, m²
	N uint32  // sample count
	S float64 // running sum of sample variances, for confidence reporting

	FirstTime float64 // seconds since epoch
	LastTime  float64
}

// foldSample applies the standard variance-weighted mean update (§4.1 step
// 3) of a new observation (d, sigma2, ts) into the hypothesis h, enforcing
// the variance floor so repeated identical samples cannot collapse v to
// zero.
func foldSample(h Hypothesis, d, sigma2, ts, varianceFloor float64) Hypothesis {
	denom := h.V + sigma2
	z := (h.Z*sigma2 + d*h.V) / denom
	v := h.V * sigma2 / denom
	if v < varianceFloor {
		v = varianceFloor
	}
	h.Z = z
	h.V = v
	h.N++
	h.S += sigma2
	if ts < h.FirstTime || h.N == 1 {
		h.FirstTime = ts
	}
	h.LastTime = ts
	return h
}

// squaredResidual computes the standardized residual r² between a proposed
// sample and a live hypothesis (§4.1 step 2).
func squaredResidual(h Hypothesis, d, sigma2 float64) float64 {
	diff := d - h.Z
	return (diff * diff) / (h.V + sigma2)
}

// newHypothesis constructs the first hypothesis at a node from a single
// sample (§4.1 step 1).
func newHypothesis(d, sigma2, ts, varianceFloor float64) Hypothesis {
	v := sigma2
	if v < varianceFloor {
		v = varianceFloor
	}
	return Hypothesis{Z: d, V: v, N: 1, S: sigma2, FirstTime: ts, LastTime: ts}
}
