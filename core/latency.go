package core

import "math"

// LatencyModel is a pure function (from, to, rnd%100) -> ms, matching spec
// §2/§4.4. Implementations must be pure so that PseudoRandom alone
// determines the variance observed across a run.
type LatencyModel func(from, to *Node, rnd int) int

// ConstantLatency returns a model that always answers ms, regardless of
// position or rnd. Useful for kernel-ordering tests (spec §8 scenario 1).
func ConstantLatency(ms int) LatencyModel {
	return func(from, to *Node, rnd int) int { return ms }
}

// DistanceLatency computes Euclidean distance between from and to and maps
// it through curve(distanceKm) -> ms. rnd perturbs the result within a band
// jitterPct percent wide centred on the base value (at most about
// jitterPct/2 percent either way), so that PseudoRandom is still the sole
// source of variance across destinations of a single send.
func DistanceLatency(curve func(distanceKm float64) int, jitterPct int) LatencyModel {
	return func(from, to *Node, rnd int) int {
		dx := float64(from.X - to.X)
		dy := float64(from.Y - to.Y)
		dist := math.Sqrt(dx*dx + dy*dy)
		base := curve(dist)
		if jitterPct <= 0 {
			return base
		}
		// rnd in [0,99]; center the jitter around 0.
		delta := (rnd - 50) * jitterPct / 100
		out := base + base*delta/100
		if out < 0 {
			out = 0
		}
		return out
	}
}

// EmpiricalLatency builds a latency model from a measured (proportion,
// value) cumulative-distribution table, per spec §2/§4.4. sum(proportions)
// need not be 100: it is treated as the denominator of the bucket weights.
// rnd in [0,99] selects a bucket by scaling into the cumulative sum.
func EmpiricalLatency(proportions []int, values []int) LatencyModel {
	total := 0
	for _, p := range proportions {
		total += p
	}
	cum := make([]int, len(proportions))
	running := 0
	for i, p := range proportions {
		running += p
		cum[i] = running
	}
	return func(from, to *Node, rnd int) int {
		if total <= 0 || len(values) == 0 {
			return 0
		}
		target := rnd * total / 100
		for i, c := range cum {
			if target < c {
				return values[i]
			}
		}
		return values[len(values)-1]
	}
}

// PseudoRandom deterministically mixes nodeId and seed into [0,99]. A single
// send to many destinations must produce the same per-destination latency
// regardless of iteration order, so the mix depends only on (nodeId, seed),
// never on call sequence (spec §4.1).
func PseudoRandom(nodeID, seed int) int {
	x := uint32(nodeID)
	x ^= x << 13
	x ^= x >> 17
	x ^= x << 5
	v := int(x) ^ seed
	v %= 100
	if v < 0 {
		v = -v
	}
	return v
}
