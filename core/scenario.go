package core

import "fmt"

// StatSample is one stats-getter reading at a point in virtual time.
type StatSample struct {
	TimeMs int
	Values map[string]float64
}

// RoundResult is one scenario round's full sample trace (spec §6).
type RoundResult struct {
	Round   int
	Samples []StatSample
}

// SeriesPoint is one min/max/avg aggregate across every round at a given
// sample index (spec §6 "emit min/max/avg series").
type SeriesPoint struct {
	TimeMs int
	Min    map[string]float64
	Max    map[string]float64
	Avg    map[string]float64
}

// Seeder lets the scenario runner reseed a protocol's RNG per round without
// widening the Protocol façade itself to {init, copy, network, setSeed}.
type Seeder interface {
	SetSeed(seed int)
}

// ScenarioConfig configures RunScenario, per spec §6's scenario runner
// contract: "a protocol template, a stats-getter, a sampling period in
// virtual ms, a continuation predicate, a per-run end callback".
type ScenarioConfig struct {
	RoundCount  int
	StatEachXms int
	Continue    func(sample StatSample) bool
	OnRoundEnd  func(RoundResult)
}

// RunScenario copies template RoundCount times, reseeding each copy with its
// round index, initializes it, and advances time in StatEachXms steps,
// recording stats.Get(...) at each step until Continue returns false.
func RunScenario(template Protocol, stats StatsGetter, cfg ScenarioConfig) ([]SeriesPoint, error) {
	if cfg.RoundCount <= 0 {
		return nil, fmt.Errorf("scenario: roundCount must be > 0, got %d", cfg.RoundCount)
	}
	if cfg.StatEachXms <= 0 {
		cfg.StatEachXms = 1
	}
	if cfg.Continue == nil {
		return nil, fmt.Errorf("scenario: a continuation predicate is required")
	}

	results := make([]RoundResult, cfg.RoundCount)
	for round := 0; round < cfg.RoundCount; round++ {
		proto := template.Copy()
		if seeder, ok := proto.(Seeder); ok {
			seeder.SetSeed(round)
		}
		if err := proto.Init(); err != nil {
			return nil, fmt.Errorf("scenario: round %d init: %w", round, err)
		}
		net := proto.Network()

		var samples []StatSample
		for {
			if err := net.RunMs(cfg.StatEachXms); err != nil {
				return nil, fmt.Errorf("scenario: round %d: %w", round, err)
			}
			sample := StatSample{TimeMs: net.Time(), Values: stats.Get(net.Registry().All())}
			samples = append(samples, sample)
			if !cfg.Continue(sample) {
				break
			}
		}

		res := RoundResult{Round: round, Samples: samples}
		results[round] = res
		if cfg.OnRoundEnd != nil {
			cfg.OnRoundEnd(res)
		}
	}

	return mergeSeries(results), nil
}

// mergeSeries aligns every round's samples by index and computes the
// min/max/avg of each stat field across rounds at that index. Rounds that
// stopped early simply drop out of later indices.
func mergeSeries(results []RoundResult) []SeriesPoint {
	maxLen := 0
	for _, r := range results {
		if len(r.Samples) > maxLen {
			maxLen = len(r.Samples)
		}
	}

	points := make([]SeriesPoint, 0, maxLen)
	for idx := 0; idx < maxLen; idx++ {
		min := map[string]float64{}
		max := map[string]float64{}
		sum := map[string]float64{}
		count := map[string]float64{}
		timeMs := 0

		for _, r := range results {
			if idx >= len(r.Samples) {
				continue
			}
			s := r.Samples[idx]
			timeMs = s.TimeMs
			for k, v := range s.Values {
				if count[k] == 0 {
					min[k] = v
					max[k] = v
				} else {
					if v < min[k] {
						min[k] = v
					}
					if v > max[k] {
						max[k] = v
					}
				}
				sum[k] += v
				count[k]++
			}
		}

		avg := map[string]float64{}
		for k, s := range sum {
			if count[k] > 0 {
				avg[k] = s / count[k]
			}
		}
		points = append(points, SeriesPoint{TimeMs: timeMs, Min: min, Max: max, Avg: avg})
	}
	return points
}
