package main

import (
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"synnergy-network/core"
	"synnergy-network/pkg/config"
)

func main() {
	rootCmd := &cobra.Command{Use: "synnergy"}
	rootCmd.AddCommand(simulateCmd())
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// simulateCmd wires a ScenarioConfig (loaded from a YAML file or built from
// flags) into core.RunScenario, per spec §6's "launch a scenario from the
// command line, print the resulting series" external interface.
func simulateCmd() *cobra.Command {
	var (
		cfgFile   string
		protocol  string
		nodeCount int
		seed      int
		rounds    int
		stepMs    int
		maxRunMs  int
	)

	cmd := &cobra.Command{
		Use:   "simulate",
		Short: "run a protocol scenario and print its min/max/avg series",
		RunE: func(cmd *cobra.Command, args []string) error {
			var cfg config.ScenarioConfig
			if cfgFile != "" {
				loaded, err := config.LoadFile(cfgFile)
				if err != nil {
					return err
				}
				cfg = *loaded
			}
			if protocol != "" {
				cfg.Protocol = protocol
			}
			if nodeCount > 0 {
				cfg.NodeCount = nodeCount
			}
			if seed != 0 {
				cfg.Seed = seed
			}
			if rounds > 0 {
				cfg.Scenario.RoundCount = rounds
			}
			if stepMs > 0 {
				cfg.Scenario.StatEachXms = stepMs
			}
			if maxRunMs > 0 {
				cfg.Scenario.MaxRunMs = maxRunMs
			}

			level, err := logrus.ParseLevel(orDefault(cfg.Logging.Level, "info"))
			if err != nil {
				level = logrus.InfoLevel
			}
			logrus.SetLevel(level)

			template, stats, err := buildProtocol(cfg)
			if err != nil {
				return err
			}

			runLimit := cfg.Scenario.MaxRunMs
			if runLimit <= 0 {
				runLimit = 60_000
			}
			points, err := core.RunScenario(template, stats, core.ScenarioConfig{
				RoundCount:  orDefaultInt(cfg.Scenario.RoundCount, 1),
				StatEachXms: orDefaultInt(cfg.Scenario.StatEachXms, 100),
				Continue: func(s core.StatSample) bool {
					return s.TimeMs < runLimit
				},
			})
			if err != nil {
				return err
			}

			for _, p := range points {
				fmt.Printf("t=%dms avg=%v min=%v max=%v\n", p.TimeMs, p.Avg, p.Min, p.Max)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&cfgFile, "config", "", "path to a scenario YAML file")
	cmd.Flags().StringVar(&protocol, "protocol", "", "sanfermin|handel|pingpong|flood|pow|selfish-pow")
	cmd.Flags().IntVar(&nodeCount, "nodes", 0, "node count override")
	cmd.Flags().IntVar(&seed, "seed", 0, "RNG seed override")
	cmd.Flags().IntVar(&rounds, "rounds", 0, "scenario round count override")
	cmd.Flags().IntVar(&stepMs, "step-ms", 0, "sampling period override, in virtual ms")
	cmd.Flags().IntVar(&maxRunMs, "max-run-ms", 0, "hard stop, in virtual ms")
	return cmd
}

// buildProtocol constructs the named protocol's template instance and its
// StatsGetter from cfg. The protocol instances themselves satisfy
// StatsGetter, so this just type-asserts them back out after construction.
func buildProtocol(cfg config.ScenarioConfig) (core.Protocol, core.StatsGetter, error) {
	latency := buildLatency(cfg)
	nodeCount := orDefaultInt(cfg.NodeCount, 8)

	switch cfg.Protocol {
	case "", "sanfermin":
		p := core.NewSanFermin(core.SanFerminParams{
			NodeCount:      nodeCount,
			Threshold:      orDefaultInt(cfg.SanFermin.Threshold, nodeCount),
			PairingTime:    orDefaultInt(cfg.SanFermin.PairingTimeMs, 100),
			SignatureSize:  orDefaultInt(cfg.SanFermin.SignatureSize, 48),
			ReplyTimeoutMs: orDefaultInt(cfg.SanFermin.ReplyTimeoutMs, 300),
			CandidateCount: orDefaultInt(cfg.SanFermin.CandidateCount, 2),
			Shuffled:       cfg.SanFermin.Shuffled,
			Seed:           cfg.Seed,
			MapX:           orDefaultInt(cfg.MapX, 1000),
			MapY:           orDefaultInt(cfg.MapY, 1000),
			Latency:        latency,
		})
		return p, p, nil
	case "handel":
		p := core.NewHandel(core.HandelParams{
			NodeCount:     nodeCount,
			LevelWaitTime: orDefaultInt(cfg.Handel.LevelWaitTimeMs, 100),
			WindowSize:    orDefaultInt(cfg.Handel.WindowSize, 4),
			CycleMs:       orDefaultInt(cfg.Handel.CycleMs, 10),
			SignatureSize: orDefaultInt(cfg.Handel.SignatureSize, 48),
			Seed:          cfg.Seed,
			MapX:          orDefaultInt(cfg.MapX, 1000),
			MapY:          orDefaultInt(cfg.MapY, 1000),
			Latency:       latency,
		})
		return p, p, nil
	case "pingpong":
		p := core.NewPingPong(core.PingPongParams{
			NodeCount:     nodeCount,
			PeriodMs:      orDefaultInt(cfg.PingPong.PeriodMs, 100),
			SignatureSize: orDefaultInt(cfg.PingPong.SignatureSize, 8),
			Seed:          cfg.Seed,
			MapX:          orDefaultInt(cfg.MapX, 1000),
			MapY:          orDefaultInt(cfg.MapY, 1000),
			Latency:       latency,
		})
		return p, p, nil
	case "flood":
		p := core.NewFlood(core.FloodParams{
			NodeCount:     nodeCount,
			SignatureSize: orDefaultInt(cfg.Flood.SignatureSize, 8),
			Seed:          cfg.Seed,
			MapX:          orDefaultInt(cfg.MapX, 1000),
			MapY:          orDefaultInt(cfg.MapY, 1000),
			Latency:       latency,
		})
		return p, p, nil
	case "pow":
		p := core.NewPoWMiner(core.PoWParams{
			NodeCount:        nodeCount,
			TickMs:           orDefaultInt(cfg.Mining.TickMs, 10),
			DifficultyTarget: orDefaultInt(cfg.Mining.DifficultyTarget, 1000),
			SignatureSize:    orDefaultInt(cfg.Mining.SignatureSize, 80),
			Seed:             cfg.Seed,
			MapX:             orDefaultInt(cfg.MapX, 1000),
			MapY:             orDefaultInt(cfg.MapY, 1000),
			Latency:          latency,
		})
		return p, p, nil
	case "selfish-pow":
		p := core.NewSelfishMiner(core.PoWParams{
			NodeCount:        nodeCount,
			TickMs:           orDefaultInt(cfg.Mining.TickMs, 10),
			DifficultyTarget: orDefaultInt(cfg.Mining.DifficultyTarget, 1000),
			SignatureSize:    orDefaultInt(cfg.Mining.SignatureSize, 80),
			Seed:             cfg.Seed,
			MapX:             orDefaultInt(cfg.MapX, 1000),
			MapY:             orDefaultInt(cfg.MapY, 1000),
			Latency:          latency,
		})
		return p, p, nil
	default:
		return nil, nil, fmt.Errorf("simulate: unknown protocol %q", cfg.Protocol)
	}
}

// buildLatency turns a ScenarioConfig's latency section into a
// core.LatencyModel. An unrecognized or empty preset falls back to the
// kernel's own zero-latency default by returning nil.
func buildLatency(cfg config.ScenarioConfig) core.LatencyModel {
	switch cfg.Latency.Preset {
	case "constant":
		return core.ConstantLatency(orDefaultInt(cfg.Latency.ConstantMs, 50))
	case "distance":
		return core.DistanceLatency(func(distanceKm float64) int {
			return int(distanceKm / 10)
		}, cfg.Latency.JitterPct)
	case "empirical":
		if len(cfg.Latency.Proportions) > 0 && len(cfg.Latency.Values) > 0 {
			return core.EmpiricalLatency(cfg.Latency.Proportions, cfg.Latency.Values)
		}
	}
	return nil
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}

func orDefaultInt(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}
