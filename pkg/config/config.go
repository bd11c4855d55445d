package config

// Package config provides a reusable loader for simulator scenario files and
// environment variables. It is versioned so that applications can depend on
// a stable API contract.
//
// Version: v0.2.0

import (
	"fmt"

	"github.com/spf13/viper"

	"synnergy-network/pkg/utils"
)

// Version is the semantic version of this configuration package.
const Version = "v0.2.0"

// ScenarioConfig is the unified configuration for one `simulate` invocation:
// which protocol to run, its node count and RNG seed, its latency model, its
// protocol-specific tunables, and the scenario runner's round/sampling
// settings. It mirrors the structure of the YAML files under configs/.
type ScenarioConfig struct {
	Protocol  string `mapstructure:"protocol" json:"protocol"`
	NodeCount int    `mapstructure:"node_count" json:"node_count"`
	Seed      int    `mapstructure:"seed" json:"seed"`
	MapX      int    `mapstructure:"map_x" json:"map_x"`
	MapY      int    `mapstructure:"map_y" json:"map_y"`

	Latency struct {
		Preset      string `mapstructure:"preset" json:"preset"` // constant | distance | empirical
		ConstantMs  int    `mapstructure:"constant_ms" json:"constant_ms"`
		JitterPct   int    `mapstructure:"jitter_pct" json:"jitter_pct"`
		Proportions []int  `mapstructure:"proportions" json:"proportions"`
		Values      []int  `mapstructure:"values" json:"values"`
	} `mapstructure:"latency" json:"latency"`

	SanFermin struct {
		Threshold      int  `mapstructure:"threshold" json:"threshold"`
		PairingTimeMs  int  `mapstructure:"pairing_time_ms" json:"pairing_time_ms"`
		SignatureSize  int  `mapstructure:"signature_size" json:"signature_size"`
		ReplyTimeoutMs int  `mapstructure:"reply_timeout_ms" json:"reply_timeout_ms"`
		CandidateCount int  `mapstructure:"candidate_count" json:"candidate_count"`
		Shuffled       bool `mapstructure:"shuffled" json:"shuffled"`
	} `mapstructure:"san_fermin" json:"san_fermin"`

	Handel struct {
		LevelWaitTimeMs int `mapstructure:"level_wait_time_ms" json:"level_wait_time_ms"`
		WindowSize      int `mapstructure:"window_size" json:"window_size"`
		CycleMs         int `mapstructure:"cycle_ms" json:"cycle_ms"`
		SignatureSize   int `mapstructure:"signature_size" json:"signature_size"`
	} `mapstructure:"handel" json:"handel"`

	Mining struct {
		TickMs           int `mapstructure:"tick_ms" json:"tick_ms"`
		DifficultyTarget int `mapstructure:"difficulty_target" json:"difficulty_target"`
		SignatureSize    int `mapstructure:"signature_size" json:"signature_size"`
	} `mapstructure:"mining" json:"mining"`

	PingPong struct {
		PeriodMs      int `mapstructure:"period_ms" json:"period_ms"`
		SignatureSize int `mapstructure:"signature_size" json:"signature_size"`
	} `mapstructure:"ping_pong" json:"ping_pong"`

	Flood struct {
		SignatureSize int `mapstructure:"signature_size" json:"signature_size"`
	} `mapstructure:"flood" json:"flood"`

	Scenario struct {
		RoundCount  int `mapstructure:"round_count" json:"round_count"`
		StatEachXms int `mapstructure:"stat_each_x_ms" json:"stat_each_x_ms"`
		MaxRunMs    int `mapstructure:"max_run_ms" json:"max_run_ms"`
	} `mapstructure:"scenario" json:"scenario"`

	Logging struct {
		Level string `mapstructure:"level" json:"level"`
	} `mapstructure:"logging" json:"logging"`
}

// AppConfig holds the configuration loaded via Load or LoadFromEnv.
var AppConfig ScenarioConfig

// Load reads the named scenario file plus any environment-specific overrides
// and merges them into AppConfig. If env is empty, only the base "default"
// file is loaded.
func Load(env string) (*ScenarioConfig, error) {
	viper.SetConfigName("default")
	viper.AddConfigPath("configs")
	viper.AddConfigPath(".")
	viper.SetConfigType("yaml")
	if err := viper.ReadInConfig(); err != nil {
		return nil, utils.Wrap(err, "load config")
	}

	if env != "" {
		viper.SetConfigName(env)
		if err := viper.MergeInConfig(); err != nil {
			return nil, utils.Wrap(err, fmt.Sprintf("merge %s config", env))
		}
	}

	viper.AutomaticEnv()

	if err := viper.Unmarshal(&AppConfig); err != nil {
		return nil, utils.Wrap(err, "unmarshal config")
	}
	return &AppConfig, nil
}

// LoadFromEnv loads configuration using the SYNN_ENV environment variable.
func LoadFromEnv() (*ScenarioConfig, error) {
	return Load(utils.EnvOrDefault("SYNN_ENV", ""))
}

// LoadFile reads a single scenario YAML file at path, bypassing the
// default/env merge dance Load performs — the shape `cmd/synnergy simulate
// --config scenario.yaml` needs.
func LoadFile(path string) (*ScenarioConfig, error) {
	viper.SetConfigFile(path)
	viper.SetConfigType("yaml")
	if err := viper.ReadInConfig(); err != nil {
		return nil, utils.Wrap(err, "load config file")
	}
	viper.AutomaticEnv()

	var cfg ScenarioConfig
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, utils.Wrap(err, "unmarshal config file")
	}
	return &cfg, nil
}
