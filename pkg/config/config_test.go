package config

import (
	"os"
	"testing"

	"github.com/spf13/viper"

	"synnergy-network/internal/testutil"
)

func TestLoadFileFromSandbox(t *testing.T) {
	sb, err := testutil.NewSandbox()
	if err != nil {
		t.Fatalf("NewSandbox failed: %v", err)
	}
	defer sb.Cleanup()

	data := []byte("protocol: handel\nnode_count: 16\nseed: 7\n")
	if err := sb.WriteFile("scenario.yaml", data, 0600); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}

	cfg, err := LoadFile(sb.Path("scenario.yaml"))
	if err != nil {
		t.Fatalf("LoadFile failed: %v", err)
	}
	if cfg.Protocol != "handel" {
		t.Fatalf("expected protocol handel, got %q", cfg.Protocol)
	}
	if cfg.NodeCount != 16 {
		t.Fatalf("expected node_count 16, got %d", cfg.NodeCount)
	}
	if cfg.Seed != 7 {
		t.Fatalf("expected seed 7, got %d", cfg.Seed)
	}
}

func TestLoadDefaultFromSandbox(t *testing.T) {
	sb, err := testutil.NewSandbox()
	if err != nil {
		t.Fatalf("NewSandbox failed: %v", err)
	}
	defer sb.Cleanup()

	if err := os.Mkdir(sb.Path("configs"), 0700); err != nil {
		t.Fatalf("Mkdir failed: %v", err)
	}
	data := []byte("protocol: sanfermin\nnode_count: 4\nscenario:\n  round_count: 2\n")
	if err := sb.WriteFile("configs/default.yaml", data, 0600); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}

	wd, err := os.Getwd()
	if err != nil {
		t.Fatalf("Getwd failed: %v", err)
	}
	defer os.Chdir(wd)
	viper.Reset()

	if err := os.Chdir(sb.Root); err != nil {
		t.Fatalf("chdir failed: %v", err)
	}
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Protocol != "sanfermin" {
		t.Fatalf("expected protocol sanfermin, got %q", cfg.Protocol)
	}
	if cfg.Scenario.RoundCount != 2 {
		t.Fatalf("expected round_count 2, got %d", cfg.Scenario.RoundCount)
	}
}

func TestLoadMergesEnvOverride(t *testing.T) {
	sb, err := testutil.NewSandbox()
	if err != nil {
		t.Fatalf("NewSandbox failed: %v", err)
	}
	defer sb.Cleanup()

	if err := os.Mkdir(sb.Path("configs"), 0700); err != nil {
		t.Fatalf("Mkdir failed: %v", err)
	}
	base := []byte("protocol: sanfermin\nnode_count: 4\n")
	if err := sb.WriteFile("configs/default.yaml", base, 0600); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}
	override := []byte("node_count: 64\n")
	if err := sb.WriteFile("configs/staging.yaml", override, 0600); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}

	wd, err := os.Getwd()
	if err != nil {
		t.Fatalf("Getwd failed: %v", err)
	}
	defer os.Chdir(wd)
	viper.Reset()

	if err := os.Chdir(sb.Root); err != nil {
		t.Fatalf("chdir failed: %v", err)
	}
	cfg, err := Load("staging")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Protocol != "sanfermin" {
		t.Fatalf("expected base protocol to survive the merge, got %q", cfg.Protocol)
	}
	if cfg.NodeCount != 64 {
		t.Fatalf("expected node_count overridden to 64, got %d", cfg.NodeCount)
	}
}
