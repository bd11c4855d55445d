package core

import "testing"

func TestSanFerminSmallScenarioCompletes(t *testing.T) {
	sf := NewSanFermin(SanFerminParams{
		NodeCount:      8,
		Threshold:      8,
		PairingTime:    10,
		SignatureSize:  48,
		ReplyTimeoutMs: 50,
		CandidateCount: 2,
		Seed:           1,
	})
	if err := sf.Init(); err != nil {
		t.Fatalf("init: %v", err)
	}
	sf.kernel.RunMs(5000)

	for id, n := range sf.nodes {
		if !n.done {
			t.Fatalf("node %d never finished (aggValue=%d, level=%d)", id, n.aggValue, n.currentPrefixLength)
		}
		if n.aggValue != 8 {
			t.Fatalf("node %d final aggValue = %d, want 8", id, n.aggValue)
		}
	}
}

func TestSanFerminCandidatesAtLevelPartitionsNetwork(t *testing.T) {
	const nodeCount = 8
	L := 3
	for id := 0; id < nodeCount; id++ {
		seen := map[int]bool{id: true}
		for level := L - 1; level >= 0; level-- {
			for _, c := range candidatesAtLevel(nodeCount, L, id, level) {
				if seen[c] {
					t.Fatalf("node %d: candidate %d repeated across levels", id, c)
				}
				seen[c] = true
			}
		}
		if len(seen) != nodeCount {
			t.Fatalf("node %d: candidates across all levels cover %d nodes, want %d", id, len(seen), nodeCount)
		}
	}
}

func TestSanFerminRejectsNonPowerOfTwo(t *testing.T) {
	sf := NewSanFermin(SanFerminParams{NodeCount: 7, Threshold: 7, Seed: 1})
	if err := sf.Init(); err == nil {
		t.Fatalf("expected error for non-power-of-two node count")
	}
}

func TestSanFerminCopyIsIndependent(t *testing.T) {
	sf := NewSanFermin(SanFerminParams{NodeCount: 4, Threshold: 4, Seed: 2, PairingTime: 5, ReplyTimeoutMs: 5, CandidateCount: 1})
	if err := sf.Init(); err != nil {
		t.Fatalf("init: %v", err)
	}
	other := sf.Copy()
	if other.(*SanFermin) == sf {
		t.Fatalf("Copy returned the same instance")
	}
	if err := other.Init(); err != nil {
		t.Fatalf("copy init: %v", err)
	}
	if other.Network() == sf.Network() {
		t.Fatalf("copy shares the original kernel")
	}
}
