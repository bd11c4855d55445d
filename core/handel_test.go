package core

import "testing"

func TestHandelSmallScenarioReachesFullAggregate(t *testing.T) {
	h := NewHandel(HandelParams{
		NodeCount:     8,
		LevelWaitTime: 5,
		WindowSize:    4,
		CycleMs:       1,
		SignatureSize: 48,
		Seed:          1,
	})
	if err := h.Init(); err != nil {
		t.Fatalf("init: %v", err)
	}
	h.kernel.RunMs(2000)

	for id, hn := range h.nodes {
		// The full aggregate is the node's own level-0 bit plus every
		// higher level's incoming aggregate (1 + 1 + 2 + 4 for 8 nodes).
		total := 0
		for level := 0; level <= h.L; level++ {
			lv := hn.levels[level]
			total += lv.incomingCardinality
			if lv.incomingCardinality > lv.peersCount {
				t.Fatalf("node %d level %d: incomingCardinality %d exceeds peersCount %d", id, level, lv.incomingCardinality, lv.peersCount)
			}
		}
		if total != 8 {
			t.Fatalf("node %d: aggregate cardinality across levels = %d, want 8", id, total)
		}
	}
}

// TestHandelMessageSuppressionInvariant exercises spec §8 scenario 6: level
// 1 has exactly one peer, so two back-to-back cycles target the same peer
// with an unchanged cardinality, and the second must not emit.
func TestHandelMessageSuppressionInvariant(t *testing.T) {
	h := NewHandel(HandelParams{NodeCount: 4, LevelWaitTime: 1000, WindowSize: 2, CycleMs: 1, SignatureSize: 48, Seed: 2})
	if err := h.Init(); err != nil {
		t.Fatalf("init: %v", err)
	}
	hn := h.nodes[0]
	lv := hn.levels[1]
	if lv.peersCount != 1 {
		t.Fatalf("expected level 1 to have exactly 1 peer, got %d", lv.peersCount)
	}

	h.doCycle(hn, 1)
	if lv.lastNode < 0 {
		t.Fatalf("expected first cycle to record a send")
	}
	sentAfterFirst := hn.kn.MsgSent

	h.doCycle(hn, 1)
	if hn.kn.MsgSent != sentAfterFirst {
		t.Fatalf("expected second cycle to be suppressed, MsgSent grew from %d to %d", sentAfterFirst, hn.kn.MsgSent)
	}
}

func TestCandidatesAtLevelMatchesHandelPeerSizes(t *testing.T) {
	const nodeCount = 8
	L := 3
	for level := 1; level <= L; level++ {
		want := 1 << (level - 1)
		got := candidatesAtLevel(nodeCount, L, 0, L-level)
		if len(got) != want {
			t.Fatalf("level %d: got %d peers, want %d", level, len(got), want)
		}
	}
}
