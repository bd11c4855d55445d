package core

import "testing"

func TestPingPongEveryNodeReplies(t *testing.T) {
	pp := NewPingPong(PingPongParams{NodeCount: 5, PeriodMs: 10, SignatureSize: 8, Seed: 1})
	if err := pp.Init(); err != nil {
		t.Fatalf("init: %v", err)
	}
	pp.kernel.RunMs(50)
	// Pings go out at 10, 20, 30, 40 and 50 ms; each round's 4 pongs arrive
	// 2 ms later, so the rounds started at 10..40 are complete by 50 ms.
	if got := pp.Get(nil)["totalPongs"]; got != 16 {
		t.Fatalf("expected 16 pongs after four ping rounds, got %v", got)
	}
}

func TestFloodReachesEveryNode(t *testing.T) {
	f := NewFlood(FloodParams{NodeCount: 10, SignatureSize: 8, Seed: 1})
	if err := f.Init(); err != nil {
		t.Fatalf("init: %v", err)
	}
	f.kernel.RunMs(100)
	nodes := f.kernel.Registry().All()
	if got := f.Get(nodes)["coverage"]; got != 1 {
		t.Fatalf("expected full coverage, got %v", got)
	}
}

func TestPoWMinerMinesBlocksOverTime(t *testing.T) {
	m := NewPoWMiner(PoWParams{NodeCount: 4, TickMs: 1, DifficultyTarget: 50, SignatureSize: 8, Seed: 3})
	if err := m.Init(); err != nil {
		t.Fatalf("init: %v", err)
	}
	m.kernel.RunMs(2000)
	if got := m.Get(nil)["totalBlocksMined"]; got <= 0 {
		t.Fatalf("expected at least one mined block, got %v", got)
	}
}

func TestSelfishMinerNeverLeavesLeadAtTwoUnpublished(t *testing.T) {
	s := NewSelfishMiner(PoWParams{NodeCount: 3, TickMs: 1, DifficultyTarget: 50, SignatureSize: 8, Seed: 4})
	if err := s.Init(); err != nil {
		t.Fatalf("init: %v", err)
	}
	s.kernel.RunMs(3000)
	for id, n := range s.nodes {
		if n.lead >= 2 {
			t.Fatalf("node %d: lead %d should have been published", id, n.lead)
		}
	}
}
