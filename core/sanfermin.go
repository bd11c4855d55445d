package core

import (
	"fmt"
	"math/bits"

	"github.com/sirupsen/logrus"
)

// SwapStatus is the outcome carried by a SwapReply (spec §4.5).
type SwapStatus int

const (
	// StatusNO means the replying node could not aggregate at the
	// requested level right now.
	StatusNO SwapStatus = iota
	// StatusOK means the replying node aggregated, or optimistically
	// shared its current value without committing to the swap.
	StatusOK
)

// SwapRequest asks a peer to swap aggregate values at Level. Each message
// instance carries a back-pointer to its protocol so Action can dispatch
// into San Fermín's per-node state machine without any package-level
// globals.
type SwapRequest struct {
	proto    *SanFermin
	Level    int
	AggValue int
}

func (s *SwapRequest) Size() int { return s.proto.params.SignatureSize }

func (s *SwapRequest) Action(net *Kernel, from, to *Node) {
	n := s.proto.nodes[to.ID]
	if n == nil {
		return
	}
	s.proto.handleSwapRequest(n, from.ID, s)
}

// SwapReply answers a SwapRequest at the same level.
type SwapReply struct {
	proto    *SanFermin
	Status   SwapStatus
	Level    int
	AggValue int
}

func (s *SwapReply) Size() int { return s.proto.params.SignatureSize }

func (s *SwapReply) Action(net *Kernel, from, to *Node) {
	n := s.proto.nodes[to.ID]
	if n == nil {
		return
	}
	s.proto.handleSwapReply(n, from.ID, s)
}

// sfNode is the San Fermín per-node aggregation state of spec §3.
type sfNode struct {
	id int
	kn *Node

	binaryID            string
	currentPrefixLength int
	aggValue            int
	isSwapping          bool

	signatureCache map[int]int
	futureSigs     map[int]int
	pendingNodes   map[int]bool
	usedCandidates map[int]map[int]bool
	cursorByLevel  map[int]int
	orderCache     map[int][]int

	thresholdAt int
	done        bool
	doneAt      int
}

// SanFerminParams enumerates every tunable of the San Fermín protocol.
type SanFerminParams struct {
	NodeCount      int
	Threshold      int
	PairingTime    int
	SignatureSize  int
	ReplyTimeoutMs int
	CandidateCount int
	Shuffled       bool
	Seed           int
	MapX, MapY     int
	Latency        LatencyModel
}

// SanFermin drives the binomial-swap aggregation protocol of spec §4.5.
type SanFermin struct {
	params SanFerminParams
	kernel *Kernel
	L      int
	nodes  map[int]*sfNode

	finished []int
	log      *logrus.Entry
}

// NewSanFermin constructs (but does not initialize) a San Fermín protocol
// instance from a parameter record.
func NewSanFermin(p SanFerminParams) *SanFermin {
	if p.MapX <= 0 {
		p.MapX = 1000
	}
	if p.MapY <= 0 {
		p.MapY = 1000
	}
	if p.CandidateCount <= 0 {
		p.CandidateCount = 1
	}
	if p.ReplyTimeoutMs <= 0 {
		p.ReplyTimeoutMs = 1
	}
	if p.PairingTime <= 0 {
		p.PairingTime = 1
	}
	return &SanFermin{
		params: p,
		log:    logrus.WithField("component", "sanfermin"),
	}
}

// Init implements Protocol: builds the kernel, registers every node, and
// kicks every node into its first level (initially L-1).
func (sf *SanFermin) Init() error {
	n := sf.params.NodeCount
	if n <= 0 || n&(n-1) != 0 {
		return fmt.Errorf("sanfermin: nodeCount must be a power of two, got %d", n)
	}
	sf.L = bits.Len(uint(n)) - 1

	sf.kernel = NewKernel(sf.params.MapX, sf.params.MapY, sf.params.Seed)
	if sf.params.Latency != nil {
		if err := sf.kernel.SetNetworkLatency(sf.params.Latency); err != nil {
			return err
		}
	}

	sf.nodes = make(map[int]*sfNode, n)
	for id := 0; id < n; id++ {
		x := sf.kernel.Rand().Intn(sf.params.MapX)
		y := sf.kernel.Rand().Intn(sf.params.MapY)
		kn := NewNode(id, x, y)
		if err := sf.kernel.AddNode(kn); err != nil {
			return err
		}
		sf.nodes[id] = &sfNode{
			id:             id,
			kn:             kn,
			binaryID:       fmt.Sprintf("%0*b", sf.L, id),
			aggValue:       1,
			signatureCache: map[int]int{},
			futureSigs:     map[int]int{},
			pendingNodes:   map[int]bool{},
			usedCandidates: map[int]map[int]bool{},
			cursorByLevel:  map[int]int{},
			orderCache:     map[int][]int{},
		}
	}

	for _, sn := range sf.nodes {
		sf.enterLevel(sn, sf.L-1)
	}
	return nil
}

// Copy implements Protocol.
func (sf *SanFermin) Copy() Protocol { return NewSanFermin(sf.params) }

// SetSeed implements Seeder, letting the scenario runner reseed a fresh copy
// per round without widening the Protocol façade.
func (sf *SanFermin) SetSeed(seed int) { sf.params.Seed = seed }

// Network implements Protocol.
func (sf *SanFermin) Network() *Kernel { return sf.kernel }

// Fields implements StatsGetter.
func (sf *SanFermin) Fields() []string { return []string{"doneCount", "avgAggValue"} }

// Get implements StatsGetter.
func (sf *SanFermin) Get(nodes []*Node) map[string]float64 {
	doneCount, sum := 0, 0
	for _, kn := range nodes {
		sn := sf.nodes[kn.ID]
		if sn == nil {
			continue
		}
		sum += sn.aggValue
		if sn.done {
			doneCount++
		}
	}
	avg := 0.0
	if len(nodes) > 0 {
		avg = float64(sum) / float64(len(nodes))
	}
	return map[string]float64{"doneCount": float64(doneCount), "avgAggValue": avg}
}

// candidatesAtLevel returns every node id sharing id's top `level` bits and
// differing at bit `level`, using integer arithmetic over the binary-tree
// grouping instead of string manipulation.
func candidatesAtLevel(nodeCount, L, id, level int) []int {
	groupSize := 1 << (L - level)
	half := groupSize / 2
	base := (id / groupSize) * groupSize
	myHalf := (id - base) / half
	otherStart := base
	if myHalf == 0 {
		otherStart = base + half
	}
	out := make([]int, 0, half)
	for i := otherStart; i < otherStart+half && i < nodeCount; i++ {
		out = append(out, i)
	}
	return out
}

func isCandidateAt(nodeCount, L, selfID, peerID, level int) bool {
	for _, c := range candidatesAtLevel(nodeCount, L, selfID, level) {
		if c == peerID {
			return true
		}
	}
	return false
}

func (sf *SanFermin) isCandidate(peerID, selfID, level int) bool {
	return isCandidateAt(sf.params.NodeCount, sf.L, selfID, peerID, level)
}

func (sf *SanFermin) checkThreshold(n *sfNode) {
	if n.thresholdAt == 0 && n.aggValue >= sf.params.Threshold {
		n.thresholdAt = sf.kernel.Time() + 2*sf.params.PairingTime
	}
}

// enterLevel is spec §4.5 step 1. futureSigs carries a tail-recursion: a
// level whose data already arrived is merged and immediately cascaded to
// level-1 without attempting a swap. Level 0 is swapped like any other
// level; the node finishes once it moves past level 0.
func (sf *SanFermin) enterLevel(n *sfNode, level int) {
	if level < 0 {
		sf.finish(n)
		return
	}
	n.currentPrefixLength = level
	n.isSwapping = false
	n.pendingNodes = map[int]bool{}
	n.signatureCache[level] = n.aggValue

	if v, ok := n.futureSigs[level]; ok {
		delete(n.futureSigs, level)
		n.aggValue += v
		sf.checkThreshold(n)
		if level == 0 {
			sf.finish(n)
			return
		}
		sf.enterLevel(n, level-1)
		return
	}

	sf.checkThreshold(n)
	sf.pickCandidates(n, level)
}

func (sf *SanFermin) finish(n *sfNode) {
	n.done = true
	n.doneAt = sf.kernel.Time() + 2*sf.params.PairingTime
	n.kn.DoneAt = n.doneAt
	sf.finished = append(sf.finished, n.id)
}

// pickCandidates is spec §4.5 step 2: pick up to CandidateCount unused
// candidates at level, send SwapRequest to all of them, and arm a
// ReplyTimeoutMs timeout.
func (sf *SanFermin) pickCandidates(n *sfNode, level int) {
	order, ok := n.orderCache[level]
	if !ok {
		order = candidatesAtLevel(sf.params.NodeCount, sf.L, n.id, level)
		if sf.params.Shuffled {
			sf.kernel.Rand().Shuffle(len(order), func(i, j int) { order[i], order[j] = order[j], order[i] })
		}
		n.orderCache[level] = order
	}

	used := n.usedCandidates[level]
	if used == nil {
		used = map[int]bool{}
		n.usedCandidates[level] = used
	}

	cursor := n.cursorByLevel[level]
	var picked []int
	for cursor < len(order) && len(picked) < sf.params.CandidateCount {
		cand := order[cursor]
		cursor++
		if used[cand] {
			continue
		}
		used[cand] = true
		n.pendingNodes[cand] = true
		picked = append(picked, cand)
	}
	n.cursorByLevel[level] = cursor

	if len(picked) == 0 {
		return
	}

	req := &SwapRequest{proto: sf, Level: level, AggValue: n.aggValue}
	if err := sf.kernel.Send(req, sf.kernel.Time(), n.id, picked, 0); err != nil {
		sf.log.Errorf("node %d: send swap request: %v", n.id, err)
	}

	deadline := sf.kernel.Time() + sf.params.ReplyTimeoutMs
	if err := sf.kernel.RegisterTask(func(net *Kernel, self *Node) {
		sf.onTimeout(n, level)
	}, deadline, n.kn); err != nil {
		sf.log.Errorf("node %d: register timeout: %v", n.id, err)
	}
}

// onTimeout is spec §4.5 step 3.
func (sf *SanFermin) onTimeout(n *sfNode, level int) {
	if n.done || n.currentPrefixLength != level {
		return
	}
	sf.pickCandidates(n, level)
}

// handleSwapRequest is spec §4.5 step 4.
func (sf *SanFermin) handleSwapRequest(n *sfNode, fromID int, req *SwapRequest) {
	level := n.currentPrefixLength

	if n.done || req.Level != level {
		if v, ok := n.signatureCache[req.Level]; ok {
			sf.reply(n, fromID, StatusOK, req.Level, v)
			return
		}
		sf.reply(n, fromID, StatusNO, req.Level, 0)
		if sf.isCandidate(fromID, n.id, req.Level) {
			// The peer is ahead of us; stash its value so our own
			// enterLevel tail-recursion (futureSigs) picks it up once we
			// get there instead of attempting a swap we'd immediately
			// win for free.
			n.futureSigs[req.Level] = req.AggValue
		}
		return
	}

	if n.isSwapping {
		sf.reply(n, fromID, StatusOK, level, n.aggValue)
		return
	}

	if sf.isCandidate(fromID, n.id, level) {
		sf.transition(n, fromID, req.AggValue)
	}
}

// handleSwapReply is spec §4.5 step 5.
func (sf *SanFermin) handleSwapReply(n *sfNode, fromID int, rep *SwapReply) {
	level := n.currentPrefixLength
	if rep.Level != level || n.done || n.isSwapping {
		return
	}

	if rep.Status == StatusOK {
		if n.pendingNodes[fromID] {
			delete(n.pendingNodes, fromID)
			sf.transition(n, fromID, rep.AggValue)
		} else if sf.isCandidate(fromID, n.id, level) {
			sf.transition(n, fromID, rep.AggValue)
		}
		return
	}

	if n.pendingNodes[fromID] {
		delete(n.pendingNodes, fromID)
		sf.pickCandidates(n, level)
	}
}

func (sf *SanFermin) reply(n *sfNode, toID int, status SwapStatus, level, aggValue int) {
	rep := &SwapReply{proto: sf, Status: status, Level: level, AggValue: aggValue}
	if err := sf.kernel.Send(rep, sf.kernel.Time(), n.id, []int{toID}, 0); err != nil {
		sf.log.Errorf("node %d: send swap reply: %v", n.id, err)
	}
}

// transition is spec §4.5 step 6: commit a swap after PairingTime ms,
// guarded by the per-level isSwapping lock.
func (sf *SanFermin) transition(n *sfNode, peerID, incoming int) {
	n.isSwapping = true
	level := n.currentPrefixLength
	deadline := sf.kernel.Time() + sf.params.PairingTime

	if err := sf.kernel.RegisterTask(func(net *Kernel, self *Node) {
		n.aggValue += incoming
		sf.checkThreshold(n)
		sf.enterLevel(n, level-1)
	}, deadline, n.kn); err != nil {
		sf.log.Errorf("node %d: register pairing task: %v", n.id, err)
	}
}
