package core

import (
	"fmt"
	"math/bits"
	"sort"

	"github.com/bits-and-blooms/bitset"
	"github.com/sirupsen/logrus"
)

// handelAggHash is the single value every node aggregates a signature over.
// Handel supports multiple concurrently-aggregated hashes (equivocation,
// competing candidates); this core models the common single-candidate case,
// per spec §9's note that cryptographic verification itself is out of
// scope and signatures are modeled as integer/bitset membership.
const handelAggHash = "v"

// Attestation is spec §3's (hash, who) pair: who names contributors to the
// aggregate identified by hash.
type Attestation struct {
	Hash string
	Who  *bitset.BitSet
}

// AggToVerify is one pending incoming aggregate awaiting bestToVerify
// selection (spec §4.6).
type AggToVerify struct {
	From int
	Hash string
	Who  *bitset.BitSet
	Rank int
}

// SendAggregation is the wire message Handel peers exchange at a level.
type SendAggregation struct {
	proto    *Handel
	Level    int
	Hash     string
	Complete bool
	Who      *bitset.BitSet
}

func (s *SendAggregation) Size() int { return s.proto.params.SignatureSize }

func (s *SendAggregation) Action(net *Kernel, from, to *Node) {
	n := s.proto.nodes[to.ID]
	if n == nil {
		return
	}
	s.proto.receiveAggregation(n, from.ID, s)
}

// handelLevel is the per-node, per-level state of spec §3/§4.6.
type handelLevel struct {
	level      int
	peersCount int
	peers      []int

	incoming    map[string]*Attestation
	indIncoming map[string]*bitset.BitSet
	incomingCardinality int

	toVerifyAgg []AggToVerify

	outgoingFinished bool
	posInLevel       int

	lastMessageCardinality int
	lastNode               int

	finishedPeers map[int]bool
}

// handelNode is one node's full ladder of levels, 0..L inclusive (level 0
// is the node itself, always complete).
type handelNode struct {
	id     int
	kn     *Node
	levels map[int]*handelLevel
}

// HandelParams enumerates every tunable of the Handel protocol.
type HandelParams struct {
	NodeCount     int
	LevelWaitTime int
	WindowSize    int
	CycleMs       int
	SignatureSize int
	Seed          int
	MapX, MapY    int
	Latency       LatencyModel
	Blacklist     map[int]bool
}

// Handel drives the multi-level aggregation protocol of spec §4.6.
type Handel struct {
	params HandelParams
	kernel *Kernel
	L      int
	nodes  map[int]*handelNode

	log *logrus.Entry
}

// NewHandel constructs (but does not initialize) a Handel protocol instance.
func NewHandel(p HandelParams) *Handel {
	if p.MapX <= 0 {
		p.MapX = 1000
	}
	if p.MapY <= 0 {
		p.MapY = 1000
	}
	if p.LevelWaitTime <= 0 {
		p.LevelWaitTime = 1
	}
	if p.WindowSize <= 0 {
		p.WindowSize = 1
	}
	if p.CycleMs <= 0 {
		p.CycleMs = 1
	}
	if p.Blacklist == nil {
		p.Blacklist = map[int]bool{}
	}
	return &Handel{params: p, log: logrus.WithField("component", "handel")}
}

// Init implements Protocol.
func (h *Handel) Init() error {
	n := h.params.NodeCount
	if n <= 0 || n&(n-1) != 0 {
		return fmt.Errorf("handel: nodeCount must be a power of two, got %d", n)
	}
	h.L = bits.Len(uint(n)) - 1

	h.kernel = NewKernel(h.params.MapX, h.params.MapY, h.params.Seed)
	if h.params.Latency != nil {
		if err := h.kernel.SetNetworkLatency(h.params.Latency); err != nil {
			return err
		}
	}

	h.nodes = make(map[int]*handelNode, n)
	for id := 0; id < n; id++ {
		x := h.kernel.Rand().Intn(h.params.MapX)
		y := h.kernel.Rand().Intn(h.params.MapY)
		kn := NewNode(id, x, y)
		if err := h.kernel.AddNode(kn); err != nil {
			return err
		}

		hn := &handelNode{id: id, kn: kn, levels: map[int]*handelLevel{}}

		self := bitset.New(uint(n))
		self.Set(uint(id))
		hn.levels[0] = &handelLevel{
			level:               0,
			peersCount:          1,
			incoming:            map[string]*Attestation{handelAggHash: {Hash: handelAggHash, Who: self}},
			indIncoming:         map[string]*bitset.BitSet{handelAggHash: self.Clone()},
			incomingCardinality: 1,
			outgoingFinished:    true,
			lastNode:            -1,
			finishedPeers:       map[int]bool{},
		}

		for level := 1; level <= h.L; level++ {
			peers := candidatesAtLevel(n, h.L, id, h.L-level)
			sort.Ints(peers)
			hn.levels[level] = &handelLevel{
				level:         level,
				peersCount:    len(peers),
				peers:         peers,
				incoming:      map[string]*Attestation{},
				indIncoming:   map[string]*bitset.BitSet{},
				lastNode:      -1,
				finishedPeers: map[int]bool{},
			}
		}
		h.nodes[id] = hn
	}

	for _, hn := range h.nodes {
		node := hn
		if err := h.kernel.RegisterPeriodicTask(func(net *Kernel, self *Node) {
			h.tick(node)
		}, h.params.CycleMs, h.params.CycleMs, hn.kn, nil); err != nil {
			return err
		}
	}
	return nil
}

// Copy implements Protocol.
func (h *Handel) Copy() Protocol { return NewHandel(h.params) }

// SetSeed implements Seeder.
func (h *Handel) SetSeed(seed int) { h.params.Seed = seed }

// Network implements Protocol.
func (h *Handel) Network() *Kernel { return h.kernel }

// Fields implements StatsGetter.
func (h *Handel) Fields() []string { return []string{"doneCount", "avgTopCardinality"} }

// Get implements StatsGetter.
func (h *Handel) Get(nodes []*Node) map[string]float64 {
	doneCount, sum := 0, 0
	for _, kn := range nodes {
		hn := h.nodes[kn.ID]
		if hn == nil {
			continue
		}
		top := hn.levels[h.L]
		sum += top.incomingCardinality
		if kn.DoneAt > 0 {
			doneCount++
		}
	}
	avg := 0.0
	if len(nodes) > 0 {
		avg = float64(sum) / float64(len(nodes))
	}
	return map[string]float64{"doneCount": float64(doneCount), "avgTopCardinality": avg}
}

func (h *Handel) isIncomingComplete(lv *handelLevel) bool {
	return lv.incomingCardinality >= lv.peersCount
}

// outgoingWho is the aggregate this node currently has to offer peers at
// level: its own bit plus every strictly-lower level's incoming aggregate,
// but only once that lower level is itself complete — this keeps
// outgoingCardinality telescoping up to exactly peersCount(level) instead of
// leaking a higher level's partial progress into a lower level's budget.
func (h *Handel) outgoingWho(hn *handelNode, level int) *bitset.BitSet {
	out := bitset.New(uint(h.params.NodeCount))
	out.Set(uint(hn.id))
	for j := 1; j < level; j++ {
		lv := hn.levels[j]
		if lv == nil || !h.isIncomingComplete(lv) {
			continue
		}
		if att, ok := lv.incoming[handelAggHash]; ok {
			out.InPlaceUnion(att.Who)
		}
	}
	return out
}

func (h *Handel) isOutgoingComplete(hn *handelNode, level int) bool {
	return h.outgoingWho(hn, level).Count() >= uint(hn.levels[level].peersCount)
}

func (h *Handel) isOpen(hn *handelNode, level int) bool {
	if h.kernel.Time() >= (level-1)*h.params.LevelWaitTime {
		return true
	}
	return h.isOutgoingComplete(hn, level)
}

// nextPeer is the round-robin cursor of spec §4.6: skip finished or
// blacklisted peers; a full revolution with no eligible peer finishes the
// level's outgoing side.
func (lv *handelLevel) nextPeer(blacklist map[int]bool) (int, bool) {
	n := len(lv.peers)
	if n == 0 {
		return 0, false
	}
	for i := 0; i < n; i++ {
		idx := (lv.posInLevel + i) % n
		p := lv.peers[idx]
		if lv.finishedPeers[p] || blacklist[p] {
			continue
		}
		lv.posInLevel = (idx + 1) % n
		return p, true
	}
	return 0, false
}

// tick runs one dispatch cycle across every open, unfinished level of hn.
func (h *Handel) tick(hn *handelNode) {
	for level := 1; level <= h.L; level++ {
		lv := hn.levels[level]
		if lv.outgoingFinished {
			continue
		}
		h.doCycle(hn, level)
	}
	top := hn.levels[h.L]
	if hn.kn.DoneAt == 0 && h.isIncomingComplete(top) {
		hn.kn.DoneAt = h.kernel.Time()
	}
}

// doCycle implements spec §4.6's cycle dispatch, including the
// message-suppression invariant.
func (h *Handel) doCycle(hn *handelNode, level int) {
	lv := hn.levels[level]
	if !h.isOpen(hn, level) {
		return
	}
	peer, ok := lv.nextPeer(h.params.Blacklist)
	if !ok {
		lv.outgoingFinished = true
		return
	}

	who := h.outgoingWho(hn, level)
	card := int(who.Count())
	if lv.lastMessageCardinality == card && lv.lastNode == peer {
		return
	}
	lv.lastMessageCardinality = card
	lv.lastNode = peer

	msg := &SendAggregation{
		proto:    h,
		Level:    level,
		Hash:     handelAggHash,
		Complete: h.isIncomingComplete(lv),
		Who:      who.Clone(),
	}
	if err := h.kernel.Send(msg, h.kernel.Time(), hn.id, []int{peer}, 0); err != nil {
		h.log.Errorf("node %d: send aggregation: %v", hn.id, err)
	}
}

// receiveAggregation queues an incoming SendAggregation for this level's
// verification window (spec §4.6 "Incoming verification queue").
func (h *Handel) receiveAggregation(hn *handelNode, fromID int, msg *SendAggregation) {
	lv := hn.levels[msg.Level]
	if lv == nil {
		return
	}
	rank := len(lv.peers)
	for i, p := range lv.peers {
		if p == fromID {
			rank = i
			break
		}
	}
	lv.toVerifyAgg = append(lv.toVerifyAgg, AggToVerify{From: fromID, Hash: msg.Hash, Who: msg.Who, Rank: rank})
	h.processVerifyQueue(hn, msg.Level)
}

// sizeIfMerged projects the cardinality incoming would reach at lv if cand
// were merged in, per spec §4.6.
func (h *Handel) sizeIfMerged(lv *handelLevel, cand AggToVerify) int {
	total := 0
	merged := false
	for hash, att := range lv.incoming {
		if hash != cand.Hash {
			total += int(att.Who.Count())
			continue
		}
		merged = true
		ourCount := int(att.Who.Count())
		if att.Who.IntersectionCardinality(cand.Who) == 0 {
			total += ourCount + int(cand.Who.Count())
			continue
		}
		var mergedSet *bitset.BitSet
		if indiv, ok := lv.indIncoming[hash]; ok {
			mergedSet = indiv.Union(cand.Who)
		} else {
			mergedSet = cand.Who.Clone()
		}
		contrib := int(mergedSet.Count())
		if ourCount > contrib {
			contrib = ourCount
		}
		total += contrib
	}
	if !merged {
		total += int(cand.Who.Count())
	}
	return total
}

// mergeIncoming mutates lv with cand, per spec §4.6's case analysis.
func (h *Handel) mergeIncoming(lv *handelLevel, cand AggToVerify) {
	indiv, ok := lv.indIncoming[cand.Hash]
	if !ok {
		indiv = bitset.New(uint(h.params.NodeCount))
		lv.indIncoming[cand.Hash] = indiv
	}
	indiv.Set(uint(cand.From))

	att, ok := lv.incoming[cand.Hash]
	if !ok {
		lv.incoming[cand.Hash] = &Attestation{Hash: cand.Hash, Who: cand.Who.Clone()}
		lv.incomingCardinality += int(cand.Who.Count())
	} else if att.Who.IntersectionCardinality(cand.Who) == 0 {
		delta := int(cand.Who.Count())
		att.Who.InPlaceUnion(cand.Who)
		lv.incomingCardinality += delta
	} else {
		merged := indiv.Union(cand.Who)
		newCount := int(merged.Count())
		ourCount := int(att.Who.Count())
		if newCount > ourCount {
			att.Who = merged
			lv.incomingCardinality += newCount - ourCount
		}
	}

	if lv.incomingCardinality > lv.peersCount {
		h.log.Errorf("level %d: incomingCardinality %d exceeds peersCount %d", lv.level, lv.incomingCardinality, lv.peersCount)
	}
}

// bestToVerify implements spec §4.6's selection: prune items that cannot
// improve or are blacklisted, bucket by the minimum rank seen into one
// window, and keep the best projected merge within it.
func (h *Handel) bestToVerify(lv *handelLevel, windowSize int, blacklist map[int]bool) (AggToVerify, bool) {
	if h.isIncomingComplete(lv) {
		lv.toVerifyAgg = nil
		return AggToVerify{}, false
	}

	var kept []AggToVerify
	minRank := -1
	for _, item := range lv.toVerifyAgg {
		if blacklist[item.From] {
			continue
		}
		if h.sizeIfMerged(lv, item) <= lv.incomingCardinality {
			continue
		}
		if minRank < 0 || item.Rank < minRank {
			minRank = item.Rank
		}
		kept = append(kept, item)
	}
	lv.toVerifyAgg = kept
	if len(kept) == 0 {
		return AggToVerify{}, false
	}

	var best AggToVerify
	bestSize := -1
	for _, item := range kept {
		if item.Rank >= minRank+windowSize {
			continue
		}
		sz := h.sizeIfMerged(lv, item)
		if sz > bestSize {
			bestSize = sz
			best = item
		}
	}
	if bestSize < 0 {
		return AggToVerify{}, false
	}
	return best, true
}

// processVerifyQueue repeatedly merges the best candidate until none can
// improve the level or the level is complete, matching the "signatures are
// modeled as... always valid" non-goal: there is no separate async
// verification step, merging happens immediately.
func (h *Handel) processVerifyQueue(hn *handelNode, level int) {
	lv := hn.levels[level]
	for {
		item, ok := h.bestToVerify(lv, h.params.WindowSize, h.params.Blacklist)
		if !ok {
			return
		}
		h.mergeIncoming(lv, item)
		filtered := lv.toVerifyAgg[:0]
		for _, it := range lv.toVerifyAgg {
			if it.From != item.From {
				filtered = append(filtered, it)
			}
		}
		lv.toVerifyAgg = filtered
		if h.isIncomingComplete(lv) {
			lv.toVerifyAgg = nil
			return
		}
	}
}
