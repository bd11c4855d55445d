package core

import "fmt"

// ancillary.go builds minimal, façade-conforming implementations of the
// protocols spec.md places out of scope at anything beyond their interface
// contract (ping/pong, flood, PoW miner, selfish mining). They are
// intentionally thin: each satisfies Protocol{Init,Copy,Network} and
// exercises the kernel's send/task/partition paths, but none attempts
// byte-exact PoW or selfish-mining fidelity, consistent with the
// cryptographic-verification Non-goal.

// --- Ping/pong -------------------------------------------------------------

// PingPongParams configures the ping/pong protocol.
type PingPongParams struct {
	NodeCount     int
	PeriodMs      int
	SignatureSize int
	Seed          int
	MapX, MapY    int
	Latency       LatencyModel
}

type pingMsg struct{ proto *PingPong }

func (p *pingMsg) Size() int { return p.proto.params.SignatureSize }
func (p *pingMsg) Action(net *Kernel, from, to *Node) {
	pong := &pongMsg{proto: p.proto}
	_ = net.Send(pong, net.Time(), to.ID, []int{from.ID}, 0)
}

type pongMsg struct{ proto *PingPong }

func (p *pongMsg) Size() int { return p.proto.params.SignatureSize }
func (p *pongMsg) Action(net *Kernel, from, to *Node) {
	p.proto.pongsReceived[to.ID]++
}

// PingPong has node 0 ping every other node on a periodic task; every node
// replies immediately with a pong.
type PingPong struct {
	params        PingPongParams
	kernel        *Kernel
	pongsReceived map[int]int
}

func NewPingPong(p PingPongParams) *PingPong {
	if p.MapX <= 0 {
		p.MapX = 1000
	}
	if p.MapY <= 0 {
		p.MapY = 1000
	}
	if p.PeriodMs <= 0 {
		p.PeriodMs = 1
	}
	return &PingPong{params: p}
}

func (pp *PingPong) Init() error {
	n := pp.params.NodeCount
	if n <= 1 {
		return fmt.Errorf("pingpong: nodeCount must be > 1, got %d", n)
	}
	pp.kernel = NewKernel(pp.params.MapX, pp.params.MapY, pp.params.Seed)
	if pp.params.Latency != nil {
		if err := pp.kernel.SetNetworkLatency(pp.params.Latency); err != nil {
			return err
		}
	}
	pp.pongsReceived = make(map[int]int, n)
	var first *Node
	for id := 0; id < n; id++ {
		x, y := pp.kernel.Rand().Intn(pp.params.MapX), pp.kernel.Rand().Intn(pp.params.MapY)
		kn := NewNode(id, x, y)
		if err := pp.kernel.AddNode(kn); err != nil {
			return err
		}
		if id == 0 {
			first = kn
		}
	}

	others := make([]int, 0, n-1)
	for id := 1; id < n; id++ {
		others = append(others, id)
	}
	return pp.kernel.RegisterPeriodicTask(func(net *Kernel, self *Node) {
		_ = net.Send(&pingMsg{proto: pp}, net.Time(), self.ID, others, 0)
	}, pp.params.PeriodMs, pp.params.PeriodMs, first, nil)
}

func (pp *PingPong) Copy() Protocol    { return NewPingPong(pp.params) }
func (pp *PingPong) Network() *Kernel  { return pp.kernel }
func (pp *PingPong) SetSeed(seed int)  { pp.params.Seed = seed }
func (pp *PingPong) Fields() []string  { return []string{"totalPongs"} }
func (pp *PingPong) Get(nodes []*Node) map[string]float64 {
	total := 0
	for _, c := range pp.pongsReceived {
		total += c
	}
	return map[string]float64{"totalPongs": float64(total)}
}

// --- Flood -------------------------------------------------------------

// FloodParams configures the flood protocol.
type FloodParams struct {
	NodeCount     int
	SignatureSize int
	Seed          int
	MapX, MapY    int
	Latency       LatencyModel
}

type floodNode struct {
	id   int
	kn   *Node
	seen map[string]bool
}

type floodMsg struct {
	proto *Flood
	Hash  string
}

func (f *floodMsg) Size() int { return f.proto.params.SignatureSize }
func (f *floodMsg) Action(net *Kernel, from, to *Node) {
	f.proto.deliver(to.ID, from.ID, f.Hash)
}

// Flood re-broadcasts a payload, the first time it is seen, to every peer
// except the sender.
type Flood struct {
	params FloodParams
	kernel *Kernel
	nodes  map[int]*floodNode
}

func NewFlood(p FloodParams) *Flood {
	if p.MapX <= 0 {
		p.MapX = 1000
	}
	if p.MapY <= 0 {
		p.MapY = 1000
	}
	return &Flood{params: p}
}

func (f *Flood) Init() error {
	n := f.params.NodeCount
	if n <= 1 {
		return fmt.Errorf("flood: nodeCount must be > 1, got %d", n)
	}
	f.kernel = NewKernel(f.params.MapX, f.params.MapY, f.params.Seed)
	if f.params.Latency != nil {
		if err := f.kernel.SetNetworkLatency(f.params.Latency); err != nil {
			return err
		}
	}
	f.nodes = make(map[int]*floodNode, n)
	for id := 0; id < n; id++ {
		x, y := f.kernel.Rand().Intn(f.params.MapX), f.kernel.Rand().Intn(f.params.MapY)
		kn := NewNode(id, x, y)
		if err := f.kernel.AddNode(kn); err != nil {
			return err
		}
		f.nodes[id] = &floodNode{id: id, kn: kn, seen: map[string]bool{}}
	}

	origin := f.nodes[0]
	origin.seen["genesis"] = true
	peers := f.peersOf(0)
	return f.kernel.RegisterTask(func(net *Kernel, self *Node) {
		_ = net.Send(&floodMsg{proto: f, Hash: "genesis"}, net.Time(), 0, peers, 0)
	}, 1, origin.kn)
}

func (f *Flood) peersOf(id int) []int {
	peers := make([]int, 0, len(f.nodes)-1)
	for other := range f.nodes {
		if other != id {
			peers = append(peers, other)
		}
	}
	return peers
}

func (f *Flood) deliver(toID, fromID int, hash string) {
	n := f.nodes[toID]
	if n == nil || n.seen[hash] {
		return
	}
	n.seen[hash] = true
	var rest []int
	for other := range f.nodes {
		if other != toID && other != fromID {
			rest = append(rest, other)
		}
	}
	if len(rest) == 0 {
		return
	}
	_ = f.kernel.Send(&floodMsg{proto: f, Hash: hash}, f.kernel.Time(), toID, rest, 0)
}

func (f *Flood) Copy() Protocol   { return NewFlood(f.params) }
func (f *Flood) Network() *Kernel { return f.kernel }
func (f *Flood) SetSeed(seed int) { f.params.Seed = seed }
func (f *Flood) Fields() []string { return []string{"coverage"} }
func (f *Flood) Get(nodes []*Node) map[string]float64 {
	covered := 0
	for _, n := range f.nodes {
		if n.seen["genesis"] {
			covered++
		}
	}
	total := 0.0
	if len(nodes) > 0 {
		total = float64(covered) / float64(len(nodes))
	}
	return map[string]float64{"coverage": total}
}

// --- PoW miner -----------------------------------------------------------

// PoWParams configures the proof-of-work miner.
type PoWParams struct {
	NodeCount        int
	TickMs           int
	DifficultyTarget int
	SignatureSize    int
	Seed             int
	MapX, MapY       int
	Latency          LatencyModel
}

type powNode struct {
	id          int
	kn          *Node
	effort      int
	chainLength int
	blocksMined int
	orphaned    int
}

type minedBlockMsg struct {
	proto  *PoWMiner
	Length int
}

func (m *minedBlockMsg) Size() int { return m.proto.params.SignatureSize }
func (m *minedBlockMsg) Action(net *Kernel, from, to *Node) {
	n := m.proto.nodes[to.ID]
	if n == nil {
		return
	}
	if m.Length > n.chainLength {
		n.chainLength = m.Length
	} else {
		n.orphaned++
	}
}

// PoWMiner has every node draw a pseudo-random "hash attempt" every TickMs
// and accumulate it against DifficultyTarget; crossing the target is a
// found block, flooded to the whole network.
type PoWMiner struct {
	params PoWParams
	kernel *Kernel
	nodes  map[int]*powNode
}

func NewPoWMiner(p PoWParams) *PoWMiner {
	if p.MapX <= 0 {
		p.MapX = 1000
	}
	if p.MapY <= 0 {
		p.MapY = 1000
	}
	if p.TickMs <= 0 {
		p.TickMs = 1
	}
	if p.DifficultyTarget <= 0 {
		p.DifficultyTarget = 1000
	}
	return &PoWMiner{params: p}
}

func (m *PoWMiner) Init() error {
	n := m.params.NodeCount
	if n <= 0 {
		return fmt.Errorf("pow: nodeCount must be > 0, got %d", n)
	}
	m.kernel = NewKernel(m.params.MapX, m.params.MapY, m.params.Seed)
	if m.params.Latency != nil {
		if err := m.kernel.SetNetworkLatency(m.params.Latency); err != nil {
			return err
		}
	}
	m.nodes = make(map[int]*powNode, n)
	for id := 0; id < n; id++ {
		x, y := m.kernel.Rand().Intn(m.params.MapX), m.kernel.Rand().Intn(m.params.MapY)
		kn := NewNode(id, x, y)
		if err := m.kernel.AddNode(kn); err != nil {
			return err
		}
		pn := &powNode{id: id, kn: kn}
		m.nodes[id] = pn
		if err := m.kernel.RegisterPeriodicTask(func(net *Kernel, self *Node) {
			m.tick(pn)
		}, m.params.TickMs, m.params.TickMs, kn, nil); err != nil {
			return err
		}
	}
	return nil
}

func (m *PoWMiner) tick(n *powNode) {
	n.effort += m.kernel.GetPseudoRandom(n.id, m.kernel.Time())
	if n.effort < m.params.DifficultyTarget {
		return
	}
	n.effort = 0
	n.blocksMined++
	n.chainLength++
	m.broadcast(n.id, n.chainLength)
}

func (m *PoWMiner) broadcast(fromID, length int) {
	var peers []int
	for id := range m.nodes {
		if id != fromID {
			peers = append(peers, id)
		}
	}
	if len(peers) == 0 {
		return
	}
	_ = m.kernel.Send(&minedBlockMsg{proto: m, Length: length}, m.kernel.Time(), fromID, peers, 0)
}

func (m *PoWMiner) Copy() Protocol   { return NewPoWMiner(m.params) }
func (m *PoWMiner) Network() *Kernel { return m.kernel }
func (m *PoWMiner) SetSeed(seed int) { m.params.Seed = seed }
func (m *PoWMiner) Fields() []string { return []string{"totalBlocksMined", "totalOrphaned"} }
func (m *PoWMiner) Get(nodes []*Node) map[string]float64 {
	mined, orphaned := 0, 0
	for _, n := range m.nodes {
		mined += n.blocksMined
		orphaned += n.orphaned
	}
	return map[string]float64{"totalBlocksMined": float64(mined), "totalOrphaned": float64(orphaned)}
}

// --- Selfish mining --------------------------------------------------------

type selfishNode struct {
	id          int
	kn          *Node
	effort      int
	publicChain int
	lead        int
	blocksMined int
}

type selfishBlockMsg struct {
	proto  *SelfishMiner
	Length int
}

func (s *selfishBlockMsg) Size() int { return s.proto.params.SignatureSize }
func (s *selfishBlockMsg) Action(net *Kernel, from, to *Node) {
	s.proto.onHonestBlock(s.proto.nodes[to.ID], s.Length)
}

// SelfishMiner is a PoW node that withholds a found block while it is ahead
// of the public chain by exactly one, and publishes its whole private
// branch at once either when it stretches its lead to two or when an
// honest competing block forces the issue.
type SelfishMiner struct {
	params PoWParams
	kernel *Kernel
	nodes  map[int]*selfishNode
}

func NewSelfishMiner(p PoWParams) *SelfishMiner {
	if p.MapX <= 0 {
		p.MapX = 1000
	}
	if p.MapY <= 0 {
		p.MapY = 1000
	}
	if p.TickMs <= 0 {
		p.TickMs = 1
	}
	if p.DifficultyTarget <= 0 {
		p.DifficultyTarget = 1000
	}
	return &SelfishMiner{params: p}
}

func (s *SelfishMiner) Init() error {
	n := s.params.NodeCount
	if n <= 0 {
		return fmt.Errorf("selfish-pow: nodeCount must be > 0, got %d", n)
	}
	s.kernel = NewKernel(s.params.MapX, s.params.MapY, s.params.Seed)
	if s.params.Latency != nil {
		if err := s.kernel.SetNetworkLatency(s.params.Latency); err != nil {
			return err
		}
	}
	s.nodes = make(map[int]*selfishNode, n)
	for id := 0; id < n; id++ {
		x, y := s.kernel.Rand().Intn(s.params.MapX), s.kernel.Rand().Intn(s.params.MapY)
		kn := NewNode(id, x, y)
		if err := s.kernel.AddNode(kn); err != nil {
			return err
		}
		sn := &selfishNode{id: id, kn: kn}
		s.nodes[id] = sn
		if err := s.kernel.RegisterPeriodicTask(func(net *Kernel, self *Node) {
			s.tick(sn)
		}, s.params.TickMs, s.params.TickMs, kn, nil); err != nil {
			return err
		}
	}
	return nil
}

func (s *SelfishMiner) tick(n *selfishNode) {
	n.effort += s.kernel.GetPseudoRandom(n.id, s.kernel.Time())
	if n.effort < s.params.DifficultyTarget {
		return
	}
	n.effort = 0
	n.blocksMined++
	n.lead++
	if n.lead >= 2 {
		s.publish(n)
	}
}

// onHonestBlock handles a rival block observed by the network: below a
// withheld lead it simply adopts; at lead==1 it races by releasing its one
// withheld block; at lead>=2 it was already going to win and the challenge
// changes nothing (publish already happened in tick).
func (s *SelfishMiner) onHonestBlock(n *selfishNode, length int) {
	if n == nil {
		return
	}
	switch {
	case n.lead == 0:
		if length > n.publicChain {
			n.publicChain = length
		}
	case n.lead == 1:
		s.publish(n)
	default:
		// already ahead by 2+; the pending tick-driven publish subsumes this.
	}
}

func (s *SelfishMiner) publish(n *selfishNode) {
	n.publicChain += n.lead
	n.lead = 0
	var peers []int
	for id := range s.nodes {
		if id != n.id {
			peers = append(peers, id)
		}
	}
	if len(peers) == 0 {
		return
	}
	_ = s.kernel.Send(&selfishBlockMsg{proto: s, Length: n.publicChain}, s.kernel.Time(), n.id, peers, 0)
}

func (s *SelfishMiner) Copy() Protocol   { return NewSelfishMiner(s.params) }
func (s *SelfishMiner) Network() *Kernel { return s.kernel }
func (s *SelfishMiner) SetSeed(seed int) { s.params.Seed = seed }
func (s *SelfishMiner) Fields() []string { return []string{"totalBlocksMined", "maxPublicChain"} }
func (s *SelfishMiner) Get(nodes []*Node) map[string]float64 {
	mined, maxChain := 0, 0
	for _, n := range s.nodes {
		mined += n.blocksMined
		if n.publicChain > maxChain {
			maxChain = n.publicChain
		}
	}
	return map[string]float64{"totalBlocksMined": float64(mined), "maxPublicChain": float64(maxChain)}
}
