package core

import "fmt"

// Node is the simulator's minimal participant record: a small integer id,
// a position on the rectangular map used by distance-based latency models
// and X-axis partitioning, and the counters every protocol shares
// regardless of what it is aggregating or mining.
type Node struct {
	ID   int
	X, Y int

	Down      bool
	Byzantine bool

	MsgSent       int
	MsgReceived   int
	BytesSent     int
	BytesReceived int

	// DoneAt is the virtual time at which this node's protocol instance
	// considered itself finished. Zero means "not done yet".
	DoneAt int

	// Label is an optional human-readable tag; no protocol or kernel code
	// reads it.
	Label string
}

// NewNode creates a node at the given id and position. The caller chooses
// the id; Registry.Add registers the node at that id and does not assign one.
func NewNode(id, x, y int) *Node {
	return &Node{ID: id, X: x, Y: y}
}

// Registry is the dense, id-indexed node vector described in spec §3: the
// invariant is registry[id].ID == id and ids form [0, n).
type Registry struct {
	nodes []*Node
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{}
}

// Add registers node at its own ID, growing the registry as needed. It fails
// if that id is already occupied — a programmer error per spec §7.
func (r *Registry) Add(n *Node) error {
	if n.ID < 0 {
		return fmt.Errorf("registry: negative node id %d", n.ID)
	}
	for len(r.nodes) <= n.ID {
		r.nodes = append(r.nodes, nil)
	}
	if r.nodes[n.ID] != nil {
		return fmt.Errorf("registry: node id %d already occupied", n.ID)
	}
	r.nodes[n.ID] = n
	return nil
}

// Get returns the node at id, or nil if id is out of range or unoccupied.
func (r *Registry) Get(id int) *Node {
	if id < 0 || id >= len(r.nodes) {
		return nil
	}
	return r.nodes[id]
}

// Len returns the number of id slots in the registry (including any nil
// holes, which should not occur in a well-formed scenario).
func (r *Registry) Len() int {
	return len(r.nodes)
}

// All returns every registered node in id order.
func (r *Registry) All() []*Node {
	out := make([]*Node, 0, len(r.nodes))
	for _, n := range r.nodes {
		if n != nil {
			out = append(out, n)
		}
	}
	return out
}

// PartitionSet is the ordered list of X-axis cut coordinates described in
// spec §3/§4.4: a node's partition id is the number of cuts strictly to its
// left, and two nodes can only exchange a message when they share one.
type PartitionSet struct {
	cuts []int
}

// Add inserts a new X cut. It fails on an out-of-range or duplicate cut.
func (p *PartitionSet) Add(x, maxX int) error {
	if x <= 0 || x >= maxX {
		return fmt.Errorf("partition: cut %d out of range (0,%d)", x, maxX)
	}
	for _, c := range p.cuts {
		if c == x {
			return fmt.Errorf("partition: duplicate cut at %d", x)
		}
	}
	p.cuts = append(p.cuts, x)
	return nil
}

// Clear removes every cut.
func (p *PartitionSet) Clear() {
	p.cuts = nil
}

// Of returns the partition id of the given X coordinate: the number of cuts
// strictly to its left.
func (p *PartitionSet) Of(x int) int {
	id := 0
	for _, c := range p.cuts {
		if x > c {
			id++
		}
	}
	return id
}

// SamePartition reports whether ax and bx currently fall in the same
// partition.
func (p *PartitionSet) SamePartition(ax, bx int) bool {
	return p.Of(ax) == p.Of(bx)
}
