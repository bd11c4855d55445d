package core

// Protocol is the minimal façade every aggregation/mining protocol in this
// package implements, per spec §2/§6. Surrounding tooling — the scenario
// runner, the CLI, a future graph/RPC server — depends only on this
// contract, never on a concrete protocol type. It is the interface-
// abstraction idiom the teacher used for NodeAdapter (core/node.go, wrapping
// a concrete *Node behind Nodes.NodeInterface): here a concrete protocol
// struct is never type-asserted by its callers, only these three methods
// are.
type Protocol interface {
	// Init populates the kernel's node registry and schedules the initial
	// wave of events (first-level sends, periodic tasks, ...).
	Init() error

	// Copy returns an independent instance with identical parameters: a
	// fresh kernel, a fresh registry, the same parameter record. Spec §8's
	// round-trip property requires Copy()+Init() on both to produce
	// identical trajectories for the same seed.
	Copy() Protocol

	// Network returns the kernel driving this protocol's nodes.
	Network() *Kernel
}

// StatsGetter is the scenario runner's second collaborator (spec §6):
// Fields names every series this protocol can report, Get samples them
// against the current node set.
type StatsGetter interface {
	Fields() []string
	Get(nodes []*Node) map[string]float64
}
