package core

import "sort"

// Payload is anything a message carries. Action is invoked at arrival with
// the owning Kernel and the resolved from/to nodes. Size is used only for
// byte accounting (spec §3, §4.2) and must be non-zero for anything that
// isn't a pure Task.
type Payload interface {
	Size() int
	Action(net *Kernel, from, to *Node)
}

// TaskFunc is a closure scheduled to run at a future virtual time against a
// single destination node (itself, in the common case of a periodic or
// conditional task). Spec §3/§9: "a payload with zero size whose action runs
// a captured behavior".
type TaskFunc func(net *Kernel, self *Node)

// taskPayload implements Payload with Size()==0 so it is never counted as a
// received message (spec §4.3 step 3).
type taskPayload struct {
	fn TaskFunc
}

func (t *taskPayload) Size() int { return 0 }

func (t *taskPayload) Action(net *Kernel, from, to *Node) {
	t.fn(net, to)
}

// dest is one (destination id, arrival time) pair inside an envelope.
type dest struct {
	id     int
	arrive int
}

// Envelope is the store's unit of work: a payload plus one or more
// (dest, arrival) pairs sorted by arrival, a cursor into that list, and the
// singly-linked pointer used for LIFO chaining within one millisecond
// (spec §3, §4.2).
type Envelope struct {
	payload Payload
	fromID  int
	dests   []dest
	cursor  int

	// hops counts how many times this envelope has been observed by the
	// step loop; debug-only, never read by protocol logic.
	hops int

	nextSameTime *Envelope
}

// newEnvelope builds an envelope for the given destinations, sorting them
// by arrival time as spec §4.2 requires.
func newEnvelope(p Payload, fromID int, ds []dest) *Envelope {
	sort.Slice(ds, func(i, j int) bool { return ds[i].arrive < ds[j].arrive })
	return &Envelope{payload: p, fromID: fromID, dests: ds}
}

// nextArrivalTime is the arrival time of the destination this envelope is
// currently waiting to deliver to. Callers must check exhausted() first.
func (e *Envelope) nextArrivalTime() int {
	return e.dests[e.cursor].arrive
}

// nextDestID is the id of the destination this envelope is currently
// waiting to deliver to.
func (e *Envelope) nextDestID() int {
	return e.dests[e.cursor].id
}

// advance marks the current destination as read and reports whether any
// destination remains (spec §4.2 Envelope invariant: once the cursor passes
// the end, the envelope is discarded).
func (e *Envelope) advance() bool {
	e.cursor++
	return e.cursor < len(e.dests)
}

func (e *Envelope) exhausted() bool {
	return e.cursor >= len(e.dests)
}
