package core

import "testing"

// recordingPayload is a minimal non-task Payload for exercising the step
// loop directly: fn is invoked with from/to and size is configurable so the
// size-0 fatal path (deliverEnvelope) can be tested by other cases.
type recordingPayload struct {
	size int
	fn   func(net *Kernel, from, to *Node)
}

func (r *recordingPayload) Size() int { return r.size }
func (r *recordingPayload) Action(net *Kernel, from, to *Node) {
	if r.fn != nil {
		r.fn(net, from, to)
	}
}

// TestKernelEventOrdering is spec §8 scenario 1: a direct send between two
// of four nodes with latency disabled must be observed exactly once, with
// the correct from/to, and leave nothing in flight afterward.
func TestKernelEventOrdering(t *testing.T) {
	k := NewKernel(1000, 1000, 1)
	for id := 0; id < 4; id++ {
		if err := k.AddNode(NewNode(id, 0, 0)); err != nil {
			t.Fatalf("addNode %d: %v", id, err)
		}
	}

	var fromID, toID, calls int
	act := &recordingPayload{size: 8, fn: func(net *Kernel, from, to *Node) {
		fromID, toID = from.ID, to.ID
		calls++
	}}

	if err := k.Send(act, 1, 1, []int{2}, 0); err != nil {
		t.Fatalf("send: %v", err)
	}
	if err := k.RunMs(5); err != nil {
		t.Fatalf("runMs: %v", err)
	}

	if calls != 1 {
		t.Fatalf("expected exactly 1 delivery, got %d", calls)
	}
	if fromID != 1 || toID != 2 {
		t.Fatalf("expected from=1 to=2, got from=%d to=%d", fromID, toID)
	}
	if k.inFlight != 0 {
		t.Fatalf("expected empty queue after delivery, inFlight=%d", k.inFlight)
	}
}

// TestKernelTaskScheduling is spec §8 scenario 2: a task registered for a
// future time must not fire before it, and must fire exactly at it.
func TestKernelTaskScheduling(t *testing.T) {
	k := NewKernel(1000, 1000, 1)
	n0 := NewNode(0, 0, 0)
	if err := k.AddNode(n0); err != nil {
		t.Fatalf("addNode: %v", err)
	}

	fired := false
	if err := k.RegisterTask(func(net *Kernel, self *Node) { fired = true }, 100, n0); err != nil {
		t.Fatalf("registerTask: %v", err)
	}

	if err := k.RunMs(99); err != nil {
		t.Fatalf("runMs(99): %v", err)
	}
	if fired {
		t.Fatalf("task fired before its scheduled time")
	}

	if err := k.RunMs(1); err != nil {
		t.Fatalf("runMs(1): %v", err)
	}
	if !fired {
		t.Fatalf("task did not fire at its scheduled time")
	}
	if k.inFlight != 0 {
		t.Fatalf("expected empty queue after the task fires, inFlight=%d", k.inFlight)
	}
}

// TestKernelMultiDestinationArrivalSplit is spec §8 scenario 3: one envelope
// with three destinations arriving at different times must deliver in
// arrival order across however many RunMs calls it takes to reach them.
func TestKernelMultiDestinationArrivalSplit(t *testing.T) {
	k := NewKernel(1000, 1000, 1)
	for id := 0; id < 4; id++ {
		if err := k.AddNode(NewNode(id, 0, 0)); err != nil {
			t.Fatalf("addNode %d: %v", id, err)
		}
	}

	arrivals := map[int]int{1: 2, 2: 3, 3: 3}
	if err := k.SetNetworkLatency(func(from, to *Node, rnd int) int {
		return arrivals[to.ID]
	}); err != nil {
		t.Fatalf("setNetworkLatency: %v", err)
	}

	calls := 0
	act := &recordingPayload{size: 8, fn: func(net *Kernel, from, to *Node) { calls++ }}
	if err := k.Send(act, 0, 0, []int{1, 2, 3}, 0); err != nil {
		t.Fatalf("send: %v", err)
	}

	if err := k.RunMs(2); err != nil {
		t.Fatalf("runMs(2): %v", err)
	}
	if calls != 1 {
		t.Fatalf("expected 1 handler call after runMs(2), got %d", calls)
	}

	if err := k.RunMs(1); err != nil {
		t.Fatalf("runMs(1): %v", err)
	}
	if calls != 3 {
		t.Fatalf("expected 3 handler calls total after runMs(1), got %d", calls)
	}
	if k.inFlight != 0 {
		t.Fatalf("expected empty queue, inFlight=%d", k.inFlight)
	}
}

// TestKernelSizeZeroNonTaskPayloadIsFatal covers spec §7's "size-0 non-task
// messages" programmer error: it must abort RunMs with an error instead of
// silently logging and continuing as if delivery had succeeded.
func TestKernelSizeZeroNonTaskPayloadIsFatal(t *testing.T) {
	k := NewKernel(1000, 1000, 1)
	for id := 0; id < 2; id++ {
		if err := k.AddNode(NewNode(id, 0, 0)); err != nil {
			t.Fatalf("addNode %d: %v", id, err)
		}
	}

	ran := false
	act := &recordingPayload{size: 0, fn: func(net *Kernel, from, to *Node) { ran = true }}
	if err := k.Send(act, 0, 0, []int{1}, 0); err != nil {
		t.Fatalf("send: %v", err)
	}

	if err := k.RunMs(5); err == nil {
		t.Fatalf("expected a fatal error for a size-0 non-task payload")
	}
	if ran {
		t.Fatalf("Action must not run once a fatal is detected")
	}
}

// TestStoreTimeBucketWrap is spec §8 scenario 4: same-ms inserts chain LIFO,
// and a slot boundary produces, then reclaims, a second slot.
func TestStoreTimeBucketWrap(t *testing.T) {
	st := NewStore(0)
	noop := func(net *Kernel, self *Node) {}

	env1 := newEnvelope(&taskPayload{fn: noop}, 0, []dest{{id: 0, arrive: 1}})
	env2 := newEnvelope(&taskPayload{fn: noop}, 0, []dest{{id: 0, arrive: 1}})
	if err := st.addMsg(env1); err != nil {
		t.Fatalf("addMsg env1: %v", err)
	}
	if err := st.addMsg(env2); err != nil {
		t.Fatalf("addMsg env2: %v", err)
	}

	if st.peek(1) != env2 {
		t.Fatalf("expected peek(1) to return the most recently inserted envelope")
	}

	first := st.poll(1)
	if first != env2 {
		t.Fatalf("expected poll(1) to return env2 first (LIFO)")
	}
	if second := first.nextSameTime; second != env1 {
		t.Fatalf("expected env1 chained behind env2")
	}
	if len(st.slots) != 1 {
		t.Fatalf("expected a single slot before the wrap, got %d", len(st.slots))
	}

	env3 := newEnvelope(&taskPayload{fn: noop}, 0, []dest{{id: 0, arrive: slotDuration + 1}})
	if err := st.addMsg(env3); err != nil {
		t.Fatalf("addMsg env3: %v", err)
	}
	if len(st.slots) != 2 {
		t.Fatalf("expected a second slot after inserting at duration+1, got %d", len(st.slots))
	}

	st.setNow(slotDuration + 1)
	env4 := newEnvelope(&taskPayload{fn: noop}, 0, []dest{{id: 0, arrive: slotDuration + 1}})
	if err := st.addMsg(env4); err != nil {
		t.Fatalf("addMsg env4: %v", err)
	}
	if len(st.slots) != 1 {
		t.Fatalf("expected cleanup to reclaim to a single slot, got %d", len(st.slots))
	}
}
