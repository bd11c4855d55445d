package core

import (
	"fmt"
	"math/rand"

	"github.com/sirupsen/logrus"

	"synnergy-network/pkg/utils"
)

// ConditionalTask lives outside the message store (spec §4.3 step 2): it is
// re-evaluated every time a delivery's arrival advances past the previously
// seen arrival, not on every millisecond tick.
type ConditionalTask struct {
	fn           TaskFunc
	owner        *Node
	minStartTime int
	duration     int
	startIf      func() bool
	repeatIf     func() bool
}

// Kernel is the event kernel of spec §2/§4.1: it owns the current virtual
// time, the message store, the conditional-task list, the partition list,
// the RNG, and the step loop. Node/Message/Partition types live alongside
// it in this package; Kernel is what ties them together.
type Kernel struct {
	time int

	registry   *Registry
	store      *Store
	partitions *PartitionSet
	conditional []*ConditionalTask

	latency       LatencyModel
	msgDiscardTime int // -1 means disabled

	seed int
	rng  *rand.Rand

	maxX, maxY int

	inFlight int

	log *logrus.Entry
}

// NewKernel constructs a kernel seeded deterministically at construction
// time, per spec §4.1's determinism contract: the same seed must always
// reproduce the same counters and arrival orderings.
func NewKernel(maxX, maxY, seed int) *Kernel {
	return &Kernel{
		registry:       NewRegistry(),
		store:          NewStore(0),
		partitions:     &PartitionSet{},
		latency:        ConstantLatency(0),
		msgDiscardTime: -1,
		seed:           seed,
		rng:            rand.New(rand.NewSource(int64(seed))),
		maxX:           maxX,
		maxY:           maxY,
		log: logrus.WithFields(logrus.Fields{
			"component": "kernel",
		}),
	}
}

// Time returns the kernel's current virtual time in ms.
func (k *Kernel) Time() int { return k.time }

// Registry exposes the node registry to protocols.
func (k *Kernel) Registry() *Registry { return k.registry }

// Rand exposes the kernel's single seeded RNG, e.g. for candidate shuffling
// in San Fermín (spec §4.5 "optionally shuffled").
func (k *Kernel) Rand() *rand.Rand { return k.rng }

// Seed returns the construction seed, which Send passes to GetPseudoRandom
// for every destination.
func (k *Kernel) Seed() int { return k.seed }

func (k *Kernel) fail(format string, args ...interface{}) error {
	return utils.Wrap(fmt.Errorf(format, args...), "kernel")
}

// AddNode registers node at its own id; fails if that id is already
// occupied (spec §4.1, §7 programmer error).
func (k *Kernel) AddNode(n *Node) error {
	if err := k.registry.Add(n); err != nil {
		return k.fail("addNode: %v", err)
	}
	return nil
}

// Send schedules msg for delivery from fromID to every id in toIDs, per
// spec §4.1/§4.2. delayBetween, when > 0, shifts each subsequent
// destination's effective send time by delayBetween+1 ms so that sending to
// many destinations isn't perfectly simultaneous.
func (k *Kernel) Send(p Payload, sendTime, fromID int, toIDs []int, delayBetween int) error {
	from := k.registry.Get(fromID)
	if from == nil {
		return k.fail("send: unknown from id %d", fromID)
	}
	var ds []dest
	for i, toID := range toIDs {
		to := k.registry.Get(toID)
		if to == nil {
			return k.fail("send: unknown destination id %d", toID)
		}
		if from.Down || to.Down {
			continue
		}
		effSend := sendTime
		if delayBetween > 0 {
			effSend = sendTime + i*(delayBetween+1)
		}
		rnd := k.GetPseudoRandom(to.ID, k.seed)
		lat := k.latency(from, to, rnd)
		if lat < 1 {
			lat = 1
		}
		if k.msgDiscardTime >= 0 && lat >= k.msgDiscardTime {
			continue
		}
		ds = append(ds, dest{id: to.ID, arrive: effSend + lat})
		from.MsgSent++
		from.BytesSent += p.Size()
	}
	if len(ds) == 0 {
		return nil
	}
	env := newEnvelope(p, fromID, ds)
	if err := k.store.addMsg(env); err != nil {
		return k.fail("send: %v", err)
	}
	k.inFlight++
	return nil
}

// SendArriveAt schedules msg with an explicit arrival time, bypassing the
// latency model entirely. It fails if arriveAt is not strictly after the
// current time.
func (k *Kernel) SendArriveAt(p Payload, arriveAt, fromID, toID int) error {
	if arriveAt <= k.time {
		return k.fail("sendArriveAt: arrival %d must be after current time %d", arriveAt, k.time)
	}
	from := k.registry.Get(fromID)
	to := k.registry.Get(toID)
	if from == nil || to == nil {
		return k.fail("sendArriveAt: unknown node id")
	}
	env := newEnvelope(p, fromID, []dest{{id: toID, arrive: arriveAt}})
	if err := k.store.addMsg(env); err != nil {
		return k.fail("sendArriveAt: %v", err)
	}
	k.inFlight++
	from.MsgSent++
	from.BytesSent += p.Size()
	return nil
}

// RegisterTask schedules fn to run once at startAt against owner.
func (k *Kernel) RegisterTask(fn TaskFunc, startAt int, owner *Node) error {
	if startAt <= k.time {
		return k.fail("registerTask: start %d must be after current time %d", startAt, k.time)
	}
	env := newEnvelope(&taskPayload{fn: fn}, owner.ID, []dest{{id: owner.ID, arrive: startAt}})
	if err := k.store.addMsg(env); err != nil {
		return k.fail("registerTask: %v", err)
	}
	k.inFlight++
	return nil
}

// RegisterPeriodicTask schedules fn at startAt and reschedules it every
// period ms thereafter, stopping only once cond (if supplied) returns
// false.
func (k *Kernel) RegisterPeriodicTask(fn TaskFunc, startAt, period int, owner *Node, cond func() bool) error {
	var wrapper TaskFunc
	wrapper = func(net *Kernel, self *Node) {
		if cond != nil && !cond() {
			return
		}
		fn(net, self)
		_ = net.RegisterTask(wrapper, net.time+period, self)
	}
	return k.RegisterTask(wrapper, startAt, owner)
}

// RegisterConditionalTask adds a task to the out-of-band conditional list
// (spec §4.3 step 2): it is checked, not scheduled, and runs at most once
// per duration window while repeatIf holds.
func (k *Kernel) RegisterConditionalTask(fn TaskFunc, startAt, duration int, owner *Node, startIf, repeatIf func() bool) {
	k.conditional = append(k.conditional, &ConditionalTask{
		fn:           fn,
		owner:        owner,
		minStartTime: startAt,
		duration:     duration,
		startIf:      startIf,
		repeatIf:     repeatIf,
	})
}

// Partition adds an X-axis cut at fraction*maxX.
func (k *Kernel) Partition(fraction float64) error {
	x := int(fraction * float64(k.maxX))
	if err := k.partitions.Add(x, k.maxX); err != nil {
		return k.fail("partition: %v", err)
	}
	return nil
}

// EndPartition clears every cut.
func (k *Kernel) EndPartition() {
	k.partitions.Clear()
}

// SetNetworkLatency swaps the latency function. It fails if any message is
// still in flight, per spec §4.1.
func (k *Kernel) SetNetworkLatency(model LatencyModel) error {
	if k.inFlight > 0 {
		return k.fail("setNetworkLatency: %d messages still in flight", k.inFlight)
	}
	k.latency = model
	return nil
}

// SetMsgDiscardTime sets the latency cutoff beyond which a delivery is
// dropped at send time. Pass a negative value to disable.
func (k *Kernel) SetMsgDiscardTime(limit int) {
	k.msgDiscardTime = limit
}

// GetPseudoRandom deterministically mixes nodeId and seed into [0,99].
func (k *Kernel) GetPseudoRandom(nodeID, seed int) int {
	return PseudoRandom(nodeID, seed)
}

// Run advances virtual time by seconds. It returns the first fatal error
// encountered (spec §7, §8 "the kernel never recovers from a fatal; it
// aborts the scenario"), if any.
func (k *Kernel) Run(seconds float64) error {
	return k.RunMs(int(seconds * 1000))
}

// RunMs advances time to time+ms, executing every event scheduled at a time
// <= the resulting endAt, then sets time = endAt unconditionally (spec
// §4.3) — unless a fatal aborts the run first, in which case time is left
// wherever the fatal occurred so the seed can be investigated.
func (k *Kernel) RunMs(ms int) error {
	endAt := k.time + ms
	return k.receiveUntil(endAt)
}

// receiveUntil implements the step loop of spec §4.3. It stops and returns
// immediately on the first fatal (programmer-error) condition, per spec §7.
func (k *Kernel) receiveUntil(endAt int) error {
	lastArrival := -1
	for k.time <= endAt {
		if k.store.isEmptyAt(k.time) {
			k.time++
			k.store.setNow(k.time)
			continue
		}
		chain := k.store.poll(k.time)
		for env := chain; env != nil; {
			next := env.nextSameTime
			env.nextSameTime = nil
			if err := k.deliverEnvelope(env, &lastArrival); err != nil {
				return err
			}
			env = next
		}
	}
	k.time = endAt
	k.store.setNow(k.time)
	return nil
}

func (k *Kernel) runConditionalTasks() {
	kept := k.conditional[:0]
	for _, ct := range k.conditional {
		if ct.repeatIf != nil && !ct.repeatIf() {
			continue
		}
		if k.time >= ct.minStartTime && (ct.startIf == nil || ct.startIf()) {
			ct.fn(k, ct.owner)
			ct.minStartTime = k.time + ct.duration
		}
		kept = append(kept, ct)
	}
	k.conditional = kept
}

// deliverEnvelope delivers env's next destination and advances it, or
// re-enqueues it if more destinations remain. A size-0 non-task payload is a
// programmer error (spec §7): fatal, and must abort before Action runs so
// the run can be reproduced and investigated from the same seed rather than
// continuing as if delivery had succeeded.
func (k *Kernel) deliverEnvelope(env *Envelope, lastArrival *int) error {
	env.hops++
	arrival := env.nextArrivalTime()
	if arrival > *lastArrival {
		k.runConditionalTasks()
		*lastArrival = arrival
	}

	from := k.registry.Get(env.fromID)
	to := k.registry.Get(env.nextDestID())
	if from != nil && to != nil && k.partitions.SamePartition(from.X, to.X) {
		if _, isTask := env.payload.(*taskPayload); !isTask {
			sz := env.payload.Size()
			if sz == 0 {
				return k.fail("deliverEnvelope: t=%d: non-task payload from=%d to=%d has size 0", k.time, from.ID, to.ID)
			}
			to.MsgReceived++
			to.BytesReceived += sz
		}
		env.payload.Action(k, from, to)
	}

	if env.advance() {
		if err := k.store.addMsg(env); err != nil {
			k.log.Errorf("t=%d: %v", k.time, err)
		}
	} else {
		k.inFlight--
	}
	return nil
}
