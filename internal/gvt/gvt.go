// Package gvt implements the multi-phase GVT reduction engine of
// spec.md section 4.7, grounded on original_source/src/gvt/gvt.c's
// thread_phase_t state machine (the non-MPI tphase_rdy/A/B/wait path).
package gvt

import (
	"math"
	"sync/atomic"
)

// Phase is one worker thread's position in a GVT round.
type Phase uint32

const (
	PhaseRdy Phase = iota
	PhaseA
	PhaseB
	PhaseWait
)

// Distributed is the cross-node reduction a GVT round performs once
// every thread on this node has computed its node-local minimum,
// standing in for gvt.c's MPI sum-scatter (remote message accounting)
// and MPI_Allreduce(MIN) calls. A real implementation lives behind
// internal/transport; tests use a stub that returns the smaller of its
// input and a fixed floor standing in for the other nodes, since the
// wire protocol itself is out of scope (spec.md section 1).
type Distributed interface {
	// AllReduceMin exchanges this node's candidate GVT with every other
	// node and returns the global minimum.
	AllReduceMin(candidate float64) float64
}

// Engine coordinates one node's worker threads through a GVT round.
// cA counts threads that have entered (tphase_A) but not yet left
// (tphase_wait) the round; cB counts threads that have completed their
// local-min contribution (tphase_B) but not yet been released back to
// tphase_rdy. Both barriers mirror gvt.c's c_a/c_b atomic counters
// exactly.
type Engine struct {
	numThreads  int
	cA, cB      atomic.Uint32
	reducingP   []float64
	roundActive atomic.Bool
	gvtBits     atomic.Uint64
	distributed Distributed
}

// NewEngine creates a GVT engine for a node running numThreads worker
// threads.
func NewEngine(numThreads int) *Engine {
	e := &Engine{numThreads: numThreads, reducingP: make([]float64, numThreads)}
	e.gvtBits.Store(math.Float64bits(0))
	return e
}

// SetDistributed installs the cross-node reduction used once every
// local thread has contributed its minimum. When unset, the engine
// behaves as a single node (the node-local reduction alone is the
// GVT).
func (e *Engine) SetDistributed(d Distributed) { e.distributed = d }

// StartRound arms a new reduction round. Spec.md 4.7 step 1: "a GVT
// round starts when the master thread of node 0 observes that
// gvt_period wall-time has elapsed" — that wall-clock decision belongs
// to whatever drives the engine (internal/dispatch or a dedicated
// ticker); StartRound is the resulting broadcast of MSG_CTRL_GVT_START.
// Calling it while a round is already active is a no-op.
func (e *Engine) StartRound() {
	e.roundActive.CompareAndSwap(false, true)
}

// GVT returns the most recently published global virtual time.
func (e *Engine) GVT() float64 {
	return math.Float64frombits(e.gvtBits.Load())
}

func (e *Engine) nodeReduce() float64 {
	m := e.reducingP[0]
	for _, v := range e.reducingP[1:] {
		if v < m {
			m = v
		}
	}
	return m
}

// Thread is one worker thread's private view of the GVT round: its
// phase and its accumulating local-min candidate. Unlike Engine's
// fields, Thread's fields are touched only by the owning goroutine, so
// they need no synchronization — mirroring gvt.c's __thread
// thread_phase/current_gvt.
type Thread struct {
	id         int
	phase      Phase
	currentMin float64
	eng        *Engine
}

// NewThread creates the per-thread phase tracker for worker id (in
// [0, numThreads)).
func (e *Engine) NewThread(id int) *Thread {
	return &Thread{id: id, phase: PhaseRdy, eng: e}
}

// Phase reports the thread's current position in the round, for tests
// and metrics.
func (t *Thread) Phase() Phase { return t.phase }

// Tick advances the thread's phase and folds thisT (this thread's
// current candidate for the round's local minimum — ordinarily the
// timestamp of the message just extracted, per gvt_on_msg_extraction)
// into the round's reduction. It must be called once per message
// extraction by the dispatch loop, matching spec.md 4.9's
// "gvt.on_msg_extraction(msg.dest_t)"; calling it while no round is
// active is a cheap no-op.
//
// Tick returns (gvt, true) exactly once per round: on the call where
// this thread observes every other thread has also completed its
// local-min contribution (tphase_B's barrier opening), at which point
// the node-wide (and, if Distributed is set, cross-node) minimum has
// just been computed and published via GVT(). A single call carries the
// thread through every phase whose barrier is already open, so a
// one-thread engine completes a round on the first Tick after
// StartRound.
func (t *Thread) Tick(thisT float64) (gvtValue float64, ready bool) {
	if t.phase == PhaseRdy {
		if !t.eng.roundActive.Load() {
			return 0, false
		}
		t.currentMin = math.Inf(1)
		t.phase = PhaseA
		t.eng.cA.Add(1)
	}

	if t.phase == PhaseA {
		if thisT < t.currentMin {
			t.currentMin = thisT
		}
		if int(t.eng.cA.Load()) != t.eng.numThreads {
			return 0, false
		}
		t.eng.reducingP[t.id] = t.currentMin
		t.phase = PhaseB
		t.eng.cB.Add(1)
	}

	if t.phase == PhaseB {
		if int(t.eng.cB.Load()) != t.eng.numThreads {
			return 0, false
		}
		t.phase = PhaseWait
		t.eng.cA.Add(^uint32(0)) // fetch_sub 1
		gvtValue = t.eng.nodeReduce()
		if t.eng.distributed != nil {
			gvtValue = t.eng.distributed.AllReduceMin(gvtValue)
		}
		t.eng.gvtBits.Store(math.Float64bits(gvtValue))
		ready = true
	}

	if t.phase == PhaseWait {
		if t.eng.cA.Load() == 0 {
			t.eng.cB.Add(^uint32(0)) // fetch_sub 1
			t.phase = PhaseRdy
			t.eng.roundActive.Store(false)
		}
	}

	return gvtValue, ready
}
