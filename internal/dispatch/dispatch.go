// Package dispatch implements the per-worker-thread processing loop of
// spec.md section 4.9, wiring together internal/queue,
// internal/lpctx, internal/gvt, internal/autockpt,
// internal/remotematch, internal/fossil and internal/transport into
// the single extraction/dispatch cycle original_source/src/lp/process.c's
// process_msg runs once per extracted message.
package dispatch

import (
	"context"
	"runtime"
	"time"

	"golang.org/x/sync/errgroup"

	rootsim "github.com/joeycumines/go-rootsim"
	"github.com/joeycumines/go-rootsim/internal/autockpt"
	"github.com/joeycumines/go-rootsim/internal/checkpoint"
	"github.com/joeycumines/go-rootsim/internal/fossil"
	"github.com/joeycumines/go-rootsim/internal/gvt"
	"github.com/joeycumines/go-rootsim/internal/lpctx"
	"github.com/joeycumines/go-rootsim/internal/queue"
	"github.com/joeycumines/go-rootsim/internal/remotematch"
	"github.com/joeycumines/go-rootsim/internal/transport"
)

// LP bundles one logical process's context with its own adaptive
// checkpoint-interval controller, the unit internal/fossil and this
// package both need a handle on.
type LP struct {
	ID       rootsim.LPID
	Ctx      *lpctx.Context
	AutoCkpt *autockpt.Controller
}

// lpQueue adapts a Worker's internal/queue.Queue to the
// internal/lpctx.Queue contract. InsertLocal routes to whichever
// worker on this node hosts msg's destination (possibly this one);
// InsertSelf always targets the owning worker's own producer slot,
// matching the original's self-requeue on rollback
// (array_queue_insert_self in process.c).
type lpQueue struct {
	selfIdx  int
	workers  []*Worker
	workerOf func(rootsim.LPID) int
}

func (q *lpQueue) InsertLocal(msg *rootsim.Message) {
	q.workers[q.workerOf(msg.Dest)].queue.Insert(q.selfIdx, msg)
}

func (q *lpQueue) InsertSelf(msg *rootsim.Message) {
	q.workers[q.selfIdx].queue.Insert(q.selfIdx, msg)
}

// Worker is one node's worker thread: it owns a disjoint partition of
// the node's LPs, a private inbox-fed message queue, and a GVT-round
// participant.
type Worker struct {
	id    int
	queue *queue.Queue
	lps   map[rootsim.LPID]*LP
	gvtT  *gvt.Thread
	node  *Node
}

// LPs reports the LP ids hosted on this worker, for tests and for the
// node's fossil collector wiring.
func (w *Worker) LPs() map[rootsim.LPID]*LP { return w.lps }

// Queue exposes the worker's queue for production code outside this
// package (the node router delivering remote/cross-worker traffic)
// and for tests inserting synthetic messages.
func (w *Worker) Queue() *queue.Queue { return w.queue }

// RemoteProducerIdx is the queue producer slot reserved for traffic
// arriving from another node via internal/transport, one past every
// worker's own index — internal/dispatch's node-level message router
// (wired by the caller assembling a Node) uses this when feeding a
// transport.Handler's DeliverRemote/DeliverRemoteAnti into a worker's
// queue.
func (n *Node) RemoteProducerIdx() int { return len(n.Workers) }

// Recorder receives the event counts the metrics package exposes as
// Prometheus counters; a nil Recorder on a Node disables the hooks
// entirely (every call site below is nil-checked), so constructing a
// Node without one costs nothing.
type Recorder interface {
	// AddRollback records one straggler or anti-message rollback.
	AddRollback()
	// AddCheckpoint records one checkpoint taken.
	AddCheckpoint()
	// AddFossilCollected records n entries reclaimed in a single fossil
	// collection pass: p_msgs entries plus evicted remote-match map
	// entries.
	AddFossilCollected(n int)
}

// Node owns every worker thread of one simulation node, plus the
// node-wide structures internal/dispatch shares across workers: the
// remote-match map, the fossil collector, and the transport shim.
type Node struct {
	ID        int
	Workers   []*Worker
	GVT       *gvt.Engine
	Remote    *remotematch.Map
	Fossil    *fossil.Collector
	Transport transport.Shim
	WorkerOf  func(rootsim.LPID) int
	GVTPeriod time.Duration
	GVTMaster bool
	Recorder  Recorder
}

// NewNode creates a node with numWorkers worker threads, each sized to
// accept production from every worker on the node plus one reserved
// slot for cross-node arrivals (see RemoteProducerIdx). Workers are
// empty until LPs are registered via (*Worker).AddLP.
func NewNode(id int, numWorkers int, eng *gvt.Engine, remote *remotematch.Map, fc *fossil.Collector, tr transport.Shim, workerOf func(rootsim.LPID) int) *Node {
	n := &Node{
		ID:        id,
		GVT:       eng,
		Remote:    remote,
		Fossil:    fc,
		Transport: tr,
		WorkerOf:  workerOf,
	}
	n.Workers = make([]*Worker, numWorkers)
	for i := 0; i < numWorkers; i++ {
		n.Workers[i] = &Worker{
			id:    i,
			queue: queue.New(numWorkers + 1),
			lps:   make(map[rootsim.LPID]*LP),
			node:  n,
			gvtT:  eng.NewThread(i),
		}
	}
	return n
}

// AddLP registers lp as hosted on w, wiring its processing context's
// Queue field to route through w and the rest of the node.
func (w *Worker) AddLP(lp *LP) {
	lp.Ctx.Queue = &lpQueue{selfIdx: w.id, workers: w.node.Workers, workerOf: w.node.WorkerOf}
	w.lps[lp.ID] = lp
}

// Step runs one extraction/dispatch cycle: pull the earliest pending
// message from this worker's queue, fold it into the GVT round, and
// drive it through the LP it targets. It returns false when the queue
// had nothing pending, letting the caller decide how to wait.
//
// The control-flow order mirrors process_msg exactly, including the
// detail that a straggler message does NOT return after
// HandleStraggler: it falls through to the same positive-processing
// tail every other message goes through (common_msg_process, bound
// update, p_msgs append, auto_ckpt bookkeeping).
func (w *Worker) Step() bool {
	msg := w.queue.Extract()
	if msg == nil {
		return false
	}

	if gvtValue, ready := w.gvtT.Tick(msg.DestT); ready {
		w.onGVTReady(gvtValue)
	}

	lp, ok := w.lps[msg.Dest]
	if !ok {
		return true
	}

	old := msg.AddFlags(uint32(rootsim.MsgFlagProcessed))

	if old&uint32(rootsim.MsgFlagAnti) != 0 {
		// Cancelled before it was ever processed: it is not in p_msgs,
		// so there is nothing to roll back and it is simply dropped.
		if old&uint32(rootsim.MsgFlagProcessed) == 0 {
			return true
		}
		start := time.Now()
		if msg.Remote {
			lp.Ctx.HandleRemoteAnti(msg)
		} else {
			lp.Ctx.HandleAnti(msg)
		}
		lp.AutoCkpt.RegisterBad(float64(time.Since(start)))
		if w.node.Recorder != nil {
			w.node.Recorder.AddRollback()
		}
		return true
	}

	if lp.Ctx.IsStraggler(msg) {
		start := time.Now()
		lp.Ctx.HandleStraggler(msg)
		lp.AutoCkpt.RegisterBad(float64(time.Since(start)))
		if w.node.Recorder != nil {
			w.node.Recorder.AddRollback()
		}
		// falls through: the freshly-rolled-back LP still processes
		// msg positively below, exactly as process_msg does.
	}

	lp.Ctx.HandlePositive(msg)
	lp.AutoCkpt.RegisterGood()
	if lp.AutoCkpt.Due() {
		lp.Ctx.TakeCheckpoint(checkpoint.PolicyFull)
		lp.AutoCkpt.RegisterCheckpoint(float64(lp.Ctx.MM.LiveBytes()))
		lp.AutoCkpt.ResetGood()
		if w.node.Recorder != nil {
			w.node.Recorder.AddCheckpoint()
		}
	}
	return true
}

// onGVTReady runs the once-per-round work every worker's Step
// triggers identically when its Tick call observes the round just
// closed: recompute every owned LP's checkpoint interval, then — once,
// whichever worker gets there — collect fossils and check for
// termination across the whole node.
func (w *Worker) onGVTReady(gvtValue float64) {
	for _, lp := range w.lps {
		lp.AutoCkpt.Recompute()
	}
	collected := w.node.Fossil.Run(gvtValue)
	if w.node.Recorder != nil && collected > 0 {
		w.node.Recorder.AddFossilCollected(collected)
	}
	w.node.Fossil.CheckTermination(gvtValue)
}

// Stopped reports whether this worker's node has already decided to
// terminate, letting Run's loop exit cleanly.
func (w *Worker) Stopped() bool { return w.node.Fossil.Ended() }

// Run drives every worker of n concurrently until ctx is cancelled or
// the node's fossil collector declares termination, plus (on the GVT
// master node) a ticker broadcasting MSG_CTRL_GVT_START every
// GVTPeriod, matching spec.md 4.7 step 1's "observes that gvt_period
// wall-time has elapsed".
//
// Workers spin on their own queue rather than blocking on the shared
// transport wake signal when idle — process.c's worker threads scan
// their queues in a tight loop too, leaving blocking-until-woken to a
// single dedicated receiver goroutine below; sharing one wake signal
// across every worker plus the receiver would starve some waiters
// under Linux eventfd's single-reader-per-signal semantics (see
// internal/transport's wake_linux.go).
func (n *Node) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	for _, w := range n.Workers {
		w := w
		g.Go(func() error {
			for ctx.Err() == nil && !w.Stopped() {
				if !w.Step() {
					runtime.Gosched()
				}
			}
			return nil
		})
	}

	if n.GVTMaster && n.GVTPeriod > 0 {
		g.Go(func() error {
			ticker := time.NewTicker(n.GVTPeriod)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return nil
				case <-ticker.C:
					if n.Workers[0].Stopped() {
						return nil
					}
					if err := n.Transport.ControlBroadcast(rootsim.CtrlGVTStart); err != nil {
						return err
					}
				}
			}
		})
	}

	g.Go(func() error {
		for ctx.Err() == nil && !n.Workers[0].Stopped() {
			n.Transport.Wait()
			for n.Transport.ReceiveStep() {
			}
		}
		return nil
	})

	return g.Wait()
}

// RemoteRouter adapts a Node to internal/remotematch.Map's Queue
// contract: a positive message resident in the remote-match map can
// target any LP on the node, so re-queuing it (when its anti-message
// arrives after it was already extracted and marked PROCESSED) must
// route through WorkerOf rather than assume a single worker, unlike
// the simpler per-LP lpQueue adapter above.
type RemoteRouter struct {
	Node *Node
}

func (r *RemoteRouter) InsertLocal(msg *rootsim.Message) {
	w := r.Node.Workers[r.Node.WorkerOf(msg.Dest)]
	w.queue.Insert(r.Node.RemoteProducerIdx(), msg)
}

// NodeHandler implements internal/transport.Handler on behalf of one
// Node: it is the node-wide entry point every other node's
// RemoteSend/RemoteAntiSend/Control* call eventually reaches, routing
// each arrival to the correct worker queue or Node-level state.
type NodeHandler struct {
	Node *Node
}

// DeliverRemote runs msg through the remote-match map (pairing it
// against an already-arrived anti-message, if any — spec.md 4.6)
// before handing a surviving positive message to the worker hosting
// its destination LP, inserted under the reserved remote-origin
// producer slot.
func (h *NodeHandler) DeliverRemote(msg *rootsim.Message) {
	node, seq, phase := msg.RemoteID()
	if h.Node.Remote != nil {
		if already := h.Node.Remote.MatchPositive(remotematch.ID{Node: node, Seq: seq, Phase: phase}, msg); already {
			return
		}
	}
	w := h.Node.Workers[h.Node.WorkerOf(msg.Dest)]
	w.queue.Insert(h.Node.RemoteProducerIdx(), msg)
}

// DeliverRemoteAnti runs an incoming remote anti-message through the
// remote-match map; MatchAnti takes care of re-queuing the positive
// twin (via the map's own Queue, which must be the same worker queue
// the twin was originally delivered to) if it already arrived and was
// extracted.
func (h *NodeHandler) DeliverRemoteAnti(msg *rootsim.Message) {
	node, seq, phase := msg.RemoteID()
	if h.Node.Remote != nil {
		h.Node.Remote.MatchAnti(remotematch.ID{Node: node, Seq: seq, Phase: phase}, msg.DestT)
	}
}

// DeliverControl reacts to a broadcast control tag: MSG_CTRL_GVT_START
// arms this node's local GVT engine for the round every worker's next
// Tick will observe; MSG_CTRL_TERMINATION marks the node ended without
// re-broadcasting (see (*fossil.Collector).Observe).
func (h *NodeHandler) DeliverControl(tag uint32) {
	switch tag {
	case rootsim.CtrlGVTStart:
		h.Node.GVT.StartRound()
	case rootsim.CtrlTermination:
		h.Node.Fossil.Observe()
	}
}
