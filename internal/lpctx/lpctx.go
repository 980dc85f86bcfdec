// Package lpctx implements the LP processing context of spec.md section
// 4.4: the per-LP processed-message history (p_msgs), rollback,
// anti-message generation, and the straggler/anti-message
// rollback-boundary scans. Grounded in full on
// original_source/src/lp/process.c, with one deliberate departure: the
// early-remote-anti case process.c guards against at the LP level
// (early_antis, check_early_anti_messages) is instead fully resolved
// up front by internal/remotematch's node-level map (spec.md 4.6),
// which never hands a remote anti-message to a worker queue before its
// positive twin is resident in p_msgs. See DESIGN.md.
package lpctx

import (
	"math"

	rootsim "github.com/joeycumines/go-rootsim"
	"github.com/joeycumines/go-rootsim/internal/buddy"
	"github.com/joeycumines/go-rootsim/internal/checkpoint"
)

// Dispatcher is a model's event handler, mirroring global_config.dispatcher.
type Dispatcher func(dest rootsim.LPID, destT float64, mType uint32, payload []byte, state any)

// Queue is the subset of the thread message queue (internal/queue) that
// lpctx needs: inserting a message produced for another LP, and
// re-enqueueing a message the *local* thread must re-process itself.
type Queue interface {
	InsertLocal(msg *rootsim.Message)
	InsertSelf(msg *rootsim.Message)
}

// Transport is the subset of internal/transport that lpctx needs to hand
// off cross-node sends; it is also responsible for stamping a sent
// message's OriginNode/Seq/PhaseBit before wire transmission, since
// sequence assignment is a transport-layer concern.
type Transport interface {
	SendRemote(msg *rootsim.Message, destNode int) error
	SendRemoteAnti(msg *rootsim.Message, destNode int) error
}

// CheckpointStore is the subset of internal/checkpoint that lpctx drives.
type CheckpointStore interface {
	Take(refIdx int, mm *buddy.MultiArena, policy checkpoint.Policy)
	Restore(target int, mm *buddy.MultiArena) (lastReplayedRefIdx int, err error)
	ForceFull()
}

// NodeOf maps a LP id to the node hosting it (lid_to_nid).
type NodeOf func(rootsim.LPID) int

// Context is one LP's processing state.
type Context struct {
	LP         rootsim.LPID
	LocalNode  int
	NodeOf     NodeOf
	Dispatcher Dispatcher
	Queue      Queue
	Transport  Transport
	Ckpt       CheckpointStore
	MM         *buddy.MultiArena
	State      any

	// OnRollback is invoked after every rollback with the simulation
	// time rolled back to, letting the fossil collector's termination
	// detection react (termination_on_lp_rollback). Optional.
	OnRollback func(destT float64)

	pMsgs  []rootsim.PMsgEntry
	bound  float64
	silent bool

	// base is the absolute ref_idx corresponding to pMsgs[0]: every
	// slice index i used internally (matchStraggler, matchAnti,
	// rollback, ...) is local to the currently retained window, while
	// every ref_idx handed to Ckpt is base+i. FossilCollect advances
	// base as it truncates pMsgs from the front, so checkpoint ref_idx
	// values stay meaningful forever even though the live slice keeps
	// getting shorter.
	base int
}

// New creates a processing context for lp. Init must be called before
// any message is handled.
func New(lp rootsim.LPID, localNode int, nodeOf NodeOf, dispatcher Dispatcher, q Queue, tr Transport, ckpt CheckpointStore, mm *buddy.MultiArena) *Context {
	return &Context{
		LP:         lp,
		LocalNode:  localNode,
		NodeOf:     nodeOf,
		Dispatcher: dispatcher,
		Queue:      q,
		Transport:  tr,
		Ckpt:       ckpt,
		MM:         mm,
	}
}

// Bound reports the timestamp of the most recently (validly) processed
// message, or -1 if p_msgs is currently empty.
func (c *Context) Bound() float64 { return c.bound }

// Len reports the length of p_msgs, for fossil collection and tests.
func (c *Context) Len() int { return len(c.pMsgs) }

// IsStraggler reports whether msg arrives out of order with respect to
// this LP's processing history: bound has already passed msg's
// destination time, and msg sorts before the most recently appended
// p_msgs entry. This is process_msg's
// "lp->bound >= msg->dest_t && msg_is_before(msg, array_peek(p_msgs))"
// gate for invoking HandleStraggler, exposed so internal/dispatch can
// make the same decision the original makes inline.
func (c *Context) IsStraggler(msg *rootsim.Message) bool {
	if c.bound < msg.DestT || len(c.pMsgs) == 0 {
		return false
	}
	return rootsim.IsBefore(msg, c.pMsgs[len(c.pMsgs)-1].Msg)
}

// RefIdx reports the absolute ref_idx corresponding to the end of the
// currently retained p_msgs window — the value the auto-ckpt
// controller should pass to TakeCheckpoint.
func (c *Context) RefIdx() int { return c.base + len(c.pMsgs) }

// TakeCheckpoint takes a checkpoint at the current ref_idx, for the
// dispatch loop's auto_ckpt_is_needed-triggered checkpoint_take call.
func (c *Context) TakeCheckpoint(policy checkpoint.Policy) {
	c.Ckpt.Take(c.RefIdx(), c.MM, policy)
}

// Init synthesizes and processes the LP_INIT event, then forces and
// takes the LP's first checkpoint, matching process_lp_init.
func (c *Context) Init() {
	msg := rootsim.Pack(c.LP, 0, rootsim.EventLPInit, nil)
	msg.Flags.Store(uint32(rootsim.MsgFlagProcessed))
	c.Dispatcher(msg.Dest, msg.DestT, msg.MType, msg.Payload, c.State)
	c.bound = 0
	c.pMsgs = append(c.pMsgs, rootsim.PMsgEntry{Msg: msg, Sent: rootsim.SentNone})
	c.Ckpt.ForceFull()
	c.TakeCheckpoint(checkpoint.PolicyFull)
}

// FossilCollect advances past every p_msgs entry whose DestT is behind
// gvtValue, truncating p_msgs from the front, and tells the checkpoint
// store to drop any checkpoint no longer reachable from the retained
// history. It returns how many entries were collected, matching
// spec.md 4.8's fossil collector.
func (c *Context) FossilCollect(gvtValue float64) (collected int) {
	i := 0
	for i < len(c.pMsgs) && c.pMsgs[i].Msg.DestT < gvtValue {
		i++
	}
	if i == 0 {
		return 0
	}
	// A fresh backing array stands in for the original's single
	// contiguous memmove: both make pMsgs[0] the oldest still-live
	// entry without disturbing anything at or after it.
	c.pMsgs = append(c.pMsgs[:0:0], c.pMsgs[i:]...)
	c.base += i
	c.Ckpt.Fossil(c.base)
	if len(c.pMsgs) == 0 {
		c.bound = -1
	}
	return i
}

// Fini runs the LP_FINI event and clears p_msgs, matching
// process_lp_fini. In Go there is no explicit message-free step; the
// entries simply become unreachable once pMsgs is cleared, so Fini only
// needs to drop the slice.
func (c *Context) Fini() {
	c.silent = true
	c.Dispatcher(c.LP, 0, rootsim.EventLPFini, nil, c.State)
	c.silent = false
	c.pMsgs = nil
}

// Send implements spec.md 4.4's send operation: pack the event, then
// either hand it to the transport (remote) or the destination thread's
// inbox (local), recording a SENT_* entry in p_msgs either way. During
// silent (coasting-forward) execution, Send is a no-op.
func (c *Context) Send(dest rootsim.LPID, destT float64, mType uint32, payload []byte) {
	if c.silent {
		return
	}
	msg := rootsim.Pack(dest, destT, mType, payload)
	msg.Sender = c.LP

	destNode := c.NodeOf(dest)
	if destNode != c.LocalNode {
		msg.Remote = true
		if err := c.Transport.SendRemote(msg, destNode); err != nil {
			panic(err)
		}
		c.pMsgs = append(c.pMsgs, rootsim.PMsgEntry{Msg: msg, Sent: rootsim.SentRemote})
		return
	}

	msg.Flags.Store(0)
	c.Queue.InsertLocal(msg)
	c.pMsgs = append(c.pMsgs, rootsim.PMsgEntry{Msg: msg, Sent: rootsim.SentLocal})
}

// HandlePositive runs the model's handler for msg and records it as a
// validly processed entry, matching common_msg_process plus the
// bound/p_msgs bookkeeping at the tail of process_msg.
func (c *Context) HandlePositive(msg *rootsim.Message) {
	c.Dispatcher(msg.Dest, msg.DestT, msg.MType, msg.Payload, c.State)
	c.bound = msg.DestT
	c.pMsgs = append(c.pMsgs, rootsim.PMsgEntry{Msg: msg, Sent: rootsim.SentNone})
}

// HandleStraggler rolls back to just before msg's causal position,
// matching handle_straggler_msg. The caller (internal/dispatch) is
// responsible for then running HandlePositive(msg) on the freshly
// rolled-back state, exactly as process_msg falls through to
// common_msg_process after handle_straggler_msg returns.
func (c *Context) HandleStraggler(msg *rootsim.Message) {
	pastI := c.matchStraggler(msg)
	c.rollback(pastI)
	c.notifyRollback(msg.DestT)
}

// HandleAnti handles a local anti-message: msg is a message in this LP's
// own p_msgs already flagged ANTI, found by exact pointer identity, and
// past_i is computed by scanning backward to the previous unsent entry.
func (c *Context) HandleAnti(msg *rootsim.Message) {
	pastI := c.matchAnti(msg)
	c.rollback(pastI)
	c.notifyRollback(msg.DestT)
}

// HandleRemoteAnti handles the arrival of a remote anti-message. aMsg
// carries the (origin node, sequence, phase) identifying its positive
// twin, which by construction is always already resident in p_msgs:
// internal/remotematch's node-level map only ever re-delivers an
// anti-message's positive twin (flagged ANTI in place) after that twin
// has itself been processed and recorded here, so the scan below is
// never expected to reach i==0 without a match.
func (c *Context) HandleRemoteAnti(aMsg *rootsim.Message) {
	node, seq, phase := aMsg.RemoteID()
	i := len(c.pMsgs)
	for {
		i--
		e := c.pMsgs[i]
		if e.Sent == rootsim.SentNone {
			n, s, p := e.Msg.RemoteID()
			if n == node && s == seq && p == phase {
				break
			}
		}
	}

	twin := c.pMsgs[i].Msg
	pastI := i
	for pastI > 0 {
		pastI--
		if c.pMsgs[pastI].Sent == rootsim.SentNone {
			pastI++
			break
		}
	}

	if twin.Flags.Load()&uint32(rootsim.MsgFlagAnti) == 0 {
		twin.AddFlags(uint32(rootsim.MsgFlagAnti))
	}
	c.rollback(pastI)
	c.notifyRollback(twin.DestT)
}

func (c *Context) notifyRollback(destT float64) {
	if c.OnRollback != nil {
		c.OnRollback(destT)
	}
}

// matchStraggler implements match_straggler_msg: scan p_msgs from the
// tail, skipping SENT_* entries, until finding an entry that is not ≺
// sMsg; rollback resumes just after it.
func (c *Context) matchStraggler(sMsg *rootsim.Message) int {
	i := len(c.pMsgs) - 1
	for {
		if i == 0 {
			return 0
		}
		i--
		e := c.pMsgs[i]
		if e.Sent == rootsim.SentNone && !rootsim.IsBefore(sMsg, e.Msg) {
			break
		}
	}
	return i + 1
}

// matchAnti implements match_anti_msg: find aMsg by exact pointer
// identity, then scan backward to the previous processed (non-sent)
// entry, which becomes the rollback boundary.
func (c *Context) matchAnti(aMsg *rootsim.Message) int {
	i := len(c.pMsgs) - 1
	for c.pMsgs[i].Msg != aMsg {
		i--
	}
	for i > 0 {
		i--
		if c.pMsgs[i].Sent == rootsim.SentNone {
			return i + 1
		}
	}
	return i
}

// rollback implements do_rollback: generate anti-messages for
// everything after pastI, restore the checkpoint at or before pastI,
// then silently re-execute up to pastI. pastI is a local index (into
// the currently retained p_msgs window); the checkpoint store only
// ever sees absolute ref_idx values, so every crossing of that
// boundary goes through c.base.
func (c *Context) rollback(pastI int) {
	c.sendAntiMessages(pastI)
	lastAbs, err := c.Ckpt.Restore(c.base+pastI, c.MM)
	if err != nil {
		panic(err)
	}
	c.silentExecution(lastAbs-c.base, pastI)
}

// sendAntiMessages implements send_anti_messages: walk p_msgs[pastI:],
// generating an anti-message for every SENT_* entry and clearing the
// PROCESSED bit (with conditional self-requeue) for every processed
// entry, then truncate p_msgs to pastI.
func (c *Context) sendAntiMessages(pastI int) {
	n := len(c.pMsgs)
	i := pastI
	for i < n {
		e := c.pMsgs[i]
		for e.Sent != rootsim.SentNone {
			switch e.Sent {
			case rootsim.SentRemote:
				destNode := c.NodeOf(e.Msg.Dest)
				if err := c.Transport.SendRemoteAnti(e.Msg, destNode); err != nil {
					panic(err)
				}
			case rootsim.SentLocal:
				old := e.Msg.AddFlags(uint32(rootsim.MsgFlagAnti))
				if old&uint32(rootsim.MsgFlagProcessed) != 0 {
					c.Queue.InsertLocal(e.Msg)
				}
			}
			i++
			e = c.pMsgs[i]
		}

		old := e.Msg.AddFlags(negProcessed)
		if old&uint32(rootsim.MsgFlagAnti) == 0 {
			c.Queue.InsertSelf(e.Msg)
		}
		i++
	}
	c.pMsgs = c.pMsgs[:pastI]
	if len(c.pMsgs) == 0 {
		c.bound = -1
	}
}

// negProcessed is the two's-complement encoding of -MsgFlagProcessed,
// used to atomically clear the PROCESSED bit via fetch-add.
const negProcessed = ^uint32(rootsim.MsgFlagProcessed) + 1

// silentExecution implements silent_execution: coast forward from lastI
// to pastI, re-running the dispatcher (without any Send side effects)
// on every non-sent entry in between.
func (c *Context) silentExecution(lastI, pastI int) {
	if lastI >= pastI {
		return
	}
	c.silent = true
	for lastI < pastI {
		e := c.pMsgs[lastI]
		for e.Sent != rootsim.SentNone {
			lastI++
			e = c.pMsgs[lastI]
		}
		c.Dispatcher(e.Msg.Dest, e.Msg.DestT, e.Msg.MType, e.Msg.Payload, c.State)
		lastI++
	}
	c.silent = false
}

// IsEmpty reports whether p_msgs currently holds no entries.
func (c *Context) IsEmpty() bool { return len(c.pMsgs) == 0 }

// NegInf is negative infinity. Context does not use it: an empty p_msgs
// is marked by a bound of -1, matching the original's -1.0 (simulation
// time is non-negative by construction).
var NegInf = math.Inf(-1)
