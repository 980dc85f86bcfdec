// Package transport implements the transport shim of spec.md 4.11.
// Only an in-process, single-process implementation is provided here:
// the wire protocol itself (MPI or otherwise) is explicitly out of
// scope (spec.md section 1). Hub/Local exist to give internal/dispatch
// and internal/gvt a concrete, testable Shim and Distributed
// implementation while leaving the interface free for a real
// distributed implementation to slot in later.
package transport

import (
	"errors"
	"math"
	"sync"

	rootsim "github.com/joeycumines/go-rootsim"
)

// ErrUnknownNode is returned when a send or control message targets a
// node id not registered with the Hub.
var ErrUnknownNode = errors.New("transport: unknown node")

// Shim is spec.md 4.11's transport contract, trimmed to what
// internal/dispatch and internal/lpctx actually drive; the shim "must
// be safe under concurrent calls by all threads of the node" — Local
// below serializes everything behind one mutex per node, matching the
// spec's "acceptable to serialize internally" allowance.
type Shim interface {
	RemoteSend(msg *rootsim.Message, node int) error
	RemoteAntiSend(msg *rootsim.Message, node int) error
	ControlBroadcast(tag uint32) error
	ControlSend(tag uint32, node int) error
	// ReceiveStep probes for and dispatches one pending message or
	// control tag, returning false if nothing was pending.
	ReceiveStep() bool
	// Wait parks the calling goroutine until a ReceiveStep call would
	// plausibly find work, without busy-polling.
	Wait()
}

// Handler receives messages and control tags routed to a node by
// another node's Local (or, within one node, by itself for
// self-addressed control messages).
type Handler interface {
	DeliverRemote(msg *rootsim.Message)
	DeliverRemoteAnti(msg *rootsim.Message)
	DeliverControl(tag uint32)
}

type entryKind int

const (
	entryPositive entryKind = iota
	entryAnti
	entryControl
)

type inboxEntry struct {
	kind entryKind
	msg  *rootsim.Message
	ctrl uint32
}

// Hub is the in-process rendezvous point every node's Local shares,
// standing in for the network every Shim.RemoteSend/ControlBroadcast
// would otherwise cross.
type Hub struct {
	mu    sync.Mutex
	nodes map[int]*Local

	reduceMu sync.Mutex
	reduce   *reduceState
}

// NewHub creates an empty hub. Nodes register via NewNode.
func NewHub() *Hub {
	return &Hub{nodes: make(map[int]*Local)}
}

// NewNode registers a node id on the hub and returns its Shim.
func (h *Hub) NewNode(id int, handler Handler) (*Local, error) {
	w, err := newWakeSignal()
	if err != nil {
		return nil, err
	}
	l := &Local{id: id, hub: h, handler: handler, wake: w}
	h.mu.Lock()
	h.nodes[id] = l
	h.mu.Unlock()
	return l, nil
}

func (h *Hub) get(node int) *Local {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.nodes[node]
}

func (h *Hub) nodeCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.nodes)
}

// Local is one node's Shim, backed by a Hub shared with every other
// node in the same process.
type Local struct {
	id      int
	hub     *Hub
	handler Handler

	mu    sync.Mutex
	inbox []inboxEntry
	wake  *wakeSignal
}

func (l *Local) push(e inboxEntry) {
	l.mu.Lock()
	l.inbox = append(l.inbox, e)
	l.mu.Unlock()
	l.wake.Signal()
}

// RemoteSend hands msg off to node's inbox, matching spec.md 4.11's
// remote_send (non-blocking).
func (l *Local) RemoteSend(msg *rootsim.Message, node int) error {
	dst := l.hub.get(node)
	if dst == nil {
		return ErrUnknownNode
	}
	dst.push(inboxEntry{kind: entryPositive, msg: msg})
	return nil
}

// RemoteAntiSend hands an anti-message off to node's inbox, matching
// spec.md 4.11's remote_anti_send.
func (l *Local) RemoteAntiSend(msg *rootsim.Message, node int) error {
	dst := l.hub.get(node)
	if dst == nil {
		return ErrUnknownNode
	}
	dst.push(inboxEntry{kind: entryAnti, msg: msg})
	return nil
}

// ControlBroadcast delivers tag to every node registered on the hub,
// including this one, matching control_broadcast.
func (l *Local) ControlBroadcast(tag uint32) error {
	l.hub.mu.Lock()
	targets := make([]*Local, 0, len(l.hub.nodes))
	for _, n := range l.hub.nodes {
		targets = append(targets, n)
	}
	l.hub.mu.Unlock()
	for _, n := range targets {
		n.push(inboxEntry{kind: entryControl, ctrl: tag})
	}
	return nil
}

// ControlSend delivers tag to one node, matching control_send.
func (l *Local) ControlSend(tag uint32, node int) error {
	dst := l.hub.get(node)
	if dst == nil {
		return ErrUnknownNode
	}
	dst.push(inboxEntry{kind: entryControl, ctrl: tag})
	return nil
}

// ReceiveStep dispatches at most one pending inbox entry to handler,
// matching receive_step's "probe and dispatch any pending message or
// control tag" contract.
func (l *Local) ReceiveStep() bool {
	l.mu.Lock()
	if len(l.inbox) == 0 {
		l.mu.Unlock()
		return false
	}
	e := l.inbox[0]
	l.inbox = l.inbox[1:]
	l.mu.Unlock()

	switch e.kind {
	case entryPositive:
		l.handler.DeliverRemote(e.msg)
	case entryAnti:
		l.handler.DeliverRemoteAnti(e.msg)
	case entryControl:
		l.handler.DeliverControl(e.ctrl)
	}
	return true
}

// Wait parks until Signal (from a send, broadcast, or control) wakes
// it. Close does not wake a parked Wait.
func (l *Local) Wait() {
	l.wake.Wait()
}

// Close releases the node's wake resource.
func (l *Local) Close() error {
	return l.wake.Close()
}

// reduceState is one generation of an all-node blocking minimum
// reduction: every node contributes its candidate and blocks until
// every other node has too, then all observe the same minimum.
// Grounded on internal/gvt's cA/cB barrier idiom, collapsed to a
// single rendezvous (condition variable) since there is exactly one
// round to wait for here, not a four-phase state machine.
type reduceState struct {
	mu         sync.Mutex
	cond       *sync.Cond
	want       int
	count      int
	gen        int
	min        float64
	lastResult float64
}

func newReduceState(want int) *reduceState {
	s := &reduceState{want: want, min: math.Inf(1)}
	s.cond = sync.NewCond(&s.mu)
	return s
}

// AllReduceMin implements gvt.Distributed for an in-process
// multi-node test harness: every registered node must call it once per
// round; the call returns the cross-node minimum to every caller.
// Standing in for spec.md 4.11's reduce_min (there collapsed from a
// non-blocking-with-done()-probe primitive to a direct blocking call,
// since nothing in this repo drives the async two-phase form — see
// internal/gvt's DESIGN.md entry for the parallel collapse on the
// GVT-phase side).
func (h *Hub) AllReduceMin(candidate float64) float64 {
	h.reduceMu.Lock()
	if h.reduce == nil || h.reduce.want != h.nodeCount() {
		h.reduce = newReduceState(h.nodeCount())
	}
	r := h.reduce
	h.reduceMu.Unlock()

	r.mu.Lock()
	myGen := r.gen
	if candidate < r.min {
		r.min = candidate
	}
	r.count++
	if r.count == r.want {
		result := r.min
		r.lastResult = result
		r.min = math.Inf(1)
		r.count = 0
		r.gen++
		r.cond.Broadcast()
		r.mu.Unlock()
		return result
	}
	for r.gen == myGen {
		r.cond.Wait()
	}
	result := r.lastResult
	r.mu.Unlock()
	return result
}
