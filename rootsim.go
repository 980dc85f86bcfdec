package rootsim

import (
	"context"
	"math"
	"os"
	"sort"
	"sync/atomic"

	"github.com/joeycumines/go-rootsim/config"
	"github.com/joeycumines/go-rootsim/internal/autockpt"
	"github.com/joeycumines/go-rootsim/internal/buddy"
	"github.com/joeycumines/go-rootsim/internal/checkpoint"
	"github.com/joeycumines/go-rootsim/internal/dispatch"
	"github.com/joeycumines/go-rootsim/internal/fossil"
	"github.com/joeycumines/go-rootsim/internal/gvt"
	"github.com/joeycumines/go-rootsim/internal/lpctx"
	"github.com/joeycumines/go-rootsim/internal/remotematch"
	"github.com/joeycumines/go-rootsim/internal/transport"
	"github.com/joeycumines/go-rootsim/logging"
	"github.com/joeycumines/go-rootsim/metrics"
)

// Model is the application callback pair every simulation registers,
// matching spec.md section 6's "Model API (consumed by the core)":
// Dispatcher handles every positive processed event (including the
// synthetic LP_INIT/LP_FINI events), Committed is polled once per GVT
// to decide termination.
type Model interface {
	// Dispatcher runs dest's handler for one event. h is the only
	// legal way to schedule new events or read/replace dest's
	// registered state, replacing the original's implicit
	// current-LP thread-local with an explicit handle.
	Dispatcher(dest LPID, now float64, eventType uint32, payload []byte, h *Handle)
	// Committed reports whether dest has reached a state from which it
	// will never need to roll back again.
	Committed(dest LPID, h *Handle) bool
}

// Handle is the state argument passed to every Model call: it carries
// the model's own registered data (set via SetState, read via State)
// and exposes Schedule, the only legal way to emit new events
// (ScheduleNewEvent in spec.md section 6), plus the rollback-safe
// allocator (Malloc/Realloc/Free, rs_malloc/rs_realloc/rs_free).
type Handle struct {
	ctx  *lpctx.Context
	data any
}

// LP reports the id of the logical process this handle belongs to.
func (h *Handle) LP() LPID { return h.ctx.LP }

// SetState registers state as this LP's model-owned data, typically
// called during the LP_INIT event.
func (h *Handle) SetState(state any) { h.data = state }

// State returns the data most recently passed to SetState, or nil
// before the first call.
func (h *Handle) State() any { return h.data }

// Schedule packs and sends a new event to dest at destT, the only
// legal way for a Dispatcher call to produce a new event. Calling it
// during silent re-execution (coasting forward after a rollback) is a
// no-op, matching spec.md 4.4/9's silent-execution flag.
func (h *Handle) Schedule(dest LPID, destT float64, eventType uint32, payload []byte) {
	h.ctx.Send(dest, destT, eventType, payload)
}

// Malloc reserves n rollback-safe bytes in this LP's buddy arenas,
// matching rs_malloc. It returns ErrBlockTooLarge (recoverable, per
// spec.md section 7) if n exceeds a single arena's total capacity.
func (h *Handle) Malloc(n int) (*Block, error) {
	bh, err := h.ctx.MM.Malloc(expFor(n))
	if err != nil {
		return nil, err
	}
	return &Block{mm: h.ctx.MM, h: bh}, nil
}

// Block is a handle to a rollback-safe allocation: its address (arena
// index + offset) is preserved exactly across a checkpoint restore, so
// internal pointers inside model state recorded before a rollback stay
// valid afterward.
type Block struct {
	mm *buddy.MultiArena
	h  buddy.Handle
}

// Bytes returns the block's live backing slice.
func (b *Block) Bytes() []byte { return b.mm.Bytes(b.h) }

// Realloc resizes the block to newN bytes best-effort in place;
// ok reports whether the resize was possible without moving the block.
// A model that receives ok==false must fall back to Malloc+copy+Free,
// exactly as rs_realloc's contract requires.
func (b *Block) Realloc(newN int) (ok bool) {
	nh, handled, _ := b.mm.ReallocBestEffort(b.h, expFor(newN))
	if !handled {
		return false
	}
	b.h = nh
	return true
}

// Free releases the block, matching rs_free.
func (b *Block) Free() { b.mm.Free(b.h) }

// expFor rounds n up to the smallest exponent e with 1<<e >= n; Malloc
// itself clamps anything below an arena's configured block exponent.
func expFor(n int) uint8 {
	if n <= 1 {
		return 0
	}
	e := uint8(0)
	for (1 << e) < n {
		e++
	}
	return e
}

type lpState struct {
	id     LPID
	ctx    *lpctx.Context
	handle *Handle
	ckpt   *autockpt.Controller
	node   int
}

// Engine owns the whole simulation: every node's dispatch.Node, the
// per-LP processing contexts, and the ambient logger/metrics.
type Engine struct {
	cfg   config.Config
	model Model
	log   *logging.Logger
	mtr   *metrics.Collector

	lps   map[LPID]*lpState
	order []LPID

	hub   *transport.Hub
	nodes []*dispatch.Node

	running atomic.Bool
}

// New builds an Engine for model over lps, resolving cfg from
// config.New(cfgOpts...) and any further engine-level options. Every
// LP is hosted on node 0 unless WithNodeAssignment names a different
// mapping.
func New(model Model, lps []LPID, cfgOpts []config.Option, opts ...Option) (*Engine, error) {
	if len(lps) == 0 {
		return nil, ErrNoLPs
	}

	var s engineSettings
	for _, o := range opts {
		o(&s)
	}
	s.configOpts = append(s.configOpts, cfgOpts...)
	cfg := config.New(s.configOpts...)
	if cfg.NumThreads <= 0 || cfg.NumNodes <= 0 {
		return nil, ErrInvalidConfig
	}

	logWriter := s.logWriter
	if logWriter == nil {
		logWriter = os.Stderr
	}

	e := &Engine{
		cfg:   cfg,
		model: model,
		log:   logging.New(logWriter, cfg.LogLevel.LoggingLevel()),
		mtr:   s.metrics,
		lps:   make(map[LPID]*lpState, len(lps)),
		order: append([]LPID(nil), lps...),
	}
	sort.Slice(e.order, func(i, j int) bool { return e.order[i] < e.order[j] })

	nodeOf := s.nodeOf
	if nodeOf == nil {
		nodeOf = func(LPID) int { return 0 }
	}

	// workerOfLP assigns each LP hosted on a node to one of
	// its workers, round-robin in id order — a stable, deterministic
	// partition since LP-to-worker affinity only needs to be fixed for
	// the lifetime of a run, not balanced dynamically.
	nodeLPs := make(map[int][]LPID)
	for _, id := range e.order {
		n := nodeOf(id)
		nodeLPs[n] = append(nodeLPs[n], id)
	}
	workerOfLP := make(map[LPID]int, len(e.order))
	for _, ids := range nodeLPs {
		for i, id := range ids {
			workerOfLP[id] = i % cfg.NumThreads
		}
	}
	workerOf := func(id LPID) int { return workerOfLP[id] }

	e.hub = transport.NewHub()
	e.nodes = make([]*dispatch.Node, cfg.NumNodes)

	for n := 0; n < cfg.NumNodes; n++ {
		ids := nodeLPs[n]
		eng := gvt.NewEngine(cfg.NumThreads)
		if cfg.NumNodes > 1 {
			eng.SetDistributed(e.hub)
		}

		node := dispatch.NewNode(n, cfg.NumThreads, eng, nil, nil, nil, workerOf)
		node.Remote = remotematch.New(&dispatch.RemoteRouter{Node: node})

		handler := &dispatch.NodeHandler{Node: node}
		shim, err := e.hub.NewNode(n, handler)
		if err != nil {
			return nil, err
		}
		node.Transport = shim
		node.GVTPeriod = cfg.GVTPeriod
		node.GVTMaster = n == 0
		node.Recorder = recorderOrNil(e.mtr)

		fossilLPs := make([]fossil.LP, 0, len(ids))
		for _, id := range ids {
			mm := buddy.NewMultiArena(cfg.ArenaBlockExp, cfg.ArenaTotalExp)
			ctx := lpctx.New(id, n, nodeOf, nil, nil, &lpctxTransport{shim: shim}, checkpoint.NewStore(), mm)
			h := &Handle{ctx: ctx}
			ctx.Dispatcher = func(dest LPID, destT float64, mType uint32, payload []byte, state any) {
				e.model.Dispatcher(dest, destT, mType, payload, state.(*Handle))
			}
			ctx.State = h
			ls := &lpState{id: id, ctx: ctx, handle: h, ckpt: autockpt.NewController(), node: n}
			e.lps[id] = ls
			w := node.Workers[workerOf(id)]
			w.AddLP(&dispatch.LP{ID: id, Ctx: ctx, AutoCkpt: ls.ckpt})

			fossilLPs = append(fossilLPs, fossil.LP{
				ID:            id,
				State:         h,
				FossilCollect: ctx.FossilCollect,
			})
		}

		fc := fossil.New(fossilLPs, node.Remote, e.committed, &broadcaster{shim}, cfg.TerminationTime)
		node.Fossil = fc
		e.nodes[n] = node
	}

	for _, ls := range e.lps {
		ls.ctx.Init()
	}

	return e, nil
}

func (e *Engine) committed(lp LPID, state any) bool {
	h, _ := state.(*Handle)
	return e.model.Committed(lp, h)
}

// broadcaster adapts transport.Shim's ControlBroadcast to
// internal/fossil.Transport's narrower Broadcast contract.
type broadcaster struct {
	shim transport.Shim
}

func (b *broadcaster) Broadcast(tag uint32) error { return b.shim.ControlBroadcast(tag) }

// lpctxTransport adapts transport.Shim's RemoteSend/RemoteAntiSend to
// internal/lpctx.Transport's SendRemote/SendRemoteAnti names.
type lpctxTransport struct {
	shim transport.Shim
}

func (t *lpctxTransport) SendRemote(msg *Message, destNode int) error {
	return t.shim.RemoteSend(msg, destNode)
}

func (t *lpctxTransport) SendRemoteAnti(msg *Message, destNode int) error {
	return t.shim.RemoteAntiSend(msg, destNode)
}

func recorderOrNil(m *metrics.Collector) dispatch.Recorder {
	if m == nil {
		return nil
	}
	return m
}

// Run drives every node concurrently until ctx is cancelled or the
// whole simulation terminates (spec.md 4.8's all-LP-committed rule, or
// Config.TerminationTime). It returns the first error any node's
// goroutines report.
func (e *Engine) Run(ctx context.Context) error {
	if !e.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	defer e.running.Store(false)

	errs := make(chan error, len(e.nodes))
	for _, n := range e.nodes {
		n := n
		go func() { errs <- n.Run(ctx) }()
	}
	var first error
	for range e.nodes {
		if err := <-errs; err != nil && first == nil {
			first = err
		}
	}
	return first
}

// GVT returns node 0's most recently published global virtual time.
func (e *Engine) GVT() float64 {
	if len(e.nodes) == 0 {
		return math.Inf(-1)
	}
	return e.nodes[0].GVT.GVT()
}

// State returns the model data most recently registered for lp via
// Handle.SetState, or ErrUnknownLP if lp was never passed to New.
func (e *Engine) State(lp LPID) (any, error) {
	ls, ok := e.lps[lp]
	if !ok {
		return nil, ErrUnknownLP
	}
	return ls.handle.State(), nil
}

// Metrics returns the metrics.Collector installed via WithMetrics, or
// nil if none was configured.
func (e *Engine) Metrics() *metrics.Collector { return e.mtr }

// Logger returns the engine's structured logger.
func (e *Engine) Logger() *logging.Logger { return e.log }
