// Package remotematch implements the remote-match map of spec.md
// section 4.6: a rendezvous structure that pairs up remote positive and
// anti-messages arriving at a node in either order, before a positive
// message is ever handed to its destination LP's queue.
//
// Grounded on original_source/src/datatypes/remote_msg_map.c
// (msg_map_node_t's per-slot identity/until fields,
// remote_msg_map_fossil_collect's barrier-coordinated resize-and-replay)
// and on the teacher's eventloop/registry.go (a concurrent map guarded
// per-bucket, with a fossil-style Scavenge pass). The original's custom
// open-addressing array with a lock-bit packed into the high bits of
// msg_id is replaced here with a conventional sharded Go map: Go's
// builtin map already grows itself, so there is no backing-array
// reallocation to coordinate under a barrier — only FossilCollect's
// stale-entry eviction (the part of remote_msg_map_fossil_collect that
// has no free equivalent from the runtime) needs an explicit method.
package remotematch

import (
	"sync"

	rootsim "github.com/joeycumines/go-rootsim"
)

// ID identifies a remote positive/anti-message pair, matching a
// message's RemoteID().
type ID struct {
	Node  int
	Seq   uint64
	Phase bool
}

// Queue is the subset of the thread message queue that the map needs
// to re-enqueue a positive message cancelled after it was already
// marked PROCESSED.
type Queue interface {
	InsertLocal(msg *rootsim.Message)
}

type entry struct {
	msg         *rootsim.Message
	pendingAnti bool
	until       float64
}

const shardCount = 32

type shard struct {
	mu sync.Mutex
	m  map[ID]entry
}

// Map is one node's remote-match map, sharded for concurrent access
// from every worker thread without a single global lock.
type Map struct {
	shards [shardCount]*shard
	queue  Queue
}

// New creates an empty map. queue is used to re-enqueue a positive
// message whose anti-message arrives after it has already been
// delivered and marked PROCESSED.
func New(queue Queue) *Map {
	m := &Map{queue: queue}
	for i := range m.shards {
		m.shards[i] = &shard{m: map[ID]entry{}}
	}
	return m
}

func fnv1a(id ID) uint64 {
	const offset = 14695981039346656037
	const prime = 1099511628211
	h := uint64(offset)
	mix := func(v uint64) {
		for i := 0; i < 8; i++ {
			h ^= v & 0xff
			h *= prime
			v >>= 8
		}
	}
	mix(uint64(id.Node))
	mix(id.Seq)
	if id.Phase {
		h ^= 1
		h *= prime
	}
	return h
}

func (m *Map) shardFor(id ID) *shard {
	return m.shards[fnv1a(id)%shardCount]
}

// MatchPositive registers a just-arrived remote positive message for
// id. If its anti-message already arrived first (a pending-anti
// marker is resident), the positive is immediately flagged ANTI and
// alreadyAnti is true — the caller must not enqueue it. Otherwise the
// message is stored pending a possible later anti-message.
func (m *Map) MatchPositive(id ID, msg *rootsim.Message) (alreadyAnti bool) {
	s := m.shardFor(id)
	s.mu.Lock()
	defer s.mu.Unlock()

	if e, ok := s.m[id]; ok && e.pendingAnti {
		delete(s.m, id)
		msg.AddFlags(uint32(rootsim.MsgFlagAnti))
		return true
	}
	s.m[id] = entry{msg: msg, until: msg.DestT}
	return false
}

// MatchAnti handles the arrival of a remote anti-message for id, whose
// own (irrelevant for ordering, but checkpoint-able) timestamp is
// antiDestT. If the positive twin is resident, it is flagged ANTI and,
// if it was already marked PROCESSED (meaning it had already been
// extracted and handed to the dispatch loop), re-queued for the
// destination thread to discover the ANTI flag and discard it — matching
// spec.md 4.6. Otherwise a pending-anti marker is stored so the
// positive, when it arrives, is cancelled on sight.
func (m *Map) MatchAnti(id ID, antiDestT float64) {
	s := m.shardFor(id)
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.m[id]
	if !ok || e.pendingAnti {
		s.m[id] = entry{pendingAnti: true, until: antiDestT}
		return
	}
	delete(s.m, id)
	old := e.msg.AddFlags(uint32(rootsim.MsgFlagAnti))
	if old&uint32(rootsim.MsgFlagProcessed) != 0 {
		m.queue.InsertLocal(e.msg)
	}
}

// FossilCollect evicts every entry (stored positive or pending-anti
// marker) whose until timestamp is behind gvt: a positive still
// waiting for its anti past GVT will never see one, and a pending-anti
// marker past GVT will never see its positive, so both are safe to
// forget. This is the Go-idiomatic analogue of
// remote_msg_map_fossil_collect's resize-and-replay: there is no
// backing array to reallocate, only stale entries to drop.
func (m *Map) FossilCollect(gvt float64) (evicted int) {
	for _, s := range m.shards {
		s.mu.Lock()
		for id, e := range s.m {
			if e.until < gvt {
				delete(s.m, id)
				evicted++
			}
		}
		s.mu.Unlock()
	}
	return evicted
}

// Len reports the total number of resident entries across every shard,
// for tests and metrics.
func (m *Map) Len() int {
	total := 0
	for _, s := range m.shards {
		s.mu.Lock()
		total += len(s.m)
		s.mu.Unlock()
	}
	return total
}
