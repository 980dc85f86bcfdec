// Package buddy implements the binary buddy sub-allocator each LP's
// mm_state uses for its model-visible heap, grounded on
// original_source/src/mm/buddy/multi.c.
//
// A Go slice never moves once allocated, so an Arena backs every block with
// an offset into one fixed byte buffer: the offset returned by Malloc is
// stable across checkpoint restore, which gives internal/checkpoint the
// same "restoring state restores the same addresses" property the C
// implementation gets from raw pointers, without any unsafe code.
package buddy

import (
	"errors"
	"sort"
)

// ErrBlockTooLarge is returned by Malloc when the requested size exceeds
// the arena's total capacity; spec.md section 7 treats this as a
// recoverable condition reported to the model, not a fatal error.
var ErrBlockTooLarge = errors.New("buddy: requested block exceeds arena capacity")

// ErrArenaFull is returned by Malloc when the arena has enough total
// capacity in principle but no single free block of the requested size.
var ErrArenaFull = errors.New("buddy: arena has no free block of the requested size")

const orderAllocated int8 = -1

// Arena is one fixed-size buddy-managed byte range. BlockExp is the
// smallest allocatable block's size exponent; TotalExp is the arena's
// total size exponent, so the arena holds 1<<(TotalExp-BlockExp) leaf
// blocks.
type Arena struct {
	mem       []byte
	blockExp  uint8
	totalExp  uint8
	numLevels uint8 // totalExp - blockExp
	leafCount int
	tree      []int8 // 1-indexed segment tree; tree[i] = order of the largest free block in node i's subtree, or orderAllocated

	// liveBytes is the running live-byte counter (full_ckpt_size in
	// the original); it increases
	// on every successful Malloc and decreases on every Free, without a
	// separate scan.
	liveBytes int
}

// NewArena creates an arena of size 1<<totalExp, with a minimum block
// size of 1<<blockExp.
func NewArena(blockExp, totalExp uint8) *Arena {
	if totalExp < blockExp {
		totalExp = blockExp
	}
	numLevels := totalExp - blockExp
	leafCount := 1 << numLevels
	a := &Arena{
		mem:       make([]byte, 1<<totalExp),
		blockExp:  blockExp,
		totalExp:  totalExp,
		numLevels: numLevels,
		leafCount: leafCount,
		tree:      make([]int8, 2*leafCount),
	}
	initTree(a.tree, numLevels)
	return a
}

func initTree(tree []int8, numLevels uint8) {
	order := int8(numLevels)
	levelWidth := 1
	i := 1
	for i < len(tree) {
		for j := 0; j < levelWidth && i < len(tree); j++ {
			tree[i] = order
			i++
		}
		levelWidth *= 2
		if order > 0 {
			order--
		}
	}
}

// LiveBytes returns the running live-byte counter. Snapshot does not
// use it: a snapshot always copies the whole arena.
func (a *Arena) LiveBytes() int {
	return a.liveBytes
}

// BlockExp and TotalExp report the arena's configured exponents.
func (a *Arena) BlockExp() uint8 { return a.blockExp }
func (a *Arena) TotalExp() uint8 { return a.totalExp }

// Malloc reserves a block of size 1<<exp, rounding exp up to BlockExp if
// smaller. It returns the block's offset within the arena's backing
// buffer; Bytes(offset, exp) recovers the slice.
func (a *Arena) Malloc(exp uint8) (offset int, err error) {
	if exp < a.blockExp {
		exp = a.blockExp
	}
	if exp > a.totalExp {
		return 0, ErrBlockTooLarge
	}
	order := int(exp - a.blockExp)
	if int(a.tree[1]) < order {
		return 0, ErrArenaFull
	}
	node := 1
	nodeOrder := int(a.numLevels)
	for nodeOrder != order {
		left := 2 * node
		if int(a.tree[left]) >= order {
			node = left
		} else {
			node = left + 1
		}
		nodeOrder--
	}
	a.tree[node] = orderAllocated
	depth := int(a.numLevels) - order
	blockIdx := node - (1 << depth)
	offset = blockIdx << exp
	a.propagateUp(node, order)
	a.liveBytes += 1 << exp
	return offset, nil
}

// Free releases the block at offset, previously returned by Malloc with
// the given exp, coalescing with its buddy while the sibling is free. It
// returns the number of bytes freed, matching the original's free(ptr)
// contract of reporting the size released.
func (a *Arena) Free(offset int, exp uint8) int {
	if exp < a.blockExp {
		exp = a.blockExp
	}
	order := int(exp - a.blockExp)
	depth := int(a.numLevels) - order
	node := (1 << depth) + (offset >> exp)
	a.tree[node] = int8(order)
	a.propagateUp(node, order)
	size := 1 << exp
	a.liveBytes -= size
	return size
}

// propagateUp recomputes ancestor availability after node (whose own
// order is order) changed. A parent becomes fully free (order+1) only
// when both children report exactly their own natural order; otherwise
// it reports the best of its children, exactly mirroring the original's
// implicit split/merge bookkeeping without a separate "split" flag.
func (a *Arena) propagateUp(node, order int) {
	for node > 1 {
		sibling := node ^ 1
		parent := node >> 1
		l, r := a.tree[node], a.tree[sibling]
		if int(l) == order && int(r) == order {
			a.tree[parent] = int8(order + 1)
		} else if l > r {
			a.tree[parent] = l
		} else {
			a.tree[parent] = r
		}
		node = parent
		order++
	}
}

// Bytes returns the live slice backing the block at offset, sized
// 1<<exp. The slice aliases the arena's backing array, so writes are
// visible to any other holder of the same block and checkpoint restore
// (a copy into this same range) is observed by every alias.
func (a *Arena) Bytes(offset int, exp uint8) []byte {
	size := 1 << exp
	return a.mem[offset : offset+size]
}

// Snapshot copies out every live byte of the arena, used by
// internal/checkpoint to build a full checkpoint record. Only the
// backing buffer is copied; the caller is responsible for pairing it
// with the arena's identity (index in MultiArena) and exponents.
func (a *Arena) Snapshot() []byte {
	buf := make([]byte, len(a.mem))
	copy(buf, a.mem)
	return buf
}

// Restore overwrites the arena's backing buffer from a prior Snapshot.
// Every outstanding Bytes() slice observes the restored contents, since
// it aliases the same backing array.
func (a *Arena) Restore(snapshot []byte) {
	copy(a.mem, snapshot)
}

// ReallocBestEffort attempts to resize the block at offset from oldExp
// to newExp in place. On success handled is true and variation is the
// signed byte delta (negative for a shrink). On failure handled is
// false and the caller must malloc-copy-free using oldExp as the
// original size, mirroring realloc_best_effort(ptr, new_size) ->
// {handled, variation, original}.
func (a *Arena) ReallocBestEffort(offset int, oldExp, newExp uint8) (handled bool, variation int) {
	if newExp < a.blockExp {
		newExp = a.blockExp
	}
	if newExp == oldExp {
		return true, 0
	}
	if newExp > a.totalExp {
		return false, 0
	}
	if newExp < oldExp {
		a.shrink(offset, oldExp, newExp)
		return true, (1 << newExp) - (1 << oldExp)
	}
	return a.growInPlace(offset, oldExp, newExp)
}

// shrink splits the block at offset down from oldExp to newExp,
// freeing each upper half as it goes, leaving the remaining low half
// allocated at newExp.
func (a *Arena) shrink(offset int, oldExp, newExp uint8) {
	exp := oldExp
	for exp > newExp {
		half := exp - 1
		order := int(half - a.blockExp)
		buddyOffset := offset + (1 << half)
		depth := int(a.numLevels) - order
		node := (1 << depth) + (buddyOffset >> half)
		a.tree[node] = int8(order)
		a.propagateUp(node, order)
		a.liveBytes -= 1 << half
		exp = half
	}
	// The remaining low half at newExp stays marked allocated: it was
	// the node at oldExp's order before the split began, and splitting
	// only ever frees the upper halves, so no re-marking is needed for
	// a node that was already carved out of an allocated ancestor.
	order := int(newExp - a.blockExp)
	depth := int(a.numLevels) - order
	node := (1 << depth) + (offset >> newExp)
	a.tree[node] = orderAllocated
	a.propagateUp(node, order)
}

// growInPlace merges offset's block upward into newExp only if every
// buddy needed to complete the larger block is currently free, failing
// closed (handled=false) otherwise so the caller falls back to
// malloc+copy+free.
func (a *Arena) growInPlace(offset int, oldExp, newExp uint8) (bool, int) {
	exp := oldExp
	base := offset
	for exp < newExp {
		order := int(exp - a.blockExp)
		depth := int(a.numLevels) - order
		blockIdx := base >> exp
		buddyIdx := blockIdx ^ 1
		buddyNode := (1 << depth) + buddyIdx
		if a.tree[buddyNode] != int8(order) {
			return false, 0
		}
		base &^= 1 << exp
		exp++
	}
	// Every buddy along the chain is free; consume them.
	exp = oldExp
	base = offset
	for exp < newExp {
		order := int(exp - a.blockExp)
		depth := int(a.numLevels) - order
		blockIdx := base >> exp
		buddyIdx := blockIdx ^ 1
		buddyNode := (1 << depth) + buddyIdx
		a.tree[buddyNode] = orderAllocated
		a.liveBytes += 1 << exp
		base &^= 1 << exp
		exp++
	}
	order := int(newExp - a.blockExp)
	depth := int(a.numLevels) - order
	node := (1 << depth) + (base >> newExp)
	a.tree[node] = orderAllocated
	a.propagateUp(node, order)
	return true, (1 << newExp) - (1 << oldExp)
}

// MultiArena is a LP's mm_state: a sorted-by-creation-order vector of
// arenas, reallocated only on arena creation, matching spec.md's "owning
// mapping is a sorted vector of arenas kept in the LP's mm_state".
//
// The original scans arenas in descending *address* order to pick where
// a new allocation lands, purely for allocation locality; since Go
// offsets returned by Malloc already carry their owning arena's index
// (see Handle), there is no address-recovery lookup to perform here —
// this is the idiomatic replacement for the C pointer-to-arena binary
// search, not a functional gap (see DESIGN.md).
type MultiArena struct {
	arenas   []*Arena
	blockExp uint8
	totalExp uint8
}

// Handle identifies a block across every arena a MultiArena owns.
type Handle struct {
	ArenaIdx int
	Offset   int
	Exp      uint8
}

// NewMultiArena creates an empty mm_state using the given per-arena
// exponents for every arena it creates on demand.
func NewMultiArena(blockExp, totalExp uint8) *MultiArena {
	return &MultiArena{blockExp: blockExp, totalExp: totalExp}
}

// Malloc satisfies an allocation from the newest-to-oldest arena
// (descending creation order, the Go stand-in for "descending address
// order"), creating a fresh arena only when every existing one is full.
func (m *MultiArena) Malloc(exp uint8) (Handle, error) {
	if exp > m.totalExp {
		return Handle{}, ErrBlockTooLarge
	}
	for i := len(m.arenas) - 1; i >= 0; i-- {
		if off, err := m.arenas[i].Malloc(exp); err == nil {
			return Handle{ArenaIdx: i, Offset: off, Exp: exp}, nil
		} else if !errors.Is(err, ErrArenaFull) {
			return Handle{}, err
		}
	}
	a := NewArena(m.blockExp, m.totalExp)
	off, err := a.Malloc(exp)
	if err != nil {
		return Handle{}, err
	}
	m.arenas = append(m.arenas, a)
	return Handle{ArenaIdx: len(m.arenas) - 1, Offset: off, Exp: exp}, nil
}

// Free releases h, returning the byte count freed.
func (m *MultiArena) Free(h Handle) int {
	return m.arenas[h.ArenaIdx].Free(h.Offset, h.Exp)
}

// Bytes recovers the live slice for h.
func (m *MultiArena) Bytes(h Handle) []byte {
	return m.arenas[h.ArenaIdx].Bytes(h.Offset, h.Exp)
}

// ReallocBestEffort resizes h in place when possible. On success the
// returned Handle reflects the new size; handled/variation follow
// Arena.ReallocBestEffort.
func (m *MultiArena) ReallocBestEffort(h Handle, newExp uint8) (Handle, bool, int) {
	handled, variation := m.arenas[h.ArenaIdx].ReallocBestEffort(h.Offset, h.Exp, newExp)
	if !handled {
		return h, false, variation
	}
	return Handle{ArenaIdx: h.ArenaIdx, Offset: h.Offset, Exp: newExp}, true, variation
}

// LiveBytes sums every arena's running live-byte counter (the
// original's full_ckpt_size total) without a separate scan.
// internal/dispatch reports it to the auto-ckpt controller as each
// checkpoint's cost; internal/checkpoint does not read it.
func (m *MultiArena) LiveBytes() int {
	total := 0
	for _, a := range m.arenas {
		total += a.LiveBytes()
	}
	return total
}

// ArenaCount reports how many arenas are currently allocated.
func (m *MultiArena) ArenaCount() int { return len(m.arenas) }

// ArenaSnapshot is one arena's checkpointed contents, tagged with the
// exponents needed to recreate it on restore if it no longer exists.
// Tree and LiveBytes ride along with the raw payload bytes because a
// restored arena must resume allocating from the same free/allocated
// layout the checkpoint was taken at — the model's subsequent
// malloc/free calls are replayed during silent execution (spec.md 4.3)
// against this exact bookkeeping, not a freshly-reset one.
type ArenaSnapshot struct {
	Index     int
	BlockExp  uint8
	TotalExp  uint8
	Data      []byte
	Tree      []int8
	LiveBytes int
}

// Snapshot captures every arena's live contents, sorted by index (the
// Go stand-in for the original's address-sorted vector), for
// internal/checkpoint to persist as one checkpoint record.
func (m *MultiArena) Snapshot() []ArenaSnapshot {
	out := make([]ArenaSnapshot, len(m.arenas))
	for i, a := range m.arenas {
		tree := make([]int8, len(a.tree))
		copy(tree, a.tree)
		out[i] = ArenaSnapshot{
			Index:     i,
			BlockExp:  a.blockExp,
			TotalExp:  a.totalExp,
			Data:      a.Snapshot(),
			Tree:      tree,
			LiveBytes: a.liveBytes,
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Index < out[j].Index })
	return out
}

// Restore rewrites every arena from snaps: arenas present only in the
// checkpoint are re-created, arenas the MultiArena currently owns but
// that are absent from snaps are dropped, matching spec.md 4.3's
// restore contract.
func (m *MultiArena) Restore(snaps []ArenaSnapshot) {
	maxIdx := -1
	for _, s := range snaps {
		if s.Index > maxIdx {
			maxIdx = s.Index
		}
	}
	next := make([]*Arena, maxIdx+1)
	for _, s := range snaps {
		a := NewArena(s.BlockExp, s.TotalExp)
		a.Restore(s.Data)
		copy(a.tree, s.Tree)
		a.liveBytes = s.LiveBytes
		next[s.Index] = a
	}
	m.arenas = next
}
