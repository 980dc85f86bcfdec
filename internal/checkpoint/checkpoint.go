// Package checkpoint implements the per-LP checkpoint log described in
// spec.md section 4.3, grounded on
// original_source/src/mm/buddy/multi.c's model_allocator_checkpoint_take
// (size the buffer from the running live-byte counter, then copy every
// arena's live payload) and original_source/src/lp/process.c's
// checkpoint_take/do_rollback call sites.
package checkpoint

import (
	"errors"
	"sort"

	"github.com/joeycumines/go-rootsim/internal/buddy"
)

// ErrNoCheckpoint is returned by Restore when the log is empty, which
// should never happen in practice since Init (via process_lp_init)
// forces a full checkpoint before any real event is processed.
var ErrNoCheckpoint = errors.New("checkpoint: log is empty")

// Policy selects how a checkpoint is taken. Only PolicyFull is
// implemented; PolicyIncremental is reserved for a future
// dirty-word-diff scheme (see spec.md's Open Questions and
// DESIGN.md/SPEC_FULL.md section 6 — the original stubs this out under
// ROOTSIM_INCREMENTAL too).
type Policy int

const (
	PolicyFull Policy = iota
	PolicyIncremental
)

// entry is one append-only log record.
type entry struct {
	refIdx int
	arenas []buddy.ArenaSnapshot
	size   int // total bytes captured, for observability/metrics
}

// Store is one LP's checkpoint log.
type Store struct {
	log        []entry
	forceFull  bool
	lastPolicy Policy
}

// NewStore creates an empty checkpoint log.
func NewStore() *Store {
	return &Store{}
}

// ForceFull requests that the next Take produce a full checkpoint
// regardless of Policy, matching spec.md's force_full() operation (used
// after a LP_INIT synthetic event, and after any operation that would
// make an incremental checkpoint unsafe to trust).
func (s *Store) ForceFull() {
	s.forceFull = true
}

// Take appends a checkpoint of mm's current state at refIdx (the
// position of this event in the LP's processed-message history,
// p_msgs). The checkpoint holds a copy of every arena's whole backing
// buffer (mm.Snapshot), free space included, so its size is the arenas'
// total capacity; mm.LiveBytes() is not consulted. policy is advisory:
// only PolicyFull is implemented,
// so every Take behaves as a full checkpoint today.
func (s *Store) Take(refIdx int, mm *buddy.MultiArena, policy Policy) {
	if s.forceFull {
		policy = PolicyFull
		s.forceFull = false
	}
	s.lastPolicy = policy
	snaps := mm.Snapshot()
	size := 0
	for _, a := range snaps {
		size += len(a.Data)
	}
	s.log = append(s.log, entry{refIdx: refIdx, arenas: snaps, size: size})
}

// Restore scans the log backward for the newest entry with
// refIdx <= target — since only full checkpoints are implemented, every
// entry's "incremental chain" is trivially intact — and rewrites mm
// from it. It returns the restored entry's refIdx so the caller can
// silently re-execute p_msgs[restored..target].
func (s *Store) Restore(target int, mm *buddy.MultiArena) (restoredRefIdx int, err error) {
	if len(s.log) == 0 {
		return 0, ErrNoCheckpoint
	}
	idx := sort.Search(len(s.log), func(i int) bool { return s.log[i].refIdx > target })
	idx--
	if idx < 0 {
		idx = 0
	}
	e := s.log[idx]
	mm.Restore(e.arenas)
	return e.refIdx, nil
}

// Fossil drops every log entry older than the newest one at or before
// committedRefIdx, since nothing will ever need to restore to a point
// before the commit horizon again. It returns the refIdx of the oldest
// entry retained.
func (s *Store) Fossil(committedRefIdx int) (firstRetainedRefIdx int) {
	if len(s.log) == 0 {
		return 0
	}
	idx := sort.Search(len(s.log), func(i int) bool { return s.log[i].refIdx > committedRefIdx })
	idx--
	if idx <= 0 {
		return s.log[0].refIdx
	}
	s.log = s.log[idx:]
	return s.log[0].refIdx
}

// Len reports how many checkpoints are currently retained, for tests
// and metrics.
func (s *Store) Len() int { return len(s.log) }

// LastSize reports the byte size of the most recently taken checkpoint,
// for the auto-ckpt controller's cost model.
func (s *Store) LastSize() int {
	if len(s.log) == 0 {
		return 0
	}
	return s.log[len(s.log)-1].size
}
