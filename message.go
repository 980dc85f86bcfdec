package rootsim

import (
	"bytes"
	"sync/atomic"
)

// Synthetic event types delivered once per LP lifetime, outside the model's
// own event-type numbering space.
const (
	EventLPInit uint32 = 65534
	EventLPFini uint32 = 65535
)

// Control message tags, broadcast over the transport rather than routed to
// a single LP. Library code registers further tags starting at
// FirstLibraryCtrlMsg, leaving room below it for the core's own.
const (
	CtrlGVTStart    uint32 = 1
	CtrlGVTDone     uint32 = 2
	CtrlTermination uint32 = 3

	FirstLibraryCtrlMsg uint32 = 16
)

// MsgFlag bits form the small state machine a processed message moves
// through. They are manipulated with relaxed atomic fetch-add/fetch-or,
// since every producer/consumer pair for a given message is serialized by
// the single-thread-per-LP guarantee; the only cross-thread transitions are
// FRESH->PROCESSED (the extracting thread) and *->*|ANTI (any thread
// delivering an anti-message).
type MsgFlag uint32

const (
	MsgFlagAnti      MsgFlag = 1 << 0
	MsgFlagProcessed MsgFlag = 1 << 1
)

// SentKind tags how an entry in a LP's processed-message history was
// produced, standing in for the two spare pointer-tag bits the original C
// implementation packs into p_msgs entries. Go pointers can't be tagged, so
// the kind is carried alongside the message pointer instead (see
// PMsgEntry).
type SentKind uint8

const (
	SentNone SentKind = iota
	SentLocal
	SentRemote
)

// Message is a timestamped event record. Once packed by Pack, a Message's
// Dest/DestT/MType/Payload are immutable; only Flags (and, for remote
// messages, the match-map bookkeeping) change over its lifetime.
//
// Lifetime: a message is in exactly one of: a thread queue, the destination
// LP's history (p_msgs), the remote-match map, or the fossil collector's
// to-free-on-GVT list.
type Message struct {
	Dest  LPID
	DestT float64

	MType   uint32
	Payload []byte

	// Flags is the atomic PROCESSED/ANTI state machine described above.
	Flags atomic.Uint32

	// The following fields identify a remote message for matching in the
	// remote-match map: OriginNode/OriginThread/PhaseBit together form the
	// original's packed raw_flags id, and Seq is the per-origin/destination
	// sequence counter. Zero for purely local messages.
	OriginNode   int
	OriginThread int
	PhaseBit     bool
	Seq          uint64

	// Remote marks a message that crossed a node boundary to reach its
	// destination. The dispatch loop uses it to pick HandleAnti
	// (exact-pointer match against this LP's own p_msgs) vs
	// HandleRemoteAnti (RemoteID-based match against p_msgs) when an
	// already-ANTI message is re-extracted — the
	// Go stand-in for the original's "is last_flags above the
	// ANTI|PROCESSED bit pattern" magnitude check (see
	// internal/lpctx's doc comment on HandleAnti/HandleRemoteAnti).
	Remote bool

	// Provenance fields. Sender is set by internal/lpctx's Send;
	// SendTime is not set anywhere in the engine. No check in the engine
	// reads either field.
	Sender   LPID
	SendTime float64

	// next is an intrusive link for chaining messages (see Next/SetNext).
	// Nothing in the engine sets it; internal/lpctx keeps no
	// early-anti-message list.
	next *Message
}

// LPID identifies a logical process.
type LPID uint64

// Pack allocates a new Message. It never fails except under allocator OOM,
// in which case the caller is expected to treat it as fatal (see
// internal/buddy for the analogous rs_malloc contract); ordinary Go
// allocation failure surfaces as an OOM panic from the runtime itself, so
// Pack has no error return.
func Pack(dest LPID, destT float64, mType uint32, payload []byte) *Message {
	buf := make([]byte, len(payload))
	copy(buf, payload)
	return &Message{
		Dest:    dest,
		DestT:   destT,
		MType:   mType,
		Payload: buf,
	}
}

// RemoteID returns the tuple identifying this message to the remote-match
// map: (origin node, sequence, phase). Two messages with an equal RemoteID
// are a positive/anti-message pair.
func (m *Message) RemoteID() (node int, seq uint64, phase bool) {
	return m.OriginNode, m.Seq, m.PhaseBit
}

// AddFlags performs a relaxed fetch-add on Flags and returns the value
// immediately prior to the add, mirroring the
// atomic_fetch_add_explicit(..., memory_order_relaxed) return convention
// the original uses throughout its rollback/anti-message machinery. To
// clear a bit rather than set one, pass its two's-complement negation
// (e.g. -MsgFlagProcessed as a uint32).
func (m *Message) AddFlags(delta uint32) (old uint32) {
	return m.Flags.Add(delta) - delta
}

// Next and SetNext read and write the message's intrusive link, standing
// in for the original's next pointer. No package in the engine calls
// them.
func (m *Message) Next() *Message     { return m.next }
func (m *Message) SetNext(n *Message) { m.next = n }

// IsBefore implements the total order a ≺ b used by the message queue and
// the straggler/anti-message matching scans:
//
//	a ≺ b iff a.DestT < b.DestT, or on tie a.MType > b.MType, or on further
//	tie a.pl_size < b.pl_size, or finally memcmp(a.pl, b.pl) > 0.
//
// When even the payload comparison ties, the two messages are equivalent:
// IsBefore returns false both ways, matching the documented "strict weak
// ordering" invariant (spec property 6).
func IsBefore(a, b *Message) bool {
	if a.DestT != b.DestT {
		return a.DestT < b.DestT
	}
	if a.MType != b.MType {
		return a.MType > b.MType
	}
	if len(a.Payload) != len(b.Payload) {
		return len(a.Payload) < len(b.Payload)
	}
	return bytes.Compare(a.Payload, b.Payload) > 0
}

// PMsgEntry is one slot in a LP's processed-message history (p_msgs). Sent
// distinguishes a purely-record entry (the LP positively processed it) from
// an entry that additionally records an outgoing send, which must also
// participate in anti-message generation on rollback.
type PMsgEntry struct {
	Msg  *Message
	Sent SentKind
}
