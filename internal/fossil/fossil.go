// Package fossil implements the fossil collector and termination
// detection of spec.md section 4.8: per-LP collection of everything
// behind GVT, and the all-LP "committed" check that ends the
// simulation once every LP agrees it can.
package fossil

import (
	"sync/atomic"

	rootsim "github.com/joeycumines/go-rootsim"
)

// LP is the subset of internal/lpctx.Context the collector drives,
// plus the model state committed needs to judge.
type LP struct {
	ID    rootsim.LPID
	State any

	FossilCollect func(gvt float64) int
}

// RemoteMatcher is internal/remotematch.Map's fossil-collection entry
// point, grounded on original_source/src/datatypes/remote_msg_map.c's
// remote_msg_map_fossil_collect.
type RemoteMatcher interface {
	FossilCollect(gvt float64) int
}

// Transport broadcasts the MSG_CTRL_TERMINATION control message once
// this node decides the simulation is over.
type Transport interface {
	Broadcast(ctrl uint32) error
}

// Committed is the model's termination predicate (spec.md section 6):
// called per LP on every GVT, it reports whether that LP has reached a
// state from which it will never need to be rolled back again.
type Committed func(lp rootsim.LPID, state any) bool

// Collector runs fossil collection and termination detection for every
// LP hosted on this node.
type Collector struct {
	lps             []LP
	remote          RemoteMatcher
	committed       Committed
	transport       Transport
	terminationTime float64
	ended           atomic.Bool
}

// New creates a collector over lps, with an optional remote-match map,
// model committed callback, broadcast transport, and termination_time
// (spec.md section 6; <= 0 disables the time-based cutoff, leaving
// only the committed-based cutoff).
func New(lps []LP, remote RemoteMatcher, committed Committed, transport Transport, terminationTime float64) *Collector {
	return &Collector{
		lps:             lps,
		remote:          remote,
		committed:       committed,
		transport:       transport,
		terminationTime: terminationTime,
	}
}

// Run collects every LP's p_msgs/checkpoint history behind gvt, then
// the remote-match map's stale entries, matching process.c's
// fossil_lp_collect fanned out across every LP of this node. It
// returns the total number of p_msgs entries collected plus remote-match
// map entries evicted, for metrics.
func (c *Collector) Run(gvt float64) (collected int) {
	for _, lp := range c.lps {
		collected += lp.FossilCollect(gvt)
	}
	if c.remote != nil {
		collected += c.remote.FossilCollect(gvt)
	}
	return collected
}

// CheckTermination evaluates spec.md 4.8's termination rule: the
// simulation ends once either gvt has reached terminationTime, or
// every LP's committed callback returns true. It is safe to call on
// every GVT; once ended, it is idempotent and returns true without
// re-evaluating committed or re-broadcasting.
func (c *Collector) CheckTermination(gvt float64) bool {
	if c.ended.Load() {
		return true
	}
	if c.terminationTime > 0 && gvt >= c.terminationTime {
		c.end()
		return true
	}
	if c.committed == nil {
		return false
	}
	for _, lp := range c.lps {
		if !c.committed(lp.ID, lp.State) {
			return false
		}
	}
	c.end()
	return true
}

func (c *Collector) end() {
	if c.ended.CompareAndSwap(false, true) && c.transport != nil {
		if err := c.transport.Broadcast(rootsim.CtrlTermination); err != nil {
			panic(err)
		}
	}
}

// Ended reports whether this node has already decided to terminate.
func (c *Collector) Ended() bool { return c.ended.Load() }

// Observe marks this node as ended in reaction to a CtrlTermination
// control message received from another node, without re-broadcasting
// — only the node that originally decided termination (via
// CheckTermination) broadcasts; every other node just needs to stop.
func (c *Collector) Observe() {
	c.ended.Store(true)
}
