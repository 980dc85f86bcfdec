// Package autockpt implements the adaptive checkpoint interval
// controller of spec.md section 4.10, grounded on
// original_source/src/lp/racer.c's auto_ckpt_register_good/
// auto_ckpt_register_bad/auto_ckpt_is_needed/auto_ckpt_recompute call
// sites (the controller's own source file was not present in the
// retrieval pack's filtered original_source/ copy, so the recompute
// formula itself is taken directly from spec.md 4.10).
package autockpt

import "math"

const (
	minInterval = 1
	maxInterval = 128

	// slack widens the computed interval beyond the break-even point
	// between checkpoint and restore cost, matching spec.md 4.10's
	// "some_slack" factor; a value of 1 would checkpoint at exactly the
	// point where expected restore cost equals expected checkpoint
	// cost, which is too aggressive once either estimate is noisy.
	slack = 1.25

	// restoreWindow sizes the rolling checkpoint-cost window (ckptCost);
	// it must be a power of 2 (see ring.go). Restore cost is tracked by
	// the P-Square estimator and has no window.
	restoreWindow = 16
)

// Controller tracks one LP's recent good/bad event counters and cost
// history, and derives the checkpoint interval spec.md 4.10 describes.
type Controller struct {
	good, bad int
	interval  int

	restoreCost *pSquareQuantile // p50 of recent rollback recovery costs
	ckptCost    *ring[float64]   // trailing window of recent checkpoint byte sizes
}

// NewController creates a controller starting at the minimum interval
// (checkpoint every event) until enough cost samples accumulate to
// recompute a wider one.
func NewController() *Controller {
	return &Controller{
		interval:    minInterval,
		restoreCost: newPSquareQuantile(0.5),
		ckptCost:    newRing[float64](restoreWindow),
	}
}

// RegisterGood records an event processed without triggering a
// rollback, matching auto_ckpt_register_good.
func (c *Controller) RegisterGood() {
	c.good++
}

// RegisterBad records a rollback and its observed recovery cost (any
// consistent unit, e.g. nanoseconds), matching
// auto_ckpt_register_bad plus the recovery-time stat the original
// takes alongside it (STATS_RECOVERY_TIME in racer.c's do_rollback).
func (c *Controller) RegisterBad(restoreCost float64) {
	c.bad++
	if restoreCost > 0 {
		c.restoreCost.Update(restoreCost)
	}
}

// RegisterCheckpoint records the byte size of a checkpoint just taken,
// feeding the rolling window recompute consumes as ckpt_cost.
func (c *Controller) RegisterCheckpoint(sizeBytes float64) {
	if sizeBytes > 0 {
		c.ckptCost.Push(sizeBytes)
	}
}

// Due reports whether enough good events have accumulated since the
// last checkpoint to take another one now, matching
// auto_ckpt_is_needed.
func (c *Controller) Due() bool {
	return c.good >= c.interval
}

// ResetGood clears the good-event counter after a checkpoint is
// actually taken.
func (c *Controller) ResetGood() {
	c.good = 0
}

// Interval reports the currently computed checkpoint interval.
func (c *Controller) Interval() int { return c.interval }

// Recompute derives a new interval from the observed restore and
// checkpoint costs, matching spec.md 4.10's
// "interval <- round(sqrt(2 * restore_cost / ckpt_cost) * slack)"
// clamped to [1, 128]. It is a no-op until both cost estimates have at
// least one sample, matching the original's behavior of leaving
// auto_ckpt.interval untouched (effectively checkpointing every event)
// until the model has actually produced a rollback and a checkpoint to
// learn from.
func (c *Controller) Recompute() {
	restore := c.restoreCost.Quantile()
	ckpt := c.ckptCost.Mean()
	if restore <= 0 || ckpt <= 0 {
		return
	}
	n := int(math.Round(math.Sqrt(2*restore/ckpt) * slack))
	if n < minInterval {
		n = minInterval
	}
	if n > maxInterval {
		n = maxInterval
	}
	c.interval = n
}
