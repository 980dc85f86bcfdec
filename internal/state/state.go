// Package state provides a small cache-line padded atomic state machine,
// generalizing the pattern the teacher (go-eventloop's FastState) uses for
// its loop lifecycle. No other package in this module imports it.
package state

import "sync/atomic"

// Atomic is a lock-free state machine over a uint32-backed state type.
// Cache-line padding on both sides of the value prevents false sharing
// between cores when many of these are packed into a per-thread array.
type Atomic[T ~uint32] struct { //nolint:unused // padding is structural
	_ [64]byte
	v atomic.Uint32
	_ [60]byte
}

// New creates a state machine initialized to v.
func New[T ~uint32](v T) *Atomic[T] {
	a := &Atomic[T]{}
	a.v.Store(uint32(v))
	return a
}

// Load returns the current state.
func (a *Atomic[T]) Load() T {
	return T(a.v.Load())
}

// Store unconditionally sets the state, for irreversible transitions.
func (a *Atomic[T]) Store(v T) {
	a.v.Store(uint32(v))
}

// TryTransition performs a compare-and-swap from one state to another.
func (a *Atomic[T]) TryTransition(from, to T) bool {
	return a.v.CompareAndSwap(uint32(from), uint32(to))
}

// TransitionAny attempts a CAS from any of validFrom to to, returning true
// on the first match.
func (a *Atomic[T]) TransitionAny(validFrom []T, to T) bool {
	for _, from := range validFrom {
		if a.v.CompareAndSwap(uint32(from), uint32(to)) {
			return true
		}
	}
	return false
}
