package autockpt

import "golang.org/x/exp/constraints"

// ring is a fixed-capacity, power-of-2-sized rolling window, grounded on
// the teacher's catrate/ring.go masked-index buffer. Unlike catrate's
// ring (which grows on overflow to keep every sample for rate-limit
// accounting), this one evicts the oldest sample instead: the
// auto-ckpt controller only ever wants the trailing window of recent
// cost observations, never the full history.
type ring[E constraints.Float] struct {
	s    []E
	r, w uint
}

func newRing[E constraints.Float](size int) *ring[E] {
	if size <= 0 || size&(size-1) != 0 {
		panic("autockpt: ring: size must be a power of 2")
	}
	return &ring[E]{s: make([]E, size)}
}

func (x *ring[E]) mask(v uint) uint {
	return v & (uint(len(x.s)) - 1)
}

func (x *ring[E]) Len() int { return int(x.w - x.r) }
func (x *ring[E]) Cap() int { return len(x.s) }

// Push records v, evicting the oldest sample if the window is full.
func (x *ring[E]) Push(v E) {
	if x.Len() == x.Cap() {
		x.r++
	}
	x.s[x.mask(x.w)] = v
	x.w++
}

func (x *ring[E]) Get(i int) E {
	if i < 0 || i >= x.Len() {
		panic("autockpt: ring: get: index out of range")
	}
	return x.s[x.mask(x.r+uint(i))]
}

// Mean returns the arithmetic mean of the retained window, or 0 if
// empty.
func (x *ring[E]) Mean() float64 {
	l := x.Len()
	if l == 0 {
		return 0
	}
	var sum float64
	for i := 0; i < l; i++ {
		sum += float64(x.Get(i))
	}
	return sum / float64(l)
}
