package autockpt

import "testing"

import "github.com/stretchr/testify/assert"

func TestRingMeanOfEmptyIsZero(t *testing.T) {
	r := newRing[float64](4)
	assert.Equal(t, 0.0, r.Mean())
}

func TestRingEvictsOldestWhenFull(t *testing.T) {
	r := newRing[float64](4)
	for _, v := range []float64{1, 2, 3, 4, 5} {
		r.Push(v)
	}
	assert.Equal(t, 4, r.Len())
	assert.Equal(t, 2.0, r.Get(0))
	assert.Equal(t, 5.0, r.Get(3))
	assert.Equal(t, (2.0+3.0+4.0+5.0)/4.0, r.Mean())
}

func TestRingPanicsOnNonPowerOfTwoSize(t *testing.T) {
	assert.Panics(t, func() { newRing[float64](3) })
}
