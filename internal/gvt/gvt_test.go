package gvt_test

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joeycumines/go-rootsim/internal/gvt"
)

func TestSingleThreadRoundCompletes(t *testing.T) {
	e := gvt.NewEngine(1)
	th := e.NewThread(0)

	g, ready := th.Tick(5.0)
	assert.False(t, ready)
	assert.Equal(t, gvt.PhaseRdy, th.Phase())

	e.StartRound()
	g, ready = th.Tick(5.0)
	require.True(t, ready)
	assert.Equal(t, 5.0, g)
	assert.Equal(t, 5.0, e.GVT())
}

func TestRoundWaitsForEveryThread(t *testing.T) {
	e := gvt.NewEngine(2)
	t0 := e.NewThread(0)
	t1 := e.NewThread(1)
	e.StartRound()

	_, ready := t0.Tick(3.0)
	assert.False(t, ready, "thread 0 alone cannot close phase A")

	_, ready = t1.Tick(7.0)
	assert.False(t, ready, "thread 0 has not yet recorded its minimum")

	g, ready := t0.Tick(3.0)
	require.True(t, ready, "thread 0's next tick closes both barriers")
	assert.Equal(t, 3.0, g)

	g, ready = t1.Tick(7.0)
	require.True(t, ready, "thread 1 then publishes the same minimum")
	assert.Equal(t, 3.0, g)
}

func TestConcurrentThreadsConverge(t *testing.T) {
	const n = 8
	e := gvt.NewEngine(n)
	threads := make([]*gvt.Thread, n)
	for i := range threads {
		threads[i] = e.NewThread(i)
	}
	e.StartRound()

	var wg sync.WaitGroup
	results := make([]float64, n)
	ready := make([]bool, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for {
				g, r := threads[i].Tick(float64(i))
				if r {
					results[i] = g
					ready[i] = true
					return
				}
			}
		}(i)
	}
	wg.Wait()

	for i := 0; i < n; i++ {
		require.True(t, ready[i])
		assert.Equal(t, 0.0, results[i])
	}
}

type fakeDistributed struct{ floor float64 }

func (f fakeDistributed) AllReduceMin(candidate float64) float64 {
	if f.floor < candidate {
		return f.floor
	}
	return candidate
}

func TestDistributedReductionLowersGVT(t *testing.T) {
	e := gvt.NewEngine(1)
	e.SetDistributed(fakeDistributed{floor: 1.0})
	th := e.NewThread(0)
	e.StartRound()

	g, ready := th.Tick(9.0)
	require.True(t, ready)
	assert.Equal(t, 1.0, g)
}

func TestThreadReturnsToRdyAfterRound(t *testing.T) {
	e := gvt.NewEngine(1)
	th := e.NewThread(0)
	e.StartRound()
	_, ready := th.Tick(1.0)
	require.True(t, ready)
	assert.Equal(t, gvt.PhaseRdy, th.Phase())

	_, ready = th.Tick(2.0)
	assert.False(t, ready, "no round active until StartRound is called again")
}
