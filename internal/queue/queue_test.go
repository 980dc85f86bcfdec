package queue_test

import (
	"math"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	rootsim "github.com/joeycumines/go-rootsim"
	"github.com/joeycumines/go-rootsim/internal/queue"
)

func TestExtractReturnsNilWhenEmpty(t *testing.T) {
	q := queue.New(2)
	assert.Nil(t, q.Extract())
	assert.True(t, math.IsInf(q.PeekTime(), 1))
}

func TestExtractOrdersByDestT(t *testing.T) {
	q := queue.New(1)
	q.Insert(0, rootsim.Pack(1, 5.0, 1, nil))
	q.Insert(0, rootsim.Pack(1, 1.0, 1, nil))
	q.Insert(0, rootsim.Pack(1, 3.0, 1, nil))

	assert.Equal(t, 1.0, q.PeekTime())
	got := []float64{
		q.Extract().DestT,
		q.Extract().DestT,
		q.Extract().DestT,
	}
	assert.Equal(t, []float64{1.0, 3.0, 5.0}, got)
	assert.Nil(t, q.Extract())
}

func TestInsertFromMultipleProducersMerges(t *testing.T) {
	q := queue.New(3)
	var wg sync.WaitGroup
	for p := 0; p < 3; p++ {
		p := p
		wg.Add(1)
		go func() {
			defer wg.Done()
			q.Insert(p, rootsim.Pack(1, float64(p), 1, nil))
		}()
	}
	wg.Wait()

	seen := map[float64]bool{}
	for i := 0; i < 3; i++ {
		m := q.Extract()
		require.NotNil(t, m)
		seen[m.DestT] = true
	}
	assert.Equal(t, map[float64]bool{0: true, 1: true, 2: true}, seen)
	assert.Nil(t, q.Extract())
}
