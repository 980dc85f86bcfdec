package fossil_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	rootsim "github.com/joeycumines/go-rootsim"
	"github.com/joeycumines/go-rootsim/internal/fossil"
)

type fakeRemote struct {
	calls []float64
	drop  int
}

func (f *fakeRemote) FossilCollect(gvt float64) int {
	f.calls = append(f.calls, gvt)
	return f.drop
}

type fakeTransport struct {
	broadcasts []uint32
}

func (f *fakeTransport) Broadcast(ctrl uint32) error {
	f.broadcasts = append(f.broadcasts, ctrl)
	return nil
}

func TestRunCollectsEveryLPAndTheRemoteMap(t *testing.T) {
	var lp0Calls, lp1Calls []float64
	lps := []fossil.LP{
		{ID: 0, FossilCollect: func(gvt float64) int { lp0Calls = append(lp0Calls, gvt); return 2 }},
		{ID: 1, FossilCollect: func(gvt float64) int { lp1Calls = append(lp1Calls, gvt); return 3 }},
	}
	remote := &fakeRemote{drop: 1}
	c := fossil.New(lps, remote, nil, nil, 0)

	collected := c.Run(5.0)
	assert.Equal(t, 6, collected)
	assert.Equal(t, []float64{5.0}, lp0Calls)
	assert.Equal(t, []float64{5.0}, lp1Calls)
	assert.Equal(t, []float64{5.0}, remote.calls)
}

func TestCheckTerminationRequiresEveryLPCommitted(t *testing.T) {
	lps := []fossil.LP{{ID: 0, State: 3}, {ID: 1, State: 999}}
	committed := func(lp rootsim.LPID, state any) bool { return state.(int) >= 1000 }
	tr := &fakeTransport{}
	c := fossil.New(lps, nil, committed, tr, 0)

	assert.False(t, c.CheckTermination(1.0))
	assert.Empty(t, tr.broadcasts)

	lps[0].State = 1000
	require.True(t, c.CheckTermination(2.0))
	require.Len(t, tr.broadcasts, 1)
	assert.Equal(t, rootsim.CtrlTermination, tr.broadcasts[0])
}

func TestCheckTerminationIsIdempotent(t *testing.T) {
	lps := []fossil.LP{{ID: 0, State: true}}
	committed := func(rootsim.LPID, any) bool { return true }
	tr := &fakeTransport{}
	c := fossil.New(lps, nil, committed, tr, 0)

	require.True(t, c.CheckTermination(1.0))
	require.True(t, c.CheckTermination(2.0))
	assert.Len(t, tr.broadcasts, 1, "a second CheckTermination call must not re-broadcast")
}

func TestCheckTerminationBySimulationTimeCutoff(t *testing.T) {
	lps := []fossil.LP{{ID: 0, State: false}}
	committed := func(rootsim.LPID, any) bool { return false }
	tr := &fakeTransport{}
	c := fossil.New(lps, nil, committed, tr, 10.0)

	assert.False(t, c.CheckTermination(9.99))
	require.True(t, c.CheckTermination(10.0))
	assert.True(t, c.Ended())
}
