package rootsim_test

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	rootsim "github.com/joeycumines/go-rootsim"
	"github.com/joeycumines/go-rootsim/config"
)

const eventPing uint32 = 1

// pingpongState is the per-LP model data registered via Handle.SetState,
// matching SPEC_FULL.md's S1 ping-pong scenario.
type pingpongState struct {
	received int
}

// pingpongModel bounces a ping event between two LPs forever, exercising
// Schedule, SetState/State and the rollback-safe allocator on every
// event. mallocOK latches true the first time a full
// Malloc/Bytes/Realloc/Free cycle completes without error.
type pingpongModel struct {
	mallocOK atomic.Bool
}

func (m *pingpongModel) Dispatcher(dest rootsim.LPID, now float64, eventType uint32, payload []byte, h *rootsim.Handle) {
	other := rootsim.LPID(1)
	if dest == 1 {
		other = 0
	}

	switch eventType {
	case rootsim.EventLPInit:
		h.SetState(&pingpongState{})
		h.Schedule(other, now+1, eventPing, nil)
	case rootsim.EventLPFini:
	case eventPing:
		st := h.State().(*pingpongState)
		st.received++

		blk, err := h.Malloc(24)
		if err == nil {
			b := blk.Bytes()
			b[0] = byte(st.received)
			if blk.Realloc(48) {
				_ = blk.Bytes()
			}
			blk.Free()
			m.mallocOK.Store(true)
		}

		h.Schedule(other, now+1, eventPing, nil)
	}
}

func (m *pingpongModel) Committed(dest rootsim.LPID, h *rootsim.Handle) bool {
	return false
}

func TestEngineRunsPingPongSmokeTest(t *testing.T) {
	model := &pingpongModel{}
	eng, err := rootsim.New(model, []rootsim.LPID{0, 1}, []config.Option{
		config.WithGVTPeriod(time.Millisecond),
	})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	require.NoError(t, eng.Run(ctx))

	st0, err := eng.State(0)
	require.NoError(t, err)
	assert.Greater(t, st0.(*pingpongState).received, 0)

	st1, err := eng.State(1)
	require.NoError(t, err)
	assert.Greater(t, st1.(*pingpongState).received, 0)

	assert.True(t, model.mallocOK.Load())
	assert.GreaterOrEqual(t, eng.GVT(), 0.0)
	assert.Nil(t, eng.Metrics())
	assert.NotNil(t, eng.Logger())
}

func TestEngineRejectsEmptyLPSet(t *testing.T) {
	_, err := rootsim.New(&pingpongModel{}, nil, nil)
	assert.ErrorIs(t, err, rootsim.ErrNoLPs)
}

func TestEngineRejectsConcurrentRun(t *testing.T) {
	eng, err := rootsim.New(&pingpongModel{}, []rootsim.LPID{0}, []config.Option{
		config.WithGVTPeriod(time.Millisecond),
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- eng.Run(ctx) }()

	require.Eventually(t, func() bool {
		shortCtx, shortCancel := context.WithTimeout(context.Background(), time.Millisecond)
		defer shortCancel()
		return eng.Run(shortCtx) == rootsim.ErrAlreadyRunning
	}, time.Second, time.Millisecond)

	cancel()
	require.NoError(t, <-done)
}

func TestEngineStateReportsUnknownLP(t *testing.T) {
	eng, err := rootsim.New(&pingpongModel{}, []rootsim.LPID{0}, nil)
	require.NoError(t, err)

	_, err = eng.State(42)
	assert.ErrorIs(t, err, rootsim.ErrUnknownLP)
}

func TestEngineRejectsInvalidConfig(t *testing.T) {
	_, err := rootsim.New(&pingpongModel{}, []rootsim.LPID{0}, []config.Option{
		config.WithThreads(0),
	})
	assert.ErrorIs(t, err, rootsim.ErrInvalidConfig)
}
