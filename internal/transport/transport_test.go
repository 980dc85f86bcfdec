package transport_test

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	rootsim "github.com/joeycumines/go-rootsim"
	"github.com/joeycumines/go-rootsim/internal/transport"
)

type fakeHandler struct {
	mu       sync.Mutex
	positive []*rootsim.Message
	anti     []*rootsim.Message
	control  []uint32
}

func (h *fakeHandler) DeliverRemote(m *rootsim.Message) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.positive = append(h.positive, m)
}
func (h *fakeHandler) DeliverRemoteAnti(m *rootsim.Message) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.anti = append(h.anti, m)
}
func (h *fakeHandler) DeliverControl(tag uint32) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.control = append(h.control, tag)
}

func TestRemoteSendDeliversToTargetNode(t *testing.T) {
	hub := transport.NewHub()
	h0, h1 := &fakeHandler{}, &fakeHandler{}
	n0, err := hub.NewNode(0, h0)
	require.NoError(t, err)
	n1, err := hub.NewNode(1, h1)
	require.NoError(t, err)

	msg := rootsim.Pack(5, 1.0, 1, nil)
	require.NoError(t, n0.RemoteSend(msg, 1))

	require.True(t, n1.ReceiveStep())
	require.Len(t, h1.positive, 1)
	assert.Same(t, msg, h1.positive[0])
	assert.False(t, n1.ReceiveStep())
	assert.Empty(t, h0.positive)
}

func TestRemoteAntiSendDeliversAsAnti(t *testing.T) {
	hub := transport.NewHub()
	h0, h1 := &fakeHandler{}, &fakeHandler{}
	n0, _ := hub.NewNode(0, h0)
	n1, _ := hub.NewNode(1, h1)

	msg := rootsim.Pack(5, 1.0, 1, nil)
	require.NoError(t, n0.RemoteAntiSend(msg, 1))
	require.True(t, n1.ReceiveStep())
	require.Len(t, h1.anti, 1)
}

func TestControlBroadcastReachesEveryNodeIncludingSender(t *testing.T) {
	hub := transport.NewHub()
	h0, h1, h2 := &fakeHandler{}, &fakeHandler{}, &fakeHandler{}
	n0, _ := hub.NewNode(0, h0)
	n1, _ := hub.NewNode(1, h1)
	n2, _ := hub.NewNode(2, h2)
	_ = n1
	_ = n2

	require.NoError(t, n0.ControlBroadcast(rootsim.CtrlTermination))

	for _, n := range []*transport.Local{n0, n1, n2} {
		require.True(t, n.ReceiveStep())
	}
	assert.Equal(t, []uint32{rootsim.CtrlTermination}, h0.control)
	assert.Equal(t, []uint32{rootsim.CtrlTermination}, h1.control)
	assert.Equal(t, []uint32{rootsim.CtrlTermination}, h2.control)
}

func TestSendToUnknownNodeErrors(t *testing.T) {
	hub := transport.NewHub()
	n0, _ := hub.NewNode(0, &fakeHandler{})
	err := n0.RemoteSend(rootsim.Pack(1, 1.0, 1, nil), 99)
	assert.ErrorIs(t, err, transport.ErrUnknownNode)
}

func TestWaitUnblocksOnSignal(t *testing.T) {
	hub := transport.NewHub()
	h0 := &fakeHandler{}
	n0, _ := hub.NewNode(0, h0)
	n1, _ := hub.NewNode(1, &fakeHandler{})

	done := make(chan struct{})
	go func() {
		n0.Wait()
		close(done)
	}()

	require.NoError(t, n1.RemoteSend(rootsim.Pack(1, 1.0, 1, nil), 0))
	<-done
	require.True(t, n0.ReceiveStep())
}

func TestAllReduceMinConvergesAcrossNodes(t *testing.T) {
	hub := transport.NewHub()
	_, _ = hub.NewNode(0, &fakeHandler{})
	_, _ = hub.NewNode(1, &fakeHandler{})
	_, _ = hub.NewNode(2, &fakeHandler{})

	var wg sync.WaitGroup
	results := make([]float64, 3)
	candidates := []float64{5.0, 2.0, 9.0}
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = hub.AllReduceMin(candidates[i])
		}(i)
	}
	wg.Wait()

	for _, r := range results {
		assert.Equal(t, 2.0, r)
	}
}
