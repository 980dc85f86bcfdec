package autockpt

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewControllerStartsAtMinimumInterval(t *testing.T) {
	c := NewController()
	assert.Equal(t, 1, c.Interval())
	assert.True(t, c.Due())
}

func TestDueTracksGoodAgainstInterval(t *testing.T) {
	c := NewController()
	c.interval = 3
	c.RegisterGood()
	c.RegisterGood()
	assert.False(t, c.Due())
	c.RegisterGood()
	assert.True(t, c.Due())
	c.ResetGood()
	assert.False(t, c.Due())
}

func TestRecomputeIsNoOpWithoutSamples(t *testing.T) {
	c := NewController()
	c.Recompute()
	assert.Equal(t, 1, c.Interval())
}

func TestRecomputeWidensIntervalWhenRestoreIsExpensive(t *testing.T) {
	c := NewController()
	// Cheap, uniform checkpoints; one costly rollback.
	for i := 0; i < 8; i++ {
		c.RegisterCheckpoint(100)
	}
	c.RegisterBad(50_000)
	c.Recompute()
	require.Greater(t, c.Interval(), 1)
	assert.LessOrEqual(t, c.Interval(), 128)
}

func TestRecomputeClampsToMax(t *testing.T) {
	c := NewController()
	for i := 0; i < 8; i++ {
		c.RegisterCheckpoint(1)
	}
	c.RegisterBad(1_000_000_000)
	c.Recompute()
	assert.Equal(t, 128, c.Interval())
}
