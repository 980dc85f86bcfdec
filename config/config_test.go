package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joeycumines/go-rootsim/config"
	"github.com/joeycumines/go-rootsim/logging"
)

func TestNewAppliesDocumentedDefaults(t *testing.T) {
	c := config.New()
	assert.Equal(t, 1, c.NumThreads)
	assert.Equal(t, 1, c.NumNodes)
	assert.Equal(t, 0, c.NodeID)
	assert.Equal(t, time.Millisecond, c.GVTPeriod)
	assert.Equal(t, config.LogInfo, c.LogLevel)
	assert.NotEmpty(t, c.RunID)
	assert.Equal(t, uint8(4), c.ArenaBlockExp)
	assert.Equal(t, uint8(20), c.ArenaTotalExp)
}

func TestOptionsOverrideDefaults(t *testing.T) {
	c := config.New(
		config.WithThreads(4),
		config.WithNodes(3, 1),
		config.WithGVTPeriod(5*time.Millisecond),
		config.WithTerminationTime(100),
		config.WithLogLevel(config.LogError),
		config.WithRunID(`fixed-id`),
		config.WithArenaSize(6, 16),
	)
	assert.Equal(t, 4, c.NumThreads)
	assert.Equal(t, 3, c.NumNodes)
	assert.Equal(t, 1, c.NodeID)
	assert.Equal(t, 5*time.Millisecond, c.GVTPeriod)
	assert.Equal(t, 100.0, c.TerminationTime)
	assert.Equal(t, config.LogError, c.LogLevel)
	assert.Equal(t, `fixed-id`, c.RunID)
	assert.Equal(t, uint8(6), c.ArenaBlockExp)
	assert.Equal(t, uint8(16), c.ArenaTotalExp)
}

func TestLogLevelMapsOntoLogiface(t *testing.T) {
	assert.Equal(t, logging.LevelTrace, config.LogTrace.LoggingLevel())
	assert.Equal(t, logging.LevelDebug, config.LogDebug.LoggingLevel())
	assert.Equal(t, logging.LevelInfo, config.LogInfo.LoggingLevel())
	assert.Equal(t, logging.LevelWarn, config.LogWarn.LoggingLevel())
	assert.Equal(t, logging.LevelError, config.LogError.LoggingLevel())
	assert.Equal(t, logging.LevelFatal, config.LogFatal.LoggingLevel())
	assert.Equal(t, logging.LevelDisabled, config.LogSilent.LoggingLevel())
}

func TestLoadReadsTOMLOverDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, `sim.toml`)
	require.NoError(t, os.WriteFile(path, []byte(`
NumThreads = 8
NumNodes = 2
TerminationTime = 50.5
`), 0o644))

	c, err := config.Load(path)
	require.NoError(t, err)
	assert.Equal(t, 8, c.NumThreads)
	assert.Equal(t, 2, c.NumNodes)
	assert.Equal(t, 50.5, c.TerminationTime)
	// Untouched fields keep their documented defaults.
	assert.Equal(t, time.Millisecond, c.GVTPeriod)
}

func TestLoadMissingFileErrors(t *testing.T) {
	_, err := config.Load(filepath.Join(t.TempDir(), `missing.toml`))
	assert.Error(t, err)
}
