// Package config implements the simulation engine configuration of
// spec.md section 6 / SPEC_FULL.md section 3: a plain struct assembled
// via functional options (the teacher's BatcherConfig/ChannelConfig
// idiom: zero value + explicit overrides + documented defaults), with
// an additional TOML-file loading path via github.com/BurntSushi/toml.
package config

import (
	"time"

	"github.com/BurntSushi/toml"
	"github.com/rs/xid"

	"github.com/joeycumines/go-rootsim/logging"
)

// LogLevel is the engine's own leveled-logging enum, mapped onto
// logging.Level by Config.LoggingLevel — see SPEC_FULL.md section 3's
// TRACE/DEBUG/INFO/WARN/ERROR/FATAL/SILENT table.
type LogLevel int

const (
	LogTrace LogLevel = iota
	LogDebug
	LogInfo
	LogWarn
	LogError
	LogFatal
	LogSilent
)

// LoggingLevel maps l onto logging's logiface-backed Level, matching
// SPEC_FULL.md section 3's table exactly.
func (l LogLevel) LoggingLevel() logging.Level {
	switch l {
	case LogTrace:
		return logging.LevelTrace
	case LogDebug:
		return logging.LevelDebug
	case LogInfo:
		return logging.LevelInfo
	case LogWarn:
		return logging.LevelWarn
	case LogError:
		return logging.LevelError
	case LogFatal:
		return logging.LevelFatal
	default:
		return logging.LevelDisabled
	}
}

// Config is the engine's tunable parameter set: the worker/node
// topology, GVT cadence, checkpoint policy seed, and logging level.
// The zero value is not directly usable (NumThreads/NumNodes default
// to 0); construct one with New, which fills in documented defaults
// before applying Options.
type Config struct {
	// NumThreads is the number of worker threads this node runs,
	// matching global_config.n_threads.
	NumThreads int
	// NumNodes is the total node count in the (possibly single-node)
	// simulation, matching global_config.n_nodes.
	NumNodes int
	// NodeID is this process's node index in [0, NumNodes).
	NodeID int
	// GVTPeriod is the wall-clock interval between GVT rounds
	// (spec.md 4.7 step 1's gvt_period), owned by the GVT master node.
	GVTPeriod time.Duration
	// TerminationTime is the simulation-time cutoff past which the
	// fossil collector ends the run regardless of model state (0
	// disables the cutoff, leaving only the committed-based rule).
	TerminationTime float64
	// LogLevel filters the engine's structured log output.
	LogLevel LogLevel
	// RunID tags this run's log lines and optional stats output with a
	// short, sortable, collision-resistant identifier (replacing the
	// excluded on-disk binary stats format with a greppable text
	// stream tagged per spec.md's out-of-scope stats sink).
	RunID string
	// ArenaBlockExp is the smallest allocatable block size (as a power
	// of two) for every LP's buddy allocator arena.
	ArenaBlockExp uint8
	// ArenaTotalExp is the total size (as a power of two) of each arena
	// a LP's buddy allocator creates on demand.
	ArenaTotalExp uint8
}

// Option configures a Config, in the teacher's functional-option idiom.
type Option func(*Config)

// WithThreads sets the number of worker threads this node runs.
func WithThreads(n int) Option {
	return func(c *Config) { c.NumThreads = n }
}

// WithNodes sets the total node count and this process's node id.
func WithNodes(numNodes, nodeID int) Option {
	return func(c *Config) {
		c.NumNodes = numNodes
		c.NodeID = nodeID
	}
}

// WithGVTPeriod sets the wall-clock interval between GVT rounds.
func WithGVTPeriod(d time.Duration) Option {
	return func(c *Config) { c.GVTPeriod = d }
}

// WithTerminationTime sets the simulation-time cutoff past which the
// run ends unconditionally.
func WithTerminationTime(t float64) Option {
	return func(c *Config) { c.TerminationTime = t }
}

// WithLogLevel sets the engine's log filtering level.
func WithLogLevel(l LogLevel) Option {
	return func(c *Config) { c.LogLevel = l }
}

// WithRunID overrides the generated run id, e.g. for reproducing a
// prior run's log/stats tag exactly.
func WithRunID(id string) Option {
	return func(c *Config) { c.RunID = id }
}

// WithArenaSize overrides the per-LP buddy allocator's block and total
// size exponents (see Config.ArenaBlockExp/ArenaTotalExp).
func WithArenaSize(blockExp, totalExp uint8) Option {
	return func(c *Config) {
		c.ArenaBlockExp = blockExp
		c.ArenaTotalExp = totalExp
	}
}

// defaults matches spec.md's documented single-node, single-thread
// fallback: one worker thread, one node, a 1ms GVT period, INFO
// logging, and no simulation-time termination cutoff.
func defaults() Config {
	return Config{
		NumThreads:    1,
		NumNodes:      1,
		NodeID:        0,
		GVTPeriod:     time.Millisecond,
		LogLevel:      LogInfo,
		RunID:         xid.New().String(),
		ArenaBlockExp: 4,  // 16 bytes, the smallest block a model can allocate
		ArenaTotalExp: 20, // 1 MiB per arena before a new one is created
	}
}

// New builds a Config starting from the documented defaults, then
// applies every option in order.
func New(options ...Option) Config {
	c := defaults()
	for _, o := range options {
		o(&c)
	}
	return c
}

// Load reads a Config from a TOML file at path, starting from the
// documented defaults (so a partial file only overrides what it
// names), then applies any additional options on top — letting a
// caller combine a checked-in base configuration with
// environment-specific overrides, analogous to the out-of-scope JSON
// reflection loader without reimplementing it.
func Load(path string, options ...Option) (Config, error) {
	c := defaults()
	if _, err := toml.DecodeFile(path, &c); err != nil {
		return Config{}, err
	}
	for _, o := range options {
		o(&c)
	}
	return c, nil
}
