package rootsim

import (
	"io"

	"github.com/joeycumines/go-rootsim/config"
	"github.com/joeycumines/go-rootsim/metrics"
)

// engineSettings collects the engine-level concerns New needs before
// config.New resolves the simulation parameters proper: the log sink,
// an optional metrics collector, and the LP-to-node assignment.
type engineSettings struct {
	configOpts []config.Option
	logWriter  io.Writer
	metrics    *metrics.Collector
	nodeOf     func(LPID) int
}

// Option configures an Engine at construction time, in the teacher's
// functional-option idiom.
type Option func(*engineSettings)

// WithConfig appends config.Option values (config.WithThreads,
// config.WithGVTPeriod, ...) applied on top of config.New's documented
// defaults.
func WithConfig(opts ...config.Option) Option {
	return func(s *engineSettings) { s.configOpts = append(s.configOpts, opts...) }
}

// WithLogWriter sets the writer the engine's logger writes
// newline-delimited JSON to; default os.Stderr.
func WithLogWriter(w io.Writer) Option {
	return func(s *engineSettings) { s.logWriter = w }
}

// WithMetrics installs a metrics.Collector that the dispatch loop
// reports rollback, checkpoint and fossil-collection events to (see
// internal/dispatch.Recorder); optional, nil by default.
func WithMetrics(m *metrics.Collector) Option {
	return func(s *engineSettings) { s.metrics = m }
}

// WithNodeAssignment sets the function mapping a LP id to the id of
// the node that hosts it. Required whenever config.WithNodes
// configures more than one node; ignored (every LP treated as local to
// node 0) when the simulation is single-node.
func WithNodeAssignment(f func(LPID) int) Option {
	return func(s *engineSettings) { s.nodeOf = f }
}
