package rootsim

import (
	"errors"

	"github.com/joeycumines/go-rootsim/internal/buddy"
)

// Sentinel errors for the public engine API, in the teacher's
// package-level `var Err... = errors.New(...)` idiom (see e.g.
// eventloop's ErrLoopAlreadyRunning).
var (
	// ErrAlreadyRunning is returned by Engine.Run if called more than
	// once concurrently.
	ErrAlreadyRunning = errors.New("rootsim: engine already running")

	// ErrNoLPs is returned by New if the model registers zero logical
	// processes.
	ErrNoLPs = errors.New("rootsim: no logical processes registered")

	// ErrUnknownLP is returned when a LP id passed to a public API call
	// was never registered with New.
	ErrUnknownLP = errors.New("rootsim: unknown logical process id")

	// ErrInvalidConfig is returned by New when the resolved
	// config.Config is not internally consistent (e.g. NumThreads <= 0).
	ErrInvalidConfig = errors.New("rootsim: invalid configuration")
)

// ErrBlockTooLarge is re-exported from internal/buddy: Handle.Malloc
// returns it for a request exceeding one arena's total capacity,
// matching spec.md section 7's "model-side allocation of a single
// block larger than one arena" case: reported to the model as a
// recoverable condition, not fatal.
var ErrBlockTooLarge = buddy.ErrBlockTooLarge
