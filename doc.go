// Package rootsim implements a parallel discrete-event simulation engine
// using optimistic synchronization (the Time Warp protocol).
//
// A model registers a fixed set of logical processes (LPs), each with a
// private state and a Dispatcher that reacts to timestamped events.
// Worker goroutines speculatively advance LPs past the Global Virtual Time
// (GVT); causality violations are detected and repaired via rollback,
// anti-messages, and checkpoint restore.
package rootsim
