// Package coordinator implements the distributed transaction coordinator:
// a two-phase-commit state machine, a priority scheduling queue, and three
// background threads (scheduler, heartbeat, timeout checker) per
// coordinator instance. The coordinator never opens a
// socket; message delivery is a caller-registered Transport callback, and
// the Raft/replication layer that consumes this package is exactly that
// caller.
package coordinator
