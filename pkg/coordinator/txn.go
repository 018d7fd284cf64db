package coordinator

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/Lzww0608/ConcordKV-sub005/pkg/txn"
	"github.com/Lzww0608/ConcordKV-sub005/pkg/types"
)

// Status is a distributed transaction's 2PC state:
//
//	Preparing --all Prepared--> Prepared --Commit--> Committed
//	    |                          |
//	    |--any NAK/timeout--> Aborting --Abort sent--> Aborted
type Status int

const (
	Preparing Status = iota
	Prepared
	Aborting
	Committed
	Aborted
)

func (s Status) String() string {
	switch s {
	case Preparing:
		return "preparing"
	case Prepared:
		return "prepared"
	case Aborting:
		return "aborting"
	case Committed:
		return "committed"
	case Aborted:
		return "aborted"
	default:
		return "unknown"
	}
}

// Terminal reports whether s is a terminal 2PC state.
func (s Status) Terminal() bool { return s == Committed || s == Aborted }

// DistTxn is a distributed transaction owned exclusively by its
// Coordinator: callers receive a
// borrowed reference from Begin and must never free it themselves.
type DistTxn struct {
	GlobalID      string
	CoordinatorID string
	Priority      types.Priority
	Deadline      time.Time
	Participants  []string
	LocalTxn      *txn.Txn // optional local transaction committed/rolled back alongside the distributed one

	PreparedCount  int32 // atomic
	CommittedCount int32 // atomic

	enqueuedAt time.Time
	seq        uint64 // FIFO tiebreaker assigned by the priority queue

	mu       sync.Mutex
	status   Status
	finished int32 // atomic CAS guard: exactly one goroutine drives the terminal phase
}

// Status returns the transaction's current state.
func (t *DistTxn) Status() Status {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.status
}

func (t *DistTxn) setStatus(s Status) {
	t.mu.Lock()
	t.status = s
	t.mu.Unlock()
}

// claimTerminal returns true exactly once across the transaction's
// lifetime: whichever of the scheduler or the timeout checker calls it
// first is the one that drives commitPhase/abortPhase, so a transaction
// is never terminated twice.
func (t *DistTxn) claimTerminal() bool {
	return atomic.CompareAndSwapInt32(&t.finished, 0, 1)
}
