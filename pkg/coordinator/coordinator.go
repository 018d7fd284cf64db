package coordinator

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"

	"github.com/Lzww0608/ConcordKV-sub005/pkg/kverrors"
	"github.com/Lzww0608/ConcordKV-sub005/pkg/log"
	"github.com/Lzww0608/ConcordKV-sub005/pkg/metrics"
	"github.com/Lzww0608/ConcordKV-sub005/pkg/txn"
	"github.com/Lzww0608/ConcordKV-sub005/pkg/types"
)

// maxDispatchWait bounds how long the coordinator waits for a single
// Transport call during commit/abort dispatch, once the transaction's own
// deadline no longer applies.
const maxDispatchWait = 1 * time.Second

// maxDispatchRetries bounds re-delivery of the Commit decision to one
// participant before giving up on it for statistics purposes.
const maxDispatchRetries = 2

// Stats summarizes cumulative coordinator activity.
type Stats struct {
	Committed uint64
	Aborted   uint64
	Timeouts  uint64
}

// Coordinator orchestrates 2PC for every distributed transaction it owns.
// It runs exactly three background threads
// (scheduler, heartbeat, timeout checker) and exclusively owns every
// DistTxn it creates until Close frees them.
type Coordinator struct {
	cfg    Config
	policy int32 // atomic SchedulePolicy

	queue *PriorityQueue

	mu   sync.RWMutex
	txns map[string]*DistTxn

	nodesMu  sync.Mutex
	nodes    map[string]time.Time
	registry []string // stable iteration order for heartbeats

	stats struct {
		committed uint64
		aborted   uint64
		timeouts  uint64
	}

	running int32 // atomic
	stopCh  chan struct{}
	wg      sync.WaitGroup
}

// New creates a Coordinator and starts its three background threads.
func New(cfg Config) (*Coordinator, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	cfg = cfg.withDefaults()

	c := &Coordinator{
		cfg:    cfg,
		queue:  NewPriorityQueue(cfg.PriorityQueueCapacity),
		txns:   make(map[string]*DistTxn),
		nodes:  make(map[string]time.Time),
		stopCh: make(chan struct{}),
	}
	atomic.StoreInt32(&c.policy, int32(cfg.SchedulePolicy))
	atomic.StoreInt32(&c.running, 1)

	c.wg.Add(3)
	go c.schedulerLoop()
	go c.heartbeatLoop()
	go c.timeoutLoop()

	metrics.Register("coordinator", true)
	return c, nil
}

// SetSchedulePolicy changes the scheduling policy. Idempotent and
// thread-safe.
func (c *Coordinator) SetSchedulePolicy(p SchedulePolicy) {
	atomic.StoreInt32(&c.policy, int32(p))
}

// SchedulePolicy returns the current scheduling policy. The priority queue
// itself always orders by priority-desc/FIFO-among-equals; under FIFO
// policy the coordinator additionally treats every transaction as the same
// priority at enqueue time so insertion order dominates.
func (c *Coordinator) SchedulePolicy() SchedulePolicy {
	return SchedulePolicy(atomic.LoadInt32(&c.policy))
}

// RegisterNode adds nodeID to the heartbeat registry.
func (c *Coordinator) RegisterNode(nodeID string) {
	c.nodesMu.Lock()
	defer c.nodesMu.Unlock()
	if _, ok := c.nodes[nodeID]; !ok {
		c.registry = append(c.registry, nodeID)
	}
	c.nodes[nodeID] = time.Now()
}

// LastSeen returns the last heartbeat-ack time recorded for nodeID.
func (c *Coordinator) LastSeen(nodeID string) (time.Time, bool) {
	c.nodesMu.Lock()
	defer c.nodesMu.Unlock()
	t, ok := c.nodes[nodeID]
	return t, ok
}

// Begin registers a new distributed transaction and enqueues it for the
// scheduler. The returned *DistTxn is borrowed: the coordinator owns it and
// frees it on Close; callers must not free it independently.
func (c *Coordinator) Begin(participants []string, priority types.Priority, deadline time.Duration, local *txn.Txn) (*DistTxn, error) {
	if atomic.LoadInt32(&c.running) == 0 {
		return nil, kverrors.New("coordinator.begin", kverrors.InvalidState)
	}
	effPriority := priority
	if c.SchedulePolicy() == FIFO {
		effPriority = types.PriorityNormal
	}

	dtx := &DistTxn{
		GlobalID:      uuid.NewString(),
		CoordinatorID: c.cfg.ID,
		Priority:      effPriority,
		Deadline:      time.Now().Add(deadline),
		Participants:  append([]string(nil), participants...),
		LocalTxn:      local,
		enqueuedAt:    time.Now(),
		status:        Preparing,
	}

	c.mu.Lock()
	c.txns[dtx.GlobalID] = dtx
	c.mu.Unlock()

	if err := c.queue.Enqueue(dtx, defaultEnqueueTimeoutMs*time.Millisecond); err != nil {
		c.mu.Lock()
		delete(c.txns, dtx.GlobalID)
		c.mu.Unlock()
		return nil, err
	}
	return dtx, nil
}

// Get returns the owned DistTxn for globalID, if the coordinator still
// tracks it.
func (c *Coordinator) Get(globalID string) (*DistTxn, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	dtx, ok := c.txns[globalID]
	return dtx, ok
}

// Stats returns a snapshot of cumulative coordinator counters.
func (c *Coordinator) Stats() Stats {
	return Stats{
		Committed: atomic.LoadUint64(&c.stats.committed),
		Aborted:   atomic.LoadUint64(&c.stats.aborted),
		Timeouts:  atomic.LoadUint64(&c.stats.timeouts),
	}
}

func (c *Coordinator) schedulerLoop() {
	defer c.wg.Done()
	for {
		select {
		case <-c.stopCh:
			return
		default:
		}
		dtx, err := c.queue.Dequeue(200 * time.Millisecond)
		if err != nil {
			continue
		}
		c.process(dtx)
	}
}

// process drives one dequeued transaction through prepare and then
// commit-or-abort. If the timeout checker has already marked it Aborting
// (or already claimed the terminal phase), process defers to that instead
// of re-running prepare.
func (c *Coordinator) process(dtx *DistTxn) {
	if dtx.Status() == Aborting {
		if dtx.claimTerminal() {
			c.abortPhase(dtx)
		}
		return
	}

	prepareStart := time.Now()
	allPrepared := true
	for _, p := range dtx.Participants {
		if !c.preparePeer(p, dtx) {
			allPrepared = false
		} else {
			atomic.AddInt32(&dtx.PreparedCount, 1)
		}
	}
	metrics.ObserveSince(prepareStart, metrics.CoordinatorPrepareDuration)

	if !dtx.claimTerminal() {
		return // timeout checker won the race and is driving termination
	}
	if allPrepared {
		dtx.setStatus(Prepared)
		c.commitPhase(dtx)
	} else {
		dtx.setStatus(Aborting)
		c.abortPhase(dtx)
	}
}

// preparePeer sends Prepare to one participant, bounded by the
// transaction's own deadline: no reply before the deadline is treated as
// Aborted.
func (c *Coordinator) preparePeer(nodeID string, dtx *DistTxn) bool {
	wait := time.Until(dtx.Deadline)
	if wait <= 0 {
		return false
	}
	return c.call(nodeID, Message{Kind: Prepare, GlobalID: dtx.GlobalID, Deadline: dtx.Deadline}, wait, PrepareAck)
}

// commitPhase commits the local transaction first, then dispatches Commit
// to every participant. committed_count is a statistic only: the
// transaction moves to Committed once the local commit and dispatch have
// happened, without waiting on participant ACKs.
func (c *Coordinator) commitPhase(dtx *DistTxn) {
	if dtx.LocalTxn != nil {
		if err := dtx.LocalTxn.Commit(); err != nil {
			log.WithCoordinatorID(c.cfg.ID).Error().Err(err).Msg("coordinator: local commit failed during 2PC commit phase")
		}
	}
	for _, p := range dtx.Participants {
		if c.dispatch(p, Message{Kind: Commit, GlobalID: dtx.GlobalID}) {
			atomic.AddInt32(&dtx.CommittedCount, 1)
		}
	}
	dtx.setStatus(Committed)
	atomic.AddUint64(&c.stats.committed, 1)
	metrics.CoordinatorTxnsTotal.WithLabelValues("committed").Inc()
}

// abortPhase rolls back the local transaction (if any) and dispatches
// Abort to every participant, transitioning to Aborted unconditionally on
// completion.
func (c *Coordinator) abortPhase(dtx *DistTxn) {
	if dtx.LocalTxn != nil && dtx.LocalTxn.Status() == txn.Active {
		if err := dtx.LocalTxn.Rollback(); err != nil {
			log.WithCoordinatorID(c.cfg.ID).Error().Err(err).Msg("coordinator: local rollback failed during 2PC abort phase")
		}
	}
	for _, p := range dtx.Participants {
		c.call(p, Message{Kind: Abort, GlobalID: dtx.GlobalID}, maxDispatchWait, Ack)
	}
	dtx.setStatus(Aborted)
	atomic.AddUint64(&c.stats.aborted, 1)
	metrics.CoordinatorTxnsTotal.WithLabelValues("aborted").Inc()
}

// dispatch delivers the Commit decision to one participant, retrying a
// failed Transport call a bounded number of times with exponential
// backoff: once the local commit has happened the decision should reach
// every reachable participant, but the retry must stay finite so a dead
// node cannot wedge the scheduler. Abort dispatch is deliberately
// single-shot: a participant that misses it aborts on its own deadline
// anyway, and abort must stay prompt.
func (c *Coordinator) dispatch(nodeID string, msg Message) bool {
	bo := backoff.WithMaxRetries(backoff.NewExponentialBackOff(), uint64(maxDispatchRetries))
	err := backoff.Retry(func() error {
		if c.call(nodeID, msg, maxDispatchWait, Ack) {
			return nil
		}
		return kverrors.New("coordinator.dispatch", kverrors.Timeout)
	}, bo)
	return err == nil
}

// call invokes Transport with a hard wait bound, enforced by the
// coordinator itself rather than trusted to the callback, so an
// unresponsive participant cannot hang the single scheduler thread.
func (c *Coordinator) call(nodeID string, msg Message, wait time.Duration, wantAck MessageKind) bool {
	resultCh := make(chan bool, 1)
	go func() {
		reply, err := c.cfg.Transport(nodeID, msg)
		resultCh <- err == nil && reply.Kind == wantAck
	}()
	select {
	case ok := <-resultCh:
		return ok
	case <-time.After(wait):
		return false
	}
}

func (c *Coordinator) heartbeatLoop() {
	defer c.wg.Done()
	ticker := time.NewTicker(time.Duration(c.cfg.HeartbeatIntervalS) * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			c.nodesMu.Lock()
			targets := append([]string(nil), c.registry...)
			c.nodesMu.Unlock()
			for _, nodeID := range targets {
				if c.call(nodeID, Message{Kind: Heartbeat}, maxDispatchWait, Ack) {
					c.nodesMu.Lock()
					c.nodes[nodeID] = time.Now()
					c.nodesMu.Unlock()
				}
			}
		case <-c.stopCh:
			return
		}
	}
}

// timeoutLoop scans every non-terminal transaction once per
// TimeoutCheckIntervalS, moving any past its deadline to Aborting and
// driving the abort phase itself if it wins the termination race.
func (c *Coordinator) timeoutLoop() {
	defer c.wg.Done()
	ticker := time.NewTicker(time.Duration(c.cfg.TimeoutCheckIntervalS) * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			c.sweepTimeouts()
		case <-c.stopCh:
			return
		}
	}
}

func (c *Coordinator) sweepTimeouts() {
	c.mu.RLock()
	candidates := make([]*DistTxn, 0, len(c.txns))
	for _, dtx := range c.txns {
		candidates = append(candidates, dtx)
	}
	c.mu.RUnlock()

	now := time.Now()
	for _, dtx := range candidates {
		if dtx.Status().Terminal() {
			continue
		}
		if now.Before(dtx.Deadline) {
			continue
		}
		dtx.setStatus(Aborting)
		atomic.AddUint64(&c.stats.timeouts, 1)
		metrics.CoordinatorTimeoutsTotal.Inc()
		if dtx.claimTerminal() {
			c.abortPhase(dtx)
		}
	}
}

// Close performs cooperative shutdown: clears the running
// flag, signals the scheduler/heartbeat/timeout threads, joins them, force-
// aborts any transaction that never reached a terminal state, then
// destroys the queue. The coordinator frees every owned DistTxn here.
func (c *Coordinator) Close() error {
	if !atomic.CompareAndSwapInt32(&c.running, 1, 0) {
		return nil
	}
	close(c.stopCh)
	c.wg.Wait()

	c.mu.Lock()
	remaining := make([]*DistTxn, 0, len(c.txns))
	for _, dtx := range c.txns {
		remaining = append(remaining, dtx)
	}
	c.txns = make(map[string]*DistTxn)
	c.mu.Unlock()

	for _, dtx := range remaining {
		if dtx.Status().Terminal() {
			continue
		}
		dtx.setStatus(Aborting)
		if dtx.claimTerminal() {
			c.abortPhase(dtx)
		}
	}

	c.queue.Close()
	metrics.Deregister("coordinator")
	return nil
}
