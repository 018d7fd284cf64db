package batch

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/Lzww0608/ConcordKV-sub005/pkg/engine"
	"github.com/Lzww0608/ConcordKV-sub005/pkg/kverrors"
	"github.com/Lzww0608/ConcordKV-sub005/pkg/log"
	"github.com/Lzww0608/ConcordKV-sub005/pkg/metrics"
	"github.com/Lzww0608/ConcordKV-sub005/pkg/types"
)

const (
	// DefaultMaxConcurrentBatches bounds the worker pool when Config leaves
	// MaxConcurrentBatches unset.
	DefaultMaxConcurrentBatches = 16
	// DefaultTimeoutMs is the default Wait timeout when a caller passes 0.
	DefaultTimeoutMs = 5000
)

// Config configures a Manager.
type Config struct {
	MaxBatchSize         int // ops per context; BatchFull past this
	MaxConcurrentBatches int // worker pool size; 0 picks DefaultMaxConcurrentBatches
	TimeoutMs            int // default Wait timeout; 0 picks DefaultTimeoutMs
}

func (c *Config) withDefaults() Config {
	out := *c
	if out.MaxConcurrentBatches <= 0 {
		out.MaxConcurrentBatches = DefaultMaxConcurrentBatches
	}
	if out.TimeoutMs <= 0 {
		out.TimeoutMs = DefaultTimeoutMs
	}
	return out
}

func (c *Config) validate() error {
	if c.MaxBatchSize <= 0 {
		return kverrors.New("batch.create", kverrors.InvalidArg)
	}
	return nil
}

// Manager hands out batch contexts and runs submitted batches on a bounded
// worker pool. Contexts are allocated fresh by Create; the manager keeps no
// pool of them and does not limit how many exist. The worker pool
// is a semaphore.Weighted gate rather than a fixed goroutine pool, which is
// the idiomatic golang.org/x/sync shape for "N concurrent tasks drawn from
// an unbounded stream of submissions".
type Manager struct {
	eng engine.Engine
	cfg Config
	sem *semaphore.Weighted
}

// NewManager creates a batch Manager over eng.
func NewManager(eng engine.Engine, cfg Config) (*Manager, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	cfg = cfg.withDefaults()
	return &Manager{eng: eng, cfg: cfg, sem: semaphore.NewWeighted(int64(cfg.MaxConcurrentBatches))}, nil
}

// Create returns a new Pending batch context bounded by the manager's
// configured MaxBatchSize.
func (m *Manager) Create() *Context {
	return &Context{
		mgr:    m,
		status: Pending,
		doneCh: make(chan struct{}),
	}
}

// Kind enumerates the per-op action a batch Op performs.
type Kind int

const (
	Put Kind = iota
	Get
	Delete
)

// Op is one batch-queued operation plus its result slot and per-op
// callback.
type Op struct {
	Kind   Kind
	Key    types.Key
	Value  types.Value // input for Put; populated with the result for Get
	Err    error
	onDone func(Op)
}

// Status is a batch context's lifecycle state.
type Status int

const (
	Pending Status = iota
	Submitted
	Completed
	Cancelled
)

func (s Status) String() string {
	switch s {
	case Pending:
		return "pending"
	case Submitted:
		return "submitted"
	case Completed:
		return "completed"
	case Cancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Context accumulates ops for one batch and tracks its lifecycle.
type Context struct {
	mgr *Manager

	mu     sync.Mutex
	status Status
	ops    []Op
	cancel bool

	completeCb func(*Context)
	doneCh     chan struct{}
}

// Status returns the context's current lifecycle state.
func (c *Context) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// Len returns the number of ops currently queued.
func (c *Context) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.ops)
}

func (c *Context) enqueue(op Op) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.status != Pending {
		return kverrors.New("batch.enqueue", kverrors.InvalidState)
	}
	if len(c.ops) >= c.mgr.cfg.MaxBatchSize {
		return kverrors.New("batch.enqueue", kverrors.BatchFull)
	}
	c.ops = append(c.ops, op)
	return nil
}

// Put queues a put of key=value; onDone, if non-nil, fires as the op
// retires during Submit's execution.
func (c *Context) Put(key types.Key, value types.Value, onDone func(Op)) error {
	return c.enqueue(Op{Kind: Put, Key: key.Clone(), Value: value.Clone(), onDone: onDone})
}

// Get queues a get of key.
func (c *Context) Get(key types.Key, onDone func(Op)) error {
	return c.enqueue(Op{Kind: Get, Key: key.Clone(), onDone: onDone})
}

// Delete queues a delete of key.
func (c *Context) Delete(key types.Key, onDone func(Op)) error {
	return c.enqueue(Op{Kind: Delete, Key: key.Clone(), onDone: onDone})
}

// Submit enqueues the batch for execution on the manager's worker pool.
// Ops retire in enqueue order, each firing its onDone callback as it
// retires; completeCb fires once after every op has retired or the batch
// is cancelled mid-flight.
//
// Submitting a batch that is no longer Pending (already submitted or
// cancelled) returns InvalidState. A Pending batch with no ops may be
// submitted; it completes immediately.
func (c *Context) Submit(completeCb func(*Context)) error {
	c.mu.Lock()
	if c.status != Pending {
		c.mu.Unlock()
		return kverrors.New("batch.submit", kverrors.InvalidState)
	}
	c.status = Submitted
	c.completeCb = completeCb
	c.mu.Unlock()

	metrics.BatchSubmittedTotal.Inc()
	go c.run()
	return nil
}

func (c *Context) run() {
	ctx := context.Background()
	if err := c.mgr.sem.Acquire(ctx, 1); err != nil {
		log.Logger.Error().Err(err).Msg("batch: semaphore acquire failed")
		return
	}
	defer c.mgr.sem.Release(1)

	c.mu.Lock()
	ops := c.ops
	c.mu.Unlock()

	for i := range ops {
		c.mu.Lock()
		cancelled := c.cancel
		c.mu.Unlock()
		if cancelled {
			break
		}
		op := &ops[i]
		switch op.Kind {
		case Put:
			op.Err = c.mgr.eng.Put(op.Key, op.Value)
		case Get:
			v, err := c.mgr.eng.Get(op.Key)
			op.Value, op.Err = v, err
		case Delete:
			op.Err = c.mgr.eng.Delete(op.Key)
		}
		if op.onDone != nil {
			op.onDone(*op)
		}
	}

	c.mu.Lock()
	if c.cancel {
		c.status = Cancelled
	} else {
		c.status = Completed
	}
	cb := c.completeCb
	finalStatus := c.status
	c.mu.Unlock()

	if finalStatus == Completed {
		metrics.BatchCompletedTotal.Inc()
	} else {
		metrics.BatchCancelledTotal.Inc()
	}
	if cb != nil {
		cb(c)
	}
	close(c.doneCh)
}

// Cancel cancels the batch. Valid from Pending or Submitted; a Submitted
// batch already mid-execution stops before its next op and finishes in
// the Cancelled state.
func (c *Context) Cancel() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch c.status {
	case Pending:
		c.status = Cancelled
		close(c.doneCh)
		metrics.BatchCancelledTotal.Inc()
		return nil
	case Submitted:
		c.cancel = true
		return nil
	default:
		return kverrors.New("batch.cancel", kverrors.InvalidState)
	}
}

// Wait blocks until the batch reaches Completed or Cancelled, or timeout
// elapses (kverrors.Timeout). A zero timeout uses the manager's configured
// default.
func (c *Context) Wait(timeout time.Duration) error {
	if timeout <= 0 {
		timeout = time.Duration(c.mgr.cfg.TimeoutMs) * time.Millisecond
	}
	select {
	case <-c.doneCh:
		return nil
	case <-time.After(timeout):
		return kverrors.New("batch.wait", kverrors.Timeout)
	}
}
