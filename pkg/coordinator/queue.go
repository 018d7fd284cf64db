package coordinator

import (
	"container/heap"
	"sync"
	"time"

	"github.com/Lzww0608/ConcordKV-sub005/pkg/kverrors"
)

// DefaultQueueCapacity is used when a non-positive capacity is configured.
const DefaultQueueCapacity = 1024

// pollInterval bounds how promptly a blocked Enqueue/Dequeue notices both a
// deadline expiry and the opposing operation's progress; it is the
// concrete mechanism behind the two condition variables' "retry" framing
// without a per-wait timer goroutine per call.
const pollInterval = 20 * time.Millisecond

type pqItem struct {
	tx  *DistTxn
	seq uint64
}

// itemHeap orders by priority descending, then insertion order ascending.
type itemHeap []*pqItem

func (h itemHeap) Len() int { return len(h) }
func (h itemHeap) Less(i, j int) bool {
	if h[i].tx.Priority != h[j].tx.Priority {
		return h[i].tx.Priority > h[j].tx.Priority
	}
	return h[i].seq < h[j].seq
}
func (h itemHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *itemHeap) Push(x interface{}) { *h = append(*h, x.(*pqItem)) }
func (h *itemHeap) Pop() interface{} {
	old := *h
	n := len(old)
	it := old[n-1]
	*h = old[:n-1]
	return it
}

// PriorityQueue is the bounded-capacity scheduling queue backing the
// coordinator's Scheduler thread. It is thread-safe via a
// mutex with two condition variables (not-full, not-empty).
type PriorityQueue struct {
	mu       sync.Mutex
	notFull  *sync.Cond
	notEmpty *sync.Cond
	items    itemHeap
	capacity int
	nextSeq  uint64

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// NewPriorityQueue creates a queue bounded to capacity (clamped to
// DefaultQueueCapacity if non-positive).
func NewPriorityQueue(capacity int) *PriorityQueue {
	if capacity <= 0 {
		capacity = DefaultQueueCapacity
	}
	q := &PriorityQueue{capacity: capacity, stopCh: make(chan struct{})}
	q.notFull = sync.NewCond(&q.mu)
	q.notEmpty = sync.NewCond(&q.mu)
	q.wg.Add(1)
	go q.ticker()
	return q
}

// ticker periodically rebroadcasts both condition variables so a blocked
// Enqueue/Dequeue call notices an elapsed deadline without a dedicated
// timer goroutine per call.
func (q *PriorityQueue) ticker() {
	defer q.wg.Done()
	t := time.NewTicker(pollInterval)
	defer t.Stop()
	for {
		select {
		case <-t.C:
			q.mu.Lock()
			q.notFull.Broadcast()
			q.notEmpty.Broadcast()
			q.mu.Unlock()
		case <-q.stopCh:
			return
		}
	}
}

// Enqueue blocks while the queue is at capacity, retrying until timeout
// elapses, then returns kverrors.QueueFull.
func (q *PriorityQueue) Enqueue(tx *DistTxn, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	q.mu.Lock()
	defer q.mu.Unlock()
	for len(q.items) >= q.capacity {
		if time.Now().After(deadline) {
			return kverrors.New("coordinator.queue.enqueue", kverrors.QueueFull)
		}
		q.notFull.Wait()
	}
	tx.seq = q.nextSeq
	q.nextSeq++
	heap.Push(&q.items, &pqItem{tx: tx, seq: tx.seq})
	q.notEmpty.Signal()
	return nil
}

// Dequeue blocks until an item is available or timeout elapses, returning
// kverrors.Timeout on expiry. Ordering is priority-desc, FIFO among equals.
func (q *PriorityQueue) Dequeue(timeout time.Duration) (*DistTxn, error) {
	deadline := time.Now().Add(timeout)
	q.mu.Lock()
	defer q.mu.Unlock()
	for len(q.items) == 0 {
		if time.Now().After(deadline) {
			return nil, kverrors.New("coordinator.queue.dequeue", kverrors.Timeout)
		}
		q.notEmpty.Wait()
	}
	it := heap.Pop(&q.items).(*pqItem)
	q.notFull.Signal()
	return it.tx, nil
}

// Size returns the current item count. Never exceeds capacity.
func (q *PriorityQueue) Size() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Close stops the internal ticker goroutine. It does not drain items.
func (q *PriorityQueue) Close() {
	close(q.stopCh)
	q.wg.Wait()
}
