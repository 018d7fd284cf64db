package coordinator

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Lzww0608/ConcordKV-sub005/pkg/types"
)

func alwaysAck(kind func(MessageKind) MessageKind) Transport {
	return func(nodeID string, msg Message) (Message, error) {
		return Message{Kind: kind(msg.Kind), GlobalID: msg.GlobalID}, nil
	}
}

func ackAs(ack MessageKind) Transport {
	return alwaysAck(func(MessageKind) MessageKind { return ack })
}

func TestTwoPCSuccess(t *testing.T) {
	transport := ackAs(PrepareAck) // Commit/Abort dispatch also checks Ack below via wrapper
	var callCount sync.Map
	wrapped := func(nodeID string, msg Message) (Message, error) {
		switch msg.Kind {
		case Prepare:
			return Message{Kind: PrepareAck}, nil
		case Commit, Abort, Heartbeat:
			callCount.Store(nodeID, true)
			return Message{Kind: Ack}, nil
		}
		return transport(nodeID, msg)
	}

	c, err := New(Config{ID: "coord-1", Transport: wrapped})
	require.NoError(t, err)
	defer c.Close()

	dtx, err := c.Begin([]string{"p1", "p2", "p3"}, types.PriorityNormal, 5*time.Second, nil)
	require.NoError(t, err)

	require.Eventually(t, func() bool { return dtx.Status().Terminal() }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, Committed, dtx.Status())
	assert.Equal(t, int32(3), dtx.CommittedCount)
	assert.Equal(t, uint64(1), c.Stats().Committed)
	assert.Equal(t, uint64(0), c.Stats().Aborted)
}

func TestTwoPCPrepareFailure(t *testing.T) {
	transport := func(nodeID string, msg Message) (Message, error) {
		if msg.Kind == Prepare {
			if nodeID == "p2" {
				return Message{Kind: Abort}, nil // NAK
			}
			return Message{Kind: PrepareAck}, nil
		}
		return Message{Kind: Ack}, nil
	}

	c, err := New(Config{ID: "coord-2", Transport: transport})
	require.NoError(t, err)
	defer c.Close()

	dtx, err := c.Begin([]string{"p1", "p2", "p3"}, types.PriorityNormal, 5*time.Second, nil)
	require.NoError(t, err)

	require.Eventually(t, func() bool { return dtx.Status().Terminal() }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, Aborted, dtx.Status())
	assert.Equal(t, uint64(1), c.Stats().Aborted)
}

func TestTwoPCNonResponsiveParticipantAbortsWithinDeadline(t *testing.T) {
	transport := func(nodeID string, msg Message) (Message, error) {
		if nodeID == "slow" {
			select {} // never responds
		}
		return Message{Kind: PrepareAck}, nil
	}

	c, err := New(Config{ID: "coord-3", Transport: transport})
	require.NoError(t, err)
	defer c.Close()

	start := time.Now()
	dtx, err := c.Begin([]string{"slow"}, types.PriorityNormal, 100*time.Millisecond, nil)
	require.NoError(t, err)

	require.Eventually(t, func() bool { return dtx.Status().Terminal() }, 2*time.Second, 10*time.Millisecond)
	assert.Less(t, time.Since(start), 2*time.Second)
	assert.Equal(t, Aborted, dtx.Status())
}

func TestPriorityOrderingUrgentFirst(t *testing.T) {
	transport := func(nodeID string, msg Message) (Message, error) {
		if msg.Kind == Prepare {
			time.Sleep(20 * time.Millisecond)
			return Message{Kind: PrepareAck}, nil
		}
		return Message{Kind: Ack}, nil
	}

	c, err := New(Config{ID: "coord-4", Transport: transport, SchedulePolicy: Priority})
	require.NoError(t, err)
	defer c.Close()

	order := []types.Priority{types.PriorityLow, types.PriorityNormal, types.PriorityHigh, types.PriorityUrgent}
	txns := make([]*DistTxn, len(order))
	var wg sync.WaitGroup
	for i, p := range order {
		wg.Add(1)
		go func(i int, p types.Priority) {
			defer wg.Done()
			dtx, err := c.Begin([]string{"p1"}, p, 3*time.Second, nil)
			require.NoError(t, err)
			txns[i] = dtx
		}(i, p)
	}
	wg.Wait()

	var urgent *DistTxn
	for i, p := range order {
		if p == types.PriorityUrgent {
			urgent = txns[i]
		}
	}
	require.Eventually(t, func() bool { return urgent.Status().Terminal() }, 3*time.Second, 5*time.Millisecond)

	low := txns[0]
	assert.False(t, low.Status().Terminal(), "the Low-priority txn should not have finished before Urgent")
}

func TestPriorityQueueOrderingAndCapacity(t *testing.T) {
	q := NewPriorityQueue(2)
	defer q.Close()

	require.NoError(t, q.Enqueue(&DistTxn{Priority: types.PriorityLow}, time.Second))
	require.NoError(t, q.Enqueue(&DistTxn{Priority: types.PriorityHigh}, time.Second))

	start := time.Now()
	err := q.Enqueue(&DistTxn{Priority: types.PriorityNormal}, 200*time.Millisecond)
	require.Error(t, err)
	assert.GreaterOrEqual(t, time.Since(start), 190*time.Millisecond)

	first, err := q.Dequeue(time.Second)
	require.NoError(t, err)
	assert.Equal(t, types.PriorityHigh, first.Priority)
}

func TestCoordinatorShutdownFinalizesAllTxns(t *testing.T) {
	hang := make(chan struct{})
	transport := func(nodeID string, msg Message) (Message, error) {
		<-hang
		return Message{}, nil
	}
	c, err := New(Config{ID: "coord-5", Transport: transport})
	require.NoError(t, err)

	dtx, err := c.Begin([]string{"p1"}, types.PriorityNormal, 50*time.Millisecond, nil)
	require.NoError(t, err)

	require.NoError(t, c.Close())
	assert.True(t, dtx.Status().Terminal())
	assert.NotEqual(t, Prepared, dtx.Status())
	close(hang)
}
