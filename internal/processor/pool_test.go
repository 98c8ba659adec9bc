package processor

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"autosint/internal/agentsession"
	"autosint/internal/queue"
	"autosint/internal/store"
	"autosint/internal/tools"
)

func testLogger() *zerolog.Logger {
	l := zerolog.Nop()
	return &l
}

type fakeQueue struct {
	mu           sync.Mutex
	deliveries   []queue.Delivery
	dequeued     int
	acked        []string
	heartbeats   int
	reclaims     int
	dequeueErr   error
	blockForever bool
}

func (f *fakeQueue) Dequeue(ctx context.Context, consumerName string, blockMs int) (*queue.Delivery, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.dequeueErr != nil {
		return nil, f.dequeueErr
	}
	if f.dequeued >= len(f.deliveries) {
		return nil, nil
	}
	d := f.deliveries[f.dequeued]
	f.dequeued++
	return &d, nil
}

func (f *fakeQueue) Ack(ctx context.Context, stream, entryID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.acked = append(f.acked, entryID)
	return nil
}

func (f *fakeQueue) Heartbeat(ctx context.Context, processorID string, ttl time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.heartbeats++
	return nil
}

func (f *fakeQueue) Reclaim(ctx context.Context, consumerName string, minIdleMs int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reclaims++
	return nil
}

type fakeWorkOrderStore struct {
	mu          sync.Mutex
	transitions []store.WorkOrderStatus
	incremented int
}

func (f *fakeWorkOrderStore) TransitionWorkOrder(ctx context.Context, id string, status store.WorkOrderStatus, assignedProcessor *string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.transitions = append(f.transitions, status)
	return nil
}

func (f *fakeWorkOrderStore) IncrementClaimsProduced(ctx context.Context, id string, delta int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.incremented += delta
	return nil
}

func newTestPool(q *fakeQueue, s *fakeWorkOrderStore) *Pool {
	return &Pool{
		Queue: q,
		Store: s,
		Config: Config{
			PoolSize:          1,
			HeartbeatTTL:      20 * time.Millisecond,
			HeartbeatInterval: 5 * time.Millisecond,
		},
	}
}

func TestHandleDeliveryMapsCompletedOutcomeAndAcks(t *testing.T) {
	q := &fakeQueue{}
	s := &fakeWorkOrderStore{}
	p := newTestPool(q, s)
	p.runSession = func(ctx context.Context, msg queue.Message, hctx *tools.Context) agentsession.Outcome {
		hctx.Counters.ClaimsWritten.Add(3)
		return agentsession.Outcome{Kind: agentsession.Completed}
	}

	d := queue.Delivery{Stream: "workorders:normal", EntryID: "1-0", Message: queue.Message{WorkOrderID: "wo1"}}
	log := testLogger()
	p.handleDelivery(context.Background(), "processor-0", d, log)

	require.Equal(t, []store.WorkOrderStatus{store.WorkOrderProcessing, store.WorkOrderCompleted}, s.transitions)
	require.Equal(t, 3, s.incremented)
	require.Equal(t, []string{"1-0"}, q.acked)
}

func TestHandleDeliveryMapsFailedOutcomeButStillAcks(t *testing.T) {
	q := &fakeQueue{}
	s := &fakeWorkOrderStore{}
	p := newTestPool(q, s)
	p.runSession = func(ctx context.Context, msg queue.Message, hctx *tools.Context) agentsession.Outcome {
		return agentsession.Outcome{Kind: agentsession.Failed, Err: errors.New("boom")}
	}

	d := queue.Delivery{Stream: "workorders:high", EntryID: "2-0", Message: queue.Message{WorkOrderID: "wo2"}}
	p.handleDelivery(context.Background(), "processor-0", d, testLogger())

	require.Equal(t, []store.WorkOrderStatus{store.WorkOrderProcessing, store.WorkOrderFailed}, s.transitions)
	require.Equal(t, 0, s.incremented)
	require.Equal(t, []string{"2-0"}, q.acked)
}

func TestHandleDeliveryMaxTurnsAndMalformedMapToCompleted(t *testing.T) {
	for _, kind := range []agentsession.OutcomeKind{agentsession.MaxTurnsReached, agentsession.MalformedToolCallLimit} {
		q := &fakeQueue{}
		s := &fakeWorkOrderStore{}
		p := newTestPool(q, s)
		p.runSession = func(ctx context.Context, msg queue.Message, hctx *tools.Context) agentsession.Outcome {
			return agentsession.Outcome{Kind: kind}
		}
		d := queue.Delivery{Stream: "workorders:normal", EntryID: "3-0", Message: queue.Message{WorkOrderID: "wo3"}}
		p.handleDelivery(context.Background(), "processor-0", d, testLogger())
		require.Equal(t, store.WorkOrderCompleted, s.transitions[len(s.transitions)-1])
	}
}

func TestHandleDeliveryCancelsHeartbeatBeforeReturning(t *testing.T) {
	q := &fakeQueue{}
	s := &fakeWorkOrderStore{}
	p := newTestPool(q, s)
	started := make(chan struct{})
	p.runSession = func(ctx context.Context, msg queue.Message, hctx *tools.Context) agentsession.Outcome {
		close(started)
		time.Sleep(30 * time.Millisecond)
		return agentsession.Outcome{Kind: agentsession.Completed}
	}

	d := queue.Delivery{Stream: "workorders:normal", EntryID: "4-0", Message: queue.Message{WorkOrderID: "wo4"}}
	p.handleDelivery(context.Background(), "processor-0", d, testLogger())

	<-started
	require.GreaterOrEqual(t, q.heartbeats, 1)
}

func TestRunExitsWhenContextCancelled(t *testing.T) {
	q := &fakeQueue{}
	s := &fakeWorkOrderStore{}
	p := newTestPool(q, s)
	p.runSession = func(ctx context.Context, msg queue.Message, hctx *tools.Context) agentsession.Outcome {
		return agentsession.Outcome{Kind: agentsession.Completed}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Millisecond)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- p.Run(ctx) }()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("pool did not shut down after context cancellation")
	}
}

func TestOutcomeToWorkOrderStatus(t *testing.T) {
	require.Equal(t, store.WorkOrderCompleted, outcomeToWorkOrderStatus(agentsession.Completed))
	require.Equal(t, store.WorkOrderCompleted, outcomeToWorkOrderStatus(agentsession.MaxTurnsReached))
	require.Equal(t, store.WorkOrderCompleted, outcomeToWorkOrderStatus(agentsession.MalformedToolCallLimit))
	require.Equal(t, store.WorkOrderFailed, outcomeToWorkOrderStatus(agentsession.Failed))
}
