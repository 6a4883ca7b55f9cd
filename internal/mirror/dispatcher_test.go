package mirror

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDispatcherProcessesSequentially(t *testing.T) {
	var (
		mu      sync.Mutex
		order   []int64
		running int32
		overlap int32
	)
	done := make(chan struct{})

	d := NewDispatcher(10, func(ctx context.Context, msg *Message) {
		if atomic.AddInt32(&running, 1) > 1 {
			atomic.StoreInt32(&overlap, 1)
		}
		time.Sleep(5 * time.Millisecond)
		atomic.AddInt32(&running, -1)

		mu.Lock()
		order = append(order, msg.ID)
		n := len(order)
		mu.Unlock()
		if n == 5 {
			close(done)
		}
	})
	defer d.Shutdown()

	for i := int64(1); i <= 5; i++ {
		require.NoError(t, d.Submit(context.Background(), &Message{ID: i}))
	}

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for dispatcher")
	}

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []int64{1, 2, 3, 4, 5}, order)
	assert.Zero(t, atomic.LoadInt32(&overlap))
}

func TestDispatcherRecoversPanic(t *testing.T) {
	handled := make(chan int64, 2)
	d := NewDispatcher(2, func(ctx context.Context, msg *Message) {
		if msg.ID == 1 {
			panic("boom")
		}
		handled <- msg.ID
	})
	defer d.Shutdown()

	require.NoError(t, d.Submit(context.Background(), &Message{ID: 1}))
	require.NoError(t, d.Submit(context.Background(), &Message{ID: 2}))

	select {
	case id := <-handled:
		assert.Equal(t, int64(2), id)
	case <-time.After(2 * time.Second):
		t.Fatal("handler after panic was not executed")
	}
}

func TestDispatcherSubmitAfterShutdown(t *testing.T) {
	d := NewDispatcher(1, func(ctx context.Context, msg *Message) {})
	d.Shutdown()
	d.Shutdown()

	err := d.Submit(context.Background(), &Message{ID: 1})
	assert.ErrorIs(t, err, ErrDispatcherClosed)
}

func TestDispatcherSubmitBlocksUntilContextDone(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{})
	d := NewDispatcher(1, func(ctx context.Context, msg *Message) {
		if msg.ID == 1 {
			close(started)
		}
		<-release
	})
	defer func() {
		close(release)
		d.Shutdown()
	}()

	require.NoError(t, d.Submit(context.Background(), &Message{ID: 1}))
	<-started
	require.NoError(t, d.Submit(context.Background(), &Message{ID: 2}))
	assert.Equal(t, 1, d.Pending())

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := d.Submit(ctx, &Message{ID: 3})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestTimerPacer(t *testing.T) {
	var p TimerPacer

	start := time.Now()
	require.NoError(t, p.Pace(context.Background(), 20*time.Millisecond))
	assert.GreaterOrEqual(t, time.Since(start), 20*time.Millisecond)

	require.NoError(t, p.Pace(context.Background(), 0))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, p.Pace(ctx, time.Hour), context.Canceled)
	assert.ErrorIs(t, p.Pace(ctx, 0), context.Canceled)
}

func TestStatsSnapshotReset(t *testing.T) {
	s := NewStats()
	assert.Zero(t, s.Snapshot(false).AvgLatencySeconds)

	s.ObserveDelivery(KindText, "success", time.Second)
	s.ObserveDelivery(KindPhoto, "failed", 3*time.Second)

	m := s.Snapshot(true)
	assert.Equal(t, 2, m.TotalMessages)
	assert.Equal(t, 1, m.SuccessfulMessages)
	assert.Equal(t, 1, m.FailedMessages)
	assert.InDelta(t, 2.0, m.AvgLatencySeconds, 1e-9)

	assert.Zero(t, s.Snapshot(false).TotalMessages)
}
