package fec

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMutualExclusionUnderConcurrency(t *testing.T) {
	c := New(0, zerolog.Nop())

	const workers = 20
	const rounds = 25
	var inSection int32
	var maxObserved int32
	var wg sync.WaitGroup

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			for r := 0; r < rounds; r++ {
				err := c.Do(context.Background(), "worker", func() error {
					cur := atomic.AddInt32(&inSection, 1)
					for {
						old := atomic.LoadInt32(&maxObserved)
						if cur <= old || atomic.CompareAndSwapInt32(&maxObserved, old, cur) {
							break
						}
					}
					atomic.AddInt32(&inSection, -1)
					return nil
				})
				assert.NoError(t, err)
			}
		}(i)
	}
	wg.Wait()

	assert.EqualValues(t, 1, maxObserved, "at most one holder must ever be in the critical section")
	snap := c.Snapshot()
	assert.EqualValues(t, workers*rounds, snap.TotalAdmissions)
}

func TestFIFOAdmissionOrder(t *testing.T) {
	c := New(0, zerolog.Nop())

	first, err := c.Enter(context.Background(), "first")
	require.NoError(t, err)

	var order []string
	var mu sync.Mutex
	var wg sync.WaitGroup

	names := []string{"second", "third", "fourth"}
	tickets := make(chan *Ticket, len(names))
	for _, name := range names {
		wg.Add(1)
		go func(name string) {
			defer wg.Done()
			ticket, err := c.Enter(context.Background(), name)
			require.NoError(t, err)
			mu.Lock()
			order = append(order, name)
			mu.Unlock()
			tickets <- ticket
		}(name)
		// Give the enqueue a moment to land in seq order before the next
		// goroutine starts racing for the queue.
		time.Sleep(20 * time.Millisecond)
	}

	c.Leave(first)
	for range names {
		ticket := <-tickets
		c.Leave(ticket)
	}
	wg.Wait()

	assert.Equal(t, names, order)
}

func TestEnterHonorsContextCancellation(t *testing.T) {
	c := New(0, zerolog.Nop())

	holder, err := c.Enter(context.Background(), "holder")
	require.NoError(t, err)
	defer c.Leave(holder)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := c.Enter(ctx, "impatient")
		done <- err
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, ErrCancelled)
	case <-time.After(time.Second):
		t.Fatal("Enter did not observe cancellation")
	}

	snap := c.Snapshot()
	assert.Empty(t, snap.Waiting, "cancelled waiter must be removed from the queue")
}

func TestTryEnterTimesOut(t *testing.T) {
	c := New(0, zerolog.Nop())

	holder, err := c.Enter(context.Background(), "holder")
	require.NoError(t, err)
	defer c.Leave(holder)

	_, err = c.TryEnter(context.Background(), "impatient", 30*time.Millisecond)
	assert.ErrorIs(t, err, ErrTimedOut)
}

func TestLeaveIsIdempotent(t *testing.T) {
	c := New(0, zerolog.Nop())

	ticket, err := c.Enter(context.Background(), "holder")
	require.NoError(t, err)

	c.Leave(ticket)
	assert.NotPanics(t, func() { c.Leave(ticket) })

	snap := c.Snapshot()
	assert.Empty(t, snap.HeldBy)
}

func TestDoReleasesOnPanic(t *testing.T) {
	c := New(0, zerolog.Nop())

	assert.Panics(t, func() {
		_ = c.Do(context.Background(), "holder", func() error {
			panic("boom")
		})
	})

	// The permit must have been released despite the panic.
	ticket, err := c.TryEnter(context.Background(), "next", 100*time.Millisecond)
	require.NoError(t, err)
	c.Leave(ticket)
}

// TestStarvationWarningDoesNotBlockEventualAdmission mirrors the spec
// scenario: STARVATION_WARN=100ms, a holder sleeps 300ms before releasing,
// and a waiter entering 50ms later crosses the threshold after 100ms of
// waiting (150ms after H entered) but is still admitted once the holder
// releases.
func TestStarvationWarningDoesNotBlockEventualAdmission(t *testing.T) {
	c := New(100*time.Millisecond, zerolog.Nop())

	holder, err := c.Enter(context.Background(), "H")
	require.NoError(t, err)

	go func() {
		time.Sleep(300 * time.Millisecond)
		c.Leave(holder)
	}()

	time.Sleep(50 * time.Millisecond)
	start := time.Now()
	waiterTicket, err := c.Enter(context.Background(), "W")
	elapsed := time.Since(start)

	require.NoError(t, err)
	assert.GreaterOrEqual(t, elapsed, 200*time.Millisecond)
	c.Leave(waiterTicket)
}

func TestSnapshotReportsWaitersInFIFOOrder(t *testing.T) {
	c := New(0, zerolog.Nop())

	holder, err := c.Enter(context.Background(), "holder")
	require.NoError(t, err)

	done := make(chan struct{})
	go func() {
		ticket, err := c.Enter(context.Background(), "alpha")
		assert.NoError(t, err)
		<-done
		c.Leave(ticket)
	}()
	time.Sleep(10 * time.Millisecond)
	go func() {
		ticket, err := c.Enter(context.Background(), "beta")
		assert.NoError(t, err)
		<-done
		c.Leave(ticket)
	}()
	time.Sleep(10 * time.Millisecond)

	snap := c.Snapshot()
	assert.Equal(t, "holder", snap.HeldBy)
	require.Len(t, snap.Waiting, 2)
	assert.Equal(t, "alpha", snap.Waiting[0].Name)
	assert.Equal(t, "beta", snap.Waiting[1].Name)

	close(done)
	c.Leave(holder)
}
