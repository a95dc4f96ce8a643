// Package fec implements the Fair Exclusion Coordinator: a single-permit,
// FIFO, bounded-wait admission primitive guarding the file-operation
// critical section (spec §4.1).
package fec

import (
	"container/heap"
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// TicketState is the per-ticket state machine: ENQUEUED -> (HELD |
// CANCELLED | TIMED_OUT); HELD -> RELEASED. Terminal states never
// transition again.
type TicketState int32

const (
	StateEnqueued TicketState = iota
	StateHeld
	StateCancelled
	StateTimedOut
	StateReleased
)

func (s TicketState) String() string {
	switch s {
	case StateEnqueued:
		return "enqueued"
	case StateHeld:
		return "held"
	case StateCancelled:
		return "cancelled"
	case StateTimedOut:
		return "timed_out"
	case StateReleased:
		return "released"
	default:
		return "unknown"
	}
}

var (
	// ErrCancelled is returned by Enter when the caller's context is
	// canceled before admission.
	ErrCancelled = errors.New("fec: wait cancelled")
	// ErrTimedOut is returned by TryEnter when the ticket is not granted
	// within the requested timeout.
	ErrTimedOut = errors.New("fec: wait timed out")
)

// Ticket is the opaque handle returned by Enter/TryEnter (spec §3,
// WaitTicket).
type Ticket struct {
	ID         uuid.UUID
	HolderID   string
	EnqueuedAt time.Time

	state TicketState
	w     *waiter
}

// State returns the ticket's current state.
func (t *Ticket) State() TicketState {
	return TicketState(atomic.LoadInt32((*int32)(&t.state)))
}

// Coordinator is the turnstile: at any instant either zero holders (queue
// empty or containing waiters), or exactly one holder.
type Coordinator struct {
	mu     sync.Mutex
	holder *Ticket
	queue  waiterHeap
	nextSeq uint64

	totalAdmissions int64
	sumWaitMs       float64
	maxWaitMs       float64

	starvationWarn time.Duration
	log            zerolog.Logger
}

// New creates a Coordinator. starvationWarn is the diagnostic threshold
// (spec §6.4 STARVATION_WARN, default 5s) past which a still-waiting
// caller gets a structured warning log — fairness already guarantees it
// will eventually be admitted, so this is purely observability.
func New(starvationWarn time.Duration, log zerolog.Logger) *Coordinator {
	c := &Coordinator{starvationWarn: starvationWarn, log: log}
	heap.Init(&c.queue)
	return c
}

// Enter blocks the caller until it is the unique holder, or returns
// ErrCancelled if ctx is canceled first.
func (c *Coordinator) Enter(ctx context.Context, holderID string) (*Ticket, error) {
	return c.enter(ctx, holderID, nil)
}

// TryEnter is Enter bounded by timeout; it returns ErrTimedOut if the
// ticket is not granted within timeout.
func (c *Coordinator) TryEnter(ctx context.Context, holderID string, timeout time.Duration) (*Ticket, error) {
	tctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ticket, err := c.enter(tctx, holderID, nil)
	if err != nil {
		if errors.Is(err, ErrCancelled) && ctx.Err() == nil {
			// The timeout fired, not the caller's own context.
			return nil, ErrTimedOut
		}
		return nil, err
	}
	return ticket, nil
}

func (c *Coordinator) enter(ctx context.Context, holderID string, _ *struct{}) (*Ticket, error) {
	w := &waiter{
		holderID:   holderID,
		enqueuedAt: time.Now().UnixNano(),
		grant:      make(chan struct{}),
	}

	ticket := &Ticket{
		ID:         uuid.New(),
		HolderID:   holderID,
		EnqueuedAt: time.Unix(0, w.enqueuedAt),
		state:      StateEnqueued,
		w:          w,
	}
	w.ticket = ticket

	c.mu.Lock()
	w.seq = c.nextSeq
	c.nextSeq++
	if c.holder == nil && c.queue.Len() == 0 {
		c.grantLocked(ticket, w)
		c.mu.Unlock()
		return ticket, nil
	}
	heap.Push(&c.queue, w)
	c.mu.Unlock()

	var warnTimer *time.Timer
	var warnCh <-chan time.Time
	if c.starvationWarn > 0 {
		warnTimer = time.NewTimer(c.starvationWarn)
		warnCh = warnTimer.C
		defer warnTimer.Stop()
	}

	for {
		select {
		case <-w.grant:
			atomic.StoreInt32((*int32)(&ticket.state), int32(StateHeld))
			return ticket, nil
		case <-warnCh:
			c.log.Warn().
				Str("holder_id", holderID).
				Dur("waited", time.Since(ticket.EnqueuedAt)).
				Msg("fec: caller waiting past starvation threshold")
			warnCh = nil
		case <-ctx.Done():
			c.mu.Lock()
			removeWaiter(&c.queue, w)
			c.mu.Unlock()
			select {
			case <-w.grant:
				// Granted concurrently with cancellation; honor the grant,
				// the caller now owns the permit and must release it.
				atomic.StoreInt32((*int32)(&ticket.state), int32(StateHeld))
				return ticket, nil
			default:
				atomic.StoreInt32((*int32)(&ticket.state), int32(StateCancelled))
				return nil, ErrCancelled
			}
		}
	}
}

// grantLocked makes w/ticket the current holder. Caller must hold c.mu.
func (c *Coordinator) grantLocked(ticket *Ticket, w *waiter) {
	atomic.StoreInt32((*int32)(&ticket.state), int32(StateHeld))
	c.holder = ticket
	waited := time.Since(time.Unix(0, w.enqueuedAt))
	waitedMs := float64(waited.Microseconds()) / 1000.0
	c.totalAdmissions++
	c.sumWaitMs += waitedMs
	if waitedMs > c.maxWaitMs {
		c.maxWaitMs = waitedMs
	}
}

// Leave releases the permit, admitting the head of the queue. It is
// idempotent: releasing an already-released ticket is a no-op, and a
// scoped Do wraps it so release happens on every exit path including
// panic.
func (c *Coordinator) Leave(ticket *Ticket) {
	if ticket == nil {
		return
	}
	if !atomic.CompareAndSwapInt32((*int32)(&ticket.state), int32(StateHeld), int32(StateReleased)) {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.holder == ticket {
		c.holder = nil
	}

	if c.queue.Len() == 0 {
		return
	}
	next := heap.Pop(&c.queue).(*waiter)
	// Grant the caller's own ticket in place: the blocked enter() goroutine
	// holds this exact *Ticket and will call Leave with it, so c.holder
	// must be set to it rather than a freshly-minted one the caller never
	// sees (that would leave c.holder permanently dangling once this
	// waiter later releases).
	c.grantLocked(next.ticket, next)
	close(next.grant)
}

// Do is the scoped acquisition form required by spec §4.1/§9: it guarantees
// Leave runs on every exit path, including a panic inside fn, which is
// re-raised after release.
func (c *Coordinator) Do(ctx context.Context, holderID string, fn func() error) error {
	ticket, err := c.Enter(ctx, holderID)
	if err != nil {
		return err
	}
	defer c.Leave(ticket)
	return fn()
}

// WaiterInfo is one entry of Snapshot's waiting list.
type WaiterInfo struct {
	Name     string
	WaitedMs float64
}

// Snapshot is the read-only view described in spec §4.1.
type Snapshot struct {
	HeldBy          string
	Waiting         []WaiterInfo
	TotalAdmissions int64
	MeanWaitMs      float64
	MaxWaitMs       float64
}

// Snapshot returns a point-in-time view of the coordinator.
func (c *Coordinator) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := Snapshot{
		TotalAdmissions: c.totalAdmissions,
		MaxWaitMs:       c.maxWaitMs,
	}
	if c.holder != nil {
		s.HeldBy = c.holder.HolderID
	}
	if c.totalAdmissions > 0 {
		s.MeanWaitMs = c.sumWaitMs / float64(c.totalAdmissions)
	}

	now := time.Now()
	waiting := make([]WaiterInfo, 0, c.queue.Len())
	// Copy-sort by seq to report in FIFO order without mutating the heap.
	sorted := append(waiterHeap(nil), c.queue...)
	for i := 0; i < len(sorted); i++ {
		for j := i + 1; j < len(sorted); j++ {
			if sorted[j].seq < sorted[i].seq {
				sorted[i], sorted[j] = sorted[j], sorted[i]
			}
		}
	}
	for _, w := range sorted {
		waiting = append(waiting, WaiterInfo{
			Name:     w.holderID,
			WaitedMs: float64(now.Sub(time.Unix(0, w.enqueuedAt)).Microseconds()) / 1000.0,
		})
	}
	s.Waiting = waiting
	return s
}
