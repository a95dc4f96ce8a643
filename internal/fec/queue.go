package fec

import "container/heap"

// waiter is one pending enqueued caller. The queue orders waiters strictly
// by seq (assigned at enqueue time), giving pure FIFO admission — the same
// container/heap idiom the teacher's order book uses for price-time
// priority, specialized here to a single dimension: enqueue order.
type waiter struct {
	seq        uint64
	holderID   string
	enqueuedAt int64 // UnixNano, monotonic via time.Now().UnixNano()
	grant      chan struct{}
	index      int
	ticket     *Ticket // the caller's own ticket, granted in place by Leave
}

// waiterHeap implements heap.Interface, ordered by ascending seq so the
// earliest-enqueued waiter is always at the root.
type waiterHeap []*waiter

func (h waiterHeap) Len() int            { return len(h) }
func (h waiterHeap) Less(i, j int) bool  { return h[i].seq < h[j].seq }
func (h waiterHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *waiterHeap) Push(x interface{}) {
	w := x.(*waiter)
	w.index = len(*h)
	*h = append(*h, w)
}

func (h *waiterHeap) Pop() interface{} {
	old := *h
	n := len(old)
	w := old[n-1]
	old[n-1] = nil
	w.index = -1
	*h = old[:n-1]
	return w
}

// removeWaiter removes w from the heap if it is still present (it may
// already have been popped and granted by the time a caller tries to
// cancel). Safe to call with a waiter not present in the heap.
func removeWaiter(h *waiterHeap, w *waiter) {
	if w.index < 0 || w.index >= h.Len() {
		return
	}
	if (*h)[w.index] != w {
		return
	}
	heap.Remove(h, w.index)
}
