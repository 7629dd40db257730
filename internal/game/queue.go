package game

import (
	"container/heap"
	"context"
	"sync"
	"sync/atomic"
)

// DefaultPriority is the priority band every engine-enqueued event uses
// today. Lower is more urgent; the band exists so future priorities can be
// added without changing the ordering contract.
const DefaultPriority = 10

type queueItem struct {
	prio int
	id   int64
	ev   Event
}

type queueHeap []queueItem

func (h queueHeap) Len() int { return len(h) }
func (h queueHeap) Less(i, j int) bool {
	if h[i].prio != h[j].prio {
		return h[i].prio < h[j].prio
	}
	return h[i].id < h[j].id
}
func (h queueHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }
func (h *queueHeap) Push(x any)   { *h = append(*h, x.(queueItem)) }
func (h *queueHeap) Pop() any {
	old := *h
	n := len(old)
	it := old[n-1]
	*h = old[:n-1]
	return it
}

// Queue holds pending events ordered by (priority, id). Ids are globally
// monotonic, so within a band the order is strict FIFO by creation.
//
// Put supports many concurrent producers; Get is meant for a single
// consumer but is safe for several, and waiting consumers are resumed in
// FIFO order. A bounded queue blocks Put until space frees — it never
// drops.
type Queue struct {
	mu      sync.Mutex
	items   queueHeap
	getters []chan struct{}
	putters []chan struct{}
	maxSize int // <= 0 means unbounded

	nput atomic.Int64
	nget atomic.Int64
}

// NewQueue returns a queue bounded to maxSize items, or unbounded when
// maxSize <= 0.
func NewQueue(maxSize int) *Queue {
	return &Queue{maxSize: maxSize}
}

// Put inserts ev keyed by (prio, ev.ID). Blocks while a bounded queue is
// full, until space frees or ctx is done.
func (q *Queue) Put(ctx context.Context, prio int, ev Event) error {
	for {
		q.mu.Lock()
		if q.maxSize <= 0 || len(q.items) < q.maxSize {
			heap.Push(&q.items, queueItem{prio: prio, id: ev.EventCore().ID, ev: ev})
			q.nput.Add(1)
			q.wakeLocked(&q.getters)
			q.mu.Unlock()
			return nil
		}
		ch := make(chan struct{})
		q.putters = append(q.putters, ch)
		q.mu.Unlock()

		select {
		case <-ctx.Done():
			q.dropWaiter(&q.putters, ch)
			return ctx.Err()
		case <-ch:
		}
	}
}

// Get removes and returns the lowest-keyed pending event, blocking while
// the queue is empty.
func (q *Queue) Get(ctx context.Context) (Event, error) {
	for {
		q.mu.Lock()
		if len(q.items) > 0 {
			it := heap.Pop(&q.items).(queueItem)
			q.nget.Add(1)
			q.wakeLocked(&q.putters)
			q.mu.Unlock()
			return it.ev, nil
		}
		ch := make(chan struct{})
		q.getters = append(q.getters, ch)
		q.mu.Unlock()

		select {
		case <-ctx.Done():
			q.dropWaiter(&q.getters, ch)
			return nil, ctx.Err()
		case <-ch:
		}
	}
}

func (q *Queue) wakeLocked(waiters *[]chan struct{}) {
	if len(*waiters) == 0 {
		return
	}
	ch := (*waiters)[0]
	*waiters = (*waiters)[1:]
	close(ch)
}

func (q *Queue) dropWaiter(waiters *[]chan struct{}, ch chan struct{}) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for i, w := range *waiters {
		if w == ch {
			*waiters = append((*waiters)[:i], (*waiters)[i+1:]...)
			return
		}
	}
}

func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

func (q *Queue) Empty() bool { return q.Len() == 0 }

func (q *Queue) Full() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.maxSize > 0 && len(q.items) >= q.maxSize
}

// PutCount and GetCount report how many items have passed through.
func (q *Queue) PutCount() int64 { return q.nput.Load() }
func (q *Queue) GetCount() int64 { return q.nget.Load() }
