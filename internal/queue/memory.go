package queue

import (
	"container/heap"
	"context"
	"sync"
	"time"
)

// Memory is an in-process DelayQueue backed by a min-heap on due time.
// It exists for tests and single-process runs without a broker; it
// offers the same contract as the redis backend minus durability.
type Memory struct {
	policy RetryPolicy

	mu     sync.Mutex
	items  itemHeap
	closed bool
	wake   chan struct{}
	done   chan struct{}

	now func() time.Time
}

func NewMemory(policy RetryPolicy) *Memory {
	return &Memory{
		policy: policy,
		wake:   make(chan struct{}, 1),
		done:   make(chan struct{}),
		now:    time.Now,
	}
}

type item struct {
	due   time.Time
	entry Entry
}

type itemHeap []item

func (h itemHeap) Len() int            { return len(h) }
func (h itemHeap) Less(i, j int) bool  { return h[i].due.Before(h[j].due) }
func (h itemHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *itemHeap) Push(x interface{}) { *h = append(*h, x.(item)) }
func (h *itemHeap) Pop() interface{} {
	old := *h
	n := len(old)
	it := old[n-1]
	*h = old[:n-1]
	return it
}

func (q *Memory) Enqueue(ctx context.Context, e Entry, delay time.Duration) (string, error) {
	if delay < 0 {
		delay = 0
	}

	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return "", ErrClosed
	}
	now := q.now()
	heap.Push(&q.items, item{due: now.Add(delay), entry: e})
	q.mu.Unlock()

	q.signal()
	return e.DedupKey(now), nil
}

func (q *Memory) Dequeue(ctx context.Context) (Entry, error) {
	for {
		q.mu.Lock()
		if q.closed {
			q.mu.Unlock()
			return Entry{}, ErrClosed
		}

		var wait time.Duration
		havewait := false
		if len(q.items) > 0 {
			now := q.now()
			if !q.items[0].due.After(now) {
				it := heap.Pop(&q.items).(item)
				more := len(q.items) > 0
				q.mu.Unlock()
				if more {
					q.signal()
				}
				return it.entry, nil
			}
			wait = q.items[0].due.Sub(now)
			havewait = true
		}
		q.mu.Unlock()

		if havewait {
			timer := time.NewTimer(wait)
			select {
			case <-ctx.Done():
				timer.Stop()
				return Entry{}, ctx.Err()
			case <-q.done:
				timer.Stop()
				return Entry{}, ErrClosed
			case <-q.wake:
				timer.Stop()
			case <-timer.C:
			}
		} else {
			select {
			case <-ctx.Done():
				return Entry{}, ctx.Err()
			case <-q.done:
				return Entry{}, ErrClosed
			case <-q.wake:
			}
		}
	}
}

func (q *Memory) Reschedule(ctx context.Context, e Entry, delay time.Duration) error {
	_, err := q.Enqueue(ctx, e, delay)
	return err
}

func (q *Memory) Retry(ctx context.Context, e Entry) (bool, error) {
	next, delay, ok := q.policy.Next(e)
	if !ok {
		return false, nil
	}
	_, err := q.Enqueue(ctx, next, delay)
	return err == nil, err
}

func (q *Memory) Ready(ctx context.Context) error { return nil }

func (q *Memory) Close() error {
	q.mu.Lock()
	if !q.closed {
		q.closed = true
		close(q.done)
	}
	q.mu.Unlock()
	return nil
}

// Len reports pending entries, due or not.
func (q *Memory) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

func (q *Memory) signal() {
	select {
	case q.wake <- struct{}{}:
	default:
	}
}
