package syncqueue

import (
	"context"
	"sync"
)

type MemoryQueue struct {
	mu    sync.Mutex
	items []Item
}

func NewMemoryQueue() *MemoryQueue {
	return &MemoryQueue{}
}

func (q *MemoryQueue) Enqueue(_ context.Context, items ...Item) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items = append(q.items, items...)
	return nil
}

func (q *MemoryQueue) Dequeue(_ context.Context, max int) ([]Item, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if max <= 0 || len(q.items) == 0 {
		return nil, nil
	}
	if max > len(q.items) {
		max = len(q.items)
	}
	out := make([]Item, max)
	copy(out, q.items[:max])
	q.items = q.items[max:]
	return out, nil
}

func (q *MemoryQueue) Requeue(_ context.Context, item Item) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items = append([]Item{item}, q.items...)
	return nil
}

func (q *MemoryQueue) Len(context.Context) (int64, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return int64(len(q.items)), nil
}
