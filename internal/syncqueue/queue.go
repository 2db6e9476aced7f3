package syncqueue

import "context"

// Queue is a FIFO of sync items. Dequeue removes items before they are
// processed; callers Requeue what they could not apply.
type Queue interface {
	Enqueue(ctx context.Context, items ...Item) error
	Dequeue(ctx context.Context, max int) ([]Item, error)
	Requeue(ctx context.Context, item Item) error
	Len(ctx context.Context) (int64, error)
}
