package cache

import (
	"context"
	"time"
)

// MemoryStore keeps snapshots in process memory. Suitable for a single node.
type MemoryStore struct {
	snapshots   *TTLCache[string, *CachedCustomer]
	reservation *TTLCache[string, struct{}]
	ttl         func() time.Duration
	now         func() time.Time
}

func NewMemoryStore(ttl func() time.Duration) *MemoryStore {
	return &MemoryStore{
		snapshots:   NewTTLCache[string, *CachedCustomer](),
		reservation: NewTTLCache[string, struct{}](),
		ttl:         ttl,
		now:         time.Now,
	}
}

func (s *MemoryStore) Get(_ context.Context, key string) (*CachedCustomer, bool, error) {
	snapshot, ok := s.snapshots.Get(key)
	if !ok {
		return nil, false, nil
	}
	return snapshot.Clone(), true, nil
}

func (s *MemoryStore) Set(_ context.Context, key string, snapshot *CachedCustomer, sourceTag string, fetchTimeMs int64) error {
	if snapshot == nil {
		return nil
	}
	stored := snapshot.Clone()
	stored.SourceTag = sourceTag
	stored.FetchTimeMs = fetchTimeMs
	stored.UpdatedAtMs = s.now().UnixMilli()
	s.snapshots.Set(key, stored, s.ttl())
	return nil
}

func (s *MemoryStore) Invalidate(_ context.Context, key string) error {
	s.snapshots.Delete(key)
	s.reservation.Delete(key)
	return nil
}

func (s *MemoryStore) Reserve(_ context.Context, key string, ttl time.Duration) (bool, error) {
	return s.reservation.SetIfAbsent(key, struct{}{}, ttl), nil
}

func (s *MemoryStore) ListKeys(context.Context) ([]string, error) {
	keys := s.snapshots.Keys()
	out := make([]string, 0, len(keys))
	for _, key := range keys {
		if isCustomerKey(key) {
			out = append(out, key)
		}
	}
	return out, nil
}
