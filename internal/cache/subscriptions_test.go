package cache

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"academy/internal/checkin"
)

type mapKV struct {
	mu     sync.Mutex
	data   map[string][]byte
	getErr error
}

func (m *mapKV) get(_ context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.getErr != nil {
		return nil, m.getErr
	}
	v, ok := m.data[key]
	if !ok {
		return nil, errMiss
	}
	return v, nil
}

func (m *mapKV) set(_ context.Context, key string, val []byte, _ time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = val
	return nil
}

func (m *mapKV) del(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, key)
	return nil
}

type countingSource struct {
	calls int
	subs  []checkin.Subscription
	err   error
}

func (s *countingSource) ActiveSubscriptions(context.Context, string) ([]checkin.Subscription, error) {
	s.calls++
	return s.subs, s.err
}

func newTestCache(src checkin.SubscriptionSource, store kv) *Subscriptions {
	c := NewSubscriptions(src, nil, time.Minute, nil)
	c.store = store
	return c
}

func TestSubscriptions_ReadThrough(t *testing.T) {
	src := &countingSource{subs: []checkin.Subscription{{ID: "sub-1", StudentID: "stu-1", Status: checkin.SubscriptionActive}}}
	c := newTestCache(src, &mapKV{data: map[string][]byte{}})

	for i := 0; i < 3; i++ {
		subs, err := c.ActiveSubscriptions(context.Background(), "stu-1")
		if err != nil {
			t.Fatalf("lookup %d: %v", i, err)
		}
		if len(subs) != 1 || subs[0].ID != "sub-1" || subs[0].Status != checkin.SubscriptionActive {
			t.Fatalf("lookup %d: unexpected subs %+v", i, subs)
		}
	}
	if src.calls != 1 {
		t.Errorf("source called %d times, want 1", src.calls)
	}

	if err := c.Invalidate(context.Background(), "stu-1"); err != nil {
		t.Fatalf("invalidate: %v", err)
	}
	if _, err := c.ActiveSubscriptions(context.Background(), "stu-1"); err != nil {
		t.Fatalf("lookup after invalidate: %v", err)
	}
	if src.calls != 2 {
		t.Errorf("source called %d times after invalidate, want 2", src.calls)
	}
}

func TestSubscriptions_StoreFailureFallsBack(t *testing.T) {
	src := &countingSource{}
	c := newTestCache(src, &mapKV{data: map[string][]byte{}, getErr: errors.New("redis down")})

	if _, err := c.ActiveSubscriptions(context.Background(), "stu-1"); err != nil {
		t.Fatalf("expected fallback to source, got %v", err)
	}
	if src.calls != 1 {
		t.Errorf("source called %d times, want 1", src.calls)
	}
}

func TestSubscriptions_SourceErrorNotCached(t *testing.T) {
	boom := errors.New("query failed")
	store := &mapKV{data: map[string][]byte{}}
	c := newTestCache(&countingSource{err: boom}, store)

	if _, err := c.ActiveSubscriptions(context.Background(), "stu-1"); !errors.Is(err, boom) {
		t.Fatalf("expected source error, got %v", err)
	}
	if len(store.data) != 0 {
		t.Error("errors must not be cached")
	}
}

func TestSubscriptions_NoClientPassesThrough(t *testing.T) {
	src := &countingSource{}
	c := NewSubscriptions(src, nil, time.Minute, nil)
	_, _ = c.ActiveSubscriptions(context.Background(), "stu-1")
	_, _ = c.ActiveSubscriptions(context.Background(), "stu-1")
	if src.calls != 2 {
		t.Errorf("source called %d times, want 2", src.calls)
	}
}
