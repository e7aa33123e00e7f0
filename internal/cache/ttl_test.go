package cache

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"
)

func TestGetOrLoadCachesWithinTTL(t *testing.T) {
	c := NewTTL[int](time.Minute, 10)
	loads := 0
	load := func(context.Context) (int, error) {
		loads++
		return 42, nil
	}

	for i := 0; i < 3; i++ {
		v, err := c.GetOrLoad(context.Background(), "k", load)
		if err != nil {
			t.Fatalf("GetOrLoad() error = %v", err)
		}
		if v != 42 {
			t.Fatalf("value = %d, want 42", v)
		}
	}
	if loads != 1 {
		t.Fatalf("loads = %d, want 1", loads)
	}
}

func TestGetOrLoadReloadsAfterExpiry(t *testing.T) {
	c := NewTTL[int](time.Minute, 10)
	clock := time.Now()
	c.now = func() time.Time { return clock }

	loads := 0
	load := func(context.Context) (int, error) {
		loads++
		return loads, nil
	}

	if v, _ := c.GetOrLoad(context.Background(), "k", load); v != 1 {
		t.Fatalf("first load = %d, want 1", v)
	}
	clock = clock.Add(2 * time.Minute)
	if v, _ := c.GetOrLoad(context.Background(), "k", load); v != 2 {
		t.Fatalf("post-expiry load = %d, want 2", v)
	}
}

func TestGetOrLoadDoesNotCacheErrors(t *testing.T) {
	c := NewTTL[int](time.Minute, 10)
	boom := errors.New("boom")
	calls := 0
	load := func(context.Context) (int, error) {
		calls++
		if calls == 1 {
			return 0, boom
		}
		return 7, nil
	}

	if _, err := c.GetOrLoad(context.Background(), "k", load); !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}
	v, err := c.GetOrLoad(context.Background(), "k", load)
	if err != nil || v != 7 {
		t.Fatalf("retry = (%d, %v), want (7, nil)", v, err)
	}
}

func TestEvictionKeepsCacheBounded(t *testing.T) {
	c := NewTTL[int](time.Minute, 5)
	clock := time.Now()
	c.now = func() time.Time { return clock }

	for i := 0; i < 5; i++ {
		key := fmt.Sprintf("old-%d", i)
		if _, err := c.GetOrLoad(context.Background(), key, func(context.Context) (int, error) { return i, nil }); err != nil {
			t.Fatalf("GetOrLoad() error = %v", err)
		}
	}
	clock = clock.Add(2 * time.Minute)
	if _, err := c.GetOrLoad(context.Background(), "fresh", func(context.Context) (int, error) { return 1, nil }); err != nil {
		t.Fatalf("GetOrLoad() error = %v", err)
	}
	if n := c.Len(); n != 1 {
		t.Fatalf("Len() = %d, want 1 after expired entries evicted", n)
	}
}
