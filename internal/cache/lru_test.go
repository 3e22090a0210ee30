package cache

import (
	"context"
	"testing"
	"time"

	"github.com/latchkey-dev/latchkey/internal/domain"
)

func TestLRUSetGet(t *testing.T) {
	c := NewLRUCache(10)
	defer c.Close()
	ctx := context.Background()

	if err := c.Set(ctx, "fam-1", "k", []byte("v"), time.Minute); err != nil {
		t.Fatalf("set failed: %v", err)
	}

	val, err := c.Get(ctx, "fam-1", "k")
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if string(val) != "v" {
		t.Errorf("expected v, got %q", val)
	}

	t.Run("miss returns nil nil", func(t *testing.T) {
		val, err := c.Get(ctx, "fam-1", "missing")
		if err != nil || val != nil {
			t.Errorf("expected nil, nil; got %v, %v", val, err)
		}
	})

	t.Run("family isolation", func(t *testing.T) {
		val, _ := c.Get(ctx, "fam-2", "k")
		if val != nil {
			t.Error("value leaked across families")
		}
	})
}

func TestLRUExpiry(t *testing.T) {
	c := NewLRUCache(10)
	defer c.Close()
	ctx := context.Background()

	c.Set(ctx, "fam-1", "k", []byte("v"), 10*time.Millisecond)
	time.Sleep(20 * time.Millisecond)

	val, err := c.Get(ctx, "fam-1", "k")
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if val != nil {
		t.Error("expired entry should be gone")
	}
}

func TestLRUEviction(t *testing.T) {
	c := NewLRUCache(2)
	defer c.Close()
	ctx := context.Background()

	c.Set(ctx, "fam-1", "a", []byte("1"), time.Minute)
	c.Set(ctx, "fam-1", "b", []byte("2"), time.Minute)
	c.Get(ctx, "fam-1", "a") // refresh a
	c.Set(ctx, "fam-1", "c", []byte("3"), time.Minute)

	if val, _ := c.Get(ctx, "fam-1", "b"); val != nil {
		t.Error("least recently used entry should have been evicted")
	}
	if val, _ := c.Get(ctx, "fam-1", "a"); val == nil {
		t.Error("recently used entry should survive")
	}

	size, capacity := c.Stats()
	if size != 2 || capacity != 2 {
		t.Errorf("unexpected stats: size=%d capacity=%d", size, capacity)
	}
}

func TestLRUAttemptRoundTrip(t *testing.T) {
	c := NewLRUCache(10)
	defer c.Close()
	ctx := context.Background()

	attempt := &domain.Attempt{
		ID:       "att-1",
		FamilyID: "fam-1",
		Context: domain.EvaluationContext{
			UserID:  "child-001",
			Score:   95,
			Subject: "math",
		},
	}

	if err := c.SetAttempt(ctx, "fam-1", "att-1", attempt, time.Minute); err != nil {
		t.Fatalf("set failed: %v", err)
	}

	got, err := c.GetAttempt(ctx, "fam-1", "att-1")
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if got == nil || got.Context.Score != 95 {
		t.Errorf("round trip mismatch: %+v", got)
	}
}

func TestLRUCounterWindow(t *testing.T) {
	c := NewLRUCache(10)
	defer c.Close()
	ctx := context.Background()

	for want := int64(1); want <= 3; want++ {
		got, err := c.IncrementCounter(ctx, "fam-1", "evals:child-001", time.Minute)
		if err != nil {
			t.Fatalf("increment failed: %v", err)
		}
		if got != want {
			t.Errorf("expected %d, got %d", want, got)
		}
	}

	// New window restarts the count
	got, err := c.IncrementCounter(ctx, "fam-1", "short", 5*time.Millisecond)
	if err != nil || got != 1 {
		t.Fatalf("expected fresh counter 1, got %d (%v)", got, err)
	}
	time.Sleep(10 * time.Millisecond)
	got, _ = c.IncrementCounter(ctx, "fam-1", "short", 5*time.Millisecond)
	if got != 1 {
		t.Errorf("expired window should restart at 1, got %d", got)
	}
}

func TestLRUCounterSweep(t *testing.T) {
	c := NewLRUCache(2)
	defer c.Close()
	ctx := context.Background()

	c.IncrementCounter(ctx, "fam-1", "a", time.Millisecond)
	c.IncrementCounter(ctx, "fam-1", "b", time.Millisecond)
	c.IncrementCounter(ctx, "fam-1", "c", time.Millisecond)
	time.Sleep(5 * time.Millisecond)

	// Incrementing past capacity discards the expired windows
	c.IncrementCounter(ctx, "fam-1", "d", time.Minute)

	c.mu.RLock()
	n := len(c.counters)
	c.mu.RUnlock()
	if n != 1 {
		t.Errorf("expected expired counters swept down to 1, got %d", n)
	}
}
