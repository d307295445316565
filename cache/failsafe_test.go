package cache

import (
	"context"
	"errors"
	"testing"
	"time"
)

var errBackend = errors.New("backend unavailable")

func failing[V any]() Factory[V] {
	return func(context.Context) (V, error) {
		var zero V
		return zero, errBackend
	}
}

// A failed reload inside the fail-safe window serves the prior value with
// no error; the suppressed failure reaches the OnFailSafe callback.
func TestFailSafe_ServesStaleOnFactoryError(t *testing.T) {
	t.Parallel()

	clk := newFakeClock()
	var suppressed error
	c := New[string](Options[string]{
		Capacity:       4,
		Clock:          clk,
		RefreshWorkers: -1,
		OnFailSafe:     func(_ string, err error) { suppressed = err },
	})
	t.Cleanup(func() { _ = c.Close() })
	ctx := context.Background()

	pol := Policy{Duration: 100 * time.Millisecond, FailSafeMaxDuration: 30 * time.Second}
	c.Set(ctx, "k", "known-good", pol)

	clk.add(200 * time.Millisecond) // past hard expiry, inside fail-safe window

	v, err := c.GetOrSet(ctx, "k", failing[string](), pol)
	if err != nil {
		t.Fatalf("fail-safe must suppress the error, got %v", err)
	}
	if v != "known-good" {
		t.Fatalf("want stale value, got %q", v)
	}
	if !errors.Is(suppressed, errBackend) {
		t.Fatalf("OnFailSafe must receive the factory error, got %v", suppressed)
	}
}

// Without a prior value the factory error surfaces as a *FactoryError.
func TestFailSafe_NoPriorValue(t *testing.T) {
	t.Parallel()

	c := New[string](Options[string]{Capacity: 4, RefreshWorkers: -1})
	t.Cleanup(func() { _ = c.Close() })

	_, err := c.GetOrSet(context.Background(), "cold", failing[string](), Policy{})
	if !errors.Is(err, errBackend) {
		t.Fatalf("want the factory error, got %v", err)
	}
	var fe *FactoryError
	if !errors.As(err, &fe) || fe.Key != "cold" {
		t.Fatalf("want *FactoryError for key cold, got %#v", err)
	}
}

// Past the fail-safe window the stale value is gone and the error surfaces.
func TestFailSafe_WindowElapsed(t *testing.T) {
	t.Parallel()

	clk := newFakeClock()
	c := New[string](Options[string]{Capacity: 4, Clock: clk, RefreshWorkers: -1})
	t.Cleanup(func() { _ = c.Close() })
	ctx := context.Background()

	pol := Policy{Duration: 100 * time.Millisecond, FailSafeMaxDuration: time.Second}
	c.Set(ctx, "k", "old", pol)

	clk.add(2 * time.Second) // hard expiry + fail-safe window both elapsed

	if _, err := c.GetOrSet(ctx, "k", failing[string](), pol); !errors.Is(err, errBackend) {
		t.Fatalf("want the factory error past the window, got %v", err)
	}
	if c.Len() != 0 {
		t.Fatalf("entry must be purged, Len=%d", c.Len())
	}
}

// A successful reload after a fail-safe serve replaces the stale value.
func TestFailSafe_RecoversOnNextSuccess(t *testing.T) {
	t.Parallel()

	clk := newFakeClock()
	c := New[string](Options[string]{Capacity: 4, Clock: clk, RefreshWorkers: -1})
	t.Cleanup(func() { _ = c.Close() })
	ctx := context.Background()

	pol := Policy{Duration: 100 * time.Millisecond, FailSafeMaxDuration: 30 * time.Second}
	c.Set(ctx, "k", "old", pol)
	clk.add(200 * time.Millisecond)

	if v, err := c.GetOrSet(ctx, "k", failing[string](), pol); err != nil || v != "old" {
		t.Fatalf("fail-safe serve: v=%q err=%v", v, err)
	}
	if v, err := c.GetOrSet(ctx, "k", value("new"), pol); err != nil || v != "new" {
		t.Fatalf("recovery: v=%q err=%v", v, err)
	}
	// And the fresh value stays cached.
	if v, err := c.GetOrSet(ctx, "k", nil, pol); err != nil || v != "new" {
		t.Fatalf("post-recovery read: v=%q err=%v", v, err)
	}
}
