package cache

import (
	"context"
	"testing"
	"time"
)

// FuzzCacheOps drives an op sequence against a small cache and checks the
// structural invariants the shards must hold regardless of input: Len never
// exceeds capacity, Remove/read agree on membership, and a drained tag
// invalidates to zero.
func FuzzCacheOps(f *testing.F) {
	f.Add([]byte{0, 1, 2, 3, 4, 5})
	f.Add([]byte("set get remove invalidate"))
	f.Add([]byte{255, 0, 255, 0, 128})

	f.Fuzz(func(t *testing.T, ops []byte) {
		const capacity = 16
		c := New[int](Options[int]{Capacity: capacity, Shards: 2, RefreshWorkers: -1})
		defer c.Close()
		ctx := context.Background()

		keys := []string{"a", "b", "c", "d", "e", "f", "g", "h"}
		tags := []string{"t0", "t1", "t2"}
		tagOf := map[string]string{} // resident key -> tag of its last Set

		for i, op := range ops {
			k := keys[int(op)%len(keys)]
			tag := tags[i%len(tags)]
			switch op % 4 {
			case 0:
				c.Set(ctx, k, i, Policy{Duration: time.Hour, Tags: []string{tag}})
				tagOf[k] = tag
			case 1:
				c.Remove(ctx, k)
				delete(tagOf, k)
			case 2:
				_, resident := tagOf[k]
				_, err := c.GetOrSet(ctx, k, nil, Policy{})
				if resident && err != nil {
					t.Fatalf("key %q should be resident, got %v", k, err)
				}
				if !resident && err != ErrNoFactory {
					t.Fatalf("key %q should be absent, got %v", k, err)
				}
			case 3:
				want := 0
				for kk, tt := range tagOf {
					if tt == tag {
						want++
						delete(tagOf, kk)
					}
				}
				if n := c.InvalidateByTag(ctx, tag); n != want {
					t.Fatalf("InvalidateByTag(%q) = %d, want %d", tag, n, want)
				}
				if n := c.InvalidateByTag(ctx, tag); n != 0 {
					t.Fatalf("drained tag %q still matched %d keys", tag, n)
				}
			}
			if n := c.Len(); n < 0 || n > capacity {
				t.Fatalf("Len %d out of [0,%d]", n, capacity)
			}
		}
	})
}
