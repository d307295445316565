package cache

import "context"

// Cache is a hybrid two-tier cache: a sharded in-process store backed by an
// optional shared remote tier, with request coalescing, tag invalidation,
// fail-safe stale serving, and refresh-ahead.
// All methods are safe for concurrent use by multiple goroutines.
type Cache[V any] interface {
	// GetOrSet returns the value for key, producing it via factory when no
	// usable value exists. The lookup order is: local tier, then (under a
	// per-key in-flight slot that guarantees a single concurrent load)
	// remote tier, then factory.
	//
	// A soft-expired value is returned immediately and refreshed in the
	// background. If the factory fails and a stale value is still inside
	// its fail-safe window, the stale value is returned with a nil error;
	// the suppressed failure is reported via logs, metrics and the
	// OnFailSafe callback. Otherwise the failure is returned as a
	// *FactoryError to every waiting caller.
	//
	// Cancelling ctx abandons the wait for a coalesced load but never
	// cancels the load itself; other callers may depend on it.
	GetOrSet(ctx context.Context, key string, factory Factory[V], pol Policy) (V, error)

	// Set writes the value to the local tier and, best-effort, to the
	// remote tier, attaching pol.Tags to the entry.
	Set(ctx context.Context, key string, v V, pol Policy)

	// Remove deletes key from the local tier (returning whether it was
	// present) and best-effort from the remote tier.
	Remove(ctx context.Context, key string) bool

	// InvalidateByTag eagerly removes every local entry carrying tag, so
	// subsequent local reads miss immediately, and best-effort deletes the
	// same keys from the remote tier. Returns the number of local removals.
	InvalidateByTag(ctx context.Context, tag string) int

	// Len returns the number of resident local entries.
	Len() int

	// Close stops the background refresh workers and marks the engine
	// closed. The remote store is not closed; its owner does that.
	Close() error
}
