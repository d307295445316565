// Package remote defines the shared distributed tier of the cache and a
// Redis implementation of it. The engine treats this tier as a capability:
// byte payloads in, byte payloads out, any error degraded to a miss.
package remote

import (
	"context"
	"time"
)

// Store is the remote tier contract. Implementations are typically
// networked key-value stores; the engine requires no specific wire format,
// only these three operations.
// All methods must be safe for concurrent use.
type Store interface {
	// Get returns the payload for key and whether it was found.
	// An absent key is (nil, false, nil), not an error.
	Get(ctx context.Context, key string) (payload []byte, found bool, err error)

	// Set stores the payload with the given TTL. A zero ttl stores the
	// payload without expiration.
	Set(ctx context.Context, key string, payload []byte, ttl time.Duration) error

	// Delete removes key. Deleting an absent key is not an error.
	Delete(ctx context.Context, key string) error

	// Close releases the store's resources.
	Close() error
}
