package cache

import (
	"errors"
	"fmt"
)

// ErrNoFactory is returned by GetOrSet when no value is available and no
// factory was supplied to produce one.
var ErrNoFactory = errors.New("cache: no factory provided")

// ErrClosed is returned for calls made after Close.
var ErrClosed = errors.New("cache: engine is closed")

// FactoryError wraps a caller-supplied factory failure that could not be
// recovered with a stale value. It is delivered to every caller waiting on
// the failed load. Use errors.As to reach it and errors.Is/Unwrap for the
// underlying cause.
//
// Remote tier failures never take this form: they are degraded to misses
// at the adapter boundary and only show up in logs and metrics.
type FactoryError struct {
	Key string
	Err error
}

func (e *FactoryError) Error() string {
	return fmt.Sprintf("cache: factory for key %q failed: %v", e.Key, e.Err)
}

func (e *FactoryError) Unwrap() error { return e.Err }
