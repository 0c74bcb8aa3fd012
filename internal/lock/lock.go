// Package lock provides the sweep's cross-instance mutual exclusion.
package lock

import (
	"context"
	"time"
)

// Locker acquires a named lease. ok is false when someone else holds it.
type Locker interface {
	TryLock(ctx context.Context, key string, ttl time.Duration) (release func(), ok bool, err error)
}

// Noop always grants the lease; used when only one instance runs.
type Noop struct{}

func (Noop) TryLock(ctx context.Context, key string, ttl time.Duration) (func(), bool, error) {
	return func() {}, true, nil
}
