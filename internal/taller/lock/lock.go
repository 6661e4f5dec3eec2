// Package lock provides the keyed mutual-exclusion primitive used to
// coordinate spool occupation across workers. Locks are advisory: the
// row store remains the authoritative record of ownership, the lock
// provides liveness and clear "occupied by X" failures.
package lock

import (
	"context"
	"errors"
	"time"
)

// Sentinel errors.
var (
	// ErrHeld means the key is locked by another owner.
	ErrHeld = errors.New("lock held by another owner")
	// ErrNotHeld means the key is not locked, or not by this owner:
	// the lock expired or was never acquired.
	ErrNotHeld = errors.New("lock not held")
)

// Holder describes the current lock holder.
type Holder struct {
	Owner string
	Token string
}

// Service is the lock-service contract. Acquire returns an opaque
// ownership token; Verify checks that a token still names the live
// lock.
type Service interface {
	// Acquire takes the lock for owner with the given TTL and returns
	// the ownership token, or ErrHeld if another owner has it.
	// Re-acquiring a key already held by the same owner refreshes the
	// TTL and returns a fresh token.
	Acquire(ctx context.Context, key, owner string, ttl time.Duration) (string, error)

	// Refresh extends the TTL of a lock held by owner.
	Refresh(ctx context.Context, key, owner string, ttl time.Duration) error

	// Verify confirms the lock is live and held by owner with the
	// given token. Expiry or another holder yields ErrNotHeld/ErrHeld.
	Verify(ctx context.Context, key, owner, token string) error

	// Release drops the lock if held by owner. Releasing an expired
	// or foreign lock is not an error; the row store is the source of
	// truth and re-establishes invariants.
	Release(ctx context.Context, key, owner string) error

	// Inspect reports the current holder, or ok=false when free.
	Inspect(ctx context.Context, key string) (Holder, bool, error)
}
