// Package kvstore abstracts the shared cache every cross-request
// coordination concern (dedupe window, rate-limit window, session TTL,
// current-location snapshot) goes through. Handlers stay stateless;
// the store is the only shared mutable surface besides the database.
package kvstore

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned by TTL when the key does not exist.
var ErrNotFound = errors.New("kvstore: key not found")

// Store is a minimal TTL'd key-value contract. CompareAndSwap exists
// for promotion races: swap succeeds only if the key still holds old.
type Store interface {
	// Get returns the value and whether the key exists and is unexpired.
	Get(ctx context.Context, key string) (string, bool, error)

	// Set writes value with a TTL. A zero TTL means no expiry.
	Set(ctx context.Context, key, value string, ttl time.Duration) error

	// SetNX writes value only if the key is absent; reports whether it wrote.
	SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error)

	// Delete removes the key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error

	// TTL returns the remaining lifetime of the key.
	TTL(ctx context.Context, key string) (time.Duration, error)

	// CompareAndSwap atomically replaces old with value if the current
	// value equals old; reports whether the swap happened.
	CompareAndSwap(ctx context.Context, key, old, value string, ttl time.Duration) (bool, error)
}
