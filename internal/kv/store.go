package kv

import "context"

// Store is the persisted key-value interface the SDK reads and writes.
type Store interface {
	// Get returns the value for key. ok is false when the key is absent.
	Get(ctx context.Context, key string) (value string, ok bool, err error)

	// Set stores value under key, replacing any previous value.
	Set(ctx context.Context, key, value string) error

	// SetMany stores every entry in values as one atomic commit.
	SetMany(ctx context.Context, values map[string]string) error

	// Remove deletes keys as one atomic commit. Missing keys are not an error.
	Remove(ctx context.Context, keys ...string) error
}
