package credentials

import "context"

// Store persists the session credentials across process restarts.
// Every operation may block on durable I/O and must complete before the
// caller treats the corresponding state transition as done.
type Store interface {
	// Set writes value under key
	Set(ctx context.Context, key Key, value string) error

	// Get returns the value under key; ok is false when the key is absent
	Get(ctx context.Context, key Key) (value string, ok bool, err error)

	// Remove deletes key. Removing an absent key is not an error
	Remove(ctx context.Context, key Key) error
}
