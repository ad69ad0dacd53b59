package coordinator

import "context"

// Client is a session-bound handle to the coordinator. Ephemeral nodes
// created through a Client vanish when its session ends, whether by Close or
// by process death.
//
// Implementations must be safe for concurrent use.
type Client interface {
	// Create makes a new node. With ignoreIfExists, a persistent create of an
	// existing node succeeds without touching it.
	Create(ctx context.Context, path string, data []byte, mode Mode, ignoreIfExists bool) error

	// Remove deletes a childless node if version matches (AnyVersion matches
	// all).
	Remove(ctx context.Context, path string, version int32) error

	// Set replaces the node's payload if version matches and returns the new
	// version.
	Set(ctx context.Context, path string, data []byte, version int32) (int32, error)

	// Check asserts the node exists with the given version.
	Check(ctx context.Context, path string, version int32) error

	// Get returns the node's payload and current version.
	Get(ctx context.Context, path string) ([]byte, int32, error)

	// Multi applies all ops atomically: either every op takes effect, in
	// order, or none do. On failure the returned error is a *TxnError naming
	// the first failed op. Later ops observe the effects of earlier ops in
	// the same transaction.
	Multi(ctx context.Context, ops []Op) ([]OpResult, error)

	// Close ends the session, removing every ephemeral it created. Further
	// calls fail with ErrSessionExpired.
	Close() error
}
