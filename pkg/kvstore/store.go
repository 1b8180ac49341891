// Package kvstore is the key/value persistence layer shared by every hub
// process. All ledger state lives here: invoice lists, locked payments,
// paid transactions, token mappings and the balance cache.
//
// Individual operations are atomic per key. Multi-step sequences built on top
// of them (read a list, filter, rewrite) are not, and callers narrow those
// windows with the advisory lock in internal/lock.
package kvstore

import (
	"context"
	"time"
)

// Store is the set of KV primitives the ledger relies on.
//
// Get returns "" and a nil error for a missing key. A zero ttl means the key
// does not expire.
type Store interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key string, value string, ttl time.Duration) error
	SetNX(ctx context.Context, key string, value string, ttl time.Duration) (bool, error)
	Delete(ctx context.Context, keys ...string) (int64, error)
	Expire(ctx context.Context, key string, ttl time.Duration) error
	Incr(ctx context.Context, key string) (int64, error)

	RPush(ctx context.Context, key string, values ...string) (int64, error)
	LRange(ctx context.Context, key string, start, stop int64) ([]string, error)

	// Scan returns every key matching a glob pattern such as "locked_payments_for_*".
	Scan(ctx context.Context, pattern string) ([]string, error)
}
