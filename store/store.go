// Package store abstracts the distributed backing store behind a small
// operation surface. Deployment-specific behavior (primary discovery via
// sentinel, cluster slot routing and redirects) stays inside the
// implementation; callers only pick a variant at construction time.
package store

import (
	"context"
	"time"
)

// Store is the operation surface the cache layers on top of the backing
// store. Implementations must be safe for concurrent use and honor context
// cancellation on every call.
type Store interface {
	// Read returns (value, true, nil) on hit; (nil, false, nil) on miss.
	Read(ctx context.Context, key string) ([]byte, bool, error)

	// Write stores value under key. ttl <= 0 means no expiry.
	Write(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Delete removes a key. Deleting an absent key is not an error.
	Delete(ctx context.Context, key string) error

	// ScanPage fetches one page of keys matching the glob pattern, starting
	// at cursor. A returned cursor of 0 means the scan is complete. Pages
	// are independent fetches: keys added or removed mid-scan may or may not
	// appear.
	ScanPage(ctx context.Context, match string, cursor uint64, count int64) (keys []string, next uint64, err error)

	// BulkDelete removes many keys, tolerating keys spread across shards.
	BulkDelete(ctx context.Context, keys []string) error

	// Route maps a key to the endpoint label serving it, used to pick the
	// circuit breaker guarding that endpoint.
	Route(key string) string

	// Ping probes store liveness.
	Ping(ctx context.Context) error

	// Close releases pooled connections.
	Close() error
}
