package tiercache

import (
	"context"
	"time"

	"github.com/tiercache/tiercache/breaker"
	c "github.com/tiercache/tiercache/codec"
	"github.com/tiercache/tiercache/local"
	"github.com/tiercache/tiercache/replica"
	st "github.com/tiercache/tiercache/store"
)

// Cache is the tenant-scoped, multi-level cache API.
// V is the caller's value type. Serialization is handled by a pluggable
// Codec[V]; the HTTP service instantiates Cache[[]byte] with codec.Raw.
type Cache[V any] interface {
	// Get returns (value, true, nil) on hit. A backing-store fault degrades
	// to a miss; only malformed input and codec failures return errors.
	Get(ctx context.Context, tenant, key string) (v V, ok bool, err error)

	// Set writes the local tier synchronously and the backing store through
	// the circuit breaker. durable is false when the upstream write did not
	// happen; the entry is still served locally. ttl == 0 applies the
	// configured default, ttl < 0 stores without expiry.
	Set(ctx context.Context, tenant, key string, value V, ttl time.Duration) (durable bool, err error)

	// Delete removes the entry locally and upstream (best-effort).
	Delete(ctx context.Context, tenant, key string) error

	// BatchGet and BatchSet fan out with bounded concurrency. One member's
	// failure never fails the others; results line up with the input order.
	BatchGet(ctx context.Context, tenant string, keys []string) ([]Result[V], error)
	BatchSet(ctx context.Context, tenant string, items []Item[V]) ([]Result[V], error)

	// Scan pages through a tenant's keys. cursor "" starts a scan; a
	// returned cursor of "" means the end. Keys added or removed mid-scan
	// may or may not appear.
	Scan(ctx context.Context, tenant, pattern, cursor string, count int) (keys []string, next string, err error)

	// Flush deletes every entry of the tenant (optionally pattern-matched)
	// from the local tier and the backing store. This is the one operation
	// that blocks on backing-store acknowledgment; it returns how many
	// upstream keys were removed.
	Flush(ctx context.Context, tenant, pattern string) (int, error)

	// Stats is a lock-free snapshot of counters and component states.
	Stats() Stats

	// Health probes the backing store and reports the circuit state.
	Health(ctx context.Context) Health

	// Close drains replication and releases the components the cache owns.
	Close(ctx context.Context) error
}

// Item is one member of a BatchSet.
type Item[V any] struct {
	Key   string
	Value V
	TTL   time.Duration
}

// Result is the per-member outcome of a batch operation.
type Result[V any] struct {
	Key     string
	Value   V    // BatchGet, when Found
	Found   bool // BatchGet
	Durable bool // BatchSet
	Err     error
}

// Options tune the cache. Store and Codec are required; everything else has
// defaults. The cache takes ownership of Store and Replication and closes
// them in Close.
type Options[V any] struct {
	// Required
	Store st.Store
	Codec c.Codec[V]

	Local   local.Config
	Breaker breaker.Config

	// Replication is optional; nil disables write fan-out.
	Replication *replica.Manager

	Logger     Logger        // if nil, NopLogger is used
	DefaultTTL time.Duration // applied when Set gets ttl == 0; 0 => 10m

	// CompressThreshold is the payload size (bytes) above which entries are
	// compressed inside the wire envelope. 0 => 4KiB, negative disables.
	CompressThreshold int

	BatchConcurrency int           // max in-flight backing-store calls per batch; 0 => 16
	ScanPageSize     int           // backing-store page size for Scan/Flush; 0 => 100
	OpTimeout        time.Duration // per backing-store call deadline; 0 => 2s

	// Version counters for keys idle longer than VersionRetention are
	// pruned every VersionPruneInterval. Defaults: 24h retention, 1h prune.
	VersionRetention     time.Duration
	VersionPruneInterval time.Duration
}

func New[V any](opts Options[V]) (Cache[V], error) {
	return newManager[V](opts)
}
