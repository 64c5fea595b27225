package tiercache

import (
	"github.com/tiercache/tiercache/breaker"
	"github.com/tiercache/tiercache/replica"
)

// Stats is an aggregated, read-only snapshot. Counters are collected from
// atomics; no lock is held while assembling it.
type Stats struct {
	Hits      uint64 `json:"hits"`
	Misses    uint64 `json:"misses"`
	LocalHits uint64 `json:"local_hits"`
	StoreHits uint64 `json:"store_hits"`

	// AbsorbedFaults counts backing-store failures swallowed on the data
	// path (reads degraded to miss, writes degraded to durable=false).
	AbsorbedFaults uint64 `json:"absorbed_faults"`
	// CorruptEntries counts envelopes rejected and self-healed on read.
	CorruptEntries uint64 `json:"corrupt_entries"`
	// SerializationErrors counts codec failures surfaced to callers.
	SerializationErrors uint64 `json:"serialization_errors"`

	LocalEntries     int    `json:"local_entries"`
	LocalEvictions   uint64 `json:"local_evictions"`
	LocalExpirations uint64 `json:"local_expirations"`

	// Circuit is the worst breaker state across endpoints.
	Circuit  string          `json:"circuit"`
	Breakers []breaker.Stats `json:"breakers"`

	Replication replica.Stats `json:"replication"`

	Tenants map[string]TenantStats `json:"tenants"`
}

// TenantStats is the per-tenant hit/miss breakdown.
type TenantStats struct {
	Hits   uint64 `json:"hits"`
	Misses uint64 `json:"misses"`
}

// Health is the service-level degradation summary.
type Health struct {
	Status       string `json:"status"`        // ok | degraded | down
	BackingStore string `json:"backing_store"` // ok | degraded | down
	Circuit      string `json:"circuit"`       // closed | open | half_open
}
