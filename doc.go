// Package tiercache implements a multi-level caching layer in front of a
// distributed backing store: a sharded in-process LRU tier backed by a
// redis-protocol store (standalone, sentinel-supervised or clustered), with
// per-endpoint circuit breaking and best-effort asynchronous replication.
//
// Components:
//   - local.Cache: bounded in-process tier with TTL and LRU eviction.
//   - store.Store: backing-store client, variant chosen at construction.
//   - breaker.Group: one circuit per backing-store endpoint.
//   - replica.Manager: background fan-out of writes to secondary targets.
//   - codec.Codec[V]: (de)serializes V <-> []byte.
//
// Keys are tenant-scoped: the effective storage key is t:<tenant>:<key>, and
// tenants containing the separator are rejected, so tenants can never observe
// each other's entries.
//
// Failure policy: the cache degrades, it does not fail the caller. A read
// that cannot reach the backing store is a miss; a write that cannot reach it
// still lands in the local tier and reports durable=false. Only malformed
// input and serialization faults surface as errors.
package tiercache
