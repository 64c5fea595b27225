package tiercache

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tiercache/tiercache/breaker"
	c "github.com/tiercache/tiercache/codec"
	"github.com/tiercache/tiercache/internal/keys"
	"github.com/tiercache/tiercache/internal/version"
	"github.com/tiercache/tiercache/internal/wire"
	"github.com/tiercache/tiercache/local"
	"github.com/tiercache/tiercache/replica"
	st "github.com/tiercache/tiercache/store"
)

const (
	defaultTTL          = 10 * time.Minute
	defaultCompressMin  = 4 << 10
	defaultBatchWorkers = 16
	defaultScanPage     = 100
	defaultOpTimeout    = 2 * time.Second
	defaultVerRetention = 24 * time.Hour
	defaultVerPrune     = time.Hour
)

type tenantCounters struct {
	hits   atomic.Uint64
	misses atomic.Uint64
}

type manager[V any] struct {
	store    st.Store
	codec    c.Codec[V]
	local    *local.Cache
	breakers *breaker.Group
	repl     *replica.Manager
	versions *version.Store
	log      Logger

	defaultTTL   time.Duration
	compressMin  int
	batchWorkers int
	scanPage     int
	opTimeout    time.Duration

	hits      atomic.Uint64
	misses    atomic.Uint64
	localHits atomic.Uint64
	storeHits atomic.Uint64
	absorbed  atomic.Uint64
	corrupt   atomic.Uint64
	serErrs   atomic.Uint64

	tenants sync.Map // tenant -> *tenantCounters
}

func newManager[V any](opts Options[V]) (*manager[V], error) {
	if opts.Store == nil {
		return nil, fmt.Errorf("tiercache: store is required")
	}
	if opts.Codec == nil {
		return nil, fmt.Errorf("tiercache: codec is required")
	}

	lc, err := local.New(opts.Local)
	if err != nil {
		return nil, err
	}

	m := &manager[V]{
		store:    opts.Store,
		codec:    opts.Codec,
		local:    lc,
		breakers: breaker.NewGroup(opts.Breaker),
		repl:     opts.Replication,
	}

	// defaults
	m.log = coalesce[Logger](opts.Logger, NopLogger{})
	m.defaultTTL = coalesce[time.Duration](opts.DefaultTTL, defaultTTL)
	m.batchWorkers = coalesce[int](opts.BatchConcurrency, defaultBatchWorkers)
	m.scanPage = coalesce[int](opts.ScanPageSize, defaultScanPage)
	m.opTimeout = coalesce[time.Duration](opts.OpTimeout, defaultOpTimeout)

	switch {
	case opts.CompressThreshold < 0:
		m.compressMin = 0 // disabled
	case opts.CompressThreshold == 0:
		m.compressMin = defaultCompressMin
	default:
		m.compressMin = opts.CompressThreshold
	}

	retention := coalesce[time.Duration](opts.VersionRetention, defaultVerRetention)
	prune := coalesce[time.Duration](opts.VersionPruneInterval, defaultVerPrune)
	m.versions = version.NewStore(prune, retention)

	return m, nil
}

func (m *manager[V]) Close(ctx context.Context) error {
	m.versions.Close()
	m.local.Close()
	if m.repl != nil {
		if err := m.repl.Close(ctx); err != nil {
			_ = m.store.Close()
			return err
		}
	}
	return m.store.Close()
}

// validate rejects malformed tenants and keys before they reach any tier.
func (m *manager[V]) validate(tenant, key string) error {
	if err := keys.ValidateTenant(tenant); err != nil {
		return fmt.Errorf("%w: %v", ErrKeyRejected, err)
	}
	if key == "" {
		return fmt.Errorf("%w: empty key", ErrKeyRejected)
	}
	return nil
}

func (m *manager[V]) counters(tenant string) *tenantCounters {
	if tc, ok := m.tenants.Load(tenant); ok {
		return tc.(*tenantCounters)
	}
	tc, _ := m.tenants.LoadOrStore(tenant, &tenantCounters{})
	return tc.(*tenantCounters)
}

func (m *manager[V]) hit(tenant string, fromLocal bool) {
	m.hits.Add(1)
	if fromLocal {
		m.localHits.Add(1)
	} else {
		m.storeHits.Add(1)
	}
	m.counters(tenant).hits.Add(1)
}

func (m *manager[V]) miss(tenant string) {
	m.misses.Add(1)
	m.counters(tenant).misses.Add(1)
}

// guarded runs fn against the backing store through the breaker for the
// endpoint serving storageKey, bounded by the per-call timeout.
func (m *manager[V]) guarded(ctx context.Context, storageKey string, fn func(ctx context.Context) error) error {
	br := m.breakers.For(m.store.Route(storageKey))
	return br.Execute(func() error {
		cctx, cancel := context.WithTimeout(ctx, m.opTimeout)
		defer cancel()
		return fn(cctx)
	})
}

func (m *manager[V]) Get(ctx context.Context, tenant, key string) (V, bool, error) {
	var zero V
	if err := m.validate(tenant, key); err != nil {
		return zero, false, err
	}
	k := keys.Compose(tenant, key)
	now := time.Now()

	if raw, ok := m.local.Get(k); ok {
		entry, err := wire.Decode(raw)
		switch {
		case err != nil:
			// Corrupt local entry: drop and fall through to the store.
			m.corrupt.Add(1)
			m.local.Delete(k)
		case entry.Expired(now):
			m.local.Delete(k)
		default:
			v, err := m.codec.Decode(entry.Payload)
			if err != nil {
				m.serErrs.Add(1)
				m.local.Delete(k)
				return zero, false, &SerializationError{Op: "decode", Key: key, Err: err}
			}
			m.hit(tenant, true)
			return v, true, nil
		}
	}

	var raw []byte
	var found bool
	err := m.guarded(ctx, k, func(cctx context.Context) error {
		b, ok, err := m.store.Read(cctx, k)
		if err != nil {
			return err
		}
		raw, found = b, ok
		return nil
	})
	if err != nil {
		// Degrade to a miss: a cache may act empty, never fail the read.
		m.absorbed.Add(1)
		m.miss(tenant)
		m.log.Debug("store read absorbed", Fields{"key": key, "err": err})
		return zero, false, nil
	}
	if !found {
		m.miss(tenant)
		return zero, false, nil
	}

	entry, err := wire.Decode(raw)
	if err != nil {
		m.corrupt.Add(1)
		m.selfHeal(ctx, k, "corrupt")
		m.miss(tenant)
		return zero, false, nil
	}
	if entry.Expired(now) {
		m.selfHeal(ctx, k, "expired")
		m.miss(tenant)
		return zero, false, nil
	}

	// Populate the local tier with the remaining TTL.
	m.local.Set(k, raw, entry.TTLRemaining(now))

	v, err := m.codec.Decode(entry.Payload)
	if err != nil {
		m.serErrs.Add(1)
		return zero, false, &SerializationError{Op: "decode", Key: key, Err: err}
	}
	m.hit(tenant, false)
	return v, true, nil
}

// selfHeal removes a bad upstream entry, best-effort.
func (m *manager[V]) selfHeal(ctx context.Context, storageKey, reason string) {
	err := m.guarded(ctx, storageKey, func(cctx context.Context) error {
		return m.store.Delete(cctx, storageKey)
	})
	m.log.Debug("self-healed store entry", Fields{"key": storageKey, "reason": reason, "err": err})
}

func (m *manager[V]) Set(ctx context.Context, tenant, key string, value V, ttl time.Duration) (bool, error) {
	if err := m.validate(tenant, key); err != nil {
		return false, err
	}
	k := keys.Compose(tenant, key)

	switch {
	case ttl == 0:
		ttl = m.defaultTTL
	case ttl < 0:
		ttl = 0 // no expiry
	}

	payload, err := m.codec.Encode(value)
	if err != nil {
		m.serErrs.Add(1)
		return false, &SerializationError{Op: "encode", Key: key, Err: err}
	}

	now := time.Now()
	entry := wire.Entry{
		Version:  m.versions.Next(k),
		StoredAt: now,
		Payload:  payload,
	}
	if ttl > 0 {
		entry.ExpiresAt = now.Add(ttl)
	}
	env := wire.Encode(entry, m.compressMin)

	// Local write is synchronous and always succeeds; eviction makes room.
	m.local.Set(k, env, ttl)

	durable := true
	err = m.guarded(ctx, k, func(cctx context.Context) error {
		return m.store.Write(cctx, k, env, ttl)
	})
	if err != nil {
		// Locally cached but not yet durable upstream.
		durable = false
		m.absorbed.Add(1)
		m.log.Debug("store write absorbed", Fields{"key": key, "err": err})
	}

	if m.repl != nil {
		m.repl.Enqueue(replica.OpSet, k, env, ttl)
	}
	return durable, nil
}

func (m *manager[V]) Delete(ctx context.Context, tenant, key string) error {
	if err := m.validate(tenant, key); err != nil {
		return err
	}
	k := keys.Compose(tenant, key)

	m.local.Delete(k)

	err := m.guarded(ctx, k, func(cctx context.Context) error {
		return m.store.Delete(cctx, k)
	})
	if err != nil {
		// Not retried synchronously; replication will converge the replicas.
		m.absorbed.Add(1)
		m.log.Debug("store delete absorbed", Fields{"key": key, "err": err})
	}

	if m.repl != nil {
		m.repl.Enqueue(replica.OpDelete, k, nil, 0)
	}
	return nil
}

func (m *manager[V]) BatchGet(ctx context.Context, tenant string, kk []string) ([]Result[V], error) {
	if err := keys.ValidateTenant(tenant); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrKeyRejected, err)
	}
	results := make([]Result[V], len(kk))
	m.fanOut(len(kk), func(i int) {
		v, ok, err := m.Get(ctx, tenant, kk[i])
		results[i] = Result[V]{Key: kk[i], Value: v, Found: ok, Err: err}
	})
	return results, nil
}

func (m *manager[V]) BatchSet(ctx context.Context, tenant string, items []Item[V]) ([]Result[V], error) {
	if err := keys.ValidateTenant(tenant); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrKeyRejected, err)
	}
	results := make([]Result[V], len(items))
	m.fanOut(len(items), func(i int) {
		durable, err := m.Set(ctx, tenant, items[i].Key, items[i].Value, items[i].TTL)
		results[i] = Result[V]{Key: items[i].Key, Durable: durable, Err: err}
	})
	return results, nil
}

// fanOut runs fn(0..n-1) with at most batchWorkers in flight. Results are
// written by index, so completion order does not matter.
func (m *manager[V]) fanOut(n int, fn func(i int)) {
	sem := make(chan struct{}, m.batchWorkers)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		sem <- struct{}{}
		go func(i int) {
			defer wg.Done()
			defer func() { <-sem }()
			fn(i)
		}(i)
	}
	wg.Wait()
}

func (m *manager[V]) Scan(ctx context.Context, tenant, pattern, cursor string, count int) ([]string, string, error) {
	if err := keys.ValidateTenant(tenant); err != nil {
		return nil, "", fmt.Errorf("%w: %v", ErrKeyRejected, err)
	}
	var cur uint64
	if cursor != "" {
		var err error
		cur, err = strconv.ParseUint(cursor, 10, 64)
		if err != nil {
			return nil, "", fmt.Errorf("%w: malformed cursor", ErrKeyRejected)
		}
	}
	if count <= 0 {
		count = m.scanPage
	}

	match := keys.ScanMatch(tenant, pattern)
	var page []string
	var next uint64
	err := m.guarded(ctx, keys.TenantPrefix(tenant), func(cctx context.Context) error {
		p, n, err := m.store.ScanPage(cctx, match, cur, int64(count))
		if err != nil {
			return err
		}
		page, next = p, n
		return nil
	})
	if err != nil {
		// Same degradation as Get: an unreachable store scans as empty.
		m.absorbed.Add(1)
		m.log.Debug("store scan absorbed", Fields{"tenant": tenant, "err": err})
		return nil, "", nil
	}

	out := make([]string, 0, len(page))
	for _, sk := range page {
		if raw, ok := keys.Split(tenant, sk); ok {
			out = append(out, raw)
		}
	}
	if next == 0 {
		return out, "", nil
	}
	return out, strconv.FormatUint(next, 10), nil
}

// Flush removes a tenant's entries everywhere. Unlike the data path it
// blocks on backing-store acknowledgment and surfaces failures: flush is an
// explicit administrative action whose outcome the operator needs to know.
func (m *manager[V]) Flush(ctx context.Context, tenant, pattern string) (int, error) {
	if err := keys.ValidateTenant(tenant); err != nil {
		return 0, fmt.Errorf("%w: %v", ErrKeyRejected, err)
	}
	if _, err := keys.Match(pattern, "probe"); err != nil {
		return 0, fmt.Errorf("%w: malformed pattern", ErrKeyRejected)
	}

	// Local tier first, so stale entries stop being served immediately.
	prefix := keys.TenantPrefix(tenant)
	m.local.DeleteFunc(func(k string) bool {
		raw, ok := keys.Split(tenant, k)
		if !ok {
			return false
		}
		match, err := keys.Match(pattern, raw)
		return err == nil && match
	})

	match := keys.ScanMatch(tenant, pattern)
	var errs []error
	deleted := 0
	var cursor uint64
	for {
		var page []string
		var next uint64
		err := m.guarded(ctx, prefix, func(cctx context.Context) error {
			p, n, err := m.store.ScanPage(cctx, match, cursor, int64(m.scanPage))
			if err != nil {
				return err
			}
			page, next = p, n
			return nil
		})
		if err != nil {
			errs = append(errs, fmt.Errorf("%w: scan: %v", ErrStoreUnavailable, err))
			break
		}

		if len(page) > 0 {
			err = m.guarded(ctx, prefix, func(cctx context.Context) error {
				return m.store.BulkDelete(cctx, page)
			})
			if err != nil {
				errs = append(errs, fmt.Errorf("%w: delete: %v", ErrStoreUnavailable, err))
			} else {
				deleted += len(page)
				if m.repl != nil {
					for _, sk := range page {
						m.repl.Enqueue(replica.OpDelete, sk, nil, 0)
					}
				}
			}
		}

		if next == 0 {
			break
		}
		cursor = next
	}

	if len(errs) > 0 {
		return deleted, &FlushError{Tenant: tenant, Errs: errs}
	}
	return deleted, nil
}

func (m *manager[V]) Stats() Stats {
	ls := m.local.Stats()
	s := Stats{
		Hits:                m.hits.Load(),
		Misses:              m.misses.Load(),
		LocalHits:           m.localHits.Load(),
		StoreHits:           m.storeHits.Load(),
		AbsorbedFaults:      m.absorbed.Load(),
		CorruptEntries:      m.corrupt.Load(),
		SerializationErrors: m.serErrs.Load(),
		LocalEntries:        ls.Entries,
		LocalEvictions:      ls.Evictions,
		LocalExpirations:    ls.Expirations,
		Circuit:             m.breakers.Worst().String(),
		Breakers:            m.breakers.Stats(),
		Tenants:             make(map[string]TenantStats),
	}
	if m.repl != nil {
		s.Replication = m.repl.Stats()
	}
	m.tenants.Range(func(k, v any) bool {
		tc := v.(*tenantCounters)
		s.Tenants[k.(string)] = TenantStats{Hits: tc.hits.Load(), Misses: tc.misses.Load()}
		return true
	})
	return s
}

func (m *manager[V]) Health(ctx context.Context) Health {
	cctx, cancel := context.WithTimeout(ctx, m.opTimeout)
	defer cancel()
	pingErr := m.store.Ping(cctx)

	circuit := m.breakers.Worst()
	h := Health{Circuit: circuit.String()}
	switch {
	case pingErr != nil:
		h.Status, h.BackingStore = "down", "down"
	case circuit != breaker.StateClosed:
		h.Status, h.BackingStore = "degraded", "degraded"
	default:
		h.Status, h.BackingStore = "ok", "ok"
	}
	return h
}
