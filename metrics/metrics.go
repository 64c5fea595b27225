// Package metrics exposes cache counters and HTTP request timings through a
// prometheus registry.
//
// Cache-level numbers are not tracked twice: a Collector pulls them from the
// manager's lock-free Stats snapshot at scrape time.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tiercache/tiercache"
)

// StatsSource is anything that can snapshot cache stats; in practice the
// tiercache manager.
type StatsSource interface {
	Stats() tiercache.Stats
}

// Metrics owns the registry, the request histogram and the stats collector.
type Metrics struct {
	registry *prometheus.Registry

	requestDuration *prometheus.HistogramVec
	requestTotal    *prometheus.CounterVec
}

func New(src StatsSource) (*Metrics, error) {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "tiercache",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request latency by route and method.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route", "method", "status"}),
		requestTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tiercache",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "HTTP requests by route, method and status.",
		}, []string{"route", "method", "status"}),
	}

	for _, c := range []prometheus.Collector{
		m.requestDuration,
		m.requestTotal,
		newStatsCollector(src),
		collectors.NewGoCollector(),
	} {
		if err := registry.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// ObserveRequest records one served HTTP request.
func (m *Metrics) ObserveRequest(route, method, status string, d time.Duration) {
	m.requestDuration.WithLabelValues(route, method, status).Observe(d.Seconds())
	m.requestTotal.WithLabelValues(route, method, status).Inc()
}

// Handler serves the scrape endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// statsCollector translates the manager's Stats snapshot into prometheus
// metrics at scrape time.
type statsCollector struct {
	src StatsSource

	hits        *prometheus.Desc
	misses      *prometheus.Desc
	localHits   *prometheus.Desc
	storeHits   *prometheus.Desc
	absorbed    *prometheus.Desc
	corrupt     *prometheus.Desc
	serErrs     *prometheus.Desc
	localSize   *prometheus.Desc
	evictions   *prometheus.Desc
	expirations *prometheus.Desc
	circuit     *prometheus.Desc
	replDrops   *prometheus.Desc
	replFails   *prometheus.Desc
	replQueue   *prometheus.Desc
	replLag     *prometheus.Desc
	tenantHits  *prometheus.Desc
	tenantMiss  *prometheus.Desc
}

func newStatsCollector(src StatsSource) *statsCollector {
	ns := "tiercache"
	return &statsCollector{
		src:         src,
		hits:        prometheus.NewDesc(ns+"_hits_total", "Cache hits.", nil, nil),
		misses:      prometheus.NewDesc(ns+"_misses_total", "Cache misses.", nil, nil),
		localHits:   prometheus.NewDesc(ns+"_local_hits_total", "Hits served by the local tier.", nil, nil),
		storeHits:   prometheus.NewDesc(ns+"_store_hits_total", "Hits served by the backing store.", nil, nil),
		absorbed:    prometheus.NewDesc(ns+"_absorbed_faults_total", "Backing-store faults absorbed on the data path.", nil, nil),
		corrupt:     prometheus.NewDesc(ns+"_corrupt_entries_total", "Envelopes rejected and self-healed.", nil, nil),
		serErrs:     prometheus.NewDesc(ns+"_serialization_errors_total", "Codec failures surfaced to callers.", nil, nil),
		localSize:   prometheus.NewDesc(ns+"_local_entries", "Entries in the local tier.", nil, nil),
		evictions:   prometheus.NewDesc(ns+"_local_evictions_total", "LRU evictions from the local tier.", nil, nil),
		expirations: prometheus.NewDesc(ns+"_local_expirations_total", "TTL expirations reclaimed from the local tier.", nil, nil),
		circuit:     prometheus.NewDesc(ns+"_circuit_state", "Breaker state per endpoint (0 closed, 1 half-open, 2 open).", []string{"endpoint"}, nil),
		replDrops:   prometheus.NewDesc(ns+"_replication_dropped_total", "Replication tasks dropped on queue overflow.", nil, nil),
		replFails:   prometheus.NewDesc(ns+"_replication_failed_total", "Replication tasks that exhausted their retry budget.", nil, nil),
		replQueue:   prometheus.NewDesc(ns+"_replication_queue_depth", "Pending replication tasks.", nil, nil),
		replLag:     prometheus.NewDesc(ns+"_replication_lag_seconds", "Age of the oldest unacknowledged task per target.", []string{"target"}, nil),
		tenantHits:  prometheus.NewDesc(ns+"_tenant_hits_total", "Cache hits per tenant.", []string{"tenant"}, nil),
		tenantMiss:  prometheus.NewDesc(ns+"_tenant_misses_total", "Cache misses per tenant.", []string{"tenant"}, nil),
	}
}

func (c *statsCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.hits
	ch <- c.misses
	ch <- c.localHits
	ch <- c.storeHits
	ch <- c.absorbed
	ch <- c.corrupt
	ch <- c.serErrs
	ch <- c.localSize
	ch <- c.evictions
	ch <- c.expirations
	ch <- c.circuit
	ch <- c.replDrops
	ch <- c.replFails
	ch <- c.replQueue
	ch <- c.replLag
	ch <- c.tenantHits
	ch <- c.tenantMiss
}

func (c *statsCollector) Collect(ch chan<- prometheus.Metric) {
	s := c.src.Stats()

	counter := func(d *prometheus.Desc, v uint64) {
		ch <- prometheus.MustNewConstMetric(d, prometheus.CounterValue, float64(v))
	}
	counter(c.hits, s.Hits)
	counter(c.misses, s.Misses)
	counter(c.localHits, s.LocalHits)
	counter(c.storeHits, s.StoreHits)
	counter(c.absorbed, s.AbsorbedFaults)
	counter(c.corrupt, s.CorruptEntries)
	counter(c.serErrs, s.SerializationErrors)
	counter(c.evictions, s.LocalEvictions)
	counter(c.expirations, s.LocalExpirations)
	counter(c.replDrops, s.Replication.Dropped)
	counter(c.replFails, s.Replication.Failed)

	ch <- prometheus.MustNewConstMetric(c.localSize, prometheus.GaugeValue, float64(s.LocalEntries))
	ch <- prometheus.MustNewConstMetric(c.replQueue, prometheus.GaugeValue, float64(s.Replication.QueueDepth))

	for _, b := range s.Breakers {
		var v float64
		switch b.State {
		case "half_open":
			v = 1
		case "open":
			v = 2
		}
		ch <- prometheus.MustNewConstMetric(c.circuit, prometheus.GaugeValue, v, b.Name)
	}
	for target, lag := range s.Replication.Lag {
		ch <- prometheus.MustNewConstMetric(c.replLag, prometheus.GaugeValue, lag.Seconds(), target)
	}
	for tenant, ts := range s.Tenants {
		ch <- prometheus.MustNewConstMetric(c.tenantHits, prometheus.CounterValue, float64(ts.Hits), tenant)
		ch <- prometheus.MustNewConstMetric(c.tenantMiss, prometheus.CounterValue, float64(ts.Misses), tenant)
	}
}
