// Package httpapi exposes the cache over HTTP.
//
// Routes:
//
//	GET    /cache/{tenant}/{key}        read a value (404 on miss)
//	PUT    /cache/{tenant}/{key}?ttl=   write the request body
//	DELETE /cache/{tenant}/{key}        delete
//	POST   /cache/{tenant}/batch        batched get or set
//	GET    /cache/{tenant}/scan         page through keys
//	POST   /cache/{tenant}/flush        drop a tenant's entries
//	GET    /cache/stats                 counters snapshot
//	GET    /cache/health                degradation summary
//	GET    /metrics                     prometheus scrape
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/tiercache/tiercache"
	"github.com/tiercache/tiercache/metrics"
)

// maxValueSize bounds PUT and batch request bodies.
const maxValueSize = 8 << 20

// Config tunes the HTTP layer, not the cache behind it.
type Config struct {
	// FlushBlocking makes POST /flush wait for the backing store and report
	// the removed-key count. When false the flush runs in the background and
	// the handler answers 202 immediately.
	FlushBlocking bool

	// RequireTenantHeader rejects requests whose X-Tenant-ID header does not
	// match the tenant in the path. Off by default.
	RequireTenantHeader bool
}

// Server routes HTTP requests to a byte-valued cache.
type Server struct {
	cache   tiercache.Cache[[]byte]
	metrics *metrics.Metrics
	log     tiercache.Logger
	cfg     Config
	router  *mux.Router
}

func New(cache tiercache.Cache[[]byte], m *metrics.Metrics, log tiercache.Logger, cfg Config) *Server {
	if log == nil {
		log = tiercache.NopLogger{}
	}
	s := &Server{cache: cache, metrics: m, log: log, cfg: cfg}
	s.router = s.routes()
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) routes() *mux.Router {
	r := mux.NewRouter()
	r.Use(s.instrument)

	// Fixed segments first so "batch" and friends never match {key}.
	r.HandleFunc("/cache/stats", s.handleStats).Methods(http.MethodGet)
	r.HandleFunc("/cache/health", s.handleHealth).Methods(http.MethodGet)

	t := r.PathPrefix("/cache/{tenant}").Subrouter()
	if s.cfg.RequireTenantHeader {
		t.Use(s.checkTenantHeader)
	}
	t.HandleFunc("/batch", s.handleBatch).Methods(http.MethodPost)
	t.HandleFunc("/scan", s.handleScan).Methods(http.MethodGet)
	t.HandleFunc("/flush", s.handleFlush).Methods(http.MethodPost)
	t.HandleFunc("/{key:.+}", s.handleGet).Methods(http.MethodGet)
	t.HandleFunc("/{key:.+}", s.handlePut).Methods(http.MethodPut)
	t.HandleFunc("/{key:.+}", s.handleDelete).Methods(http.MethodDelete)

	if s.metrics != nil {
		r.Handle("/metrics", s.metrics.Handler()).Methods(http.MethodGet)
	}
	return r
}

// instrument records per-route latency and status. The route template keeps
// the label cardinality bounded regardless of tenant and key values.
func (s *Server) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.metrics == nil {
			next.ServeHTTP(w, r)
			return
		}
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		route := "unmatched"
		if cur := mux.CurrentRoute(r); cur != nil {
			if tpl, err := cur.GetPathTemplate(); err == nil {
				route = tpl
			}
		}
		s.metrics.ObserveRequest(route, r.Method, strconv.Itoa(rec.status), time.Since(start))
	})
}

func (s *Server) checkTenantHeader(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("X-Tenant-ID"); got != mux.Vars(r)["tenant"] {
			s.writeError(w, http.StatusForbidden, "tenant header mismatch")
			return
		}
		next.ServeHTTP(w, r)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	v, ok, err := s.cache.Get(r.Context(), vars["tenant"], vars["key"])
	if err != nil {
		s.writeCacheError(w, err)
		return
	}
	if !ok {
		s.writeError(w, http.StatusNotFound, "not found")
		return
	}
	w.Header().Set("Content-Type", "application/octet-stream")
	w.Write(v)
}

func (s *Server) handlePut(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)

	ttl, err := parseTTL(r.URL.Query().Get("ttl"))
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid ttl: "+err.Error())
		return
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, maxValueSize+1))
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "read body: "+err.Error())
		return
	}
	if len(body) > maxValueSize {
		s.writeError(w, http.StatusRequestEntityTooLarge, "value too large")
		return
	}

	durable, err := s.cache.Set(r.Context(), vars["tenant"], vars["key"], body, ttl)
	if err != nil {
		s.writeCacheError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"durable": durable})
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	if err := s.cache.Delete(r.Context(), vars["tenant"], vars["key"]); err != nil {
		s.writeCacheError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// batchRequest carries either a get (Keys) or a set (Items), not both.
type batchRequest struct {
	Keys  []string    `json:"keys,omitempty"`
	Items []batchItem `json:"items,omitempty"`
}

type batchItem struct {
	Key   string `json:"key"`
	Value []byte `json:"value"` // base64 in JSON
	TTL   string `json:"ttl,omitempty"`
}

type batchResult struct {
	Key     string `json:"key"`
	Value   []byte `json:"value,omitempty"`
	Found   bool   `json:"found,omitempty"`
	Durable bool   `json:"durable,omitempty"`
	Error   string `json:"error,omitempty"`
}

func (s *Server) handleBatch(w http.ResponseWriter, r *http.Request) {
	tenant := mux.Vars(r)["tenant"]

	var req batchRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxValueSize)).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid body: "+err.Error())
		return
	}
	switch {
	case len(req.Keys) > 0 && len(req.Items) > 0:
		s.writeError(w, http.StatusBadRequest, "keys and items are mutually exclusive")
	case len(req.Keys) > 0:
		s.batchGet(w, r, tenant, req.Keys)
	case len(req.Items) > 0:
		s.batchSet(w, r, tenant, req.Items)
	default:
		s.writeError(w, http.StatusBadRequest, "empty batch")
	}
}

func (s *Server) batchGet(w http.ResponseWriter, r *http.Request, tenant string, keys []string) {
	results, err := s.cache.BatchGet(r.Context(), tenant, keys)
	if err != nil {
		s.writeCacheError(w, err)
		return
	}
	out := make([]batchResult, len(results))
	for i, res := range results {
		out[i] = batchResult{Key: res.Key, Value: res.Value, Found: res.Found}
		if res.Err != nil {
			out[i].Error = res.Err.Error()
		}
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"results": out})
}

func (s *Server) batchSet(w http.ResponseWriter, r *http.Request, tenant string, in []batchItem) {
	items := make([]tiercache.Item[[]byte], len(in))
	for i, it := range in {
		ttl, err := parseTTL(it.TTL)
		if err != nil {
			s.writeError(w, http.StatusBadRequest, "invalid ttl for "+it.Key+": "+err.Error())
			return
		}
		items[i] = tiercache.Item[[]byte]{Key: it.Key, Value: it.Value, TTL: ttl}
	}
	results, err := s.cache.BatchSet(r.Context(), tenant, items)
	if err != nil {
		s.writeCacheError(w, err)
		return
	}
	out := make([]batchResult, len(results))
	for i, res := range results {
		out[i] = batchResult{Key: res.Key, Durable: res.Durable}
		if res.Err != nil {
			out[i].Error = res.Err.Error()
		}
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"results": out})
}

func (s *Server) handleScan(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	count := 0
	if raw := q.Get("count"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			s.writeError(w, http.StatusBadRequest, "invalid count")
			return
		}
		count = n
	}
	keys, next, err := s.cache.Scan(r.Context(), mux.Vars(r)["tenant"], q.Get("pattern"), q.Get("cursor"), count)
	if err != nil {
		s.writeCacheError(w, err)
		return
	}
	if keys == nil {
		keys = []string{}
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"keys": keys, "cursor": next})
}

func (s *Server) handleFlush(w http.ResponseWriter, r *http.Request) {
	tenant := mux.Vars(r)["tenant"]
	pattern := r.URL.Query().Get("pattern")

	if !s.cfg.FlushBlocking {
		// The request context dies with the handler; the background flush
		// gets its own.
		go func() {
			n, err := s.cache.Flush(context.Background(), tenant, pattern)
			if err != nil {
				s.log.Warn("background flush failed", tiercache.Fields{
					"tenant": tenant, "removed": n, "error": err.Error(),
				})
			}
		}()
		s.writeJSON(w, http.StatusAccepted, map[string]any{"status": "accepted"})
		return
	}

	n, err := s.cache.Flush(r.Context(), tenant, pattern)
	if err != nil {
		var fe *tiercache.FlushError
		if errors.As(err, &fe) {
			s.writeJSON(w, http.StatusBadGateway, map[string]any{
				"removed": n, "error": fe.Error(),
			})
			return
		}
		s.writeCacheError(w, err)
		return
	}
	// Flush always answers 202; blocking mode just reports the count too.
	s.writeJSON(w, http.StatusAccepted, map[string]any{"removed": n})
}

func (s *Server) handleStats(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, s.cache.Stats())
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	h := s.cache.Health(r.Context())
	code := http.StatusOK
	if h.Status == "down" {
		code = http.StatusServiceUnavailable
	}
	s.writeJSON(w, code, h)
}

// parseTTL accepts "" (use the default), "none" (no expiry) and Go duration
// strings.
func parseTTL(raw string) (time.Duration, error) {
	switch raw {
	case "":
		return 0, nil
	case "none":
		return -1, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, err
	}
	if d <= 0 {
		return 0, errors.New("ttl must be positive")
	}
	return d, nil
}

func (s *Server) writeCacheError(w http.ResponseWriter, err error) {
	var serr *tiercache.SerializationError
	switch {
	case errors.Is(err, tiercache.ErrKeyRejected):
		s.writeError(w, http.StatusBadRequest, err.Error())
	case errors.As(err, &serr):
		s.writeError(w, http.StatusInternalServerError, err.Error())
	case errors.Is(err, tiercache.ErrStoreUnavailable):
		s.writeError(w, http.StatusBadGateway, err.Error())
	default:
		s.writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func (s *Server) writeError(w http.ResponseWriter, code int, msg string) {
	s.writeJSON(w, code, map[string]string{"error": msg})
}

func (s *Server) writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Error("encode response", tiercache.Fields{"error": err.Error()})
	}
}
