// Package metrics collects Prometheus counters for the sync core. The
// consuming shell decides whether and where to expose them.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Collector is the subset of instrumentation the core records. Services
// accept it via constructor; NewNop returns a no-op implementation.
type Collector interface {
	RemoteRequest(table, outcome string)
	RateLimitRetry(table string)
	ReadCacheHit(table string)
	ReadCacheMiss(table string)
	CacheHit(collection string)
	CacheMiss(collection string)
	Rollback(collection string)
	TokenRefresh(outcome string)
}

// PromCollector implements Collector on top of a Prometheus registry.
type PromCollector struct {
	remoteRequests *prometheus.CounterVec
	rateLimitRetry *prometheus.CounterVec
	readCache      *prometheus.CounterVec
	recordCache    *prometheus.CounterVec
	rollbacks      *prometheus.CounterVec
	tokenRefresh   *prometheus.CounterVec
}

// NewPromCollector creates a PromCollector and registers its metrics with reg.
func NewPromCollector(reg prometheus.Registerer) *PromCollector {
	c := &PromCollector{
		remoteRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gridsync_remote_requests_total",
			Help: "Remote table-store requests by table and outcome.",
		}, []string{"table", "outcome"}),
		rateLimitRetry: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gridsync_rate_limit_retries_total",
			Help: "Backoff retries triggered by rate-limit responses.",
		}, []string{"table"}),
		readCache: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gridsync_read_cache_total",
			Help: "Adapter read-cache lookups by table and result.",
		}, []string{"table", "result"}),
		recordCache: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gridsync_record_cache_total",
			Help: "Record cache lookups by collection and result.",
		}, []string{"collection", "result"}),
		rollbacks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gridsync_rollbacks_total",
			Help: "Optimistic mutations rolled back after a remote failure.",
		}, []string{"collection"}),
		tokenRefresh: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gridsync_token_refresh_total",
			Help: "Token refresh attempts by outcome.",
		}, []string{"outcome"}),
	}

	reg.MustRegister(
		c.remoteRequests,
		c.rateLimitRetry,
		c.readCache,
		c.recordCache,
		c.rollbacks,
		c.tokenRefresh,
	)

	return c
}

func (c *PromCollector) RemoteRequest(table, outcome string) {
	c.remoteRequests.WithLabelValues(table, outcome).Inc()
}

func (c *PromCollector) RateLimitRetry(table string) {
	c.rateLimitRetry.WithLabelValues(table).Inc()
}

func (c *PromCollector) ReadCacheHit(table string) {
	c.readCache.WithLabelValues(table, "hit").Inc()
}

func (c *PromCollector) ReadCacheMiss(table string) {
	c.readCache.WithLabelValues(table, "miss").Inc()
}

func (c *PromCollector) CacheHit(collection string) {
	c.recordCache.WithLabelValues(collection, "hit").Inc()
}

func (c *PromCollector) CacheMiss(collection string) {
	c.recordCache.WithLabelValues(collection, "miss").Inc()
}

func (c *PromCollector) Rollback(collection string) {
	c.rollbacks.WithLabelValues(collection).Inc()
}

func (c *PromCollector) TokenRefresh(outcome string) {
	c.tokenRefresh.WithLabelValues(outcome).Inc()
}

type nopCollector struct{}

// NewNop returns a Collector that records nothing.
func NewNop() Collector { return nopCollector{} }

func (nopCollector) RemoteRequest(string, string) {}
func (nopCollector) RateLimitRetry(string)        {}
func (nopCollector) ReadCacheHit(string)          {}
func (nopCollector) ReadCacheMiss(string)         {}
func (nopCollector) CacheHit(string)              {}
func (nopCollector) CacheMiss(string)             {}
func (nopCollector) Rollback(string)              {}
func (nopCollector) TokenRefresh(string)          {}
