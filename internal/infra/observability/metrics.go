package observability

import (
	"time"

	"github.com/boddenberg/sindicato-efi-bridge/internal/domain"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	dto "github.com/prometheus/client_model/go"
)

const (
	metricGatewayDuration = "efi_bridge_gateway_request_duration_seconds"
	metricGatewayErrors   = "efi_bridge_gateway_errors_total"
	metricTokenRefreshes  = "efi_bridge_token_refreshes_total"
	metricCacheHits       = "efi_bridge_cache_hits_total"
	metricCacheMisses     = "efi_bridge_cache_misses_total"
)

// Metrics holds all Prometheus metrics for the bridge.
type Metrics struct {
	// Registry is the Prometheus registry that owns these metrics.
	// Exposed so the /metrics endpoint can use it.
	Registry *prometheus.Registry

	requestDuration *prometheus.HistogramVec
	requestsTotal   *prometheus.CounterVec
	gatewayDuration *prometheus.HistogramVec
	gatewayErrors   *prometheus.CounterVec
	tokenRefreshes  prometheus.Counter
	cacheHits       *prometheus.CounterVec
	cacheMisses     *prometheus.CounterVec
}

// NewMetrics creates a dedicated Prometheus registry and registers all
// application metrics in it. Using a private registry avoids "duplicate
// collector" panics when NewMetrics is called more than once (e.g. in tests).
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		Registry: reg,

		requestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "efi_bridge_request_duration_seconds",
				Help:    "Duration of bridge operations by action.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"action"},
		),
		requestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "efi_bridge_requests_total",
				Help: "Total bridge requests by result.",
			},
			[]string{"result"},
		),
		gatewayDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    metricGatewayDuration,
				Help:    "Duration of EFI gateway calls by operation.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation"},
		),
		gatewayErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricGatewayErrors,
				Help: "Total EFI gateway failures by error code.",
			},
			[]string{"code"},
		),
		tokenRefreshes: factory.NewCounter(
			prometheus.CounterOpts{
				Name: metricTokenRefreshes,
				Help: "Total successful EFI token refreshes.",
			},
		),
		cacheHits: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricCacheHits,
				Help: "Total cache hits.",
			},
			[]string{"cache"},
		),
		cacheMisses: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricCacheMisses,
				Help: "Total cache misses.",
			},
			[]string{"cache"},
		),
	}
}

// RecordRequestDuration records the duration of a bridge action.
func (m *Metrics) RecordRequestDuration(action string, d time.Duration) {
	m.requestDuration.WithLabelValues(action).Observe(d.Seconds())
}

// IncrRequest increments the request counter with a result label.
func (m *Metrics) IncrRequest(result string) {
	m.requestsTotal.WithLabelValues(result).Inc()
}

// RecordGatewayDuration records one gateway call.
func (m *Metrics) RecordGatewayDuration(operation string, d time.Duration) {
	m.gatewayDuration.WithLabelValues(operation).Observe(d.Seconds())
}

// IncrGatewayError counts a gateway failure by its error code.
func (m *Metrics) IncrGatewayError(code string) {
	m.gatewayErrors.WithLabelValues(code).Inc()
}

// IncrTokenRefresh counts a successful authentication round-trip.
func (m *Metrics) IncrTokenRefresh() {
	m.tokenRefreshes.Inc()
}

// IncrCacheHit increments the cache hit counter.
func (m *Metrics) IncrCacheHit(cache string) {
	m.cacheHits.WithLabelValues(cache).Inc()
}

// IncrCacheMiss increments the cache miss counter.
func (m *Metrics) IncrCacheMiss(cache string) {
	m.cacheMisses.WithLabelValues(cache).Inc()
}

// Snapshot summarizes the gateway metrics for GET /api/efi/metrics.
func (m *Metrics) Snapshot() *domain.BridgeMetrics {
	snap := &domain.BridgeMetrics{
		GatewayErrors: map[string]int64{},
		Period:        "all_time",
	}

	families, err := m.Registry.Gather()
	if err != nil {
		return snap
	}

	var cacheHits, cacheMisses float64
	for _, mf := range families {
		switch mf.GetName() {
		case metricGatewayDuration:
			for _, metric := range mf.GetMetric() {
				snap.GatewayRequests += int64(metric.GetHistogram().GetSampleCount())
			}
		case metricGatewayErrors:
			for _, metric := range mf.GetMetric() {
				snap.GatewayErrors[labelValue(metric, "code")] += int64(metric.GetCounter().GetValue())
			}
		case metricTokenRefreshes:
			for _, metric := range mf.GetMetric() {
				snap.TokenRefreshes += int64(metric.GetCounter().GetValue())
			}
		case metricCacheHits:
			cacheHits += sumCounters(mf)
		case metricCacheMisses:
			cacheMisses += sumCounters(mf)
		}
	}

	var totalErrors int64
	for _, n := range snap.GatewayErrors {
		totalErrors += n
	}
	if snap.GatewayRequests > 0 {
		snap.GatewayErrorRate = float64(totalErrors) / float64(snap.GatewayRequests)
	}
	if cacheHits+cacheMisses > 0 {
		snap.CompanyCacheHitRate = cacheHits / (cacheHits + cacheMisses)
	}
	return snap
}

func labelValue(metric *dto.Metric, name string) string {
	for _, lp := range metric.GetLabel() {
		if lp.GetName() == name {
			return lp.GetValue()
		}
	}
	return ""
}

func sumCounters(mf *dto.MetricFamily) float64 {
	var total float64
	for _, metric := range mf.GetMetric() {
		total += metric.GetCounter().GetValue()
	}
	return total
}
