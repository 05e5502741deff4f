package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Namespace for all Meridian metrics
const namespace = "meridian"

// Registry is the private Prometheus registry for all metrics. Using
// our own registry keeps test runs from tripping over duplicate
// registrations in the global default.
var Registry = prometheus.NewRegistry()

// BuildInfo exposes build metadata as labels (always set to 1)
var BuildInfo = promauto.With(Registry).NewGaugeVec(
	prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "build_info",
		Help:      "Build metadata (always set to 1, details in labels)",
	},
	[]string{"version", "commit"},
)

// APIRequestsTotal counts requests per endpoint and API key, including
// rejected ones. The key label holds the key name, "none" when the
// request carried no key and "invalid" for unknown keys.
var APIRequestsTotal = promauto.With(Registry).NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "api_requests_total",
		Help:      "Total number of API requests by endpoint and key",
	},
	[]string{"path", "key"},
)

// LocateQueryTotal counts canonicalized queries by the data they carried
var LocateQueryTotal = promauto.With(Registry).NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "locate_query_total",
		Help:      "Total number of location queries by carried data",
	},
	[]string{"api", "key", "region", "geoip", "cell", "wifi"},
)

// LocateResultTotal counts final query outcomes. The accuracy label is
// the accuracy the query could have supported, not what it achieved.
var LocateResultTotal = promauto.With(Registry).NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "locate_result_total",
		Help:      "Total number of location query outcomes",
	},
	[]string{"api", "key", "region", "fallback_allowed", "accuracy", "status", "source"},
)

// LocateSourceTotal counts per-source outcomes within queries
var LocateSourceTotal = promauto.With(Registry).NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "locate_source_total",
		Help:      "Total number of per-source location outcomes",
	},
	[]string{"api", "key", "region", "source", "accuracy", "status"},
)

// FallbackCacheTotal tracks fallback cache effectiveness
// status: hit|miss|bypassed|error
var FallbackCacheTotal = promauto.With(Registry).NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "fallback_cache_total",
		Help:      "Total number of fallback cache lookups by status",
	},
	[]string{"status"},
)

// FallbackRequestsTotal tracks outbound fallback service requests
// status: success|notfound|error|ratelimited
var FallbackRequestsTotal = promauto.With(Registry).NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "fallback_requests_total",
		Help:      "Total number of outbound fallback service requests by status",
	},
	[]string{"status"},
)

// RateLimitTotal tracks daily API key limit checks
// outcome: allowed|limited|error
var RateLimitTotal = promauto.With(Registry).NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "ratelimit_total",
		Help:      "Total number of API key rate limit checks by outcome",
	},
	[]string{"outcome"},
)

// GeoIPAgeDays tracks the age of the loaded GeoIP database build
var GeoIPAgeDays = promauto.With(Registry).NewGauge(
	prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "geoip_age_days",
		Help:      "Age of the GeoIP database build in days (-1 when not loaded)",
	},
)

// Init initializes the metrics registry and sets build information
func Init(version, commit string) {
	// Register default Go metrics (memory, goroutines, GC, etc.)
	Registry.MustRegister(collectors.NewGoCollector())

	// Register process metrics (CPU, memory, file descriptors)
	Registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	BuildInfo.WithLabelValues(version, commit).Set(1)
}
