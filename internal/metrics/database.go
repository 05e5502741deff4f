package metrics

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// DBQueryDuration records database query latency per operation.
	DBQueryDuration = promauto.With(Registry).NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "db_query_duration_seconds",
			Help:      "Database query duration in seconds",
			Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
		},
		[]string{"operation"},
	)

	// DBErrors counts database errors by operation and kind.
	DBErrors = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "db_errors_total",
			Help:      "Total number of database errors",
		},
		[]string{"operation", "error_type"},
	)
)

// PoolStatsCollector exposes pgxpool statistics at scrape time, so the
// reported values are always current without a sampling goroutine.
type PoolStatsCollector struct {
	pool *pgxpool.Pool

	connsOpen     *prometheus.Desc
	connsInUse    *prometheus.Desc
	connsIdle     *prometheus.Desc
	connsMax      *prometheus.Desc
	acquires      *prometheus.Desc
	acquireWait   *prometheus.Desc
	emptyAcquires *prometheus.Desc
}

// NewPoolStatsCollector wraps pool. Register the collector on Registry;
// a nil pool collects nothing, which keeps scrapes working before the
// database is up.
func NewPoolStatsCollector(pool *pgxpool.Pool) *PoolStatsCollector {
	desc := func(name, help string) *prometheus.Desc {
		return prometheus.NewDesc(prometheus.BuildFQName(namespace, "", name), help, nil, nil)
	}
	return &PoolStatsCollector{
		pool:          pool,
		connsOpen:     desc("db_connections_open", "Open connections in the pool"),
		connsInUse:    desc("db_connections_in_use", "Connections currently acquired"),
		connsIdle:     desc("db_connections_idle", "Idle connections in the pool"),
		connsMax:      desc("db_connections_max_open", "Connection ceiling of the pool"),
		acquires:      desc("db_pool_acquires_total", "Successful connection acquires"),
		acquireWait:   desc("db_pool_acquire_wait_seconds_total", "Time spent waiting for a connection"),
		emptyAcquires: desc("db_pool_empty_acquires_total", "Acquires that had to wait for a free connection"),
	}
}

// Describe implements prometheus.Collector.
func (c *PoolStatsCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.connsOpen
	ch <- c.connsInUse
	ch <- c.connsIdle
	ch <- c.connsMax
	ch <- c.acquires
	ch <- c.acquireWait
	ch <- c.emptyAcquires
}

// Collect implements prometheus.Collector.
func (c *PoolStatsCollector) Collect(ch chan<- prometheus.Metric) {
	if c.pool == nil {
		return
	}
	stat := c.pool.Stat()
	ch <- prometheus.MustNewConstMetric(c.connsOpen, prometheus.GaugeValue, float64(stat.TotalConns()))
	ch <- prometheus.MustNewConstMetric(c.connsInUse, prometheus.GaugeValue, float64(stat.AcquiredConns()))
	ch <- prometheus.MustNewConstMetric(c.connsIdle, prometheus.GaugeValue, float64(stat.IdleConns()))
	ch <- prometheus.MustNewConstMetric(c.connsMax, prometheus.GaugeValue, float64(stat.MaxConns()))
	ch <- prometheus.MustNewConstMetric(c.acquires, prometheus.CounterValue, float64(stat.AcquireCount()))
	ch <- prometheus.MustNewConstMetric(c.acquireWait, prometheus.CounterValue, stat.AcquireDuration().Seconds())
	ch <- prometheus.MustNewConstMetric(c.emptyAcquires, prometheus.CounterValue, float64(stat.EmptyAcquireCount()))
}

// RecordQuery observes one query. Defer it with the start time so the
// duration lands in the histogram and failures are classified:
//
//	start := time.Now()
//	defer func() { metrics.RecordQuery("load_cells", start, err) }()
func RecordQuery(operation string, start time.Time, err error) {
	DBQueryDuration.WithLabelValues(operation).Observe(time.Since(start).Seconds())

	if err != nil {
		errorType := "query_error"
		if errors.Is(err, context.Canceled) {
			errorType = "canceled"
		} else if errors.Is(err, context.DeadlineExceeded) {
			errorType = "timeout"
		}
		DBErrors.WithLabelValues(operation, errorType).Inc()
	}
}
