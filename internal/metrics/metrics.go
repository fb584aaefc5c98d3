// Package metrics provides Prometheus metrics for the aggregation pipeline.
package metrics

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// QuotesSavedTotal is a counter of quotes persisted per source.
	QuotesSavedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "quotes_saved_total",
			Help: "Total number of quotes persisted from sources",
		},
		[]string{"source"},
	)

	// SourceFailuresTotal is a counter of failed source fetches.
	SourceFailuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "source_failures_total",
			Help: "Total number of failed source fetches",
		},
		[]string{"source"},
	)

	// SourceFetchDuration is a histogram of adapter call latencies.
	SourceFetchDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "source_fetch_duration_seconds",
			Help:    "Duration of source adapter fetches",
			Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 20},
		},
		[]string{"source"},
	)

	// AggregatesTotal is a counter of aggregates persisted.
	AggregatesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "aggregates_total",
			Help: "Total number of aggregates computed",
		},
		[]string{"currency"},
	)

	// AggregationSkippedTotal counts aggregation passes that had no usable quotes.
	AggregationSkippedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "aggregation_skipped_total",
			Help: "Total number of aggregation passes skipped for lack of data",
		},
		[]string{"currency"},
	)

	// OutlierRejectionsTotal is a counter of rejected outlier quotes.
	OutlierRejectionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "outlier_rejections_total",
			Help: "Total number of outlier quotes rejected",
		},
		[]string{"currency"},
	)

	// ArbitrageOpportunitiesTotal is a counter of detected spreads.
	ArbitrageOpportunitiesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "arbitrage_opportunities_total",
			Help: "Total number of arbitrage opportunities detected",
		},
		[]string{"currency"},
	)

	// HTTPRequestsTotal is a counter of total HTTP requests.
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "status"},
	)

	// HTTPRequestDuration is a histogram of HTTP request latencies.
	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latencies",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"method"},
	)
)

var initOnce sync.Once

// Init registers all metrics with the default registry. Repeated calls are no-ops.
func Init() {
	initOnce.Do(func() {
		prometheus.MustRegister(
			QuotesSavedTotal,
			SourceFailuresTotal,
			SourceFetchDuration,
			AggregatesTotal,
			AggregationSkippedTotal,
			OutlierRejectionsTotal,
			ArbitrageOpportunitiesTotal,
			HTTPRequestsTotal,
			HTTPRequestDuration,
		)
	})
}

// Handler returns the Prometheus scrape handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// RecordQuoteSaved records a persisted quote.
func RecordQuoteSaved(source string) {
	QuotesSavedTotal.WithLabelValues(source).Inc()
}

// RecordSourceFetch records an adapter call and whether it failed.
func RecordSourceFetch(source string, duration time.Duration, failed bool) {
	SourceFetchDuration.WithLabelValues(source).Observe(duration.Seconds())
	if failed {
		SourceFailuresTotal.WithLabelValues(source).Inc()
	}
}

// RecordAggregate records a persisted aggregate.
func RecordAggregate(currency string) {
	AggregatesTotal.WithLabelValues(currency).Inc()
}

// RecordAggregationSkipped records a pass that produced no aggregate.
func RecordAggregationSkipped(currency string) {
	AggregationSkippedTotal.WithLabelValues(currency).Inc()
}

// RecordOutlierRejections records n rejected quotes.
func RecordOutlierRejections(currency string, n int) {
	if n > 0 {
		OutlierRejectionsTotal.WithLabelValues(currency).Add(float64(n))
	}
}

// RecordArbitrageOpportunity records a detected spread.
func RecordArbitrageOpportunity(currency string) {
	ArbitrageOpportunitiesTotal.WithLabelValues(currency).Inc()
}

// RecordHTTPRequest records an HTTP request.
func RecordHTTPRequest(method, status string, duration time.Duration) {
	HTTPRequestsTotal.WithLabelValues(method, status).Inc()
	HTTPRequestDuration.WithLabelValues(method).Observe(duration.Seconds())
}
