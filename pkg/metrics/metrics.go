// Package metrics documents the Prometheus metrics exported by the APS client
// and exposes them over HTTP. Metrics are defined in their own packages
// (client, pagination, poll, upload, cache, ratelimit) via promauto.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry is the default Prometheus registry used by the APS client.
var Registry = prometheus.DefaultRegisterer

// Gatherer is the registry Handler serves.
var Gatherer = prometheus.DefaultGatherer

// Handler returns an HTTP handler serving all registered metrics.
func Handler() http.Handler {
	return promhttp.HandlerFor(Gatherer, promhttp.HandlerOpts{})
}

// Metrics Documentation
//
// Request Metrics (pkg/client):
//   - aps_requests_total{service, status} (Counter)
//   - aps_request_duration_seconds{service} (Histogram)
//   - aps_errors_total{class} (Counter): client, server, rate_limit, network, unexpected
//
// Retry Metrics (pkg/client, opt-in Retry helper):
//   - aps_retries_total{error_class} (Counter)
//   - aps_retry_backoff_seconds{error_class} (Histogram)
//   - aps_retry_exhausted_total{error_class} (Counter)
//
// Pagination Metrics (pkg/pagination):
//   - aps_pagination_pages_total{collection} (Counter)
//   - aps_pagination_aborts_total{collection} (Counter)
//
// Poll Metrics (pkg/poll):
//   - aps_poll_attempts_total{kind} (Counter)
//   - aps_poll_outcomes_total{kind, outcome} (Counter)
//   - aps_poll_duration_seconds{kind} (Histogram)
//
// Upload Metrics (pkg/upload):
//   - aps_uploads_total{outcome} (Counter)
//   - aps_upload_bytes_total (Counter)
//
// Throttle Metrics (pkg/ratelimit):
//   - aps_rate_limit_throttles_total (Counter): 429 responses observed
//   - aps_rate_limit_blocks_total (Counter): requests delayed by a throttle window
//   - aps_rate_limit_wait_seconds (Histogram)
//
// Job Cache Metrics (pkg/cache):
//   - aps_job_cache_hits_total{kind} (Counter)
//   - aps_job_cache_misses_total{kind} (Counter)
//   - aps_job_cache_stores_total{kind} (Counter)
//   - aps_job_cache_errors_total{operation} (Counter)
//
// Example Prometheus Queries:
//
//   # Abandoned upload rate
//   sum(rate(aps_uploads_total{outcome=~"abandoned_.*"}[1h]))
//
//   # Work item failures
//   sum by (outcome) (rate(aps_poll_outcomes_total{kind="workitem", outcome!="success"}[1h]))
//
//   # P95 Request Latency
//   histogram_quantile(0.95, rate(aps_request_duration_seconds_bucket[5m]))
