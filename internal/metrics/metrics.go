// Package metrics exposes Prometheus collectors for the ingestion pipeline.
package metrics

import (
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	runsTotal                  *prometheus.CounterVec
	runDurationSeconds         *prometheus.HistogramVec
	tenderOutcomesTotal        *prometheus.CounterVec
	pagesRenderedTotal         *prometheus.CounterVec
	renderDurationSeconds      *prometheus.HistogramVec
	probeResultsTotal          *prometheus.CounterVec
	documentsTotal             *prometheus.CounterVec
	documentBytesTotal         prometheus.Counter
	documentWorkersActive      prometheus.Gauge
	embeddingBatchesTotal      *prometheus.CounterVec
	embeddingChunksTotal       prometheus.Counter
	rateLimitDelaySeconds      *prometheus.HistogramVec
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus collectors. It is safe to call repeatedly.
func Init() {
	once.Do(func() {
		runsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "nabavki_runs_total",
				Help: "Scrape runs closed, labeled by mode and terminal status.",
			},
			[]string{"mode", "status"},
		)

		runDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "nabavki_run_duration_seconds",
				Help:    "Wall time of scrape runs, labeled by mode.",
				Buckets: []float64{10, 30, 60, 300, 900, 1800, 3600, 7200},
			},
			[]string{"mode"},
		)

		tenderOutcomesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "nabavki_tender_outcomes_total",
				Help: "Change gate decisions, labeled by category and outcome.",
			},
			[]string{"category", "outcome"},
		)

		pagesRenderedTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "nabavki_pages_rendered_total",
				Help: "Rendered portal pages, labeled by kind (listing, detail, probe) and result.",
			},
			[]string{"kind", "result"},
		)

		renderDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "nabavki_render_duration_seconds",
				Help:    "Headless render latency, labeled by kind.",
				Buckets: []float64{0.5, 1, 2, 5, 10, 20, 45},
			},
			[]string{"kind"},
		)

		probeResultsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "nabavki_probe_results_total",
				Help: "Route discovery probe outcomes.",
			},
			[]string{"result"},
		)

		documentsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "nabavki_documents_total",
				Help: "Documents settled by the extraction engine, labeled by status and method.",
			},
			[]string{"status", "method"},
		)

		documentBytesTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "nabavki_document_bytes_total",
				Help: "Bytes downloaded for linked documents.",
			},
		)

		documentWorkersActive = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "nabavki_document_workers_active",
				Help: "Document workers currently processing an item.",
			},
		)

		embeddingBatchesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "nabavki_embedding_batches_total",
				Help: "Embedding batches submitted, labeled by outcome.",
			},
			[]string{"outcome"},
		)

		embeddingChunksTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "nabavki_embedding_chunks_total",
				Help: "Chunks embedded and written to the vector store.",
			},
		)

		rateLimitDelaySeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "nabavki_rate_limit_delay_seconds",
				Help:    "Time spent waiting on the per-host rate ceiling.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"host"},
		)

		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests, labeled by method and code.",
			},
			[]string{"method", "code"},
		)

		httpRequestDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Histogram of HTTP request latencies, labeled by method and route.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
			},
			[]string{"method", "route"},
		)
	})
}

// SanitizeHost extracts a lowercase hostname, returning "unknown" for invalid input.
func SanitizeHost(rawURL string) string {
	if !strings.HasPrefix(rawURL, "http") {
		rawURL = "http://" + rawURL
	}
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return "unknown"
	}
	return strings.ToLower(u.Hostname())
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveRun records a closed run.
func ObserveRun(mode, status string, duration time.Duration) {
	Init()
	runsTotal.WithLabelValues(mode, status).Inc()
	runDurationSeconds.WithLabelValues(mode).Observe(duration.Seconds())
}

// ObserveTenderOutcome records one change gate decision.
func ObserveTenderOutcome(category, outcome string) {
	Init()
	tenderOutcomesTotal.WithLabelValues(category, outcome).Inc()
}

// ObserveRender records a headless page render.
func ObserveRender(kind, result string, duration time.Duration) {
	Init()
	pagesRenderedTotal.WithLabelValues(kind, result).Inc()
	if duration > 0 {
		renderDurationSeconds.WithLabelValues(kind).Observe(duration.Seconds())
	}
}

// ObserveProbe records a discovery probe outcome.
func ObserveProbe(result string) {
	Init()
	probeResultsTotal.WithLabelValues(result).Inc()
}

// ObserveDocument records a document settling into status.
func ObserveDocument(status, method string, bytesFetched int) {
	Init()
	documentsTotal.WithLabelValues(status, method).Inc()
	if bytesFetched > 0 {
		documentBytesTotal.Add(float64(bytesFetched))
	}
}

// IncDocumentWorkers increments the active document workers gauge.
func IncDocumentWorkers() {
	Init()
	documentWorkersActive.Inc()
}

// DecDocumentWorkers decrements the active document workers gauge.
func DecDocumentWorkers() {
	Init()
	documentWorkersActive.Dec()
}

// ObserveEmbeddingBatch records an embedding batch outcome and the chunks it carried.
func ObserveEmbeddingBatch(outcome string, chunks int) {
	Init()
	embeddingBatchesTotal.WithLabelValues(outcome).Inc()
	if outcome == "ok" && chunks > 0 {
		embeddingChunksTotal.Add(float64(chunks))
	}
}

// ObserveRateLimitDelay records the duration of a rate limit wait.
func ObserveRateLimitDelay(host string, duration time.Duration) {
	Init()
	rateLimitDelaySeconds.WithLabelValues(host).Observe(duration.Seconds())
}

// ObserveHTTPRequest records an API request.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}
