package scraper

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics bundles Prometheus collectors for a crawl.
type Metrics struct {
	Registry          *prometheus.Registry
	RequestsTotal     *prometheus.CounterVec
	RequestDuration   prometheus.Histogram
	RetriesTotal      prometheus.Counter
	ErrorsTotal       *prometheus.CounterVec
	ItemsScrapedTotal prometheus.Counter
	ItemFailuresTotal prometheus.Counter
	DuplicatesTotal   prometheus.Counter
	PagesTotal        prometheus.Counter
	CheckpointsTotal  *prometheus.CounterVec
}

// NewMetrics constructs and registers all metrics on a dedicated registry.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	requests := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "crawler_requests_total",
			Help: "HTTP attempts issued by the transport, by outcome.",
		},
		[]string{"outcome"},
	)
	requestDuration := prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "crawler_request_duration_seconds",
			Help:    "Latency of single HTTP attempts.",
			Buckets: prometheus.DefBuckets,
		},
	)
	retries := prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "crawler_retries_total",
			Help: "Attempts repeated after a transport-level failure.",
		},
	)
	errorsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "crawler_errors_total",
			Help: "Failures by category.",
		},
		[]string{"error_type"},
	)
	items := prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "crawler_items_scraped_total",
			Help: "Items fetched and appended to the result set.",
		},
	)
	itemFailures := prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "crawler_item_failures_total",
			Help: "Detail pages that could not be fetched.",
		},
	)
	duplicates := prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "crawler_duplicates_total",
			Help: "Links skipped because the item was already collected.",
		},
	)
	pages := prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "crawler_pages_processed_total",
			Help: "Listing pages fully processed.",
		},
	)
	checkpoints := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "crawler_checkpoint_writes_total",
			Help: "Checkpoint writes by result.",
		},
		[]string{"result"},
	)

	registry.MustRegister(requests, requestDuration, retries, errorsTotal, items, itemFailures, duplicates, pages, checkpoints)

	return &Metrics{
		Registry:          registry,
		RequestsTotal:     requests,
		RequestDuration:   requestDuration,
		RetriesTotal:      retries,
		ErrorsTotal:       errorsTotal,
		ItemsScrapedTotal: items,
		ItemFailuresTotal: itemFailures,
		DuplicatesTotal:   duplicates,
		PagesTotal:        pages,
		CheckpointsTotal:  checkpoints,
	}
}

// IncRequest counts one HTTP attempt.
func (m *Metrics) IncRequest(outcome string) {
	if m == nil {
		return
	}
	m.RequestsTotal.WithLabelValues(outcome).Inc()
}

// ObserveDuration records the latency of one attempt.
func (m *Metrics) ObserveDuration(d time.Duration) {
	if m == nil {
		return
	}
	m.RequestDuration.Observe(d.Seconds())
}

func (m *Metrics) IncRetries() {
	if m == nil {
		return
	}
	m.RetriesTotal.Inc()
}

// IncError increments the errors counter for a type label.
func (m *Metrics) IncError(errorType string) {
	if m == nil {
		return
	}
	m.ErrorsTotal.WithLabelValues(errorType).Inc()
}

func (m *Metrics) IncItems() {
	if m == nil {
		return
	}
	m.ItemsScrapedTotal.Inc()
}

func (m *Metrics) IncItemFailures() {
	if m == nil {
		return
	}
	m.ItemFailuresTotal.Inc()
}

func (m *Metrics) IncDuplicates() {
	if m == nil {
		return
	}
	m.DuplicatesTotal.Inc()
}

func (m *Metrics) IncPages() {
	if m == nil {
		return
	}
	m.PagesTotal.Inc()
}

// IncCheckpoint counts a checkpoint write with result "ok" or "failure".
func (m *Metrics) IncCheckpoint(result string) {
	if m == nil {
		return
	}
	m.CheckpointsTotal.WithLabelValues(result).Inc()
}
