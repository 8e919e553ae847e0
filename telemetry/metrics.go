// Package telemetry provides Prometheus metrics, OpenTelemetry tracing and
// correlation-id aware logging helpers.
package telemetry

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Result labels shared by the fetch and publish counters.
const (
	ResultFetched      = "fetched"
	ResultSkipped      = "skipped"
	ResultEmpty        = "empty"
	ResultFailed       = "failed"
	ResultPublished    = "published"
	ResultMissingMedia = "missing_media"
)

var (
	once sync.Once

	// Counters
	FetchCreators    *prometheus.CounterVec // label: result
	FetchItemsAdded  prometheus.Counter
	PublishItems     *prometheus.CounterVec // label: result
	RunsFinished     *prometheus.CounterVec // label: state
	MediaCleanedUp   prometheus.Counter
	LogWebhookErrors prometheus.Counter

	// Histograms (seconds)
	FetchDuration   prometheus.Observer
	PublishDuration prometheus.Observer
	RunDuration     prometheus.Observer

	// Gauges
	PendingItems     prometheus.Gauge
	ThrottleRemain   prometheus.Gauge
	WorkerRunning    prometheus.Gauge // 1=running,0=otherwise
	PublishedInRun   prometheus.Gauge
	CatalogItemCount prometheus.Gauge
)

// Init registers metrics (idempotent).
func Init() {
	once.Do(func() {
		FetchCreators = promauto.NewCounterVec(prometheus.CounterOpts{Name: "clip_fetch_creators_total", Help: "Creator harvest attempts by result"}, []string{"result"})
		FetchItemsAdded = promauto.NewCounter(prometheus.CounterOpts{Name: "clip_fetch_items_added_total", Help: "Clips newly added to the catalog"})
		PublishItems = promauto.NewCounterVec(prometheus.CounterOpts{Name: "clip_publish_items_total", Help: "Publish attempts by result"}, []string{"result"})
		RunsFinished = promauto.NewCounterVec(prometheus.CounterOpts{Name: "clip_runs_finished_total", Help: "Pipeline runs by terminal state"}, []string{"state"})
		MediaCleanedUp = promauto.NewCounter(prometheus.CounterOpts{Name: "clip_media_cleaned_total", Help: "Staged media files removed after publish"})
		LogWebhookErrors = promauto.NewCounter(prometheus.CounterOpts{Name: "clip_log_webhook_errors_total", Help: "Log records the webhook sink failed or dropped"})
		FetchDuration = promauto.NewHistogram(prometheus.HistogramOpts{Name: "clip_fetch_duration_seconds", Help: "Per-creator harvest duration seconds", Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600}})
		PublishDuration = promauto.NewHistogram(prometheus.HistogramOpts{Name: "clip_publish_duration_seconds", Help: "Per-item publish duration seconds", Buckets: prometheus.DefBuckets})
		RunDuration = promauto.NewHistogram(prometheus.HistogramOpts{Name: "clip_run_duration_seconds", Help: "Whole pipeline run duration seconds", Buckets: []float64{60, 600, 3600, 6 * 3600, 12 * 3600, 24 * 3600, 48 * 3600}})
		PendingItems = promauto.NewGauge(prometheus.GaugeOpts{Name: "clip_publish_pending", Help: "Catalog items not yet published"})
		ThrottleRemain = promauto.NewGauge(prometheus.GaugeOpts{Name: "clip_throttle_remaining_seconds", Help: "Seconds left in the current publish throttle wait"})
		WorkerRunning = promauto.NewGauge(prometheus.GaugeOpts{Name: "clip_worker_running", Help: "Worker running=1 otherwise=0"})
		PublishedInRun = promauto.NewGauge(prometheus.GaugeOpts{Name: "clip_published_in_run", Help: "Items published by the current or last run"})
		CatalogItemCount = promauto.NewGauge(prometheus.GaugeOpts{Name: "clip_catalog_items", Help: "Rows in the metadata catalog"})
	})
}

// The helpers below are no-ops until Init has run, so packages can record
// metrics unconditionally.

// CountFetch records one creator harvest outcome.
func CountFetch(result string) {
	if FetchCreators != nil {
		FetchCreators.WithLabelValues(result).Inc()
	}
}

// AddFetchedItems records clips newly written to the catalog.
func AddFetchedItems(n int) {
	if FetchItemsAdded != nil && n > 0 {
		FetchItemsAdded.Add(float64(n))
	}
}

// CountPublish records one publish outcome.
func CountPublish(result string) {
	if PublishItems != nil {
		PublishItems.WithLabelValues(result).Inc()
	}
}

// CountRun records a terminal run state.
func CountRun(state string) {
	if RunsFinished != nil {
		RunsFinished.WithLabelValues(state).Inc()
	}
}

// CountCleanup records removed media files.
func CountCleanup(n int) {
	if MediaCleanedUp != nil && n > 0 {
		MediaCleanedUp.Add(float64(n))
	}
}

// CountWebhookError records a log record the webhook sink could not deliver.
func CountWebhookError() {
	if LogWebhookErrors != nil {
		LogWebhookErrors.Inc()
	}
}

// SetPending records the current unpublished backlog.
func SetPending(n int) { setGauge(PendingItems, float64(n)) }

// SetThrottleRemaining records seconds left in a throttle wait.
func SetThrottleRemaining(d time.Duration) { setGauge(ThrottleRemain, d.Seconds()) }

// SetWorkerRunning flips the worker gauge.
func SetWorkerRunning(running bool) {
	v := 0.0
	if running {
		v = 1
	}
	setGauge(WorkerRunning, v)
}

// SetPublishedInRun records the running publish count of a run.
func SetPublishedInRun(n int) { setGauge(PublishedInRun, float64(n)) }

// SetCatalogItems records the catalog size.
func SetCatalogItems(n int) { setGauge(CatalogItemCount, float64(n)) }

func setGauge(g prometheus.Gauge, v float64) {
	if g != nil {
		g.Set(v)
	}
}

// TimeFunc measures the duration of fn and records in observer if non-nil.
func TimeFunc(obs prometheus.Observer, fn func()) time.Duration {
	start := time.Now()
	fn()
	d := time.Since(start)
	if obs != nil {
		obs.Observe(d.Seconds())
	}
	return d
}

// Observe records d on obs if non-nil.
func Observe(obs prometheus.Observer, d time.Duration) {
	if obs != nil {
		obs.Observe(d.Seconds())
	}
}

// Correlation ID helpers ----------------------------------------------------
type corrKeyType struct{}

var corrKey corrKeyType

// WithCorrelation returns a new context carrying correlation id.
func WithCorrelation(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, corrKey, id)
}

// GetCorrelation returns correlation id or empty string.
func GetCorrelation(ctx context.Context) string {
	if s, ok := ctx.Value(corrKey).(string); ok {
		return s
	}
	return ""
}

// LoggerWithCorr returns a logger with corr attribute if present.
func LoggerWithCorr(ctx context.Context) *slog.Logger {
	if id := GetCorrelation(ctx); id != "" {
		return slog.Default().With(slog.String("corr", id))
	}
	return slog.Default()
}
