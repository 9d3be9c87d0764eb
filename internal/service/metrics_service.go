package service

import (
	"fmt"
	"net/http"
	"runtime"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/noah-isme/lms-circulation-api/internal/models"
)

// MetricsService encapsulates Prometheus instrumentation and provides lightweight snapshots for API consumption.
type MetricsService struct {
	registry        *prometheus.Registry
	handler         http.Handler
	requestDuration *prometheus.HistogramVec
	requestTotal    *prometheus.CounterVec
	cacheHitRatio   prometheus.Gauge
	cacheHits       prometheus.Counter
	cacheMisses     prometheus.Counter

	loansIssued        *prometheus.CounterVec
	returnsProcessed   *prometheus.CounterVec
	penaltiesAssessed  *prometheus.CounterVec
	penaltiesSettled   *prometheus.CounterVec
	waitlistPromotions prometheus.Counter
	bulkApproved       prometheus.Counter
	bulkFailed         prometheus.Counter
	reconcileRuns      prometheus.Counter
	reconcileConflicts prometheus.Counter
	reconcileLastRun   prometheus.Gauge

	cacheHitCount        uint64
	cacheMissCount       uint64
	requestCount         uint64
	requestDurationTotal uint64
	loanCount            uint64
	penaltyCount         uint64
}

// NewMetricsService registers core Prometheus collectors.
func NewMetricsService() *MetricsService {
	registry := prometheus.NewRegistry()

	requestDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "Duration of HTTP requests in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	requestTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})

	cacheHitRatio := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "cache_hit_ratio",
		Help: "Ratio of cache hits to total cache lookups",
	})

	cacheHits := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "cache_hits_total",
		Help: "Total cache hits",
	})

	cacheMisses := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "cache_misses_total",
		Help: "Total cache misses",
	})

	loansIssued := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "loans_issued_total",
		Help: "Loans issued, labelled by origin",
	}, []string{"origin"})

	returnsProcessed := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "returns_processed_total",
		Help: "Returns processed, labelled by terminal status",
	}, []string{"status"})

	penaltiesAssessed := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "penalties_assessed_total",
		Help: "Penalties assessed, labelled by penalty type",
	}, []string{"type"})

	penaltiesSettled := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "penalties_settled_total",
		Help: "Penalties settled, labelled by settlement path",
	}, []string{"via"})

	waitlistPromotions := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "waitlist_promotions_total",
		Help: "Waitlist entries promoted into loans",
	})

	bulkApproved := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "bulk_approve_succeeded_total",
		Help: "Issue requests approved through bulk processing",
	})

	bulkFailed := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "bulk_approve_failed_total",
		Help: "Issue requests that failed during bulk processing",
	})

	reconcileRuns := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "penalty_reconciliation_runs_total",
		Help: "Completed penalty reconciliation sweeps",
	})

	reconcileConflicts := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "penalty_reconciliation_conflicts_total",
		Help: "Version conflicts encountered during reconciliation",
	})

	reconcileLastRun := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "penalty_reconciliation_last_run_timestamp",
		Help: "Unix timestamp of the last reconciliation sweep",
	})

	goroutines := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "goroutines_total",
		Help: "Total number of goroutines",
	}, func() float64 {
		return float64(runtime.NumGoroutine())
	})

	registry.MustRegister(
		requestDuration, requestTotal, cacheHitRatio, cacheHits, cacheMisses,
		loansIssued, returnsProcessed, penaltiesAssessed, penaltiesSettled,
		waitlistPromotions, bulkApproved, bulkFailed,
		reconcileRuns, reconcileConflicts, reconcileLastRun, goroutines,
	)

	handler := promhttp.HandlerFor(registry, promhttp.HandlerOpts{})

	return &MetricsService{
		registry:           registry,
		handler:            handler,
		requestDuration:    requestDuration,
		requestTotal:       requestTotal,
		cacheHitRatio:      cacheHitRatio,
		cacheHits:          cacheHits,
		cacheMisses:        cacheMisses,
		loansIssued:        loansIssued,
		returnsProcessed:   returnsProcessed,
		penaltiesAssessed:  penaltiesAssessed,
		penaltiesSettled:   penaltiesSettled,
		waitlistPromotions: waitlistPromotions,
		bulkApproved:       bulkApproved,
		bulkFailed:         bulkFailed,
		reconcileRuns:      reconcileRuns,
		reconcileConflicts: reconcileConflicts,
		reconcileLastRun:   reconcileLastRun,
	}
}

// Handler exposes the Prometheus HTTP handler.
func (m *MetricsService) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		})
	}
	return m.handler
}

// ObserveHTTPRequest records request metrics and aggregates simple stats for snapshots.
func (m *MetricsService) ObserveHTTPRequest(method, path string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	labelStatus := fmt.Sprintf("%d", status)
	m.requestDuration.WithLabelValues(method, path, labelStatus).Observe(duration.Seconds())
	m.requestTotal.WithLabelValues(method, path, labelStatus).Inc()
	atomic.AddUint64(&m.requestCount, 1)
	atomic.AddUint64(&m.requestDurationTotal, uint64(duration.Nanoseconds()))
}

// RecordCacheOperation records cache hit/miss metrics and updates hit ratio.
func (m *MetricsService) RecordCacheOperation(hit bool) {
	if m == nil {
		return
	}
	if hit {
		m.cacheHits.Inc()
		atomic.AddUint64(&m.cacheHitCount, 1)
	} else {
		m.cacheMisses.Inc()
		atomic.AddUint64(&m.cacheMissCount, 1)
	}
	hits := atomic.LoadUint64(&m.cacheHitCount)
	misses := atomic.LoadUint64(&m.cacheMissCount)
	total := hits + misses
	if total > 0 {
		m.cacheHitRatio.Set(float64(hits) / float64(total))
	}
}

// RecordLoanIssued counts a new loan. Origin is one of direct, request or
// promotion.
func (m *MetricsService) RecordLoanIssued(origin string) {
	if m == nil {
		return
	}
	m.loansIssued.WithLabelValues(origin).Inc()
	atomic.AddUint64(&m.loanCount, 1)
}

// RecordReturn counts a processed return by its terminal status.
func (m *MetricsService) RecordReturn(status models.BorrowStatus) {
	if m == nil {
		return
	}
	m.returnsProcessed.WithLabelValues(string(status)).Inc()
}

// RecordPenaltyAssessed counts a penalty write by type.
func (m *MetricsService) RecordPenaltyAssessed(penaltyType models.PenaltyType) {
	if m == nil {
		return
	}
	m.penaltiesAssessed.WithLabelValues(string(penaltyType)).Inc()
	atomic.AddUint64(&m.penaltyCount, 1)
}

// RecordPenaltySettled counts a settlement by path (PAYMENT, MANUAL, WAIVED).
func (m *MetricsService) RecordPenaltySettled(via string) {
	if m == nil {
		return
	}
	m.penaltiesSettled.WithLabelValues(via).Inc()
}

// RecordWaitlistPromotion counts an auto-issued promotion.
func (m *MetricsService) RecordWaitlistPromotion() {
	if m == nil {
		return
	}
	m.waitlistPromotions.Inc()
}

// RecordBulkApproval accumulates per-item outcomes of a bulk approval batch.
func (m *MetricsService) RecordBulkApproval(approved, failed int) {
	if m == nil {
		return
	}
	m.bulkApproved.Add(float64(approved))
	m.bulkFailed.Add(float64(failed))
}

// RecordReconciliation marks a completed sweep.
func (m *MetricsService) RecordReconciliation(conflicts int, ranAt time.Time) {
	if m == nil {
		return
	}
	m.reconcileRuns.Inc()
	m.reconcileConflicts.Add(float64(conflicts))
	m.reconcileLastRun.Set(float64(ranAt.Unix()))
}

// Snapshot returns aggregated metrics suitable for operational endpoints.
func (m *MetricsService) Snapshot() models.SystemMetrics {
	if m == nil {
		return models.SystemMetrics{}
	}
	hits := atomic.LoadUint64(&m.cacheHitCount)
	misses := atomic.LoadUint64(&m.cacheMissCount)
	requests := atomic.LoadUint64(&m.requestCount)
	reqDuration := atomic.LoadUint64(&m.requestDurationTotal)

	var cacheRatio float64
	totalLookups := hits + misses
	if totalLookups > 0 {
		cacheRatio = float64(hits) / float64(totalLookups)
	}

	var avgRequestMs float64
	if requests > 0 {
		avgRequestMs = float64(reqDuration) / float64(requests) / float64(time.Millisecond)
	}

	return models.SystemMetrics{
		CacheHitRatio:            cacheRatio,
		CacheHits:                hits,
		CacheMisses:              misses,
		RequestsTotal:            requests,
		AverageRequestDurationMs: avgRequestMs,
		LoansIssued:              atomic.LoadUint64(&m.loanCount),
		PenaltiesAssessed:        atomic.LoadUint64(&m.penaltyCount),
		Goroutines:               runtime.NumGoroutine(),
		GeneratedAt:              time.Now().UTC(),
	}
}
