package metrics

import (
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	SyncStatusApplied   = "applied"
	SyncStatusDiscarded = "discarded"
	SyncStatusDuplicate = "duplicate"
	SyncStatusFailed    = "failed"
	SyncStatusRequeued  = "requeued"
)

// SyncMetrics tracks the cache-to-store reconciliation worker.
type SyncMetrics struct {
	items         *prometheus.CounterVec
	lockRetries   prometheus.Counter
	batchDuration prometheus.Histogram
	queueDepth    prometheus.Gauge
	cacheRefresh  prometheus.Counter
}

var (
	syncMetricsOnce sync.Once
	syncMetrics     *SyncMetrics
)

// Sync returns the singleton sync worker metrics registry.
func Sync() *SyncMetrics {
	return SyncWithConfig(Config{})
}

func SyncWithConfig(cfg Config) *SyncMetrics {
	syncMetricsOnce.Do(func() {
		syncMetrics = newSyncMetrics(prometheus.DefaultRegisterer, cfg)
	})
	return syncMetrics
}

// ResetSyncMetricsForTest resets the sync metrics singleton for tests.
func ResetSyncMetricsForTest() {
	syncMetricsOnce = sync.Once{}
	syncMetrics = nil
}

func newSyncMetrics(registerer prometheus.Registerer, cfg Config) *SyncMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}
	serviceName := strings.TrimSpace(cfg.ServiceName)
	if serviceName == "" {
		serviceName = "autumn"
	}
	environment := strings.TrimSpace(cfg.Environment)
	if environment == "" {
		environment = "unknown"
	}
	constLabels := prometheus.Labels{"service": serviceName, "env": environment}

	items := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "autumn_sync_items_processed_total",
		Help:        "Sync items processed by final status.",
		ConstLabels: constLabels,
	}, []string{"status"})
	lockRetries := prometheus.NewCounter(prometheus.CounterOpts{
		Name:        "autumn_sync_lock_retries_total",
		Help:        "Sync item retries caused by lock wait timeouts.",
		ConstLabels: constLabels,
	})
	batchDuration := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:        "autumn_sync_batch_duration_seconds",
		Help:        "Duration of one sync worker batch.",
		Buckets:     []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		ConstLabels: constLabels,
	})
	queueDepth := prometheus.NewGauge(prometheus.GaugeOpts{
		Name:        "autumn_sync_queue_depth",
		Help:        "Pending sync items observed at the start of a batch.",
		ConstLabels: constLabels,
	})
	cacheRefresh := prometheus.NewCounter(prometheus.CounterOpts{
		Name:        "autumn_sync_cache_refresh_total",
		Help:        "Cache snapshots rewritten after reconciliation found drift.",
		ConstLabels: constLabels,
	})

	registerer.MustRegister(items, lockRetries, batchDuration, queueDepth, cacheRefresh)

	return &SyncMetrics{
		items:         items,
		lockRetries:   lockRetries,
		batchDuration: batchDuration,
		queueDepth:    queueDepth,
		cacheRefresh:  cacheRefresh,
	}
}

func (m *SyncMetrics) IncItem(status string) {
	if m == nil {
		return
	}
	m.items.WithLabelValues(status).Inc()
}

func (m *SyncMetrics) IncLockRetry() {
	if m == nil {
		return
	}
	m.lockRetries.Inc()
}

func (m *SyncMetrics) ObserveBatch(duration time.Duration) {
	if m == nil {
		return
	}
	m.batchDuration.Observe(duration.Seconds())
}

func (m *SyncMetrics) SetQueueDepth(depth int64) {
	if m == nil {
		return
	}
	m.queueDepth.Set(float64(depth))
}

func (m *SyncMetrics) IncCacheRefresh() {
	if m == nil {
		return
	}
	m.cacheRefresh.Inc()
}
