package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "roomsync"

// Статусы обработки комнаты
const (
	StatusOK    = "ok"
	StatusError = "error"
)

// Результаты компакции
const (
	CompactionAccepted = "accepted"
	CompactionStale    = "stale"
)

type Metrics struct {
	// Sync metrics
	RoomsProcessed     *prometheus.CounterVec
	UpdatesApplied     *prometheus.CounterVec
	Compactions        *prometheus.CounterVec
	CompactionRequests prometheus.Counter
	BatchDuration      prometheus.Histogram
	LastBatchRooms     prometheus.Gauge

	// HTTP metrics
	HTTPRequests *prometheus.CounterVec
	HTTPDuration *prometheus.HistogramVec
}

func New(reg prometheus.Registerer) *Metrics {
	return &Metrics{
		RoomsProcessed: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "rooms_processed_total",
				Help:      "Total number of room requests processed",
			},
			[]string{"status"}, // ok/error
		),
		UpdatesApplied: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "updates_applied_total",
				Help:      "Total number of update envelopes appended to room logs",
			},
			[]string{"type"}, // sync_step1/sync_step2/update/compaction
		),
		Compactions: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "compactions_total",
				Help:      "Total number of submitted compactions",
			},
			[]string{"result"}, // accepted/stale
		),
		CompactionRequests: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "compaction_requests_total",
				Help:      "Total number of compaction requests sent to nominated clients",
			},
		),
		BatchDuration: promauto.With(reg).NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "batch_duration_seconds",
				Help:      "Duration of sync batch processing in seconds",
				Buckets:   prometheus.DefBuckets,
			},
		),
		LastBatchRooms: promauto.With(reg).NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "last_batch_rooms",
				Help:      "Number of rooms in the last processed batch",
			},
		),
		HTTPRequests: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests",
			},
			[]string{"method", "code"},
		),
		HTTPDuration: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "Duration of HTTP requests in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method"},
		),
	}
}

// NewNop метрики на отдельном реестре, который никто не публикует
func NewNop() *Metrics {
	return New(prometheus.NewRegistry())
}
