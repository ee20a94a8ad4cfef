package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Upload outcomes.
const (
	UploadOK            = "ok"
	UploadMissingFile   = "missing_file"
	UploadTooLarge      = "too_large"
	UploadWriteFailure  = "write_failure"
	UploadExternalStore = "external_store"
	UploadPersistence   = "persistence"
	UploadError         = "error"
)

// Chat turn outcomes.
const (
	TurnCompleted = "completed"
	TurnAborted   = "aborted"
	TurnFailed    = "failed"
)

// Metrics holds the pipeline collectors. A nil *Metrics is valid and records nothing.
type Metrics struct {
	uploadsTotal     *prometheus.CounterVec
	uploadBytes      prometheus.Histogram
	uploadDuration   prometheus.Histogram
	storeDuration    *prometheus.HistogramVec
	turnsTotal       *prometheus.CounterVec
	activeStreams    prometheus.Gauge
	firstChunkWait   prometheus.Histogram
	clientDisconnect prometheus.Counter
}

// NewMetrics registers the collectors with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		uploadsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "docchat_uploads_total",
			Help: "Upload requests by outcome",
		}, []string{"outcome"}),
		uploadBytes: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "docchat_upload_bytes",
			Help:    "Size of persisted uploads in bytes",
			Buckets: prometheus.ExponentialBuckets(1<<10, 4, 10), // 1KiB to ~256MiB
		}),
		uploadDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "docchat_upload_duration_seconds",
			Help:    "Time from request start to document commit",
			Buckets: prometheus.DefBuckets,
		}),
		storeDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "docchat_content_store_duration_seconds",
			Help:    "Content store upload latency",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 10),
		}, []string{"store", "result"}),
		turnsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "docchat_chat_turns_total",
			Help: "Chat turns by terminal state",
		}, []string{"outcome"}),
		activeStreams: f.NewGauge(prometheus.GaugeOpts{
			Name: "docchat_chat_active_streams",
			Help: "Chat turns currently streaming",
		}),
		firstChunkWait: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "docchat_chat_first_chunk_seconds",
			Help:    "Time from model call to first streamed chunk",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 10),
		}),
		clientDisconnect: f.NewCounter(prometheus.CounterOpts{
			Name: "docchat_chat_client_disconnects_total",
			Help: "Chat turns whose client went away before the model finished",
		}),
	}
}

func (m *Metrics) ObserveUpload(outcome string, bytes int64, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.uploadsTotal.WithLabelValues(outcome).Inc()
	if outcome == UploadOK {
		m.uploadBytes.Observe(float64(bytes))
		m.uploadDuration.Observe(elapsed.Seconds())
	}
}

func (m *Metrics) ObserveContentStore(store string, err error, elapsed time.Duration) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.storeDuration.WithLabelValues(store, result).Observe(elapsed.Seconds())
}

func (m *Metrics) StreamStarted() {
	if m == nil {
		return
	}
	m.activeStreams.Inc()
}

func (m *Metrics) FirstChunk(wait time.Duration) {
	if m == nil {
		return
	}
	m.firstChunkWait.Observe(wait.Seconds())
}

func (m *Metrics) StreamFinished(outcome string, clientGone bool) {
	if m == nil {
		return
	}
	m.activeStreams.Dec()
	m.turnsTotal.WithLabelValues(outcome).Inc()
	if clientGone {
		m.clientDisconnect.Inc()
	}
}
