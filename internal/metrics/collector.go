// Package metrics exposes Prometheus metrics for sessions and workspace I/O.
// Every Record method is safe to call on a nil *Collector.
package metrics

import (
	"net/http"
	"time"

	"github.com/lgulliver/cliniprompt/internal/common"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

// Collector collects and exposes session manager metrics
type Collector struct {
	registry  *prometheus.Registry
	namespace string

	sessionsActive   prometheus.Gauge
	sessionsCreated  prometheus.Counter
	sessionsRejected prometheus.Counter
	sessionsRemoved  *prometheus.CounterVec
	transitions      *prometheus.CounterVec
	teardowns        *prometheus.CounterVec

	fileWrites    *prometheus.CounterVec
	bytesWritten  prometheus.Counter
	writeDuration prometheus.Histogram
	bytesRead     prometheus.Counter
	storageBytes  *prometheus.GaugeVec
}

// NewCollector creates a collector with its own registry
func NewCollector(namespace string) *Collector {
	if namespace == "" {
		namespace = "cliniprompt"
	}

	mc := &Collector{
		registry:  prometheus.NewRegistry(),
		namespace: namespace,
		sessionsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sessions_active",
			Help:      "Number of sessions held in the registry",
		}),
		sessionsCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_created_total",
			Help:      "Total number of sessions created",
		}),
		sessionsRejected: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_rejected_total",
			Help:      "Session creations rejected by the concurrency cap",
		}),
		sessionsRemoved: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_removed_total",
			Help:      "Sessions removed from the registry, by reason",
		}, []string{"reason"}),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "state_transitions_total",
			Help:      "State transition attempts",
		}, []string{"from", "to", "result"}),
		teardowns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "teardowns_total",
			Help:      "Grace-period teardown outcomes",
		}, []string{"outcome"}),
		fileWrites: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "file_writes_total",
			Help:      "Streaming writes, by result",
		}, []string{"result"}),
		bytesWritten: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bytes_written_total",
			Help:      "Bytes committed to workspaces",
		}),
		writeDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "file_write_duration_seconds",
			Help:      "Duration of successful streaming writes",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30},
		}),
		bytesRead: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bytes_read_total",
			Help:      "Bytes streamed out of workspaces",
		}),
		storageBytes: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "storage_bytes",
			Help:      "Last measured storage usage",
		}, []string{"scope"}),
	}

	mc.registry.MustRegister(
		mc.sessionsActive,
		mc.sessionsCreated,
		mc.sessionsRejected,
		mc.sessionsRemoved,
		mc.transitions,
		mc.teardowns,
		mc.fileWrites,
		mc.bytesWritten,
		mc.writeDuration,
		mc.bytesRead,
		mc.storageBytes,
	)

	log.Debug().Str("namespace", namespace).Msg("metrics collector initialized")
	return mc
}

// Registry returns the Prometheus registry
func (mc *Collector) Registry() *prometheus.Registry {
	return mc.registry
}

// Handler returns an HTTP handler for the /metrics endpoint
func (mc *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(mc.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}

// SetActiveSessions records the registry size
func (mc *Collector) SetActiveSessions(n int) {
	if mc == nil {
		return
	}
	mc.sessionsActive.Set(float64(n))
}

// RecordSessionCreated counts a successful create
func (mc *Collector) RecordSessionCreated() {
	if mc == nil {
		return
	}
	mc.sessionsCreated.Inc()
}

// RecordSessionRejected counts a create refused by the concurrency cap
func (mc *Collector) RecordSessionRejected() {
	if mc == nil {
		return
	}
	mc.sessionsRejected.Inc()
}

// RecordSessionRemoved counts a registry removal; reason is ended, expired, evicted or teardown
func (mc *Collector) RecordSessionRemoved(reason string) {
	if mc == nil {
		return
	}
	mc.sessionsRemoved.WithLabelValues(reason).Inc()
}

// RecordTransition counts a transition attempt
func (mc *Collector) RecordTransition(from, to string, ok bool) {
	if mc == nil {
		return
	}
	result := "ok"
	if !ok {
		result = "rejected"
	}
	mc.transitions.WithLabelValues(from, to, result).Inc()
}

// RecordTeardown counts a grace-period outcome: deferred, completed, abandoned or canceled
func (mc *Collector) RecordTeardown(outcome string) {
	if mc == nil {
		return
	}
	mc.teardowns.WithLabelValues(outcome).Inc()
}

// RecordWrite counts a streaming write and, on success, its bytes and duration
func (mc *Collector) RecordWrite(bytes int64, duration time.Duration, err error) {
	if mc == nil {
		return
	}
	if err != nil {
		mc.fileWrites.WithLabelValues(resultLabel(err)).Inc()
		return
	}
	mc.fileWrites.WithLabelValues("ok").Inc()
	mc.bytesWritten.Add(float64(bytes))
	mc.writeDuration.Observe(duration.Seconds())
}

// RecordRead adds streamed-out bytes
func (mc *Collector) RecordRead(bytes int64) {
	if mc == nil {
		return
	}
	mc.bytesRead.Add(float64(bytes))
}

// ObserveLocksHeld exports held as the number of file locks currently held.
// Only the first call on a collector registers the gauge.
func (mc *Collector) ObserveLocksHeld(held func() int) {
	if mc == nil {
		return
	}
	gauge := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: mc.namespace,
		Name:      "file_locks_held",
		Help:      "File locks currently held by the lock broker",
	}, func() float64 { return float64(held()) })
	if err := mc.registry.Register(gauge); err != nil {
		log.Warn().Err(err).Msg("failed to register lock gauge")
	}
}

// SetStorageBytes records a measured usage; scope is session or global
func (mc *Collector) SetStorageBytes(scope string, bytes int64) {
	if mc == nil {
		return
	}
	mc.storageBytes.WithLabelValues(scope).Set(float64(bytes))
}

func resultLabel(err error) string {
	switch common.KindOf(err) {
	case common.ErrQuotaExceeded:
		return "quota_exceeded"
	case common.ErrLockTimeout:
		return "lock_timeout"
	case common.ErrInvalidInput:
		return "invalid_input"
	case common.ErrStorage:
		return "storage_error"
	default:
		return "error"
	}
}
