package confstore

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/andreyvit/confstore/storeerr"
)

// Metrics counts store activity. A nil *Metrics records nothing.
type Metrics struct {
	// Operations counts session operations by storage and operation.
	Operations *prometheus.CounterVec
	// Errors counts failed operations by error kind.
	Errors *prometheus.CounterVec
	// WriteBacks counts stored-parent blobs written by EndModify.
	WriteBacks prometheus.Counter
	// WriteBackBytes is the total size of written blobs.
	WriteBackBytes prometheus.Counter
	// ScopeLookups counts scope cache hits and misses.
	ScopeLookups *prometheus.CounterVec
	// RecordsWritten counts flushed records by table and op.
	RecordsWritten *prometheus.CounterVec
	// SessionDuration is the lifetime of finished sessions.
	SessionDuration *prometheus.HistogramVec
}

// NewMetrics registers the store metrics with reg. A nil reg creates
// unregistered collectors, which is handy in tests.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Operations: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "confstore_operations_total",
				Help: "Total number of store operations",
			},
			[]string{"storage", "operation"},
		),
		Errors: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "confstore_errors_total",
				Help: "Total number of failed store operations",
			},
			[]string{"kind"},
		),
		WriteBacks: f.NewCounter(prometheus.CounterOpts{
			Name: "confstore_writebacks_total",
			Help: "Total number of stored-parent blobs written",
		}),
		WriteBackBytes: f.NewCounter(prometheus.CounterOpts{
			Name: "confstore_writeback_bytes_total",
			Help: "Total size of written stored-parent blobs",
		}),
		ScopeLookups: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "confstore_scope_lookups_total",
				Help: "Scope cache lookups by result",
			},
			[]string{"result"},
		),
		RecordsWritten: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "confstore_records_written_total",
				Help: "Total number of records put or deleted",
			},
			[]string{"table", "op"},
		),
		SessionDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "confstore_session_duration_seconds",
				Help:    "Session lifetime in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"outcome"},
		),
	}
}

func (m *Metrics) operation(storage, op string) {
	if m == nil {
		return
	}
	m.Operations.WithLabelValues(storage, op).Inc()
}

func (m *Metrics) failed(err error) {
	if m == nil || err == nil {
		return
	}
	kind := "other"
	if k := storeerr.KindOf(err); k != 0 {
		kind = k.String()
	}
	m.Errors.WithLabelValues(kind).Inc()
}

func (m *Metrics) wroteBack(roots, bytes int) {
	if m == nil {
		return
	}
	m.WriteBacks.Add(float64(roots))
	m.WriteBackBytes.Add(float64(bytes))
}

func (m *Metrics) scopeLookups(hits, misses int) {
	if m == nil {
		return
	}
	m.ScopeLookups.WithLabelValues("hit").Add(float64(hits))
	m.ScopeLookups.WithLabelValues("miss").Add(float64(misses))
}

func (m *Metrics) recordWritten(table, op string) {
	if m == nil {
		return
	}
	m.RecordsWritten.WithLabelValues(table, op).Inc()
}

func (m *Metrics) sessionEnded(outcome string, started time.Time) {
	if m == nil {
		return
	}
	m.SessionDuration.WithLabelValues(outcome).Observe(time.Since(started).Seconds())
}
