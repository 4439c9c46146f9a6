package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for package ingestion.
type Metrics struct {
	Decisions            *prometheus.CounterVec
	VerificationDuration prometheus.Histogram
	RejectionWriteErrors prometheus.Counter
	UploadBytes          prometheus.Histogram
}

// New registers the ingest collectors on reg.
// Pass a fresh prometheus.NewRegistry() in tests to avoid duplicate registration.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Decisions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "ingest_decisions_total",
			Help: "Terminal ingest decisions by outcome and code",
		}, []string{"outcome", "code"}),
		VerificationDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "ingest_verification_duration_seconds",
			Help:    "Duration of archive, manifest and signature verification",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		}),
		RejectionWriteErrors: f.NewCounter(prometheus.CounterOpts{
			Name: "ingest_rejection_write_errors_total",
			Help: "Rejected receipts that could not be persisted",
		}),
		UploadBytes: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "ingest_upload_bytes",
			Help:    "Size of uploaded package bodies",
			Buckets: prometheus.ExponentialBuckets(1024, 4, 10),
		}),
	}
}

// IncDecision counts a terminal decision, e.g. ("accepted", "") or ("rejected", "INVALID_ZIP").
func (m *Metrics) IncDecision(outcome, code string) {
	if m == nil {
		return
	}
	m.Decisions.WithLabelValues(outcome, code).Inc()
}

// ObserveVerification records verification latency.
// Call with time.Now() at the start of the operation.
func (m *Metrics) ObserveVerification(start time.Time) {
	if m == nil {
		return
	}
	m.VerificationDuration.Observe(time.Since(start).Seconds())
}

func (m *Metrics) IncRejectionWriteError() {
	if m == nil {
		return
	}
	m.RejectionWriteErrors.Inc()
}

func (m *Metrics) ObserveUploadBytes(n int) {
	if m == nil {
		return
	}
	m.UploadBytes.Observe(float64(n))
}
