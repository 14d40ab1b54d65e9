package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Tick results recorded per scheduled job.
const (
	TickRan      = "ran"
	TickBusy     = "skipped_busy"
	TickLocked   = "skipped_locked"
	TickFailed   = "error"
	TickCanceled = "canceled"
)

// Prometheus holds the exported series. A nil *Prometheus records nothing.
type Prometheus struct {
	documents      *prometheus.CounterVec
	chunks         prometheus.Counter
	ticks          *prometheus.CounterVec
	stalledResets  prometheus.Counter
	claimConflicts prometheus.Counter
	enqueued       *prometheus.CounterVec
	docDuration    prometheus.Histogram
}

// NewPrometheus creates the series and registers them with reg.
func NewPrometheus(reg prometheus.Registerer) *Prometheus {
	buckets := []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120}
	p := &Prometheus{
		documents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "docingest_documents_processed_total",
			Help: "Documents processed by outcome (completed, failed).",
		}, []string{"outcome"}),
		chunks: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "docingest_chunks_written_total",
			Help: "Chunks written to the vector store.",
		}),
		ticks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "docingest_scheduler_ticks_total",
			Help: "Scheduler ticks by job and result.",
		}, []string{"job", "result"}),
		stalledResets: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "docingest_stalled_resets_total",
			Help: "Index log rows reset from in_progress to pending.",
		}),
		claimConflicts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "docingest_claim_conflicts_total",
			Help: "Claims that lost a transaction conflict to another worker.",
		}),
		enqueued: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "docingest_enqueue_total",
			Help: "Add requests by outcome (queued, updated, already_exists).",
		}, []string{"outcome"}),
		docDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "docingest_document_seconds",
			Help:    "Time to load and store one document.",
			Buckets: buckets,
		}),
	}
	reg.MustRegister(p.documents, p.chunks, p.ticks, p.stalledResets, p.claimConflicts, p.enqueued, p.docDuration)
	return p
}

// DocumentProcessed records a finished document.
func (p *Prometheus) DocumentProcessed(outcome string, d time.Duration) {
	if p == nil {
		return
	}
	p.documents.WithLabelValues(outcome).Inc()
	p.docDuration.Observe(d.Seconds())
}

// ChunksWritten adds n written chunks.
func (p *Prometheus) ChunksWritten(n int) {
	if p == nil {
		return
	}
	p.chunks.Add(float64(n))
}

// Tick records one scheduler tick.
func (p *Prometheus) Tick(job, result string) {
	if p == nil {
		return
	}
	p.ticks.WithLabelValues(job, result).Inc()
}

// StalledReset adds n reset rows.
func (p *Prometheus) StalledReset(n int) {
	if p == nil {
		return
	}
	p.stalledResets.Add(float64(n))
}

// ClaimConflict counts a lost claim race.
func (p *Prometheus) ClaimConflict() {
	if p == nil {
		return
	}
	p.claimConflicts.Inc()
}

// Enqueued records the outcome of an add request.
func (p *Prometheus) Enqueued(outcome string) {
	if p == nil {
		return
	}
	p.enqueued.WithLabelValues(outcome).Inc()
}
