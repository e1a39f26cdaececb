package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// PipelineMetrics records metadata for the enrichment pipeline sweeps and
// their downstream effects.
type PipelineMetrics struct {
	sweepDuration *prometheus.HistogramVec
	sweepSuccess  *prometheus.CounterVec
	sweepFailure  *prometheus.CounterVec

	batchesSubmitted prometheus.Counter
	batchSize        prometheus.Histogram
	jobTransitions   *prometheus.CounterVec
	indexWrites      *prometheus.CounterVec
}

// NewPipelineMetrics registers the pipeline metrics on the provided registerer.
func NewPipelineMetrics(reg prometheus.Registerer) *PipelineMetrics {
	if reg == nil {
		return &PipelineMetrics{}
	}
	sweepDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "pipeline_sweep_duration_seconds",
		Help:    "Duration of pipeline sweeps in seconds.",
		Buckets: prometheus.DefBuckets,
	}, []string{"sweep"})
	sweepSuccess := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "pipeline_sweep_success",
		Help: "Successful pipeline sweep executions.",
	}, []string{"sweep"})
	sweepFailure := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "pipeline_sweep_failure",
		Help: "Failed pipeline sweep executions.",
	}, []string{"sweep"})
	batchesSubmitted := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "pipeline_batches_submitted",
		Help: "Batch jobs submitted to the inference service.",
	})
	batchSize := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "pipeline_batch_size",
		Help:    "Image count per submitted batch job.",
		Buckets: []float64{1, 10, 50, 100, 250, 500},
	})
	jobTransitions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "pipeline_job_transitions",
		Help: "Batch job state transitions applied from polling.",
	}, []string{"state"})
	indexWrites := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "pipeline_index_writes",
		Help: "Index document writes by outcome.",
	}, []string{"outcome"})
	reg.MustRegister(
		sweepDuration, sweepSuccess, sweepFailure,
		batchesSubmitted, batchSize, jobTransitions, indexWrites,
	)
	return &PipelineMetrics{
		sweepDuration:    sweepDuration,
		sweepSuccess:     sweepSuccess,
		sweepFailure:     sweepFailure,
		batchesSubmitted: batchesSubmitted,
		batchSize:        batchSize,
		jobTransitions:   jobTransitions,
		indexWrites:      indexWrites,
	}
}

// ObserveSweepDuration records the duration for the named sweep.
func (p *PipelineMetrics) ObserveSweepDuration(sweep string, duration time.Duration) {
	if p == nil || p.sweepDuration == nil {
		return
	}
	p.sweepDuration.WithLabelValues(normalizeLabel(sweep)).Observe(duration.Seconds())
}

// IncSweepSuccess increments the success counter for the named sweep.
func (p *PipelineMetrics) IncSweepSuccess(sweep string) {
	if p == nil || p.sweepSuccess == nil {
		return
	}
	p.sweepSuccess.WithLabelValues(normalizeLabel(sweep)).Inc()
}

// IncSweepFailure increments the failure counter for the named sweep.
func (p *PipelineMetrics) IncSweepFailure(sweep string) {
	if p == nil || p.sweepFailure == nil {
		return
	}
	p.sweepFailure.WithLabelValues(normalizeLabel(sweep)).Inc()
}

// ObserveBatchSubmitted records one submitted batch and its size.
func (p *PipelineMetrics) ObserveBatchSubmitted(size int) {
	if p == nil || p.batchesSubmitted == nil {
		return
	}
	p.batchesSubmitted.Inc()
	p.batchSize.Observe(float64(size))
}

// IncJobTransition counts a job state transition applied from a poll.
func (p *PipelineMetrics) IncJobTransition(state string) {
	if p == nil || p.jobTransitions == nil {
		return
	}
	p.jobTransitions.WithLabelValues(normalizeLabel(state)).Inc()
}

// IncIndexWrite counts an index write by outcome ("ok", "stale", "error").
func (p *PipelineMetrics) IncIndexWrite(outcome string) {
	if p == nil || p.indexWrites == nil {
		return
	}
	p.indexWrites.WithLabelValues(normalizeLabel(outcome)).Inc()
}

func normalizeLabel(value string) string {
	if value == "" {
		return "unknown"
	}
	return value
}
