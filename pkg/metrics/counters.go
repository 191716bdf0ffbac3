package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Package-level promauto counters for the handful of signals worth a
// plain Prometheus counter rather than an OTel instrument, matching the
// teacher's pkg/estuary/estuary.go recordsSent pattern.
var (
	occRetriesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "load_applier_occ_retries_total",
		Help: "Total number of optimistic concurrency retries attempted by the Writer",
	})

	occRetriesExhaustedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "load_applier_occ_retries_exhausted_total",
		Help: "Total number of writes that failed after exhausting their OCC retry budget",
	})

	dispatcherBatchFailuresTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "load_applier_dispatcher_batch_failures_total",
		Help: "Total number of Dispatcher batches that contained at least one failed event",
	}, []string{"channel"})
)

// RecordOCCRetry increments the retry counter; call once per retry
// attempt, not once per write.
func RecordOCCRetry() {
	occRetriesTotal.Inc()
}

// RecordOCCRetriesExhausted increments the exhausted-retries counter.
func RecordOCCRetriesExhausted() {
	occRetriesExhaustedTotal.Inc()
}

// RecordBatchFailure increments the per-channel batch failure counter.
func RecordBatchFailure(channel string) {
	dispatcherBatchFailuresTotal.WithLabelValues(channel).Inc()
}
