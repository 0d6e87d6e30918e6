// Package urkelmetrics wires a go.urkel.dev/urkel/store.Store to Prometheus,
// the way the teacher repo's go.mod pulls in client_golang for its own
// server-side instrumentation.
package urkelmetrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Recorder implements store.Metrics.
type Recorder struct {
	commitDuration prometheus.Histogram
	commitBytes    prometheus.Counter
	nodesWritten   *prometheus.CounterVec
}

// NewRecorder builds a Recorder and registers its collectors with reg. Pass
// prometheus.DefaultRegisterer to expose it on the process-wide /metrics
// handler.
func NewRecorder(reg prometheus.Registerer) *Recorder {
	factory := promauto.With(reg)
	return &Recorder{
		commitDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "urkel",
			Subsystem: "store",
			Name:      "commit_duration_seconds",
			Help:      "Time spent in Store.Commit, including the fsync.",
			Buckets:   prometheus.DefBuckets,
		}),
		commitBytes: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "urkel",
			Subsystem: "store",
			Name:      "commit_bytes_total",
			Help:      "Total bytes written to data files across all commits.",
		}),
		nodesWritten: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "urkel",
			Subsystem: "store",
			Name:      "nodes_written_total",
			Help:      "Total nodes written to data files, by kind.",
		}, []string{"kind"}),
	}
}

// ObserveCommit implements store.Metrics.
func (r *Recorder) ObserveCommit(d time.Duration, bytesWritten int) {
	r.commitDuration.Observe(d.Seconds())
	r.commitBytes.Add(float64(bytesWritten))
}

// IncNodesWritten implements store.Metrics.
func (r *Recorder) IncNodesWritten(isLeaf bool) {
	kind := "internal"
	if isLeaf {
		kind = "leaf"
	}
	r.nodesWritten.WithLabelValues(kind).Inc()
}
