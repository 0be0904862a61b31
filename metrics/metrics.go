// Package metrics defines prometheus metric types and provides convenience
// methods to add accounting to various parts of the pipeline.
//
// When defining new operations or metrics, these are helpful values to track:
//  - things coming into or go out of the system: requests, files, tests, api calls.
//  - the success or error status of any of the above.
//  - the distribution of processing latency.
package metrics

import (
	"log"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// SyscallTimeHistogram tracks the latency of a single (family, protocol)
	// netlink dump.  It includes the time to decode the messages and run the
	// visitor, since both happen inside the dump's per-message handler.
	SyscallTimeHistogram = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name: "sockdiag_syscall_time_histogram",
			Help: "netlink dump latency distribution (seconds)",
			Buckets: []float64{
				0.001, 0.00125, 0.0016, 0.002, 0.0025, 0.0032, 0.004, 0.005, 0.0063, 0.0079,
				0.01, 0.0125, 0.016, 0.02, 0.025, 0.032, 0.04, 0.05, 0.063, 0.079,
				0.1, 0.125, 0.16, 0.2,
			},
		},
		[]string{"af"})

	// ConnectionCountHistogram tracks the number of sockets returned by each
	// (family, protocol) dump, including ones later dropped by filtering.
	ConnectionCountHistogram = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name: "sockdiag_connection_count_histogram",
			Help: "connection count histogram",
			Buckets: []float64{
				1, 2, 3, 4, 5, 6, 8,
				10, 12.5, 16, 20, 25, 32, 40, 50, 63, 79,
				100, 125, 160, 200, 250, 320, 400, 500, 630, 790,
				1000, 1250, 1600, 2000, 2500, 3200, 4000, 5000, 6300, 7900,
				10000, 12500, 16000, 20000, 25000, 32000, 40000, 50000, 63000, 79000,
				10000000,
			},
		},
		[]string{"af"})

	// InodeIndexSize tracks the number of (inode, pid) entries discovered by
	// one /proc scan. Replaces the teacher's delta-cache CacheSizeHistogram,
	// which tracked an archival cache this system does not have.
	InodeIndexSize = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name: "sockdiag_inode_index_size_histogram",
			Help: "number of inode-to-pid entries found per /proc scan",
			Buckets: []float64{
				1, 2, 3, 4, 5, 6, 8,
				10, 12.5, 16, 20, 25, 32, 40, 50, 63, 79,
				100, 125, 160, 200, 250, 320, 400, 500, 630, 790,
				1000, 1250, 1600, 2000, 2500, 3200, 4000, 5000, 6300, 7900,
				10000,
			},
		})

	// ErrorCount measures the number of errors.
	// Provides metrics:
	//    sockdiag_error_total
	// Example usage:
	//    metrics.ErrorCount.With(prometheus.Labels{"type": "foobar"}).Inc()
	ErrorCount = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sockdiag_error_total",
			Help: "The total number of errors encountered.",
		}, []string{"type"})

	// FilterCompileErrors counts port-filter expressions that failed to
	// compile to kernel bytecode (expected node-count mismatch, depth limit
	// exceeded, unknown variant).
	FilterCompileErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "sockdiag_filter_compile_errors_total",
			Help: "Number of port filter expressions that failed to compile.",
		},
	)
)

// init() prints a log message to let the user know that the package has been
// loaded and the metrics registered. The metrics are auto-registered, which
// means they are registered as soon as this package is loaded, and the exact
// time this occurs (and whether this occurs at all in a given context) can be
// opaque.
func init() {
	log.Println("Prometheus metrics in sockdiag.metrics are registered.")
}
