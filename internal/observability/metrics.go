package observability

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce sync.Once

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "scenecast",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total HTTP requests.",
		},
		[]string{"node", "method", "path", "status"},
	)
	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "scenecast",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"node", "method", "path", "status"},
	)
	replicationFrames = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "scenecast",
			Subsystem: "replication",
			Name:      "frames_total",
			Help:      "Scene frames encoded or applied.",
		},
		[]string{"node", "direction", "type"},
	)
	replicationBytes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "scenecast",
			Subsystem: "replication",
			Name:      "payload_bytes_total",
			Help:      "Scene payload bytes encoded or applied.",
		},
		[]string{"node", "direction", "type"},
	)
	replicationRecords = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "scenecast",
			Subsystem: "replication",
			Name:      "records_total",
			Help:      "Node records encoded or applied.",
		},
		[]string{"node", "direction", "type"},
	)
	replicationDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "scenecast",
			Subsystem: "replication",
			Name:      "duration_seconds",
			Help:      "Time spent encoding or applying one frame.",
			Buckets:   []float64{.0001, .00025, .0005, .001, .0025, .005, .01, .025, .05, .1},
		},
		[]string{"node", "direction"},
	)
	replicationErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "scenecast",
			Subsystem: "replication",
			Name:      "errors_total",
			Help:      "Replication errors by kind.",
		},
		[]string{"node", "kind"},
	)
	sessionConsumers = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "scenecast",
			Subsystem: "session",
			Name:      "consumers",
			Help:      "Consumers currently admitted by a producer.",
		},
		[]string{"node"},
	)
)

const (
	DirectionEncode = "encode"
	DirectionApply  = "apply"
)

func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			httpRequests,
			httpDuration,
			replicationFrames,
			replicationBytes,
			replicationRecords,
			replicationDuration,
			replicationErrors,
			sessionConsumers,
		)
	})
}

func RecordHTTPRequest(node, method, path string, status int, duration time.Duration) {
	RegisterMetrics()
	statusLabel := strconv.Itoa(status)
	httpRequests.WithLabelValues(node, method, path, statusLabel).Inc()
	httpDuration.WithLabelValues(node, method, path, statusLabel).Observe(duration.Seconds())
}

// RecordFrame counts one scene frame of msgType ("diff" or "snapshot").
func RecordFrame(node, direction, msgType string, records, bytes int, duration time.Duration) {
	RegisterMetrics()
	replicationFrames.WithLabelValues(node, direction, msgType).Inc()
	replicationBytes.WithLabelValues(node, direction, msgType).Add(float64(bytes))
	replicationRecords.WithLabelValues(node, direction, msgType).Add(float64(records))
	replicationDuration.WithLabelValues(node, direction).Observe(duration.Seconds())
}

func RecordReplicationError(node, kind string) {
	RegisterMetrics()
	replicationErrors.WithLabelValues(node, kind).Inc()
}

func SetConsumers(node string, n int) {
	RegisterMetrics()
	sessionConsumers.WithLabelValues(node).Set(float64(n))
}
