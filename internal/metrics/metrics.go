package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/mattjoyce/forkboot/internal/protocol"
)

// Metrics is the per-run metric set. A worker is single-use, so it keeps its
// own registry instead of the global one.
type Metrics struct {
	registry *prometheus.Registry

	PingsTotal            prometheus.Counter
	FramesTotal           *prometheus.CounterVec
	ShutdownRequestsTotal *prometheus.CounterVec
	WorkloadDuration      prometheus.Histogram
}

// New creates and registers the worker metrics.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		PingsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "forkboot_pings_total",
			Help: "Total number of ping commands received from the parent",
		}),
		FramesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "forkboot_frames_total",
				Help: "Total number of frames written by code",
			},
			[]string{"code"},
		),
		ShutdownRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "forkboot_shutdown_requests_total",
				Help: "Total number of shutdown requests by mode",
			},
			[]string{"mode"},
		),
		WorkloadDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "forkboot_workload_duration_seconds",
			Help:    "Workload invocation duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.01, 4, 10),
		}),
	}
	m.registry.MustRegister(
		m.PingsTotal,
		m.FramesTotal,
		m.ShutdownRequestsTotal,
		m.WorkloadDuration,
	)
	return m
}

// ObservePing counts one ping.
func (m *Metrics) ObservePing() {
	m.PingsTotal.Inc()
}

// ObserveFrame counts one written frame.
func (m *Metrics) ObserveFrame(code protocol.Code) {
	m.FramesTotal.WithLabelValues(code.String()).Inc()
}

// ObserveShutdown counts one shutdown request.
func (m *Metrics) ObserveShutdown(mode protocol.ShutdownMode) {
	m.ShutdownRequestsTotal.WithLabelValues(mode.String()).Inc()
}

// WriteTextfile writes the registry in the node-exporter textfile format.
// An empty path is a no-op.
func (m *Metrics) WriteTextfile(path string) error {
	if path == "" {
		return nil
	}
	if err := prometheus.WriteToTextfile(path, m.registry); err != nil {
		return fmt.Errorf("write metrics textfile: %w", err)
	}
	return nil
}

// Timer measures one operation.
type Timer struct {
	start time.Time
}

// NewTimer starts a timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// Duration returns the time since the timer started.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}

// ObserveDuration records the elapsed seconds on h.
func (t *Timer) ObserveDuration(h prometheus.Observer) time.Duration {
	d := t.Duration()
	h.Observe(d.Seconds())
	return d
}
