package metrics

import (
	"net/http"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all application metrics
type Metrics struct {
	// Frame processing counters
	FramesIngested  atomic.Uint64
	FramesProcessed atomic.Uint64
	FramesDropped   atomic.Uint64

	// Inference counters by capability
	DetectorFrames atomic.Uint64
	DensityFrames  atomic.Uint64
	ModelSwitches  atomic.Uint64

	// Error counters
	SourceErrors    atomic.Uint64
	InferenceErrors atomic.Uint64
	WorkerFailures  atomic.Uint64

	// Latency tracking
	InferenceLatencyMs atomic.Uint64 // last observed per-frame latency in ms

	// Alerting
	ZoneAlertsRaised atomic.Uint64

	// Stream and subscriber tracking
	ActiveStreams     atomic.Uint64
	TotalStreams      atomic.Uint64
	ActiveSubscribers atomic.Uint64
	TotalSubscribers  atomic.Uint64

	// Prometheus collectors
	registry *prometheus.Registry
}

// New creates a new Metrics instance with Prometheus collectors
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
	}

	m.registerPrometheusMetrics()

	return m
}

// registerPrometheusMetrics registers all metrics with Prometheus
func (m *Metrics) registerPrometheusMetrics() {
	// Frame processing metrics
	m.registry.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "crowd_frames_ingested_total",
			Help: "Total frames read from stream sources",
		},
		func() float64 { return float64(m.FramesIngested.Load()) },
	))

	m.registry.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "crowd_frames_processed_total",
			Help: "Total frames run through inference",
		},
		func() float64 { return float64(m.FramesProcessed.Load()) },
	))

	m.registry.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "crowd_frames_dropped_total",
			Help: "Total frames evicted from ring buffers",
		},
		func() float64 { return float64(m.FramesDropped.Load()) },
	))

	// Inference metrics
	m.registry.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "crowd_detector_frames_total",
			Help: "Frames counted with the box detector",
		},
		func() float64 { return float64(m.DetectorFrames.Load()) },
	))

	m.registry.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "crowd_density_frames_total",
			Help: "Frames counted with the density estimator",
		},
		func() float64 { return float64(m.DensityFrames.Load()) },
	))

	m.registry.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "crowd_model_switches_total",
			Help: "Hybrid selector capability switches",
		},
		func() float64 { return float64(m.ModelSwitches.Load()) },
	))

	// Error metrics
	m.registry.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "crowd_source_errors_total",
			Help: "Total frame source read errors",
		},
		func() float64 { return float64(m.SourceErrors.Load()) },
	))

	m.registry.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "crowd_inference_errors_total",
			Help: "Total inference errors",
		},
		func() float64 { return float64(m.InferenceErrors.Load()) },
	))

	m.registry.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "crowd_worker_failures_total",
			Help: "Workers aborted after repeated errors",
		},
		func() float64 { return float64(m.WorkerFailures.Load()) },
	))

	// Latency metrics
	m.registry.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "crowd_inference_latency_ms",
			Help: "Last observed per-frame inference latency in milliseconds",
		},
		func() float64 { return float64(m.InferenceLatencyMs.Load()) },
	))

	// Alert metrics
	m.registry.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "crowd_zone_alerts_raised_total",
			Help: "Zone alert transitions from clear to raised",
		},
		func() float64 { return float64(m.ZoneAlertsRaised.Load()) },
	))

	// Stream metrics
	m.registry.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "crowd_active_streams",
			Help: "Number of running stream workers",
		},
		func() float64 { return float64(m.ActiveStreams.Load()) },
	))

	m.registry.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "crowd_total_streams",
			Help: "Total stream workers started",
		},
		func() float64 { return float64(m.TotalStreams.Load()) },
	))

	// Subscriber metrics
	m.registry.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "crowd_active_subscribers",
			Help: "Number of connected live subscribers",
		},
		func() float64 { return float64(m.ActiveSubscribers.Load()) },
	))

	m.registry.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "crowd_total_subscribers",
			Help: "Total live subscribers connected",
		},
		func() float64 { return float64(m.TotalSubscribers.Load()) },
	))
}

// UpdateInferenceLatency records the latency of the most recent frame
func (m *Metrics) UpdateInferenceLatency(duration time.Duration) {
	m.InferenceLatencyMs.Store(uint64(duration.Milliseconds()))
}

// Handler returns the Prometheus HTTP handler
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// StartServer starts the metrics HTTP server
func (m *Metrics) StartServer(addr string) error {
	http.Handle("/metrics", m.Handler())
	return http.ListenAndServe(addr, nil)
}
