package metrics

import (
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"gonum.org/v1/gonum/stat"
)

// latencyWindow is how many recent recognition latencies feed the statistics
const latencyWindow = 128

// Metrics holds all application metrics
type Metrics struct {
	// Main loop counters
	FramesCaptured  atomic.Uint64
	FramesEnqueued  atomic.Uint64
	FramesSkipped   atomic.Uint64 // worker busy, display only
	FramesDisplayed atomic.Uint64
	CaptureErrors   atomic.Uint64

	// Worker counters
	FramesProcessed  atomic.Uint64
	ProcessErrors    atomic.Uint64
	Localizations    atomic.Uint64
	TrackingUpdates  atomic.Uint64
	ResultsPublished atomic.Uint64

	// Session state
	Mode              atomic.Uint64 // 0 = localizing, 1 = tracking
	RecognitionHalted atomic.Uint64 // 0 = running, 1 = halted

	// Recorder and store
	RecorderFramesSent atomic.Uint64
	StoreErrors        atomic.Uint64

	// WebRTC client tracking
	ActiveClients atomic.Uint64
	TotalClients  atomic.Uint64

	latMu     sync.Mutex
	latencies []float64 // milliseconds, ring buffer
	latNext   int

	// Prometheus collectors
	registry *prometheus.Registry
}

// New creates a new Metrics instance with Prometheus collectors
func New() *Metrics {
	m := &Metrics{
		registry:  prometheus.NewRegistry(),
		latencies: make([]float64, 0, latencyWindow),
	}

	m.registerPrometheusMetrics()

	return m
}

func (m *Metrics) gauge(name, help string, v *atomic.Uint64) {
	m.registry.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{Name: name, Help: help},
		func() float64 { return float64(v.Load()) },
	))
}

// registerPrometheusMetrics registers all metrics with Prometheus
func (m *Metrics) registerPrometheusMetrics() {
	m.gauge("ortracker_frames_captured_total", "Total frame pairs acquired from the camera", &m.FramesCaptured)
	m.gauge("ortracker_frames_enqueued_total", "Total frame pairs queued for recognition", &m.FramesEnqueued)
	m.gauge("ortracker_frames_skipped_total", "Total frame pairs shown without recognition because the worker was busy", &m.FramesSkipped)
	m.gauge("ortracker_frames_displayed_total", "Total color frames published to the web view", &m.FramesDisplayed)
	m.gauge("ortracker_capture_errors_total", "Total frame acquisition errors", &m.CaptureErrors)

	m.gauge("ortracker_frames_processed_total", "Total frame pairs processed by the recognition engine", &m.FramesProcessed)
	m.gauge("ortracker_process_errors_total", "Total recognition processing or query failures", &m.ProcessErrors)
	m.gauge("ortracker_localizations_total", "Total objects localized", &m.Localizations)
	m.gauge("ortracker_tracking_updates_total", "Total tracked region updates", &m.TrackingUpdates)
	m.gauge("ortracker_results_published_total", "Total result sets forwarded to the display sinks", &m.ResultsPublished)

	m.gauge("ortracker_mode", "Recognition mode (0=localizing, 1=tracking)", &m.Mode)
	m.gauge("ortracker_recognition_halted", "Recognition halted after failures (0=running, 1=halted)", &m.RecognitionHalted)

	m.gauge("ortracker_recorder_frames_sent_total", "Total frame pairs handed to the recorder", &m.RecorderFramesSent)
	m.gauge("ortracker_store_errors_total", "Total result history write errors", &m.StoreErrors)

	m.gauge("ortracker_active_clients", "Number of active WebRTC clients", &m.ActiveClients)
	m.gauge("ortracker_total_clients", "Total WebRTC clients connected", &m.TotalClients)

	m.registry.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "ortracker_process_latency_mean_ms",
			Help: "Mean recognition latency over the recent window in milliseconds",
		},
		func() float64 { mean, _ := m.ProcessLatency(); return mean },
	))

	m.registry.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "ortracker_process_latency_stddev_ms",
			Help: "Standard deviation of recognition latency over the recent window in milliseconds",
		},
		func() float64 { _, sd := m.ProcessLatency(); return sd },
	))
}

// ObserveProcessLatency records one recognition latency
func (m *Metrics) ObserveProcessLatency(d time.Duration) {
	ms := float64(d) / float64(time.Millisecond)

	m.latMu.Lock()
	defer m.latMu.Unlock()

	if len(m.latencies) < latencyWindow {
		m.latencies = append(m.latencies, ms)
		return
	}
	m.latencies[m.latNext] = ms
	m.latNext = (m.latNext + 1) % latencyWindow
}

// ProcessLatency returns mean and standard deviation of the recent
// recognition latencies in milliseconds
func (m *Metrics) ProcessLatency() (mean, stddev float64) {
	m.latMu.Lock()
	defer m.latMu.Unlock()

	switch len(m.latencies) {
	case 0:
		return 0, 0
	case 1:
		return m.latencies[0], 0
	}
	return stat.MeanStdDev(m.latencies, nil)
}

// SetMode records the current recognition mode
func (m *Metrics) SetMode(tracking bool) {
	m.Mode.Store(boolToUint(tracking))
}

// SetHalted records whether recognition stopped
func (m *Metrics) SetHalted(halted bool) {
	m.RecognitionHalted.Store(boolToUint(halted))
}

func boolToUint(b bool) uint64 {
	if b {
		return 1
	}
	return 0
}

// Snapshot is a point-in-time copy of the counters for status endpoints
type Snapshot struct {
	FramesCaptured    uint64  `json:"frames_captured"`
	FramesEnqueued    uint64  `json:"frames_enqueued"`
	FramesSkipped     uint64  `json:"frames_skipped"`
	FramesDisplayed   uint64  `json:"frames_displayed"`
	FramesProcessed   uint64  `json:"frames_processed"`
	ProcessErrors     uint64  `json:"process_errors"`
	Localizations     uint64  `json:"localizations"`
	TrackingUpdates   uint64  `json:"tracking_updates"`
	ResultsPublished  uint64  `json:"results_published"`
	ActiveClients     uint64  `json:"active_clients"`
	LatencyMeanMs     float64 `json:"latency_mean_ms"`
	LatencyStddevMs   float64 `json:"latency_stddev_ms"`
	RecognitionHalted bool    `json:"recognition_halted"`
}

// Snapshot returns the current counter values
func (m *Metrics) Snapshot() Snapshot {
	mean, sd := m.ProcessLatency()
	return Snapshot{
		FramesCaptured:    m.FramesCaptured.Load(),
		FramesEnqueued:    m.FramesEnqueued.Load(),
		FramesSkipped:     m.FramesSkipped.Load(),
		FramesDisplayed:   m.FramesDisplayed.Load(),
		FramesProcessed:   m.FramesProcessed.Load(),
		ProcessErrors:     m.ProcessErrors.Load(),
		Localizations:     m.Localizations.Load(),
		TrackingUpdates:   m.TrackingUpdates.Load(),
		ResultsPublished:  m.ResultsPublished.Load(),
		ActiveClients:     m.ActiveClients.Load(),
		LatencyMeanMs:     mean,
		LatencyStddevMs:   sd,
		RecognitionHalted: m.RecognitionHalted.Load() == 1,
	}
}

// Handler returns the Prometheus HTTP handler
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// StartServer serves /metrics on addr until the listener fails
func (m *Metrics) StartServer(addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	return http.ListenAndServe(addr, mux)
}
