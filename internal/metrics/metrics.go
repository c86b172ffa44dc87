// Package metrics exposes controller counters and gauges to Prometheus.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "aoi"

// Metrics holds every collector the controller updates.
type Metrics struct {
	registry *prometheus.Registry

	Connections      prometheus.Gauge
	StationsOnline   *prometheus.GaugeVec
	FramesReceived   *prometheus.CounterVec
	MalformedLines   *prometheus.CounterVec
	ImagesPersisted  *prometheus.CounterVec
	ImageBytes       prometheus.Counter
	WriteFailures    prometheus.Counter
	WriteDuration    prometheus.Histogram
	CompletionChecks *prometheus.CounterVec
	CommandsSent     *prometheus.CounterVec
}

// New creates a registry with the controller metrics plus Go runtime
// collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		Connections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "controller",
			Name:      "connections",
			Help:      "Open station connections, identified or not",
		}),
		StationsOnline: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "controller",
			Name:      "station_online",
			Help:      "1 when some connection claims the camera ID",
		}, []string{"camera"}),
		FramesReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "protocol",
			Name:      "frames_received_total",
			Help:      "Decoded frames by type",
		}, []string{"type"}),
		MalformedLines: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "protocol",
			Name:      "malformed_total",
			Help:      "Dropped header lines by reason",
		}, []string{"reason"}),
		ImagesPersisted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "imagestore",
			Name:      "images_persisted_total",
			Help:      "Images written to disk by step",
		}, []string{"step"}),
		ImageBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "imagestore",
			Name:      "bytes_written_total",
			Help:      "Image bytes written to disk",
		}),
		WriteFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "imagestore",
			Name:      "write_failures_total",
			Help:      "Image writes that failed or were rejected",
		}),
		WriteDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "imagestore",
			Name:      "write_duration_seconds",
			Help:      "Time spent writing one image",
			Buckets:   prometheus.DefBuckets,
		}),
		CompletionChecks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "workflow",
			Name:      "completion_checks_total",
			Help:      "Completion check outcomes",
		}, []string{"result"}),
		CommandsSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "dispatch",
			Name:      "commands_sent_total",
			Help:      "Command frames written to stations",
		}, []string{"command"}),
	}

	m.registry.MustRegister(
		m.Connections,
		m.StationsOnline,
		m.FramesReceived,
		m.MalformedLines,
		m.ImagesPersisted,
		m.ImageBytes,
		m.WriteFailures,
		m.WriteDuration,
		m.CompletionChecks,
		m.CommandsSent,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Registry returns the underlying Prometheus registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		Registry:          m.registry,
		EnableOpenMetrics: true,
	})
}

// ObserveWrite records one image write attempt.
func (m *Metrics) ObserveWrite(step string, bytes int, took time.Duration, err error) {
	if m == nil {
		return
	}
	m.WriteDuration.Observe(took.Seconds())
	if err != nil {
		m.WriteFailures.Inc()
		return
	}
	m.ImagesPersisted.WithLabelValues(step).Inc()
	m.ImageBytes.Add(float64(bytes))
}

// SetOnline sets the presence gauge for camera.
func (m *Metrics) SetOnline(camera string, online bool) {
	if m == nil {
		return
	}
	v := 0.0
	if online {
		v = 1
	}
	m.StationsOnline.WithLabelValues(camera).Set(v)
}
