package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"shelfwatch/internal/model"
)

// Fault kinds reported per region.
const (
	FaultBounds     = "bounds"
	FaultBackground = "background"
	FaultScoring    = "scoring"
)

// Metrics holds the pipeline collectors on a private registry.
type Metrics struct {
	registry *prometheus.Registry

	framesProcessed  prometheus.Counter
	framesSkipped    *prometheus.CounterVec
	regionFaults     *prometheus.CounterVec
	alerts           *prometheus.CounterVec
	sinkErrors       prometheus.Counter
	sinkDropped      prometheus.Counter
	regionScore      *prometheus.GaugeVec
	regions          prometheus.Gauge
	frameDuration    prometheus.Histogram
	lastFrameSeconds prometheus.Gauge
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		framesProcessed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "shelfwatch_frames_processed_total",
			Help: "Frames that produced a report",
		}),
		framesSkipped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "shelfwatch_frames_skipped_total",
			Help: "Frames dropped before scoring",
		}, []string{"reason"}),
		regionFaults: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "shelfwatch_region_faults_total",
			Help: "Per-region processing faults",
		}, []string{"kind"}),
		alerts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "shelfwatch_alerts_total",
			Help: "Emitted empty-shelf alerts",
		}, []string{"priority"}),
		sinkErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "shelfwatch_sink_errors_total",
			Help: "Failed alert or report deliveries",
		}),
		sinkDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "shelfwatch_sink_dropped_total",
			Help: "Reports dropped because the delivery queue was full",
		}),
		regionScore: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "shelfwatch_region_occupancy_score",
			Help: "Latest occupancy score per region",
		}, []string{"region_id"}),
		regions: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "shelfwatch_regions",
			Help: "Regions currently monitored",
		}),
		frameDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "shelfwatch_frame_duration_seconds",
			Help:    "Wall time spent processing one frame",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 12),
		}),
		lastFrameSeconds: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "shelfwatch_last_frame_timestamp_seconds",
			Help: "Capture time of the latest processed frame",
		}),
	}
	m.registry.MustRegister(
		m.framesProcessed,
		m.framesSkipped,
		m.regionFaults,
		m.alerts,
		m.sinkErrors,
		m.sinkDropped,
		m.regionScore,
		m.regions,
		m.frameDuration,
		m.lastFrameSeconds,
	)
	return m
}

func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveReport records a finished frame.
func (m *Metrics) ObserveReport(report model.FrameReport, took time.Duration) {
	if m == nil {
		return
	}
	m.framesProcessed.Inc()
	m.frameDuration.Observe(took.Seconds())
	if !report.Timestamp.IsZero() {
		m.lastFrameSeconds.Set(float64(report.Timestamp.UnixNano()) / 1e9)
	}
	for _, rs := range report.Regions {
		m.regionScore.WithLabelValues(rs.RegionID).Set(rs.Score)
	}
	for _, a := range report.Alerts {
		m.alerts.WithLabelValues(string(a.Priority)).Inc()
	}
}

func (m *Metrics) FrameSkipped(reason string) {
	if m == nil {
		return
	}
	m.framesSkipped.WithLabelValues(reason).Inc()
}

func (m *Metrics) RegionFault(kind string) {
	if m == nil {
		return
	}
	m.regionFaults.WithLabelValues(kind).Inc()
}

func (m *Metrics) SinkError() {
	if m == nil {
		return
	}
	m.sinkErrors.Inc()
}

func (m *Metrics) SinkDropped() {
	if m == nil {
		return
	}
	m.sinkDropped.Inc()
}

// SetRegions replaces the monitored region set, dropping score series of
// regions that went away.
func (m *Metrics) SetRegions(ids []string) {
	if m == nil {
		return
	}
	m.regionScore.Reset()
	m.regions.Set(float64(len(ids)))
}
