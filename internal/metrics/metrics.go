// Package metrics exposes Prometheus instruments for the monitor loop.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const metricPrefix = "genwatch_"

const (
	resultSuccess = "success"
	resultError   = "error"
)

// Recorder groups every metric. A nil *Recorder is valid and records nothing.
type Recorder struct {
	registry *prometheus.Registry

	ticks           prometheus.Counter
	tickLatency     prometheus.Histogram
	stateChanges    *prometheus.CounterVec
	generatorOn     prometheus.Gauge
	confidence      prometheus.Gauge
	detectorFaults  prometheus.Counter
	frameErrors     prometheus.Counter
	reconnects      *prometheus.CounterVec
	ledgerErrors    *prometheus.CounterVec
	notifications   *prometheus.CounterVec
	publishes       *prometheus.CounterVec
	sessionHours    prometheus.Histogram
	cameraConnected prometheus.Gauge
}

// New creates a Recorder with its own registry, including Go and process collectors.
func New() *Recorder {
	r := &Recorder{
		registry: prometheus.NewRegistry(),
		ticks: prometheus.NewCounter(prometheus.CounterOpts{
			Name: metricPrefix + "ticks_total",
			Help: "Processed monitor ticks",
		}),
		tickLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    metricPrefix + "tick_duration_seconds",
			Help:    "Time spent processing one frame",
			Buckets: prometheus.DefBuckets,
		}),
		stateChanges: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: metricPrefix + "state_changes_total",
			Help: "Observed generator state changes by target state",
		}, []string{"state"}),
		generatorOn: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: metricPrefix + "generator_on",
			Help: "1 while the generator is considered running",
		}),
		confidence: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: metricPrefix + "bright_pixels",
			Help: "Bright pixel count of the last processed frame",
		}),
		detectorFaults: prometheus.NewCounter(prometheus.CounterOpts{
			Name: metricPrefix + "detector_faults_total",
			Help: "Frames the detector could not evaluate",
		}),
		frameErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: metricPrefix + "frame_errors_total",
			Help: "Failed frame reads",
		}),
		reconnects: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: metricPrefix + "camera_connects_total",
			Help: "Camera connection attempts by result",
		}, []string{"result"}),
		ledgerErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: metricPrefix + "ledger_errors_total",
			Help: "Failed ledger operations by operation",
		}, []string{"op"}),
		notifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: metricPrefix + "notifications_total",
			Help: "Notifications sent by kind and result",
		}, []string{"kind", "result"}),
		publishes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: metricPrefix + "publishes_total",
			Help: "State change publications by sink and result",
		}, []string{"sink", "result"}),
		sessionHours: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    metricPrefix + "session_duration_hours",
			Help:    "Duration of closed generator sessions",
			Buckets: []float64{0.25, 0.5, 1, 2, 4, 8, 12, 24},
		}),
		cameraConnected: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: metricPrefix + "camera_connected",
			Help: "1 while the frame source is connected",
		}),
	}

	r.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		r.ticks, r.tickLatency, r.stateChanges, r.generatorOn, r.confidence,
		r.detectorFaults, r.frameErrors, r.reconnects, r.ledgerErrors,
		r.notifications, r.publishes, r.sessionHours, r.cameraConnected,
	)
	return r
}

// Handler serves the registry in the Prometheus exposition format.
func (r *Recorder) Handler() http.Handler {
	if r == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry.
func (r *Recorder) Registry() *prometheus.Registry {
	if r == nil {
		return nil
	}
	return r.registry
}

func (r *Recorder) Tick(started time.Time, confidence int) {
	if r == nil {
		return
	}
	r.ticks.Inc()
	r.tickLatency.Observe(time.Since(started).Seconds())
	r.confidence.Set(float64(confidence))
}

func (r *Recorder) StateChange(on bool) {
	if r == nil {
		return
	}
	if on {
		r.stateChanges.WithLabelValues("on").Inc()
		r.generatorOn.Set(1)
		return
	}
	r.stateChanges.WithLabelValues("off").Inc()
	r.generatorOn.Set(0)
}

func (r *Recorder) DetectorFault() {
	if r == nil {
		return
	}
	r.detectorFaults.Inc()
}

func (r *Recorder) FrameError() {
	if r == nil {
		return
	}
	r.frameErrors.Inc()
}

func (r *Recorder) Connect(err error) {
	if r == nil {
		return
	}
	r.reconnects.WithLabelValues(result(err)).Inc()
	if err == nil {
		r.cameraConnected.Set(1)
	} else {
		r.cameraConnected.Set(0)
	}
}

func (r *Recorder) Disconnected() {
	if r == nil {
		return
	}
	r.cameraConnected.Set(0)
}

func (r *Recorder) LedgerError(op string) {
	if r == nil {
		return
	}
	r.ledgerErrors.WithLabelValues(op).Inc()
}

func (r *Recorder) Notification(kind string, err error) {
	if r == nil {
		return
	}
	r.notifications.WithLabelValues(kind, result(err)).Inc()
}

func (r *Recorder) Publish(sink string, err error) {
	if r == nil {
		return
	}
	r.publishes.WithLabelValues(sink, result(err)).Inc()
}

func (r *Recorder) SessionClosed(hours float64) {
	if r == nil {
		return
	}
	r.sessionHours.Observe(hours)
}

func result(err error) string {
	if err != nil {
		return resultError
	}
	return resultSuccess
}
