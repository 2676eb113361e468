package session

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics mirrors the shape of the teacher's MetricsCollector, scoped
// down to the counters this core actually produces. A Metrics value is
// optional; NewSession works fine with a nil *Metrics, on which every
// recording method is a no-op.
type Metrics struct {
	sessionsStarted  prometheus.Counter
	sessionsEnded    prometheus.Counter
	sessionsFailed   *prometheus.CounterVec
	sessionsActive   prometheus.Gauge
	sessionDuration  prometheus.Histogram
	dtmfTonesSent    prometheus.Counter
	timerFires       *prometheus.CounterVec
}

// NewMetrics registers the session's metrics with reg. Pass
// prometheus.NewRegistry() in tests to avoid colliding with the default
// registry across parallel test packages.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		sessionsStarted: factory.NewCounter(prometheus.CounterOpts{
			Name: "rtcsession_sessions_started_total",
			Help: "Sessions that emitted started.",
		}),
		sessionsEnded: factory.NewCounter(prometheus.CounterOpts{
			Name: "rtcsession_sessions_ended_total",
			Help: "Sessions that emitted ended.",
		}),
		sessionsFailed: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "rtcsession_sessions_failed_total",
			Help: "Sessions that emitted failed, labeled by cause.",
		}, []string{"cause"}),
		sessionsActive: factory.NewGauge(prometheus.GaugeOpts{
			Name: "rtcsession_sessions_active",
			Help: "Sessions currently not TERMINATED.",
		}),
		sessionDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "rtcsession_session_duration_seconds",
			Help:    "Duration between start_time and end_time.",
			Buckets: prometheus.DefBuckets,
		}),
		dtmfTonesSent: factory.NewCounter(prometheus.CounterOpts{
			Name: "rtcsession_dtmf_tones_sent_total",
			Help: "Non-comma DTMF tones sent by the scheduler.",
		}),
		timerFires: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "rtcsession_timer_fires_total",
			Help: "Timer fires, labeled by timer name.",
		}, []string{"timer"}),
	}
}

func (m *Metrics) started() {
	if m == nil {
		return
	}
	m.sessionsStarted.Inc()
}

func (m *Metrics) ended(durationSeconds float64) {
	if m == nil {
		return
	}
	m.sessionsEnded.Inc()
	m.sessionsActive.Dec()
	m.sessionDuration.Observe(durationSeconds)
}

func (m *Metrics) failed(cause Cause) {
	if m == nil {
		return
	}
	m.sessionsFailed.WithLabelValues(string(cause)).Inc()
	m.sessionsActive.Dec()
}

func (m *Metrics) registered() {
	if m == nil {
		return
	}
	m.sessionsActive.Inc()
}

func (m *Metrics) dtmfSent() {
	if m == nil {
		return
	}
	m.dtmfTonesSent.Inc()
}

func (m *Metrics) timerFired(name string) {
	if m == nil {
		return
	}
	m.timerFires.WithLabelValues(name).Inc()
}
