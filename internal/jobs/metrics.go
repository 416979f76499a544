package jobs

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics are the Prometheus collectors for job lifecycle events.
type Metrics struct {
	Created  *prometheus.CounterVec
	Finished *prometheus.CounterVec
	Running  *prometheus.GaugeVec
	Duration *prometheus.HistogramVec
}

// NewMetrics creates the job collectors and registers them with reg. A nil
// reg leaves them unregistered.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Created: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "atrium",
			Name:      "jobs_created_total",
			Help:      "Jobs accepted by the job manager.",
		}, []string{"type"}),
		Finished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "atrium",
			Name:      "jobs_finished_total",
			Help:      "Jobs that reached a terminal state.",
		}, []string{"type", "status"}),
		Running: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "atrium",
			Name:      "jobs_running",
			Help:      "Jobs currently executing.",
		}, []string{"type"}),
		Duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "atrium",
			Name:      "job_duration_seconds",
			Help:      "Time from job creation to its terminal state.",
			Buckets:   []float64{0.1, 0.5, 1, 5, 10, 30, 60, 300, 900},
		}, []string{"type"}),
	}
	if reg != nil {
		reg.MustRegister(m.Created, m.Finished, m.Running, m.Duration)
	}
	return m
}

func (m *Metrics) created(t Type) {
	if m != nil {
		m.Created.WithLabelValues(string(t)).Inc()
	}
}

func (m *Metrics) started(t Type) {
	if m != nil {
		m.Running.WithLabelValues(string(t)).Inc()
	}
}

func (m *Metrics) stopped(t Type) {
	if m != nil {
		m.Running.WithLabelValues(string(t)).Dec()
	}
}

func (m *Metrics) finished(j Job, elapsed time.Duration) {
	if m != nil {
		m.Finished.WithLabelValues(string(j.Type), string(j.Status)).Inc()
		m.Duration.WithLabelValues(string(j.Type)).Observe(elapsed.Seconds())
	}
}
