package jobmanager

import "github.com/prometheus/client_golang/prometheus"

// Metrics exports Manager bookkeeping to Prometheus. A nil *Metrics is valid
// and records nothing.
type Metrics struct {
	enqueued  *prometheus.CounterVec
	submitted *prometheus.CounterVec
	completed *prometheus.CounterVec
	pending   prometheus.Gauge
	active    prometheus.Gauge
	ticks     prometheus.Counter
}

// NewMetrics creates Metrics and registers them with reg, if not nil.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		enqueued: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "batchq",
			Name:      "jobs_enqueued_total",
			Help:      "Total number of jobs enqueued",
		}, []string{"mode"}),
		submitted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "batchq",
			Name:      "jobs_submitted_total",
			Help:      "Total number of jobs admitted and submitted",
		}, []string{"mode"}),
		completed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "batchq",
			Name:      "jobs_completed_total",
			Help:      "Total number of jobs reaped as done",
		}, []string{"mode"}),
		pending: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "batchq",
			Name:      "jobs_pending",
			Help:      "Number of jobs waiting for admission",
		}),
		active: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "batchq",
			Name:      "jobs_active",
			Help:      "Number of jobs currently running",
		}),
		ticks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "batchq",
			Name:      "scheduler_ticks_total",
			Help:      "Total number of scheduling ticks",
		}),
	}

	if reg != nil {
		reg.MustRegister(
			m.enqueued,
			m.submitted,
			m.completed,
			m.pending,
			m.active,
			m.ticks,
		)
	}

	return m
}

func (m *Metrics) jobEnqueued(j Job) {
	if m == nil {
		return
	}
	m.enqueued.WithLabelValues(string(j.Mode())).Inc()
}

func (m *Metrics) jobSubmitted(j Job) {
	if m == nil {
		return
	}
	m.submitted.WithLabelValues(string(j.Mode())).Inc()
}

func (m *Metrics) jobCompleted(j Job) {
	if m == nil {
		return
	}
	m.completed.WithLabelValues(string(j.Mode())).Inc()
}

func (m *Metrics) tick() {
	if m == nil {
		return
	}
	m.ticks.Inc()
}

func (m *Metrics) queues(pending, active int) {
	if m == nil {
		return
	}
	m.pending.Set(float64(pending))
	m.active.Set(float64(active))
}
