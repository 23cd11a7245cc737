package migrations

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the migration collectors. A nil *Metrics records nothing.
type Metrics struct {
	Steps         *prometheus.CounterVec
	StepDuration  *prometheus.HistogramVec
	SchemaVersion *prometheus.GaugeVec
}

// NewMetrics creates the collectors and registers them with reg.
func NewMetrics(namespace string, reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Steps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "migration_steps_total",
			Help:      "Migration steps attempted, by logical database and outcome",
		}, []string{"db", "status"}),
		StepDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "migration_step_duration_seconds",
			Help:      "Duration of migration steps in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"db"}),
		SchemaVersion: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "schema_version",
			Help:      "Stored schema version per logical database",
		}, []string{"db"}),
	}

	if reg != nil {
		reg.MustRegister(m.Steps, m.StepDuration, m.SchemaVersion)
	}
	return m
}

func (m *Metrics) observeStep(db, status string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.Steps.WithLabelValues(db, status).Inc()
	m.StepDuration.WithLabelValues(db).Observe(elapsed.Seconds())
}

func (m *Metrics) observeVersion(db string, version int) {
	if m == nil {
		return
	}
	m.SchemaVersion.WithLabelValues(db).Set(float64(version))
}
