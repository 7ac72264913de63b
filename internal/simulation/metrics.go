package simulation

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics are the simulation engine's Prometheus collectors.
type Metrics struct {
	RunsStarted    prometheus.Counter
	RunsEnded      *prometheus.CounterVec
	ActiveRuns     prometheus.Gauge
	Ticks          prometheus.Counter
	TickErrors     *prometheus.CounterVec
	RecordsCreated *prometheus.CounterVec
	TickDuration   prometheus.Histogram
}

// NewMetrics registers collectors on reg. A nil reg yields unregistered collectors.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		RunsStarted: f.NewCounter(prometheus.CounterOpts{
			Namespace: "donorline",
			Subsystem: "simulation",
			Name:      "runs_started_total",
			Help:      "Total number of simulation runs started",
		}),
		RunsEnded: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "donorline",
			Subsystem: "simulation",
			Name:      "runs_ended_total",
			Help:      "Total number of simulation runs ended by reason",
		}, []string{"reason"}),
		ActiveRuns: f.NewGauge(prometheus.GaugeOpts{
			Namespace: "donorline",
			Subsystem: "simulation",
			Name:      "active_runs",
			Help:      "Number of simulation runs currently registered",
		}),
		Ticks: f.NewCounter(prometheus.CounterOpts{
			Namespace: "donorline",
			Subsystem: "simulation",
			Name:      "ticks_total",
			Help:      "Total number of simulation ticks executed",
		}),
		TickErrors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "donorline",
			Subsystem: "simulation",
			Name:      "tick_errors_total",
			Help:      "Total number of persistence failures inside ticks by stage",
		}, []string{"stage"}),
		RecordsCreated: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "donorline",
			Subsystem: "simulation",
			Name:      "records_created_total",
			Help:      "Total number of simulated records persisted by kind",
		}, []string{"kind"}),
		TickDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: "donorline",
			Subsystem: "simulation",
			Name:      "tick_duration_seconds",
			Help:      "Duration of simulation ticks in seconds",
			Buckets:   []float64{0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}),
	}
}
