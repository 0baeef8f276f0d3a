// Package metrics exposes engine progress as Prometheus collectors.
package metrics

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"l2g/internal/evo"
)

const (
	namespace = "l2g"
	subsystem = "evolution"
)

// EngineMetrics is an engine observer. Observation time is measured between
// consecutive reports, so the first generation's duration includes setup.
type EngineMetrics struct {
	GenerationsTotal   prometheus.Counter
	CandidatesTotal    *prometheus.CounterVec
	ReplacementsTotal  prometheus.Counter
	BestFitness        prometheus.Gauge
	MeanFitness        prometheus.Gauge
	PoolFloor          prometheus.Gauge
	PoolBest           prometheus.Gauge
	Generation         prometheus.Gauge
	GenerationDuration prometheus.Histogram
	Fitness            prometheus.Histogram

	now  func() time.Time
	last time.Time
}

// New registers the collectors with reg. A nil reg uses the default
// registerer.
func New(reg prometheus.Registerer) *EngineMetrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)
	m := &EngineMetrics{
		GenerationsTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "generations_total",
			Help:      "Completed generations.",
		}),
		CandidatesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "candidates_total",
			Help:      "Evaluated candidates by outcome.",
		}, []string{"outcome"}),
		ReplacementsTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "pool_replacements_total",
			Help:      "Pool entries replaced during pruning.",
		}),
		BestFitness: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "generation_best_fitness",
			Help:      "Best fitness in the latest generation.",
		}),
		MeanFitness: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "generation_mean_fitness",
			Help:      "Mean fitness of successful candidates in the latest generation.",
		}),
		PoolFloor: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "pool_floor_fitness",
			Help:      "Lowest fitness held by the survivor pool.",
		}),
		PoolBest: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "pool_best_fitness",
			Help:      "Highest fitness held by the survivor pool.",
		}),
		Generation: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "generation",
			Help:      "Index of the latest completed generation.",
		}),
		GenerationDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "generation_duration_seconds",
			Help:      "Wall time between generation reports.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 4, 10),
		}),
		Fitness: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "candidate_fitness",
			Help:      "Fitness of every successful candidate.",
			Buckets:   prometheus.LinearBuckets(0, 1, 12),
		}),
		now: time.Now,
	}
	m.last = m.now()
	return m
}

func (m *EngineMetrics) ObserveGeneration(_ context.Context, report evo.GenerationReport) error {
	now := m.now()
	m.GenerationDuration.Observe(now.Sub(m.last).Seconds())
	m.last = now

	for _, o := range report.Outcomes {
		if o.Failed() {
			m.CandidatesTotal.WithLabelValues("failed").Inc()
			continue
		}
		m.CandidatesTotal.WithLabelValues("succeeded").Inc()
		m.Fitness.Observe(o.Score.Fitness)
	}
	d := report.Diagnostics
	m.GenerationsTotal.Inc()
	m.ReplacementsTotal.Add(float64(d.Replacements))
	m.Generation.Set(float64(d.Generation))
	m.BestFitness.Set(d.BestFitness)
	m.MeanFitness.Set(d.MeanFitness)
	m.PoolFloor.Set(d.PoolFloor)
	m.PoolBest.Set(d.PoolBest)
	return nil
}
