// Package metrics exports evolutionary run progress as Prometheus metrics.
package metrics

import (
	"math"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"evotree/internal/evo"
)

const namespace = "evotree"

// Collector is an evo.Listener that records each generation. Every metric is
// labelled with the run it belongs to.
type Collector struct {
	generation     *prometheus.GaugeVec
	bestFitness    *prometheus.GaugeVec
	averageFitness *prometheus.GaugeVec
	diversity      *prometheus.GaugeVec
	generations    *prometheus.CounterVec
	failures       *prometheus.CounterVec
	treeLength     *prometheus.HistogramVec
}

// NewCollector registers the run metrics on reg. A nil reg uses a fresh
// private registry so repeated construction never panics.
func NewCollector(reg prometheus.Registerer) *Collector {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	factory := promauto.With(reg)
	return &Collector{
		generation: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "run",
			Name:      "generation",
			Help:      "Index of the last completed generation",
		}, []string{"run"}),
		bestFitness: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "run",
			Name:      "best_fitness",
			Help:      "Best fitness of the last completed generation",
		}, []string{"run"}),
		averageFitness: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "run",
			Name:      "average_fitness",
			Help:      "Average fitness of successful evaluations in the last generation",
		}, []string{"run"}),
		diversity: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "run",
			Name:      "distinct_trees",
			Help:      "Number of structurally distinct trees in the last generation",
		}, []string{"run"}),
		generations: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "run",
			Name:      "generations_total",
			Help:      "Total completed generations",
		}, []string{"run"}),
		failures: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "evaluation",
			Name:      "failures_total",
			Help:      "Total evaluations that errored or returned a non-finite score",
		}, []string{"run"}),
		treeLength: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "run",
			Name:      "best_tree_length",
			Help:      "Length of the best tree per generation",
			Buckets:   []float64{1, 3, 5, 10, 20, 40, 80, 160},
		}, []string{"run"}),
	}
}

// Listener binds the collector to one run.
func (c *Collector) Listener(run string) evo.Listener {
	return evo.ListenerFunc(func(event evo.GenerationEvent) {
		c.observe(run, event)
	})
}

func (c *Collector) observe(run string, event evo.GenerationEvent) {
	c.generation.WithLabelValues(run).Set(float64(event.Generation))
	// gauges keep their previous value when the whole generation failed
	if !math.IsInf(event.BestFitness, 0) && !math.IsNaN(event.BestFitness) {
		c.bestFitness.WithLabelValues(run).Set(event.BestFitness)
	}
	if !math.IsInf(event.AverageFitness, 0) && !math.IsNaN(event.AverageFitness) {
		c.averageFitness.WithLabelValues(run).Set(event.AverageFitness)
	}
	c.diversity.WithLabelValues(run).Set(float64(event.Diagnostics.Diversity))
	c.generations.WithLabelValues(run).Inc()
	c.failures.WithLabelValues(run).Add(float64(event.Failures))
	if event.Best != nil {
		c.treeLength.WithLabelValues(run).Observe(float64(event.Best.Length()))
	}
}

// Forget drops every series of run.
func (c *Collector) Forget(run string) {
	labels := prometheus.Labels{"run": run}
	c.generation.Delete(labels)
	c.bestFitness.Delete(labels)
	c.averageFitness.Delete(labels)
	c.diversity.Delete(labels)
	c.generations.Delete(labels)
	c.failures.Delete(labels)
	c.treeLength.Delete(labels)
}
