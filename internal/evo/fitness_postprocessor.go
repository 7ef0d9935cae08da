package evo

import (
	"math"

	"evotree/internal/tree"
)

// FitnessPostprocessor adjusts a raw evaluator score before selection sees it.
// Failed evaluations bypass postprocessing and keep WorstFitness.
type FitnessPostprocessor interface {
	Name() string
	Process(fitness float64, t *tree.Tree) float64
}

type NoopFitnessPostprocessor struct{}

func (NoopFitnessPostprocessor) Name() string {
	return "none"
}

func (NoopFitnessPostprocessor) Process(fitness float64, _ *tree.Tree) float64 {
	return fitness
}

// ParsimonyPostprocessor subtracts Coefficient per node, steering the search
// away from bloated trees.
type ParsimonyPostprocessor struct {
	Coefficient float64
}

func (ParsimonyPostprocessor) Name() string {
	return "parsimony"
}

func (p ParsimonyPostprocessor) Process(fitness float64, t *tree.Tree) float64 {
	return fitness - p.Coefficient*float64(t.Length())
}

// SizeProportionalPostprocessor scales fitness by length^-Efficiency; positive
// scores shrink and negative scores grow in magnitude as trees get larger.
type SizeProportionalPostprocessor struct {
	Efficiency float64
}

func (SizeProportionalPostprocessor) Name() string {
	return "size_proportional"
}

func (p SizeProportionalPostprocessor) Process(fitness float64, t *tree.Tree) float64 {
	efficiency := p.Efficiency
	if efficiency <= 0 {
		efficiency = 0.05
	}
	scale := math.Pow(math.Max(float64(t.Length()), 1), efficiency)
	if fitness >= 0 {
		return fitness / scale
	}
	return fitness * scale
}
