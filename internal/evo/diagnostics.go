package evo

import (
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// GenerationDiagnostics summarises one scored generation. Fitness statistics
// only cover successful evaluations and are zero when every evaluation failed.
type GenerationDiagnostics struct {
	Generation    int     `json:"generation"`
	BestFitness   float64 `json:"best_fitness"`
	MeanFitness   float64 `json:"mean_fitness"`
	MinFitness    float64 `json:"min_fitness"`
	FitnessStdDev float64 `json:"fitness_std_dev"`
	Failures      int     `json:"failures"`
	MeanLength    float64 `json:"mean_length"`
	MaxLength     int     `json:"max_length"`
	MeanDepth     float64 `json:"mean_depth"`
	MaxDepth      int     `json:"max_depth"`
	Diversity     int     `json:"fingerprint_diversity"`
}

func summarizeGeneration(population []Individual, generation int) GenerationDiagnostics {
	out := GenerationDiagnostics{Generation: generation}
	if len(population) == 0 {
		return out
	}

	fitness := make([]float64, 0, len(population))
	lengths := make([]float64, len(population))
	depths := make([]float64, len(population))
	fingerprints := make(map[string]struct{}, len(population))
	for i, ind := range population {
		if finite(ind.Fitness) {
			fitness = append(fitness, ind.Fitness)
		} else {
			out.Failures++
		}
		lengths[i] = float64(ind.Tree.Length())
		depths[i] = float64(ind.Tree.Depth())
		fingerprints[Fingerprint(ind.Tree)] = struct{}{}
	}

	if len(fitness) > 0 {
		out.BestFitness = floats.Max(fitness)
		out.MinFitness = floats.Min(fitness)
		if len(fitness) > 1 {
			out.MeanFitness, out.FitnessStdDev = stat.MeanStdDev(fitness, nil)
		} else {
			out.MeanFitness = fitness[0]
		}
	}
	out.MeanLength = stat.Mean(lengths, nil)
	out.MaxLength = int(floats.Max(lengths))
	out.MeanDepth = stat.Mean(depths, nil)
	out.MaxDepth = int(floats.Max(depths))
	out.Diversity = len(fingerprints)
	return out
}
