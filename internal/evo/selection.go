package evo

import (
	"fmt"
	"math"

	"evotree/internal/random"
	"evotree/internal/tree"
)

// Individual is one population member. Evaluated is false until the loop has
// scored the current tree.
type Individual struct {
	Tree      *tree.Tree
	Fitness   float64
	Evaluated bool
	// Operation names the operators that produced the tree.
	Operation string
}

// Clone copies the individual with an independent tree.
func (ind Individual) Clone() Individual {
	out := ind
	if ind.Tree != nil {
		out.Tree = ind.Tree.Clone()
	}
	return out
}

// Selector chooses a parent from the population and returns a copy of it.
type Selector interface {
	Name() string
	Select(rng random.Source, population []Individual) (Individual, error)
}

// TournamentSelector draws TournamentSize individuals uniformly with
// replacement and keeps the fittest. Ties keep the earliest draw.
type TournamentSelector struct {
	TournamentSize int
}

func (TournamentSelector) Name() string {
	return "tournament"
}

func (s TournamentSelector) Select(rng random.Source, population []Individual) (Individual, error) {
	if rng == nil {
		return Individual{}, ErrRandRequired
	}
	if len(population) == 0 {
		return Individual{}, fmt.Errorf("population is empty")
	}
	tournamentSize := s.TournamentSize
	if tournamentSize <= 0 {
		tournamentSize = 3
	}

	best := population[rng.Intn(len(population))]
	for i := 1; i < tournamentSize; i++ {
		candidate := population[rng.Intn(len(population))]
		if candidate.Fitness > best.Fitness {
			best = candidate
		}
	}
	return best.Clone(), nil
}

// ProportionalSelector draws an individual with probability proportional to
// its fitness shifted above the population minimum. Failed evaluations get
// weight zero.
type ProportionalSelector struct{}

func (ProportionalSelector) Name() string {
	return "proportional"
}

func (ProportionalSelector) Select(rng random.Source, population []Individual) (Individual, error) {
	if rng == nil {
		return Individual{}, ErrRandRequired
	}
	if len(population) == 0 {
		return Individual{}, fmt.Errorf("population is empty")
	}
	lowest := math.Inf(1)
	for _, ind := range population {
		if finite(ind.Fitness) && ind.Fitness < lowest {
			lowest = ind.Fitness
		}
	}
	weights := make([]float64, len(population))
	for i, ind := range population {
		if finite(ind.Fitness) {
			weights[i] = ind.Fitness - lowest + 1e-9
		}
	}
	return population[random.Roulette(rng, weights)].Clone(), nil
}

// SelectorFromName resolves a selector; tournamentSize only applies to the
// tournament selector.
func SelectorFromName(name string, tournamentSize int) (Selector, error) {
	switch name {
	case "", "tournament":
		return TournamentSelector{TournamentSize: tournamentSize}, nil
	case "proportional":
		return ProportionalSelector{}, nil
	default:
		return nil, fmt.Errorf("unsupported selector: %s", name)
	}
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
