package tuning

import (
	"context"
	"errors"
	"fmt"
	"math"

	"evotree/internal/grammar"
	"evotree/internal/random"
	"evotree/internal/tree"
)

const (
	CandidateSelectBestSoFar = "best_so_far"
	CandidateSelectOriginal  = "original"
	CandidateSelectRecent    = "recent"
)

// HillClimber perturbs constants with gaussian noise whose sigma shrinks by
// AnnealingFactor per step, keeping a candidate only when it beats the best
// by more than MinImprovement.
type HillClimber struct {
	Rand            random.Source
	Steps           int
	StepSize        float64
	AnnealingFactor float64
	MinImprovement  float64
	// GoalFitness stops tuning once reached; nil disables it.
	GoalFitness *float64
	// CandidateSelection picks the base each attempt perturbs.
	CandidateSelection string
}

func (h *HillClimber) Name() string {
	return "constant_hillclimb"
}

func (h *HillClimber) validate() error {
	if h == nil || h.Rand == nil {
		return errors.New("random source is required")
	}
	if h.Steps <= 0 {
		return errors.New("steps must be > 0")
	}
	if h.StepSize <= 0 {
		return errors.New("step size must be > 0")
	}
	if h.AnnealingFactor < 0 {
		return errors.New("annealing factor must be >= 0")
	}
	if h.MinImprovement < 0 {
		return errors.New("min improvement must be >= 0")
	}
	switch h.CandidateSelection {
	case "", CandidateSelectBestSoFar, CandidateSelectOriginal, CandidateSelectRecent:
	default:
		return fmt.Errorf("unsupported candidate selection: %s", h.CandidateSelection)
	}
	return nil
}

// Tune returns a tuned copy of t; t itself is never modified. A tree without
// constants is returned as an unchanged copy.
func (h *HillClimber) Tune(ctx context.Context, t *tree.Tree, attempts int, fitness FitnessFn) (*tree.Tree, TuneReport, error) {
	if err := ctx.Err(); err != nil {
		return nil, TuneReport{}, err
	}
	if err := h.validate(); err != nil {
		return nil, TuneReport{}, err
	}
	if fitness == nil {
		return nil, TuneReport{}, errors.New("fitness function is required")
	}
	if t == nil {
		return nil, TuneReport{}, errors.New("tree is required")
	}

	original := t.Clone()
	report := TuneReport{Constants: len(Constants(original)), AttemptsPlanned: max(attempts, 0)}
	best := original.Clone()
	bestFitness, err := fitness(ctx, best)
	if err != nil {
		return nil, TuneReport{}, err
	}
	report.InitialFitness = bestFitness
	report.FinalFitness = bestFitness
	if attempts <= 0 || report.Constants == 0 || !finite(bestFitness) {
		return best, report, nil
	}
	if h.reached(bestFitness) {
		report.GoalReached = true
		return best, report, nil
	}

	annealing := h.AnnealingFactor
	if annealing == 0 {
		annealing = 1
	}
	recent := best.Clone()
	for a := 0; a < attempts; a++ {
		base := best
		switch h.CandidateSelection {
		case CandidateSelectOriginal:
			base = original
		case CandidateSelectRecent:
			base = recent
		}
		candidate, err := h.perturb(ctx, base, annealing)
		if err != nil {
			return nil, TuneReport{}, err
		}
		candidateFitness, err := fitness(ctx, candidate)
		report.CandidateEvaluations++
		report.AttemptsExecuted++
		if err != nil {
			if ctx.Err() != nil {
				return nil, TuneReport{}, err
			}
			report.RejectedCandidates++
			continue
		}
		recent = candidate
		if finite(candidateFitness) && candidateFitness > bestFitness+h.MinImprovement {
			best = candidate
			bestFitness = candidateFitness
			report.AcceptedCandidates++
		} else {
			report.RejectedCandidates++
		}
		if h.reached(bestFitness) {
			report.GoalReached = true
			break
		}
	}
	report.FinalFitness = bestFitness
	return best, report, nil
}

func (h *HillClimber) reached(fitness float64) bool {
	return h.GoalFitness != nil && fitness >= *h.GoalFitness
}

func (h *HillClimber) perturb(ctx context.Context, base *tree.Tree, annealing float64) (*tree.Tree, error) {
	candidate := base.Clone()
	constants := Constants(candidate)
	for s := 0; s < h.Steps; s++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		id := constants[h.Rand.Intn(len(constants))]
		sigma := h.StepSize * math.Pow(annealing, float64(s))
		candidate.SetValue(id, random.Gaussian(h.Rand, candidate.Value(id), sigma))
	}
	return candidate, nil
}

// Constants lists the constant nodes of t in prefix order.
func Constants(t *tree.Tree) []tree.NodeID {
	var out []tree.NodeID
	for _, id := range t.Terminals() {
		if s := t.Symbol(id); s != nil && s.Kind == grammar.Constant {
			out = append(out, id)
		}
	}
	return out
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
