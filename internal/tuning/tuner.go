// Package tuning refines the numeric constants of an evolved tree by local
// search while keeping its structure fixed.
package tuning

import (
	"context"

	"evotree/internal/tree"
)

// FitnessFn scores a candidate tree; higher is better.
type FitnessFn func(ctx context.Context, t *tree.Tree) (float64, error)

type TuneReport struct {
	Constants            int     `json:"constants"`
	AttemptsPlanned      int     `json:"attempts_planned"`
	AttemptsExecuted     int     `json:"attempts_executed"`
	CandidateEvaluations int     `json:"candidate_evaluations"`
	AcceptedCandidates   int     `json:"accepted_candidates"`
	RejectedCandidates   int     `json:"rejected_candidates"`
	InitialFitness       float64 `json:"initial_fitness"`
	FinalFitness         float64 `json:"final_fitness"`
	GoalReached          bool    `json:"goal_reached"`
}

type Tuner interface {
	Name() string
	Tune(ctx context.Context, t *tree.Tree, attempts int, fitness FitnessFn) (*tree.Tree, TuneReport, error)
}
