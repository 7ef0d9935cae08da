package problem

import (
	"context"
	"fmt"
	"math"

	"evotree/internal/evo"
	"evotree/internal/tree"
)

// ctxCheckEvery bounds how many rows are scored between cancellation checks.
const ctxCheckEvery = 256

var (
	_ evo.Evaluator = (*RegressionEvaluator)(nil)
	_ evo.Evaluator = (*ClassificationEvaluator)(nil)
)

// MSE is the mean squared error of t over data.
func MSE(ctx context.Context, t *tree.Tree, data Dataset) (float64, error) {
	if data.Len() == 0 {
		return 0, ErrEmptyDataset
	}
	vars := make(map[string]float64, len(data.Variables))
	sse := 0.0
	for i := range data.Targets {
		if i%ctxCheckEvery == 0 {
			if err := ctx.Err(); err != nil {
				return 0, err
			}
		}
		data.Bind(i, vars)
		got, err := t.Evaluate(vars)
		if err != nil {
			return 0, fmt.Errorf("row %d: %w", i, err)
		}
		d := got - data.Targets[i]
		sse += d * d
	}
	return sse / float64(data.Len()), nil
}

// RegressionEvaluator scores a tree by negative mean squared error so that
// higher is better.
type RegressionEvaluator struct {
	Data Dataset
}

func (e *RegressionEvaluator) Evaluate(ctx context.Context, t *tree.Tree) (float64, error) {
	mse, err := MSE(ctx, t, e.Data)
	if err != nil {
		return 0, err
	}
	return -mse, nil
}

// ClassificationEvaluator scores a tree by accuracy. A row is predicted
// positive when the tree's output exceeds Threshold; targets above 0.5 are
// positive.
type ClassificationEvaluator struct {
	Data      Dataset
	Threshold float64
}

func (e *ClassificationEvaluator) Evaluate(ctx context.Context, t *tree.Tree) (float64, error) {
	if e.Data.Len() == 0 {
		return 0, ErrEmptyDataset
	}
	vars := make(map[string]float64, len(e.Data.Variables))
	correct := 0
	for i, target := range e.Data.Targets {
		if i%ctxCheckEvery == 0 {
			if err := ctx.Err(); err != nil {
				return 0, err
			}
		}
		e.Data.Bind(i, vars)
		got, err := t.Evaluate(vars)
		if err != nil {
			return 0, fmt.Errorf("row %d: %w", i, err)
		}
		if math.IsNaN(got) {
			continue
		}
		if (got > e.Threshold) == (target > 0.5) {
			correct++
		}
	}
	return float64(correct) / float64(e.Data.Len()), nil
}
