package problem

import (
	"context"
	"errors"
	"testing"

	"evotree/internal/grammar"
	"evotree/internal/tree"
)

// buildSquarePlusX builds (add (mul X X) X) over the arithmetic grammar.
func buildSquarePlusX(t *testing.T, g *grammar.Grammar) *tree.Tree {
	t.Helper()
	add, _ := g.Symbol("add")
	mul, _ := g.Symbol("mul")
	v, _ := g.Symbol(grammar.VariableSymbolName)
	tr := tree.New()
	root := tr.NewNode(add)
	product := tr.NewNode(mul)
	steps := []error{
		tr.SetRoot(root),
		tr.AddSubtree(product, tr.NewVariable(v, "X")),
		tr.AddSubtree(product, tr.NewVariable(v, "X")),
		tr.AddSubtree(root, product),
		tr.AddSubtree(root, tr.NewVariable(v, "X")),
	}
	for _, err := range steps {
		if err != nil {
			t.Fatalf("build: %v", err)
		}
	}
	return tr
}

func TestRegressionEvaluatorPerfectFit(t *testing.T) {
	g := grammar.Arithmetic("X")
	data := Dataset{Variables: []string{"X"}, Inputs: [][]float64{{-1}, {0}, {2}}, Targets: []float64{0, 0, 6}}
	fitness, err := (&RegressionEvaluator{Data: data}).Evaluate(context.Background(), buildSquarePlusX(t, g))
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if fitness != 0 {
		t.Fatalf("expected perfect fitness, got %v", fitness)
	}

	data.Targets[2] = 8
	fitness, err = (&RegressionEvaluator{Data: data}).Evaluate(context.Background(), buildSquarePlusX(t, g))
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if want := -4.0 / 3.0; fitness != want {
		t.Fatalf("expected %v, got %v", want, fitness)
	}
}

func TestRegressionEvaluatorUnboundVariable(t *testing.T) {
	g := grammar.Arithmetic("X")
	data := Dataset{Variables: []string{"Z"}, Inputs: [][]float64{{1}}, Targets: []float64{1}}
	_, err := (&RegressionEvaluator{Data: data}).Evaluate(context.Background(), buildSquarePlusX(t, g))
	if !errors.Is(err, tree.ErrUnresolvedVariable) {
		t.Fatalf("expected ErrUnresolvedVariable, got %v", err)
	}
}

func TestEvaluatorsObserveCancellation(t *testing.T) {
	g := grammar.Arithmetic("X")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	data := Dataset{Variables: []string{"X"}, Inputs: [][]float64{{1}}, Targets: []float64{2}}
	if _, err := (&RegressionEvaluator{Data: data}).Evaluate(ctx, buildSquarePlusX(t, g)); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if _, err := (&ClassificationEvaluator{Data: data}).Evaluate(ctx, buildSquarePlusX(t, g)); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestClassificationEvaluatorAccuracy(t *testing.T) {
	g := grammar.Arithmetic("X")
	data := Dataset{
		Variables: []string{"X"},
		Inputs:    [][]float64{{1}, {-0.5}, {-3}, {0}},
		Targets:   []float64{1, 0, 1, 1},
	}
	// x^2 + x: 2, -0.25, 6, 0 -> predictions 1, 0, 1, 0 with threshold 0.
	accuracy, err := (&ClassificationEvaluator{Data: data}).Evaluate(context.Background(), buildSquarePlusX(t, g))
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if accuracy != 0.75 {
		t.Fatalf("expected 0.75, got %v", accuracy)
	}
	if _, err := (&ClassificationEvaluator{}).Evaluate(context.Background(), buildSquarePlusX(t, g)); !errors.Is(err, ErrEmptyDataset) {
		t.Fatalf("expected ErrEmptyDataset, got %v", err)
	}
}
