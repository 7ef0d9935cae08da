package evo

import (
	"context"
	"testing"

	"evotree/internal/create"
	"evotree/internal/grammar"
	"evotree/internal/random"
	"evotree/internal/tree"
)

func scenarioGrammar(t *testing.T) *grammar.Grammar {
	t.Helper()
	g := grammar.New()
	g.MustAddSymbol(grammar.NewFunction("Add", 2, func(args []float64) float64 { return args[0] + args[1] }))
	g.MustAddSymbol(grammar.NewConstant("Constant", -1, 1))
	g.MustAddSymbol(grammar.NewVariable("Variable", "X"))
	if err := g.AddStartSymbol("Add"); err != nil {
		t.Fatalf("add start symbol: %v", err)
	}
	return g
}

func typedGrammar(t *testing.T) *grammar.Grammar {
	t.Helper()
	g, err := grammar.FromNames([]string{"add", "mul", "sum", "if", "gt"}, []string{"X", "Y"}, true)
	if err != nil {
		t.Fatalf("grammar: %v", err)
	}
	return g
}

// addTree builds Add(Constant(left), Constant(right)).
func addTree(t *testing.T, g *grammar.Grammar, left, right float64) *tree.Tree {
	t.Helper()
	add, _ := g.Symbol("Add")
	c, _ := g.Symbol("Constant")
	tr := tree.New()
	root := tr.NewNode(add)
	if err := tr.SetRoot(root); err != nil {
		t.Fatalf("set root: %v", err)
	}
	for _, v := range []float64{left, right} {
		if err := tr.AddSubtree(root, tr.NewConstant(c, v)); err != nil {
			t.Fatalf("add constant: %v", err)
		}
	}
	return tr
}

func checkLegal(t *testing.T, g *grammar.Grammar, tr *tree.Tree) {
	t.Helper()
	if err := tr.Validate(); err != nil {
		t.Fatalf("invalid tree %s: %v", tr, err)
	}
	if !g.IsStartSymbol(tr.Symbol(tr.Root())) {
		t.Fatalf("root %s is not a start symbol in %s", tr.Symbol(tr.Root()), tr)
	}
	for _, id := range tr.Iterate(tree.Prefix) {
		for i, c := range tr.Children(id) {
			if !g.IsAllowedChild(tr.Symbol(id), tr.Symbol(c), i) {
				t.Fatalf("illegal child %s under %s at %d in %s", tr.Symbol(c), tr.Symbol(id), i, tr)
			}
		}
	}
}

func randomTrees(t *testing.T, g *grammar.Grammar, rng random.Source, n, maxLength, maxDepth int) []*tree.Tree {
	t.Helper()
	out := make([]*tree.Tree, 0, n)
	for i := 0; i < n; i++ {
		tr, err := create.RampedHalfAndHalf{}.Create(context.Background(), rng, g, maxLength, maxDepth)
		if err != nil {
			t.Fatalf("create: %v", err)
		}
		out = append(out, tr)
	}
	return out
}

func constantValues(tr *tree.Tree) []float64 {
	out := make([]float64, 0)
	for _, id := range tr.Terminals() {
		if tr.Symbol(id).Kind == grammar.Constant {
			out = append(out, tr.Value(id))
		}
	}
	return out
}
