package create

import (
	"context"
	"errors"
	"testing"

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

func checkLegal(t *testing.T, g *grammar.Grammar, tr *tree.Tree) {
	t.Helper()
	if err := tr.Validate(); err != nil {
		t.Fatalf("invalid tree %s: %v", tr, err)
	}
	for _, id := range tr.Iterate(tree.Prefix) {
		for i, c := range tr.Children(id) {
			if !g.IsAllowedChild(tr.Symbol(id), tr.Symbol(c), i) {
				t.Fatalf("illegal child %s under %s at %d in %s", tr.Symbol(c), tr.Symbol(id), i, tr)
			}
		}
	}
}

func TestGrowCreatorDeterministic(t *testing.T) {
	g := scenarioGrammar(t)
	ctx := context.Background()

	first, err := GrowCreator{}.Create(ctx, random.New(42), g, 5, 3)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	second, err := GrowCreator{}.Create(ctx, random.New(42), g, 5, 3)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if first.SExpr() != second.SExpr() {
		t.Fatalf("same seed produced different trees: %s vs %s", first, second)
	}
	if first.Length() > 5 || first.Depth() > 3 {
		t.Fatalf("bounds exceeded: length=%d depth=%d", first.Length(), first.Depth())
	}
	checkLegal(t, g, first)
}

func TestGrowCreatorRespectsBounds(t *testing.T) {
	g := grammar.Arithmetic("X", "Y")
	rng := random.New(7)
	for i := 0; i < 200; i++ {
		tr, err := GrowCreator{}.Create(context.Background(), rng, g, 15, 4)
		if err != nil {
			t.Fatalf("create: %v", err)
		}
		if tr.Length() > 15 || tr.Depth() > 4 {
			t.Fatalf("bounds exceeded: length=%d depth=%d (%s)", tr.Length(), tr.Depth(), tr)
		}
		checkLegal(t, g, tr)
	}
}

func TestFullCreatorReachesDepthWithMaxArity(t *testing.T) {
	g := grammar.Arithmetic("X")
	rng := random.New(3)
	for i := 0; i < 50; i++ {
		tr, err := FullCreator{}.Create(context.Background(), rng, g, 100, 4)
		if err != nil {
			t.Fatalf("create: %v", err)
		}
		if tr.Depth() != 4 {
			t.Fatalf("expected depth 4, got %d (%s)", tr.Depth(), tr)
		}
		for _, id := range tr.Internal() {
			if got, want := tr.ChildCount(id), tr.Symbol(id).MaxArity; got != want {
				t.Fatalf("node %s holds %d children, want %d", tr.Symbol(id), got, want)
			}
		}
		if tr.Length() != 15 {
			t.Fatalf("expected complete binary tree of 15 nodes, got %d", tr.Length())
		}
	}
}

func TestGrowTreesAreSmallerThanFullTrees(t *testing.T) {
	g := grammar.Arithmetic("X")
	rng := random.New(11)
	const samples = 200
	growTotal, fullTotal := 0, 0
	for i := 0; i < samples; i++ {
		grown, err := GrowCreator{}.Create(context.Background(), rng, g, 100, 5)
		if err != nil {
			t.Fatalf("grow: %v", err)
		}
		full, err := FullCreator{}.Create(context.Background(), rng, g, 100, 5)
		if err != nil {
			t.Fatalf("full: %v", err)
		}
		growTotal += grown.Length()
		fullTotal += full.Length()
	}
	if growTotal >= fullTotal {
		t.Fatalf("expected grow average below full average: grow=%d full=%d", growTotal, fullTotal)
	}
}

func TestCreatorRejectsNegativeBounds(t *testing.T) {
	g := scenarioGrammar(t)
	if _, err := (GrowCreator{}).Create(context.Background(), random.New(1), g, -1, 3); !errors.Is(err, ErrInvalidBounds) {
		t.Fatalf("expected ErrInvalidBounds, got %v", err)
	}
	if _, err := (FullCreator{}).Create(context.Background(), random.New(1), g, 5, -2); !errors.Is(err, ErrInvalidBounds) {
		t.Fatalf("expected ErrInvalidBounds, got %v", err)
	}
}

func TestCreatorGrammarErrors(t *testing.T) {
	noTerminals := grammar.New()
	noTerminals.MustAddSymbol(grammar.NewFunction("Add", 2, func(args []float64) float64 { return args[0] + args[1] }))
	if _, err := (GrowCreator{}).Create(context.Background(), random.New(1), noTerminals, 5, 3); !errors.Is(err, ErrNoTerminalSymbols) {
		t.Fatalf("expected ErrNoTerminalSymbols, got %v", err)
	}

	disabled := scenarioGrammar(t)
	for _, s := range disabled.Symbols() {
		if err := disabled.SetEnabled(s.Name, false); err != nil {
			t.Fatalf("disable %s: %v", s.Name, err)
		}
	}
	if _, err := (GrowCreator{}).Create(context.Background(), random.New(1), disabled, 5, 3); !errors.Is(err, ErrNoEnabledSymbols) {
		t.Fatalf("expected ErrNoEnabledSymbols, got %v", err)
	}
}

func TestCreatorHonoursCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := (GrowCreator{}).Create(ctx, random.New(1), scenarioGrammar(t), 5, 3); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestGrowSubtreeFitsPosition(t *testing.T) {
	g, err := grammar.FromNames([]string{"add", "if", "gt"}, []string{"X"}, true)
	if err != nil {
		t.Fatalf("grammar: %v", err)
	}
	ifSymbol, _ := g.Symbol("if")
	rng := random.New(5)
	tr := tree.New()
	for i := 0; i < 50; i++ {
		id, err := GrowSubtree(tr, rng, g, ifSymbol, 0, 10, 4)
		if err != nil {
			t.Fatalf("grow subtree: %v", err)
		}
		if got := tr.Symbol(id).OutputType; got != grammar.Bool {
			t.Fatalf("condition slot received %s output", got)
		}
		if tr.SubtreeLength(id) > 10 || tr.SubtreeDepth(id) > 4 {
			t.Fatalf("subtree exceeded bounds: length=%d depth=%d", tr.SubtreeLength(id), tr.SubtreeDepth(id))
		}
	}
	if _, err := GrowSubtree(tr, rng, g, ifSymbol, 0, 2, 4); !errors.Is(err, ErrNoTerminalSymbols) {
		t.Fatalf("expected ErrNoTerminalSymbols for a bool slot of length 2, got %v", err)
	}
}

func TestRampedHalfAndHalfStaysWithinDepth(t *testing.T) {
	g := grammar.Arithmetic("X")
	rng := random.New(9)
	depths := make(map[int]bool)
	for i := 0; i < 100; i++ {
		tr, err := RampedHalfAndHalf{}.Create(context.Background(), rng, g, 100, 5)
		if err != nil {
			t.Fatalf("create: %v", err)
		}
		if tr.Depth() > 5 {
			t.Fatalf("depth exceeded: %d", tr.Depth())
		}
		depths[tr.Depth()] = true
	}
	if len(depths) < 2 {
		t.Fatalf("expected a spread of depths, got %v", depths)
	}
}

func TestTerminalInitialisesData(t *testing.T) {
	g := scenarioGrammar(t)
	add, _ := g.Symbol("Add")
	rng := random.New(2)
	tr := tree.New()
	for i := 0; i < 20; i++ {
		id, err := Terminal(tr, rng, g, add, 0)
		if err != nil {
			t.Fatalf("terminal: %v", err)
		}
		switch tr.Symbol(id).Kind {
		case grammar.Constant:
			if v := tr.Value(id); v < -1 || v > 1 {
				t.Fatalf("constant outside range: %f", v)
			}
		case grammar.Variable:
			if tr.Variable(id) != "X" {
				t.Fatalf("unexpected variable %q", tr.Variable(id))
			}
		default:
			t.Fatalf("expected terminal, got %s", tr.Symbol(id))
		}
	}
}

func TestFromName(t *testing.T) {
	for _, name := range []string{"grow", "full", "ramped_half_and_half"} {
		c, err := FromName(name)
		if err != nil {
			t.Fatalf("resolve %s: %v", name, err)
		}
		if c.Name() != name {
			t.Fatalf("expected %s, got %s", name, c.Name())
		}
	}
	if _, err := FromName("bogus"); err == nil {
		t.Fatal("expected unsupported creator error")
	}
}
