package tree

import (
	"errors"
	"math"
	"testing"

	"evotree/internal/grammar"
)

type fixture struct {
	g   *grammar.Grammar
	add *grammar.Symbol
	c   *grammar.Symbol
	x   *grammar.Symbol
	gt  *grammar.Symbol
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	g := grammar.New()
	f := fixture{
		g:   g,
		add: grammar.NewFunction("Add", 2, func(args []float64) float64 { return args[0] + args[1] }),
		c:   grammar.NewConstant("Constant", -1, 1),
		x:   grammar.NewVariable("Variable", "X", "Y"),
		gt: grammar.NewTypedFunction("gt", []grammar.Type{grammar.Float, grammar.Float}, grammar.Bool, func(args []float64) float64 {
			if args[0] > args[1] {
				return 1
			}
			return 0
		}),
	}
	for _, s := range []*grammar.Symbol{f.add, f.c, f.x, f.gt} {
		g.MustAddSymbol(s)
	}
	return f
}

// buildAdd returns Add(left, right) with constant leaves.
func buildAdd(t *testing.T, f fixture, left, right float64) *Tree {
	t.Helper()
	tr := New()
	root := tr.NewNode(f.add)
	if err := tr.SetRoot(root); err != nil {
		t.Fatalf("set root: %v", err)
	}
	if err := tr.AddSubtree(root, tr.NewConstant(f.c, left)); err != nil {
		t.Fatalf("add left: %v", err)
	}
	if err := tr.AddSubtree(root, tr.NewConstant(f.c, right)); err != nil {
		t.Fatalf("add right: %v", err)
	}
	return tr
}

func freshLength(tr *Tree, id NodeID) int {
	n := 1
	for _, c := range tr.Children(id) {
		n += freshLength(tr, c)
	}
	return n
}

func freshDepth(tr *Tree, id NodeID) int {
	d := 0
	for _, c := range tr.Children(id) {
		d = max(d, freshDepth(tr, c))
	}
	return d + 1
}

func TestAddSubtreeRejectsArityOverflow(t *testing.T) {
	f := newFixture(t)
	tr := buildAdd(t, f, 1, 2)

	err := tr.AddSubtree(tr.Root(), tr.NewConstant(f.c, 3))
	if !errors.Is(err, ErrMaximumArityExceeded) {
		t.Fatalf("expected ErrMaximumArityExceeded, got %v", err)
	}
	var arityErr *ArityError
	if !errors.As(err, &arityErr) || arityErr.Count != 3 || arityErr.Max != 2 {
		t.Fatalf("unexpected arity error: %#v", err)
	}
	if tr.ChildCount(tr.Root()) != 2 {
		t.Fatal("failed attach must not modify the tree")
	}
}

func TestInsertSubtreeRejectsIncompatibleType(t *testing.T) {
	f := newFixture(t)
	tr := New()
	root := tr.NewNode(f.add)
	_ = tr.SetRoot(root)
	cond := tr.NewNode(f.gt)

	if err := tr.AddSubtree(root, cond); !errors.Is(err, ErrIncompatibleChildType) {
		t.Fatalf("expected ErrIncompatibleChildType, got %v", err)
	}
	if tr.ChildCount(root) != 0 {
		t.Fatal("incompatible child must not be attached")
	}
}

func TestRemoveSubtreeRejectsMinimumArity(t *testing.T) {
	f := newFixture(t)
	tr := buildAdd(t, f, 1, 2)

	if _, err := tr.RemoveSubtree(tr.Root(), 0); !errors.Is(err, ErrMinimumArityViolated) {
		t.Fatalf("expected ErrMinimumArityViolated, got %v", err)
	}
	if got := tr.Length(); got != 3 {
		t.Fatalf("length changed after failed removal: %d", got)
	}
}

func TestInsertSubtreeRejectsCycle(t *testing.T) {
	f := newFixture(t)
	tr := buildAdd(t, f, 1, 2)
	inner := tr.NewNode(f.add)
	if _, err := tr.ReplaceSubtree(tr.Root(), 0, inner); err != nil {
		t.Fatalf("replace: %v", err)
	}
	if err := tr.AddSubtree(inner, tr.Root()); !errors.Is(err, ErrCycle) {
		t.Fatalf("expected ErrCycle, got %v", err)
	}
}

func TestLengthAndDepthInvalidateOnEdit(t *testing.T) {
	f := newFixture(t)
	tr := buildAdd(t, f, 1, 2)
	if tr.Length() != 3 || tr.Depth() != 2 {
		t.Fatalf("unexpected size: length=%d depth=%d", tr.Length(), tr.Depth())
	}

	inner := tr.NewNode(f.add)
	_ = tr.AddSubtree(inner, tr.NewVariable(f.x, "X"))
	_ = tr.AddSubtree(inner, tr.NewConstant(f.c, 4))
	if _, err := tr.ReplaceSubtree(tr.Root(), 1, inner); err != nil {
		t.Fatalf("replace: %v", err)
	}

	if got, want := tr.Length(), freshLength(tr, tr.Root()); got != want || got != 5 {
		t.Fatalf("length mismatch after edit: got=%d fresh=%d", got, want)
	}
	if got, want := tr.Depth(), freshDepth(tr, tr.Root()); got != want || got != 3 {
		t.Fatalf("depth mismatch after edit: got=%d fresh=%d", got, want)
	}
	if got := tr.SubtreeLength(inner); got != 3 {
		t.Fatalf("subtree length: %d", got)
	}
	if got := tr.Level(tr.Children(inner)[0]); got != 2 {
		t.Fatalf("level: %d", got)
	}
}

func TestIterateOrders(t *testing.T) {
	f := newFixture(t)
	tr := New()
	root := tr.NewNode(f.add)
	_ = tr.SetRoot(root)
	inner := tr.NewNode(f.add)
	a := tr.NewConstant(f.c, 1)
	b := tr.NewConstant(f.c, 2)
	x := tr.NewVariable(f.x, "X")
	_ = tr.AddSubtree(inner, a)
	_ = tr.AddSubtree(inner, b)
	_ = tr.AddSubtree(root, inner)
	_ = tr.AddSubtree(root, x)

	cases := []struct {
		order Order
		want  []NodeID
	}{
		{Prefix, []NodeID{root, inner, a, b, x}},
		{Postfix, []NodeID{a, b, inner, x, root}},
		{Breadth, []NodeID{root, inner, x, a, b}},
	}
	for _, tc := range cases {
		got := tr.Iterate(tc.order)
		if len(got) != len(tc.want) {
			t.Fatalf("%s: got %v want %v", tc.order, got, tc.want)
		}
		for i := range got {
			if got[i] != tc.want[i] {
				t.Fatalf("%s: got %v want %v", tc.order, got, tc.want)
			}
		}
	}
	if lvl := tr.AtLevel(2); len(lvl) != 2 || lvl[0] != a || lvl[1] != b {
		t.Fatalf("unexpected level 2 nodes: %v", lvl)
	}
}

func TestCloneIsIndependentAndEvaluatesEqually(t *testing.T) {
	f := newFixture(t)
	tr := buildAdd(t, f, 1, 2)
	x := tr.NewVariable(f.x, "X")
	if _, err := tr.ReplaceSubtree(tr.Root(), 0, x); err != nil {
		t.Fatalf("replace: %v", err)
	}

	clone := tr.Clone()
	if clone == tr {
		t.Fatal("clone must be a new instance")
	}
	if clone.Length() != 3 {
		t.Fatalf("clone should drop detached nodes, length=%d", clone.Length())
	}
	vars := map[string]float64{"X": 5}
	want, err := tr.Evaluate(vars)
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	got, err := clone.Evaluate(vars)
	if err != nil {
		t.Fatalf("evaluate clone: %v", err)
	}
	if got != want || got != 7 {
		t.Fatalf("clone evaluation mismatch: got=%f want=%f", got, want)
	}

	clone.SetValue(clone.Children(clone.Root())[1], 100)
	if after, _ := tr.Evaluate(vars); after != 7 {
		t.Fatalf("editing the clone changed the original: %f", after)
	}
	if clone.Symbol(clone.Root()) != tr.Symbol(tr.Root()) {
		t.Fatal("clone must share symbols")
	}
}

func TestGraftCopiesSubtreeBetweenTrees(t *testing.T) {
	f := newFixture(t)
	a := buildAdd(t, f, 1, 2)
	b := buildAdd(t, f, 99, 100)

	donor := b.Children(b.Root())[0]
	copied, err := a.Graft(b, donor)
	if err != nil {
		t.Fatalf("graft: %v", err)
	}
	if _, err := a.ReplaceSubtree(a.Root(), 1, copied); err != nil {
		t.Fatalf("replace: %v", err)
	}
	if got := a.SExpr(); got != "(Add 1 99)" {
		t.Fatalf("unexpected graft result: %s", got)
	}
	if got := b.SExpr(); got != "(Add 99 100)" {
		t.Fatalf("donor tree modified: %s", got)
	}

	self, err := a.Graft(a, a.Root())
	if err != nil {
		t.Fatalf("self graft: %v", err)
	}
	if a.SubtreeLength(self) != 3 || a.Attached(self) {
		t.Fatal("self graft must produce a detached copy")
	}
}

func TestEvaluateUnresolvedVariable(t *testing.T) {
	f := newFixture(t)
	tr := buildAdd(t, f, 1, 2)
	_, _ = tr.ReplaceSubtree(tr.Root(), 0, tr.NewVariable(f.x, "Z"))

	if _, err := tr.Evaluate(map[string]float64{"X": 1}); !errors.Is(err, ErrUnresolvedVariable) {
		t.Fatalf("expected ErrUnresolvedVariable, got %v", err)
	}
}

func TestRenderings(t *testing.T) {
	f := newFixture(t)
	tr := buildAdd(t, f, 1.5, 2)
	_, _ = tr.ReplaceSubtree(tr.Root(), 1, tr.NewVariable(f.x, "X"))

	if got := tr.SExpr(); got != "(Add 1.5 X)" {
		t.Fatalf("sexpr: %s", got)
	}
	if got := tr.MathString(); got != "(1.5 + X)" {
		t.Fatalf("math string: %s", got)
	}
	if got := tr.Diagram(); got != "Add\n  1.5\n  X\n" {
		t.Fatalf("diagram: %q", got)
	}
}

func TestSetSymbolChecksArity(t *testing.T) {
	f := newFixture(t)
	tr := buildAdd(t, f, 1, 2)
	leaf := tr.Children(tr.Root())[0]
	if err := tr.SetSymbol(leaf, f.add); !errors.Is(err, ErrInvalidArity) {
		t.Fatalf("expected ErrInvalidArity, got %v", err)
	}
	mul := grammar.NewFunction("Mul", 2, func(args []float64) float64 { return args[0] * args[1] })
	if err := tr.SetSymbol(tr.Root(), mul); err != nil {
		t.Fatalf("set symbol: %v", err)
	}
	if v, _ := tr.Evaluate(nil); v != 2 {
		t.Fatalf("expected product 2, got %f", v)
	}
}

func TestValidate(t *testing.T) {
	f := newFixture(t)
	tr := buildAdd(t, f, 1, 2)
	if err := tr.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}
	lonely := New()
	_ = lonely.SetRoot(lonely.NewNode(f.add))
	if err := lonely.Validate(); !errors.Is(err, ErrInvalidArity) {
		t.Fatalf("expected ErrInvalidArity for childless Add, got %v", err)
	}
}

func TestEvaluateNaNPropagates(t *testing.T) {
	f := newFixture(t)
	tr := buildAdd(t, f, math.Inf(1), math.Inf(-1))
	v, err := tr.Evaluate(nil)
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if !math.IsNaN(v) {
		t.Fatalf("expected NaN, got %f", v)
	}
}

func TestReplaceNodeLiftsDescendant(t *testing.T) {
	f := newFixture(t)
	tr := buildAdd(t, f, 1, 2)
	right := tr.Children(tr.Root())[1]

	if err := tr.ReplaceNode(tr.Root(), right); err != nil {
		t.Fatalf("replace node: %v", err)
	}
	if tr.Root() != right || tr.Length() != 1 {
		t.Fatalf("expected lifted terminal as root, got %s", tr)
	}
	if err := tr.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}
	if tr.Shared() {
		t.Fatal("lifting must not mark the tree as shared")
	}
}

func TestSetChildren(t *testing.T) {
	f := newFixture(t)
	tr := buildAdd(t, f, 1, 2)
	root := tr.Root()
	old := tr.Children(root)
	x := tr.NewVariable(f.x, "X")

	if err := tr.SetChildren(root, []NodeID{old[1], x}); err != nil {
		t.Fatalf("set children: %v", err)
	}
	if got := tr.SExpr(); got != "(Add 2 X)" {
		t.Fatalf("unexpected tree: %s", got)
	}
	if tr.Attached(old[0]) {
		t.Fatal("dropped child should be detached")
	}
	if err := tr.SetChildren(root, []NodeID{x}); !errors.Is(err, ErrInvalidArity) {
		t.Fatalf("expected ErrInvalidArity, got %v", err)
	}
	if got := tr.SExpr(); got != "(Add 2 X)" {
		t.Fatalf("failed SetChildren modified the tree: %s", got)
	}
}
