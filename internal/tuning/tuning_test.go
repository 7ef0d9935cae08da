package tuning

import (
	"context"
	"errors"
	"math"
	"testing"

	"evotree/internal/grammar"
	"evotree/internal/random"
	"evotree/internal/tree"
)

// affine builds add(mul(c0, X), c1).
func affine(t *testing.T, c0, c1 float64) *tree.Tree {
	t.Helper()
	add := grammar.NewFunction("add", 2, func(a []float64) float64 { return a[0] + a[1] })
	mul := grammar.NewFunction("mul", 2, func(a []float64) float64 { return a[0] * a[1] })
	c := grammar.NewConstant("Constant", -1, 1)
	x := grammar.NewVariable("Variable", "X")

	tr := tree.New()
	root := tr.NewNode(add)
	if err := tr.SetRoot(root); err != nil {
		t.Fatalf("set root: %v", err)
	}
	m := tr.NewNode(mul)
	if err := tr.AddSubtree(root, m); err != nil {
		t.Fatalf("add mul: %v", err)
	}
	if err := tr.AddSubtree(m, tr.NewConstant(c, c0)); err != nil {
		t.Fatalf("add c0: %v", err)
	}
	if err := tr.AddSubtree(m, tr.NewVariable(x, "X")); err != nil {
		t.Fatalf("add x: %v", err)
	}
	if err := tr.AddSubtree(root, tr.NewConstant(c, c1)); err != nil {
		t.Fatalf("add c1: %v", err)
	}
	return tr
}

// target 3x+2 sampled on a few points; fitness is negated squared error.
func fitAffine(_ context.Context, tr *tree.Tree) (float64, error) {
	sum := 0.0
	for _, x := range []float64{-2, -1, 0, 1, 2} {
		got, err := tr.Evaluate(map[string]float64{"X": x})
		if err != nil {
			return 0, err
		}
		d := got - (3*x + 2)
		sum += d * d
	}
	return -sum, nil
}

func TestHillClimberImprovesConstants(t *testing.T) {
	tr := affine(t, 0.5, 0.5)
	before := tr.SExpr()
	h := &HillClimber{Rand: random.New(7), Steps: 2, StepSize: 1, AnnealingFactor: 0.9}
	tuned, report, err := h.Tune(context.Background(), tr, 400, fitAffine)
	if err != nil {
		t.Fatalf("tune: %v", err)
	}
	if tr.SExpr() != before {
		t.Fatalf("input tree modified: %s", tr.SExpr())
	}
	if report.Constants != 2 || report.AttemptsExecuted != 400 {
		t.Fatalf("unexpected report: %+v", report)
	}
	if report.FinalFitness <= report.InitialFitness || report.AcceptedCandidates == 0 {
		t.Fatalf("expected improvement: %+v", report)
	}
	got, _ := fitAffine(context.Background(), tuned)
	if math.Abs(got-report.FinalFitness) > 1e-9 {
		t.Fatalf("report final %f, tuned tree scores %f", report.FinalFitness, got)
	}
	if tuned.Length() != tr.Length() || tuned.Depth() != tr.Depth() {
		t.Fatal("tuning changed tree shape")
	}
}

func TestHillClimberDeterministic(t *testing.T) {
	run := func() string {
		h := &HillClimber{Rand: random.New(3), Steps: 1, StepSize: 0.5, CandidateSelection: CandidateSelectRecent}
		tuned, _, err := h.Tune(context.Background(), affine(t, 1, 1), 50, fitAffine)
		if err != nil {
			t.Fatalf("tune: %v", err)
		}
		return tuned.SExpr()
	}
	if a, b := run(), run(); a != b {
		t.Fatalf("same seed diverged: %s vs %s", a, b)
	}
}

func TestHillClimberGoalStopsEarly(t *testing.T) {
	goal := -1e9
	h := &HillClimber{Rand: random.New(1), Steps: 1, StepSize: 1, GoalFitness: &goal}
	_, report, err := h.Tune(context.Background(), affine(t, 0, 0), 10, fitAffine)
	if err != nil {
		t.Fatalf("tune: %v", err)
	}
	if !report.GoalReached || report.AttemptsExecuted != 0 {
		t.Fatalf("expected immediate goal: %+v", report)
	}
}

func TestHillClimberZeroGoalMeansExactFit(t *testing.T) {
	exact := affine(t, 3, 2)
	perfect := 0.0
	h := &HillClimber{Rand: random.New(1), Steps: 1, StepSize: 1, GoalFitness: &perfect}
	_, report, err := h.Tune(context.Background(), exact, 10, fitAffine)
	if err != nil {
		t.Fatalf("tune: %v", err)
	}
	if !report.GoalReached || report.AttemptsExecuted != 0 {
		t.Fatalf("zero goal should be reached by an exact fit: %+v", report)
	}

	h = &HillClimber{Rand: random.New(1), Steps: 1, StepSize: 1}
	_, report, err = h.Tune(context.Background(), exact, 10, fitAffine)
	if err != nil {
		t.Fatalf("tune: %v", err)
	}
	if report.GoalReached || report.AttemptsExecuted != 10 {
		t.Fatalf("no goal should run every attempt: %+v", report)
	}
}

func TestHillClimberPerturbsWithGaussianSteps(t *testing.T) {
	c := grammar.NewConstant("Constant", -1, 1)
	tr := tree.New()
	if err := tr.SetRoot(tr.NewConstant(c, 0)); err != nil {
		t.Fatalf("set root: %v", err)
	}
	var deltas []float64
	fit := func(_ context.Context, cand *tree.Tree) (float64, error) {
		deltas = append(deltas, cand.Value(cand.Root()))
		return -1, nil
	}
	const sigma = 0.1
	h := &HillClimber{Rand: random.New(9), Steps: 1, StepSize: sigma, CandidateSelection: CandidateSelectOriginal}
	if _, _, err := h.Tune(context.Background(), tr, 500, fit); err != nil {
		t.Fatalf("tune: %v", err)
	}
	deltas = deltas[1:]
	beyond, sum := 0, 0.0
	for _, d := range deltas {
		if math.Abs(d) > sigma {
			beyond++
		}
		sum += d
	}
	// About a third of normal draws fall outside one sigma; bounded noise never does.
	if beyond < len(deltas)/5 || beyond > len(deltas)/2 {
		t.Fatalf("%d of %d steps beyond sigma", beyond, len(deltas))
	}
	if mean := sum / float64(len(deltas)); math.Abs(mean) > 0.03 {
		t.Fatalf("steps should be centred on the base value, mean %f", mean)
	}
}

func TestHillClimberWithoutConstants(t *testing.T) {
	x := grammar.NewVariable("Variable", "X")
	tr := tree.New()
	if err := tr.SetRoot(tr.NewVariable(x, "X")); err != nil {
		t.Fatalf("set root: %v", err)
	}
	calls := 0
	fit := func(context.Context, *tree.Tree) (float64, error) { calls++; return 1, nil }
	h := &HillClimber{Rand: random.New(1), Steps: 1, StepSize: 1}
	tuned, report, err := h.Tune(context.Background(), tr, 20, fit)
	if err != nil {
		t.Fatalf("tune: %v", err)
	}
	if calls != 1 || report.AttemptsExecuted != 0 || tuned.SExpr() != tr.SExpr() {
		t.Fatalf("expected untouched tree, calls=%d report=%+v", calls, report)
	}
}

func TestHillClimberRejectsFailingCandidates(t *testing.T) {
	calls := 0
	fit := func(context.Context, *tree.Tree) (float64, error) {
		calls++
		if calls > 1 {
			return 0, errors.New("boom")
		}
		return -1, nil
	}
	h := &HillClimber{Rand: random.New(1), Steps: 1, StepSize: 1}
	_, report, err := h.Tune(context.Background(), affine(t, 0, 0), 5, fit)
	if err != nil {
		t.Fatalf("tune: %v", err)
	}
	if report.RejectedCandidates != 5 || report.FinalFitness != -1 {
		t.Fatalf("unexpected report: %+v", report)
	}
}

func TestHillClimberValidation(t *testing.T) {
	tr := affine(t, 0, 0)
	cases := map[string]*HillClimber{
		"no rand":   {Steps: 1, StepSize: 1},
		"no steps":  {Rand: random.New(1), StepSize: 1},
		"no size":   {Rand: random.New(1), Steps: 1},
		"annealing": {Rand: random.New(1), Steps: 1, StepSize: 1, AnnealingFactor: -1},
		"selection": {Rand: random.New(1), Steps: 1, StepSize: 1, CandidateSelection: "nope"},
	}
	for name, h := range cases {
		if _, _, err := h.Tune(context.Background(), tr, 1, fitAffine); err == nil {
			t.Fatalf("%s: expected error", name)
		}
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	h := &HillClimber{Rand: random.New(1), Steps: 1, StepSize: 1}
	if _, _, err := h.Tune(ctx, tr, 1, fitAffine); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestAttemptPolicies(t *testing.T) {
	tr := affine(t, 0, 0)
	cases := []struct {
		name  string
		param float64
		want  int
	}{
		{"fixed", 0, 10},
		{"", 0, 10},
		{"constants_proportional", 1, 12},
		{"constants_proportional", 2, 14},
		{"length_proportional", 1, 15},
	}
	for _, tc := range cases {
		p, err := AttemptPolicyFromConfig(tc.name, tc.param)
		if err != nil {
			t.Fatalf("%s: %v", tc.name, err)
		}
		if got := p.Attempts(10, tr); got != tc.want {
			t.Fatalf("%s(%v): got %d want %d", tc.name, tc.param, got, tc.want)
		}
	}
	if got := (LengthProportionalAttemptPolicy{Power: 3}).Attempts(0, tr); got != 100 {
		t.Fatalf("expected cap at 100, got %d", got)
	}
	if got := (FixedAttemptPolicy{}).Attempts(-4, tr); got != 0 {
		t.Fatalf("negative base: got %d", got)
	}
	if _, err := AttemptPolicyFromConfig("exotic", 0); err == nil {
		t.Fatal("expected unsupported policy error")
	}
}
