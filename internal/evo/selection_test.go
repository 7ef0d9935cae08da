package evo

import (
	"math"
	"testing"

	"evotree/internal/random"
)

// fixedSource replays a scripted sequence of Intn results.
type fixedSource struct {
	ints []int
	next int
}

func (s *fixedSource) Intn(n int) int {
	v := s.ints[s.next%len(s.ints)] % n
	s.next++
	return v
}

func (s *fixedSource) Float64() float64 {
	return 0.5
}

func TestTournamentKeepsFirstOnTie(t *testing.T) {
	g := scenarioGrammar(t)
	population := []Individual{
		{Tree: addTree(t, g, 1, 1), Fitness: 5, Evaluated: true},
		{Tree: addTree(t, g, 2, 2), Fitness: 5, Evaluated: true},
		{Tree: addTree(t, g, 3, 3), Fitness: 1, Evaluated: true},
	}
	rng := &fixedSource{ints: []int{1, 0, 2}}
	got, err := TournamentSelector{TournamentSize: 3}.Select(rng, population)
	if err != nil {
		t.Fatalf("select: %v", err)
	}
	if got.Tree.SExpr() != "(Add 2 2)" {
		t.Fatalf("expected the first drawn of the tied pair, got %s", got.Tree)
	}
}

func TestTournamentReturnsCopy(t *testing.T) {
	g := scenarioGrammar(t)
	population := []Individual{{Tree: addTree(t, g, 1, 2), Fitness: 1, Evaluated: true}}
	got, err := TournamentSelector{}.Select(random.New(1), population)
	if err != nil {
		t.Fatalf("select: %v", err)
	}
	got.Tree.SetValue(got.Tree.Children(got.Tree.Root())[0], 42)
	if population[0].Tree.SExpr() != "(Add 1 2)" {
		t.Fatalf("population member modified through selection: %s", population[0].Tree)
	}
}

func TestTournamentPrefersFitter(t *testing.T) {
	g := scenarioGrammar(t)
	population := make([]Individual, 10)
	for i := range population {
		population[i] = Individual{Tree: addTree(t, g, float64(i), 0), Fitness: float64(i), Evaluated: true}
	}
	rng := random.New(3)
	total := 0.0
	const draws = 500
	for i := 0; i < draws; i++ {
		got, err := TournamentSelector{TournamentSize: 3}.Select(rng, population)
		if err != nil {
			t.Fatalf("select: %v", err)
		}
		total += got.Fitness
	}
	if mean := total / draws; mean <= 4.5 {
		t.Fatalf("tournament mean %.2f not above population mean", mean)
	}
}

func TestProportionalSkipsFailures(t *testing.T) {
	g := scenarioGrammar(t)
	population := []Individual{
		{Tree: addTree(t, g, 0, 0), Fitness: math.Inf(-1), Evaluated: true},
		{Tree: addTree(t, g, 1, 1), Fitness: -3, Evaluated: true},
		{Tree: addTree(t, g, 2, 2), Fitness: 10, Evaluated: true},
	}
	rng := random.New(8)
	for i := 0; i < 200; i++ {
		got, err := ProportionalSelector{}.Select(rng, population)
		if err != nil {
			t.Fatalf("select: %v", err)
		}
		if math.IsInf(got.Fitness, -1) {
			t.Fatal("failed individual selected")
		}
	}
}

func TestSelectorErrors(t *testing.T) {
	if _, err := (TournamentSelector{}).Select(random.New(1), nil); err == nil {
		t.Fatal("expected error for empty population")
	}
	if _, err := (ProportionalSelector{}).Select(nil, []Individual{{}}); err != ErrRandRequired {
		t.Fatalf("expected ErrRandRequired, got %v", err)
	}
	if _, err := SelectorFromName("roulette_wheel", 0); err == nil {
		t.Fatal("expected error for unknown selector")
	}
	s, err := SelectorFromName("", 5)
	if err != nil || s.(TournamentSelector).TournamentSize != 5 {
		t.Fatalf("unexpected default selector %v %v", s, err)
	}
}
