package evo

import (
	"context"
	"errors"
	"reflect"
	"testing"

	"evotree/internal/random"
)

func TestBuiltInOperatorsAreRegistered(t *testing.T) {
	resetOperatorRegistryForTests()
	t.Cleanup(resetOperatorRegistryForTests)

	wantMutations := []string{"change_node_type", "change_terminal", "child_insertion", "node_insertion", "node_removal", "subtree"}
	if got := ListMutations(); !reflect.DeepEqual(got, wantMutations) {
		t.Fatalf("mutations: got %v want %v", got, wantMutations)
	}
	wantCrossovers := []string{"one_point", "subtree", "uniform"}
	if got := ListCrossovers(); !reflect.DeepEqual(got, wantCrossovers) {
		t.Fatalf("crossovers: got %v want %v", got, wantCrossovers)
	}
}

func TestResolveOperators(t *testing.T) {
	resetOperatorRegistryForTests()
	t.Cleanup(resetOperatorRegistryForTests)

	g := scenarioGrammar(t)
	params := OperatorParams{Rand: random.New(1), Grammar: g, MaxLength: 10, MaxDepth: 4, Strategy: AritySkipAndBackfill}
	for _, name := range ListMutations() {
		op, err := ResolveMutation(name, params)
		if err != nil {
			t.Fatalf("resolve %s: %v", name, err)
		}
		if op.Name() != name {
			t.Fatalf("resolved %s reports name %s", name, op.Name())
		}
		if _, err := op.Apply(context.Background(), addTree(t, g, 1, 2)); err != nil && !errors.Is(err, ErrNoMutationChoice) {
			t.Fatalf("apply %s: %v", name, err)
		}
	}

	x, err := ResolveCrossover("subtree", params)
	if err != nil {
		t.Fatalf("resolve crossover: %v", err)
	}
	if p := x.(*SubtreeCrossover).InternalNodeProbability; p != DefaultInternalNodeProbability {
		t.Fatalf("expected default internal node probability, got %v", p)
	}
	u, err := ResolveCrossover("uniform", params)
	if err != nil {
		t.Fatalf("resolve crossover: %v", err)
	}
	if p := u.(*UniformCrossover).SwapProbability; p != DefaultSwapProbability {
		t.Fatalf("expected default swap probability, got %v", p)
	}

	if _, err := ResolveMutation("teleport", params); !errors.Is(err, ErrOperatorNotFound) {
		t.Fatalf("expected ErrOperatorNotFound, got %v", err)
	}
	if _, err := ResolveMutation("subtree", OperatorParams{Rand: random.New(1)}); !errors.Is(err, ErrGrammarRequired) {
		t.Fatalf("expected ErrGrammarRequired, got %v", err)
	}
	if _, err := ResolveCrossover("subtree", OperatorParams{}); !errors.Is(err, ErrRandRequired) {
		t.Fatalf("expected ErrRandRequired, got %v", err)
	}
}

func TestRegisterCustomOperator(t *testing.T) {
	resetOperatorRegistryForTests()
	t.Cleanup(resetOperatorRegistryForTests)

	factory := func(p OperatorParams) (Operator, error) {
		return &stubOperator{name: "custom"}, nil
	}
	if err := RegisterMutation("custom", factory); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := RegisterMutation("custom", factory); !errors.Is(err, ErrOperatorExists) {
		t.Fatalf("expected ErrOperatorExists, got %v", err)
	}
	if err := RegisterMutation("subtree", factory); !errors.Is(err, ErrOperatorExists) {
		t.Fatalf("built-ins must not be overwritten, got %v", err)
	}
	if err := RegisterCrossover("", nil); err == nil {
		t.Fatal("expected error for empty name")
	}
	op, err := ResolveMutation("custom", OperatorParams{Rand: random.New(1), Grammar: scenarioGrammar(t)})
	if err != nil || op.Name() != "custom" {
		t.Fatalf("resolve custom: %v %v", op, err)
	}
}
