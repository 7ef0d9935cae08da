package evo

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"evotree/internal/random"
	"evotree/internal/tree"
)

type WeightedMutation struct {
	Operator Operator
	Weight   float64
}

// MultiMutator applies one operator drawn from Policy by weight. When the
// drawn operator finds nothing to do, the remaining operators are tried in
// policy order.
type MultiMutator struct {
	Rand   random.Source
	Policy []WeightedMutation
}

func NewMultiMutator(rng random.Source, policy ...WeightedMutation) (*MultiMutator, error) {
	if rng == nil {
		return nil, ErrRandRequired
	}
	if len(policy) == 0 {
		return nil, fmt.Errorf("mutation policy is required")
	}
	positive := false
	for i, item := range policy {
		if item.Operator == nil {
			return nil, fmt.Errorf("mutation policy operator is required at index %d", i)
		}
		if item.Weight < 0 {
			return nil, fmt.Errorf("mutation policy weight must be >= 0 at index %d", i)
		}
		if item.Weight > 0 {
			positive = true
		}
	}
	if !positive {
		return nil, fmt.Errorf("mutation policy requires at least one positive weight")
	}
	return &MultiMutator{Rand: rng, Policy: append([]WeightedMutation(nil), policy...)}, nil
}

func (m *MultiMutator) Name() string {
	names := make([]string, 0, len(m.Policy))
	for _, item := range m.Policy {
		names = append(names, item.Operator.Name())
	}
	return "multi(" + strings.Join(names, ",") + ")"
}

func (m *MultiMutator) Apply(ctx context.Context, t *tree.Tree) (*tree.Tree, error) {
	op, err := m.Choose()
	if err != nil {
		return nil, err
	}
	mutated, err := op.Apply(ctx, t)
	if !errors.Is(err, ErrNoMutationChoice) {
		return mutated, err
	}
	for _, item := range m.Policy {
		if item.Operator == op || item.Weight <= 0 {
			continue
		}
		mutated, err = item.Operator.Apply(ctx, t)
		if !errors.Is(err, ErrNoMutationChoice) {
			return mutated, err
		}
	}
	return nil, err
}

// Choose draws an operator from the policy by weight.
func (m *MultiMutator) Choose() (Operator, error) {
	if m == nil || m.Rand == nil {
		return nil, ErrRandRequired
	}
	weights := make([]float64, len(m.Policy))
	total := 0.0
	for i, item := range m.Policy {
		weights[i] = item.Weight
		total += max(item.Weight, 0)
	}
	if total <= 0 {
		return nil, fmt.Errorf("mutation policy requires at least one positive weight")
	}
	return m.Policy[random.Roulette(m.Rand, weights)].Operator, nil
}
