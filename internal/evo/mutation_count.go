package evo

import (
	"fmt"
	"math"

	"evotree/internal/random"
	"evotree/internal/tree"
)

// MutationCountPolicy determines how many mutation operations are applied to
// an offspring selected for mutation.
type MutationCountPolicy interface {
	Name() string
	MutationCount(t *tree.Tree, generation int, rng random.Source) (int, error)
}

type ConstMutationCount struct {
	Count int
}

func (ConstMutationCount) Name() string {
	return "const"
}

func (p ConstMutationCount) MutationCount(_ *tree.Tree, _ int, _ random.Source) (int, error) {
	if p.Count <= 0 {
		return 0, fmt.Errorf("const mutation count must be > 0")
	}
	return p.Count, nil
}

// LengthLinearMutationCount scales the count with the tree's node count.
type LengthLinearMutationCount struct {
	Multiplier float64
	MaxCount   int
}

func (LengthLinearMutationCount) Name() string {
	return "length_linear"
}

func (p LengthLinearMutationCount) MutationCount(t *tree.Tree, _ int, _ random.Source) (int, error) {
	if p.Multiplier <= 0 {
		return 0, fmt.Errorf("linear multiplier must be > 0")
	}
	count := int(math.Round(float64(t.Length()) * p.Multiplier))
	if count < 1 {
		count = 1
	}
	if p.MaxCount > 0 && count > p.MaxCount {
		count = p.MaxCount
	}
	return count, nil
}

// UniformMutationCount draws the count uniformly from [1, MaxCount].
type UniformMutationCount struct {
	MaxCount int
}

func (UniformMutationCount) Name() string {
	return "uniform"
}

func (p UniformMutationCount) MutationCount(_ *tree.Tree, _ int, rng random.Source) (int, error) {
	if p.MaxCount <= 0 {
		return 0, fmt.Errorf("uniform mutation max count must be > 0")
	}
	return 1 + rng.Intn(p.MaxCount), nil
}

// MutationCountFromName resolves a policy by name; param is the count,
// multiplier or maximum depending on the policy.
func MutationCountFromName(name string, param float64) (MutationCountPolicy, error) {
	switch name {
	case "", "const":
		count := int(param)
		if count <= 0 {
			count = 1
		}
		return ConstMutationCount{Count: count}, nil
	case "length_linear":
		return LengthLinearMutationCount{Multiplier: param}, nil
	case "uniform":
		return UniformMutationCount{MaxCount: int(param)}, nil
	default:
		return nil, fmt.Errorf("unsupported mutation count policy: %s", name)
	}
}
