package tuning

import (
	"fmt"
	"math"

	"evotree/internal/tree"
)

// AttemptPolicy decides how many tuning attempts a tree receives.
type AttemptPolicy interface {
	Name() string
	Attempts(baseAttempts int, t *tree.Tree) int
}

type FixedAttemptPolicy struct{}

func (FixedAttemptPolicy) Name() string { return "fixed" }

func (FixedAttemptPolicy) Attempts(baseAttempts int, _ *tree.Tree) int {
	if baseAttempts < 0 {
		return 0
	}
	return baseAttempts
}

// ConstantsProportionalAttemptPolicy adds count^Power attempts for a tree
// with count constants, capped at 100 extra.
type ConstantsProportionalAttemptPolicy struct {
	Power float64
}

func (ConstantsProportionalAttemptPolicy) Name() string { return "constants_proportional" }

func (p ConstantsProportionalAttemptPolicy) Attempts(baseAttempts int, t *tree.Tree) int {
	return scaled(baseAttempts, len(Constants(t)), p.Power)
}

// LengthProportionalAttemptPolicy adds length^Power attempts, capped at 100
// extra.
type LengthProportionalAttemptPolicy struct {
	Power float64
}

func (LengthProportionalAttemptPolicy) Name() string { return "length_proportional" }

func (p LengthProportionalAttemptPolicy) Attempts(baseAttempts int, t *tree.Tree) int {
	return scaled(baseAttempts, t.Length(), p.Power)
}

func scaled(base, count int, power float64) int {
	if base < 0 {
		base = 0
	}
	if power <= 0 {
		power = 1
	}
	extra := satInt(int(math.Round(math.Pow(float64(count), power))), 0, 100)
	return base + extra
}

func AttemptPolicyFromConfig(name string, param float64) (AttemptPolicy, error) {
	switch name {
	case "", "fixed", "const":
		return FixedAttemptPolicy{}, nil
	case "constants_proportional":
		return ConstantsProportionalAttemptPolicy{Power: param}, nil
	case "length_proportional":
		return LengthProportionalAttemptPolicy{Power: param}, nil
	default:
		return nil, fmt.Errorf("unsupported tune attempt policy: %s", name)
	}
}

func satInt(v, minV, maxV int) int {
	if v < minV {
		return minV
	}
	if v > maxV {
		return maxV
	}
	return v
}
