package create

import (
	"fmt"

	"evotree/internal/grammar"
	"evotree/internal/random"
	"evotree/internal/tree"
)

type builder struct {
	rng  random.Source
	g    *grammar.Grammar
	t    *tree.Tree
	full bool
}

// feasible keeps the enabled symbols whose smallest completion fits the bounds.
func (b *builder) feasible(symbols []*grammar.Symbol, maxLength, maxDepth int) []*grammar.Symbol {
	out := make([]*grammar.Symbol, 0, len(symbols))
	for _, s := range grammar.Enabled(symbols) {
		if b.g.MinimumLength(s) <= maxLength && b.g.MinimumDepth(s) <= maxDepth {
			out = append(out, s)
		}
	}
	return out
}

// choose forces terminals once the budget is spent and, for full trees,
// prefers functions everywhere else.
func (b *builder) choose(candidates []*grammar.Symbol, maxLength, maxDepth int) *grammar.Symbol {
	terminals := make([]*grammar.Symbol, 0, len(candidates))
	functions := make([]*grammar.Symbol, 0, len(candidates))
	for _, s := range candidates {
		if s.IsTerminal() {
			terminals = append(terminals, s)
		} else {
			functions = append(functions, s)
		}
	}
	switch {
	case maxLength <= 1 || maxDepth <= 1:
		if len(terminals) > 0 {
			return Pick(b.rng, terminals)
		}
	case b.full:
		if len(functions) > 0 {
			return Pick(b.rng, functions)
		}
	}
	return Pick(b.rng, candidates)
}

func (b *builder) grow(s *grammar.Symbol, maxLength, maxDepth int) (tree.NodeID, error) {
	id := NewNode(b.t, b.rng, s)
	if s.IsTerminal() {
		return id, nil
	}

	remaining := maxLength - 1
	childDepth := maxDepth - 1
	need := make([]int, s.MaxArity)
	for i := range need {
		need[i] = b.childMinimum(s, i, childDepth)
	}
	arity := b.arity(s, need, remaining)
	if arity < 0 {
		return tree.NoNode, fmt.Errorf("%w: %s cannot be completed within length %d depth %d", ErrNoTerminalSymbols, s.Name, maxLength, maxDepth)
	}

	reserved := 0
	for i := 0; i < arity; i++ {
		reserved += need[i]
	}
	for i := 0; i < arity; i++ {
		reserved -= need[i]
		// Split what is left evenly over the outstanding children while
		// keeping room for the minimal completion of those still to come.
		limit := max(remaining/(arity-i), need[i])
		limit = min(limit, remaining-reserved)

		candidates := b.feasible(b.g.AllowedChildren(s, i), limit, childDepth)
		if len(candidates) == 0 {
			return tree.NoNode, fmt.Errorf("%w: nothing fits %s argument %d within length %d depth %d", ErrNoTerminalSymbols, s.Name, i, limit, childDepth)
		}
		child, err := b.grow(b.choose(candidates, limit, childDepth), limit, childDepth)
		if err != nil {
			return tree.NoNode, err
		}
		if err := b.t.AddSubtree(id, child); err != nil {
			return tree.NoNode, err
		}
		remaining -= b.t.SubtreeLength(child)
	}
	return id, nil
}

// childMinimum is the smallest length of any legal completion of argument
// index of s within maxDepth.
func (b *builder) childMinimum(s *grammar.Symbol, index, maxDepth int) int {
	best := grammar.Unreachable
	for _, c := range grammar.Enabled(b.g.AllowedChildren(s, index)) {
		if b.g.MinimumDepth(c) <= maxDepth {
			best = min(best, b.g.MinimumLength(c))
		}
	}
	return best
}

// arity picks the child count of a new s node: the largest count that fits for
// full trees, a uniform draw over the fitting counts otherwise. It returns -1
// when not even the minimum arity fits.
func (b *builder) arity(s *grammar.Symbol, need []int, remaining int) int {
	upper := -1
	sum := 0
	for k := 0; k <= s.MaxArity; k++ {
		if k > 0 {
			if need[k-1] >= grammar.Unreachable {
				break
			}
			sum += need[k-1]
			if sum > remaining {
				break
			}
		}
		if k >= s.MinArity {
			upper = k
		}
	}
	if upper < 0 {
		return -1
	}
	if b.full {
		return upper
	}
	return s.MinArity + b.rng.Intn(upper-s.MinArity+1)
}
