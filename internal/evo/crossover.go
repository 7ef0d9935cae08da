package evo

import (
	"context"
	"fmt"

	"evotree/internal/grammar"
	"evotree/internal/random"
	"evotree/internal/tree"
)

const (
	DefaultInternalNodeProbability = 0.9
	DefaultSwapProbability         = 0.5
)

// donorFilter keeps the nodes of donor that may replace the node at point of
// offspring without breaking grammar legality or size limits.
type donorFilter struct {
	g         *grammar.Grammar
	maxLength int
	maxDepth  int
}

func (f donorFilter) legal(offspring *tree.Tree, point tree.NodeID, donor *tree.Tree, candidates []tree.NodeID) []tree.NodeID {
	parent := offspring.Parent(point)
	index := 0
	if parent != tree.NoNode {
		index = offspring.IndexOf(parent, point)
	}
	baseLength := offspring.Length() - offspring.SubtreeLength(point)
	level := offspring.Level(point)

	out := make([]tree.NodeID, 0, len(candidates))
	for _, id := range candidates {
		s := donor.Symbol(id)
		if !f.fits(offspring, parent, index, s) {
			continue
		}
		if f.maxLength > 0 && baseLength+donor.SubtreeLength(id) > f.maxLength {
			continue
		}
		if f.maxDepth > 0 && level+donor.SubtreeDepth(id) > f.maxDepth {
			continue
		}
		out = append(out, id)
	}
	return out
}

func (f donorFilter) fits(offspring *tree.Tree, parent tree.NodeID, index int, s *grammar.Symbol) bool {
	if f.g == nil {
		if parent == tree.NoNode {
			return true
		}
		return offspring.Symbol(parent).InputType(index) == s.OutputType
	}
	if parent == tree.NoNode {
		return f.g.IsStartSymbol(s)
	}
	return f.g.IsAllowedChild(offspring.Symbol(parent), s, index)
}

// splice copies the donor subtree into offspring in place of point.
func splice(offspring *tree.Tree, point tree.NodeID, donor *tree.Tree, id tree.NodeID) error {
	copied, err := offspring.Graft(donor, id)
	if err != nil {
		return err
	}
	return offspring.ReplaceNode(point, copied)
}

func checkParents(a, b *tree.Tree) error {
	if a == nil || b == nil || a.Root() == tree.NoNode || b.Root() == tree.NoNode {
		return fmt.Errorf("crossover requires two non-empty parents")
	}
	return nil
}

// SubtreeCrossover swaps a subtree of the first parent, chosen with a bias
// towards internal nodes, for a subtree of the second.
type SubtreeCrossover struct {
	Rand                    random.Source
	Grammar                 *grammar.Grammar
	InternalNodeProbability float64
	MaxLength               int
	MaxDepth                int
}

func (*SubtreeCrossover) Name() string {
	return "subtree"
}

func (c *SubtreeCrossover) Cross(ctx context.Context, a, b *tree.Tree) (*tree.Tree, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if c == nil || c.Rand == nil {
		return nil, ErrRandRequired
	}
	if err := checkParents(a, b); err != nil {
		return nil, err
	}
	p := c.InternalNodeProbability
	if p < 0 || p > 1 {
		return nil, fmt.Errorf("internal node probability must be in [0, 1]: %f", p)
	}

	offspring := a.Clone()
	var point tree.NodeID
	internal := offspring.Internal()
	if len(internal) > 0 && c.Rand.Float64() < p {
		point = internal[c.Rand.Intn(len(internal))]
	} else {
		nodes := offspring.Iterate(tree.Prefix)
		point = nodes[c.Rand.Intn(len(nodes))]
	}

	filter := donorFilter{g: c.Grammar, maxLength: c.MaxLength, maxDepth: c.MaxDepth}
	donors := filter.legal(offspring, point, b, b.Iterate(tree.Prefix))
	if len(donors) == 0 {
		return offspring, nil
	}
	if err := splice(offspring, point, b, donors[c.Rand.Intn(len(donors))]); err != nil {
		return nil, err
	}
	return offspring, nil
}

// OnePointCrossover exchanges subtrees that sit at the same level in both
// parents.
type OnePointCrossover struct {
	Rand      random.Source
	Grammar   *grammar.Grammar
	MaxLength int
	MaxDepth  int
}

func (*OnePointCrossover) Name() string {
	return "one_point"
}

func (c *OnePointCrossover) Cross(ctx context.Context, a, b *tree.Tree) (*tree.Tree, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if c == nil || c.Rand == nil {
		return nil, ErrRandRequired
	}
	if err := checkParents(a, b); err != nil {
		return nil, err
	}

	offspring := a.Clone()
	common := min(offspring.Depth(), b.Depth())
	if common <= 1 {
		return offspring, nil
	}
	level := 1 + c.Rand.Intn(common-1)
	points := offspring.AtLevel(level)
	if len(points) == 0 {
		return offspring, nil
	}
	point := points[c.Rand.Intn(len(points))]

	filter := donorFilter{g: c.Grammar, maxLength: c.MaxLength, maxDepth: c.MaxDepth}
	donors := filter.legal(offspring, point, b, b.AtLevel(level))
	if len(donors) == 0 {
		return offspring, nil
	}
	if err := splice(offspring, point, b, donors[c.Rand.Intn(len(donors))]); err != nil {
		return nil, err
	}
	return offspring, nil
}

// UniformCrossover visits every node of the first parent and, with
// SwapProbability, replaces it by a legal subtree of the second parent. Nodes
// that an earlier swap already discarded are skipped.
type UniformCrossover struct {
	Rand            random.Source
	Grammar         *grammar.Grammar
	SwapProbability float64
	MaxLength       int
	MaxDepth        int
}

func (*UniformCrossover) Name() string {
	return "uniform"
}

func (c *UniformCrossover) Cross(ctx context.Context, a, b *tree.Tree) (*tree.Tree, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if c == nil || c.Rand == nil {
		return nil, ErrRandRequired
	}
	if err := checkParents(a, b); err != nil {
		return nil, err
	}
	p := c.SwapProbability
	if p < 0 || p > 1 {
		return nil, fmt.Errorf("swap probability must be in [0, 1]: %f", p)
	}

	offspring := a.Clone()
	filter := donorFilter{g: c.Grammar, maxLength: c.MaxLength, maxDepth: c.MaxDepth}
	donors := b.Iterate(tree.Prefix)
	for _, point := range offspring.Iterate(tree.Prefix) {
		if !offspring.Attached(point) {
			continue
		}
		if c.Rand.Float64() >= p {
			continue
		}
		legal := filter.legal(offspring, point, b, donors)
		if len(legal) == 0 {
			continue
		}
		if err := splice(offspring, point, b, legal[c.Rand.Intn(len(legal))]); err != nil {
			return nil, err
		}
	}
	offspring.Compact()
	return offspring, nil
}
