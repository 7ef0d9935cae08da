package evo

import (
	"context"
	"fmt"

	"evotree/internal/create"
	"evotree/internal/grammar"
	"evotree/internal/random"
	"evotree/internal/tree"
)

const (
	DefaultPerturbSigma    = 1.0
	changeNodeTypeMaxTries = 10
)

func checkMutator(ctx context.Context, rng random.Source, g *grammar.Grammar, t *tree.Tree) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if rng == nil {
		return ErrRandRequired
	}
	if g == nil {
		return ErrGrammarRequired
	}
	if t == nil || t.Root() == tree.NoNode {
		return fmt.Errorf("%w: empty tree", ErrNoMutationChoice)
	}
	return nil
}

// SubtreeMutator replaces a random node with a freshly grown subtree.
type SubtreeMutator struct {
	Rand      random.Source
	Grammar   *grammar.Grammar
	MaxLength int
	MaxDepth  int
}

func (*SubtreeMutator) Name() string {
	return "subtree"
}

func (o *SubtreeMutator) Apply(ctx context.Context, t *tree.Tree) (*tree.Tree, error) {
	if err := checkMutator(ctx, o.Rand, o.Grammar, t); err != nil {
		return nil, err
	}
	mutated := t.Clone()
	e := editor{t: mutated, rng: o.Rand, g: o.Grammar, maxLength: o.MaxLength, maxDepth: o.MaxDepth}

	nodes := mutated.Iterate(tree.Prefix)
	point := nodes[o.Rand.Intn(len(nodes))]
	parent, index := e.slot(point)
	replacement, err := e.grow(parent, index, point)
	if err != nil {
		return nil, err
	}
	if err := mutated.ReplaceNode(point, replacement); err != nil {
		return nil, err
	}
	mutated.Compact()
	return mutated, nil
}

// ChangeNodeTypeMutator swaps the symbol of a random node for another symbol
// that accepts the same arguments and fits the same position.
type ChangeNodeTypeMutator struct {
	Rand    random.Source
	Grammar *grammar.Grammar
}

func (*ChangeNodeTypeMutator) Name() string {
	return "change_node_type"
}

func (o *ChangeNodeTypeMutator) Apply(ctx context.Context, t *tree.Tree) (*tree.Tree, error) {
	if err := checkMutator(ctx, o.Rand, o.Grammar, t); err != nil {
		return nil, err
	}
	mutated := t.Clone()
	e := editor{t: mutated, rng: o.Rand, g: o.Grammar}

	nodes := mutated.Iterate(tree.Prefix)
	order := random.Perm(o.Rand, len(nodes))
	tries := min(changeNodeTypeMaxTries, len(nodes))
	for _, i := range order[:tries] {
		id := nodes[i]
		candidates := o.replacements(e, id)
		if len(candidates) == 0 {
			continue
		}
		s := create.Pick(o.Rand, candidates)
		if err := mutated.SetSymbol(id, s); err != nil {
			return nil, err
		}
		create.InitTerminal(mutated, o.Rand, id)
		return mutated, nil
	}
	return mutated, nil
}

func (o *ChangeNodeTypeMutator) replacements(e editor, id tree.NodeID) []*grammar.Symbol {
	current := e.t.Symbol(id)
	parent, index := e.slot(id)
	children := e.t.Children(id)
	out := make([]*grammar.Symbol, 0)
	for _, s := range grammar.Enabled(o.Grammar.Symbols()) {
		if s == current || !s.AcceptsArity(len(children)) || !e.fits(parent, index, s) {
			continue
		}
		legal := true
		for i, c := range children {
			if !o.Grammar.IsAllowedChild(s, e.t.Symbol(c), i) {
				legal = false
				break
			}
		}
		if legal {
			out = append(out, s)
		}
	}
	return out
}

// ChangeTerminalMutator perturbs a random constant or rebinds a random
// variable to another name.
type ChangeTerminalMutator struct {
	Rand    random.Source
	Grammar *grammar.Grammar
	// Perturb maps a constant to its new value; nil adds gaussian noise with
	// standard deviation Sigma.
	Perturb func(rng random.Source, value float64) float64
	Sigma   float64
}

func (*ChangeTerminalMutator) Name() string {
	return "change_terminal"
}

type binding struct {
	symbol *grammar.Symbol
	name   string
}

func (o *ChangeTerminalMutator) Apply(ctx context.Context, t *tree.Tree) (*tree.Tree, error) {
	if err := checkMutator(ctx, o.Rand, o.Grammar, t); err != nil {
		return nil, err
	}
	mutated := t.Clone()
	e := editor{t: mutated, rng: o.Rand, g: o.Grammar}

	terminals := make([]tree.NodeID, 0)
	for _, id := range mutated.Terminals() {
		if kind := mutated.Symbol(id).Kind; kind == grammar.Constant || kind == grammar.Variable {
			terminals = append(terminals, id)
		}
	}
	if len(terminals) == 0 {
		return nil, fmt.Errorf("%w: no constant or variable terminals", ErrNoMutationChoice)
	}
	id := terminals[o.Rand.Intn(len(terminals))]

	if mutated.Symbol(id).Kind == grammar.Constant {
		mutated.SetValue(id, o.perturb(mutated.Value(id)))
		return mutated, nil
	}

	parent, index := e.slot(id)
	options := make([]binding, 0)
	for _, s := range grammar.Enabled(o.Grammar.Terminals()) {
		if s.Kind != grammar.Variable || !e.fits(parent, index, s) {
			continue
		}
		for _, name := range s.Variables {
			if s == mutated.Symbol(id) && name == mutated.Variable(id) {
				continue
			}
			options = append(options, binding{symbol: s, name: name})
		}
	}
	if len(options) == 0 {
		return mutated, nil
	}
	pick := options[o.Rand.Intn(len(options))]
	if pick.symbol != mutated.Symbol(id) {
		if err := mutated.SetSymbol(id, pick.symbol); err != nil {
			return nil, err
		}
	}
	mutated.SetVariable(id, pick.name)
	return mutated, nil
}

func (o *ChangeTerminalMutator) perturb(value float64) float64 {
	if o.Perturb != nil {
		return o.Perturb(o.Rand, value)
	}
	sigma := o.Sigma
	if sigma <= 0 {
		sigma = DefaultPerturbSigma
	}
	return value + random.Gaussian(o.Rand, 0, sigma)
}

// NodeInsertionManipulator places a new function node above a random node,
// which becomes one of its arguments. Remaining required arguments are grown.
type NodeInsertionManipulator struct {
	Rand      random.Source
	Grammar   *grammar.Grammar
	MaxLength int
	MaxDepth  int
	Strategy  ArityStrategy
}

func (*NodeInsertionManipulator) Name() string {
	return "node_insertion"
}

type insertion struct {
	symbol    *grammar.Symbol
	positions []int
}

func (o *NodeInsertionManipulator) Apply(ctx context.Context, t *tree.Tree) (*tree.Tree, error) {
	if err := checkMutator(ctx, o.Rand, o.Grammar, t); err != nil {
		return nil, err
	}
	mutated := t.Clone()
	e := editor{t: mutated, rng: o.Rand, g: o.Grammar, maxLength: o.MaxLength, maxDepth: o.MaxDepth}
	maxLength, maxDepth := e.limits()
	spare := maxLength - mutated.Length() - 1
	if spare < 0 {
		return nil, fmt.Errorf("%w: tree at length limit", ErrNoMutationChoice)
	}

	targets := make([]tree.NodeID, 0)
	for _, id := range mutated.Iterate(tree.Prefix) {
		if mutated.Level(id)+mutated.SubtreeDepth(id)+1 <= maxDepth {
			targets = append(targets, id)
		}
	}
	if len(targets) == 0 {
		return nil, fmt.Errorf("%w: tree at depth limit", ErrNoMutationChoice)
	}
	target := targets[o.Rand.Intn(len(targets))]
	parent, index := e.slot(target)
	level := mutated.Level(target)
	options := o.insertions(e, parent, index, mutated.Symbol(target), spare)
	if len(options) == 0 {
		return nil, fmt.Errorf("%w: no function can wrap %s", ErrNoMutationChoice, mutated.Symbol(target))
	}
	symbols := make([]*grammar.Symbol, len(options))
	for i, opt := range options {
		symbols[i] = opt.symbol
	}
	chosen := create.Pick(o.Rand, symbols)
	var positions []int
	for _, opt := range options {
		if opt.symbol == chosen {
			positions = opt.positions
		}
	}
	position := positions[o.Rand.Intn(len(positions))]

	arity := max(chosen.MinArity, position+1)
	children := make([]tree.NodeID, arity)
	others := arity - 1
	for k := range children {
		if k == position {
			children[k] = target
			continue
		}
		limit := max(spare/others, 1)
		child, err := create.GrowSubtree(mutated, o.Rand, o.Grammar, chosen, k, limit, maxDepth-level-1)
		if err != nil {
			if o.Strategy == ArityThrow {
				return nil, err
			}
			if child, err = create.Terminal(mutated, o.Rand, o.Grammar, chosen, k); err != nil {
				return nil, fmt.Errorf("%w: %v", ErrNoMutationChoice, err)
			}
		}
		children[k] = child
		spare -= mutated.SubtreeLength(child)
		others--
	}

	wrapper := mutated.NewNode(chosen)
	if err := mutated.ReplaceNode(target, wrapper); err != nil {
		return nil, err
	}
	if err := mutated.SetChildren(wrapper, children); err != nil {
		return nil, err
	}
	mutated.Compact()
	return mutated, nil
}

// insertions lists enabled functions that fit the slot and can take the
// wrapped symbol as one of their arguments.
func (o *NodeInsertionManipulator) insertions(e editor, parent tree.NodeID, index int, wrapped *grammar.Symbol, spare int) []insertion {
	out := make([]insertion, 0)
	for _, s := range grammar.Enabled(o.Grammar.Functions()) {
		if s.MaxArity == 0 || !e.fits(parent, index, s) {
			continue
		}
		// Every extra required argument needs at least one node.
		if max(s.MinArity-1, 0) > spare {
			continue
		}
		positions := make([]int, 0)
		for i := 0; i < max(s.MinArity, 1); i++ {
			if o.Grammar.IsAllowedChild(s, wrapped, i) {
				positions = append(positions, i)
			}
		}
		if len(positions) > 0 {
			out = append(out, insertion{symbol: s, positions: positions})
		}
	}
	return out
}

// NodeRemovalManipulator deletes a random non-root subtree. When the parent
// would fall below its minimum arity the strategy decides the repair; by
// default the parent is replaced by one of its remaining arguments.
type NodeRemovalManipulator struct {
	Rand     random.Source
	Grammar  *grammar.Grammar
	Strategy ArityStrategy
}

func (*NodeRemovalManipulator) Name() string {
	return "node_removal"
}

func (o *NodeRemovalManipulator) Apply(ctx context.Context, t *tree.Tree) (*tree.Tree, error) {
	if err := checkMutator(ctx, o.Rand, o.Grammar, t); err != nil {
		return nil, err
	}
	mutated := t.Clone()
	e := editor{t: mutated, rng: o.Rand, g: o.Grammar}

	nodes := mutated.Iterate(tree.Prefix)[1:]
	if len(nodes) == 0 {
		return nil, fmt.Errorf("%w: tree has no non-root node", ErrNoMutationChoice)
	}
	target := nodes[o.Rand.Intn(len(nodes))]
	parent, index := e.slot(target)
	if err := e.detach(parent, index, o.Strategy); err != nil {
		return nil, err
	}
	mutated.Compact()
	return mutated, nil
}

// ChildInsertionManipulator grows an extra argument under a random function
// node. A node already at its maximum arity is handled by the strategy.
type ChildInsertionManipulator struct {
	Rand      random.Source
	Grammar   *grammar.Grammar
	MaxLength int
	MaxDepth  int
	Strategy  ArityStrategy
}

func (*ChildInsertionManipulator) Name() string {
	return "child_insertion"
}

func (o *ChildInsertionManipulator) Apply(ctx context.Context, t *tree.Tree) (*tree.Tree, error) {
	if err := checkMutator(ctx, o.Rand, o.Grammar, t); err != nil {
		return nil, err
	}
	mutated := t.Clone()
	e := editor{t: mutated, rng: o.Rand, g: o.Grammar, maxLength: o.MaxLength, maxDepth: o.MaxDepth}

	functions := make([]tree.NodeID, 0)
	for _, id := range mutated.Iterate(tree.Prefix) {
		if mutated.Symbol(id).MaxArity > 0 {
			functions = append(functions, id)
		}
	}
	if len(functions) == 0 {
		return nil, fmt.Errorf("%w: tree has no function node", ErrNoMutationChoice)
	}
	target := functions[o.Rand.Intn(len(functions))]
	if err := e.attach(target, o.Strategy); err != nil {
		return nil, err
	}
	mutated.Compact()
	return mutated, nil
}
